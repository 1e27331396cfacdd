package daemon

import (
	"errors"
	"testing"

	statsd "github.com/cactus/go-statsd-client/v5/statsd"

	"github.com/lockkv/replicator/message"
	"github.com/lockkv/replicator/node"
	"github.com/lockkv/replicator/topology"
	"github.com/lockkv/replicator/txn"
)

type mockSender struct {
	err  error
	sent int
}

func (m *mockSender) Send(target node.CommId, msg message.Message) error {
	m.sent++
	return m.err
}

// mockStatter embeds the real Statter interface (left nil) and overrides
// only Inc, the teacher's testing_mocks.go mockStatter pattern adapted so
// this doesn't need to track every method the real client interface has
// grown since the teacher's vendored version.
type mockStatter struct {
	statsd.Statter
	counts map[string]int64
}

func newMockStatter() *mockStatter {
	return &mockStatter{counts: make(map[string]int64)}
}

func (m *mockStatter) Inc(stat string, value int64, rate float32) error {
	m.counts[stat] += value
	return nil
}

func TestResendIntervalFloorsAt10ms(t *testing.T) {
	cfg := topology.NewConfiguration(topology.NewMD5Partitioner(), 3)
	ctx := NewRealContext(cfg, topology.DatacenterID("dc1"), func() uint64 { return 0 }, 1, 0, nil, nil)
	if got := ctx.ResendInterval(); got != 10 {
		t.Fatalf("expected ResendInterval to floor sub-10ms bases at 10, got %d", got)
	}
}

func TestResendIntervalWithoutJitterIsStable(t *testing.T) {
	cfg := topology.NewConfiguration(topology.NewMD5Partitioner(), 3)
	ctx := NewRealContext(cfg, topology.DatacenterID("dc1"), func() uint64 { return 0 }, 50, 0, nil, nil)
	for i := 0; i < 5; i++ {
		if got := ctx.ResendInterval(); got != 50 {
			t.Fatalf("expected a stable 50ms interval with no jitter, got %d", got)
		}
	}
}

func TestSwapConfigReplacesSnapshot(t *testing.T) {
	a := topology.NewConfiguration(topology.NewMD5Partitioner(), 3)
	b := topology.NewConfiguration(topology.NewMD5Partitioner(), 5)
	ctx := NewRealContext(a, topology.DatacenterID("dc1"), func() uint64 { return 0 }, 50, 0, nil, nil)
	if ctx.GetConfig() != a {
		t.Fatalf("expected initial config to be a")
	}
	ctx.SwapConfig(b)
	if ctx.GetConfig() != b {
		t.Fatalf("expected SwapConfig to replace the snapshot with b")
	}
}

func TestSendSwallowsSenderErrors(t *testing.T) {
	cfg := topology.NewConfiguration(topology.NewMD5Partitioner(), 3)
	sender := &mockSender{err: errors.New("connection refused")}
	stats := newMockStatter()
	ctx := NewRealContext(cfg, topology.DatacenterID("dc1"), func() uint64 { return 0 }, 50, 0, sender, stats)

	ctx.Send(node.NewCommId(), &message.TxmanWound{TG: txn.Group{ID: 1, Timestamp: 1}})
	if sender.sent != 1 {
		t.Fatalf("expected Send to reach the Sender")
	}
	if stats.counts["send.error"] != 1 {
		t.Fatalf("expected a send.error counter increment, got %v", stats.counts)
	}
}

func TestSendCountsSuccess(t *testing.T) {
	cfg := topology.NewConfiguration(topology.NewMD5Partitioner(), 3)
	sender := &mockSender{}
	stats := newMockStatter()
	ctx := NewRealContext(cfg, topology.DatacenterID("dc1"), func() uint64 { return 0 }, 50, 0, sender, stats)

	ctx.Send(node.NewCommId(), &message.TxmanWound{TG: txn.Group{ID: 1, Timestamp: 1}})
	if stats.counts["send.ok"] != 1 {
		t.Fatalf("expected a send.ok counter increment, got %v", stats.counts)
	}
}

func TestReplicaSetsAgreeDelegatesToTopology(t *testing.T) {
	cfg := topology.NewConfiguration(topology.NewMD5Partitioner(), 3)
	ctx := NewRealContext(cfg, topology.DatacenterID("dc1"), func() uint64 { return 0 }, 50, 0, nil, nil)
	a := &topology.ReplicaSet{Generation: 1}
	b := &topology.ReplicaSet{Generation: 1}
	c := &topology.ReplicaSet{Generation: 2}
	if !ctx.ReplicaSetsAgree(node.NilCommId, a, b) {
		t.Fatalf("expected equal-generation replica sets to agree")
	}
	if ctx.ReplicaSetsAgree(node.NilCommId, a, c) {
		t.Fatalf("expected differing-generation replica sets to disagree")
	}
}
