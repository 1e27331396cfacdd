package stub

import (
	"testing"

	"github.com/lockkv/replicator/node"
	"github.com/lockkv/replicator/topology"
	"github.com/lockkv/replicator/txn"
)

func TestGetOrCreateIsIdempotent(t *testing.T) {
	tbl := NewTable()
	target := node.NewCommId()
	a := tbl.GetOrCreate(target)
	b := tbl.GetOrCreate(target)
	if a != b {
		t.Fatalf("expected GetOrCreate to return the same stub for the same target")
	}
	if tbl.Len() != 1 {
		t.Fatalf("expected exactly one stub, got %d", tbl.Len())
	}
}

func TestGetOrCreateNilSentinelIsNoop(t *testing.T) {
	tbl := NewTable()
	if s := tbl.GetOrCreate(node.NilCommId); s != nil {
		t.Fatalf("expected nil sentinel to produce no stub, got %+v", s)
	}
	if tbl.Len() != 0 {
		t.Fatalf("expected no stub created for the nil sentinel")
	}
}

func TestSetObservedUnknownTargetIsNoop(t *testing.T) {
	tbl := NewTable()
	ok := tbl.SetObserved(node.NewCommId(), txn.Group{ID: 1, Timestamp: 1}, nil)
	if ok {
		t.Fatalf("expected SetObserved on an unknown target to report false")
	}
	if tbl.Len() != 0 {
		t.Fatalf("expected SetObserved not to create a stub for an unknown target")
	}
}

func TestSetObservedUpdatesExistingStub(t *testing.T) {
	tbl := NewTable()
	target := node.NewCommId()
	tbl.GetOrCreate(target)
	rs := &topology.ReplicaSet{Generation: 3}
	tg := txn.Group{ID: 9, Timestamp: 500}
	if ok := tbl.SetObserved(target, tg, rs); !ok {
		t.Fatalf("expected SetObserved to succeed for a known target")
	}
	s := tbl.Get(target)
	if !s.HasResponded() {
		t.Fatalf("expected HasResponded to be true after SetObserved")
	}
	if s.ObservedTG != tg {
		t.Fatalf("ObservedTG mismatch: got %v, want %v", s.ObservedTG, tg)
	}
	if s.ObservedRS != rs {
		t.Fatalf("ObservedRS mismatch")
	}
}

func TestMarkSentStampsTime(t *testing.T) {
	tbl := NewTable()
	target := node.NewCommId()
	tbl.MarkSent(target, 12345)
	s := tbl.Get(target)
	if s == nil {
		t.Fatalf("expected MarkSent to create a stub")
	}
	if s.LastRequestTime != 12345 {
		t.Fatalf("LastRequestTime mismatch: got %v", s.LastRequestTime)
	}
	if !s.Sent {
		t.Fatalf("expected MarkSent to latch Sent")
	}
}

func TestMarkSentAtTimeZeroStillLatchesSent(t *testing.T) {
	tbl := NewTable()
	target := node.NewCommId()
	tbl.MarkSent(target, 0)
	s := tbl.Get(target)
	if !s.Sent {
		t.Fatalf("expected Sent to be true even when the send happened at monotonic time 0")
	}
}

func TestAtMostOneStubPerTarget(t *testing.T) {
	tbl := NewTable()
	targets := make([]node.CommId, 5)
	for i := range targets {
		targets[i] = node.NewCommId()
	}
	for i := 0; i < 20; i++ {
		tbl.GetOrCreate(targets[i%len(targets)])
	}
	if tbl.Len() != len(targets) {
		t.Fatalf("P2 violated: expected %d stubs, got %d", len(targets), tbl.Len())
	}
}
