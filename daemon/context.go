// Package daemon provides the context handle described in spec.md §9: a
// small bundle of collaborator capabilities (config snapshot, clock, send
// path, resend-interval policy) injected into every LockReplicator entry
// point rather than stored on the replicator itself.
//
// Modeled on consensus/testing_mocks.go's mockNode/mockStatter (an object
// that carries send + stats + a swappable handler) generalized from a test
// fake into the real collaborator surface spec.md §6 names.
package daemon

import (
	"math/rand"
	"sync/atomic"
	"time"

	statsd "github.com/cactus/go-statsd-client/v5/statsd"
	"github.com/op/go-logging"
	"github.com/pkg/errors"

	"github.com/lockkv/replicator/message"
	"github.com/lockkv/replicator/node"
	"github.com/lockkv/replicator/topology"
)

var logger = logging.MustGetLogger("daemon")

// Sender delivers an outbound message to target and reports a send-layer
// failure as an error. RealContext.Send swallows that error (§7 "Send-layer
// failure: ignored; resend timer retries") — the replicator only learns
// about it through the debug log and a statsd counter.
type Sender interface {
	Send(target node.CommId, m message.Message) error
}

// Context is the collaborator interface named in spec.md §6: everything a
// LockReplicator's work cycle needs that isn't its own state.
type Context interface {
	// GetConfig returns the current configuration snapshot. Callers only
	// ever call Hash on it; the Configuration itself may be swapped
	// out from under a long-lived Context between work cycles.
	GetConfig() *topology.Configuration
	// DC is this transaction manager's local datacenter.
	DC() topology.DatacenterID
	// ResendInterval returns, in monotonic-time units, the minimum gap a
	// replicator must wait between resends to the same stub. It may
	// include jitter but spec.md §4.3 step 4 requires at least 10ms.
	ResendInterval() uint64
	// Send hands msg for target to the send layer. Failures are not
	// returned to the replicator — see spec.md §7.
	Send(target node.CommId, msg message.Message)
	// Now returns a strictly non-decreasing monotonic timestamp.
	Now() uint64
	// ReplicaSetsAgree is the collaborator helper named in spec.md §6.
	ReplicaSetsAgree(n node.CommId, a, b *topology.ReplicaSet) bool
}

// Clock returns the current monotonic time in the units ResendInterval and
// LockStub.LastRequestTime are expressed in. Swappable for tests.
type Clock func() uint64

// clockStart carries Go's monotonic clock reading, so time.Since(clockStart)
// is unaffected by wall-clock adjustments.
var clockStart = time.Now()

// RealTimeClock reports milliseconds since an arbitrary monotonic epoch
// (process start).
func RealTimeClock() uint64 {
	return uint64(time.Since(clockStart) / time.Millisecond)
}

// RealContext is the production Context: a live Configuration, a real
// clock, jittered resend intervals, and a Sender supplied by the transport
// layer. Send calls that Sender synchronously on the caller's goroutine;
// there is no send queue, so a call blocks for as long as the Sender does.
type RealContext struct {
	config *atomicConfig
	dc     topology.DatacenterID
	clock  Clock

	baseResendInterval uint64
	jitterMax          uint64

	sender Sender
	stats  statsd.Statter
}

type atomicConfig struct {
	v atomic.Value
}

func newAtomicConfig(c *topology.Configuration) *atomicConfig {
	ac := &atomicConfig{}
	ac.v.Store(c)
	return ac
}

func (a *atomicConfig) Load() *topology.Configuration {
	return a.v.Load().(*topology.Configuration)
}

func (a *atomicConfig) Store(c *topology.Configuration) {
	a.v.Store(c)
}

// NewRealContext builds a Context. baseResendInterval must be at least
// 10ms per spec.md §4.3 step 4; jitterMax bounds the random padding added
// on top of it.
func NewRealContext(
	cfg *topology.Configuration,
	dc topology.DatacenterID,
	clock Clock,
	baseResendInterval uint64,
	jitterMax uint64,
	sender Sender,
	stats statsd.Statter,
) *RealContext {
	if baseResendInterval < 10 {
		baseResendInterval = 10
	}
	return &RealContext{
		config:             newAtomicConfig(cfg),
		dc:                 dc,
		clock:              clock,
		baseResendInterval: baseResendInterval,
		jitterMax:          jitterMax,
		sender:             sender,
		stats:              stats,
	}
}

// SwapConfig atomically replaces the configuration snapshot, matching
// spec.md §5's "may be replaced atomically between cycles."
func (c *RealContext) SwapConfig(cfg *topology.Configuration) {
	c.config.Store(cfg)
}

func (c *RealContext) GetConfig() *topology.Configuration {
	return c.config.Load()
}

func (c *RealContext) DC() topology.DatacenterID {
	return c.dc
}

func (c *RealContext) ResendInterval() uint64 {
	if c.jitterMax == 0 {
		return c.baseResendInterval
	}
	return c.baseResendInterval + uint64(rand.Int63n(int64(c.jitterMax)))
}

func (c *RealContext) Send(target node.CommId, msg message.Message) {
	if c.sender == nil {
		return
	}
	if err := c.sender.Send(target, msg); err != nil {
		logger.Debugf("send to %v failed, resend timer will retry: %v", target, errors.Wrap(err, "daemon send"))
		if c.stats != nil {
			c.stats.Inc("send.error", 1, 1.0)
		}
		return
	}
	if c.stats != nil {
		c.stats.Inc("send.ok", 1, 1.0)
	}
}

func (c *RealContext) Now() uint64 {
	return c.clock()
}

func (c *RealContext) ReplicaSetsAgree(n node.CommId, a, b *topology.ReplicaSet) bool {
	return topology.ReplicaSetsAgree(n, a, b)
}
