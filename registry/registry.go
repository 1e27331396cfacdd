// Package registry implements the replicator registry/dispatcher of
// spec.md §4.4: the state_key keyed collection of in-flight
// LockReplicators, response routing, and a background sweep that retires
// finished replicators and nudges stalled ones.
//
// Grounded on the teacher's cluster.Cluster (owns a topology snapshot,
// dispatches inbound peer messages, runs a background Start() loop) and
// consensus's per-name Manager-of-Scopes pattern, generalized here to
// "many LockReplicators keyed by state_key" instead of "many Scopes keyed
// by instance id".
package registry

import (
	"sync"
	"time"

	statsd "github.com/cactus/go-statsd-client/v5/statsd"
	"github.com/op/go-logging"

	"github.com/lockkv/replicator/daemon"
	"github.com/lockkv/replicator/node"
	"github.com/lockkv/replicator/replicator"
	"github.com/lockkv/replicator/topology"
	"github.com/lockkv/replicator/txn"
)

var logger = logging.MustGetLogger("registry")

type entry struct {
	r            *replicator.LockReplicator
	registeredAt uint64
	finished     bool
	finishedAt   uint64
}

// Registry owns every LockReplicator this process has in flight, keyed by
// the opaque state_key its creating transaction manager chose. It is the
// dispatcher spec.md §4.4 names: inbound responses and timer nudges are
// routed through it rather than addressed to a replicator directly.
type Registry struct {
	mu      sync.Mutex
	entries map[uint64]*entry

	ctx     daemon.Context
	gcGrace uint64
	stats   statsd.Statter

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRegistry builds an empty Registry. gcGrace is how long, in ctx's
// monotonic-time units, a finished replicator is kept around (so a late
// duplicate response still finds its stub table) before the sweep drops
// it.
func NewRegistry(ctx daemon.Context, gcGrace uint64, stats statsd.Statter) *Registry {
	return &Registry{
		entries: make(map[uint64]*entry),
		ctx:     ctx,
		gcGrace: gcGrace,
		stats:   stats,
		stopCh:  make(chan struct{}),
	}
}

// Register returns the replicator for stateKey, creating and Init-ing one
// if this is the first time it has been seen. Registration is idempotent:
// a retransmitted originating request for the same state_key must not
// double-Init (R1).
func (reg *Registry) Register(
	stateKey uint64,
	originator node.CommId,
	nonce node.Nonce,
	table, key []byte,
	tg txn.Group,
	op txn.Op,
) *replicator.LockReplicator {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if e, ok := reg.entries[stateKey]; ok {
		return e.r
	}

	r := replicator.New(stateKey)
	r.Init(originator, nonce, table, key, tg, op)
	reg.entries[stateKey] = &entry{r: r, registeredAt: reg.ctx.Now()}
	if reg.stats != nil {
		reg.stats.Inc("registry.register", 1, 1.0)
	}
	return r
}

// Get returns the replicator registered for stateKey, if any.
func (reg *Registry) Get(stateKey uint64) (*replicator.LockReplicator, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	e, ok := reg.entries[stateKey]
	if !ok {
		return nil, false
	}
	return e.r, true
}

// Dispatch routes an inbound KVS_LOCK_OP_RESP-equivalent observation to the
// replicator registered for stateKey. An unregistered state_key is dropped
// with a debug log — spec.md §7's "duplicate response from unknown target"
// extended to the registry's own dispatch boundary.
func (reg *Registry) Dispatch(stateKey uint64, from node.CommId, tg txn.Group, rs *topology.ReplicaSet) {
	r, ok := reg.Get(stateKey)
	if !ok {
		logger.Debugf("dispatch: no replicator registered for state_key=%d", stateKey)
		if reg.stats != nil {
			reg.stats.Inc("registry.dispatch.miss", 1, 1.0)
		}
		return
	}
	r.Response(reg.ctx, from, tg, rs)
	reg.observeFinished(stateKey)
}

// Abort wounds the replicator registered for stateKey, if tg still matches
// its transaction group.
func (reg *Registry) Abort(stateKey uint64, tg txn.Group) {
	if r, ok := reg.Get(stateKey); ok {
		r.Abort(reg.ctx, tg)
		reg.observeFinished(stateKey)
	}
}

// observeFinished stamps finishedAt the first moment stateKey's replicator
// is seen to have finished, so Sweep's grace period is measured from actual
// completion rather than from registration (spec.md §4.4 — a replicator
// that takes a long time to reach quorum must still get a full grace period
// after it finishes, not be evicted on the very next sweep).
func (reg *Registry) observeFinished(stateKey uint64) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	e, ok := reg.entries[stateKey]
	if !ok || e.finished || !e.r.Finished() {
		return
	}
	e.finished = true
	e.finishedAt = reg.ctx.Now()
}

// Drop silently terminates and immediately evicts the replicator
// registered for stateKey — used when the caller already knows no further
// bookkeeping is needed, so there is no reason to wait for the GC sweep.
func (reg *Registry) Drop(stateKey uint64, tg txn.Group) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	e, ok := reg.entries[stateKey]
	if !ok {
		return
	}
	e.r.Drop(tg)
	delete(reg.entries, stateKey)
}

// Sweep runs one pass of background housekeeping: every still-active
// replicator gets an ExternallyWork nudge (so stalled operations make
// progress even without an inbound response), and every replicator that has
// been finished for at least gcGrace time units is evicted. Eviction is
// gated on finishedAt, stamped the first time a replicator is observed
// finished, not on registeredAt — a replicator that takes longer than
// gcGrace to reach quorum must still get a full grace period after it
// actually finishes.
func (reg *Registry) Sweep(now uint64) {
	reg.mu.Lock()
	type nudgeItem struct {
		key uint64
		r   *replicator.LockReplicator
	}
	var toNudge []nudgeItem
	for key, e := range reg.entries {
		if e.r.Finished() {
			if !e.finished {
				e.finished = true
				e.finishedAt = now
			}
			if now-e.finishedAt >= reg.gcGrace {
				delete(reg.entries, key)
			}
			continue
		}
		toNudge = append(toNudge, nudgeItem{key: key, r: e.r})
	}
	count := len(reg.entries)
	reg.mu.Unlock()

	for _, item := range toNudge {
		item.r.ExternallyWork(reg.ctx)
		reg.observeFinished(item.key)
	}
	if reg.stats != nil {
		reg.stats.Gauge("registry.size", int64(count), 1.0)
	}
}

// Start launches a background goroutine that calls Sweep every interval
// until Stop is called, mirroring cluster.Cluster.Start()'s long-running
// discovery loop.
func (reg *Registry) Start(interval time.Duration) {
	reg.wg.Add(1)
	go func() {
		defer reg.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				reg.Sweep(reg.ctx.Now())
			case <-reg.stopCh:
				return
			}
		}
	}()
}

// Stop halts the background sweep and waits for it to exit.
func (reg *Registry) Stop() {
	close(reg.stopCh)
	reg.wg.Wait()
}

// Len reports the number of replicators currently registered, finished or
// not. Exposed for tests and operational dumps.
func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.entries)
}
