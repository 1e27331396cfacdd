// Package stub implements the per-replicator lock-stub table of spec.md
// §4.2: per-target bookkeeping for an in-flight LOCK/UNLOCK operation.
//
// Modeled on the teacher's consensus.InstanceMap (a small custom collection
// with Add/ContainsID) but deliberately kept as a linear-scanned slice
// rather than a map — fan-out per operation is single-digit, so a sorted or
// hashed structure buys nothing and costs an allocation per lookup. See
// spec.md §4.2 "Why linear search."
package stub

import (
	"sync"

	"github.com/lockkv/replicator/node"
	"github.com/lockkv/replicator/topology"
	"github.com/lockkv/replicator/txn"
)

// LockStub is the per-target request record: the target replica, the last
// time a request was sent to it, and the last response it reported.
type LockStub struct {
	Target          node.CommId
	LastRequestTime uint64
	Sent            bool
	ObservedTG      txn.Group
	ObservedRS      *topology.ReplicaSet
	haveObserved    bool
}

// HasResponded reports whether this stub has ever recorded an observed
// response (as opposed to only having had a request sent to it).
func (s *LockStub) HasResponded() bool {
	return s.haveObserved
}

// Table holds the stubs for a single LockReplicator. Each method takes the
// table's own mutex, so individual calls are safe for concurrent use; the
// *LockStub pointers it hands out are not guarded by it, and the replicator
// serializes access to them under its own mutex per spec.md §5.
type Table struct {
	mu    sync.Mutex
	stubs []*LockStub
}

func NewTable() *Table {
	return &Table{stubs: make([]*LockStub, 0, 4)}
}

// Get returns the stub for target, or nil if target has not yet been
// contacted (R3: at most one stub per target).
func (t *Table) Get(target node.CommId) *LockStub {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.getUnsafe(target)
}

func (t *Table) getUnsafe(target node.CommId) *LockStub {
	for _, s := range t.stubs {
		if s.Target == target {
			return s
		}
	}
	return nil
}

// GetOrCreate returns the existing stub for target, creating one if needed.
// It is a no-op (returns nil) for the null sentinel id, matching spec.md
// §4.2: a transitioning slot with no replica must never get a stub.
func (t *Table) GetOrCreate(target node.CommId) *LockStub {
	if target.IsNil() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if s := t.getUnsafe(target); s != nil {
		return s
	}
	s := &LockStub{Target: target}
	t.stubs = append(t.stubs, s)
	return s
}

// SetObserved records the most recent (tg, rs) reported by target. A no-op
// if target has no stub — callers must not create one on an unsolicited
// response (spec.md §7: "Unsolicited response from unknown target").
func (t *Table) SetObserved(target node.CommId, tg txn.Group, rs *topology.ReplicaSet) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.getUnsafe(target)
	if s == nil {
		return false
	}
	s.ObservedTG = tg
	s.ObservedRS = rs
	s.haveObserved = true
	return true
}

// MarkSent stamps target's stub with the current time, creating the stub
// first if necessary. Sent is latched true so a zero-valued LastRequestTime
// (e.g. a send at monotonic time 0) is never mistaken for "never sent".
func (t *Table) MarkSent(target node.CommId, now uint64) {
	s := t.GetOrCreate(target)
	if s == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s.LastRequestTime = now
	s.Sent = true
}

// Len reports the number of distinct targets contacted so far (P2: at most
// one stub per CommId, so this is also the number of distinct CommIds).
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.stubs)
}

// All returns a snapshot slice of every stub currently in the table.
func (t *Table) All() []*LockStub {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*LockStub, len(t.stubs))
	copy(out, t.stubs)
	return out
}
