// Package replicator implements the LockReplicator state machine of
// spec.md §4.3 — the per-lock-operation state machine that drives a single
// LOCK or UNLOCK over a KVS replica quorum on behalf of one transaction.
//
// The work cycle is grounded on the teacher's consensus.Scope quorum phases
// (consensus/scope_accept.go's sendAccept, consensus/scope_commit.go's
// sendCommit/commitInstanceUnsafe): a mutex-guarded aggregate, a
// quorum-counting pass over a fixed replica set, at-most-one terminal
// response, and runtime stat counters carried alongside protocol state.
// Unlike the teacher's EPaxos instances, there is no ballot or dependency
// graph here — the protocol is the simpler LOCK/UNLOCK quorum-replication
// protocol of spec.md, not consensus over command ordering.
package replicator

import (
	"fmt"
	"strings"
	"sync"

	"github.com/op/go-logging"

	"github.com/lockkv/replicator/daemon"
	"github.com/lockkv/replicator/message"
	"github.com/lockkv/replicator/node"
	"github.com/lockkv/replicator/stub"
	"github.com/lockkv/replicator/topology"
	"github.com/lockkv/replicator/txn"
)

var logger = logging.MustGetLogger("replicator")

// degradedWarnInterval rate-limits the under-replication warning (spec.md
// §7) to once per this many monotonic-time units, regardless of how often
// work() is invoked in between.
const degradedWarnInterval = 5000

type state uint8

const (
	uninit state = iota
	active
	finished
)

func (s state) String() string {
	switch s {
	case uninit:
		return "UNINIT"
	case active:
		return "ACTIVE"
	case finished:
		return "FINISHED"
	default:
		return "UNKNOWN"
	}
}

// LockReplicator is one instance of the state machine in spec.md §4.3: one
// per in-flight LOCK/UNLOCK operation, keyed by an opaque state_key the
// creating transaction manager chose for response demultiplexing.
type LockReplicator struct {
	mu sync.Mutex

	stateKey uint64
	state    state

	originator node.Originator
	table      []byte
	key        []byte
	tg         txn.Group
	op         txn.Op

	stubs *stub.Table

	sendCount          uint64
	resendCount        uint64
	completionSlots    uint32
	lastDegradedWarnAt uint64
}

// New allocates an uninitialized replicator keyed by stateKey. It does
// nothing else; Init must be called before any other method has any
// effect (R1).
func New(stateKey uint64) *LockReplicator {
	return &LockReplicator{stateKey: stateKey, state: uninit}
}

// Init is the one-shot constructor completing R1: it sets
// (table, key, tg, op) exactly once. table and key are copied into a
// single backing buffer the replicator exclusively owns for its lifetime
// (spec.md §9 "Opaque backing buffer"), so callers are free to reuse or
// discard the slices they pass in.
//
// Init panics if called twice — a duplicate Init is a programmer error,
// not a recoverable condition (spec.md §7).
func (r *LockReplicator) Init(id node.CommId, nonce node.Nonce, table, key []byte, tg txn.Group, op txn.Op) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != uninit {
		panic(fmt.Sprintf("replicator: Init called twice for state_key=%d", r.stateKey))
	}

	backing := make([]byte, len(table)+len(key))
	n := copy(backing, table)
	copy(backing[n:], key)
	r.table = backing[:len(table):len(table)]
	r.key = backing[len(table):]

	r.originator = node.Originator{Id: id, Nonce: nonce}
	r.tg = tg
	r.op = op
	r.stubs = stub.NewTable()
	r.state = active
}

// StateKey is immutable once a replicator is allocated; no locking needed.
func (r *LockReplicator) StateKey() uint64 {
	return r.stateKey
}

// Finished is true iff the replicator is uninitialized or has completed.
func (r *LockReplicator) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state != active
}

// Response records an inbound response from target and triggers a work
// cycle. A response from a target with no outstanding stub is dropped with
// a debug log (spec.md §7) — it must never create a stub. Responses that
// arrive after the replicator has finished still update the stub's last
// observed state (this module's resolution of spec.md §9's open question),
// but never cause a send or a state transition (R2, P1).
func (r *LockReplicator) Response(ctx daemon.Context, from node.CommId, tg txn.Group, rs *topology.ReplicaSet) {
	r.mu.Lock()
	if r.state == uninit {
		r.mu.Unlock()
		return
	}
	if ok := r.stubs.SetObserved(from, tg, rs); !ok {
		logger.Debugf("state_key=%d: dropping response from unsolicited target %v", r.stateKey, from)
		r.mu.Unlock()
		return
	}
	alreadyFinished := r.state == finished
	r.mu.Unlock()

	if alreadyFinished {
		return
	}
	r.work(ctx)
}

// ExternallyWork is the timer/external nudge entry point of spec.md §4.3.
func (r *LockReplicator) ExternallyWork(ctx daemon.Context) {
	r.work(ctx)
}

// Abort implements wound-wait's mechanical side: if tg matches this
// replicator, send TXMAN_WOUND to the originator and finish. Idempotent —
// a second Abort (or one racing a natural completion) is a no-op.
func (r *LockReplicator) Abort(ctx daemon.Context, tg txn.Group) {
	r.mu.Lock()
	if r.state != active || !r.tg.Equal(tg) {
		r.mu.Unlock()
		return
	}
	r.state = finished
	originator := r.originator
	r.mu.Unlock()

	ctx.Send(originator.Id, &message.TxmanWound{TG: tg})
}

// Drop is silent termination: no network send, used when the local
// transaction manager has already learned tg's fate.
func (r *LockReplicator) Drop(tg txn.Group) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != active || !r.tg.Equal(tg) {
		return
	}
	r.state = finished
}

// work is the fixed-point pass of spec.md §4.3: resolve the replica set,
// ensure stubs, test per-slot agreement, resend where needed, and respond
// once quorum is reached.
func (r *LockReplicator) work(ctx daemon.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != active {
		return
	}

	rs, ok := ctx.GetConfig().Hash(ctx.DC(), r.table, r.key)
	if !ok {
		// Configuration unavailable: silent no-op, timer-driven re-entry
		// retries (spec.md §7, §9 open question).
		return
	}

	now := ctx.Now()
	interval := ctx.ResendInterval()

	var complete uint32
	for i := 0; i < int(rs.NumReplicas); i++ {
		primaryTarget := rs.Replicas[i]
		transTarget := node.NilCommId
		if i < len(rs.Transitioning) {
			transTarget = rs.Transitioning[i]
		}

		primary := r.stubs.GetOrCreate(primaryTarget)
		var trans *stub.LockStub
		if !transTarget.IsNil() {
			trans = r.stubs.GetOrCreate(transTarget)
		}

		primaryOK := r.agrees(primary, rs)
		transOK := trans == nil || r.agrees(trans, rs)

		if primaryOK && transOK {
			complete++
			continue
		}

		r.maybeResend(ctx, primary, primaryTarget, now, interval, !primaryOK)
		if trans != nil {
			r.maybeResend(ctx, trans, transTarget, now, interval, !transOK)
		}
	}

	degraded := rs.Clamp()
	if degraded && now-r.lastDegradedWarnAt >= degradedWarnInterval {
		logger.Warningf("state_key=%d: desired_replication exceeds num_replicas, clamping to %d",
			r.stateKey, rs.NumReplicas)
		r.lastDegradedWarnAt = now
	}

	quorum := rs.Quorum()
	if complete < quorum {
		return
	}

	r.state = finished
	r.completionSlots = complete
	rc := message.Success
	if degraded {
		rc = message.LessDurable
	}
	ctx.Send(r.originator.Id, &message.KVSLockOpResp{Nonce: uint64(r.originator.Nonce), RC: rc})
}

// agrees reports whether stub s has observed a response matching r.tg under
// the same configuration epoch as rs. Generation equality stands in for
// spec.md §4.3's "the two replica-set views agree" test (see DESIGN.md).
func (r *LockReplicator) agrees(s *stub.LockStub, rs *topology.ReplicaSet) bool {
	if s == nil || !s.HasResponded() {
		return false
	}
	if !s.ObservedTG.Equal(r.tg) {
		return false
	}
	if s.ObservedRS == nil {
		return false
	}
	return s.ObservedRS.Generation == rs.Generation
}

// maybeResend sends KVS_RAW_LK to target if its stub disagrees with the
// current (tg, rs), and — for a stub that has been sent to before — at
// least one resend interval has elapsed since the last send (spec.md §4.3
// step 4, P5). First contact is never interval-throttled: s.Sent is false
// until MarkSent latches it, so a stub's initial send always goes out
// regardless of how ctx.Now() compares to interval (a stub's
// LastRequestTime zero-value would otherwise be indistinguishable from "sent
// at monotonic time 0").
func (r *LockReplicator) maybeResend(ctx daemon.Context, s *stub.LockStub, target node.CommId, now, interval uint64, disagrees bool) {
	if s == nil || !disagrees {
		return
	}
	if s.Sent && now-s.LastRequestTime < interval {
		return
	}

	msg := &message.KVSRawLock{
		StateKey: r.stateKey,
		Table:    r.table,
		Key:      r.key,
		TG:       r.tg,
		Op:       r.op,
	}
	ctx.Send(target, msg)

	wasFirstSend := !s.Sent
	r.stubs.MarkSent(target, now)
	r.sendCount++
	if !wasFirstSend {
		r.resendCount++
	}
}

// DebugDump is a human-readable snapshot for operational visibility,
// mirroring the teacher's habit of carrying runtime stat counters
// alongside protocol state (consensus/scope.go's stat* fields).
func (r *LockReplicator) DebugDump() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "LockReplicator{state_key=%d state=%s op=%s tg=%s sends=%d resends=%d complete_slots=%d stubs=[",
		r.stateKey, r.state, r.op, r.tg, r.sendCount, r.resendCount, r.completionSlots)
	if r.stubs != nil {
		for i, s := range r.stubs.All() {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%v@%d", s.Target, s.LastRequestTime)
			if s.HasResponded() {
				fmt.Fprintf(&b, " observed=%s", s.ObservedTG)
				if s.ObservedRS != nil {
					fmt.Fprintf(&b, "/gen=%d", s.ObservedRS.Generation)
				}
			}
		}
	}
	b.WriteString("]}")
	return b.String()
}
