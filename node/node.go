// Package node defines the identity types shared by every other package in
// this module: the opaque node identity (CommId) and the per-request nonce
// used to demultiplex terminal responses back to their originator.
package node

import (
	"github.com/google/uuid"
)

// CommId is the opaque identity of a node in the cluster. It is issued by
// the coordinator and stable for the node's lifetime; nothing in this
// module inspects its internals.
type CommId uuid.UUID

// NilCommId is the null sentinel id used in ReplicaSet.Transitioning slots
// that have no transitioning replica.
var NilCommId = CommId(uuid.Nil)

func NewCommId() CommId {
	return CommId(uuid.New())
}

func (id CommId) String() string {
	return uuid.UUID(id).String()
}

func (id CommId) IsNil() bool {
	return id == NilCommId
}

// Nonce identifies a single outstanding operation from the perspective of
// the node that issued it, so that a terminal response can be routed back
// to the right caller without the caller being addressable directly.
type Nonce uint64

// Originator is the (id, nonce) pair a LockReplicator sends its terminal
// KVS_LOCK_OP_RESP and TXMAN_WOUND messages to.
type Originator struct {
	Id    CommId
	Nonce Nonce
}
