package topology

import (
	"crypto/md5"
	"sort"
	"sync"

	"github.com/lockkv/replicator/node"
)

// Token is a position on a consistent-hash ring.
type Token [16]byte

func (t Token) less(o Token) bool {
	for i := range t {
		if t[i] != o[i] {
			return t[i] < o[i]
		}
	}
	return false
}

// Partitioner maps a (table, key) pair to a ring token. MD5Partitioner is
// the only implementation this module ships, matching the teacher's
// NewMD5Partitioner (referenced, unretrieved, in cluster/cluster_test.go).
type Partitioner interface {
	GetToken(table, key []byte) Token
}

type md5Partitioner struct{}

func NewMD5Partitioner() Partitioner { return md5Partitioner{} }

func (md5Partitioner) GetToken(table, key []byte) Token {
	h := md5.New()
	h.Write(table)
	h.Write([]byte{0}) // separator so ("ab","c") != ("a","bc")
	h.Write(key)
	var t Token
	copy(t[:], h.Sum(nil))
	return t
}

type ringEntry struct {
	token Token
	id    node.CommId
}

// Ring is a single datacenter's token ring: an ordered set of node tokens
// used to compute the replicas owning a key. Modeled on the teacher's
// topology.Ring, referenced from DatacenterContainer.AddNode/GetNodesForToken
// but not itself retrieved, so this is a from-scratch implementation of the
// same contract.
type Ring struct {
	mu      sync.RWMutex
	entries []ringEntry
}

func NewRing() *Ring {
	return &Ring{entries: make([]ringEntry, 0, 16)}
}

func (r *Ring) AddNode(id node.CommId, t Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.id == id {
			return
		}
	}
	r.entries = append(r.entries, ringEntry{token: t, id: id})
	sort.Slice(r.entries, func(i, j int) bool { return r.entries[i].token.less(r.entries[j].token) })
}

func (r *Ring) RemoveNode(id node.CommId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.id == id {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}

func (r *Ring) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// ReplicasForToken walks the ring clockwise from t, returning up to n
// distinct node ids starting at the first entry whose token is >= t
// (wrapping around). Returns fewer than n entries when the ring is smaller
// than n — callers detect this as under-replication.
func (r *Ring) ReplicasForToken(t Token, n int) []node.CommId {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.entries) == 0 || n <= 0 {
		return nil
	}
	if n > len(r.entries) {
		n = len(r.entries)
	}
	start := sort.Search(len(r.entries), func(i int) bool { return !r.entries[i].token.less(t) })
	out := make([]node.CommId, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, r.entries[(start+i)%len(r.entries)].id)
	}
	return out
}
