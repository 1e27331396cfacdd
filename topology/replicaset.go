package topology

import "github.com/lockkv/replicator/node"

// DatacenterID names a datacenter within the cluster configuration.
type DatacenterID string

// ReplicaSet is the result of hashing a (dc, table, key) triple against the
// current configuration: the ordered list of replicas currently responsible
// for the key, plus an aligned "transitioning" list describing the incoming
// configuration during a reconfiguration. Both slices have length
// NumReplicas; a Transitioning slot holds node.NilCommId when that slot has
// no transitioning replica.
type ReplicaSet struct {
	NumReplicas        uint32
	DesiredReplication uint32
	Replicas           []node.CommId
	Transitioning      []node.CommId

	// Generation stamps the configuration epoch this ReplicaSet was computed
	// from. Two ReplicaSets with the same Generation are guaranteed to refer
	// to the same view of the world, which is what lets replica_sets_agree
	// be a cheap integer compare (§4.3 step 3) instead of a deep slice
	// compare.
	Generation uint64
}

// Clamp degrades DesiredReplication to NumReplicas when the configuration is
// under-provisioned, reporting whether it had to (§4.3 step 5).
func (rs *ReplicaSet) Clamp() (degraded bool) {
	if rs.DesiredReplication > rs.NumReplicas {
		rs.DesiredReplication = rs.NumReplicas
		return true
	}
	return false
}

// Quorum is floor(DesiredReplication/2) + 1.
func (rs *ReplicaSet) Quorum() uint32 {
	return rs.DesiredReplication/2 + 1
}

// ReplicaSetsAgree reports whether a and b were computed from the same
// configuration epoch. node is accepted for symmetry with the collaborator
// interface in §6 (ctx.replica_sets_agree(node, rs_a, rs_b)); this
// implementation does not need to vary by node, but future topology-aware
// policies (e.g. per-dc epoch skew) may.
func ReplicaSetsAgree(_ node.CommId, a, b *ReplicaSet) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Generation == b.Generation
}
