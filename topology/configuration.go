package topology

import (
	"sync"
	"sync/atomic"

	"github.com/lockkv/replicator/node"
)

// Configuration is a snapshot of cluster membership: one Ring per
// datacenter, plus an optional transitioning Ring per datacenter describing
// the incoming configuration during a reconfiguration. It is the collaborator
// named ctx.get_config() in spec.md §6; callers ask it to Hash a key. Every
// Hash call returns a freshly allocated ReplicaSet, so a caller that
// modifies its copy (LockReplicator's work cycle clamps it in place) does
// not affect the Configuration or other callers.
//
// Modeled on topology/datacenter.go's DatacenterContainer, generalized from
// "nodes for a token" to "replicas plus a parallel transitioning set".
type Configuration struct {
	mu            sync.RWMutex
	rings         map[DatacenterID]*Ring
	transitioning map[DatacenterID]*Ring
	partitioner   Partitioner

	// desiredReplication is the replication factor callers want; it may
	// exceed a ring's actual size, which Hash reports via ReplicaSet.Clamp.
	desiredReplication uint32

	generation uint64
}

func NewConfiguration(partitioner Partitioner, desiredReplication uint32) *Configuration {
	return &Configuration{
		rings:              make(map[DatacenterID]*Ring),
		transitioning:      make(map[DatacenterID]*Ring),
		partitioner:        partitioner,
		desiredReplication: desiredReplication,
	}
}

func (c *Configuration) bumpGeneration() uint64 {
	return atomic.AddUint64(&c.generation, 1)
}

// AddNode registers id into dc's current ring at token.
func (c *Configuration) AddNode(dc DatacenterID, id node.CommId, t Token) {
	c.mu.Lock()
	ring, ok := c.rings[dc]
	if !ok {
		ring = NewRing()
		c.rings[dc] = ring
	}
	c.mu.Unlock()
	ring.AddNode(id, t)
	c.bumpGeneration()
}

// RemoveNode drops id from dc's current ring.
func (c *Configuration) RemoveNode(dc DatacenterID, id node.CommId) {
	c.mu.RLock()
	ring, ok := c.rings[dc]
	c.mu.RUnlock()
	if !ok {
		return
	}
	ring.RemoveNode(id)
	c.bumpGeneration()
}

// BeginTransition starts a reconfiguration for dc: subsequent Hash calls
// will populate ReplicaSet.Transitioning from the new ring until
// EndTransition is called.
func (c *Configuration) BeginTransition(dc DatacenterID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transitioning[dc] = NewRing()
	c.bumpGeneration()
}

// AddTransitioningNode registers id into dc's incoming ring.
func (c *Configuration) AddTransitioningNode(dc DatacenterID, id node.CommId, t Token) {
	c.mu.RLock()
	ring, ok := c.transitioning[dc]
	c.mu.RUnlock()
	if !ok {
		return
	}
	ring.AddNode(id, t)
	c.bumpGeneration()
}

// EndTransition commits dc's incoming ring as the current ring and clears
// the transitioning state.
func (c *Configuration) EndTransition(dc DatacenterID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ring, ok := c.transitioning[dc]; ok {
		c.rings[dc] = ring
		delete(c.transitioning, dc)
	}
	c.bumpGeneration()
}

// Hash is the replica-set oracle of spec.md §4.1: a pure function of the
// current configuration mapping (dc, table, key) to the ordered replicas
// responsible for it, plus the aligned transitioning view. It returns
// (nil, false) when configuration is insufficient — no ring for dc, or an
// empty ring — which callers treat as "retry later" and never log.
func (c *Configuration) Hash(dc DatacenterID, table, key []byte) (*ReplicaSet, bool) {
	c.mu.RLock()
	ring, ok := c.rings[dc]
	transRing := c.transitioning[dc]
	generation := c.generation
	desired := c.desiredReplication
	c.mu.RUnlock()

	if !ok || ring.Size() == 0 {
		return nil, false
	}

	tok := c.partitioner.GetToken(table, key)
	replicas := ring.ReplicasForToken(tok, int(desired))
	numReplicas := uint32(len(replicas))

	transitioning := make([]node.CommId, numReplicas)
	for i := range transitioning {
		transitioning[i] = node.NilCommId
	}
	if transRing != nil && transRing.Size() > 0 {
		transReplicas := transRing.ReplicasForToken(tok, int(numReplicas))
		for i := 0; i < len(transReplicas) && i < len(transitioning); i++ {
			transitioning[i] = transReplicas[i]
		}
	}

	return &ReplicaSet{
		NumReplicas:        numReplicas,
		DesiredReplication: desired,
		Replicas:           replicas,
		Transitioning:      transitioning,
		Generation:         generation,
	}, true
}
