package scuttle

import (
	"math/rand"
	"sort"
	"sync"
	"time"
)

// SeedAddrsFunc returns the current live view of seed addresses. It must
// never block: ClusterState reads the latest snapshot on demand.
type SeedAddrsFunc func() []string

// ClusterState is the aggregate of all known NodeStates plus the
// reconciliation algorithms: digest/delta computation, delta application,
// and tombstone GC.
//
// ClusterState is single-writer: all mutation is expected to occur under an
// external serialization discipline (one owner goroutine). The mutex here
// is a cheap guard against accidental concurrent misuse, not a concurrency
// design element — there are no suspension points within any operation.
type ClusterState struct {
	mu sync.Mutex

	localID NodeID
	nodes   map[NodeID]*NodeState

	seedAddrs SeedAddrsFunc
	rng       *rand.Rand
	metrics   *Metrics
}

// NewClusterState creates a ClusterState with the given local node already
// present. seedAddrs may be nil, in which case SeedAddrs always returns nil.
// rng is the tie-break random source for scuttle-depth ordering; nil creates
// a private source seeded from the current time. Tests should inject a seeded
// *rand.Rand for
// deterministic ordering.
func NewClusterState(localID NodeID, seedAddrs SeedAddrsFunc, rng *rand.Rand) *ClusterState {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	cs := &ClusterState{
		localID:   localID,
		nodes:     make(map[NodeID]*NodeState),
		seedAddrs: seedAddrs,
		rng:       rng,
	}
	cs.nodes[localID] = newNodeState()
	return cs
}

// SetMetrics attaches metrics to record against. Passing nil disables
// metrics recording.
func (c *ClusterState) SetMetrics(m *Metrics) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics = m
}

// recordNodeGauges refreshes the Entries/Tombstones gauges for id to the
// node's current live/tombstoned counts. Must be called with mu held.
func (c *ClusterState) recordNodeGauges(id NodeID, node *NodeState) {
	if c.metrics == nil {
		return
	}
	live := 0
	tombstoned := 0
	for _, vv := range node.keyValues {
		if vv.Tombstone {
			tombstoned++
		} else {
			live++
		}
	}
	c.metrics.Entries.WithLabelValues(string(id)).Set(float64(live))
	c.metrics.Tombstones.WithLabelValues(string(id)).Set(float64(tombstoned))
}

// SeedAddrs returns the current live view of seed addresses.
func (c *ClusterState) SeedAddrs() []string {
	if c.seedAddrs == nil {
		return nil
	}
	return c.seedAddrs()
}

// Node returns the NodeState for id, if known.
func (c *ClusterState) Node(id NodeID) (*NodeState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.nodes[id]
	return n, ok
}

// Nodes returns the set of known NodeIDs.
func (c *ClusterState) Nodes() []NodeID {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]NodeID, 0, len(c.nodes))
	for id := range c.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// LocalID returns the local node's id.
func (c *ClusterState) LocalID() NodeID {
	return c.localID
}

// EnsureNode lazily creates a NodeState for id if it isn't already known,
// e.g. on first discovery of a peer via a digest. Returns true iff a new
// NodeState was created.
func (c *ClusterState) EnsureNode(id NodeID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.nodes[id]; ok {
		return false
	}
	c.nodes[id] = newNodeState()
	return true
}

// LocalNode returns the NodeState for the local node.
func (c *ClusterState) LocalNode() *NodeState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.nodes[c.localID]
}

// Set stores value under key in the local NodeState. Only the local node's
// NodeState may be mutated this way; remote NodeStates are mutated only via
// ApplyDelta.
func (c *ClusterState) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	local := c.nodes[c.localID]
	local.Set(key, value)
	c.recordNodeGauges(c.localID, local)
}

// Delete tombstones key in the local NodeState.
func (c *ClusterState) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	local := c.nodes[c.localID]
	local.MarkForDeletion(key)
	c.recordNodeGauges(c.localID, local)
}

// RemoveNode destroys the NodeState for id, e.g. on permanent failure as
// decided by an external policy. The core never decides liveness itself.
func (c *ClusterState) RemoveNode(id NodeID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.nodes, id)
}

// ComputeDigest returns a Digest over every known node not in dead.
func (c *ClusterState) ComputeDigest(dead map[NodeID]struct{}) Digest {
	c.mu.Lock()
	defer c.mu.Unlock()

	digest := make(Digest, len(c.nodes))
	for id, node := range c.nodes {
		if _, ok := dead[id]; ok {
			continue
		}
		digest[id] = node.maxVersion
	}
	return digest
}

// staleCandidate is a node ranked for inclusion in a delta.
type staleCandidate struct {
	id    NodeID
	stale int
}

// ComputeDelta computes a Delta against the peer's digest, bounded by mtu
// bytes, excluding dead nodes, using gracePeriod to decide whether a node is
// so far behind it must be reset rather than incrementally updated.
//
// Nodes are visited in scuttle-depth order: descending by stale entry
// count, with ties broken by a uniform random shuffle, so that under a
// tight MTU one node is drained fully before another is started —
// minimizing the expected number of rounds to full convergence.
func (c *ClusterState) ComputeDelta(
	digest Digest,
	mtu int,
	dead map[NodeID]struct{},
	gracePeriod Version,
) Delta {
	c.mu.Lock()
	defer c.mu.Unlock()

	writer := NewDeltaWriter(mtu)

	var candidates []staleCandidate
	floors := make(map[NodeID]Version, len(c.nodes))
	for id, node := range c.nodes {
		if _, ok := dead[id]; ok {
			continue
		}

		floor, hasFloor := digest[id]
		if hasFloor && floor > 0 && floor+gracePeriod < node.maxVersion {
			// The peer is so far behind that tombstones it never saw may
			// already be GC'd locally; ship the full live state instead of
			// an incremental update.
			floor = 0
			if writer.AddNodeToReset(id) && c.metrics != nil {
				c.metrics.ResetsSent.Inc()
			}
		} else if !hasFloor {
			floor = 0
		}
		floors[id] = floor

		if stale := node.countStale(floor); stale > 0 {
			candidates = append(candidates, staleCandidate{id: id, stale: stale})
		}
	}

	order := c.rankByStaleDepth(candidates)

	for _, id := range order {
		if !writer.AddNode(id) {
			if c.metrics != nil {
				c.metrics.DeltaBuildTruncated.Inc()
			}
			break
		}

		node := c.nodes[id]
		floor := floors[id]
		stale := node.IterStale(floor)
		for _, entry := range stale {
			if !writer.AddKV(entry.Key, entry.Value) {
				if c.metrics != nil {
					c.metrics.DeltaBuildTruncated.Inc()
				}
				return writer.Finalize()
			}
		}
	}

	return writer.Finalize()
}

// rankByStaleDepth orders candidates descending by stale count, shuffling
// uniformly among nodes that tie on stale count. Equivalent to the
// reference implementation's heap-of-distinct-lengths-plus-bucket
// structure: a stable sort by (-stale_count, shuffled_position).
func (c *ClusterState) rankByStaleDepth(candidates []staleCandidate) []NodeID {
	// candidates is built by ranging over a Go map, so its incoming order is
	// randomized per-process. Sort by NodeID first so each bucket's
	// pre-shuffle order is deterministic, matching the reference
	// implementation's BTreeMap-backed enumeration — otherwise a seeded rng
	// would shuffle a different starting permutation on every run.
	sorted := make([]staleCandidate, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].id < sorted[j].id })

	byLength := make(map[int][]NodeID)
	var lengths []int
	for _, cand := range sorted {
		if _, ok := byLength[cand.stale]; !ok {
			lengths = append(lengths, cand.stale)
		}
		byLength[cand.stale] = append(byLength[cand.stale], cand.id)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(lengths)))

	var order []NodeID
	for _, length := range lengths {
		nodes := byLength[length]
		c.rng.Shuffle(len(nodes), func(i, j int) {
			nodes[i], nodes[j] = nodes[j], nodes[i]
		})
		order = append(order, nodes...)
	}
	return order
}

// ApplyDelta merges delta into the cluster state.
//
// Out-of-order deltas, duplicates and updates superseded by local knowledge
// are all benign and silently dropped, never treated as errors.
func (c *ClusterState) ApplyDelta(delta Delta) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id := range delta.NodesToReset {
		if id == c.localID {
			// The local node's state is only ever mutated locally.
			continue
		}
		delete(c.nodes, id)
	}

	for _, nd := range delta.NodeDeltas {
		if nd.NodeID == c.localID {
			// The local node's state is only ever mutated locally.
			continue
		}

		node, ok := c.nodes[nd.NodeID]
		if !ok {
			node = newNodeState()
			c.nodes[nd.NodeID] = node
		}

		for _, entry := range nd.Entries {
			if entry.Value.Version > node.maxVersion {
				node.maxVersion = entry.Value.Version
			}

			existing, ok := node.keyValues[entry.Key]
			if ok && existing.Version >= entry.Value.Version {
				// Superseded by local knowledge; not an error.
				continue
			}
			node.keyValues[entry.Key] = entry.Value
		}

		node.lastHeartbeat = time.Now()
		c.recordNodeGauges(nd.NodeID, node)
	}
}

// GCTombstones runs per-node tombstone GC on every node not in dead. Dead
// nodes are skipped since their max_version is frozen from our perspective;
// their tombstones must be preserved so a reset path can still reconcile
// them correctly if they return.
func (c *ClusterState) GCTombstones(gracePeriod Version, dead map[NodeID]struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, node := range c.nodes {
		if _, ok := dead[id]; ok {
			continue
		}
		node.GCTombstones(gracePeriod)
		c.recordNodeGauges(id, node)
	}
}

// NodeStateView is the read-only export of a single NodeState for
// ClusterStateSnapshot.
type NodeStateView struct {
	KeyValues  map[string]VersionedValue
	MaxVersion Version
}

// ClusterStateSnapshot is a cloned, read-only export used by admin/debug
// surfaces.
type ClusterStateSnapshot struct {
	SeedAddrs []string
	Nodes     map[NodeID]NodeStateView
}

// Snapshot returns a deep copy of the current cluster state.
func (c *ClusterState) Snapshot() ClusterStateSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	nodes := make(map[NodeID]NodeStateView, len(c.nodes))
	for id, node := range c.nodes {
		kv := make(map[string]VersionedValue, len(node.keyValues))
		for k, v := range node.keyValues {
			kv[k] = v
		}
		nodes[id] = NodeStateView{
			KeyValues:  kv,
			MaxVersion: node.maxVersion,
		}
	}

	return ClusterStateSnapshot{
		SeedAddrs: c.SeedAddrs(),
		Nodes:     nodes,
	}
}
