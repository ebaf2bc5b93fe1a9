package gossip

import (
	"sort"
	"sync"
	"time"

	"github.com/quoin-dev/scuttle/pkg/scuttle"
)

const (
	// addrKey is the internal key used to gossip a node's advertise
	// address alongside its application entries.
	addrKey = "_internal:addr"

	// leftKey is used to indicate a node left the cluster.
	leftKey = "_internal:left"

	// nodeExpiry is the duration a left or unreachable node's local
	// liveness bookkeeping is kept until the node is forgotten entirely.
	nodeExpiry = time.Minute
)

// Entry represents a versioned key-value pair state.
type Entry struct {
	Key     string `json:"key"`
	Value   string `json:"value"`
	Version uint64 `json:"version"`

	// Internal indicates whether this is an internal entry.
	Internal bool `json:"internal"`
	// Deleted indicates whether this entry represents a deleted key.
	Deleted bool `json:"deleted"`
}

// NodeMetadata contains the known metadata about the node.
type NodeMetadata struct {
	// ID is a unique identifier for the node.
	ID string `json:"id"`

	// Addr is the gossip address of the node.
	Addr string `json:"addr"`

	// Version is the latest known version of the node.
	Version uint64 `json:"version"`

	// Left indicates whether the node has left the cluster.
	Left bool `json:"left"`

	// Unreachable indicates whether the node is considered unreachable.
	Unreachable bool `json:"unreachable"`

	// Expiry contains the time the node state will expire. This is only set
	// if the node is considered left or unreachable until the expiry.
	Expiry time.Time
}

// NodeState contains the known state for the node.
type NodeState struct {
	NodeMetadata

	Entries []Entry
}

// livenessState is local-only bookkeeping, never gossiped: whether a remote
// node is currently considered unreachable by the failure detector, and
// when its bookkeeping should be forgotten if it never recovers.
type livenessState struct {
	unreachable bool
	expiry      time.Time
}

// clusterState adapts a scuttle.ClusterState into the node/address/liveness
// view the gossip transport needs: advertise addresses and left-status are
// gossiped as ordinary entries under internal keys, while unreachable/expiry
// are local-only signals derived from the failure detector and never
// propagated.
type clusterState struct {
	core *scuttle.ClusterState

	localID string

	gracePeriod scuttle.Version

	mu       sync.Mutex
	liveness map[string]*livenessState

	failureDetector failureDetector
	watcher         Watcher
}

func newClusterState(
	localID string,
	localAddr string,
	gracePeriod scuttle.Version,
	failureDetector failureDetector,
	watcher Watcher,
	seedAddrs scuttle.SeedAddrsFunc,
) *clusterState {
	core := scuttle.NewClusterState(scuttle.NodeID(localID), seedAddrs, nil)
	core.Set(addrKey, localAddr)

	return &clusterState{
		core:            core,
		localID:         localID,
		gracePeriod:     gracePeriod,
		liveness:        make(map[string]*livenessState),
		failureDetector: failureDetector,
		watcher:         watcher,
	}
}

func (s *clusterState) setMetrics(m *scuttle.Metrics) {
	s.core.SetMetrics(m)
}

func (s *clusterState) toNodeMetadata(id string, node *scuttle.NodeState) NodeMetadata {
	addr, _ := node.Get(addrKey)
	_, left := node.Get(leftKey)

	meta := NodeMetadata{
		ID:      id,
		Addr:    addr,
		Version: uint64(node.MaxVersion()),
		Left:    left,
	}

	s.mu.Lock()
	if ls, ok := s.liveness[id]; ok {
		meta.Unreachable = ls.unreachable
		meta.Expiry = ls.expiry
	}
	s.mu.Unlock()

	return meta
}

func toEntries(all []scuttle.Entry) []Entry {
	out := make([]Entry, 0, len(all))
	for _, e := range all {
		out = append(out, Entry{
			Key:      e.Key,
			Value:    e.Value.Value,
			Version:  uint64(e.Value.Version),
			Internal: e.Key == addrKey || e.Key == leftKey,
			Deleted:  e.Value.Tombstone,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

func (s *clusterState) Node(id string) (*NodeState, bool) {
	node, ok := s.core.Node(scuttle.NodeID(id))
	if !ok {
		return nil, false
	}
	return &NodeState{
		NodeMetadata: s.toNodeMetadata(id, node),
		Entries:      toEntries(node.All()),
	}, true
}

func (s *clusterState) LocalNodeMetadata() NodeMetadata {
	return s.toNodeMetadata(s.localID, s.core.LocalNode())
}

func (s *clusterState) LocalNode() *NodeState {
	node := s.core.LocalNode()
	return &NodeState{
		NodeMetadata: s.toNodeMetadata(s.localID, node),
		Entries:      toEntries(node.All()),
	}
}

func (s *clusterState) Nodes() []NodeMetadata {
	var metadata []NodeMetadata
	for _, id := range s.core.Nodes() {
		node, ok := s.core.Node(id)
		if !ok {
			continue
		}
		metadata = append(metadata, s.toNodeMetadata(string(id), node))
	}
	return metadata
}

// LiveNodes returns the known remote nodes that are up and have not left.
func (s *clusterState) LiveNodes() []NodeMetadata {
	var metadata []NodeMetadata
	for _, meta := range s.Nodes() {
		if meta.ID == s.localID {
			continue
		}
		if meta.Unreachable || meta.Left {
			continue
		}
		metadata = append(metadata, meta)
	}
	return metadata
}

// UnreachableNodes returns the known remote nodes that are considered
// unreachable.
func (s *clusterState) UnreachableNodes() []NodeMetadata {
	var metadata []NodeMetadata
	for _, meta := range s.Nodes() {
		if meta.ID == s.localID {
			continue
		}
		if meta.Unreachable {
			metadata = append(metadata, meta)
		}
	}
	return metadata
}

func (s *clusterState) UpsertLocal(key, value string) {
	s.core.Set(key, value)
}

func (s *clusterState) DeleteLocal(key string) {
	s.core.Delete(key)
}

// LeaveLocal updates the local node state to indicate the node has left the
// cluster.
func (s *clusterState) LeaveLocal() {
	local := s.core.LocalNode()
	if _, ok := local.Get(leftKey); ok {
		// Already left.
		return
	}
	s.core.Set(leftKey, "1")
}

func (s *clusterState) Digest() scuttle.Digest {
	return s.core.ComputeDigest(nil)
}

// Delta returns a delta to send in response to the peer's digest, bounded
// by maxPacketSize.
func (s *clusterState) Delta(digest scuttle.Digest, maxPacketSize int) scuttle.Delta {
	return s.core.ComputeDelta(digest, maxPacketSize, nil, s.gracePeriod)
}

// LocalDelta returns the full local node state, used to bootstrap a join.
func (s *clusterState) LocalDelta() scuttle.Delta {
	local := s.core.LocalNode()
	return scuttle.Delta{
		NodeDeltas: []scuttle.NodeDelta{
			{NodeID: scuttle.NodeID(s.localID), Entries: local.All()},
		},
	}
}

// ApplyDigest discovers any nodes we don't yet know about from the given
// digest and adds them to our local state.
//
// Unlike a full delta, a digest carries no left-status, so a node that left
// long ago and was since forgotten may be briefly rediscovered here; it will
// be recognised as left again as soon as its _internal:left entry arrives
// in the following delta exchange.
func (s *clusterState) ApplyDigest(digest scuttle.Digest) {
	for id := range digest {
		if id == scuttle.NodeID(s.localID) {
			continue
		}
		if s.core.EnsureNode(id) {
			s.watcher.OnJoin(string(id))
		}
	}
}

// ApplyDelta updates the state of remote nodes given the delta state.
func (s *clusterState) ApplyDelta(delta scuttle.Delta) {
	for _, nd := range delta.NodeDeltas {
		if nd.NodeID == scuttle.NodeID(s.localID) {
			continue
		}
		if s.core.EnsureNode(nd.NodeID) {
			s.watcher.OnJoin(string(nd.NodeID))
		}
	}

	s.core.ApplyDelta(delta)

	for _, nd := range delta.NodeDeltas {
		if nd.NodeID == scuttle.NodeID(s.localID) {
			continue
		}
		for _, entry := range nd.Entries {
			switch entry.Key {
			case leftKey:
				s.markLeft(string(nd.NodeID))
			case addrKey:
				// Advertise address changes have no watcher callback.
			default:
				if entry.Value.Tombstone {
					s.watcher.OnDeleteKey(string(nd.NodeID), entry.Key)
				} else {
					s.watcher.OnUpsertKey(string(nd.NodeID), entry.Key, entry.Value.Value)
				}
			}
		}
	}
}

func (s *clusterState) markLeft(id string) {
	s.mu.Lock()
	ls, ok := s.liveness[id]
	if !ok {
		ls = &livenessState{}
		s.liveness[id] = ls
	}
	ls.expiry = time.Now().Add(nodeExpiry)
	s.mu.Unlock()

	s.watcher.OnLeave(id)
}

// Snapshot returns a deep, read-only copy of the underlying cluster state
// (including the live seed-address view), for admin/debug surfaces.
func (s *clusterState) Snapshot() scuttle.ClusterStateSnapshot {
	return s.core.Snapshot()
}

// GCTombstones reclaims tombstoned entries older than gracePeriod versions
// on every known node.
func (s *clusterState) GCTombstones() {
	s.core.GCTombstones(s.gracePeriod, nil)
}

// RemoveExpired forgets local liveness bookkeeping - and the underlying
// node state entirely - for any node whose left/unreachable expiry has
// passed.
func (s *clusterState) RemoveExpired() {
	s.RemoveExpiredAt(time.Now())
}

func (s *clusterState) RemoveExpiredAt(t time.Time) {
	s.mu.Lock()
	var expired []string
	for id, ls := range s.liveness {
		if !ls.expiry.IsZero() && t.After(ls.expiry) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(s.liveness, id)
	}
	s.mu.Unlock()

	for _, id := range expired {
		s.core.RemoveNode(scuttle.NodeID(id))
		s.watcher.OnExpired(id)
		s.failureDetector.Remove(id)
	}
}

// UpdateLiveness recomputes the unreachable flag for every known remote
// node from the failure detector's current suspicion level.
func (s *clusterState) UpdateLiveness(suspicionThreshold float64) {
	for _, id := range s.core.Nodes() {
		if id == scuttle.NodeID(s.localID) {
			continue
		}
		node, ok := s.core.Node(id)
		if !ok {
			continue
		}
		if _, left := node.Get(leftKey); left {
			continue
		}

		suspicion := s.failureDetector.SuspicionLevel(string(id))

		s.mu.Lock()
		ls, ok := s.liveness[string(id)]
		if !ok {
			ls = &livenessState{}
			s.liveness[string(id)] = ls
		}

		becameUnreachable := false
		becameReachable := false
		if suspicion > suspicionThreshold {
			if !ls.unreachable {
				ls.unreachable = true
				ls.expiry = time.Now().Add(nodeExpiry)
				becameUnreachable = true
			}
		} else if ls.unreachable {
			ls.unreachable = false
			ls.expiry = time.Time{}
			becameReachable = true
		}
		s.mu.Unlock()

		if becameUnreachable {
			s.watcher.OnUnreachable(string(id))
		} else if becameReachable {
			s.watcher.OnReachable(string(id))
		}
	}
}
