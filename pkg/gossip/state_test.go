package gossip

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quoin-dev/scuttle/pkg/scuttle"
)

func TestClusterState_LocalState(t *testing.T) {
	t.Run("initial state", func(t *testing.T) {
		clusterState := newClusterState(
			"node-1", "1.1.1.1:1", 1000, &fakeFailureDetector{}, newNopWatcher(), nil,
		)
		node := clusterState.LocalNode()
		assert.Equal(t, "node-1", node.ID)
		assert.Equal(t, "1.1.1.1:1", node.Addr)
		assert.Equal(t, uint64(1), node.Version)
		assert.Equal(t, false, node.Left)
		assert.Equal(t, false, node.Unreachable)
		assert.Equal(
			t,
			[]Entry{
				{addrKey, "1.1.1.1:1", 1, true, false},
			},
			node.Entries,
		)
	})

	t.Run("upsert", func(t *testing.T) {
		clusterState := newClusterState(
			"node-1", "1.1.1.1:1", 1000, &fakeFailureDetector{}, newNopWatcher(), nil,
		)

		clusterState.UpsertLocal("k1", "v1")
		clusterState.UpsertLocal("k2", "v2")
		clusterState.UpsertLocal("k3", "v3")

		node := clusterState.LocalNode()
		assert.Equal(t, uint64(4), node.Version)
		assert.Equal(
			t,
			[]Entry{
				{addrKey, "1.1.1.1:1", 1, true, false},
				{"k1", "v1", 2, false, false},
				{"k2", "v2", 3, false, false},
				{"k3", "v3", 4, false, false},
			},
			node.Entries,
		)
	})

	t.Run("delete", func(t *testing.T) {
		clusterState := newClusterState(
			"node-1", "1.1.1.1:1", 1000, &fakeFailureDetector{}, newNopWatcher(), nil,
		)

		clusterState.UpsertLocal("k1", "v1")
		clusterState.UpsertLocal("k2", "v2")
		clusterState.UpsertLocal("k3", "v3")
		clusterState.DeleteLocal("k1")
		clusterState.DeleteLocal("k2")

		node := clusterState.LocalNode()
		assert.Equal(t, uint64(6), node.Version)
		assert.Equal(
			t,
			[]Entry{
				{addrKey, "1.1.1.1:1", 1, true, false},
				{"k3", "v3", 4, false, false},
				{"k1", "v1", 5, false, true},
				{"k2", "v2", 6, false, true},
			},
			node.Entries,
		)
	})
}

func TestClusterState_ApplyDigest(t *testing.T) {
	t.Run("discovers new nodes", func(t *testing.T) {
		clusterState := newClusterState(
			"node-1", "1.1.1.1", 1000, &fakeFailureDetector{}, newNopWatcher(), nil,
		)

		clusterState.ApplyDigest(scuttle.Digest{
			"node-2": 5,
			"node-3": 12,
			"node-4": 2,
		})

		nodes := clusterState.Nodes()
		sort.Slice(nodes, func(i, j int) bool {
			return nodes[i].ID < nodes[j].ID
		})

		assert.Equal(
			t,
			[]NodeMetadata{
				{"node-1", "1.1.1.1", 1, false, false, time.Time{}},
				{"node-2", "", 0, false, false, time.Time{}},
				{"node-3", "", 0, false, false, time.Time{}},
				{"node-4", "", 0, false, false, time.Time{}},
			},
			nodes,
		)
	})

	t.Run("ignores local id", func(t *testing.T) {
		clusterState := newClusterState(
			"node-1", "1.1.1.1", 1000, &fakeFailureDetector{}, newNopWatcher(), nil,
		)

		clusterState.ApplyDigest(scuttle.Digest{"node-1": 9})

		assert.Equal(t, 1, len(clusterState.Nodes()))
	})

	t.Run("watch", func(t *testing.T) {
		watcher := &fakeWatcher{}
		clusterState := newClusterState(
			"node-1", "1.1.1.1", 1000, &fakeFailureDetector{}, watcher, nil,
		)

		clusterState.ApplyDigest(scuttle.Digest{
			"node-2": 5,
			"node-4": 2,
		})

		sort.Strings(watcher.joins)
		assert.Equal(t, []string{"node-2", "node-4"}, watcher.joins)
	})
}

func TestClusterState_ApplyDelta(t *testing.T) {
	t.Run("apply", func(t *testing.T) {
		clusterState := newClusterState(
			"node-1", "1.1.1.1", 1000, &fakeFailureDetector{}, newNopWatcher(), nil,
		)

		clusterState.ApplyDelta(scuttle.Delta{
			NodeDeltas: []scuttle.NodeDelta{
				{
					NodeID: "node-2",
					Entries: []scuttle.Entry{
						{Key: addrKey, Value: scuttle.VersionedValue{Value: "2.2.2.2", Version: 1}},
						{Key: "k1", Value: scuttle.VersionedValue{Value: "v1", Version: 4}},
						{Key: "k2", Value: scuttle.VersionedValue{Value: "v2", Version: 5}},
						{Key: "k3", Value: scuttle.VersionedValue{Value: "v3", Version: 8}},
					},
				},
				{
					NodeID: "node-3",
					Entries: []scuttle.Entry{
						{Key: addrKey, Value: scuttle.VersionedValue{Value: "3.3.3.3", Version: 1}},
						{Key: "k1", Value: scuttle.VersionedValue{Value: "v1", Version: 8}},
						{Key: "k2", Value: scuttle.VersionedValue{Value: "v2", Version: 12}},
						{Key: "k3", Value: scuttle.VersionedValue{Value: "v3", Version: 13}},
					},
				},
			},
		})

		nodes := clusterState.Nodes()
		sort.Slice(nodes, func(i, j int) bool {
			return nodes[i].ID < nodes[j].ID
		})

		assert.Equal(
			t,
			[]NodeMetadata{
				{"node-1", "1.1.1.1", 1, false, false, time.Time{}},
				{"node-2", "2.2.2.2", 8, false, false, time.Time{}},
				{"node-3", "3.3.3.3", 13, false, false, time.Time{}},
			},
			nodes,
		)

		state, _ := clusterState.Node("node-2")
		assert.Equal(t, &NodeState{
			NodeMetadata: NodeMetadata{
				ID:      "node-2",
				Addr:    "2.2.2.2",
				Version: 8,
			},
			Entries: []Entry{
				{addrKey, "2.2.2.2", 1, true, false},
				{"k1", "v1", 4, false, false},
				{"k2", "v2", 5, false, false},
				{"k3", "v3", 8, false, false},
			},
		}, state)

		// Delete some keys.
		clusterState.ApplyDelta(scuttle.Delta{
			NodeDeltas: []scuttle.NodeDelta{
				{
					NodeID: "node-2",
					Entries: []scuttle.Entry{
						{Key: "k1", Value: scuttle.VersionedValue{Value: "v1", Version: 14, Tombstone: true}},
						{Key: "k2", Value: scuttle.VersionedValue{Value: "v2", Version: 16, Tombstone: true}},
					},
				},
			},
		})

		state, _ = clusterState.Node("node-2")
		assert.Equal(t, &NodeState{
			NodeMetadata: NodeMetadata{
				ID:      "node-2",
				Addr:    "2.2.2.2",
				Version: 16,
			},
			Entries: []Entry{
				{addrKey, "2.2.2.2", 1, true, false},
				{"k3", "v3", 8, false, false},
				{"k1", "v1", 14, false, true},
				{"k2", "v2", 16, false, true},
			},
		}, state)
	})

	t.Run("watch", func(t *testing.T) {
		watcher := &fakeWatcher{}
		clusterState := newClusterState(
			"node-1", "1.1.1.1", 1000, &fakeFailureDetector{}, watcher, nil,
		)

		clusterState.ApplyDelta(scuttle.Delta{
			NodeDeltas: []scuttle.NodeDelta{
				{
					NodeID: "node-2",
					Entries: []scuttle.Entry{
						{Key: "k1", Value: scuttle.VersionedValue{Value: "v1", Version: 4}},
						{Key: "k2", Value: scuttle.VersionedValue{Value: "v2", Version: 5}},
						{Key: "k3", Value: scuttle.VersionedValue{Value: "v3", Version: 8}},
					},
				},
				{
					NodeID: "node-3",
					Entries: []scuttle.Entry{
						{Key: "k1", Value: scuttle.VersionedValue{Value: "v1", Version: 8}},
						{Key: "k2", Value: scuttle.VersionedValue{Value: "v2", Version: 12}},
						{Key: "k3", Value: scuttle.VersionedValue{Value: "v3", Version: 13}},
					},
				},
			},
		})
		// Delete keys.
		clusterState.ApplyDelta(scuttle.Delta{
			NodeDeltas: []scuttle.NodeDelta{
				{
					NodeID: "node-2",
					Entries: []scuttle.Entry{
						{Key: "k1", Value: scuttle.VersionedValue{Value: "v1", Version: 10, Tombstone: true}},
					},
				},
				{
					NodeID: "node-3",
					Entries: []scuttle.Entry{
						{Key: "k1", Value: scuttle.VersionedValue{Value: "v1", Version: 16, Tombstone: true}},
						{Key: "k3", Value: scuttle.VersionedValue{Value: "v3", Version: 18, Tombstone: true}},
					},
				},
			},
		})

		assert.Equal(t, []string{"node-2", "node-3"}, watcher.joins)
		assert.Equal(t, []stateUpsert{
			{"node-2", "k1", "v1"},
			{"node-2", "k2", "v2"},
			{"node-2", "k3", "v3"},
			{"node-3", "k1", "v1"},
			{"node-3", "k2", "v2"},
			{"node-3", "k3", "v3"},
		}, watcher.upserts)
		assert.Equal(t, []stateDelete{
			{"node-2", "k1"},
			{"node-3", "k1"},
			{"node-3", "k3"},
		}, watcher.deletes)
	})
}

func TestClusterState_Digest(t *testing.T) {
	clusterState := newClusterState(
		"node-1", "1.1.1.1", 1000, &fakeFailureDetector{}, newNopWatcher(), nil,
	)
	clusterState.UpsertLocal("k1", "v1")
	clusterState.UpsertLocal("k2", "v2")
	clusterState.UpsertLocal("k3", "v3")
	clusterState.DeleteLocal("k2")

	clusterState.ApplyDelta(scuttle.Delta{
		NodeDeltas: []scuttle.NodeDelta{
			{
				NodeID: "node-2",
				Entries: []scuttle.Entry{
					{Key: "k1", Value: scuttle.VersionedValue{Value: "v1", Version: 4}},
					{Key: "k2", Value: scuttle.VersionedValue{Value: "v2", Version: 5}},
					{Key: "k3", Value: scuttle.VersionedValue{Value: "v3", Version: 8}},
				},
			},
			{
				NodeID: "node-3",
				Entries: []scuttle.Entry{
					{Key: "k1", Value: scuttle.VersionedValue{Value: "v1", Version: 8}},
					{Key: "k2", Value: scuttle.VersionedValue{Value: "v2", Version: 12}},
					{Key: "k3", Value: scuttle.VersionedValue{Value: "v3", Version: 13}},
				},
			},
		},
	})

	stateDigest := clusterState.Digest()
	assert.Equal(t, scuttle.Digest{
		"node-1": 5,
		"node-2": 8,
		"node-3": 13,
	}, stateDigest)
}

func TestClusterState_Delta(t *testing.T) {
	clusterState := newClusterState(
		"node-1", "1.1.1.1", 1000, &fakeFailureDetector{}, newNopWatcher(), nil,
	)
	clusterState.UpsertLocal("k1", "v1")
	clusterState.UpsertLocal("k2", "v2")
	clusterState.UpsertLocal("k3", "v3")
	clusterState.DeleteLocal("k2")

	clusterState.ApplyDelta(scuttle.Delta{
		NodeDeltas: []scuttle.NodeDelta{
			{
				NodeID: "node-2",
				Entries: []scuttle.Entry{
					{Key: "k1", Value: scuttle.VersionedValue{Value: "v1", Version: 4}},
				},
			},
		},
	})

	toMap := func(delta scuttle.Delta) map[scuttle.NodeID][]scuttle.Entry {
		out := make(map[scuttle.NodeID][]scuttle.Entry, len(delta.NodeDeltas))
		for _, nd := range delta.NodeDeltas {
			out[nd.NodeID] = nd.Entries
		}
		return out
	}

	// A full delta: the peer's digest is empty, so every entry on every node
	// is stale.
	fullDelta := clusterState.Delta(scuttle.Digest{}, 10000)
	assert.Equal(t, map[scuttle.NodeID][]scuttle.Entry{
		"node-1": {
			{Key: addrKey, Value: scuttle.VersionedValue{Value: "1.1.1.1", Version: 1}},
			{Key: "k1", Value: scuttle.VersionedValue{Value: "v1", Version: 2}},
			{Key: "k3", Value: scuttle.VersionedValue{Value: "v3", Version: 4}},
			{Key: "k2", Value: scuttle.VersionedValue{Value: "v2", Version: 5, Tombstone: true}},
		},
		"node-2": {
			{Key: "k1", Value: scuttle.VersionedValue{Value: "v1", Version: 4}},
		},
	}, toMap(fullDelta))

	// A partial delta: the peer already has some entries.
	partialDelta := clusterState.Delta(scuttle.Digest{
		"node-1": 3,
		"node-2": 4,
	}, 10000)
	assert.Equal(t, map[scuttle.NodeID][]scuttle.Entry{
		"node-1": {
			{Key: "k3", Value: scuttle.VersionedValue{Value: "v3", Version: 4}},
			{Key: "k2", Value: scuttle.VersionedValue{Value: "v2", Version: 5, Tombstone: true}},
		},
	}, toMap(partialDelta))
}

func TestClusterState_Leave(t *testing.T) {
	t.Run("leave local", func(t *testing.T) {
		clusterState := newClusterState(
			"node-1", "1.1.1.1:1", 1000, &fakeFailureDetector{}, newNopWatcher(), nil,
		)
		clusterState.LeaveLocal()

		node := clusterState.LocalNode()
		assert.Equal(t, "node-1", node.ID)
		assert.Equal(t, "1.1.1.1:1", node.Addr)
		assert.Equal(t, uint64(2), node.Version)
		assert.Equal(t, true, node.Left)
		assert.Equal(t, false, node.Unreachable)
		assert.Equal(
			t,
			[]Entry{
				{addrKey, "1.1.1.1:1", 1, true, false},
				{leftKey, "1", 2, true, false},
			},
			node.Entries,
		)
	})

	t.Run("leave remote", func(t *testing.T) {
		clusterState := newClusterState(
			"node-1", "1.1.1.1:1", 1000, &fakeFailureDetector{}, newNopWatcher(), nil,
		)

		// Add node-2.
		clusterState.ApplyDelta(scuttle.Delta{
			NodeDeltas: []scuttle.NodeDelta{
				{
					NodeID: "node-2",
					Entries: []scuttle.Entry{
						{Key: "k1", Value: scuttle.VersionedValue{Value: "v1", Version: 4}},
						{Key: "k2", Value: scuttle.VersionedValue{Value: "v2", Version: 5}},
					},
				},
			},
		})
		// Leave.
		clusterState.ApplyDelta(scuttle.Delta{
			NodeDeltas: []scuttle.NodeDelta{
				{
					NodeID: "node-2",
					Entries: []scuttle.Entry{
						{Key: leftKey, Value: scuttle.VersionedValue{Value: "1", Version: 6}},
					},
				},
			},
		})

		node, _ := clusterState.Node("node-2")
		assert.Equal(t, "node-2", node.ID)
		assert.Equal(t, true, node.Left)
		// Expiry should have been set.
		assert.NotEqual(t, time.Time{}, node.Expiry)
		assert.Equal(
			t,
			[]Entry{
				{"k1", "v1", 4, false, false},
				{"k2", "v2", 5, false, false},
				{leftKey, "1", 6, true, false},
			},
			node.Entries,
		)
	})

	t.Run("watch", func(t *testing.T) {
		watcher := &fakeWatcher{}
		clusterState := newClusterState(
			"node-1", "1.1.1.1:1", 1000, &fakeFailureDetector{}, watcher, nil,
		)

		// Add node-2.
		clusterState.ApplyDelta(scuttle.Delta{
			NodeDeltas: []scuttle.NodeDelta{
				{
					NodeID: "node-2",
					Entries: []scuttle.Entry{
						{Key: "k1", Value: scuttle.VersionedValue{Value: "v1", Version: 4}},
						{Key: "k2", Value: scuttle.VersionedValue{Value: "v2", Version: 5}},
					},
				},
			},
		})
		// Leave.
		clusterState.ApplyDelta(scuttle.Delta{
			NodeDeltas: []scuttle.NodeDelta{
				{
					NodeID: "node-2",
					Entries: []scuttle.Entry{
						{Key: leftKey, Value: scuttle.VersionedValue{Value: "1", Version: 6}},
					},
				},
			},
		})

		assert.Equal(t, []string{"node-2"}, watcher.joins)
		assert.Equal(t, []string{"node-2"}, watcher.leaves)
	})

	t.Run("expire", func(t *testing.T) {
		watcher := &fakeWatcher{}
		clusterState := newClusterState(
			"node-1", "1.1.1.1:1", 1000, &fakeFailureDetector{}, watcher, nil,
		)

		// Add node-2.
		clusterState.ApplyDelta(scuttle.Delta{
			NodeDeltas: []scuttle.NodeDelta{
				{
					NodeID: "node-2",
					Entries: []scuttle.Entry{
						{Key: "k1", Value: scuttle.VersionedValue{Value: "v1", Version: 4}},
						{Key: "k2", Value: scuttle.VersionedValue{Value: "v2", Version: 5}},
					},
				},
			},
		})
		// Leave.
		clusterState.ApplyDelta(scuttle.Delta{
			NodeDeltas: []scuttle.NodeDelta{
				{
					NodeID: "node-2",
					Entries: []scuttle.Entry{
						{Key: leftKey, Value: scuttle.VersionedValue{Value: "1", Version: 6}},
					},
				},
			},
		})

		clusterState.RemoveExpiredAt(time.Now().Add(nodeExpiry * 2))

		assert.Equal(t, []string{"node-2"}, watcher.joins)
		assert.Equal(t, []string{"node-2"}, watcher.leaves)
		assert.Equal(t, []string{"node-2"}, watcher.expires)

		_, ok := clusterState.Node("node-2")
		assert.False(t, ok)
	})
}

func TestClusterState_SeedAddrsFlowsThroughToSnapshot(t *testing.T) {
	seeds := newSeedAddrs()
	clusterState := newClusterState(
		"node-1", "1.1.1.1:1", 1000, &fakeFailureDetector{}, newNopWatcher(), seeds.get,
	)

	assert.Empty(t, clusterState.Snapshot().SeedAddrs)

	seeds.set([]string{"10.26.104.11:7946", "10.26.104.12:7946"})
	assert.Equal(
		t,
		[]string{"10.26.104.11:7946", "10.26.104.12:7946"},
		clusterState.Snapshot().SeedAddrs,
	)
}

func TestClusterState_GCTombstones(t *testing.T) {
	t.Run("reclaims tombstones past the grace period", func(t *testing.T) {
		clusterState := newClusterState(
			"node-1", "1.1.1.1:1", 2, &fakeFailureDetector{}, newNopWatcher(), nil,
		)

		clusterState.UpsertLocal("k1", "v1")
		clusterState.UpsertLocal("k2", "v2")
		clusterState.DeleteLocal("k1")
		clusterState.UpsertLocal("k3", "v3")
		clusterState.UpsertLocal("k4", "v4")
		clusterState.UpsertLocal("k5", "v5")
		clusterState.UpsertLocal("k6", "v6")

		clusterState.GCTombstones()

		node := clusterState.LocalNode()
		for _, e := range node.Entries {
			assert.NotEqual(t, "k1", e.Key)
		}
	})

	t.Run("keeps tombstones within the grace period", func(t *testing.T) {
		clusterState := newClusterState(
			"node-1", "1.1.1.1:1", 1000, &fakeFailureDetector{}, newNopWatcher(), nil,
		)

		clusterState.UpsertLocal("k1", "v1")
		clusterState.DeleteLocal("k1")

		clusterState.GCTombstones()

		node := clusterState.LocalNode()
		found := false
		for _, e := range node.Entries {
			if e.Key == "k1" {
				found = true
				assert.True(t, e.Deleted)
			}
		}
		assert.True(t, found)
	})

	t.Run("remote node tombstones", func(t *testing.T) {
		clusterState := newClusterState(
			"node-1", "1.1.1.1:1", 2, &fakeFailureDetector{}, newNopWatcher(), nil,
		)

		clusterState.ApplyDelta(scuttle.Delta{
			NodeDeltas: []scuttle.NodeDelta{
				{
					NodeID: "node-2",
					Entries: []scuttle.Entry{
						{Key: "k1", Value: scuttle.VersionedValue{Value: "v1", Version: 4}},
						{Key: "k2", Value: scuttle.VersionedValue{Value: "v2", Version: 5, Tombstone: true}},
						{Key: "k3", Value: scuttle.VersionedValue{Value: "v3", Version: 6}},
						{Key: "k4", Value: scuttle.VersionedValue{Value: "v4", Version: 7}},
						{Key: "k5", Value: scuttle.VersionedValue{Value: "v5", Version: 8}},
					},
				},
			},
		})

		clusterState.GCTombstones()

		node, _ := clusterState.Node("node-2")
		for _, e := range node.Entries {
			assert.NotEqual(t, "k2", e.Key)
		}
	})
}

func TestClusterState_UpdateLiveness(t *testing.T) {
	t.Run("node unreachable", func(t *testing.T) {
		clusterState := newClusterState(
			"node-1", "1.1.1.1:1", 1000, &fakeFailureDetector{
				map[string]float64{
					"node-2": 15.0,
					"node-3": 25.0,
				},
			}, newNopWatcher(), nil,
		)
		clusterState.ApplyDelta(scuttle.Delta{
			NodeDeltas: []scuttle.NodeDelta{
				{NodeID: "node-2"},
				{NodeID: "node-3"},
			},
		})

		clusterState.UpdateLiveness(20.0)

		meta := clusterState.LocalNodeMetadata()
		assert.False(t, meta.Unreachable)
		n2, _ := clusterState.Node("node-2")
		assert.False(t, n2.Unreachable)
		n3, _ := clusterState.Node("node-3")
		assert.True(t, n3.Unreachable)
	})

	t.Run("node healthy", func(t *testing.T) {
		suspicionLevels := map[string]float64{
			"node-2": 15.0,
			"node-3": 25.0,
		}
		clusterState := newClusterState(
			"node-1", "1.1.1.1:1", 1000, &fakeFailureDetector{suspicionLevels}, newNopWatcher(), nil,
		)
		clusterState.ApplyDelta(scuttle.Delta{
			NodeDeltas: []scuttle.NodeDelta{
				{NodeID: "node-2"},
				{NodeID: "node-3"},
			},
		})

		clusterState.UpdateLiveness(20.0)

		n2, _ := clusterState.Node("node-2")
		assert.False(t, n2.Unreachable)
		n3, _ := clusterState.Node("node-3")
		assert.True(t, n3.Unreachable)

		suspicionLevels["node-3"] = 5.0

		clusterState.UpdateLiveness(20.0)

		n3, _ = clusterState.Node("node-3")
		assert.False(t, n3.Unreachable)
	})

	t.Run("watch", func(t *testing.T) {
		suspicionLevels := map[string]float64{
			"node-2": 25.0,
		}
		watcher := &fakeWatcher{}
		clusterState := newClusterState(
			"node-1", "1.1.1.1:1", 1000, &fakeFailureDetector{suspicionLevels}, watcher, nil,
		)
		clusterState.ApplyDelta(scuttle.Delta{
			NodeDeltas: []scuttle.NodeDelta{
				{NodeID: "node-2"},
			},
		})

		clusterState.UpdateLiveness(20.0)

		assert.Equal(t, []string{"node-2"}, watcher.unreachables)

		suspicionLevels["node-2"] = 5.0
		clusterState.UpdateLiveness(20.0)

		assert.Equal(t, []string{"node-2"}, watcher.reachables)
	})
}

type stateUpsert struct {
	NodeID string
	Key    string
	Value  string
}

type stateDelete struct {
	NodeID string
	Key    string
}

type fakeWatcher struct {
	joins        []string
	leaves       []string
	reachables   []string
	unreachables []string
	upserts      []stateUpsert
	deletes      []stateDelete
	expires      []string
}

func (w *fakeWatcher) OnJoin(nodeID string) {
	w.joins = append(w.joins, nodeID)
}

func (w *fakeWatcher) OnLeave(nodeID string) {
	w.leaves = append(w.leaves, nodeID)
}

func (w *fakeWatcher) OnReachable(nodeID string) {
	w.reachables = append(w.reachables, nodeID)
}

func (w *fakeWatcher) OnUnreachable(nodeID string) {
	w.unreachables = append(w.unreachables, nodeID)
}

func (w *fakeWatcher) OnUpsertKey(nodeID, key, value string) {
	w.upserts = append(w.upserts, stateUpsert{
		NodeID: nodeID,
		Key:    key,
		Value:  value,
	})
}

func (w *fakeWatcher) OnDeleteKey(nodeID, key string) {
	w.deletes = append(w.deletes, stateDelete{
		NodeID: nodeID,
		Key:    key,
	})
}

func (w *fakeWatcher) OnExpired(nodeID string) {
	w.expires = append(w.expires, nodeID)
}

var _ Watcher = &fakeWatcher{}

type fakeFailureDetector struct {
	suspicionLevels map[string]float64
}

func (d *fakeFailureDetector) Report(_ string) {
}

func (d *fakeFailureDetector) SuspicionLevel(nodeID string) float64 {
	return d.suspicionLevels[nodeID]
}

func (d *fakeFailureDetector) Remove(_ string) {
}
