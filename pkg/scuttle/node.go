package scuttle

import (
	"sort"
	"time"
)

// NodeState is the per-node record in a ClusterState: a key-value map plus
// the node's monotonic version counter.
//
// maxVersion may exceed every present value's version, since GC removes
// tombstoned entries without lowering it.
type NodeState struct {
	keyValues   map[string]VersionedValue
	maxVersion  Version
	lastHeartbeat time.Time
}

func newNodeState() *NodeState {
	return &NodeState{
		keyValues:     make(map[string]VersionedValue),
		lastHeartbeat: time.Now(),
	}
}

// MaxVersion returns the largest version ever assigned within this
// NodeState.
func (s *NodeState) MaxVersion() Version {
	return s.maxVersion
}

// LastHeartbeat returns the last time a delta for this node was applied.
// It is opaque to core semantics; external liveness logic is the only
// consumer.
func (s *NodeState) LastHeartbeat() time.Time {
	return s.lastHeartbeat
}

// Get returns the value for key, or ok=false if absent or tombstoned.
func (s *NodeState) Get(key string) (string, bool) {
	vv, ok := s.GetVersioned(key)
	if !ok || vv.Tombstone {
		return "", false
	}
	return vv.Value, true
}

// GetVersioned returns the raw record for key, including tombstones.
func (s *NodeState) GetVersioned(key string) (VersionedValue, bool) {
	vv, ok := s.keyValues[key]
	return vv, ok
}

// Set stores value under key at a newly incremented version. The version is
// bumped even if value is unchanged from what's already stored: value
// equality is irrelevant to convergence, and the version bump is what
// drives propagation.
func (s *NodeState) Set(key, value string) {
	s.setWithVersion(key, value, s.maxVersion+1)
}

// setWithVersion stores value at an explicit version. version must be
// strictly greater than the current MaxVersion(); violating this is a
// programming error in the caller, not a runtime condition, so it panics.
func (s *NodeState) setWithVersion(key, value string, version Version) {
	if version <= s.maxVersion {
		panic("scuttle: setWithVersion called with a version not strictly greater than max_version")
	}
	s.maxVersion = version
	s.keyValues[key] = VersionedValue{
		Value:   value,
		Version: version,
	}
}

// MarkForDeletion tombstones key. max_version is incremented regardless of
// whether key is present; if key is absent no entry is materialized. This
// leaks version space on a miss but is a preserved quirk of the protocol,
// not a bug to fix here.
func (s *NodeState) MarkForDeletion(key string) {
	newVersion := s.maxVersion + 1
	s.maxVersion = newVersion
	if vv, ok := s.keyValues[key]; ok {
		vv.Tombstone = true
		vv.Version = newVersion
		s.keyValues[key] = vv
	}
}

// GCTombstones removes every tombstoned entry whose version + gracePeriod <
// max_version. Non-tombstoned entries are never removed here.
func (s *NodeState) GCTombstones(gracePeriod Version) {
	for key, vv := range s.keyValues {
		if vv.Tombstone && vv.Version+gracePeriod < s.maxVersion {
			delete(s.keyValues, key)
		}
	}
}

// IterLive returns the non-tombstoned entries satisfying predicate, sorted
// by key for deterministic iteration.
func (s *NodeState) IterLive(predicate func(key string, vv VersionedValue) bool) []Entry {
	var out []Entry
	for key, vv := range s.keyValues {
		if vv.Tombstone {
			continue
		}
		if predicate != nil && !predicate(key, vv) {
			continue
		}
		out = append(out, Entry{Key: key, Value: vv})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// IterStale returns entries (including tombstones) whose version is
// strictly greater than floor, sorted ascending by version.
func (s *NodeState) IterStale(floor Version) []Entry {
	var out []Entry
	for key, vv := range s.keyValues {
		if vv.Version > floor {
			out = append(out, Entry{Key: key, Value: vv})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value.Version < out[j].Value.Version })
	return out
}

// All returns every entry, live or tombstoned, sorted by key. Used by
// debug/admin exports that need to see the full replicated state rather
// than just the public (non-tombstoned) view.
func (s *NodeState) All() []Entry {
	out := make([]Entry, 0, len(s.keyValues))
	for key, vv := range s.keyValues {
		out = append(out, Entry{Key: key, Value: vv})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// countStale returns len(IterStale(floor)) without allocating the slice.
func (s *NodeState) countStale(floor Version) int {
	n := 0
	for _, vv := range s.keyValues {
		if vv.Version > floor {
			n++
		}
	}
	return n
}
