// Package scuttle implements the Scuttlebutt anti-entropy reconciliation
// engine: per-node versioned key-value state, digest/delta computation with
// scuttle-depth ordering, MTU-bounded delta construction, and tombstone
// garbage collection.
//
// The package has no knowledge of transport, serialization framing or
// failure detection; those are external collaborators that drive the core
// through the methods on ClusterState.
package scuttle
