package scuttle

import (
	"bytes"

	"github.com/ugorji/go/codec"
)

// These are the shapes DeltaWriter encodes to measure each addition, using
// the same msgpack codec as the transport. They are not the transport's own
// wire shapes: pkg/gossip/protocol.go also encodes an entry count in each node
// header, encodes entries flat rather than with a nested value, and adds a
// message frame and delta header that are not counted here. The byte cost
// DeltaWriter tracks is therefore close to, but not equal to, the encoded
// message size; the transport enforces its packet size limit again when
// encoding.
type wireNodeHeader struct {
	NodeID NodeID `codec:"node_id"`
}

type wireEntry struct {
	Key   string         `codec:"key"`
	Value VersionedValue `codec:"value"`
}

type wireReset struct {
	NodeID NodeID `codec:"node_id"`
}

// NodeDelta is the ordered set of updates for a single node within a Delta.
// Entries are version-ascending: if a partial delta is cut mid-node by an
// MTU limit, the receiver's max_version advances to the last included
// version and the next gossip round resumes from there without
// retransmitting what was already sent.
type NodeDelta struct {
	NodeID  NodeID
	Entries []Entry
}

// Delta is the reconciliation payload returned by ClusterState.ComputeDelta:
// the nodes a peer must reset before applying the delta, plus the ordered
// per-node updates it is missing.
type Delta struct {
	NodesToReset map[NodeID]struct{}
	NodeDeltas   []NodeDelta
}

func newDelta() *Delta {
	return &Delta{
		NodesToReset: make(map[NodeID]struct{}),
	}
}

// Empty reports whether the delta carries nothing to send.
func (d Delta) Empty() bool {
	return len(d.NodesToReset) == 0 && len(d.NodeDeltas) == 0
}

// DeltaWriter incrementally builds a Delta while enforcing an MTU budget. It
// models serialized size, not in-memory size: every AddNode/AddKV/
// AddNodeToReset speculatively encodes into a scratch buffer with the same
// codec the wire protocol uses (though not its exact message layout; see
// wireNodeHeader), and only commits the addition if the
// running total stays within the budget. The first refused addition closes
// the writer; no further additions are accepted.
type DeltaWriter struct {
	mtu   int
	delta *Delta

	buf    *bytes.Buffer
	enc    *codec.Encoder
	handle codec.MsgpackHandle

	curNode *NodeDelta
	refused bool
}

// NewDeltaWriter creates a writer bounded by mtu bytes.
func NewDeltaWriter(mtu int) *DeltaWriter {
	w := &DeltaWriter{
		mtu:   mtu,
		delta: newDelta(),
		buf:   new(bytes.Buffer),
	}
	w.enc = codec.NewEncoder(w.buf, &w.handle)
	return w
}

// AddNodeToReset marks id for reset on the peer side. Accounted against the
// MTU budget identically to any other write.
func (w *DeltaWriter) AddNodeToReset(id NodeID) bool {
	if w.refused {
		return false
	}
	if !w.tryEncode(wireReset{NodeID: id}) {
		w.refused = true
		return false
	}
	w.delta.NodesToReset[id] = struct{}{}
	return true
}

// AddNode reserves space for a new node section. Returns false iff adding
// the header would exceed the MTU, after which no further additions are
// legal.
func (w *DeltaWriter) AddNode(id NodeID) bool {
	if w.refused {
		return false
	}
	if !w.tryEncode(wireNodeHeader{NodeID: id}) {
		w.refused = true
		return false
	}
	w.delta.NodeDeltas = append(w.delta.NodeDeltas, NodeDelta{NodeID: id})
	w.curNode = &w.delta.NodeDeltas[len(w.delta.NodeDeltas)-1]
	return true
}

// AddKV appends (key, vv) to the currently open node section. Returns false
// iff the addition would exceed the MTU budget.
func (w *DeltaWriter) AddKV(key string, vv VersionedValue) bool {
	if w.refused || w.curNode == nil {
		return false
	}
	if !w.tryEncode(wireEntry{Key: key, Value: vv}) {
		w.refused = true
		return false
	}
	w.curNode.Entries = append(w.curNode.Entries, Entry{Key: key, Value: vv})
	return true
}

// tryEncode speculatively encodes v and rolls back the scratch buffer
// unless doing so keeps the running total within the MTU budget.
func (w *DeltaWriter) tryEncode(v interface{}) bool {
	mark := w.buf.Len()
	if err := w.enc.Encode(v); err != nil {
		w.buf.Truncate(mark)
		return false
	}
	if w.buf.Len() > w.mtu {
		w.buf.Truncate(mark)
		return false
	}
	return true
}

// Finalize returns the Delta built so far.
func (w *DeltaWriter) Finalize() Delta {
	return *w.delta
}
