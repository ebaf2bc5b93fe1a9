package gossip

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/ugorji/go/codec"

	"github.com/quoin-dev/scuttle/pkg/scuttle"
)

type messageType uint8

const (
	messageTypeDigest messageType = iota + 1
	messageTypeDelta
	messageTypeJoin
	messageTypeLeave
)

func (t messageType) String() string {
	switch t {
	case messageTypeDigest:
		return "digest"
	case messageTypeDelta:
		return "delta"
	case messageTypeJoin:
		return "join"
	case messageTypeLeave:
		return "leave"
	default:
		return "unknown"
	}
}

const (
	supportedVersion uint8 = 0
)

// trackedWriter is a wrapper for the underlying writer that counts the
// number of bytes written.
type trackedWriter struct {
	w io.Writer
	n int
}

func newTrackedWriter(w io.Writer) *trackedWriter {
	return &trackedWriter{w: w}
}

func (w *trackedWriter) Write(b []byte) (int, error) {
	n, err := w.w.Write(b)
	w.n += n
	return n, err
}

func (w *trackedWriter) NumBytesWritten() int {
	return w.n
}

var _ io.Writer = &trackedWriter{}

// trackedReader is a wrapper for the underlying reader that counts the
// number of bytes read.
type trackedReader struct {
	r io.Reader
	n int
}

func newTrackedReader(r io.Reader) *trackedReader {
	return &trackedReader{r: r}
}

func (r *trackedReader) Read(b []byte) (int, error) {
	n, err := r.r.Read(b)
	r.n += n
	return n, err
}

func (r *trackedReader) NumBytesRead() int {
	return r.n
}

var _ io.Reader = &trackedReader{}

type encoder struct {
	encoder *codec.Encoder
}

func newEncoder(writer io.Writer) *encoder {
	var handle codec.MsgpackHandle
	return &encoder{
		encoder: codec.NewEncoder(writer, &handle),
	}
}

func (e *encoder) Encode(v interface{}) error {
	return e.encoder.Encode(v)
}

type decoder struct {
	decoder *codec.Decoder
}

func newDecoder(reader io.Reader) *decoder {
	var handle codec.MsgpackHandle
	return &decoder{
		decoder: codec.NewDecoder(reader, &handle),
	}
}

func (d *decoder) Decode(v interface{}) error {
	return d.decoder.Decode(v)
}

// digestHeader is the fixed-size header preceding a digest message's
// entries.
type digestHeader struct {
	NodeID scuttle.NodeID `codec:"node_id"`
	// Request indicates the sender wants a digest back, used to bootstrap
	// the first exchange of a gossip round.
	Request bool `codec:"request"`
}

// digestEntryWire is the wire shape of one Digest mapping.
type digestEntryWire struct {
	NodeID  scuttle.NodeID  `codec:"node_id"`
	Version scuttle.Version `codec:"version"`
}

// deltaHeader is the fixed-size header preceding a delta message's
// payload: a run of resetCount reset markers, followed by node sections
// (each self-describing its own entry count) until EOF.
type deltaHeader struct {
	NodeID     scuttle.NodeID `codec:"node_id"`
	ResetCount int            `codec:"reset_count"`
}

type resetEntryWire struct {
	NodeID scuttle.NodeID `codec:"node_id"`
}

type nodeDeltaHeaderWire struct {
	NodeID  scuttle.NodeID `codec:"node_id"`
	Entries int            `codec:"entries"`
}

type entryWire struct {
	Key       string          `codec:"key"`
	Value     string          `codec:"value"`
	Version   scuttle.Version `codec:"version"`
	Tombstone bool            `codec:"tombstone"`
}

type joinHeader struct {
	NodeID scuttle.NodeID `codec:"node_id"`
}

type leaveHeader struct {
	NodeID scuttle.NodeID `codec:"node_id"`
}

// encodeDigest serializes digest into at most maxPacketSize bytes, dropping
// trailing entries that don't fit rather than erroring: MTU exhaustion is
// not an error, it just bounds how much of the digest is sent this round.
func encodeDigest(header digestHeader, digest scuttle.Digest, order []scuttle.NodeID, maxPacketSize int) ([]byte, error) {
	var buf bytes.Buffer
	_ = buf.WriteByte(uint8(messageTypeDigest))
	_ = buf.WriteByte(supportedVersion)

	enc := newEncoder(&buf)

	if err := enc.Encode(&header); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	if buf.Len() > maxPacketSize {
		return nil, fmt.Errorf(
			"max packet size too small for header: %d < %d",
			maxPacketSize, buf.Len(),
		)
	}

	bufLen := buf.Len()
	for _, id := range order {
		entry := digestEntryWire{NodeID: id, Version: digest[id]}
		if err := enc.Encode(&entry); err != nil {
			return nil, fmt.Errorf("encode: %w", err)
		}
		if buf.Len() > maxPacketSize {
			break
		}
		bufLen = buf.Len()
	}

	return buf.Bytes()[:bufLen], nil
}

func decodeDigest(b []byte) (digestHeader, scuttle.Digest, error) {
	r := bytes.NewBuffer(b)

	if err := checkFrame(r, messageTypeDigest); err != nil {
		return digestHeader{}, nil, err
	}

	dec := newDecoder(r)
	var header digestHeader
	if err := dec.Decode(&header); err != nil {
		return digestHeader{}, nil, fmt.Errorf("decode: %w", err)
	}

	digest := make(scuttle.Digest)
	for {
		var entry digestEntryWire
		if err := dec.Decode(&entry); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return digestHeader{}, nil, fmt.Errorf("decode: %w", err)
		}
		digest[entry.NodeID] = entry.Version
	}

	return header, digest, nil
}

// encodeDelta serializes delta into at most maxPacketSize bytes in the
// given node order, stopping as soon as an addition would overflow the
// budget: the unsent remainder is picked up on a future round.
func encodeDelta(senderID scuttle.NodeID, delta scuttle.Delta, order []scuttle.NodeID, maxPacketSize int) ([]byte, error) {
	var buf bytes.Buffer
	_ = buf.WriteByte(uint8(messageTypeDelta))
	_ = buf.WriteByte(supportedVersion)

	enc := newEncoder(&buf)

	header := deltaHeader{
		NodeID:     senderID,
		ResetCount: len(delta.NodesToReset),
	}
	if err := enc.Encode(&header); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	if buf.Len() > maxPacketSize {
		return nil, fmt.Errorf(
			"max packet size too small for header: %d < %d",
			maxPacketSize, buf.Len(),
		)
	}
	bufLen := buf.Len()

	for id := range delta.NodesToReset {
		if err := enc.Encode(&resetEntryWire{NodeID: id}); err != nil {
			return nil, fmt.Errorf("encode: %w", err)
		}
		if buf.Len() > maxPacketSize {
			break
		}
		bufLen = buf.Len()
	}

	byID := make(map[scuttle.NodeID]scuttle.NodeDelta, len(delta.NodeDeltas))
	for _, nd := range delta.NodeDeltas {
		byID[nd.NodeID] = nd
	}

	for _, id := range order {
		nd, ok := byID[id]
		if !ok {
			continue
		}

		if err := enc.Encode(&nodeDeltaHeaderWire{
			NodeID:  nd.NodeID,
			Entries: len(nd.Entries),
		}); err != nil {
			return nil, fmt.Errorf("encode: %w", err)
		}
		if buf.Len() > maxPacketSize {
			break
		}
		bufLen = buf.Len()

		for _, entry := range nd.Entries {
			if err := enc.Encode(&entryWire{
				Key:       entry.Key,
				Value:     entry.Value.Value,
				Version:   entry.Value.Version,
				Tombstone: entry.Value.Tombstone,
			}); err != nil {
				return nil, fmt.Errorf("encode: %w", err)
			}
			if buf.Len() > maxPacketSize {
				break
			}
			bufLen = buf.Len()
		}
	}

	return buf.Bytes()[:bufLen], nil
}

func decodeDelta(b []byte) (scuttle.NodeID, scuttle.Delta, error) {
	r := bytes.NewBuffer(b)

	if err := checkFrame(r, messageTypeDelta); err != nil {
		return "", scuttle.Delta{}, err
	}

	dec := newDecoder(r)
	var header deltaHeader
	if err := dec.Decode(&header); err != nil {
		return "", scuttle.Delta{}, fmt.Errorf("decode: %w", err)
	}

	delta := scuttle.Delta{
		NodesToReset: make(map[scuttle.NodeID]struct{}, header.ResetCount),
	}
	for i := 0; i < header.ResetCount; i++ {
		var entry resetEntryWire
		if err := dec.Decode(&entry); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", scuttle.Delta{}, fmt.Errorf("decode: %w", err)
		}
		delta.NodesToReset[entry.NodeID] = struct{}{}
	}

	for {
		var nodeHeader nodeDeltaHeaderWire
		if err := dec.Decode(&nodeHeader); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", scuttle.Delta{}, fmt.Errorf("decode: %w", err)
		}

		nd := scuttle.NodeDelta{NodeID: nodeHeader.NodeID}
		for i := 0; i != nodeHeader.Entries; i++ {
			var entry entryWire
			if err := dec.Decode(&entry); err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				return "", scuttle.Delta{}, fmt.Errorf("decode: %w", err)
			}
			nd.Entries = append(nd.Entries, scuttle.Entry{
				Key: entry.Key,
				Value: scuttle.VersionedValue{
					Value:     entry.Value,
					Version:   entry.Version,
					Tombstone: entry.Tombstone,
				},
			})
		}

		delta.NodeDeltas = append(delta.NodeDeltas, nd)
	}

	return header.NodeID, delta, nil
}

func checkFrame(r *bytes.Buffer, want messageType) error {
	firstByte, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	got := messageType(firstByte)
	if got != want {
		return fmt.Errorf("incorrect message type: %s", got)
	}
	version, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if version != supportedVersion {
		return fmt.Errorf("unsupported version: %d", version)
	}
	return nil
}
