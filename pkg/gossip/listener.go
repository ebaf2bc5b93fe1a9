package gossip

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/quoin-dev/scuttle/pkg/log"
	"github.com/quoin-dev/scuttle/pkg/scuttle"
)

// streamMaxPacketSize bounds replies sent over an already-established TCP
// connection, where there's no link MTU to respect; it just needs to be
// comfortably larger than any cluster's full state.
const streamMaxPacketSize = 1 << 30

// streamListener listens for incoming stream connections and reads messages
// from those connections.
type streamListener struct {
	state *clusterState

	ln net.Listener

	streamTimeout time.Duration

	metrics *Metrics

	logger log.Logger
}

func newStreamListener(
	ln net.Listener,
	state *clusterState,
	streamTimeout time.Duration,
	metrics *Metrics,
	logger log.Logger,
) *streamListener {
	return &streamListener{
		ln:            ln,
		state:         state,
		streamTimeout: streamTimeout,
		metrics:       metrics,
		logger:        logger,
	}
}

// Serve accepts connections until the listener is closed.
func (l *streamListener) Serve() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Warn("failed to accept connection", zap.Error(err))
			continue
		}

		l.logger.Debug(
			"accepted conn",
			zap.String("addr", conn.RemoteAddr().String()),
		)

		l.metrics.ConnectionsInbound.Inc()

		go func() {
			if err := l.handleConn(conn); err != nil {
				l.logger.Warn(
					"failed to handle connection",
					zap.String("addr", conn.RemoteAddr().String()),
					zap.Error(err),
				)
			}
		}()
	}
}

func (l *streamListener) Close() error {
	return l.ln.Close()
}

func (l *streamListener) handleConn(conn net.Conn) error {
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(l.streamTimeout))

	trackedReader := newTrackedReader(conn)
	defer func() {
		l.metrics.StreamBytesInbound.Add(float64(trackedReader.NumBytesRead()))
	}()

	trackedWriter := newTrackedWriter(conn)
	defer func() {
		l.metrics.StreamBytesOutbound.Add(float64(trackedWriter.NumBytesWritten()))
	}()

	r := bufio.NewReader(trackedReader)
	w := bufio.NewWriter(trackedWriter)

	firstByte, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	msgType := messageType(firstByte)

	version, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if version != supportedVersion {
		return fmt.Errorf("unsupported version: %d", version)
	}

	switch msgType {
	case messageTypeJoin:
		return l.join(r, w)
	case messageTypeLeave:
		return l.leave(r, w)
	default:
		return fmt.Errorf("unsupported message type: %d", msgType)
	}
}

func (l *streamListener) join(r io.Reader, w *bufio.Writer) error {
	dec := newDecoder(r)
	var header joinHeader
	if err := dec.Decode(&header); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	var delta scuttle.Delta
	if err := dec.Decode(&delta); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	var digest scuttle.Digest
	if err := dec.Decode(&digest); err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	l.state.ApplyDelta(delta)
	l.state.ApplyDigest(digest)

	localMeta := l.state.LocalNodeMetadata()
	enc := newEncoder(w)
	if err := enc.Encode(&joinHeader{NodeID: scuttle.NodeID(localMeta.ID)}); err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	reply := l.state.Delta(digest, streamMaxPacketSize)
	if err := enc.Encode(&reply); err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	return nil
}

func (l *streamListener) leave(r io.Reader, w *bufio.Writer) error {
	dec := newDecoder(r)
	var header leaveHeader
	if err := dec.Decode(&header); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	var delta scuttle.Delta
	if err := dec.Decode(&delta); err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	l.state.ApplyDelta(delta)

	localMeta := l.state.LocalNodeMetadata()
	enc := newEncoder(w)
	if err := enc.Encode(&leaveHeader{NodeID: scuttle.NodeID(localMeta.ID)}); err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	return nil
}

// packetListener listens for and handles incoming packets.
type packetListener struct {
	state *clusterState

	failureDetector failureDetector

	ln net.PacketConn

	readBuf []byte

	maxPacketSize int

	metrics *Metrics

	logger log.Logger
}

func newPacketListener(
	ln net.PacketConn,
	state *clusterState,
	failureDetector failureDetector,
	maxPacketSize int,
	metrics *Metrics,
	logger log.Logger,
) *packetListener {
	return &packetListener{
		ln:              ln,
		state:           state,
		failureDetector: failureDetector,
		readBuf:         make([]byte, maxPacketSize),
		maxPacketSize:   maxPacketSize,
		metrics:         metrics,
		logger:          logger,
	}
}

func (l *packetListener) Serve() {
	for {
		n, addr, err := l.ln.ReadFrom(l.readBuf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Warn("failed to read packet", zap.Error(err))
			continue
		}

		l.metrics.PacketBytesInbound.Add(float64(n))

		buf := make([]byte, n)
		copy(buf, l.readBuf[:n])
		if err = l.handlePacket(buf, addr); err != nil {
			l.logger.Warn(
				"failed to handle packet",
				zap.String("addr", addr.String()),
				zap.Error(err),
			)
		}
	}
}

func (l *packetListener) Close() error {
	return l.ln.Close()
}

func (l *packetListener) handlePacket(b []byte, from net.Addr) error {
	r := bytes.NewBuffer(b)

	firstByte, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	msgType := messageType(firstByte)

	version, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if version != supportedVersion {
		return fmt.Errorf("unsupported version: %d", version)
	}

	switch msgType {
	case messageTypeDigest:
		return l.digest(b, from)
	case messageTypeDelta:
		return l.delta(b)
	default:
		return fmt.Errorf("unsupported message type: %d", msgType)
	}
}

func (l *packetListener) digest(b []byte, from net.Addr) error {
	header, digest, err := decodeDigest(b)
	if err != nil {
		return err
	}

	l.metrics.DigestEntriesInbound.Add(float64(len(digest)))

	// Discover any unknown nodes from the digest.
	l.state.ApplyDigest(digest)

	delta := l.state.Delta(digest, l.maxPacketSize)
	if err := l.sendDelta(delta, from); err != nil {
		return fmt.Errorf("send delta: %w", err)
	}

	// If the digest was a request, send our own digest response.
	if header.Request {
		if err := l.sendDigest(l.state.Digest(), from, false); err != nil {
			return fmt.Errorf("send digest: %w", err)
		}
	}

	return nil
}

func (l *packetListener) delta(b []byte) error {
	senderID, delta, err := decodeDelta(b)
	if err != nil {
		return err
	}

	l.failureDetector.Report(string(senderID))

	entries := 0
	for _, nd := range delta.NodeDeltas {
		entries += len(nd.Entries)
	}
	l.metrics.DeltaEntriesInbound.Add(float64(entries))

	l.state.ApplyDelta(delta)

	return nil
}

// sendDelta writes entries from the given delta upto the packet size limit.
func (l *packetListener) sendDelta(delta scuttle.Delta, addr net.Addr) error {
	localID := scuttle.NodeID(l.state.LocalNodeMetadata().ID)

	order := make([]scuttle.NodeID, 0, len(delta.NodeDeltas))
	for _, nd := range delta.NodeDeltas {
		order = append(order, nd.NodeID)
	}

	b, err := encodeDelta(localID, delta, order, l.maxPacketSize)
	if err != nil {
		return err
	}

	if _, err = l.ln.WriteTo(b, addr); err != nil {
		return fmt.Errorf("write packet: %s: %w", addr, err)
	}

	entries := 0
	for _, nd := range delta.NodeDeltas {
		entries += len(nd.Entries)
	}
	l.metrics.DeltaEntriesOutbound.Add(float64(entries))
	l.metrics.PacketBytesOutbound.Add(float64(len(b)))

	return nil
}

func (l *packetListener) sendDigest(digest scuttle.Digest, addr net.Addr, request bool) error {
	localID := scuttle.NodeID(l.state.LocalNodeMetadata().ID)

	order := make([]scuttle.NodeID, 0, len(digest))
	for id := range digest {
		order = append(order, id)
	}
	// Shuffle since under MTU pressure we may not send every entry.
	rand.Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})

	header := digestHeader{NodeID: localID, Request: request}
	b, err := encodeDigest(header, digest, order, l.maxPacketSize)
	if err != nil {
		return err
	}

	if _, err = l.ln.WriteTo(b, addr); err != nil {
		return fmt.Errorf("write packet: %s: %w", addr, err)
	}

	l.metrics.DigestEntriesOutbound.Add(float64(len(digest)))
	l.metrics.PacketBytesOutbound.Add(float64(len(b)))

	return nil
}
