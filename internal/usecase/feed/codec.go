package feed

import (
	"bytes"

	"github.com/muhammadchandra19/feedhandler/internal/buffer"
	marketdatav1 "github.com/muhammadchandra19/feedhandler/internal/domain/marketdata/v1"
	"github.com/muhammadchandra19/feedhandler/internal/protocol"
)

// DecodeStatus is the outcome of one Decode attempt.
type DecodeStatus uint8

const (
	// DecodeNeedMore means no complete message is buffered yet.
	DecodeNeedMore DecodeStatus = iota
	// DecodeOK means one message was consumed and returned.
	DecodeOK
	// DecodeSkip means input was consumed but yielded no message: a bad text
	// line, or a frame kind the pipeline ignores.
	DecodeSkip
)

// Codec drains at most one message per call from the reassembly buffer. The
// reader is parameterised by this capability instead of branching on the
// protocol per frame. A non-nil error is a fatal framing violation.
type Codec interface {
	Decode(ring *buffer.Ring, recvNs uint64) (marketdatav1.TimedMessage, DecodeStatus, error)
	// Sequenced reports whether decoded messages carry source-assigned
	// sequence numbers worth tracking.
	Sequenced() bool
}

// binaryCodec frames the length-prefixed binary protocol.
type binaryCodec struct {
	now   func() uint64
	hdr   [protocol.HeaderSize]byte
	frame [protocol.HeaderSize + protocol.MaxPayloadSize]byte
}

func newBinaryCodec(now func() uint64) *binaryCodec {
	return &binaryCodec{now: now}
}

func (c *binaryCodec) Sequenced() bool { return true }

func (c *binaryCodec) Decode(ring *buffer.Ring, recvNs uint64) (marketdatav1.TimedMessage, DecodeStatus, error) {
	var msg marketdatav1.TimedMessage

	if !ring.PeekBytes(c.hdr[:]) {
		return msg, DecodeNeedMore, nil
	}

	header, err := protocol.DecodeHeader(c.hdr[:])
	if err != nil {
		return msg, DecodeSkip, err
	}
	if err := header.Validate(); err != nil {
		return msg, DecodeSkip, err
	}

	total := protocol.HeaderSize + int(header.Length)
	if ring.Available() < total {
		return msg, DecodeNeedMore, nil
	}

	frame := c.frame[:total]
	ring.ReadBytes(frame)
	payload := frame[protocol.HeaderSize:]
	parseNs := c.now()

	msg.Sequence = header.Sequence
	msg.RecvTimestampNs = recvNs
	msg.ParseTimestampNs = parseNs

	switch header.Type {
	case protocol.MessageTypeTick, protocol.MessageTypeRetransmitResponse:
		tick, err := protocol.DecodeTickPayload(payload)
		if err != nil {
			return msg, DecodeSkip, err
		}
		msg.Kind = marketdatav1.EventTick
		msg.Tick = tick

	case protocol.MessageTypeHeartbeat:
		ts, err := protocol.DecodeHeartbeatPayload(payload)
		if err != nil {
			return msg, DecodeSkip, err
		}
		msg.Kind = marketdatav1.EventHeartbeat
		msg.Tick.Timestamp = ts

	case protocol.MessageTypeOrderBookUpdate:
		update, err := protocol.DecodeOrderBookUpdatePayload(payload)
		if err != nil {
			return msg, DecodeSkip, err
		}
		msg.Kind = marketdatav1.EventBookUpdate
		msg.Update = update

	case protocol.MessageTypeSnapshotResponse:
		snap, err := protocol.DecodeSnapshotResponsePayload(payload)
		if err != nil {
			return msg, DecodeSkip, err
		}
		msg.Kind = marketdatav1.EventSnapshot
		msg.Snapshot = &snap

	default:
		// SNAPSHOT_REQUEST and RETRANSMIT_REQUEST are client-to-server; a
		// well-formed one arriving inbound is consumed and ignored.
		return msg, DecodeSkip, nil
	}

	return msg, DecodeOK, nil
}

// maxTextLine bounds a single text record. Each run of maxTextLine bytes
// without a newline is discarded and counted as one parse error; decoding
// resumes right after it, so the rest of an over-long line is decoded as a
// line of its own.
const maxTextLine = 1024

// textCodec frames the newline-delimited text protocol.
type textCodec struct {
	now     func() uint64
	scratch [maxTextLine]byte
}

func newTextCodec(now func() uint64) *textCodec {
	return &textCodec{now: now}
}

func (c *textCodec) Sequenced() bool { return false }

func (c *textCodec) Decode(ring *buffer.Ring, recvNs uint64) (marketdatav1.TimedMessage, DecodeStatus, error) {
	var msg marketdatav1.TimedMessage

	avail := ring.Available()
	if avail == 0 {
		return msg, DecodeNeedMore, nil
	}

	n := avail
	if n > len(c.scratch) {
		n = len(c.scratch)
	}
	ring.PeekBytes(c.scratch[:n])

	idx := bytes.IndexByte(c.scratch[:n], '\n')
	if idx < 0 {
		if n == len(c.scratch) {
			// No newline within the line bound; discard and count one error.
			ring.Consume(n)
			return msg, DecodeSkip, nil
		}
		return msg, DecodeNeedMore, nil
	}

	line := string(c.scratch[:idx])
	ring.Consume(idx + 1)
	parseNs := c.now()

	tick, err := protocol.ParseTextTick(line)
	if err != nil {
		return msg, DecodeSkip, nil
	}

	msg.Kind = marketdatav1.EventTick
	msg.Tick = tick
	msg.RecvTimestampNs = recvNs
	msg.ParseTimestampNs = parseNs
	return msg, DecodeOK, nil
}
