// Package protocol implements the framed binary wire codec and the
// newline-delimited text codec. All multi-byte integers and the 32-bit bit
// pattern underlying prices are big-endian on the wire; host byte order is
// never assumed.
package protocol

import (
	"encoding/binary"
	"errors"
	"math"

	marketdatav1 "github.com/muhammadchandra19/feedhandler/internal/domain/marketdata/v1"
)

// MessageType is the kind discriminator in a frame header.
type MessageType uint8

// Recognised message types. Any other value is a fatal framing error.
const (
	MessageTypeTick               MessageType = 0x01
	MessageTypeOrderBookUpdate    MessageType = 0x02
	MessageTypeSnapshotRequest    MessageType = 0x10
	MessageTypeSnapshotResponse   MessageType = 0x11
	MessageTypeRetransmitRequest  MessageType = 0x20
	MessageTypeRetransmitResponse MessageType = 0x21
	MessageTypeHeartbeat          MessageType = 0xFF
)

// Wire sizes in bytes.
const (
	// HeaderSize is length(u32) + type(u8) + sequence(u64).
	HeaderSize = 13

	TickPayloadSize              = 20
	HeartbeatPayloadSize         = 8
	SnapshotRequestPayloadSize   = 4
	OrderBookUpdatePayloadSize   = 17
	RetransmitRequestPayloadSize = 16
	// SnapshotResponseMinSize is symbol(4) + n_bids(1) + n_asks(1).
	SnapshotResponseMinSize = 6
	// LevelSize is price(f32) + quantity(u64).
	LevelSize = 12

	// MaxPayloadSize bounds the declared payload length of any frame. A
	// larger value invalidates the connection.
	MaxPayloadSize = 1024

	symbolSize = 4
)

// Framing errors.
var (
	ErrTruncated         = errors.New("protocol: truncated message")
	ErrUnknownType       = errors.New("protocol: unknown message type")
	ErrLengthMismatch    = errors.New("protocol: payload length mismatched against message type")
	ErrPayloadTooLarge   = errors.New("protocol: declared payload length out of range")
	ErrMalformedSnapshot = errors.New("protocol: snapshot level count does not match declared length")
)

// Header is the 13-byte frame prefix.
type Header struct {
	Length   uint32
	Type     MessageType
	Sequence uint64
}

// Known reports whether t is one of the recognised message types.
func (t MessageType) Known() bool {
	switch t {
	case MessageTypeTick, MessageTypeOrderBookUpdate,
		MessageTypeSnapshotRequest, MessageTypeSnapshotResponse,
		MessageTypeRetransmitRequest, MessageTypeRetransmitResponse,
		MessageTypeHeartbeat:
		return true
	}
	return false
}

// fixedPayloadSize returns the required payload size for fixed-size message
// types, or -1 for variable-size types.
func (t MessageType) fixedPayloadSize() int {
	switch t {
	case MessageTypeTick, MessageTypeRetransmitResponse:
		return TickPayloadSize
	case MessageTypeHeartbeat:
		return HeartbeatPayloadSize
	case MessageTypeSnapshotRequest:
		return SnapshotRequestPayloadSize
	case MessageTypeOrderBookUpdate:
		return OrderBookUpdatePayloadSize
	case MessageTypeRetransmitRequest:
		return RetransmitRequestPayloadSize
	default:
		return -1
	}
}

// AppendHeader appends the 13-byte header to dst and returns the extended
// slice.
func AppendHeader(dst []byte, t MessageType, sequence uint64, payloadLen uint32) []byte {
	var hdr [HeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], payloadLen)
	hdr[4] = byte(t)
	binary.BigEndian.PutUint64(hdr[5:13], sequence)
	return append(dst, hdr[:]...)
}

// DecodeHeader decodes a header from the first 13 bytes of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrTruncated
	}
	return Header{
		Length:   binary.BigEndian.Uint32(b[0:4]),
		Type:     MessageType(b[4]),
		Sequence: binary.BigEndian.Uint64(b[5:13]),
	}, nil
}

// Validate checks the header against the framing rules: recognised type,
// declared length in range, and fixed-size payloads matching their type.
func (h Header) Validate() error {
	if h.Length > MaxPayloadSize {
		return ErrPayloadTooLarge
	}
	if !h.Type.Known() {
		return ErrUnknownType
	}
	if fixed := h.Type.fixedPayloadSize(); fixed >= 0 && int(h.Length) != fixed {
		return ErrLengthMismatch
	}
	if h.Type == MessageTypeSnapshotResponse && h.Length < SnapshotResponseMinSize {
		return ErrLengthMismatch
	}
	return nil
}

// packSymbol right-pads s with zero bytes into a fixed 4-byte field. Symbols
// longer than 4 bytes are truncated.
func packSymbol(dst []byte, s string) {
	n := copy(dst[:symbolSize], s)
	for i := n; i < symbolSize; i++ {
		dst[i] = 0
	}
}

// unpackSymbol strips the zero padding; a zero byte marks end of symbol.
func unpackSymbol(b []byte) string {
	for i := 0; i < symbolSize; i++ {
		if b[i] == 0 {
			return string(b[:i])
		}
	}
	return string(b[:symbolSize])
}

// EncodeTick produces a complete TICK frame.
func EncodeTick(sequence uint64, tick marketdatav1.Tick) []byte {
	buf := make([]byte, 0, HeaderSize+TickPayloadSize)
	buf = AppendHeader(buf, MessageTypeTick, sequence, TickPayloadSize)

	var payload [TickPayloadSize]byte
	binary.BigEndian.PutUint64(payload[0:8], tick.Timestamp)
	packSymbol(payload[8:12], tick.Symbol)
	binary.BigEndian.PutUint32(payload[12:16], math.Float32bits(float32(tick.Price)))
	binary.BigEndian.PutUint32(payload[16:20], uint32(int32(tick.Volume)))
	return append(buf, payload[:]...)
}

// DecodeTickPayload decodes a TICK payload; it requires exactly 20 bytes.
func DecodeTickPayload(b []byte) (marketdatav1.Tick, error) {
	if len(b) != TickPayloadSize {
		return marketdatav1.Tick{}, ErrTruncated
	}
	return marketdatav1.Tick{
		Timestamp: binary.BigEndian.Uint64(b[0:8]),
		Symbol:    unpackSymbol(b[8:12]),
		Price:     float64(math.Float32frombits(binary.BigEndian.Uint32(b[12:16]))),
		Volume:    int64(int32(binary.BigEndian.Uint32(b[16:20]))),
	}, nil
}

// EncodeHeartbeat produces a complete HEARTBEAT frame.
func EncodeHeartbeat(sequence, timestamp uint64) []byte {
	buf := make([]byte, 0, HeaderSize+HeartbeatPayloadSize)
	buf = AppendHeader(buf, MessageTypeHeartbeat, sequence, HeartbeatPayloadSize)

	var payload [HeartbeatPayloadSize]byte
	binary.BigEndian.PutUint64(payload[:], timestamp)
	return append(buf, payload[:]...)
}

// DecodeHeartbeatPayload decodes a HEARTBEAT payload.
func DecodeHeartbeatPayload(b []byte) (uint64, error) {
	if len(b) != HeartbeatPayloadSize {
		return 0, ErrTruncated
	}
	return binary.BigEndian.Uint64(b), nil
}

// EncodeSnapshotRequest produces a complete SNAPSHOT_REQUEST frame.
func EncodeSnapshotRequest(sequence uint64, symbol string) []byte {
	buf := make([]byte, 0, HeaderSize+SnapshotRequestPayloadSize)
	buf = AppendHeader(buf, MessageTypeSnapshotRequest, sequence, SnapshotRequestPayloadSize)

	var payload [SnapshotRequestPayloadSize]byte
	packSymbol(payload[:], symbol)
	return append(buf, payload[:]...)
}

// DecodeSnapshotRequestPayload decodes a SNAPSHOT_REQUEST payload.
func DecodeSnapshotRequestPayload(b []byte) (string, error) {
	if len(b) != SnapshotRequestPayloadSize {
		return "", ErrTruncated
	}
	return unpackSymbol(b), nil
}

// EncodeSnapshotResponse produces a complete SNAPSHOT_RESPONSE frame.
func EncodeSnapshotResponse(sequence uint64, snap marketdatav1.BookSnapshot) []byte {
	payloadLen := SnapshotResponseMinSize + LevelSize*(len(snap.Bids)+len(snap.Asks))
	buf := make([]byte, 0, HeaderSize+payloadLen)
	buf = AppendHeader(buf, MessageTypeSnapshotResponse, sequence, uint32(payloadLen))

	var sym [symbolSize]byte
	packSymbol(sym[:], snap.Symbol)
	buf = append(buf, sym[:]...)
	buf = append(buf, byte(len(snap.Bids)), byte(len(snap.Asks)))

	var lvl [LevelSize]byte
	for _, l := range snap.Bids {
		binary.BigEndian.PutUint32(lvl[0:4], math.Float32bits(l.Price))
		binary.BigEndian.PutUint64(lvl[4:12], l.Quantity)
		buf = append(buf, lvl[:]...)
	}
	for _, l := range snap.Asks {
		binary.BigEndian.PutUint32(lvl[0:4], math.Float32bits(l.Price))
		binary.BigEndian.PutUint64(lvl[4:12], l.Quantity)
		buf = append(buf, lvl[:]...)
	}
	return buf
}

// DecodeSnapshotResponsePayload decodes a SNAPSHOT_RESPONSE payload. The
// declared level counts must match the payload size exactly.
func DecodeSnapshotResponsePayload(b []byte) (marketdatav1.BookSnapshot, error) {
	if len(b) < SnapshotResponseMinSize {
		return marketdatav1.BookSnapshot{}, ErrTruncated
	}

	nBids := int(b[4])
	nAsks := int(b[5])
	want := SnapshotResponseMinSize + LevelSize*(nBids+nAsks)
	if len(b) != want {
		return marketdatav1.BookSnapshot{}, ErrMalformedSnapshot
	}

	snap := marketdatav1.BookSnapshot{
		Symbol: unpackSymbol(b[0:4]),
		Bids:   make([]marketdatav1.Level, 0, nBids),
		Asks:   make([]marketdatav1.Level, 0, nAsks),
	}

	off := SnapshotResponseMinSize
	for i := 0; i < nBids; i++ {
		snap.Bids = append(snap.Bids, decodeLevel(b[off:off+LevelSize]))
		off += LevelSize
	}
	for i := 0; i < nAsks; i++ {
		snap.Asks = append(snap.Asks, decodeLevel(b[off:off+LevelSize]))
		off += LevelSize
	}
	return snap, nil
}

func decodeLevel(b []byte) marketdatav1.Level {
	return marketdatav1.Level{
		Price:    math.Float32frombits(binary.BigEndian.Uint32(b[0:4])),
		Quantity: binary.BigEndian.Uint64(b[4:12]),
	}
}

// EncodeOrderBookUpdate produces a complete ORDER_BOOK_UPDATE frame.
func EncodeOrderBookUpdate(sequence uint64, u marketdatav1.BookUpdate) []byte {
	buf := make([]byte, 0, HeaderSize+OrderBookUpdatePayloadSize)
	buf = AppendHeader(buf, MessageTypeOrderBookUpdate, sequence, OrderBookUpdatePayloadSize)

	var payload [OrderBookUpdatePayloadSize]byte
	packSymbol(payload[0:4], u.Symbol)
	payload[4] = byte(u.Side)
	binary.BigEndian.PutUint32(payload[5:9], math.Float32bits(u.Price))
	binary.BigEndian.PutUint64(payload[9:17], uint64(u.Quantity))
	return append(buf, payload[:]...)
}

// DecodeOrderBookUpdatePayload decodes an ORDER_BOOK_UPDATE payload.
func DecodeOrderBookUpdatePayload(b []byte) (marketdatav1.BookUpdate, error) {
	if len(b) != OrderBookUpdatePayloadSize {
		return marketdatav1.BookUpdate{}, ErrTruncated
	}
	return marketdatav1.BookUpdate{
		Symbol:   unpackSymbol(b[0:4]),
		Side:     marketdatav1.Side(b[4]),
		Price:    math.Float32frombits(binary.BigEndian.Uint32(b[5:9])),
		Quantity: int64(binary.BigEndian.Uint64(b[9:17])),
	}, nil
}

// EncodeRetransmitRequest produces a complete RETRANSMIT_REQUEST frame for
// the inclusive sequence range [start, end].
func EncodeRetransmitRequest(sequence, start, end uint64) []byte {
	buf := make([]byte, 0, HeaderSize+RetransmitRequestPayloadSize)
	buf = AppendHeader(buf, MessageTypeRetransmitRequest, sequence, RetransmitRequestPayloadSize)

	var payload [RetransmitRequestPayloadSize]byte
	binary.BigEndian.PutUint64(payload[0:8], start)
	binary.BigEndian.PutUint64(payload[8:16], end)
	return append(buf, payload[:]...)
}

// DecodeRetransmitRequestPayload decodes a RETRANSMIT_REQUEST payload into
// its inclusive [start, end] range.
func DecodeRetransmitRequestPayload(b []byte) (start, end uint64, err error) {
	if len(b) != RetransmitRequestPayloadSize {
		return 0, 0, ErrTruncated
	}
	return binary.BigEndian.Uint64(b[0:8]), binary.BigEndian.Uint64(b[8:16]), nil
}
