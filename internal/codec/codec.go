// Package codec implements the compact length-prefixed binary wire format
// (spec C4), modeled on the original system's SBE (Simple Binary Encoding)
// framing: an 8-byte header followed by a fixed block, then any repeating
// groups or length-prefixed variable-length fields.
package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Template ids, matching spec §4.3 and the original generated SBE schema.
const (
	TemplateOrderBookSnapshot uint16 = 2
	TemplateTradeSignal       uint16 = 3
	TemplateOrder             uint16 = 4
)

// SchemaID and SchemaVersion are fixed for this wire format.
const (
	SchemaID      uint16 = 1
	SchemaVersion uint16 = 0
)

const headerLength = 8

// Level mirrors book.Level without importing the book package, so the codec
// has no dependency on the in-memory depth store's representation.
type Level struct {
	Price float64
	Qty   float64
}

// Encoder is a growable byte buffer with a write cursor. It is reset before
// each encode call so a single instance can be reused across calls on the
// hot path without further allocation once its backing array has grown to
// a steady-state size.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an encoder with a pre-sized backing buffer.
func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, 512)}
}

// Data returns the encoded payload produced by the most recent Encode* call.
func (e *Encoder) Data() []byte { return e.buf }

// Size returns the length of the encoded payload.
func (e *Encoder) Size() int { return len(e.buf) }

func (e *Encoder) reset() {
	e.buf = e.buf[:0]
}

func (e *Encoder) writeHeader(blockLength, templateID uint16) {
	var hdr [headerLength]byte
	binary.LittleEndian.PutUint16(hdr[0:2], blockLength)
	binary.LittleEndian.PutUint16(hdr[2:4], templateID)
	binary.LittleEndian.PutUint16(hdr[4:6], SchemaID)
	binary.LittleEndian.PutUint16(hdr[6:8], SchemaVersion)
	e.buf = append(e.buf, hdr[:]...)
}

func (e *Encoder) writeUint8(v uint8) {
	e.buf = append(e.buf, v)
}

func (e *Encoder) writeUint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *Encoder) writeUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *Encoder) writeFloat64(v float64) {
	e.writeUint64(math.Float64bits(v))
}

// writeString appends a u16 length prefix followed by the raw bytes. The
// caller guarantees len(s) fits in a uint16; this is a precondition, not a
// returned error: a longer string panics rather than being truncated,
// because the codec must never truncate a string silently (spec §4.3).
func (e *Encoder) writeString(s string) {
	if len(s) > math.MaxUint16 {
		panic(fmt.Sprintf("codec: string of length %d does not fit u16 length prefix", len(s)))
	}
	e.writeUint16(uint16(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *Encoder) writeLevelGroup(levels []Level) {
	const groupBlockLen = 16 // price:f64 + qty:f64
	e.writeUint16(groupBlockLen)
	e.writeUint16(uint16(len(levels)))
	for _, lvl := range levels {
		e.writeFloat64(lvl.Price)
		e.writeFloat64(lvl.Qty)
	}
}

// EncodeOrderBookSnapshot encodes an OrderBookSnapshot message (template 2):
// timestamp, bid/ask counts, two repeating level groups, then the symbol.
func (e *Encoder) EncodeOrderBookSnapshot(timestampNanos uint64, bids, asks []Level, symbol string) {
	e.reset()
	const blockLength = 8 + 2 + 2 // timestamp:u64, bid_count:u16, ask_count:u16
	e.writeHeader(blockLength, TemplateOrderBookSnapshot)
	e.writeUint64(timestampNanos)
	e.writeUint16(uint16(len(bids)))
	e.writeUint16(uint16(len(asks)))
	e.writeLevelGroup(bids)
	e.writeLevelGroup(asks)
	e.writeString(symbol)
}

// TradeAction enumerates the TradeSignal action byte.
type TradeAction uint8

const (
	TradeActionBuy TradeAction = iota
	TradeActionSell
)

// EncodeTradeSignal encodes a TradeSignal message (template 3).
func (e *Encoder) EncodeTradeSignal(timestampNanos uint64, action TradeAction, price, qty float64, symbol string) {
	e.reset()
	const blockLength = 8 + 1 + 8 + 8 // timestamp:u64, action:u8, price:f64, qty:f64
	e.writeHeader(blockLength, TemplateTradeSignal)
	e.writeUint64(timestampNanos)
	e.writeUint8(uint8(action))
	e.writeFloat64(price)
	e.writeFloat64(qty)
	e.writeString(symbol)
}

// EncodeOrder encodes an Order message (template 4): fixed block followed by
// three length-prefixed strings (order_id, symbol, side).
func (e *Encoder) EncodeOrder(timestampNanos uint64, price, qty float64, isActive bool, orderID, symbol, side string) {
	e.reset()
	const blockLength = 8 + 8 + 8 + 1 // timestamp:u64, price:f64, qty:f64, is_active:u8
	e.writeHeader(blockLength, TemplateOrder)
	e.writeUint64(timestampNanos)
	e.writeFloat64(price)
	e.writeFloat64(qty)
	if isActive {
		e.writeUint8(1)
	} else {
		e.writeUint8(0)
	}
	e.writeString(orderID)
	e.writeString(symbol)
	e.writeString(side)
}
