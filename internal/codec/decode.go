package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Header is the decoded 8-byte message header.
type Header struct {
	BlockLength uint16
	TemplateID  uint16
	SchemaID    uint16
	Version     uint16
}

// OrderBookSnapshot is the decoded form of an OrderBookSnapshot message.
type OrderBookSnapshot struct {
	TimestampNanos uint64
	Bids           []Level
	Asks           []Level
	Symbol         string
}

// TradeSignal is the decoded form of a TradeSignal message.
type TradeSignal struct {
	TimestampNanos uint64
	Action         TradeAction
	Price          float64
	Qty            float64
	Symbol         string
}

// Order is the decoded form of an Order message.
type Order struct {
	TimestampNanos uint64
	Price          float64
	Qty            float64
	IsActive       bool
	OrderID        string
	Symbol         string
	Side           string
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return fmt.Errorf("codec: truncated message, need %d bytes at offset %d of %d", n, r.pos, len(r.buf))
	}
	return nil
}

func (r *reader) uint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) uint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) uint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) float64() (float64, error) {
	v, err := r.uint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

func (r *reader) string() (string, error) {
	n, err := r.uint16()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

func (r *reader) levelGroup() ([]Level, error) {
	groupBlockLen, err := r.uint16()
	if err != nil {
		return nil, err
	}
	count, err := r.uint16()
	if err != nil {
		return nil, err
	}
	if groupBlockLen != 16 {
		return nil, fmt.Errorf("codec: unexpected level group block length %d", groupBlockLen)
	}
	levels := make([]Level, count)
	for i := range levels {
		price, err := r.float64()
		if err != nil {
			return nil, err
		}
		qty, err := r.float64()
		if err != nil {
			return nil, err
		}
		levels[i] = Level{Price: price, Qty: qty}
	}
	return levels, nil
}

// DecodeHeader reads only the 8-byte header, leaving the caller to dispatch
// on TemplateID before decoding the body.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < headerLength {
		return Header{}, fmt.Errorf("codec: message shorter than header (%d bytes)", len(data))
	}
	return Header{
		BlockLength: binary.LittleEndian.Uint16(data[0:2]),
		TemplateID:  binary.LittleEndian.Uint16(data[2:4]),
		SchemaID:    binary.LittleEndian.Uint16(data[4:6]),
		Version:     binary.LittleEndian.Uint16(data[6:8]),
	}, nil
}

// DecodeOrderBookSnapshot decodes a full OrderBookSnapshot message, header
// included.
func DecodeOrderBookSnapshot(data []byte) (OrderBookSnapshot, error) {
	hdr, err := DecodeHeader(data)
	if err != nil {
		return OrderBookSnapshot{}, err
	}
	if hdr.TemplateID != TemplateOrderBookSnapshot {
		return OrderBookSnapshot{}, fmt.Errorf("codec: expected template %d, got %d", TemplateOrderBookSnapshot, hdr.TemplateID)
	}

	r := &reader{buf: data, pos: headerLength}
	ts, err := r.uint64()
	if err != nil {
		return OrderBookSnapshot{}, err
	}
	if _, err := r.uint16(); err != nil { // bid_count (redundant with group count; kept for frame compatibility)
		return OrderBookSnapshot{}, err
	}
	if _, err := r.uint16(); err != nil { // ask_count
		return OrderBookSnapshot{}, err
	}
	bids, err := r.levelGroup()
	if err != nil {
		return OrderBookSnapshot{}, err
	}
	asks, err := r.levelGroup()
	if err != nil {
		return OrderBookSnapshot{}, err
	}
	symbol, err := r.string()
	if err != nil {
		return OrderBookSnapshot{}, err
	}

	return OrderBookSnapshot{TimestampNanos: ts, Bids: bids, Asks: asks, Symbol: symbol}, nil
}

// DecodeTradeSignal decodes a full TradeSignal message, header included.
func DecodeTradeSignal(data []byte) (TradeSignal, error) {
	hdr, err := DecodeHeader(data)
	if err != nil {
		return TradeSignal{}, err
	}
	if hdr.TemplateID != TemplateTradeSignal {
		return TradeSignal{}, fmt.Errorf("codec: expected template %d, got %d", TemplateTradeSignal, hdr.TemplateID)
	}

	r := &reader{buf: data, pos: headerLength}
	ts, err := r.uint64()
	if err != nil {
		return TradeSignal{}, err
	}
	action, err := r.uint8()
	if err != nil {
		return TradeSignal{}, err
	}
	price, err := r.float64()
	if err != nil {
		return TradeSignal{}, err
	}
	qty, err := r.float64()
	if err != nil {
		return TradeSignal{}, err
	}
	symbol, err := r.string()
	if err != nil {
		return TradeSignal{}, err
	}

	return TradeSignal{TimestampNanos: ts, Action: TradeAction(action), Price: price, Qty: qty, Symbol: symbol}, nil
}

// DecodeOrder decodes a full Order message, header included.
func DecodeOrder(data []byte) (Order, error) {
	hdr, err := DecodeHeader(data)
	if err != nil {
		return Order{}, err
	}
	if hdr.TemplateID != TemplateOrder {
		return Order{}, fmt.Errorf("codec: expected template %d, got %d", TemplateOrder, hdr.TemplateID)
	}

	r := &reader{buf: data, pos: headerLength}
	ts, err := r.uint64()
	if err != nil {
		return Order{}, err
	}
	price, err := r.float64()
	if err != nil {
		return Order{}, err
	}
	qty, err := r.float64()
	if err != nil {
		return Order{}, err
	}
	activeByte, err := r.uint8()
	if err != nil {
		return Order{}, err
	}
	orderID, err := r.string()
	if err != nil {
		return Order{}, err
	}
	symbol, err := r.string()
	if err != nil {
		return Order{}, err
	}
	side, err := r.string()
	if err != nil {
		return Order{}, err
	}

	return Order{
		TimestampNanos: ts,
		Price:          price,
		Qty:            qty,
		IsActive:       activeByte != 0,
		OrderID:        orderID,
		Symbol:         symbol,
		Side:           side,
	}, nil
}
