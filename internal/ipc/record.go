package ipc

import "fmt"

// Field widths for the recovery buffer's fixed-width record layout. The
// wire codec uses length-prefixed strings; this layout does not, because it
// must be shareable with peers that cannot dereference pointers (spec
// §4.4, §7) — so OrderID/Symbol/Side are stored as fixed-width byte arrays
// rather than Go strings.
const (
	MaxOrderIDLen = 64
	MaxSymbolLen  = 16
	MaxSideLen    = 8
)

// Side enumerates the fixed set of order sides.
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// OrderRecord is an active order as tracked by the in-process recovery
// buffer. OrderID/Symbol/Side are fixed-width byte arrays, matching the
// original's char order_id[64] shared-memory layout, rather than indirect
// Go strings. Use NewOrderRecord to pack a record from plain strings.
type OrderRecord struct {
	OrderID        [MaxOrderIDLen]byte
	Symbol         [MaxSymbolLen]byte
	Side           [MaxSideLen]byte
	Price          float64
	Quantity       float64
	TimestampNanos uint64
	IsActive       bool
}

// NewOrderRecord packs orderID/symbol/side into their fixed-width fields,
// failing if any value exceeds its bound rather than silently truncating it.
func NewOrderRecord(orderID, symbol string, side Side, price, quantity float64, timestampNanos uint64, isActive bool) (OrderRecord, error) {
	r := OrderRecord{
		Price:          price,
		Quantity:       quantity,
		TimestampNanos: timestampNanos,
		IsActive:       isActive,
	}
	if err := putFixed(r.OrderID[:], orderID); err != nil {
		return OrderRecord{}, fmt.Errorf("ipc: order_id %q exceeds %d bytes", orderID, MaxOrderIDLen)
	}
	if err := putFixed(r.Symbol[:], symbol); err != nil {
		return OrderRecord{}, fmt.Errorf("ipc: symbol %q exceeds %d bytes", symbol, MaxSymbolLen)
	}
	if err := putFixed(r.Side[:], string(side)); err != nil {
		return OrderRecord{}, fmt.Errorf("ipc: side %q exceeds %d bytes", side, MaxSideLen)
	}
	return r, nil
}

func putFixed(dst []byte, s string) error {
	if len(s) > len(dst) {
		return fmt.Errorf("value %q exceeds %d bytes", s, len(dst))
	}
	copy(dst, s)
	return nil
}

func fixedString(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

// OrderIDString returns the order id as a plain string, trimmed at the
// first zero byte.
func (r OrderRecord) OrderIDString() string { return fixedString(r.OrderID[:]) }

// SymbolString returns the symbol as a plain string, trimmed at the first
// zero byte.
func (r OrderRecord) SymbolString() string { return fixedString(r.Symbol[:]) }

// SideString returns the side as a plain string, trimmed at the first zero
// byte.
func (r OrderRecord) SideString() Side { return Side(fixedString(r.Side[:])) }
