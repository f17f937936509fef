// Package book implements the lock-free top-of-book depth store (spec C1)
// and the symbol registry that owns one book per traded instrument (C2).
package book

import "sync/atomic"

// MaxLevels is the fixed ladder depth (K in spec §3).
const MaxLevels = 10

// Level is a single (price, quantity) pair of the order book.
type Level struct {
	Price float64
	Qty   float64
}

// Book is a fixed-depth bid/ask ladder with a single writer per side and
// any number of concurrent readers. The atomic counts are the publication
// point: a reader observing count=n is guaranteed to see the n levels
// written before that count was stored (release/acquire discipline).
//
// The backing arrays are plain Go arrays, not atomics — correctness relies
// entirely on the count store/load pair acting as the memory barrier, same
// as the source OrderBook's std::memory_order_release/acquire pair.
type Book struct {
	bids [MaxLevels]Level
	asks [MaxLevels]Level

	bidCount atomic.Int32
	askCount atomic.Int32

	updateID atomic.Uint64
}

// New returns an empty depth book.
func New() *Book {
	return &Book{}
}

// UpdateBids replaces the bid ladder with up to MaxLevels levels from the
// feed. The feed is assumed to deliver an already-sorted top-K replacement;
// the book does not re-sort.
func (b *Book) UpdateBids(levels []Level) {
	n := len(levels)
	if n > MaxLevels {
		n = MaxLevels
	}
	for i := 0; i < n; i++ {
		b.bids[i] = levels[i]
	}
	b.bidCount.Store(int32(n))
}

// UpdateAsks replaces the ask ladder with up to MaxLevels levels.
func (b *Book) UpdateAsks(levels []Level) {
	n := len(levels)
	if n > MaxLevels {
		n = MaxLevels
	}
	for i := 0; i < n; i++ {
		b.asks[i] = levels[i]
	}
	b.askCount.Store(int32(n))
}

// BestBid returns the top bid level. ok is false when the book is empty or
// the level is defensively invalid (non-positive price or quantity).
func (b *Book) BestBid() (level Level, ok bool) {
	if b.bidCount.Load() == 0 {
		return Level{}, false
	}
	lvl := b.bids[0]
	if lvl.Price <= 0 || lvl.Qty <= 0 {
		return Level{}, false
	}
	return lvl, true
}

// BestAsk returns the top ask level, with the same validity rules as BestBid.
func (b *Book) BestAsk() (level Level, ok bool) {
	if b.askCount.Load() == 0 {
		return Level{}, false
	}
	lvl := b.asks[0]
	if lvl.Price <= 0 || lvl.Qty <= 0 {
		return Level{}, false
	}
	return lvl, true
}

// FairPrice returns the bid/ask midpoint, but only when a strictly positive
// spread exists (bid < ask).
func (b *Book) FairPrice() (float64, bool) {
	bid, ok := b.BestBid()
	if !ok {
		return 0, false
	}
	ask, ok := b.BestAsk()
	if !ok {
		return 0, false
	}
	if bid.Price >= ask.Price {
		return 0, false
	}
	return (bid.Price + ask.Price) / 2, true
}

// SnapshotBids copies up to n levels (capped by the current count) into a
// freshly allocated slice, for slow-path consumers such as the codec.
func (b *Book) SnapshotBids(n int) []Level {
	return b.snapshot(b.bids[:], int(b.bidCount.Load()), n)
}

// SnapshotAsks copies up to n levels (capped by the current count).
func (b *Book) SnapshotAsks(n int) []Level {
	return b.snapshot(b.asks[:], int(b.askCount.Load()), n)
}

func (b *Book) snapshot(src []Level, count, n int) []Level {
	if n > count {
		n = count
	}
	if n <= 0 {
		return nil
	}
	out := make([]Level, n)
	copy(out, src[:n])
	return out
}

// BumpUpdate increments the monotone update counter. Callers invoke this
// once per applied mutation (spec §3: update_id strictly increases by one
// per applied mutation).
func (b *Book) BumpUpdate() {
	b.updateID.Add(1)
}

// UpdateCount returns the current update counter for staleness checks. It is
// a relaxed read — it carries no ordering guarantee relative to the ladder
// contents, only relative to itself (strictly monotone).
func (b *Book) UpdateCount() uint64 {
	return b.updateID.Load()
}
