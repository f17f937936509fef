// Package strategy implements the Martingale-chaser bot: a six-state
// finite state machine driving order entry, chase, stop-loss reversal, and
// position sizing from one symbol's depth book.
package strategy

import (
	"log/slog"
	"sync"
	"time"

	"martingale_chaser/internal/book"
	"martingale_chaser/internal/codec"
	"martingale_chaser/internal/ipc"
	"martingale_chaser/internal/subscription"
	"martingale_chaser/pkg/clientid"
)

const (
	entryOffset       = 0.1
	chaseGrace        = 500 * time.Millisecond
	chaseDrift        = 0.05
	chaseHardTimeout  = 10 * time.Second
	orderTimeout      = 5 * time.Second
	settleDelay       = 500 * time.Millisecond
	heartbeatInterval = 5 * time.Second
	crossedLogPeriod  = 5 * time.Second
	closeCrossBuffer  = 0.001 // 0.1% aggressive close buffer
)

// Trader is the subset of a trade session an Engine needs. trade.Session
// satisfies it directly.
type Trader interface {
	PlaceOrder(symbol, side string, qty, price float64, clientID string, isMaker bool) error
	CancelOrder(symbol, clientID string) error
}

// Params holds the Martingale sizing configuration for one engine.
type Params struct {
	BaseQuantity float64
	MaxStep      int
	ProfitPct    float64
	StopPct      float64
}

// Stats is a snapshot of the engine's running trade statistics.
type Stats struct {
	TotalTrades   int
	WinningTrades int
	TotalProfit   float64
}

// Engine is one Martingale-chaser instance bound to a single symbol. All
// mutable fields are guarded by mu because state transitions are driven
// both by the tick loop and by the trade session's order-update callback,
// which run on different goroutines.
type Engine struct {
	symbol string
	books  *book.Registry
	subs   *subscription.Set
	trader Trader
	pub    *ipc.Publisher
	now    func() time.Time

	params Params

	mu             sync.Mutex
	state          State
	stateEnteredAt time.Time
	entryID        string
	exitID         string
	isShort        bool
	entryPrice     float64
	currentQty     float64
	step           int
	waitingClose   bool
	reversePending bool
	positionFilled bool
	positionSince  time.Time
	lastPnLPercent float64
	lastPnLDollars float64
	stats          Stats

	lastHeartbeat time.Time
	lastCrossLog  time.Time
}

// New constructs an Engine for symbol. It attempts recovery hydration from
// the publisher's recovery buffer before returning.
func New(symbol string, books *book.Registry, subs *subscription.Set, trader Trader, pub *ipc.Publisher, params Params) *Engine {
	e := &Engine{
		symbol:     symbol,
		books:      books,
		subs:       subs,
		trader:     trader,
		pub:        pub,
		now:        time.Now,
		params:     params,
		state:      Idle,
		currentQty: params.BaseQuantity,
	}
	e.reconcileOnStartup()
	return e
}

// State returns the engine's current bot state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Stats returns a snapshot of running trade statistics.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// reconcileOnStartup hydrates InPosition from the recovery buffer if an
// active record exists for this symbol. This is advisory; fills that
// occurred while the process was down must reconcile via subsequent
// execution reports.
func (e *Engine) reconcileOnStartup() {
	rec, ok := e.pub.GetOrder(e.symbol)
	if !ok || !rec.IsActive {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exitID = rec.OrderIDString()
	e.currentQty = rec.Quantity
	e.isShort = rec.SideString() == ipc.SideSell
	e.entryPrice = rec.Price
	e.positionFilled = true
	e.positionSince = e.now()
	e.state = InPosition
	e.stateEnteredAt = e.now()
	slog.Info("strategy recovered position from buffer", "symbol", e.symbol, "side", rec.SideString(), "price", rec.Price, "qty", rec.Quantity)
}

// publishOrder offers symbol's currently active order onto the IPC log as an
// encoded wire message, and stores it in the recovery buffer as the
// in-process record a restarted process would hydrate from. Called on every
// order send so the buffer always reflects whichever order is in flight (spec §2, §4.4).
func (e *Engine) publishOrder(symbol, orderID, side string, qty, price float64) {
	ts := uint64(e.now().UnixNano())
	rec, err := ipc.NewOrderRecord(orderID, symbol, ipc.Side(side), price, qty, ts, true)
	if err != nil {
		slog.Warn("strategy build order record failed", "symbol", symbol, "err", err)
		return
	}
	enc := codec.NewEncoder()
	enc.EncodeOrder(ts, price, qty, true, orderID, symbol, side)
	e.pub.PublishOrder(rec, enc.Data())
}

// Tick runs one cycle of the per-tick procedure.
func (e *Engine) Tick() {
	b, ok := e.validateMarketData()
	if !ok {
		return
	}

	e.heartbeat(b)

	switch e.State() {
	case Idle:
		e.tickIdle(b)
	case Placing, Cancelling:
		e.tickTimeout()
	case Working:
		e.tickWorking(b)
	case InPosition:
		e.tickInPosition(b)
	case Recovering:
		e.tickRecovering()
	}
}

func (e *Engine) validateMarketData() (*book.Book, bool) {
	if !e.subs.Contains(e.symbol) {
		return nil, false
	}
	b, ok := e.books.Get(e.symbol)
	if !ok {
		return nil, false
	}
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return nil, false
	}
	if bid.Price >= ask.Price {
		e.mu.Lock()
		shouldLog := e.now().Sub(e.lastCrossLog) >= crossedLogPeriod
		if shouldLog {
			e.lastCrossLog = e.now()
		}
		e.mu.Unlock()
		if shouldLog {
			slog.Warn("crossed or locked book, pausing", "symbol", e.symbol, "bid", bid.Price, "ask", ask.Price)
		}
		return nil, false
	}
	return b, true
}

func (e *Engine) heartbeat(b *book.Book) {
	e.mu.Lock()
	due := e.now().Sub(e.lastHeartbeat) >= heartbeatInterval
	if due {
		e.lastHeartbeat = e.now()
	}
	filled := e.positionFilled
	pnlPct := e.lastPnLPercent
	pnlUSD := e.lastPnLDollars
	state := e.state
	e.mu.Unlock()

	if !due {
		return
	}
	if filled {
		slog.Info("strategy heartbeat", "symbol", e.symbol, "state", state.String(), "pnl_pct", pnlPct, "pnl_usd", pnlUSD)
	} else {
		slog.Info("strategy heartbeat", "symbol", e.symbol, "state", state.String())
	}
}

// tickIdle computes a maker midpoint entry offset inside the spread toward
// the intended side, clamped so buys stay strictly below best ask and
// sells strictly above best bid, then sends a PostOnly entry.
func (e *Engine) tickIdle(b *book.Book) {
	e.mu.Lock()
	if e.waitingClose {
		e.mu.Unlock()
		return
	}
	isShort := e.isShort
	qty := e.currentQty
	e.mu.Unlock()

	bid, _ := b.BestBid()
	ask, _ := b.BestAsk()
	mid, ok := b.FairPrice()
	if !ok {
		return
	}

	var price float64
	var side string
	if isShort {
		price = mid + entryOffset
		if price <= bid.Price {
			price = bid.Price + 0.01
		}
		if price >= ask.Price {
			price = ask.Price - 0.01
		}
		side = string(SideSell)
	} else {
		price = mid - entryOffset
		if price >= ask.Price {
			price = ask.Price - 0.01
		}
		if price <= bid.Price {
			price = bid.Price + 0.01
		}
		side = string(SideBuy)
	}

	id := clientid.New()
	e.mu.Lock()
	e.entryID = id
	e.entryPrice = price
	e.isShort = isShort
	e.positionFilled = false
	e.state = Placing
	e.stateEnteredAt = e.now()
	e.mu.Unlock()

	slog.Info("strategy sending entry", "symbol", e.symbol, "side", side, "price", price, "qty", qty)
	e.publishOrder(e.symbol, id, side, qty, price)
	if err := e.trader.PlaceOrder(e.symbol, side, qty, price, id, true); err != nil {
		slog.Warn("strategy place entry failed", "symbol", e.symbol, "err", err)
	}
}

// tickTimeout cancels a resting order once the configured timeout has
// elapsed since state entry, resetting the timer so a stuck cancel is
// retried rather than spun on every tick.
func (e *Engine) tickTimeout() {
	e.mu.Lock()
	elapsed := e.now().Sub(e.stateEnteredAt)
	if elapsed < orderTimeout {
		e.mu.Unlock()
		return
	}
	id := e.activeIDLocked()
	e.stateEnteredAt = e.now()
	e.mu.Unlock()

	if id == "" {
		return
	}
	slog.Warn("strategy order timeout, cancelling", "symbol", e.symbol, "client_id", id)
	if err := e.trader.CancelOrder(e.symbol, id); err != nil {
		slog.Warn("strategy cancel on timeout failed", "symbol", e.symbol, "err", err)
	}
}

// activeIDLocked returns whichever of entryID/exitID is currently in
// flight. Caller must hold mu.
func (e *Engine) activeIDLocked() string {
	if e.waitingClose {
		return e.exitID
	}
	return e.entryID
}

// tickWorking chases a resting entry once it has been alive at least
// chaseGrace, cancelling if the opposite side has drifted past our resting
// price, or unconditionally after chaseHardTimeout.
func (e *Engine) tickWorking(b *book.Book) {
	e.mu.Lock()
	elapsed := e.now().Sub(e.stateEnteredAt)
	if elapsed < chaseGrace {
		e.mu.Unlock()
		return
	}
	isShort := e.isShort
	restingPrice := e.entryPrice
	id := e.entryID
	e.mu.Unlock()

	bid, _ := b.BestBid()
	ask, _ := b.BestAsk()

	chaseNeeded := elapsed >= chaseHardTimeout
	if !chaseNeeded {
		if isShort {
			chaseNeeded = ask.Price < restingPrice-chaseDrift
		} else {
			chaseNeeded = bid.Price > restingPrice+chaseDrift
		}
	}
	if !chaseNeeded {
		return
	}

	e.mu.Lock()
	e.state = Cancelling
	e.stateEnteredAt = e.now()
	e.mu.Unlock()

	slog.Info("strategy chasing, cancelling resting entry", "symbol", e.symbol, "client_id", id)
	if err := e.trader.CancelOrder(e.symbol, id); err != nil {
		slog.Warn("strategy chase cancel failed", "symbol", e.symbol, "err", err)
	}
}

// tickInPosition evaluates PnL against the adverse-side price and either
// leaves the resting exit to fill, or breaches stop-loss and closes
// aggressively with a reversal trigger.
func (e *Engine) tickInPosition(b *book.Book) {
	e.mu.Lock()
	if !e.positionFilled || e.now().Sub(e.positionSince) < settleDelay {
		e.mu.Unlock()
		return
	}
	isShort := e.isShort
	entryPrice := e.entryPrice
	qty := e.currentQty
	exitID := e.exitID
	e.mu.Unlock()

	bid, _ := b.BestBid()
	ask, _ := b.BestAsk()
	current := bid.Price
	if isShort {
		current = ask.Price
	}

	var pnlPct float64
	if isShort {
		pnlPct = (entryPrice - current) / entryPrice
	} else {
		pnlPct = (current - entryPrice) / entryPrice
	}
	pnlUSD := pnlPct * entryPrice * qty

	e.mu.Lock()
	e.lastPnLPercent = pnlPct
	e.lastPnLDollars = pnlUSD
	breach := pnlPct <= -e.params.StopPct
	e.mu.Unlock()

	if !breach {
		return
	}

	slog.Warn("strategy stop-loss breach, closing with reversal", "symbol", e.symbol, "pnl_pct", pnlPct)

	if exitID != "" {
		if err := e.trader.CancelOrder(e.symbol, exitID); err != nil {
			slog.Warn("strategy cancel resting exit on stop failed", "symbol", e.symbol, "err", err)
		}
	}

	closeSide := string(SideSell)
	closePrice := bid.Price * (1 - closeCrossBuffer)
	if isShort {
		closeSide = string(SideBuy)
		closePrice = ask.Price * (1 + closeCrossBuffer)
	}

	id := clientid.New()
	e.mu.Lock()
	e.exitID = id
	e.waitingClose = true
	e.reversePending = true
	e.state = Placing
	e.stateEnteredAt = e.now()
	e.mu.Unlock()

	e.publishOrder(e.symbol, id, closeSide, qty, closePrice)
	if err := e.trader.PlaceOrder(e.symbol, closeSide, qty, closePrice, id, false); err != nil {
		slog.Warn("strategy aggressive close failed", "symbol", e.symbol, "err", err)
	}
}

// tickRecovering applies the Martingale step: double the quantity, flip
// direction, and return to Idle for immediate re-entry. If the step bound
// has been reached, reset to base size and step 0 instead, without doubling
// and without flipping direction.
func (e *Engine) tickRecovering() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.step >= e.params.MaxStep {
		slog.Warn("strategy martingale bound reached, hard reset", "symbol", e.symbol, "step", e.step)
		e.step = 0
		e.currentQty = e.params.BaseQuantity
	} else {
		e.step++
		e.currentQty *= 2
		e.isShort = !e.isShort
		slog.Info("strategy martingale step", "symbol", e.symbol, "step", e.step, "qty", e.currentQty)
	}
	e.state = Idle
	e.stateEnteredAt = e.now()
}

// OnOrderUpdate handles a trade session callback. clientID identifies which
// of the entry or exit order the update concerns. Any resulting order send
// happens after the lock is released, so it never blocks the tick loop.
func (e *Engine) OnOrderUpdate(clientID string, status string, _ string) {
	if clientID == "" {
		return
	}
	e.mu.Lock()
	var sendExit func()
	switch clientID {
	case e.entryID:
		sendExit = e.onEntryUpdateLocked(status)
	case e.exitID:
		e.onExitUpdateLocked(status)
	}
	e.mu.Unlock()

	if sendExit != nil {
		sendExit()
	}
}

// onEntryUpdateLocked mutates entry-side state and, on a fill, returns a
// closure that sends the PostOnly exit once the caller has released mu.
func (e *Engine) onEntryUpdateLocked(status string) func() {
	switch status {
	case "New":
		e.state = Working
		e.stateEnteredAt = e.now()
	case "Filled":
		e.positionFilled = true
		e.positionSince = e.now()
		e.state = InPosition
		e.stateEnteredAt = e.now()
		return e.prepareExitLocked()
	case "Cancelled", "Rejected":
		e.state = Idle
		e.stateEnteredAt = e.now()
		e.pub.RemoveOrder(e.symbol)
	}
	return nil
}

// prepareExitLocked computes and records the exit order's client id and
// returns a closure that sends it. Caller must hold mu.
func (e *Engine) prepareExitLocked() func() {
	symbol := e.symbol
	qty := e.currentQty
	entryPrice := e.entryPrice
	isShort := e.isShort
	profitPct := e.params.ProfitPct

	var exitPrice float64
	var side string
	if isShort {
		exitPrice = entryPrice * (1 - profitPct)
		side = string(SideBuy)
	} else {
		exitPrice = entryPrice * (1 + profitPct)
		side = string(SideSell)
	}
	id := clientid.New()
	e.exitID = id

	return func() {
		e.publishOrder(symbol, id, side, qty, exitPrice)
		if err := e.trader.PlaceOrder(symbol, side, qty, exitPrice, id, true); err != nil {
			slog.Warn("strategy place exit failed", "symbol", symbol, "err", err)
		}
	}
}

func (e *Engine) onExitUpdateLocked(status string) {
	switch status {
	case "Filled":
		e.waitingClose = false
		e.positionFilled = false
		e.pub.RemoveOrder(e.symbol)
		if e.reversePending {
			e.reversePending = false
			e.stats.TotalTrades++
			e.stats.TotalProfit += e.lastPnLDollars
			e.state = Recovering
		} else {
			e.stats.TotalTrades++
			e.stats.WinningTrades++
			e.stats.TotalProfit += e.lastPnLDollars
			e.currentQty = e.params.BaseQuantity
			e.step = 0
			e.state = Idle
		}
		e.stateEnteredAt = e.now()
	case "Cancelled", "Rejected":
		e.waitingClose = false
		e.state = InPosition
		e.stateEnteredAt = e.now()
	}
}

// SetClock overrides the engine's time source for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}
