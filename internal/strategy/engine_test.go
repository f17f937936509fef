package strategy

import (
	"sync"
	"testing"
	"time"

	"martingale_chaser/internal/book"
	"martingale_chaser/internal/ipc"
	"martingale_chaser/internal/subscription"
)

type fakeTrader struct {
	mu      sync.Mutex
	placed  []placedOrder
	cancels []string
}

type placedOrder struct {
	Symbol   string
	Side     string
	Qty      float64
	Price    float64
	ClientID string
	IsMaker  bool
}

func (f *fakeTrader) PlaceOrder(symbol, side string, qty, price float64, clientID string, isMaker bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, placedOrder{symbol, side, qty, price, clientID, isMaker})
	return nil
}

func (f *fakeTrader) CancelOrder(symbol, clientID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, clientID)
	return nil
}

func (f *fakeTrader) lastPlaced() placedOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.placed[len(f.placed)-1]
}

func (f *fakeTrader) placedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.placed)
}

func newTestEngine(t *testing.T, params Params) (*Engine, *book.Registry, *subscription.Set, *fakeTrader, *ipc.Publisher) {
	t.Helper()
	books := book.NewRegistry()
	subs := subscription.New()
	trader := &fakeTrader{}
	pub := ipc.NewPublisher(ipc.NewMemoryLog())

	subs.Add("BTCUSDT")
	e := New("BTCUSDT", books, subs, trader, pub, params)
	return e, books, subs, trader, pub
}

func TestScenarioAHappyLong(t *testing.T) {
	e, books, _, trader, _ := newTestEngine(t, Params{BaseQuantity: 0.01, MaxStep: 6, ProfitPct: 0.001, StopPct: 0.001})
	b := books.GetOrCreate("BTCUSDT")
	b.UpdateBids([]book.Level{{Price: 60000, Qty: 1}})
	b.UpdateAsks([]book.Level{{Price: 60005, Qty: 1}})

	e.Tick()
	if e.State() != Placing {
		t.Fatalf("expected Placing after entry, got %s", e.State())
	}
	entry := trader.lastPlaced()
	if entry.Side != "Buy" || !entry.IsMaker {
		t.Fatalf("expected maker buy entry, got %+v", entry)
	}
	if entry.Price >= 60005 || entry.Price <= 60000 {
		t.Fatalf("expected entry price inside spread, got %v", entry.Price)
	}

	e.OnOrderUpdate(entry.ClientID, "New", "")
	if e.State() != Working {
		t.Fatalf("expected Working after New ack, got %s", e.State())
	}

	e.OnOrderUpdate(entry.ClientID, "Filled", "")
	if e.State() != InPosition {
		t.Fatalf("expected InPosition after entry fill, got %s", e.State())
	}
	exit := trader.lastPlaced()
	wantExitPrice := entry.Price * 1.001
	if exit.Side != "Sell" || !exit.IsMaker {
		t.Fatalf("expected maker sell exit, got %+v", exit)
	}
	if diff := exit.Price - wantExitPrice; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected exit price %v, got %v", wantExitPrice, exit.Price)
	}

	e.OnOrderUpdate(exit.ClientID, "Filled", "")
	if e.State() != Idle {
		t.Fatalf("expected Idle after exit fill, got %s", e.State())
	}
	stats := e.Stats()
	if stats.TotalTrades != 1 || stats.WinningTrades != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestPublishesOrderRecordsAcrossEntryExitLifecycle(t *testing.T) {
	e, books, _, trader, pub := newTestEngine(t, Params{BaseQuantity: 0.01, MaxStep: 6, ProfitPct: 0.001, StopPct: 0.001})
	b := books.GetOrCreate("BTCUSDT")
	b.UpdateBids([]book.Level{{Price: 60000, Qty: 1}})
	b.UpdateAsks([]book.Level{{Price: 60005, Qty: 1}})

	e.Tick()
	entry := trader.lastPlaced()
	rec, ok := pub.GetOrder("BTCUSDT")
	if !ok || !rec.IsActive || rec.OrderIDString() != entry.ClientID {
		t.Fatalf("expected active buffer record for entry order, got %+v ok=%v", rec, ok)
	}

	e.OnOrderUpdate(entry.ClientID, "New", "")
	e.OnOrderUpdate(entry.ClientID, "Filled", "")
	exit := trader.lastPlaced()
	rec, ok = pub.GetOrder("BTCUSDT")
	if !ok || !rec.IsActive || rec.OrderIDString() != exit.ClientID {
		t.Fatalf("expected active buffer record for exit order, got %+v ok=%v", rec, ok)
	}

	e.OnOrderUpdate(exit.ClientID, "Filled", "")
	rec, ok = pub.GetOrder("BTCUSDT")
	if !ok || rec.IsActive {
		t.Fatalf("expected buffer record to be soft-deleted after exit fill, got %+v ok=%v", rec, ok)
	}
}

func TestScenarioBStopLossReversal(t *testing.T) {
	e, books, _, trader, _ := newTestEngine(t, Params{BaseQuantity: 0.01, MaxStep: 6, ProfitPct: 0.001, StopPct: 0.0005})
	b := books.GetOrCreate("BTCUSDT")
	b.UpdateBids([]book.Level{{Price: 60000, Qty: 1}})
	b.UpdateAsks([]book.Level{{Price: 60010, Qty: 1}})

	e.mu.Lock()
	e.entryPrice = 60000
	e.isShort = false
	e.currentQty = 0.01
	e.positionFilled = true
	e.positionSince = time.Now().Add(-1 * time.Second)
	e.state = InPosition
	e.mu.Unlock()

	b.UpdateBids([]book.Level{{Price: 59969.9, Qty: 1}})

	e.Tick()
	if trader.placedCount() != 1 {
		t.Fatalf("expected an aggressive close order, got %d placed", trader.placedCount())
	}
	closeOrder := trader.lastPlaced()
	if closeOrder.Side != "Sell" || closeOrder.IsMaker {
		t.Fatalf("expected aggressive taker sell close, got %+v", closeOrder)
	}
	if e.State() != Placing {
		t.Fatalf("expected Placing after stop-loss close, got %s", e.State())
	}

	e.OnOrderUpdate(closeOrder.ClientID, "Filled", "")
	if e.State() != Recovering {
		t.Fatalf("expected Recovering after reversal-triggered fill, got %s", e.State())
	}

	e.Tick()
	if e.State() != Idle {
		t.Fatalf("expected Idle after martingale step, got %s", e.State())
	}
	e.mu.Lock()
	qty := e.currentQty
	isShort := e.isShort
	e.mu.Unlock()
	if qty != 0.02 {
		t.Fatalf("expected quantity doubled to 0.02, got %v", qty)
	}
	if !isShort {
		t.Fatal("expected direction flipped to short")
	}
}

func TestScenarioCMartingaleCap(t *testing.T) {
	e, books, _, _, _ := newTestEngine(t, Params{BaseQuantity: 0.01, MaxStep: 2, ProfitPct: 0.001, StopPct: 0.001})
	b := books.GetOrCreate("BTCUSDT")
	b.UpdateBids([]book.Level{{Price: 60000, Qty: 1}})
	b.UpdateAsks([]book.Level{{Price: 60005, Qty: 1}})

	e.mu.Lock()
	e.currentQty = 0.01
	e.mu.Unlock()

	for i := 0; i < 2; i++ {
		e.mu.Lock()
		e.state = Recovering
		e.mu.Unlock()
		e.Tick()
	}
	e.mu.Lock()
	stepAfterTwo := e.step
	qtyAfterTwo := e.currentQty
	e.mu.Unlock()
	if stepAfterTwo != 2 || qtyAfterTwo != 0.04 {
		t.Fatalf("expected step=2 qty=0.04 after two losses, got step=%d qty=%v", stepAfterTwo, qtyAfterTwo)
	}

	e.mu.Lock()
	e.state = Recovering
	e.mu.Unlock()
	e.Tick()

	e.mu.Lock()
	step := e.step
	qty := e.currentQty
	e.mu.Unlock()
	if step != 0 || qty != 0.01 {
		t.Fatalf("expected hard reset to step=0 qty=base after breaching max_step, got step=%d qty=%v", step, qty)
	}
}

func TestScenarioDChase(t *testing.T) {
	e, books, _, trader, _ := newTestEngine(t, Params{BaseQuantity: 0.01, MaxStep: 6, ProfitPct: 0.001, StopPct: 0.001})
	b := books.GetOrCreate("BTCUSDT")
	b.UpdateBids([]book.Level{{Price: 59999, Qty: 1}})
	b.UpdateAsks([]book.Level{{Price: 60010, Qty: 1}})

	clock := time.Now()
	e.SetClock(func() time.Time { return clock })

	e.mu.Lock()
	e.entryID = "BOT_ENTRY"
	e.entryPrice = 59999
	e.isShort = false
	e.state = Working
	e.stateEnteredAt = clock
	e.mu.Unlock()

	b.UpdateBids([]book.Level{{Price: 60004, Qty: 1}})

	e.Tick()
	if len(trader.cancels) != 0 {
		t.Fatalf("expected no cancel before grace period elapses, got %v", trader.cancels)
	}

	clock = clock.Add(600 * time.Millisecond)
	e.Tick()
	if len(trader.cancels) != 1 || trader.cancels[0] != "BOT_ENTRY" {
		t.Fatalf("expected chase cancel of BOT_ENTRY, got %v", trader.cancels)
	}
	if e.State() != Cancelling {
		t.Fatalf("expected Cancelling after chase, got %s", e.State())
	}
}

func TestScenarioFRecoveryHydration(t *testing.T) {
	books := book.NewRegistry()
	subs := subscription.New()
	subs.Add("SOLUSDT")
	trader := &fakeTrader{}
	pub := ipc.NewPublisher(ipc.NewMemoryLog())
	rec, err := ipc.NewOrderRecord("BOT_OLD", "SOLUSDT", ipc.SideSell, 150.0, 0.04, 1, true)
	if err != nil {
		t.Fatalf("new order record: %v", err)
	}
	pub.UpdateOrder(rec)

	e := New("SOLUSDT", books, subs, trader, pub, Params{BaseQuantity: 0.01, MaxStep: 6, ProfitPct: 0.001, StopPct: 0.001})

	if e.State() != InPosition {
		t.Fatalf("expected InPosition after recovery hydration, got %s", e.State())
	}
	e.mu.Lock()
	price := e.entryPrice
	qty := e.currentQty
	isShort := e.isShort
	e.mu.Unlock()
	if price != 150.0 || qty != 0.04 || !isShort {
		t.Fatalf("unexpected hydrated fields: price=%v qty=%v isShort=%v", price, qty, isShort)
	}
}

func TestValidateMarketDataRejectsCrossedBook(t *testing.T) {
	e, books, _, trader, _ := newTestEngine(t, Params{BaseQuantity: 0.01, MaxStep: 6, ProfitPct: 0.001, StopPct: 0.001})
	b := books.GetOrCreate("BTCUSDT")
	b.UpdateBids([]book.Level{{Price: 60010, Qty: 1}})
	b.UpdateAsks([]book.Level{{Price: 60000, Qty: 1}})

	e.Tick()
	if trader.placedCount() != 0 {
		t.Fatal("expected no order placed against a crossed book")
	}
}

func TestValidateMarketDataRejectsUnsubscribedSymbol(t *testing.T) {
	books := book.NewRegistry()
	subs := subscription.New() // BTCUSDT never subscribed
	trader := &fakeTrader{}
	pub := ipc.NewPublisher(ipc.NewMemoryLog())
	e := New("BTCUSDT", books, subs, trader, pub, Params{BaseQuantity: 0.01, MaxStep: 6, ProfitPct: 0.001, StopPct: 0.001})

	books.GetOrCreate("BTCUSDT").UpdateBids([]book.Level{{Price: 1, Qty: 1}})
	e.Tick()
	if trader.placedCount() != 0 {
		t.Fatal("expected no order placed for an unsubscribed symbol")
	}
}
