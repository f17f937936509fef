// Command engine is the Martingale-chaser process entrypoint: it loads
// configuration, wires the depth book, IPC publisher, market/trade
// sessions, and the strategy engine together, then runs until signalled.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"martingale_chaser/internal/book"
	"martingale_chaser/internal/config"
	"martingale_chaser/internal/ipc"
	"martingale_chaser/internal/logging"
	"martingale_chaser/internal/market"
	"martingale_chaser/internal/netutil"
	"martingale_chaser/internal/strategy"
	"martingale_chaser/internal/subscription"
	"martingale_chaser/internal/trade"
)

// tickInterval drives the strategy loop; serviceInterval drives IPC
// transport housekeeping at the ~20Hz cadence Publisher.Service expects,
// separately from the strategy hotpath.
const (
	tickInterval    = 500 * time.Microsecond
	serviceInterval = 50 * time.Millisecond
)

func main() {
	cfg, err := config.Load(config.ResolveConfigPath())
	if err != nil {
		slog.Error("engine: load config failed", "err", err)
		os.Exit(1)
	}
	logging.Bootstrap(cfg.Logging.Level)

	workDir, err := config.WorkspaceDir()
	if err != nil {
		slog.Error("engine: resolve workspace dir failed", "err", err)
		os.Exit(1)
	}
	if err := config.EnsureDir(workDir); err != nil {
		slog.Error("engine: create workspace dir failed", "err", err)
		os.Exit(1)
	}
	unlock, err := config.CreateLockFile(workDir)
	if err != nil {
		slog.Error("engine: acquire instance lock failed", "err", err)
		os.Exit(1)
	}
	defer unlock()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	books := book.NewRegistry()
	subs := subscription.New()

	sqlitePath := cfg.IPC.SQLitePath
	if sqlitePath == "" {
		sqlitePath = filepath.Join(workDir, "ipc.db")
	}
	transport, err := ipc.NewSQLiteLog(sqlitePath)
	if err != nil {
		slog.Error("engine: open IPC log failed", "err", err)
		os.Exit(1)
	}
	publisher := ipc.NewPublisher(transport)
	if err := publisher.Connect(); err != nil {
		slog.Error("engine: connect IPC transport failed", "err", err)
		os.Exit(1)
	}
	defer publisher.Close()

	marketSession := market.NewSession(cfg.Venue.MarketWSURL, books, subs, publisher)
	marketBreaker := netutil.NewCircuitBreaker(netutil.DefaultCircuitBreakerConfig("market"))
	go marketSession.Underlying().RunForever(ctx, marketBreaker)

	if err := marketSession.Subscribe(cfg.Symbol); err != nil {
		slog.Warn("engine: initial subscribe failed, will rely on reconnect", "symbol", cfg.Symbol, "err", err)
	}

	var engine *strategy.Engine
	tradeSession := trade.NewSession(cfg.Venue.TradeWSURL, cfg.Venue.APIKey, cfg.Venue.APISecret, func(clientID string, status trade.Status, symbol string) {
		if engine != nil {
			engine.OnOrderUpdate(clientID, string(status), symbol)
		}
	})
	tradeBreaker := netutil.NewCircuitBreaker(netutil.DefaultCircuitBreakerConfig("trade"))
	go tradeSession.Underlying().RunForever(ctx, tradeBreaker)

	engine = strategy.New(cfg.Symbol, books, subs, tradeSession, publisher, strategy.Params{
		BaseQuantity: cfg.Strategy.BaseQuantity,
		MaxStep:      cfg.Strategy.MaxStep,
		ProfitPct:    cfg.Strategy.ProfitPct,
		StopPct:      cfg.Strategy.StopPct,
	})

	go runStrategyLoop(ctx, engine)
	go runServiceLoop(ctx, publisher)

	slog.Info("engine started", "symbol", cfg.Symbol)
	<-ctx.Done()
	slog.Info("engine shutting down")
}

func runStrategyLoop(ctx context.Context, engine *strategy.Engine) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			engine.Tick()
		}
	}
}

func runServiceLoop(ctx context.Context, publisher *ipc.Publisher) {
	ticker := time.NewTicker(serviceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			publisher.Service()
		}
	}
}
