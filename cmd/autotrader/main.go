// Command autotrader runs the full trading system: bar store, live stream,
// trading scheduler, and the dashboard HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"autotrader/internal/algo"
	"autotrader/internal/backfill"
	"autotrader/internal/bars"
	"autotrader/internal/broker"
	"autotrader/internal/config"
	"autotrader/internal/httpapi"
	"autotrader/internal/ledger"
	"autotrader/internal/marketcal"
	"autotrader/internal/orchestrator"
	"autotrader/internal/stream"
	"autotrader/internal/util"
)

func main() {
	// A missing .env is fine; config falls back to real env vars and YAML.
	_ = godotenv.Load()

	cfgPath := "config/autotrader.yaml"
	if p := os.Getenv("AUTOTRADER_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Bar store and the minute-timestamp universe it is keyed by.
	store, err := bars.NewStore(cfg.Storage.BarsPath)
	if err != nil {
		return fmt.Errorf("opening bar store: %w", err)
	}
	defer store.Close()

	cal := marketcal.NewAlpacaProvider(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)

	universe, err := marketcal.BuildUniverse(ctx, cal, cfg.Universe.StartYear, cfg.Universe.EndYear)
	if err != nil {
		// The universe is the storage skeleton; without it nothing below can
		// store a bar, so startup stops here.
		return fmt.Errorf("building timestamp universe: %w", err)
	}
	if err := store.InitUniverse(ctx, universe); err != nil {
		return fmt.Errorf("initializing universe: %w", err)
	}
	logger.Info("bar store ready",
		"path", cfg.Storage.BarsPath,
		"universe_minutes", len(universe),
		"years", fmt.Sprintf("%d-%d", cfg.Universe.StartYear, cfg.Universe.EndYear))

	fetcher := backfill.NewFetcher(backfill.Options{
		APIKey:          cfg.Alpaca.APIKey,
		APISecret:       cfg.Alpaca.APISecret,
		DataURL:         cfg.Alpaca.DataURL,
		Feed:            cfg.Alpaca.Feed,
		Timeout:         time.Duration(cfg.Backfill.TimeoutSeconds) * time.Second,
		RateLimitPerMin: cfg.Backfill.RateLimitPerMin,
	}, store, cal)
	store.SetBackfiller(fetcher)

	// System ledger: algorithm instances, transactions, PIN.
	led, err := ledger.NewLedger(cfg.Storage.SystemPath)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	defer led.Close()

	registry := algo.DefaultRegistry(algo.Env{Data: store, Txs: led})

	alpacaBroker := broker.NewAlpacaBroker(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)

	// Live minute bars stream into the store; subscriptions are refcounted
	// per running instance.
	ingestor := stream.NewIngestor(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.Feed, store)
	if err := ingestor.Start(ctx); err != nil {
		return fmt.Errorf("starting live stream: %w", err)
	}
	defer ingestor.Stop()

	subs := stream.NewManager(ingestor)
	running, err := led.RunningInstances(ctx)
	if err != nil {
		return fmt.Errorf("loading running instances: %w", err)
	}
	tickers := make([]string, 0, len(running))
	for _, inst := range running {
		tickers = append(tickers, inst.Ticker)
	}
	if err := subs.AddAll(tickers); err != nil {
		logger.Warn("resubscribing running instances", "error", err)
	}
	logger.Info("resumed running instances", "count", len(running), "tickers", subs.Active())

	orch := orchestrator.New(cal, led, registry, alpacaBroker)
	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer orch.Stop()

	api := httpapi.NewServer(store, led, alpacaBroker, cal, registry, subs)
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: api.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("dashboard API listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	return nil
}
