// Command autotrader-backfill bulk-loads historical minute bars into the bar
// store for a set of tickers over a date range.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"autotrader/internal/backfill"
	"autotrader/internal/bars"
	"autotrader/internal/config"
	"autotrader/internal/domain"
	"autotrader/internal/marketcal"
	"autotrader/internal/util"
)

func main() {
	tickersFlag := flag.String("tickers", "", "comma-separated tickers to backfill (required)")
	startFlag := flag.String("start", "", "start date YYYY-MM-DD (required)")
	endFlag := flag.String("end", "", "end date YYYY-MM-DD (defaults to start)")
	flag.Parse()

	_ = godotenv.Load()

	cfgPath := "config/autotrader.yaml"
	if p := os.Getenv("AUTOTRADER_CONFIG"); p != "" {
		cfgPath = p
	}

	if *tickersFlag == "" || *startFlag == "" {
		flag.Usage()
		os.Exit(2)
	}
	end := *endFlag
	if end == "" {
		end = *startFlag
	}

	tickers := make([]string, 0)
	for _, t := range strings.Split(*tickersFlag, ",") {
		if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
			tickers = append(tickers, t)
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := bars.NewStore(cfg.Storage.BarsPath)
	if err != nil {
		log.Fatalf("opening bar store: %v", err)
	}
	defer store.Close()

	cal := marketcal.NewAlpacaProvider(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)

	universe, err := marketcal.BuildUniverse(ctx, cal, cfg.Universe.StartYear, cfg.Universe.EndYear)
	if err != nil {
		log.Fatalf("building timestamp universe: %v", err)
	}
	if err := store.InitUniverse(ctx, universe); err != nil {
		log.Fatalf("initializing universe: %v", err)
	}

	fetcher := backfill.NewFetcher(backfill.Options{
		APIKey:          cfg.Alpaca.APIKey,
		APISecret:       cfg.Alpaca.APISecret,
		DataURL:         cfg.Alpaca.DataURL,
		Feed:            cfg.Alpaca.Feed,
		Timeout:         time.Duration(cfg.Backfill.TimeoutSeconds) * time.Second,
		RateLimitPerMin: cfg.Backfill.RateLimitPerMin,
	}, store, cal)

	batch := fetcher.FetchMany(ctx, tickers, *startFlag, end)
	printSummary(batch, *startFlag, end)

	if batch.Failed > 0 {
		os.Exit(1)
	}
}

func printSummary(batch domain.BatchResult, start, end string) {
	fmt.Printf("\nbackfill %s..%s: %d tickers, %d ok, %d failed, %d rows written\n",
		start, end, batch.Total, batch.Successful, batch.Failed, batch.RowsWritten)

	names := make([]string, 0, len(batch.PerTicker))
	for t := range batch.PerTicker {
		names = append(names, t)
	}
	sort.Strings(names)

	for _, t := range names {
		res := batch.PerTicker[t]
		switch res.Status {
		case domain.FetchOK:
			fmt.Printf("  %-8s %s  points=%d written=%d\n", t, res.Status, res.DataPoints, res.RowsWritten)
		default:
			fmt.Printf("  %-8s %s  %s\n", t, res.Status, res.Reason)
		}
	}
}
