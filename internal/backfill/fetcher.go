// Package backfill fetches historical minute bars from the Alpaca market-data
// API and ingests them through the bar store's null-only writes.
package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"autotrader/internal/bars"
	"autotrader/internal/domain"
	"autotrader/internal/marketcal"
	"autotrader/internal/util"
)

// Compile-time interface check.
var _ bars.Backfiller = (*Fetcher)(nil)

// barsGetter is the slice of the Alpaca market-data client the fetcher uses.
type barsGetter interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// barWriter is the slice of the bar store the fetcher writes through.
type barWriter interface {
	EnsureTicker(ctx context.Context, ticker string) error
	BulkWrite(ctx context.Context, ticker string, bars []domain.Bar) (int64, error)
}

// Fetcher pulls minute bars for a ticker over a closed calendar date range.
// Each date expands to its trading-session window from the same calendar the
// timestamp universe was built from, so fetched bars always land on minutes
// the store recognizes as valid keys.
type Fetcher struct {
	client     barsGetter
	store      barWriter
	cal        marketcal.Provider
	limiter    *util.RateLimiter
	feed       string
	batchDelay time.Duration
	log        *slog.Logger
}

// Options configures a Fetcher.
type Options struct {
	APIKey          string
	APISecret       string
	DataURL         string        // market-data API base URL; empty uses the SDK default
	Feed            string        // "iex" or "sip"
	Timeout         time.Duration // per-request HTTP timeout
	RateLimitPerMin int
	BatchDelay      time.Duration // inter-ticker pause in FetchMany
}

// NewFetcher builds a Fetcher backed by the Alpaca market-data API. The
// request timeout keeps a slow provider from stalling the per-minute
// scheduler past its boundary.
func NewFetcher(opts Options, store *bars.Store, cal marketcal.Provider) *Fetcher {
	clientOpts := marketdata.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
		HTTPClient: &http.Client{
			Timeout: opts.Timeout,
		},
	}
	if opts.DataURL != "" {
		clientOpts.BaseURL = opts.DataURL
	}
	batchDelay := opts.BatchDelay
	if batchDelay <= 0 {
		batchDelay = 500 * time.Millisecond
	}

	return &Fetcher{
		client:     marketdata.NewClient(clientOpts),
		store:      store,
		cal:        cal,
		limiter:    util.NewRateLimiter(opts.RateLimitPerMin),
		feed:       opts.Feed,
		batchDelay: batchDelay,
		log:        slog.Default().With("component", "backfill"),
	}
}

// Backfill satisfies bars.Backfiller.
func (f *Fetcher) Backfill(ctx context.Context, ticker, startDate, endDate string) domain.FetchResult {
	return f.FetchAndStore(ctx, ticker, startDate, endDate)
}

// FetchAndStore fetches minute bars for ticker across [startDate, endDate]
// and bulk-writes them. The result distinguishes "provider had nothing"
// from "fetch broke"; it never overwrites existing data.
func (f *Fetcher) FetchAndStore(ctx context.Context, ticker, startDate, endDate string) domain.FetchResult {
	if err := f.store.EnsureTicker(ctx, ticker); err != nil {
		return domain.FetchResult{Status: domain.FetchError, Reason: err.Error(), Err: err}
	}

	start, end, ok, err := marketcal.SessionWindow(ctx, f.cal, startDate, endDate)
	if err != nil {
		return domain.FetchResult{
			Status: domain.FetchError,
			Reason: fmt.Sprintf("resolving session window: %v", err),
			Err:    err,
		}
	}
	if !ok {
		return domain.FetchResult{Status: domain.FetchNoData, Reason: "no trading days in range"}
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return domain.FetchResult{Status: domain.FetchError, Reason: err.Error(), Err: err}
	}
	if err := ctx.Err(); err != nil {
		return domain.FetchResult{Status: domain.FetchError, Reason: err.Error(), Err: err}
	}

	raw, err := f.client.GetBars(ticker, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneMin,
		Start:     start,
		End:       end,
		Feed:      marketdata.Feed(f.feed),
	})
	if err != nil {
		f.log.Warn("provider fetch failed",
			"ticker", ticker, "start", startDate, "end", endDate, "error", err)
		return domain.FetchResult{Status: domain.FetchError, Reason: err.Error(), Err: err}
	}
	if len(raw) == 0 {
		return domain.FetchResult{Status: domain.FetchNoData, Reason: "provider returned no bars"}
	}

	converted := make([]domain.Bar, 0, len(raw))
	for _, ab := range raw {
		converted = append(converted, domain.Bar{
			Timestamp: domain.FormatMinute(ab.Timestamp),
			OHLCV: domain.OHLCV{
				Open:   ab.Open,
				High:   ab.High,
				Low:    ab.Low,
				Close:  ab.Close,
				Volume: int64(ab.Volume),
			},
		})
	}

	written, err := f.store.BulkWrite(ctx, ticker, converted)
	if err != nil {
		return domain.FetchResult{
			Status: domain.FetchError,
			Reason: fmt.Sprintf("storing bars: %v", err),
			Err:    err,
		}
	}

	f.log.Info("backfill complete",
		"ticker", ticker, "start", startDate, "end", endDate,
		"points", len(converted), "written", written)
	return domain.FetchResult{
		Status:      domain.FetchOK,
		DataPoints:  len(converted),
		RowsWritten: written,
	}
}

// FetchMany runs FetchAndStore sequentially over tickers with a small
// inter-call pause, continuing past individual failures and aggregating a
// summary.
func (f *Fetcher) FetchMany(ctx context.Context, tickers []string, startDate, endDate string) domain.BatchResult {
	batch := domain.BatchResult{
		Total:     len(tickers),
		PerTicker: make(map[string]domain.FetchResult, len(tickers)),
	}

	for i, ticker := range tickers {
		if err := ctx.Err(); err != nil {
			// Remaining tickers count as failed so the summary adds up.
			for _, t := range tickers[i:] {
				batch.PerTicker[t] = domain.FetchResult{
					Status: domain.FetchError, Reason: err.Error(), Err: err,
				}
				batch.Failed++
			}
			break
		}

		res := f.FetchAndStore(ctx, ticker, startDate, endDate)
		batch.PerTicker[ticker] = res
		switch res.Status {
		case domain.FetchError:
			batch.Failed++
		default:
			batch.Successful++
			batch.RowsWritten += res.RowsWritten
		}

		if i < len(tickers)-1 {
			select {
			case <-ctx.Done():
			case <-time.After(f.batchDelay):
			}
		}
	}

	f.log.Info("batch backfill complete",
		"tickers", batch.Total, "successful", batch.Successful,
		"failed", batch.Failed, "rows", batch.RowsWritten)
	return batch
}
