// Package stream ingests live minute bars from the Alpaca WebSocket feed
// into the bar store and reference-counts per-ticker subscriptions.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata/stream"

	"autotrader/internal/domain"
)

// barWriter is the slice of the bar store the ingestor writes through.
type barWriter interface {
	WriteBar(ctx context.Context, ticker string, bar domain.Bar) (bool, error)
}

// stocksClient is the slice of the Alpaca stream client the ingestor uses.
type stocksClient interface {
	Connect(ctx context.Context) error
	SubscribeToBars(handler func(stream.Bar), symbols ...string) error
	UnsubscribeFromBars(symbols ...string) error
}

// Ingestor consumes per-minute bar messages and routes each into the bar
// store. A bar for a timestamp outside the universe no-ops at the write
// layer and is simply unrecorded; a failure on one message never interrupts
// the stream.
type Ingestor struct {
	client stocksClient
	store  barWriter
	log    *slog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	subs    map[string]bool
}

// NewIngestor builds an Ingestor backed by the Alpaca stocks WebSocket feed.
func NewIngestor(apiKey, apiSecret, feed string, store barWriter) *Ingestor {
	client := stream.NewStocksClient(feed,
		stream.WithCredentials(apiKey, apiSecret),
	)
	return &Ingestor{
		client: client,
		store:  store,
		log:    slog.Default().With("component", "stream"),
		subs:   make(map[string]bool),
	}
}

// Start connects to the feed. Idempotent; a second call while connected is a
// no-op.
func (in *Ingestor) Start(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.started {
		return nil
	}

	streamCtx, cancel := context.WithCancel(ctx)
	if err := in.client.Connect(streamCtx); err != nil {
		cancel()
		return fmt.Errorf("connecting bar stream: %w", err)
	}
	in.cancel = cancel
	in.started = true
	in.log.Info("bar stream connected")
	return nil
}

// Stop gracefully unsubscribes whatever is still live, then tears the
// connection down. Idempotent.
func (in *Ingestor) Stop() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.started {
		return
	}

	if remaining := in.activeLocked(); len(remaining) > 0 {
		if err := in.client.UnsubscribeFromBars(remaining...); err != nil {
			// The connection is going away either way.
			in.log.Warn("unsubscribe on shutdown failed", "symbols", remaining, "error", err)
		}
		in.subs = make(map[string]bool)
	}

	in.cancel()
	in.started = false
	in.log.Info("bar stream stopped")
}

// Subscribe begins live ingestion for the given symbols.
func (in *Ingestor) Subscribe(symbols ...string) error {
	if len(symbols) == 0 {
		return nil
	}
	if err := in.client.SubscribeToBars(in.handleBar, symbols...); err != nil {
		return fmt.Errorf("subscribing to bars %v: %w", symbols, err)
	}
	in.mu.Lock()
	for _, s := range symbols {
		in.subs[s] = true
	}
	in.mu.Unlock()
	in.log.Info("subscribed to live bars", "symbols", symbols)
	return nil
}

// Unsubscribe stops live ingestion for the given symbols.
func (in *Ingestor) Unsubscribe(symbols ...string) error {
	if len(symbols) == 0 {
		return nil
	}
	if err := in.client.UnsubscribeFromBars(symbols...); err != nil {
		return fmt.Errorf("unsubscribing from bars %v: %w", symbols, err)
	}
	in.mu.Lock()
	for _, s := range symbols {
		delete(in.subs, s)
	}
	in.mu.Unlock()
	in.log.Info("unsubscribed from live bars", "symbols", symbols)
	return nil
}

// activeLocked returns the currently subscribed symbols, sorted. Caller holds
// in.mu.
func (in *Ingestor) activeLocked() []string {
	out := make([]string, 0, len(in.subs))
	for s := range in.subs {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// handleBar is invoked by the stream client once per ticker per elapsed
// minute. Fire-and-forget: errors are logged, never raised.
func (in *Ingestor) handleBar(b stream.Bar) {
	bar := domain.Bar{
		Timestamp: domain.FormatMinute(b.Timestamp),
		OHLCV: domain.OHLCV{
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: int64(b.Volume),
		},
	}

	wrote, err := in.store.WriteBar(context.Background(), b.Symbol, bar)
	if err != nil {
		in.log.Error("live bar write failed",
			"ticker", b.Symbol, "minute", bar.Timestamp, "error", err)
		return
	}
	if !wrote {
		// Either first-write-wins kept an earlier value or the minute lies
		// outside the universe (stray pre/post-market tick).
		in.log.Debug("live bar dropped",
			"ticker", b.Symbol, "minute", bar.Timestamp)
	}
}
