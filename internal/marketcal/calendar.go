// Package marketcal provides the trading calendar: the schedule of valid
// trading days with per-day session hours, market open/closed status, and
// the generation of the minute-timestamp universe that keys the bar store.
package marketcal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"autotrader/internal/util"
)

// TradingDay is one scheduled market session. Open and Close are local
// Eastern clock times in "15:04" format; Close is the close instant, so the
// last bar minute of the day is Close minus one minute.
type TradingDay struct {
	Date  string `json:"date"`  // 2006-01-02
	Open  string `json:"open"`  // 09:30
	Close string `json:"close"` // 16:00, or earlier on short sessions
}

// MarketStatus is a point-in-time snapshot of the market clock.
type MarketStatus struct {
	IsOpen      bool   `json:"is_open"`
	CurrentTime string `json:"current_time"`
	NextOpen    string `json:"next_open,omitempty"`
	NextClose   string `json:"next_close,omitempty"`
}

// Provider supplies the trading-day schedule and live market status.
type Provider interface {
	// Schedule returns the trading days in [startDate, endDate], inclusive,
	// in ascending order. Dates are "2006-01-02" strings.
	Schedule(ctx context.Context, startDate, endDate string) ([]TradingDay, error)

	// IsOpenNow reports whether the market is open right now. Failures
	// degrade to false so callers treat provider outages as closed.
	IsOpenNow(ctx context.Context) bool

	// Status returns the full market-clock snapshot.
	Status(ctx context.Context) (MarketStatus, error)
}

// Compile-time interface check.
var _ Provider = (*AlpacaProvider)(nil)

// AlpacaProvider implements Provider against the Alpaca trading API, caching
// schedule responses per requested range.
type AlpacaProvider struct {
	client *alpaca.Client
	log    *slog.Logger

	mu    sync.Mutex
	cache map[string][]TradingDay
}

// NewAlpacaProvider creates a calendar provider using the given Alpaca
// credentials. baseURL may be empty for the SDK default.
func NewAlpacaProvider(apiKey, apiSecret, baseURL string) *AlpacaProvider {
	return &AlpacaProvider{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		log:   slog.Default().With("component", "calendar"),
		cache: make(map[string][]TradingDay),
	}
}

// Schedule fetches the trading-day calendar for the range, serving repeats
// from an in-memory cache.
func (p *AlpacaProvider) Schedule(ctx context.Context, startDate, endDate string) ([]TradingDay, error) {
	key := startDate + "_" + endDate

	p.mu.Lock()
	cached, ok := p.cache[key]
	p.mu.Unlock()
	if ok {
		return cached, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return nil, fmt.Errorf("parsing start date %q: %w", startDate, err)
	}
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return nil, fmt.Errorf("parsing end date %q: %w", endDate, err)
	}

	// The schedule underpins universe construction at startup, so a transient
	// calendar outage is worth a couple of retries.
	var days []alpaca.CalendarDay
	err = util.Retry(ctx, "calendar fetch", 3, 500*time.Millisecond, func() error {
		days, err = p.client.GetCalendar(alpaca.GetCalendarRequest{Start: start, End: end})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("GetCalendar %s to %s: %w", startDate, endDate, err)
	}

	schedule := make([]TradingDay, 0, len(days))
	for _, d := range days {
		schedule = append(schedule, TradingDay{Date: d.Date, Open: d.Open, Close: d.Close})
	}

	p.mu.Lock()
	p.cache[key] = schedule
	p.mu.Unlock()

	p.log.Debug("schedule fetched", "start", startDate, "end", endDate, "days", len(schedule))
	return schedule, nil
}

// ClearCache drops all cached schedule responses.
func (p *AlpacaProvider) ClearCache() {
	p.mu.Lock()
	p.cache = make(map[string][]TradingDay)
	p.mu.Unlock()
}

// IsOpenNow reports whether the market is currently open via the Alpaca
// clock API. A clock failure is logged and treated as closed.
func (p *AlpacaProvider) IsOpenNow(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	clock, err := p.client.GetClock()
	if err != nil {
		p.log.Error("market clock unavailable", "err", err)
		return false
	}
	return clock.IsOpen
}

// Status returns the current market-clock snapshot.
func (p *AlpacaProvider) Status(ctx context.Context) (MarketStatus, error) {
	if err := ctx.Err(); err != nil {
		return MarketStatus{}, err
	}
	clock, err := p.client.GetClock()
	if err != nil {
		return MarketStatus{}, fmt.Errorf("GetClock: %w", err)
	}
	return MarketStatus{
		IsOpen:      clock.IsOpen,
		CurrentTime: clock.Timestamp.UTC().Format(time.RFC3339),
		NextOpen:    clock.NextOpen.UTC().Format(time.RFC3339),
		NextClose:   clock.NextClose.UTC().Format(time.RFC3339),
	}, nil
}

// NextTradingDay returns the first trading day strictly after fromDate.
func NextTradingDay(ctx context.Context, p Provider, fromDate string) (string, error) {
	from, err := time.Parse("2006-01-02", fromDate)
	if err != nil {
		return "", fmt.Errorf("parsing date %q: %w", fromDate, err)
	}

	// Two weeks covers any run of holidays; extend once if needed.
	for _, span := range []int{14, 30} {
		end := from.AddDate(0, 0, span).Format("2006-01-02")
		schedule, err := p.Schedule(ctx, fromDate, end)
		if err != nil {
			return "", err
		}
		for _, day := range schedule {
			if day.Date > fromDate {
				return day.Date, nil
			}
		}
	}

	return "", fmt.Errorf("no trading day found after %s", fromDate)
}
