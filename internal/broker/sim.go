package broker

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"autotrader/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*Simulator)(nil)

// quoter is the slice of the bar store the simulator prices fills from.
type quoter interface {
	Latest(ctx context.Context, ticker string) (domain.Bar, bool, error)
}

var simTickerPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Simulator is an in-process Broker that fills market orders at the latest
// stored close. Used by tests and paperless dry runs.
type Simulator struct {
	quotes quoter

	mu     sync.Mutex
	cash   float64
	orders int
}

// NewSimulator creates a Simulator with the given starting cash, priced
// against the supplied quote source.
func NewSimulator(startingCash float64, quotes quoter) *Simulator {
	return &Simulator{quotes: quotes, cash: startingCash}
}

// Name returns "sim".
func (s *Simulator) Name() string { return "sim" }

// AccountCash returns the simulated cash balance.
func (s *Simulator) AccountCash(context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cash, nil
}

// ValidateTicker accepts any ticker matching the storage allow-list.
func (s *Simulator) ValidateTicker(_ context.Context, ticker string) (bool, string, error) {
	if !simTickerPattern.MatchString(ticker) {
		return false, "malformed ticker", nil
	}
	return true, "", nil
}

// MarketBuy fills at the latest stored close and debits cash.
func (s *Simulator) MarketBuy(ctx context.Context, ticker string, shares int) (Fill, error) {
	return s.fill(ctx, ticker, shares, false)
}

// MarketSell fills at the latest stored close and credits cash.
func (s *Simulator) MarketSell(ctx context.Context, ticker string, shares int) (Fill, error) {
	return s.fill(ctx, ticker, shares, true)
}

func (s *Simulator) fill(ctx context.Context, ticker string, shares int, sell bool) (Fill, error) {
	if shares <= 0 {
		return Fill{}, fmt.Errorf("invalid share count %d", shares)
	}
	bar, ok, err := s.quotes.Latest(ctx, ticker)
	if err != nil {
		return Fill{}, fmt.Errorf("quoting %s: %w", ticker, err)
	}
	if !ok || bar.OHLCV.Close <= 0 {
		return Fill{}, fmt.Errorf("no price available for %s", ticker)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cost := bar.OHLCV.Close * float64(shares)
	if sell {
		s.cash += cost
	} else {
		if cost > s.cash {
			return Fill{}, fmt.Errorf("insufficient cash: need %.2f, have %.2f", cost, s.cash)
		}
		s.cash -= cost
	}
	s.orders++
	return Fill{
		OrderID: fmt.Sprintf("sim-%d", s.orders),
		Shares:  shares,
		Price:   bar.OHLCV.Close,
	}, nil
}
