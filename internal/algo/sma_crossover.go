package algo

import (
	"context"
	"fmt"
	"time"

	"autotrader/internal/domain"
)

// Compile-time interface check.
var _ Algorithm = (*SMACrossover)(nil)

// SMACrossover trades the classic 20/50 moving-average cross: a golden cross
// opens a position, a death cross closes it.
type SMACrossover struct {
	env  Env
	fast int
	slow int
	// sizing fraction of initial capital committed per entry
	allocation float64
}

// NewSMACrossover creates the crossover strategy with 20/50 periods and a
// 95% capital allocation.
func NewSMACrossover(env Env) *SMACrossover {
	return &SMACrossover{env: env, fast: 20, slow: 50, allocation: 0.95}
}

// Name returns "sma_crossover".
func (s *SMACrossover) Name() string { return "sma_crossover" }

// Evaluate needs slow+1 bars to compare this minute's averages with the
// previous minute's. Too little history holds.
func (s *SMACrossover) Evaluate(ctx context.Context, now time.Time, inst domain.AlgorithmInstance) (domain.Action, int, error) {
	bars, err := s.env.Data.LastNBars(ctx, inst.Ticker, s.slow+1, now)
	if err != nil {
		return domain.ActionHold, 0, fmt.Errorf("fetching bars for %s: %w", inst.Ticker, err)
	}
	if len(bars) < s.slow+1 {
		return domain.ActionHold, 0, nil
	}

	prev, cur := bars[:len(bars)-1], bars
	prevFast, prevSlow := sma(prev, s.fast), sma(prev, s.slow)
	curFast, curSlow := sma(cur, s.fast), sma(cur, s.slow)

	txs, err := s.env.Txs.Transactions(ctx, inst.ID)
	if err != nil {
		return domain.ActionHold, 0, fmt.Errorf("reading transactions: %w", err)
	}
	held := position(txs)

	goldenCross := prevFast <= prevSlow && curFast > curSlow
	deathCross := prevFast >= prevSlow && curFast < curSlow

	switch {
	case goldenCross && held == 0:
		price := cur[len(cur)-1].OHLCV.Close
		if price <= 0 {
			return domain.ActionHold, 0, nil
		}
		shares := int(inst.InitialCapital * s.allocation / price)
		if shares < 1 {
			return domain.ActionHold, 0, nil
		}
		return domain.ActionBuy, shares, nil
	case deathCross && held > 0:
		return domain.ActionSell, held, nil
	default:
		return domain.ActionHold, 0, nil
	}
}
