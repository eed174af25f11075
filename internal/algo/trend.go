package algo

import (
	"context"
	"fmt"
	"time"

	"autotrader/internal/domain"
)

// Compile-time interface check.
var _ Algorithm = (*TrendFollower)(nil)

// TrendFollower holds a position while price stays above its 20-minute
// average, with a small band around the average to keep it from churning on
// noise.
type TrendFollower struct {
	env        Env
	period     int
	band       float64 // entry/exit threshold as a fraction of the average
	allocation float64
}

// NewTrendFollower creates the trend follower: SMA(20), a 0.2% band, and a
// 95% capital allocation.
func NewTrendFollower(env Env) *TrendFollower {
	return &TrendFollower{env: env, period: 20, band: 0.002, allocation: 0.95}
}

// Name returns "trend_follower".
func (t *TrendFollower) Name() string { return "trend_follower" }

// Evaluate buys when the close clears the average by the band, sells the
// whole position when it drops below by the band, and otherwise holds.
func (t *TrendFollower) Evaluate(ctx context.Context, now time.Time, inst domain.AlgorithmInstance) (domain.Action, int, error) {
	bars, err := t.env.Data.LastNBars(ctx, inst.Ticker, t.period, now)
	if err != nil {
		return domain.ActionHold, 0, fmt.Errorf("fetching bars for %s: %w", inst.Ticker, err)
	}
	if len(bars) < t.period {
		return domain.ActionHold, 0, nil
	}

	avg := sma(bars, t.period)
	last := bars[len(bars)-1].OHLCV.Close
	if avg <= 0 || last <= 0 {
		return domain.ActionHold, 0, nil
	}

	txs, err := t.env.Txs.Transactions(ctx, inst.ID)
	if err != nil {
		return domain.ActionHold, 0, fmt.Errorf("reading transactions: %w", err)
	}
	held := position(txs)

	switch {
	case held == 0 && last > avg*(1+t.band):
		shares := int(inst.InitialCapital * t.allocation / last)
		if shares < 1 {
			return domain.ActionHold, 0, nil
		}
		return domain.ActionBuy, shares, nil
	case held > 0 && last < avg*(1-t.band):
		return domain.ActionSell, held, nil
	default:
		return domain.ActionHold, 0, nil
	}
}
