package algo

import (
	"context"
	"fmt"
	"time"

	"autotrader/internal/domain"
	"autotrader/internal/marketcal"
)

// Compile-time interface check.
var _ Algorithm = (*Scalper)(nil)

// Scalper is an intraday breakout strategy: it buys when price clears the
// 20-minute high, sizes by ATR risk, and exits at an ATR stop, a 2R target,
// or the end of its trading window. It never holds past 15:55 ET.
type Scalper struct {
	env        Env
	atrPeriod  int
	lookback   int
	riskPct    float64 // fraction of capital risked per trade
	rewardRisk float64 // target distance as a multiple of the stop distance

	entryAfter time.Duration // offset from midnight ET, start of window
	exitAfter  time.Duration // offset from midnight ET, hard exit
}

// NewScalper creates the breakout scalper: ATR(14), 20-minute lookback,
// 1% risk, 2:1 reward-to-risk, trading 09:35 through 15:55 ET.
func NewScalper(env Env) *Scalper {
	return &Scalper{
		env:        env,
		atrPeriod:  14,
		lookback:   20,
		riskPct:    0.01,
		rewardRisk: 2.0,
		entryAfter: 9*time.Hour + 35*time.Minute,
		exitAfter:  15*time.Hour + 55*time.Minute,
	}
}

// Name returns "scalper".
func (s *Scalper) Name() string { return "scalper" }

// Evaluate implements the breakout rules for one minute.
func (s *Scalper) Evaluate(ctx context.Context, now time.Time, inst domain.AlgorithmInstance) (domain.Action, int, error) {
	need := s.lookback + s.atrPeriod + 1
	bars, err := s.env.Data.LastNBars(ctx, inst.Ticker, need, now)
	if err != nil {
		return domain.ActionHold, 0, fmt.Errorf("fetching bars for %s: %w", inst.Ticker, err)
	}

	txs, err := s.env.Txs.Transactions(ctx, inst.ID)
	if err != nil {
		return domain.ActionHold, 0, fmt.Errorf("reading transactions: %w", err)
	}
	held := position(txs)

	inWindow, err := s.inTradingWindow(now)
	if err != nil {
		return domain.ActionHold, 0, err
	}

	// Hard exit: never carry a position outside the window.
	if held > 0 && !inWindow {
		return domain.ActionSell, held, nil
	}
	if len(bars) < need {
		return domain.ActionHold, 0, nil
	}

	last := bars[len(bars)-1].OHLCV.Close
	rng := atr(bars, s.atrPeriod)
	if rng <= 0 || last <= 0 {
		return domain.ActionHold, 0, nil
	}

	if held > 0 {
		entry := lastBuyPrice(txs)
		stop := entry - rng
		target := entry + s.rewardRisk*rng
		if last <= stop || last >= target {
			return domain.ActionSell, held, nil
		}
		return domain.ActionHold, 0, nil
	}

	if !inWindow {
		return domain.ActionHold, 0, nil
	}
	if breakout := highestHigh(bars, s.lookback); breakout > 0 && last > breakout {
		shares := int(inst.InitialCapital * s.riskPct / rng)
		if shares < 1 {
			return domain.ActionHold, 0, nil
		}
		// Cap so the entry cost never exceeds the allocated capital.
		if max := int(inst.InitialCapital / last); shares > max {
			shares = max
		}
		if shares < 1 {
			return domain.ActionHold, 0, nil
		}
		return domain.ActionBuy, shares, nil
	}
	return domain.ActionHold, 0, nil
}

// inTradingWindow reports whether the ET wall-clock time of now falls inside
// [entryAfter, exitAfter).
func (s *Scalper) inTradingWindow(now time.Time) (bool, error) {
	loc, err := marketcal.MarketLocation()
	if err != nil {
		return false, err
	}
	local := now.In(loc)
	sinceMidnight := time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute
	return sinceMidnight >= s.entryAfter && sinceMidnight < s.exitAfter, nil
}
