package algo

import "autotrader/internal/domain"

// sma averages the closes of the last period bars. Returns 0 when there are
// too few bars.
func sma(bars []domain.Bar, period int) float64 {
	if period <= 0 || len(bars) < period {
		return 0
	}
	sum := 0.0
	for _, b := range bars[len(bars)-period:] {
		sum += b.OHLCV.Close
	}
	return sum / float64(period)
}

// atr computes the average true range over the last period bars using simple
// averaging. Needs period+1 bars for the previous-close term; returns 0
// otherwise.
func atr(bars []domain.Bar, period int) float64 {
	if period <= 0 || len(bars) < period+1 {
		return 0
	}
	window := bars[len(bars)-period-1:]
	sum := 0.0
	for i := 1; i < len(window); i++ {
		cur, prev := window[i].OHLCV, window[i-1].OHLCV
		tr := cur.High - cur.Low
		if d := cur.High - prev.Close; d > tr {
			tr = d
		}
		if d := prev.Close - cur.Low; d > tr {
			tr = d
		}
		sum += tr
	}
	return sum / float64(period)
}

// highestHigh returns the maximum high across the last period bars, excluding
// the final bar (the breakout candidate itself).
func highestHigh(bars []domain.Bar, period int) float64 {
	if len(bars) < period+1 {
		return 0
	}
	window := bars[len(bars)-period-1 : len(bars)-1]
	high := 0.0
	for _, b := range window {
		if b.OHLCV.High > high {
			high = b.OHLCV.High
		}
	}
	return high
}
