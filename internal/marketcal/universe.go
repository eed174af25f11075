package marketcal

import (
	"context"
	"fmt"
	"time"

	"autotrader/internal/domain"
)

// marketTimezone is the exchange-local zone all session clock times are
// expressed in.
const marketTimezone = "America/New_York"

// MarketLocation loads the exchange timezone.
func MarketLocation() (*time.Location, error) {
	loc, err := time.LoadLocation(marketTimezone)
	if err != nil {
		return nil, fmt.Errorf("loading %s timezone: %w", marketTimezone, err)
	}
	return loc, nil
}

// MinutesForDay enumerates every bar-start minute of a single trading day as
// canonical UTC timestamps: open through close−1m inclusive, converted from
// exchange-local time so standard/daylight transitions come out right.
func MinutesForDay(day TradingDay, loc *time.Location) ([]string, error) {
	open, err := time.ParseInLocation("2006-01-02 15:04", day.Date+" "+day.Open, loc)
	if err != nil {
		return nil, fmt.Errorf("parsing open %q %q: %w", day.Date, day.Open, err)
	}
	closeT, err := time.ParseInLocation("2006-01-02 15:04", day.Date+" "+day.Close, loc)
	if err != nil {
		return nil, fmt.Errorf("parsing close %q %q: %w", day.Date, day.Close, err)
	}

	// The close instant is not a bar start; the last bar of the session
	// begins one minute before it.
	last := closeT.Add(-time.Minute)
	if last.Before(open) {
		return nil, fmt.Errorf("session %s closes (%s) before it opens (%s)", day.Date, day.Close, day.Open)
	}

	minutes := make([]string, 0, int(last.Sub(open)/time.Minute)+1)
	for t := open; !t.After(last); t = t.Add(time.Minute) {
		minutes = append(minutes, domain.FormatMinute(t))
	}
	return minutes, nil
}

// BuildUniverse enumerates every valid market minute from startYear through
// endYear inclusive, globally sorted and duplicate-free. An empty schedule
// is fatal: a store keyed by zero valid minutes is useless and silently
// corrupts every downstream invariant.
func BuildUniverse(ctx context.Context, p Provider, startYear, endYear int) ([]string, error) {
	loc, err := MarketLocation()
	if err != nil {
		return nil, err
	}

	startDate := fmt.Sprintf("%d-01-01", startYear)
	endDate := fmt.Sprintf("%d-12-31", endYear)

	schedule, err := p.Schedule(ctx, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("fetching market schedule %s to %s: %w", startDate, endDate, err)
	}
	if len(schedule) == 0 {
		return nil, fmt.Errorf("no trading days returned for %s to %s", startDate, endDate)
	}

	// ~390 minutes per regular session.
	minutes := make([]string, 0, len(schedule)*390)
	for _, day := range schedule {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dayMinutes, err := MinutesForDay(day, loc)
		if err != nil {
			return nil, fmt.Errorf("generating minutes for %s: %w", day.Date, err)
		}
		minutes = append(minutes, dayMinutes...)
	}

	return minutes, nil
}

// SessionWindow returns the UTC start and end instants spanning the trading
// sessions of [startDate, endDate] according to the schedule: the first
// day's open through the last day's close. ok is false when the range
// contains no trading days.
func SessionWindow(ctx context.Context, p Provider, startDate, endDate string) (start, end time.Time, ok bool, err error) {
	schedule, err := p.Schedule(ctx, startDate, endDate)
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	if len(schedule) == 0 {
		return time.Time{}, time.Time{}, false, nil
	}

	loc, err := MarketLocation()
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}

	first, last := schedule[0], schedule[len(schedule)-1]
	open, err := time.ParseInLocation("2006-01-02 15:04", first.Date+" "+first.Open, loc)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("parsing open of %s: %w", first.Date, err)
	}
	closeT, err := time.ParseInLocation("2006-01-02 15:04", last.Date+" "+last.Close, loc)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("parsing close of %s: %w", last.Date, err)
	}

	return open.UTC(), closeT.UTC(), true, nil
}
