package marketcal

import (
	"context"
	"strings"
	"testing"
	"time"
)

// fakeProvider serves a canned schedule.
type fakeProvider struct {
	days []TradingDay
	err  error
}

func (f *fakeProvider) Schedule(_ context.Context, startDate, endDate string) ([]TradingDay, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []TradingDay
	for _, d := range f.days {
		if d.Date >= startDate && d.Date <= endDate {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeProvider) IsOpenNow(context.Context) bool          { return false }
func (f *fakeProvider) Status(context.Context) (MarketStatus, error) { return MarketStatus{}, nil }

func TestMinutesForDayRegularSession(t *testing.T) {
	loc, err := MarketLocation()
	if err != nil {
		t.Fatalf("MarketLocation: %v", err)
	}

	// Winter date: ET = UTC-5.
	day := TradingDay{Date: "2024-01-02", Open: "09:30", Close: "16:00"}
	minutes, err := MinutesForDay(day, loc)
	if err != nil {
		t.Fatalf("MinutesForDay: %v", err)
	}

	if len(minutes) != 390 {
		t.Fatalf("regular session minutes = %d, want 390", len(minutes))
	}
	if minutes[0] != "2024-01-02T14:30:00Z" {
		t.Errorf("first minute = %s, want 2024-01-02T14:30:00Z", minutes[0])
	}
	if minutes[len(minutes)-1] != "2024-01-02T20:59:00Z" {
		t.Errorf("last minute = %s, want 2024-01-02T20:59:00Z (close - 1m)", minutes[len(minutes)-1])
	}
}

func TestMinutesForDayDaylightSaving(t *testing.T) {
	loc, err := MarketLocation()
	if err != nil {
		t.Fatalf("MarketLocation: %v", err)
	}

	// Summer date: ET = UTC-4, so the open shifts an hour earlier in UTC.
	day := TradingDay{Date: "2024-07-01", Open: "09:30", Close: "16:00"}
	minutes, err := MinutesForDay(day, loc)
	if err != nil {
		t.Fatalf("MinutesForDay: %v", err)
	}

	if minutes[0] != "2024-07-01T13:30:00Z" {
		t.Errorf("DST first minute = %s, want 2024-07-01T13:30:00Z", minutes[0])
	}
	if len(minutes) != 390 {
		t.Errorf("DST session minutes = %d, want 390", len(minutes))
	}
}

func TestMinutesForDayEarlyClose(t *testing.T) {
	loc, _ := MarketLocation()

	// Day after Thanksgiving closes at 13:00.
	day := TradingDay{Date: "2024-11-29", Open: "09:30", Close: "13:00"}
	minutes, err := MinutesForDay(day, loc)
	if err != nil {
		t.Fatalf("MinutesForDay: %v", err)
	}

	if len(minutes) != 210 {
		t.Fatalf("early close minutes = %d, want 210", len(minutes))
	}
	if !strings.HasSuffix(minutes[len(minutes)-1], "17:59:00Z") {
		t.Errorf("early close last minute = %s, want ...17:59:00Z (12:59 ET)", minutes[len(minutes)-1])
	}
}

func TestBuildUniverseSortedUnique(t *testing.T) {
	p := &fakeProvider{days: []TradingDay{
		{Date: "2024-01-02", Open: "09:30", Close: "16:00"},
		{Date: "2024-01-03", Open: "09:30", Close: "16:00"},
	}}

	minutes, err := BuildUniverse(context.Background(), p, 2024, 2024)
	if err != nil {
		t.Fatalf("BuildUniverse: %v", err)
	}
	if len(minutes) != 780 {
		t.Fatalf("universe size = %d, want 780", len(minutes))
	}

	seen := make(map[string]bool, len(minutes))
	for i, m := range minutes {
		if seen[m] {
			t.Fatalf("duplicate minute %s", m)
		}
		seen[m] = true
		if i > 0 && minutes[i-1] >= m {
			t.Fatalf("universe not sorted at index %d: %s >= %s", i, minutes[i-1], m)
		}
	}

	// No weekend minute appears between the two days: the gap between the
	// last minute of day 1 and the first of day 2 skips straight over.
	if minutes[389] != "2024-01-02T20:59:00Z" || minutes[390] != "2024-01-03T14:30:00Z" {
		t.Errorf("day boundary = %s -> %s", minutes[389], minutes[390])
	}
}

func TestBuildUniverseEmptyScheduleFatal(t *testing.T) {
	p := &fakeProvider{}
	if _, err := BuildUniverse(context.Background(), p, 2024, 2024); err == nil {
		t.Fatal("BuildUniverse accepted an empty schedule")
	}
}

func TestSessionWindow(t *testing.T) {
	p := &fakeProvider{days: []TradingDay{
		{Date: "2024-01-02", Open: "09:30", Close: "16:00"},
		{Date: "2024-01-03", Open: "09:30", Close: "13:00"},
	}}

	start, end, ok, err := SessionWindow(context.Background(), p, "2024-01-02", "2024-01-03")
	if err != nil {
		t.Fatalf("SessionWindow: %v", err)
	}
	if !ok {
		t.Fatal("SessionWindow reported no trading days")
	}
	if want := time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC); !start.Equal(want) {
		t.Errorf("start = %v, want %v", start, want)
	}
	// Early close on the second day.
	if want := time.Date(2024, 1, 3, 18, 0, 0, 0, time.UTC); !end.Equal(want) {
		t.Errorf("end = %v, want %v", end, want)
	}

	_, _, ok, err = SessionWindow(context.Background(), p, "2024-01-06", "2024-01-07")
	if err != nil {
		t.Fatalf("SessionWindow (weekend): %v", err)
	}
	if ok {
		t.Error("SessionWindow reported trading days for a weekend")
	}
}

func TestNextTradingDay(t *testing.T) {
	p := &fakeProvider{days: []TradingDay{
		{Date: "2024-01-02", Open: "09:30", Close: "16:00"},
		{Date: "2024-01-03", Open: "09:30", Close: "16:00"},
	}}

	next, err := NextTradingDay(context.Background(), p, "2024-01-02")
	if err != nil {
		t.Fatalf("NextTradingDay: %v", err)
	}
	if next != "2024-01-03" {
		t.Errorf("next = %s, want 2024-01-03", next)
	}
}
