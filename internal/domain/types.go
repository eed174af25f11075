// Package domain defines the core data types shared across the autotrader
// system: OHLCV bars, backfill results, strategy actions, and ledger records.
package domain

import "time"

// MinuteFormat is the canonical timestamp layout for market minutes: UTC,
// second precision, 'Z' suffix. Every bar key and wire timestamp uses it.
const MinuteFormat = "2006-01-02T15:04:05Z"

// DateFormat is the calendar-date layout used by backfill ranges and the
// trading calendar.
const DateFormat = "2006-01-02"

// FormatMinute renders t as a canonical market-minute key.
func FormatMinute(t time.Time) string {
	return t.UTC().Format(MinuteFormat)
}

// ParseMinute parses a canonical market-minute key back into a UTC time.
func ParseMinute(s string) (time.Time, error) {
	return time.Parse(MinuteFormat, s)
}

// ---------------------------------------------------------------------------
// Bars
// ---------------------------------------------------------------------------

// OHLCV holds one minute of price and volume data. The short JSON keys match
// the stored column format.
type OHLCV struct {
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Volume int64   `json:"v"`
}

// Bar is one (ticker, minute) data point in wire format. Timestamp is a
// canonical MinuteFormat string.
type Bar struct {
	Timestamp string `json:"timestamp"`
	OHLCV     OHLCV  `json:"ohlcv"`
}

// Time returns the bar's timestamp as a UTC time. Invalid timestamps return
// the zero time.
func (b Bar) Time() time.Time {
	t, err := ParseMinute(b.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ---------------------------------------------------------------------------
// Backfill results
// ---------------------------------------------------------------------------

// FetchStatus classifies the outcome of a historical backfill call.
type FetchStatus string

const (
	// FetchOK means the provider returned bars; RowsWritten says how many
	// were new.
	FetchOK FetchStatus = "fetched"
	// FetchNoData means the provider returned nothing (unknown ticker,
	// non-trading range, or upstream timeout). Not an error.
	FetchNoData FetchStatus = "no_data"
	// FetchError means the fetch itself failed (transport, auth, provider).
	FetchError FetchStatus = "error"
)

// FetchResult is the structured outcome of a single-ticker backfill.
type FetchResult struct {
	Status      FetchStatus `json:"status"`
	DataPoints  int         `json:"data_points"`
	RowsWritten int64       `json:"rows_written"`
	Reason      string      `json:"reason,omitempty"`
	Err         error       `json:"-"`
}

// BatchResult aggregates a multi-ticker backfill run.
type BatchResult struct {
	Total       int                    `json:"total_tickers"`
	Successful  int                    `json:"successful"`
	Failed      int                    `json:"failed"`
	RowsWritten int64                  `json:"total_rows_written"`
	PerTicker   map[string]FetchResult `json:"ticker_results"`
}

// ---------------------------------------------------------------------------
// Strategy actions
// ---------------------------------------------------------------------------

// Action is a strategy's per-minute trading decision.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// ValidDecision reports whether (action, shares) is a well-formed strategy
// response: a known action, non-negative shares, and zero shares only with
// hold.
func ValidDecision(action Action, shares int) bool {
	switch action {
	case ActionHold:
		return shares == 0
	case ActionBuy, ActionSell:
		return shares > 0
	default:
		return false
	}
}

// ---------------------------------------------------------------------------
// Ledger records
// ---------------------------------------------------------------------------

// InstanceStatus is the lifecycle state of an algorithm instance.
type InstanceStatus string

const (
	StatusRunning InstanceStatus = "running"
	StatusStopped InstanceStatus = "stopped"
)

// AlgorithmInstance is one configured run of a strategy against a ticker.
type AlgorithmInstance struct {
	ID             int64          `json:"id"`
	DisplayName    string         `json:"display_name"`
	Type           string         `json:"algorithm_type"`
	Ticker         string         `json:"ticker"`
	InitialCapital float64        `json:"initial_capital"`
	Status         InstanceStatus `json:"status"`
	CreatedAt      string         `json:"created_at"`
	StoppedAt      string         `json:"stopped_at,omitempty"`
}

// TxSide is the direction of a recorded fill.
type TxSide string

const (
	TxBuy  TxSide = "buy"
	TxSell TxSide = "sell"
)

// Transaction is an immutable buy/sell record. Position and cash are always
// derived by folding over the transaction log, never stored.
type Transaction struct {
	ID          int64   `json:"id"`
	AlgorithmID int64   `json:"algorithm_id"`
	Side        TxSide  `json:"type"`
	Shares      int     `json:"shares"`
	Price       float64 `json:"price"`
	Timestamp   string  `json:"timestamp"`
}
