package httpapi

import (
	"autotrader/internal/domain"
	"autotrader/internal/ledger"
)

// ValidatePINRequest is the body of POST /api/validate-pin.
type ValidatePINRequest struct {
	PIN string `json:"pin"`
}

// ValidatePINResponse reports whether the submitted PIN matched.
type ValidatePINResponse struct {
	Valid bool `json:"valid"`
}

// CreateAlgorithmRequest is the body of POST /api/algorithms.
type CreateAlgorithmRequest struct {
	AlgorithmType  string  `json:"algorithm_type"`
	Ticker         string  `json:"ticker"`
	InitialCapital float64 `json:"initial_capital"`
}

// AlgorithmsResponse wraps the dashboard cards for all instances together
// with the account-level context the dashboard header shows.
type AlgorithmsResponse struct {
	Algorithms    []ledger.Card `json:"algorithms"`
	MarketOpen    bool          `json:"market_open"`
	AvailableCash float64       `json:"available_cash"`
}

// DeleteAlgorithmResponse reports the outcome of stopping an instance.
type DeleteAlgorithmResponse struct {
	Stopped    bool `json:"stopped"`
	SharesSold int  `json:"shares_sold"`
}

// AvailableAlgorithmsResponse lists the registered algorithm type names.
type AvailableAlgorithmsResponse struct {
	Algorithms []string `json:"algorithms"`
}

// AccountCashResponse carries the broker account's cash balance.
type AccountCashResponse struct {
	Cash float64 `json:"cash"`
}

// ValidateTickerResponse reports whether a ticker is tradable.
type ValidateTickerResponse struct {
	Ticker string `json:"ticker"`
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// LatestBarResponse carries the most recent stored bar for a ticker, or a
// no_data status when the ticker has no bars yet.
type LatestBarResponse struct {
	Ticker string      `json:"ticker"`
	Status string      `json:"status"`
	Bar    *domain.Bar `json:"bar,omitempty"`
}
