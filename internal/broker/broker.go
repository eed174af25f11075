// Package broker wraps order execution: cash balance, ticker validation,
// and market buy/sell with fill-price resolution.
package broker

import "context"

// Fill is the outcome of an executed market order.
type Fill struct {
	OrderID string  `json:"order_id"`
	Shares  int     `json:"shares"`
	Price   float64 `json:"price"`
}

// Broker is the order-execution surface consumed by the orchestrator and the
// dashboard API.
type Broker interface {
	// Name identifies the implementation ("alpaca", "sim").
	Name() string

	// AccountCash returns the available cash balance.
	AccountCash(ctx context.Context) (float64, error)

	// ValidateTicker reports whether ticker is tradable through this broker.
	// A false result carries a human-readable reason; the error return is for
	// transport failures only.
	ValidateTicker(ctx context.Context, ticker string) (bool, string, error)

	// MarketBuy submits a market buy and resolves the fill price.
	MarketBuy(ctx context.Context, ticker string, shares int) (Fill, error)

	// MarketSell submits a market sell and resolves the fill price.
	MarketSell(ctx context.Context, ticker string, shares int) (Fill, error)
}
