package broker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
)

// Compile-time interface check.
var _ Broker = (*AlpacaBroker)(nil)

// tradingAPI is the slice of the Alpaca trading client the broker uses.
type tradingAPI interface {
	GetAccount() (*alpaca.Account, error)
	GetAsset(symbol string) (*alpaca.Asset, error)
	PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error)
	GetOrder(orderID string) (*alpaca.Order, error)
}

// AlpacaBroker executes orders through the Alpaca trading API. Market orders
// are re-polled briefly after submission to resolve the actual fill price.
type AlpacaBroker struct {
	client tradingAPI
	log    *slog.Logger

	// fill-resolution polling, overridable in tests
	pollInterval time.Duration
	maxPolls     int
}

// NewAlpacaBroker creates a broker against the given trading endpoint
// (paper or live).
func NewAlpacaBroker(apiKey, apiSecret, baseURL string) *AlpacaBroker {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
	return &AlpacaBroker{
		client:       client,
		log:          slog.Default().With("component", "broker"),
		pollInterval: time.Second,
		maxPolls:     5,
	}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string { return "alpaca" }

// AccountCash returns the account's available cash.
func (b *AlpacaBroker) AccountCash(_ context.Context) (float64, error) {
	acct, err := b.client.GetAccount()
	if err != nil {
		return 0, fmt.Errorf("fetching account: %w", err)
	}
	return acct.Cash.InexactFloat64(), nil
}

// ValidateTicker checks that the asset exists, is active and tradable, and
// is not OTC-listed.
func (b *AlpacaBroker) ValidateTicker(_ context.Context, ticker string) (bool, string, error) {
	asset, err := b.client.GetAsset(strings.ToUpper(ticker))
	if err != nil {
		// The API reports unknown symbols as an error; treat that as an
		// invalid ticker rather than a transport failure.
		if strings.Contains(err.Error(), "not found") || strings.Contains(err.Error(), "404") {
			return false, "asset not found", nil
		}
		return false, "", fmt.Errorf("looking up asset %s: %w", ticker, err)
	}
	if asset.Status != alpaca.AssetActive {
		return false, "asset is not active", nil
	}
	if !asset.Tradable {
		return false, "asset is not tradable", nil
	}
	if asset.Exchange == "OTC" {
		return false, "OTC assets are not supported", nil
	}
	return true, "", nil
}

// MarketBuy submits a day market buy order and resolves its fill price.
func (b *AlpacaBroker) MarketBuy(ctx context.Context, ticker string, shares int) (Fill, error) {
	return b.marketOrder(ctx, ticker, shares, alpaca.Buy)
}

// MarketSell submits a day market sell order and resolves its fill price.
func (b *AlpacaBroker) MarketSell(ctx context.Context, ticker string, shares int) (Fill, error) {
	return b.marketOrder(ctx, ticker, shares, alpaca.Sell)
}

func (b *AlpacaBroker) marketOrder(ctx context.Context, ticker string, shares int, side alpaca.Side) (Fill, error) {
	if shares <= 0 {
		return Fill{}, fmt.Errorf("invalid share count %d", shares)
	}

	qty := decimal.NewFromInt(int64(shares))
	order, err := b.client.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:      strings.ToUpper(ticker),
		Qty:         &qty,
		Side:        side,
		Type:        alpaca.Market,
		TimeInForce: alpaca.Day,
	})
	if err != nil {
		return Fill{}, fmt.Errorf("placing %s order for %s: %w", side, ticker, err)
	}

	b.log.Info("order placed",
		"ticker", ticker, "side", side, "shares", shares, "order_id", order.ID)

	// The submit response rarely carries the fill; re-poll briefly.
	for i := 0; i < b.maxPolls; i++ {
		if order.FilledAvgPrice != nil {
			return Fill{
				OrderID: order.ID,
				Shares:  int(order.FilledQty.IntPart()),
				Price:   order.FilledAvgPrice.InexactFloat64(),
			}, nil
		}

		select {
		case <-ctx.Done():
			return Fill{}, ctx.Err()
		case <-time.After(b.pollInterval):
		}

		polled, err := b.client.GetOrder(order.ID)
		if err != nil {
			return Fill{}, fmt.Errorf("polling order %s: %w", order.ID, err)
		}
		order = polled
	}

	return Fill{}, fmt.Errorf("order %s not filled after %d polls", order.ID, b.maxPolls)
}
