package ledger

import (
	"context"
	"fmt"

	"autotrader/internal/domain"
)

// Card is the derived dashboard view of one algorithm instance: position and
// profit computed by folding over the transaction log at a current price.
type Card struct {
	Instance      domain.AlgorithmInstance `json:"instance"`
	Position      int                      `json:"position"`
	NetInvested   float64                  `json:"net_invested"`
	CurrentValue  float64                  `json:"current_value"`
	ProfitLoss    float64                  `json:"profit_loss"`
	ProfitLossPct float64                  `json:"profit_loss_pct"`
	CurrentPrice  float64                  `json:"current_price"`
	Transactions  int                      `json:"transaction_count"`
}

// Position folds the transaction log into the instance's current share count.
func (l *Ledger) Position(ctx context.Context, algorithmID int64) (int, error) {
	txs, err := l.Transactions(ctx, algorithmID)
	if err != nil {
		return 0, err
	}
	return foldPosition(txs), nil
}

// BuildCard computes the dashboard card for an instance at the given current
// price. A zero price is valid when no bar exists yet; the open position is
// then valued at zero.
func (l *Ledger) BuildCard(ctx context.Context, instance domain.AlgorithmInstance, currentPrice float64) (Card, error) {
	txs, err := l.Transactions(ctx, instance.ID)
	if err != nil {
		return Card{}, fmt.Errorf("building card for instance %d: %w", instance.ID, err)
	}

	position := foldPosition(txs)
	invested := foldNetInvested(txs)
	currentValue := float64(position) * currentPrice
	pnl := currentValue - invested

	card := Card{
		Instance:     instance,
		Position:     position,
		NetInvested:  invested,
		CurrentValue: currentValue,
		ProfitLoss:   pnl,
		CurrentPrice: currentPrice,
		Transactions: len(txs),
	}
	if instance.InitialCapital > 0 {
		card.ProfitLossPct = pnl / instance.InitialCapital * 100
	}
	return card, nil
}

// foldPosition sums buys minus sells.
func foldPosition(txs []domain.Transaction) int {
	position := 0
	for _, tx := range txs {
		if tx.Side == domain.TxBuy {
			position += tx.Shares
		} else {
			position -= tx.Shares
		}
	}
	return position
}

// foldNetInvested sums cash out on buys minus cash back on sells.
func foldNetInvested(txs []domain.Transaction) float64 {
	invested := 0.0
	for _, tx := range txs {
		amount := float64(tx.Shares) * tx.Price
		if tx.Side == domain.TxBuy {
			invested += amount
		} else {
			invested -= amount
		}
	}
	return invested
}
