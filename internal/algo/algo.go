// Package algo defines the trading-algorithm contract and a registry of the
// built-in strategies. An algorithm's only data dependencies are the bar
// store's query interface and the transaction-history reader.
package algo

import (
	"context"
	"sort"
	"time"

	"autotrader/internal/domain"
)

// DataSource is the bar-store query surface available to algorithms.
type DataSource interface {
	LastNBars(ctx context.Context, ticker string, n int, before time.Time) ([]domain.Bar, error)
	TimeRange(ctx context.Context, ticker string, start, end time.Time) ([]domain.Bar, error)
}

// TxReader exposes an instance's fill history.
type TxReader interface {
	Transactions(ctx context.Context, algorithmID int64) ([]domain.Transaction, error)
}

// Env bundles the two data dependencies an algorithm may use.
type Env struct {
	Data DataSource
	Txs  TxReader
}

// Algorithm is one rule-based trading strategy. Evaluate returns the decision
// for the given instance at the given minute: buy/sell with a positive share
// count, or hold with zero.
type Algorithm interface {
	// Name returns the unique identifier for this algorithm.
	Name() string

	// Evaluate computes the instance's decision for the current minute.
	Evaluate(ctx context.Context, now time.Time, inst domain.AlgorithmInstance) (domain.Action, int, error)
}

// Registry holds the available algorithms keyed by name.
type Registry struct {
	algorithms map[string]Algorithm
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{algorithms: make(map[string]Algorithm)}
}

// Register adds an algorithm, keyed by its Name().
func (r *Registry) Register(a Algorithm) {
	r.algorithms[a.Name()] = a
}

// Get retrieves an algorithm by name.
func (r *Registry) Get(name string) (Algorithm, bool) {
	a, ok := r.algorithms[name]
	return a, ok
}

// List returns the sorted registered algorithm names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.algorithms))
	for name := range r.algorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns a Registry with all built-in algorithms wired to
// the given environment.
func DefaultRegistry(env Env) *Registry {
	r := NewRegistry()
	r.Register(NewSMACrossover(env))
	r.Register(NewScalper(env))
	r.Register(NewTrendFollower(env))
	return r
}

// position folds a fill history into the current share count.
func position(txs []domain.Transaction) int {
	shares := 0
	for _, tx := range txs {
		if tx.Side == domain.TxBuy {
			shares += tx.Shares
		} else {
			shares -= tx.Shares
		}
	}
	return shares
}

// lastBuyPrice returns the price of the most recent buy, or 0 if none.
func lastBuyPrice(txs []domain.Transaction) float64 {
	for i := len(txs) - 1; i >= 0; i-- {
		if txs[i].Side == domain.TxBuy {
			return txs[i].Price
		}
	}
	return 0
}
