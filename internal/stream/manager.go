package stream

import (
	"log/slog"
	"sort"
	"sync"
)

// subscriber is the slice of the ingestor the manager drives.
type subscriber interface {
	Subscribe(symbols ...string) error
	Unsubscribe(symbols ...string) error
}

// Manager reference-counts live-bar subscriptions per ticker. Multiple
// algorithm instances on the same ticker share one provider subscription;
// the last instance to leave tears it down.
type Manager struct {
	sub subscriber
	log *slog.Logger

	mu   sync.Mutex
	refs map[string]int
}

// NewManager builds a subscription manager over the given ingestor.
func NewManager(sub subscriber) *Manager {
	return &Manager{
		sub:  sub,
		log:  slog.Default().With("component", "stream-manager"),
		refs: make(map[string]int),
	}
}

// Add increments ticker's refcount, subscribing on the 0 -> 1 transition.
func (m *Manager) Add(ticker string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refs[ticker] == 0 {
		if err := m.sub.Subscribe(ticker); err != nil {
			return err
		}
	}
	m.refs[ticker]++
	m.log.Debug("subscription ref added", "ticker", ticker, "refs", m.refs[ticker])
	return nil
}

// Remove decrements ticker's refcount, unsubscribing on the 1 -> 0
// transition. Removing an untracked ticker is a no-op.
func (m *Manager) Remove(ticker string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.refs[ticker]
	if !ok {
		return nil
	}
	if n <= 1 {
		if err := m.sub.Unsubscribe(ticker); err != nil {
			return err
		}
		delete(m.refs, ticker)
		m.log.Debug("subscription released", "ticker", ticker)
		return nil
	}
	m.refs[ticker] = n - 1
	m.log.Debug("subscription ref removed", "ticker", ticker, "refs", m.refs[ticker])
	return nil
}

// AddAll registers one reference per ticker, used at startup to restore
// subscriptions for running algorithm instances. Duplicate tickers in the
// slice each count as a reference.
func (m *Manager) AddAll(tickers []string) error {
	for _, t := range tickers {
		if err := m.Add(t); err != nil {
			return err
		}
	}
	return nil
}

// Active returns the currently subscribed tickers, sorted.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.refs))
	for t := range m.refs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
