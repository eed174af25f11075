// Package orchestrator runs every algorithm instance once per market minute:
// gate on market hours, evaluate, validate the decision, execute through the
// broker, and record the fill in the ledger.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"autotrader/internal/algo"
	"autotrader/internal/broker"
	"autotrader/internal/domain"
)

// tickSpec fires two seconds past each minute, after the minute's closing
// bar has had time to arrive over the stream.
const tickSpec = "2 * * * * *"

// maxFailures is the consecutive-error count after which an instance is
// quarantined until restart.
const maxFailures = 3

// marketGate is the slice of the calendar provider the orchestrator gates on.
type marketGate interface {
	IsOpenNow(ctx context.Context) bool
}

// ledgerAPI is the slice of the ledger the orchestrator drives.
type ledgerAPI interface {
	RunningInstances(ctx context.Context) ([]domain.AlgorithmInstance, error)
	RecordTransaction(ctx context.Context, algorithmID int64, side domain.TxSide, shares int, price float64, at time.Time) (domain.Transaction, error)
}

// Orchestrator is the per-minute scheduler.
type Orchestrator struct {
	cal      marketGate
	ledger   ledgerAPI
	registry *algo.Registry
	broker   broker.Broker
	cron     *cron.Cron
	log      *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	failures map[int64]int
	wasOpen  bool
}

// New builds an Orchestrator over the given collaborators.
func New(cal marketGate, led ledgerAPI, registry *algo.Registry, b broker.Broker) *Orchestrator {
	return &Orchestrator{
		cal:      cal,
		ledger:   led,
		registry: registry,
		broker:   b,
		cron:     cron.New(cron.WithSeconds()),
		log:      slog.Default().With("component", "orchestrator"),
		now:      time.Now,
		failures: make(map[int64]int),
	}
}

// Start registers the minute tick and starts the scheduler.
func (o *Orchestrator) Start(ctx context.Context) error {
	if _, err := o.cron.AddFunc(tickSpec, func() { o.Tick(ctx) }); err != nil {
		return fmt.Errorf("register minute tick: %w", err)
	}
	o.cron.Start()
	o.log.Info("orchestrator started", "schedule", tickSpec)
	return nil
}

// Stop stops the scheduler, waiting for a running tick to finish.
func (o *Orchestrator) Stop() {
	<-o.cron.Stop().Done()
	o.log.Info("orchestrator stopped")
}

// Tick executes one scheduling round. Exported so tests and manual triggers
// can drive it directly.
func (o *Orchestrator) Tick(ctx context.Context) {
	open := o.cal.IsOpenNow(ctx)
	o.mu.Lock()
	if open != o.wasOpen {
		if open {
			o.log.Info("market opened, resuming algorithm runs")
		} else {
			o.log.Info("market closed, pausing algorithm runs")
		}
		o.wasOpen = open
	}
	o.mu.Unlock()
	if !open {
		return
	}

	instances, err := o.ledger.RunningInstances(ctx)
	if err != nil {
		o.log.Error("listing running instances", "error", err)
		return
	}

	// The tick fires just after a minute boundary, so the boundary minute's
	// own bar has not arrived yet; strategies see data only through the last
	// completed minute.
	now := o.now().UTC().Truncate(time.Minute).Add(-time.Minute)
	for _, inst := range instances {
		o.runInstance(ctx, now, inst)
	}
}

// runInstance evaluates and executes one instance. Algorithm failures are
// counted and quarantine the instance after maxFailures in a row; the rest
// of the round always proceeds.
func (o *Orchestrator) runInstance(ctx context.Context, now time.Time, inst domain.AlgorithmInstance) {
	if o.isQuarantined(inst.ID) {
		return
	}

	alg, ok := o.registry.Get(inst.Type)
	if !ok {
		o.log.Error("unknown algorithm type, quarantining",
			"instance", inst.ID, "type", inst.Type)
		o.setFailures(inst.ID, maxFailures)
		return
	}

	action, shares, err := alg.Evaluate(ctx, now, inst)
	if err != nil {
		o.recordFailure(inst, err)
		return
	}
	if !domain.ValidDecision(action, shares) {
		o.recordFailure(inst, fmt.Errorf("invalid decision %s/%d", action, shares))
		return
	}
	o.setFailures(inst.ID, 0)

	if action == domain.ActionHold {
		return
	}

	var fill broker.Fill
	var side domain.TxSide
	switch action {
	case domain.ActionBuy:
		side = domain.TxBuy
		fill, err = o.broker.MarketBuy(ctx, inst.Ticker, shares)
	case domain.ActionSell:
		side = domain.TxSell
		fill, err = o.broker.MarketSell(ctx, inst.Ticker, shares)
	}
	if err != nil {
		// Broker outages are not the algorithm's fault; no quarantine.
		o.log.Error("order execution failed",
			"instance", inst.ID, "ticker", inst.Ticker, "action", action,
			"shares", shares, "error", err)
		return
	}

	if _, err := o.ledger.RecordTransaction(ctx, inst.ID, side, fill.Shares, fill.Price, now); err != nil {
		o.log.Error("recording transaction",
			"instance", inst.ID, "order_id", fill.OrderID, "error", err)
		return
	}
	o.log.Info("order executed",
		"instance", inst.ID, "ticker", inst.Ticker, "side", side,
		"shares", fill.Shares, "price", fill.Price)
}

func (o *Orchestrator) isQuarantined(id int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failures[id] >= maxFailures
}

func (o *Orchestrator) setFailures(id int64, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if n == 0 {
		delete(o.failures, id)
		return
	}
	o.failures[id] = n
}

func (o *Orchestrator) recordFailure(inst domain.AlgorithmInstance, err error) {
	o.mu.Lock()
	o.failures[inst.ID]++
	n := o.failures[inst.ID]
	o.mu.Unlock()

	if n >= maxFailures {
		o.log.Error("algorithm quarantined after repeated failures",
			"instance", inst.ID, "type", inst.Type, "failures", n, "error", err)
		return
	}
	o.log.Warn("algorithm run failed",
		"instance", inst.ID, "type", inst.Type, "failures", n, "error", err)
}

// ClearQuarantine resets an instance's failure count, letting it run again
// on the next tick.
func (o *Orchestrator) ClearQuarantine(id int64) {
	o.setFailures(id, 0)
}
