package ledger

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"autotrader/internal/domain"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := NewLedger(filepath.Join(t.TempDir(), "system.db"))
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	l.now = func() time.Time {
		return time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)
	}
	return l
}

func TestCreateInstance(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	inst, err := l.CreateInstance(ctx, "sma_crossover", "nvda", 10000)
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	if inst.Ticker != "NVDA" {
		t.Errorf("ticker = %s, want NVDA (uppercased)", inst.Ticker)
	}
	if inst.DisplayName != "NVDA_sma_crossover_20240102_150405" {
		t.Errorf("display name = %s", inst.DisplayName)
	}
	if inst.Status != domain.StatusRunning {
		t.Errorf("status = %s, want running", inst.Status)
	}

	got, ok, err := l.GetInstance(ctx, inst.ID)
	if err != nil || !ok {
		t.Fatalf("GetInstance: ok=%v err=%v", ok, err)
	}
	if got.DisplayName != inst.DisplayName || got.InitialCapital != 10000 {
		t.Errorf("round trip = %+v", got)
	}
}

func TestCreateInstanceRejectsBadCapital(t *testing.T) {
	l := newTestLedger(t)
	if _, err := l.CreateInstance(context.Background(), "sma_crossover", "NVDA", 0); err == nil {
		t.Fatal("CreateInstance accepted zero capital")
	}
}

func TestStopInstance(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	inst, err := l.CreateInstance(ctx, "sma_crossover", "NVDA", 10000)
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	stopped, err := l.StopInstance(ctx, inst.ID)
	if err != nil {
		t.Fatalf("StopInstance: %v", err)
	}
	if !stopped {
		t.Fatal("StopInstance reported no-op for a running instance")
	}

	got, _, _ := l.GetInstance(ctx, inst.ID)
	if got.Status != domain.StatusStopped || got.StoppedAt == "" {
		t.Errorf("after stop = %+v", got)
	}

	// Second stop and unknown id are clean no-ops.
	if stopped, err := l.StopInstance(ctx, inst.ID); err != nil || stopped {
		t.Errorf("re-stop = %v, %v", stopped, err)
	}
	if stopped, err := l.StopInstance(ctx, 9999); err != nil || stopped {
		t.Errorf("stop unknown = %v, %v", stopped, err)
	}
}

func TestRunningInstancesOrdering(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	a, _ := l.CreateInstance(ctx, "sma_crossover", "NVDA", 10000)
	b, _ := l.CreateInstance(ctx, "trend", "AAPL", 5000)
	c, _ := l.CreateInstance(ctx, "scalper", "MSFT", 2000)
	if _, err := l.StopInstance(ctx, b.ID); err != nil {
		t.Fatalf("StopInstance: %v", err)
	}

	running, err := l.RunningInstances(ctx)
	if err != nil {
		t.Fatalf("RunningInstances: %v", err)
	}
	if len(running) != 2 || running[0].ID != a.ID || running[1].ID != c.ID {
		t.Errorf("running = %+v, want [a c] oldest first", running)
	}

	all, err := l.ListInstances(ctx)
	if err != nil {
		t.Fatalf("ListInstances: %v", err)
	}
	if len(all) != 3 || all[0].ID != c.ID {
		t.Errorf("all = %+v, want newest first", all)
	}
}

func TestTransactionsAppendOnly(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	inst, _ := l.CreateInstance(ctx, "sma_crossover", "NVDA", 10000)
	at := time.Date(2024, 1, 2, 15, 30, 0, 0, time.UTC)

	buy, err := l.RecordTransaction(ctx, inst.ID, domain.TxBuy, 10, 450.75, at)
	if err != nil {
		t.Fatalf("RecordTransaction: %v", err)
	}
	if buy.Timestamp != "2024-01-02T15:30:00Z" {
		t.Errorf("timestamp = %s", buy.Timestamp)
	}
	if _, err := l.RecordTransaction(ctx, inst.ID, domain.TxSell, 4, 460.00, at.Add(time.Hour)); err != nil {
		t.Fatalf("RecordTransaction sell: %v", err)
	}

	txs, err := l.Transactions(ctx, inst.ID)
	if err != nil {
		t.Fatalf("Transactions: %v", err)
	}
	if len(txs) != 2 || txs[0].Side != domain.TxBuy || txs[1].Side != domain.TxSell {
		t.Errorf("transactions = %+v", txs)
	}
}

func TestRecordTransactionEnforcesChecks(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	inst, _ := l.CreateInstance(ctx, "sma_crossover", "NVDA", 10000)
	at := time.Now()

	if _, err := l.RecordTransaction(ctx, inst.ID, domain.TxBuy, 0, 100, at); err == nil {
		t.Error("accepted zero shares")
	}
	if _, err := l.RecordTransaction(ctx, inst.ID, domain.TxBuy, 1, -5, at); err == nil {
		t.Error("accepted negative price")
	}
	// Unknown algorithm id violates the foreign key.
	if _, err := l.RecordTransaction(ctx, 9999, domain.TxBuy, 1, 100, at); err == nil {
		t.Error("accepted orphan transaction")
	}
}

func TestPIN(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	ok, err := l.ValidatePIN(ctx, "2020")
	if err != nil {
		t.Fatalf("ValidatePIN: %v", err)
	}
	if !ok {
		t.Error("default pin rejected")
	}
	if ok, _ := l.ValidatePIN(ctx, "0000"); ok {
		t.Error("wrong pin accepted")
	}

	if err := l.SetPIN(ctx, "7777"); err != nil {
		t.Fatalf("SetPIN: %v", err)
	}
	if ok, _ := l.ValidatePIN(ctx, "7777"); !ok {
		t.Error("updated pin rejected")
	}
	if err := l.SetPIN(ctx, ""); err == nil {
		t.Error("SetPIN accepted empty pin")
	}
}

func TestBuildCard(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	inst, _ := l.CreateInstance(ctx, "sma_crossover", "NVDA", 10000)
	at := time.Date(2024, 1, 2, 15, 30, 0, 0, time.UTC)
	l.RecordTransaction(ctx, inst.ID, domain.TxBuy, 20, 100, at)           // -2000
	l.RecordTransaction(ctx, inst.ID, domain.TxSell, 5, 110, at.Add(time.Minute)) // +550

	card, err := l.BuildCard(ctx, inst, 120)
	if err != nil {
		t.Fatalf("BuildCard: %v", err)
	}
	if card.Position != 15 {
		t.Errorf("position = %d, want 15", card.Position)
	}
	if card.NetInvested != 1450 {
		t.Errorf("net invested = %v, want 1450", card.NetInvested)
	}
	if card.CurrentValue != 1800 {
		t.Errorf("current value = %v, want 1800", card.CurrentValue)
	}
	if card.ProfitLoss != 350 {
		t.Errorf("pnl = %v, want 350", card.ProfitLoss)
	}
	if card.ProfitLossPct != 3.5 {
		t.Errorf("pnl pct = %v, want 3.5", card.ProfitLossPct)
	}
}

func TestBuildCardNoTransactions(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	inst, _ := l.CreateInstance(ctx, "trend", "AAPL", 5000)
	card, err := l.BuildCard(ctx, inst, 0)
	if err != nil {
		t.Fatalf("BuildCard: %v", err)
	}
	if card.Position != 0 || card.ProfitLoss != 0 || card.Transactions != 0 {
		t.Errorf("empty card = %+v", card)
	}
	if !strings.HasPrefix(card.Instance.DisplayName, "AAPL_trend_") {
		t.Errorf("display name = %s", card.Instance.DisplayName)
	}
}
