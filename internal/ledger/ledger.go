// Package ledger is the bookkeeping database: algorithm instances, their
// append-only transaction log, and the dashboard PIN. Position and cash-used
// are always derived by folding over transactions, never stored.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"autotrader/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// defaultPIN is seeded on first startup and changeable via system_config.
const defaultPIN = "2020"

// Ledger is the SQLite-backed system database.
type Ledger struct {
	db  *sql.DB
	log *slog.Logger
	now func() time.Time
}

// NewLedger opens (or creates) the system database at dbPath and runs
// migrations.
func NewLedger(dbPath string) (*Ledger, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open system database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	l := &Ledger{
		db:  db,
		log: slog.Default().With("component", "ledger"),
		now: time.Now,
	}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate system database: %w", err)
	}
	return l, nil
}

func (l *Ledger) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS algorithm_instances (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			algorithm_name  TEXT NOT NULL,
			algorithm_type  TEXT NOT NULL,
			ticker          TEXT NOT NULL,
			initial_capital REAL NOT NULL CHECK (initial_capital > 0),
			status          TEXT NOT NULL DEFAULT 'running'
			                CHECK (status IN ('running', 'stopped')),
			created_at      TEXT NOT NULL,
			stopped_at      TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS transactions (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			algorithm_id     INTEGER NOT NULL REFERENCES algorithm_instances(id),
			transaction_type TEXT NOT NULL CHECK (transaction_type IN ('buy', 'sell')),
			shares           INTEGER NOT NULL CHECK (shares > 0),
			price            REAL NOT NULL CHECK (price > 0),
			timestamp        TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_algorithm ON transactions(algorithm_id)`,

		`CREATE TABLE IF NOT EXISTS system_config (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		fmt.Sprintf(`INSERT OR IGNORE INTO system_config (key, value) VALUES ('pin', '%s')`, defaultPIN),
	}
	for _, stmt := range stmts {
		if _, err := l.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// ---------------------------------------------------------------------------
// Algorithm instances
// ---------------------------------------------------------------------------

// CreateInstance registers a new running instance. The display name encodes
// ticker, type, and creation time: NVDA_sma_crossover_20240102_150405.
func (l *Ledger) CreateInstance(ctx context.Context, algType, ticker string, initialCapital float64) (domain.AlgorithmInstance, error) {
	if initialCapital <= 0 {
		return domain.AlgorithmInstance{}, fmt.Errorf("initial capital must be positive, got %v", initialCapital)
	}
	now := l.now().UTC()
	name := fmt.Sprintf("%s_%s_%s", strings.ToUpper(ticker), algType, now.Format("20060102_150405"))
	createdAt := now.Format(domain.MinuteFormat)

	res, err := l.db.ExecContext(ctx,
		`INSERT INTO algorithm_instances
		 (algorithm_name, algorithm_type, ticker, initial_capital, status, created_at)
		 VALUES (?, ?, ?, ?, 'running', ?)`,
		name, algType, strings.ToUpper(ticker), initialCapital, createdAt)
	if err != nil {
		return domain.AlgorithmInstance{}, fmt.Errorf("create instance: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.AlgorithmInstance{}, fmt.Errorf("create instance: %w", err)
	}

	l.log.Info("algorithm instance created",
		"id", id, "name", name, "ticker", ticker, "capital", initialCapital)
	return domain.AlgorithmInstance{
		ID:             id,
		DisplayName:    name,
		Type:           algType,
		Ticker:         strings.ToUpper(ticker),
		InitialCapital: initialCapital,
		Status:         domain.StatusRunning,
		CreatedAt:      createdAt,
	}, nil
}

// GetInstance returns one instance by id.
func (l *Ledger) GetInstance(ctx context.Context, id int64) (domain.AlgorithmInstance, bool, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT id, algorithm_name, algorithm_type, ticker, initial_capital,
		        status, created_at, COALESCE(stopped_at, '')
		 FROM algorithm_instances WHERE id = ?`, id)
	inst, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AlgorithmInstance{}, false, nil
	}
	if err != nil {
		return domain.AlgorithmInstance{}, false, fmt.Errorf("get instance %d: %w", id, err)
	}
	return inst, true, nil
}

// ListInstances returns all instances, newest first.
func (l *Ledger) ListInstances(ctx context.Context) ([]domain.AlgorithmInstance, error) {
	return l.queryInstances(ctx,
		`SELECT id, algorithm_name, algorithm_type, ticker, initial_capital,
		        status, created_at, COALESCE(stopped_at, '')
		 FROM algorithm_instances ORDER BY id DESC`)
}

// RunningInstances returns instances with status running, oldest first, the
// order the scheduler executes them in.
func (l *Ledger) RunningInstances(ctx context.Context) ([]domain.AlgorithmInstance, error) {
	return l.queryInstances(ctx,
		`SELECT id, algorithm_name, algorithm_type, ticker, initial_capital,
		        status, created_at, COALESCE(stopped_at, '')
		 FROM algorithm_instances WHERE status = 'running' ORDER BY id ASC`)
}

func (l *Ledger) queryInstances(ctx context.Context, query string, args ...any) ([]domain.AlgorithmInstance, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}
	defer rows.Close()

	var out []domain.AlgorithmInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (domain.AlgorithmInstance, error) {
	var inst domain.AlgorithmInstance
	var status string
	err := row.Scan(&inst.ID, &inst.DisplayName, &inst.Type, &inst.Ticker,
		&inst.InitialCapital, &status, &inst.CreatedAt, &inst.StoppedAt)
	if err != nil {
		return domain.AlgorithmInstance{}, err
	}
	inst.Status = domain.InstanceStatus(status)
	return inst, nil
}

// StopInstance marks an instance stopped. Stopping an already-stopped or
// unknown instance reports false with no error.
func (l *Ledger) StopInstance(ctx context.Context, id int64) (bool, error) {
	stoppedAt := l.now().UTC().Format(domain.MinuteFormat)
	res, err := l.db.ExecContext(ctx,
		`UPDATE algorithm_instances SET status = 'stopped', stopped_at = ?
		 WHERE id = ? AND status = 'running'`, stoppedAt, id)
	if err != nil {
		return false, fmt.Errorf("stop instance %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("stop instance %d: %w", id, err)
	}
	if n > 0 {
		l.log.Info("algorithm instance stopped", "id", id)
	}
	return n > 0, nil
}

// ---------------------------------------------------------------------------
// Transactions
// ---------------------------------------------------------------------------

// RecordTransaction appends one immutable fill record.
func (l *Ledger) RecordTransaction(ctx context.Context, algorithmID int64, side domain.TxSide, shares int, price float64, at time.Time) (domain.Transaction, error) {
	ts := at.UTC().Format(domain.MinuteFormat)
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO transactions (algorithm_id, transaction_type, shares, price, timestamp)
		 VALUES (?, ?, ?, ?, ?)`,
		algorithmID, string(side), shares, price, ts)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("record transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("record transaction: %w", err)
	}

	l.log.Info("transaction recorded",
		"id", id, "algorithm_id", algorithmID, "side", side, "shares", shares, "price", price)
	return domain.Transaction{
		ID:          id,
		AlgorithmID: algorithmID,
		Side:        side,
		Shares:      shares,
		Price:       price,
		Timestamp:   ts,
	}, nil
}

// Transactions returns an instance's fills in chronological order.
func (l *Ledger) Transactions(ctx context.Context, algorithmID int64) ([]domain.Transaction, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, algorithm_id, transaction_type, shares, price, timestamp
		 FROM transactions WHERE algorithm_id = ? ORDER BY id ASC`, algorithmID)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		var side string
		if err := rows.Scan(&tx.ID, &tx.AlgorithmID, &side, &tx.Shares, &tx.Price, &tx.Timestamp); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		tx.Side = domain.TxSide(side)
		out = append(out, tx)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// PIN
// ---------------------------------------------------------------------------

// ValidatePIN checks the dashboard PIN against system_config.
func (l *Ledger) ValidatePIN(ctx context.Context, pin string) (bool, error) {
	var stored string
	err := l.db.QueryRowContext(ctx,
		`SELECT value FROM system_config WHERE key = 'pin'`).Scan(&stored)
	if err != nil {
		return false, fmt.Errorf("read pin: %w", err)
	}
	return pin == stored, nil
}

// SetPIN replaces the dashboard PIN.
func (l *Ledger) SetPIN(ctx context.Context, pin string) error {
	if pin == "" {
		return errors.New("pin must not be empty")
	}
	if _, err := l.db.ExecContext(ctx,
		`UPDATE system_config SET value = ? WHERE key = 'pin'`, pin); err != nil {
		return fmt.Errorf("set pin: %w", err)
	}
	return nil
}
