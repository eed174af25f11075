// Package bars implements the minute-bar store: a SQLite wide table keyed by
// the timestamp universe of valid market minutes, one nullable JSON column
// per ticker, with null-only first-write-wins semantics and transparent
// backfill on detected gaps.
package bars

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"autotrader/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// ErrInvalidTicker is returned when a ticker identifier fails the allow-list
// check. Tickers become column names, so anything outside [A-Za-z0-9_]+ is
// rejected before touching storage.
var ErrInvalidTicker = errors.New("invalid ticker format")

// tickerPattern is the column-name allow-list.
var tickerPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// barsTable is the wide table holding one row per market minute.
const barsTable = "minute_bars"

// keyColumn is the primary-key column; reserved, never usable as a ticker.
const keyColumn = "minute_timestamp"

// universeInsertChunk bounds the number of rows per transaction while seeding
// the timestamp universe.
const universeInsertChunk = 5000

// Backfiller fetches historical bars for a ticker over a closed calendar date
// range and ingests them through the store's null-only writes. Implemented by
// the backfill package and attached after construction; a nil backfiller
// disables gap-filling and queries serve whatever is locally present.
type Backfiller interface {
	Backfill(ctx context.Context, ticker, startDate, endDate string) domain.FetchResult
}

// Store is the SQLite-backed minute-bar store.
type Store struct {
	db  *sql.DB
	log *slog.Logger

	// mu serializes schema changes (column adds) and guards the column cache.
	mu      sync.Mutex
	columns map[string]bool

	bf Backfiller
}

// NewStore opens (or creates) the bar database at dbPath and ensures the wide
// table exists. The universe is seeded separately via InitUniverse.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open bar database: %w", err)
	}

	// WAL mode lets dashboard reads proceed while the live ingestor writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s TEXT PRIMARY KEY)`, barsTable, keyColumn)
	if _, err := db.Exec(create); err != nil {
		db.Close()
		return nil, fmt.Errorf("create bar table: %w", err)
	}

	s := &Store{
		db:  db,
		log: slog.Default().With("component", "bars"),
	}
	return s, nil
}

// SetBackfiller attaches the gap-filling fetcher. Call once at startup before
// serving queries.
func (s *Store) SetBackfiller(bf Backfiller) {
	s.bf = bf
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Universe
// ---------------------------------------------------------------------------

// InitUniverse seeds the wide table with one row per market minute. If the
// table already holds rows the call is a no-op, so startup is idempotent.
// An empty minute set is fatal: a store with zero valid minutes can never
// accept a bar.
func (s *Store) InitUniverse(ctx context.Context, minutes []string) error {
	if len(minutes) == 0 {
		return errors.New("init universe: no market minutes supplied")
	}

	var existing int64
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, barsTable))
	if err := row.Scan(&existing); err != nil {
		return fmt.Errorf("probe universe: %w", err)
	}
	if existing > 0 {
		s.log.Info("timestamp universe already populated", "rows", existing)
		return nil
	}

	s.log.Info("seeding timestamp universe", "minutes", len(minutes))
	insert := fmt.Sprintf(`INSERT OR IGNORE INTO %s (%s) VALUES (?)`, barsTable, keyColumn)
	for start := 0; start < len(minutes); start += universeInsertChunk {
		end := start + universeInsertChunk
		if end > len(minutes) {
			end = len(minutes)
		}
		if err := s.insertMinutes(ctx, insert, minutes[start:end]); err != nil {
			return err
		}
	}
	s.log.Info("timestamp universe seeded", "rows", len(minutes))
	return nil
}

func (s *Store) insertMinutes(ctx context.Context, insert string, chunk []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin universe insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("prepare universe insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range chunk {
		if _, err := stmt.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("insert minute %s: %w", m, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit universe insert: %w", err)
	}
	return nil
}

// UniverseSize returns the total number of market minutes in the store.
func (s *Store) UniverseSize(ctx context.Context) (int64, error) {
	var n int64
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, barsTable))
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count universe: %w", err)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Ticker columns
// ---------------------------------------------------------------------------

// EnsureTicker validates ticker against the allow-list and provisions its
// column if absent. Idempotent; concurrent calls for the same new ticker are
// serialized and a column that already exists is treated as success.
func (s *Store) EnsureTicker(ctx context.Context, ticker string) error {
	if !tickerPattern.MatchString(ticker) {
		return fmt.Errorf("%w: %q", ErrInvalidTicker, ticker)
	}
	if strings.EqualFold(ticker, keyColumn) {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidTicker, ticker)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.columns == nil {
		if err := s.loadColumnsLocked(ctx); err != nil {
			return err
		}
	}
	if s.columns[ticker] {
		return nil
	}

	alter := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %q TEXT`, barsTable, ticker)
	if _, err := s.db.ExecContext(ctx, alter); err != nil {
		// Another connection may have added the column between our cache load
		// and the ALTER; that is success, not failure.
		if strings.Contains(err.Error(), "duplicate column name") {
			s.columns[ticker] = true
			return nil
		}
		return fmt.Errorf("add ticker column %s: %w", ticker, err)
	}
	s.columns[ticker] = true
	s.log.Info("ticker column added", "ticker", ticker)
	return nil
}

// loadColumnsLocked refreshes the column cache from the table schema.
// Caller holds mu.
func (s *Store) loadColumnsLocked(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM pragma_table_info(?)`, barsTable)
	if err != nil {
		return fmt.Errorf("read table schema: %w", err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("scan column name: %w", err)
		}
		if name != keyColumn {
			cols[name] = true
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate table schema: %w", err)
	}
	s.columns = cols
	return nil
}

// Tickers returns the provisioned ticker columns in schema order.
func (s *Store) Tickers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM pragma_table_info(?)`, barsTable)
	if err != nil {
		return nil, fmt.Errorf("read table schema: %w", err)
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan column name: %w", err)
		}
		if name != keyColumn {
			tickers = append(tickers, name)
		}
	}
	return tickers, rows.Err()
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

// WriteBar writes one bar if and only if the (ticker, minute) slot is
// currently null. Returns whether a write occurred. A timestamp outside the
// universe matches no row and is silently a no-op, which is how stray
// pre/post-market ticks are dropped.
func (s *Store) WriteBar(ctx context.Context, ticker string, bar domain.Bar) (bool, error) {
	if err := s.EnsureTicker(ctx, ticker); err != nil {
		return false, err
	}

	payload, err := json.Marshal(bar.OHLCV)
	if err != nil {
		return false, fmt.Errorf("encode bar: %w", err)
	}

	update := fmt.Sprintf(`UPDATE %s SET %q = ? WHERE %s = ? AND %q IS NULL`,
		barsTable, ticker, keyColumn, ticker)
	res, err := s.db.ExecContext(ctx, update, string(payload), bar.Timestamp)
	if err != nil {
		return false, fmt.Errorf("write bar %s@%s: %w", ticker, bar.Timestamp, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write bar %s@%s: %w", ticker, bar.Timestamp, err)
	}
	return n > 0, nil
}

// BulkWrite writes a batch of bars with the same null-only semantics as
// WriteBar, inside one transaction. Returns the count of rows actually
// changed; already-populated and out-of-universe slots contribute zero.
func (s *Store) BulkWrite(ctx context.Context, ticker string, bars []domain.Bar) (int64, error) {
	if err := s.EnsureTicker(ctx, ticker); err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin bulk write: %w", err)
	}
	defer tx.Rollback()

	update := fmt.Sprintf(`UPDATE %s SET %q = ? WHERE %s = ? AND %q IS NULL`,
		barsTable, ticker, keyColumn, ticker)
	stmt, err := tx.PrepareContext(ctx, update)
	if err != nil {
		return 0, fmt.Errorf("prepare bulk write: %w", err)
	}
	defer stmt.Close()

	var written int64
	for _, bar := range bars {
		payload, err := json.Marshal(bar.OHLCV)
		if err != nil {
			return 0, fmt.Errorf("encode bar %s@%s: %w", ticker, bar.Timestamp, err)
		}
		res, err := stmt.ExecContext(ctx, string(payload), bar.Timestamp)
		if err != nil {
			return 0, fmt.Errorf("write bar %s@%s: %w", ticker, bar.Timestamp, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("write bar %s@%s: %w", ticker, bar.Timestamp, err)
		}
		written += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit bulk write: %w", err)
	}
	return written, nil
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// LastNBars returns, ascending, the most recent n bars at or before `before`
// for which data is present, after first checking the n most recent calendar
// minutes and backfilling any gaps. Fewer than n bars is a valid result
// (new listing, provider has no data), never an error.
func (s *Store) LastNBars(ctx context.Context, ticker string, n int, before time.Time) ([]domain.Bar, error) {
	if err := s.EnsureTicker(ctx, ticker); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}

	// The calendar window is derived first, from the universe alone. Checking
	// presence only inside that window prevents a naive "last n non-null rows"
	// query from skipping over a gap and returning ancient data.
	window, err := s.calendarWindow(ctx, n, before)
	if err != nil {
		return nil, err
	}
	if len(window) == 0 {
		return nil, nil
	}
	first, last := window[0], window[len(window)-1]

	present, err := s.presentCount(ctx, ticker, first, last)
	if err != nil {
		return nil, err
	}
	if int(present) < len(window) {
		s.fillGap(ctx, ticker, n, first, last)
	}

	return s.selectRange(ctx, ticker, first, last)
}

// TimeRange returns all present bars with minute in [start, end], ascending.
// If fewer bars are present than the range has calendar minutes, one backfill
// pass runs and the range is re-queried once.
func (s *Store) TimeRange(ctx context.Context, ticker string, start, end time.Time) ([]domain.Bar, error) {
	if err := s.EnsureTicker(ctx, ticker); err != nil {
		return nil, err
	}

	first := domain.FormatMinute(start)
	last := domain.FormatMinute(end)

	var expected int64
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT COUNT(*) FROM %s WHERE %s >= ? AND %s <= ?`,
		barsTable, keyColumn, keyColumn), first, last)
	if err := row.Scan(&expected); err != nil {
		return nil, fmt.Errorf("count range minutes: %w", err)
	}
	if expected == 0 {
		return nil, nil
	}

	present, err := s.presentCount(ctx, ticker, first, last)
	if err != nil {
		return nil, err
	}
	if present < expected && s.bf != nil {
		startDate := start.UTC().Format(domain.DateFormat)
		endDate := end.UTC().Format(domain.DateFormat)
		res := s.bf.Backfill(ctx, ticker, startDate, endDate)
		if res.Status == domain.FetchError {
			s.log.Warn("range backfill failed, serving present data",
				"ticker", ticker, "start", startDate, "end", endDate, "reason", res.Reason)
		}
	}

	return s.selectRange(ctx, ticker, first, last)
}

// Latest returns the most recent present bar for ticker. It never triggers
// backfill; staleness is acceptable on the live-price display path.
func (s *Store) Latest(ctx context.Context, ticker string) (domain.Bar, bool, error) {
	if err := s.EnsureTicker(ctx, ticker); err != nil {
		return domain.Bar{}, false, err
	}

	query := fmt.Sprintf(`SELECT %s, %q FROM %s WHERE %q IS NOT NULL ORDER BY %s DESC LIMIT 1`,
		keyColumn, ticker, barsTable, ticker, keyColumn)
	var minute, payload string
	err := s.db.QueryRowContext(ctx, query).Scan(&minute, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Bar{}, false, nil
	}
	if err != nil {
		return domain.Bar{}, false, fmt.Errorf("query latest bar: %w", err)
	}

	bar, err := decodeBar(minute, payload)
	if err != nil {
		return domain.Bar{}, false, err
	}
	return bar, true, nil
}

// calendarWindow selects the <=n most recent universe minutes at or before
// `before`, ascending. The window is a contiguous run of universe rows, so
// [window[0], window[len-1]] range predicates cover exactly these minutes.
func (s *Store) calendarWindow(ctx context.Context, n int, before time.Time) ([]string, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM %s WHERE %s <= ? ORDER BY %s DESC LIMIT ?`,
		keyColumn, barsTable, keyColumn, keyColumn)
	rows, err := s.db.QueryContext(ctx, query, domain.FormatMinute(before), n)
	if err != nil {
		return nil, fmt.Errorf("select calendar window: %w", err)
	}
	defer rows.Close()

	var window []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("scan calendar window: %w", err)
		}
		window = append(window, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calendar window: %w", err)
	}

	// Descending from the query; flip to ascending.
	for i, j := 0, len(window)-1; i < j; i, j = i+1, j-1 {
		window[i], window[j] = window[j], window[i]
	}
	return window, nil
}

// presentCount counts non-null slots for ticker in [first, last].
func (s *Store) presentCount(ctx context.Context, ticker, first, last string) (int64, error) {
	query := fmt.Sprintf(`SELECT COUNT(%q) FROM %s WHERE %s >= ? AND %s <= ?`,
		ticker, barsTable, keyColumn, keyColumn)
	var n int64
	if err := s.db.QueryRowContext(ctx, query, first, last).Scan(&n); err != nil {
		return 0, fmt.Errorf("count present bars: %w", err)
	}
	return n, nil
}

// fillGap runs one bounded backfill pass covering [first, last]. Failures
// degrade to serving whatever is present; they never escalate into query
// errors.
func (s *Store) fillGap(ctx context.Context, ticker string, n int, first, last string) {
	if s.bf == nil {
		return
	}
	firstT, err := domain.ParseMinute(first)
	if err != nil {
		s.log.Warn("unparseable window start, skipping backfill", "minute", first)
		return
	}
	lastT, err := domain.ParseMinute(last)
	if err != nil {
		s.log.Warn("unparseable window end, skipping backfill", "minute", last)
		return
	}

	startDay := firstT.Truncate(24 * time.Hour)
	endDay := lastT.Truncate(24 * time.Hour)
	windowDays := int(endDay.Sub(startDay).Hours()/24) + 1
	if startDay.Equal(endDay) {
		// Single-day window: reach one day back so the fetch has a
		// non-trivial range.
		startDay = startDay.AddDate(0, 0, -1)
	}

	// Bound the fetch span so a ticker with no data cannot trigger an
	// unbounded-size request. n minutes is at most n/390 trading days;
	// tripling that covers weekends and holidays. The calendar window
	// itself is already bounded by n universe minutes, so the cap must
	// never cut into it — a small-n window spanning a weekend still gets
	// its full range fetched.
	maxDays := n/390*3 + 2
	if maxDays < windowDays {
		maxDays = windowDays
	}
	if span := int(endDay.Sub(startDay).Hours()/24) + 1; span > maxDays {
		startDay = endDay.AddDate(0, 0, -(maxDays - 1))
	}

	startDate := startDay.Format(domain.DateFormat)
	endDate := endDay.Format(domain.DateFormat)
	res := s.bf.Backfill(ctx, ticker, startDate, endDate)
	switch res.Status {
	case domain.FetchOK:
		s.log.Debug("gap backfilled",
			"ticker", ticker, "start", startDate, "end", endDate,
			"points", res.DataPoints, "written", res.RowsWritten)
	case domain.FetchNoData:
		s.log.Debug("gap backfill returned no data",
			"ticker", ticker, "start", startDate, "end", endDate, "reason", res.Reason)
	case domain.FetchError:
		s.log.Warn("gap backfill failed, serving present data",
			"ticker", ticker, "start", startDate, "end", endDate, "reason", res.Reason)
	}
}

// selectRange returns present bars in [first, last], ascending.
func (s *Store) selectRange(ctx context.Context, ticker, first, last string) ([]domain.Bar, error) {
	query := fmt.Sprintf(
		`SELECT %s, %q FROM %s WHERE %s >= ? AND %s <= ? AND %q IS NOT NULL ORDER BY %s ASC`,
		keyColumn, ticker, barsTable, keyColumn, keyColumn, ticker, keyColumn)
	rows, err := s.db.QueryContext(ctx, query, first, last)
	if err != nil {
		return nil, fmt.Errorf("select bars: %w", err)
	}
	defer rows.Close()

	var out []domain.Bar
	for rows.Next() {
		var minute, payload string
		if err := rows.Scan(&minute, &payload); err != nil {
			return nil, fmt.Errorf("scan bar row: %w", err)
		}
		bar, err := decodeBar(minute, payload)
		if err != nil {
			return nil, err
		}
		out = append(out, bar)
	}
	return out, rows.Err()
}

func decodeBar(minute, payload string) (domain.Bar, error) {
	var ohlcv domain.OHLCV
	if err := json.Unmarshal([]byte(payload), &ohlcv); err != nil {
		return domain.Bar{}, fmt.Errorf("decode bar at %s: %w", minute, err)
	}
	return domain.Bar{Timestamp: minute, OHLCV: ohlcv}, nil
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

// TickerStats summarizes one ticker column's coverage.
type TickerStats struct {
	Ticker     string  `json:"ticker"`
	Present    int64   `json:"present"`
	Completion float64 `json:"completion_pct"`
}

// Stats is the store-wide observability snapshot.
type Stats struct {
	TotalMinutes int64         `json:"total_minutes"`
	MinTimestamp string        `json:"min_timestamp"`
	MaxTimestamp string        `json:"max_timestamp"`
	Tickers      []TickerStats `json:"tickers"`
}

// CollectStats reports total minute count, per-ticker coverage, and the
// universe's min/max timestamps. Read-only.
func (s *Store) CollectStats(ctx context.Context) (Stats, error) {
	var st Stats
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT COUNT(*), COALESCE(MIN(%s), ''), COALESCE(MAX(%s), '') FROM %s`,
		keyColumn, keyColumn, barsTable))
	if err := row.Scan(&st.TotalMinutes, &st.MinTimestamp, &st.MaxTimestamp); err != nil {
		return Stats{}, fmt.Errorf("collect universe stats: %w", err)
	}

	tickers, err := s.Tickers(ctx)
	if err != nil {
		return Stats{}, err
	}
	for _, t := range tickers {
		query := fmt.Sprintf(`SELECT COUNT(%q) FROM %s`, t, barsTable)
		var present int64
		if err := s.db.QueryRowContext(ctx, query).Scan(&present); err != nil {
			return Stats{}, fmt.Errorf("count bars for %s: %w", t, err)
		}
		ts := TickerStats{Ticker: t, Present: present}
		if st.TotalMinutes > 0 {
			ts.Completion = float64(present) / float64(st.TotalMinutes) * 100
		}
		st.Tickers = append(st.Tickers, ts)
	}
	return st, nil
}
