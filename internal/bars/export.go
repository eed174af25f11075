package bars

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"autotrader/internal/domain"
)

// ExportRecord is the Parquet schema for exported minute bars.
type ExportRecord struct {
	Ticker    string  `parquet:"ticker"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    int64   `parquet:"volume"`
}

// ExportTicker writes every present bar for ticker in [start, end] to a
// Parquet file under dir. Layout: <dir>/<TICKER>/<start>_<end>.parquet.
// Returns the written path and row count; zero rows skips the file write.
func (s *Store) ExportTicker(ctx context.Context, ticker, dir string, start, end time.Time) (string, int, error) {
	data, err := s.selectRange(ctx, ticker,
		domain.FormatMinute(start), domain.FormatMinute(end))
	if err != nil {
		return "", 0, err
	}
	if len(data) == 0 {
		return "", 0, nil
	}

	records := make([]ExportRecord, 0, len(data))
	for _, b := range data {
		records = append(records, ExportRecord{
			Ticker:    ticker,
			Timestamp: b.Time().UnixMilli(),
			Open:      b.OHLCV.Open,
			High:      b.OHLCV.High,
			Low:       b.OHLCV.Low,
			Close:     b.OHLCV.Close,
			Volume:    b.OHLCV.Volume,
		})
	}

	name := fmt.Sprintf("%s_%s.parquet",
		start.UTC().Format(domain.DateFormat), end.UTC().Format(domain.DateFormat))
	path := filepath.Join(dir, ticker, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", 0, fmt.Errorf("create export directory: %w", err)
	}
	if err := parquet.WriteFile(path, records); err != nil {
		return "", 0, fmt.Errorf("write parquet export: %w", err)
	}

	s.log.Info("bars exported", "ticker", ticker, "path", path, "rows", len(records))
	return path, len(records), nil
}
