package writers

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/rxtech-lab/argo-live/internal/types"
)

// BarsWriter keeps the raw bars of a session and exports them to parquet.
type BarsWriter struct {
	db         *sql.DB
	outputPath string
	mu         sync.Mutex
}

// NewBarsWriter creates a new BarsWriter.
// outputPath is the full path to the parquet file.
func NewBarsWriter(outputPath string) *BarsWriter {
	return &BarsWriter{
		db:         nil,
		outputPath: outputPath,
		mu:         sync.Mutex{},
	}
}

// Initialize sets up the bars writer with DuckDB.
//
//nolint:dupl // Writers have similar initialization but different table schemas
func (w *BarsWriter) Initialize() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	dir := filepath.Dir(w.outputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return fmt.Errorf("failed to open DuckDB connection: %w", err)
	}

	w.db = db

	_, err = w.db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			symbol TEXT,
			timestamp TIMESTAMP,
			open DOUBLE,
			high DOUBLE,
			low DOUBLE,
			close DOUBLE,
			volume DOUBLE,
			vwap DOUBLE,
			trade_count BIGINT,
			PRIMARY KEY (symbol, timestamp)
		)
	`)
	if err != nil {
		w.db.Close()

		return fmt.Errorf("failed to create bars table: %w", err)
	}

	// a restarted run continues the file it already wrote
	if _, err := os.Stat(w.outputPath); err == nil {
		_, err = w.db.Exec(fmt.Sprintf(`
			INSERT INTO bars
			SELECT * FROM read_parquet('%s')
			ON CONFLICT (symbol, timestamp) DO NOTHING
		`, w.outputPath))
		if err != nil {
			_ = err
		}
	}

	return nil
}

// Write stores a bar. End-of-stream sentinels are ignored. A bar repeated
// for the same minute replaces the earlier one.
func (w *BarsWriter) Write(bar types.Bar) error {
	if bar.EndOfStream {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.db == nil {
		return fmt.Errorf("writer not initialized")
	}

	_, err := w.db.Exec(`
		INSERT INTO bars (symbol, timestamp, open, high, low, close, volume, vwap, trade_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, timestamp) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume,
			vwap = excluded.vwap,
			trade_count = excluded.trade_count
	`, bar.Symbol, bar.Time.UTC(), bar.Open, bar.High, bar.Low, bar.Close, bar.Volume, bar.VWAP, bar.TradeCount)
	if err != nil {
		return fmt.Errorf("failed to insert bar: %w", err)
	}

	return nil
}

// Flush exports the stored bars to parquet.
func (w *BarsWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.db == nil {
		return fmt.Errorf("writer not initialized")
	}

	_, err := w.db.Exec(fmt.Sprintf(`
		COPY (SELECT * FROM bars ORDER BY timestamp ASC, symbol ASC)
		TO '%s' (FORMAT PARQUET)
	`, w.outputPath))
	if err != nil {
		return fmt.Errorf("failed to export to parquet: %w", err)
	}

	return nil
}

// GetOutputPath returns the parquet file path.
func (w *BarsWriter) GetOutputPath() string {
	return w.outputPath
}

// Close releases database resources.
func (w *BarsWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.db != nil {
		if err := w.db.Close(); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}

		w.db = nil
	}

	return nil
}

// GetBarCount returns the number of bars stored.
func (w *BarsWriter) GetBarCount() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.db == nil {
		return 0, fmt.Errorf("writer not initialized")
	}

	var count int

	err := w.db.QueryRow("SELECT COUNT(*) FROM bars").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count bars: %w", err)
	}

	return count, nil
}
