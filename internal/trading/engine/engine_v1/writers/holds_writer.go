package writers

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/rxtech-lab/argo-live/internal/types"
)

// HoldsWriter records every symbol hold change of a session.
type HoldsWriter struct {
	db         *sql.DB
	outputPath string
	seq        int64
	mu         sync.Mutex
}

// NewHoldsWriter creates a new HoldsWriter.
// outputPath is the full path to the parquet file.
func NewHoldsWriter(outputPath string) *HoldsWriter {
	return &HoldsWriter{
		db:         nil,
		outputPath: outputPath,
		seq:        0,
		mu:         sync.Mutex{},
	}
}

// Initialize sets up the holds writer with DuckDB.
//
//nolint:dupl // Writers have similar initialization but different table schemas
func (w *HoldsWriter) Initialize() error {
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
		CREATE TABLE IF NOT EXISTS holds (
			seq BIGINT PRIMARY KEY,
			timestamp TIMESTAMP,
			symbol TEXT,
			from_status TEXT,
			to_status TEXT,
			reason TEXT
		)
	`)
	if err != nil {
		w.db.Close()

		return fmt.Errorf("failed to create holds table: %w", err)
	}

	if _, err := os.Stat(w.outputPath); err == nil {
		_, err = w.db.Exec(fmt.Sprintf(`
			INSERT INTO holds
			SELECT * FROM read_parquet('%s')
			ON CONFLICT (seq) DO NOTHING
		`, w.outputPath))
		if err == nil {
			_ = w.db.QueryRow("SELECT COALESCE(MAX(seq), 0) FROM holds").Scan(&w.seq)
		}
	}

	return nil
}

// Write appends a hold change observed at at.
func (w *HoldsWriter) Write(change types.HoldChange, at time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.db == nil {
		return fmt.Errorf("writer not initialized")
	}

	w.seq++

	_, err := w.db.Exec(`
		INSERT INTO holds (seq, timestamp, symbol, from_status, to_status, reason)
		VALUES (?, ?, ?, ?, ?, ?)
	`, w.seq, at.UTC(), change.Symbol, string(change.From), string(change.To), change.Reason)
	if err != nil {
		w.seq--

		return fmt.Errorf("failed to insert hold change: %w", err)
	}

	return nil
}

// Flush exports the hold changes to parquet.
func (w *HoldsWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.db == nil {
		return fmt.Errorf("writer not initialized")
	}

	_, err := w.db.Exec(fmt.Sprintf(`
		COPY (SELECT * FROM holds ORDER BY seq ASC)
		TO '%s' (FORMAT PARQUET)
	`, w.outputPath))
	if err != nil {
		return fmt.Errorf("failed to export to parquet: %w", err)
	}

	return nil
}

// GetOutputPath returns the parquet file path.
func (w *HoldsWriter) GetOutputPath() string {
	return w.outputPath
}

// Close releases database resources.
func (w *HoldsWriter) Close() error {
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

// GetChangeCount returns the number of hold changes stored.
func (w *HoldsWriter) GetChangeCount() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.db == nil {
		return 0, fmt.Errorf("writer not initialized")
	}

	var count int

	err := w.db.QueryRow("SELECT COUNT(*) FROM holds").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count hold changes: %w", err)
	}

	return count, nil
}
