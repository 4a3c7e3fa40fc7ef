package writers

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/rxtech-lab/argo-live/internal/types"
)

// WeightsWriter records the target weights of every tick, one row per symbol.
type WeightsWriter struct {
	db         *sql.DB
	outputPath string
	mu         sync.Mutex
}

// NewWeightsWriter creates a new WeightsWriter.
// outputPath is the full path to the parquet file.
func NewWeightsWriter(outputPath string) *WeightsWriter {
	return &WeightsWriter{
		db:         nil,
		outputPath: outputPath,
		mu:         sync.Mutex{},
	}
}

// Initialize sets up the weights writer with DuckDB.
//
//nolint:dupl // Writers have similar initialization but different table schemas
func (w *WeightsWriter) Initialize() error {
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
		CREATE TABLE IF NOT EXISTS weights (
			tick TIMESTAMP,
			symbol TEXT,
			weight DOUBLE,
			price DOUBLE,
			PRIMARY KEY (tick, symbol)
		)
	`)
	if err != nil {
		w.db.Close()

		return fmt.Errorf("failed to create weights table: %w", err)
	}

	if _, err := os.Stat(w.outputPath); err == nil {
		_, err = w.db.Exec(fmt.Sprintf(`
			INSERT INTO weights
			SELECT * FROM read_parquet('%s')
			ON CONFLICT (tick, symbol) DO NOTHING
		`, w.outputPath))
		if err != nil {
			_ = err
		}
	}

	return nil
}

// Write stores the weights of one tick. Symbols of the roster without a
// weight are recorded at zero.
func (w *WeightsWriter) Write(weights types.TargetWeights) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.db == nil {
		return fmt.Errorf("writer not initialized")
	}

	symbols := append([]string(nil), weights.Symbols...)
	for symbol := range weights.Weights {
		if !contains(symbols, symbol) {
			symbols = append(symbols, symbol)
		}
	}

	sort.Strings(symbols)

	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	for _, symbol := range symbols {
		_, err := tx.Exec(`
			INSERT INTO weights (tick, symbol, weight, price)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (tick, symbol) DO UPDATE SET
				weight = excluded.weight,
				price = excluded.price
		`, weights.Tick.UTC(), symbol, weights.Weights[symbol], weights.Prices[symbol])
		if err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("failed to insert weight: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit weights: %w", err)
	}

	return nil
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}

	return false
}

// Flush exports the weights to parquet.
func (w *WeightsWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.db == nil {
		return fmt.Errorf("writer not initialized")
	}

	_, err := w.db.Exec(fmt.Sprintf(`
		COPY (SELECT * FROM weights ORDER BY tick ASC, symbol ASC)
		TO '%s' (FORMAT PARQUET)
	`, w.outputPath))
	if err != nil {
		return fmt.Errorf("failed to export to parquet: %w", err)
	}

	return nil
}

// GetOutputPath returns the parquet file path.
func (w *WeightsWriter) GetOutputPath() string {
	return w.outputPath
}

// Close releases database resources.
func (w *WeightsWriter) Close() error {
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

// GetRowCount returns the number of weight rows stored.
func (w *WeightsWriter) GetRowCount() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.db == nil {
		return 0, fmt.Errorf("writer not initialized")
	}

	var count int

	err := w.db.QueryRow("SELECT COUNT(*) FROM weights").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count weights: %w", err)
	}

	return count, nil
}
