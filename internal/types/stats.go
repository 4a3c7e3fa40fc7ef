package types

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// OrderCounts counts the orders of a session by outcome.
type OrderCounts struct {
	Submitted  int `yaml:"submitted" json:"submitted"`
	Filled     int `yaml:"filled" json:"filled"`
	Rejected   int `yaml:"rejected" json:"rejected"`
	Canceled   int `yaml:"canceled" json:"canceled"`
	Expired    int `yaml:"expired" json:"expired"`
	DoneForDay int `yaml:"done_for_day" json:"done_for_day"`
}

// SymbolStats aggregates the fills of one symbol.
type SymbolStats struct {
	Fills          int     `yaml:"fills" json:"fills"`
	BoughtQty      float64 `yaml:"bought_qty" json:"bought_qty"`
	SoldQty        float64 `yaml:"sold_qty" json:"sold_qty"`
	TradedNotional float64 `yaml:"traded_notional" json:"traded_notional"`
}

// SessionStats is the summary written to stats.yaml when a session closes.
type SessionStats struct {
	ID             string                 `yaml:"id" json:"id"`
	Date           string                 `yaml:"date" json:"date"`
	SessionStart   time.Time              `yaml:"session_start" json:"session_start"`
	SessionEnd     time.Time              `yaml:"session_end" json:"session_end"`
	Symbols        []string               `yaml:"symbols" json:"symbols"`
	Orders         OrderCounts            `yaml:"orders" json:"orders"`
	Fills          int                    `yaml:"fills" json:"fills"`
	TradedNotional float64                `yaml:"traded_notional" json:"traded_notional"`
	PerSymbol      map[string]SymbolStats `yaml:"per_symbol" json:"per_symbol"`
	// Files maps artifact names to their paths in the run folder.
	Files map[string]string `yaml:"files" json:"files"`
}

// WriteSessionStats writes session statistics to a YAML file.
func WriteSessionStats(path string, stats SessionStats) error {
	data, err := yaml.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal session stats to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write session stats to file: %w", err)
	}

	return nil
}

// ReadSessionStats reads session statistics from a YAML file.
func ReadSessionStats(path string) (SessionStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SessionStats{}, fmt.Errorf("failed to read session stats file: %w", err)
	}

	var stats SessionStats
	if err := yaml.Unmarshal(data, &stats); err != nil {
		return SessionStats{}, fmt.Errorf("failed to unmarshal session stats: %w", err)
	}

	return stats, nil
}
