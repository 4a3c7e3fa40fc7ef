package writers

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rxtech-lab/argo-live/internal/types"
	"github.com/stretchr/testify/suite"
)

type WritersTestSuite struct {
	suite.Suite
	tempDir string
}

func (s *WritersTestSuite) SetupTest() {
	tempDir, err := os.MkdirTemp("", "writers_test_*")
	s.Require().NoError(err)
	s.tempDir = tempDir
}

func (s *WritersTestSuite) TearDownTest() {
	if s.tempDir != "" {
		os.RemoveAll(s.tempDir)
	}
}

func TestWritersTestSuite(t *testing.T) {
	suite.Run(t, new(WritersTestSuite))
}

func (s *WritersTestSuite) countParquet(path string) int {
	db, err := sql.Open("duckdb", ":memory:")
	s.Require().NoError(err)
	defer db.Close()

	var count int
	s.Require().NoError(db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM read_parquet('%s')", path)).Scan(&count))

	return count
}

func bar(symbol string, minute int, closePrice float64) types.Bar {
	return types.Bar{
		Symbol:     symbol,
		Time:       time.Date(2025, 3, 6, 14, 30+minute, 0, 0, time.UTC),
		Open:       closePrice - 1,
		High:       closePrice + 1,
		Low:        closePrice - 2,
		Close:      closePrice,
		Volume:     1000,
		VWAP:       closePrice,
		TradeCount: 12,
	}
}

// ============================================================================
// BarsWriter
// ============================================================================

func (s *WritersTestSuite) TestBarsWriter_NotInitialized() {
	w := NewBarsWriter(filepath.Join(s.tempDir, "bars.parquet"))

	err := w.Write(bar("AAPL", 0, 100))
	s.Error(err)
	s.Contains(err.Error(), "writer not initialized")

	s.Error(w.Flush())

	_, err = w.GetBarCount()
	s.Error(err)
	s.NoError(w.Close())
}

func (s *WritersTestSuite) TestBarsWriter_WriteAndFlush() {
	outputPath := filepath.Join(s.tempDir, "2025-03-06", "run_1", "bars.parquet")
	w := NewBarsWriter(outputPath)
	s.Require().NoError(w.Initialize())
	defer w.Close()

	s.Require().NoError(w.Write(bar("AAPL", 0, 100)))
	s.Require().NoError(w.Write(bar("AAPL", 1, 101)))
	s.Require().NoError(w.Write(bar("MSFT", 0, 300)))
	s.Require().NoError(w.Write(types.EndOfStreamBar("AAPL", time.Now())))

	count, err := w.GetBarCount()
	s.Require().NoError(err)
	s.Equal(3, count)

	s.Require().NoError(w.Flush())
	s.FileExists(outputPath)
	s.Equal(3, s.countParquet(outputPath))
	s.Equal(outputPath, w.GetOutputPath())
}

func (s *WritersTestSuite) TestBarsWriter_RepeatedMinuteReplaces() {
	w := NewBarsWriter(filepath.Join(s.tempDir, "bars.parquet"))
	s.Require().NoError(w.Initialize())
	defer w.Close()

	s.Require().NoError(w.Write(bar("AAPL", 0, 100)))
	s.Require().NoError(w.Write(bar("AAPL", 0, 105)))

	count, err := w.GetBarCount()
	s.Require().NoError(err)
	s.Equal(1, count)
}

func (s *WritersTestSuite) TestBarsWriter_Persistence() {
	outputPath := filepath.Join(s.tempDir, "bars.parquet")

	w := NewBarsWriter(outputPath)
	s.Require().NoError(w.Initialize())
	s.Require().NoError(w.Write(bar("AAPL", 0, 100)))
	s.Require().NoError(w.Flush())
	s.Require().NoError(w.Close())

	w2 := NewBarsWriter(outputPath)
	s.Require().NoError(w2.Initialize())
	defer w2.Close()

	s.Require().NoError(w2.Write(bar("AAPL", 1, 101)))

	count, err := w2.GetBarCount()
	s.Require().NoError(err)
	s.Equal(2, count)
}

// ============================================================================
// HoldsWriter
// ============================================================================

func (s *WritersTestSuite) TestHoldsWriter_NotInitialized() {
	w := NewHoldsWriter(filepath.Join(s.tempDir, "holds.parquet"))

	err := w.Write(types.HoldChange{Symbol: "AAPL", From: types.HoldOpen, To: types.HoldAll}, time.Now())
	s.Error(err)
	s.Contains(err.Error(), "writer not initialized")
	s.Error(w.Flush())
}

func (s *WritersTestSuite) TestHoldsWriter_WriteAndPersist() {
	outputPath := filepath.Join(s.tempDir, "holds.parquet")
	at := time.Date(2025, 3, 6, 14, 31, 0, 0, time.UTC)

	w := NewHoldsWriter(outputPath)
	s.Require().NoError(w.Initialize())
	s.Require().NoError(w.Write(types.HoldChange{Symbol: "AAPL", From: types.HoldOpen, To: types.HoldAll, Reason: "new"}, at))
	s.Require().NoError(w.Write(types.HoldChange{Symbol: "AAPL", From: types.HoldAll, To: types.HoldSellOnly, Reason: "fill"}, at))
	s.Require().NoError(w.Flush())
	s.Require().NoError(w.Close())
	s.Equal(2, s.countParquet(outputPath))

	w2 := NewHoldsWriter(outputPath)
	s.Require().NoError(w2.Initialize())
	defer w2.Close()

	s.Require().NoError(w2.Write(types.HoldChange{Symbol: "AAPL", From: types.HoldSellOnly, To: types.HoldOpen}, at.Add(time.Minute)))

	count, err := w2.GetChangeCount()
	s.Require().NoError(err)
	s.Equal(3, count)
}

// ============================================================================
// WeightsWriter
// ============================================================================

func (s *WritersTestSuite) TestWeightsWriter_NotInitialized() {
	w := NewWeightsWriter(filepath.Join(s.tempDir, "weights.parquet"))

	err := w.Write(types.TargetWeights{})
	s.Error(err)
	s.Contains(err.Error(), "writer not initialized")
}

func (s *WritersTestSuite) TestWeightsWriter_WritesEveryRosterSymbol() {
	outputPath := filepath.Join(s.tempDir, "weights.parquet")
	w := NewWeightsWriter(outputPath)
	s.Require().NoError(w.Initialize())
	defer w.Close()

	tick := time.Date(2025, 3, 6, 14, 31, 0, 0, time.UTC)
	s.Require().NoError(w.Write(types.TargetWeights{
		Tick:    tick,
		Symbols: []string{"AAPL", "MSFT", "TSLA"},
		Weights: map[string]float64{"AAPL": 0.6, "MSFT": 0.4},
		Prices:  map[string]float64{"AAPL": 100, "MSFT": 300, "TSLA": 200},
	}))

	count, err := w.GetRowCount()
	s.Require().NoError(err)
	s.Equal(3, count)

	s.Require().NoError(w.Write(types.TargetWeights{
		Tick:    tick,
		Symbols: []string{"AAPL", "MSFT", "TSLA"},
		Weights: map[string]float64{"AAPL": 1},
	}))

	count, err = w.GetRowCount()
	s.Require().NoError(err)
	s.Equal(3, count)

	s.Require().NoError(w.Flush())
	s.Equal(3, s.countParquet(outputPath))
}
