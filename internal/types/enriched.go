package types

import (
	"fmt"
	"math"
)

// Column names a derived feature on an EnrichedBar.
type Column string

const (
	ColumnOpen       Column = "open"
	ColumnHigh       Column = "high"
	ColumnLow        Column = "low"
	ColumnClose      Column = "close"
	ColumnVolume     Column = "volume"
	ColumnVWAP       Column = "vwap"
	ColumnTradeCount Column = "trade_count"

	ColumnMACD        Column = "macd"
	ColumnMACDSignal  Column = "macd_signal"
	ColumnMACDHist    Column = "macd_hist"
	ColumnRSI14       Column = "rsi_14"
	ColumnATR14       Column = "atr_14"
	ColumnBBUpper     Column = "bb_upper"
	ColumnBBMiddle    Column = "bb_middle"
	ColumnBBLower     Column = "bb_lower"
	ColumnStochK      Column = "stoch_k"
	ColumnStochD      Column = "stoch_d"
	ColumnADX14       Column = "adx_14"
	ColumnPlusDI      Column = "plus_di"
	ColumnMinusDI     Column = "minus_di"
	ColumnOBV         Column = "obv"
	ColumnADL         Column = "adl"
	ColumnRollingVWAP Column = "vwap_rolling"
	ColumnReturn1     Column = "return_1"
	ColumnLogReturn1  Column = "log_return_1"
	ColumnVolatility  Column = "volatility_20"

	ColumnMinuteOfDay      Column = "minute_of_day"
	ColumnMinutesSinceOpen Column = "minutes_since_open"
	ColumnDayOfWeek        Column = "day_of_week"
)

// MovingAverageWindows are the fixed SMA/EMA lookbacks.
var MovingAverageWindows = []int{9, 10, 12, 20, 26, 50, 100, 150, 200}

// SMAColumn returns the column holding the simple moving average over n bars.
func SMAColumn(n int) Column {
	return Column(fmt.Sprintf("sma_%d", n))
}

// EMAColumn returns the column holding the exponential moving average over n bars.
func EMAColumn(n int) Column {
	return Column(fmt.Sprintf("ema_%d", n))
}

// EnrichedBar is a Bar plus its derived features. Features that are still
// warming up hold NaN.
type EnrichedBar struct {
	Bar
	Features map[Column]float64 `yaml:"features" json:"features"`
}

// Value returns the feature value, or NaN if the column is absent.
func (e EnrichedBar) Value(column Column) float64 {
	v, ok := e.Features[column]
	if !ok {
		return math.NaN()
	}

	return v
}

// Ready reports whether every column is present and not NaN.
func (e EnrichedBar) Ready(columns ...Column) bool {
	for _, c := range columns {
		if math.IsNaN(e.Value(c)) {
			return false
		}
	}

	return true
}
