package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is the broker account state sampled by the ledger.
type Account struct {
	ID          string          `json:"id" yaml:"id"`
	Status      string          `json:"status" yaml:"status"`
	Cash        decimal.Decimal `json:"cash" yaml:"cash"`
	BuyingPower decimal.Decimal `json:"buying_power" yaml:"buying_power"`
	Equity      decimal.Decimal `json:"equity" yaml:"equity"`
	// TradingBlocked is set by the broker when the account may not trade.
	TradingBlocked bool `json:"trading_blocked" yaml:"trading_blocked"`
}

// TradeFilter is used to filter trades when querying trade history.
type TradeFilter struct {
	// Symbol filters trades by symbol (empty string means no filter)
	Symbol string `json:"symbol" yaml:"symbol"`
	// StartTime filters trades executed after this time (zero time means no filter)
	StartTime time.Time `json:"start_time" yaml:"start_time"`
	// EndTime filters trades executed before this time (zero time means no filter)
	EndTime time.Time `json:"end_time" yaml:"end_time"`
	// Limit limits the number of trades returned (0 means no limit)
	Limit int `json:"limit" yaml:"limit"`
}
