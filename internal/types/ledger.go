package types

import (
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

// LedgerSnapshot is a consistent copy of the ledger state.
type LedgerSnapshot struct {
	// SODCash is sampled once at session start and sizes every target.
	SODCash       decimal.Decimal                   `json:"sod_cash"`
	TotalCash     decimal.Decimal                   `json:"total_cash"`
	AvailableCash decimal.Decimal                   `json:"available_cash"`
	ReservedCash  decimal.Decimal                   `json:"reserved_cash"`
	BuyingPower   decimal.Decimal                   `json:"buying_power"`
	Positions     map[string]Position               `json:"positions"`
	InFlight      map[string]optional.Option[Order] `json:"in_flight"`
}
