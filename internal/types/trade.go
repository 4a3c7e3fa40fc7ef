package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is one execution against an order. Trades are append-only.
type Trade struct {
	ID            string    `yaml:"id" json:"id"`
	ExternalID    string    `yaml:"external_id" json:"external_id"`
	OrderID       string    `yaml:"order_id" json:"order_id"`
	ClientOrderID string    `yaml:"client_order_id" json:"client_order_id"`
	Symbol        string    `yaml:"symbol" json:"symbol"`
	Side          OrderSide `yaml:"side" json:"side"`
	Price         float64   `yaml:"price" json:"price"`
	Qty           float64   `yaml:"qty" json:"qty"`
	ExecutedAt    time.Time `yaml:"executed_at" json:"executed_at"`
	// SettlementDate is the calendar date (UTC midnight) the trade settles on.
	SettlementDate time.Time `yaml:"settlement_date" json:"settlement_date"`
	Settled        bool      `yaml:"settled" json:"settled"`
}

// SignedQty returns the quantity, negative for sells.
func (t Trade) SignedQty() float64 {
	if t.Side == OrderSideSell {
		return -t.Qty
	}

	return t.Qty
}

// Notional returns price × qty as a decimal.
func (t Trade) Notional() decimal.Decimal {
	return decimal.NewFromFloat(t.Price).Mul(decimal.NewFromFloat(t.Qty))
}

// SettlementDate returns the date daysToSettle business days after executedAt.
// Weekends are skipped; exchange holidays are not considered.
func SettlementDate(executedAt time.Time, daysToSettle int) time.Time {
	d := time.Date(executedAt.Year(), executedAt.Month(), executedAt.Day(), 0, 0, 0, 0, time.UTC)

	for added := 0; added < daysToSettle; {
		d = d.AddDate(0, 0, 1)
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			added++
		}
	}

	return d
}

// Position is the projected holding of one symbol.
type Position struct {
	Symbol   string  `yaml:"symbol" json:"symbol"`
	Qty      float64 `yaml:"qty" json:"qty"`
	AvgPrice float64 `yaml:"avg_price" json:"avg_price"`
	// MarketValue is qty times the last known price.
	MarketValue float64   `yaml:"market_value" json:"market_value"`
	LastUpdate  time.Time `yaml:"last_update" json:"last_update"`
}

// ApplyFill updates the position for a signed fill. Average price tracks the
// cost basis of the open side; it resets when the position flips or flattens.
func (p *Position) ApplyFill(signedQty, price float64, at time.Time) {
	newQty := p.Qty + signedQty

	switch {
	case newQty == 0:
		p.AvgPrice = 0
	case p.Qty == 0 || (p.Qty > 0) != (newQty > 0):
		p.AvgPrice = price
	case (p.Qty > 0) == (signedQty > 0):
		p.AvgPrice = (p.AvgPrice*p.Qty + price*signedQty) / newQty
	}

	p.Qty = newQty
	p.MarketValue = newQty * price
	p.LastUpdate = at
}
