package types

// HoldStatus is the per-symbol trading permission.
type HoldStatus string

const (
	HoldOpen         HoldStatus = "OPEN"
	HoldSellOnly     HoldStatus = "SELL_ONLY"
	HoldBuyOnly      HoldStatus = "BUY_ONLY"
	HoldAll          HoldStatus = "HOLD_ALL"
	HoldClosedForDay HoldStatus = "CLOSED_FOR_DAY"
)

// CanBuy reports whether a buy may be submitted under this status.
func (h HoldStatus) CanBuy() bool {
	return h == HoldOpen || h == HoldBuyOnly
}

// CanSell reports whether a sell may be submitted under this status.
func (h HoldStatus) CanSell() bool {
	return h == HoldOpen || h == HoldSellOnly
}

// Blocked reports whether no order at all may be submitted.
func (h HoldStatus) Blocked() bool {
	return h == HoldAll || h == HoldClosedForDay
}

// HoldChange is published whenever a symbol's hold status changes.
type HoldChange struct {
	Symbol string     `json:"symbol"`
	From   HoldStatus `json:"from"`
	To     HoldStatus `json:"to"`
	Reason string     `json:"reason"`
}
