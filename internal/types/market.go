package types

import "time"

// Bar is a raw aggregate for one symbol over a fixed interval.
type Bar struct {
	Symbol     string    `yaml:"symbol" json:"symbol" csv:"symbol"`
	Time       time.Time `yaml:"time" json:"time" csv:"time"`
	Open       float64   `yaml:"open" json:"open" csv:"open"`
	High       float64   `yaml:"high" json:"high" csv:"high"`
	Low        float64   `yaml:"low" json:"low" csv:"low"`
	Close      float64   `yaml:"close" json:"close" csv:"close"`
	Volume     float64   `yaml:"volume" json:"volume" csv:"volume"`
	VWAP       float64   `yaml:"vwap" json:"vwap" csv:"vwap"`
	TradeCount int64     `yaml:"trade_count" json:"trade_count" csv:"trade_count"`
	// EndOfStream marks the sentinel published when a symbol leaves the subscription set.
	EndOfStream bool `yaml:"-" json:"-" csv:"-"`
}

// EndOfStreamBar returns the sentinel bar for symbol.
func EndOfStreamBar(symbol string, at time.Time) Bar {
	//nolint:exhaustruct
	return Bar{Symbol: symbol, Time: at, EndOfStream: true}
}

// Quote is a top-of-book update.
type Quote struct {
	Symbol   string    `yaml:"symbol" json:"symbol"`
	Time     time.Time `yaml:"time" json:"time"`
	BidPrice float64   `yaml:"bid_price" json:"bid_price"`
	BidSize  float64   `yaml:"bid_size" json:"bid_size"`
	AskPrice float64   `yaml:"ask_price" json:"ask_price"`
	AskSize  float64   `yaml:"ask_size" json:"ask_size"`
}

// TradeTick is a single print on the tape.
type TradeTick struct {
	Symbol string    `yaml:"symbol" json:"symbol"`
	Time   time.Time `yaml:"time" json:"time"`
	Price  float64   `yaml:"price" json:"price"`
	Size   float64   `yaml:"size" json:"size"`
	ID     string    `yaml:"id" json:"id"`
}

// CalendarDay is one trading day from the broker calendar.
type CalendarDay struct {
	Date  string    `json:"date"`
	Open  time.Time `json:"open"`
	Close time.Time `json:"close"`
}

// MarketClock is the broker's view of the current session.
type MarketClock struct {
	Timestamp time.Time `json:"timestamp"`
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}
