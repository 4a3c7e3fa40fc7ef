package alpaca

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-live/internal/types"
	"github.com/shopspring/decimal"
)

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type account struct {
	ID             string          `json:"id"`
	Status         string          `json:"status"`
	Cash           decimal.Decimal `json:"cash"`
	BuyingPower    decimal.Decimal `json:"buying_power"`
	Equity         decimal.Decimal `json:"equity"`
	TradingBlocked bool            `json:"trading_blocked"`
}

func (a account) toAccount() types.Account {
	return types.Account{
		ID:             a.ID,
		Status:         a.Status,
		Cash:           a.Cash,
		BuyingPower:    a.BuyingPower,
		Equity:         a.Equity,
		TradingBlocked: a.TradingBlocked,
	}
}

type position struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	AvgEntryPrice string `json:"avg_entry_price"`
	MarketValue   string `json:"market_value"`
	Side          string `json:"side"`
}

func (p position) toPosition(at time.Time) types.Position {
	qty := parseFloat(&p.Qty)
	if p.Side == "short" && qty > 0 {
		qty = -qty
	}

	return types.Position{
		Symbol:      p.Symbol,
		Qty:         qty,
		AvgPrice:    parseFloat(&p.AvgEntryPrice),
		MarketValue: parseFloat(&p.MarketValue),
		LastUpdate:  at,
	}
}

type order struct {
	ID             string     `json:"id"`
	ClientOrderID  string     `json:"client_order_id"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at"`
	Symbol         string     `json:"symbol"`
	Qty            *string    `json:"qty"`
	Notional       *string    `json:"notional"`
	FilledQty      *string    `json:"filled_qty"`
	FilledAvgPrice *string    `json:"filled_avg_price"`
	Type           string     `json:"type"`
	Side           string     `json:"side"`
	TimeInForce    string     `json:"time_in_force"`
	LimitPrice     *string    `json:"limit_price"`
	StopPrice      *string    `json:"stop_price"`
	Status         string     `json:"status"`
	ExtendedHours  bool       `json:"extended_hours"`
}

// toOrder maps the broker order. Broker-only statuses such as pending_new
// collapse onto the local state they imply.
func (o order) toOrder() types.Order {
	out := types.Order{
		ID:            o.ID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          types.OrderSide(o.Side),
		Type:          types.OrderType(o.Type),
		TimeInForce:   types.TimeInForce(o.TimeInForce),
		Status:        mapStatus(o.Status),
		Qty:           parseFloat(o.Qty),
		Notional:      parseFloat(o.Notional),
		LimitPrice:    parseOptional(o.LimitPrice),
		StopPrice:     parseOptional(o.StopPrice),
		Price:         parseOptional(o.FilledAvgPrice),
		FilledQty:     parseFloat(o.FilledQty),
		ExtendedHours: o.ExtendedHours,
		CreatedAt:     o.CreatedAt.UTC(),
		UpdatedAt:     o.CreatedAt.UTC(),
	}

	if o.UpdatedAt != nil {
		out.UpdatedAt = o.UpdatedAt.UTC()
	}

	return out
}

func mapStatus(status string) types.OrderStatus {
	switch status {
	case "pending_new":
		return types.OrderStatusNew
	case "new", "accepted", "accepted_for_bidding", "pending_cancel", "pending_replace", "held", "calculated", "stopped", "suspended":
		return types.OrderStatusAccepted
	case "partially_filled":
		return types.OrderStatusPartiallyFilled
	case "filled":
		return types.OrderStatusFilled
	case "canceled", "replaced":
		return types.OrderStatusCanceled
	case "rejected":
		return types.OrderStatusRejected
	case "expired":
		return types.OrderStatusExpired
	case "done_for_day":
		return types.OrderStatusDoneForDay
	default:
		return types.OrderStatus(status)
	}
}

type submitBody struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty,omitempty"`
	Notional      string `json:"notional,omitempty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	LimitPrice    string `json:"limit_price,omitempty"`
	StopPrice     string `json:"stop_price,omitempty"`
	ClientOrderID string `json:"client_order_id"`
	ExtendedHours bool   `json:"extended_hours,omitempty"`
}

type calendarDay struct {
	Date  string `json:"date"`
	Open  string `json:"open"`
	Close string `json:"close"`
}

// toCalendarDay converts exchange-local open and close times to UTC.
func (d calendarDay) toCalendarDay(loc *time.Location) (types.CalendarDay, error) {
	open, err := time.ParseInLocation("2006-01-02 15:04", d.Date+" "+d.Open, loc)
	if err != nil {
		return types.CalendarDay{}, err
	}

	closeAt, err := time.ParseInLocation("2006-01-02 15:04", d.Date+" "+d.Close, loc)
	if err != nil {
		return types.CalendarDay{}, err
	}

	return types.CalendarDay{Date: d.Date, Open: open.UTC(), Close: closeAt.UTC()}, nil
}

type marketClock struct {
	Timestamp time.Time `json:"timestamp"`
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}

type tradeUpdate struct {
	Event       string     `json:"event"`
	ExecutionID string     `json:"execution_id"`
	Order       order      `json:"order"`
	Timestamp   *time.Time `json:"timestamp"`
	Price       *string    `json:"price"`
	Qty         *string    `json:"qty"`
}

func (u tradeUpdate) toEvent(received time.Time) types.OrderEvent {
	at := received
	if u.Timestamp != nil {
		at = *u.Timestamp
	} else if u.Order.UpdatedAt != nil {
		at = *u.Order.UpdatedAt
	}

	return types.OrderEvent{
		Event:       types.OrderEventType(u.Event),
		Order:       u.Order.toOrder(),
		Timestamp:   at.UTC(),
		ExecutionID: u.ExecutionID,
		Price:       parseFloat(u.Price),
		Qty:         parseFloat(u.Qty),
	}
}

type streamMessage struct {
	Stream string `json:"stream"`
	// Data is decoded by stream name.
	Data json.RawMessage `json:"data"`
}

type authorization struct {
	Status string `json:"status"`
	Action string `json:"action"`
}

func parseFloat(s *string) float64 {
	if s == nil || *s == "" {
		return 0
	}

	v, err := strconv.ParseFloat(*s, 64)
	if err != nil {
		return 0
	}

	return v
}

func parseOptional(s *string) optional.Option[float64] {
	if s == nil || *s == "" {
		return optional.None[float64]()
	}

	v, err := strconv.ParseFloat(*s, 64)
	if err != nil {
		return optional.None[float64]()
	}

	return optional.Some(v)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
