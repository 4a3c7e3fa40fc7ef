// Package alpaca implements the broker adapter against an Alpaca-style
// trading API: REST for account, orders and calendar and a websocket for
// trade updates.
package alpaca

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/rxtech-lab/argo-live/internal/broker"
	"github.com/rxtech-lab/argo-live/internal/logger"
	"github.com/rxtech-lab/argo-live/internal/types"
	"github.com/rxtech-lab/argo-live/pkg/errors"
	"go.uber.org/zap"
)

// Broker base URLs per environment.
const (
	PaperBaseURL   = "https://paper-api.alpaca.markets"
	LiveBaseURL    = "https://api.alpaca.markets"
	PaperStreamURL = "wss://paper-api.alpaca.markets/stream"
	LiveStreamURL  = "wss://api.alpaca.markets/stream"
)

// Config configures a Client.
type Config struct {
	BaseURL   string
	StreamURL string
	KeyID     string
	SecretKey string
	// Timeout bounds every REST call.
	Timeout time.Duration
	// ReadRetries is the number of retries for idempotent reads on transient errors.
	ReadRetries int
	// Location is the exchange time zone of calendar entries.
	Location *time.Location
}

// maxRetryWait caps the wait between two retries of a read, including a
// rate-limit reset.
const maxRetryWait = 10 * time.Second

// Client is the Alpaca broker adapter.
type Client struct {
	log    *logger.Logger
	http   *resty.Client
	config Config
	dialer *websocket.Dialer
	now    func() time.Time
}

var _ broker.Broker = (*Client)(nil)

// New creates a client.
func New(log *logger.Logger, config Config) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	if config.Location == nil {
		loc, err := time.LoadLocation("America/New_York")
		if err != nil {
			loc = time.UTC
		}

		config.Location = loc
	}

	c := &Client{
		log:    log.Named("alpaca"),
		config: config,
		dialer: &websocket.Dialer{HandshakeTimeout: config.Timeout},
		now:    time.Now,
	}

	c.http = resty.New().
		SetBaseURL(config.BaseURL).
		SetTimeout(config.Timeout).
		SetHeader("APCA-API-KEY-ID", config.KeyID).
		SetHeader("APCA-API-SECRET-KEY", config.SecretKey).
		SetHeader("Accept", "application/json").
		SetRetryCount(config.ReadRetries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(maxRetryWait).
		SetRetryAfter(func(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
			if resp == nil || resp.StatusCode() != http.StatusTooManyRequests {
				return 0, nil
			}

			return c.retryAfter(resp), nil
		}).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if resp == nil || resp.Request == nil || resp.Request.Method != http.MethodGet {
				return false
			}

			return err != nil || resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= http.StatusInternalServerError
		})

	return c
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.http.R().SetContext(ctx).SetError(&apiError{})
}

// check turns a transport error or an error response into a broker error class.
func (c *Client) check(resp *resty.Response, err error, op string) error {
	if err != nil {
		var netErr net.Error
		if stderrors.Is(err, context.DeadlineExceeded) || (stderrors.As(err, &netErr) && netErr.Timeout()) {
			return errors.Wrapf(errors.ErrCodeBrokerTimeout, err, "%s timed out", op)
		}

		if stderrors.Is(err, context.Canceled) {
			return errors.Wrapf(errors.ErrCodeCanceled, err, "%s canceled", op)
		}

		return errors.Wrapf(errors.ErrCodeBrokerServerError, err, "%s failed", op)
	}

	if !resp.IsError() {
		return nil
	}

	message := resp.String()
	if apiErr, ok := resp.Error().(*apiError); ok && apiErr.Message != "" {
		message = apiErr.Message
	}

	if resp.StatusCode() == http.StatusTooManyRequests {
		return broker.NewRateLimited(op+": "+message, c.retryAfter(resp))
	}

	classified := broker.FromStatus(resp.StatusCode(), message)

	return errors.Wrap(errors.GetCode(classified), op, classified)
}

// retryAfter reads the unix-seconds X-Ratelimit-Reset header.
func (c *Client) retryAfter(resp *resty.Response) time.Duration {
	reset, err := strconv.ParseInt(resp.Header().Get("X-Ratelimit-Reset"), 10, 64)
	if err != nil {
		return time.Second
	}

	delay := time.Unix(reset, 0).Sub(c.now())
	if delay < 0 {
		return 0
	}

	return delay
}

// Account returns the trading account.
func (c *Client) Account(ctx context.Context) (types.Account, error) {
	var out account

	resp, err := c.request(ctx).SetResult(&out).Get("/v2/account")
	if err := c.check(resp, err, "get account"); err != nil {
		return types.Account{}, err
	}

	return out.toAccount(), nil
}

// Positions returns every open position.
func (c *Client) Positions(ctx context.Context) ([]types.Position, error) {
	var out []position

	resp, err := c.request(ctx).SetResult(&out).Get("/v2/positions")
	if err := c.check(resp, err, "list positions"); err != nil {
		return nil, err
	}

	now := c.now().UTC()
	positions := make([]types.Position, 0, len(out))

	for _, p := range out {
		positions = append(positions, p.toPosition(now))
	}

	return positions, nil
}

// Orders lists orders with the given status.
func (c *Client) Orders(ctx context.Context, status broker.OrderQueryStatus) ([]types.Order, error) {
	var out []order

	resp, err := c.request(ctx).
		SetResult(&out).
		SetQueryParam("status", string(status)).
		SetQueryParam("limit", "500").
		SetQueryParam("direction", "asc").
		Get("/v2/orders")
	if err := c.check(resp, err, "list orders"); err != nil {
		return nil, err
	}

	orders := make([]types.Order, 0, len(out))
	for _, o := range out {
		orders = append(orders, o.toOrder())
	}

	return orders, nil
}

// GetOrder returns the order with the broker id.
func (c *Client) GetOrder(ctx context.Context, id string) (types.Order, error) {
	var out order

	resp, err := c.request(ctx).SetResult(&out).SetPathParam("id", id).Get("/v2/orders/{id}")
	if err := c.check(resp, err, "get order "+id); err != nil {
		return types.Order{}, err
	}

	return out.toOrder(), nil
}

// GetOrderByClientID returns the order with the client order id.
func (c *Client) GetOrderByClientID(ctx context.Context, clientOrderID string) (types.Order, error) {
	var out order

	resp, err := c.request(ctx).
		SetResult(&out).
		SetQueryParam("client_order_id", clientOrderID).
		Get("/v2/orders:by_client_order_id")
	if err := c.check(resp, err, "get order "+clientOrderID); err != nil {
		return types.Order{}, err
	}

	return out.toOrder(), nil
}

// SubmitOrder submits req. Submissions are never retried by the client.
func (c *Client) SubmitOrder(ctx context.Context, req broker.SubmitRequest) (types.Order, error) {
	if err := req.Validate(); err != nil {
		return types.Order{}, err
	}

	body := submitBody{
		Symbol:        req.Symbol,
		Side:          string(req.Side),
		Type:          string(req.Type),
		TimeInForce:   string(req.TimeInForce),
		ClientOrderID: req.ClientOrderID,
		ExtendedHours: req.ExtendedHours,
	}

	if req.Qty > 0 {
		body.Qty = formatFloat(req.Qty)
	} else {
		body.Notional = formatFloat(req.Notional)
	}

	if p, err := req.LimitPrice.Take(); err == nil {
		body.LimitPrice = formatFloat(p)
	}

	if p, err := req.StopPrice.Take(); err == nil {
		body.StopPrice = formatFloat(p)
	}

	var out order

	resp, err := c.request(ctx).SetBody(body).SetResult(&out).Post("/v2/orders")
	if err := c.check(resp, err, "submit order "+req.ClientOrderID); err != nil {
		return types.Order{}, err
	}

	c.log.Debug("order submitted",
		zap.String("symbol", req.Symbol),
		zap.String("client_order_id", req.ClientOrderID),
		zap.String("order_id", out.ID),
	)

	return out.toOrder(), nil
}

// CancelOrder requests cancellation of the order with the broker id.
func (c *Client) CancelOrder(ctx context.Context, id string) error {
	resp, err := c.request(ctx).SetPathParam("id", id).Delete("/v2/orders/{id}")

	return c.check(resp, err, "cancel order "+id)
}

// Calendar returns the trading days between start and end inclusive.
func (c *Client) Calendar(ctx context.Context, start, end time.Time) ([]types.CalendarDay, error) {
	var out []calendarDay

	resp, err := c.request(ctx).
		SetResult(&out).
		SetQueryParam("start", start.In(c.config.Location).Format("2006-01-02")).
		SetQueryParam("end", end.In(c.config.Location).Format("2006-01-02")).
		Get("/v2/calendar")
	if err := c.check(resp, err, "get calendar"); err != nil {
		return nil, err
	}

	days := make([]types.CalendarDay, 0, len(out))

	for _, d := range out {
		day, err := d.toCalendarDay(c.config.Location)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrCodeBrokerBadRequest, err, "invalid calendar day %s", d.Date)
		}

		days = append(days, day)
	}

	return days, nil
}

// Clock returns the broker's market clock.
func (c *Client) Clock(ctx context.Context) (types.MarketClock, error) {
	var out marketClock

	resp, err := c.request(ctx).SetResult(&out).Get("/v2/clock")
	if err := c.check(resp, err, "get clock"); err != nil {
		return types.MarketClock{}, err
	}

	return types.MarketClock{
		Timestamp: out.Timestamp.UTC(),
		IsOpen:    out.IsOpen,
		NextOpen:  out.NextOpen.UTC(),
		NextClose: out.NextClose.UTC(),
	}, nil
}
