// Package marketstream owns the market data websocket. It republishes bars,
// trades and quotes on per-symbol bus topics and keeps the connection alive.
package marketstream

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	polygonws "github.com/polygon-io/client-go/websocket"
	"github.com/polygon-io/client-go/websocket/models"
	"github.com/rxtech-lab/argo-live/internal/bus"
	"github.com/rxtech-lab/argo-live/internal/clock"
	"github.com/rxtech-lab/argo-live/internal/logger"
	"github.com/rxtech-lab/argo-live/internal/storage"
	"github.com/rxtech-lab/argo-live/internal/types"
	"github.com/rxtech-lab/argo-live/pkg/errors"
	"go.uber.org/zap"
)

// WebSocketService is the subset of the polygon websocket client the stream uses.
type WebSocketService interface {
	Connect() error
	Subscribe(topic polygonws.Topic, tickers ...string) error
	Unsubscribe(topic polygonws.Topic, tickers ...string) error
	Output() <-chan any
	Error() <-chan error
	Close()
}

// Dialer creates a fresh websocket client for every connection attempt.
type Dialer func() (WebSocketService, error)

// NewPolygonDialer returns a Dialer for the polygon stocks cluster.
func NewPolygonDialer(apiKey string, feed polygonws.Feed) Dialer {
	return func() (WebSocketService, error) {
		return polygonws.New(polygonws.Config{
			APIKey: apiKey,
			Feed:   feed,
			Market: polygonws.Stocks,
		})
	}
}

// DefaultTopics are minute aggregates, trades and quotes.
var DefaultTopics = []polygonws.Topic{polygonws.StocksMinAggs, polygonws.StocksTrades, polygonws.StocksQuotes}

// Options configures a Stream.
type Options struct {
	Topics            []polygonws.Topic
	ReconnectDelay    time.Duration
	ReconnectDelayMax time.Duration
	// KeepAliveTimeout is the longest silence tolerated before reconnecting.
	KeepAliveTimeout time.Duration
}

// Stream is the raw market stream.
type Stream struct {
	log      *logger.Logger
	bus      *bus.Bus
	clock    clock.Clock
	dial     Dialer
	sessions storage.SessionRepository
	opts     Options

	mu         sync.Mutex
	symbols    []string
	ws         WebSocketService
	sessionID  string
	cancel     context.CancelFunc
	done       chan struct{}
	reconnects int
	received   int64
}

// NewStream creates a stream. sessions may be nil.
func NewStream(log *logger.Logger, b *bus.Bus, clk clock.Clock, dial Dialer, sessions storage.SessionRepository, opts Options) *Stream {
	if len(opts.Topics) == 0 {
		opts.Topics = DefaultTopics
	}

	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}

	if opts.ReconnectDelayMax < opts.ReconnectDelay {
		opts.ReconnectDelayMax = 30 * opts.ReconnectDelay
	}

	if opts.KeepAliveTimeout <= 0 {
		opts.KeepAliveTimeout = 2 * time.Minute
	}

	return &Stream{
		log:      log.Named("marketstream"),
		bus:      b,
		clock:    clk,
		dial:     dial,
		sessions: sessions,
		opts:     opts,
	}
}

// Start connects, subscribes to symbols and supervises the connection until Stop.
func (s *Stream) Start(ctx context.Context, symbols []string) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()

		return errors.New(errors.ErrCodeInvalidConfiguration, "market stream already started")
	}

	s.symbols = normalize(symbols)
	s.mu.Unlock()

	ws, err := s.connect(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go s.run(runCtx, ws, done)

	return nil
}

// connect dials, connects and subscribes to the authoritative symbol set.
func (s *Stream) connect(ctx context.Context) (WebSocketService, error) {
	ws, err := s.dial()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeMarketDataConnectFailed, "failed to create market data client", err)
	}

	if err := ws.Connect(); err != nil {
		ws.Close()

		return nil, errors.Wrap(errors.ErrCodeMarketDataConnectFailed, "failed to connect market data stream", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.symbols) > 0 {
		for _, topic := range s.opts.Topics {
			if err := ws.Subscribe(topic, s.symbols...); err != nil {
				ws.Close()

				return nil, errors.Wrap(errors.ErrCodeMarketDataConnectFailed, "failed to subscribe market data", err)
			}
		}
	}

	s.ws = ws
	s.recordStartLocked(ctx)

	s.log.Info("market data stream connected", zap.Strings("symbols", s.symbols))

	return ws, nil
}

func (s *Stream) recordStartLocked(ctx context.Context) {
	if s.sessions == nil {
		return
	}

	id, err := s.sessions.InsertSession(ctx, storage.StreamMarketData, s.clock.Now().UTC())
	if err != nil {
		s.log.Warn("failed to record market data session", zap.Error(err))

		return
	}

	s.sessionID = id
}

func (s *Stream) recordEnd(ctx context.Context) {
	s.mu.Lock()
	id := s.sessionID
	s.sessionID = ""
	s.mu.Unlock()

	if s.sessions == nil || id == "" {
		return
	}

	if err := s.sessions.UpdateSessionEnd(ctx, id, s.clock.Now().UTC()); err != nil {
		s.log.Warn("failed to close market data session", zap.Error(err))
	}
}

func (s *Stream) run(ctx context.Context, ws WebSocketService, done chan struct{}) {
	defer close(done)

	for {
		err := s.pump(ctx, ws)

		s.mu.Lock()
		s.ws = nil
		s.mu.Unlock()

		ws.Close()
		s.recordEnd(context.WithoutCancel(ctx))

		if ctx.Err() != nil {
			return
		}

		s.log.Warn("market data stream lost, reconnecting", zap.Error(err))

		ws = s.reconnect(ctx)
		if ws == nil {
			return
		}
	}
}

// pump forwards messages until the connection fails, goes silent or ctx is done.
func (s *Stream) pump(ctx context.Context, ws WebSocketService) error {
	watchdog := time.NewTimer(s.opts.KeepAliveTimeout)
	defer watchdog.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-watchdog.C:
			return errors.Newf(errors.ErrCodeMarketDataStale, "no market data for %s", s.opts.KeepAliveTimeout)
		case err, ok := <-ws.Error():
			if !ok {
				return errors.New(errors.ErrCodeMarketDataConnectFailed, "market data error channel closed")
			}

			return errors.Wrap(errors.ErrCodeMarketDataConnectFailed, "market data stream failed", err)
		case msg, ok := <-ws.Output():
			if !ok {
				return errors.New(errors.ErrCodeMarketDataConnectFailed, "market data stream closed")
			}

			if !watchdog.Stop() {
				select {
				case <-watchdog.C:
				default:
				}
			}

			watchdog.Reset(s.opts.KeepAliveTimeout)
			s.Dispatch(ctx, msg)
		}
	}
}

func (s *Stream) reconnect(ctx context.Context) WebSocketService {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.opts.ReconnectDelay
	policy.MaxInterval = s.opts.ReconnectDelayMax
	policy.MaxElapsedTime = 0

	var ws WebSocketService

	err := backoff.RetryNotify(func() error {
		var err error

		ws, err = s.connect(ctx)

		return err
	}, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		s.log.Warn("market data reconnect failed", zap.Error(err), zap.Duration("retry_in", wait))
	})
	if err != nil {
		return nil
	}

	s.mu.Lock()
	s.reconnects++
	s.mu.Unlock()

	return ws
}

// Dispatch publishes one websocket message on its symbol's topic. Messages
// for symbols outside the subscription set are dropped.
func (s *Stream) Dispatch(ctx context.Context, msg any) {
	switch m := msg.(type) {
	case models.EquityAgg:
		if !s.active(m.Symbol) {
			return
		}

		bus.Publish(ctx, s.bus, bus.BarTopic(m.Symbol), types.Bar{
			Symbol: m.Symbol,
			Time:   time.UnixMilli(m.StartTimestamp).UTC(),
			Open:   m.Open,
			High:   m.High,
			Low:    m.Low,
			Close:  m.Close,
			Volume: float64(m.Volume),
			VWAP:   m.VWAP,
		})
	case models.EquityTrade:
		if !s.active(m.Symbol) {
			return
		}

		bus.Publish(ctx, s.bus, bus.TradeTickTopic(m.Symbol), types.TradeTick{
			Symbol: m.Symbol,
			Time:   time.UnixMilli(m.Timestamp).UTC(),
			Price:  m.Price,
			Size:   float64(m.Size),
			ID:     m.ID,
		})
	case models.EquityQuote:
		if !s.active(m.Symbol) {
			return
		}

		bus.Publish(ctx, s.bus, bus.QuoteTopic(m.Symbol), types.Quote{
			Symbol:   m.Symbol,
			Time:     time.UnixMilli(m.Timestamp).UTC(),
			BidPrice: m.BidPrice,
			BidSize:  float64(m.BidSize),
			AskPrice: m.AskPrice,
			AskSize:  float64(m.AskSize),
		})
	default:
		s.log.Debug("ignoring market data message", zap.Any("message", msg))
	}
}

func (s *Stream) active(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, found := slices.BinarySearch(s.symbols, symbol)
	if found {
		s.received++
	}

	return found
}

// Restart replaces the subscription set. Dropped symbols get an end of
// stream bar; added symbols start from an empty window downstream.
func (s *Stream) Restart(ctx context.Context, symbols []string) error {
	next := normalize(symbols)

	s.mu.Lock()

	var added, dropped []string

	for _, sym := range next {
		if _, ok := slices.BinarySearch(s.symbols, sym); !ok {
			added = append(added, sym)
		}
	}

	for _, sym := range s.symbols {
		if _, ok := slices.BinarySearch(next, sym); !ok {
			dropped = append(dropped, sym)
		}
	}

	s.symbols = next
	ws := s.ws

	var subErr error

	if ws != nil {
		for _, topic := range s.opts.Topics {
			if len(dropped) > 0 {
				if err := ws.Unsubscribe(topic, dropped...); err != nil && subErr == nil {
					subErr = err
				}
			}

			if len(added) > 0 {
				if err := ws.Subscribe(topic, added...); err != nil && subErr == nil {
					subErr = err
				}
			}
		}
	}
	s.mu.Unlock()

	now := s.clock.Now().UTC()
	for _, sym := range dropped {
		bus.Publish(ctx, s.bus, bus.BarTopic(sym), types.EndOfStreamBar(sym, now))
	}

	s.log.Info("market data subscription changed", zap.Strings("added", added), zap.Strings("dropped", dropped))

	if subErr != nil {
		return errors.Wrap(errors.ErrCodeMarketDataConnectFailed, "failed to change market data subscription", subErr)
	}

	return nil
}

// Stop closes the connection and waits for the supervisor to exit. Every
// symbol receives an end of stream bar.
func (s *Stream) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done, symbols := s.cancel, s.done, s.symbols
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		return errors.Wrap(errors.ErrCodeStopBudgetExceeded, "market stream did not stop in time", ctx.Err())
	}

	now := s.clock.Now().UTC()
	for _, sym := range symbols {
		bus.Publish(ctx, s.bus, bus.BarTopic(sym), types.EndOfStreamBar(sym, now))
	}

	s.log.Info("market data stream stopped")

	return nil
}

// Symbols returns the subscription set.
func (s *Stream) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.symbols)
}

// Reconnects returns how many times the connection was re-established.
func (s *Stream) Reconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.reconnects
}

// Received returns the number of dispatched messages for subscribed symbols.
func (s *Stream) Received() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.received
}

func normalize(symbols []string) []string {
	out := slices.Clone(symbols)
	sort.Strings(out)

	return slices.Compact(out)
}
