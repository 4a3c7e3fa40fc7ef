package stats

import (
	"sync"
	"time"

	"github.com/rxtech-lab/argo-live/internal/logger"
	"github.com/rxtech-lab/argo-live/internal/types"
	"go.uber.org/zap"
)

// StatsTracker accumulates the order and fill statistics of one session from
// the applied order events.
type StatsTracker struct {
	symbols      []string
	runID        string
	date         string
	sessionStart time.Time
	sessionEnd   time.Time

	orders         types.OrderCounts
	fills          int
	tradedNotional float64
	perSymbol      map[string]types.SymbolStats

	// last seen status and cumulative fill per client order id
	status map[string]types.OrderStatus
	filled map[string]float64

	files           map[string]string
	statsOutputPath string

	mu     sync.Mutex
	logger *logger.Logger
}

// NewStatsTracker creates a new StatsTracker instance.
func NewStatsTracker(log *logger.Logger) *StatsTracker {
	return &StatsTracker{
		perSymbol: make(map[string]types.SymbolStats),
		status:    make(map[string]types.OrderStatus),
		filled:    make(map[string]float64),
		files:     make(map[string]string),
		mu:        sync.Mutex{},
		logger:    log,
	}
}

// Initialize resets the tracker for a new session.
func (s *StatsTracker) Initialize(symbols []string, runID, date string, sessionStart time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.symbols = append([]string(nil), symbols...)
	s.runID = runID
	s.date = date
	s.sessionStart = sessionStart
	s.sessionEnd = time.Time{}
	s.orders = types.OrderCounts{}
	s.fills = 0
	s.tradedNotional = 0
	s.perSymbol = make(map[string]types.SymbolStats)
	s.status = make(map[string]types.OrderStatus)
	s.filled = make(map[string]float64)
	s.files = make(map[string]string)

	s.logger.Info("Stats tracker initialized",
		zap.String("run_id", runID),
		zap.String("date", date),
		zap.Strings("symbols", symbols),
	)
}

// SetOutputPath sets the stats.yaml path.
func (s *StatsTracker) SetOutputPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.statsOutputPath = path
}

// SetFiles records the artifact paths of the run folder.
func (s *StatsTracker) SetFiles(files map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, path := range files {
		s.files[name] = path
	}
}

// SetSubmitted records the number of orders the executor submitted.
func (s *StatsTracker) SetSubmitted(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orders.Submitted = n
}

// RecordOrderEvent folds an applied order event into the statistics. The
// event carries the local order after the update, so fills are counted by
// the growth of its cumulative filled quantity.
func (s *StatsTracker) RecordOrderEvent(event types.OrderEvent) {
	order := event.Order
	key := order.ClientOrderID

	if key == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if delta := order.FilledQty - s.filled[key]; delta > 0 {
		price := event.Price
		if avg, err := order.Price.Take(); price <= 0 && err == nil {
			price = avg
		}

		s.recordFill(order, delta, price)
		s.filled[key] = order.FilledQty
	}

	previous, seen := s.status[key]
	s.status[key] = order.Status

	if seen && previous == order.Status {
		return
	}

	switch order.Status {
	case types.OrderStatusFilled:
		s.orders.Filled++
	case types.OrderStatusRejected:
		s.orders.Rejected++
	case types.OrderStatusCanceled:
		s.orders.Canceled++
	case types.OrderStatusExpired:
		s.orders.Expired++
	case types.OrderStatusDoneForDay:
		s.orders.DoneForDay++
	default:
	}
}

//nolint:funcorder // helper method used by RecordOrderEvent
func (s *StatsTracker) recordFill(order types.Order, qty, price float64) {
	notional := qty * price

	acc := s.perSymbol[order.Symbol]
	acc.Fills++
	acc.TradedNotional += notional

	if order.Side == types.OrderSideSell {
		acc.SoldQty += qty
	} else {
		acc.BoughtQty += qty
	}

	s.perSymbol[order.Symbol] = acc
	s.fills++
	s.tradedNotional += notional

	s.logger.Debug("Fill recorded",
		zap.String("symbol", order.Symbol),
		zap.String("client_order_id", order.ClientOrderID),
		zap.Float64("qty", qty),
		zap.Float64("price", price),
		zap.Int("fills", s.fills),
	)
}

// Finish stamps the session end.
func (s *StatsTracker) Finish(end time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessionEnd = end
}

// GetStats returns the current statistics.
func (s *StatsTracker) GetStats() types.SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.buildStats()
}

//nolint:funcorder // helper method used by GetStats and WriteStatsYAML
func (s *StatsTracker) buildStats() types.SessionStats {
	perSymbol := make(map[string]types.SymbolStats, len(s.perSymbol))
	for symbol, acc := range s.perSymbol {
		perSymbol[symbol] = acc
	}

	files := make(map[string]string, len(s.files))
	for name, path := range s.files {
		files[name] = path
	}

	return types.SessionStats{
		ID:             s.runID,
		Date:           s.date,
		SessionStart:   s.sessionStart,
		SessionEnd:     s.sessionEnd,
		Symbols:        append([]string(nil), s.symbols...),
		Orders:         s.orders,
		Fills:          s.fills,
		TradedNotional: s.tradedNotional,
		PerSymbol:      perSymbol,
		Files:          files,
	}
}

// WriteStatsYAML writes the current statistics to the stats.yaml file.
func (s *StatsTracker) WriteStatsYAML() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.statsOutputPath == "" {
		return nil // No output path configured
	}

	return types.WriteSessionStats(s.statsOutputPath, s.buildStats())
}

// GetStatsOutputPath returns the stats output path.
func (s *StatsTracker) GetStatsOutputPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.statsOutputPath
}

// GetRunID returns the run ID.
func (s *StatsTracker) GetRunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.runID
}
