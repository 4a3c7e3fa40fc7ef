// Package storage persists orders, trades, positions, enriched rows and stream
// sessions in DuckDB. Writes are retried with backoff and, when the database
// keeps failing, parked in a replay queue instead of failing the caller.
package storage

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff/v4"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-live/internal/logger"
	"github.com/rxtech-lab/argo-live/internal/types"
	"github.com/rxtech-lab/argo-live/pkg/errors"
	"go.uber.org/zap"
)

// OrderRepository persists orders. Orders are never deleted.
type OrderRepository interface {
	InsertOrder(ctx context.Context, order types.Order) error
	UpdateOrder(ctx context.Context, order types.Order) error
	FetchByClientOrderID(ctx context.Context, clientOrderID string) (optional.Option[types.Order], error)
	FetchNonTerminal(ctx context.Context) ([]types.Order, error)
	FetchOrders(ctx context.Context, sessionDate string) ([]types.Order, error)
	MaxSequence(ctx context.Context, symbol, sessionDate string) (int, error)
}

// TradeRepository persists executions. Trades are append-only.
type TradeRepository interface {
	InsertTrade(ctx context.Context, trade types.Trade) error
	FetchTradesByOrderID(ctx context.Context, orderID string) ([]types.Trade, error)
	FetchUnsettled(ctx context.Context) ([]types.Trade, error)
	UpdateSettled(ctx context.Context, until time.Time) (int64, error)
}

// PositionRepository projects and snapshots positions.
type PositionRepository interface {
	FetchOpen(ctx context.Context, user, account string) ([]types.Position, error)
	SavePositions(ctx context.Context, positions []types.Position) error
}

// EnrichedRepository records the feature row an order was decided on.
type EnrichedRepository interface {
	InsertEnriched(ctx context.Context, orderID string, bar types.EnrichedBar) error
}

// SessionRepository records stream connection intervals.
type SessionRepository interface {
	InsertSession(ctx context.Context, streamType string, start time.Time) (string, error)
	UpdateSessionEnd(ctx context.Context, id string, end time.Time) error
}

// Repository is every repository the live core consumes.
type Repository interface {
	OrderRepository
	TradeRepository
	PositionRepository
	EnrichedRepository
	SessionRepository
}

// Options configures a Store.
type Options struct {
	// Path is the DuckDB file. Empty opens an in-memory database.
	Path string
	// User and Account stamp every trade row.
	User    string
	Account string
	// RetryAttempts bounds the retries of a failing write.
	RetryAttempts int
	// RetryInterval is the first backoff interval.
	RetryInterval time.Duration
	// MaxPending bounds the replay queue.
	MaxPending int
}

type pendingWrite struct {
	op       string
	failedAt time.Time
	cause    string
	apply    func(ctx context.Context) error
}

// Store is the DuckDB implementation of Repository.
type Store struct {
	db   *sql.DB
	log  *logger.Logger
	sq   squirrel.StatementBuilderType
	opts Options
	now  func() time.Time

	mu      sync.Mutex
	pending []pendingWrite
}

var _ Repository = (*Store)(nil)

// Open opens the database and creates the schema.
func Open(log *logger.Logger, opts Options) (*Store, error) {
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}

	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 50 * time.Millisecond
	}

	if opts.MaxPending <= 0 {
		opts.MaxPending = 10000
	}

	dsn := opts.Path
	if dsn == "" {
		dsn = ":memory:"
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDatabaseFailed, "failed to open database", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()

		return nil, errors.Wrap(errors.ErrCodeDatabaseFailed, "failed to connect to database", err)
	}

	// an in-memory database exists per connection
	if opts.Path == "" {
		db.SetMaxOpenConns(1)
	}

	s := &Store{
		db:   db,
		log:  log.Named("storage"),
		sq:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
		opts: opts,
		now:  time.Now,
	}

	if err := s.initialize(); err != nil {
		db.Close()

		return nil, err
	}

	return s, nil
}

func (s *Store) initialize() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			client_order_id TEXT PRIMARY KEY,
			id TEXT,
			symbol TEXT,
			side TEXT,
			order_type TEXT,
			time_in_force TEXT,
			status TEXT,
			qty DOUBLE,
			notional DOUBLE,
			limit_price DOUBLE,
			stop_price DOUBLE,
			price DOUBLE,
			filled_qty DOUBLE,
			extended_hours BOOLEAN,
			session_date TEXT,
			seq_no INTEGER,
			created_at TIMESTAMP,
			updated_at TIMESTAMP,
			settled BOOLEAN,
			reason TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS trades (
			external_id TEXT PRIMARY KEY,
			id TEXT,
			order_id TEXT,
			client_order_id TEXT,
			user_id TEXT,
			account_id TEXT,
			symbol TEXT,
			side TEXT,
			price DOUBLE,
			qty DOUBLE,
			executed_at TIMESTAMP,
			settlement_date TIMESTAMP,
			settled BOOLEAN
		)`,
		`CREATE TABLE IF NOT EXISTS positions (
			user_id TEXT,
			account_id TEXT,
			symbol TEXT,
			qty DOUBLE,
			avg_price DOUBLE,
			market_value DOUBLE,
			last_update TIMESTAMP,
			PRIMARY KEY (user_id, account_id, symbol)
		)`,
		`CREATE TABLE IF NOT EXISTS enriched (
			id TEXT PRIMARY KEY,
			order_id TEXT,
			symbol TEXT,
			time TIMESTAMP,
			row_json TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			stream_type TEXT,
			start_time TIMESTAMP,
			end_time TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS pending_writes (
			op TEXT,
			failed_at TIMESTAMP,
			replayed_at TIMESTAMP,
			cause TEXT
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return errors.Wrap(errors.ErrCodeDatabaseFailed, "failed to create schema", err)
		}
	}

	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseFailed, "failed to close database", err)
	}

	return nil
}

func (s *Store) retry(ctx context.Context, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.RetryInterval
	b.MaxInterval = 20 * s.opts.RetryInterval
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.opts.RetryAttempts)), ctx)

	return backoff.Retry(fn, policy)
}

// write applies a mutation with retries. A mutation that keeps failing is
// parked for Replay and the caller sees success.
func (s *Store) write(ctx context.Context, op string, apply func(ctx context.Context) error) error {
	err := s.retry(ctx, func() error { return apply(ctx) })
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return errors.Wrapf(errors.ErrCodeCanceled, err, "%s canceled", op)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) >= s.opts.MaxPending {
		return errors.Wrapf(errors.ErrCodeReplayQueueFull, err, "%s failed and the replay queue is full", op)
	}

	s.pending = append(s.pending, pendingWrite{op: op, failedAt: s.now().UTC(), cause: err.Error(), apply: apply})
	s.log.Critical("database write queued for replay",
		zap.String("op", op),
		zap.Int("pending", len(s.pending)),
		zap.Error(err),
	)

	return nil
}

// Pending returns the number of writes waiting for Replay.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pending)
}

// Replay retries parked writes in order. It stops at the first failure so
// later writes never overtake earlier ones.
func (s *Store) Replay(ctx context.Context) (int, error) {
	s.mu.Lock()
	queue := s.pending
	s.pending = nil
	s.mu.Unlock()

	for i, w := range queue {
		if err := w.apply(ctx); err != nil {
			s.mu.Lock()
			s.pending = append(queue[i:], s.pending...)
			s.mu.Unlock()

			return i, errors.Wrapf(errors.ErrCodeDatabaseFailed, err, "replay of %s failed", w.op)
		}

		query, args, err := s.sq.Insert("pending_writes").
			Columns("op", "failed_at", "replayed_at", "cause").
			Values(w.op, w.failedAt, s.now().UTC(), w.cause).
			ToSql()
		if err == nil {
			_, err = s.db.ExecContext(ctx, query, args...)
		}

		if err != nil {
			s.log.Warn("failed to record replayed write", zap.String("op", w.op), zap.Error(err))
		}
	}

	if len(queue) > 0 {
		s.log.Info("replayed parked database writes", zap.Int("count", len(queue)))
	}

	return len(queue), nil
}

func (s *Store) exec(ctx context.Context, builder squirrel.Sqlizer) error {
	query, args, err := builder.ToSql()
	if err != nil {
		return backoff.Permanent(err)
	}

	_, err = s.db.ExecContext(ctx, query, args...)

	return err
}

func nullable(v optional.Option[float64]) any {
	if p, err := v.Take(); err == nil {
		return p
	}

	return nil
}

func fromNullable(v sql.NullFloat64) optional.Option[float64] {
	if !v.Valid {
		return optional.None[float64]()
	}

	return optional.Some(v.Float64)
}
