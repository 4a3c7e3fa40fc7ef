package storage

import (
	"context"
	"sort"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/oklog/ulid/v2"
	"github.com/rxtech-lab/argo-live/internal/types"
	"github.com/rxtech-lab/argo-live/pkg/errors"
)

var tradeColumns = []string{
	"id", "external_id", "order_id", "client_order_id", "symbol", "side",
	"price", "qty", "executed_at", "settlement_date", "settled",
}

// InsertTrade appends a trade. A trade whose external id is already stored is ignored.
func (s *Store) InsertTrade(ctx context.Context, t types.Trade) error {
	if t.ID == "" {
		t.ID = ulid.Make().String()
	}

	insert := s.sq.Insert("trades").
		Columns(append([]string{"user_id", "account_id"}, tradeColumns...)...).
		Values(
			s.opts.User, s.opts.Account,
			t.ID, t.ExternalID, t.OrderID, t.ClientOrderID, t.Symbol, string(t.Side),
			t.Price, t.Qty, t.ExecutedAt.UTC(), t.SettlementDate.UTC(), t.Settled,
		).
		Suffix("ON CONFLICT (external_id) DO NOTHING")

	return s.write(ctx, "insert trade "+t.ExternalID, func(ctx context.Context) error {
		return s.exec(ctx, insert)
	})
}

// FetchTradesByOrderID returns the trades of a broker order, oldest first.
func (s *Store) FetchTradesByOrderID(ctx context.Context, orderID string) ([]types.Trade, error) {
	return s.queryTrades(ctx, s.sq.Select(tradeColumns...).
		From("trades").
		Where(squirrel.Eq{"order_id": orderID}).
		OrderBy("executed_at ASC"))
}

// FetchUnsettled returns trades that have not settled yet.
func (s *Store) FetchUnsettled(ctx context.Context) ([]types.Trade, error) {
	return s.queryTrades(ctx, s.sq.Select(tradeColumns...).
		From("trades").
		Where(squirrel.Eq{"settled": false}).
		OrderBy("executed_at ASC"))
}

// UpdateSettled marks every trade settling on or before until and returns
// how many rows changed.
func (s *Store) UpdateSettled(ctx context.Context, until time.Time) (int64, error) {
	query, args, err := s.sq.Update("trades").
		Set("settled", true).
		Where(squirrel.And{
			squirrel.Eq{"settled": false},
			squirrel.LtOrEq{"settlement_date": until.UTC()},
		}).
		ToSql()
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build settlement update", err)
	}

	var changed int64

	err = s.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}

		changed, err = res.RowsAffected()

		return err
	})
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeDatabaseFailed, "failed to settle trades", err)
	}

	return changed, nil
}

func (s *Store) queryTrades(ctx context.Context, builder squirrel.SelectBuilder) ([]types.Trade, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build trade query", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query trades", err)
	}
	defer rows.Close()

	var trades []types.Trade

	for rows.Next() {
		var (
			t    types.Trade
			side string
		)

		err := rows.Scan(
			&t.ID, &t.ExternalID, &t.OrderID, &t.ClientOrderID, &t.Symbol, &side,
			&t.Price, &t.Qty, &t.ExecutedAt, &t.SettlementDate, &t.Settled,
		)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan trade", err)
		}

		t.Side = types.OrderSide(side)
		t.ExecutedAt = t.ExecutedAt.UTC()
		t.SettlementDate = t.SettlementDate.UTC()
		trades = append(trades, t)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to iterate trades", err)
	}

	return trades, nil
}

// FetchOpen projects open positions for the user and account from their trades.
func (s *Store) FetchOpen(ctx context.Context, user, account string) ([]types.Position, error) {
	trades, err := s.queryTrades(ctx, s.sq.Select(tradeColumns...).
		From("trades").
		Where(squirrel.Eq{"user_id": user, "account_id": account}).
		OrderBy("executed_at ASC", "id ASC"))
	if err != nil {
		return nil, err
	}

	bySymbol := make(map[string]*types.Position)

	for _, t := range trades {
		p, ok := bySymbol[t.Symbol]
		if !ok {
			p = &types.Position{Symbol: t.Symbol}
			bySymbol[t.Symbol] = p
		}

		p.ApplyFill(t.SignedQty(), t.Price, t.ExecutedAt)
	}

	positions := make([]types.Position, 0, len(bySymbol))

	for _, p := range bySymbol {
		if p.Qty != 0 {
			positions = append(positions, *p)
		}
	}

	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })

	return positions, nil
}

// SavePositions snapshots positions for the store's user and account.
func (s *Store) SavePositions(ctx context.Context, positions []types.Position) error {
	for _, p := range positions {
		upsert := s.sq.Insert("positions").
			Columns("user_id", "account_id", "symbol", "qty", "avg_price", "market_value", "last_update").
			Values(s.opts.User, s.opts.Account, p.Symbol, p.Qty, p.AvgPrice, p.MarketValue, p.LastUpdate.UTC()).
			Suffix(`ON CONFLICT (user_id, account_id, symbol) DO UPDATE SET
				qty = excluded.qty,
				avg_price = excluded.avg_price,
				market_value = excluded.market_value,
				last_update = excluded.last_update`)

		if err := s.write(ctx, "save position "+p.Symbol, func(ctx context.Context) error {
			return s.exec(ctx, upsert)
		}); err != nil {
			return err
		}
	}

	return nil
}
