package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/oklog/ulid/v2"
	"github.com/rxtech-lab/argo-live/internal/types"
	"github.com/rxtech-lab/argo-live/pkg/errors"
)

// Stream types recorded in the sessions table.
const (
	StreamMarketData = "market_data"
	StreamOrders     = "orders"
)

// Session is one recorded stream connection interval.
type Session struct {
	ID         string
	StreamType string
	Start      time.Time
	// End is zero while the stream is connected.
	End time.Time
}

type enrichedRow struct {
	Bar      types.Bar                `json:"bar"`
	Features map[types.Column]float64 `json:"features"`
}

// InsertEnriched records the feature row an order was sized from. Features
// still warming up are left out of the row.
func (s *Store) InsertEnriched(ctx context.Context, orderID string, bar types.EnrichedBar) error {
	features := make(map[types.Column]float64, len(bar.Features))

	for column, value := range bar.Features {
		if !math.IsNaN(value) && !math.IsInf(value, 0) {
			features[column] = value
		}
	}

	raw, err := json.Marshal(enrichedRow{Bar: bar.Bar, Features: features})
	if err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseFailed, "failed to encode enriched row", err)
	}

	insert := s.sq.Insert("enriched").
		Columns("id", "order_id", "symbol", "time", "row_json").
		Values(ulid.Make().String(), orderID, bar.Symbol, bar.Time.UTC(), string(raw))

	return s.write(ctx, "insert enriched "+orderID, func(ctx context.Context) error {
		return s.exec(ctx, insert)
	})
}

// FetchEnriched returns the feature rows recorded for an order.
func (s *Store) FetchEnriched(ctx context.Context, orderID string) ([]types.EnrichedBar, error) {
	query, args, err := s.sq.Select("row_json").
		From("enriched").
		Where(squirrel.Eq{"order_id": orderID}).
		OrderBy("time ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build enriched query", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query enriched rows", err)
	}
	defer rows.Close()

	var bars []types.EnrichedBar

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan enriched row", err)
		}

		var row enrichedRow
		if err := json.Unmarshal([]byte(raw), &row); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to decode enriched row", err)
		}

		row.Bar.Time = row.Bar.Time.UTC()
		bars = append(bars, types.EnrichedBar{Bar: row.Bar, Features: row.Features})
	}

	return bars, rows.Err()
}

// InsertSession records the start of a stream connection and returns its id.
func (s *Store) InsertSession(ctx context.Context, streamType string, start time.Time) (string, error) {
	id := ulid.Make().String()
	insert := s.sq.Insert("sessions").
		Columns("id", "stream_type", "start_time").
		Values(id, streamType, start.UTC())

	if err := s.write(ctx, "insert session "+streamType, func(ctx context.Context) error {
		return s.exec(ctx, insert)
	}); err != nil {
		return "", err
	}

	return id, nil
}

// UpdateSessionEnd closes a recorded stream interval.
func (s *Store) UpdateSessionEnd(ctx context.Context, id string, end time.Time) error {
	update := s.sq.Update("sessions").
		Set("end_time", end.UTC()).
		Where(squirrel.Eq{"id": id})

	return s.write(ctx, "end session "+id, func(ctx context.Context) error {
		return s.exec(ctx, update)
	})
}

// FetchSessions returns the recorded intervals of a stream type.
func (s *Store) FetchSessions(ctx context.Context, streamType string) ([]Session, error) {
	query, args, err := s.sq.Select("id", "stream_type", "start_time", "end_time").
		From("sessions").
		Where(squirrel.Eq{"stream_type": streamType}).
		OrderBy("start_time ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build session query", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query sessions", err)
	}
	defer rows.Close()

	var sessions []Session

	for rows.Next() {
		var (
			session Session
			end     sql.NullTime
		)

		if err := rows.Scan(&session.ID, &session.StreamType, &session.Start, &end); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan session", err)
		}

		session.Start = session.Start.UTC()
		if end.Valid {
			session.End = end.Time.UTC()
		}

		sessions = append(sessions, session)
	}

	return sessions, rows.Err()
}

// Export writes orders, trades and positions to parquet files in dir and
// returns the written paths by table.
func (s *Store) Export(ctx context.Context, dir string) (map[string]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeExportFailed, "failed to create export directory", err)
	}

	exports := []struct {
		table   string
		orderBy string
	}{
		{table: "orders", orderBy: "created_at ASC, seq_no ASC"},
		{table: "trades", orderBy: "executed_at ASC"},
		{table: "positions", orderBy: "symbol ASC"},
	}

	paths := make(map[string]string, len(exports))

	for _, e := range exports {
		path := filepath.Join(dir, e.table+".parquet")
		stmt := fmt.Sprintf(`COPY (SELECT * FROM %s ORDER BY %s) TO '%s' (FORMAT PARQUET)`,
			e.table, e.orderBy, strings.ReplaceAll(path, "'", "''"))

		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return nil, errors.Wrapf(errors.ErrCodeExportFailed, err, "failed to export %s", e.table)
		}

		paths[e.table] = path
	}

	return paths, nil
}

// CountRows returns the number of rows in a parquet file.
func (s *Store) CountRows(ctx context.Context, parquetPath string) (int, error) {
	var count int

	stmt := fmt.Sprintf(`SELECT COUNT(*) FROM read_parquet('%s')`, strings.ReplaceAll(parquetPath, "'", "''"))
	if err := s.db.QueryRowContext(ctx, stmt).Scan(&count); err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to read parquet file", err)
	}

	return count, nil
}
