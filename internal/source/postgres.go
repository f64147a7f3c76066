package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xkilldash9x/settle-cli/api/schemas"
)

// DBPool abstracts pgxpool.Pool so the source can be tested with pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresSource reads record lists from a table with the columns
// unit_id, position, record_id, label and a nullable numeric value.
type PostgresSource struct {
	pool  DBPool
	table string
	log   *zap.Logger
}

// NewPostgresSource verifies the connection and returns the source.
func NewPostgresSource(ctx context.Context, pool DBPool, table string, logger *zap.Logger) (*PostgresSource, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if table == "" {
		table = "settlement_records"
	}
	return &PostgresSource{
		pool:  pool,
		table: pgx.Identifier(strings.Split(table, ".")).Sanitize(),
		log:   logger.Named("pg_source"),
	}, nil
}

// Records implements RecordSource.
func (s *PostgresSource) Records(ctx context.Context, unitID string) ([]schemas.Record, error) {
	sql := fmt.Sprintf(`SELECT record_id, COALESCE(label, ''), value::text FROM %s WHERE unit_id = $1 ORDER BY position`, s.table)
	rows, err := s.pool.Query(ctx, sql, unitID)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []schemas.Record
	for rows.Next() {
		var (
			id, label string
			value     *string
		)
		if err := rows.Scan(&id, &label, &value); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec := schemas.Record{ID: strings.TrimSpace(id), Label: label}
		if value != nil {
			d, err := decimal.NewFromString(*value)
			if err != nil {
				return nil, fmt.Errorf("record %s: invalid value %q: %w", id, *value, err)
			}
			rec = rec.WithValue(d)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUnit, unitID)
	}
	s.log.Debug("Loaded records.", zap.String("unit", unitID), zap.Int("count", len(records)))
	return records, nil
}

// Units implements RecordSource.
func (s *PostgresSource) Units(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT DISTINCT unit_id FROM %s ORDER BY unit_id`, s.table))
	if err != nil {
		return nil, fmt.Errorf("failed to query units: %w", err)
	}
	units, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to read units: %w", err)
	}
	return units, nil
}
