// File: internal/service/initializers.go
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/settle-cli/internal/config"
	"github.com/xkilldash9x/settle-cli/internal/source"
)

// InitializeDBPool opens and pings a PostgreSQL pool.
func InitializeDBPool(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is not configured (hint: check SETTLE_DATABASE_URL)")
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse PGX pool config: %w", err)
	}
	poolConfig.MaxConns = 4
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create PGX connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	logger.Debug("Database connection pool initialized.")
	return pool, nil
}

// InitializeRecordSource builds the record source named by records.source.
// The returned pool is nil unless the source is postgres; the caller owns it.
func InitializeRecordSource(ctx context.Context, cfg config.Interface, logger *zap.Logger) (source.RecordSource, *pgxpool.Pool, error) {
	switch kind := cfg.Records().Source; kind {
	case "file", "":
		path := cfg.Records().File
		if path == "" {
			return nil, nil, fmt.Errorf("records.file is not configured")
		}
		src, err := source.LoadFile(path)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Loaded record file.", zap.String("path", path))
		return src, nil, nil

	case "postgres":
		pool, err := InitializeDBPool(ctx, cfg.Database(), logger)
		if err != nil {
			return nil, nil, err
		}
		src, err := source.NewPostgresSource(ctx, pool, cfg.Database().Table, logger)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return src, pool, nil

	default:
		return nil, nil, fmt.Errorf("unsupported record source: %s", kind)
	}
}
