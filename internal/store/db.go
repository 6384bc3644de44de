package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"

	"clausemark/api/internal/logger"
)

// PoolLimits bounds the database/sql pool in front of pgx.
type PoolLimits struct {
	MaxOpen     int
	MaxIdle     int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

var DefaultPoolLimits = PoolLimits{
	MaxOpen:     20,
	MaxIdle:     10,
	MaxIdleTime: 5 * time.Minute,
	MaxLifetime: 30 * time.Minute,
}

// Open parses databaseURL with pgx, opens a pool with DefaultPoolLimits and
// pings it.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	return OpenWithLimits(ctx, databaseURL, DefaultPoolLimits)
}

func OpenWithLimits(ctx context.Context, databaseURL string, limits PoolLimits) (*sql.DB, error) {
	connConfig, err := pgx.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	db := stdlib.OpenDB(*connConfig)
	db.SetMaxOpenConns(limits.MaxOpen)
	db.SetMaxIdleConns(limits.MaxIdle)
	db.SetConnMaxIdleTime(limits.MaxIdleTime)
	db.SetConnMaxLifetime(limits.MaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	logger.For(ctx).WithFields(logrus.Fields{
		"host":     connConfig.Host,
		"database": connConfig.Database,
	}).Info("connected to postgres")
	return db, nil
}
