package database

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// PostgresOptions tunes the ledger connection. Zero values fall back to the
// defaults below.
type PostgresOptions struct {
	MaxAttempts  int
	RetryBase    time.Duration
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

func (o PostgresOptions) withDefaults() PostgresOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 10
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 2 * time.Second
	}
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = 25
	}
	if o.MaxIdleConns <= 0 {
		o.MaxIdleConns = 5
	}
	if o.ConnLifetime <= 0 {
		o.ConnLifetime = 5 * time.Minute
	}
	return o
}

// ConnectPostgres opens the ledger database, retrying with a linearly
// growing delay until it answers a ping, then migrates the given models.
func ConnectPostgres(ctx context.Context, dsn string, opts PostgresOptions, logger *zap.Logger, models ...any) (*gorm.DB, error) {
	return connect(ctx, postgres.Open(dsn), opts, logger, models...)
}

func connect(ctx context.Context, dialector gorm.Dialector, opts PostgresOptions, logger *zap.Logger, models ...any) (*gorm.DB, error) {
	opts = opts.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		db, err := open(ctx, dialector, opts)
		if err == nil {
			logger.Info("Connected to PostgreSQL", zap.Int("attempt", attempt))
			if len(models) > 0 {
				if err := db.WithContext(ctx).AutoMigrate(models...); err != nil {
					return nil, fmt.Errorf("auto-migrate ledger schema: %w", err)
				}
			}
			return db, nil
		}
		lastErr = err
		if attempt == opts.MaxAttempts {
			break
		}

		wait := time.Duration(attempt) * opts.RetryBase
		logger.Warn("PostgreSQL not ready, retrying", zap.Int("attempt", attempt), zap.Duration("retry_in", wait), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, fmt.Errorf("connect to PostgreSQL after %d attempts: %w", opts.MaxAttempts, lastErr)
}

func open(ctx context.Context, dialector gorm.Dialector, opts PostgresOptions) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:               gormlogger.Default.LogMode(gormlogger.Warn),
		DisableAutomaticPing: true,
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(opts.ConnLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	return sqlDB.Close()
}
