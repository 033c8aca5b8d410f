// Package store owns the Postgres connection pool and schema migrations.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Clark-Hu/movie-reviews/internal/metrics"
)

// ErrClosed is returned by HealthCheck on a store without a pool.
var ErrClosed = errors.New("store: no open pool")

// Options tunes the pool. Zero values keep the pgx defaults; a negative
// StatementCacheCapacity switches to the simple exec protocol.
type Options struct {
	MaxConns               int32
	MinConns               int32
	MaxConnIdleTime        time.Duration
	MaxConnLifetime        time.Duration
	ConnTimeout            time.Duration
	StatementCacheCapacity int
	Logger                 *zap.Logger
}

// Store wraps the shared pgxpool.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	dial   time.Duration
}

// poolConfig turns a DSN and Options into a pgxpool config.
func poolConfig(dbURL string, opts Options) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse db url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		cfg.MinConns = min(opts.MinConns, cfg.MaxConns)
	}
	if opts.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = opts.MaxConnIdleTime
	}
	if opts.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.ConnTimeout > 0 {
		cfg.ConnConfig.ConnectTimeout = opts.ConnTimeout
	}
	switch {
	case opts.StatementCacheCapacity < 0:
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeExec
	case opts.StatementCacheCapacity > 0:
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheStatement
		cfg.ConnConfig.StatementCacheCapacity = opts.StatementCacheCapacity
	}
	return cfg, nil
}

// New opens the pool and pings the database once before returning.
func New(ctx context.Context, dbURL string, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := poolConfig(dbURL, opts)
	if err != nil {
		return nil, err
	}

	dialCtx := ctx
	if opts.ConnTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, opts.ConnTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(dialCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.Info("store: pool ready",
		zap.String("host", cfg.ConnConfig.Host),
		zap.String("database", cfg.ConnConfig.Database),
		zap.Int32("max_conns", cfg.MaxConns),
		zap.Int32("min_conns", cfg.MinConns),
		zap.Duration("max_idle", cfg.MaxConnIdleTime),
		zap.Duration("max_life", cfg.MaxConnLifetime),
		zap.Stringer("exec_mode", cfg.ConnConfig.DefaultQueryExecMode),
	)
	return &Store{pool: pool, logger: logger, dial: opts.ConnTimeout}, nil
}

// Close drains the pool.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	stats := s.PoolStats()
	s.logger.Info("store: closing pool",
		zap.Int32("acquired", stats.Acquired),
		zap.Int32("total", stats.Total),
	)
	s.pool.Close()
}

// HealthCheck pings the database, bounded by the configured connect timeout.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return ErrClosed
	}
	if s.dial > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.dial)
		defer cancel()
	}
	return s.pool.Ping(ctx)
}

// Pool exposes the underlying pgx pool for repositories.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// PoolStats reports current pool usage; a closed or nil store reports zeros.
func (s *Store) PoolStats() metrics.PoolStats {
	if s == nil || s.pool == nil {
		return metrics.PoolStats{}
	}
	st := s.pool.Stat()
	return metrics.PoolStats{
		Acquired: st.AcquiredConns(),
		Idle:     st.IdleConns(),
		Total:    st.TotalConns(),
		Max:      st.MaxConns(),
	}
}
