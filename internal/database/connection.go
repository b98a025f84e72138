package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/renalreg/radar-timeline-data/internal/config"
	"github.com/renalreg/radar-timeline-data/internal/domain"
)

// DB wraps a pgxpool.Pool for one registry database
type DB struct {
	Pool *pgxpool.Pool
	name string
	log  *logrus.Logger
}

// NewConnection creates a new connection pool for one registry
func NewConnection(ctx context.Context, name string, cfg domain.DatabaseConfig, logger *logrus.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parsing %s database config: %w", name, err)
	}

	// Configure connection pool settings
	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime

	// Create connection pool
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating %s connection pool: %w", name, err)
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging %s database: %w", name, err)
	}

	logger.WithFields(logrus.Fields{
		"registry":  name,
		"host":      cfg.Host,
		"port":      cfg.Port,
		"database":  cfg.Database,
		"max_conns": cfg.MaxOpenConns,
	}).Info("Database connection pool established")

	return &DB{
		Pool: pool,
		name: name,
		log:  logger,
	}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.log.WithField("registry", db.name).Info("Database connection pool closed")
	}
}

// Health checks the database connection health
func (db *DB) Health(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Stats returns connection pool statistics
func (db *DB) Stats() *pgxpool.Stat {
	return db.Pool.Stat()
}

// Sessions holds one connection pool per upstream registry. A run reads from
// all three and writes back only to the radar database.
type Sessions struct {
	Radar *DB
	UKRDC *DB
	UKRR  *DB
}

// NewSessions opens connection pools for every configured registry. On any
// failure the pools opened so far are closed before returning.
func NewSessions(ctx context.Context, cfg domain.RegistriesConfig, logger *logrus.Logger) (*Sessions, error) {
	s := &Sessions{}

	var err error
	if s.Radar, err = NewConnection(ctx, "radar", cfg.Radar, logger); err != nil {
		return nil, err
	}
	if s.UKRDC, err = NewConnection(ctx, "ukrdc", cfg.UKRDC, logger); err != nil {
		s.Close()
		return nil, err
	}
	if s.UKRR, err = NewConnection(ctx, "ukrr", cfg.UKRR, logger); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close closes every open pool
func (s *Sessions) Close() {
	for _, db := range []*DB{s.Radar, s.UKRDC, s.UKRR} {
		if db != nil {
			db.Close()
		}
	}
}

// Health pings every registry
func (s *Sessions) Health(ctx context.Context) error {
	for _, db := range []*DB{s.Radar, s.UKRDC, s.UKRR} {
		if db == nil {
			continue
		}
		if err := db.Health(ctx); err != nil {
			return fmt.Errorf("registry %s: %w", db.name, err)
		}
	}
	return nil
}
