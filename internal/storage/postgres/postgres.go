// Package postgres stores the audit trail in PostgreSQL through GORM. The
// models and repository are shared with the SQLite backend; audit types stay
// free of ORM tags.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Config is the connection string plus pool sizing. Zero values take the
// defaults below.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 2
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 30 * time.Minute
	}
	if c.ConnMaxIdleTime <= 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	return c
}

// DB is an open PostgreSQL pool.
type DB struct {
	gorm *gorm.DB
}

// Open parses the DSN, connects and sizes the pool. Tables are created by
// Store.Migrate, not here.
func Open(cfg Config, logger *slog.Logger) (*DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	// Errors from here on must not include the DSN; it carries the password.
	parsed, err := pgconn.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: invalid connection string")
	}
	cfg = cfg.withDefaults()

	gdb, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger:      NewGormLogger(logger),
		NowFunc:     func() time.Time { return time.Now().UTC() },
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres at %s: %w", parsed.Host, err)
	}
	pool, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	pool.SetMaxOpenConns(cfg.MaxOpenConns)
	pool.SetMaxIdleConns(cfg.MaxIdleConns)
	pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	pool.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	logger.Info("postgres connected",
		slog.String("host", parsed.Host),
		slog.String("database", parsed.Database),
		slog.Int("max_open_conns", cfg.MaxOpenConns),
	)
	return &DB{gorm: gdb}, nil
}

// Gorm returns the handle repositories are built on.
func (d *DB) Gorm() *gorm.DB { return d.gorm }

// Ping round-trips to the server.
func (d *DB) Ping(ctx context.Context) error {
	pool, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return pool.PingContext(ctx)
}

// Close releases the pool.
func (d *DB) Close() error {
	pool, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return pool.Close()
}
