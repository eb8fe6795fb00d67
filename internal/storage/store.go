// Package storage is the contract shared by the relational audit backends:
// sqlite (single local file) and postgres.
package storage

import (
	"context"

	"github.com/Jazzman94/agentai/internal/audit"
)

// Driver names accepted by audit.driver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store owns a database handle and the repositories built on it.
type Store interface {
	Audit() audit.Store
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
	Driver() string
}
