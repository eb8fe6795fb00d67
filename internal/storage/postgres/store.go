package postgres

import (
	"context"
	"sync"

	"github.com/Jazzman94/agentai/internal/audit"
	"github.com/Jazzman94/agentai/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store is the PostgreSQL storage.Store.
type Store struct {
	db *DB

	once  sync.Once
	audit *AuditRepository
}

// NewStore wraps an open pool.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the audit tables.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.Gorm().WithContext(ctx).AutoMigrate(Models()...)
}

func (s *Store) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Driver() string { return storage.DriverPostgres }

func (s *Store) Audit() audit.Store {
	s.once.Do(func() { s.audit = NewAuditRepository(s.db.Gorm()) })
	return s.audit
}
