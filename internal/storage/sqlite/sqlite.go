// Package sqlite stores the audit trail in a local SQLite file through GORM.
// The driver is pure Go (glebarez/sqlite on modernc.org/sqlite), so no CGO.
// Models and the repository are the ones the PostgreSQL backend uses.
package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/Jazzman94/agentai/internal/audit"
	"github.com/Jazzman94/agentai/internal/storage"
	pgstore "github.com/Jazzman94/agentai/internal/storage/postgres"
)

var _ storage.Store = (*Store)(nil)

const (
	defaultJournalMode = "wal"
	busyTimeoutMS      = 5000
)

// Config locates the database file.
type Config struct {
	Path        string
	JournalMode string // Default "wal".
}

// Store is the SQLite storage.Store.
type Store struct {
	db *gorm.DB

	once  sync.Once
	audit *pgstore.AuditRepository
}

// Open creates the parent directory if needed and opens the database file.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0750); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	mode := cfg.JournalMode
	if mode == "" {
		mode = defaultJournalMode
	}

	pragmas := url.Values{}
	pragmas.Add("_pragma", fmt.Sprintf("journal_mode(%s)", mode))
	pragmas.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeoutMS))
	db, err := gorm.Open(sqlite.Open(cfg.Path+"?"+pragmas.Encode()), &gorm.Config{
		Logger:  pgstore.NewGormLogger(logger),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database %s: %w", cfg.Path, err)
	}

	logger.Info("sqlite store opened", slog.String("path", cfg.Path), slog.String("journal_mode", mode))
	return &Store{db: db}, nil
}

// Migrate creates or updates the audit tables.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(pgstore.Models()...)
}

func (s *Store) Ping(ctx context.Context) error {
	pool, err := s.db.DB()
	if err != nil {
		return err
	}
	return pool.PingContext(ctx)
}

func (s *Store) Close() error {
	pool, err := s.db.DB()
	if err != nil {
		return err
	}
	return pool.Close()
}

func (s *Store) Driver() string { return storage.DriverSQLite }

func (s *Store) Audit() audit.Store {
	s.once.Do(func() { s.audit = pgstore.NewAuditRepository(s.db) })
	return s.audit
}
