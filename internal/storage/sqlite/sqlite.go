package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/slok/transcribeq/internal/log"
	"github.com/slok/transcribeq/internal/metrics"
	"github.com/slok/transcribeq/internal/storage"
	"github.com/slok/transcribeq/internal/storage/sqlite/migrations"
)

// RepositoryConfig is the configuration for the SQLite repository.
type RepositoryConfig struct {
	DBPath string
	// MaxEntries is the registry ceiling enforced on every create.
	MaxEntries      int
	MetricsRecorder metrics.Recorder
	Logger          log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if c.MaxEntries == 0 {
		c.MaxEntries = storage.DefaultMaxEntries
	}
	if c.MaxEntries < 0 {
		return fmt.Errorf("max entries can't be negative")
	}
	if c.MetricsRecorder == nil {
		c.MetricsRecorder = metrics.Noop
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.SQLite"})
	return nil
}

// Repository is a SQLite implementation of storage.TaskRepository.
type Repository struct {
	db         *sql.DB
	maxEntries int
	metrics    metrics.Recorder
	logger     log.Logger
}

// NewRepository creates a new SQLite repository, the schema is migrated on creation.
func NewRepository(ctx context.Context, cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	// Registry mutations are serialized, a single connection avoids busy errors.
	db.SetMaxOpenConns(1)

	migrator, err := migrations.NewMigrator(db, cfg.Logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create migrator: %w", err)
	}
	version, err := migrator.Up(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not run migrations: %w", err)
	}

	cfg.Logger.Debugf("SQLite repository initialized at %s (schema v%d)", cfg.DBPath, version)

	return &Repository{
		db:         db,
		maxEntries: cfg.MaxEntries,
		metrics:    cfg.MetricsRecorder,
		logger:     cfg.Logger,
	}, nil
}

// DB returns the underlying database connection.
func (r *Repository) DB() *sql.DB { return r.db }

// Close closes the database connection.
func (r *Repository) Close() error { return r.db.Close() }

// withTx runs fn in a transaction, committing only if fn succeeds.
func (r *Repository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	return nil
}

var _ storage.TaskRepository = &Repository{}
