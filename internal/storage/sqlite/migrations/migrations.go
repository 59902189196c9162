// Package migrations has the task registry schema, embedded and applied with
// golang-migrate.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/slok/transcribeq/internal/log"
	"github.com/slok/transcribeq/internal/model"
)

//go:embed sql/*.sql
var migrationFiles embed.FS

const (
	// SchemaVersion is the registry schema version this binary works with.
	SchemaVersion uint = 2

	migrationsTable = "registry_schema_migrations"
)

// Migrator keeps the task registry schema up to date.
type Migrator struct {
	db     *sql.DB
	logger log.Logger
}

// NewMigrator creates a new migrator instance.
func NewMigrator(db *sql.DB, logger log.Logger) (*Migrator, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if logger == nil {
		logger = log.Noop
	}

	return &Migrator{
		db:     db,
		logger: logger.WithValues(log.Kv{"svc": "storage.SQLiteMigrator"}),
	}, nil
}

// Up migrates the registry to the latest schema and returns its version. A registry
// left dirty by an interrupted migration is not touched.
func (m *Migrator) Up(ctx context.Context) (uint, error) {
	inst, closeSrc, err := m.instance()
	if err != nil {
		return 0, err
	}
	defer closeSrc()

	from, dirty, err := inst.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("could not get schema version: %w", err)
	}
	if dirty {
		return 0, fmt.Errorf("registry schema version %d is dirty, fix or remove the database: %w", from, model.ErrNotValid)
	}
	if from > SchemaVersion {
		return 0, fmt.Errorf("registry schema version %d is newer than the supported %d: %w", from, SchemaVersion, model.ErrNotValid)
	}

	err = inst.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("could not run migrations: %w", err)
	}

	if from != SchemaVersion {
		m.logger.Infof("Registry schema migrated from version %d to %d", from, SchemaVersion)
	}

	return SchemaVersion, nil
}

// instance creates a migrate instance over the embedded migrations. The returned func
// closes the migrations source only, the database is owned by the repository.
func (m *Migrator) instance() (*migrate.Migrate, func(), error) {
	driver, err := sqlite.WithInstance(m.db, &sqlite.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return nil, nil, fmt.Errorf("could not create driver: %w", err)
	}

	src, err := iofs.New(migrationFiles, "sql")
	if err != nil {
		return nil, nil, fmt.Errorf("could not create migrations source: %w", err)
	}
	closeSrc := func() {
		if err := src.Close(); err != nil {
			m.logger.Errorf("Could not close migrations source: %s", err)
		}
	}

	inst, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		closeSrc()
		return nil, nil, fmt.Errorf("could not create migration instance: %w", err)
	}

	return inst, closeSrc, nil
}
