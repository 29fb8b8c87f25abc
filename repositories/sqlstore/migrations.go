package sqlstore

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFS embed.FS

func (db *DB) newMigrate() (*migrate.Migrate, error) {
	var (
		driver database.Driver
		err    error
	)
	switch db.dialect {
	case DialectPostgres:
		driver, err = postgres.WithInstance(db.DB, &postgres.Config{})
	case DialectSQLite:
		driver, err = sqlite.WithInstance(db.DB, &sqlite.Config{})
	default:
		return nil, fmt.Errorf("no migrations for dialect %q", db.dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationFS, "migrations/"+string(db.dialect))
	if err != nil {
		return nil, fmt.Errorf("failed to open migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, string(db.dialect), driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration instance: %w", err)
	}
	return m, nil
}

// RunMigrations applies every pending embedded migration.
// It is idempotent and safe to call multiple times.
func (db *DB) RunMigrations() error {
	m, err := db.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed; its driver would close the shared pool.

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		db.logger.Info("no migrations to apply (database up-to-date)")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, _, _ := m.Version()
	db.logger.Info("applied migrations successfully", zap.Uint("version", version))
	return nil
}

// MigrateDown reverts every migration. Used by evidencectl.
func (db *DB) MigrateDown() error {
	m, err := db.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to revert migrations: %w", err)
	}
	db.logger.Info("reverted migrations")
	return nil
}

// MigrationVersion reports the applied schema version
func (db *DB) MigrationVersion() (uint, bool, error) {
	m, err := db.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}
