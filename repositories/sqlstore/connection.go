package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lib/pq" // PostgreSQL driver
	"github.com/upb/compliance-ledger/config"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver
)

// Dialect identifies the SQL engine behind a DB
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	dialect Dialect
	logger  *zap.Logger
}

// NewDB creates a new database connection pool for the configured driver
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	var dialect Dialect
	switch cfg.Driver {
	case config.DriverPostgres:
		dialect = DialectPostgres
	case config.DriverSQLite:
		dialect = DialectSQLite
		if dir := filepath.Dir(cfg.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", cfg.Driver)
	}

	db, err := sql.Open(string(dialect), cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if dialect == DialectSQLite {
		// a single writer keeps the clock and the slot counters serialized
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("driver", string(dialect)),
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:      db,
		dialect: dialect,
		logger:  logger,
	}, nil
}

// Wrap adopts an already opened pool. Used by tests running against sqlmock.
func Wrap(db *sql.DB, dialect Dialect, logger *zap.Logger) *DB {
	return &DB{DB: db, dialect: dialect, logger: logger}
}

// Dialect returns the SQL engine of the pool
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	// Check if we can query
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// Stats returns database connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// isUniqueViolation reports whether err is a unique constraint failure on either engine
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
