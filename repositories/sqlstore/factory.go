package sqlstore

import (
	"context"

	"github.com/upb/compliance-ledger/config"
	"github.com/upb/compliance-ledger/repositories"
	"go.uber.org/zap"
)

// RepositoryFactory creates and manages all repositories
type RepositoryFactory struct {
	db     *DB
	logger *zap.Logger
}

// NewRepositoryFactory opens the configured database and, when enabled,
// applies pending migrations
func NewRepositoryFactory(cfg *config.Config, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := NewDB(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Database.AutoMigrate {
		if err := db.RunMigrations(); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &RepositoryFactory{db: db, logger: logger}, nil
}

// NewRepositories creates all repository instances
func (f *RepositoryFactory) NewRepositories() *repositories.Repositories {
	return &repositories.Repositories{
		Clock:         NewClock(f.db, f.logger),
		Organizations: NewOrganizationRepository(f.db, f.logger),
		Frameworks:    NewFrameworkRepository(f.db, f.logger),
		Controls:      NewControlRepository(f.db, f.logger),
		Evidence:      NewEvidenceRepository(f.db, f.logger),
		Tasks:         NewTaskRepository(f.db, f.logger),
		Policies:      NewPolicyRepository(f.db, f.logger),
		Exports:       NewExportRepository(f.db, f.logger),
		AuditLogs:     NewAuditRepository(f.db, f.logger),
	}
}

// GetTransactionManager returns a transaction manager
func (f *RepositoryFactory) GetTransactionManager() repositories.TransactionManager {
	return NewTransactionManager(f.db, f.logger)
}

// GetDB returns the database connection
func (f *RepositoryFactory) GetDB() *DB {
	return f.db
}

// HealthCheck pings the database
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	return f.db.HealthCheck(ctx)
}

// Close closes the database connection
func (f *RepositoryFactory) Close() error {
	return f.db.Close()
}
