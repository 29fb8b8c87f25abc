// Package memory is an in-process implementation of the repositories used by
// tests and by single-node development runs (DATABASE_DRIVER=memory).
// Statements are atomic per call; the transaction manager does not roll back.
package memory

import (
	"context"
	"sync/atomic"

	"github.com/upb/compliance-ledger/models"
	"github.com/upb/compliance-ledger/repositories"
)

// Clock is an atomic logical clock
type Clock struct {
	rev atomic.Int64
}

// Tick allocates the next revision
func (c *Clock) Tick(_ context.Context) (models.Revision, error) {
	return models.Revision(c.rev.Add(1)), nil
}

// Current returns the highest revision allocated so far
func (c *Clock) Current(_ context.Context) (models.Revision, error) {
	return models.Revision(c.rev.Load()), nil
}

func (c *Clock) tick() models.Revision {
	return models.Revision(c.rev.Add(1))
}

// NewRepositories creates an empty in-memory data set sharing one clock
func NewRepositories() *repositories.Repositories {
	clock := &Clock{}
	return &repositories.Repositories{
		Clock:         clock,
		Organizations: NewOrganizationRepository(),
		Frameworks:    NewFrameworkRepository(),
		Controls:      NewControlRepository(clock),
		Evidence:      NewEvidenceRepository(clock),
		Tasks:         NewTaskRepository(clock),
		Policies:      NewPolicyRepository(clock),
		Exports:       NewExportRepository(),
		AuditLogs:     NewAuditRepository(),
	}
}

// TransactionManager runs functions inline
type TransactionManager struct{}

// NewTransactionManager creates a transaction manager for the memory store
func NewTransactionManager() repositories.TransactionManager {
	return TransactionManager{}
}

// Begin starts a no-op transaction
func (TransactionManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	return transaction{ctx: ctx}, nil
}

// InTransaction executes fn inline
func (tm TransactionManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	tx, _ := tm.Begin(ctx)
	return fn(ctx, tx)
}

type transaction struct {
	ctx context.Context
}

func (transaction) Commit() error              { return nil }
func (transaction) Rollback() error            { return nil }
func (t transaction) Context() context.Context { return t.ctx }
