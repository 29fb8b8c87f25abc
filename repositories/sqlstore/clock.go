package sqlstore

import (
	"context"
	"fmt"

	"github.com/upb/compliance-ledger/models"
	"github.com/upb/compliance-ledger/repositories"
	"go.uber.org/zap"
)

// Clock is the logical clock, a single counter row in ledger_clock.
//
// Tick increments the row inside the caller's transaction, so the row stays
// locked until that transaction ends and writers take revisions one at a time.
// Current reads the committed counter: every revision at or below it belongs to
// a transaction that has already committed or rolled back, which makes it a
// stable read point for snapshots.
type Clock struct {
	db     *DB
	logger *zap.Logger
}

// NewClock creates a new database backed clock
func NewClock(db *DB, logger *zap.Logger) repositories.Clock {
	return &Clock{db: db, logger: logger}
}

// Tick allocates the next revision. Write transactions tick before touching any
// other row so the clock is always the first lock taken.
func (c *Clock) Tick(ctx context.Context) (models.Revision, error) {
	return tick(ctx, GetExecutor(ctx, c.db))
}

// Current returns the highest committed revision
func (c *Clock) Current(ctx context.Context) (models.Revision, error) {
	var rev int64
	err := GetExecutor(ctx, c.db).QueryRowContext(ctx, `SELECT tick FROM ledger_clock WHERE id = 1`).Scan(&rev)
	if err != nil {
		c.logger.Error("failed to read clock", zap.Error(err))
		return 0, fmt.Errorf("failed to read clock: %w", err)
	}
	return models.Revision(rev), nil
}

func tick(ctx context.Context, exec Executor) (models.Revision, error) {
	var rev int64
	err := exec.QueryRowContext(ctx, `UPDATE ledger_clock SET tick = tick + 1 WHERE id = 1 RETURNING tick`).Scan(&rev)
	if err != nil {
		return 0, fmt.Errorf("failed to advance clock: %w", err)
	}
	return models.Revision(rev), nil
}
