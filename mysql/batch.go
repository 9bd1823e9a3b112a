package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Batch holds archived records locked by Fetch until Commit or Rollback.
type Batch struct {
	tx      *sql.Tx
	archive *Archive
	records []Record
}

// Records returns the records fetched for this batch.
func (b *Batch) Records() []Record {
	return b.records
}

// MarkReplayed marks the given records as replayed.
func (b *Batch) MarkReplayed(ctx context.Context, messageIDs []string) error {
	return b.archive.markReplayed(ctx, b.tx, messageIDs)
}

// Discard marks the given records as not replayable.
func (b *Batch) Discard(ctx context.Context, discards []Discard) error {
	return b.archive.discard(ctx, b.tx, discards)
}

// Commit finalizes the batch transaction.
func (b *Batch) Commit() error {
	return b.tx.Commit()
}

// Rollback releases locks without applying any changes.
func (b *Batch) Rollback() error {
	err := b.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}

	return err
}

func (b *Batch) rollbackWith(err error) error {
	rollbackErr := b.Rollback()
	if rollbackErr == nil {
		return err
	}

	return errors.Join(err, fmt.Errorf("analytics mysql: rollback failed: %w", rollbackErr))
}
