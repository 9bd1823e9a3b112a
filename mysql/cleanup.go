package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/velmie/analytics"
)

const (
	defaultCleanupLimit      = 10000
	defaultCleanupEvery      = time.Hour
	defaultCleanupLockPrefix = "analytics:cleanup:"
	// maxLockNameLength is the MySQL limit for GET_LOCK names.
	maxLockNameLength = 64
)

// CleanupOptions selects settled archive rows to delete.
type CleanupOptions struct {
	// Before is the cutoff: replayed rows by replayed_at, discarded rows by
	// updated_at (required).
	Before time.Time
	// Limit caps the number of rows deleted per call (0 uses the default).
	Limit int
	// IncludeDiscarded also removes discarded rows.
	IncludeDiscarded bool
}

// CleanupResult reports how many rows were removed, by their final status.
type CleanupResult struct {
	Replayed  int64
	Discarded int64
}

// Total returns the number of deleted rows.
func (r CleanupResult) Total() int64 {
	return r.Replayed + r.Discarded
}

// Cleanup deletes settled rows older than opts.Before. Pending rows are never
// touched, and rows locked by a concurrent Replay are skipped.
func (a *Archive) Cleanup(ctx context.Context, opts CleanupOptions) (CleanupResult, error) {
	if opts.Before.IsZero() {
		return CleanupResult{}, ErrCleanupBeforeRequired
	}
	if opts.Limit < 0 {
		return CleanupResult{}, ErrCleanupLimitInvalid
	}
	limit := opts.Limit
	if limit == 0 {
		limit = defaultCleanupLimit
	}

	tx, err := a.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return CleanupResult{}, fmt.Errorf("analytics mysql: cleanup begin failed: %w", err)
	}

	ids, result, err := a.selectExpired(ctx, tx, opts, limit)
	if err == nil && len(ids) > 0 {
		err = a.deleteRows(ctx, tx, ids)
	}
	if err != nil || len(ids) == 0 {
		return CleanupResult{}, errors.Join(err, tx.Rollback())
	}
	if err := tx.Commit(); err != nil {
		return CleanupResult{}, fmt.Errorf("analytics mysql: cleanup commit failed: %w", err)
	}

	return result, nil
}

func (a *Archive) selectExpired(ctx context.Context, tx *sql.Tx, opts CleanupOptions, limit int) ([]any, CleanupResult, error) {
	args := []any{StatusReplayed, opts.Before}
	if opts.IncludeDiscarded {
		args = append(args, StatusDiscarded, opts.Before)
	}
	args = append(args, limit)

	rows, err := tx.QueryContext(ctx, buildExpiredQuery(a.table, opts.IncludeDiscarded), args...)
	if err != nil {
		return nil, CleanupResult{}, fmt.Errorf("analytics mysql: cleanup select failed: %w", err)
	}
	defer rows.Close()

	var (
		ids    []any
		result CleanupResult
	)
	for rows.Next() {
		var (
			id     string
			status Status
		)
		if err := rows.Scan(&id, &status); err != nil {
			return nil, CleanupResult{}, fmt.Errorf("analytics mysql: cleanup scan failed: %w", err)
		}
		ids = append(ids, id)
		if status == StatusDiscarded {
			result.Discarded++
		} else {
			result.Replayed++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, CleanupResult{}, fmt.Errorf("analytics mysql: cleanup rows failed: %w", err)
	}

	return ids, result, nil
}

func (a *Archive) deleteRows(ctx context.Context, tx *sql.Tx, ids []any) error {
	if _, err := tx.ExecContext(ctx, buildDeleteQuery(a.table, len(ids)), ids...); err != nil {
		return fmt.Errorf("analytics mysql: cleanup delete failed: %w", err)
	}

	return nil
}

// CleanupMaintainerConfig controls periodic cleanup of the archive table.
type CleanupMaintainerConfig struct {
	// Table is the archive table name. Use schema.table for non-default schema.
	Table string
	// Retention keeps settled rows for this long (required).
	Retention time.Duration
	// CheckEvery is the interval between cleanup runs.
	CheckEvery time.Duration
	// Limit caps the number of rows deleted per run (0 uses the default).
	Limit int
	// IncludeDiscarded removes discarded rows in addition to replayed rows.
	IncludeDiscarded bool
	// LockName is the advisory lock shared by all maintainers of the table.
	// Defaults to analytics:cleanup:<table>; at most 64 characters.
	LockName string
	Clock    analytics.Clock
	Logger   analytics.Logger
}

// CleanupMaintainer runs archive cleanup on one replica at a time, elected
// through a MySQL advisory lock.
type CleanupMaintainer struct {
	archive *Archive
	cfg     CleanupMaintainerConfig
}

// NewCleanupMaintainer validates cfg and applies defaults.
func NewCleanupMaintainer(db *sql.DB, cfg CleanupMaintainerConfig) (*CleanupMaintainer, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	if cfg.Retention <= 0 {
		return nil, ErrCleanupRetentionInvalid
	}
	if cfg.Limit < 0 {
		return nil, ErrCleanupLimitInvalid
	}
	if cfg.Limit == 0 {
		cfg.Limit = defaultCleanupLimit
	}
	if cfg.CheckEvery <= 0 {
		cfg.CheckEvery = defaultCleanupEvery
	}
	if cfg.Clock == nil {
		cfg.Clock = analytics.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = analytics.NopLogger{}
	}

	archive, err := NewArchive(db, WithTable(cfg.Table), WithClock(cfg.Clock), WithLogger(cfg.Logger))
	if err != nil {
		return nil, err
	}
	cfg.Table = archive.name
	if cfg.LockName == "" {
		cfg.LockName = defaultCleanupLockPrefix + archive.name
	}
	if len(cfg.LockName) > maxLockNameLength {
		return nil, fmt.Errorf("%w: %q", ErrCleanupLockNameTooLong, cfg.LockName)
	}

	return &CleanupMaintainer{archive: archive, cfg: cfg}, nil
}

// Run cleans up immediately and then every CheckEvery until ctx is done.
func (m *CleanupMaintainer) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CheckEvery)
	defer ticker.Stop()

	for {
		if _, err := m.Ensure(ctx); err != nil && ctx.Err() == nil {
			m.cfg.Logger.Warn("analytics archive cleanup failed", "table", m.cfg.Table, "err", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Ensure runs one cleanup pass if this session wins the advisory lock.
// A pass skipped because another session holds the lock returns a zero result.
func (m *CleanupMaintainer) Ensure(ctx context.Context) (CleanupResult, error) {
	var result CleanupResult
	held, err := m.withLock(ctx, func() error {
		var err error
		result, err = m.archive.Cleanup(ctx, CleanupOptions{
			Before:           m.cfg.Clock.Now().Add(-m.cfg.Retention),
			Limit:            m.cfg.Limit,
			IncludeDiscarded: m.cfg.IncludeDiscarded,
		})

		return err
	})
	if err != nil {
		return CleanupResult{}, err
	}
	if !held {
		m.cfg.Logger.Debug("analytics archive cleanup skipped, lock held elsewhere", "lock", m.cfg.LockName)

		return CleanupResult{}, nil
	}
	if result.Total() > 0 {
		m.cfg.Logger.Info("analytics archive cleanup",
			"table", m.cfg.Table, "replayed", result.Replayed, "discarded", result.Discarded)
	}

	return result, nil
}

// withLock runs fn while holding the named lock on a dedicated connection.
// GET_LOCK is session scoped, so acquire and release must share the connection.
func (m *CleanupMaintainer) withLock(ctx context.Context, fn func() error) (bool, error) {
	conn, err := m.archive.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("analytics mysql: cleanup conn failed: %w", err)
	}
	defer conn.Close()

	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", m.cfg.LockName).Scan(&got); err != nil {
		return false, fmt.Errorf("analytics mysql: acquire cleanup lock failed: %w", err)
	}
	if got.Int64 != 1 {
		return false, nil
	}

	fnErr := fn()

	var released sql.NullInt64
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := conn.QueryRowContext(releaseCtx, "SELECT RELEASE_LOCK(?)", m.cfg.LockName).Scan(&released); err != nil {
		m.cfg.Logger.Warn("analytics archive cleanup release lock failed", "lock", m.cfg.LockName, "err", err)
	}

	return true, fnErr
}
