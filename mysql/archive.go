package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/velmie/analytics"
)

const (
	maxErrorLen   = 1024
	maxInsertRows = 500
)

// Record is an archived action.
type Record struct {
	MessageID   string
	Type        analytics.ActionType
	Payload     json.RawMessage
	Reason      string
	FailedAt    time.Time
	ReplayCount int
}

// Discard marks an archived action as not replayable.
type Discard struct {
	MessageID string
	Err       error
}

// Enqueuer accepts replayed actions. *analytics.Client satisfies it.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, action analytics.Action) error
}

// ReplayResult reports what a Replay call did with the fetched records.
type ReplayResult struct {
	Replayed  int
	Discarded int
	// Remaining counts fetched records left pending because the enqueuer
	// stopped accepting actions.
	Remaining int
}

// Archive stores actions whose delivery failed and replays them later.
// It implements analytics.DeadLetterSink.
type Archive struct {
	db      *sql.DB
	cfg     Config
	queries queries
	name    string
	table   string
}

var _ analytics.DeadLetterSink = (*Archive)(nil)

// NewArchive constructs a MySQL archive with validated configuration.
func NewArchive(db *sql.DB, opts ...Option) (*Archive, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	table, err := quoteTable(cfg.Table)
	if err != nil {
		return nil, err
	}

	return &Archive{
		db:      db,
		cfg:     cfg,
		queries: newQueries(table),
		name:    cfg.Table,
		table:   table,
	}, nil
}

// MustNewArchive constructs a MySQL archive or panics on error.
func MustNewArchive(db *sql.DB, opts ...Option) *Archive {
	archive, err := NewArchive(db, opts...)
	if err != nil {
		panic(err)
	}

	return archive
}

// Store persists failed actions as pending records. Actions that cannot be
// encoded are logged and skipped.
func (a *Archive) Store(ctx context.Context, failures []analytics.Failure) error {
	args := make([]any, 0, min(len(failures), maxInsertRows)*archiveColumns)
	rows := 0
	now := a.cfg.Clock.Now()

	for _, failure := range failures {
		if failure.Action == nil {
			continue
		}
		payload, err := json.Marshal(failure.Action)
		if err != nil {
			a.cfg.Logger.Warn("analytics mysql: skip unencodable action",
				"message_id", failure.Action.MessageID(), "err", err)

			continue
		}
		args = append(args,
			failure.Action.MessageID(),
			string(failure.Action.Type()),
			string(payload),
			truncateError(failure.Err),
			now,
		)
		rows++

		if rows == maxInsertRows {
			if err := a.insert(ctx, rows, args); err != nil {
				return err
			}
			args = args[:0]
			rows = 0
		}
	}

	return a.insert(ctx, rows, args)
}

func (a *Archive) insert(ctx context.Context, rows int, args []any) error {
	if rows == 0 {
		return nil
	}
	if _, err := a.db.ExecContext(ctx, buildInsertQuery(a.table, rows), args...); err != nil {
		return fmt.Errorf("analytics mysql: insert failed: %w", err)
	}

	return nil
}

// Fetch locks and returns up to limit pending records using READ COMMITTED +
// SKIP LOCKED, so concurrent replayers never see the same rows.
func (a *Archive) Fetch(ctx context.Context, limit int) (*Batch, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	tx, err := a.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("analytics mysql: begin tx failed: %w", err)
	}

	records, err := a.selectPending(ctx, tx, limit)
	if err != nil {
		rollbackErr := tx.Rollback()

		return nil, errors.Join(err, rollbackErr)
	}
	if len(records) == 0 {
		_ = tx.Rollback()

		return nil, ErrNoRecords
	}

	return &Batch{tx: tx, archive: a, records: records}, nil
}

func (a *Archive) selectPending(ctx context.Context, tx *sql.Tx, limit int) ([]Record, error) {
	rows, err := tx.QueryContext(ctx, a.queries.selectPending, StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("analytics mysql: select failed: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, limit)
	for rows.Next() {
		var (
			rec     Record
			kind    string
			payload []byte
			reason  sql.NullString
		)
		if err := rows.Scan(&rec.MessageID, &kind, &payload, &reason, &rec.FailedAt, &rec.ReplayCount); err != nil {
			return nil, fmt.Errorf("analytics mysql: scan failed: %w", err)
		}
		rec.Type = analytics.ActionType(kind)
		rec.Payload = payload
		rec.Reason = reason.String
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("analytics mysql: rows failed: %w", err)
	}

	return records, nil
}

// Replay fetches up to limit pending records and hands them to enq.
//
// Replayed records are marked in the same transaction that locked them.
// Records that cannot be decoded, fail validation or exceeded MaxReplays are
// discarded. When enq stops accepting actions the rest stay pending.
// Delivery is at least once: a failed commit leaves enqueued records pending.
func (a *Archive) Replay(ctx context.Context, enq Enqueuer, limit int) (ReplayResult, error) {
	if enq == nil {
		return ReplayResult{}, ErrEnqueuerRequired
	}

	batch, err := a.Fetch(ctx, limit)
	if err != nil {
		if errors.Is(err, ErrNoRecords) {
			return ReplayResult{}, nil
		}

		return ReplayResult{}, err
	}

	var (
		result   ReplayResult
		replayed []string
		discards []Discard
	)
	records := batch.Records()
	for i, rec := range records {
		if rec.ReplayCount >= a.cfg.MaxReplays {
			discards = append(discards, Discard{
				MessageID: rec.MessageID,
				Err:       fmt.Errorf("replay limit %d reached: %s", a.cfg.MaxReplays, rec.Reason),
			})

			continue
		}

		action, err := analytics.DecodeAction(rec.Payload)
		if err == nil {
			err = enq.EnqueueContext(ctx, action)
		}
		if err != nil {
			if stopsReplay(err) {
				result.Remaining = len(records) - i
				a.cfg.Logger.Warn("analytics mysql: replay stopped", "remaining", result.Remaining, "err", err)

				break
			}
			discards = append(discards, Discard{MessageID: rec.MessageID, Err: err})

			continue
		}
		replayed = append(replayed, rec.MessageID)
	}

	if err := batch.MarkReplayed(ctx, replayed); err != nil {
		return ReplayResult{}, batch.rollbackWith(err)
	}
	if err := batch.Discard(ctx, discards); err != nil {
		return ReplayResult{}, batch.rollbackWith(err)
	}
	if err := batch.Commit(); err != nil {
		return ReplayResult{}, batch.rollbackWith(fmt.Errorf("analytics mysql: commit failed: %w", err))
	}

	result.Replayed = len(replayed)
	result.Discarded = len(discards)

	return result, nil
}

func stopsReplay(err error) bool {
	return errors.Is(err, analytics.ErrQueueFull) ||
		errors.Is(err, analytics.ErrClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (a *Archive) markReplayed(ctx context.Context, tx *sql.Tx, ids []string) error {
	now := a.cfg.Clock.Now()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, a.queries.markReplayed, StatusReplayed, now, id); err != nil {
			return fmt.Errorf("analytics mysql: replay update failed: %w", err)
		}
	}

	return nil
}

func (a *Archive) discard(ctx context.Context, tx *sql.Tx, discards []Discard) error {
	for _, d := range discards {
		if _, err := tx.ExecContext(ctx, a.queries.discardOne, StatusDiscarded, truncateError(d.Err), d.MessageID); err != nil {
			return fmt.Errorf("analytics mysql: discard update failed: %w", err)
		}
	}

	return nil
}

// PendingCount returns the number of archived actions awaiting replay.
func (a *Archive) PendingCount(ctx context.Context) (int, error) {
	var count int
	if err := a.db.QueryRowContext(ctx, a.queries.countPending, StatusPending).Scan(&count); err != nil {
		return 0, fmt.Errorf("analytics mysql: pending count failed: %w", err)
	}

	return count, nil
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	if utf8.RuneCountInString(msg) <= maxErrorLen {
		return msg
	}

	return string([]rune(msg)[:maxErrorLen])
}
