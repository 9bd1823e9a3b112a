package mysql

import "errors"

var (
	// ErrDBRequired is returned when a nil *sql.DB is provided.
	ErrDBRequired = errors.New("analytics mysql: db is required")
	// ErrTableNameRequired is returned when the table name is empty.
	ErrTableNameRequired = errors.New("analytics mysql: table name is required")
	// ErrInvalidTableName is returned when the table name has disallowed characters.
	ErrInvalidTableName = errors.New("analytics mysql: invalid table name")
	// ErrNoRecords is returned by Fetch when no archived action is pending.
	ErrNoRecords = errors.New("analytics mysql: no pending records")
	// ErrInvalidLimit is returned when a fetch or replay limit is not positive.
	ErrInvalidLimit = errors.New("analytics mysql: limit must be positive")
	// ErrEnqueuerRequired is returned when Replay is called without an enqueuer.
	ErrEnqueuerRequired = errors.New("analytics mysql: enqueuer is required")
	// ErrCleanupBeforeRequired is returned when cleanup cutoff is missing.
	ErrCleanupBeforeRequired = errors.New("analytics mysql: cleanup before time is required")
	// ErrCleanupLimitInvalid is returned when cleanup limit is negative.
	ErrCleanupLimitInvalid = errors.New("analytics mysql: cleanup limit must be non-negative")
	// ErrCleanupRetentionInvalid is returned when cleanup retention is not positive.
	ErrCleanupRetentionInvalid = errors.New("analytics mysql: cleanup retention must be positive")
	// ErrCleanupLockNameTooLong is returned when the advisory lock name exceeds 64 characters.
	ErrCleanupLockNameTooLong = errors.New("analytics mysql: cleanup lock name too long")
)
