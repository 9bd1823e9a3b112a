// Package mysql provides a MySQL 8.0+ dead-letter archive for analytics actions.
//
// Register an Archive with analytics.WithDeadLetterSink to persist every
// action whose batch failed delivery. Replay later hands pending records back
// to a client. Fetching uses:
//   - READ COMMITTED isolation (to avoid gap locks)
//   - SELECT ... FOR UPDATE SKIP LOCKED
//   - ORDER BY failed_at ASC
//   - LIMIT for batching
//
// See Schema for the table DDL and CleanupMaintainer for periodic removal of
// replayed and discarded rows.
package mysql
