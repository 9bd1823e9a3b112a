package mysql

import "fmt"

const archiveColumns = 5

type queries struct {
	selectPending string
	markReplayed  string
	discardOne    string
	countPending  string
}

func newQueries(table string) queries {
	return queries{
		selectPending: fmt.Sprintf(
			"SELECT message_id, action_type, payload, reason, failed_at, replay_count FROM %s "+
				"WHERE status = ? ORDER BY failed_at ASC, message_id ASC LIMIT ? FOR UPDATE SKIP LOCKED",
			table,
		),
		markReplayed: fmt.Sprintf(
			"UPDATE %s SET status = ?, replay_count = replay_count + 1, replayed_at = ? WHERE message_id = ?",
			table,
		),
		discardOne: fmt.Sprintf(
			"UPDATE %s SET status = ?, reason = ? WHERE message_id = ?",
			table,
		),
		countPending: fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE status = ?", table),
	}
}

// buildInsertQuery returns an upsert for count rows. A row that fails again
// after a replay returns to pending with the new reason.
func buildInsertQuery(table string, count int) string {
	return fmt.Sprintf(
		"INSERT INTO %s (message_id, action_type, payload, reason, failed_at) VALUES %s "+
			"ON DUPLICATE KEY UPDATE action_type = VALUES(action_type), payload = VALUES(payload), "+
			"reason = VALUES(reason), failed_at = VALUES(failed_at), status = %d, replayed_at = NULL",
		table,
		makeTuples(count, archiveColumns),
		StatusPending,
	)
}

// buildExpiredQuery selects settled rows past the cutoff, oldest failures
// first. Arguments: replayed status, cutoff, [discarded status, cutoff,] limit.
func buildExpiredQuery(table string, includeDiscarded bool) string {
	where := "(status = ? AND replayed_at <= ?)"
	if includeDiscarded {
		where += " OR (status = ? AND updated_at <= ?)"
	}

	return fmt.Sprintf(
		"SELECT message_id, status FROM %s WHERE %s ORDER BY failed_at ASC, message_id ASC LIMIT ? FOR UPDATE SKIP LOCKED",
		table,
		where,
	)
}

func buildDeleteQuery(table string, count int) string {
	return fmt.Sprintf("DELETE FROM %s WHERE message_id IN (%s)", table, makePlaceholders(count))
}

func makeTuples(rows, columns int) string {
	if rows <= 0 || columns <= 0 {
		return ""
	}

	tuple := "(" + makePlaceholders(columns) + ")"
	buf := make([]byte, 0, rows*(len(tuple)+1))
	for i := 0; i < rows; i++ {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, tuple...)
	}

	return string(buf)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}

	buf := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '?')
	}

	return string(buf)
}
