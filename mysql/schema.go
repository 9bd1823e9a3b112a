package mysql

import "fmt"

const schemaTemplate = `CREATE TABLE IF NOT EXISTS %s (
	message_id VARCHAR(64) NOT NULL,
	action_type VARCHAR(16) NOT NULL,
	payload JSON NOT NULL,
	reason VARCHAR(1024) NULL,
	status SMALLINT NOT NULL DEFAULT 0,
	replay_count INT NOT NULL DEFAULT 0,
	failed_at TIMESTAMP(6) NOT NULL,
	replayed_at TIMESTAMP(6) NULL,
	updated_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
	PRIMARY KEY (message_id),
	INDEX idx_status_failed (status, failed_at)
);`

// Schema returns the DDL for a dead-letter archive table.
func Schema(table string) (string, error) {
	name, err := quoteTable(table)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(schemaTemplate, name), nil
}
