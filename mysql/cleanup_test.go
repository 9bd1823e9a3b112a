package mysql

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewCleanupMaintainerDefaults(t *testing.T) {
	db := &sql.DB{}
	maintainer, err := NewCleanupMaintainer(db, CleanupMaintainerConfig{
		Table:     "dead_letters",
		Retention: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("expected maintainer, got %v", err)
	}
	if maintainer.cfg.CheckEvery != defaultCleanupEvery {
		t.Fatalf("expected default check interval")
	}
	if maintainer.cfg.Limit != defaultCleanupLimit {
		t.Fatalf("expected default limit")
	}
	if maintainer.cfg.LockName != "analytics:cleanup:dead_letters" {
		t.Fatalf("unexpected lock name %q", maintainer.cfg.LockName)
	}
}

func TestNewCleanupMaintainerValidation(t *testing.T) {
	db := &sql.DB{}
	if _, err := NewCleanupMaintainer(nil, CleanupMaintainerConfig{Retention: time.Hour}); err != ErrDBRequired {
		t.Fatalf("expected ErrDBRequired, got %v", err)
	}
	if _, err := NewCleanupMaintainer(db, CleanupMaintainerConfig{Retention: 0}); err != ErrCleanupRetentionInvalid {
		t.Fatalf("expected ErrCleanupRetentionInvalid, got %v", err)
	}
	if _, err := NewCleanupMaintainer(db, CleanupMaintainerConfig{Retention: time.Hour, Limit: -1}); err != ErrCleanupLimitInvalid {
		t.Fatalf("expected ErrCleanupLimitInvalid, got %v", err)
	}
}

func TestCleanupValidation(t *testing.T) {
	archive := MustNewArchive(&sql.DB{})
	if _, err := archive.Cleanup(context.Background(), CleanupOptions{}); !errors.Is(err, ErrCleanupBeforeRequired) {
		t.Fatalf("expected ErrCleanupBeforeRequired, got %v", err)
	}
	if _, err := archive.Cleanup(context.Background(), CleanupOptions{Before: time.Now(), Limit: -1}); !errors.Is(err, ErrCleanupLimitInvalid) {
		t.Fatalf("expected ErrCleanupLimitInvalid, got %v", err)
	}
}

func TestNewCleanupMaintainerRejectsLongLockName(t *testing.T) {
	table := strings.Repeat("t", maxIdentifierLength)
	if _, err := NewCleanupMaintainer(&sql.DB{}, CleanupMaintainerConfig{Table: table, Retention: time.Hour}); !errors.Is(err, ErrCleanupLockNameTooLong) {
		t.Fatalf("expected ErrCleanupLockNameTooLong, got %v", err)
	}

	maintainer, err := NewCleanupMaintainer(&sql.DB{}, CleanupMaintainerConfig{
		Table:     table,
		Retention: time.Hour,
		LockName:  "archive-cleanup",
	})
	if err != nil {
		t.Fatalf("expected explicit lock name to pass: %v", err)
	}
	if maintainer.cfg.Table != table {
		t.Fatalf("expected unquoted table name, got %q", maintainer.cfg.Table)
	}
}

func TestBuildExpiredQuery(t *testing.T) {
	replayedOnly := buildExpiredQuery("`dead_letters`", false)
	if strings.Contains(replayedOnly, "updated_at") {
		t.Fatalf("discarded rows must not be selected: %s", replayedOnly)
	}
	if strings.Count(replayedOnly, "?") != 3 {
		t.Fatalf("expected 3 placeholders: %s", replayedOnly)
	}

	all := buildExpiredQuery("`dead_letters`", true)
	if !strings.Contains(all, "OR (status = ? AND updated_at <= ?)") {
		t.Fatalf("expected discarded clause: %s", all)
	}
	if strings.Count(all, "?") != 5 {
		t.Fatalf("expected 5 placeholders: %s", all)
	}
	if !strings.HasSuffix(all, "FOR UPDATE SKIP LOCKED") {
		t.Fatalf("expected skip locked select: %s", all)
	}
}

func TestBuildDeleteQuery(t *testing.T) {
	if got := buildDeleteQuery("`dead_letters`", 3); got != "DELETE FROM `dead_letters` WHERE message_id IN (?,?,?)" {
		t.Fatalf("unexpected delete: %s", got)
	}
	if total := (CleanupResult{Replayed: 2, Discarded: 3}).Total(); total != 5 {
		t.Fatalf("expected total 5, got %d", total)
	}
}
