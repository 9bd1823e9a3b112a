package mysql

import (
	"errors"
	"strings"
	"testing"
)

func TestQuoteTable(t *testing.T) {
	tests := map[string]string{
		"analytics_dead_letters": "`analytics_dead_letters`",
		"ops.dead_letters":       "`ops`.`dead_letters`",
		"DEAD_LETTERS_1":         "`DEAD_LETTERS_1`",
		"2024_letters":           "`2024_letters`",
	}
	for name, want := range tests {
		got, err := quoteTable(name)
		if err != nil {
			t.Fatalf("expected valid name %q: %v", name, err)
		}
		if got != want {
			t.Fatalf("quoteTable(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestQuoteTableRejects(t *testing.T) {
	if _, err := quoteTable(""); !errors.Is(err, ErrTableNameRequired) {
		t.Fatalf("expected ErrTableNameRequired, got %v", err)
	}

	invalid := []string{
		"letters;drop",
		"letters-1",
		"ops..letters",
		"ops.letters;",
		"a.b.c",
		"12345",
		"`letters`",
		strings.Repeat("x", maxIdentifierLength+1),
		"ops." + strings.Repeat("x", maxIdentifierLength+1),
	}
	for _, name := range invalid {
		if _, err := quoteTable(name); !errors.Is(err, ErrInvalidTableName) {
			t.Fatalf("expected ErrInvalidTableName for %q, got %v", name, err)
		}
	}

	if _, err := quoteTable(strings.Repeat("x", maxIdentifierLength)); err != nil {
		t.Fatalf("expected identifier at the length limit to pass: %v", err)
	}
}
