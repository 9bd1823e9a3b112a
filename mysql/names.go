package mysql

import (
	"fmt"
	"strings"
)

// maxIdentifierLength is the MySQL limit for schema and table names.
const maxIdentifierLength = 64

// quoteTable validates an archive table reference ("table" or
// "schema.table") and returns it backtick-quoted for use in statements.
func quoteTable(name string) (string, error) {
	if name == "" {
		return "", ErrTableNameRequired
	}
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return "", fmt.Errorf("%w: %q has more than schema and table", ErrInvalidTableName, name)
	}

	quoted := make([]string, len(parts))
	for i, part := range parts {
		if err := checkIdentifier(part); err != nil {
			return "", fmt.Errorf("%w: %q: %s", ErrInvalidTableName, name, err.Error())
		}
		quoted[i] = "`" + part + "`"
	}

	return strings.Join(quoted, "."), nil
}

type identifierError string

func (e identifierError) Error() string { return string(e) }

func checkIdentifier(part string) error {
	switch {
	case part == "":
		return identifierError("empty identifier")
	case len(part) > maxIdentifierLength:
		return identifierError(fmt.Sprintf("identifier longer than %d characters", maxIdentifierLength))
	}

	digits := true
	for _, r := range part {
		switch {
		case r >= '0' && r <= '9':
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			digits = false
		default:
			return identifierError(fmt.Sprintf("character %q is not allowed", r))
		}
	}
	if digits {
		return identifierError("identifier made of digits only")
	}

	return nil
}
