package analytics

import (
	"fmt"

	"github.com/google/uuid"
)

// IDGenerator creates message and batch identifiers.
type IDGenerator interface {
	// New returns a new identifier.
	New() (string, error)
}

// IDGeneratorFunc adapts a function to IDGenerator.
type IDGeneratorFunc func() (string, error)

// New implements IDGenerator.
func (fn IDGeneratorFunc) New() (string, error) {
	return fn()
}

// UUIDGenerator produces time-ordered UUID v7 identifiers.
type UUIDGenerator struct{}

// New creates a new UUID v7 identifier in canonical text form.
func (UUIDGenerator) New() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("analytics: generate id: %w", err)
	}

	return id.String(), nil
}
