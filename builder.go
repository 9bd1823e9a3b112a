package analytics

import (
	"encoding/json"
	"fmt"
	"time"
)

// BatchBuilder groups a FIFO run of actions into size and count bounded batches.
//
// Grouping is greedy and deterministic: an action joins the open batch unless
// that would exceed MaxBatchCount actions or MaxBatchBytes serialized bytes.
// An action that exceeds MaxBatchBytes on its own ships in a batch by itself.
type BatchBuilder struct {
	writeKey string
	maxBytes int
	maxCount int
	ids      IDGenerator
	overhead int
}

// NewBatchBuilder creates a builder for the given write key and limits.
func NewBatchBuilder(writeKey string, maxBytes, maxCount int, ids IDGenerator) *BatchBuilder {
	if ids == nil {
		ids = UUIDGenerator{}
	}
	if maxCount <= 0 {
		maxCount = defaultMaxBatchCount
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBatchBytes
	}
	empty := &Batch{WriteKey: writeKey, SentAt: time.Time{}}
	body, _ := empty.MarshalJSON() //nolint:errcheck // strings and an empty slice always encode

	return &BatchBuilder{
		writeKey: writeKey,
		maxBytes: maxBytes,
		maxCount: maxCount,
		ids:      ids,
		overhead: len(body),
	}
}

// Build splits actions into batches. Actions that cannot be serialized, or
// whose batch cannot be created, are returned as failures wrapping ErrUnexpected.
func (b *BatchBuilder) Build(actions []Action) ([]*Batch, []Failure) {
	var (
		batches  []*Batch
		failures []Failure
		current  *Batch
	)

	for _, action := range actions {
		raw, err := json.Marshal(action)
		if err != nil {
			failures = append(failures, Failure{
				Action: action,
				Err:    fmt.Errorf("%w: encode action: %w", ErrUnexpected, err),
			})

			continue
		}

		if current != nil && !b.fits(current, len(raw)) {
			batches = append(batches, current)
			current = nil
		}
		if current == nil {
			current, err = b.newBatch()
			if err != nil {
				failures = append(failures, Failure{Action: action, Err: err})

				continue
			}
		} else {
			current.size++ // separator
		}

		current.actions = append(current.actions, action)
		current.payloads = append(current.payloads, raw)
		current.size += len(raw)
	}
	if current != nil {
		batches = append(batches, current)
	}

	return batches, failures
}

func (b *BatchBuilder) fits(batch *Batch, size int) bool {
	if len(batch.actions) >= b.maxCount {
		return false
	}

	return batch.size+1+size <= b.maxBytes
}

func (b *BatchBuilder) newBatch() (*Batch, error) {
	id, err := b.ids.New()
	if err != nil {
		return nil, fmt.Errorf("%w: batch id: %w", ErrUnexpected, err)
	}

	return &Batch{MessageID: id, WriteKey: b.writeKey, size: b.overhead}, nil
}
