package analytics

import (
	"encoding/json"
	"time"
)

// sentAtLayout is fixed width so that batch sizes can be computed before
// the send time is known.
const sentAtLayout = "2006-01-02T15:04:05.000Z07:00"

// Batch is an ordered group of actions delivered in one request.
//
// A Batch is owned by the dispatcher worker that built it and is discarded
// once its terminal outcome has been recorded.
type Batch struct {
	// MessageID identifies the batch in logs.
	MessageID string
	// WriteKey authenticates the batch against the ingestion endpoint.
	WriteKey string
	// SentAt is the time of the first send attempt.
	SentAt time.Time

	actions  []Action
	payloads []json.RawMessage
	size     int
}

// Failure pairs an action with the reason it failed.
type Failure struct {
	Action Action
	Err    error
}

type envelope struct {
	Batch    []json.RawMessage `json:"batch"`
	SentAt   string            `json:"sentAt"`
	WriteKey string            `json:"writeKey"`
}

// Actions returns the actions in insertion order.
func (b *Batch) Actions() []Action {
	return b.actions
}

// Len returns the number of actions in the batch.
func (b *Batch) Len() int {
	return len(b.actions)
}

// Size returns the serialized size of the batch in bytes.
func (b *Batch) Size() int {
	return b.size
}

// MarshalJSON encodes the request body: {"batch":[...],"sentAt":...,"writeKey":...}.
func (b *Batch) MarshalJSON() ([]byte, error) {
	payloads := b.payloads
	if payloads == nil {
		payloads = []json.RawMessage{}
	}

	return json.Marshal(envelope{
		Batch:    payloads,
		SentAt:   formatSentAt(b.SentAt),
		WriteKey: b.WriteKey,
	})
}

func formatSentAt(t time.Time) string {
	return t.UTC().Format(sentAtLayout)
}

func failAll(actions []Action, err error) []Failure {
	failures := make([]Failure, 0, len(actions))
	for _, action := range actions {
		failures = append(failures, Failure{Action: action, Err: err})
	}

	return failures
}

func actionsOf(failures []Failure) []Action {
	actions := make([]Action, 0, len(failures))
	for _, failure := range failures {
		actions = append(actions, failure.Action)
	}

	return actions
}
