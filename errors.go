package analytics

import (
	"errors"
	"fmt"
)

var (
	// ErrWriteKeyRequired is returned when a client is created without a write key.
	ErrWriteKeyRequired = errors.New("analytics write key is required")
	// ErrEndpointRequired is returned when the ingestion endpoint is empty.
	ErrEndpointRequired = errors.New("analytics endpoint is required")
	// ErrInvalidConfig indicates a configuration value outside its allowed range.
	ErrInvalidConfig = errors.New("analytics config is invalid")
	// ErrUserIDRequired is returned when an action has neither a user id nor an anonymous id.
	ErrUserIDRequired = errors.New("analytics user id or anonymous id is required")
	// ErrEventRequired is returned when a track action has no event name.
	ErrEventRequired = errors.New("analytics track event is required")
	// ErrGroupIDRequired is returned when a group action has no group id.
	ErrGroupIDRequired = errors.New("analytics group id is required")
	// ErrPreviousIDRequired is returned when an alias action has no previous id.
	ErrPreviousIDRequired = errors.New("analytics alias previous id is required")
	// ErrUnknownActionType is returned when decoding an action with an unsupported type tag.
	ErrUnknownActionType = errors.New("analytics action type is unknown")
	// ErrQueueFull is returned when the queue stays full for the whole enqueue timeout.
	ErrQueueFull = errors.New("analytics queue is full")
	// ErrClosed is returned when enqueuing into a client that is shutting down.
	ErrClosed = errors.New("analytics client is closed")
	// ErrShutdownTimeout marks actions abandoned because shutdown ran out of time.
	ErrShutdownTimeout = errors.New("analytics shutdown timed out")
	// ErrTransient marks network failures and retryable HTTP statuses (429, 5xx).
	ErrTransient = errors.New("analytics transient transport error")
	// ErrClientRejection marks non-retryable HTTP statuses.
	ErrClientRejection = errors.New("analytics batch rejected")
	// ErrBackoffExhausted indicates the retry budget was consumed without a success.
	ErrBackoffExhausted = errors.New("analytics retry budget exhausted")
	// ErrUnexpected wraps serialization and setup failures caught at the batch boundary.
	ErrUnexpected = errors.New("analytics unexpected error")
	// ErrWorkerPanic indicates a dispatcher worker panic.
	ErrWorkerPanic = errors.New("analytics worker panic")
)

// APIError describes a non-success response from the ingestion endpoint.
type APIError struct {
	StatusCode int
	Message    string
}

// Error implements error.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("analytics: endpoint responded with status %d", e.StatusCode)
	}

	return fmt.Sprintf("analytics: endpoint responded with status %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps the status onto ErrTransient or ErrClientRejection.
func (e *APIError) Unwrap() error {
	if isRetryableStatus(e.StatusCode) {
		return ErrTransient
	}

	return ErrClientRejection
}
