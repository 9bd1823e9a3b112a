package analytics

import "context"

// DeadLetterSink receives the failures of every batch that reached a terminal
// failure, after statistics and callbacks have been updated.
type DeadLetterSink interface {
	Store(ctx context.Context, failures []Failure) error
}

// DeadLetterSinkFunc adapts a function to DeadLetterSink.
type DeadLetterSinkFunc func(ctx context.Context, failures []Failure) error

// Store implements DeadLetterSink.
func (fn DeadLetterSinkFunc) Store(ctx context.Context, failures []Failure) error {
	return fn(ctx, failures)
}
