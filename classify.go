package analytics

import "net/http"

// AttemptResult is the classification of a single send attempt.
type AttemptResult int

const (
	// AttemptSucceeded ends the retry loop with a success.
	AttemptSucceeded AttemptResult = iota
	// AttemptRetry schedules another attempt after a backoff wait.
	AttemptRetry
	// AttemptRejected ends the retry loop with a terminal failure.
	AttemptRejected
)

func (r AttemptResult) String() string {
	switch r {
	case AttemptSucceeded:
		return "succeeded"
	case AttemptRetry:
		return "retry"
	case AttemptRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// StatusClassifier decides the outcome of an attempt from its HTTP status.
// err is non-nil when no response was received; status is then zero.
type StatusClassifier func(status int, err error) AttemptResult

// DefaultStatusClassifier accepts 200, retries network errors, 429 and 5xx,
// and rejects everything else.
func DefaultStatusClassifier(status int, err error) AttemptResult {
	if err != nil {
		return AttemptRetry
	}
	if status == http.StatusOK {
		return AttemptSucceeded
	}
	if isRetryableStatus(status) {
		return AttemptRetry
	}

	return AttemptRejected
}

func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status < 600)
}
