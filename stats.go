package analytics

import "sync/atomic"

// Statistics counts actions across the lifetime of a client.
//
// Once all in-flight work settles, Submitted == Succeeded + Failed.
type Statistics struct {
	submitted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Statistics.
type StatsSnapshot struct {
	Submitted int64
	Succeeded int64
	Failed    int64
}

// Submitted returns the number of actions accepted by the queue.
func (s *Statistics) Submitted() int64 {
	return s.submitted.Load()
}

// Succeeded returns the number of delivered actions.
func (s *Statistics) Succeeded() int64 {
	return s.succeeded.Load()
}

// Failed returns the number of actions that reached a failure outcome.
func (s *Statistics) Failed() int64 {
	return s.failed.Load()
}

// Snapshot returns the current counter values. An action is counted as
// submitted before a worker can see it, and the settled counters are read
// first, so Succeeded + Failed never exceeds Submitted in a snapshot.
func (s *Statistics) Snapshot() StatsSnapshot {
	succeeded := s.succeeded.Load()
	failed := s.failed.Load()

	return StatsSnapshot{
		Submitted: s.submitted.Load(),
		Succeeded: succeeded,
		Failed:    failed,
	}
}

func (s *Statistics) addSubmitted(n int) {
	s.submitted.Add(int64(n))
}

func (s *Statistics) addSucceeded(n int) {
	s.succeeded.Add(int64(n))
}

func (s *Statistics) addFailed(n int) {
	s.failed.Add(int64(n))
}
