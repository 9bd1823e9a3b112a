package analytics

import (
	"sync"
	"sync/atomic"
)

// SuccessFunc observes an action that was delivered.
type SuccessFunc func(action Action)

// FailureFunc observes an action that reached a failure outcome.
type FailureFunc func(action Action, err error)

// Notifier fans terminal outcomes out to registered observers.
//
// Callbacks run on the dispatcher goroutine that settled the batch, once per
// action and in registration order. A panicking callback is logged and
// skipped.
type Notifier struct {
	mu      sync.Mutex
	success atomic.Pointer[[]SuccessFunc]
	failure atomic.Pointer[[]FailureFunc]
	logger  Logger
}

// NewNotifier creates an empty Notifier.
func NewNotifier(logger Logger) *Notifier {
	if logger == nil {
		logger = NopLogger{}
	}

	return &Notifier{logger: logger}
}

// OnSuccess registers fn for delivered actions.
func (n *Notifier) OnSuccess(fn SuccessFunc) {
	if fn == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	n.success.Store(appendCopy(n.success.Load(), fn))
}

// OnFailure registers fn for failed actions.
func (n *Notifier) OnFailure(fn FailureFunc) {
	if fn == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	n.failure.Store(appendCopy(n.failure.Load(), fn))
}

func (n *Notifier) notifySuccess(actions []Action) {
	callbacks := n.success.Load()
	if callbacks == nil {
		return
	}
	for _, action := range actions {
		for i, fn := range *callbacks {
			n.guard("success", i, action, func() { fn(action) })
		}
	}
}

func (n *Notifier) notifyFailure(failures []Failure) {
	callbacks := n.failure.Load()
	if callbacks == nil {
		return
	}
	for _, failure := range failures {
		for i, fn := range *callbacks {
			n.guard("failure", i, failure.Action, func() { fn(failure.Action, failure.Err) })
		}
	}
}

func (n *Notifier) guard(kind string, index int, action Action, call func()) {
	defer func() {
		if rec := recover(); rec != nil {
			n.logger.Error("analytics callback panic",
				"callback", kind, "index", index, "message_id", action.MessageID(), "panic", rec)
		}
	}()

	call()
}

func appendCopy[T any](current *[]T, fn T) *[]T {
	var next []T
	if current != nil {
		next = make([]T, 0, len(*current)+1)
		next = append(next, *current...)
	}
	next = append(next, fn)

	return &next
}
