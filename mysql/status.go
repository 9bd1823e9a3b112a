package mysql

// Status represents the lifecycle state of an archived action.
type Status int16

const (
	// StatusPending marks an action that failed delivery and awaits replay.
	StatusPending Status = 0
	// StatusReplayed marks an action that was handed back to a client.
	StatusReplayed Status = 1
	// StatusDiscarded marks an action that cannot be replayed.
	StatusDiscarded Status = -1
)
