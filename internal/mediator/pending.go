package mediator

import "time"

// pendingEntry is one row of the PendingInputTable (spec §3): at most one
// unresolved entry exists per task at any instant, enforced by Mediator
// keying this map by task id rather than request id.
type pendingEntry struct {
	requestID string
	taskID    string
	createdAt time.Time
	deadline  time.Time
	timer     *time.Timer
}

func (e *pendingEntry) stop() {
	if e.timer != nil {
		e.timer.Stop()
	}
}
