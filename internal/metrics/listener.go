package metrics

import "github.com/waldiez/runner/internal/events"

// Listener records runner events as Prometheus metrics. It implements the
// events.Listener signature and should be registered with an events.Bus
// using SubscribeAll.
type Listener struct{}

// NewListener creates a new Listener.
func NewListener() *Listener {
	return &Listener{}
}

// Handle processes an event and records the relevant metrics.
func (l *Listener) Handle(event *events.Event) {
	switch event.Type {
	case events.TaskDispatched:
		RecordTaskDispatched()
	case events.TaskCompleted, events.TaskFailed, events.TaskCancelled:
		l.handleTerminated(event)
	case events.QueueDepth:
		l.handleQueueDepth(event)
	case events.EnvelopeDropped:
		l.handleEnvelopeDropped(event)
	case events.TaskSubmitted:
		// No metric recorded at submission time; tasks_active tracks
		// dispatch-to-terminal, not queue residency.
	}
}

func (l *Listener) handleTerminated(event *events.Event) {
	data, ok := event.Data.(events.TaskTerminatedData)
	if !ok {
		return
	}
	RecordTaskTerminated(data.Reason, data.Duration.Seconds())
}

func (l *Listener) handleQueueDepth(event *events.Event) {
	data, ok := event.Data.(events.QueueDepthData)
	if !ok {
		return
	}
	RecordQueueDepth(data.Depth)
}

func (l *Listener) handleEnvelopeDropped(event *events.Event) {
	data, ok := event.Data.(events.EnvelopeDroppedData)
	if !ok {
		return
	}
	RecordEnvelopeDropped(data.EnvelopeType, data.Reason)
}

// EventsListener returns an events.Listener function that can be registered with
// an events.Bus via SubscribeAll.
func (l *Listener) EventsListener() events.Listener {
	return l.Handle
}
