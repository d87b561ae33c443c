package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/waldiez/runner/internal/supervisor"
	"github.com/waldiez/runner/internal/task"
)

// SupervisorRunner adapts internal/supervisor to the Runner interface,
// additionally owning the max-duration timer and reacting to an external
// Cancel() transition on the task's actor by delivering the corresponding
// OS signal, per §4.8. The Cancellation Controller's role is limited to
// calling actor.Cancel() (or letting the max-duration timer fire here) and
// publishing the informational control-topic message (internal/cancelctl);
// this runner is the one component that actually holds the live
// supervisor.Handle, so it is the natural place to translate a recorded
// cancellation into SIGTERM/SIGKILL delivery.
type SupervisorRunner struct {
	streamEndpoint string
	sink           supervisor.Sink
}

// NewSupervisorRunner constructs a SupervisorRunner. streamEndpoint is
// passed to every launched child as RUNNER_STREAM_ENDPOINT; sink is the
// Mediator that receives the child's stdout envelopes.
func NewSupervisorRunner(streamEndpoint string, sink supervisor.Sink) *SupervisorRunner {
	return &SupervisorRunner{streamEndpoint: streamEndpoint, sink: sink}
}

var _ Runner = (*SupervisorRunner)(nil)

// Run launches the flow, waits for a terminal outcome, and interprets it,
// per §4.3's exit-status mapping and §4.8's cancel/timeout mechanism.
func (r *SupervisorRunner) Run(ctx context.Context, record *task.Record, flow []byte, actor *task.Actor) RunResult {
	handle, err := supervisor.Launch(ctx, record, flow, r.streamEndpoint, r.sink)
	if err != nil {
		return RunResult{Status: task.StatusFailed, Reason: task.ReasonInfrastructure, Diagnostic: err.Error()}
	}

	var cancelling, timedOut atomic.Bool
	exited := make(chan struct{})

	events, unsubscribe := actor.Subscribe()
	defer unsubscribe()
	go func() {
		for evt := range events {
			switch evt.To {
			case task.StatusCancelled:
				cancelling.Store(true)
			case task.StatusFailed, task.StatusCompleted:
				// The actor reached a terminal state out-of-band — e.g. the
				// Mediator failing it for a protocol violation — while the
				// child is still running. It must still be terminated so it
				// doesn't outlive its task as an orphan.
			default:
				continue
			}
			handle.TerminateWithGrace(exited)
			return
		}
	}()

	var maxDurTimer *time.Timer
	if record.MaxDurationSeconds > 0 {
		maxDurTimer = time.AfterFunc(time.Duration(record.MaxDurationSeconds)*time.Second, func() {
			timedOut.Store(true)
			handle.TerminateWithGrace(exited)
		})
	}

	result := handle.Wait(&cancelling, &timedOut)
	close(exited)
	if maxDurTimer != nil {
		maxDurTimer.Stop()
	}

	return RunResult{
		Status:     result.Status,
		Reason:     result.Reason,
		Diagnostic: result.Diagnostic,
		WorkDir:    handle.WorkDir(),
	}
}
