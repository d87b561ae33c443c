// Package cancelctl implements the Cancellation & Timeout Controller (C8)'s
// administrator/API-triggered path, per §4.8. The actual OS signal delivery
// for both explicit cancellation and the max-duration timeout is owned by
// internal/scheduler.SupervisorRunner, which already holds the live
// supervisor.Handle and observes the task's own actor transitions; this
// package's job is the externally-triggered half: transition the actor to
// CANCELLED and publish the informational control-topic message the
// WebSocket Gateway and any other ctl-topic subscriber can observe.
package cancelctl

import (
	"context"
	"time"

	"github.com/waldiez/runner/internal/bus"
	"github.com/waldiez/runner/internal/envelope"
	"github.com/waldiez/runner/internal/task"
)

// Controller is the Cancellation Controller collaborator.
type Controller struct {
	registry *task.Registry
	bus      bus.Bus
}

// New constructs a Controller. bus may be nil, in which case Cancel skips
// the control-topic publication (useful for tests exercising only the
// actor-transition side).
func New(registry *task.Registry, b bus.Bus) *Controller {
	return &Controller{registry: registry, bus: b}
}

// Cancel moves taskID to CANCELLED, idempotently, and publishes an
// informational status envelope on its control topic, per §4.8. It returns
// the resulting record. A task not currently registered (already released
// after a terminal transition) is reported as KindNotFound by Lookup.
func (c *Controller) Cancel(ctx context.Context, taskID string) (*task.Record, error) {
	actor, err := c.registry.Lookup(taskID)
	if err != nil {
		return nil, err
	}

	record, err := actor.Cancel()
	if err != nil {
		return nil, err
	}

	if c.bus != nil {
		env := envelope.Status(taskID, time.Now().UnixMilli(), map[string]string{"status": string(record.Status)})
		_ = c.bus.Publish(ctx, bus.ControlTopic(taskID), env)
	}

	return record, nil
}
