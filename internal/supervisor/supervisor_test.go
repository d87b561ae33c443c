package supervisor_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/waldiez/runner/internal/envelope"
	"github.com/waldiez/runner/internal/supervisor"
	"github.com/waldiez/runner/internal/task"
)

type capturingSink struct {
	mu   sync.Mutex
	envs []envelope.Envelope
}

func (s *capturingSink) HandleChildEnvelope(_ context.Context, env envelope.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envs = append(s.envs, env)
	return nil
}

func (s *capturingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.envs)
}

const helloScript = "#!/bin/sh\n" +
	`echo '{"type":"print","task_id":"t1","timestamp":1,"data":"hello"}'` + "\n" +
	"exit 0\n"

func TestLaunch_HappyPathExitsZero(t *testing.T) {
	record := &task.Record{ID: "t1", ClientID: "c1", Status: task.StatusRunning, CreatedAt: time.Now()}
	sink := &capturingSink{}

	h, err := supervisor.Launch(context.Background(), record, []byte(helloScript), "redis://localhost:6379", sink)
	require.NoError(t, err)

	result := h.Wait(&atomic.Bool{}, &atomic.Bool{})
	require.Equal(t, task.StatusCompleted, result.Status)
	require.Eventually(t, func() bool { return sink.count() >= 1 }, time.Second, 10*time.Millisecond)
}

const failScript = "#!/bin/sh\nexit 3\n"

func TestLaunch_NonZeroExitIsFailed(t *testing.T) {
	record := &task.Record{ID: "t2", ClientID: "c1", Status: task.StatusRunning, CreatedAt: time.Now()}
	sink := &capturingSink{}

	h, err := supervisor.Launch(context.Background(), record, []byte(failScript), "redis://localhost:6379", sink)
	require.NoError(t, err)

	result := h.Wait(&atomic.Bool{}, &atomic.Bool{})
	require.Equal(t, task.StatusFailed, result.Status)
	// An ordinary non-zero exit carries no reason; reason=protocol is
	// reserved for Mediator-detected protocol violations.
	require.Equal(t, task.ReasonNone, result.Reason)
}
