package runtime

import (
	"context"
	"strings"
	"time"
)

// StubRuntime is a deterministic local runtime that emits plausible
// events without calling the completion API or spawning subprocesses.
type StubRuntime struct{}

func (StubRuntime) Name() string { return "stub" }

func (StubRuntime) Run(ctx context.Context, req RunRequest, emit func(Event)) (RunResult, error) {
	emit(Event{
		Type:      "run_started",
		Agent:     req.Agent,
		JobID:     req.JobID,
		Timestamp: time.Now().UTC(),
	})

	sleep(ctx, 50*time.Millisecond)
	emit(Event{
		Type:      "agent_activity",
		Agent:     req.Agent,
		JobID:     req.JobID,
		Timestamp: time.Now().UTC(),
		Data: map[string]any{
			"phase":   "execute",
			"summary": "stub runtime simulated a run",
		},
	})

	sleep(ctx, 50*time.Millisecond)
	emit(Event{
		Type:      "run_ended",
		Agent:     req.Agent,
		JobID:     req.JobID,
		Timestamp: time.Now().UTC(),
	})

	return RunResult{Output: "stub: " + strings.TrimSpace(req.Input)}, nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return
	case <-t.C:
		return
	}
}
