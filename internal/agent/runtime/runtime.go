// Package runtime abstracts how a registered agent executes one run.
// The chain runtime drives the remote completion chain; the subprocess
// runtime hands the run to the agent's compiled entry binary.
package runtime

import (
	"context"
	"time"
)

// Event is one observable step of an agent run. Events become job log
// lines and realtime notifications.
type Event struct {
	Type      string         `json:"type"`
	Agent     string         `json:"agent,omitempty"`
	JobID     string         `json:"job_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// RunRequest identifies the agent, the job driving the run, and the
// input text. Entry is the agent's entry binary for subprocess runs.
type RunRequest struct {
	Agent string
	JobID string
	Input string
	Entry string
}

type RunResult struct {
	Output string
}

type Runtime interface {
	Name() string
	Run(ctx context.Context, req RunRequest, emit func(Event)) (RunResult, error)
}
