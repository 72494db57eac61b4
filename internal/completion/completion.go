// Package completion is the boundary to the external completion service
// used for plan, execute, and refine phases. Callers see a single
// Complete call; transport, auth, and retry live behind it.
package completion

import (
	"context"
	"fmt"
	"os"
)

// ModeHighReasoning is the default completion mode.
const ModeHighReasoning = "high_reasoning"

// Request is one completion call.
type Request struct {
	JobID   string            `json:"job_id"`
	Agent   string            `json:"agent"`
	Input   string            `json:"input"`
	Context map[string]string `json:"context"`
	Mode    string            `json:"mode"`
}

// Response is the completion service reply.
type Response struct {
	ID     string `json:"id"`
	Output string `json:"output"`
	Agent  string `json:"agent,omitempty"`
}

// Client produces a completion for a request. Implementations must be
// safe for concurrent use.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Func adapts a function to the Client interface.
type Func func(ctx context.Context, req Request) (string, error)

// Complete calls f.
func (f Func) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// RequestError reports a rejected request (HTTP 4xx). Retrying the same
// request will not help.
type RequestError struct {
	Status int
	Msg    string
}

func (e *RequestError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("completion rejected (status %d): %s", e.Status, e.Msg)
	}
	return fmt.Sprintf("completion rejected (status %d)", e.Status)
}

// TransientError reports a failure that may succeed on retry: a 5xx
// response or a transport error.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("completion transient failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// BaseURLFromEnv returns the configured completion endpoint base,
// defaulting to the local development address.
func BaseURLFromEnv() string {
	if base := os.Getenv("WARP_ENGINE_API_BASE"); base != "" {
		return base
	}
	return "http://localhost:7001"
}

// APIKeyFromEnv returns the bearer token for the completion service,
// empty when unauthenticated.
func APIKeyFromEnv() string {
	return os.Getenv("WARP_ENGINE_API_KEY")
}
