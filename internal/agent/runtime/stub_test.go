package runtime

import (
	"context"
	"testing"
)

func TestStubRuntime_Name(t *testing.T) {
	var r StubRuntime
	if got := r.Name(); got != "stub" {
		t.Errorf("Name(): got %q, want stub", got)
	}
}

func TestStubRuntime_Run(t *testing.T) {
	ctx := context.Background()
	var r StubRuntime
	events := 0
	emit := func(ev Event) {
		events++
		if ev.Agent != "a1" || ev.JobID != "j1" {
			t.Errorf("event Agent/JobID: got %q/%q", ev.Agent, ev.JobID)
		}
		if ev.Timestamp.IsZero() {
			t.Error("event has zero timestamp")
		}
	}
	req := RunRequest{Agent: "a1", JobID: "j1", Input: "  hello  "}
	result, err := r.Run(ctx, req, emit)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Output != "stub: hello" {
		t.Errorf("Run Output: got %q", result.Output)
	}
	if events < 2 {
		t.Errorf("expected at least 2 events, got %d", events)
	}
}

func TestStubRuntime_Run_contextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var r StubRuntime
	_, err := r.Run(ctx, RunRequest{Agent: "a1", JobID: "j1", Input: "x"}, func(Event) {})
	if err != nil {
		t.Fatalf("Run with cancelled context: %v", err)
	}
}
