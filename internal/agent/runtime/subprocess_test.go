package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSubprocessRuntime_Name(t *testing.T) {
	r := SubprocessRuntime{}
	if r.Name() != "subprocess" {
		t.Errorf("Name: got %q", r.Name())
	}
}

func TestSubprocessRuntime_Run_emptyEntry(t *testing.T) {
	r := SubprocessRuntime{}
	ctx := context.Background()
	_, err := r.Run(ctx, RunRequest{}, func(Event) {})
	if err == nil {
		t.Fatal("expected error when entry empty")
	}
}

func TestSubprocessRuntime_Run_echoScript(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "agent.sh")
	// Script: read JSON from stdin, echo one event line plus a plain output line
	content := `#!/bin/sh
read line
echo '{"type":"agent_activity","timestamp":"2020-01-01T00:00:00Z","data":{"output":"ok"}}'
echo 'final answer'
`
	if err := os.WriteFile(script, []byte(content), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	r := SubprocessRuntime{Timeout: 5 * time.Second}
	ctx := context.Background()
	var emitted Event
	result, err := r.Run(ctx, RunRequest{Agent: "a1", JobID: "j1", Input: "hello", Entry: script}, func(ev Event) {
		emitted = ev
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if emitted.Type != "agent_activity" {
		t.Errorf("emitted event type: %q", emitted.Type)
	}
	if out, _ := emitted.Data["output"].(string); out != "ok" {
		t.Errorf("emitted event data: %+v", emitted.Data)
	}
	if result.Output != "final answer" {
		t.Errorf("result output: %q", result.Output)
	}
}

func TestSubprocessRuntime_Run_contextCancel(t *testing.T) {
	// Use a script that sleeps so we can cancel
	dir := t.TempDir()
	script := filepath.Join(dir, "sleep.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nsleep 10\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	r := SubprocessRuntime{Timeout: time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately
	_, err := r.Run(ctx, RunRequest{Entry: script}, func(Event) {})
	if err == nil && ctx.Err() == nil {
		t.Log("Run with cancelled context may still start the process; defer kills it")
	}
}
