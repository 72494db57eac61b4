package runtime

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/DylanCkawalec/warp-engine/internal/sandbox"
)

// SubprocessRuntime runs the agent's entry binary: stdin carries a JSON
// RunRequest, stdout is NDJSON events, one per line. Lines that do not
// parse as events accumulate into the run output. If SandboxHome is set
// and bubblewrap is available on Linux, the process runs inside a
// minimal bwrap sandbox with writes restricted to AgentDir.
type SubprocessRuntime struct {
	Args        []string      // extra args passed to the entry binary
	Timeout     time.Duration // 0 = use context only
	SandboxHome string        // if set, run the entry inside bubblewrap
	AgentDir    string        // if set with SandboxHome, the only writable dir
}

func (r SubprocessRuntime) Name() string { return "subprocess" }

func (r SubprocessRuntime) Run(ctx context.Context, req RunRequest, emit func(Event)) (RunResult, error) {
	if req.Entry == "" {
		return RunResult{}, errors.New("agent entry binary is required")
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	cmd := sandbox.WrapCommand(ctx, r.SandboxHome, r.AgentDir, req.Entry, r.Args)

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return RunResult{}, err
	}
	cmd.Stdin = strings.NewReader(string(reqJSON) + "\n")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return RunResult{}, err
	}
	if err := cmd.Start(); err != nil {
		return RunResult{}, err
	}
	defer func() {
		if ctx.Err() != nil && cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		if err := cmd.Wait(); err != nil {
			slog.Warn("agent subprocess exited with error", "agent", req.Agent, "err", err)
		}
	}()

	var output strings.Builder
	sc := bufio.NewScanner(stdout)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			output.WriteString(line)
			output.WriteString("\n")
			continue
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now().UTC()
		}
		emit(ev)
	}
	if err := sc.Err(); err != nil {
		return RunResult{}, err
	}
	return RunResult{Output: strings.TrimSpace(output.String())}, nil
}
