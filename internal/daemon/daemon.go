// Package daemon runs the engine: singleton lock, pid and addr files,
// store, job queue, and the HTTP API, with start/stop/status management
// for a detached background process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/DylanCkawalec/warp-engine/internal/builder"
	"github.com/DylanCkawalec/warp-engine/internal/chain"
	"github.com/DylanCkawalec/warp-engine/internal/completion"
	"github.com/DylanCkawalec/warp-engine/internal/config"
	"github.com/DylanCkawalec/warp-engine/internal/httpapi"
	"github.com/DylanCkawalec/warp-engine/internal/otel"
	"github.com/DylanCkawalec/warp-engine/internal/queue"
	"github.com/DylanCkawalec/warp-engine/internal/registry"
	"github.com/DylanCkawalec/warp-engine/internal/staging"
	"github.com/DylanCkawalec/warp-engine/internal/store"
	"github.com/DylanCkawalec/warp-engine/internal/store/postgres"
)

const defaultPort = 8787

var errNotRunning = errors.New("warp-engine is not running")

func StartForeground(ctx context.Context, opts StartOptions) error {
	if opts.Home == "" {
		return errors.New("home is required")
	}
	if opts.Port == 0 {
		opts.Port = defaultPort
	}

	// Ensure dirs exist.
	for _, dir := range []string{protectedDir(opts.Home), config.AgentsDir(opts.Home), config.BinDir(opts.Home)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	// Acquire singleton lock (released on exit).
	lock, err := acquireLock(lockPath(opts.Home))
	if err != nil {
		return err
	}
	defer lock.release()

	// Optional pprof.
	startPprof(opts.PprofAddr)

	var st store.Store
	if opts.DBDriver == "postgres" {
		st, err = postgres.Open(opts.DBURL)
	} else {
		st, err = store.Open(opts.Home)
	}
	if err != nil {
		return err
	}

	// Write PID + addr files.
	pid := os.Getpid()
	if err := os.WriteFile(pidPath(opts.Home), []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return err
	}
	addr := fmt.Sprintf("127.0.0.1:%d", opts.Port)
	_ = os.WriteFile(addrPath(opts.Home), []byte(addr+"\n"), 0o644)
	defer func() {
		_ = os.Remove(pidPath(opts.Home))
		_ = os.Remove(addrPath(opts.Home))
	}()

	// Early port check for clearer error.
	if err := checkPortAvailable(opts.Port); err != nil {
		return err
	}

	client := completion.NewHTTPClient(opts.APIBase, opts.APIKey)
	machine := staging.NewMachine(st, slog.Default())
	reg := registry.New(st, slog.Default())
	bld := builder.New(opts.Home, machine, reg, builder.NewRefiner(client, slog.Default()), slog.Default())
	runner := chain.NewRunner(client, slog.Default())

	q := queue.New(st, nil, slog.Default())
	q.Workers = opts.Workers
	registerCommands(q, &commandDeps{
		Home:     opts.Home,
		Store:    st,
		Builder:  bld,
		Runner:   runner,
		Registry: reg,
		Runtime:  opts.Runtime,
		Sandbox:  opts.SandboxAgents,
		Started:  time.Now(),
	})

	srvOpts := httpapi.ServerOptions{
		Home:     opts.Home,
		Addr:     addr,
		Dev:      opts.Dev,
		APIKey:   os.Getenv("WARP_ENGINE_DAEMON_KEY"),
		Store:    st,
		Queue:    q,
		Registry: reg,
	}
	if opts.EnableOtel {
		metricsHandler, err := otel.InitMeterProvider(ctx, "warp-engine")
		if err != nil {
			slog.Warn("otel init failed, using fallback metrics", "err", err)
		} else {
			srvOpts.MetricsHandler = metricsHandler
			srvOpts.UseOtelHTTP = true
		}
	}
	app, err := httpapi.NewApp(srvOpts)
	if err != nil {
		return err
	}
	// Stage transitions reach the realtime stream as they are written.
	machine.OnStage = func(stage store.Stage) {
		otel.RecordStageTransition(context.Background(), stage.Tag)
		app.Hub.PublishJSON(map[string]any{
			"type":     "stage_update",
			"stage_id": stage.StageID,
			"root_id":  stage.RootID,
			"tag":      stage.Tag,
		})
	}
	if opts.EnableOtel {
		_ = otel.InitMetricsWithJobCount(ctx, func() map[string]int64 {
			counts, err := app.Store.CountJobsByStatus(context.Background())
			if err != nil {
				return nil
			}
			out := make(map[string]int64, len(counts))
			for status, n := range counts {
				out[status] = int64(n)
			}
			return out
		})
	}

	slog.Info("daemon starting", "addr", addr, "home", opts.Home, "workers", q.Workers)
	errCh := make(chan error, 1)
	go func() {
		// Worker pool runs alongside the HTTP server and publishes job events.
		go func() {
			if err := q.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("queue stopped", "err", err)
			}
		}()
		errCh <- app.Server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = app.Server.Shutdown(shutdownCtx)
		_ = st.Close()
		return ctx.Err()
	case err := <-errCh:
		_ = st.Close()
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func StartBackground(ctx context.Context, opts StartOptions) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, err
	}

	// Ensure dirs exist before starting.
	if err := os.MkdirAll(protectedDir(opts.Home), 0o755); err != nil {
		return 0, err
	}

	// Best-effort: refuse to start if already running.
	if st, _ := Status(ctx, opts.Home); st.Running {
		return 0, fmt.Errorf("warp-engine already running (pid %d)", st.PID)
	}

	logFile := filepath.Join(protectedDir(opts.Home), "daemon.log")
	stderr, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	// Kept open for child lifetime; closing here may break writes on some platforms.

	args := []string{
		"daemon",
		"--home", opts.Home,
		"--port", strconv.Itoa(opts.Port),
		"--workers", strconv.Itoa(opts.Workers),
	}
	if opts.Dev {
		args = append(args, "--dev")
	}
	if opts.PprofAddr != "" {
		args = append(args, "--pprof", opts.PprofAddr)
	}
	if opts.Runtime != "" {
		args = append(args, "--runtime", opts.Runtime)
	}
	if opts.SandboxAgents {
		args = append(args, "--sandbox")
	}
	if opts.DBDriver != "" {
		args = append(args, "--db-driver", opts.DBDriver)
	}
	if opts.DBURL != "" {
		args = append(args, "--db-url", opts.DBURL)
	}
	if opts.APIBase != "" {
		args = append(args, "--api-base", opts.APIBase)
	}
	args = append(args, fmt.Sprintf("--otel=%t", opts.EnableOtel))

	cmd := exec.Command(exe, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr
	setDaemonSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return 0, err
	}

	// Wait briefly for pid file to appear or process to die.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st, _ := Status(ctx, opts.Home); st.Running {
			return st.PID, nil
		}
		time.Sleep(50 * time.Millisecond)
	}

	// Fallback to started pid even if status isn't ready yet.
	return cmd.Process.Pid, nil
}

func Stop(ctx context.Context, home string) (bool, error) {
	st, err := Status(ctx, home)
	if err != nil {
		return false, err
	}
	if !st.Running {
		return false, nil
	}

	proc, err := os.FindProcess(st.PID)
	if err != nil {
		// On unix FindProcess always succeeds; keep this for completeness.
		return false, errNotRunning
	}
	if err := signalTerm(proc); err != nil {
		return false, err
	}

	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if st2, _ := Status(ctx, home); !st2.Running {
			return true, nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	_ = proc.Kill()
	return true, nil
}

func Status(ctx context.Context, home string) (StatusInfo, error) {
	pb, err := os.ReadFile(pidPath(home))
	if err != nil {
		return StatusInfo{Running: false}, nil
	}
	pidStr := strings.TrimSpace(string(pb))
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return StatusInfo{Running: false}, nil
	}

	if !processExists(pid) {
		_ = os.Remove(pidPath(home))
		return StatusInfo{Running: false}, nil
	}

	addr := ""
	if ab, err := os.ReadFile(addrPath(home)); err == nil {
		addr = strings.TrimSpace(string(ab))
	}
	if addr == "" {
		addr = "unknown"
	}
	return StatusInfo{Running: true, PID: pid, Addr: addr}, nil
}

func checkPortAvailable(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return fmt.Errorf("port %d is already in use", port)
	}
	_ = ln.Close()
	return nil
}
