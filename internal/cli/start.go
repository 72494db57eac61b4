package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/DylanCkawalec/warp-engine/internal/config"
	"github.com/DylanCkawalec/warp-engine/internal/daemon"
)

func newStartCmd() *cobra.Command {
	var (
		port        int
		foreground  bool
		workers     int
		dev         bool
		pprofAddr   string
		runtimeKind string
		sandbox     bool
		envFile     string
		dbDriver    string
		dbURL       string
		apiBase     string
		enableOtel  bool
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the Warp Engine daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				if err := loadEnvFile(envFile); err != nil {
					return err
				}
			}
			home := config.MustHomeFrom(cmd.Context())

			opts := daemon.StartOptions{
				Home:          home,
				Port:          port,
				Workers:       workers,
				Dev:           dev,
				PprofAddr:     pprofAddr,
				Runtime:       runtimeKind,
				SandboxAgents: sandbox,
				DBDriver:      dbDriver,
				DBURL:         dbURL,
				APIBase:       apiBase,
				EnableOtel:    enableOtel,
			}

			addr := fmt.Sprintf("http://127.0.0.1:%d", port)

			if foreground {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Starting Warp Engine in foreground on %s\n", addr)
				return daemon.StartForeground(cmd.Context(), opts)
			}

			pid, err := daemon.StartBackground(cmd.Context(), opts)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Warp Engine started (pid %d)\n", pid)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "API: %s\n", addr)
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 8787, "Port for the HTTP API")
	cmd.Flags().BoolVar(&foreground, "foreground", false, "Run in foreground (do not daemonize)")
	cmd.Flags().IntVar(&workers, "workers", 4, "Job queue worker pool size")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable dev mode (CORS for local tooling)")
	cmd.Flags().StringVar(&pprofAddr, "pprof", "", "Enable pprof on address (e.g. 127.0.0.1:6060)")
	cmd.Flags().StringVar(&runtimeKind, "runtime", "chain", "Agent runtime: chain, stub, or subprocess")
	cmd.Flags().BoolVar(&sandbox, "sandbox", false, "Run subprocess agents inside bubblewrap (Linux only)")
	cmd.Flags().StringVar(&envFile, "env-file", "", "Load env vars from file (KEY=VALUE per line) before starting")
	cmd.Flags().StringVar(&dbDriver, "db-driver", "sqlite", "Store driver: sqlite or postgres")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "DB connection string (for postgres; or set DATABASE_URL)")
	cmd.Flags().StringVar(&apiBase, "api-base", "", "Completion API base URL (or set WARP_ENGINE_API_BASE)")
	cmd.Flags().BoolVar(&enableOtel, "otel", true, "Enable OpenTelemetry metrics (Prometheus exporter, HTTP/SSE/job instrumentation)")

	return cmd
}

func loadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		i := strings.Index(line, "=")
		if i <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:i])
		value := strings.TrimSpace(line[i+1:])
		if key != "" {
			_ = os.Setenv(key, value)
		}
	}
	return sc.Err()
}
