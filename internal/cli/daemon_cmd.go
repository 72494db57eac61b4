package cli

import (
	"github.com/spf13/cobra"

	"github.com/DylanCkawalec/warp-engine/internal/config"
	"github.com/DylanCkawalec/warp-engine/internal/daemon"
)

func newDaemonCmd() *cobra.Command {
	var (
		port        int
		workers     int
		dev         bool
		pprofAddr   string
		runtimeKind string
		sandbox     bool
		dbDriver    string
		dbURL       string
		apiBase     string
		enableOtel  bool
	)

	cmd := &cobra.Command{
		Use:    "daemon",
		Short:  "Internal: run daemon process",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			return daemon.StartForeground(cmd.Context(), daemon.StartOptions{
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
			})
		},
	}

	cmd.Flags().IntVar(&port, "port", 8787, "Port for the HTTP API")
	cmd.Flags().IntVar(&workers, "workers", 4, "Job queue worker pool size")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable dev mode")
	cmd.Flags().StringVar(&pprofAddr, "pprof", "", "Enable pprof on address (e.g. 127.0.0.1:6060)")
	cmd.Flags().StringVar(&runtimeKind, "runtime", "chain", "Agent runtime: chain, stub, or subprocess")
	cmd.Flags().BoolVar(&sandbox, "sandbox", false, "Run subprocess agents inside bubblewrap")
	cmd.Flags().StringVar(&dbDriver, "db-driver", "sqlite", "Store driver: sqlite or postgres")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "DB connection string (for postgres)")
	cmd.Flags().StringVar(&apiBase, "api-base", "", "Completion API base URL")
	cmd.Flags().BoolVar(&enableOtel, "otel", true, "Enable OpenTelemetry metrics")

	return cmd
}
