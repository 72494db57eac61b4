package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/DylanCkawalec/warp-engine/internal/config"
	"github.com/DylanCkawalec/warp-engine/internal/daemon"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show Warp Engine daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			st, err := daemon.Status(cmd.Context(), home)
			if err != nil {
				return err
			}
			if !st.Running {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Warp Engine not running")
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Warp Engine running (pid %d, addr %s)\n", st.PID, st.Addr)

			// Job counts from the API, best effort.
			api, err := apiClient(cmd)
			if err != nil {
				return nil
			}
			status, err := api.Status(cmd.Context())
			if err != nil {
				return nil
			}
			statuses := make([]string, 0, len(status.Jobs))
			for s := range status.Jobs {
				statuses = append(statuses, s)
			}
			sort.Strings(statuses)
			for _, s := range statuses {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  jobs %s: %d\n", s, status.Jobs[s])
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  stream connections: %d\n", status.Connections)
			return nil
		},
	}
	return cmd
}
