package cli

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/DylanCkawalec/warp-engine/internal/config"
	"github.com/DylanCkawalec/warp-engine/internal/store"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Verify runtime dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())

			var problems []string

			// Home must be creatable and writable for the store and agent artifacts.
			if err := os.MkdirAll(home, 0o755); err != nil {
				problems = append(problems, fmt.Sprintf("cannot create home %s: %v", home, err))
			} else {
				probe := filepath.Join(home, ".doctor-probe")
				if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
					problems = append(problems, fmt.Sprintf("home %s is not writable: %v", home, err))
				} else {
					_ = os.Remove(probe)
				}
			}

			// The store must migrate cleanly before the daemon can start.
			if err := store.EnsureSchema(home); err != nil {
				problems = append(problems, fmt.Sprintf("store schema: %v", err))
			}

			if os.Getenv("WARP_ENGINE_API_KEY") == "" {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "note: WARP_ENGINE_API_KEY is not set; completion requests will be unauthenticated")
			}
			if _, err := exec.LookPath("bwrap"); err != nil {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "note: bubblewrap not found; subprocess agents run unsandboxed")
			}

			if len(problems) > 0 {
				for _, p := range problems {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), p)
				}
				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	return cmd
}
