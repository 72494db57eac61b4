package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DylanCkawalec/warp-engine/pkg/models"
)

func newJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect and manage jobs",
	}
	cmd.AddCommand(newJobSubmitCmd())
	cmd.AddCommand(newJobListCmd())
	cmd.AddCommand(newJobGetCmd())
	cmd.AddCommand(newJobLogsCmd())
	cmd.AddCommand(newJobCancelCmd())
	cmd.AddCommand(newJobChainCmd())
	return cmd
}

func newJobSubmitCmd() *cobra.Command {
	var (
		command string
		params  []string
		wait    bool
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a raw command to the job queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			if command == "" {
				return fmt.Errorf("--command is required")
			}
			p := make(map[string]string, len(params))
			for _, kv := range params {
				k, v, ok := splitKV(kv)
				if !ok {
					return fmt.Errorf("invalid --param %q, want key=value", kv)
				}
				p[k] = v
			}
			api, err := apiClient(cmd)
			if err != nil {
				return err
			}
			resp, err := api.Command(cmd.Context(), command, p)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Job %s accepted\n", resp.JobID)
			if !wait {
				return nil
			}
			return waitForJob(cmd, resp.JobID)
		},
	}
	cmd.Flags().StringVar(&command, "command", "", "Command name (e.g. run_agent)")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Command parameter as key=value (repeatable)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the job to finish")
	return cmd
}

func newJobListCmd() *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := apiClient(cmd)
			if err != nil {
				return err
			}
			jobs, err := api.ListJobs(cmd.Context(), status, limit)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No jobs.")
				return nil
			}
			for _, j := range jobs {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s  %-10s %3d%%  %s\n", j.JobID, j.Status, j.Progress, j.Command)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pending, running, completed, failed, cancelled)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of jobs (0 = server default)")
	return cmd
}

func newJobGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := apiClient(cmd)
			if err != nil {
				return err
			}
			j, err := api.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "%s  %s (%s, %d%%)\n", j.JobID, j.Command, j.Status, j.Progress)
			if j.Result != "" {
				_, _ = fmt.Fprintf(out, "result: %s\n", j.Result)
			}
			if j.Error != "" {
				_, _ = fmt.Fprintf(out, "error: %s\n", j.Error)
			}
			return nil
		},
	}
	return cmd
}

func newJobLogsCmd() *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "logs <job-id>",
		Short: "Print a job's log lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := apiClient(cmd)
			if err != nil {
				return err
			}
			if follow {
				status, err := api.FollowJobLogs(cmd.Context(), args[0], func(line string) {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), line)
				})
				if err != nil {
					return err
				}
				if status != models.StatusCompleted {
					return fmt.Errorf("job %s finished %s", args[0], status)
				}
				return nil
			}
			logs, err := api.JobLogs(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, line := range logs {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream new log lines until the job finishes")
	return cmd
}

func newJobCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := apiClient(cmd)
			if err != nil {
				return err
			}
			cancelled, err := api.CancelJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !cancelled {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Job already finished")
				return nil
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
			return nil
		},
	}
	return cmd
}

func newJobChainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chain <job-id>",
		Short: "Show the chain execution record for a run_agent job",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one job id")
			}
			api, err := apiClient(cmd)
			if err != nil {
				return err
			}
			rec, err := api.ChainRecord(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "job %s  agent %s\n", rec.JobID, rec.AgentSlug)
			for _, p := range rec.Phases {
				_, _ = fmt.Fprintf(out, "  %-8s %s -> %d chars\n", p.Name, p.StartedAt.Format("15:04:05.000"), len(p.Output))
			}
			_, _ = fmt.Fprintf(out, "final (%d words, reading ease %.1f):\n%s\n",
				rec.Metrics.Words, rec.Metrics.ReadingEase, rec.Final)
			return nil
		},
	}
	return cmd
}

func splitKV(s string) (key, value string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			if i == 0 {
				return "", "", false
			}
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
