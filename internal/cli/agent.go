package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/DylanCkawalec/warp-engine/pkg/models"
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage agents",
	}
	cmd.AddCommand(newAgentCreateCmd())
	cmd.AddCommand(newAgentListCmd())
	cmd.AddCommand(newAgentShowCmd())
	cmd.AddCommand(newAgentRunCmd())
	cmd.AddCommand(newAgentDeleteCmd())
	return cmd
}

func newAgentCreateCmd() *cobra.Command {
	var (
		name        string
		description string
		prompt      string
		plan        string
		execute     string
		refine      string
		replace     bool
		wait        bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an agent from a free-text prompt or explicit phase prompts",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return errors.New("--name is required")
			}
			api, err := apiClient(cmd)
			if err != nil {
				return err
			}
			resp, err := api.Command(cmd.Context(), models.CommandCreateAgent, map[string]string{
				"name":        name,
				"description": description,
				"prompt":      prompt,
				"plan":        plan,
				"execute":     execute,
				"refine":      refine,
				"replace":     fmt.Sprintf("%t", replace),
			})
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
	cmd.Flags().StringVar(&name, "name", "", "Agent name")
	cmd.Flags().StringVar(&description, "description", "", "What the agent is for")
	cmd.Flags().StringVar(&prompt, "prompt", "", "Free-text intent; refined into phase prompts")
	cmd.Flags().StringVar(&plan, "plan", "", "Explicit plan prompt (skips refinement with --execute and --refine)")
	cmd.Flags().StringVar(&execute, "execute", "", "Explicit execute prompt")
	cmd.Flags().StringVar(&refine, "refine", "", "Explicit refine prompt")
	cmd.Flags().BoolVar(&replace, "replace", false, "Overwrite an existing agent with the same slug")
	cmd.Flags().BoolVar(&wait, "wait", true, "Wait for the job to finish")
	return cmd
}

func newAgentListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := apiClient(cmd)
			if err != nil {
				return err
			}
			agents, err := api.ListAgents(cmd.Context())
			if err != nil {
				return err
			}
			if len(agents) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No agents.")
				return nil
			}
			for _, a := range agents {
				desc := a.Description
				if desc != "" {
					desc = " — " + desc
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s (%s)%s\n", a.Slug, a.Name, desc)
			}
			return nil
		},
	}
	return cmd
}

func newAgentShowCmd() *cobra.Command {
	var stages bool
	cmd := &cobra.Command{
		Use:   "show <slug>",
		Short: "Show one agent, optionally with its creation chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := apiClient(cmd)
			if err != nil {
				return err
			}
			a, err := api.GetAgent(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "%s (%s)\n", a.Slug, a.Name)
			if a.Description != "" {
				_, _ = fmt.Fprintf(out, "  %s\n", a.Description)
			}
			_, _ = fmt.Fprintf(out, "  entry: %s\n", a.Entry)
			_, _ = fmt.Fprintf(out, "  plan:    %s\n", a.Prompts.Plan)
			_, _ = fmt.Fprintf(out, "  execute: %s\n", a.Prompts.Execute)
			_, _ = fmt.Fprintf(out, "  refine:  %s\n", a.Prompts.Refine)
			if !stages {
				return nil
			}
			chain, err := api.AgentStages(cmd.Context(), a.Slug)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(out, "  stages:")
			for _, s := range chain {
				_, _ = fmt.Fprintf(out, "    %s  %s\n", s.CreatedAt.Format(time.RFC3339), s.Tag)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&stages, "stages", false, "Include the creation chain")
	return cmd
}

func newAgentRunCmd() *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "run <slug>",
		Short: "Run an agent through its completion chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := input
			if text == "" {
				// Read input from stdin when not given as a flag.
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				text = strings.TrimSpace(string(b))
			}
			api, err := apiClient(cmd)
			if err != nil {
				return err
			}
			resp, err := api.Command(cmd.Context(), models.CommandRunAgent, map[string]string{
				"agent": args[0],
				"input": text,
			})
			if err != nil {
				return err
			}
			return waitForJob(cmd, resp.JobID)
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "Input text (default: read stdin)")
	return cmd
}

func newAgentDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <slug>",
		Short: "Delete an agent and its generated artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := apiClient(cmd)
			if err != nil {
				return err
			}
			resp, err := api.Command(cmd.Context(), models.CommandDeleteAgent, map[string]string{
				"agent": args[0],
			})
			if err != nil {
				return err
			}
			return waitForJob(cmd, resp.JobID)
		},
	}
	return cmd
}

// waitForJob polls the job until it reaches a terminal status, then
// prints its result or error.
func waitForJob(cmd *cobra.Command, jobID string) error {
	api, err := apiClient(cmd)
	if err != nil {
		return err
	}
	for {
		job, err := api.GetJob(cmd.Context(), jobID)
		if err != nil {
			return err
		}
		switch job.Status {
		case models.StatusCompleted:
			if job.Result != "" {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), job.Result)
			}
			return nil
		case models.StatusFailed:
			return fmt.Errorf("job %s failed: %s", jobID, job.Error)
		case models.StatusCancelled:
			return fmt.Errorf("job %s was cancelled", jobID)
		}
		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}
