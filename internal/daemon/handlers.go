package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	agentrt "github.com/DylanCkawalec/warp-engine/internal/agent/runtime"
	"github.com/DylanCkawalec/warp-engine/internal/builder"
	"github.com/DylanCkawalec/warp-engine/internal/chain"
	"github.com/DylanCkawalec/warp-engine/internal/config"
	"github.com/DylanCkawalec/warp-engine/internal/otel"
	"github.com/DylanCkawalec/warp-engine/internal/queue"
	"github.com/DylanCkawalec/warp-engine/internal/registry"
	"github.com/DylanCkawalec/warp-engine/internal/store"
	"github.com/DylanCkawalec/warp-engine/pkg/models"
)

// commandDeps are the collaborators command handlers close over.
type commandDeps struct {
	Home     string
	Store    store.Store
	Builder  *builder.Builder
	Runner   *chain.Runner
	Registry *registry.Registry
	Runtime  string // "chain" (default), "stub", or "subprocess"
	Sandbox  bool
	Started  time.Time
}

// registerCommands binds every engine command to the queue.
func registerCommands(q *queue.Queue, deps *commandDeps) {
	q.Register(models.CommandCreateAgent, deps.createAgent)
	q.Register(models.CommandRunAgent, deps.runAgent)
	q.Register(models.CommandDeleteAgent, deps.deleteAgent)
	q.Register(models.CommandUpdateAgent, deps.updateAgent)
	q.Register(models.CommandListAgents, deps.listAgents)
	q.Register(models.CommandGetRegistry, deps.getRegistry)
	q.Register(models.CommandServerStatus, deps.serverStatus)
}

func (d *commandDeps) createAgent(ctx context.Context, job *store.Job, rep queue.Reporter) (string, error) {
	name := job.Params["name"]
	if name == "" {
		otel.RecordJobOp(ctx, "create_agent", job.Command, "rejected")
		return "", fmt.Errorf("param %q is required", "name")
	}
	rep.Progress(10, "creating agent "+name)

	res, err := d.Builder.Create(ctx, builder.CreateRequest{
		Name:        name,
		Description: job.Params["description"],
		Prompt:      job.Params["prompt"],
		Prompts: chain.Prompts{
			Plan:    job.Params["plan"],
			Execute: job.Params["execute"],
			Refine:  job.Params["refine"],
		},
		Replace: job.Params["replace"] == "true",
	})
	if err != nil {
		otel.RecordJobOp(ctx, "create_agent", job.Command, "failed")
		return "", err
	}
	rep.Progress(90, "agent registered as "+res.Agent.Slug)
	otel.RecordJobOp(ctx, "create_agent", job.Command, "ok")

	out, err := json.Marshal(map[string]string{
		"slug":          res.Agent.Slug,
		"entry":         res.Agent.Entry,
		"template":      res.TemplateType,
		"root_stage_id": res.RootStageID,
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (d *commandDeps) runAgent(ctx context.Context, job *store.Job, rep queue.Reporter) (string, error) {
	slug := job.Params["agent"]
	if slug == "" {
		return "", fmt.Errorf("param %q is required", "agent")
	}
	input := job.Params["input"]
	rec, err := d.Registry.Get(ctx, slug)
	if err != nil {
		otel.RecordJobOp(ctx, "run_agent", job.Command, "missing_agent")
		return "", fmt.Errorf("agent %s: %w", slug, err)
	}
	rep.Progress(5, "running agent "+rec.Slug)

	switch d.Runtime {
	case "stub", "subprocess":
		return d.runViaRuntime(ctx, job, rep, rec, input)
	}

	prompts := chain.Prompts{
		Plan:    rec.PlanPrompt,
		Execute: rec.ExecPrompt,
		Refine:  rec.RefinePrompt,
	}
	agentDir := filepath.Join(config.AgentsDir(d.Home), rec.Slug)
	if cfg, cfgErr := builder.LoadAgentConfig(agentDir); cfgErr == nil && cfg != nil {
		prompts.Mode = cfg.Mode
		if cfg.MaxInputBytes > 0 && len(input) > cfg.MaxInputBytes {
			input = input[:cfg.MaxInputBytes]
			rep.Log("input truncated to configured limit")
		}
	}

	record, err := d.Runner.Run(ctx, job.JobID, rec.Slug, input, prompts, rep.Progress)
	if err != nil {
		// Keep the phases that did complete inspectable alongside the failed job.
		if record != nil && len(record.Phases) > 0 {
			if perr := d.Store.PutChainRecord(context.WithoutCancel(ctx), *record); perr != nil {
				rep.Log("persist partial chain record: " + perr.Error())
			}
		}
		otel.RecordJobOp(ctx, "run_agent", job.Command, "failed")
		return "", err
	}
	for _, phase := range record.Phases {
		otel.RecordChainPhase(ctx, rec.Slug, phase.Name, phase.EndedAt.Sub(phase.StartedAt))
	}
	if err := d.Store.PutChainRecord(context.WithoutCancel(ctx), *record); err != nil {
		return "", fmt.Errorf("persist chain record: %w", err)
	}
	rep.Progress(99, "chain record persisted")
	otel.RecordJobOp(ctx, "run_agent", job.Command, "ok")
	return record.Final, nil
}

// runViaRuntime executes the agent through the pluggable runtime
// instead of the completion chain. Runtime events become job log lines.
func (d *commandDeps) runViaRuntime(ctx context.Context, job *store.Job, rep queue.Reporter, rec *store.AgentRecord, input string) (string, error) {
	var rt agentrt.Runtime = agentrt.StubRuntime{}
	if d.Runtime == "subprocess" {
		sub := agentrt.SubprocessRuntime{Timeout: 10 * time.Minute}
		if d.Sandbox {
			sub.SandboxHome = d.Home
			sub.AgentDir = filepath.Join(config.AgentsDir(d.Home), rec.Slug)
		}
		rt = sub
	}
	res, err := rt.Run(ctx, agentrt.RunRequest{
		Agent: rec.Slug,
		JobID: job.JobID,
		Input: input,
		Entry: rec.Entry,
	}, func(ev agentrt.Event) {
		line := ev.Type
		if s, ok := ev.Data["summary"].(string); ok && s != "" {
			line += ": " + s
		}
		rep.Log(line)
	})
	if err != nil {
		otel.RecordJobOp(ctx, "run_agent", job.Command, "failed")
		return "", fmt.Errorf("%s runtime: %w", rt.Name(), err)
	}
	otel.RecordJobOp(ctx, "run_agent", job.Command, "ok")
	return res.Output, nil
}

func (d *commandDeps) deleteAgent(ctx context.Context, job *store.Job, rep queue.Reporter) (string, error) {
	slug := job.Params["agent"]
	if slug == "" {
		return "", fmt.Errorf("param %q is required", "agent")
	}
	rec, err := d.Registry.Get(ctx, slug)
	if err != nil {
		return "", fmt.Errorf("agent %s: %w", slug, err)
	}
	if err := d.Registry.Delete(ctx, rec.Slug); err != nil {
		otel.RecordJobOp(ctx, "delete_agent", job.Command, "failed")
		return "", err
	}

	// Generated artifacts go with the record.
	agentDir := filepath.Join(config.AgentsDir(d.Home), rec.Slug)
	if err := os.RemoveAll(agentDir); err != nil {
		rep.Log("could not remove " + agentDir + ": " + err.Error())
	}
	if rec.Entry != "" && strings.HasPrefix(rec.Entry, config.BinDir(d.Home)+string(filepath.Separator)) {
		if err := os.Remove(rec.Entry); err != nil && !os.IsNotExist(err) {
			rep.Log("could not remove " + rec.Entry + ": " + err.Error())
		}
	}
	otel.RecordJobOp(ctx, "delete_agent", job.Command, "ok")
	return `{"deleted":"` + rec.Slug + `"}`, nil
}

func (d *commandDeps) updateAgent(ctx context.Context, job *store.Job, rep queue.Reporter) (string, error) {
	slug := job.Params["agent"]
	if slug == "" {
		return "", fmt.Errorf("param %q is required", "agent")
	}
	rec, err := d.Registry.Get(ctx, slug)
	if err != nil {
		return "", fmt.Errorf("agent %s: %w", slug, err)
	}
	updated := *rec
	if v, ok := job.Params["description"]; ok {
		updated.Description = v
	}
	if v, ok := job.Params["plan"]; ok && v != "" {
		updated.PlanPrompt = v
	}
	if v, ok := job.Params["execute"]; ok && v != "" {
		updated.ExecPrompt = v
	}
	if v, ok := job.Params["refine"]; ok && v != "" {
		updated.RefinePrompt = v
	}
	if _, err := d.Registry.Register(ctx, updated, true); err != nil {
		otel.RecordJobOp(ctx, "update_agent", job.Command, "failed")
		return "", err
	}
	otel.RecordJobOp(ctx, "update_agent", job.Command, "ok")
	return `{"updated":"` + rec.Slug + `"}`, nil
}

func (d *commandDeps) listAgents(ctx context.Context, job *store.Job, rep queue.Reporter) (string, error) {
	agents, err := d.Registry.List(ctx)
	if err != nil {
		return "", err
	}
	type item struct {
		Slug        string `json:"slug"`
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
	}
	out := make([]item, 0, len(agents))
	for _, a := range agents {
		out = append(out, item{Slug: a.Slug, Name: a.Name, Description: a.Description})
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *commandDeps) getRegistry(ctx context.Context, job *store.Job, rep queue.Reporter) (string, error) {
	agents, err := d.Registry.List(ctx)
	if err != nil {
		return "", err
	}
	out := make([]models.Agent, 0, len(agents))
	for _, a := range agents {
		out = append(out, models.Agent{
			Slug:        a.Slug,
			Name:        a.Name,
			Description: a.Description,
			Entry:       a.Entry,
			Prompts: models.Prompts{
				Plan:    a.PlanPrompt,
				Execute: a.ExecPrompt,
				Refine:  a.RefinePrompt,
			},
			RootStageID: a.RootStageID,
			CreatedAt:   a.CreatedAt,
			UpdatedAt:   a.UpdatedAt,
		})
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *commandDeps) serverStatus(ctx context.Context, job *store.Job, rep queue.Reporter) (string, error) {
	counts, err := d.Store.CountJobsByStatus(ctx)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(models.Status{
		Running:       true,
		Jobs:          counts,
		UptimeSeconds: time.Since(d.Started).Seconds(),
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}
