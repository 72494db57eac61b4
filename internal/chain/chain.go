// Package chain runs the three-phase completion chain: plan, execute,
// refine. Each phase feeds the next; the refined text is the final
// output. The whole run is captured as a store.ChainRecord.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/DylanCkawalec/warp-engine/internal/completion"
	"github.com/DylanCkawalec/warp-engine/internal/store"
	"github.com/DylanCkawalec/warp-engine/internal/textmetrics"
)

// Phase names, in execution order.
const (
	PhasePlan    = "plan"
	PhaseExecute = "execute"
	PhaseRefine  = "refine"
)

// Agent identities presented to the completion service per phase.
const (
	agentPlan   = "agent_plan"
	agentExec   = "agent_exec"
	agentRefine = "agent_refine"
)

// Prompts are the per-phase instructions of one registered agent.
// Mode selects the completion mode for every phase; empty means
// high_reasoning.
type Prompts struct {
	Plan    string
	Execute string
	Refine  string
	Mode    string
}

// Progress reports phase completion in percent with a short note.
// Implementations must tolerate concurrent calls from one run only.
type Progress func(percent int, note string)

// Runner executes chains against a completion client.
type Runner struct {
	Client completion.Client
	Log    *slog.Logger
}

// NewRunner returns a Runner. A nil logger discards output.
func NewRunner(client completion.Client, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Runner{Client: client, Log: log}
}

// Run executes plan, execute, and refine for one job. The plan phase
// sees the raw input; execute sees the input plus the plan; refine sees
// only the draft. Any phase error aborts the chain and surfaces the
// phase name; the returned record then holds the phases that did
// complete (no final text or metrics) so a failed run stays
// inspectable.
func (r *Runner) Run(ctx context.Context, jobID, agentSlug, input string, prompts Prompts, progress Progress) (*store.ChainRecord, error) {
	if progress == nil {
		progress = func(int, string) {}
	}
	started := time.Now().UTC()
	mode := prompts.Mode
	if mode == "" {
		mode = completion.ModeHighReasoning
	}

	plan, planPhase, err := r.phase(ctx, jobID, agentPlan, PhasePlan, mode, input, map[string]string{
		"prompt": prompts.Plan,
	})
	if err != nil {
		return partialRecord(jobID, agentSlug, input, started, nil), fmt.Errorf("plan phase: %w", err)
	}
	progress(40, "plan complete")

	draft, execPhase, err := r.phase(ctx, jobID, agentExec, PhaseExecute, mode, input, map[string]string{
		"plan":   plan,
		"prompt": prompts.Execute,
	})
	if err != nil {
		return partialRecord(jobID, agentSlug, input, started, []store.ChainPhase{planPhase}), fmt.Errorf("execute phase: %w", err)
	}
	progress(70, "draft complete")

	final, refinePhase, err := r.phase(ctx, jobID, agentRefine, PhaseRefine, mode, draft, map[string]string{
		"prompt": prompts.Refine,
	})
	if err != nil {
		return partialRecord(jobID, agentSlug, input, started, []store.ChainPhase{planPhase, execPhase}), fmt.Errorf("refine phase: %w", err)
	}
	progress(95, "refinement complete")

	report := textmetrics.Analyze(final)
	rec := &store.ChainRecord{
		JobID:     jobID,
		AgentSlug: agentSlug,
		Input:     input,
		Final:     final,
		Phases:    []store.ChainPhase{planPhase, execPhase, refinePhase},
		Metrics: store.ChainMetrics{
			Chars:        report.Chars,
			Words:        report.Words,
			Sentences:    report.Sentences,
			UniqueWords:  report.UniqueWords,
			ReadingEase:  report.ReadingEase,
			GradeLevel:   report.GradeLevel,
			AvgWordLen:   report.AvgWordLen,
			LexicalRatio: report.LexicalRatio,
			TopBigrams:   storeNgrams(report.TopBigrams),
			TopTrigrams:  storeNgrams(report.TopTrigrams),
		},
		CreatedAt: started,
	}
	r.Log.Debug("chain complete", "job_id", jobID, "agent", agentSlug,
		"elapsed", time.Since(started), "final_words", report.Words)
	return rec, nil
}

func (r *Runner) phase(ctx context.Context, jobID, agent, name, mode, input string, phaseCtx map[string]string) (string, store.ChainPhase, error) {
	start := time.Now().UTC()
	r.Log.Debug("chain phase start", "job_id", jobID, "phase", name)

	out, err := r.Client.Complete(ctx, completion.Request{
		JobID:   jobID,
		Agent:   agent,
		Input:   input,
		Context: phaseCtx,
		Mode:    mode,
	})
	if err != nil {
		return "", store.ChainPhase{}, err
	}
	return out, store.ChainPhase{
		Name:      name,
		Input:     input,
		Output:    out,
		StartedAt: start,
		EndedAt:   time.Now().UTC(),
	}, nil
}

func storeNgrams(in []textmetrics.Ngram) []store.Ngram {
	if len(in) == 0 {
		return nil
	}
	out := make([]store.Ngram, len(in))
	for i, g := range in {
		out[i] = store.Ngram{Text: g.Text, Count: g.Count}
	}
	return out
}

func partialRecord(jobID, agentSlug, input string, started time.Time, phases []store.ChainPhase) *store.ChainRecord {
	return &store.ChainRecord{
		JobID:     jobID,
		AgentSlug: agentSlug,
		Input:     input,
		Phases:    phases,
		CreatedAt: started,
	}
}
