package builder

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/DylanCkawalec/warp-engine/internal/chain"
	"github.com/DylanCkawalec/warp-engine/internal/completion"
	"github.com/DylanCkawalec/warp-engine/pkg/models"
)

// Refinement is the outcome of turning a raw prompt into agent
// creation instructions.
type Refinement struct {
	Prompts      chain.Prompts
	TemplateType string
}

// Refiner turns free-text prompts into bounded plan/execute/refine
// prompts. When the completion service is unreachable it falls back to
// filling the selected template directly, so creation works offline.
type Refiner struct {
	Client completion.Client
	Log    *slog.Logger

	// Budget caps each refined prompt, in approximate tokens.
	Budget int
}

// NewRefiner returns a Refiner with the default prompt budget.
func NewRefiner(client completion.Client, log *slog.Logger) *Refiner {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Refiner{Client: client, Log: log, Budget: models.DefaultPromptTokenBudget}
}

// refinerInstruction asks the completion service for a strict JSON
// reply so the result can be parsed mechanically.
const refinerInstruction = "You are Agent-Refine-Protocol. Rewrite the user's request into three " +
	"self-contained agent prompts following the pattern 'You are Agent-X. Do Y.'. " +
	"Each prompt must be under 500 tokens. Reply with only a JSON object: " +
	`{"plan": "...", "execute": "...", "refine": "..."}`

// Refine produces bounded phase prompts for rawPrompt. Completion
// failures and unparseable replies degrade to the template fallback
// rather than failing creation.
func (r *Refiner) Refine(ctx context.Context, jobID, rawPrompt string) Refinement {
	tmpl := SelectTemplate(rawPrompt)
	result := Refinement{
		Prompts:      tmpl.Fill(rawPrompt),
		TemplateType: tmpl.Type,
	}

	if r.Client != nil {
		if p, ok := r.refineRemote(ctx, jobID, rawPrompt); ok {
			result.Prompts = p
		}
	}
	result.Prompts = r.clampPrompts(result.Prompts)
	return result
}

func (r *Refiner) refineRemote(ctx context.Context, jobID, rawPrompt string) (chain.Prompts, bool) {
	out, err := r.Client.Complete(ctx, completion.Request{
		JobID:   jobID,
		Agent:   "agent_refine_protocol",
		Input:   rawPrompt,
		Context: map[string]string{"prompt": refinerInstruction},
		Mode:    completion.ModeHighReasoning,
	})
	if err != nil {
		r.Log.Warn("prompt refinement unavailable, using template fallback", "error", err)
		return chain.Prompts{}, false
	}

	var parsed struct {
		Plan    string `json:"plan"`
		Execute string `json:"execute"`
		Refine  string `json:"refine"`
	}
	// Tolerate replies that wrap the JSON in prose.
	raw := out
	if i, j := strings.Index(out, "{"), strings.LastIndex(out, "}"); i >= 0 && j > i {
		raw = out[i : j+1]
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil ||
		parsed.Plan == "" || parsed.Execute == "" || parsed.Refine == "" {
		r.Log.Warn("prompt refinement reply unparseable, using template fallback")
		return chain.Prompts{}, false
	}
	return chain.Prompts{Plan: parsed.Plan, Execute: parsed.Execute, Refine: parsed.Refine}, true
}

func (r *Refiner) clampPrompts(p chain.Prompts) chain.Prompts {
	budget := r.Budget
	if budget <= 0 {
		budget = models.DefaultPromptTokenBudget
	}
	return chain.Prompts{
		Plan:    clampTokens(p.Plan, budget),
		Execute: clampTokens(p.Execute, budget),
		Refine:  clampTokens(p.Refine, budget),
	}
}

// clampTokens truncates text to at most budget whitespace-delimited
// tokens, a close-enough proxy for model tokens at this scale.
func clampTokens(text string, budget int) string {
	fields := strings.Fields(text)
	if len(fields) <= budget {
		return text
	}
	return strings.Join(fields[:budget], " ")
}
