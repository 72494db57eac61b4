// Package builder creates agents end to end: it refines the raw
// prompt, selects a template, generates and injects the runner source,
// registers the agent, and materializes its entry shim. Every step is
// recorded through the staging machine.
package builder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/DylanCkawalec/warp-engine/internal/chain"
	"github.com/DylanCkawalec/warp-engine/internal/completion"
	"github.com/DylanCkawalec/warp-engine/internal/config"
	"github.com/DylanCkawalec/warp-engine/internal/registry"
	"github.com/DylanCkawalec/warp-engine/internal/sandbox"
	"github.com/DylanCkawalec/warp-engine/internal/staging"
	"github.com/DylanCkawalec/warp-engine/internal/store"
)

// CreateRequest describes the agent to build. When all three prompts
// are set, refinement is skipped and they are used as given.
type CreateRequest struct {
	Name        string
	Description string
	Prompt      string // raw free-text intent
	Prompts     chain.Prompts
	Replace     bool // overwrite an existing slug
}

// CreateResult is the built agent plus its creation-chain root.
type CreateResult struct {
	Agent        store.AgentRecord
	RootStageID  string
	TemplateType string
}

// Builder drives agent creation. Home is the engine home directory
// holding agents/ and bin/.
type Builder struct {
	Home     string
	Machine  *staging.Machine
	Registry *registry.Registry
	Refiner  *Refiner
	Log      *slog.Logger
}

// New returns a Builder. A nil logger discards output.
func New(home string, machine *staging.Machine, reg *registry.Registry, refiner *Refiner, log *slog.Logger) *Builder {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Builder{Home: home, Machine: machine, Registry: reg, Refiner: refiner, Log: log}
}

// Create builds and registers an agent, advancing the staging chain
// through every tag. A failure leaves the chain at its last good stage
// for inspection; no AgentRecord is written on failure.
func (b *Builder) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("agent name required")
	}
	slug := registry.Slugify(req.Name)
	raw := req.Prompt
	if raw == "" {
		raw = req.Name + ": " + req.Description
	}

	rootID, err := b.Machine.BeginCreation(ctx, raw)
	if err != nil {
		return nil, err
	}
	cur := rootID

	prompts := req.Prompts
	templateType := TemplateCustom
	if prompts.Plan == "" || prompts.Execute == "" || prompts.Refine == "" {
		ref := b.Refiner.Refine(ctx, rootID, raw)
		prompts = ref.Prompts
		templateType = ref.TemplateType
	}
	cur, err = b.Machine.Advance(ctx, cur, staging.TagPromptRefined, map[string]string{
		"plan":    prompts.Plan,
		"execute": prompts.Execute,
		"refine":  prompts.Refine,
	})
	if err != nil {
		return nil, err
	}

	cur, err = b.Machine.Advance(ctx, cur, staging.TagTemplateSelected, map[string]string{
		"template": templateType,
	})
	if err != nil {
		return nil, err
	}

	source := runnerSource(slug, req.Name, req.Description)
	cur, err = b.Machine.Advance(ctx, cur, staging.TagCodeGenerated, map[string]string{
		"slug":   slug,
		"source": source,
	})
	if err != nil {
		return nil, err
	}

	guard := &sandbox.WriteGuard{Home: b.Home, Slug: slug}
	runnerPath := filepath.Join(config.AgentsDir(b.Home), slug, "runner.go")
	if !guard.AllowWrite(runnerPath) {
		return nil, fmt.Errorf("runner path %s is outside the agent sandbox", runnerPath)
	}
	if err := staging.InjectFile(runnerPath, slug, source); err != nil {
		return nil, fmt.Errorf("inject runner for %s: %w", slug, err)
	}
	agentDir := filepath.Dir(runnerPath)
	if err := SaveAgentConfig(agentDir, &AgentConfig{Mode: completion.ModeHighReasoning}); err != nil {
		return nil, fmt.Errorf("write agent config for %s: %w", slug, err)
	}
	cur, err = b.Machine.Advance(ctx, cur, staging.TagCodeInjected, map[string]string{
		"path": runnerPath,
	})
	if err != nil {
		return nil, err
	}

	entry := filepath.Join(config.BinDir(b.Home), slug)
	rec, err := b.Registry.Register(ctx, store.AgentRecord{
		Slug:         slug,
		Name:         req.Name,
		Description:  req.Description,
		Entry:        entry,
		PlanPrompt:   prompts.Plan,
		ExecPrompt:   prompts.Execute,
		RefinePrompt: prompts.Refine,
		RootStageID:  rootID,
	}, req.Replace)
	if err != nil {
		return nil, err
	}
	cur, err = b.Machine.Advance(ctx, cur, staging.TagAgentRegistered, map[string]string{
		"slug": slug,
	})
	if err != nil {
		return nil, err
	}

	if !guard.AllowWrite(entry) {
		return nil, fmt.Errorf("entry path %s is outside the agent sandbox", entry)
	}
	if err := writeEntryShim(entry, slug); err != nil {
		return nil, fmt.Errorf("write entry shim for %s: %w", slug, err)
	}
	if _, err = b.Machine.Advance(ctx, cur, staging.TagBinaryCompiled, map[string]string{
		"entry": entry,
	}); err != nil {
		return nil, err
	}

	b.Log.Info("agent created", "slug", slug, "template", templateType, "root_stage", rootID)
	return &CreateResult{Agent: rec, RootStageID: rootID, TemplateType: templateType}, nil
}

// runnerSource generates the agent's runner program. The whole block
// is keyed by slug so a later regeneration replaces exactly this text.
func runnerSource(slug, name, description string) string {
	return fmt.Sprintf(`package main

// %s: %s
// Reads input from stdin and runs it through the %q agent chain on the
// local engine daemon.

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
)

func main() {
	text, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read input:", err)
		os.Exit(1)
	}
	base := os.Getenv("WARP_ENGINE_ADDR")
	if base == "" {
		base = "http://127.0.0.1:8787"
	}
	body, _ := json.Marshal(map[string]any{
		"command": "run_agent",
		"params":  map[string]string{"agent": %q, "input": string(text), "wait": "true"},
	})
	resp, err := http.Post(base+"/api/command", "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintln(os.Stderr, "engine unreachable:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	fmt.Println(string(out))
}
`, name, description, slug, slug)
}

func writeEntryShim(path, slug string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	shim := fmt.Sprintf("#!/usr/bin/env sh\nexec warp-engine agent run %s \"$@\"\n", slug)
	return os.WriteFile(path, []byte(shim), 0o755)
}
