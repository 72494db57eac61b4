// Package staging is the agent-creation state machine. Every lifecycle
// step is recorded as an append-only Stage with a tag from a fixed
// vocabulary; tags advance strictly in order, and a failed advance
// leaves the chain at its last good stage.
package staging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/DylanCkawalec/warp-engine/internal/store"
)

// Stage tags, in the only order they may be applied.
const (
	TagPromptReceived   = "prompt_received"
	TagPromptRefined    = "prompt_refined"
	TagTemplateSelected = "template_selected"
	TagCodeGenerated    = "code_generated"
	TagCodeInjected     = "code_injected"
	TagAgentRegistered  = "agent_registered"
	TagBinaryCompiled   = "binary_compiled"
)

// TagOrder is the fixed vocabulary in application order.
var TagOrder = []string{
	TagPromptReceived,
	TagPromptRefined,
	TagTemplateSelected,
	TagCodeGenerated,
	TagCodeInjected,
	TagAgentRegistered,
	TagBinaryCompiled,
}

// ErrStageOrder reports an advance to a tag that is neither the
// immediate successor of the current stage's tag nor a retry of it.
var ErrStageOrder = errors.New("stage order violation")

// TagIndex returns the position of tag in TagOrder, or -1.
func TagIndex(tag string) int {
	for i, t := range TagOrder {
		if t == tag {
			return i
		}
	}
	return -1
}

// Machine advances agent-creation chains, persisting each stage before
// reporting it advanced.
type Machine struct {
	Store store.Store
	Log   *slog.Logger

	// OnStage, when set, is called after each durably written stage.
	OnStage func(stage store.Stage)
}

// NewMachine returns a Machine over st. A nil logger discards output.
func NewMachine(st store.Store, log *slog.Logger) *Machine {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Machine{Store: st, Log: log}
}

// BeginCreation opens a new chain with a prompt_received stage holding
// the raw prompt. It returns the root stage id.
func (m *Machine) BeginCreation(ctx context.Context, rawPrompt string) (string, error) {
	id := uuid.NewString()
	stage := store.Stage{
		StageID:   id,
		RootID:    id,
		Tag:       TagPromptReceived,
		Payload:   map[string]string{"prompt": rawPrompt},
		CreatedAt: time.Now().UTC(),
	}
	if err := m.Store.AppendStage(ctx, stage); err != nil {
		return "", fmt.Errorf("begin creation: %w", err)
	}
	m.Log.Debug("chain opened", "root_id", id)
	m.notify(stage)
	return id, nil
}

// Advance appends a new stage tagged tag as a child of parentStageID.
// tag must be the immediate successor of the parent's tag, or the same
// tag (a retry of a failed step). Anything else fails with
// ErrStageOrder and writes nothing.
func (m *Machine) Advance(ctx context.Context, parentStageID, tag string, payload map[string]string) (string, error) {
	to := TagIndex(tag)
	if to < 0 {
		return "", fmt.Errorf("unknown stage tag %q", tag)
	}

	parent, err := m.Store.GetStage(ctx, parentStageID)
	if err != nil {
		return "", fmt.Errorf("advance to %s: %w", tag, err)
	}
	from := TagIndex(parent.Tag)
	if from < 0 {
		return "", fmt.Errorf("parent stage %s has unknown tag %q", parentStageID, parent.Tag)
	}
	if to != from && to != from+1 {
		return "", fmt.Errorf("cannot advance %s -> %s: %w", parent.Tag, tag, ErrStageOrder)
	}

	stage := store.Stage{
		StageID:   uuid.NewString(),
		RootID:    parent.RootID,
		ParentID:  parent.StageID,
		Tag:       tag,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.Store.AppendStage(ctx, stage); err != nil {
		return "", fmt.Errorf("advance to %s: %w", tag, err)
	}
	m.Log.Debug("chain advanced", "root_id", stage.RootID, "tag", tag, "stage_id", stage.StageID)
	m.notify(stage)
	return stage.StageID, nil
}

// Head returns the most recently written stage of the chain rooted at
// rootID.
func (m *Machine) Head(ctx context.Context, rootID string) (*store.Stage, error) {
	stages, err := m.Store.ListStagesForRoot(ctx, rootID)
	if err != nil {
		return nil, err
	}
	if len(stages) == 0 {
		return nil, fmt.Errorf("chain %s: %w", rootID, store.ErrNotFound)
	}
	return &stages[len(stages)-1], nil
}

func (m *Machine) notify(stage store.Stage) {
	if m.OnStage != nil {
		m.OnStage(stage)
	}
}
