// Package registry manages the durable catalog of registered agents,
// keyed by slug. Slugs derive deterministically from display names;
// collisions fail unless the caller explicitly asks to replace.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/DylanCkawalec/warp-engine/internal/store"
)

var (
	slugStrip = regexp.MustCompile(`[^a-z0-9]+`)
	slugTrim  = regexp.MustCompile(`^_+|_+$`)
)

// Slugify derives the registry key from a display name: lowercased,
// runs of non-alphanumerics collapsed to single underscores. An empty
// result falls back to "agent".
func Slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = slugStrip.ReplaceAllString(s, "_")
	s = slugTrim.ReplaceAllString(s, "")
	if s == "" {
		return "agent"
	}
	return s
}

// Registry is the slug-keyed agent catalog over a Store.
type Registry struct {
	Store store.Store
	Log   *slog.Logger
}

// New returns a Registry over st. A nil logger discards output.
func New(st store.Store, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Registry{Store: st, Log: log}
}

// Register writes rec, deriving the slug from the name when unset.
// A colliding slug fails with store.ErrSlugExists unless replace is
// set; the existing record is left untouched on rejection.
func (r *Registry) Register(ctx context.Context, rec store.AgentRecord, replace bool) (store.AgentRecord, error) {
	if strings.TrimSpace(rec.Name) == "" {
		return store.AgentRecord{}, fmt.Errorf("agent name required")
	}
	if rec.Slug == "" {
		rec.Slug = Slugify(rec.Name)
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	if err := r.Store.PutAgent(ctx, rec, replace); err != nil {
		return store.AgentRecord{}, err
	}
	r.Log.Info("agent registered", "slug", rec.Slug, "replace", replace)
	return rec, nil
}

// Get resolves a slug (case-insensitive, trimmed) to its record.
func (r *Registry) Get(ctx context.Context, slug string) (*store.AgentRecord, error) {
	return r.Store.GetAgent(ctx, strings.ToLower(strings.TrimSpace(slug)))
}

// List returns all agents ordered by slug.
func (r *Registry) List(ctx context.Context) ([]store.AgentRecord, error) {
	return r.Store.ListAgents(ctx)
}

// Delete removes the agent for slug; store.ErrNotFound when absent.
func (r *Registry) Delete(ctx context.Context, slug string) error {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if err := r.Store.DeleteAgent(ctx, slug); err != nil {
		return err
	}
	r.Log.Info("agent deleted", "slug", slug)
	return nil
}
