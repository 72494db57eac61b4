package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/DylanCkawalec/warp-engine/internal/store"
)

func TestSlugify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		want string
	}{
		{"Demo", "demo"},
		{"Data Analyst 2", "data_analyst_2"},
		{"  spaced  out  ", "spaced_out"},
		{"Crème---Brûlée!", "cr_me_br_l_e"},
		{"___", "agent"},
		{"", "agent"},
	}
	for _, tc := range cases {
		if got := Slugify(tc.name); got != tc.want {
			t.Errorf("Slugify(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func openRegistry(t *testing.T) *Registry {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return New(s, nil)
}

func TestRegister_DerivesSlug(t *testing.T) {
	t.Parallel()
	r := openRegistry(t)
	ctx := context.Background()

	rec, err := r.Register(ctx, store.AgentRecord{Name: "Demo Agent", Description: "d"}, false)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if rec.Slug != "demo_agent" {
		t.Fatalf("slug = %q, want demo_agent", rec.Slug)
	}

	got, err := r.Get(ctx, "  DEMO_AGENT ")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Demo Agent" {
		t.Fatalf("name = %q", got.Name)
	}
}

func TestRegister_SlugCollision(t *testing.T) {
	t.Parallel()
	r := openRegistry(t)
	ctx := context.Background()

	if _, err := r.Register(ctx, store.AgentRecord{Name: "demo", Description: "first"}, false); err != nil {
		t.Fatalf("register first: %v", err)
	}

	// A distinct name deriving the same slug must be rejected without
	// touching the first record.
	_, err := r.Register(ctx, store.AgentRecord{Name: "Demo!", Description: "second"}, false)
	if !errors.Is(err, store.ErrSlugExists) {
		t.Fatalf("err = %v, want ErrSlugExists", err)
	}

	agents, err := r.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(agents) != 1 {
		t.Fatalf("got %d agents, want 1", len(agents))
	}
	if agents[0].Description != "first" {
		t.Fatalf("first record mutated: %+v", agents[0])
	}

	// Explicit replacement is allowed.
	if _, err := r.Register(ctx, store.AgentRecord{Name: "Demo!", Description: "second"}, true); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, _ := r.Get(ctx, "demo")
	if got.Description != "second" {
		t.Fatalf("description = %q after replace", got.Description)
	}
}

func TestList_OrderedBySlug(t *testing.T) {
	t.Parallel()
	r := openRegistry(t)
	ctx := context.Background()

	for _, name := range []string{"zeta", "alpha", "mid"} {
		if _, err := r.Register(ctx, store.AgentRecord{Name: name}, false); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	agents, err := r.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"alpha", "mid", "zeta"}
	for i, w := range want {
		if agents[i].Slug != w {
			t.Fatalf("agents[%d].Slug = %q, want %q", i, agents[i].Slug, w)
		}
	}
}

func TestDelete(t *testing.T) {
	t.Parallel()
	r := openRegistry(t)
	ctx := context.Background()

	if _, err := r.Register(ctx, store.AgentRecord{Name: "gone"}, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Delete(ctx, "gone"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := r.Delete(ctx, "gone"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second delete err = %v, want ErrNotFound", err)
	}
}
