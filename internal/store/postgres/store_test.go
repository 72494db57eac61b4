package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/DylanCkawalec/warp-engine/internal/store"
)

func openTestStore(t *testing.T) store.Store {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping postgres store tests")
	}
	s, err := Open(dsn)
	if err != nil {
		t.Fatalf("open postgres store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestJobLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	jobID := uuid.NewString()
	job := store.Job{
		JobID:   jobID,
		Command: "run_agent",
		Params:  map[string]string{"agent": "research", "input": "hello"},
	}
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	got, err := s.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != "pending" {
		t.Fatalf("status = %q, want pending", got.Status)
	}
	if got.Params["agent"] != "research" {
		t.Fatalf("params lost on round trip: %v", got.Params)
	}

	claimed, err := s.ClaimJob(ctx, jobID)
	if err != nil || !claimed {
		t.Fatalf("claim job: claimed=%v err=%v", claimed, err)
	}
	claimed, err = s.ClaimJob(ctx, jobID)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if claimed {
		t.Fatal("second claim succeeded; want exactly one winner")
	}

	if err := s.CompleteJob(ctx, jobID, "done"); err != nil {
		t.Fatalf("complete job: %v", err)
	}
	if err := s.FailJob(ctx, jobID, "late failure"); err == nil {
		t.Fatal("fail after completion succeeded; terminal status must be immutable")
	}

	got, err = s.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != "completed" || got.Result != "done" || got.Progress != 100 {
		t.Fatalf("job after completion = %+v", got)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetJob(context.Background(), uuid.NewString())
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPutAgent_SlugCollision(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	slug := "pg-collision-" + uuid.NewString()[:8]
	t.Cleanup(func() { _ = s.DeleteAgent(ctx, slug) })

	rec := store.AgentRecord{Slug: slug, Name: "First"}
	if err := s.PutAgent(ctx, rec, false); err != nil {
		t.Fatalf("put agent: %v", err)
	}

	rec.Name = "Second"
	if err := s.PutAgent(ctx, rec, false); !errors.Is(err, store.ErrSlugExists) {
		t.Fatalf("err = %v, want ErrSlugExists", err)
	}
	if err := s.PutAgent(ctx, rec, true); err != nil {
		t.Fatalf("replace agent: %v", err)
	}

	got, err := s.GetAgent(ctx, slug)
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if got.Name != "Second" {
		t.Fatalf("name = %q, want Second", got.Name)
	}
}

func TestStagesAndChainRecord(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rootID := uuid.NewString()
	root := store.Stage{StageID: rootID, RootID: rootID, Tag: "prompt_received"}
	if err := s.AppendStage(ctx, root); err != nil {
		t.Fatalf("append root stage: %v", err)
	}

	var parentID = rootID
	for i, tag := range []string{"prompt_refined", "template_selected"} {
		st := store.Stage{
			StageID:   uuid.NewString(),
			RootID:    rootID,
			ParentID:  parentID,
			Tag:       tag,
			Payload:   map[string]string{"step": fmt.Sprint(i)},
			CreatedAt: time.Now().Add(time.Duration(i+1) * time.Millisecond),
		}
		if err := s.AppendStage(ctx, st); err != nil {
			t.Fatalf("append stage %s: %v", tag, err)
		}
		parentID = st.StageID
	}

	stages, err := s.ListStagesForRoot(ctx, rootID)
	if err != nil {
		t.Fatalf("list stages: %v", err)
	}
	if len(stages) != 3 {
		t.Fatalf("got %d stages, want 3", len(stages))
	}
	if stages[0].Tag != "prompt_received" || stages[2].Tag != "template_selected" {
		t.Fatalf("stage order wrong: %v %v", stages[0].Tag, stages[2].Tag)
	}

	jobID := uuid.NewString()
	rec := store.ChainRecord{
		JobID:     jobID,
		AgentSlug: "research",
		Input:     "in",
		Final:     "out",
		Phases: []store.ChainPhase{
			{Name: "plan", Input: "in", Output: "plan text"},
		},
	}
	if err := s.PutChainRecord(ctx, rec); err != nil {
		t.Fatalf("put chain record: %v", err)
	}
	got, err := s.GetChainRecord(ctx, jobID)
	if err != nil {
		t.Fatalf("get chain record: %v", err)
	}
	if got.Final != "out" || len(got.Phases) != 1 || got.Phases[0].Name != "plan" {
		t.Fatalf("chain record round trip = %+v", got)
	}
}
