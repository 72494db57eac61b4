package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DylanCkawalec/warp-engine/pkg/models"
)

func TestNew(t *testing.T) {
	c := New("http://127.0.0.1:8787", "")
	if c.BaseURL != "http://127.0.0.1:8787" || c.APIKey != "" {
		t.Errorf("New: %+v", c)
	}
	c2 := New("http://127.0.0.1:8787", "secret")
	if c2.APIKey != "secret" {
		t.Errorf("New with key: %+v", c2)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	ok, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if !ok {
		t.Fatal("Health: expected ok true")
	}
}

func TestCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/command" || r.Method != http.MethodPost {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		var req models.CommandRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Command != "run_agent" || req.Params["agent"] != "writer" {
			t.Errorf("request: %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"job_id":"j1","status":"pending"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	resp, err := c.Command(context.Background(), "run_agent", map[string]string{"agent": "writer"})
	if err != nil {
		t.Fatalf("Command: %v", err)
	}
	if resp.JobID != "j1" || resp.Status != "pending" {
		t.Errorf("response: %+v", resp)
	}
}

func TestCommand_apiError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"unknown command \"nope\""}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.Command(context.Background(), "nope", nil)
	if err == nil {
		t.Fatal("expected error from 400")
	}
}

func TestListJobs_queryParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("status") != "completed" || q.Get("limit") != "5" {
			t.Errorf("query: %v", q)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"job_id":"j1","command":"run_agent","status":"completed","created_at":"2026-01-01T00:00:00Z"}]`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	jobs, err := c.ListJobs(context.Background(), "completed", 5)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].JobID != "j1" {
		t.Errorf("jobs: %+v", jobs)
	}
}

func TestAgentRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method + " " + r.URL.Path {
		case "POST /api/agents":
			w.Write([]byte(`{"slug":"writer","entry":"/home/bin/writer"}`))
		case "GET /api/agents/writer":
			w.Write([]byte(`{"slug":"writer","name":"Writer","entry":"/home/bin/writer","prompts":{"plan":"p","execute":"e","refine":"r"}}`))
		case "DELETE /api/agents/writer":
			w.Write([]byte(`{"ok":true}`))
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	ctx := context.Background()

	reg, err := c.RegisterAgent(ctx, models.RegisterRequest{Name: "Writer"})
	if err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	if reg.Slug != "writer" {
		t.Errorf("register: %+v", reg)
	}

	agent, err := c.GetAgent(ctx, "writer")
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if agent.Prompts.Plan != "p" {
		t.Errorf("agent: %+v", agent)
	}

	if err := c.DeleteAgent(ctx, "writer"); err != nil {
		t.Fatalf("DeleteAgent: %v", err)
	}
}

func TestClient_setsAPIKeyHeader(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "mykey")
	_, _ = c.Health(context.Background())
	if gotKey != "mykey" {
		t.Errorf("X-API-Key: got %q", gotKey)
	}
}

func TestFollowJobLogs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/jobs/j1/logs" {
			t.Errorf("path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("follow") == "" {
			t.Error("missing follow flag")
		}
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("Accept: %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"type\":\"job_log\",\"job_id\":\"j1\",\"line\":\"one\"}\n\n"))
		w.Write([]byte(": keepalive\n\n"))
		w.Write([]byte("data: {\"type\":\"job_log\",\"job_id\":\"j1\",\"line\":\"two\"}\n\n"))
		w.Write([]byte("data: {\"type\":\"job_done\",\"job_id\":\"j1\",\"status\":\"completed\"}\n\n"))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	var lines []string
	status, err := c.FollowJobLogs(context.Background(), "j1", func(line string) {
		lines = append(lines, line)
	})
	if err != nil {
		t.Fatalf("FollowJobLogs: %v", err)
	}
	if status != models.StatusCompleted {
		t.Errorf("status: %q", status)
	}
	if len(lines) != 2 || lines[0] != "one" || lines[1] != "two" {
		t.Errorf("lines: %v", lines)
	}
}

func TestFollowJobLogs_truncatedStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"type\":\"job_log\",\"job_id\":\"j1\",\"line\":\"one\"}\n\n"))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.FollowJobLogs(context.Background(), "j1", func(string) {})
	if err == nil {
		t.Fatal("expected an error for a stream that ends without job_done")
	}
}
