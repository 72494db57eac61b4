package completion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestComplete_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/a2a/complete" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Mode != ModeHighReasoning {
			t.Errorf("mode = %q, want %q", req.Mode, ModeHighReasoning)
		}
		_ = json.NewEncoder(w).Encode(Response{ID: req.JobID, Output: "planned: " + req.Input})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "secret")
	out, err := c.Complete(context.Background(), Request{JobID: "j1", Agent: "agent_plan", Input: "hello"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != "planned: hello" {
		t.Fatalf("output = %q", out)
	}
}

func TestComplete_RetriesTransient(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(Response{Output: "recovered"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	out, err := c.Complete(context.Background(), Request{JobID: "j2", Agent: "agent_exec", Input: "x"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != "recovered" {
		t.Fatalf("output = %q", out)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("server saw %d calls, want 3", got)
	}
}

func TestComplete_GivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	_, err := c.Complete(context.Background(), Request{JobID: "j3", Agent: "agent_refine", Input: "x"})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	var te *TransientError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TransientError in chain", err)
	}
	if got := calls.Load(); got != maxAttempts {
		t.Fatalf("server saw %d calls, want %d", got, maxAttempts)
	}
}

func TestComplete_RejectionNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad input", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	_, err := c.Complete(context.Background(), Request{JobID: "j4", Agent: "agent_plan", Input: "x"})

	var re *RequestError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want RequestError", err)
	}
	if re.Status != http.StatusBadRequest {
		t.Fatalf("status = %d", re.Status)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("server saw %d calls, want 1 (no retry on rejection)", got)
	}
}

func TestComplete_ContextCancelled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewHTTPClient(srv.URL, "")
	_, err := c.Complete(ctx, Request{JobID: "j5", Agent: "agent_plan", Input: "x"})
	if err == nil {
		t.Fatal("expected error with cancelled context")
	}
}
