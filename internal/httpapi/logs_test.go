package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/DylanCkawalec/warp-engine/internal/queue"
	"github.com/DylanCkawalec/warp-engine/internal/store"
	"github.com/DylanCkawalec/warp-engine/pkg/models"
)

// Follows a running job's log feed: lines written before the connection
// arrive as a replay, lines written after arrive as pushed events, and
// the feed closes with the job's terminal status.
func TestJobLogStream(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	app, ts := newTestApp(t, map[string]queue.Handler{
		"verbose": func(ctx context.Context, job *store.Job, rep queue.Reporter) (string, error) {
			rep.Log("precheck ok")
			select {
			case <-release:
			case <-ctx.Done():
				return "", ctx.Err()
			}
			rep.Log("engaging warp")
			return "done", nil
		},
	}, nil)
	startQueue(t, app.Queue)

	var accepted models.CommandResponse
	postJSON(t, ts.URL+"/api/command", `{"command":"verbose"}`, &accepted)

	// Wait for the first line to land in the store so it must come back
	// in the replay rather than the live feed.
	waitFor(t, func() bool {
		var snap struct {
			Logs []string `json:"logs"`
		}
		getJSON(t, ts.URL+"/api/jobs/"+accepted.JobID+"/logs", &snap)
		return len(snap.Logs) == 1
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", ts.URL+"/api/jobs/"+accepted.JobID+"/logs?follow=1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET logs stream: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	sc := bufio.NewScanner(resp.Body)
	next := func() (string, string) {
		for sc.Scan() {
			line := sc.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var ev struct {
				Type   string `json:"type"`
				Line   string `json:"line"`
				Status string `json:"status"`
			}
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				t.Fatalf("bad event %q: %v", line, err)
			}
			if ev.Type == "job_done" {
				return ev.Type, ev.Status
			}
			return ev.Type, ev.Line
		}
		t.Fatalf("stream ended early (scan err %v)", sc.Err())
		return "", ""
	}

	if typ, line := next(); typ != "job_log" || line != "precheck ok" {
		t.Fatalf("replay = (%s, %q), want the stored line", typ, line)
	}

	// Do not release the handler until the follower is on the hub, so
	// the second line has to arrive as a push.
	waitFor(t, func() bool { return app.Hub.Count() >= 1 })
	close(release)

	if typ, line := next(); typ != "job_log" || line != "engaging warp" {
		t.Fatalf("pushed = (%s, %q), want the live line", typ, line)
	}
	if typ, status := next(); typ != "job_done" || status != models.StatusCompleted {
		t.Fatalf("close = (%s, %q), want completed job_done", typ, status)
	}
}

// A log follow on an already finished job replays every line and closes
// immediately with job_done.
func TestJobLogStream_FinishedJob(t *testing.T) {
	t.Parallel()

	app, ts := newTestApp(t, map[string]queue.Handler{
		"quick": func(ctx context.Context, job *store.Job, rep queue.Reporter) (string, error) {
			rep.Log("one")
			rep.Log("two")
			return "done", nil
		},
	}, nil)
	startQueue(t, app.Queue)

	var accepted models.CommandResponse
	postJSON(t, ts.URL+"/api/command", `{"command":"quick"}`, &accepted)
	waitFor(t, func() bool {
		var job models.Job
		getJSON(t, ts.URL+"/api/jobs/"+accepted.JobID, &job)
		return job.Status == models.StatusCompleted
	})

	req, _ := http.NewRequest("GET", ts.URL+"/api/jobs/"+accepted.JobID+"/logs", nil)
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET logs stream: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var got []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev struct {
			Type   string `json:"type"`
			Line   string `json:"line"`
			Status string `json:"status"`
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("bad event %q: %v", line, err)
		}
		if ev.Type == "job_done" {
			if ev.Status != models.StatusCompleted {
				t.Fatalf("job_done status = %q", ev.Status)
			}
			got = append(got, "<done>")
			break
		}
		got = append(got, ev.Line)
	}
	want := []string{"one", "two", "<done>"}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

// Without an event-stream Accept header or follow flag the logs route
// still answers with the JSON snapshot.
func TestJobLogSnapshotUnchanged(t *testing.T) {
	t.Parallel()

	app, ts := newTestApp(t, map[string]queue.Handler{
		"quick": func(ctx context.Context, job *store.Job, rep queue.Reporter) (string, error) {
			rep.Log("hello")
			return "done", nil
		},
	}, nil)
	startQueue(t, app.Queue)

	var accepted models.CommandResponse
	postJSON(t, ts.URL+"/api/command", `{"command":"quick"}`, &accepted)
	waitFor(t, func() bool {
		var job models.Job
		getJSON(t, ts.URL+"/api/jobs/"+accepted.JobID, &job)
		return job.Status == models.StatusCompleted
	})

	resp, err := http.Get(ts.URL + "/api/jobs/" + accepted.JobID + "/logs")
	if err != nil {
		t.Fatalf("GET logs: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("Content-Type = %q, want application/json", ct)
	}
	var snap struct {
		JobID string   `json:"job_id"`
		Logs  []string `json:"logs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.JobID != accepted.JobID || len(snap.Logs) != 1 || snap.Logs[0] != "hello" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never held")
}
