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

// Submits a job over the HTTP API and follows it to completion on the
// event stream, checking that the stream carries every status the store
// records and never a status the store has not yet written.
func TestJobLifecycleOverStream(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	app, ts := newTestApp(t, map[string]queue.Handler{
		"slow": func(ctx context.Context, job *store.Job, rep queue.Reporter) (string, error) {
			select {
			case <-release:
			case <-ctx.Done():
				return "", ctx.Err()
			}
			return "done", nil
		},
	}, nil)
	startQueue(t, app.Queue)

	// Subscribe before submitting so no transition is missed.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", ts.URL+"/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /stream: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	sc := bufio.NewScanner(resp.Body)

	// Wait for the connected handshake.
	for sc.Scan() {
		if strings.Contains(sc.Text(), `"type":"connected"`) {
			break
		}
	}

	var accepted models.CommandResponse
	postJSON(t, ts.URL+"/api/command", `{"command":"slow"}`, &accepted)

	seen := make(map[string]bool)
	var statuses []string
	readUntil := func(status string) {
		for sc.Scan() {
			line := sc.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var ev struct {
				Type string     `json:"type"`
				Job  models.Job `json:"job"`
			}
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				continue
			}
			if ev.Type != "job_update" || ev.Job.JobID != accepted.JobID {
				continue
			}
			if !seen[ev.Job.Status] {
				seen[ev.Job.Status] = true
				statuses = append(statuses, ev.Job.Status)
			}
			if ev.Job.Status == status {
				return
			}
		}
		t.Fatalf("stream ended before %s (saw %v, scan err %v)", status, statuses, sc.Err())
	}

	readUntil(models.StatusRunning)

	// The stream reported running; the store must already agree.
	var stored models.Job
	getJSON(t, ts.URL+"/api/jobs/"+accepted.JobID, &stored)
	if stored.Status != models.StatusRunning {
		t.Fatalf("stream ahead of store: store has %s", stored.Status)
	}

	close(release)
	readUntil(models.StatusCompleted)

	want := []string{models.StatusPending, models.StatusRunning, models.StatusCompleted}
	if len(statuses) != len(want) {
		t.Fatalf("statuses=%v, want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("statuses=%v, want %v", statuses, want)
		}
	}

	getJSON(t, ts.URL+"/api/jobs/"+accepted.JobID, &stored)
	if stored.Result != "done" || stored.Progress != 100 {
		t.Fatalf("unexpected final job: %+v", stored)
	}
}
