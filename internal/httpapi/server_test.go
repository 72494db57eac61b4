package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DylanCkawalec/warp-engine/internal/queue"
	"github.com/DylanCkawalec/warp-engine/internal/registry"
	"github.com/DylanCkawalec/warp-engine/internal/store"
	"github.com/DylanCkawalec/warp-engine/pkg/models"
)

// newTestApp builds an App over a temp-dir sqlite store with the given
// command handlers registered. The queue workers are not started; tests
// that need execution call startQueue.
func newTestApp(t *testing.T, handlers map[string]queue.Handler, opts func(*ServerOptions)) (*App, *httptest.Server) {
	t.Helper()
	home := t.TempDir()
	st, err := store.Open(home)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	q := queue.New(st, nil, nil)
	for cmd, h := range handlers {
		q.Register(cmd, h)
	}
	so := ServerOptions{
		Home:     home,
		Addr:     "127.0.0.1:0",
		Store:    st,
		Queue:    q,
		Registry: registry.New(st, nil),
	}
	if opts != nil {
		opts(&so)
	}
	app, err := NewApp(so)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ts := httptest.NewServer(app.Server.Handler)
	t.Cleanup(ts.Close)
	return app, ts
}

func startQueue(t *testing.T, q *queue.Queue) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url, body string, v any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestServerSmoke(t *testing.T) {
	t.Parallel()

	app, ts := newTestApp(t, map[string]queue.Handler{
		"echo": func(ctx context.Context, job *store.Job, rep queue.Reporter) (string, error) {
			rep.Progress(50, "halfway")
			return job.Params["text"], nil
		},
	}, nil)
	startQueue(t, app.Queue)

	if code := getJSON(t, ts.URL+"/health", nil); code != 200 {
		t.Fatalf("/health status=%d", code)
	}

	var accepted models.CommandResponse
	code := postJSON(t, ts.URL+"/api/command", `{"command":"echo","params":{"text":"hi"}}`, &accepted)
	if code != 200 {
		t.Fatalf("POST /api/command status=%d", code)
	}
	if accepted.JobID == "" || accepted.Status != models.StatusPending {
		t.Fatalf("unexpected command response: %+v", accepted)
	}

	var job models.Job
	deadline := time.Now().Add(5 * time.Second)
	for {
		getJSON(t, ts.URL+"/api/jobs/"+accepted.JobID, &job)
		if job.Status == models.StatusCompleted || job.Status == models.StatusFailed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job did not finish: %+v", job)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if job.Status != models.StatusCompleted || job.Result != "hi" {
		t.Fatalf("unexpected job: %+v", job)
	}
	if len(job.Logs) == 0 || job.Logs[0] != "halfway" {
		t.Fatalf("expected handler log, got %v", job.Logs)
	}

	// SSE should produce the initial connected event quickly.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", ts.URL+"/stream", nil)
	sseResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /stream: %v", err)
	}
	defer func() { _ = sseResp.Body.Close() }()
	sc := bufio.NewScanner(sseResp.Body)
	found := false
	for sc.Scan() {
		if strings.Contains(sc.Text(), `"type":"connected"`) {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("did not see connected event")
	}
}

func TestCommandRejectsUnknown(t *testing.T) {
	t.Parallel()

	_, ts := newTestApp(t, nil, nil)

	var body map[string]any
	code := postJSON(t, ts.URL+"/api/command", `{"command":"nope"}`, &body)
	if code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", code)
	}
	if body["error"] == "" {
		t.Fatalf("expected error body, got %v", body)
	}

	// No job may exist for a rejected command.
	var jobs []models.Job
	getJSON(t, ts.URL+"/api/jobs", &jobs)
	if len(jobs) != 0 {
		t.Fatalf("rejected command created a job: %v", jobs)
	}
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()

	_, ts := newTestApp(t, nil, nil)

	var st models.Status
	if code := getJSON(t, ts.URL+"/api/status", &st); code != 200 {
		t.Fatalf("status=%d", code)
	}
	if !st.Running {
		t.Fatalf("expected running=true")
	}
	if st.UptimeSeconds < 0 {
		t.Fatalf("negative uptime: %v", st.UptimeSeconds)
	}
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	_, ts := newTestApp(t, nil, func(so *ServerOptions) {
		so.APIKey = "secret"
	})

	// Health and metrics are exempt.
	if code := getJSON(t, ts.URL+"/health", nil); code != 200 {
		t.Fatalf("/health without key status=%d", code)
	}
	if code := getJSON(t, ts.URL+"/metrics", nil); code != 200 {
		t.Fatalf("/metrics without key status=%d", code)
	}

	if code := getJSON(t, ts.URL+"/api/status", nil); code != http.StatusUnauthorized {
		t.Fatalf("/api/status without key status=%d, want 401", code)
	}

	req, _ := http.NewRequest("GET", ts.URL+"/api/status", nil)
	req.Header.Set("X-API-Key", "secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET with key: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("/api/status with key status=%d", resp.StatusCode)
	}

	// Query param works too.
	if code := getJSON(t, ts.URL+"/api/status?api_key=secret", nil); code != 200 {
		t.Fatalf("/api/status with query key status=%d", code)
	}
}

func TestBodyLimit(t *testing.T) {
	t.Parallel()

	_, ts := newTestApp(t, nil, nil)

	big := strings.Repeat("x", models.DefaultMaxRequestBodyBytes+1)
	resp, err := http.Post(ts.URL+"/api/command", "application/json",
		strings.NewReader(`{"command":"`+big+`"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", resp.StatusCode)
	}
}

func TestMetricsFallback(t *testing.T) {
	t.Parallel()

	_, ts := newTestApp(t, nil, nil)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	sc := bufio.NewScanner(resp.Body)
	found := false
	for sc.Scan() {
		if strings.HasPrefix(sc.Text(), "warpengine_jobs_total{") {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected warpengine_jobs_total gauge lines")
	}
}
