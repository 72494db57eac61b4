package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/DylanCkawalec/warp-engine/internal/queue"
	"github.com/DylanCkawalec/warp-engine/internal/registry"
	"github.com/DylanCkawalec/warp-engine/internal/store"
	"github.com/DylanCkawalec/warp-engine/internal/ui"
	"github.com/DylanCkawalec/warp-engine/pkg/models"
)

// limitBody wraps r.Body with http.MaxBytesReader so handlers cannot read more than maxBytes.
func limitBody(w http.ResponseWriter, r *http.Request, maxBytes int64) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
}

// bodyLimitMiddleware limits request body size for POST, PUT, PATCH to prevent OOM.
func bodyLimitMiddleware(maxBytes int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			limitBody(w, r, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware sets CORS headers for dev mode (local tooling on a different origin).
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServerOptions configures the HTTP server (home dir, listen addr, API key, metrics).
type ServerOptions struct {
	Home           string
	Addr           string
	Dev            bool
	APIKey         string       // if set, require X-API-Key header or query api_key
	MetricsHandler http.Handler // if set, used for /metrics (e.g. OTel Prometheus handler)
	UseOtelHTTP    bool         // if true, wrap handler with otelhttp for request metrics

	Store    store.Store
	Queue    *queue.Queue
	Registry *registry.Registry
}

// App holds the HTTP server, SSE hub, store, job queue, agent registry, and home path.
type App struct {
	Server   *http.Server
	Hub      *SSEHub
	Store    store.Store
	Queue    *queue.Queue
	Registry *registry.Registry
	Home     string

	startedAt time.Time
}

// NewServer builds an HTTP server from options; prefer NewApp for access to the app itself.
func NewServer(opts ServerOptions) *http.Server {
	app, err := NewApp(opts)
	if err != nil {
		panic(err)
	}
	return app.Server
}

func NewApp(opts ServerOptions) (*App, error) {
	if opts.Store == nil || opts.Queue == nil || opts.Registry == nil {
		return nil, errors.New("httpapi: Store, Queue, and Registry are required")
	}
	hub := NewSSEHub()
	if opts.Queue.Publish == nil {
		opts.Queue.Publish = hub
	}

	a := &App{
		Hub:       hub,
		Store:     opts.Store,
		Queue:     opts.Queue,
		Registry:  opts.Registry,
		Home:      opts.Home,
		startedAt: time.Now(),
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})

	if opts.MetricsHandler != nil {
		mux.Handle("/metrics", opts.MetricsHandler)
	} else {
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			counts, _ := a.Store.CountJobsByStatus(r.Context())
			_, _ = fmt.Fprintf(w, "# TYPE warpengine_jobs_total gauge\n")
			for _, status := range []string{
				models.StatusPending, models.StatusRunning,
				models.StatusCompleted, models.StatusFailed, models.StatusCancelled,
			} {
				_, _ = fmt.Fprintf(w, "warpengine_jobs_total{status=%q} %d\n", status, counts[status])
			}
		})
	}

	mux.HandleFunc("/stream", hub.Handler())
	mux.HandleFunc("/ws", a.handleWS)

	mux.HandleFunc("/api/command", a.handleCommand)
	mux.HandleFunc("/api/status", a.handleStatus)
	mux.HandleFunc("/api/jobs", a.handleJobs)
	mux.HandleFunc("/api/jobs/", a.handleJobByID)
	mux.HandleFunc("/api/agents", a.handleAgents)
	mux.HandleFunc("/api/agents/", a.handleAgentBySlug)
	mux.Handle("/", ui.Handler())

	var handler http.Handler = mux
	handler = bodyLimitMiddleware(models.DefaultMaxRequestBodyBytes, handler)
	if opts.Dev {
		handler = corsMiddleware(handler)
	}
	if opts.APIKey != "" {
		handler = apiKeyMiddleware(opts.APIKey, handler)
	}
	handler = requestLogMiddleware(handler)
	if opts.UseOtelHTTP {
		handler = otelhttp.NewHandler(handler, "warp-engine")
	}
	a.Server = &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return a, nil
}

// handleCommand accepts a CommandRequest and enqueues a job for it.
func (a *App) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body models.CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if body.Command == "" {
		writeJSONError(w, http.StatusBadRequest, "command required")
		return
	}
	jobID, err := a.Queue.Submit(r.Context(), body.Command, body.Params)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, models.CommandResponse{JobID: jobID, Status: models.StatusPending})
}

func (a *App) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	counts, err := a.Store.CountJobsByStatus(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, models.Status{
		Running:       true,
		Jobs:          counts,
		Connections:   a.Hub.Count(),
		UptimeSeconds: time.Since(a.startedAt).Seconds(),
	})
}

func (a *App) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := r.URL.Query().Get("status")
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	jobs, err := a.Queue.List(r.Context(), status, limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]models.Job, 0, len(jobs))
	for i := range jobs {
		out = append(out, jobModel(&jobs[i], nil))
	}
	writeJSON(w, out)
}

// handleJobByID serves /api/jobs/{id}, /api/jobs/{id}/logs,
// /api/jobs/{id}/cancel, and /api/jobs/{id}/chain.
func (a *App) handleJobByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	parts := strings.Split(rest, "/")
	if len(parts) < 1 || parts[0] == "" {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	jobID := parts[0]

	if len(parts) == 1 || parts[1] == "" {
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		job, err := a.Store.GetJob(r.Context(), jobID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		logs, _ := a.Store.ListJobLogs(r.Context(), jobID)
		writeJSON(w, jobModel(job, logs))
		return
	}

	switch parts[1] {
	case "logs":
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if _, err := a.Store.GetJob(r.Context(), jobID); err != nil {
			writeStoreError(w, err)
			return
		}
		if wantsLogStream(r) {
			a.streamJobLogs(w, r, jobID)
			return
		}
		logs, err := a.Store.ListJobLogs(r.Context(), jobID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, map[string]any{"job_id": jobID, "logs": logs})
	case "cancel":
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if _, err := a.Store.GetJob(r.Context(), jobID); err != nil {
			writeStoreError(w, err)
			return
		}
		cancelled, err := a.Queue.Cancel(r.Context(), jobID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, map[string]any{"job_id": jobID, "cancelled": cancelled})
	case "chain":
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		rec, err := a.Store.GetChainRecord(r.Context(), jobID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, chainModel(rec))
	default:
		writeJSONError(w, http.StatusNotFound, "not found")
	}
}

func (a *App) handleAgents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		agents, err := a.Registry.List(r.Context())
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out := make([]models.Agent, 0, len(agents))
		for i := range agents {
			out = append(out, agentModel(&agents[i]))
		}
		writeJSON(w, out)
	case http.MethodPost:
		var body models.RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if body.Name == "" {
			writeJSONError(w, http.StatusBadRequest, "name required")
			return
		}
		rec := store.AgentRecord{
			Name:         body.Name,
			Description:  body.Description,
			PlanPrompt:   body.Prompts.Plan,
			ExecPrompt:   body.Prompts.Execute,
			RefinePrompt: body.Prompts.Refine,
		}
		rec.Entry = filepath.Join(a.Home, "bin", registry.Slugify(body.Name))
		saved, err := a.Registry.Register(r.Context(), rec, body.Replace)
		if err != nil {
			if errors.Is(err, store.ErrSlugExists) {
				writeJSONError(w, http.StatusConflict, err.Error())
				return
			}
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, models.RegisterResponse{Slug: saved.Slug, Entry: saved.Entry})
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleAgentBySlug serves /api/agents/{slug} and /api/agents/{slug}/stages.
func (a *App) handleAgentBySlug(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/agents/")
	parts := strings.Split(rest, "/")
	if len(parts) < 1 || parts[0] == "" {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	slug := parts[0]

	if len(parts) == 1 || parts[1] == "" {
		switch r.Method {
		case http.MethodGet:
			rec, err := a.Registry.Get(r.Context(), slug)
			if err != nil {
				writeStoreError(w, err)
				return
			}
			writeJSON(w, agentModel(rec))
		case http.MethodDelete:
			if err := a.Registry.Delete(r.Context(), slug); err != nil {
				writeStoreError(w, err)
				return
			}
			a.Hub.PublishJSON(map[string]any{"type": "agent_update", "slug": slug})
			writeJSON(w, map[string]any{"ok": true})
		default:
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	if parts[1] != "stages" {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rec, err := a.Registry.Get(r.Context(), slug)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if rec.RootStageID == "" {
		writeJSON(w, []models.Stage{})
		return
	}
	stages, err := a.Store.ListStagesForRoot(r.Context(), rec.RootStageID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, stageModels(stages))
}

// writeStoreError maps store sentinel errors onto HTTP status codes.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrSlugExists):
		writeJSONError(w, http.StatusConflict, err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

func jobModel(j *store.Job, logs []string) models.Job {
	return models.Job{
		JobID:       j.JobID,
		Command:     j.Command,
		Params:      j.Params,
		Status:      j.Status,
		Progress:    j.Progress,
		Result:      j.Result,
		Error:       j.Error,
		Logs:        logs,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}

func agentModel(rec *store.AgentRecord) models.Agent {
	return models.Agent{
		Slug:        rec.Slug,
		Name:        rec.Name,
		Description: rec.Description,
		Entry:       rec.Entry,
		Prompts: models.Prompts{
			Plan:    rec.PlanPrompt,
			Execute: rec.ExecPrompt,
			Refine:  rec.RefinePrompt,
		},
		RootStageID: rec.RootStageID,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
}

// stageModels converts stored stages to their API shape, deriving each
// stage's child ids from the sibling set.
func stageModels(stages []store.Stage) []models.Stage {
	children := make(map[string][]string)
	for _, s := range stages {
		if s.ParentID != "" {
			children[s.ParentID] = append(children[s.ParentID], s.StageID)
		}
	}
	out := make([]models.Stage, 0, len(stages))
	for _, s := range stages {
		out = append(out, models.Stage{
			StageID:   s.StageID,
			Tag:       s.Tag,
			ParentID:  s.ParentID,
			ChildIDs:  children[s.StageID],
			Payload:   s.Payload,
			CreatedAt: s.CreatedAt,
		})
	}
	return out
}

func chainModel(rec *store.ChainRecord) models.ChainRecord {
	phases := make([]models.ChainPhase, 0, len(rec.Phases))
	for _, p := range rec.Phases {
		phases = append(phases, models.ChainPhase{
			Name:      p.Name,
			Input:     p.Input,
			Output:    p.Output,
			StartedAt: p.StartedAt,
			EndedAt:   p.EndedAt,
		})
	}
	return models.ChainRecord{
		JobID:     rec.JobID,
		AgentSlug: rec.AgentSlug,
		Input:     rec.Input,
		Final:     rec.Final,
		Phases:    phases,
		Metrics: models.TextMetrics{
			Chars:        rec.Metrics.Chars,
			Words:        rec.Metrics.Words,
			Sentences:    rec.Metrics.Sentences,
			UniqueWords:  rec.Metrics.UniqueWords,
			ReadingEase:  rec.Metrics.ReadingEase,
			GradeLevel:   rec.Metrics.GradeLevel,
			AvgWordLen:   rec.Metrics.AvgWordLen,
			LexicalRatio: rec.Metrics.LexicalRatio,
			TopBigrams:   ngramModels(rec.Metrics.TopBigrams),
			TopTrigrams:  ngramModels(rec.Metrics.TopTrigrams),
		},
		CreatedAt: rec.CreatedAt,
	}
}

func ngramModels(in []store.Ngram) []models.Ngram {
	if len(in) == 0 {
		return nil
	}
	out := make([]models.Ngram, len(in))
	for i, g := range in {
		out[i] = models.Ngram{Text: g.Text, Count: g.Count}
	}
	return out
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func apiKeyMiddleware(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/health" || path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if key != apiKey {
			writeJSONError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		slog.Info("request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeJSONError sends a JSON body {"error": "message"} with the given status code.
func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message})
}
