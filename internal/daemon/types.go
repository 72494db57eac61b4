package daemon

// StartOptions configures the daemon (home, listen port, worker pool, runtime, DB).
type StartOptions struct {
	Home          string
	Port          int
	Workers       int  // job queue worker pool size; 0 = default
	Dev           bool // enable CORS for local tooling on another origin
	PprofAddr     string
	Runtime       string // "chain" (default), "stub", or "subprocess"
	SandboxAgents bool   // run subprocess agents inside bubblewrap (Linux only)
	DBDriver      string // "sqlite" (default) or "postgres"
	DBURL         string // for postgres: connection string (or DATABASE_URL env)
	// Completion API endpoint; when unset, WARP_ENGINE_API_BASE and
	// WARP_ENGINE_API_KEY from the environment apply.
	APIBase    string
	APIKey     string
	EnableOtel bool // OpenTelemetry metrics (Prometheus exporter + HTTP/SSE/job instrumentation)
}

// StatusInfo is the result of Status (running or not, PID, listen addr).
type StatusInfo struct {
	Running bool
	PID     int
	Addr    string
}
