package store

import "context"

// Store is the persistence interface for jobs, stages, agents, and chain records.
// Implementations: the SQLite store in this package and *postgres.Store.
//
// Writers to the same job id or slug are serialized by the database; stage
// writes are append-only and never rewritten in place.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (*Job, error)
	ListJobs(ctx context.Context, status string, limit int) ([]Job, error)
	NextPendingJob(ctx context.Context) (*Job, error)
	ClaimJob(ctx context.Context, jobID string) (bool, error)
	CompleteJob(ctx context.Context, jobID, result string) error
	FailJob(ctx context.Context, jobID, cause string) error
	CancelPendingJob(ctx context.Context, jobID string) (bool, error)
	SetJobProgress(ctx context.Context, jobID string, progress int) error
	AppendJobLog(ctx context.Context, jobID, line string) error
	ListJobLogs(ctx context.Context, jobID string) ([]string, error)
	CountJobsByStatus(ctx context.Context) (map[string]int, error)

	// Stages (append-only)
	AppendStage(ctx context.Context, stage Stage) error
	GetStage(ctx context.Context, stageID string) (*Stage, error)
	ListStagesForRoot(ctx context.Context, rootID string) ([]Stage, error)
	ListStageChildren(ctx context.Context, stageID string) ([]Stage, error)

	// Agent registry
	PutAgent(ctx context.Context, rec AgentRecord, replace bool) error
	GetAgent(ctx context.Context, slug string) (*AgentRecord, error)
	ListAgents(ctx context.Context) ([]AgentRecord, error)
	DeleteAgent(ctx context.Context, slug string) error

	// Chain records
	PutChainRecord(ctx context.Context, rec ChainRecord) error
	GetChainRecord(ctx context.Context, jobID string) (*ChainRecord, error)

	// Lifecycle
	Close() error
}
