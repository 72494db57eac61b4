package models

// Job statuses used throughout the codebase.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Commands accepted by the job queue.
const (
	CommandCreateAgent  = "create_agent"
	CommandRunAgent     = "run_agent"
	CommandDeleteAgent  = "delete_agent"
	CommandUpdateAgent  = "update_agent"
	CommandListAgents   = "list_agents"
	CommandGetRegistry  = "get_registry"
	CommandServerStatus = "server_status"
)

// Stage tags in their fixed vocabulary order.
const (
	StagePromptReceived   = "prompt_received"
	StagePromptRefined    = "prompt_refined"
	StageTemplateSelected = "template_selected"
	StageCodeGenerated    = "code_generated"
	StageCodeInjected     = "code_injected"
	StageAgentRegistered  = "agent_registered"
	StageBinaryCompiled   = "binary_compiled"
)

// Chain phase names.
const (
	PhasePlan    = "plan"
	PhaseExecute = "execute"
	PhaseRefine  = "refine"
)

// Default limits.
const (
	DefaultMaxRequestBodyBytes = 1 << 20 // 1 MiB
	DefaultJobListLimit        = 1000
	DefaultSSEChannelBuffer    = 256
	DefaultWorkerPoolSize      = 4
	DefaultPromptTokenBudget   = 500
)
