// Package models provides shared types for the Warp Engine HTTP API and external tools.
// These types mirror the API JSON and are stable for use by pkg/client and other consumers.
package models

import "time"

// Job is a tracked unit of asynchronous work with a lifecycle status.
type Job struct {
	JobID       string            `json:"job_id"`
	Command     string            `json:"command"`
	Params      map[string]string `json:"params,omitempty"`
	Status      string            `json:"status"`
	Progress    int               `json:"progress,omitempty"`
	Result      string            `json:"result,omitempty"`
	Error       string            `json:"error,omitempty"`
	Logs        []string          `json:"logs,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// Agent is a registered, runnable agent: metadata, prompts, and entry reference.
type Agent struct {
	Slug        string    `json:"slug"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Entry       string    `json:"entry"`
	Prompts     Prompts   `json:"prompts"`
	RootStageID string    `json:"root_stage_id,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Prompts is the fixed three-prompt protocol every agent carries.
type Prompts struct {
	Plan    string `json:"plan"`
	Execute string `json:"execute"`
	Refine  string `json:"refine"`
}

// Stage is one immutable step in an agent-creation chain.
type Stage struct {
	StageID   string            `json:"stage_id"`
	Tag       string            `json:"tag"`
	ParentID  string            `json:"parent_id,omitempty"`
	ChildIDs  []string          `json:"child_ids,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// ChainPhase is the timing and text of one completion-chain phase.
type ChainPhase struct {
	Name      string    `json:"name"`
	Input     string    `json:"input"`
	Output    string    `json:"output"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// ChainRecord is the persisted execution record of one three-phase chain run.
type ChainRecord struct {
	JobID     string       `json:"job_id"`
	AgentSlug string       `json:"agent_slug,omitempty"`
	Input     string       `json:"input"`
	Final     string       `json:"final"`
	Phases    []ChainPhase `json:"phases"`
	Metrics   TextMetrics  `json:"metrics"`
	CreatedAt time.Time    `json:"created_at"`
}

// TextMetrics are simple statistics computed over the final chain output.
type TextMetrics struct {
	Chars        int     `json:"chars"`
	Words        int     `json:"words"`
	Sentences    int     `json:"sentences"`
	UniqueWords  int     `json:"unique_words"`
	ReadingEase  float64 `json:"reading_ease"`
	GradeLevel   float64 `json:"grade_level"`
	AvgWordLen   float64 `json:"avg_word_len"`
	LexicalRatio float64 `json:"lexical_ratio"`
	TopBigrams   []Ngram `json:"top_bigrams,omitempty"`
	TopTrigrams  []Ngram `json:"top_trigrams,omitempty"`
}

// Ngram is a word n-gram and its occurrence count.
type Ngram struct {
	Text  string `json:"text"`
	Count int    `json:"count"`
}

// Status is the /api/status response.
type Status struct {
	Running       bool           `json:"running"`
	Jobs          map[string]int `json:"jobs"`
	Connections   int            `json:"connections"`
	UptimeSeconds float64        `json:"uptime_seconds"`
}

// RegisterRequest is the POST /api/agents body.
type RegisterRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Prompts     Prompts `json:"prompts"`
	Replace     bool    `json:"replace,omitempty"`
}

// RegisterResponse is the POST /api/agents reply.
type RegisterResponse struct {
	Slug  string `json:"slug"`
	Entry string `json:"entry"`
}

// CommandRequest is the POST /api/command body and the /ws execute message payload.
type CommandRequest struct {
	Command string            `json:"command"`
	Params  map[string]string `json:"params,omitempty"`
}

// CommandResponse is the POST /api/command reply.
type CommandResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}
