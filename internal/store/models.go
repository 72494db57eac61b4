// Package store defines the persistence interface and shared models for jobs,
// stages, the agent registry, and chain execution records.
package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a job, stage, agent, or chain record does not exist.
var ErrNotFound = errors.New("not found")

// ErrSlugExists is returned by PutAgent when the slug is already registered
// and replace was not requested.
var ErrSlugExists = errors.New("agent slug already registered")

// Job is a tracked unit of asynchronous work.
type Job struct {
	JobID       string
	Command     string
	Params      map[string]string
	Status      string
	Progress    int
	Result      string
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Stage is one immutable step of an agent-creation chain. Parent/child links
// are stored as identities, never pointers; RootID addresses the whole chain.
type Stage struct {
	StageID   string
	RootID    string
	ParentID  string
	Tag       string
	Payload   map[string]string
	CreatedAt time.Time
}

// AgentRecord is a registered agent: slug, prompts, and entry reference.
type AgentRecord struct {
	Slug         string
	Name         string
	Description  string
	Entry        string
	PlanPrompt   string
	ExecPrompt   string
	RefinePrompt string
	RootStageID  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ChainPhase is the timing and text of one completion-chain phase.
type ChainPhase struct {
	Name      string    `json:"name"`
	Input     string    `json:"input"`
	Output    string    `json:"output"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// ChainMetrics are the text statistics computed over the final output.
type ChainMetrics struct {
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

// Ngram is a word n-gram and its occurrence count within the final text.
type Ngram struct {
	Text  string `json:"text"`
	Count int    `json:"count"`
}

// ChainRecord is the persisted record of one three-phase chain run.
// Written whole; immutable once finalized.
type ChainRecord struct {
	JobID     string
	AgentSlug string
	Input     string
	Final     string
	Phases    []ChainPhase
	Metrics   ChainMetrics
	CreatedAt time.Time
}
