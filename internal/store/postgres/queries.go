package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/DylanCkawalec/warp-engine/internal/store"
)

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func encodeMap(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func decodeMap(s string) map[string]string {
	if s == "" || s == "{}" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}

const jobColumns = `job_id, command, params, status, progress, result, error, created_at, started_at, completed_at`

// --- Jobs ---

func (s *Store) CreateJob(ctx context.Context, job store.Job) error {
	if job.JobID == "" {
		return errors.New("job id required")
	}
	if job.Command == "" {
		return errors.New("job command required")
	}
	if job.Status == "" {
		job.Status = "pending"
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO jobs(job_id, command, params, status, progress, created_at) VALUES($1, $2, $3, $4, $5, $6)`,
		job.JobID, job.Command, encodeMap(job.Params), job.Status, job.Progress, toMillis(job.CreatedAt))
	return err
}

func scanJob(row pgx.Row) (*store.Job, error) {
	var (
		j           store.Job
		params      string
		createdAt   int64
		startedAt   *int64
		completedAt *int64
	)
	if err := row.Scan(&j.JobID, &j.Command, &params, &j.Status, &j.Progress, &j.Result, &j.Error, &createdAt, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	j.Params = decodeMap(params)
	j.CreatedAt = fromMillis(createdAt)
	if startedAt != nil {
		t := fromMillis(*startedAt)
		j.StartedAt = &t
	}
	if completedAt != nil {
		t := fromMillis(*completedAt)
		j.CompletedAt = &t
	}
	return &j, nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*store.Job, error) {
	j, err := scanJob(s.Pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = $1`, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", jobID, store.ErrNotFound)
		}
		return nil, err
	}
	return j, nil
}

func (s *Store) ListJobs(ctx context.Context, status string, limit int) ([]store.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + jobColumns + ` FROM jobs`
	args := []any{}
	if status != "" {
		q += ` WHERE status = $1 ORDER BY created_at DESC, job_id DESC LIMIT $2`
		args = append(args, status, limit)
	} else {
		q += ` ORDER BY created_at DESC, job_id DESC LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

func (s *Store) NextPendingJob(ctx context.Context) (*store.Job, error) {
	j, err := scanJob(s.Pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = 'pending' ORDER BY created_at ASC, job_id ASC LIMIT 1`))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return j, nil
}

func (s *Store) ClaimJob(ctx context.Context, jobID string) (bool, error) {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE jobs SET status='running', started_at=$1 WHERE job_id=$2 AND status='pending'`,
		toMillis(time.Now()), jobID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) CompleteJob(ctx context.Context, jobID, result string) error {
	return s.finishJob(ctx, jobID, "completed", result, "")
}

func (s *Store) FailJob(ctx context.Context, jobID, cause string) error {
	return s.finishJob(ctx, jobID, "failed", "", cause)
}

func (s *Store) finishJob(ctx context.Context, jobID, status, result, cause string) error {
	progress := 100
	if status == "failed" {
		progress = 0
	}
	tag, err := s.Pool.Exec(ctx,
		`UPDATE jobs SET status=$1, result=$2, error=$3, progress=$4, completed_at=$5 WHERE job_id=$6 AND status='running'`,
		status, result, cause, progress, toMillis(time.Now()), jobID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("job %s is not running", jobID)
	}
	return nil
}

func (s *Store) CancelPendingJob(ctx context.Context, jobID string) (bool, error) {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE jobs SET status='cancelled', completed_at=$1 WHERE job_id=$2 AND status='pending'`,
		toMillis(time.Now()), jobID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) SetJobProgress(ctx context.Context, jobID string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	_, err := s.Pool.Exec(ctx, `UPDATE jobs SET progress=$1 WHERE job_id=$2`, progress, jobID)
	return err
}

func (s *Store) AppendJobLog(ctx context.Context, jobID, line string) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO job_logs(job_id, line, created_at) VALUES($1, $2, $3)`,
		jobID, line, toMillis(time.Now()))
	return err
}

func (s *Store) ListJobLogs(ctx context.Context, jobID string) ([]string, error) {
	rows, err := s.Pool.Query(ctx, `SELECT line FROM job_logs WHERE job_id = $1 ORDER BY log_id ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

func (s *Store) CountJobsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.Pool.Query(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

// --- Stages ---

func (s *Store) AppendStage(ctx context.Context, stage store.Stage) error {
	if stage.StageID == "" {
		return errors.New("stage id required")
	}
	if stage.Tag == "" {
		return errors.New("stage tag required")
	}
	if stage.RootID == "" {
		stage.RootID = stage.StageID
	}
	if stage.CreatedAt.IsZero() {
		stage.CreatedAt = time.Now().UTC()
	}
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO stages(stage_id, root_id, parent_id, tag, payload, created_at) VALUES($1, $2, $3, $4, $5, $6)`,
		stage.StageID, stage.RootID, stage.ParentID, stage.Tag, encodeMap(stage.Payload), toMillis(stage.CreatedAt))
	return err
}

func scanStage(row pgx.Row) (*store.Stage, error) {
	var (
		st        store.Stage
		payload   string
		createdAt int64
	)
	if err := row.Scan(&st.StageID, &st.RootID, &st.ParentID, &st.Tag, &payload, &createdAt); err != nil {
		return nil, err
	}
	st.Payload = decodeMap(payload)
	st.CreatedAt = fromMillis(createdAt)
	return &st, nil
}

func (s *Store) GetStage(ctx context.Context, stageID string) (*store.Stage, error) {
	st, err := scanStage(s.Pool.QueryRow(ctx,
		`SELECT stage_id, root_id, parent_id, tag, payload, created_at FROM stages WHERE stage_id = $1`, stageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("stage %s: %w", stageID, store.ErrNotFound)
		}
		return nil, err
	}
	return st, nil
}

func (s *Store) ListStagesForRoot(ctx context.Context, rootID string) ([]store.Stage, error) {
	return s.listStages(ctx,
		`SELECT stage_id, root_id, parent_id, tag, payload, created_at FROM stages WHERE root_id = $1 ORDER BY created_at ASC, stage_id ASC`, rootID)
}

func (s *Store) ListStageChildren(ctx context.Context, stageID string) ([]store.Stage, error) {
	return s.listStages(ctx,
		`SELECT stage_id, root_id, parent_id, tag, payload, created_at FROM stages WHERE parent_id = $1 ORDER BY created_at ASC, stage_id ASC`, stageID)
}

func (s *Store) listStages(ctx context.Context, q string, arg any) ([]store.Stage, error) {
	rows, err := s.Pool.Query(ctx, q, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Stage
	for rows.Next() {
		st, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// --- Agent registry ---

func (s *Store) PutAgent(ctx context.Context, rec store.AgentRecord, replace bool) error {
	if rec.Slug == "" {
		return errors.New("agent slug required")
	}
	if rec.Name == "" {
		return errors.New("agent name required")
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var existingCreated int64
	err = tx.QueryRow(ctx, `SELECT created_at FROM agents WHERE slug = $1 FOR UPDATE`, rec.Slug).Scan(&existingCreated)
	switch {
	case err == nil:
		if !replace {
			return fmt.Errorf("slug %q: %w", rec.Slug, store.ErrSlugExists)
		}
		_, err = tx.Exec(ctx,
			`UPDATE agents SET name=$1, description=$2, entry=$3, plan_prompt=$4, exec_prompt=$5, refine_prompt=$6, root_stage_id=$7, updated_at=$8 WHERE slug=$9`,
			rec.Name, rec.Description, rec.Entry, rec.PlanPrompt, rec.ExecPrompt, rec.RefinePrompt, rec.RootStageID, toMillis(rec.UpdatedAt), rec.Slug)
		if err != nil {
			return err
		}
	case errors.Is(err, pgx.ErrNoRows):
		_, err = tx.Exec(ctx,
			`INSERT INTO agents(slug, name, description, entry, plan_prompt, exec_prompt, refine_prompt, root_stage_id, created_at, updated_at) VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			rec.Slug, rec.Name, rec.Description, rec.Entry, rec.PlanPrompt, rec.ExecPrompt, rec.RefinePrompt, rec.RootStageID, toMillis(rec.CreatedAt), toMillis(rec.UpdatedAt))
		if err != nil {
			return err
		}
	default:
		return err
	}
	return tx.Commit(ctx)
}

func scanAgent(row pgx.Row) (*store.AgentRecord, error) {
	var (
		a         store.AgentRecord
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&a.Slug, &a.Name, &a.Description, &a.Entry, &a.PlanPrompt, &a.ExecPrompt, &a.RefinePrompt, &a.RootStageID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	a.CreatedAt = fromMillis(createdAt)
	a.UpdatedAt = fromMillis(updatedAt)
	return &a, nil
}

func (s *Store) GetAgent(ctx context.Context, slug string) (*store.AgentRecord, error) {
	a, err := scanAgent(s.Pool.QueryRow(ctx,
		`SELECT slug, name, description, entry, plan_prompt, exec_prompt, refine_prompt, root_stage_id, created_at, updated_at FROM agents WHERE slug = $1`, slug))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("agent %s: %w", slug, store.ErrNotFound)
		}
		return nil, err
	}
	return a, nil
}

func (s *Store) ListAgents(ctx context.Context) ([]store.AgentRecord, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT slug, name, description, entry, plan_prompt, exec_prompt, refine_prompt, root_stage_id, created_at, updated_at FROM agents ORDER BY slug ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.AgentRecord
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) DeleteAgent(ctx context.Context, slug string) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM agents WHERE slug = $1`, slug)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("agent %s: %w", slug, store.ErrNotFound)
	}
	return nil
}

// --- Chain records ---

func (s *Store) PutChainRecord(ctx context.Context, rec store.ChainRecord) error {
	if rec.JobID == "" {
		return errors.New("chain record job id required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	phases, err := json.Marshal(rec.Phases)
	if err != nil {
		return err
	}
	metrics, err := json.Marshal(rec.Metrics)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx, `
INSERT INTO chain_records(job_id, agent_slug, input, final, phases, metrics, created_at)
VALUES($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (job_id) DO UPDATE SET
  agent_slug=EXCLUDED.agent_slug, input=EXCLUDED.input, final=EXCLUDED.final,
  phases=EXCLUDED.phases, metrics=EXCLUDED.metrics`,
		rec.JobID, rec.AgentSlug, rec.Input, rec.Final, string(phases), string(metrics), toMillis(rec.CreatedAt))
	return err
}

func (s *Store) GetChainRecord(ctx context.Context, jobID string) (*store.ChainRecord, error) {
	var (
		rec       store.ChainRecord
		phases    string
		metrics   string
		createdAt int64
	)
	err := s.Pool.QueryRow(ctx,
		`SELECT job_id, agent_slug, input, final, phases, metrics, created_at FROM chain_records WHERE job_id = $1`, jobID).
		Scan(&rec.JobID, &rec.AgentSlug, &rec.Input, &rec.Final, &phases, &metrics, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("chain record %s: %w", jobID, store.ErrNotFound)
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(phases), &rec.Phases); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(metrics), &rec.Metrics); err != nil {
		return nil, err
	}
	rec.CreatedAt = fromMillis(createdAt)
	return &rec, nil
}
