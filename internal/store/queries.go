package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Timestamps are stored as unix milliseconds so FIFO claim ordering has
// sub-second resolution.

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

// --- Jobs ---

func (s *sqliteStore) CreateJob(ctx context.Context, job Job) error {
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
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO jobs(job_id, command, params, status, progress, created_at) VALUES(?, ?, ?, ?, ?, ?)`,
		job.JobID, job.Command, encodeMap(job.Params), job.Status, job.Progress, toMillis(job.CreatedAt))
	return err
}

func scanJob(scan func(dest ...any) error) (*Job, error) {
	var (
		j           Job
		params      string
		createdAt   int64
		startedAt   sql.NullInt64
		completedAt sql.NullInt64
	)
	if err := scan(&j.JobID, &j.Command, &params, &j.Status, &j.Progress, &j.Result, &j.Error, &createdAt, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	j.Params = decodeMap(params)
	j.CreatedAt = fromMillis(createdAt)
	if startedAt.Valid {
		t := fromMillis(startedAt.Int64)
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := fromMillis(completedAt.Int64)
		j.CompletedAt = &t
	}
	return &j, nil
}

func (s *sqliteStore) GetJob(ctx context.Context, jobID string) (*Job, error) {
	row := s.stmtGetJob.QueryRowContext(ctx, jobID)
	j, err := scanJob(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
		}
		return nil, err
	}
	return j, nil
}

func (s *sqliteStore) ListJobs(ctx context.Context, status string, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + jobColumns + ` FROM jobs`
	args := []any{}
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY created_at DESC, job_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

func (s *sqliteStore) NextPendingJob(ctx context.Context) (*Job, error) {
	row := s.stmtNextPending.QueryRowContext(ctx)
	j, err := scanJob(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return j, nil
}

// ClaimJob transitions a pending job to running. Returns false when another
// worker already claimed it (or it was cancelled); the conditional UPDATE is
// what guarantees at-most-one claim.
func (s *sqliteStore) ClaimJob(ctx context.Context, jobID string) (bool, error) {
	res, err := s.stmtClaimJob.ExecContext(ctx, toMillis(time.Now()), jobID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqliteStore) CompleteJob(ctx context.Context, jobID, result string) error {
	return s.finishJob(ctx, jobID, "completed", result, "")
}

func (s *sqliteStore) FailJob(ctx context.Context, jobID, cause string) error {
	return s.finishJob(ctx, jobID, "failed", "", cause)
}

// finishJob only moves running jobs to a terminal state; terminal jobs are immutable.
func (s *sqliteStore) finishJob(ctx context.Context, jobID, status, result, cause string) error {
	progress := 100
	if status == "failed" {
		progress = 0
	}
	res, err := s.DB.ExecContext(ctx,
		`UPDATE jobs SET status=?, result=?, error=?, progress=?, completed_at=? WHERE job_id=? AND status='running'`,
		status, result, cause, progress, toMillis(time.Now()), jobID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("job %s is not running", jobID)
	}
	return nil
}

func (s *sqliteStore) CancelPendingJob(ctx context.Context, jobID string) (bool, error) {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE jobs SET status='cancelled', completed_at=? WHERE job_id=? AND status='pending'`,
		toMillis(time.Now()), jobID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqliteStore) SetJobProgress(ctx context.Context, jobID string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	_, err := s.stmtSetProgress.ExecContext(ctx, progress, jobID)
	return err
}

func (s *sqliteStore) AppendJobLog(ctx context.Context, jobID, line string) error {
	_, err := s.stmtAppendJobLog.ExecContext(ctx, jobID, line, toMillis(time.Now()))
	return err
}

func (s *sqliteStore) ListJobLogs(ctx context.Context, jobID string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT line FROM job_logs WHERE job_id = ? ORDER BY log_id ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

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

func (s *sqliteStore) CountJobsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

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

func (s *sqliteStore) AppendStage(ctx context.Context, stage Stage) error {
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
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO stages(stage_id, root_id, parent_id, tag, payload, created_at) VALUES(?, ?, ?, ?, ?, ?)`,
		stage.StageID, stage.RootID, stage.ParentID, stage.Tag, encodeMap(stage.Payload), toMillis(stage.CreatedAt))
	return err
}

func scanStage(scan func(dest ...any) error) (*Stage, error) {
	var (
		st        Stage
		payload   string
		createdAt int64
	)
	if err := scan(&st.StageID, &st.RootID, &st.ParentID, &st.Tag, &payload, &createdAt); err != nil {
		return nil, err
	}
	st.Payload = decodeMap(payload)
	st.CreatedAt = fromMillis(createdAt)
	return &st, nil
}

func (s *sqliteStore) GetStage(ctx context.Context, stageID string) (*Stage, error) {
	row := s.stmtGetStage.QueryRowContext(ctx, stageID)
	st, err := scanStage(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("stage %s: %w", stageID, ErrNotFound)
		}
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) ListStagesForRoot(ctx context.Context, rootID string) ([]Stage, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT stage_id, root_id, parent_id, tag, payload, created_at FROM stages WHERE root_id = ? ORDER BY created_at ASC, stage_id ASC`, rootID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Stage
	for rows.Next() {
		st, err := scanStage(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListStageChildren(ctx context.Context, stageID string) ([]Stage, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT stage_id, root_id, parent_id, tag, payload, created_at FROM stages WHERE parent_id = ? ORDER BY created_at ASC, stage_id ASC`, stageID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Stage
	for rows.Next() {
		st, err := scanStage(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// --- Agent registry ---

func (s *sqliteStore) PutAgent(ctx context.Context, rec AgentRecord, replace bool) error {
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

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var existingCreated int64
	err = tx.QueryRowContext(ctx, `SELECT created_at FROM agents WHERE slug = ?`, rec.Slug).Scan(&existingCreated)
	switch {
	case err == nil:
		if !replace {
			return fmt.Errorf("slug %q: %w", rec.Slug, ErrSlugExists)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE agents SET name=?, description=?, entry=?, plan_prompt=?, exec_prompt=?, refine_prompt=?, root_stage_id=?, updated_at=? WHERE slug=?`,
			rec.Name, rec.Description, rec.Entry, rec.PlanPrompt, rec.ExecPrompt, rec.RefinePrompt, rec.RootStageID, toMillis(rec.UpdatedAt), rec.Slug)
		if err != nil {
			return err
		}
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			`INSERT INTO agents(slug, name, description, entry, plan_prompt, exec_prompt, refine_prompt, root_stage_id, created_at, updated_at) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.Slug, rec.Name, rec.Description, rec.Entry, rec.PlanPrompt, rec.ExecPrompt, rec.RefinePrompt, rec.RootStageID, toMillis(rec.CreatedAt), toMillis(rec.UpdatedAt))
		if err != nil {
			return err
		}
	default:
		return err
	}
	return tx.Commit()
}

func scanAgent(scan func(dest ...any) error) (*AgentRecord, error) {
	var (
		a         AgentRecord
		createdAt int64
		updatedAt int64
	)
	if err := scan(&a.Slug, &a.Name, &a.Description, &a.Entry, &a.PlanPrompt, &a.ExecPrompt, &a.RefinePrompt, &a.RootStageID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	a.CreatedAt = fromMillis(createdAt)
	a.UpdatedAt = fromMillis(updatedAt)
	return &a, nil
}

func (s *sqliteStore) GetAgent(ctx context.Context, slug string) (*AgentRecord, error) {
	row := s.stmtGetAgent.QueryRowContext(ctx, slug)
	a, err := scanAgent(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("agent %s: %w", slug, ErrNotFound)
		}
		return nil, err
	}
	return a, nil
}

func (s *sqliteStore) ListAgents(ctx context.Context) ([]AgentRecord, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT slug, name, description, entry, plan_prompt, exec_prompt, refine_prompt, root_stage_id, created_at, updated_at FROM agents ORDER BY slug ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []AgentRecord
	for rows.Next() {
		a, err := scanAgent(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteAgent(ctx context.Context, slug string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM agents WHERE slug = ?`, slug)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("agent %s: %w", slug, ErrNotFound)
	}
	return nil
}

// --- Chain records ---

func (s *sqliteStore) PutChainRecord(ctx context.Context, rec ChainRecord) error {
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
	// Whole-record upsert: the chain writes the record once on completion.
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO chain_records(job_id, agent_slug, input, final, phases, metrics, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(job_id) DO UPDATE SET
  agent_slug=excluded.agent_slug, input=excluded.input, final=excluded.final,
  phases=excluded.phases, metrics=excluded.metrics`,
		rec.JobID, rec.AgentSlug, rec.Input, rec.Final, string(phases), string(metrics), toMillis(rec.CreatedAt))
	return err
}

func (s *sqliteStore) GetChainRecord(ctx context.Context, jobID string) (*ChainRecord, error) {
	var (
		rec       ChainRecord
		phases    string
		metrics   string
		createdAt int64
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT job_id, agent_slug, input, final, phases, metrics, created_at FROM chain_records WHERE job_id = ?`, jobID).
		Scan(&rec.JobID, &rec.AgentSlug, &rec.Input, &rec.Final, &phases, &metrics, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("chain record %s: %w", jobID, ErrNotFound)
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
