// Package queue accepts commands as Jobs and executes them on a worker
// pool. Submission never blocks on execution; each job is claimed by
// at most one worker, and every status transition is durably written
// before it is published.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/DylanCkawalec/warp-engine/internal/store"
	"github.com/DylanCkawalec/warp-engine/pkg/models"
)

// Publisher receives job events after their store write. The realtime
// hub satisfies this.
type Publisher interface {
	PublishJSON(v any)
}

// Reporter lets handlers emit progress and log lines for their job.
type Reporter interface {
	Progress(percent int, note string)
	Log(line string)
}

// Handler executes one command. The returned string becomes the job
// result; a non-nil error fails the job with the error text preserved.
type Handler func(ctx context.Context, job *store.Job, rep Reporter) (string, error)

// Queue is the job queue and worker pool.
type Queue struct {
	Store   store.Store
	Log     *slog.Logger
	Publish Publisher

	// Workers is the pool size; zero uses the default.
	Workers int
	// PollInterval bounds how long an idle worker sleeps between
	// queue checks; zero uses a 200ms default.
	PollInterval time.Duration

	mu       sync.RWMutex
	handlers map[string]Handler

	wake    chan struct{}
	cancels sync.Map // job_id -> context.CancelFunc for running jobs
}

// New returns a Queue over st publishing to pub. A nil logger discards
// output; a nil publisher drops events.
func New(st store.Store, pub Publisher, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Queue{
		Store:    st,
		Log:      log,
		Publish:  pub,
		handlers: make(map[string]Handler),
		wake:     make(chan struct{}, 1),
	}
}

// Register binds a command name to its handler. Registration after
// Run has started is not supported.
func (q *Queue) Register(command string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[command] = h
}

// Commands returns the registered command names, sorted.
func (q *Queue) Commands() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]string, 0, len(q.handlers))
	for c := range q.handlers {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (q *Queue) handler(command string) (Handler, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	h, ok := q.handlers[command]
	return h, ok
}

// Submit enqueues a pending job for command and returns its id
// immediately. Unknown commands are rejected synchronously; no job is
// created.
func (q *Queue) Submit(ctx context.Context, command string, params map[string]string) (string, error) {
	if _, ok := q.handler(command); !ok {
		return "", fmt.Errorf("unknown command %q", command)
	}
	job := store.Job{
		JobID:     uuid.NewString(),
		Command:   command,
		Params:    params,
		Status:    models.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := q.Store.CreateJob(ctx, job); err != nil {
		return "", err
	}
	q.publishJob(ctx, job.JobID)
	q.Log.Info("job submitted", "job_id", job.JobID, "command", command)

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return job.JobID, nil
}

// Get returns the job for id.
func (q *Queue) Get(ctx context.Context, jobID string) (*store.Job, error) {
	return q.Store.GetJob(ctx, jobID)
}

// List returns jobs, optionally filtered by status, newest first.
func (q *Queue) List(ctx context.Context, status string, limit int) ([]store.Job, error) {
	if limit <= 0 {
		limit = models.DefaultJobListLimit
	}
	return q.Store.ListJobs(ctx, status, limit)
}

// Cancel requests cancellation: a pending job is removed before any
// worker claims it; a running job's context is cancelled and the worker
// stops at its next check. Terminal jobs return false.
func (q *Queue) Cancel(ctx context.Context, jobID string) (bool, error) {
	cancelled, err := q.Store.CancelPendingJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if cancelled {
		q.publishJob(ctx, jobID)
		q.Log.Info("pending job cancelled", "job_id", jobID)
		return true, nil
	}
	if c, ok := q.cancels.Load(jobID); ok {
		c.(context.CancelFunc)()
		q.Log.Info("running job cancellation requested", "job_id", jobID)
		return true, nil
	}
	return false, nil
}

// Run executes jobs until ctx is cancelled. It blocks; callers run it
// in a goroutine. Workers never terminate due to a single job failing.
func (q *Queue) Run(ctx context.Context) error {
	workers := q.Workers
	if workers <= 0 {
		workers = models.DefaultWorkerPoolSize
	}
	poll := q.PollInterval
	if poll <= 0 {
		poll = 200 * time.Millisecond
	}
	q.Log.Info("worker pool starting", "workers", workers)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				ran, err := q.runNext(ctx)
				if err != nil {
					return err
				}
				if ran {
					continue
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-q.wake:
				case <-time.After(poll):
				}
			}
		})
	}
	err := g.Wait()
	q.Log.Info("worker pool stopped")
	return err
}

// runNext claims and executes at most one job. ran is false when the
// queue was empty. Only context cancellation is returned as an error.
func (q *Queue) runNext(ctx context.Context) (ran bool, err error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	job, err := q.Store.NextPendingJob(ctx)
	if err != nil {
		q.Log.Error("next pending job failed", "err", err)
		return false, nil
	}
	if job == nil {
		return false, nil
	}

	claimed, err := q.Store.ClaimJob(ctx, job.JobID)
	if err != nil {
		q.Log.Error("claim job failed", "job_id", job.JobID, "err", err)
		return false, nil
	}
	if !claimed {
		// Another worker got it, or it was cancelled while pending.
		return true, nil
	}
	q.publishJob(ctx, job.JobID)

	q.execute(ctx, job)
	return true, nil
}

func (q *Queue) execute(ctx context.Context, job *store.Job) {
	h, ok := q.handler(job.Command)
	if !ok {
		q.finish(ctx, job.JobID, "", fmt.Errorf("no handler for command %q", job.Command))
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	q.cancels.Store(job.JobID, cancel)
	defer func() {
		q.cancels.Delete(job.JobID)
		cancel()
	}()

	rep := &reporter{q: q, jobID: job.JobID}

	var result string
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v\n%s", r, debug.Stack())
			}
		}()
		result, err = h(jobCtx, job, rep)
	}()

	q.finish(ctx, job.JobID, result, err)
}

// finish writes the terminal state, then publishes it. ctx here is the
// pool context, not the job context, so a cancelled job still records
// its failure.
func (q *Queue) finish(ctx context.Context, jobID, result string, err error) {
	writeCtx := context.WithoutCancel(ctx)
	if err != nil {
		q.Log.Warn("job failed", "job_id", jobID, "err", err)
		if ferr := q.Store.FailJob(writeCtx, jobID, err.Error()); ferr != nil {
			q.Log.Error("record job failure failed", "job_id", jobID, "err", ferr)
		}
	} else {
		q.Log.Info("job completed", "job_id", jobID)
		if cerr := q.Store.CompleteJob(writeCtx, jobID, result); cerr != nil {
			q.Log.Error("record job completion failed", "job_id", jobID, "err", cerr)
		}
	}
	q.publishJob(writeCtx, jobID)
}

// publishJob reads the job back and emits a job_update event. The read
// follows the store write, so published state never leads durable
// state.
func (q *Queue) publishJob(ctx context.Context, jobID string) {
	if q.Publish == nil {
		return
	}
	job, err := q.Store.GetJob(context.WithoutCancel(ctx), jobID)
	if err != nil {
		return
	}
	q.Publish.PublishJSON(map[string]any{
		"type":      "job_update",
		"job":       jobToModel(job),
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// publishLog emits the appended line as its own event so log followers
// receive the text without re-polling the snapshot endpoint. Emitted
// after the store append, same ordering rule as publishJob.
func (q *Queue) publishLog(jobID, line string) {
	if q.Publish == nil {
		return
	}
	q.Publish.PublishJSON(map[string]any{
		"type":      "job_log",
		"job_id":    jobID,
		"line":      line,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

type reporter struct {
	q     *Queue
	jobID string
}

func (r *reporter) Progress(percent int, note string) {
	ctx := context.Background()
	if err := r.q.Store.SetJobProgress(ctx, r.jobID, percent); err != nil {
		r.q.Log.Error("set progress failed", "job_id", r.jobID, "err", err)
		return
	}
	if note != "" {
		r.Log(note)
		return
	}
	r.q.publishJob(ctx, r.jobID)
}

func (r *reporter) Log(line string) {
	ctx := context.Background()
	if err := r.q.Store.AppendJobLog(ctx, r.jobID, line); err != nil {
		r.q.Log.Error("append job log failed", "job_id", r.jobID, "err", err)
	}
	r.q.publishLog(r.jobID, line)
	r.q.publishJob(ctx, r.jobID)
}

// jobToModel converts a stored job to its API shape.
func jobToModel(j *store.Job) models.Job {
	return models.Job{
		JobID:       j.JobID,
		Command:     j.Command,
		Params:      j.Params,
		Status:      j.Status,
		Progress:    j.Progress,
		Result:      j.Result,
		Error:       j.Error,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}
