package store

import (
	"context"
	"time"

	"github.com/bhadraagada/ralphh/internal/apperr"
)

// RunRepo persists Run records.
type RunRepo struct {
	pool *Pool
}

// NewRunRepo creates a RunRepo.
func NewRunRepo(pool *Pool) *RunRepo { return &RunRepo{pool: pool} }

// Create inserts a new run in status "queued".
func (r *RunRepo) Create(ctx context.Context, run *Run) error {
	_, err := r.pool.Writer().NamedExecContext(ctx, `
		INSERT INTO runs (id, thread_id, status, max_iterations, iterations, task_override, source_run_id, error, created_at, started_at, finished_at)
		VALUES (:id, :thread_id, :status, :max_iterations, :iterations, :task_override, :source_run_id, :error, :created_at, :started_at, :finished_at)
	`, run)
	return err
}

// Get fetches a run by id.
func (r *RunRepo) Get(ctx context.Context, id string) (*Run, error) {
	var run Run
	err := r.pool.Reader().GetContext(ctx, &run, `SELECT * FROM runs WHERE id = ?`, id)
	if err != nil {
		return nil, apperr.NotFound("run", id)
	}
	return &run, nil
}

// ListByThread returns a thread's runs, newest first.
func (r *RunRepo) ListByThread(ctx context.Context, threadID string) ([]Run, error) {
	var runs []Run
	err := r.pool.Reader().SelectContext(ctx, &runs,
		`SELECT * FROM runs WHERE thread_id = ? ORDER BY created_at DESC`, threadID)
	return runs, err
}

// HasRunningOnThread reports whether threadID has a run currently in
// status "running", used by the queue to serialize runs per thread
// (spec.md §9 open question 2).
func (r *RunRepo) HasRunningOnThread(ctx context.Context, threadID string) (bool, error) {
	var count int
	err := r.pool.Reader().GetContext(ctx, &count,
		`SELECT COUNT(*) FROM runs WHERE thread_id = ? AND status = ?`, threadID, RunRunning)
	return count > 0, err
}

// SetStatus updates a run's status.
func (r *RunRepo) SetStatus(ctx context.Context, id string, status RunStatus) error {
	_, err := r.pool.Writer().ExecContext(ctx, `UPDATE runs SET status = ? WHERE id = ?`, status, id)
	return err
}

// MarkStarted transitions a run to running and stamps started_at.
func (r *RunRepo) MarkStarted(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Writer().ExecContext(ctx,
		`UPDATE runs SET status = ?, started_at = ? WHERE id = ?`, RunRunning, at, id)
	return err
}

// MarkIterations updates a run's consumed-iterations counter.
func (r *RunRepo) MarkIterations(ctx context.Context, id string, iterations int) error {
	_, err := r.pool.Writer().ExecContext(ctx, `UPDATE runs SET iterations = ? WHERE id = ?`, iterations, id)
	return err
}

// MarkFinished transitions a run into a terminal state.
func (r *RunRepo) MarkFinished(ctx context.Context, id string, status RunStatus, iterations int, errMsg *string, at time.Time) error {
	_, err := r.pool.Writer().ExecContext(ctx,
		`UPDATE runs SET status = ?, iterations = ?, error = ?, finished_at = ? WHERE id = ?`,
		status, iterations, errMsg, at, id)
	return err
}
