package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bhadraagada/ralphh/internal/apperr"
)

// ThreadRepo persists Thread records.
type ThreadRepo struct {
	pool *Pool
}

// NewThreadRepo creates a ThreadRepo.
func NewThreadRepo(pool *Pool) *ThreadRepo { return &ThreadRepo{pool: pool} }

// Create inserts a new thread.
func (r *ThreadRepo) Create(ctx context.Context, t *Thread) error {
	_, err := r.pool.Writer().NamedExecContext(ctx, `
		INSERT INTO threads (id, name, task, repo_path, worktree_path, branch_name, agent, validate_json, created_at, updated_at)
		VALUES (:id, :name, :task, :repo_path, :worktree_path, :branch_name, :agent, :validate_json, :created_at, :updated_at)
	`, t)
	return err
}

// Get fetches a thread by id.
func (r *ThreadRepo) Get(ctx context.Context, id string) (*Thread, error) {
	var t Thread
	err := r.pool.Reader().GetContext(ctx, &t, `SELECT * FROM threads WHERE id = ?`, id)
	if err != nil {
		return nil, apperr.NotFound("thread", id)
	}
	return &t, nil
}

// List returns all threads, newest first.
func (r *ThreadRepo) List(ctx context.Context) ([]Thread, error) {
	var threads []Thread
	err := r.pool.Reader().SelectContext(ctx, &threads, `SELECT * FROM threads ORDER BY created_at DESC`)
	return threads, err
}

// ValidationCommands decodes t's validate_json column.
func (t *Thread) ValidationCommands() []string {
	var cmds []string
	_ = json.Unmarshal([]byte(t.ValidateJSON), &cmds)
	return cmds
}

// EncodeValidationCommands sets t's validate_json column from cmds.
func (t *Thread) EncodeValidationCommands(cmds []string) {
	if cmds == nil {
		cmds = []string{}
	}
	b, _ := json.Marshal(cmds)
	t.ValidateJSON = string(b)
}

// UpdateWorktree persists a worktree/branch change for a thread.
func (r *ThreadRepo) UpdateWorktree(ctx context.Context, id, worktreePath, branchName string, updatedAt time.Time) error {
	_, err := r.pool.Writer().ExecContext(ctx,
		`UPDATE threads SET worktree_path = ?, branch_name = ?, updated_at = ? WHERE id = ?`,
		worktreePath, branchName, updatedAt, id)
	return err
}
