package store

import "time"

// Thread is a persistent workstream bound to a repository and its
// isolated worktree.
type Thread struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Task         string    `db:"task" json:"task"`
	RepoPath     string    `db:"repo_path" json:"repoPath"`
	WorktreePath string    `db:"worktree_path" json:"worktreePath"`
	BranchName   string    `db:"branch_name" json:"branchName"`
	Agent        string    `db:"agent" json:"agent"`
	ValidateJSON string    `db:"validate_json" json:"-"` // JSON-encoded []string
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

// AsJSON returns a representation of t suitable for the HTTP surface,
// with the validate_json column decoded into an actual array.
func (t Thread) AsJSON() map[string]interface{} {
	return map[string]interface{}{
		"id": t.ID, "name": t.Name, "task": t.Task, "repoPath": t.RepoPath,
		"worktreePath": t.WorktreePath, "branchName": t.BranchName, "agent": t.Agent,
		"validate": t.ValidationCommands(), "createdAt": t.CreatedAt, "updatedAt": t.UpdatedAt,
	}
}

// RunStatus is one of the run state machine's states.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunPaused    RunStatus = "paused"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether s accepts no further transitions.
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// Run is one attempt to complete a thread's task.
type Run struct {
	ID            string     `db:"id" json:"id"`
	ThreadID      string     `db:"thread_id" json:"threadId"`
	Status        RunStatus  `db:"status" json:"status"`
	MaxIterations int        `db:"max_iterations" json:"maxIterations"`
	Iterations    int        `db:"iterations" json:"iterations"`
	TaskOverride  *string    `db:"task_override" json:"taskOverride,omitempty"`
	SourceRunID   *string    `db:"source_run_id" json:"sourceRunId,omitempty"`
	Error         *string    `db:"error" json:"error,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
	StartedAt     *time.Time `db:"started_at" json:"startedAt,omitempty"`
	FinishedAt    *time.Time `db:"finished_at" json:"finishedAt,omitempty"`
}

// CommentStatus is the lifecycle state of a review comment.
type CommentStatus string

const (
	CommentOpen    CommentStatus = "open"
	CommentApplied CommentStatus = "applied"
)

// ReviewComment is inline feedback on one line of a diff.
type ReviewComment struct {
	ID         string        `db:"id" json:"id"`
	ThreadID   string        `db:"thread_id" json:"threadId"`
	RunID      *string       `db:"run_id" json:"runId,omitempty"`
	FilePath   string        `db:"file_path" json:"filePath"`
	LineNumber int           `db:"line_number" json:"lineNumber"`
	Body       string        `db:"body" json:"body"`
	Status     CommentStatus `db:"status" json:"status"`
	CreatedAt  time.Time     `db:"created_at" json:"createdAt"`
}

// Automation is a recurring trigger bound to a thread.
type Automation struct {
	ID            string     `db:"id" json:"id"`
	Name          string     `db:"name" json:"name"`
	CronExpr      string     `db:"cron_expr" json:"cronExpr"`
	ThreadID      string     `db:"thread_id" json:"threadId"`
	MaxIterations int        `db:"max_iterations" json:"maxIterations"`
	Enabled       bool       `db:"enabled" json:"enabled"`
	LastTriggered *time.Time `db:"last_triggered" json:"lastTriggered,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
}
