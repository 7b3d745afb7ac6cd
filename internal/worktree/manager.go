// Package worktree creates per-thread isolated git worktrees so concurrent
// runs on different threads never interfere with each other's filesystem
// state.
package worktree

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bhadraagada/ralphh/internal/common/logger"
	"go.uber.org/zap"
)

// Handle is the result of successfully creating a worktree.
type Handle struct {
	RepoRoot     string
	WorktreePath string
	BranchName   string
}

// ErrNotARepository indicates the given path is not inside a git repository.
type ErrNotARepository struct{ Path string }

func (e *ErrNotARepository) Error() string {
	return fmt.Sprintf("worktree: %q is not inside a git repository", e.Path)
}

// ErrWorktreeFailed carries the VCS's stderr from a failed worktree
// creation attempt, after the single collision retry has also failed.
type ErrWorktreeFailed struct{ Stderr string }

func (e *ErrWorktreeFailed) Error() string {
	return fmt.Sprintf("worktree: failed to create worktree: %s", e.Stderr)
}

var shortIDPattern = regexp.MustCompile(`[^a-z0-9]`)

// Manager creates and removes per-thread worktrees; it keeps no record of
// the worktrees it has created.
type Manager struct {
	log *logger.Logger
}

// New creates a Manager.
func New(log *logger.Logger) *Manager {
	return &Manager{log: log.WithFields(zap.String("component", "worktree-manager"))}
}

// Create creates a new worktree for threadID rooted under repoPath. It is
// NOT idempotent: callers must not retry on success, since doing so would
// create a second, orphaned worktree and branch.
func (m *Manager) Create(repoPath, threadID string) (*Handle, error) {
	repoRoot, err := repoTopLevel(repoPath)
	if err != nil {
		return nil, &ErrNotARepository{Path: repoPath}
	}

	shortID := shortIdentifier(threadID)
	worktreePath := filepath.Join(repoRoot, ".ralph", "worktrees", shortID)
	branchName := "ralph/thread-" + shortID

	if err := m.gitAddWorktree(repoRoot, worktreePath, branchName); err != nil {
		// Retry once with a timestamp suffix on both path and branch.
		suffix := fmt.Sprintf("%d", time.Now().Unix())
		worktreePath = worktreePath + "-" + suffix
		branchName = branchName + "-" + suffix

		if err2 := m.gitAddWorktree(repoRoot, worktreePath, branchName); err2 != nil {
			return nil, &ErrWorktreeFailed{Stderr: err2.Error()}
		}
	}

	return &Handle{RepoRoot: repoRoot, WorktreePath: worktreePath, BranchName: branchName}, nil
}

// shortIdentifier derives a worktree/branch suffix from a thread id: hex
// and alphanumeric characters only, lowercased, truncated to 10 chars. An
// empty result falls back to the literal "thread".
func shortIdentifier(threadID string) string {
	lower := strings.ToLower(threadID)
	cleaned := shortIDPattern.ReplaceAllString(lower, "")
	if len(cleaned) > 10 {
		cleaned = cleaned[:10]
	}
	if cleaned == "" {
		return "thread"
	}
	return cleaned
}

func repoTopLevel(path string) (string, error) {
	cmd := exec.Command("git", "-C", path, "rev-parse", "--show-toplevel")
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (m *Manager) gitAddWorktree(repoRoot, worktreePath, branchName string) error {
	if err := os.MkdirAll(filepath.Dir(worktreePath), 0o755); err != nil {
		return err
	}
	cmd := exec.Command("git", "-C", repoRoot, "worktree", "add", "-b", branchName, worktreePath, "HEAD")
	out, err := cmd.CombinedOutput()
	if err != nil {
		m.log.Warn("git worktree add failed",
			zap.String("worktree_path", worktreePath),
			zap.String("branch", branchName),
			zap.String("output", string(out)))
		return fmt.Errorf("%s", strings.TrimSpace(string(out)))
	}
	return nil
}

// Remove removes a worktree and its administrative metadata. Best-effort;
// errors are logged, not returned, since cleanup is advisory.
func (m *Manager) Remove(repoRoot, worktreePath string) {
	cmd := exec.Command("git", "-C", repoRoot, "worktree", "remove", "--force", worktreePath)
	if out, err := cmd.CombinedOutput(); err != nil {
		m.log.Warn("git worktree remove failed",
			zap.String("worktree_path", worktreePath),
			zap.String("output", string(out)))
	}
}
