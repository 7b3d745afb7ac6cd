package worktree

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/bhadraagada/ralphh/internal/common/logger"
	"github.com/stretchr/testify/require"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not on PATH")
	}
}

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	run("add", "-A")
	run("commit", "-m", "initial")
	return dir
}

func TestCreateWorktree(t *testing.T) {
	requireGit(t)
	repo := initRepo(t)
	m := New(logger.NewNop())

	h, err := m.Create(repo, "Thread-ABC123XYZ")
	require.NoError(t, err)
	require.DirExists(t, h.WorktreePath)
	require.True(t, len(h.BranchName) > len("ralph/thread-"))
	require.Equal(t, "ralph/thread-", h.BranchName[:len("ralph/thread-")])
}

func TestCreateWorktreeNotARepo(t *testing.T) {
	requireGit(t)
	dir := t.TempDir()
	m := New(logger.NewNop())
	_, err := m.Create(dir, "thread1")
	require.Error(t, err)
	var notRepo *ErrNotARepository
	require.ErrorAs(t, err, &notRepo)
}

func TestShortIdentifierEmptyFallsBackToThread(t *testing.T) {
	require.Equal(t, "thread", shortIdentifier("!!!"))
}

func TestRevertToHeadIsTotal(t *testing.T) {
	requireGit(t)
	repo := initRepo(t)
	m := New(logger.NewNop())
	h, err := m.Create(repo, "thread2")
	require.NoError(t, err)

	before, err := CurrentHead(h.WorktreePath)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(h.WorktreePath, "scratch.txt"), []byte("x"), 0o644))
	require.NoError(t, RevertToHead(h.WorktreePath))

	after, err := CurrentHead(h.WorktreePath)
	require.NoError(t, err)
	require.Equal(t, before, after)
	require.NoFileExists(t, filepath.Join(h.WorktreePath, "scratch.txt"))
}
