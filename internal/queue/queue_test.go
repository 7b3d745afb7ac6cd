package queue

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bhadraagada/ralphh/internal/common/logger"
	"github.com/bhadraagada/ralphh/internal/events"
	"github.com/bhadraagada/ralphh/internal/loop"
	"github.com/bhadraagada/ralphh/internal/process"
	"github.com/bhadraagada/ralphh/internal/store"
	"github.com/bhadraagada/ralphh/internal/validator"
)

func initGitRepo(t *testing.T, dir string) {
	t.Helper()
	run := func(args ...string) {
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}
	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	run("commit", "--allow-empty", "-m", "initial")
}

func newQueueFixture(t *testing.T, maxConcurrent int) (*Queue, *store.ThreadRepo, *store.RunRepo) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue_test.db")
	pool, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	threads := store.NewThreadRepo(pool)
	runs := store.NewRunRepo(pool)
	journal := events.NewJournal(pool, 200)
	bcast := events.NewBroadcaster(64)
	log := logger.NewNop()

	runner := process.New(log)
	v := validator.New(runner)
	lp := loop.New(runner, v, journal, bcast, log)

	q := New(threads, runs, journal, bcast, lp, log, maxConcurrent, LoopDefaults{
		GitCheckpoint: true,
		DryRun:        false,
		AgentTimeout:  2 * time.Second,
	})
	return q, threads, runs
}

func seedThread(t *testing.T, threads *store.ThreadRepo, worktree string, validateCmds []string) *store.Thread {
	t.Helper()
	th := &store.Thread{
		ID:           uuid.NewString(),
		Name:         "demo",
		Task:         "do the thing",
		RepoPath:     worktree,
		WorktreePath: worktree,
		BranchName:   "main",
		Agent:        "claude",
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	th.EncodeValidationCommands(validateCmds)
	require.NoError(t, threads.Create(context.Background(), th))
	return th
}

func waitForTerminal(t *testing.T, runs *store.RunRepo, runID string, timeout time.Duration) *store.Run {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		run, err := runs.Get(context.Background(), runID)
		require.NoError(t, err)
		if run.Status.IsTerminal() {
			return run
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("run did not reach a terminal state in time")
	return nil
}

func TestEnqueueRunsToExhaustionWhenAgentNeverCompletes(t *testing.T) {
	dir := t.TempDir()
	initGitRepo(t, dir)

	q, threads, runs := newQueueFixture(t, 2)
	th := seedThread(t, threads, dir, []string{"true"})

	run, err := q.Enqueue(context.Background(), th.ID, 1, nil, nil)
	require.NoError(t, err)

	final := waitForTerminal(t, runs, run.ID, 10*time.Second)
	// The "claude" CLI is not installed in the test environment, so the
	// agent never echoes the completion secret; the loop exhausts its
	// single iteration and the run is marked failed.
	require.Equal(t, store.RunFailed, final.Status)
	require.Equal(t, 1, final.Iterations)
	require.NotNil(t, final.Error)
	require.Equal(t, "Loop ended before completion", *final.Error)
}

func TestSameThreadRunsAreSerialized(t *testing.T) {
	dir := t.TempDir()
	initGitRepo(t, dir)

	q, threads, runs := newQueueFixture(t, 2)
	th := seedThread(t, threads, dir, []string{"true"})

	first, err := q.Enqueue(context.Background(), th.ID, 1, nil, nil)
	require.NoError(t, err)
	second, err := q.Enqueue(context.Background(), th.ID, 1, nil, nil)
	require.NoError(t, err)

	// Give the queue a moment to start whatever it's going to start.
	time.Sleep(50 * time.Millisecond)
	busy, err := runs.HasRunningOnThread(context.Background(), th.ID)
	require.NoError(t, err)
	if busy {
		count := 0
		r1, _ := runs.Get(context.Background(), first.ID)
		r2, _ := runs.Get(context.Background(), second.ID)
		if r1.Status == store.RunRunning {
			count++
		}
		if r2.Status == store.RunRunning {
			count++
		}
		require.LessOrEqual(t, count, 1, "at most one run on the same thread should be running at once")
	}

	waitForTerminal(t, runs, first.ID, 10*time.Second)
	waitForTerminal(t, runs, second.ID, 10*time.Second)
}

func TestShutdownWaitsForInFlightRun(t *testing.T) {
	dir := t.TempDir()
	initGitRepo(t, dir)

	q, threads, runs := newQueueFixture(t, 1)
	th := seedThread(t, threads, dir, []string{"sleep 1"})

	run, err := q.Enqueue(context.Background(), th.ID, 1, nil, nil)
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r, err := runs.Get(context.Background(), run.ID)
		require.NoError(t, err)
		if r.Status == store.RunRunning {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	err = q.Shutdown(context.Background(), 5*time.Second)
	require.NoError(t, err, "shutdown should wait out the grace period rather than time out")

	final, err := runs.Get(context.Background(), run.ID)
	require.NoError(t, err)
	require.True(t, final.Status.IsTerminal(), "run should have finished before Shutdown returned")
}

func TestShutdownTimesOutWithRunStillInFlight(t *testing.T) {
	dir := t.TempDir()
	initGitRepo(t, dir)

	q, threads, _ := newQueueFixture(t, 1)
	th := seedThread(t, threads, dir, []string{"sleep 3"})

	_, err := q.Enqueue(context.Background(), th.ID, 1, nil, nil)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	err = q.Shutdown(context.Background(), 50*time.Millisecond)
	require.Error(t, err, "shutdown must report when the grace period elapses with work still running")
}

func TestPauseSucceedsWhilePendingAndFailsOnceRunning(t *testing.T) {
	dir := t.TempDir()
	initGitRepo(t, dir)

	q, threads, runs := newQueueFixture(t, 1)
	busyThread := seedThread(t, threads, dir, []string{"sleep 3"})
	idleThread := seedThread(t, threads, dir, []string{"true"})

	blocking, err := q.Enqueue(context.Background(), busyThread.ID, 2, nil, nil)
	require.NoError(t, err)
	pending, err := q.Enqueue(context.Background(), idleThread.ID, 1, nil, nil)
	require.NoError(t, err)

	require.NoError(t, q.Pause(context.Background(), pending.ID))
	paused, err := runs.Get(context.Background(), pending.ID)
	require.NoError(t, err)
	require.Equal(t, store.RunPaused, paused.Status)

	err = q.Pause(context.Background(), blocking.ID)
	require.Error(t, err, "pausing a running run must be rejected")

	require.NoError(t, q.Resume(context.Background(), pending.ID))
	waitForTerminal(t, runs, blocking.ID, 15*time.Second)
	waitForTerminal(t, runs, pending.ID, 10*time.Second)
}

func TestStopPendingRunCancelsImmediately(t *testing.T) {
	dir := t.TempDir()
	initGitRepo(t, dir)

	q, threads, runs := newQueueFixture(t, 1)
	busyThread := seedThread(t, threads, dir, []string{"sleep 3"})
	idleThread := seedThread(t, threads, dir, []string{"true"})

	blocking, err := q.Enqueue(context.Background(), busyThread.ID, 2, nil, nil)
	require.NoError(t, err)
	pendingRun, err := q.Enqueue(context.Background(), idleThread.ID, 1, nil, nil)
	require.NoError(t, err)

	stopped, err := q.Stop(context.Background(), pendingRun.ID)
	require.NoError(t, err)
	require.True(t, stopped)

	run, err := runs.Get(context.Background(), pendingRun.ID)
	require.NoError(t, err)
	require.Equal(t, store.RunCancelled, run.Status)

	waitForTerminal(t, runs, blocking.ID, 15*time.Second)
}
