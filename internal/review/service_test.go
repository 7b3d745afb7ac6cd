package review

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bhadraagada/ralphh/internal/events"
	"github.com/bhadraagada/ralphh/internal/store"
)

type fakeQueue struct {
	threadID     string
	maxIters     int
	taskOverride *string
	sourceRunID  *string
}

func (f *fakeQueue) Enqueue(ctx context.Context, threadID string, maxIterations int, taskOverride, sourceRunID *string) (*store.Run, error) {
	f.threadID = threadID
	f.maxIters = maxIterations
	f.taskOverride = taskOverride
	f.sourceRunID = sourceRunID
	return &store.Run{ID: uuid.NewString(), ThreadID: threadID, Status: store.RunQueued}, nil
}

func newFixture(t *testing.T) (*Service, *store.ThreadRepo, *store.CommentRepo, *fakeQueue) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "review_test.db")
	pool, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	threads := store.NewThreadRepo(pool)
	comments := store.NewCommentRepo(pool)
	journal := events.NewJournal(pool, 200)
	bcast := events.NewBroadcaster(32)
	q := &fakeQueue{}

	svc := New(comments, threads, journal, bcast, q)
	return svc, threads, comments, q
}

func seedThread(t *testing.T, threads *store.ThreadRepo) *store.Thread {
	t.Helper()
	th := &store.Thread{
		ID: uuid.NewString(), Name: "t", Task: "implement the feature",
		RepoPath: "/repo", WorktreePath: "/repo/.ralph/wt", BranchName: "main",
		Agent: "claude", CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	th.EncodeValidationCommands([]string{"true"})
	require.NoError(t, threads.Create(context.Background(), th))
	return th
}

func TestRerunFromCommentsPreservesSubmittedOrder(t *testing.T) {
	svc, threads, comments, q := newFixture(t)
	th := seedThread(t, threads)

	runIDForComment1 := "run-abc"
	c1 := &store.ReviewComment{ID: uuid.NewString(), ThreadID: th.ID, RunID: &runIDForComment1, FilePath: "a.go", LineNumber: 10, Body: "fix this", Status: store.CommentOpen, CreatedAt: time.Now()}
	c2 := &store.ReviewComment{ID: uuid.NewString(), ThreadID: th.ID, FilePath: "b.go", LineNumber: 20, Body: "and this", Status: store.CommentOpen, CreatedAt: time.Now().Add(time.Second)}
	require.NoError(t, comments.Create(context.Background(), c1))
	require.NoError(t, comments.Create(context.Background(), c2))

	// Submit in reverse creation order: c2 first, c1 second.
	run, err := svc.RerunFromComments(context.Background(), th.ID, []string{c2.ID, c1.ID})
	require.NoError(t, err)
	require.Equal(t, th.ID, run.ThreadID)

	require.NotNil(t, q.taskOverride)
	override := *q.taskOverride
	require.Contains(t, override, "implement the feature")
	require.Contains(t, override, "Address the following review feedback before declaring completion:")
	idxB := indexOfSubstr(override, "1. b.go:20 - and this")
	idxA := indexOfSubstr(override, "2. a.go:10 - fix this")
	require.GreaterOrEqual(t, idxB, 0)
	require.GreaterOrEqual(t, idxA, 0)
	require.Less(t, idxB, idxA, "expected submitted order (c2 then c1), not creation order")

	// source run id must come from the FIRST submitted comment (c2, which has none).
	require.Nil(t, q.sourceRunID)

	list, err := comments.ListByThread(context.Background(), th.ID)
	require.NoError(t, err)
	for _, c := range list {
		require.Equal(t, store.CommentApplied, c.Status)
	}
}

func TestRerunFromCommentsUsesFirstSelectedCommentsRunID(t *testing.T) {
	svc, threads, comments, q := newFixture(t)
	th := seedThread(t, threads)

	sourceRun := "run-xyz"
	c1 := &store.ReviewComment{ID: uuid.NewString(), ThreadID: th.ID, RunID: &sourceRun, FilePath: "a.go", LineNumber: 1, Body: "x", Status: store.CommentOpen, CreatedAt: time.Now()}
	require.NoError(t, comments.Create(context.Background(), c1))

	_, err := svc.RerunFromComments(context.Background(), th.ID, []string{c1.ID})
	require.NoError(t, err)
	require.NotNil(t, q.sourceRunID)
	require.Equal(t, sourceRun, *q.sourceRunID)
}

func TestRerunFromCommentsRejectsCommentsFromOtherThreads(t *testing.T) {
	svc, threads, comments, _ := newFixture(t)
	th := seedThread(t, threads)
	other := seedThread(t, threads)

	foreign := &store.ReviewComment{ID: uuid.NewString(), ThreadID: other.ID, FilePath: "x.go", LineNumber: 1, Body: "nope", Status: store.CommentOpen, CreatedAt: time.Now()}
	require.NoError(t, comments.Create(context.Background(), foreign))

	_, err := svc.RerunFromComments(context.Background(), th.ID, []string{foreign.ID})
	require.Error(t, err)
}

func indexOfSubstr(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
