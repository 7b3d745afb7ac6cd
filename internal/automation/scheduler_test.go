package automation

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bhadraagada/ralphh/internal/common/logger"
	"github.com/bhadraagada/ralphh/internal/events"
	"github.com/bhadraagada/ralphh/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	calls int32
}

func (f *fakeQueue) Enqueue(ctx context.Context, threadID string, maxIterations int, taskOverride, sourceRunID *string) (*store.Run, error) {
	atomic.AddInt32(&f.calls, 1)
	return &store.Run{ID: uuid.NewString(), ThreadID: threadID, Status: store.RunQueued}, nil
}

func newSchedulerFixture(t *testing.T) (*Scheduler, *fakeQueue, *store.AutomationRepo, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "automation_test.db")
	pool, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	// automations.thread_id references threads(id), so seed a real thread.
	th := &store.Thread{
		ID: uuid.NewString(), Name: "t", Task: "task", RepoPath: "/repo",
		WorktreePath: "/repo/wt", BranchName: "main", Agent: "claude",
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	th.EncodeValidationCommands(nil)
	require.NoError(t, store.NewThreadRepo(pool).Create(context.Background(), th))

	automations := store.NewAutomationRepo(pool)
	journal := events.NewJournal(pool, 200)
	broadcaster := events.NewBroadcaster(32)
	queue := &fakeQueue{}

	sched := New(automations, journal, broadcaster, queue, logger.NewNop(), time.Second)
	return sched, queue, automations, th.ID
}

func TestTickFiresMatchingAutomationOnce(t *testing.T) {
	sched, queue, automations, threadID := newSchedulerFixture(t)
	ctx := context.Background()

	now := time.Date(2026, 8, 1, 9, 30, 0, 0, time.UTC)
	a := store.Automation{
		ID: uuid.NewString(), Name: "every-run", CronExpr: "30 9 1 8 6",
		ThreadID: threadID, MaxIterations: 5, Enabled: true, CreatedAt: now,
	}
	require.NoError(t, automations.Create(ctx, &a))

	sched.tick(ctx, now)
	require.EqualValues(t, 1, queue.calls)

	// Same minute bucket: must not fire twice.
	sched.tick(ctx, now.Add(10*time.Second))
	require.EqualValues(t, 1, queue.calls)
}

func TestTickSkipsDisabledAutomations(t *testing.T) {
	sched, queue, automations, threadID := newSchedulerFixture(t)
	ctx := context.Background()

	now := time.Now()
	a := store.Automation{
		ID: uuid.NewString(), Name: "disabled", CronExpr: "* * * * *",
		ThreadID: threadID, MaxIterations: 5, Enabled: false, CreatedAt: now,
	}
	require.NoError(t, automations.Create(ctx, &a))

	sched.tick(ctx, now)
	require.EqualValues(t, 0, queue.calls)
}

func TestTriggerNowBypassesCronAndBucketGuard(t *testing.T) {
	sched, queue, automations, threadID := newSchedulerFixture(t)
	ctx := context.Background()

	now := time.Now()
	a := store.Automation{
		ID: uuid.NewString(), Name: "manual", CronExpr: "0 0 1 1 1",
		ThreadID: threadID, MaxIterations: 3, Enabled: true, CreatedAt: now,
	}
	require.NoError(t, automations.Create(ctx, &a))

	run, err := sched.TriggerNow(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, a.ThreadID, run.ThreadID)
	require.EqualValues(t, 1, queue.calls)
}
