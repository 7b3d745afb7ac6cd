package events

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bhadraagada/ralphh/internal/store"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T) *store.Pool {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events_test.db")
	pool, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func TestJournalAppendAssignsMonotonicIDs(t *testing.T) {
	pool := newTestPool(t)
	j := NewJournal(pool, 200)
	ctx := context.Background()

	e1, err := j.Append(ctx, "thread-1", nil, ThreadCreated, NewPayload(map[string]string{}), time.Now())
	require.NoError(t, err)
	e2, err := j.Append(ctx, "thread-1", nil, RunQueued, NewPayload(map[string]string{}), time.Now())
	require.NoError(t, err)

	require.Greater(t, e2.ID, e1.ID)
}

func TestJournalListByThreadNewestFirst(t *testing.T) {
	pool := newTestPool(t)
	j := NewJournal(pool, 200)
	ctx := context.Background()

	_, err := j.Append(ctx, "t1", nil, ThreadCreated, NewPayload(struct{}{}), time.Now())
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = j.Append(ctx, "t1", nil, RunQueued, NewPayload(struct{}{}), time.Now())
	require.NoError(t, err)

	list, err := j.ListByThread(ctx, "t1", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, RunQueued, list[0].Type)
	require.Equal(t, ThreadCreated, list[1].Type)
}

func TestJournalGetNotFound(t *testing.T) {
	pool := newTestPool(t)
	j := NewJournal(pool, 200)
	_, err := j.Get(context.Background(), 9999)
	require.Error(t, err)
}
