package events

import (
	"context"
	"strconv"
	"time"

	"github.com/bhadraagada/ralphh/internal/apperr"
	"github.com/bhadraagada/ralphh/internal/store"
)

// Journal is the append-only, persistent, ordered record of events. Every
// appended event receives a monotonically increasing identifier from the
// storage backend. Events are never mutated or deleted.
type Journal struct {
	pool       *store.Pool
	defaultLim int
}

// NewJournal creates a Journal backed by pool. defaultLimit bounds
// ListByThread when the caller passes limit <= 0.
func NewJournal(pool *store.Pool, defaultLimit int) *Journal {
	if defaultLimit <= 0 {
		defaultLimit = 200
	}
	return &Journal{pool: pool, defaultLim: defaultLimit}
}

// Append persists a new event and returns it with its assigned id and
// creation timestamp. now should be the time this call was made; passed
// explicitly so the loop's own emission order is authoritative.
func (j *Journal) Append(ctx context.Context, threadID string, runID *string, kind Kind, payload []byte, now time.Time) (Event, error) {
	res, err := j.pool.Writer().ExecContext(ctx,
		`INSERT INTO events (thread_id, run_id, type, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		threadID, runID, string(kind), string(payload), now)
	if err != nil {
		return Event{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:        id,
		ThreadID:  threadID,
		RunID:     runID,
		Type:      kind,
		Payload:   payload,
		CreatedAt: now,
	}, nil
}

// ListByThread returns a thread's events, newest first, bounded by limit
// (or the journal's default if limit <= 0).
func (j *Journal) ListByThread(ctx context.Context, threadID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = j.defaultLim
	}
	var rows []Event
	err := j.pool.Reader().SelectContext(ctx, &rows,
		`SELECT id, thread_id, run_id, type, payload, created_at FROM events
		 WHERE thread_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, threadID, limit)
	return rows, err
}

// Get performs a point lookup by id.
func (j *Journal) Get(ctx context.Context, id int64) (*Event, error) {
	var e Event
	err := j.pool.Reader().GetContext(ctx, &e,
		`SELECT id, thread_id, run_id, type, payload, created_at FROM events WHERE id = ?`, id)
	if err != nil {
		return nil, apperr.NotFound("event", strconv.FormatInt(id, 10))
	}
	return &e, nil
}
