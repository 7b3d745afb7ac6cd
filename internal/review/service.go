// Package review implements the review-comment store's feedback-rerun
// workflow: turning a set of selected inline comments into a new run
// whose task override tells the agent exactly what to fix.
package review

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bhadraagada/ralphh/internal/apperr"
	"github.com/bhadraagada/ralphh/internal/events"
	"github.com/bhadraagada/ralphh/internal/store"
)

// Enqueuer is the subset of the run queue needed to start the rerun.
type Enqueuer interface {
	Enqueue(ctx context.Context, threadID string, maxIterations int, taskOverride, sourceRunID *string) (*store.Run, error)
}

// Service ties comment persistence to the queue and event stream.
type Service struct {
	comments *store.CommentRepo
	threads  *store.ThreadRepo
	journal  *events.Journal
	bcast    *events.Broadcaster
	queue    Enqueuer
}

// New creates a Service.
func New(comments *store.CommentRepo, threads *store.ThreadRepo, journal *events.Journal, bcast *events.Broadcaster, queue Enqueuer) *Service {
	return &Service{comments: comments, threads: threads, journal: journal, bcast: bcast, queue: queue}
}

// CreateComment persists a new open comment against threadID and emits
// review.comment.created.
func (s *Service) CreateComment(ctx context.Context, threadID string, runID *string, filePath string, lineNumber int, body, id string) (*store.ReviewComment, error) {
	if _, err := s.threads.Get(ctx, threadID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(filePath) == "" || strings.TrimSpace(body) == "" {
		return nil, apperr.Input("filePath and body are required")
	}

	c := &store.ReviewComment{
		ID:         id,
		ThreadID:   threadID,
		RunID:      runID,
		FilePath:   filePath,
		LineNumber: lineNumber,
		Body:       body,
		Status:     store.CommentOpen,
		CreatedAt:  time.Now(),
	}
	if err := s.comments.Create(ctx, c); err != nil {
		return nil, apperr.Internal("failed to create comment", err)
	}

	s.emit(ctx, threadID, nil, events.ReviewCommentCreated, events.NewPayload(map[string]string{"commentId": c.ID}))
	return c, nil
}

// RerunFromComments builds a task-override run from the comments in
// commentIDs, marks them applied, and enqueues the new run. The task
// override text and the new run's source-run-id both follow the caller's
// submitted order, not any storage order.
func (s *Service) RerunFromComments(ctx context.Context, threadID string, commentIDs []string) (*store.Run, error) {
	if len(commentIDs) == 0 {
		return nil, apperr.Input("commentIds must be non-empty")
	}

	thread, err := s.threads.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}

	fetched, err := s.comments.GetByIDs(ctx, threadID, commentIDs)
	if err != nil {
		return nil, apperr.Internal("failed to load comments", err)
	}
	byID := make(map[string]store.ReviewComment, len(fetched))
	for _, c := range fetched {
		byID[c.ID] = c
	}

	ordered := make([]store.ReviewComment, 0, len(commentIDs))
	for _, id := range commentIDs {
		c, ok := byID[id]
		if !ok {
			continue // not owned by this thread, or does not exist; silently skipped
		}
		ordered = append(ordered, c)
	}
	if len(ordered) == 0 {
		return nil, apperr.Input("none of the given commentIds belong to this thread")
	}

	taskOverride := buildTaskOverride(thread.Task, ordered)

	var sourceRunID *string
	if ordered[0].RunID != nil {
		sourceRunID = ordered[0].RunID
	}

	appliedIDs := make([]string, 0, len(ordered))
	for _, c := range ordered {
		appliedIDs = append(appliedIDs, c.ID)
	}
	if err := s.comments.MarkApplied(ctx, threadID, appliedIDs); err != nil {
		return nil, apperr.Internal("failed to mark comments applied", err)
	}

	// maxIterations = 0 tells the queue to apply its own default budget;
	// the feedback-rerun endpoint does not accept an override.
	run, err := s.queue.Enqueue(ctx, threadID, 0, &taskOverride, sourceRunID)
	if err != nil {
		return nil, err
	}

	s.emit(ctx, threadID, &run.ID, events.ReviewRerunQueued, events.NewPayload(map[string]string{"runId": run.ID}))
	return run, nil
}

func buildTaskOverride(baseTask string, comments []store.ReviewComment) string {
	var b strings.Builder
	b.WriteString(baseTask)
	b.WriteString("\n\n")
	b.WriteString("Address the following review feedback before declaring completion:\n")
	for i, c := range comments {
		fmt.Fprintf(&b, "%d. %s:%d - %s\n", i+1, c.FilePath, c.LineNumber, c.Body)
	}
	return b.String()
}

func (s *Service) emit(ctx context.Context, threadID string, runID *string, kind events.Kind, payload []byte) {
	ev, err := s.journal.Append(ctx, threadID, runID, kind, payload, time.Now())
	if err != nil {
		return
	}
	if s.bcast != nil {
		s.bcast.Publish(ev)
	}
}
