// Package queue owns the run lifecycle: a bounded-concurrency FIFO of
// pending runs, the set of currently running runs, and their cancellation
// handles, driving each through the iteration loop.
package queue

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/bhadraagada/ralphh/internal/agent"
	"github.com/bhadraagada/ralphh/internal/apperr"
	"github.com/bhadraagada/ralphh/internal/common/logger"
	"github.com/bhadraagada/ralphh/internal/events"
	"github.com/bhadraagada/ralphh/internal/loop"
	"github.com/bhadraagada/ralphh/internal/prompt"
	"github.com/bhadraagada/ralphh/internal/store"
)

// Action is one of the run-control verbs accepted by the control surface.
type Action string

const (
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionStop   Action = "stop"
	ActionRetry  Action = "retry"
)

// Queue serializes run execution with a bounded concurrency cap, and, per
// this control plane's own rule (the source system leaves this
// unserialized — see SPEC_FULL.md §5 open question 2), never runs two
// runs on the same thread concurrently: a pending run whose thread
// already has one running is skipped over until a slot opens.
type Queue struct {
	threads *store.ThreadRepo
	runs    *store.RunRepo
	journal *events.Journal
	bcast   *events.Broadcaster
	loop    *loop.Loop
	log     *logger.Logger

	maxConcurrent int
	loopCfg       LoopDefaults
	sem           *semaphore.Weighted

	mu          sync.Mutex
	pending     []string // run ids, FIFO
	running     map[string]bool
	controllers map[string]context.CancelFunc

	// wg counts in-flight execute goroutines, so Shutdown can give them a
	// grace period to finish their current iteration before the caller
	// closes the database pool out from under them.
	wg sync.WaitGroup
}

// LoopDefaults carries the configuration knobs the queue applies to every
// run's iteration loop; threads and runs have no per-entity override.
type LoopDefaults struct {
	ProgressFileNameFmt string // e.g. "ralph-progress-%s.md", formatted with thread id
	FailureContextChars int
	GitCheckpoint       bool
	InterIterationDelay time.Duration
	AgentTimeout        time.Duration
	DryRun              bool
}

// New creates a Queue. maxConcurrent <= 0 defaults to 2.
func New(threads *store.ThreadRepo, runs *store.RunRepo, journal *events.Journal, bcast *events.Broadcaster, lp *loop.Loop, log *logger.Logger, maxConcurrent int, loopCfg LoopDefaults) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &Queue{
		threads:       threads,
		runs:          runs,
		journal:       journal,
		bcast:         bcast,
		loop:          lp,
		log:           log,
		maxConcurrent: maxConcurrent,
		loopCfg:       loopCfg,
		sem:           semaphore.NewWeighted(int64(maxConcurrent)),
		running:       make(map[string]bool),
		controllers:   make(map[string]context.CancelFunc),
	}
}

// Enqueue creates a new queued run on threadID and adds it to pending.
func (q *Queue) Enqueue(ctx context.Context, threadID string, maxIterations int, taskOverride, sourceRunID *string) (*store.Run, error) {
	if _, err := q.threads.Get(ctx, threadID); err != nil {
		return nil, err
	}
	if maxIterations <= 0 {
		maxIterations = 10
	}

	run := &store.Run{
		ID:            uuid.NewString(),
		ThreadID:      threadID,
		Status:        store.RunQueued,
		MaxIterations: maxIterations,
		TaskOverride:  taskOverride,
		SourceRunID:   sourceRunID,
		CreatedAt:     time.Now(),
	}
	if err := q.runs.Create(ctx, run); err != nil {
		return nil, apperr.Internal("failed to create run", err)
	}

	q.emit(ctx, threadID, run.ID, events.RunQueued, events.NewPayload(map[string]string{"runId": run.ID}))

	q.mu.Lock()
	q.pending = append(q.pending, run.ID)
	q.mu.Unlock()

	q.tick(ctx)
	return run, nil
}

// Pause removes runId from pending and marks it paused. Allowed only
// while the run is still pending.
func (q *Queue) Pause(ctx context.Context, runID string) error {
	q.mu.Lock()
	idx := indexOf(q.pending, runID)
	if idx < 0 {
		q.mu.Unlock()
		return apperr.Conflict("run is not pending; cannot pause")
	}
	q.pending = append(q.pending[:idx], q.pending[idx+1:]...)
	q.mu.Unlock()

	if err := q.runs.SetStatus(ctx, runID, store.RunPaused); err != nil {
		return apperr.Internal("failed to persist pause", err)
	}
	run, _ := q.runs.Get(ctx, runID)
	if run != nil {
		q.emit(ctx, run.ThreadID, runID, events.RunPaused, events.NewPayload(map[string]string{"runId": runID}))
	}
	return nil
}

// Resume re-enqueues a paused run.
func (q *Queue) Resume(ctx context.Context, runID string) error {
	run, err := q.runs.Get(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != store.RunPaused {
		return apperr.Conflict("run is not paused; cannot resume")
	}
	if err := q.runs.SetStatus(ctx, runID, store.RunQueued); err != nil {
		return apperr.Internal("failed to persist resume", err)
	}

	q.mu.Lock()
	q.pending = append(q.pending, runID)
	q.mu.Unlock()

	q.emit(ctx, run.ThreadID, runID, events.RunResumed, events.NewPayload(map[string]string{"runId": runID}))
	q.tick(ctx)
	return nil
}

// Stop cancels runID. A pending run is removed and marked cancelled
// directly; a running run has its cancellation handle invoked and its
// own executor finalizes the cancelled state. Returns false if runID was
// neither pending nor running.
func (q *Queue) Stop(ctx context.Context, runID string) (bool, error) {
	q.mu.Lock()
	if idx := indexOf(q.pending, runID); idx >= 0 {
		q.pending = append(q.pending[:idx], q.pending[idx+1:]...)
		q.mu.Unlock()

		now := time.Now()
		if err := q.runs.MarkFinished(ctx, runID, store.RunCancelled, 0, nil, now); err != nil {
			return false, apperr.Internal("failed to persist cancellation", err)
		}
		run, _ := q.runs.Get(ctx, runID)
		if run != nil {
			q.emit(ctx, run.ThreadID, runID, events.RunCancelled, events.NewPayload(map[string]string{"runId": runID}))
		}
		return true, nil
	}

	cancel, ok := q.controllers[runID]
	q.mu.Unlock()
	if !ok {
		return false, nil
	}
	cancel()
	return true, nil
}

// Stats is a point-in-time snapshot of queue occupancy, surfaced on the
// health endpoint.
type Stats struct {
	Running       int `json:"running"`
	Pending       int `json:"pending"`
	MaxConcurrent int `json:"maxConcurrent"`
}

// Stats returns a snapshot of the queue's current occupancy.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Running:       len(q.running),
		Pending:       len(q.pending),
		MaxConcurrent: q.maxConcurrent,
	}
}

// Shutdown blocks until every in-flight execute has returned, or until
// graceTimeout elapses, whichever comes first. Callers should invoke this
// after stopping new admissions (e.g. cancelling the automation scheduler)
// and before closing any resource executions still depend on, such as the
// database pool. A returned error means the grace period ran out with runs
// still in flight; the caller proceeds with shutdown regardless, since the
// grace period is a best-effort bound, not a guarantee.
func (q *Queue) Shutdown(ctx context.Context, graceTimeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(graceTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return fmt.Errorf("queue: shutdown grace period elapsed with runs still in flight")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tick drains pending into running until the concurrency cap is reached
// or no pending run is currently runnable (its thread is free).
func (q *Queue) tick(ctx context.Context) {
	for {
		runID, ok := q.popRunnable(ctx)
		if !ok {
			return
		}
		q.start(ctx, runID)
	}
}

// popRunnable finds the earliest pending run whose thread has no other
// run currently executing, removes it from pending, and returns it.
func (q *Queue) popRunnable(ctx context.Context) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.sem.TryAcquire(1) {
		return "", false
	}
	runID, ok := q.popRunnableLocked(ctx)
	if !ok {
		q.sem.Release(1)
	}
	return runID, ok
}

// popRunnableLocked scans pending for the earliest run whose thread has no
// other run currently executing, removes it, and returns it. q.mu is
// already held and a concurrency-cap permit already acquired by the
// caller; on a miss the caller is responsible for releasing it.
func (q *Queue) popRunnableLocked(ctx context.Context) (string, bool) {
	for i, runID := range q.pending {
		run, err := q.runs.Get(ctx, runID)
		if err != nil || run.Status != store.RunQueued {
			// Stale entry (paused/cancelled out from under us); drop it.
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return q.popRunnableLocked(ctx)
		}
		busy, err := q.runs.HasRunningOnThread(ctx, run.ThreadID)
		if err != nil || busy {
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		return runID, true
	}
	return "", false
}

func (q *Queue) start(parentCtx context.Context, runID string) {
	run, err := q.runs.Get(parentCtx, runID)
	if err != nil {
		return
	}
	thread, err := q.threads.Get(parentCtx, run.ThreadID)
	if err != nil {
		now := time.Now()
		msg := err.Error()
		_ = q.runs.MarkFinished(parentCtx, runID, store.RunFailed, 0, &msg, now)
		return
	}

	runCtx, cancel := context.WithCancel(context.Background())

	q.mu.Lock()
	q.running[runID] = true
	q.controllers[runID] = cancel
	q.mu.Unlock()

	now := time.Now()
	if err := q.runs.MarkStarted(parentCtx, runID, now); err != nil {
		q.log.WithError(err).Warn("queue: failed to mark run started")
	}
	q.emit(parentCtx, thread.ID, runID, events.RunStarted, events.NewPayload(map[string]string{"runId": runID}))

	q.wg.Add(1)
	go q.execute(runCtx, cancel, thread, run)
}

func (q *Queue) execute(ctx context.Context, cancel context.CancelFunc, thread *store.Thread, run *store.Run) {
	defer func() {
		cancel()
		q.mu.Lock()
		delete(q.running, run.ID)
		delete(q.controllers, run.ID)
		q.mu.Unlock()
		q.sem.Release(1)
		q.wg.Done()
		q.tick(context.Background())
	}()

	task := thread.Task
	if run.TaskOverride != nil && *run.TaskOverride != "" {
		task = *run.TaskOverride
	}

	progressFile := "ralph-progress-" + thread.ID + ".md"
	if q.loopCfg.ProgressFileNameFmt != "" {
		progressFile = fmt.Sprintf(q.loopCfg.ProgressFileNameFmt, thread.ID)
	}

	prd, err := prompt.LoadPRDContext(filepath.Join(thread.WorktreePath, "prd.yaml"))
	if err != nil {
		q.log.WithThread(thread.ID).WithError(err).Warn("queue: failed to load prd context, continuing without it")
	}
	taskID := ""
	if prd != nil {
		taskID = fmt.Sprintf("task-%d", prd.TaskIndex)
	}

	outcome, loopErr := q.loop.Run(ctx, loop.Config{
		WorktreePath:        thread.WorktreePath,
		Task:                task,
		ValidationCommands:  thread.ValidationCommands(),
		MaxIterations:       run.MaxIterations,
		ProgressFileName:    progressFile,
		FailureContextChars: q.loopCfg.FailureContextChars,
		GitCheckpoint:       q.loopCfg.GitCheckpoint,
		AgentName:           agent.Name(thread.Agent),
		DryRun:              q.loopCfg.DryRun,
		InterIterationDelay: q.loopCfg.InterIterationDelay,
		AgentTimeout:        q.loopCfg.AgentTimeout,
		PRD:                 prd,
		TaskID:              taskID,
		ThreadID:            thread.ID,
		RunID:               run.ID,
	})

	now := time.Now()
	switch {
	case loopErr != nil:
		msg := loopErr.Error()
		_ = q.runs.MarkFinished(ctx, run.ID, store.RunFailed, outcome.Iterations, &msg, now)
		q.emit(context.Background(), thread.ID, run.ID, events.RunFailed, events.NewPayload(events.RunFailedPayload{Message: msg}))
	case outcome.Cancelled:
		_ = q.runs.MarkFinished(ctx, run.ID, store.RunCancelled, outcome.Iterations, nil, now)
		q.emit(context.Background(), thread.ID, run.ID, events.RunCancelled, events.NewPayload(map[string]string{"runId": run.ID}))
	case outcome.Success:
		_ = q.runs.MarkFinished(ctx, run.ID, store.RunCompleted, outcome.Iterations, nil, now)
		q.emit(context.Background(), thread.ID, run.ID, events.RunCompleted, events.NewPayload(map[string]string{"runId": run.ID}))
	default:
		msg := "Loop ended before completion"
		_ = q.runs.MarkFinished(ctx, run.ID, store.RunFailed, outcome.Iterations, &msg, now)
		q.emit(context.Background(), thread.ID, run.ID, events.RunFailed, events.NewPayload(events.RunFailedPayload{Message: msg}))
	}
}

func (q *Queue) emit(ctx context.Context, threadID, runID string, kind events.Kind, payload []byte) {
	ev, err := q.journal.Append(ctx, threadID, &runID, kind, payload, time.Now())
	if err != nil {
		q.log.WithError(err).Warn("queue: failed to journal event", zap.String("kind", string(kind)))
		return
	}
	if q.bcast != nil {
		q.bcast.Publish(ev)
	}
}

func indexOf(xs []string, v string) int {
	for i, x := range xs {
		if x == v {
			return i
		}
	}
	return -1
}
