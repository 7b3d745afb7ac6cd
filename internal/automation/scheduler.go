package automation

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bhadraagada/ralphh/internal/common/logger"
	"github.com/bhadraagada/ralphh/internal/events"
	"github.com/bhadraagada/ralphh/internal/store"
)

// Enqueuer is the subset of the run queue the scheduler needs to start a
// run on an automation's thread. It is an interface, not a direct
// dependency on the queue package, so the two packages can be wired
// together by the command's main without an import cycle.
type Enqueuer interface {
	Enqueue(ctx context.Context, threadID string, maxIterations int, taskOverride, sourceRunID *string) (*store.Run, error)
}

// Scheduler polls enabled automations once per tick and fires any whose
// cron expression matches the current minute, guarding against a double
// fire within the same minute bucket. Modeled on the teacher's
// stop-channel-plus-waitgroup scheduler loop lifecycle.
type Scheduler struct {
	automations *store.AutomationRepo
	journal     *events.Journal
	broadcaster *events.Broadcaster
	queue       Enqueuer
	log         *logger.Logger
	interval    time.Duration

	fired map[string]int64 // automation ID -> last fired minute bucket

	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// New creates a Scheduler that polls every interval (default 30s if <= 0).
func New(automations *store.AutomationRepo, journal *events.Journal, broadcaster *events.Broadcaster, queue Enqueuer, log *logger.Logger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		automations: automations,
		journal:     journal,
		broadcaster: broadcaster,
		queue:       queue,
		log:         log,
		interval:    interval,
		fired:       make(map[string]int64),
	}
}

// Start begins the polling loop in a background goroutine. Calling Start
// twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop halts the polling loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx, time.Now())
		}
	}
}

// tick evaluates every enabled automation against now. It is unexported;
// tests in this package call it directly to drive the schedule
// deterministically without a real timer.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	automations, err := s.automations.ListEnabled(ctx)
	if err != nil {
		s.log.WithError(err).Warn("automation: failed to list enabled automations")
		return
	}

	bucket := MinuteBucket(now)
	for _, a := range automations {
		cron, err := ParseCron(a.CronExpr)
		if err != nil {
			s.log.WithFields(zap.String("automation", a.ID)).Warn("automation: invalid cron expression, skipping")
			continue
		}
		if !cron.Matches(now) {
			continue
		}
		if s.fired[a.ID] == bucket {
			continue
		}
		if a.LastTriggered != nil && MinuteBucket(*a.LastTriggered) == bucket {
			continue
		}
		s.fired[a.ID] = bucket
		s.trigger(ctx, a, now)
	}
}

// TriggerNow fires automation id immediately, bypassing its cron schedule
// and the minute-bucket guard, for the run-now API endpoint.
func (s *Scheduler) TriggerNow(ctx context.Context, id string) (*store.Run, error) {
	a, err := s.automations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.trigger(ctx, *a, time.Now())
}

func (s *Scheduler) trigger(ctx context.Context, a store.Automation, now time.Time) (*store.Run, error) {
	run, err := s.queue.Enqueue(ctx, a.ThreadID, a.MaxIterations, nil, nil)
	if err != nil {
		s.log.WithError(err).WithFields(zap.String("automation", a.ID)).Warn("automation: failed to enqueue run")
		return nil, err
	}

	if err := s.automations.MarkTriggered(ctx, a.ID, now); err != nil {
		s.log.WithError(err).Warn("automation: failed to stamp last_triggered")
	}

	payload := events.NewPayload(events.AutomationTriggeredPayload{AutomationID: a.ID, RunID: run.ID})
	ev, err := s.journal.Append(ctx, a.ThreadID, &run.ID, events.AutomationTriggered, payload, now)
	if err != nil {
		s.log.WithError(err).Warn("automation: failed to journal trigger event")
	} else if s.broadcaster != nil {
		s.broadcaster.Publish(ev)
	}

	return run, nil
}
