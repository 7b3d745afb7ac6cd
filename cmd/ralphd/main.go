// Command ralphd runs the control plane: the HTTP/WebSocket surface, the
// run queue, and the automation scheduler, all wired against one embedded
// SQLite database.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/bhadraagada/ralphh/internal/api"
	"github.com/bhadraagada/ralphh/internal/automation"
	"github.com/bhadraagada/ralphh/internal/common/config"
	"github.com/bhadraagada/ralphh/internal/common/logger"
	"github.com/bhadraagada/ralphh/internal/events"
	"github.com/bhadraagada/ralphh/internal/loop"
	"github.com/bhadraagada/ralphh/internal/process"
	"github.com/bhadraagada/ralphh/internal/queue"
	"github.com/bhadraagada/ralphh/internal/review"
	"github.com/bhadraagada/ralphh/internal/store"
	"github.com/bhadraagada/ralphh/internal/validator"
	"github.com/bhadraagada/ralphh/internal/worktree"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting ralphd", zap.String("db_path", cfg.Database.Path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Error("failed to open database", zap.Error(err))
		os.Exit(1)
	}

	threads := store.NewThreadRepo(pool)
	runs := store.NewRunRepo(pool)
	comments := store.NewCommentRepo(pool)
	automations := store.NewAutomationRepo(pool)

	journal := events.NewJournal(pool, cfg.Events.JournalPageSize)
	bcast := events.NewBroadcaster(cfg.Events.SubscriberQueueDepth)

	var natsBridge *events.NATSBridge
	if cfg.Events.NATSUrl != "" {
		log.Info("connecting to NATS event bridge", zap.String("url", cfg.Events.NATSUrl))
		natsBridge, err = events.NewNATSBridge(cfg.Events.NATSUrl, log)
		if err != nil {
			log.Warn("failed to connect to NATS, continuing without it", zap.Error(err))
			natsBridge = nil
		} else {
			defer natsBridge.Close()
		}
	}

	wt := worktree.New(log)
	runner := process.New(log)
	v := validator.New(runner)
	lp := loop.New(runner, v, journal, bcast, log)

	q := queue.New(threads, runs, journal, bcast, lp, log, cfg.Queue.MaxConcurrent, queue.LoopDefaults{
		ProgressFileNameFmt: cfg.Loop.ProgressFileTemplate,
		FailureContextChars: cfg.Loop.FailureContextCap,
		GitCheckpoint:       cfg.Loop.GitCheckpoint,
		InterIterationDelay: cfg.Loop.InterIterationDelayDuration(),
		AgentTimeout:        cfg.Loop.AgentTimeoutDuration(),
	})

	rv := review.New(comments, threads, journal, bcast, q)
	sched := automation.New(automations, journal, bcast, q, log, cfg.Automation.TickInterval())
	sched.Start(ctx)
	defer sched.Stop()

	if natsBridge != nil {
		bridgeSub := bcast.Subscribe()
		go func() {
			for env := range bridgeSub.Chan() {
				if env.Event != nil {
					natsBridge.Publish(*env.Event)
				}
			}
		}()
	}

	router := api.NewRouter(api.Deps{
		Pool: pool, Threads: threads, Runs: runs, Comments: comments, Automations: automations,
		Journal: journal, Broadcaster: bcast, Queue: q, Review: rv, Scheduler: sched,
		Worktrees: wt, Log: log,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("http server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down ralphd")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}

	log.Info("waiting for in-flight runs to finish", zap.Duration("grace", cfg.Queue.ShutdownGraceDuration()))
	if err := q.Shutdown(context.Background(), cfg.Queue.ShutdownGraceDuration()); err != nil {
		log.Warn("queue shutdown grace period elapsed with runs still in flight", zap.Error(err))
	}

	if err := pool.Close(); err != nil {
		log.Error("failed to close database", zap.Error(err))
	}
}
