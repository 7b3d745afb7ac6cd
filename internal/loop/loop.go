// Package loop implements the iteration loop: the core state machine that
// repeatedly drives an agent subprocess against a task until the agent
// claims completion and the validator agrees, or the iteration budget is
// exhausted.
package loop

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bhadraagada/ralphh/internal/agent"
	"github.com/bhadraagada/ralphh/internal/common/logger"
	"github.com/bhadraagada/ralphh/internal/events"
	"github.com/bhadraagada/ralphh/internal/process"
	"github.com/bhadraagada/ralphh/internal/prompt"
	"github.com/bhadraagada/ralphh/internal/validator"
	"github.com/bhadraagada/ralphh/internal/worktree"
)

// secretPattern is the closed shape every generated completion secret
// matches, as checked by ValidSecret. Detect does not consult it.
var secretPattern = regexp.MustCompile(`^RALPH_COMPLETE_[0-9a-f]{8}$`)

// GenerateSecret returns a fresh, unique per-run completion secret.
func GenerateSecret() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("loop: failed to generate completion secret: %w", err)
	}
	return "RALPH_COMPLETE_" + hex.EncodeToString(buf), nil
}

// ValidSecret reports whether s has the shape a generated secret must have.
func ValidSecret(s string) bool {
	return secretPattern.MatchString(s)
}

// Detect reports whether secret appears as a contiguous substring of
// combinedOutput (stdout + "\n" + stderr, conventionally).
func Detect(combinedOutput, secret string) bool {
	return strings.Contains(combinedOutput, secret)
}

// Config configures one run of the iteration loop.
type Config struct {
	WorktreePath        string
	Task                string
	ValidationCommands  []string
	MaxIterations       int
	ProgressFileName    string
	FailureContextChars int
	GitCheckpoint       bool
	AgentName           agent.Name
	AgentOptions        agent.Options
	DryRun              bool
	InterIterationDelay time.Duration
	AgentTimeout        time.Duration
	PRD                 *prompt.PRDContext
	TaskID              string // used in commit messages when PRD is set; empty otherwise

	ThreadID string
	RunID    string
}

// Outcome is the loop's final result.
type Outcome struct {
	Success    bool
	Iterations int
	Cancelled  bool
}

// Loop drives a run's iterations. It holds no per-run state, so a single
// Loop is shared by every run the queue executes.
type Loop struct {
	runner    *process.Runner
	validator *validator.Validator
	journal   *events.Journal
	broadcast *events.Broadcaster
	log       *logger.Logger
}

// New creates a Loop with its collaborators.
func New(runner *process.Runner, v *validator.Validator, journal *events.Journal, broadcast *events.Broadcaster, log *logger.Logger) *Loop {
	return &Loop{runner: runner, validator: v, journal: journal, broadcast: broadcast, log: log}
}

// Run executes cfg's iteration loop to completion, cancellation, or
// iteration exhaustion.
func (l *Loop) Run(ctx context.Context, cfg Config) (Outcome, error) {
	secret, err := GenerateSecret()
	if err != nil {
		return Outcome{}, err
	}

	ad, err := agent.New(cfg.AgentName, cfg.AgentOptions)
	if err != nil {
		return Outcome{}, fmt.Errorf("loop: %w", err)
	}
	if !ad.Installed(ctx, l.runner) {
		l.log.Warn("agent CLI not found on PATH, continuing anyway", zap.String("agent", string(cfg.AgentName)))
	}

	progressPath := filepath.Join(cfg.WorktreePath, cfg.ProgressFileName)
	if _, statErr := os.Stat(progressPath); os.IsNotExist(statErr) {
		if err := writeInitialProgress(progressPath, cfg.Task); err != nil {
			return Outcome{}, fmt.Errorf("loop: failed to init progress file: %w", err)
		}
	}

	baseline := l.validator.Run(ctx, cfg.WorktreePath, cfg.ValidationCommands)
	bestScore := validator.Score(baseline)

	var lastFailureOutput string
	var wasReverted bool

	for i := 1; i <= cfg.MaxIterations; i++ {
		if ctx.Err() != nil {
			return Outcome{Success: false, Iterations: i - 1, Cancelled: true}, nil
		}

		l.emit(ctx, cfg, events.LoopIterationStarted, events.NewPayload(events.IterationStartedPayload{Iteration: i}))

		progressContent, progressExists := readProgress(progressPath)

		promptText := prompt.Build(prompt.Context{
			Task:               effectiveTask(cfg),
			Iteration:          i,
			MaxIterations:      cfg.MaxIterations,
			ProgressContent:    progressContent,
			ProgressExists:     progressExists,
			ValidationCommands: cfg.ValidationCommands,
			CompletionSecret:   secret,
			ProgressFileName:   cfg.ProgressFileName,
			LastFailureOutput:  lastFailureOutput,
			WasReverted:        wasReverted,
			PRD:                cfg.PRD,
		})

		spawn, err := ad.BuildCommand(promptText, cfg.WorktreePath)
		if err != nil {
			return Outcome{}, fmt.Errorf("loop: failed to build agent command: %w", err)
		}

		if cfg.DryRun {
			return Outcome{Success: true, Iterations: 0}, nil
		}

		l.emit(ctx, cfg, events.LoopAgentSpawned, events.NewPayload(events.AgentSpawnedPayload{Iteration: i, Agent: string(cfg.AgentName)}))

		agentTimeout := cfg.AgentTimeout
		if agentTimeout <= 0 {
			agentTimeout = 5 * time.Minute
		}
		agentResult := l.runner.Run(ctx, process.Spec{
			Name:    "agent",
			Command: spawn.Command,
			Args:    spawn.Args,
			Env:     spawn.Env,
			Dir:     cfg.WorktreePath,
			Timeout: agentTimeout,
		})

		l.emit(ctx, cfg, events.LoopAgentExited, events.NewPayload(events.AgentExitedPayload{
			Iteration: i, ExitCode: agentResult.ExitCode, ElapsedMs: agentResult.ElapsedMs,
		}))

		if agentResult.Cancelled {
			return Outcome{Success: false, Iterations: i - 1, Cancelled: true}, nil
		}

		secretDetected := Detect(agentResult.Stdout+"\n"+agentResult.Stderr, secret)

		report := l.validator.Run(ctx, cfg.WorktreePath, cfg.ValidationCommands)
		currentScore := validator.Score(report)

		l.emit(ctx, cfg, events.LoopValidationDone, events.NewPayload(events.ValidationCompletedPayload{
			Iteration: i, PassCount: report.PassCount, TotalCount: report.TotalCount, AllPassed: report.AllPassed,
		}))

		if secretDetected && report.AllPassed {
			if cfg.GitCheckpoint {
				if err := worktree.Commit(cfg.WorktreePath, completionMessage(cfg, i)); err != nil {
					l.log.WithError(err).Warn("loop: completion commit failed")
				}
			}
			return Outcome{Success: true, Iterations: i}, nil
		}

		if secretDetected && !report.AllPassed {
			l.log.Warn("loop: agent claimed completion but validation failed", zap.Int("iteration", i))
		}

		if cfg.GitCheckpoint {
			if currentScore < bestScore {
				if err := worktree.RevertToHead(cfg.WorktreePath); err != nil {
					l.log.WithError(err).Warn("loop: revert failed")
				}
				l.emit(ctx, cfg, events.LoopRegressionRevert, events.NewPayload(events.RegressionRevertedPayload{Iteration: i}))
				wasReverted = true
				lastFailureOutput = validator.FailureContext(report, cfg.FailureContextChars)
			} else {
				wasReverted = false
				if currentScore > bestScore {
					bestScore = currentScore
				}
				if err := worktree.Commit(cfg.WorktreePath, iterationMessage(cfg, i, currentScore, report.TotalCount)); err != nil {
					l.log.WithError(err).Warn("loop: checkpoint commit failed")
				}
				l.emit(ctx, cfg, events.LoopCheckpointCommit, events.NewPayload(events.CheckpointCommittedPayload{
					Iteration: i, Score: currentScore, Total: report.TotalCount,
				}))
				lastFailureOutput = validator.FailureContext(report, cfg.FailureContextChars)
			}
		} else {
			wasReverted = false
			lastFailureOutput = validator.FailureContext(report, cfg.FailureContextChars)
		}

		if cfg.InterIterationDelay > 0 && i < cfg.MaxIterations {
			select {
			case <-ctx.Done():
				return Outcome{Success: false, Iterations: i, Cancelled: true}, nil
			case <-time.After(cfg.InterIterationDelay):
			}
		}
	}

	return Outcome{Success: false, Iterations: cfg.MaxIterations}, nil
}

func effectiveTask(cfg Config) string {
	return cfg.Task
}

func completionMessage(cfg Config, iteration int) string {
	if cfg.PRD != nil && cfg.TaskID != "" {
		return fmt.Sprintf("ralph: [%s] complete (iteration %d)", cfg.TaskID, iteration)
	}
	return fmt.Sprintf("ralph: task complete (iteration %d)", iteration)
}

func iterationMessage(cfg Config, iteration, passing, total int) string {
	if cfg.PRD != nil && cfg.TaskID != "" {
		return fmt.Sprintf("ralph: [%s] iteration %d (%d/%d passing)", cfg.TaskID, iteration, passing, total)
	}
	return fmt.Sprintf("ralph: iteration %d (%d/%d passing)", iteration, passing, total)
}

func writeInitialProgress(path, task string) error {
	content := fmt.Sprintf("# Ralph Loop Progress\n## Task %s\n## Status Started — no iterations completed yet.\n## Iteration Log\n", task)
	return os.WriteFile(path, []byte(content), 0o644)
}

func readProgress(path string) (content string, exists bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return string(b), true
}

func (l *Loop) emit(ctx context.Context, cfg Config, kind events.Kind, payload []byte) {
	runID := cfg.RunID
	ev, err := l.journal.Append(ctx, cfg.ThreadID, &runID, kind, payload, time.Now())
	if err != nil {
		l.log.WithError(err).Warn("loop: failed to journal event", zap.String("kind", string(kind)))
		return
	}
	if l.broadcast != nil {
		l.broadcast.Publish(ev)
	}
}
