// Package events defines the control plane's closed event taxonomy plus
// the durable, ordered journal and the live fan-out broadcaster built on
// top of it.
package events

import (
	"encoding/json"
	"time"
)

// Kind enumerates the closed set of event types the system ever emits.
type Kind string

const (
	ThreadCreated         Kind = "thread.created"
	ThreadWorktreeCreated Kind = "thread.worktree.created"
	ReviewCommentCreated  Kind = "review.comment.created"
	ReviewRerunQueued     Kind = "review.rerun.queued"
	AutomationCreated     Kind = "automation.created"
	AutomationTriggered   Kind = "automation.triggered"
	RunQueued             Kind = "run.queued"
	RunStarted            Kind = "run.started"
	RunPaused             Kind = "run.paused"
	RunResumed            Kind = "run.resumed"
	RunCancelled          Kind = "run.cancelled"
	RunCompleted          Kind = "run.completed"
	RunFailed             Kind = "run.failed"
	LoopIterationStarted  Kind = "loop.iteration.started"
	LoopAgentSpawned      Kind = "loop.agent.spawned"
	LoopAgentExited       Kind = "loop.agent.exited"
	LoopValidationDone    Kind = "loop.validation.completed"
	LoopRegressionRevert  Kind = "loop.regression.reverted"
	LoopCheckpointCommit  Kind = "loop.checkpoint.committed"
)

// Event is an immutable, persisted record of something observable.
// Payload is an opaque structured blob: the typed constructors below
// populate a small closed set of shapes per Kind, but unmarshaling code
// must tolerate unknown fields round-tripping opaquely, since the payload
// is stored and transmitted as raw JSON.
type Event struct {
	ID        int64           `db:"id" json:"id"`
	ThreadID  string          `db:"thread_id" json:"threadId"`
	RunID     *string         `db:"run_id" json:"runId,omitempty"`
	Type      Kind            `db:"type" json:"type"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
}

// NewPayload marshals v (one of the typed payload structs below, or any
// map/struct for a kind with no dedicated shape) into a raw JSON payload.
func NewPayload(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}

// Typed payload shapes for the kinds the iteration loop and queue emit
// with structured data. Kinds not listed here carry an empty object or a
// small ad-hoc map.

type IterationStartedPayload struct {
	Iteration int `json:"iteration"`
}

type AgentSpawnedPayload struct {
	Iteration int    `json:"iteration"`
	Agent     string `json:"agent"`
}

type AgentExitedPayload struct {
	Iteration int   `json:"iteration"`
	ExitCode  int   `json:"exitCode"`
	ElapsedMs int64 `json:"elapsedMs"`
}

type ValidationCompletedPayload struct {
	Iteration  int  `json:"iteration"`
	PassCount  int  `json:"passCount"`
	TotalCount int  `json:"totalCount"`
	AllPassed  bool `json:"allPassed"`
}

type RegressionRevertedPayload struct {
	Iteration int `json:"iteration"`
}

type CheckpointCommittedPayload struct {
	Iteration int `json:"iteration"`
	Score     int `json:"score"`
	Total     int `json:"total"`
}

type RunFailedPayload struct {
	Message string `json:"message"`
}

type AutomationTriggeredPayload struct {
	AutomationID string `json:"automationId"`
	RunID        string `json:"runId"`
}
