package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bhadraagada/ralphh/internal/agent"
	"github.com/bhadraagada/ralphh/internal/apperr"
	"github.com/bhadraagada/ralphh/internal/automation"
	"github.com/bhadraagada/ralphh/internal/common/logger"
	"github.com/bhadraagada/ralphh/internal/events"
	"github.com/bhadraagada/ralphh/internal/queue"
	"github.com/bhadraagada/ralphh/internal/review"
	"github.com/bhadraagada/ralphh/internal/store"
	"github.com/bhadraagada/ralphh/internal/worktree"
)

type handler struct {
	pool        *store.Pool
	threads     *store.ThreadRepo
	runs        *store.RunRepo
	comments    *store.CommentRepo
	automations *store.AutomationRepo
	journal     *events.Journal
	bcast       *events.Broadcaster
	queue       *queue.Queue
	review      *review.Service
	scheduler   *automation.Scheduler
	worktrees   *worktree.Manager
	log         *logger.Logger
}

func newHandler(deps Deps) *handler {
	return &handler{
		pool:        deps.Pool,
		threads:     deps.Threads,
		runs:        deps.Runs,
		comments:    deps.Comments,
		automations: deps.Automations,
		journal:     deps.Journal,
		bcast:       deps.Broadcaster,
		queue:       deps.Queue,
		review:      deps.Review,
		scheduler:   deps.Scheduler,
		worktrees:   deps.Worktrees,
		log:         deps.Log.WithFields(zap.String("component", "api")),
	}
}

func (h *handler) fail(c *gin.Context, err error) {
	c.JSON(apperr.HTTPStatus(err), gin.H{"error": err.Error()})
}

// Health reports liveness plus current queue occupancy.
func (h *handler) Health(c *gin.Context) {
	dbOk := h.pool == nil || h.pool.Ping() == nil
	status := "ok"
	if !dbOk {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status": status,
		"dbOk":   dbOk,
		"queue":  h.queue.Stats(),
	})
}

func (h *handler) ListThreads(c *gin.Context) {
	threads, err := h.threads.List(c.Request.Context())
	if err != nil {
		h.fail(c, apperr.Internal("failed to list threads", err))
		return
	}

	out := make([]gin.H, 0, len(threads))
	for _, t := range threads {
		runs, err := h.runs.ListByThread(c.Request.Context(), t.ID)
		if err != nil {
			h.fail(c, apperr.Internal("failed to list runs", err))
			return
		}
		body := t.AsJSON()
		body["runs"] = runs
		out = append(out, body)
	}
	c.JSON(http.StatusOK, out)
}

type createThreadRequest struct {
	Name     string   `json:"name" binding:"required"`
	Task     string   `json:"task" binding:"required"`
	RepoPath string   `json:"repoPath" binding:"required"`
	Agent    string   `json:"agent"`
	Validate []string `json:"validate"`
}

func (h *handler) CreateThread(c *gin.Context) {
	var req createThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperr.Input(err.Error()))
		return
	}
	agentName := req.Agent
	if agentName == "" {
		agentName = string(agent.Claude)
	}
	if !agent.Valid(agent.Name(agentName)) {
		h.fail(c, apperr.Input("unknown agent: "+agentName))
		return
	}

	threadID := uuid.NewString()
	handle, err := h.worktrees.Create(req.RepoPath, threadID)
	if err != nil {
		h.fail(c, apperr.Input("failed to create worktree: "+err.Error()))
		return
	}

	now := time.Now()
	t := &store.Thread{
		ID:           threadID,
		Name:         req.Name,
		Task:         req.Task,
		RepoPath:     handle.RepoRoot,
		WorktreePath: handle.WorktreePath,
		BranchName:   handle.BranchName,
		Agent:        agentName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	t.EncodeValidationCommands(req.Validate)

	if err := h.threads.Create(c.Request.Context(), t); err != nil {
		h.fail(c, apperr.Internal("failed to create thread", err))
		return
	}

	h.emit(c, t.ID, nil, events.ThreadCreated, events.NewPayload(map[string]string{"threadId": t.ID}))
	h.emit(c, t.ID, nil, events.ThreadWorktreeCreated, events.NewPayload(map[string]string{
		"threadId": t.ID, "worktreePath": handle.WorktreePath, "branchName": handle.BranchName,
	}))

	c.JSON(http.StatusCreated, t.AsJSON())
}

func (h *handler) ListEvents(c *gin.Context) {
	threadID := c.Param("id")
	limit := 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	list, err := h.journal.ListByThread(c.Request.Context(), threadID, limit)
	if err != nil {
		h.fail(c, apperr.Internal("failed to list events", err))
		return
	}
	c.JSON(http.StatusOK, list)
}

type createRunRequest struct {
	MaxIterations int     `json:"maxIterations"`
	TaskOverride  *string `json:"taskOverride"`
	SourceRunID   *string `json:"sourceRunId"`
}

func (h *handler) CreateRun(c *gin.Context) {
	threadID := c.Param("id")
	var req createRunRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.fail(c, apperr.Input(err.Error()))
			return
		}
	}

	run, err := h.queue.Enqueue(c.Request.Context(), threadID, req.MaxIterations, req.TaskOverride, req.SourceRunID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, run)
}

func (h *handler) ThreadDiff(c *gin.Context) {
	threadID := c.Param("id")
	t, err := h.threads.Get(c.Request.Context(), threadID)
	if err != nil {
		h.fail(c, err)
		return
	}
	diff, err := worktree.Diff(t.WorktreePath)
	if err != nil {
		h.fail(c, apperr.Internal("subprocess failed to produce diff", err))
		return
	}
	c.String(http.StatusOK, diff)
}

func (h *handler) ListComments(c *gin.Context) {
	threadID := c.Param("id")
	list, err := h.comments.ListByThread(c.Request.Context(), threadID)
	if err != nil {
		h.fail(c, apperr.Internal("failed to list comments", err))
		return
	}
	c.JSON(http.StatusOK, list)
}

type createCommentRequest struct {
	RunID      *string `json:"runId"`
	FilePath   string  `json:"filePath" binding:"required"`
	LineNumber int     `json:"lineNumber"`
	Body       string  `json:"body" binding:"required"`
}

func (h *handler) CreateComment(c *gin.Context) {
	threadID := c.Param("id")
	var req createCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperr.Input(err.Error()))
		return
	}
	comment, err := h.review.CreateComment(c.Request.Context(), threadID, req.RunID, req.FilePath, req.LineNumber, req.Body, uuid.NewString())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

type rerunRequest struct {
	CommentIDs []string `json:"commentIds" binding:"required"`
}

func (h *handler) RerunFromComments(c *gin.Context) {
	threadID := c.Param("id")
	var req rerunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperr.Input(err.Error()))
		return
	}
	run, err := h.review.RerunFromComments(c.Request.Context(), threadID, req.CommentIDs)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, run)
}

func (h *handler) GetRun(c *gin.Context) {
	run, err := h.runs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

type controlRequest struct {
	Action queue.Action `json:"action" binding:"required"`
}

func (h *handler) ControlRun(c *gin.Context) {
	runID := c.Param("id")
	var req controlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperr.Input(err.Error()))
		return
	}

	ctx := c.Request.Context()
	switch req.Action {
	case queue.ActionPause:
		if err := h.queue.Pause(ctx, runID); err != nil {
			h.fail(c, err)
			return
		}
	case queue.ActionResume:
		if err := h.queue.Resume(ctx, runID); err != nil {
			h.fail(c, err)
			return
		}
	case queue.ActionStop:
		ok, err := h.queue.Stop(ctx, runID)
		if err != nil {
			h.fail(c, err)
			return
		}
		if !ok {
			h.fail(c, apperr.Conflict("run is not pending or running; cannot stop"))
			return
		}
	case queue.ActionRetry:
		run, err := h.runs.Get(ctx, runID)
		if err != nil {
			h.fail(c, err)
			return
		}
		if !run.Status.IsTerminal() {
			h.fail(c, apperr.Conflict("run has not finished; cannot retry"))
			return
		}
		newRun, err := h.queue.Enqueue(ctx, run.ThreadID, run.MaxIterations, run.TaskOverride, &run.ID)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, newRun)
		return
	default:
		h.fail(c, apperr.Input("unknown action: "+string(req.Action)))
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) ListAutomations(c *gin.Context) {
	list, err := h.automations.List(c.Request.Context())
	if err != nil {
		h.fail(c, apperr.Internal("failed to list automations", err))
		return
	}
	c.JSON(http.StatusOK, list)
}

type createAutomationRequest struct {
	Name          string `json:"name" binding:"required"`
	CronExpr      string `json:"cronExpr" binding:"required"`
	ThreadID      string `json:"threadId" binding:"required"`
	MaxIterations int    `json:"maxIterations"`
}

func (h *handler) CreateAutomation(c *gin.Context) {
	var req createAutomationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperr.Input(err.Error()))
		return
	}
	if _, err := automation.ParseCron(req.CronExpr); err != nil {
		h.fail(c, apperr.Input("invalid cron expression: "+err.Error()))
		return
	}
	if _, err := h.threads.Get(c.Request.Context(), req.ThreadID); err != nil {
		h.fail(c, err)
		return
	}

	maxIterations := req.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 10
	}

	a := &store.Automation{
		ID: uuid.NewString(), Name: req.Name, CronExpr: req.CronExpr,
		ThreadID: req.ThreadID, MaxIterations: maxIterations, Enabled: true, CreatedAt: time.Now(),
	}
	if err := h.automations.Create(c.Request.Context(), a); err != nil {
		h.fail(c, apperr.Internal("failed to create automation", err))
		return
	}

	h.emit(c, req.ThreadID, nil, events.AutomationCreated, events.NewPayload(map[string]string{"automationId": a.ID}))
	c.JSON(http.StatusCreated, a)
}

type toggleAutomationRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *handler) ToggleAutomation(c *gin.Context) {
	id := c.Param("id")
	var req toggleAutomationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperr.Input(err.Error()))
		return
	}
	if _, err := h.automations.Get(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.automations.SetEnabled(c.Request.Context(), id, req.Enabled); err != nil {
		h.fail(c, apperr.Internal("failed to toggle automation", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) RunAutomationNow(c *gin.Context) {
	run, err := h.scheduler.TriggerNow(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, run)
}

func (h *handler) emit(c *gin.Context, threadID string, runID *string, kind events.Kind, payload []byte) {
	ev, err := h.journal.Append(c.Request.Context(), threadID, runID, kind, payload, time.Now())
	if err != nil {
		h.log.WithError(err).Warn("api: failed to journal event")
		return
	}
	if h.bcast != nil {
		h.bcast.Publish(ev)
	}
}
