// Package api exposes the control plane's HTTP and WebSocket control
// surface: thread and run CRUD, run control, review comments, automations,
// and a live event subscription.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bhadraagada/ralphh/internal/automation"
	"github.com/bhadraagada/ralphh/internal/common/logger"
	"github.com/bhadraagada/ralphh/internal/events"
	"github.com/bhadraagada/ralphh/internal/queue"
	"github.com/bhadraagada/ralphh/internal/review"
	"github.com/bhadraagada/ralphh/internal/store"
	"github.com/bhadraagada/ralphh/internal/worktree"
)

// Deps bundles everything the router needs to wire up handlers.
type Deps struct {
	Pool        *store.Pool
	Threads     *store.ThreadRepo
	Runs        *store.RunRepo
	Comments    *store.CommentRepo
	Automations *store.AutomationRepo
	Journal     *events.Journal
	Broadcaster *events.Broadcaster
	Queue       *queue.Queue
	Review      *review.Service
	Scheduler   *automation.Scheduler
	Worktrees   *worktree.Manager
	Log         *logger.Logger
}

// NewRouter builds the gin engine with every route from the external
// interface, structured request logging, CORS, and panic recovery.
func NewRouter(deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLoggingMiddleware(deps.Log))
	router.Use(corsMiddleware())

	h := newHandler(deps)

	router.GET("/health", h.Health)
	router.GET("/ws", h.WebSocket)

	router.GET("/threads", h.ListThreads)
	router.POST("/threads", h.CreateThread)
	router.GET("/threads/:id/events", h.ListEvents)
	router.POST("/threads/:id/runs", h.CreateRun)
	router.GET("/threads/:id/diff", h.ThreadDiff)
	router.GET("/threads/:id/comments", h.ListComments)
	router.POST("/threads/:id/comments", h.CreateComment)
	router.POST("/threads/:id/rerun-from-comments", h.RerunFromComments)

	router.GET("/runs/:id", h.GetRun)
	router.POST("/runs/:id/control", h.ControlRun)

	router.GET("/automations", h.ListAutomations)
	router.POST("/automations", h.CreateAutomation)
	router.POST("/automations/:id/toggle", h.ToggleAutomation)
	router.POST("/automations/:id/run-now", h.RunAutomationNow)

	return router
}

func requestLoggingMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
