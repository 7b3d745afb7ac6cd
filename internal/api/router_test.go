package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bhadraagada/ralphh/internal/automation"
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

func initRepo(t *testing.T, dir string) {
	t.Helper()
	run := func(args ...string) {
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}
	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	run("commit", "--allow-empty", "-m", "initial")
}

func newTestRouter(t *testing.T) (http.Handler, Deps) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "api_test.db")
	pool, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	log := logger.NewNop()
	threads := store.NewThreadRepo(pool)
	runs := store.NewRunRepo(pool)
	comments := store.NewCommentRepo(pool)
	automations := store.NewAutomationRepo(pool)
	journal := events.NewJournal(pool, 200)
	bcast := events.NewBroadcaster(64)
	wt := worktree.New(log)

	runner := process.New(log)
	v := validator.New(runner)
	lp := loop.New(runner, v, journal, bcast, log)
	q := queue.New(threads, runs, journal, bcast, lp, log, 2, queue.LoopDefaults{GitCheckpoint: true, AgentTimeout: 2 * time.Second})
	rv := review.New(comments, threads, journal, bcast, q)
	sched := automation.New(automations, journal, bcast, q, log, time.Hour)

	deps := Deps{
		Pool: pool, Threads: threads, Runs: runs, Comments: comments, Automations: automations,
		Journal: journal, Broadcaster: bcast, Queue: q, Review: rv, Scheduler: sched,
		Worktrees: wt, Log: log,
	}
	return NewRouter(deps), deps
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
	require.Equal(t, true, body["dbOk"])
	queueStats, ok := body["queue"].(map[string]interface{})
	require.True(t, ok, "expected queue occupancy in health response")
	require.Equal(t, float64(2), queueStats["maxConcurrent"])
}

func TestCreateThreadCreatesWorktreeAndEmitsEvents(t *testing.T) {
	router, deps := newTestRouter(t)
	dir := t.TempDir()
	initRepo(t, dir)

	rec := doJSON(t, router, http.MethodPost, "/threads", map[string]interface{}{
		"name": "demo", "task": "build the thing", "repoPath": dir, "validate": []string{"true"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var thread store.Thread
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &thread))
	require.NotEmpty(t, thread.WorktreePath)
	require.Equal(t, "claude", thread.Agent)

	evs, err := deps.Journal.ListByThread(context.Background(), thread.ID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, evs, "expected thread.created and thread.worktree.created to be journaled")
}

func TestCreateThreadRejectsMissingFields(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/threads", map[string]interface{}{"name": "demo"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRunNotFoundReturns404(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/runs/does-not-exist", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestControlRunRejectsUnknownAction(t *testing.T) {
	router, _ := newTestRouter(t)
	dir := t.TempDir()
	initRepo(t, dir)

	rec := doJSON(t, router, http.MethodPost, "/threads", map[string]interface{}{
		"name": "demo", "task": "build the thing", "repoPath": dir, "validate": []string{"true"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var thread store.Thread
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &thread))

	runRec := doJSON(t, router, http.MethodPost, "/threads/"+thread.ID+"/runs", map[string]interface{}{"maxIterations": 1})
	require.Equal(t, http.StatusCreated, runRec.Code)
	var run store.Run
	require.NoError(t, json.Unmarshal(runRec.Body.Bytes(), &run))

	ctrlRec := doJSON(t, router, http.MethodPost, "/runs/"+run.ID+"/control", map[string]string{"action": "not-a-real-action"})
	require.Equal(t, http.StatusBadRequest, ctrlRec.Code)
}

func TestCreateAutomationRejectsBadCron(t *testing.T) {
	router, _ := newTestRouter(t)
	dir := t.TempDir()
	initRepo(t, dir)

	rec := doJSON(t, router, http.MethodPost, "/threads", map[string]interface{}{
		"name": "demo", "task": "build the thing", "repoPath": dir, "validate": []string{"true"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var thread store.Thread
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &thread))

	autoRec := doJSON(t, router, http.MethodPost, "/automations", map[string]interface{}{
		"name": "nightly", "cronExpr": "*/5 * * * *", "threadId": thread.ID,
	})
	require.Equal(t, http.StatusBadRequest, autoRec.Code)
}
