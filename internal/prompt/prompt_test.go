package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func baseCtx() Context {
	return Context{
		Task:               "build the widget",
		Iteration:          1,
		MaxIterations:      5,
		ProgressFileName:   "ralph-progress-t1.md",
		ValidationCommands: []string{"go test ./...", "go vet ./..."},
		CompletionSecret:   "RALPH_COMPLETE_deadbeef",
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	c := baseCtx()
	require.Equal(t, Build(c), Build(c))
}

func TestBuildContainsRequiredSections(t *testing.T) {
	c := baseCtx()
	out := Build(c)
	require.Contains(t, out, "build the widget")
	require.Contains(t, out, "iteration 1 of 5")
	require.Contains(t, out, "ralph-progress-t1.md")
	require.Contains(t, out, "1. go test ./...")
	require.Contains(t, out, "2. go vet ./...")
	require.Contains(t, out, "RALPH_COMPLETE_deadbeef")
	require.Contains(t, out, "first iteration")
}

func TestBuildConditionalSections(t *testing.T) {
	c := baseCtx()
	c.WasReverted = true
	c.LastFailureOutput = "### go test (FAILED)\n```\nboom\n```\n"
	out := Build(c)
	require.Contains(t, out, "reverted")
	require.Contains(t, out, "boom")
}

func TestBuildPRDMode(t *testing.T) {
	c := baseCtx()
	c.PRD = &PRDContext{
		TaskIndex: 2, TaskTotal: 7,
		ProjectName:        "Widgets",
		AcceptanceCriteria: []string{"renders", "saves"},
		PreviouslyDone:     []string{"scaffold project"},
	}
	out := Build(c)
	require.Contains(t, out, "Project: Widgets")
	require.Contains(t, out, "task 2 of 7")
	require.Contains(t, out, "- renders")
	require.Contains(t, out, "- scaffold project")
}

func TestLoadPRDContextReturnsNilWhenFileAbsent(t *testing.T) {
	p, err := LoadPRDContext(filepath.Join(t.TempDir(), "prd.yaml"))
	require.NoError(t, err)
	require.Nil(t, p)
}

func TestLoadPRDContextParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prd.yaml")
	content := "task_index: 3\n" +
		"task_total: 9\n" +
		"project_name: Widgets\n" +
		"project_description: A widget factory\n" +
		"acceptance_criteria:\n  - renders\n  - saves\n" +
		"previously_done:\n  - scaffold project\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	p, err := LoadPRDContext(path)
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, 3, p.TaskIndex)
	require.Equal(t, 9, p.TaskTotal)
	require.Equal(t, "Widgets", p.ProjectName)
	require.Equal(t, []string{"renders", "saves"}, p.AcceptanceCriteria)
	require.Equal(t, []string{"scaffold project"}, p.PreviouslyDone)
}

func TestLoadPRDContextRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("task_index: [this is not valid"), 0644))

	_, err := LoadPRDContext(path)
	require.Error(t, err)
}
