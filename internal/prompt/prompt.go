// Package prompt assembles the agent's input text from an iteration's
// context. Building a prompt is a pure function: equal Context values
// always produce byte-identical prompts.
package prompt

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// PRDContext optionally augments the prompt with project-wide framing.
// Parsing PRD markdown itself is out of scope; this is always a
// pre-parsed struct supplied by the caller (see SPEC_FULL.md §2).
type PRDContext struct {
	TaskIndex          int      `yaml:"task_index"` // 1-based position within the project
	TaskTotal          int      `yaml:"task_total"`
	ProjectName        string   `yaml:"project_name"`
	ProjectDescription string   `yaml:"project_description"`
	AcceptanceCriteria []string `yaml:"acceptance_criteria"`
	PreviouslyDone     []string `yaml:"previously_done"` // short summaries of previously completed tasks
}

// LoadPRDContext reads a sidecar prd.yaml from a thread's worktree for
// local/manual runs that don't go through the HTTP boundary. Parsing PRD
// markdown itself is out of scope; this only decodes the already-structured
// fields PRDContext exposes. A missing file is not an error: it simply
// means the thread has no project framing.
func LoadPRDContext(path string) (*PRDContext, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read prd context: %w", err)
	}

	var p PRDContext
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse prd context: %w", err)
	}
	return &p, nil
}

// Context carries everything the prompt builder needs for one iteration.
type Context struct {
	Task                string
	Iteration           int
	MaxIterations       int
	ProgressContent     string
	ProgressExists      bool
	ValidationCommands  []string
	CompletionSecret    string
	ProgressFileName    string
	LastFailureOutput   string
	WasReverted         bool
	PRD                 *PRDContext
}

// Build assembles the full prompt text for ctx.
func Build(ctx Context) string {
	var b strings.Builder

	b.WriteString("## Task\n")
	b.WriteString(ctx.Task)
	b.WriteString("\n\n")

	if ctx.PRD != nil {
		p := ctx.PRD
		fmt.Fprintf(&b, "## Project: %s\n", p.ProjectName)
		if p.ProjectDescription != "" {
			b.WriteString(p.ProjectDescription)
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "This is task %d of %d.\n", p.TaskIndex, p.TaskTotal)
		if len(p.AcceptanceCriteria) > 0 {
			b.WriteString("\nAcceptance criteria:\n")
			for _, c := range p.AcceptanceCriteria {
				fmt.Fprintf(&b, "- %s\n", c)
			}
		}
		if len(p.PreviouslyDone) > 0 {
			b.WriteString("\nPreviously completed tasks:\n")
			for _, d := range p.PreviouslyDone {
				fmt.Fprintf(&b, "- %s\n", d)
			}
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## Rules\n")
	fmt.Fprintf(&b, "This is iteration %d of %d.\n", ctx.Iteration, ctx.MaxIterations)
	fmt.Fprintf(&b, "Record your progress in %s as you work.\n", ctx.ProgressFileName)
	b.WriteString("Validation commands (all must pass to finish):\n")
	for i, cmd := range ctx.ValidationCommands {
		fmt.Fprintf(&b, "%d. %s\n", i+1, cmd)
	}
	b.WriteString("\n")

	if ctx.ProgressExists {
		b.WriteString("## Prior progress\n")
		b.WriteString(ctx.ProgressContent)
		b.WriteString("\n\n")
	} else {
		b.WriteString("## Prior progress\nThis is the first iteration; no prior progress exists.\n\n")
	}

	if ctx.WasReverted {
		b.WriteString("## Warning\n")
		b.WriteString("Your previous iteration's changes were reverted because they made things worse. Review the failure output below and take a different approach.\n\n")
	}

	if ctx.LastFailureOutput != "" {
		b.WriteString("## Last validation failure\n")
		b.WriteString(ctx.LastFailureOutput)
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## Completion\nWhen all validation commands pass and you are done, output the following line exactly as the last line of your response:\n%s\n", ctx.CompletionSecret)

	return b.String()
}
