// Package validator runs the ordered list of shell commands that define
// "done" for a task, objectively and without interpreting their output.
//
// Validation commands have no timeout, preserving the source system's
// behavior rather than silently imposing one (see spec.md §9 open question
// 5); a future revision could add a per-command timeout, but that is an
// explicit, documented product decision, not a default.
package validator

import (
	"context"
	"fmt"
	"strings"

	"github.com/bhadraagada/ralphh/internal/process"
)

// CommandResult is the outcome of one validation command.
type CommandResult struct {
	Command   string
	Passed    bool
	Stdout    string
	Stderr    string
	ExitCode  int
	ElapsedMs int64
}

// Report aggregates the outcome of a full validation run.
type Report struct {
	Results    []CommandResult
	PassCount  int
	TotalCount int
	AllPassed  bool
}

// Validator runs an ordered command list inside a worktree.
type Validator struct {
	runner *process.Runner
}

// New creates a Validator.
func New(runner *process.Runner) *Validator {
	return &Validator{runner: runner}
}

// Run executes commands sequentially in dir through the shell, so pipes and
// `&&` work, and returns the aggregate report.
func (v *Validator) Run(ctx context.Context, dir string, commands []string) Report {
	report := Report{TotalCount: len(commands)}

	for _, command := range commands {
		res := v.runner.Run(ctx, process.Spec{
			Name:    "validate",
			Shell:   true,
			Command: command,
			Dir:     dir,
		})
		passed := res.ExitCode == 0
		if passed {
			report.PassCount++
		}
		report.Results = append(report.Results, CommandResult{
			Command:   command,
			Passed:    passed,
			Stdout:    res.Stdout,
			Stderr:    res.Stderr,
			ExitCode:  res.ExitCode,
			ElapsedMs: res.ElapsedMs,
		})
	}

	report.AllPassed = report.TotalCount > 0 && report.PassCount == report.TotalCount
	return report
}

// Score returns the validator's pass count: higher is better, ties mean
// "no regression".
func Score(report Report) int {
	return report.PassCount
}

// FailureContext formats the report for injection into the next
// iteration's prompt: a status header for every command, plus a fenced
// output block for each failing one. Passing reports (AllPassed) produce
// the empty string. Output longer than maxChars is truncated, keeping the
// TAIL of the text (the most useful part of error output is usually near
// the end) and prefixing the sentinel "...(truncated)\n".
func FailureContext(report Report, maxChars int) string {
	if report.AllPassed {
		return ""
	}

	var b strings.Builder
	for _, r := range report.Results {
		status := "PASSED"
		if !r.Passed {
			status = fmt.Sprintf("FAILED (exit code %d)", r.ExitCode)
		}
		fmt.Fprintf(&b, "### %s (%s)\n", r.Command, status)
		if !r.Passed {
			body := r.Stderr
			if strings.TrimSpace(body) == "" {
				body = r.Stdout
			}
			b.WriteString("```\n")
			b.WriteString(body)
			if !strings.HasSuffix(body, "\n") {
				b.WriteByte('\n')
			}
			b.WriteString("```\n")
		}
	}

	out := b.String()
	if len(out) > maxChars {
		sentinel := "...(truncated)\n"
		tailLen := maxChars - len(sentinel)
		if tailLen < 0 {
			tailLen = 0
		}
		out = sentinel + out[len(out)-tailLen:]
		if len(out) > maxChars {
			out = out[:maxChars]
		}
	}
	return out
}
