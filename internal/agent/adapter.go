// Package agent adapts a prompt and a working directory into a concrete
// argv for one of a fixed set of external agent CLIs. Each agent is
// treated as a black box subprocess: the adapter only knows its name, how
// to check whether it is installed, and how to build its command line. The
// prompt is always the adapter's final positional argument.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/bhadraagada/ralphh/internal/process"
)

// Name identifies one of the registered adapters.
type Name string

const (
	Claude   Name = "claude"
	Codex    Name = "codex"
	OpenCode Name = "opencode"
)

// Options configures adapter construction. Fields not recognized by a
// given adapter are ignored by it.
type Options struct {
	Model           string
	AdditionalFlags []string
	MaxTurns        int    // claude
	SandboxMode     string // codex
}

// SpawnConfig is the concrete process invocation an adapter produces.
type SpawnConfig struct {
	Command string
	Args    []string
	Env     map[string]string
}

// Adapter translates a prompt and a workspace directory into a SpawnConfig
// for one specific agent CLI.
type Adapter interface {
	// DisplayName is the human-readable name of the underlying CLI.
	DisplayName() string
	// Installed reports whether the CLI is reachable, by invoking it with
	// --version.
	Installed(ctx context.Context, runner *process.Runner) bool
	// BuildCommand assembles the argv to run this agent against prompt in
	// the given working directory.
	BuildCommand(prompt, cwd string) (SpawnConfig, error)
}

// checkInstalled runs "<command> --version" and reports whether it exited
// cleanly, per Adapter.Installed's contract.
func checkInstalled(ctx context.Context, runner *process.Runner, command string) bool {
	result := runner.Run(ctx, process.Spec{
		Name:    command + " --version",
		Command: command,
		Args:    []string{"--version"},
		Timeout: 5 * time.Second,
	})
	return result.ExitCode == 0
}

// ErrAgentNotFound is returned by New when name does not match a
// registered adapter.
type ErrAgentNotFound struct{ Name string }

func (e *ErrAgentNotFound) Error() string {
	return fmt.Sprintf("agent adapter not found: %q", e.Name)
}

// New resolves name to a concrete Adapter.
func New(name Name, opts Options) (Adapter, error) {
	switch name {
	case Claude:
		return newClaudeAdapter(opts), nil
	case Codex:
		return newCodexAdapter(opts), nil
	case OpenCode:
		return newOpenCodeAdapter(opts), nil
	default:
		return nil, &ErrAgentNotFound{Name: string(name)}
	}
}

// Registered lists the fixed set of adapter names the control plane
// recognizes.
func Registered() []Name {
	return []Name{Claude, Codex, OpenCode}
}

// Valid reports whether name is one of the registered adapters.
func Valid(name Name) bool {
	for _, n := range Registered() {
		if n == name {
			return true
		}
	}
	return false
}
