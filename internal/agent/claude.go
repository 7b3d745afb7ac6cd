package agent

import (
	"context"
	"strconv"

	"github.com/bhadraagada/ralphh/internal/process"
)

// claudeAdapter drives the `claude` CLI in non-interactive print mode.
type claudeAdapter struct {
	opts Options
}

func newClaudeAdapter(opts Options) *claudeAdapter {
	return &claudeAdapter{opts: opts}
}

func (a *claudeAdapter) DisplayName() string { return "Claude Code" }

func (a *claudeAdapter) Installed(ctx context.Context, runner *process.Runner) bool {
	return checkInstalled(ctx, runner, "claude")
}

func (a *claudeAdapter) BuildCommand(prompt, cwd string) (SpawnConfig, error) {
	args := []string{"-p"}
	if a.opts.Model != "" {
		args = append(args, "--model", a.opts.Model)
	}
	if a.opts.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(a.opts.MaxTurns))
	}
	args = append(args, a.opts.AdditionalFlags...)
	args = append(args, prompt)

	return SpawnConfig{
		Command: "claude",
		Args:    args,
		Env:     map[string]string{"PWD": cwd},
	}, nil
}
