package agent

import (
	"context"

	"github.com/bhadraagada/ralphh/internal/process"
)

// openCodeAdapter drives the `opencode` CLI in non-interactive run mode.
type openCodeAdapter struct {
	opts Options
}

func newOpenCodeAdapter(opts Options) *openCodeAdapter {
	return &openCodeAdapter{opts: opts}
}

func (a *openCodeAdapter) DisplayName() string { return "OpenCode" }

func (a *openCodeAdapter) Installed(ctx context.Context, runner *process.Runner) bool {
	return checkInstalled(ctx, runner, "opencode")
}

func (a *openCodeAdapter) BuildCommand(prompt, cwd string) (SpawnConfig, error) {
	args := []string{"run"}
	if a.opts.Model != "" {
		args = append(args, "--model", a.opts.Model)
	}
	args = append(args, a.opts.AdditionalFlags...)
	args = append(args, prompt)

	return SpawnConfig{
		Command: "opencode",
		Args:    args,
		Env:     map[string]string{"PWD": cwd},
	}, nil
}
