package agent

import (
	"context"

	"github.com/bhadraagada/ralphh/internal/process"
)

// codexAdapter drives the `codex` CLI in non-interactive exec mode.
type codexAdapter struct {
	opts Options
}

func newCodexAdapter(opts Options) *codexAdapter {
	return &codexAdapter{opts: opts}
}

func (a *codexAdapter) DisplayName() string { return "Codex" }

func (a *codexAdapter) Installed(ctx context.Context, runner *process.Runner) bool {
	return checkInstalled(ctx, runner, "codex")
}

func (a *codexAdapter) BuildCommand(prompt, cwd string) (SpawnConfig, error) {
	args := []string{"exec"}
	if a.opts.Model != "" {
		args = append(args, "--model", a.opts.Model)
	}
	sandbox := a.opts.SandboxMode
	if sandbox == "" {
		sandbox = "workspace-write"
	}
	args = append(args, "--sandbox", sandbox)
	args = append(args, a.opts.AdditionalFlags...)
	args = append(args, prompt)

	return SpawnConfig{
		Command: "codex",
		Args:    args,
		Env:     map[string]string{"PWD": cwd},
	}, nil
}
