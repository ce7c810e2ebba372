package runners

import (
	"context"

	"github.com/lablup/backend.ai-kernel-runner/agent"
	"github.com/lablup/backend.ai-kernel-runner/terminal"
)

var appChildEnv = map[string]string{
	"TERM":  "xterm-256color",
	"LANG":  "C.UTF-8",
	"SHELL": "/bin/bash",
	"USER":  "work",
	"HOME":  "/home/work",
	"PATH":  "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
}

// AppRunner hosts an interactive shell over the PTY multiplexer. Query
// payloads are routed through the terminal's `%` command mini-language;
// there is no batch mode.
type AppRunner struct {
	agent.BaseRunner

	shellCmd string
	term     *terminal.Terminal
}

func NewAppRunner() *AppRunner {
	return &AppRunner{
		shellCmd: "/bin/bash",
	}
}

func (r *AppRunner) LogPrefix() string { return "app-kernel" }

func (r *AppRunner) Init(ctx context.Context, a *agent.Agent) error {
	a.Env().MergeMap(appChildEnv)

	r.term = terminal.New(a.Logger(), terminal.Config{
		ShellCmd:    r.shellCmd,
		AutoRestart: true,
		Out:         a,
	})
	return r.term.Start(ctx)
}

func (r *AppRunner) Query(ctx context.Context, a *agent.Agent, code string) (int, error) {
	return r.term.HandleCommand(ctx, code), nil
}

func (r *AppRunner) Shutdown(ctx context.Context, a *agent.Agent) error {
	if r.term == nil {
		return nil
	}
	return r.term.Shutdown(ctx)
}
