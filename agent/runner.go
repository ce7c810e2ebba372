package agent

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by back-ends for operations the language does
// not provide. The agent logs it and keeps serving.
var ErrUnsupported = errors.New("unsupported operation for this kernel")

// ServiceInfo describes an auxiliary service daemon requested by the
// controller.
type ServiceInfo struct {
	Name     string `json:"name"`
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
}

// Runner is the language-specific strategy behind the agent. Implementations
// must never touch the sockets directly; all subprocess output flows through
// Agent.RunSubproc and all events through Agent.SendEvent.
type Runner interface {
	// LogPrefix labels forwarded log lines, e.g. "go-kernel".
	LogPrefix() string

	// Init performs one-shot setup after the endpoints are up.
	Init(ctx context.Context, a *Agent) error

	// BuildHeuristic, CleanHeuristic and ExecuteHeuristic run the
	// language-specific default when the controller supplies "*" as the
	// command.
	BuildHeuristic(ctx context.Context, a *Agent) (int, error)
	CleanHeuristic(ctx context.Context, a *Agent) (int, error)
	ExecuteHeuristic(ctx context.Context, a *Agent) (int, error)

	// Query compiles or runs a single text blob and returns the
	// user-visible exit code. Any produced events must be drained before
	// returning.
	Query(ctx context.Context, a *Agent, code string) (int, error)

	// Complete returns auto-completion candidates for the given request.
	Complete(ctx context.Context, a *Agent, data map[string]any) ([]string, error)

	// Interrupt is invoked only when no external subprocess is active;
	// otherwise the agent signals the subprocess itself.
	Interrupt(ctx context.Context, a *Agent) error

	// StartService produces the argv and extra environment for a named
	// service daemon, or declines with a nil argv.
	StartService(ctx context.Context, a *Agent, svc ServiceInfo) (argv []string, extraEnv map[string]string, err error)

	// Shutdown releases back-end resources during agent teardown.
	Shutdown(ctx context.Context, a *Agent) error
}

// BaseRunner supplies the default behavior for optional Runner operations.
// Language back-ends embed it and override what they support.
type BaseRunner struct{}

func (BaseRunner) Init(ctx context.Context, a *Agent) error { return nil }

func (BaseRunner) BuildHeuristic(ctx context.Context, a *Agent) (int, error) {
	return 0, ErrUnsupported
}

// CleanHeuristic does nothing by default.
func (BaseRunner) CleanHeuristic(ctx context.Context, a *Agent) (int, error) {
	return 0, nil
}

func (BaseRunner) ExecuteHeuristic(ctx context.Context, a *Agent) (int, error) {
	return 0, ErrUnsupported
}

func (BaseRunner) Query(ctx context.Context, a *Agent, code string) (int, error) {
	return 0, ErrUnsupported
}

func (BaseRunner) Complete(ctx context.Context, a *Agent, data map[string]any) ([]string, error) {
	return nil, ErrUnsupported
}

func (BaseRunner) Interrupt(ctx context.Context, a *Agent) error { return nil }

func (BaseRunner) StartService(ctx context.Context, a *Agent, svc ServiceInfo) ([]string, map[string]string, error) {
	return nil, nil, nil
}

func (BaseRunner) Shutdown(ctx context.Context, a *Agent) error { return nil }
