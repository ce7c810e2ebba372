package runners

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/lablup/backend.ai-kernel-runner/agent"
)

var pythonChildEnv = map[string]string{
	"TERM":             "xterm",
	"LANG":             "C.UTF-8",
	"SHELL":            "/bin/ash",
	"USER":             "work",
	"HOME":             "/home/work",
	"PATH":             "/usr/local/nvidia/bin:/usr/local/cuda/bin:/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
	"PYTHONUNBUFFERED": "1",
}

// PythonRunner runs Python programs in batch mode and can launch the
// notebook service daemon.
type PythonRunner struct {
	agent.BaseRunner
}

func NewPythonRunner() *PythonRunner {
	return &PythonRunner{}
}

func (r *PythonRunner) LogPrefix() string { return "python-kernel" }

func (r *PythonRunner) Init(ctx context.Context, a *agent.Agent) error {
	a.Env().MergeMap(pythonChildEnv)
	a.EnableUserInput()
	return nil
}

func (r *PythonRunner) BuildHeuristic(ctx context.Context, a *agent.Agent) (int, error) {
	if fileExists("setup.py") {
		return a.RunSubproc(ctx, "python setup.py develop --user"), nil
	}
	// Plain scripts have no build step.
	return 0, nil
}

func (r *PythonRunner) ExecuteHeuristic(ctx context.Context, a *agent.Agent) (int, error) {
	if !fileExists("main.py") {
		a.Logger().Error(`cannot find main file ("main.py").`)
		return 127, nil
	}
	return a.RunSubproc(ctx, "python main.py"), nil
}

func (r *PythonRunner) Query(ctx context.Context, a *agent.Agent, code string) (int, error) {
	tmpf, err := os.CreateTemp(".", "code*.py")
	if err != nil {
		return -1, fmt.Errorf("creating temporary source file: %w", err)
	}
	defer os.Remove(tmpf.Name())

	if _, err := tmpf.WriteString(code); err != nil {
		tmpf.Close()
		return -1, fmt.Errorf("writing temporary source file: %w", err)
	}
	tmpf.Close()

	return a.RunSubproc(ctx, fmt.Sprintf("python %s", tmpf.Name())), nil
}

func (r *PythonRunner) Complete(ctx context.Context, a *agent.Agent, data map[string]any) ([]string, error) {
	return []string{}, nil
}

func (r *PythonRunner) StartService(ctx context.Context, a *agent.Agent, svc agent.ServiceInfo) ([]string, map[string]string, error) {
	switch svc.Name {
	case "jupyter", "jupyter-notebook":
		argv := []string{
			"jupyter", "notebook",
			"--no-browser",
			"--ip", "0.0.0.0",
			"--port", strconv.Itoa(svc.Port),
			"--NotebookApp.token=",
		}
		return argv, map[string]string{}, nil
	default:
		return nil, nil, nil
	}
}
