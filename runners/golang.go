package runners

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/lablup/backend.ai-kernel-runner/agent"
)

var goChildEnv = map[string]string{
	"TERM":   "xterm",
	"LANG":   "C.UTF-8",
	"SHELL":  "/bin/ash",
	"USER":   "work",
	"HOME":   "/home/work",
	"PATH":   "/home/work/bin:/go/bin:/usr/local/go/bin:/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
	"GOPATH": "/home/work",
}

// GoRunner builds and runs Go programs in batch mode.
type GoRunner struct {
	agent.BaseRunner
}

func NewGoRunner() *GoRunner {
	return &GoRunner{}
}

func (r *GoRunner) LogPrefix() string { return "go-kernel" }

func (r *GoRunner) Init(ctx context.Context, a *agent.Agent) error {
	a.Env().MergeMap(goChildEnv)
	return nil
}

func (r *GoRunner) BuildHeuristic(ctx context.Context, a *agent.Agent) (int, error) {
	if !fileExists("main.go") {
		a.Logger().Error(`cannot find main file ("main.go").`)
		return 127, nil
	}
	files := quoteAll(sourceFiles(".go"))
	cmd := fmt.Sprintf("go build -o main %s", strings.Join(files, " "))
	return a.RunSubproc(ctx, cmd), nil
}

func (r *GoRunner) ExecuteHeuristic(ctx context.Context, a *agent.Agent) (int, error) {
	if !fileExists("./main") {
		a.Logger().Error(`cannot find executable ("main").`)
		return 127, nil
	}
	return a.RunSubproc(ctx, "./main"), nil
}

func (r *GoRunner) Query(ctx context.Context, a *agent.Agent, code string) (int, error) {
	tmpf, err := os.CreateTemp(".", "code*.go")
	if err != nil {
		return -1, fmt.Errorf("creating temporary source file: %w", err)
	}
	defer os.Remove(tmpf.Name())

	if _, err := tmpf.WriteString(code); err != nil {
		tmpf.Close()
		return -1, fmt.Errorf("writing temporary source file: %w", err)
	}
	tmpf.Close()

	return a.RunSubproc(ctx, fmt.Sprintf("go run %s", tmpf.Name())), nil
}

func (r *GoRunner) Complete(ctx context.Context, a *agent.Agent, data map[string]any) ([]string, error) {
	return []string{}, nil
}

func fileExists(name string) bool {
	st, err := os.Stat(name)
	return err == nil && st.Mode().IsRegular()
}
