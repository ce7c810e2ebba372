package runners

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/buildkite/shellwords"
	"github.com/lablup/backend.ai-kernel-runner/agent"
)

const (
	defaultCFlags  = "-Wall"
	defaultLDFlags = "-lrt -lm -pthread -ldl"
)

var cChildEnv = map[string]string{
	"TERM":  "xterm",
	"LANG":  "C.UTF-8",
	"SHELL": "/bin/ash",
	"USER":  "work",
	"HOME":  "/home/work",
	"PATH":  "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
}

// CRunner compiles and runs C programs in batch mode.
type CRunner struct {
	agent.BaseRunner
}

func NewCRunner() *CRunner {
	return &CRunner{}
}

func (r *CRunner) LogPrefix() string { return "c-kernel" }

func (r *CRunner) Init(ctx context.Context, a *agent.Agent) error {
	a.Env().MergeMap(cChildEnv)
	a.EnableUserInput()
	return nil
}

func (r *CRunner) CleanHeuristic(ctx context.Context, a *agent.Agent) (int, error) {
	if fileExists("Makefile") {
		return a.RunSubproc(ctx, "make clean"), nil
	}
	a.Logger().Warn(`skipping the clean phase due to missing "Makefile".`)
	return 0, nil
}

func (r *CRunner) BuildHeuristic(ctx context.Context, a *agent.Agent) (int, error) {
	if !fileExists("main.c") {
		a.Logger().Error(`cannot find build script ("Makefile") or the main file ("main.c").`)
		return 127, nil
	}
	return compileAndLink(ctx, a, "gcc", ".c")
}

func (r *CRunner) ExecuteHeuristic(ctx context.Context, a *agent.Agent) (int, error) {
	return executeBuiltBinary(ctx, a)
}

func (r *CRunner) Query(ctx context.Context, a *agent.Agent, code string) (int, error) {
	return compileAndRunSnippet(ctx, a, "gcc", "*.c", code)
}

func (r *CRunner) Complete(ctx context.Context, a *agent.Agent, data map[string]any) ([]string, error) {
	return []string{}, nil
}

// compileAndLink compiles every source file of the given extension one at a
// time, stopping at the first compiler failure, then links the objects into
// ./main.
func compileAndLink(ctx context.Context, a *agent.Agent, compiler, ext string) (int, error) {
	files := sourceFiles(ext)
	ofiles := make([]string, 0, len(files))
	for _, f := range files {
		if ret := a.RunSubproc(ctx, fmt.Sprintf("%s -c %s %s", compiler, shellwords.Quote(f), defaultCFlags)); ret != 0 {
			return ret, nil
		}
		base := strings.TrimSuffix(filepath.Base(f), ext)
		ofiles = append(ofiles, shellwords.Quote(base+".o"))
	}
	cmd := fmt.Sprintf("%s %s %s -o ./main", compiler, strings.Join(ofiles, " "), defaultLDFlags)
	return a.RunSubproc(ctx, cmd), nil
}

func executeBuiltBinary(ctx context.Context, a *agent.Agent) (int, error) {
	switch {
	case fileExists("./main"):
		return a.RunSubproc(ctx, "./main"), nil
	case fileExists("./a.out"):
		return a.RunSubproc(ctx, "./a.out"), nil
	default:
		a.Logger().Error(`cannot find executable ("a.out" or "main").`)
		return 127, nil
	}
}

// compileAndRunSnippet writes the code to a temporary source file in the
// working directory and compiles and runs it in one shell invocation.
func compileAndRunSnippet(ctx context.Context, a *agent.Agent, compiler, pattern, code string) (int, error) {
	tmpf, err := os.CreateTemp(".", "code"+pattern)
	if err != nil {
		return -1, fmt.Errorf("creating temporary source file: %w", err)
	}
	defer os.Remove(tmpf.Name())

	if _, err := tmpf.WriteString(code); err != nil {
		tmpf.Close()
		return -1, fmt.Errorf("writing temporary source file: %w", err)
	}
	tmpf.Close()

	cmd := fmt.Sprintf("%s %s %s -o ./main %s && ./main",
		compiler, tmpf.Name(), defaultCFlags, defaultLDFlags)
	return a.RunSubproc(ctx, cmd), nil
}
