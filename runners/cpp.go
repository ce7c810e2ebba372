package runners

import (
	"context"

	"github.com/lablup/backend.ai-kernel-runner/agent"
)

// CppRunner compiles and runs C++ programs in batch mode.
type CppRunner struct {
	agent.BaseRunner
}

func NewCppRunner() *CppRunner {
	return &CppRunner{}
}

func (r *CppRunner) LogPrefix() string { return "cpp-kernel" }

func (r *CppRunner) Init(ctx context.Context, a *agent.Agent) error {
	a.Env().MergeMap(cChildEnv)
	return nil
}

func (r *CppRunner) CleanHeuristic(ctx context.Context, a *agent.Agent) (int, error) {
	if fileExists("Makefile") {
		return a.RunSubproc(ctx, "make clean"), nil
	}
	a.Logger().Warn(`skipping the clean phase due to missing "Makefile".`)
	return 0, nil
}

func (r *CppRunner) BuildHeuristic(ctx context.Context, a *agent.Agent) (int, error) {
	if !fileExists("main.cpp") {
		a.Logger().Error(`cannot find build script ("Makefile") or the main file ("main.cpp").`)
		return 127, nil
	}
	return compileAndLink(ctx, a, "g++", ".cpp")
}

func (r *CppRunner) ExecuteHeuristic(ctx context.Context, a *agent.Agent) (int, error) {
	return executeBuiltBinary(ctx, a)
}

func (r *CppRunner) Query(ctx context.Context, a *agent.Agent, code string) (int, error) {
	return compileAndRunSnippet(ctx, a, "g++", "*.cpp", code)
}

func (r *CppRunner) Complete(ctx context.Context, a *agent.Agent, data map[string]any) ([]string, error) {
	return []string{}, nil
}
