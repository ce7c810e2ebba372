package agent

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/lablup/backend.ai-kernel-runner/wire"
)

type taskKind int

const (
	taskClean taskKind = iota
	taskBuild
	taskExecute
	taskQuery
)

// task is one pending unit of work. The kind lets the consumer recognize
// execute tasks for the build-gate check.
type task struct {
	kind    taskKind
	payload string
}

// runTasks is the single queue consumer: it enforces serial execution and
// the build→exec gate.
func (a *Agent) runTasks(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-a.tasks:
			if t.kind == taskExecute {
				if a.buildSuccess != nil && !*a.buildSuccess {
					// Skip the exec step with a "command not found" code.
					a.buildSuccess = nil
					a.sendExitEvent(wire.KindFinished, 127)
					continue
				}
				a.buildSuccess = nil
			}

			switch t.kind {
			case taskClean:
				a.runClean(ctx, t.payload)
			case taskBuild:
				a.runBuild(ctx, t.payload)
			case taskExecute:
				a.runExecute(ctx, t.payload)
			case taskQuery:
				a.runQuery(ctx, t.payload)
			}
		}
	}
}

// Each task wrapper emits its terminal event from a defer so that exactly
// one is produced per non-empty payload, even when the step fails.

func (a *Agent) runClean(ctx context.Context, cleanCmd string) {
	if cleanCmd == "" {
		// skipped
		return
	}

	ret := 0
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("unexpected error: %v", r)
			ret = -1
		}
		time.Sleep(flushDelay)
		a.sendExitEvent(wire.KindCleanFinished, ret)
	}()

	var err error
	if cleanCmd == "*" {
		ret, err = a.runner.CleanHeuristic(ctx, a)
	} else {
		ret = a.RunSubproc(ctx, cleanCmd)
	}
	if err != nil {
		a.logStepError("clean", err)
		ret = -1
	}
}

func (a *Agent) runBuild(ctx context.Context, buildCmd string) {
	if buildCmd == "" {
		// skipped
		return
	}

	ret := 0
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("unexpected error: %v", r)
			ret = -1
		}
		success := ret == 0
		a.buildSuccess = &success
		time.Sleep(flushDelay)
		a.sendExitEvent(wire.KindBuildFinished, ret)
	}()

	var err error
	switch {
	case buildCmd == "*" && fileExists("Makefile"):
		ret = a.RunSubproc(ctx, "make")
	case buildCmd == "*":
		ret, err = a.runner.BuildHeuristic(ctx, a)
	default:
		ret = a.RunSubproc(ctx, buildCmd)
	}
	if err != nil {
		a.logStepError("build", err)
		ret = -1
	}
}

func (a *Agent) runExecute(ctx context.Context, execCmd string) {
	if execCmd == "" {
		// skipped
		return
	}

	ret := 0
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("unexpected error: %v", r)
			ret = -1
		}
		time.Sleep(flushDelay)
		a.sendExitEvent(wire.KindFinished, ret)
	}()

	var err error
	if execCmd == "*" {
		ret, err = a.runner.ExecuteHeuristic(ctx, a)
	} else {
		ret = a.RunSubproc(ctx, execCmd)
	}
	if err != nil {
		a.logStepError("execute", err)
		ret = -1
	}
}

func (a *Agent) runQuery(ctx context.Context, code string) {
	ret := 0
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("unexpected error: %v", r)
			ret = -1
		}
		a.sendExitEvent(wire.KindFinished, ret)
	}()

	var err error
	ret, err = a.runner.Query(ctx, a, code)
	if err != nil {
		a.logStepError("query", err)
		ret = -1
	}
}

func (a *Agent) logStepError(step string, err error) {
	if errors.Is(err, ErrUnsupported) {
		a.logger.Error("Unsupported operation for this kernel: %s", step)
		return
	}
	a.logger.Error("unexpected error: %v", err)
}

// sendExitEvent emits the terminal event for a finished step.
func (a *Agent) sendExitEvent(kind string, exitCode int) {
	payload, _ := json.Marshal(map[string]int{"exitCode": exitCode})
	if err := a.SendEvent(kind, payload); err != nil {
		a.logger.Error("Sending %s event failed: %v", kind, err)
	}
}

func fileExists(name string) bool {
	st, err := os.Stat(name)
	return err == nil && st.Mode().IsRegular()
}
