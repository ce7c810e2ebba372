package agent

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/lablup/backend.ai-kernel-runner/process"
	"github.com/lablup/backend.ai-kernel-runner/wire"
)

const defaultShell = "/bin/sh"

// RunSubproc spawns a shell running cmd with the child environment, stdin
// detached, and stdout/stderr drained concurrently in 4 KiB chunks. Each
// chunk is written both to the agent's own fd (for container log capture)
// and to the event socket. Returns the child's exit code, or -1 on any
// agent-side failure.
//
// Errors like "command not found" are handled by the spawned shell, which
// terminates immediately with return code 127.
func (a *Agent) RunSubproc(ctx context.Context, cmd string) int {
	stdout, err := a.StreamWriter("stdout")
	if err != nil {
		a.logger.Error("unexpected error: %v", err)
		return -1
	}
	stderr, err := a.StreamWriter("stderr")
	if err != nil {
		a.logger.Error("unexpected error: %v", err)
		return -1
	}

	p := process.New(a.logger, process.Config{
		Path:   defaultShell,
		Args:   []string{"-c", cmd},
		Env:    a.childEnv.ToSlice(),
		Stdout: stdout,
		Stderr: stderr,
	})

	a.setSubproc(p)
	defer a.setSubproc(nil)

	if err := p.Run(ctx); err != nil {
		a.logger.Error("unexpected error: %v", err)
		return -1
	}
	return p.WaitStatus().ExitStatus()
}

func (a *Agent) setSubproc(p *process.Process) {
	a.subprocMu.Lock()
	a.subproc = p
	a.subprocMu.Unlock()
}

// StreamWriter returns a writer that fans each chunk out to the agent's own
// stdout/stderr fd and to the event socket. The target must be "stdout" or
// "stderr".
func (a *Agent) StreamWriter(target string) (io.Writer, error) {
	switch target {
	case "stdout":
		return &streamWriter{agent: a, kind: wire.KindStdout, fd: os.Stdout}, nil
	case "stderr":
		return &streamWriter{agent: a, kind: wire.KindStderr, fd: os.Stderr}, nil
	default:
		return nil, fmt.Errorf("invalid output target %q", target)
	}
}

type streamWriter struct {
	agent *Agent
	kind  string
	fd    *os.File
}

// Write forwards one chunk. The chunk is copied because the event socket
// may retain the buffer past this call while the supervisor reuses it.
func (w *streamWriter) Write(b []byte) (int, error) {
	if _, err := w.fd.Write(b); err != nil {
		w.agent.logger.Warn("Writing %s chunk to fd failed: %v", w.kind, err)
	}
	chunk := make([]byte, len(b))
	copy(chunk, b)
	if err := w.agent.SendEvent(w.kind, chunk); err != nil {
		return 0, err
	}
	return len(b), nil
}
