// Package process provides a helper for running and managing a subprocess.
//
// It is intended for internal use by the kernel agent only.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/lablup/backend.ai-kernel-runner/logger"
	"golang.org/x/sync/errgroup"
)

// DefaultChunkSize is how much pipe output is drained per read. Each chunk
// is handed to the configured writer in a single Write call, so downstream
// consumers can rely on chunk atomicity.
const DefaultChunkSize = 4096

var ErrNotWaitStatus = errors.New(
	"unimplemented for systems where exec.ExitError.Sys() is not syscall.WaitStatus",
)

// WaitStatus is the status of the process after Wait() returns.
type WaitStatus interface {
	ExitStatus() int
	Signaled() bool
	Signal() syscall.Signal
}

// Configuration for a Process
type Config struct {
	Path            string
	Args            []string
	Env             []string // the exact child environment when non-nil; nil inherits the agent's own environment
	Dir             string
	Stdin           io.Reader
	Stdout          io.Writer
	Stderr          io.Writer
	ChunkSize       int
	InterruptSignal syscall.Signal
}

// Process is an operating system level process whose stdout and stderr are
// drained concurrently in bounded chunks.
type Process struct {
	waitResult error
	status     syscall.WaitStatus
	conf       Config
	logger     logger.Logger
	command    *exec.Cmd

	mu            sync.Mutex
	pid           int
	started, done chan struct{}
}

// New returns a new instance of Process
func New(l logger.Logger, c Config) *Process {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.InterruptSignal == 0 {
		c.InterruptSignal = syscall.SIGINT
	}
	return &Process{
		logger: l,
		conf:   c,
	}
}

// Pid is the pid of the running process
func (p *Process) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

// WaitResult returns the raw error returned by Wait()
func (p *Process) WaitResult() error {
	return p.waitResult
}

// WaitStatus returns the status of the Wait() call
func (p *Process) WaitStatus() WaitStatus {
	return p.status
}

// Run the command and block until it finishes. Both output pipes are fully
// drained before Wait() is called, so the exit status is only observed
// after the final output chunk has been delivered.
func (p *Process) Run(ctx context.Context) error {
	if p.command != nil {
		return fmt.Errorf("process is already running")
	}

	p.command = exec.Command(p.conf.Path, p.conf.Args...)
	p.command.Env = p.conf.Env
	p.command.Stdin = p.conf.Stdin

	// Run the child in its own process group so signals reach the whole
	// tree it spawns.
	p.setupProcessGroup()

	// Configure working dir and fail early if it doesn't exist, otherwise
	// we get confusing errors about fork/exec failing
	if p.conf.Dir != "" {
		if _, err := os.Stat(p.conf.Dir); os.IsNotExist(err) {
			return fmt.Errorf("process working directory %q doesn't exist", p.conf.Dir)
		}
		p.command.Dir = p.conf.Dir
	}

	p.mu.Lock()
	if p.done == nil {
		p.done = make(chan struct{})
	}
	if p.started == nil {
		p.started = make(chan struct{})
	}
	p.mu.Unlock()

	stdout, err := p.command.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := p.command.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := p.command.Start(); err != nil {
		return fmt.Errorf("error starting command: %w", err)
	}

	p.mu.Lock()
	p.pid = p.command.Process.Pid
	p.mu.Unlock()

	// Signal waiting consumers in Started() by closing the started channel
	close(p.started)

	p.logger.Debug("[Process] Process is running with PID: %d", p.pid)

	drainers := new(errgroup.Group)
	drainers.Go(func() error { return p.drain(stdout, p.conf.Stdout) })
	drainers.Go(func() error { return p.drain(stderr, p.conf.Stderr) })

	// Both pipes must hit EOF before Wait() may run; Wait() closes them.
	if err := drainers.Wait(); err != nil {
		p.logger.Error("[Process] Output drain failed: %v", err)
	}

	p.waitResult = p.command.Wait()

	// Signal waiting consumers in Done() by closing the done channel
	close(p.done)

	if p.command.ProcessState == nil {
		return fmt.Errorf("waiting for process: %w", p.waitResult)
	}

	switch ws := p.command.ProcessState.Sys().(type) {
	case syscall.WaitStatus: // posix
		p.status = ws
	default:
		return ErrNotWaitStatus
	}

	exitSignal := "nil"
	if p.status.Signaled() {
		exitSignal = SignalString(p.status.Signal())
	}
	p.logger.Debug("[Process] Process with PID: %d finished with Exit Status: %d, Signal: %s",
		p.pid, p.status.ExitStatus(), exitSignal)

	return nil
}

// drain reads r in chunks of at most ChunkSize bytes and hands each chunk
// to w in a single Write call.
func (p *Process) drain(r io.Reader, w io.Writer) error {
	if w == nil {
		w = io.Discard
	}
	buf := make([]byte, p.conf.ChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return fmt.Errorf("writing output chunk: %w", werr)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			// Pipes report ErrClosed once their read end has been closed.
			if errors.Is(err, os.ErrClosed) {
				return nil
			}
			return fmt.Errorf("reading output pipe: %w", err)
		}
	}
}

// Done returns a channel that is closed when the process finishes
func (p *Process) Done() <-chan struct{} {
	p.mu.Lock()
	// We create this here in case this is called before Run()
	if p.done == nil {
		p.done = make(chan struct{})
	}
	d := p.done
	p.mu.Unlock()
	return d
}

// Started returns a channel that is closed when the process is started
func (p *Process) Started() <-chan struct{} {
	p.mu.Lock()
	// We create this here in case this is called before Run()
	if p.started == nil {
		p.started = make(chan struct{})
	}
	s := p.started
	p.mu.Unlock()
	return s
}

// Interrupt delivers the configured interrupt signal (SIGINT unless
// overridden) to the process group.
func (p *Process) Interrupt() error {
	if p == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.command == nil || p.command.Process == nil {
		p.logger.Debug("[Process] No process to interrupt yet")
		return nil
	}

	if err := p.interruptProcessGroup(); err != nil {
		// No process or process group can be found corresponding to pid.
		if errors.Is(err, syscall.ESRCH) {
			p.logger.Warn("[Process] Process %d has already exited", p.pid)
			return nil
		}

		p.logger.Error("[Process] Failed to interrupt process %d: %v", p.pid, err)

		// Fall back to terminating if we get an error
		if termErr := p.terminateProcessGroup(); termErr != nil {
			return termErr
		}
	}

	return nil
}

// Terminate the process group with SIGKILL
func (p *Process) Terminate() error {
	if p == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.command == nil || p.command.Process == nil {
		p.logger.Debug("[Process] No process to terminate yet")
		return nil
	}

	return p.terminateProcessGroup()
}
