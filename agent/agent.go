// Package agent implements the in-container code-execution agent: the
// command dispatch loop, the serialized task queue with its build→exec
// gate, the subprocess supervisor fan-out, the interactive input bridge,
// the service launcher and the log-forwarding pipeline.
package agent

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/lablup/backend.ai-kernel-runner/env"
	"github.com/lablup/backend.ai-kernel-runner/logger"
	"github.com/lablup/backend.ai-kernel-runner/process"
	"github.com/lablup/backend.ai-kernel-runner/wire"
	"golang.org/x/sys/unix"
)

const (
	// DefaultInputAddr is the interactive input bridge listener.
	DefaultInputAddr = "127.0.0.1:65000"

	// flushDelay lets pending output chunks reach the event socket before
	// a terminal event is sent.
	flushDelay = 10 * time.Millisecond

	// logFlushDelay lets the forwarder drain remaining records during
	// shutdown before the event socket is closed.
	logFlushDelay = 100 * time.Millisecond
)

// eventSink is the write side of the event socket; a fake stands in for
// the bound socket in tests.
type eventSink interface {
	Send(kind string, body []byte) error
	Close() error
}

// Config holds everything needed to construct an Agent.
type Config struct {
	Runner      Runner
	Logger      logger.Logger
	Environment *env.Environment

	// LogQueue is the bounded queue the ForwardPrinter feeds. Nil disables
	// log forwarding (debug mode).
	LogQueue chan logger.Record

	CommandAddr string
	EventAddr   string
	InputAddr   string
}

// Agent is a single kernel agent instance. Construct a fresh one per
// process (or per test case).
type Agent struct {
	conf      Config
	logger    logger.Logger
	runner    Runner
	childEnv  *env.Environment
	startedAt float64

	in  *wire.Puller
	out eventSink

	tasks    chan *task
	initDone chan struct{}

	subprocMu sync.Mutex
	subproc   *process.Process

	// buildSuccess is only touched from the task-consumer goroutine.
	buildSuccess *bool

	// servicesRunning and serviceProcs are only touched from the
	// dispatcher goroutine until shutdown, which runs after the
	// dispatcher has stopped.
	servicesRunning map[string]bool
	serviceProcs    []*serviceProc

	inputMu   sync.Mutex
	userInput chan string

	inputLn net.Listener

	probeAttempts int
	probeInterval time.Duration
}

// New constructs an Agent. The returned agent owns no sockets until Run.
func New(conf Config) *Agent {
	if conf.Logger == nil {
		conf.Logger = logger.Discard
	}
	if conf.Environment == nil {
		conf.Environment = env.New()
	}
	if conf.CommandAddr == "" {
		conf.CommandAddr = wire.CommandAddr
	}
	if conf.EventAddr == "" {
		conf.EventAddr = wire.EventAddr
	}
	if conf.InputAddr == "" {
		conf.InputAddr = DefaultInputAddr
	}

	return &Agent{
		conf:            conf,
		logger:          conf.Logger,
		runner:          conf.Runner,
		childEnv:        conf.Environment,
		startedAt:       monotonicSeconds(),
		tasks:           make(chan *task, 256),
		initDone:        make(chan struct{}),
		servicesRunning: make(map[string]bool),
		probeAttempts:   portProbeAttempts,
		probeInterval:   portProbeInterval,
	}
}

// monotonicSeconds reads CLOCK_MONOTONIC. Values are comparable only
// within one process lifetime.
func monotonicSeconds() float64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return float64(ts.Sec) + float64(ts.Nsec)/1e9
}

// Logger returns the agent's logger for use by back-ends.
func (a *Agent) Logger() logger.Logger {
	return a.logger
}

// Env returns the child environment. Back-ends merge their language
// defaults into it during Init.
func (a *Agent) Env() *env.Environment {
	return a.childEnv
}

// StartedAt returns the monotonic construction timestamp reported by the
// status op.
func (a *Agent) StartedAt() float64 {
	return a.startedAt
}

// SendEvent emits a two-part event frame on the event socket.
func (a *Agent) SendEvent(kind string, body []byte) error {
	return a.out.Send(kind, body)
}

// Run binds the endpoints, starts the pipeline tasks and serves commands
// until ctx is canceled or a fatal dispatcher error occurs. It performs the
// orderly teardown before returning.
func (a *Agent) Run(ctx context.Context) error {
	sockCtx, sockCancel := context.WithCancel(context.Background())
	defer sockCancel()

	var err error
	if a.in, err = wire.BindPull(sockCtx, a.conf.CommandAddr); err != nil {
		return err
	}
	out, err := wire.BindPush(sockCtx, a.conf.EventAddr)
	if err != nil {
		a.in.Close()
		return fmt.Errorf("binding event endpoint: %w", err)
	}
	a.out = out

	// Stop accepting new commands as soon as shutdown is requested; closing
	// the socket unblocks the dispatcher's Recv.
	go func() {
		<-ctx.Done()
		a.in.Close()
	}()

	fwdStop := make(chan struct{})
	fwdDone := make(chan struct{})
	go a.forwardLogs(fwdStop, fwdDone)

	if err := a.serveUserInput(ctx); err != nil {
		a.logger.Error("Starting the user input bridge failed: %v", err)
	}

	if err := a.runner.Init(ctx, a); err != nil {
		// Leave initDone open: out-of-band handlers that depend on init
		// keep waiting rather than operating on a half-built back-end.
		a.logger.Error("Back-end init failed: %v", err)
	} else {
		close(a.initDone)
	}

	taskCtx, taskCancel := context.WithCancel(context.Background())
	var consumer sync.WaitGroup
	consumer.Add(1)
	go func() {
		defer consumer.Done()
		a.runTasks(taskCtx)
	}()

	a.logger.Debug("start serving...")
	dispatchErr := a.dispatch(ctx)

	// Orderly teardown: input endpoint is already closed, cancel the
	// consumer, reap services, flush logs, then close the event endpoint.
	a.logger.Debug("shutting down...")
	a.in.Close()
	taskCancel()
	consumer.Wait()

	if err := a.runner.Shutdown(context.Background(), a); err != nil {
		a.logger.Error("Back-end shutdown failed: %v", err)
	}

	a.killServices()
	a.logger.Debug("terminated.")

	if a.inputLn != nil {
		a.inputLn.Close()
	}

	// Allow remaining logs to be flushed before the socket goes away.
	time.Sleep(logFlushDelay)
	close(fwdStop)
	<-fwdDone
	a.out.Close()

	if ctx.Err() != nil {
		return nil
	}
	return dispatchErr
}

// forwardLogs drains the bounded log queue and writes each record as a
// stderr event. On stop it drains whatever is left and exits.
func (a *Agent) forwardLogs(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	if a.conf.LogQueue == nil {
		<-stop
		return
	}
	for {
		select {
		case rec := <-a.conf.LogQueue:
			_ = a.out.Send(wire.KindStderr, rec.Line)
		case <-stop:
			for {
				select {
				case rec := <-a.conf.LogQueue:
					_ = a.out.Send(wire.KindStderr, rec.Line)
				default:
					return
				}
			}
		}
	}
}

type serviceProc struct {
	name string
	proc *process.Process
}

// killServices terminates tracked service children: SIGTERM first, then
// SIGKILL for any child still alive after the grace period.
func (a *Agent) killServices() {
	if len(a.serviceProcs) == 0 {
		return
	}
	a.logger.Debug("terminating service processes...")

	var wg sync.WaitGroup
	for _, sp := range a.serviceProcs {
		wg.Add(1)
		go func(sp *serviceProc) {
			defer wg.Done()
			if err := sp.proc.Interrupt(); err != nil {
				a.logger.Warn("Terminating service %q failed: %v", sp.name, err)
			}
			select {
			case <-sp.proc.Done():
			case <-time.After(2 * time.Second):
				if err := sp.proc.Terminate(); err != nil {
					a.logger.Warn("Killing service %q failed: %v", sp.name, err)
				}
				<-sp.proc.Done()
			}
		}(sp)
	}
	wg.Wait()
}
