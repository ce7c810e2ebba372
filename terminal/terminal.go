// Package terminal exposes a long-lived interactive shell inside the
// container over a pair of side-channel sockets: one carries keystrokes to
// the PTY master fd, the other publishes everything the shell prints.
package terminal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/buildkite/shellwords"
	"github.com/creack/pty"
	"github.com/lablup/backend.ai-kernel-runner/logger"
	"github.com/lablup/backend.ai-kernel-runner/wire"
)

const ptyReadSize = 4096

// Config for a Terminal.
type Config struct {
	// ShellCmd is the command line exec()ed under the PTY.
	ShellCmd string

	// AutoRestart re-forks the shell when it exits instead of announcing
	// termination.
	AutoRestart bool

	// Out receives command-channel output (stdout/stderr/finished events).
	Out wire.EventSink

	// InAddr/OutAddr are the PTY side-channel endpoints. Defaults are the
	// container-fixed ports.
	InAddr  string
	OutAddr string
}

// Terminal multiplexes a shell under a PTY. One instance per agent.
type Terminal struct {
	conf   Config
	logger logger.Logger

	sockCtx context.Context

	// startMu makes start/restart single-entrant.
	startMu sync.Mutex

	sockTermIn  *wire.Subscriber
	sockTermOut *wire.Publisher

	// acceptInput gates the input relay; bytes arriving while false are
	// discarded so a dying PTY is never written to during restart.
	acceptInput  atomic.Bool
	shuttingDown atomic.Bool

	ptmxMu sync.Mutex
	ptmx   *os.File
	cmd    *exec.Cmd

	relays sync.WaitGroup
}

func New(l logger.Logger, conf Config) *Terminal {
	if conf.InAddr == "" {
		conf.InAddr = wire.TermInAddr
	}
	if conf.OutAddr == "" {
		conf.OutAddr = wire.TermOutAddr
	}
	return &Terminal{
		conf:   conf,
		logger: l,
	}
}

// Start forks the shell under a PTY, lazily binds the side-channel sockets
// and starts the two relays.
func (t *Terminal) Start(ctx context.Context) error {
	t.startMu.Lock()
	defer t.startMu.Unlock()
	return t.startLocked(ctx)
}

func (t *Terminal) startLocked(ctx context.Context) error {
	args, err := shellwords.Split(t.conf.ShellCmd)
	if err != nil {
		return fmt.Errorf("parsing shell command %q: %w", t.conf.ShellCmd, err)
	}
	if len(args) == 0 {
		return fmt.Errorf("empty shell command")
	}

	cmd := exec.Command(args[0], args[1:]...)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("forking shell under a pty: %w", err)
	}

	t.ptmxMu.Lock()
	t.ptmx = ptmx
	t.cmd = cmd
	t.ptmxMu.Unlock()

	if t.sockCtx == nil {
		t.sockCtx = context.Background()
	}
	if t.sockTermIn == nil {
		t.sockTermIn, err = wire.BindSub(t.sockCtx, t.conf.InAddr)
		if err != nil {
			return fmt.Errorf("binding pty input socket: %w", err)
		}
		// The input relay lives for the whole terminal lifetime; restarts
		// only swap the fd it writes to.
		t.relays.Add(1)
		go t.termIn()
	}
	if t.sockTermOut == nil {
		t.sockTermOut, err = wire.BindPub(t.sockCtx, t.conf.OutAddr)
		if err != nil {
			return fmt.Errorf("binding pty output socket: %w", err)
		}
	}

	t.relays.Add(1)
	go t.termOut(ptmx, cmd)

	t.acceptInput.Store(true)
	return nil
}

// restart reaps the dead shell and forks a new one under the single-entrant
// start lock.
func (t *Terminal) restart() {
	t.startMu.Lock()
	defer t.startMu.Unlock()

	if !t.acceptInput.Load() {
		return
	}
	t.acceptInput.Store(false)

	_ = t.sockTermOut.Send([]byte("Restarting...\r\n"))

	t.ptmxMu.Lock()
	cmd := t.cmd
	t.ptmxMu.Unlock()
	if cmd != nil {
		_ = cmd.Wait()
	}

	if err := t.startLocked(context.Background()); err != nil {
		t.logger.Error("Unexpected error during restart of terminal: %v", err)
	}
}

// termIn relays frames from the input socket to the current PTY master fd.
func (t *Terminal) termIn() {
	defer t.relays.Done()
	for {
		data, err := t.sockTermIn.Recv()
		if err != nil {
			return
		}
		if !t.acceptInput.Load() {
			continue
		}
		t.ptmxMu.Lock()
		ptmx := t.ptmx
		t.ptmxMu.Unlock()
		if ptmx == nil {
			continue
		}
		if _, err := ptmx.Write(data); err != nil {
			t.logger.Debug("[Terminal] Writing to the pty failed: %v", err)
		}
	}
}

// termOut relays PTY output to the publisher until the shell exits, then
// either announces termination or schedules a restart.
func (t *Terminal) termOut(ptmx *os.File, cmd *exec.Cmd) {
	defer t.relays.Done()

	buf := make([]byte, ptyReadSize)
	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if serr := t.sockTermOut.Send(chunk); serr != nil {
				t.logger.Error("Unexpected error at term_out: %v", serr)
				return
			}
		}
		if err != nil {
			// EIO is how the master fd reports the child closing its side.
			break
		}
	}

	t.ptmxMu.Lock()
	if t.ptmx == ptmx {
		t.ptmx = nil
	}
	t.ptmxMu.Unlock()

	if t.shuttingDown.Load() {
		return
	}
	if !t.conf.AutoRestart {
		_ = t.sockTermOut.Send([]byte("Terminated.\r\n"))
		return
	}
	if t.acceptInput.Load() {
		go t.restart()
	}
}

// Shutdown cancels the relays, closes the sockets, hangs up the shell and
// reaps it.
func (t *Terminal) Shutdown(ctx context.Context) error {
	t.shuttingDown.Store(true)
	t.acceptInput.Store(false)

	t.ptmxMu.Lock()
	ptmx, cmd := t.ptmx, t.cmd
	t.ptmx, t.cmd = nil, nil
	t.ptmxMu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGHUP)
		_ = cmd.Process.Signal(syscall.SIGCONT)
		_ = cmd.Wait()
	}
	if ptmx != nil {
		_ = ptmx.Close()
	}

	if t.sockTermIn != nil {
		_ = t.sockTermIn.Close()
	}
	if t.sockTermOut != nil {
		_ = t.sockTermOut.Close()
	}

	t.relays.Wait()
	return nil
}

// HandleCommand parses one line of the `%` command mini-language and runs
// it. Every handled line is followed by a finished event telling the
// controller there are no output files to upload.
func (t *Terminal) HandleCommand(ctx context.Context, code string) int {
	defer func() {
		body, _ := json.Marshal(map[string]bool{"upload_output_files": false})
		_ = t.conf.Out.SendEvent(wire.KindFinished, body)
	}()

	if !strings.HasPrefix(code, "%") {
		_ = t.conf.Out.SendEvent(wire.KindStderr, []byte("Invalid command."))
		return 127
	}

	args, err := shellwords.Split(strings.TrimPrefix(code, "%"))
	if err != nil || len(args) == 0 {
		_ = t.conf.Out.SendEvent(wire.KindStderr, []byte("Invalid command."))
		return 127
	}

	switch args[0] {
	case "ping":
		_ = t.conf.Out.SendEvent(wire.KindStdout, []byte("pong!"))
		return 0

	case "resize":
		if len(args) != 3 {
			_ = t.conf.Out.SendEvent(wire.KindStderr, []byte("usage: %resize <rows> <cols>"))
			return 1
		}
		rows, rerr := strconv.Atoi(args[1])
		cols, cerr := strconv.Atoi(args[2])
		if rerr != nil || cerr != nil {
			_ = t.conf.Out.SendEvent(wire.KindStderr, []byte("usage: %resize <rows> <cols>"))
			return 1
		}
		if err := t.Resize(rows, cols); err != nil {
			_ = t.conf.Out.SendEvent(wire.KindStderr, []byte(err.Error()))
			return 1
		}
		msg := fmt.Sprintf("OK; terminal resized to %d rows and %d cols", rows, cols)
		_ = t.conf.Out.SendEvent(wire.KindStdout, []byte(msg))
		return 0

	default:
		_ = t.conf.Out.SendEvent(wire.KindStderr, []byte("Invalid command."))
		return 127
	}
}

// Resize issues the window-size ioctl on the master fd, preserving the
// pixel dimensions.
func (t *Terminal) Resize(rows, cols int) error {
	t.ptmxMu.Lock()
	ptmx := t.ptmx
	t.ptmxMu.Unlock()
	if ptmx == nil {
		return fmt.Errorf("no terminal is running")
	}

	orig, err := pty.GetsizeFull(ptmx)
	if err != nil {
		return fmt.Errorf("reading terminal size: %w", err)
	}
	return pty.Setsize(ptmx, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
		X:    orig.X,
		Y:    orig.Y,
	})
}
