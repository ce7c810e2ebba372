package process_test

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lablup/backend.ai-kernel-runner/logger"
	"github.com/lablup/backend.ai-kernel-runner/process"
)

func TestProcessOutput(t *testing.T) {
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}

	p := process.New(logger.Discard, process.Config{
		Path:   "/bin/sh",
		Args:   []string{"-c", "echo llamas; echo alpacas 1>&2"},
		Stdout: stdout,
		Stderr: stderr,
	})

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("p.Run(ctx) = %v", err)
	}

	if got, want := stdout.String(), "llamas\n"; got != want {
		t.Errorf("stdout.String() = %q, want %q", got, want)
	}

	if got, want := stderr.String(), "alpacas\n"; got != want {
		t.Errorf("stderr.String() = %q, want %q", got, want)
	}

	if got, want := p.WaitStatus().ExitStatus(), 0; got != want {
		t.Errorf("p.WaitStatus().ExitStatus() = %d, want %d", got, want)
	}
}

func TestProcessExitStatus(t *testing.T) {
	p := process.New(logger.Discard, process.Config{
		Path: "/bin/sh",
		Args: []string{"-c", "exit 99"},
	})

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("p.Run(ctx) = %v", err)
	}

	if got, want := p.WaitStatus().ExitStatus(), 99; got != want {
		t.Errorf("p.WaitStatus().ExitStatus() = %d, want %d", got, want)
	}
}

// chunkRecorder captures the size and content of every Write it receives.
type chunkRecorder struct {
	mu     sync.Mutex
	chunks []int
	data   bytes.Buffer
}

func (c *chunkRecorder) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks = append(c.chunks, len(b))
	c.data.Write(b)
	return len(b), nil
}

func TestProcessOutputIsChunked(t *testing.T) {
	rec := &chunkRecorder{}

	// 100 lines of 99 zeros, a 7 and a newline (10100 bytes): well past a
	// single chunk.
	p := process.New(logger.Discard, process.Config{
		Path:   "/bin/sh",
		Args:   []string{"-c", `for i in $(seq 1 100); do printf '%0100d\n' 7; done`},
		Stdout: rec,
	})

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("p.Run(ctx) = %v", err)
	}

	want := strings.Repeat(strings.Repeat("0", 99)+"7\n", 100)
	if got := rec.data.String(); got != want {
		t.Errorf("concatenated output mismatch: got %d bytes, want %d bytes", len(got), len(want))
	}

	for _, size := range rec.chunks {
		if size > process.DefaultChunkSize {
			t.Errorf("chunk of %d bytes exceeds the %d byte limit", size, process.DefaultChunkSize)
		}
	}
}

func TestProcessInterrupt(t *testing.T) {
	p := process.New(logger.Discard, process.Config{
		Path: "/bin/sh",
		Args: []string{"-c", "sleep 10"},
	})

	runDone := make(chan error, 1)
	go func() {
		runDone <- p.Run(context.Background())
	}()

	<-p.Started()
	time.Sleep(100 * time.Millisecond)

	if err := p.Interrupt(); err != nil {
		t.Fatalf("p.Interrupt() = %v", err)
	}

	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("p.Run(ctx) = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("process did not exit within 1s of SIGINT")
	}

	if p.WaitStatus().ExitStatus() == 0 {
		t.Error("interrupted process reported exit status 0")
	}
}

func TestProcessMissingWorkingDir(t *testing.T) {
	p := process.New(logger.Discard, process.Config{
		Path: "/bin/sh",
		Args: []string{"-c", "true"},
		Dir:  "/no/such/dir",
	})

	if err := p.Run(context.Background()); err == nil {
		t.Error("p.Run(ctx) = nil, want error for missing working directory")
	}
}

func TestProcessEnvIsExact(t *testing.T) {
	stdout := &bytes.Buffer{}

	p := process.New(logger.Discard, process.Config{
		Path:   "/bin/sh",
		Args:   []string{"-c", `echo "$LLAMAS"`},
		Env:    []string{"LLAMAS=rock", "PATH=/usr/bin:/bin"},
		Stdout: stdout,
	})

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("p.Run(ctx) = %v", err)
	}

	if got, want := stdout.String(), "rock\n"; got != want {
		t.Errorf("stdout.String() = %q, want %q", got, want)
	}
}
