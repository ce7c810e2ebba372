package terminal

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lablup/backend.ai-kernel-runner/logger"
	"github.com/lablup/backend.ai-kernel-runner/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEvent struct {
	Kind string
	Body string
}

type fakeSink struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (s *fakeSink) SendEvent(kind string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, recordedEvent{Kind: kind, Body: string(body)})
	return nil
}

func (s *fakeSink) snapshot() []recordedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedEvent(nil), s.events...)
}

func newCommandOnlyTerminal(sink *fakeSink) *Terminal {
	return New(logger.Discard, Config{
		ShellCmd: "/bin/sh",
		Out:      sink,
	})
}

func lastFinished(t *testing.T, sink *fakeSink) recordedEvent {
	t.Helper()
	events := sink.snapshot()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, wire.KindFinished, last.Kind)
	return last
}

func TestHandleCommandPing(t *testing.T) {
	sink := &fakeSink{}
	term := newCommandOnlyTerminal(sink)

	ret := term.HandleCommand(context.Background(), "%ping")
	assert.Equal(t, 0, ret)

	events := sink.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, wire.KindStdout, events[0].Kind)
	assert.Equal(t, "pong!", events[0].Body)

	var opts map[string]bool
	require.NoError(t, json.Unmarshal([]byte(lastFinished(t, sink).Body), &opts))
	assert.False(t, opts["upload_output_files"])
}

func TestHandleCommandRejectsPlainText(t *testing.T) {
	sink := &fakeSink{}
	term := newCommandOnlyTerminal(sink)

	ret := term.HandleCommand(context.Background(), "ls -la")
	assert.Equal(t, 127, ret)

	events := sink.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, wire.KindStderr, events[0].Kind)
	assert.Equal(t, "Invalid command.", events[0].Body)
	lastFinished(t, sink)
}

func TestHandleCommandUnknownSubcommand(t *testing.T) {
	sink := &fakeSink{}
	term := newCommandOnlyTerminal(sink)

	ret := term.HandleCommand(context.Background(), "%fly 1 2")
	assert.Equal(t, 127, ret)
	lastFinished(t, sink)
}

func TestHandleCommandResizeUsage(t *testing.T) {
	sink := &fakeSink{}
	term := newCommandOnlyTerminal(sink)

	ret := term.HandleCommand(context.Background(), "%resize 30")
	assert.Equal(t, 1, ret)

	events := sink.snapshot()
	assert.True(t, strings.HasPrefix(events[0].Body, "usage:"))
	lastFinished(t, sink)
}

func TestResizeWithoutTerminal(t *testing.T) {
	sink := &fakeSink{}
	term := newCommandOnlyTerminal(sink)

	err := term.Resize(30, 120)
	require.Error(t, err)
}

func TestTerminalLifecycle(t *testing.T) {
	sink := &fakeSink{}
	term := New(logger.Discard, Config{
		ShellCmd:    "/bin/sh",
		AutoRestart: false,
		Out:         sink,
		InAddr:      "tcp://127.0.0.1:21710",
		OutAddr:     "tcp://127.0.0.1:21711",
	})

	require.NoError(t, term.Start(context.Background()))

	// The shell is alive; the window-size ioctl must succeed.
	require.NoError(t, term.Resize(40, 100))

	ret := term.HandleCommand(context.Background(), "%resize 30 120")
	assert.Equal(t, 0, ret)
	found := false
	for _, ev := range sink.snapshot() {
		if ev.Kind == wire.KindStdout && strings.Contains(ev.Body, "30 rows and 120 cols") {
			found = true
		}
	}
	assert.True(t, found, "missing resize confirmation, events: %v", sink.snapshot())

	done := make(chan struct{})
	go func() {
		_ = term.Shutdown(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("terminal shutdown did not complete")
	}
}

func TestStartRejectsUnparseableShell(t *testing.T) {
	term := New(logger.Discard, Config{
		ShellCmd: "",
		Out:      &fakeSink{},
	})
	require.Error(t, term.Start(context.Background()))
}
