package agent

import (
	"context"
	"encoding/json"
	"net"

	"github.com/lablup/backend.ai-kernel-runner/wire"
)

// unsupportedInputReply is written verbatim when the back-end has no user
// input queue configured.
const unsupportedInputReply = "<user-input is unsupported>"

// EnableUserInput allocates the interactive input queue. Back-ends that
// support user input call this from Init.
func (a *Agent) EnableUserInput() {
	a.inputMu.Lock()
	defer a.inputMu.Unlock()
	if a.userInput == nil {
		a.userInput = make(chan string, 64)
	}
}

func (a *Agent) inputQueue() chan string {
	a.inputMu.Lock()
	defer a.inputMu.Unlock()
	return a.userInput
}

// PushInput feeds one line of controller-forwarded text to whoever is
// blocked on the input queue. Ignored when the back-end has no queue.
func (a *Agent) PushInput(text string) {
	q := a.inputQueue()
	if q == nil {
		return
	}
	select {
	case q <- text:
	default:
		a.logger.Warn("User input queue is full; dropping input")
	}
}

// serveUserInput binds the local input bridge and starts the accept loop.
// Each connection is a single prompt: the agent announces waiting-input,
// blocks for one line of forwarded text, writes it and closes.
func (a *Agent) serveUserInput(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.conf.InputAddr)
	if err != nil {
		return err
	}
	a.inputLn = ln

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go a.handleUserInput(ctx, conn)
		}
	}()
	return nil
}

func (a *Agent) handleUserInput(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	q := a.inputQueue()
	if q == nil {
		if _, err := conn.Write([]byte(unsupportedInputReply)); err != nil {
			a.logger.Error("unexpected error (handle_user_input): %v", err)
		}
		return
	}

	if err := a.SendEvent(wire.KindWaitingInput, []byte{}); err != nil {
		a.logger.Error("unexpected error (handle_user_input): %v", err)
		return
	}

	select {
	case text := <-q:
		if _, err := conn.Write([]byte(text)); err != nil {
			a.logger.Error("unexpected error (handle_user_input): %v", err)
		}
	case <-ctx.Done():
	}
}

// RequestInput is for REPL-style back-ends: it announces waiting-input,
// optionally flagged as a masked prompt, and blocks until the controller
// forwards a line.
func (a *Agent) RequestInput(ctx context.Context, isPassword bool) (string, bool) {
	q := a.inputQueue()
	if q == nil {
		return "", false
	}

	body := []byte{}
	if isPassword {
		body, _ = json.Marshal(map[string]bool{"is_password": true})
	}
	if err := a.SendEvent(wire.KindWaitingInput, body); err != nil {
		a.logger.Error("Sending waiting-input failed: %v", err)
		return "", false
	}

	select {
	case text := <-q:
		return text, true
	case <-ctx.Done():
		return "", false
	}
}
