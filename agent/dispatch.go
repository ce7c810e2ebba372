package agent

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/lablup/backend.ai-kernel-runner/wire"
	"github.com/vmihailenco/msgpack/v5"
)

// dispatch reads command frames in arrival order and either enqueues work
// on the task queue or handles the op out of band. It returns nil on
// cooperative shutdown and an error only when the loop breaks on an
// unexpected failure.
func (a *Agent) dispatch(ctx context.Context) error {
	for {
		frame, err := a.in.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.logger.Error("unexpected error: %v", err)
			return err
		}

		text := string(frame.Body)

		switch frame.Tag {
		case wire.OpClean:
			a.enqueue(ctx, &task{kind: taskClean, payload: text})

		case wire.OpBuild: // batch-mode step 1
			a.enqueue(ctx, &task{kind: taskBuild, payload: text})

		case wire.OpExec: // batch-mode step 2
			a.enqueue(ctx, &task{kind: taskExecute, payload: text})

		case wire.OpCode: // query-mode
			a.enqueue(ctx, &task{kind: taskQuery, payload: text})

		case wire.OpInput: // interactive input
			a.PushInput(text)

		case wire.OpComplete: // auto-completion
			a.handleComplete(ctx, frame.Body)

		case wire.OpInterrupt:
			a.handleInterrupt(ctx)

		case wire.OpStatus:
			a.sendStatus()

		case wire.OpStartService: // activate a service port
			a.handleStartService(ctx, frame.Body)

		default:
			a.logger.Error("Unsupported operation for this kernel: %s", frame.Tag)
		}
	}
}

func (a *Agent) enqueue(ctx context.Context, t *task) {
	select {
	case a.tasks <- t:
	case <-ctx.Done():
	}
}

// handleComplete runs the completion lookup out of band with the task
// queue, once back-end init has finished.
func (a *Agent) handleComplete(ctx context.Context, body []byte) {
	select {
	case <-a.initDone:
	case <-ctx.Done():
		return
	}

	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		a.logger.Error("Malformed completion request: %v", err)
		return
	}

	candidates, err := a.runner.Complete(ctx, a, data)
	if err != nil {
		if errors.Is(err, ErrUnsupported) {
			a.logger.Error("Unsupported operation for this kernel: complete")
		} else {
			a.logger.Error("unexpected error: %v", err)
		}
		return
	}
	if candidates == nil {
		candidates = []string{}
	}

	payload, err := json.Marshal(candidates)
	if err != nil {
		a.logger.Error("Encoding completion result failed: %v", err)
		return
	}
	if err := a.SendEvent(wire.KindCompletion, payload); err != nil {
		a.logger.Error("Sending completion result failed: %v", err)
	}
}

// handleInterrupt delivers SIGINT to the active subprocess if there is one,
// and defers to the back-end otherwise. It never blocks and produces no
// terminal event.
func (a *Agent) handleInterrupt(ctx context.Context) {
	a.subprocMu.Lock()
	p := a.subproc
	a.subprocMu.Unlock()

	if p != nil {
		if err := p.Interrupt(); err != nil {
			a.logger.Error("Interrupting subprocess failed: %v", err)
		}
		return
	}

	if err := a.runner.Interrupt(ctx, a); err != nil {
		if errors.Is(err, ErrUnsupported) {
			a.logger.Error("Unsupported operation for this kernel: interrupt")
			return
		}
		a.logger.Error("unexpected error: %v", err)
	}
}

type statusBody struct {
	StartedAt float64 `msgpack:"started_at"`
}

func (a *Agent) sendStatus() {
	data, err := msgpack.Marshal(statusBody{StartedAt: a.startedAt})
	if err != nil {
		a.logger.Error("Encoding status failed: %v", err)
		return
	}
	if err := a.SendEvent(wire.KindStatus, data); err != nil {
		a.logger.Error("Sending status failed: %v", err)
	}
}
