package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/buildkite/roko"
	"github.com/lablup/backend.ai-kernel-runner/process"
	"github.com/lablup/backend.ai-kernel-runner/wire"
)

const (
	portProbeAttempts = 60
	portProbeInterval = 500 * time.Millisecond
	portProbeTimeout  = time.Second
)

// handleStartService launches an auxiliary service daemon. The child is not
// awaited here; it lives until agent shutdown. The service-result event is
// fire-and-forget but always ordered after the started/failed decision.
func (a *Agent) handleStartService(ctx context.Context, body []byte) {
	select {
	case <-a.initDone:
	case <-ctx.Done():
		return
	}

	var svc ServiceInfo
	if err := json.Unmarshal(body, &svc); err != nil {
		a.logger.Error("Malformed service request: %v", err)
		a.sendServiceResult(fmt.Errorf("malformed service request: %w", err))
		return
	}

	if a.servicesRunning[svc.Name] {
		return
	}

	switch err := a.startService(ctx, svc); {
	case errors.Is(err, errServiceDeclined):
		a.logger.Warn("The service %q is not supported.", svc.Name)
	case err != nil:
		a.logger.Error("unexpected error: %v", err)
		a.sendServiceResult(err)
	default:
		a.sendServiceResult(nil)
	}
}

// errServiceDeclined distinguishes a back-end that does not provide the
// service (warn and stay silent) from a launch failure (failed result).
var errServiceDeclined = errors.New("service declined by back-end")

func (a *Agent) startService(ctx context.Context, svc ServiceInfo) error {
	argv, extraEnv, err := a.runner.StartService(ctx, a, svc)
	if err != nil {
		return err
	}
	if argv == nil {
		return errServiceDeclined
	}

	if svc.Protocol == "pty" {
		return fmt.Errorf("service %q: pty services are not implemented", svc.Name)
	}

	childEnv := a.childEnv.Copy()
	childEnv.MergeMap(extraEnv)

	p := process.New(a.logger, process.Config{
		Path: argv[0],
		Args: argv[1:],
		Env:  childEnv.ToSlice(),
		// Service output goes to the container log only.
		Stdout:          os.Stdout,
		Stderr:          os.Stderr,
		InterruptSignal: syscall.SIGTERM,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Run(context.Background())
	}()

	select {
	case <-p.Started():
	case err := <-errCh:
		return fmt.Errorf("spawning service %q: %w", svc.Name, err)
	}

	a.serviceProcs = append(a.serviceProcs, &serviceProc{name: svc.Name, proc: p})
	a.servicesRunning[svc.Name] = true

	if err := a.waitLocalPortOpen(ctx, svc.Port); err != nil {
		return fmt.Errorf("service %q did not open port %d: %w", svc.Name, svc.Port, err)
	}
	return nil
}

func (a *Agent) sendServiceResult(err error) {
	result := map[string]string{"status": "started"}
	if err != nil {
		result = map[string]string{"status": "failed", "error": err.Error()}
	}
	payload, _ := json.Marshal(result)
	if serr := a.SendEvent(wire.KindServiceResult, payload); serr != nil {
		a.logger.Error("Sending service-result failed: %v", serr)
	}
}

// waitLocalPortOpen polls the loopback port with a bounded retry until a
// TCP connect succeeds.
func (a *Agent) waitLocalPortOpen(ctx context.Context, port int) error {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	return roko.NewRetrier(
		roko.WithMaxAttempts(a.probeAttempts),
		roko.WithStrategy(roko.Constant(a.probeInterval)),
	).DoWithContext(ctx, func(r *roko.Retrier) error {
		conn, err := net.DialTimeout("tcp", addr, portProbeTimeout)
		if err != nil {
			return err
		}
		return conn.Close()
	})
}
