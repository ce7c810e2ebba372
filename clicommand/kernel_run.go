package clicommand

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/lablup/backend.ai-kernel-runner/agent"
	"github.com/lablup/backend.ai-kernel-runner/env"
	"github.com/lablup/backend.ai-kernel-runner/logger"
	"github.com/lablup/backend.ai-kernel-runner/runners"
	"github.com/lablup/backend.ai-kernel-runner/signalwatcher"
	"github.com/urfave/cli"
	"golang.org/x/sys/unix"
)

// RunHelpDescription is shown by the app help output.
const RunHelpDescription = `Runs the in-container code-execution agent for the given language back-end.
The agent binds the command and event sockets, serves the interactive input
bridge and streams subprocess output back to the controller until it
receives SIGINT or SIGTERM.

Example:

   $ kernel-agent golang
   $ kernel-agent --debug python`

// logQueueSize bounds the log-forwarding queue; records beyond it are
// dropped rather than blocking the producers.
const logQueueSize = 1024

type KernelRunConfig struct {
	Debug bool
	Lang  string
}

// KernelRunFlags are installed at the app level so the binary is invoked
// as `kernel-agent [--debug] <lang>` without a subcommand.
var KernelRunFlags = []cli.Flag{
	cli.BoolFlag{
		Name:  "debug",
		Usage: "Raise log verbosity and log to stderr only, without forwarding to the event socket",
	},
}

func KernelRunAction(c *cli.Context) error {
	cfg := KernelRunConfig{
		Debug: c.Bool("debug"),
		Lang:  c.Args().First(),
	}
	if cfg.Lang == "" {
		return fmt.Errorf("missing language argument (supported: %v)", runners.Languages())
	}
	return runKernelAgent(cfg)
}

func runKernelAgent(cfg KernelRunConfig) error {
	// Replace stdin with a "null" file; user code must use the input
	// bridge instead of the agent's stdin.
	if devnull, err := os.Open(os.DevNull); err == nil {
		_ = unix.Dup2(int(devnull.Fd()), 0)
	}

	runner, err := runners.New(cfg.Lang)
	if err != nil {
		return err
	}

	var logQueue chan logger.Record
	printer := logger.MultiPrinter{logger.NewTextPrinter(os.Stderr)}
	if !cfg.Debug {
		logQueue = make(chan logger.Record, logQueueSize)
		printer = append(printer, logger.NewForwardPrinter(runner.LogPrefix(), logQueue))
	}

	l := logger.NewConsoleLogger(printer, os.Exit).
		WithFields(logger.StringField("lang", cfg.Lang))
	if cfg.Debug {
		l.SetLevel(logger.DEBUG)
	}

	childEnv, err := env.Bootstrap(env.DefaultBootstrapPath)
	if err != nil {
		// Anything other than not-found is logged and ignored.
		l.Error("Reading %s failed: %v", env.DefaultBootstrapPath, err)
	}

	a := agent.New(agent.Config{
		Runner:      runner,
		Logger:      l,
		Environment: childEnv,
		LogQueue:    logQueue,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The first SIGINT/SIGTERM requests graceful shutdown; a second
	// delivery of either forces exit with status 1.
	var stopping atomic.Bool
	signalwatcher.Watch(func(sig signalwatcher.Signal) {
		if stopping.Swap(true) {
			os.Exit(1)
		}
		l.Info("Received signal `%v`, shutting down", sig)
		cancel()
	})

	return a.Run(ctx)
}
