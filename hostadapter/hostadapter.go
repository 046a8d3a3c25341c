// Package hostadapter wires the kernel's Manager to the host process: it
// owns the SIGINT/SIGTERM listener, the "shutdown already in progress"
// guard, and the shutdown deadline around Manager.Start/Stop, factored out
// of the Manager itself so the Manager stays usable in hosts (tests,
// embedders) that drive their own shutdown sequencing.
package hostadapter

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/forgekit/kernel"
)

// Logger mirrors the kernel's structured logging shape without importing
// the root package.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Runner is the Manager operation the adapter drives: block until all
// modules are initialized and started, then wait for shutdown.
type Runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// osExit is a package-level indirection over os.Exit so the second-signal
// forced-termination path can be exercised from tests without killing the
// test binary.
var osExit = os.Exit

// Option configures an Adapter at construction time.
type Option func(*Adapter)

// WithShutdownTimeout bounds how long Shutdown waits for the runner to
// stop before giving up and returning kernel.ErrShutdownTimeout. Zero (the
// default) means no bound, matching a `shutdownTimeoutMs` of 0/unset.
func WithShutdownTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.shutdownTimeout = d }
}

// Adapter owns the process-signal lifecycle around a Runner.
type Adapter struct {
	logger          Logger
	runner          Runner
	shutdownTimeout time.Duration
	shuttingDown    atomic.Bool
	once            sync.Once
}

// New constructs an Adapter bound to a Runner (normally the Manager).
func New(logger Logger, runner Runner, opts ...Option) *Adapter {
	a := &Adapter{logger: logger, runner: runner}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts the runner, blocks until SIGINT/SIGTERM or ctx cancellation,
// then stops the runner. A second SIGINT/SIGTERM received while shutdown
// is already underway forces immediate termination via os.Exit(1), per
// the "shutdown requested after shutdown-in-progress forces immediate
// termination" requirement. Run otherwise returns the first error
// encountered from either phase.
func (a *Adapter) Run(ctx context.Context) error {
	if err := a.runner.Start(ctx); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		a.logger.Info("received signal, shutting down", "signal", sig.String())
	case <-ctx.Done():
		a.logger.Info("context cancelled, shutting down")
	}

	done := make(chan error, 1)
	go func() { done <- a.Shutdown(context.Background()) }()

	for {
		select {
		case err := <-done:
			return err
		case sig := <-sigChan:
			a.logger.Warn("received second signal during shutdown, forcing exit", "signal", sig.String())
			osExit(1)
		}
	}
}

// Shutdown stops the runner exactly once, even if called concurrently from
// both a signal and an explicit caller. If a shutdown timeout was
// configured and the runner has not stopped within it, Shutdown abandons
// the wait and returns kernel.ErrShutdownTimeout.
func (a *Adapter) Shutdown(ctx context.Context) error {
	if !a.shuttingDown.CompareAndSwap(false, true) {
		a.logger.Debug("shutdown already in progress, ignoring duplicate request")
		return nil
	}

	if a.shutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.shutdownTimeout)
		defer cancel()
	}

	var err error
	a.once.Do(func() {
		stopDone := make(chan error, 1)
		go func() { stopDone <- a.runner.Stop(ctx) }()

		select {
		case err = <-stopDone:
		case <-ctx.Done():
			a.logger.Error("shutdown exceeded its deadline, forcing exit", "timeout", a.shutdownTimeout)
			err = kernel.ErrShutdownTimeout
		}
	})
	return err
}

// ShuttingDown reports whether a shutdown has already been initiated.
func (a *Adapter) ShuttingDown() bool {
	return a.shuttingDown.Load()
}
