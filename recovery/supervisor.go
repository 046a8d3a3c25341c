// Package recovery implements the kernel's bounded automatic-restart policy
// for modules that fail during start or at runtime (spec.md §4.2's recovery
// paragraph): a delayed retry, backed off per attempt, capped at a maximum
// attempt count per module.
package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Logger mirrors the kernel's structured logging shape without importing
// the root package.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Recoverer is the Manager operation the supervisor retries: reinitialize
// and restart a single module by name.
type Recoverer interface {
	RecoverModule(ctx context.Context, moduleName string) error
}

// Options configures retry behavior.
type Options struct {
	MaxAttempts  int           // default 3
	InitialDelay time.Duration // default 5s
	Backoff      float64       // multiplier applied per attempt, default 2.0
}

func (o *Options) setDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = 5 * time.Second
	}
	if o.Backoff <= 0 {
		o.Backoff = 2.0
	}
}

type attemptState struct {
	count int
	timer *cron.Cron
}

// Supervisor tracks per-module recovery attempts and schedules delayed
// retries through the Manager's Recoverer hook. Each retry is scheduled on
// its own one-shot cron.Cron instance rather than a shared scheduler, since
// robfig/cron has no native one-shot "run once after duration D" entry and a
// private instance per pending retry keeps cancellation (Reset, Shutdown)
// simple: stopping that module's Cron cancels exactly its own pending retry.
type Supervisor struct {
	logger    Logger
	recoverer Recoverer
	opts      Options

	mu       sync.Mutex
	attempts map[string]*attemptState
}

// NewSupervisor constructs a Supervisor bound to a Recoverer (normally the
// Manager itself).
func NewSupervisor(logger Logger, recoverer Recoverer, opts Options) *Supervisor {
	opts.setDefaults()
	return &Supervisor{
		logger:    logger,
		recoverer: recoverer,
		opts:      opts,
		attempts:  make(map[string]*attemptState),
	}
}

// HandleModuleError is invoked whenever the Manager observes a module
// failure. It schedules a delayed recovery attempt unless the module has
// already exhausted MaxAttempts, in which case it gives up and logs.
func (s *Supervisor) HandleModuleError(ctx context.Context, moduleName, operation string, cause error) {
	s.mu.Lock()
	st, ok := s.attempts[moduleName]
	if !ok {
		st = &attemptState{}
		s.attempts[moduleName] = st
	}

	if st.count >= s.opts.MaxAttempts {
		s.mu.Unlock()
		s.logger.Error("module exhausted recovery attempts, giving up",
			"module", moduleName, "operation", operation, "attempts", st.count, "error", cause)
		return
	}

	st.count++
	attempt := st.count
	delay := time.Duration(float64(s.opts.InitialDelay) * pow(s.opts.Backoff, attempt-1))
	s.mu.Unlock()

	s.logger.Warn("scheduling module recovery attempt",
		"module", moduleName, "operation", operation, "attempt", attempt, "delay", delay, "error", cause)

	s.scheduleRetry(ctx, moduleName, delay)
}

func (s *Supervisor) scheduleRetry(ctx context.Context, moduleName string, delay time.Duration) {
	s.mu.Lock()
	st := s.attempts[moduleName]
	if st.timer != nil {
		st.timer.Stop()
	}
	timer := cron.New()
	st.timer = timer
	s.mu.Unlock()

	spec := fmt.Sprintf("@every %s", delay)
	_, err := timer.AddFunc(spec, func() {
		timer.Stop()
		if err := s.recoverer.RecoverModule(ctx, moduleName); err != nil {
			s.logger.Error("module recovery attempt failed", "module", moduleName, "error", err)
			return
		}
		s.logger.Info("module recovered", "module", moduleName)
		s.Reset(moduleName)
	})
	if err != nil {
		s.logger.Error("failed to schedule recovery retry", "module", moduleName, "error", err)
		return
	}
	timer.Start()
}

// Reset clears a module's attempt counter, e.g. after it has run
// successfully for a sustained period or was explicitly reloaded.
func (s *Supervisor) Reset(moduleName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.attempts[moduleName]; ok {
		if st.timer != nil {
			st.timer.Stop()
		}
		delete(s.attempts, moduleName)
	}
}

// Attempts reports how many recovery attempts a module has used so far.
func (s *Supervisor) Attempts(moduleName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.attempts[moduleName]; ok {
		return st.count
	}
	return 0
}

// Shutdown cancels every pending retry, e.g. during Manager.StopModules.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.attempts {
		if st.timer != nil {
			st.timer.Stop()
		}
	}
	s.attempts = make(map[string]*attemptState)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
