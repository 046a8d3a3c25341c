package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
func (noopLogger) Debug(string, ...any) {}

type fakeRecoverer struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeRecoverer) RecoverModule(ctx context.Context, moduleName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, moduleName)
	return f.err
}

func (f *fakeRecoverer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestHandleModuleError_RetriesAfterDelayThenResets(t *testing.T) {
	rec := &fakeRecoverer{}
	s := NewSupervisor(noopLogger{}, rec, Options{MaxAttempts: 3, InitialDelay: 10 * time.Millisecond, Backoff: 2.0})

	s.HandleModuleError(context.Background(), "auth", "start", errors.New("boom"))
	assert.Equal(t, 1, s.Attempts("auth"))

	waitFor(t, time.Second, func() bool { return rec.callCount() == 1 })
	waitFor(t, time.Second, func() bool { return s.Attempts("auth") == 0 })
}

func TestHandleModuleError_GivesUpPastMaxAttempts(t *testing.T) {
	rec := &fakeRecoverer{err: errors.New("still broken")}
	s := NewSupervisor(noopLogger{}, rec, Options{MaxAttempts: 1, InitialDelay: 5 * time.Millisecond, Backoff: 2.0})

	s.HandleModuleError(context.Background(), "auth", "start", errors.New("boom"))
	waitFor(t, time.Second, func() bool { return rec.callCount() == 1 })

	// Attempt count stays at its cap; no further retry is scheduled.
	require.Equal(t, 1, s.Attempts("auth"))

	s.HandleModuleError(context.Background(), "auth", "start", errors.New("boom again"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.callCount())
}

func TestReset_CancelsPendingRetryAndClearsCount(t *testing.T) {
	rec := &fakeRecoverer{}
	s := NewSupervisor(noopLogger{}, rec, Options{MaxAttempts: 3, InitialDelay: time.Hour, Backoff: 2.0})

	s.HandleModuleError(context.Background(), "auth", "start", errors.New("boom"))
	require.Equal(t, 1, s.Attempts("auth"))

	s.Reset("auth")
	assert.Equal(t, 0, s.Attempts("auth"))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, rec.callCount())
}

func TestShutdown_CancelsAllPendingRetries(t *testing.T) {
	rec := &fakeRecoverer{}
	s := NewSupervisor(noopLogger{}, rec, Options{MaxAttempts: 3, InitialDelay: time.Hour, Backoff: 2.0})

	s.HandleModuleError(context.Background(), "auth", "start", errors.New("boom"))
	s.HandleModuleError(context.Background(), "billing", "start", errors.New("boom"))

	s.Shutdown()
	assert.Equal(t, 0, s.Attempts("auth"))
	assert.Equal(t, 0, s.Attempts("billing"))
}

func TestPow(t *testing.T) {
	assert.Equal(t, 1.0, pow(2.0, 0))
	assert.Equal(t, 2.0, pow(2.0, 1))
	assert.Equal(t, 8.0, pow(2.0, 3))
}

func TestOptions_SetDefaults(t *testing.T) {
	o := Options{}
	o.setDefaults()
	assert.Equal(t, 3, o.MaxAttempts)
	assert.Equal(t, 5*time.Second, o.InitialDelay)
	assert.Equal(t, 2.0, o.Backoff)
}
