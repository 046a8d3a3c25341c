// Package leak implements the kernel's reference-lifetime auditor
// (spec.md §4.6): a single process-global observer that holds weak,
// non-owning handles to stopped modules and reports which ones are still
// reachable long after the Manager expects them to have been collected.
package leak

import (
	"runtime"
	"sync"
	"time"
	"weak"
)

// Logger mirrors the kernel's structured logging shape without importing
// the root package.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// moduleEntry is the bookkeeping the Tracker keeps per tracked module name.
// The weak.Pointer is the only reference to the module the Tracker holds,
// so tracking a module here never changes whether or when it is collected.
type moduleEntry struct {
	checker    func() bool
	registered time.Time
	collected  bool
}

// Tracker is the LeakTracker: a single instance, shared by the Manager,
// that audits module lifetimes across stop/reload boundaries. TrackModule
// is called once a module reaches StateStopped; CheckForLeaks is then used
// to find modules that should have been collected by now but were not.
type Tracker struct {
	logger Logger

	mu      sync.Mutex
	modules map[string]*moduleEntry
}

// NewTracker constructs an empty Tracker.
func NewTracker(logger Logger) *Tracker {
	return &Tracker{
		logger:  logger,
		modules: make(map[string]*moduleEntry),
	}
}

// TrackModule starts tracking m under name without taking ownership of it:
// the Tracker stores only a weak.Pointer[T], so m remains eligible for
// garbage collection exactly as if the Tracker did not exist. A
// runtime.AddCleanup callback removes the entry and logs that the module
// was garbage collected the moment the GC actually reclaims it.
func TrackModule[T any](t *Tracker, name string, m *T) {
	weakPtr := weak.Make(m)

	t.mu.Lock()
	t.modules[name] = &moduleEntry{
		checker:    func() bool { return weakPtr.Value() != nil },
		registered: time.Now(),
	}
	t.mu.Unlock()

	runtime.AddCleanup(m, func(n string) {
		t.mu.Lock()
		_, stillTracked := t.modules[n]
		delete(t.modules, n)
		t.mu.Unlock()
		if stillTracked {
			t.logger.Info("module was garbage collected", "module", n)
		}
	}, name)
}

// IsModuleInMemory reports whether name is still tracked and its module is
// still reachable.
func (t *Tracker) IsModuleInMemory(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.modules[name]
	if !ok {
		return false
	}
	if e.collected || (e.checker != nil && !e.checker()) {
		delete(t.modules, name)
		return false
	}
	return true
}

// GetTrackedModules returns the names of every module currently tracked
// and still reachable.
func (t *Tracker) GetTrackedModules() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	names := make([]string, 0, len(t.modules))
	for name, e := range t.modules {
		if e.collected || (e.checker != nil && !e.checker()) {
			delete(t.modules, name)
			continue
		}
		names = append(names, name)
	}
	return names
}

// CheckForLeaks requests heap compaction, waits waitMs for finalizers and
// background sweeping to run, requests compaction again, then returns the
// names of every module still live after both cycles. A module reported
// here survived two GC passes bracketing a wait and is a potential leak.
func (t *Tracker) CheckForLeaks(waitMs int) []string {
	runtime.GC()
	time.Sleep(time.Duration(waitMs) * time.Millisecond)
	runtime.GC()

	return t.GetTrackedModules()
}

// Forget stops tracking a module without asserting anything about whether
// it was ever collected.
func (t *Tracker) Forget(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.modules, name)
}

// Count returns the number of modules currently tracked.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.modules)
}
