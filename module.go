package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"
	"weak"
)

// ModuleState is the eight-value lifecycle enum every Module obeys.
type ModuleState int

const (
	StateUninitialized ModuleState = iota
	StateInitializing
	StateInitialized
	StateStarting
	StateRunning
	StateStopping
	StateStopped
	StateError
)

func (s ModuleState) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateInitializing:
		return "INITIALIZING"
	case StateInitialized:
		return "INITIALIZED"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// LogSeverity annotates log lines only; it is never a lifecycle state.
// Kept separate per spec.md §9's open-question resolution.
type LogSeverity int

const (
	SeverityWarning LogSeverity = iota
	SeverityDebug
)

// legalTransitions is the table from spec.md §3. Any transition not listed
// here is a programmer error and is refused with a warning, never a panic.
var legalTransitions = map[ModuleState][]ModuleState{
	StateUninitialized: {StateInitializing},
	StateInitializing:  {StateInitialized, StateError},
	StateInitialized:   {StateStarting},
	StateStarting:      {StateRunning, StateError},
	StateRunning:       {StateStopping},
	StateStopping:      {StateStopped, StateError},
	StateStopped:       {StateStarting},
	StateError:         {StateUninitialized},
}

func isLegalTransition(from, to ModuleState) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Hooks is the concrete extension surface every module implements.
// Concrete modules implement onInitialize/onStart/onStop by satisfying
// this interface; the Module wrapper drives the state machine around them.
type Hooks interface {
	OnInitialize(ctx context.Context) error
	OnStart(ctx context.Context) error
	OnStop(ctx context.Context) error
}

// EventHandler is optionally implemented by module hooks that want to
// receive events broadcast by peer modules.
type EventHandler interface {
	OnEvent(ctx context.Context, name string, payload any, source string) error
}

// Metadata is the static module identity declared at construction time.
type Metadata struct {
	Name                string
	Description         string
	Version             string
	APIVersion          string // defaults to Version when empty
	Dependencies        []string
	DependencyVersions  map[string]string
	Disabled            bool
	Priority            int // default 50
}

// Module is a named, versioned unit with an explicit lifecycle. Concrete
// modules are built with NewModule, supplying Hooks for onInitialize/
// onStart/onStop.
type Module struct {
	meta Metadata
	hooks Hooks

	mu             sync.RWMutex
	state          ModuleState
	lastError      error
	exports        map[string]any
	permissions    map[string]map[string]struct{} // resource -> set(action)
	startTimestamp time.Time

	manager weak.Pointer[Manager]
	logger  Logger

	stateListeners []func(newState, previous ModuleState)
	errorListeners []func(err error, operation string)
}

// NewModule constructs a module from its static metadata and lifecycle
// hooks. Priority defaults to 50; APIVersion defaults to Version.
func NewModule(meta Metadata, hooks Hooks) *Module {
	if meta.Priority == 0 {
		meta.Priority = 50
	}
	if meta.APIVersion == "" {
		meta.APIVersion = meta.Version
	}
	if meta.DependencyVersions == nil {
		meta.DependencyVersions = map[string]string{}
	}
	return &Module{
		meta:        meta,
		hooks:       hooks,
		state:       StateUninitialized,
		exports:     make(map[string]any),
		permissions: make(map[string]map[string]struct{}),
		logger:      noopLogger{},
	}
}

func (m *Module) Name() string                      { return m.meta.Name }
func (m *Module) Description() string                { return m.meta.Description }
func (m *Module) Version() string                    { return m.meta.Version }
func (m *Module) GetAPIVersion() string               { return m.meta.APIVersion }
func (m *Module) Dependencies() []string              { return m.meta.Dependencies }
func (m *Module) DependencyVersions() map[string]string { return m.meta.DependencyVersions }
func (m *Module) Disabled() bool                      { return m.meta.Disabled }
func (m *Module) Priority() int                       { return m.meta.Priority }

func (m *Module) setLogger(l Logger) {
	if l != nil {
		m.logger = l
	}
}

// setManager installs the weak, non-owning back-reference to the Manager.
// Called exactly once, at registration.
func (m *Module) setManager(mgr *Manager) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.manager = weak.Make(mgr)
}

func (m *Module) manager_() *Manager {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.manager.Value()
}

// GetState returns the module's current lifecycle state.
func (m *Module) GetState() ModuleState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// GetError returns the error that drove the module into ERROR, if any.
func (m *Module) GetError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// HasError reports whether lastError is non-nil.
func (m *Module) HasError() bool {
	return m.GetError() != nil
}

// IsReady reports whether the module is RUNNING or, if disabled, vacuously ready.
func (m *Module) IsReady() bool {
	if m.Disabled() {
		return true
	}
	return m.GetState() == StateRunning
}

// GetUptime returns the duration since the module last entered RUNNING.
// Zero if the module has never started.
func (m *Module) GetUptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.startTimestamp.IsZero() {
		return 0
	}
	return time.Since(m.startTimestamp)
}

// OnStateChange registers a listener invoked synchronously on every
// transition. The Manager registers one at registration that logs each
// transition at debug level; exposed for tests.
func (m *Module) OnStateChange(fn func(newState, previous ModuleState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateListeners = append(m.stateListeners, fn)
}

// OnError registers a listener invoked synchronously whenever a lifecycle
// operation fails.
func (m *Module) OnError(fn func(err error, operation string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorListeners = append(m.errorListeners, fn)
}

func (m *Module) transition(to ModuleState) error {
	m.mu.Lock()
	from := m.state
	if !isLegalTransition(from, to) {
		m.mu.Unlock()
		m.logger.Warn("refusing illegal module transition", "module", m.Name(), "from", from.String(), "to", to.String())
		return fmt.Errorf("%w: %s -> %s for module %s", ErrIllegalTransition, from, to, m.Name())
	}
	m.state = to
	if to == StateRunning {
		m.startTimestamp = time.Now()
	}
	listeners := append([]func(ModuleState, ModuleState){}, m.stateListeners...)
	m.mu.Unlock()

	for _, l := range listeners {
		l(to, from)
	}
	return nil
}

func (m *Module) fail(operation string, cause error) error {
	m.mu.Lock()
	m.lastError = cause
	m.mu.Unlock()
	_ = m.transition(StateError)

	m.mu.RLock()
	listeners := append([]func(error, string){}, m.errorListeners...)
	m.mu.RUnlock()
	for _, l := range listeners {
		l(cause, operation)
	}
	return fmt.Errorf("%w: module %s operation %s: %v", ErrLifecycleOperation, m.Name(), operation, cause)
}

// Initialize drives UNINITIALIZED -> INITIALIZING -> INITIALIZED (or ERROR).
// Idempotent once already INITIALIZED or later: logs a warning and returns nil.
func (m *Module) Initialize(ctx context.Context) error {
	state := m.GetState()
	if state != StateUninitialized {
		if state == StateError {
			m.logger.Warn("cannot initialize module in ERROR state, call Reset first", "module", m.Name())
			return fmt.Errorf("%w: module %s is in ERROR, reset required", ErrIllegalTransition, m.Name())
		}
		m.logger.Warn("module already initialized, skipping", "module", m.Name(), "state", state.String())
		return nil
	}

	if err := m.transition(StateInitializing); err != nil {
		return err
	}

	if err := m.hooks.OnInitialize(ctx); err != nil {
		return m.fail("initialization", err)
	}

	return m.transition(StateInitialized)
}

// Start drives {INITIALIZED,STOPPED} -> STARTING -> RUNNING (or ERROR).
func (m *Module) Start(ctx context.Context) error {
	state := m.GetState()
	if state != StateInitialized && state != StateStopped {
		m.logger.Warn("refusing to start module from invalid state", "module", m.Name(), "state", state.String())
		return fmt.Errorf("%w: cannot start module %s from state %s", ErrIllegalTransition, m.Name(), state)
	}

	if err := m.transition(StateStarting); err != nil {
		return err
	}

	if err := m.hooks.OnStart(ctx); err != nil {
		return m.fail("start", err)
	}

	return m.transition(StateRunning)
}

// Stop drives RUNNING -> STOPPING -> STOPPED (or ERROR).
func (m *Module) Stop(ctx context.Context) error {
	state := m.GetState()
	if state != StateRunning {
		m.logger.Warn("refusing to stop module from invalid state", "module", m.Name(), "state", state.String())
		return fmt.Errorf("%w: cannot stop module %s from state %s", ErrIllegalTransition, m.Name(), state)
	}

	if err := m.transition(StateStopping); err != nil {
		return err
	}

	if err := m.hooks.OnStop(ctx); err != nil {
		return m.fail("stop", err)
	}

	return m.transition(StateStopped)
}

// Restart is Stop followed by Start.
func (m *Module) Restart(ctx context.Context) error {
	if err := m.Stop(ctx); err != nil {
		return err
	}
	return m.Start(ctx)
}

// Reset clears lastError and forces the module back to UNINITIALIZED. It is
// the only legal recovery path from ERROR.
func (m *Module) Reset() error {
	m.mu.Lock()
	if m.state != StateError {
		m.mu.Unlock()
		return fmt.Errorf("%w: module %s", ErrRecoveryNotInError, m.Name())
	}
	m.lastError = nil
	m.mu.Unlock()
	return m.transition(StateUninitialized)
}

// Export makes a value available to peer modules under key.
func (m *Module) Export(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exports[key] = value
}

// GetExport returns a value this module previously exported.
func (m *Module) GetExport(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.exports[key]
	return v, ok
}

// GrantPermission allows action on resource for this module.
func (m *Module) GrantPermission(resource, action string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.permissions[resource]
	if !ok {
		set = make(map[string]struct{})
		m.permissions[resource] = set
	}
	set[action] = struct{}{}
}

// RevokePermission removes action on resource for this module.
func (m *Module) RevokePermission(resource, action string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.permissions[resource]; ok {
		delete(set, action)
	}
}

// CheckPermission consults the local permission map first: once a resource
// has a local entry, only actions granted on it are allowed. If the resource
// has no local entry, it defers to a registered "auth" module exposing
// CheckModulePermission, and otherwise allows.
func (m *Module) CheckPermission(action, resource string) bool {
	m.mu.RLock()
	set, recorded := m.permissions[resource]
	m.mu.RUnlock()
	if recorded {
		_, allowed := set[action]
		return allowed
	}

	mgr := m.manager_()
	if mgr == nil {
		return true
	}
	if auth, err := mgr.GetModuleInstance("auth"); err == nil {
		if checker, ok := auth.hooks.(permissionChecker); ok {
			return checker.CheckModulePermission(m.Name(), action, resource)
		}
	}
	return true
}

// permissionChecker is implemented by an "auth" module's hooks to provide
// cross-cutting permission policy for peers that haven't recorded a local
// grant/revoke for the resource in question.
type permissionChecker interface {
	CheckModulePermission(moduleName, action, resource string) bool
}

// GetModuleInstance looks up a peer module by name through the Manager.
func (m *Module) GetModuleInstance(name string) (*Module, error) {
	mgr := m.manager_()
	if mgr == nil {
		m.logger.Warn("manager unavailable, cannot look up peer module", "module", m.Name(), "peer", name)
		return nil, ErrManagerUnavailable
	}
	return mgr.GetModuleInstance(name)
}

// GetExportsFromModule fetches a single exported value (or the full export
// map, if key is omitted) from a peer module.
func (m *Module) GetExportsFromModule(name string, key ...string) (any, error) {
	peer, err := m.GetModuleInstance(name)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		peer.mu.RLock()
		defer peer.mu.RUnlock()
		return peer.exports, nil
	}
	v, ok := peer.GetExport(key[0])
	if !ok {
		return nil, fmt.Errorf("export %q not found on module %s", key[0], name)
	}
	return v, nil
}

// BroadcastEvent delegates to the Manager's event bus, naming this module
// as the source (so the source itself is skipped on delivery).
func (m *Module) BroadcastEvent(ctx context.Context, name string, payload any) error {
	mgr := m.manager_()
	if mgr == nil {
		m.logger.Warn("manager unavailable, cannot broadcast event", "module", m.Name(), "event", name)
		return ErrManagerUnavailable
	}
	return mgr.BroadcastEvent(ctx, name, payload, m.Name())
}

// IsModuleAPICompatible reports whether the named peer's apiVersion is at
// least minVersion.
func (m *Module) IsModuleAPICompatible(name, minVersion string) bool {
	peer, err := m.GetModuleInstance(name)
	if err != nil {
		return false
	}
	return versionAtLeast(peer.GetAPIVersion(), minVersion)
}
