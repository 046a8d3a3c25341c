package kernel

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/forgekit/kernel/configstore"
	"github.com/forgekit/kernel/health"
	"github.com/forgekit/kernel/leak"
	"github.com/forgekit/kernel/memory"
	"github.com/forgekit/kernel/recovery"
)

// cacheTTL bounds how long an entry may live in the Manager's cache
// regardless of the maxAge a caller later requests of it; getCachedData
// additionally rejects anything older than the caller's own maxAge, so the
// TTL here only needs to outlive the largest maxAge any caller is expected
// to pass.
const cacheTTL = 24 * time.Hour

type cacheEntry struct {
	timestamp time.Time
	data      any
}

// LoadReport tallies the outcome of one LoadModules pass.
type LoadReport struct {
	Loaded   int
	Disabled int
	Failed   int
	Errors   map[string]error
}

// ModuleStatusSnapshot is one module's entry in the `ready` event payload
// and in ExportMetrics's module list (spec.md §4.2 startModules / §4.2
// exportMetrics).
type ModuleStatusSnapshot struct {
	Name         string                                        `json:"name"`
	State        string                                        `json:"state"`
	Dependencies []string                                      `json:"dependencies"`
	Version      string                                        `json:"version"`
	APIVersion   string                                        `json:"apiVersion"`
	HasError     bool                                           `json:"hasError"`
	Metrics      map[health.Operation]health.OperationMetrics  `json:"metrics"`
}

// MetricsSnapshot is the payload Manager.ExportMetrics fans out to every
// registered MetricsExporter.
type MetricsSnapshot struct {
	Modules   []ModuleStatusSnapshot `json:"modules"`
	Health    health.SystemHealth    `json:"health"`
	Memory    memory.Report          `json:"memory"`
	Timestamp time.Time              `json:"timestamp"`
}

// LeakFinding is the memory inspector's per-module growth finding, reused
// as-is for the memoryLeaks event payload.
type LeakFinding = memory.Finding

// Manager is the registry, scheduler, event bus, and plugin host every
// Module is driven by. It owns its modules exclusively; every other
// subsystem (MemoryInspector, LeakTracker) holds weak, observer-only
// references.
type Manager struct {
	opts   managerOptions
	logger Logger

	mu          sync.RWMutex
	registry    map[string]*Module
	manifests   map[string]moduleManifest
	moduleDirs  map[string]string
	sortedOrder []string
	initialized bool

	observers *observerBus
	plugins   []pluginEntry
	exporters []MetricsExporter

	cache *expirable.LRU[string, cacheEntry]

	health          *health.Tracker
	config          *configstore.Store
	memoryInspector *memory.Inspector
	leakTracker     *leak.Tracker
	recovery        *recovery.Supervisor
}

// NewManager constructs a Manager. It does not load, initialize, or start
// any module until LoadModules / InitializeModules / StartModules (or the
// Start/Stop pair used by hostadapter.Adapter) are called.
func NewManager(opts ...ManagerOption) *Manager {
	o := defaultManagerOptions()
	for _, opt := range opts {
		opt(&o)
	}

	mgr := &Manager{
		opts:      o,
		logger:    o.logger,
		registry:  make(map[string]*Module),
		manifests: make(map[string]moduleManifest),
		moduleDirs: make(map[string]string),
		observers: newObserverBus(),
		cache:     expirable.NewLRU[string, cacheEntry](512, nil, cacheTTL),
		health:    health.NewTracker(o.logger, false),
		config:    configstore.NewStore(o.logger, o.configPath),
		leakTracker: leak.NewTracker(o.logger),
	}

	if o.memoryInspectorEnabled {
		mgr.memoryInspector = memory.NewInspector(o.logger, mgr, o.memoryInspectorOpts)
	}
	if o.recoveryEnabled {
		mgr.recovery = recovery.NewSupervisor(o.logger, mgr, o.recoveryOpts)
	}

	return mgr
}

// Logger exposes the Manager's structured logger to collaborators that
// need to be constructed after it (e.g. an UpdateChecker the caller wires
// in separately).
func (mgr *Manager) Logger() Logger { return mgr.logger }

// ConfigStore exposes the Manager's per-module configuration store.
func (mgr *Manager) ConfigStore() *configstore.Store { return mgr.config }

// HealthTracker exposes the Manager's operation timing tracker.
func (mgr *Manager) HealthTracker() *health.Tracker { return mgr.health }

// LeakTracker exposes the Manager's reference-lifetime auditor.
func (mgr *Manager) LeakTracker() *leak.Tracker { return mgr.leakTracker }

// EnabledModules implements memory.ModuleEnumerator: every registered,
// non-disabled module, with an approximate reference count computed by
// counting peers that declare it as a dependency.
func (mgr *Manager) EnabledModules() []memory.ModuleInfo {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	refCounts := make(map[string]int)
	for _, m := range mgr.registry {
		for _, dep := range m.Dependencies() {
			refCounts[dep]++
		}
	}

	out := make([]memory.ModuleInfo, 0, len(mgr.registry))
	for name, m := range mgr.registry {
		if m.Disabled() {
			continue
		}
		out = append(out, memory.ModuleInfo{Name: name, ReferenceCount: refCounts[name]})
	}
	return out
}

// registerModule adds a module to the registry, refusing duplicate names.
// Installs Manager-owned listeners for the module's stateChange and error
// signals, and sets the weak back-reference.
func (mgr *Manager) registerModule(m *Module) error {
	mgr.mu.Lock()
	if _, exists := mgr.registry[m.Name()]; exists {
		mgr.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateModuleName, m.Name())
	}
	mgr.registry[m.Name()] = m
	mgr.sortedOrder = nil
	mgr.mu.Unlock()

	m.setLogger(mgr.logger)
	m.setManager(mgr)

	m.OnStateChange(func(newState, previous ModuleState) {
		mgr.logger.Debug("module state changed", "module", m.Name(), "from", previous.String(), "to", newState.String())
	})
	m.OnError(func(err error, operation string) {
		mgr.emitModuleError(context.Background(), m.Name(), operation, err)
	})

	return nil
}

// LoadModules enumerates directories under opts.modulesPath, reading each
// one's module.json manifest and constructing its Module through the
// registered ModuleFactory. Per-directory failures are counted, not fatal;
// the overall pass logs a loaded/disabled/failed tally and returns it.
func (mgr *Manager) LoadModules(ctx context.Context) (LoadReport, error) {
	report := LoadReport{Errors: make(map[string]error)}

	entries, err := os.ReadDir(mgr.opts.modulesPath)
	if err != nil {
		if os.IsNotExist(err) {
			mgr.logger.Debug("modules path does not exist, nothing to load", "path", mgr.opts.modulesPath)
			return report, nil
		}
		loadErr := fmt.Errorf("%w: %s: %v", ErrModuleLoadFailed, mgr.opts.modulesPath, err)
		mgr.emitError(ctx, "", "", loadErr)
		return report, loadErr
	}

	if err := mgr.config.LoadAllConfigs(); err != nil {
		mgr.logger.Warn("failed to preload module configs", "error", err)
	}

	var wg sync.WaitGroup
	var reportMu sync.Mutex
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dirName := entry.Name()
		dir := filepath.Join(mgr.opts.modulesPath, dirName)
		wg.Add(1)
		go func() {
			defer wg.Done()
			mgr.loadOneModule(ctx, dirName, dir, &report, &reportMu)
		}()
	}
	wg.Wait()

	mgr.logger.Info("module load complete", "loaded", report.Loaded, "disabled", report.Disabled, "failed", report.Failed)
	mgr.validateDependencies()
	return report, nil
}

// loadOneModule loads a single module directory. reportMu guards the
// shared report's counters and Errors map, since LoadModules fans this out
// across directories concurrently; a caller driving a single directory
// (LoadModuleOnDemand) passes a private mutex used exactly once.
func (mgr *Manager) loadOneModule(ctx context.Context, dirName, dir string, report *LoadReport, reportMu *sync.Mutex) {
	mgr.dispatchBeforeModuleLoad(ctx, dirName)

	fail := func(err error) {
		reportMu.Lock()
		report.Failed++
		report.Errors[dirName] = err
		reportMu.Unlock()
		mgr.dispatchAfterModuleLoad(ctx, dirName, err)
	}

	manifestPath := filepath.Join(dir, "module.json")
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		fail(fmt.Errorf("%w: %s: %v", ErrModuleLoadFailed, dirName, err))
		return
	}

	var man moduleManifest
	if err := json.Unmarshal(raw, &man); err != nil {
		fail(fmt.Errorf("%w: %s: malformed module.json: %v", ErrModuleLoadFailed, dirName, err))
		return
	}
	if err := man.validate(dir); err != nil {
		fail(fmt.Errorf("%w: %v", ErrModuleLoadFailed, err))
		return
	}

	factory, ok := lookupFactory(man.Factory)
	if !ok {
		fail(fmt.Errorf("%w: %s: factory %q not registered", ErrNotAModuleSubclass, dirName, man.Factory))
		return
	}

	mod, err := factory()
	if err != nil {
		fail(fmt.Errorf("%w: %s: %v", ErrModuleLoadFailed, dirName, err))
		return
	}

	cfg, _ := mgr.config.GetConfig(mod.Name())
	configDisabled, _ := cfg["disabled"].(bool)

	if man.Disabled || mod.Disabled() || configDisabled {
		reportMu.Lock()
		report.Disabled++
		reportMu.Unlock()
		mgr.mu.Lock()
		mgr.manifests[mod.Name()] = man
		mgr.moduleDirs[mod.Name()] = dir
		mgr.mu.Unlock()
		mgr.logger.Debug("module disabled, skipping registration", "module", mod.Name())
		mgr.dispatchAfterModuleLoad(ctx, dirName, nil)
		return
	}

	if err := mgr.registerModule(mod); err != nil {
		fail(err)
		return
	}

	mgr.mu.Lock()
	mgr.manifests[mod.Name()] = man
	mgr.moduleDirs[mod.Name()] = dir
	mgr.mu.Unlock()

	reportMu.Lock()
	report.Loaded++
	reportMu.Unlock()
	mgr.dispatchAfterModuleLoad(ctx, dirName, nil)
}

// validateDependencies logs (never fails) on missing dependencies and on
// dependencies whose apiVersion falls below the declared
// dependencyVersions constraint.
func (mgr *Manager) validateDependencies() {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	for name, m := range mgr.registry {
		for _, dep := range m.Dependencies() {
			peer, exists := mgr.registry[dep]
			if !exists {
				mgr.logger.Warn("module depends on missing module", "module", name, "dependency", dep)
				continue
			}
			if want, ok := m.DependencyVersions()[dep]; ok && !versionAtLeast(peer.GetAPIVersion(), want) {
				mgr.logger.Warn("module dependency apiVersion too low",
					"module", name, "dependency", dep, "have", peer.GetAPIVersion(), "want", want)
			}
		}
	}
}

// sortModulesByDependencies performs a depth-first topological sort,
// seeding the DFS in descending priority order so that higher-priority
// modules are visited first when ties permit, and detecting cycles via a
// "visiting" set.
func (mgr *Manager) sortModulesByDependencies() ([]string, error) {
	mgr.mu.RLock()
	names := make([]string, 0, len(mgr.registry))
	for name := range mgr.registry {
		names = append(names, name)
	}
	reg := mgr.registry
	mgr.mu.RUnlock()

	sort.Slice(names, func(i, j int) bool {
		return reg[names[i]].Priority() > reg[names[j]].Priority()
	})

	var order []string
	visited := make(map[string]bool)
	visiting := make(map[string]bool)
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		if visited[name] {
			return nil
		}
		if visiting[name] {
			return fmt.Errorf("%w: %v -> %s", ErrCircularDependency, path, name)
		}
		visiting[name] = true
		path = append(path, name)

		for _, dep := range reg[name].Dependencies() {
			if _, exists := reg[dep]; !exists {
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}

		path = path[:len(path)-1]
		visiting[name] = false
		visited[name] = true
		order = append(order, name)
		return nil
	}

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}

	mgr.mu.Lock()
	mgr.sortedOrder = order
	mgr.mu.Unlock()

	return order, nil
}

// InitializeModules drives every registered module through Initialize, in
// dependency order, sequentially. Per-module failures are caught, emitted
// as moduleError events, and do not abort the pass. On success, the
// MemoryInspector is started and, if autoStart, StartModules is invoked.
func (mgr *Manager) InitializeModules(ctx context.Context) error {
	order, err := mgr.sortModulesByDependencies()
	if err != nil {
		mgr.emitError(ctx, "", "", err)
		return err
	}

	for _, name := range order {
		mod := mgr.mustModule(name)
		if mod.GetState() == StateInitialized {
			continue
		}

		mgr.dispatchBeforeModuleInitialize(ctx, name)
		mgr.health.TrackStart(name, health.OpInitialize)
		initErr := mod.Initialize(ctx)
		mgr.health.TrackEnd(name, health.OpInitialize, mod.GetState() == StateInitialized, mod.GetState().String())
		mgr.dispatchAfterModuleInitialize(ctx, name, initErr)

		if initErr != nil {
			mgr.emitModuleError(ctx, name, "initialization", initErr)
		}
	}

	mgr.mu.Lock()
	mgr.initialized = true
	mgr.mu.Unlock()

	if mgr.memoryInspector != nil {
		if err := mgr.memoryInspector.Start(ctx); err != nil {
			mgr.logger.Warn("failed to start memory inspector", "error", err)
		}
	}

	if mgr.opts.autoStart {
		return mgr.StartModules(ctx)
	}
	return nil
}

// StartModules drives every registered module through Start, in the same
// sorted order as initialization. Requires InitializeModules to have run.
// On success, emits a ready event carrying a status snapshot of every
// module.
func (mgr *Manager) StartModules(ctx context.Context) error {
	mgr.mu.RLock()
	initialized := mgr.initialized
	order := append([]string{}, mgr.sortedOrder...)
	mgr.mu.RUnlock()

	if !initialized {
		return ErrNotInitialized
	}

	for _, name := range order {
		mod := mgr.mustModule(name)
		state := mod.GetState()
		if state != StateInitialized && state != StateStopped {
			continue
		}

		mgr.dispatchBeforeModuleStart(ctx, name)
		mgr.health.TrackStart(name, health.OpStart)
		startErr := mod.Start(ctx)
		mgr.health.TrackEnd(name, health.OpStart, mod.GetState() == StateRunning, mod.GetState().String())
		mgr.dispatchAfterModuleStart(ctx, name, startErr)

		if startErr != nil {
			mgr.emitModuleError(ctx, name, "start", startErr)
		}
	}

	mgr.emitReady(ctx, mgr.statusSnapshot())
	return nil
}

// StopModules stops the MemoryInspector, then stops every RUNNING module
// in reverse sorted order, best-effort: a per-module failure is emitted as
// a moduleError and the pass continues. Every module that reaches
// StateStopped is handed to the LeakTracker so a later CheckForLeaks can
// tell whether it was actually collected.
func (mgr *Manager) StopModules(ctx context.Context) error {
	if mgr.memoryInspector != nil {
		mgr.memoryInspector.Stop()
	}
	if mgr.recovery != nil {
		mgr.recovery.Shutdown()
	}

	mgr.mu.RLock()
	order := append([]string{}, mgr.sortedOrder...)
	mgr.mu.RUnlock()

	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		mod := mgr.mustModule(name)
		if mod.GetState() != StateRunning {
			continue
		}

		mgr.dispatchBeforeModuleStop(ctx, name)
		mgr.health.TrackStart(name, health.OpStop)
		stopErr := mod.Stop(ctx)
		mgr.health.TrackEnd(name, health.OpStop, mod.GetState() == StateStopped, mod.GetState().String())
		mgr.dispatchAfterModuleStop(ctx, name, stopErr)

		if stopErr != nil {
			mgr.emitModuleError(ctx, name, "stop", stopErr)
		}
		if mod.GetState() == StateStopped {
			leak.TrackModule(mgr.leakTracker, name, mod)
		}
	}

	mgr.mu.Lock()
	mgr.initialized = false
	mgr.mu.Unlock()
	return nil
}

// Start implements hostadapter.Runner: a full load-then-initialize pass
// (StartModules runs automatically when autoStart is set, matching
// spec.md §4.2's initializeModules behavior).
func (mgr *Manager) Start(ctx context.Context) error {
	if _, err := mgr.LoadModules(ctx); err != nil {
		return err
	}
	return mgr.InitializeModules(ctx)
}

// Stop implements hostadapter.Runner.
func (mgr *Manager) Stop(ctx context.Context) error {
	return mgr.StopModules(ctx)
}

// LoadModuleOnDemand runs a single load-plus-initialize-plus-start
// pipeline for one directory, returning the resulting module.
func (mgr *Manager) LoadModuleOnDemand(ctx context.Context, dirName string) (*Module, error) {
	dir := filepath.Join(mgr.opts.modulesPath, dirName)
	report := LoadReport{Errors: make(map[string]error)}
	var reportMu sync.Mutex
	mgr.loadOneModule(ctx, dirName, dir, &report, &reportMu)

	if report.Failed > 0 {
		return nil, report.Errors[dirName]
	}
	if report.Disabled > 0 {
		return nil, nil
	}

	// The module was just registered by loadOneModule under its own name,
	// not dirName; find it by matching the directory back to a name.
	var mod *Module
	mgr.mu.RLock()
	for name, d := range mgr.moduleDirs {
		if d == dir {
			mod = mgr.registry[name]
		}
	}
	mgr.mu.RUnlock()
	if mod == nil {
		return nil, ErrModuleNotFound
	}

	if _, err := mgr.sortModulesByDependencies(); err != nil {
		return nil, err
	}

	mgr.dispatchBeforeModuleInitialize(ctx, mod.Name())
	if err := mod.Initialize(ctx); err != nil {
		mgr.dispatchAfterModuleInitialize(ctx, mod.Name(), err)
		mgr.emitModuleError(ctx, mod.Name(), "initialization", err)
		return mod, err
	}
	mgr.dispatchAfterModuleInitialize(ctx, mod.Name(), nil)

	mgr.dispatchBeforeModuleStart(ctx, mod.Name())
	if err := mod.Start(ctx); err != nil {
		mgr.dispatchAfterModuleStart(ctx, mod.Name(), err)
		mgr.emitModuleError(ctx, mod.Name(), "start", err)
		return mod, err
	}
	mgr.dispatchAfterModuleStart(ctx, mod.Name(), nil)

	return mod, nil
}

// RestartModule stops and starts a single module by name.
func (mgr *Manager) RestartModule(ctx context.Context, name string) error {
	mod, err := mgr.GetModuleInstance(name)
	if err != nil {
		return err
	}
	return mod.Restart(ctx)
}

// RecoverModule implements recovery.Recoverer: requires the module to be
// in ERROR, then runs reset, initialize, start in sequence, clearing the
// recovery attempt counter on success.
func (mgr *Manager) RecoverModule(ctx context.Context, name string) error {
	mod, err := mgr.GetModuleInstance(name)
	if err != nil {
		return err
	}
	if mod.GetState() != StateError {
		return fmt.Errorf("%w: module %s", ErrRecoveryNotInError, name)
	}

	if err := mod.Reset(); err != nil {
		return err
	}
	if err := mod.Initialize(ctx); err != nil {
		return err
	}
	if err := mod.Start(ctx); err != nil {
		return err
	}

	if mgr.recovery != nil {
		mgr.recovery.Reset(name)
	}
	return nil
}

// handleModuleError is the Manager's hook into the recovery supervisor,
// invoked from emitModuleError. Per spec.md §4.2, a moduleError whose
// operation is "initialization" never triggers recovery.
func (mgr *Manager) handleModuleError(ctx context.Context, moduleName, operation string, cause error) {
	if mgr.recovery == nil || operation == "initialization" {
		return
	}
	mgr.recovery.HandleModuleError(ctx, moduleName, operation, cause)
}

// GetModuleInstance looks up a registered module by name.
func (mgr *Manager) GetModuleInstance(name string) (*Module, error) {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	mod, ok := mgr.registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	return mod, nil
}

// BroadcastEvent walks every RUNNING module except sourceName and, if it
// implements EventHandler, invokes OnEvent. Per-receiver panics/errors are
// logged and do not stop delivery to the rest.
func (mgr *Manager) BroadcastEvent(ctx context.Context, name string, payload any, sourceName string) error {
	mgr.mu.RLock()
	targets := make([]*Module, 0, len(mgr.registry))
	for modName, mod := range mgr.registry {
		if modName == sourceName {
			continue
		}
		if mod.GetState() != StateRunning {
			continue
		}
		targets = append(targets, mod)
	}
	mgr.mu.RUnlock()

	for _, mod := range targets {
		handler, ok := mod.hooks.(EventHandler)
		if !ok {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					mgr.logger.Warn("module event handler panicked", "module", mod.Name(), "event", name, "source", sourceName, "panic", r)
				}
			}()
			if err := handler.OnEvent(ctx, name, payload, sourceName); err != nil {
				mgr.logger.Warn("module event handler failed", "module", mod.Name(), "event", name, "source", sourceName, "error", err)
			}
		}()
	}
	return nil
}

// getCachedData returns the cached value for key if present and no older
// than maxAge; entries are not evicted early on a stale read, only ignored
// (spec.md §4.2: "entries expire lazily on read").
func (mgr *Manager) getCachedData(key string, maxAge time.Duration) (any, bool) {
	entry, ok := mgr.cache.Get(key)
	if !ok {
		return nil, false
	}
	if time.Since(entry.timestamp) > maxAge {
		return nil, false
	}
	return entry.data, true
}

// setCachedData stores data under key with the current time as its
// freshness stamp.
func (mgr *Manager) setCachedData(key string, data any) {
	mgr.cache.Add(key, cacheEntry{timestamp: time.Now(), data: data})
}

// RegisterPlugin appends p to the plugin sequence and calls its
// Initialize hook synchronously.
func (mgr *Manager) RegisterPlugin(p Plugin) error {
	if err := p.Initialize(mgr); err != nil {
		return fmt.Errorf("%w: %v", ErrPluginInitFailed, err)
	}
	mgr.mu.Lock()
	mgr.plugins = append(mgr.plugins, pluginEntry{plugin: p})
	mgr.mu.Unlock()
	return nil
}

// RegisterMetricsExporter appends e to the exporter sequence.
func (mgr *Manager) RegisterMetricsExporter(e MetricsExporter) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	mgr.exporters = append(mgr.exporters, e)
}

// statusSnapshot builds the per-module status list used by both the ready
// event and ExportMetrics.
func (mgr *Manager) statusSnapshot() []ModuleStatusSnapshot {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	snapshots := make([]ModuleStatusSnapshot, 0, len(mgr.registry))
	for name, mod := range mgr.registry {
		snapshots = append(snapshots, ModuleStatusSnapshot{
			Name:         name,
			State:        mod.GetState().String(),
			Dependencies: mod.Dependencies(),
			Version:      mod.Version(),
			APIVersion:   mod.GetAPIVersion(),
			HasError:     mod.HasError(),
			Metrics:      mgr.health.GetModuleMetrics(name),
		})
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Name < snapshots[j].Name })
	return snapshots
}

// ExportMetrics assembles a MetricsSnapshot and fans it out to every
// registered exporter concurrently, returning the snapshot regardless of
// exporter failures (which are logged individually).
func (mgr *Manager) ExportMetrics(ctx context.Context) MetricsSnapshot {
	snapshot := MetricsSnapshot{
		Modules:   mgr.statusSnapshot(),
		Health:    mgr.health.GetSystemHealth(),
		Timestamp: time.Now(),
	}
	if mgr.memoryInspector != nil {
		snapshot.Memory = mgr.memoryInspector.GenerateMemoryReport()
	}

	mgr.mu.RLock()
	exporters := append([]MetricsExporter{}, mgr.exporters...)
	mgr.mu.RUnlock()

	var wg sync.WaitGroup
	for _, exporter := range exporters {
		wg.Add(1)
		go func(e MetricsExporter) {
			defer wg.Done()
			if err := e.Export(ctx, snapshot); err != nil {
				mgr.logger.Warn("metrics exporter failed", "error", err)
			}
		}(exporter)
	}
	wg.Wait()

	return snapshot
}

// CheckMemoryForLeaks runs the MemoryInspector's growth analysis and, if
// any findings are present, emits a memoryLeaks event.
func (mgr *Manager) CheckMemoryForLeaks(ctx context.Context) []LeakFinding {
	if mgr.memoryInspector == nil {
		return nil
	}
	findings := mgr.memoryInspector.AnalyzeMemoryUsage()
	if len(findings) > 0 {
		mgr.emitMemoryLeaks(ctx, findings)
	}
	return findings
}

// CheckForModuleUpdates runs an update.Checker-compatible lookup for every
// loaded module directory. The caller supplies the Checker since it owns
// its own HTTP client/API base configuration.
func (mgr *Manager) CheckForModuleUpdates(ctx context.Context, check func(ctx context.Context, name, dir string) error) {
	mgr.mu.RLock()
	dirs := make(map[string]string, len(mgr.moduleDirs))
	for name, dir := range mgr.moduleDirs {
		dirs[name] = dir
	}
	mgr.mu.RUnlock()

	for name, dir := range dirs {
		if err := check(ctx, name, dir); err != nil {
			mgr.logger.Warn("update check failed", "module", name, "error", err)
		}
	}
}

func (mgr *Manager) mustModule(name string) *Module {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	return mgr.registry[name]
}
