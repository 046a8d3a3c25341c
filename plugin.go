package kernel

import "context"

// Plugin is the minimal contract every registered plugin satisfies. Plugins
// additionally implement any subset of the BeforeModuleLoadHook / ... /
// OnErrorHook interfaces below to receive the corresponding named hook;
// spec.md §4.7 models hooks as a fixed record of optional callbacks rather
// than letting a plugin monkey-patch the Module base, so each hook is its
// own small interface instead of one giant optional-methods struct.
type Plugin interface {
	// Initialize is called once, synchronously, when the plugin is
	// registered with the Manager via RegisterPlugin.
	Initialize(mgr *Manager) error
}

// BeforeModuleLoadHook fires before a module directory is imported.
type BeforeModuleLoadHook interface {
	BeforeModuleLoad(ctx context.Context, moduleName string) error
}

// AfterModuleLoadHook fires after a module instance is constructed and
// registered (or skipped as disabled).
type AfterModuleLoadHook interface {
	AfterModuleLoad(ctx context.Context, moduleName string, loadErr error) error
}

// BeforeModuleInitializeHook fires before Module.Initialize is called.
type BeforeModuleInitializeHook interface {
	BeforeModuleInitialize(ctx context.Context, moduleName string) error
}

// AfterModuleInitializeHook fires after Module.Initialize returns.
type AfterModuleInitializeHook interface {
	AfterModuleInitialize(ctx context.Context, moduleName string, initErr error) error
}

// BeforeModuleStartHook fires before Module.Start is called.
type BeforeModuleStartHook interface {
	BeforeModuleStart(ctx context.Context, moduleName string) error
}

// AfterModuleStartHook fires after Module.Start returns.
type AfterModuleStartHook interface {
	AfterModuleStart(ctx context.Context, moduleName string, startErr error) error
}

// BeforeModuleStopHook fires before Module.Stop is called.
type BeforeModuleStopHook interface {
	BeforeModuleStop(ctx context.Context, moduleName string) error
}

// AfterModuleStopHook fires after Module.Stop returns.
type AfterModuleStopHook interface {
	AfterModuleStop(ctx context.Context, moduleName string, stopErr error) error
}

// OnErrorHook fires whenever the Manager emits a moduleError event.
type OnErrorHook interface {
	OnError(ctx context.Context, moduleName, operation string, cause error) error
}

// pluginEntry wraps a registered plugin. Entries are appended to
// Manager.plugins in registration order, so hooks dispatch in that order.
type pluginEntry struct {
	plugin Plugin
}

func (mgr *Manager) dispatchBeforeModuleLoad(ctx context.Context, name string) {
	for _, p := range mgr.plugins {
		if h, ok := p.plugin.(BeforeModuleLoadHook); ok {
			if err := h.BeforeModuleLoad(ctx, name); err != nil {
				mgr.logger.Warn("plugin hook failed", "hook", "beforeModuleLoad", "module", name, "error", err)
			}
		}
	}
}

func (mgr *Manager) dispatchAfterModuleLoad(ctx context.Context, name string, loadErr error) {
	for _, p := range mgr.plugins {
		if h, ok := p.plugin.(AfterModuleLoadHook); ok {
			if err := h.AfterModuleLoad(ctx, name, loadErr); err != nil {
				mgr.logger.Warn("plugin hook failed", "hook", "afterModuleLoad", "module", name, "error", err)
			}
		}
	}
}

func (mgr *Manager) dispatchBeforeModuleInitialize(ctx context.Context, name string) {
	for _, p := range mgr.plugins {
		if h, ok := p.plugin.(BeforeModuleInitializeHook); ok {
			if err := h.BeforeModuleInitialize(ctx, name); err != nil {
				mgr.logger.Warn("plugin hook failed", "hook", "beforeModuleInitialize", "module", name, "error", err)
			}
		}
	}
}

func (mgr *Manager) dispatchAfterModuleInitialize(ctx context.Context, name string, initErr error) {
	for _, p := range mgr.plugins {
		if h, ok := p.plugin.(AfterModuleInitializeHook); ok {
			if err := h.AfterModuleInitialize(ctx, name, initErr); err != nil {
				mgr.logger.Warn("plugin hook failed", "hook", "afterModuleInitialize", "module", name, "error", err)
			}
		}
	}
}

func (mgr *Manager) dispatchBeforeModuleStart(ctx context.Context, name string) {
	for _, p := range mgr.plugins {
		if h, ok := p.plugin.(BeforeModuleStartHook); ok {
			if err := h.BeforeModuleStart(ctx, name); err != nil {
				mgr.logger.Warn("plugin hook failed", "hook", "beforeModuleStart", "module", name, "error", err)
			}
		}
	}
}

func (mgr *Manager) dispatchAfterModuleStart(ctx context.Context, name string, startErr error) {
	for _, p := range mgr.plugins {
		if h, ok := p.plugin.(AfterModuleStartHook); ok {
			if err := h.AfterModuleStart(ctx, name, startErr); err != nil {
				mgr.logger.Warn("plugin hook failed", "hook", "afterModuleStart", "module", name, "error", err)
			}
		}
	}
}

func (mgr *Manager) dispatchBeforeModuleStop(ctx context.Context, name string) {
	for _, p := range mgr.plugins {
		if h, ok := p.plugin.(BeforeModuleStopHook); ok {
			if err := h.BeforeModuleStop(ctx, name); err != nil {
				mgr.logger.Warn("plugin hook failed", "hook", "beforeModuleStop", "module", name, "error", err)
			}
		}
	}
}

func (mgr *Manager) dispatchAfterModuleStop(ctx context.Context, name string, stopErr error) {
	for _, p := range mgr.plugins {
		if h, ok := p.plugin.(AfterModuleStopHook); ok {
			if err := h.AfterModuleStop(ctx, name, stopErr); err != nil {
				mgr.logger.Warn("plugin hook failed", "hook", "afterModuleStop", "module", name, "error", err)
			}
		}
	}
}

func (mgr *Manager) dispatchOnError(ctx context.Context, name, operation string, cause error) {
	for _, p := range mgr.plugins {
		if h, ok := p.plugin.(OnErrorHook); ok {
			if err := h.OnError(ctx, name, operation, cause); err != nil {
				mgr.logger.Warn("plugin hook failed", "hook", "onError", "module", name, "error", err)
			}
		}
	}
}

// MetricsExporter receives a snapshot from Manager.ExportMetrics.
type MetricsExporter interface {
	Export(ctx context.Context, snapshot MetricsSnapshot) error
}
