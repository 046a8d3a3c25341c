package kernel

import (
	"time"

	"github.com/forgekit/kernel/memory"
	"github.com/forgekit/kernel/recovery"
)

// ManagerOption configures a Manager at construction time. Grounded on the
// teacher's ApplicationBuilder functional-option pattern (builder.go),
// narrowed to a single options struct instead of a builder type since the
// Manager has no decorator chain to assemble.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	modulesPath string
	configPath  string
	autoStart   bool

	memoryInspectorEnabled bool
	memoryInspectorOpts    memory.Options

	recoveryEnabled bool
	recoveryOpts    recovery.Options

	logger Logger
}

func defaultManagerOptions() managerOptions {
	return managerOptions{
		modulesPath:            "modules",
		configPath:             "config",
		autoStart:              true,
		memoryInspectorEnabled: true,
		memoryInspectorOpts:    memory.Options{},
		recoveryEnabled:        true,
		recoveryOpts:           recovery.Options{MaxAttempts: 3, InitialDelay: 5 * time.Second},
		logger:                 noopLogger{},
	}
}

// WithModulesPath sets the directory Manager.LoadModules scans for
// module.json manifests. Default "modules".
func WithModulesPath(path string) ManagerOption {
	return func(o *managerOptions) { o.modulesPath = path }
}

// WithConfigPath sets the directory the ConfigStore persists to. Default
// "config".
func WithConfigPath(path string) ManagerOption {
	return func(o *managerOptions) { o.configPath = path }
}

// WithAutoStart controls whether InitializeModules automatically invokes
// StartModules on success. Default true.
func WithAutoStart(enabled bool) ManagerOption {
	return func(o *managerOptions) { o.autoStart = enabled }
}

// WithLogger sets the Manager's structured logger. Default is a no-op
// logger.
func WithLogger(logger Logger) ManagerOption {
	return func(o *managerOptions) { o.logger = logger }
}

// WithMemoryInspector configures (or disables) the periodic heap sampler.
func WithMemoryInspector(enabled bool, opts memory.Options) ManagerOption {
	return func(o *managerOptions) {
		o.memoryInspectorEnabled = enabled
		o.memoryInspectorOpts = opts
	}
}

// WithRecovery configures (or disables) the automatic restart supervisor.
func WithRecovery(enabled bool, opts recovery.Options) ManagerOption {
	return func(o *managerOptions) {
		o.recoveryEnabled = enabled
		o.recoveryOpts = opts
	}
}
