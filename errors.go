package kernel

import "errors"

// Error taxonomy. Each sentinel is wrapped with %w and, where the caller
// has it, tagged with moduleName/operation context at the point of return.
var (
	// Configuration errors.
	ErrConfigurationInvalid = errors.New("configuration error: invalid or unreadable config document")

	// Load errors.
	ErrModuleFileMissing    = errors.New("load error: module manifest missing")
	ErrModuleImportFailed   = errors.New("load error: module factory invocation failed")
	ErrModuleLoadFailed     = errors.New("load error: module directory failed to load")
	ErrNotAModule           = errors.New("load error: default export is not a Module")
	ErrNotAModuleSubclass   = errors.New("load error: registered factory is not a Module subclass")
	ErrModuleAlreadyLoading = errors.New("load error: module already being loaded")

	// Dependency errors (warnings, not fatal).
	ErrDependencyMissing    = errors.New("dependency error: missing dependency")
	ErrDependencyAPIVersion = errors.New("dependency error: dependency apiVersion too low")

	// Cycle errors (fatal).
	ErrCircularDependency = errors.New("cycle error: circular dependency detected")

	// Lifecycle errors.
	ErrIllegalTransition  = errors.New("lifecycle error: illegal state transition")
	ErrLifecycleOperation = errors.New("lifecycle error: operation failed")

	// Plugin errors.
	ErrPluginHookFailed  = errors.New("plugin error: hook invocation failed")
	ErrPluginInitFailed  = errors.New("plugin error: initialize failed")

	// Recovery errors.
	ErrRecoveryExhausted = errors.New("recovery exhausted: max attempts reached")
	ErrRecoveryNotInError = errors.New("recovery error: module is not in ERROR state")

	// Shutdown errors.
	ErrShutdownTimeout = errors.New("shutdown timeout: forced exit")

	// Registry errors (fatal, propagate to the caller).
	ErrDuplicateModuleName = errors.New("registry error: duplicate module name")
	ErrModuleNotFound      = errors.New("registry error: module not found")
	ErrManagerNotReady     = errors.New("registry error: manager not initialized")
	ErrNotInitialized      = ErrManagerNotReady

	// Manager back-reference errors.
	ErrManagerUnavailable = errors.New("module error: manager back-reference unavailable")
)
