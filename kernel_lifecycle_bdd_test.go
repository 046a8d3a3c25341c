package kernel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	ce "github.com/cloudevents/sdk-go/v2"
	"github.com/cucumber/godog"
	"github.com/forgekit/kernel/recovery"
)

// kernelBDDContext holds the state shared across the steps of one
// kernel_lifecycle.feature scenario.
type kernelBDDContext struct {
	t   *testing.T
	mgr *Manager
	dir string

	deps     map[string][]string
	disabled map[string]bool

	orderMu    sync.Mutex
	startOrder []string
	stopOrder  []string

	loadReport LoadReport
	initErr    error

	eventsMu     sync.Mutex
	moduleErrors []moduleErrorEvent

	recoveryEnabled bool
	recoveryOpts    struct {
		maxAttempts  int
		initialDelay time.Duration
	}
	flaky  bool
	loaded bool
}

type moduleErrorEvent struct {
	module    string
	operation string
}

func (c *kernelBDDContext) reset() {
	t := c.t
	*c = kernelBDDContext{t: t, deps: map[string][]string{}, disabled: map[string]bool{}}
}

func (c *kernelBDDContext) ObserverID() string { return "bdd-kernel-lifecycle" }

func (c *kernelBDDContext) OnEvent(ctx context.Context, event ce.Event) error {
	if event.Type() != EventTypeModuleError {
		return nil
	}
	var payload struct {
		Module    string `json:"module"`
		Operation string `json:"operation"`
	}
	if err := json.Unmarshal(event.Data(), &payload); err != nil {
		return err
	}
	c.eventsMu.Lock()
	c.moduleErrors = append(c.moduleErrors, moduleErrorEvent{module: payload.Module, operation: payload.Operation})
	c.eventsMu.Unlock()
	return nil
}

func (c *kernelBDDContext) moduleDependsOn(name, deps string) error {
	parts := strings.Split(deps, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(strings.Trim(parts[i], `"`))
	}
	c.deps[name] = parts
	return nil
}

func (c *kernelBDDContext) moduleHasNoDependencies(name string) error {
	if _, ok := c.deps[name]; !ok {
		c.deps[name] = nil
	}
	return nil
}

func (c *kernelBDDContext) moduleIsDisabled(name string) error {
	if _, ok := c.deps[name]; !ok {
		c.deps[name] = nil
	}
	c.disabled[name] = true
	return nil
}

func (c *kernelBDDContext) recoveryIsEnabled(maxAttempts int, delay string) error {
	d, err := time.ParseDuration(delay)
	if err != nil {
		return err
	}
	c.recoveryEnabled = true
	c.recoveryOpts.maxAttempts = maxAttempts
	c.recoveryOpts.initialDelay = d
	return nil
}

func (c *kernelBDDContext) moduleFlakyOnFirstStart(name string) error {
	if _, ok := c.deps[name]; !ok {
		c.deps[name] = nil
	}
	c.flaky = true
	return nil
}

// mountModules builds the Manager (once per scenario) and registers one
// factory per module named by an earlier Given step.
func (c *kernelBDDContext) mountModules(t *testing.T) {
	if c.mgr != nil {
		return
	}
	opts := []ManagerOption{}
	if c.recoveryEnabled {
		opts = append(opts, WithRecovery(true, recovery.Options{
			MaxAttempts:  c.recoveryOpts.maxAttempts,
			InitialDelay: c.recoveryOpts.initialDelay,
		}))
	}
	mgr, dir := testManager(t, opts...)
	c.mgr = mgr
	c.dir = dir
	mgr.RegisterObserver(c, EventTypeModuleError)

	for name, deps := range c.deps {
		name, deps := name, deps
		factoryName := fmt.Sprintf("bdd-kernel-lifecycle-%s-%p", name, c)
		writeTestModule(t, dir+"/modules", name,
			moduleManifest{Name: name, Factory: factoryName, Disabled: c.disabled[name]},
			c.factoryFor(name, deps))
	}
}

// factoryFor builds a module factory whose onStart/onInitialize hooks
// reproduce the scenario's failure shape (a missing-dependency error for a
// disabled peer, or a single flaky start attempt) and that always records
// start/stop order.
func (c *kernelBDDContext) factoryFor(name string, deps []string) ModuleFactory {
	return func() (*Module, error) {
		hooks := &fakeHooks{}

		if depOnDisabled(c, deps) {
			hooks.onInitialize = func(ctx context.Context) error {
				return fmt.Errorf("B unavailable")
			}
		}

		if c.flaky && name == "A" {
			var attempted bool
			var mu sync.Mutex
			hooks.onStart = func(ctx context.Context) error {
				mu.Lock()
				defer mu.Unlock()
				if !attempted {
					attempted = true
					return fmt.Errorf("transient start failure")
				}
				return nil
			}
		}

		wrapHooksForOrdering(c, name, hooks)
		return NewModule(Metadata{Name: name, Version: "1.0.0", Dependencies: deps}, hooks), nil
	}
}

func depOnDisabled(c *kernelBDDContext, deps []string) bool {
	for _, d := range deps {
		if c.disabled[d] {
			return true
		}
	}
	return false
}

// wrapHooksForOrdering layers start/stop order recording around whatever
// onStart/onStop the caller already configured.
func wrapHooksForOrdering(c *kernelBDDContext, name string, hooks *fakeHooks) {
	innerStart := hooks.onStart
	hooks.onStart = func(ctx context.Context) error {
		var err error
		if innerStart != nil {
			err = innerStart(ctx)
		}
		if err == nil {
			c.orderMu.Lock()
			c.startOrder = append(c.startOrder, name)
			c.orderMu.Unlock()
		}
		return err
	}

	innerStop := hooks.onStop
	hooks.onStop = func(ctx context.Context) error {
		var err error
		if innerStop != nil {
			err = innerStop(ctx)
		}
		c.orderMu.Lock()
		c.stopOrder = append(c.stopOrder, name)
		c.orderMu.Unlock()
		return err
	}
}

func (c *kernelBDDContext) ensureLoaded() error {
	c.mountModules(c.t)
	if c.loaded {
		return nil
	}
	report, err := c.mgr.LoadModules(context.Background())
	c.loadReport = report
	c.loaded = true
	return err
}

func (c *kernelBDDContext) iLoadTheModules() error {
	return c.ensureLoaded()
}

func (c *kernelBDDContext) iInitializeTheModules() error {
	if err := c.ensureLoaded(); err != nil {
		return err
	}
	c.initErr = c.mgr.InitializeModules(context.Background())
	return nil
}

func (c *kernelBDDContext) iStartTheModules() error {
	return c.mgr.StartModules(context.Background())
}

func (c *kernelBDDContext) iStopTheModules() error {
	return c.mgr.StopModules(context.Background())
}

func (c *kernelBDDContext) theStartOrderIs(want string) error {
	got := strings.Join(c.startOrder, ", ")
	if got != want {
		return fmt.Errorf("start order = %q, want %q", got, want)
	}
	return nil
}

func (c *kernelBDDContext) theStopOrderIs(want string) error {
	got := strings.Join(c.stopOrder, ", ")
	if got != want {
		return fmt.Errorf("stop order = %q, want %q", got, want)
	}
	return nil
}

func (c *kernelBDDContext) initializationFailsMentioning(fragment string) error {
	if c.initErr == nil {
		return fmt.Errorf("expected initialization to fail, it did not")
	}
	if !strings.Contains(strings.ToLower(c.initErr.Error()), strings.ToLower(fragment)) {
		return fmt.Errorf("error %q does not mention %q", c.initErr, fragment)
	}
	return nil
}

func (c *kernelBDDContext) theLoadReportShows(loaded, disabled int) error {
	if c.loadReport.Loaded != loaded || c.loadReport.Disabled != disabled {
		return fmt.Errorf("load report = %+v, want loaded=%d disabled=%d", c.loadReport, loaded, disabled)
	}
	return nil
}

func (c *kernelBDDContext) moduleWasAttemptedDespiteMissingDependency(name string) error {
	mod, err := c.mgr.GetModuleInstance(name)
	if err != nil {
		return err
	}
	if mod.GetState() != StateError {
		return fmt.Errorf("module %s state = %s, want ERROR", name, mod.GetState())
	}
	return nil
}

func (c *kernelBDDContext) aModuleErrorEventWasEmittedFor(name string) error {
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()
	for _, e := range c.moduleErrors {
		if e.module == name {
			return nil
		}
	}
	return fmt.Errorf("no moduleError event recorded for %s (got %v)", name, c.moduleErrors)
}

func (c *kernelBDDContext) aModuleErrorEventForOperationWasEmitted(name, op string) error {
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()
	for _, e := range c.moduleErrors {
		if e.module == name && e.operation == op {
			return nil
		}
	}
	return fmt.Errorf("no moduleError(%s) event recorded for %s (got %v)", op, name, c.moduleErrors)
}

func (c *kernelBDDContext) iWaitForRecoveryToSettle() error {
	deadline := time.Now().Add(1 * time.Second)
	for time.Now().Before(deadline) {
		mod, err := c.mgr.GetModuleInstance("A")
		if err == nil && mod.GetState() == StateRunning {
			return nil
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

func (c *kernelBDDContext) moduleIsRunning(name string) error {
	mod, err := c.mgr.GetModuleInstance(name)
	if err != nil {
		return err
	}
	if mod.GetState() != StateRunning {
		return fmt.Errorf("module %s state = %s, want RUNNING", name, mod.GetState())
	}
	return nil
}

func (c *kernelBDDContext) theRecoveryCounterForIsCleared(name string) error {
	// RecoverModule (invoked by the supervisor on retry) clears the
	// supervisor's counter just after the module reaches RUNNING, so allow a
	// short window for that to land.
	if c.mgr.recovery == nil {
		return fmt.Errorf("recovery supervisor is not enabled")
	}
	deadline := time.Now().Add(1 * time.Second)
	for c.mgr.recovery.Attempts(name) != 0 {
		if time.Now().After(deadline) {
			return fmt.Errorf("recovery attempts for %s = %d, want 0", name, c.mgr.recovery.Attempts(name))
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

// newKernelLifecycleScenarioInitializer binds the step definitions to t so
// the fake module factories can use t.TempDir()/require-style helpers the
// rest of this package's tests already share.
func newKernelLifecycleScenarioInitializer(t *testing.T) func(*godog.ScenarioContext) {
	testCtx := &kernelBDDContext{t: t}

	return func(ctx *godog.ScenarioContext) {
		ctx.Before(func(goCtx context.Context, sc *godog.Scenario) (context.Context, error) {
			testCtx.reset()
			return goCtx, nil
		})

		ctx.Step(`^modules "([^"]+)" depends on (.+)$`, testCtx.moduleDependsOn)
		ctx.Step(`^module "([^"]+)" has no dependencies$`, testCtx.moduleHasNoDependencies)
		ctx.Step(`^module "([^"]+)" is disabled$`, testCtx.moduleIsDisabled)
		ctx.Step(`^recovery is enabled with max attempts (\d+) and initial delay (\S+)$`, testCtx.recoveryIsEnabled)
		ctx.Step(`^module "([^"]+)" fails to start on the first attempt and succeeds thereafter$`, testCtx.moduleFlakyOnFirstStart)

		ctx.Step(`^I load the modules$`, testCtx.iLoadTheModules)
		ctx.Step(`^I initialize the modules$`, testCtx.iInitializeTheModules)
		ctx.Step(`^I start the modules$`, testCtx.iStartTheModules)
		ctx.Step(`^I stop the modules$`, testCtx.iStopTheModules)

		ctx.Step(`^the start order is "([^"]+)"$`, testCtx.theStartOrderIs)
		ctx.Step(`^the stop order is "([^"]+)"$`, testCtx.theStopOrderIs)
		ctx.Step(`^initialization fails with an error mentioning "([^"]+)"$`, testCtx.initializationFailsMentioning)
		ctx.Step(`^mentioning "([^"]+)"$`, testCtx.initializationFailsMentioning)
		ctx.Step(`^the load report shows (\d+) loaded and (\d+) disabled$`, testCtx.theLoadReportShows)
		ctx.Step(`^module "([^"]+)" was attempted to initialize despite its missing dependency$`, testCtx.moduleWasAttemptedDespiteMissingDependency)
		ctx.Step(`^a moduleError event was emitted for module "([^"]+)"$`, testCtx.aModuleErrorEventWasEmittedFor)
		ctx.Step(`^a moduleError event for module "([^"]+)" operation "([^"]+)" was emitted$`, testCtx.aModuleErrorEventForOperationWasEmitted)
		ctx.Step(`^I wait for recovery to settle$`, testCtx.iWaitForRecoveryToSettle)
		ctx.Step(`^module "([^"]+)" is RUNNING$`, testCtx.moduleIsRunning)
		ctx.Step(`^the recovery attempt counter for module "([^"]+)" is cleared$`, testCtx.theRecoveryCounterForIsCleared)
	}
}

func TestKernelLifecycleFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: newKernelLifecycleScenarioInitializer(t),
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/kernel_lifecycle.feature"},
			TestingT: t,
			Strict:   true,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
