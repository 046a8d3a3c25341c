package kernel

import (
	"context"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// Observer receives CloudEvents emitted by the Manager. Grounded on the
// teacher's Subject/Observer pair (observer.go), narrowed to the four
// events spec.md §6 lists as observable on the Manager.
type Observer interface {
	OnEvent(ctx context.Context, event cloudevents.Event) error
	ObserverID() string
}

// Event type constants, following the CloudEvents reverse-domain
// convention the teacher uses for its own module lifecycle events.
const (
	EventTypeReady        = "dev.kernel.manager.ready"
	EventTypeError        = "dev.kernel.manager.error"
	EventTypeModuleError  = "dev.kernel.module.error"
	EventTypeMemoryLeaks  = "dev.kernel.memory.leaks"
)

const eventSource = "dev.kernel.manager"

// observerRegistration is an Observer plus the event types it filters on;
// an empty EventTypes means "receive everything".
type observerRegistration struct {
	observer   Observer
	eventTypes map[string]struct{}
}

type observerBus struct {
	mu        sync.RWMutex
	observers []observerRegistration
}

func newObserverBus() *observerBus {
	return &observerBus{}
}

func (b *observerBus) register(o Observer, eventTypes ...string) {
	set := make(map[string]struct{}, len(eventTypes))
	for _, t := range eventTypes {
		set[t] = struct{}{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, observerRegistration{observer: o, eventTypes: set})
}

func (b *observerBus) unregister(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, reg := range b.observers {
		if reg.observer.ObserverID() == o.ObserverID() {
			b.observers = append(b.observers[:i], b.observers[i+1:]...)
			return
		}
	}
}

func (b *observerBus) notify(ctx context.Context, event cloudevents.Event) {
	b.mu.RLock()
	regs := append([]observerRegistration{}, b.observers...)
	b.mu.RUnlock()

	for _, reg := range regs {
		if len(reg.eventTypes) > 0 {
			if _, ok := reg.eventTypes[event.Type()]; !ok {
				continue
			}
		}
		if err := reg.observer.OnEvent(ctx, event); err != nil {
			// Observer errors are logged by the caller via the Manager's
			// logger; the bus itself stays silent to avoid a dependency
			// cycle on Logger at construction time.
			continue
		}
	}
}

func newEvent(eventType string, data map[string]any) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetSource(eventSource)
	event.SetType(eventType)
	event.SetTime(time.Now())
	_ = event.SetData(cloudevents.ApplicationJSON, data)
	return event
}

// RegisterObserver subscribes an Observer to Manager-emitted CloudEvents,
// optionally filtered to specific event types.
func (mgr *Manager) RegisterObserver(o Observer, eventTypes ...string) {
	mgr.observers.register(o, eventTypes...)
}

// UnregisterObserver removes a previously registered Observer. Idempotent.
func (mgr *Manager) UnregisterObserver(o Observer) {
	mgr.observers.unregister(o)
}

func (mgr *Manager) emitReady(ctx context.Context, status []ModuleStatusSnapshot) {
	data := map[string]any{"modules": status}
	mgr.observers.notify(ctx, newEvent(EventTypeReady, data))
}

func (mgr *Manager) emitError(ctx context.Context, moduleName, operation string, cause error) {
	data := map[string]any{"error": cause.Error(), "module": moduleName, "operation": operation}
	mgr.observers.notify(ctx, newEvent(EventTypeError, data))
}

func (mgr *Manager) emitModuleError(ctx context.Context, moduleName, operation string, cause error) {
	data := map[string]any{"error": cause.Error(), "module": moduleName, "operation": operation}
	mgr.observers.notify(ctx, newEvent(EventTypeModuleError, data))
	mgr.dispatchOnError(ctx, moduleName, operation, cause)
	mgr.handleModuleError(ctx, moduleName, operation, cause)
}

func (mgr *Manager) emitMemoryLeaks(ctx context.Context, findings []LeakFinding) {
	data := map[string]any{"findings": findings}
	mgr.observers.notify(ctx, newEvent(EventTypeMemoryLeaks, data))
}
