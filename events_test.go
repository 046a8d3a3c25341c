package kernel

import (
	"context"
	"sync"
	"testing"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	id string

	mu     sync.Mutex
	events []cloudevents.Event
}

func (o *recordingObserver) ObserverID() string { return o.id }

func (o *recordingObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event)
	return nil
}

func (o *recordingObserver) received() []cloudevents.Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]cloudevents.Event{}, o.events...)
}

func TestRegisterObserver_ReceivesUnfilteredEvents(t *testing.T) {
	mgr := NewManager(WithAutoStart(false), WithMemoryInspector(false, memoryOptsStub()), WithRecovery(false, recoveryOptsStub()))
	obs := &recordingObserver{id: "test-observer"}
	mgr.RegisterObserver(obs)

	mgr.emitReady(context.Background(), nil)

	require.Len(t, obs.received(), 1)
	assert.Equal(t, EventTypeReady, obs.received()[0].Type())
}

func TestRegisterObserver_FiltersByEventType(t *testing.T) {
	mgr := NewManager(WithAutoStart(false), WithMemoryInspector(false, memoryOptsStub()), WithRecovery(false, recoveryOptsStub()))
	obs := &recordingObserver{id: "test-observer"}
	mgr.RegisterObserver(obs, EventTypeError)

	mgr.emitReady(context.Background(), nil)
	assert.Empty(t, obs.received())

	mgr.emitError(context.Background(), "auth", "start", assert.AnError)
	assert.Len(t, obs.received(), 1)
}

func TestUnregisterObserver_StopsDelivery(t *testing.T) {
	mgr := NewManager(WithAutoStart(false), WithMemoryInspector(false, memoryOptsStub()), WithRecovery(false, recoveryOptsStub()))
	obs := &recordingObserver{id: "test-observer"}
	mgr.RegisterObserver(obs)
	mgr.UnregisterObserver(obs)

	mgr.emitReady(context.Background(), nil)
	assert.Empty(t, obs.received())
}

func TestNewEvent_SetsIDSourceAndType(t *testing.T) {
	event := newEvent(EventTypeReady, map[string]any{"foo": "bar"})
	assert.NotEmpty(t, event.ID())
	assert.Equal(t, eventSource, event.Source())
	assert.Equal(t, EventTypeReady, event.Type())
}
