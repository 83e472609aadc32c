package mqtt

import (
	"context"
	"sync"

	"github.com/sweeney/gpio-valve/internal/valve"
)

// StateUpdate is a recorded PublishState call.
type StateUpdate struct {
	ObjectID string
	State    valve.State
}

// FakeClient records published messages for test assertions. Retained
// state published through it is returned by LastState, like a broker.
// Safe for concurrent use.
type FakeClient struct {
	mu sync.Mutex

	// Layout is used to format discovery payloads.
	Layout Layout

	// Discoveries maps object id to the last discovery payload.
	Discoveries map[string][]byte

	// States contains all state updates in order.
	States []StateUpdate

	// Availability contains every availability value published.
	Availability []bool

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// Subscribed lists object ids passed to SubscribeCommands.
	Subscribed []string

	// PublishError, if set, will be returned by every publish.
	PublishError error

	// LastStateError, if set, will be returned by LastState.
	LastStateError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool

	retained map[string]string
	handler  CommandHandler
}

// NewFakeClient creates a FakeClient for testing.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		Layout:      DefaultLayout(),
		Discoveries: make(map[string][]byte),
		retained:    make(map[string]string),
	}
}

// Retain seeds the recorded state for a valve, as if left by a previous run.
func (f *FakeClient) Retain(objectID, label string) {
	f.mu.Lock()
	f.retained[objectID] = label
	f.mu.Unlock()
}

// PublishDiscovery records the discovery payload.
func (f *FakeClient) PublishDiscovery(objectID string, e valve.Entity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatDiscovery(f.Layout, objectID, e)
	if err != nil {
		return err
	}
	f.Discoveries[objectID] = payload
	return nil
}

// PublishState records the update and retains it.
func (f *FakeClient) PublishState(objectID string, s valve.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.States = append(f.States, StateUpdate{ObjectID: objectID, State: s})
	f.retained[objectID] = string(s)
	return nil
}

// PublishAvailability records the availability value.
func (f *FakeClient) PublishAvailability(online bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Availability = append(f.Availability, online)
	return nil
}

// PublishSystem records the system event.
func (f *FakeClient) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}

	f.SystemEvents = append(f.SystemEvents, event)

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemPayloads = append(f.SystemPayloads, payload)

	return nil
}

// SubscribeCommands stores the handler for Deliver.
func (f *FakeClient) SubscribeCommands(objectIDs []string, h CommandHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Subscribed = append(f.Subscribed, objectIDs...)
	f.handler = h
	return nil
}

// Deliver simulates a command payload arriving for objectID. Unparseable
// payloads are dropped, as the real client does. Returns false when the
// payload was dropped or nothing is subscribed.
func (f *FakeClient) Deliver(objectID string, payload string) bool {
	f.mu.Lock()
	h := f.handler
	subscribed := false
	for _, id := range f.Subscribed {
		if id == objectID {
			subscribed = true
			break
		}
	}
	f.mu.Unlock()

	if h == nil || !subscribed {
		return false
	}
	action, err := ParseCommand([]byte(payload))
	if err != nil {
		return false
	}
	h(Command{ObjectID: objectID, Action: action})
	return true
}

// LastState returns the retained state for objectID.
func (f *FakeClient) LastState(ctx context.Context, objectID string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.LastStateError != nil {
		return "", false, f.LastStateError
	}
	label, ok := f.retained[objectID]
	if !ok || label == "" {
		return "", false, nil
	}
	return label, true, nil
}

// Close marks the client as closed.
func (f *FakeClient) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// IsConnected reports whether the fake client is "connected".
func (f *FakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// StatesFor returns the states published for one valve.
func (f *FakeClient) StatesFor(objectID string) []valve.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []valve.State
	for _, u := range f.States {
		if u.ObjectID == objectID {
			out = append(out, u.State)
		}
	}
	return out
}

// Reset clears recorded messages. Retained state is kept.
func (f *FakeClient) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Discoveries = make(map[string][]byte)
	f.States = nil
	f.Availability = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.PublishError = nil
	f.LastStateError = nil
	f.Connected = false
}
