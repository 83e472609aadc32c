package valve

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// RestoreStore returns the last state label recorded for a valve key.
type RestoreStore interface {
	LastState(ctx context.Context, key string) (label string, found bool, err error)
}

// Persistent wraps a Controller with startup state restoration.
type Persistent struct {
	*Controller
	store RestoreStore
	key   string

	// resetPending defers the reset until Attach knows nothing is recorded.
	resetPending bool
}

// NewPersistent binds c to the store under key.
func NewPersistent(c *Controller, store RestoreStore, key string) *Persistent {
	return &Persistent{Controller: c, store: store, key: key}
}

// Key returns the restore key (the valve's object id).
func (p *Persistent) Key() string { return p.key }

// Attach restores the last recorded state. With nothing recorded the
// valve is left as constructed. Otherwise the matching move is issued
// again, since the actuator position cannot be read back after a power
// loss: "open" opens, any other label closes.
//
// For valves built by Setup with reset enabled, the reset runs here, and
// only when no state is recorded or the lookup fails.
func (p *Persistent) Attach(ctx context.Context) (bool, error) {
	label, found, err := p.store.LastState(ctx, p.key)
	if err != nil {
		restores.WithLabelValues(p.key, "error").Inc()
		err = fmt.Errorf("valve %q restore: %w", p.Name(), err)
		if rerr := p.resetIfPending(); rerr != nil {
			return false, errors.Join(err, rerr)
		}
		return false, err
	}
	if !found {
		restores.WithLabelValues(p.key, "none").Inc()
		p.log.Debug().Msg("no recorded state")
		return false, p.resetIfPending()
	}

	p.resetPending = false
	p.log.Info().Str("recorded", label).Msg("restoring")
	if State(label) == StateOpen {
		err = p.Open()
	} else {
		err = p.Close()
	}
	if err != nil {
		restores.WithLabelValues(p.key, "error").Inc()
		return false, err
	}
	restores.WithLabelValues(p.key, string(p.State())).Inc()
	return true, nil
}

func (p *Persistent) resetIfPending() error {
	if !p.resetPending {
		return nil
	}
	p.resetPending = false
	return p.Reset()
}

// MemoryStore is an in-process RestoreStore.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]string)}
}

// Set records label for key.
func (m *MemoryStore) Set(key, label string) {
	m.mu.Lock()
	m.states[key] = label
	m.mu.Unlock()
}

// LastState implements RestoreStore.
func (m *MemoryStore) LastState(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	label, ok := m.states[key]
	return label, ok, nil
}
