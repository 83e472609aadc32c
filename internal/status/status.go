// Package status provides a thread-safe status tracker for the gpio-valve daemon.
// It is read by the HTTP handlers and by MQTT heartbeat events.
package status

import (
	"sort"
	"sync"
	"time"

	"github.com/sweeney/gpio-valve/internal/valve"
)

// NetworkInfo contains network state as reported by pi-helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Broker        string
	HTTPAddr      string
	GPIOBackend   string
	RedWirePort   int
	BlackWirePort int
	HeartbeatMs   int64
	SkipReset     bool
}

// ValveStatus is the tracked state of one valve.
type ValveStatus struct {
	ObjectID   string
	Name       string
	UniqueID   string
	Port       int
	State      valve.State
	Restored   bool
	Opens      int
	Closes     int
	Errors     int
	LastError  string
	LastChange time.Time
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Valves        []ValveStatus
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Ready reports whether every valve has a known state.
func (s Snapshot) Ready() bool {
	if len(s.Valves) == 0 {
		return false
	}
	for _, v := range s.Valves {
		if v.State == "" {
			return false
		}
	}
	return true
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu     sync.RWMutex
	snap   Snapshot
	valves map[string]*ValveStatus
	order  []string
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		valves: make(map[string]*ValveStatus),
	}
}

// AddValve registers a valve. Valves are reported in registration order.
func (t *Tracker) AddValve(objectID string, cfg valve.Config) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.valves[objectID]; ok {
		return
	}
	t.valves[objectID] = &ValveStatus{
		ObjectID: objectID,
		Name:     cfg.Name,
		UniqueID: cfg.UniqueID,
		Port:     cfg.Port,
	}
	t.order = append(t.order, objectID)
}

// SetState records a completed move (or the initial state when counted is false).
func (t *Tracker) SetState(objectID string, s valve.State, at time.Time, counted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.valves[objectID]
	if !ok {
		return
	}
	v.State = s
	v.LastChange = at
	if !counted {
		return
	}
	switch s {
	case valve.StateOpen:
		v.Opens++
	case valve.StateClosed:
		v.Closes++
	}
}

// SetRestored marks a valve as restored from recorded state.
func (t *Tracker) SetRestored(objectID string, restored bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.valves[objectID]; ok {
		v.Restored = restored
	}
}

// RecordError counts a failed move.
func (t *Tracker) RecordError(objectID string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.valves[objectID]; ok {
		v.Errors++
		v.LastError = err.Error()
	}
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Valves = make([]ValveStatus, 0, len(t.order))
	for _, id := range t.order {
		s.Valves = append(s.Valves, *t.valves[id])
	}
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}

// Totals sums opens, closes and errors over all valves.
func (s Snapshot) Totals() (opens, closes, errors int) {
	for _, v := range s.Valves {
		opens += v.Opens
		closes += v.Closes
		errors += v.Errors
	}
	return
}

// ClosedValves returns the object ids of closed valves, sorted.
func (s Snapshot) ClosedValves() []string {
	var out []string
	for _, v := range s.Valves {
		if v.State == valve.StateClosed {
			out = append(out, v.ObjectID)
		}
	}
	sort.Strings(out)
	return out
}
