// Package valve drives two-wire polarity-reversal valve actuators.
//
// Each valve owns one pulse pin. All valves of a block share a red and a
// black wire pin that select the direction the actuator moves when pulsed.
// The actuator has no position feedback, so the tracked state is assumed.
package valve

import (
	"errors"
	"time"
)

// State is the logical valve state, as reported to the host.
type State string

const (
	StateOpen   State = "open"
	StateClosed State = "closed"
)

// Timings of the actuator protocol.
const (
	// SettleDelay is the wait after setting wire polarity before pulsing.
	SettleDelay = 500 * time.Millisecond
	// PulseWidth is how long the valve pin is held low to trigger a move.
	PulseWidth = 100 * time.Millisecond
)

// DefaultName is used for valves configured without a name.
const DefaultName = "Unnamed Device"

// ErrInvalidID is returned for a valve whose name or unique id has no
// letters or digits to build an object id from.
var ErrInvalidID = errors.New("no usable valve id")

// DeviceClassWater is the host device class for water valves.
const DeviceClassWater = "water"

// Feature is a bit set of supported entity actions.
type Feature int

const (
	FeatureOpen  Feature = 1
	FeatureClose Feature = 2
)

// Has reports whether f includes all bits of other.
func (f Feature) Has(other Feature) bool {
	return f&other == other
}

// Config identifies a single valve.
type Config struct {
	Name     string
	Port     int
	UniqueID string
}

// Wires are the polarity pins shared by all valves of a block.
type Wires struct {
	Red   int
	Black int
}

// Entity describes a valve to the host framework.
type Entity struct {
	Name            string
	UniqueID        string
	Features        Feature
	AssumedState    bool
	ReportsPosition bool
	DeviceClass     string
	ShouldPoll      bool
}
