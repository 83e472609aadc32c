package gpio

import (
	"fmt"
	"time"
)

// OpKind identifies a recorded FakePins operation.
type OpKind string

const (
	OpConfigure OpKind = "configure"
	OpWrite     OpKind = "write"
	OpSleep     OpKind = "sleep"
)

// Op is a single recorded operation.
type Op struct {
	Kind  OpKind
	Pin   int
	Value int
	Delay time.Duration
}

func (o Op) String() string {
	switch o.Kind {
	case OpConfigure:
		return fmt.Sprintf("configure(%d)", o.Pin)
	case OpWrite:
		return fmt.Sprintf("%d=%d", o.Pin, o.Value)
	case OpSleep:
		return fmt.Sprintf("sleep(%v)", o.Delay)
	default:
		return string(o.Kind)
	}
}

// Write returns the Op for a pin write.
func Write(pin, value int) Op { return Op{Kind: OpWrite, Pin: pin, Value: value} }

// Sleep returns the Op for a recorded delay.
func Sleep(d time.Duration) Op { return Op{Kind: OpSleep, Delay: d} }

// Configure returns the Op for an output configuration.
func Configure(pin int) Op { return Op{Kind: OpConfigure, Pin: pin} }

// FakePins is a test double that records every pin operation in order.
// Sleep can be injected wherever a delay is needed so writes and delays
// land in the same log. Not safe for concurrent use.
type FakePins struct {
	// Ops contains all recorded operations in call order.
	Ops []Op

	// WriteError, if set, is returned by Write for FailPin
	// (or for every pin when FailPin is 0).
	WriteError error
	FailPin    int

	// ConfigureError, if set, will be returned by ConfigureOutput.
	ConfigureError error

	// Closed tracks if Close was called.
	Closed bool

	levels     map[int]int
	configured map[int]bool
}

// NewFakePins creates an empty FakePins.
func NewFakePins() *FakePins {
	return &FakePins{
		levels:     make(map[int]int),
		configured: make(map[int]bool),
	}
}

// ConfigureOutput records the configuration and drives the pin low.
func (f *FakePins) ConfigureOutput(pin int) error {
	if f.ConfigureError != nil {
		return f.ConfigureError
	}
	f.Ops = append(f.Ops, Configure(pin))
	f.configured[pin] = true
	f.levels[pin] = Low
	return nil
}

// Write records the write. Writes to unconfigured pins fail like real hardware.
func (f *FakePins) Write(pin, value int) error {
	if f.WriteError != nil && (f.FailPin == 0 || f.FailPin == pin) {
		return f.WriteError
	}
	if !f.configured[pin] {
		return fmt.Errorf("pin %d not configured as output", pin)
	}
	f.Ops = append(f.Ops, Write(pin, value))
	f.levels[pin] = value
	return nil
}

// Sleep records a delay without blocking.
func (f *FakePins) Sleep(d time.Duration) {
	f.Ops = append(f.Ops, Sleep(d))
}

// Level returns the last value written to pin.
func (f *FakePins) Level(pin int) int {
	return f.levels[pin]
}

// Configured reports whether pin was configured as an output.
func (f *FakePins) Configured(pin int) bool {
	return f.configured[pin]
}

// Close marks the pins as closed.
func (f *FakePins) Close() error {
	f.Closed = true
	return nil
}

// Reset clears the recorded operations, keeping pin configuration.
func (f *FakePins) Reset() {
	f.Ops = nil
	f.WriteError = nil
	f.FailPin = 0
	f.ConfigureError = nil
}
