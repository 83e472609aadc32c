// Package gpio provides GPIO output access with hardware abstraction.
// The real implementations use the Linux GPIO character device or periph.io.
// The fake implementation records writes for testing without hardware.
package gpio

import (
	"errors"
	"fmt"
)

// Pins drives GPIO output lines.
type Pins interface {
	// ConfigureOutput requests the pin as a digital output driven low.
	ConfigureOutput(pin int) error

	// Write drives a configured output pin to value (0 = low, 1 = high).
	Write(pin, value int) error

	// Close releases GPIO resources.
	Close() error
}

// Output levels.
const (
	Low  = 0
	High = 1
)

// DefaultChip is the Raspberry Pi header gpiochip.
const DefaultChip = "gpiochip0"

// Backend names accepted by Open.
const (
	BackendCdev   = "cdev"
	BackendPeriph = "periph"
)

// Open returns the Pins implementation for the named backend.
func Open(backend, chip string) (Pins, error) {
	switch backend {
	case BackendCdev, "":
		p, err := NewCdevPins(chip)
		if err != nil {
			return nil, err
		}
		return p, nil
	case BackendPeriph:
		p, err := NewPeriphPins()
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown gpio backend %q", backend)
	}
}

// releaseErr combines the failures from releasing lines. It is nil when
// errs is empty.
func releaseErr(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("close: %w", errors.Join(errs...))
}
