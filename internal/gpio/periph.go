package gpio

import (
	"fmt"
	"sync"

	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// PeriphPins drives outputs through periph.io, addressing pins by BCM number.
type PeriphPins struct {
	mu   sync.Mutex
	pins map[int]pgpio.PinIO
}

// NewPeriphPins initialises the periph host drivers.
func NewPeriphPins() (*PeriphPins, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init periph host: %w", err)
	}
	return &PeriphPins{pins: make(map[int]pgpio.PinIO)}, nil
}

// ConfigureOutput looks up GPIO<pin> and drives it low.
func (p *PeriphPins) ConfigureOutput(pin int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.pins[pin]; ok {
		return nil
	}
	io := gpioreg.ByName(fmt.Sprintf("GPIO%d", pin))
	if io == nil {
		return fmt.Errorf("pin %d: no such GPIO", pin)
	}
	if err := io.Out(pgpio.Low); err != nil {
		return fmt.Errorf("configure pin %d: %w", pin, err)
	}
	p.pins[pin] = io
	return nil
}

// Write drives the pin high for any non-zero value.
func (p *PeriphPins) Write(pin, value int) error {
	p.mu.Lock()
	io, ok := p.pins[pin]
	p.mu.Unlock()

	if !ok {
		return fmt.Errorf("pin %d not configured as output", pin)
	}
	level := pgpio.Low
	if value != Low {
		level = pgpio.High
	}
	if err := io.Out(level); err != nil {
		return fmt.Errorf("write pin %d: %w", pin, err)
	}
	return nil
}

// Close returns all pins to floating inputs.
func (p *PeriphPins) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for pin, io := range p.pins {
		if err := io.In(pgpio.Float, pgpio.NoEdge); err != nil {
			errs = append(errs, fmt.Errorf("release pin %d: %w", pin, err))
		}
		delete(p.pins, pin)
	}
	return releaseErr(errs)
}
