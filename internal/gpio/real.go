//go:build linux

package gpio

import (
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

const consumer = "gpio-valve"

// CdevPins drives outputs through the Linux GPIO character device.
type CdevPins struct {
	mu    sync.Mutex
	chip  *gpiocdev.Chip
	lines map[int]*gpiocdev.Line
}

// NewCdevPins opens the named gpiochip (e.g. "gpiochip0").
func NewCdevPins(chip string) (*CdevPins, error) {
	if chip == "" {
		chip = DefaultChip
	}
	c, err := gpiocdev.NewChip(chip, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	return &CdevPins{
		chip:  c,
		lines: make(map[int]*gpiocdev.Line),
	}, nil
}

// ConfigureOutput requests the line as an output, initially low.
// Configuring an already requested line is a no-op so shared wire pins
// can be set up more than once.
func (p *CdevPins) ConfigureOutput(pin int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.lines[pin]; ok {
		return nil
	}
	l, err := p.chip.RequestLine(pin, gpiocdev.AsOutput(Low))
	if err != nil {
		return fmt.Errorf("request pin %d: %w", pin, err)
	}
	p.lines[pin] = l
	return nil
}

// Write sets the line value.
func (p *CdevPins) Write(pin, value int) error {
	p.mu.Lock()
	l, ok := p.lines[pin]
	p.mu.Unlock()

	if !ok {
		return fmt.Errorf("pin %d not configured as output", pin)
	}
	if err := l.SetValue(value); err != nil {
		return fmt.Errorf("write pin %d: %w", pin, err)
	}
	return nil
}

// Close releases GPIO resources.
// Lines are switched back to inputs (Pi boot default) before release so the
// actuator is not left driven while the daemon is down.
func (p *CdevPins) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for pin, l := range p.lines {
		if err := l.Reconfigure(gpiocdev.AsInput); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", pin, err))
		}
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
		delete(p.lines, pin)
	}
	if p.chip != nil {
		if err := p.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		p.chip = nil
	}

	return releaseErr(errs)
}
