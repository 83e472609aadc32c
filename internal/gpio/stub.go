//go:build !linux

package gpio

import "errors"

// CdevPins is not available on non-Linux platforms.
type CdevPins struct{}

// NewCdevPins returns an error on non-Linux platforms.
func NewCdevPins(chip string) (*CdevPins, error) {
	return nil, errors.New("gpio: character device not supported on this platform (requires Linux)")
}

// ConfigureOutput is not implemented on non-Linux platforms.
func (p *CdevPins) ConfigureOutput(pin int) error {
	return errors.New("gpio: not supported")
}

// Write is not implemented on non-Linux platforms.
func (p *CdevPins) Write(pin, value int) error {
	return errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (p *CdevPins) Close() error {
	return nil
}
