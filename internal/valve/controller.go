package valve

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/gpio-valve/internal/gpio"
)

// UpdateHandler is called after every logical state change.
type UpdateHandler func(c *Controller, s State)

// Options tune controller construction.
type Options struct {
	// SkipReset leaves the pins untouched at construction.
	SkipReset bool
	// Sleep blocks for the given duration. Defaults to time.Sleep.
	Sleep func(time.Duration)
	// OnUpdate is notified after Open and Close complete.
	OnUpdate UpdateHandler
	// Log defaults to a disabled logger.
	Log *zerolog.Logger
}

// Controller sequences the pin writes for one valve and tracks its
// assumed state.
//
// Controller does not lock. Callers must serialize Open and Close, and
// must not actuate two controllers that share wires at the same time:
// their polarity writes would interleave.
type Controller struct {
	id       string
	cfg      Config
	wires    Wires
	pins     gpio.Pins
	sleep    func(time.Duration)
	onUpdate UpdateHandler
	log      zerolog.Logger

	open bool
}

// New configures the valve pin as an output and, unless opts.SkipReset,
// resets it: closing polarity, settle, then valve pin high (ready).
// The wire pins must already be configured as outputs.
func New(pins gpio.Pins, cfg Config, wires Wires, opts Options) (*Controller, error) {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	c := &Controller{
		id:       ObjectID(cfg),
		cfg:      cfg,
		wires:    wires,
		pins:     pins,
		sleep:    opts.Sleep,
		onUpdate: opts.OnUpdate,
		open:     true,
	}
	if c.sleep == nil {
		c.sleep = time.Sleep
	}
	if opts.Log != nil {
		c.log = opts.Log.With().Str("valve", cfg.Name).Int("port", cfg.Port).Logger()
	} else {
		c.log = zerolog.Nop()
	}

	if err := pins.ConfigureOutput(cfg.Port); err != nil {
		return nil, fmt.Errorf("valve %q: %w", cfg.Name, err)
	}
	closedGauge.WithLabelValues(c.id).Set(0)
	if opts.SkipReset {
		return c, nil
	}
	if err := c.Reset(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reset drives the closing polarity, waits for it to settle and holds the
// valve pin high (ready). The assumed state is not changed.
func (c *Controller) Reset() error {
	if err := c.setPolarity(gpio.High, gpio.Low); err != nil {
		return fmt.Errorf("valve %q reset: %w", c.cfg.Name, err)
	}
	c.sleep(SettleDelay)
	if err := c.write(c.cfg.Port, gpio.High); err != nil {
		return fmt.Errorf("valve %q reset: %w", c.cfg.Name, err)
	}
	c.log.Debug().Msg("reset")
	return nil
}

// ID returns the object id used for metrics and restore keys.
func (c *Controller) ID() string { return c.id }

// Name returns the configured name.
func (c *Controller) Name() string { return c.cfg.Name }

// Config returns the valve configuration.
func (c *Controller) Config() Config { return c.cfg }

// Wires returns the shared polarity pins.
func (c *Controller) Wires() Wires { return c.wires }

// IsClosed reports the assumed valve position.
func (c *Controller) IsClosed() bool { return !c.open }

// State returns the assumed state as a host label.
func (c *Controller) State() State {
	if c.open {
		return StateOpen
	}
	return StateClosed
}

// Entity returns the host-facing description of the valve.
func (c *Controller) Entity() Entity {
	return Entity{
		Name:            c.cfg.Name,
		UniqueID:        c.cfg.UniqueID,
		Features:        FeatureOpen | FeatureClose,
		AssumedState:    true,
		ReportsPosition: false,
		DeviceClass:     DeviceClassWater,
		ShouldPoll:      false,
	}
}

// Open drives the opening polarity (red low, black high), waits for it to
// settle and pulses the valve pin.
func (c *Controller) Open() error {
	return c.actuate(gpio.Low, gpio.High, StateOpen)
}

// Close drives the closing polarity (red high, black low), waits for it to
// settle and pulses the valve pin.
func (c *Controller) Close() error {
	return c.actuate(gpio.High, gpio.Low, StateClosed)
}

// actuate runs one full move. On a write failure the sequence stops and
// the tracked state is left as it was.
func (c *Controller) actuate(red, black int, target State) error {
	start := time.Now()
	if err := c.setPolarity(red, black); err != nil {
		return c.fail(target, err)
	}
	c.sleep(SettleDelay)
	if err := c.pulse(); err != nil {
		return c.fail(target, err)
	}

	c.open = target == StateOpen
	actuations.WithLabelValues(c.id, string(target)).Inc()
	closedGauge.WithLabelValues(c.id).Set(boolToFloat(!c.open))
	c.log.Info().Str("state", string(target)).Dur("took", time.Since(start)).Msg("actuated")

	if c.onUpdate != nil {
		c.onUpdate(c, target)
	}
	return nil
}

func (c *Controller) fail(target State, err error) error {
	gpioErrors.WithLabelValues(c.id).Inc()
	c.log.Error().Err(err).Str("state", string(target)).Msg("actuation failed")
	return fmt.Errorf("valve %q %s: %w", c.cfg.Name, verb(target), err)
}

func (c *Controller) pulse() error {
	if err := c.write(c.cfg.Port, gpio.Low); err != nil {
		return err
	}
	c.sleep(PulseWidth)
	return c.write(c.cfg.Port, gpio.High)
}

func (c *Controller) setPolarity(red, black int) error {
	if err := c.write(c.wires.Red, red); err != nil {
		return err
	}
	return c.write(c.wires.Black, black)
}

func (c *Controller) write(pin, value int) error {
	if err := c.pins.Write(pin, value); err != nil {
		return fmt.Errorf("write %d=%d: %w", pin, value, err)
	}
	return nil
}

func verb(s State) string {
	if s == StateOpen {
		return "open"
	}
	return "close"
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
