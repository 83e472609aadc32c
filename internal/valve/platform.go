package valve

import (
	"fmt"
	"strings"

	"github.com/sweeney/gpio-valve/internal/gpio"
)

// Bank is the set of valves built from one configuration block.
type Bank struct {
	Wires  Wires
	valves []*Persistent
	byKey  map[string]*Persistent
}

// Setup configures the shared wire pins once and builds a persistent
// valve for every entry, in order. opts applies to every valve, except
// that the reset is left to Attach: a valve with a recorded state is
// driven straight to it without a reset first.
func Setup(pins gpio.Pins, wires Wires, valves []Config, store RestoreStore, opts Options) (*Bank, error) {
	if err := pins.ConfigureOutput(wires.Red); err != nil {
		return nil, fmt.Errorf("red wire: %w", err)
	}
	if err := pins.ConfigureOutput(wires.Black); err != nil {
		return nil, fmt.Errorf("black wire: %w", err)
	}

	b := &Bank{
		Wires: wires,
		byKey: make(map[string]*Persistent, len(valves)),
	}
	resetPending := !opts.SkipReset
	opts.SkipReset = true
	for i, cfg := range valves {
		key := ObjectID(cfg)
		if key == "" {
			return nil, fmt.Errorf("valves[%d] %q: %w", i, cfg.Name, ErrInvalidID)
		}
		if _, dup := b.byKey[key]; dup {
			return nil, fmt.Errorf("duplicate valve id %q", key)
		}
		c, err := New(pins, cfg, wires, opts)
		if err != nil {
			return nil, err
		}
		p := NewPersistent(c, store, key)
		p.resetPending = resetPending
		b.valves = append(b.valves, p)
		b.byKey[key] = p
	}
	return b, nil
}

// Valves returns the valves in configuration order.
func (b *Bank) Valves() []*Persistent {
	return b.valves
}

// Get looks up a valve by object id.
func (b *Bank) Get(key string) (*Persistent, bool) {
	p, ok := b.byKey[key]
	return p, ok
}

// Len returns the number of valves.
func (b *Bank) Len() int { return len(b.valves) }

// ObjectID is the stable identifier of a valve: its unique id when set,
// otherwise its slugified name.
func ObjectID(cfg Config) string {
	if cfg.UniqueID != "" {
		return Slug(cfg.UniqueID)
	}
	name := cfg.Name
	if name == "" {
		name = DefaultName
	}
	return Slug(name)
}

// Slug lowercases s and collapses every run of characters outside
// [a-z0-9] into a single underscore.
func Slug(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}
