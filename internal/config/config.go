// Package config loads the valve block: the valves and the red/black wire
// pins they share.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/gpio-valve/internal/valve"
)

// Validation errors.
var (
	ErrNoValves     = errors.New("at least one valve is required")
	ErrNameRequired = errors.New("name is required")
	ErrPortRequired = errors.New("port must be positive")
	ErrPortConflict = errors.New("port already in use")
	ErrDuplicateID  = errors.New("duplicate valve id")
	ErrInvalidID    = valve.ErrInvalidID
)

// Valve is a single valve entry.
type Valve struct {
	Name     string `yaml:"name"`
	Port     int    `yaml:"port"`
	UniqueID string `yaml:"unique_id,omitempty"`
}

// Block is the valve configuration block.
type Block struct {
	Valves        []Valve `yaml:"valves"`
	RedWirePort   int     `yaml:"red_wire_port"`
	BlackWirePort int     `yaml:"black_wire_port"`
}

// Load reads and validates the block at path.
func Load(path string) (Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Block{}, fmt.Errorf("read config: %w", err)
	}
	b, err := Parse(bytes.NewReader(data))
	if err != nil {
		return Block{}, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}

// Parse decodes and validates a block. Unknown keys are rejected.
func Parse(r io.Reader) (Block, error) {
	var b Block
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&b); err != nil {
		if errors.Is(err, io.EOF) {
			return Block{}, ErrNoValves
		}
		return Block{}, fmt.Errorf("parse config: %w", err)
	}
	if err := b.Validate(); err != nil {
		return Block{}, err
	}
	return b, nil
}

// Validate checks required fields, port conflicts and id collisions.
func (b Block) Validate() error {
	if b.RedWirePort <= 0 {
		return fmt.Errorf("red_wire_port: %w", ErrPortRequired)
	}
	if b.BlackWirePort <= 0 {
		return fmt.Errorf("black_wire_port: %w", ErrPortRequired)
	}
	if b.RedWirePort == b.BlackWirePort {
		return fmt.Errorf("black_wire_port %d: %w", b.BlackWirePort, ErrPortConflict)
	}
	if len(b.Valves) == 0 {
		return ErrNoValves
	}

	ports := map[int]string{
		b.RedWirePort:   "red_wire_port",
		b.BlackWirePort: "black_wire_port",
	}
	ids := make(map[string]int)
	for i, v := range b.Valves {
		if v.Name == "" {
			return fmt.Errorf("valves[%d]: %w", i, ErrNameRequired)
		}
		if v.Port <= 0 {
			return fmt.Errorf("valves[%d]: %w", i, ErrPortRequired)
		}
		if owner, ok := ports[v.Port]; ok {
			return fmt.Errorf("valves[%d]: port %d: %w by %s", i, v.Port, ErrPortConflict, owner)
		}
		ports[v.Port] = fmt.Sprintf("valves[%d]", i)

		id := valve.ObjectID(v.valveConfig())
		if id == "" {
			if v.UniqueID != "" {
				return fmt.Errorf("valves[%d]: unique_id %q: %w", i, v.UniqueID, ErrInvalidID)
			}
			return fmt.Errorf("valves[%d]: name %q: %w", i, v.Name, ErrInvalidID)
		}
		if j, ok := ids[id]; ok {
			return fmt.Errorf("valves[%d]: %q: %w (valves[%d])", i, id, ErrDuplicateID, j)
		}
		ids[id] = i
	}
	return nil
}

// Wires returns the shared polarity pins.
func (b Block) Wires() valve.Wires {
	return valve.Wires{Red: b.RedWirePort, Black: b.BlackWirePort}
}

// ValveConfigs returns the valve entries in order.
func (b Block) ValveConfigs() []valve.Config {
	out := make([]valve.Config, len(b.Valves))
	for i, v := range b.Valves {
		out[i] = v.valveConfig()
	}
	return out
}

func (v Valve) valveConfig() valve.Config {
	return valve.Config{Name: v.Name, Port: v.Port, UniqueID: v.UniqueID}
}
