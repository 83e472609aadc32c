// Package mqtt connects valves to Home Assistant over MQTT, with an
// abstraction for testing.
//
// The broker plays the host's part: discovery registers the entities,
// retained state messages are both the live state store and the restore
// store, and command topics carry open/close requests.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sweeney/gpio-valve/internal/valve"
)

// Defaults for the topic layout.
const (
	DefaultDiscoveryPrefix = "homeassistant"
	DefaultTopicPrefix     = "gpio-valve"
	DefaultNodeID          = "gpio_valve"
)

// Command payloads accepted on a valve's command topic.
const (
	PayloadOpen  = "OPEN"
	PayloadClose = "CLOSE"
	PayloadStop  = "STOP"
)

// Availability payloads.
const (
	AvailabilityOnline  = "online"
	AvailabilityOffline = "offline"
)

// ErrUnsupportedCommand is returned for STOP; the actuator cannot stop mid-move.
var ErrUnsupportedCommand = errors.New("unsupported command")

// Action is a requested valve move.
type Action string

const (
	ActionOpen  Action = "OPEN"
	ActionClose Action = "CLOSE"
)

// Command is a request received for one valve.
type Command struct {
	ObjectID string
	Action   Action
}

// CommandHandler receives parsed commands. It is called from the MQTT
// client's goroutine and must not block for long.
type CommandHandler func(Command)

// ParseCommand maps a command payload to an action.
func ParseCommand(payload []byte) (Action, error) {
	switch strings.ToUpper(strings.TrimSpace(string(payload))) {
	case PayloadOpen:
		return ActionOpen, nil
	case PayloadClose:
		return ActionClose, nil
	case PayloadStop:
		return "", ErrUnsupportedCommand
	default:
		return "", fmt.Errorf("unknown command %q", payload)
	}
}

// Layout derives topic names.
type Layout struct {
	DiscoveryPrefix string
	TopicPrefix     string
	NodeID          string
}

// DefaultLayout returns the default topic layout.
func DefaultLayout() Layout {
	return Layout{
		DiscoveryPrefix: DefaultDiscoveryPrefix,
		TopicPrefix:     DefaultTopicPrefix,
		NodeID:          DefaultNodeID,
	}
}

// Topics are the per-valve topics.
type Topics struct {
	Discovery string
	Command   string
	State     string
}

// Valve returns the topics for the valve with the given object id.
func (l Layout) Valve(objectID string) Topics {
	return Topics{
		Discovery: fmt.Sprintf("%s/valve/%s/%s/config", l.DiscoveryPrefix, l.NodeID, objectID),
		Command:   fmt.Sprintf("%s/%s/set", l.TopicPrefix, objectID),
		State:     fmt.Sprintf("%s/%s/state", l.TopicPrefix, objectID),
	}
}

// Availability is the daemon's online/offline topic.
func (l Layout) Availability() string {
	return l.TopicPrefix + "/availability"
}

// System is the topic for lifecycle events.
func (l Layout) System() string {
	return l.TopicPrefix + "/system"
}

// Client is the host contract used by the daemon.
type Client interface {
	// PublishDiscovery announces a valve entity (retained).
	PublishDiscovery(objectID string, e valve.Entity) error

	// PublishState pushes a valve's state to the live state store (retained).
	PublishState(objectID string, s valve.State) error

	// PublishAvailability marks the daemon online or offline (retained).
	PublishAvailability(online bool) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(event SystemEvent) error

	// SubscribeCommands delivers commands for the given valves to h.
	SubscribeCommands(objectIDs []string, h CommandHandler) error

	// LastState returns the recorded state of a valve, if any.
	LastState(ctx context.Context, objectID string) (string, bool, error)

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// SystemPayload is the payload for simple system events that don't carry
// a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// DiscoveryPayload is the Home Assistant MQTT valve discovery message.
type DiscoveryPayload struct {
	Name              string      `json:"name"`
	UniqueID          string      `json:"unique_id,omitempty"`
	ObjectID          string      `json:"object_id"`
	CommandTopic      string      `json:"command_topic"`
	StateTopic        string      `json:"state_topic"`
	PayloadOpen       string      `json:"payload_open"`
	PayloadClose      string      `json:"payload_close"`
	PayloadStop       *string     `json:"payload_stop"` // null disables stop
	StateOpen         string      `json:"state_open"`
	StateClosed       string      `json:"state_closed"`
	DeviceClass       string      `json:"device_class"`
	Optimistic        bool        `json:"optimistic"`
	ReportsPosition   bool        `json:"reports_position"`
	AvailabilityTopic string      `json:"availability_topic"`
	Device            *DeviceInfo `json:"device,omitempty"`
}

// DeviceInfo groups valves under one device in Home Assistant.
// Home Assistant only accepts a device for entities with a unique id.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
}

// FormatDiscovery creates the discovery payload for a valve.
func FormatDiscovery(l Layout, objectID string, e valve.Entity) ([]byte, error) {
	t := l.Valve(objectID)
	p := DiscoveryPayload{
		Name:              e.Name,
		UniqueID:          e.UniqueID,
		ObjectID:          objectID,
		CommandTopic:      t.Command,
		StateTopic:        t.State,
		StateOpen:         string(valve.StateOpen),
		StateClosed:       string(valve.StateClosed),
		DeviceClass:       e.DeviceClass,
		Optimistic:        false,
		ReportsPosition:   e.ReportsPosition,
		AvailabilityTopic: l.Availability(),
	}
	if e.Features.Has(valve.FeatureOpen) {
		p.PayloadOpen = PayloadOpen
	}
	if e.Features.Has(valve.FeatureClose) {
		p.PayloadClose = PayloadClose
	}
	if e.UniqueID != "" {
		p.Device = &DeviceInfo{
			Identifiers:  []string{l.NodeID},
			Name:         "GPIO Valves",
			Manufacturer: "Raspberry Pi",
			Model:        "two-wire polarity actuator",
		}
	}
	return json.Marshal(p)
}
