package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Valves        []ValveJSON  `json:"valves"`
	Ready         bool         `json:"ready"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// ValveJSON is the JSON representation of one valve.
type ValveJSON struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	UniqueID   string `json:"unique_id,omitempty"`
	Port       int    `json:"port"`
	State      string `json:"state"`
	Restored   bool   `json:"restored"`
	Opens      int    `json:"opens"`
	Closes     int    `json:"closes"`
	Errors     int    `json:"errors"`
	LastError  string `json:"last_error,omitempty"`
	LastChange string `json:"last_change,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Broker        string `json:"broker"`
	HTTPAddr      string `json:"http_addr"`
	GPIOBackend   string `json:"gpio_backend"`
	RedWirePort   int    `json:"red_wire_port"`
	BlackWirePort int    `json:"black_wire_port"`
	HeartbeatMs   int64  `json:"heartbeat_ms"`
	SkipReset     bool   `json:"skip_reset"`
}

func stateOrUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func buildInner(snap Snapshot) StatusInner {
	valves := make([]ValveJSON, 0, len(snap.Valves))
	for _, v := range snap.Valves {
		vj := ValveJSON{
			ID:        v.ObjectID,
			Name:      v.Name,
			UniqueID:  v.UniqueID,
			Port:      v.Port,
			State:     stateOrUnknown(string(v.State)),
			Restored:  v.Restored,
			Opens:     v.Opens,
			Closes:    v.Closes,
			Errors:    v.Errors,
			LastError: v.LastError,
		}
		if !v.LastChange.IsZero() {
			vj.LastChange = v.LastChange.UTC().Format(time.RFC3339)
		}
		valves = append(valves, vj)
	}

	return StatusInner{
		Valves:        valves,
		Ready:         snap.Ready(),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			Broker:        snap.Config.Broker,
			HTTPAddr:      snap.Config.HTTPAddr,
			GPIOBackend:   snap.Config.GPIOBackend,
			RedWirePort:   snap.Config.RedWirePort,
			BlackWirePort: snap.Config.BlackWirePort,
			HeartbeatMs:   snap.Config.HeartbeatMs,
			SkipReset:     snap.Config.SkipReset,
		},
	}
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
