package internal

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/gpio-valve/internal/config"
	"github.com/sweeney/gpio-valve/internal/gpio"
	"github.com/sweeney/gpio-valve/internal/mqtt"
	"github.com/sweeney/gpio-valve/internal/status"
	"github.com/sweeney/gpio-valve/internal/valve"
)

const testConfig = `
red_wire_port: 22
black_wire_port: 23
valves:
  - name: Garden
    port: 17
    unique_id: garden_valve
  - name: Greenhouse Drip
    port: 27
`

// boot wires a bank to the client the way the daemon does: every move is
// published as retained state and counted in the tracker.
func boot(t *testing.T, client *mqtt.FakeClient, pins *gpio.FakePins, skipReset bool) (*valve.Bank, *status.Tracker) {
	t.Helper()
	block, err := config.Parse(strings.NewReader(testConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	tracker := status.NewTracker(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), status.Config{})
	for _, cfg := range block.ValveConfigs() {
		tracker.AddValve(valve.ObjectID(cfg), cfg)
	}

	bank, err := valve.Setup(pins, block.Wires(), block.ValveConfigs(), client, valve.Options{
		SkipReset: skipReset,
		Sleep:     pins.Sleep,
		OnUpdate: func(c *valve.Controller, s valve.State) {
			id := c.ID()
			tracker.SetState(id, s, time.Now(), true)
			if err := client.PublishState(id, s); err != nil {
				t.Errorf("publish state: %v", err)
			}
		},
	})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	for _, p := range bank.Valves() {
		if err := client.PublishDiscovery(p.Key(), p.Entity()); err != nil {
			t.Fatalf("discovery: %v", err)
		}
		restored, err := p.Attach(context.Background())
		if err != nil {
			t.Fatalf("attach %s: %v", p.Key(), err)
		}
		tracker.SetRestored(p.Key(), restored)
	}
	return bank, tracker
}

// TestIntegrationFullFlow runs config, setup, commands and a restart
// against fakes.
func TestIntegrationFullFlow(t *testing.T) {
	client := mqtt.NewFakeClient()
	pins := gpio.NewFakePins()
	bank, tracker := boot(t, client, pins, false)

	if bank.Len() != 2 {
		t.Fatalf("valves: got %d, want 2", bank.Len())
	}
	for _, id := range []string{"garden_valve", "greenhouse_drip"} {
		p, ok := bank.Get(id)
		if !ok {
			t.Fatalf("valve %s missing", id)
		}
		if p.IsClosed() {
			t.Errorf("%s: fresh valve should be open", id)
		}
		if pins.Level(p.Config().Port) != gpio.High {
			t.Errorf("%s: valve pin should be held high after reset", id)
		}
	}

	// Commands arrive through the subscription and run in order.
	var queue []mqtt.Command
	if err := client.SubscribeCommands([]string{"garden_valve", "greenhouse_drip"}, func(c mqtt.Command) {
		queue = append(queue, c)
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	client.Deliver("garden_valve", "CLOSE")
	client.Deliver("greenhouse_drip", "close")
	client.Deliver("garden_valve", "STOP")
	for _, c := range queue {
		p, _ := bank.Get(c.ObjectID)
		var err error
		if c.Action == mqtt.ActionOpen {
			err = p.Open()
		} else {
			err = p.Close()
		}
		if err != nil {
			t.Fatalf("%s %s: %v", c.ObjectID, c.Action, err)
		}
	}
	if len(queue) != 2 {
		t.Fatalf("commands: got %d, want 2", len(queue))
	}

	snap := tracker.Snapshot()
	if got := snap.ClosedValves(); !reflect.DeepEqual(got, []string{"garden_valve", "greenhouse_drip"}) {
		t.Errorf("closed valves: got %v", got)
	}
	if _, closes, _ := snap.Totals(); closes != 2 {
		t.Errorf("closes: got %d, want 2", closes)
	}

	// Restart: the retained state drives every valve closed again.
	client.Reset()
	pins2 := gpio.NewFakePins()
	bank2, tracker2 := boot(t, client, pins2, false)
	for _, p := range bank2.Valves() {
		if !p.IsClosed() {
			t.Errorf("%s: should be restored closed", p.Key())
		}
	}
	for _, v := range tracker2.Snapshot().Valves {
		if !v.Restored {
			t.Errorf("%s: should be marked restored", v.ObjectID)
		}
	}
	if got := client.StatesFor("garden_valve"); !reflect.DeepEqual(got, []valve.State{valve.StateClosed}) {
		t.Errorf("restored states: got %v", got)
	}
}

func TestIntegrationRestoreSkipReset(t *testing.T) {
	client := mqtt.NewFakeClient()
	client.Retain("garden_valve", "open")
	pins := gpio.NewFakePins()
	boot(t, client, pins, true)

	// No reset; only the restored open move for garden touches the pins.
	want := []gpio.Op{
		gpio.Configure(22),
		gpio.Configure(23),
		gpio.Configure(17),
		gpio.Configure(27),
		gpio.Write(22, 0),
		gpio.Write(23, 1),
		gpio.Sleep(500 * time.Millisecond),
		gpio.Write(17, 0),
		gpio.Sleep(100 * time.Millisecond),
		gpio.Write(17, 1),
	}
	if !reflect.DeepEqual(pins.Ops, want) {
		t.Errorf("pin ops:\ngot  %v\nwant %v", pins.Ops, want)
	}
}

func TestIntegrationDiscoveryPayload(t *testing.T) {
	client := mqtt.NewFakeClient()
	boot(t, client, gpio.NewFakePins(), true)

	var d mqtt.DiscoveryPayload
	if err := json.Unmarshal(client.Discoveries["garden_valve"], &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Name != "Garden" || d.UniqueID != "garden_valve" {
		t.Errorf("identity: got %q/%q", d.Name, d.UniqueID)
	}
	if d.CommandTopic != "gpio-valve/garden_valve/set" || d.StateTopic != "gpio-valve/garden_valve/state" {
		t.Errorf("topics: got %q, %q", d.CommandTopic, d.StateTopic)
	}
	if d.Device == nil {
		t.Error("device block expected for a valve with a unique id")
	}

	var drip mqtt.DiscoveryPayload
	if err := json.Unmarshal(client.Discoveries["greenhouse_drip"], &drip); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if drip.UniqueID != "" || drip.Device != nil {
		t.Errorf("valve without unique id: got unique_id=%q device=%v", drip.UniqueID, drip.Device)
	}
}

func TestIntegrationStatusEventPayload(t *testing.T) {
	client := mqtt.NewFakeClient()
	_, tracker := boot(t, client, gpio.NewFakePins(), true)

	snap := tracker.Snapshot()
	err := client.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	var sj status.StatusJSON
	if err := json.Unmarshal(client.SystemPayloads[0], &sj); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if sj.Status.Event != "STARTUP" || len(sj.Status.Valves) != 2 {
		t.Errorf("payload: got %+v", sj.Status)
	}
}
