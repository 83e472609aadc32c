package main

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/gpio-valve/internal/mqtt"
	"github.com/sweeney/gpio-valve/internal/status"
	"github.com/sweeney/gpio-valve/internal/valve"
)

// commandQueue is the number of commands held while a move is running.
const commandQueue = 16

// daemon connects the valve bank to the host. Every valve move after
// startup happens on the runLoop goroutine, so moves never overlap on the
// shared wires.
type daemon struct {
	bank    *valve.Bank
	client  mqtt.Client
	conn    mqtt.ConnectionStatus // may be nil
	tracker *status.Tracker
	now     func() time.Time
	log     zerolog.Logger
}

// onUpdate is the valve observer: push every completed move to the host
// and the tracker.
func (d *daemon) onUpdate(c *valve.Controller, s valve.State) {
	id := c.ID()
	d.tracker.SetState(id, s, d.now(), true)
	if err := d.client.PublishState(id, s); err != nil {
		d.log.Error().Err(err).Str("valve", id).Msg("failed to publish state")
	}
}

// start announces the valves, restores their recorded state and
// subscribes to commands. Restoring is best effort: a valve that cannot
// be restored keeps its constructed state.
func (d *daemon) start(ctx context.Context, h mqtt.CommandHandler) error {
	valves := d.bank.Valves()
	ids := make([]string, 0, len(valves))
	for _, p := range valves {
		d.tracker.AddValve(p.Key(), p.Config())
		ids = append(ids, p.Key())
	}

	if err := d.client.PublishAvailability(true); err != nil {
		d.log.Error().Err(err).Msg("failed to publish availability")
	}
	d.publishSystem("STARTUP", "", true)

	for _, p := range valves {
		if err := d.client.PublishDiscovery(p.Key(), p.Entity()); err != nil {
			d.log.Error().Err(err).Str("valve", p.Key()).Msg("failed to publish discovery")
		}
	}

	for _, p := range valves {
		d.restore(ctx, p)
	}

	return d.client.SubscribeCommands(ids, h)
}

func (d *daemon) restore(ctx context.Context, p *valve.Persistent) {
	restored, err := p.Attach(ctx)
	if err != nil {
		d.log.Warn().Err(err).Str("valve", p.Key()).Msg("restore failed")
		d.tracker.RecordError(p.Key(), err)
	}
	d.tracker.SetRestored(p.Key(), restored)
	if restored {
		return
	}
	d.tracker.SetState(p.Key(), p.State(), d.now(), false)
	if err := d.client.PublishState(p.Key(), p.State()); err != nil {
		d.log.Error().Err(err).Str("valve", p.Key()).Msg("failed to publish state")
	}
}

// handle runs one command. A failed move is recorded and the unchanged
// state is published again so the host stops waiting for the move.
func (d *daemon) handle(cmd mqtt.Command) {
	p, ok := d.bank.Get(cmd.ObjectID)
	if !ok {
		d.log.Warn().Str("valve", cmd.ObjectID).Msg("command for unknown valve")
		return
	}

	var err error
	switch cmd.Action {
	case mqtt.ActionOpen:
		err = p.Open()
	case mqtt.ActionClose:
		err = p.Close()
	default:
		d.log.Warn().Str("valve", cmd.ObjectID).Str("action", string(cmd.Action)).Msg("unsupported action")
		return
	}
	if err == nil {
		return
	}

	d.tracker.RecordError(p.Key(), err)
	if err := d.client.PublishState(p.Key(), p.State()); err != nil {
		d.log.Error().Err(err).Str("valve", p.Key()).Msg("failed to publish state")
	}
}

// runLoop executes commands one at a time until a signal arrives. A nil
// heartbeat channel disables heartbeats.
func (d *daemon) runLoop(cmds <-chan mqtt.Command, heartbeat <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			name := signalName(s)
			d.log.Info().Str("signal", name).Msg("shutting down")
			d.publishSystem("SHUTDOWN", name, true)
			if err := d.client.PublishAvailability(false); err != nil {
				d.log.Error().Err(err).Msg("failed to publish availability")
			}
			return nil

		case cmd := <-cmds:
			d.log.Debug().Str("valve", cmd.ObjectID).Str("action", string(cmd.Action)).Msg("command")
			d.handle(cmd)

		case <-heartbeat:
			if net := readNetworkInfo(); net != nil {
				d.tracker.SetNetwork(net)
			}
			snap := d.publishSystem("HEARTBEAT", "", false)
			opens, closes, errs := snap.Totals()
			d.log.Info().
				Dur("uptime", snap.Uptime().Truncate(time.Second)).
				Int("opens", opens).
				Int("closes", closes).
				Int("errors", errs).
				Msg("heartbeat")
		}
	}
}

// publishSystem sends a lifecycle event carrying a full status snapshot.
func (d *daemon) publishSystem(event, reason string, retained bool) status.Snapshot {
	if d.conn != nil {
		d.tracker.SetMQTTConnected(d.conn.IsConnected())
	}
	snap := d.tracker.Snapshot()
	err := d.client.PublishSystem(mqtt.SystemEvent{
		Timestamp:  d.now(),
		Event:      event,
		Reason:     reason,
		Retained:   retained,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	})
	if err != nil {
		d.log.Error().Err(err).Str("event", event).Msg("failed to publish system event")
	} else {
		d.log.Debug().Str("event", event).Msg("published system event")
	}
	return snap
}

// enqueue hands commands from the MQTT goroutine to the run loop. When
// the queue is full the command is dropped rather than stalling the
// client.
func enqueue(cmds chan<- mqtt.Command, log zerolog.Logger) mqtt.CommandHandler {
	return func(c mqtt.Command) {
		select {
		case cmds <- c:
		default:
			log.Warn().Str("valve", c.ObjectID).Str("action", string(c.Action)).Msg("command queue full, dropping")
		}
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
