package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/sweeney/gpio-valve/internal/valve"
)

const (
	publishTimeout   = 5 * time.Second
	subscribeTimeout = 5 * time.Second
	connectTimeout   = 10 * time.Second
)

// Options configure a RealClient.
type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Layout   Layout

	// RestoreTimeout bounds the wait for a retained state in LastState.
	RestoreTimeout time.Duration
	// ConnectMaxElapsed bounds the initial connection retries (0 = retry forever).
	ConnectMaxElapsed time.Duration
	// BufferSize is the number of publishes held while disconnected.
	BufferSize int

	Log zerolog.Logger
}

// RealClient talks to an actual MQTT broker.
type RealClient struct {
	client         paho.Client
	layout         Layout
	restoreTimeout time.Duration
	log            zerolog.Logger

	mu       sync.Mutex
	outbox   *outbox
	commands map[string]string // command topic -> object id
	handler  CommandHandler
}

// NewRealClient connects to the broker, retrying with exponential backoff.
// The Last Will marks the daemon offline if the connection drops.
func NewRealClient(o Options) (*RealClient, error) {
	c := newRealClient(&o)

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(time.Minute).
		SetWill(o.Layout.Availability(), AvailabilityOffline, 1, true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)
	if o.Username != "" {
		opts = opts.SetUsername(o.Username)
	}
	if o.Password != "" {
		opts = opts.SetPassword(o.Password)
	}
	c.client = paho.NewClient(opts)

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = o.ConnectMaxElapsed
	err := backoff.RetryNotify(func() error {
		token := c.client.Connect()
		if !token.WaitTimeout(connectTimeout) {
			return errors.New("connection timeout")
		}
		return token.Error()
	}, b, func(err error, next time.Duration) {
		c.log.Warn().Err(err).Dur("retry_in", next).Str("broker", o.Broker).Msg("connect failed")
	})
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return c, nil
}

// newRealClient applies option defaults and builds a client without a
// broker connection; the caller sets c.client.
func newRealClient(o *Options) *RealClient {
	if o.ClientID == "" {
		o.ClientID = DefaultNodeID
	}
	if o.RestoreTimeout <= 0 {
		o.RestoreTimeout = 2 * time.Second
	}
	if o.BufferSize <= 0 {
		o.BufferSize = 64
	}
	return &RealClient{
		layout:         o.Layout,
		restoreTimeout: o.RestoreTimeout,
		log:            o.Log.With().Str("component", "mqtt").Logger(),
		outbox:         newOutbox(o.BufferSize),
		commands:       make(map[string]string),
	}
}

// onConnect runs on every (re)connection: announce availability, restore
// command subscriptions and flush publishes buffered while offline.
func (c *RealClient) onConnect(client paho.Client) {
	c.log.Info().Msg("connected")

	if err := c.send(c.layout.Availability(), 1, true, []byte(AvailabilityOnline)); err != nil {
		c.log.Warn().Err(err).Msg("publish availability failed")
	}

	c.mu.Lock()
	topics := make(map[string]string, len(c.commands))
	for t, id := range c.commands {
		topics[t] = id
	}
	pending := c.outbox.drain()
	c.mu.Unlock()

	for topic, id := range topics {
		if err := c.subscribeCommand(topic, id); err != nil {
			c.log.Warn().Err(err).Str("topic", topic).Msg("resubscribe failed")
		}
	}
	for _, m := range pending {
		if err := c.send(m.topic, m.qos, m.retained, m.payload); err != nil {
			c.log.Warn().Err(err).Str("topic", m.topic).Msg("replay failed")
		}
	}
	if len(pending) > 0 {
		c.log.Info().Int("count", len(pending)).Msg("replayed buffered messages")
	}
}

func (c *RealClient) onConnectionLost(client paho.Client, err error) {
	c.log.Warn().Err(err).Msg("connection lost")
}

// PublishDiscovery announces a valve entity.
func (c *RealClient) PublishDiscovery(objectID string, e valve.Entity) error {
	payload, err := FormatDiscovery(c.layout, objectID, e)
	if err != nil {
		return fmt.Errorf("format discovery: %w", err)
	}
	return c.publish(c.layout.Valve(objectID).Discovery, 1, true, payload)
}

// PublishState records a valve's state as a retained message.
func (c *RealClient) PublishState(objectID string, s valve.State) error {
	return c.publish(c.layout.Valve(objectID).State, 1, true, []byte(s))
}

// PublishAvailability marks the daemon online or offline.
func (c *RealClient) PublishAvailability(online bool) error {
	payload := AvailabilityOffline
	if online {
		payload = AvailabilityOnline
	}
	return c.publish(c.layout.Availability(), 1, true, []byte(payload))
}

// PublishSystem sends a system lifecycle event.
func (c *RealClient) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) - we want lifecycle events delivered
	return c.publish(c.layout.System(), 1, event.Retained, payload)
}

// SubscribeCommands subscribes to the command topic of each valve.
// Subscriptions are restored after a reconnect.
func (c *RealClient) SubscribeCommands(objectIDs []string, h CommandHandler) error {
	c.mu.Lock()
	c.handler = h
	for _, id := range objectIDs {
		c.commands[c.layout.Valve(id).Command] = id
	}
	c.mu.Unlock()

	for _, id := range objectIDs {
		if err := c.subscribeCommand(c.layout.Valve(id).Command, id); err != nil {
			return err
		}
	}
	return nil
}

func (c *RealClient) subscribeCommand(topic, objectID string) error {
	token := c.client.Subscribe(topic, 1, func(_ paho.Client, m paho.Message) {
		action, err := ParseCommand(m.Payload())
		if err != nil {
			c.log.Warn().Err(err).Str("topic", m.Topic()).Msg("ignoring command")
			return
		}
		c.mu.Lock()
		h := c.handler
		c.mu.Unlock()
		if h != nil {
			h(Command{ObjectID: objectID, Action: action})
		}
	})
	if !token.WaitTimeout(subscribeTimeout) {
		return fmt.Errorf("subscribe %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

// LastState reads the retained state of a valve. The broker delivers a
// retained message right after subscribing; if none arrives within the
// restore timeout nothing was recorded. An empty payload is a cleared
// retained message and counts as nothing recorded.
func (c *RealClient) LastState(ctx context.Context, objectID string) (string, bool, error) {
	topic := c.layout.Valve(objectID).State
	ch := make(chan string, 1)

	token := c.client.Subscribe(topic, 1, func(_ paho.Client, m paho.Message) {
		select {
		case ch <- string(m.Payload()):
		default:
		}
	})
	if !token.WaitTimeout(subscribeTimeout) {
		return "", false, fmt.Errorf("subscribe %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return "", false, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	defer func() {
		if t := c.client.Unsubscribe(topic); !t.WaitTimeout(subscribeTimeout) {
			c.log.Warn().Str("topic", topic).Msg("unsubscribe timeout")
		}
	}()

	wait, cancel := context.WithTimeout(ctx, c.restoreTimeout)
	defer cancel()

	select {
	case label := <-ch:
		if label == "" {
			return "", false, nil
		}
		return label, true, nil
	case <-wait.Done():
		if err := ctx.Err(); err != nil {
			return "", false, err
		}
		return "", false, nil
	}
}

// IsConnected reports whether the client is connected.
func (c *RealClient) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (c *RealClient) Close() error {
	c.client.Disconnect(1000) // 1 second timeout
	return nil
}

// publish sends now, or buffers when the connection is down.
func (c *RealClient) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !c.client.IsConnectionOpen() {
		c.mu.Lock()
		dropped := c.outbox.add(pendingMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		c.mu.Unlock()
		if dropped {
			c.log.Warn().Int("capacity", c.outbox.capacity).Msg("outbox full, dropping oldest")
		}
		return nil
	}
	return c.send(topic, qos, retained, payload)
}

func (c *RealClient) send(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}
