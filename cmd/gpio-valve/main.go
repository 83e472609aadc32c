// Command gpio-valve drives two-wire motorized valves from GPIO pins and
// exposes them to Home Assistant over MQTT.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/sweeney/gpio-valve/internal/config"
	"github.com/sweeney/gpio-valve/internal/gpio"
	"github.com/sweeney/gpio-valve/internal/mqtt"
	"github.com/sweeney/gpio-valve/internal/status"
	"github.com/sweeney/gpio-valve/internal/valve"
	"github.com/sweeney/gpio-valve/internal/web"
)

type settings struct {
	configPath      string
	broker          string
	clientID        string
	username        string
	password        string
	discoveryPrefix string
	topicPrefix     string
	gpioBackend     string
	gpioChip        string
	skipReset       bool
	restoreTimeout  time.Duration
	heartbeat       time.Duration
	httpAddr        string
	checkConfig     bool
}

func main() {
	var s settings
	pflag.StringVar(&s.configPath, "config", "/etc/gpio-valve/valves.yaml", "Valve configuration file")
	pflag.StringVar(&s.broker, "broker", "tcp://192.168.1.200:1883", "MQTT broker address")
	pflag.StringVar(&s.clientID, "client-id", "gpio-valve", "MQTT client id")
	pflag.StringVar(&s.username, "username", "", "MQTT username")
	pflag.StringVar(&s.password, "password", "", "MQTT password")
	pflag.StringVar(&s.discoveryPrefix, "discovery-prefix", mqtt.DefaultDiscoveryPrefix, "Home Assistant discovery prefix")
	pflag.StringVar(&s.topicPrefix, "topic-prefix", mqtt.DefaultTopicPrefix, "Prefix for state, command and system topics")
	pflag.StringVar(&s.gpioBackend, "gpio-backend", gpio.BackendCdev, "GPIO backend (cdev or periph)")
	pflag.StringVar(&s.gpioChip, "gpio-chip", gpio.DefaultChip, "GPIO chip for the cdev backend")
	pflag.BoolVar(&s.skipReset, "skip-reset", false, "Leave the pins untouched at startup")
	pflag.DurationVar(&s.restoreTimeout, "restore-timeout", 2*time.Second, "Wait for a recorded valve state")
	pflag.DurationVar(&s.heartbeat, "heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	pflag.StringVar(&s.httpAddr, "http", ":80", "HTTP status address (empty to disable)")
	pflag.BoolVar(&s.checkConfig, "check-config", false, "Validate the configuration, print the valves and exit")
	logLevel := pflag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logFormat := pflag.String("log-format", "console", "Log format (console or json)")

	pflag.Parse()

	log, err := newLogger(os.Stderr, *logLevel, *logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(2)
	}

	if err := run(s, log); err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}

func newLogger(w io.Writer, level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("log level: %w", err)
	}
	switch format {
	case "json":
	case "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	default:
		return zerolog.Logger{}, fmt.Errorf("log format %q: want console or json", format)
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

func run(s settings, log zerolog.Logger) error {
	block, err := config.Load(s.configPath)
	if err != nil {
		return err
	}

	if s.checkConfig {
		printConfig(os.Stdout, block)
		return nil
	}

	// Initialize GPIO
	pins, err := gpio.Open(s.gpioBackend, s.gpioChip)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer pins.Close()

	// Initialize MQTT
	client, err := mqtt.NewRealClient(mqtt.Options{
		Broker:   s.broker,
		ClientID: s.clientID,
		Username: s.username,
		Password: s.password,
		Layout: mqtt.Layout{
			DiscoveryPrefix: s.discoveryPrefix,
			TopicPrefix:     s.topicPrefix,
			NodeID:          mqtt.DefaultNodeID,
		},
		RestoreTimeout: s.restoreTimeout,
		Log:            log,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	wires := block.Wires()
	tracker := status.NewTracker(time.Now(), status.Config{
		Broker:        s.broker,
		HTTPAddr:      s.httpAddr,
		GPIOBackend:   s.gpioBackend,
		RedWirePort:   wires.Red,
		BlackWirePort: wires.Black,
		HeartbeatMs:   s.heartbeat.Milliseconds(),
		SkipReset:     s.skipReset,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	d := &daemon{
		client:  client,
		conn:    client,
		tracker: tracker,
		now:     time.Now,
		log:     log,
	}
	valveLog := log.With().Str("component", "valve").Logger()
	d.bank, err = valve.Setup(pins, wires, block.ValveConfigs(), client, valve.Options{
		SkipReset: s.skipReset,
		OnUpdate:  d.onUpdate,
		Log:       &valveLog,
	})
	if err != nil {
		return fmt.Errorf("setup valves: %w", err)
	}

	cmds := make(chan mqtt.Command, commandQueue)
	if err := d.start(context.Background(), enqueue(cmds, log)); err != nil {
		return fmt.Errorf("subscribe commands: %w", err)
	}

	// Start HTTP status server
	if s.httpAddr != "" {
		srv := web.New(s.httpAddr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("http server error")
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Info().Str("addr", s.httpAddr).Msg("http status server listening")
	}

	log.Info().
		Int("valves", d.bank.Len()).
		Int("red_wire", wires.Red).
		Int("black_wire", wires.Black).
		Str("broker", s.broker).
		Dur("heartbeat", s.heartbeat).
		Msg("started")

	var heartbeat <-chan time.Time
	if s.heartbeat > 0 {
		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return d.runLoop(cmds, heartbeat, sigCh)
}

func printConfig(w io.Writer, b config.Block) {
	wires := b.Wires()
	fmt.Fprintf(w, "red wire: %d, black wire: %d\n", wires.Red, wires.Black)
	for _, v := range b.ValveConfigs() {
		fmt.Fprintf(w, "%s: port %d, id %s\n", v.Name, v.Port, valve.ObjectID(v))
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
