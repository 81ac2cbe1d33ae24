package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/spf13/cobra"

	"github.com/haivivi/bigrid/pkg/cli"
	"github.com/haivivi/bigrid/pkg/livepos"
	"github.com/haivivi/bigrid/pkg/metrics"
	"github.com/haivivi/bigrid/pkg/pubsub"
	"github.com/haivivi/bigrid/pkg/rawsock"
	"github.com/haivivi/bigrid/pkg/rosbridge"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Print live position updates and control actions",
	Long: `Connect to the configured live feeds and print every event.

Feeds:
  rawsock    one WebSocket per channel, channel i on the base port + i
  pubsub     MQTT control topic carrying blink_start / blink_stop
  rosbridge  drone pose topics /cf<N>/pose, drone start+i on channel i

Flags override the config file. There is no reconnect: a feed that drops is
reported and stays down until the command is restarted.

Examples:
  bigrid listen --model grid.xmi --channels 4
  bigrid listen --embedded-broker :9090 --no-rawsock
  bigrid listen --rosbridge localhost:9090 --drones 3 --metrics-addr :9100`,
	Args: cobra.NoArgs,
	RunE: runListen,
}

func init() {
	f := listenCmd.Flags()
	f.String("model", "", "model document to load before listening")
	f.String("rawsock-addr", "", "address of raw socket channel 0")
	f.Int("channels", 0, "number of raw socket channels")
	f.Bool("no-rawsock", false, "disable the raw socket feed")
	f.String("mqtt-addr", "", "MQTT broker address (tcp://, ws://, wss://)")
	f.String("topic", "", "MQTT control topic")
	f.Bool("no-pubsub", false, "disable the MQTT feed")
	f.String("embedded-broker", "", "run an MQTT broker on this WebSocket address and subscribe to it")
	f.String("rosbridge", "", "rosbridge address; enables the drone feed")
	f.Int("drones", 0, "number of drone pose topics")
	f.Int("drone-start", 0, "number of the first drone")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address")
}

// applyListenFlags merges the flags that were set into cfg.
func applyListenFlags(cmd *cobra.Command, cfg *cli.Config) {
	f := cmd.Flags()
	str := func(name string, dst *string) {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	num := func(name string, dst *int) {
		if f.Changed(name) {
			*dst, _ = f.GetInt(name)
		}
	}
	off := func(name string, dst *bool) {
		if v, _ := f.GetBool(name); v {
			*dst = false
		}
	}

	str("rawsock-addr", &cfg.RawSock.Addr)
	num("channels", &cfg.RawSock.Channels)
	off("no-rawsock", &cfg.RawSock.Enabled)
	str("mqtt-addr", &cfg.PubSub.Addr)
	str("topic", &cfg.PubSub.Topic)
	off("no-pubsub", &cfg.PubSub.Enabled)
	str("embedded-broker", &cfg.PubSub.EmbeddedBroker)
	if f.Changed("rosbridge") {
		cfg.RosBridge.Enabled = true
		cfg.RosBridge.Addr, _ = f.GetString("rosbridge")
	}
	num("drones", &cfg.RosBridge.Drones)
	num("drone-start", &cfg.RosBridge.DroneStart)
	str("metrics-addr", &cfg.Metrics.Addr)

	if cfg.PubSub.EmbeddedBroker != "" && !f.Changed("mqtt-addr") {
		cfg.PubSub.Enabled = true
		cfg.PubSub.Addr = "ws://" + dialAddr(cfg.PubSub.EmbeddedBroker)
	}
}

// dialAddr turns a listen address such as ":9090" into one a client can
// dial.
func dialAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}

func runListen(cmd *cobra.Command, args []string) error {
	cfg := *getConfig()
	applyListenFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()
	world := cli.NewEventPrinter(os.Stdout)
	disp := livepos.NewDispatcher(world)
	disp.Logger = logger
	disp.Channels = max(cfg.RawSock.Channels, 0)
	if cfg.RosBridge.Enabled {
		disp.Channels = max(disp.Channels, cfg.RosBridge.Drones)
	}

	if model, _ := cmd.Flags().GetString("model"); model != "" {
		opts, err := cfg.Parser.Options()
		if err != nil {
			return err
		}
		res, err := parseFile(model, opts)
		if err != nil {
			return err
		}
		disp.Cells(res)
	}

	if addr := cfg.Metrics.Addr; addr != "" {
		srv := serveMetrics(addr)
		defer shutdown(srv)
	}

	if addr := cfg.PubSub.EmbeddedBroker; addr != "" {
		broker := &pubsub.Broker{Logger: logger}
		ready, err := startBroker(broker, addr)
		if err != nil {
			return err
		}
		defer broker.Close()
		cli.PrintInfo("Embedded MQTT broker on ws://%s", ready)
	}

	var closers []func() error

	if cfg.RawSock.Enabled && cfg.RawSock.Channels > 0 {
		raw := rawsock.New(disp)
		raw.Logger = logger
		for i := 0; i < cfg.RawSock.Channels; i++ {
			addr, err := rawsock.Address(cfg.RawSock.Addr, i)
			if err != nil {
				return err
			}
			printVerbose("rawsock channel %d: %s", i, addr)
			raw.Connect(ctx, addr, i)
		}
		closers = append(closers, raw.CloseAll)
	}

	if cfg.PubSub.Enabled {
		ps := pubsub.New(disp)
		ps.Topic = cfg.PubSub.Topic
		ps.KeepAlive = uint16(cfg.PubSub.KeepAlive)
		ps.Logger = logger
		printVerbose("pubsub: %s topic %s", cfg.PubSub.Addr, ps.Topic)
		ps.Connect(ctx, cfg.PubSub.Addr)
		closers = append(closers, ps.Close)
	}

	if cfg.RosBridge.Enabled && cfg.RosBridge.Drones > 0 {
		rb := rosbridge.New()
		rb.Logger = logger
		if _, err := rb.SubscribeDrones(ctx, cfg.RosBridge.Addr, cfg.RosBridge.DroneStart, cfg.RosBridge.Drones, disp); err != nil {
			return err
		}
		closers = append(closers, rb.CloseAll)
	}

	if len(closers) == 0 {
		return errors.New("no live feed enabled")
	}

	<-ctx.Done()
	cli.PrintInfo("Shutting down")
	var errs []error
	for _, c := range closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// startBroker runs broker on a WebSocket listener at addr and waits until it
// accepts connections. It returns the dialable address.
func startBroker(broker *pubsub.Broker, addr string) (string, error) {
	errCh := make(chan error, 1)
	go func() {
		errCh <- broker.Serve(listeners.NewWebsocket(listeners.Config{ID: "ws", Address: addr}))
	}()

	target := dialAddr(addr)
	deadline := time.Now().Add(5 * time.Second)
	for {
		select {
		case err := <-errCh:
			return "", fmt.Errorf("embedded broker: %w", err)
		default:
		}
		if c, err := net.DialTimeout("tcp", target, 200*time.Millisecond); err == nil {
			c.Close()
			return target, nil
		}
		if time.Now().After(deadline) {
			broker.Close()
			return "", fmt.Errorf("embedded broker: %s not reachable", target)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	cli.PrintInfo("Metrics on http://%s/metrics", dialAddr(addr))
	return srv
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}
