// Package pubsub receives world control actions from an MQTT broker.
//
// An Adapter holds at most one client. The client subscribes to a single
// topic and decodes each payload into a livepos.Control:
//
//	{"action": "blink_start", "params": {"key": "v3", "color": "#00ff00"}}
package pubsub

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"github.com/haivivi/bigrid/pkg/connmgr"
	"github.com/haivivi/bigrid/pkg/livepos"
	"github.com/haivivi/bigrid/pkg/metrics"
)

const (
	// DefaultAddr is the broker address used when none is configured.
	DefaultAddr = "ws://localhost:9090"

	// DefaultTopic carries the control actions.
	DefaultTopic = "world/blocks"

	defaultKeepAlive = 20
)

const transport = "pubsub"

// ErrNotConnected is returned by Publish before the client is open.
var ErrNotConnected = errors.New("pubsub: not connected")

// Adapter owns the broker client.
type Adapter struct {
	handler livepos.ControlHandler

	// Topic defaults to DefaultTopic.
	Topic string

	// KeepAlive in seconds, defaults to 20.
	KeepAlive uint16

	// TLSConfig is used for tls and wss addresses.
	TLSConfig *tls.Config

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	mu     sync.Mutex
	client *Client
}

// New returns an Adapter delivering control actions to h.
func New(h livepos.ControlHandler) *Adapter {
	return &Adapter{handler: h}
}

func (a *Adapter) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

func (a *Adapter) topic() string {
	if a.Topic != "" {
		return a.Topic
	}
	return DefaultTopic
}

func (a *Adapter) keepAlive() uint16 {
	if a.KeepAlive == 0 {
		return defaultKeepAlive
	}
	return a.KeepAlive
}

// Connect starts a client for addr unless one already exists, in which case
// it logs a warning and returns the existing client. ctx bounds the dial,
// the MQTT handshake and the subscription.
func (a *Adapter) Connect(ctx context.Context, addr string) *Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c := a.client; c != nil && c.State() != connmgr.Closed {
		a.logger().Warn("mqtt client already exists", "addr", c.addr, "state", c.State())
		return c
	}
	c := newClient(ctx, a, addr)
	a.client = c
	return c
}

// Client returns the current client.
func (a *Adapter) Client() (*Client, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client, a.client != nil
}

// Connections describes the current client.
func (a *Adapter) Connections() []connmgr.Info {
	c, ok := a.Client()
	if !ok {
		return nil
	}
	return []connmgr.Info{{Key: c.addr, State: c.State(), Subscriptions: c.Topics()}}
}

// Close closes the current client and clears it.
func (a *Adapter) Close() error {
	a.mu.Lock()
	c := a.client
	a.client = nil
	a.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}

func (a *Adapter) release(c *Client) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == c {
		a.client = nil
	}
}

// Client is one broker session.
type Client struct {
	adapter *Adapter
	addr    string
	topic   string
	id      string
	log     *slog.Logger

	status    connmgr.Status
	cancel    context.CancelFunc
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	err       error

	mu sync.Mutex
	pc *paho.Client
}

func newClient(ctx context.Context, a *Adapter, addr string) *Client {
	dialCtx, cancel := context.WithCancel(ctx)
	id := "bigrid-" + uuid.NewString()
	c := &Client{
		adapter: a,
		addr:    addr,
		topic:   a.topic(),
		id:      id,
		log:     a.logger().With("transport", transport, "client_id", id),
		cancel:  cancel,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.run(dialCtx)
	return c
}

// ID returns the MQTT client identifier.
func (c *Client) ID() string { return c.id }

// Addr returns the broker address.
func (c *Client) Addr() string { return c.addr }

// State returns the lifecycle state.
func (c *Client) State() connmgr.State { return c.status.Load() }

// Topics returns the subscribed topic.
func (c *Client) Topics() []string { return []string{c.topic} }

// Done is closed when the session has ended.
func (c *Client) Done() <-chan struct{} { return c.done }

// Wait blocks until the client is subscribed or has failed.
func (c *Client) Wait(ctx context.Context) error {
	select {
	case <-c.ready:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects from the broker.
func (c *Client) Close() error {
	c.mu.Lock()
	first := c.status.Close()
	pc := c.pc
	c.mu.Unlock()
	if !first {
		return nil
	}
	c.cancel()
	c.log.Info("closing mqtt client")
	if pc == nil {
		return nil
	}
	return pc.Disconnect(&paho.Disconnect{ReasonCode: 0})
}

// Publish sends a control action on the client's topic.
func (c *Client) Publish(ctx context.Context, ctl livepos.Control) error {
	c.mu.Lock()
	pc := c.pc
	c.mu.Unlock()
	if pc == nil || c.State() != connmgr.Open {
		return ErrNotConnected
	}
	b, err := livepos.EncodeControl(ctl)
	if err != nil {
		return err
	}
	if _, err := pc.Publish(ctx, &paho.Publish{Topic: c.topic, Payload: b}); err != nil {
		return fmt.Errorf("pubsub: publish %s: %w", c.topic, err)
	}
	return nil
}

func (c *Client) markReady(err error) {
	c.readyOnce.Do(func() {
		c.err = err
		close(c.ready)
	})
}

func (c *Client) run(ctx context.Context) {
	defer func() {
		c.status.Close()
		c.cancel()
		c.adapter.release(c)
		c.markReady(net.ErrClosed)
		close(c.done)
	}()

	pc, err := c.connect(ctx)
	if err != nil {
		if c.State() != connmgr.Closed {
			c.log.Error("mqtt connect failed", "addr", c.addr, "error", err)
		}
		c.markReady(err)
		return
	}

	c.mu.Lock()
	if !c.status.Open() {
		c.mu.Unlock()
		pc.Disconnect(&paho.Disconnect{ReasonCode: 0})
		return
	}
	c.pc = pc
	c.mu.Unlock()
	c.markReady(nil)

	c.log.Info("mqtt connected", "addr", c.addr, "topic", c.topic)
	metrics.ConnectionOpened(transport)
	defer metrics.ConnectionClosed(transport)

	<-pc.Done()
	if c.State() != connmgr.Closed {
		c.log.Warn("mqtt connection lost", "addr", c.addr)
	}
}

func (c *Client) connect(ctx context.Context) (*paho.Client, error) {
	conn, err := Dial(ctx, c.addr, c.adapter.TLSConfig)
	if err != nil {
		return nil, fmt.Errorf("pubsub: dial %s: %w", c.addr, err)
	}
	pc := paho.NewClient(paho.ClientConfig{
		ClientID: c.id,
		Conn:     conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				c.handle(pr.Packet.Topic, pr.Packet.Payload)
				return true, nil
			},
		},
		OnClientError: func(err error) {
			c.log.Warn("mqtt client error", "error", err)
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			c.log.Warn("mqtt server disconnect", "reason_code", d.ReasonCode)
		},
	})
	if _, err := pc.Connect(ctx, &paho.Connect{
		ClientID:   c.id,
		KeepAlive:  c.adapter.keepAlive(),
		CleanStart: true,
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pubsub: connect %s: %w", c.addr, err)
	}
	if _, err := pc.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: c.topic}},
	}); err != nil {
		pc.Disconnect(&paho.Disconnect{ReasonCode: 0})
		return nil, fmt.Errorf("pubsub: subscribe %s: %w", c.topic, err)
	}
	return pc, nil
}

func (c *Client) handle(topic string, payload []byte) {
	metrics.FrameReceived(transport)
	ctl, err := livepos.DecodeControl(payload)
	switch {
	case errors.Is(err, livepos.ErrUnknownAction):
		metrics.FrameDropped(transport, metrics.ReasonIgnored)
		c.log.Debug("ignoring mqtt message", "topic", topic, "error", err)
		return
	case err != nil:
		metrics.FrameDropped(transport, metrics.ReasonDecode)
		c.log.Warn("invalid mqtt message", "topic", topic, "payload", string(payload), "error", err)
		return
	}
	c.log.Debug("mqtt control received", "topic", topic, "action", ctl.Action())
	if c.adapter.handler != nil {
		c.adapter.handler.HandleControl(ctl)
	}
}
