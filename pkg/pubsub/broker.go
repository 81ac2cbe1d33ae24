package pubsub

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	mochimqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/haivivi/bigrid/pkg/livepos"
)

var (
	// ErrBrokerClosed is returned by Serve after Close.
	ErrBrokerClosed = errors.New("pubsub: broker closed")

	// ErrBrokerRunning is returned when Serve is called twice.
	ErrBrokerRunning = errors.New("pubsub: broker already running")

	errBrokerNotRunning = errors.New("pubsub: broker not running")
)

// Broker is an embedded MQTT broker that accepts every client. It lets the
// listen command and tests run without an external broker.
type Broker struct {
	// OnConnect and OnDisconnect are called with the client id.
	OnConnect    func(clientID string)
	OnDisconnect func(clientID string)

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	mu         sync.Mutex
	mochi      *mochimqtt.Server
	inShutdown atomic.Bool
}

// Serve runs the broker on lns and blocks until it is closed.
//
//	b := &pubsub.Broker{}
//	tcp := listeners.NewTCP(listeners.Config{ID: "tcp", Address: ":1883"})
//	ws := listeners.NewWebsocket(listeners.Config{ID: "ws", Address: ":9090"})
//	err := b.Serve(tcp, ws)
func (b *Broker) Serve(lns ...listeners.Listener) error {
	m, err := b.init(lns)
	if err != nil {
		return err
	}
	return m.Serve()
}

func (b *Broker) init(lns []listeners.Listener) (*mochimqtt.Server, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inShutdown.Load() {
		return nil, ErrBrokerClosed
	}
	if b.mochi != nil {
		return nil, ErrBrokerRunning
	}

	m := mochimqtt.New(&mochimqtt.Options{InlineClient: true})
	if err := m.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, err
	}
	if err := m.AddHook(&sessionHook{broker: b}, nil); err != nil {
		return nil, err
	}
	for _, ln := range lns {
		if err := m.AddListener(ln); err != nil {
			m.Close()
			return nil, err
		}
	}
	b.mochi = m
	return m, nil
}

// Close stops the broker. It is safe to call more than once.
func (b *Broker) Close() error {
	b.inShutdown.Store(true)
	b.mu.Lock()
	m := b.mochi
	b.mochi = nil
	b.mu.Unlock()
	if m == nil {
		return nil
	}
	return m.Close()
}

// Publish sends payload to every subscriber of topic.
func (b *Broker) Publish(topic string, payload []byte) error {
	b.mu.Lock()
	m := b.mochi
	b.mu.Unlock()
	if m == nil {
		return errBrokerNotRunning
	}
	return m.Publish(topic, payload, false, 0)
}

// PublishControl encodes ctl and publishes it on topic.
func (b *Broker) PublishControl(topic string, ctl livepos.Control) error {
	payload, err := livepos.EncodeControl(ctl)
	if err != nil {
		return err
	}
	return b.Publish(topic, payload)
}

func (b *Broker) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

type sessionHook struct {
	mochimqtt.HookBase
	broker *Broker
}

func (h *sessionHook) ID() string { return "bigrid-session" }

func (h *sessionHook) Provides(b byte) bool {
	return b == mochimqtt.OnSessionEstablished || b == mochimqtt.OnDisconnect
}

func (h *sessionHook) OnSessionEstablished(cl *mochimqtt.Client, pk packets.Packet) {
	h.broker.logger().Debug("broker client connected", "client_id", cl.ID)
	if fn := h.broker.OnConnect; fn != nil {
		fn(cl.ID)
	}
}

func (h *sessionHook) OnDisconnect(cl *mochimqtt.Client, err error, expire bool) {
	h.broker.logger().Debug("broker client disconnected", "client_id", cl.ID, "error", err)
	if fn := h.broker.OnDisconnect; fn != nil {
		fn(cl.ID)
	}
}
