// Package rosbridge receives live positions from a rosbridge WebSocket
// server. One connection per server multiplexes any number of topic
// subscriptions.
//
// Outbound frames:
//
//	{"op": "subscribe", "topic": "/cf231/pose", "type": "geometry_msgs/PoseStamped"}
//	{"op": "unsubscribe", "topic": "/cf231/pose"}
//
// Inbound frames:
//
//	{"op": "publish", "topic": "/cf231/pose", "msg": {"pose": {"position": {"x": 1, "y": 2, "z": 0}}}}
package rosbridge

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/haivivi/bigrid/pkg/connmgr"
	"github.com/haivivi/bigrid/pkg/livepos"
)

const (
	// DefaultAddr is the rosbridge server used when none is configured.
	DefaultAddr = "localhost:9090"

	// DefaultDroneStart is the number of the first drone topic.
	DefaultDroneStart = 231

	// PoseStamped message types. Both the ROS 1 and ROS 2 spellings are
	// unwrapped into positions.
	PoseStamped     = "geometry_msgs/PoseStamped"
	PoseStampedROS2 = "geometry_msgs/msg/PoseStamped"
)

const transport = "rosbridge"

// IsPoseType reports whether messages of type t carry pose.position.
func IsPoseType(t string) bool {
	return t == PoseStamped || t == PoseStampedROS2
}

// DroneTopic returns the pose topic of drone n.
func DroneTopic(n int) string {
	return fmt.Sprintf("/cf%d/pose", n)
}

// NormalizeURL turns addr into the key its connection is registered under.
// A bare host:port gets the ws scheme and an empty path becomes "/", so
// "localhost:9090", "ws://localhost:9090" and "ws://localhost:9090/" are the
// same connection.
func NormalizeURL(addr string) (string, error) {
	raw := strings.TrimSpace(addr)
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "ws://") && !strings.HasPrefix(lower, "wss://") {
		raw = "ws://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("rosbridge: invalid address %q: %w", addr, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("rosbridge: invalid address %q: missing host", addr)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// Subscription binds a topic to a live channel.
type Subscription struct {
	Topic   string
	Type    string
	Channel int

	// Handler receives positions unwrapped from pose messages.
	Handler livepos.Handler

	// Raw receives the msg of every other message type. Such messages are
	// dropped when Raw is nil.
	Raw livepos.RawHandler
}

// Adapter owns the connections to rosbridge servers.
type Adapter struct {
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	conns connmgr.Registry[string, *Conn]
}

// New returns an Adapter.
func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

func (a *Adapter) dialer() *websocket.Dialer {
	if a.Dialer != nil {
		return a.Dialer
	}
	return websocket.DefaultDialer
}

// Connect returns the connection for addr, dialing it if there is no
// connecting or open connection for the normalized address. ctx bounds the
// dial only.
func (a *Adapter) Connect(ctx context.Context, addr string) (*Conn, error) {
	key, err := NormalizeURL(addr)
	if err != nil {
		return nil, err
	}
	c, created := a.conns.GetOrCreate(key, func() *Conn {
		return newConn(ctx, a, key)
	})
	if !created {
		a.logger().Info("rosbridge connection exists", "url", key, "requested", addr, "state", c.State())
	}
	return c, nil
}

// Subscribe connects to addr and subscribes sub. The returned function
// unsubscribes it.
func (a *Adapter) Subscribe(ctx context.Context, addr string, sub Subscription) (func(), error) {
	c, err := a.Connect(ctx, addr)
	if err != nil {
		return nil, err
	}
	return c.Subscribe(sub), nil
}

// SubscribeDrones subscribes the pose topics of count drones numbered from
// start. Drone start+i is delivered on channel i. It returns one unsubscribe
// function per topic.
func (a *Adapter) SubscribeDrones(ctx context.Context, addr string, start, count int, h livepos.Handler) ([]func(), error) {
	if count < 0 {
		return nil, fmt.Errorf("rosbridge: negative drone count %d", count)
	}
	c, err := a.Connect(ctx, addr)
	if err != nil {
		return nil, err
	}
	unsubs := make([]func(), 0, count)
	for i := 0; i < count; i++ {
		unsubs = append(unsubs, c.Subscribe(Subscription{
			Topic:   DroneTopic(start + i),
			Type:    PoseStamped,
			Channel: i,
			Handler: h,
		}))
	}
	return unsubs, nil
}

// Conn returns the registered connection for addr.
func (a *Adapter) Conn(addr string) (*Conn, bool) {
	key, err := NormalizeURL(addr)
	if err != nil {
		return nil, false
	}
	return a.conns.Get(key)
}

// Connections describes the registered connections.
func (a *Adapter) Connections() []connmgr.Info {
	return a.conns.Snapshot()
}

// CloseAll unsubscribes every topic and closes every connection.
func (a *Adapter) CloseAll() error {
	return a.conns.CloseAll()
}
