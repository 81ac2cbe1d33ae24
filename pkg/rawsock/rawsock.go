// Package rawsock receives live positions over plain WebSocket connections,
// one connection per live channel.
//
// Every text frame is an envelope whose "value" field is itself a JSON
// encoded array of three numbers:
//
//	{"value": "[0.5, 1.25, 0]"}
package rawsock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haivivi/bigrid/pkg/connmgr"
	"github.com/haivivi/bigrid/pkg/livepos"
	"github.com/haivivi/bigrid/pkg/metrics"
)

// DefaultAddr is the address of the first live channel server. Channel i
// listens on the port of DefaultAddr plus i by convention, see Address.
const DefaultAddr = "ws://localhost:8765"

const transport = "rawsock"

// ErrInvalidFrame is wrapped by DecodeFrame errors.
var ErrInvalidFrame = errors.New("rawsock: invalid frame")

// Adapter owns the per-channel connections. The zero value is not usable;
// create one with New.
type Adapter struct {
	handler livepos.Handler

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	conns connmgr.Registry[int, *Conn]
}

// New returns an Adapter delivering updates to h.
func New(h livepos.Handler) *Adapter {
	return &Adapter{handler: h}
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

// Connect returns the connection for channel, dialing addr if there is no
// connecting or open connection for it yet. It does not wait for the dial;
// use Conn.Wait for that. ctx bounds the dial only.
func (a *Adapter) Connect(ctx context.Context, addr string, channel int) *Conn {
	c, created := a.conns.GetOrCreate(channel, func() *Conn {
		return newConn(ctx, a, addr, channel)
	})
	if !created {
		a.logger().Info("websocket already connected or connecting", "channel", channel, "state", c.State())
	}
	return c
}

// Conn returns the registered connection for channel.
func (a *Adapter) Conn(channel int) (*Conn, bool) {
	return a.conns.Get(channel)
}

// Connections describes the registered connections.
func (a *Adapter) Connections() []connmgr.Info {
	return a.conns.Snapshot()
}

// CloseAll closes every connection.
func (a *Adapter) CloseAll() error {
	a.conns.Range(func(ch int, _ *Conn) bool {
		a.logger().Info("closing websocket", "channel", ch)
		return true
	})
	return a.conns.CloseAll()
}

// Conn is one live channel connection.
type Conn struct {
	adapter *Adapter
	addr    string
	channel int
	log     *slog.Logger

	status    connmgr.Status
	cancel    context.CancelFunc
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	err       error

	mu sync.Mutex
	ws *websocket.Conn
}

func newConn(ctx context.Context, a *Adapter, addr string, channel int) *Conn {
	dialCtx, cancel := context.WithCancel(ctx)
	c := &Conn{
		adapter: a,
		addr:    addr,
		channel: channel,
		log:     a.logger().With("transport", transport, "channel", channel),
		cancel:  cancel,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.run(dialCtx)
	return c
}

// Channel returns the live channel index.
func (c *Conn) Channel() int { return c.channel }

// Addr returns the dialed address.
func (c *Conn) Addr() string { return c.addr }

// State returns the lifecycle state.
func (c *Conn) State() connmgr.State { return c.status.Load() }

// Done is closed when the connection has ended.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns the dial error once Wait has returned.
func (c *Conn) Err() error {
	select {
	case <-c.ready:
		return c.err
	default:
		return nil
	}
}

// Wait blocks until the connection is open or has failed to open.
func (c *Conn) Wait(ctx context.Context) error {
	select {
	case <-c.ready:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the connection. Closing a connection that is still dialing
// aborts the dial.
func (c *Conn) Close() error {
	c.mu.Lock()
	first := c.status.Close()
	ws := c.ws
	c.mu.Unlock()
	if !first {
		return nil
	}
	c.cancel()
	if ws == nil {
		return nil
	}
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return ws.Close()
}

func (c *Conn) markReady(err error) {
	c.readyOnce.Do(func() {
		c.err = err
		close(c.ready)
	})
}

func (c *Conn) run(ctx context.Context) {
	defer func() {
		c.status.Close()
		c.cancel()
		c.adapter.conns.Remove(c.channel, c)
		c.markReady(net.ErrClosed)
		close(c.done)
	}()

	ws, _, err := c.adapter.dialer().DialContext(ctx, c.addr, nil)
	if err != nil {
		if c.State() != connmgr.Closed {
			c.log.Error("websocket dial failed", "addr", c.addr, "error", err)
		}
		c.markReady(fmt.Errorf("rawsock: dial %s: %w", c.addr, err))
		return
	}

	c.mu.Lock()
	if !c.status.Open() {
		c.mu.Unlock()
		ws.Close()
		return
	}
	c.ws = ws
	c.mu.Unlock()
	c.markReady(nil)

	c.log.Info("websocket connection established", "addr", c.addr)
	metrics.ConnectionOpened(transport)
	defer metrics.ConnectionClosed(transport)

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if c.State() != connmgr.Closed {
				c.log.Warn("websocket connection closed", "error", err)
			}
			ws.Close()
			return
		}
		c.handle(msg)
	}
}

func (c *Conn) handle(msg []byte) {
	metrics.FrameReceived(transport)
	pos, err := DecodeFrame(msg)
	if err != nil {
		metrics.FrameDropped(transport, metrics.ReasonDecode)
		c.log.Warn("invalid websocket data", "data", truncate(msg, 200), "error", err)
		return
	}
	if c.adapter.handler == nil {
		return
	}
	c.adapter.handler.HandleUpdate(livepos.Update{
		Position: pos,
		Channel:  c.channel,
		Source:   livepos.SourceRawSocket,
	})
}

// DecodeFrame extracts the position from a raw socket frame.
func DecodeFrame(b []byte) ([3]float64, error) {
	var env struct {
		Value *string `json:"value"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		return [3]float64{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if env.Value == nil {
		return [3]float64{}, fmt.Errorf("%w: missing value", ErrInvalidFrame)
	}
	var vals []float64
	if err := json.Unmarshal([]byte(*env.Value), &vals); err != nil {
		return [3]float64{}, fmt.Errorf("%w: value: %v", ErrInvalidFrame, err)
	}
	if len(vals) != 3 {
		return [3]float64{}, fmt.Errorf("%w: value has %d elements, want 3", ErrInvalidFrame, len(vals))
	}
	return [3]float64{vals[0], vals[1], vals[2]}, nil
}

// EncodeFrame renders pos as a raw socket frame.
func EncodeFrame(pos [3]float64) ([]byte, error) {
	value, err := json.Marshal(pos)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]string{"value": string(value)})
}

// Address returns the conventional address of live channel i: the port of
// base plus i.
func Address(base string, i int) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("rawsock: parse %q: %w", base, err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return "", fmt.Errorf("rawsock: %q has no numeric port", base)
	}
	u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(port+i))
	return u.String(), nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
