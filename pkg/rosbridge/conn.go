package rosbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/haivivi/bigrid/pkg/connmgr"
	"github.com/haivivi/bigrid/pkg/livepos"
	"github.com/haivivi/bigrid/pkg/metrics"
)

type opFrame struct {
	Op    string `json:"op"`
	Topic string `json:"topic"`
	Type  string `json:"type,omitempty"`
}

// Conn is one rosbridge server connection.
type Conn struct {
	adapter *Adapter
	url     string
	log     *slog.Logger

	status    connmgr.Status
	cancel    context.CancelFunc
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	err       error

	mu   sync.Mutex
	ws   *websocket.Conn
	subs map[string]*Subscription

	writeMu sync.Mutex
}

func newConn(ctx context.Context, a *Adapter, key string) *Conn {
	dialCtx, cancel := context.WithCancel(ctx)
	c := &Conn{
		adapter: a,
		url:     key,
		log:     a.logger().With("transport", transport, "url", key),
		cancel:  cancel,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		subs:    make(map[string]*Subscription),
	}
	go c.run(dialCtx)
	return c
}

// URL returns the normalized server URL.
func (c *Conn) URL() string { return c.url }

// State returns the lifecycle state.
func (c *Conn) State() connmgr.State { return c.status.Load() }

// Done is closed when the connection has ended.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Wait blocks until the connection is open or has failed to open.
func (c *Conn) Wait(ctx context.Context) error {
	select {
	case <-c.ready:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Topics returns the subscribed topics, sorted.
func (c *Conn) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topicsLocked()
}

func (c *Conn) topicsLocked() []string {
	topics := make([]string, 0, len(c.subs))
	for t := range c.subs {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// Subscribe registers sub, replacing any handler for the same topic. The
// subscribe frame is sent now if the connection is open, otherwise when it
// opens. The returned function unsubscribes; it does nothing once sub has
// been replaced.
func (c *Conn) Subscribe(sub Subscription) func() {
	s := &sub
	c.mu.Lock()
	if c.status.Load() == connmgr.Closed {
		c.mu.Unlock()
		c.log.Warn("connection closed, subscription dropped", "topic", s.Topic)
		return func() {}
	}
	c.subs[s.Topic] = s
	open := c.status.Load() == connmgr.Open
	topics := c.topicsLocked()
	c.mu.Unlock()

	c.log.Info("registered topic handler", "topic", s.Topic, "type", s.Type, "channel", s.Channel, "topics", topics)
	if open {
		c.sendSubscribe(s)
	} else {
		c.log.Debug("connection not open, subscription queued", "topic", s.Topic)
	}

	var once sync.Once
	return func() {
		once.Do(func() { c.unsubscribe(s) })
	}
}

func (c *Conn) unsubscribe(s *Subscription) {
	c.mu.Lock()
	if c.subs[s.Topic] != s {
		c.mu.Unlock()
		return
	}
	delete(c.subs, s.Topic)
	open := c.status.Load() == connmgr.Open
	c.mu.Unlock()

	if !open {
		return
	}
	if err := c.send(opFrame{Op: "unsubscribe", Topic: s.Topic}); err != nil {
		c.log.Warn("unsubscribe failed", "topic", s.Topic, "error", err)
		return
	}
	c.log.Info("unsubscribed", "topic", s.Topic)
}

func (c *Conn) sendSubscribe(s *Subscription) {
	if err := c.send(opFrame{Op: "subscribe", Topic: s.Topic, Type: s.Type}); err != nil {
		c.log.Warn("subscribe failed", "topic", s.Topic, "error", err)
		return
	}
	c.log.Info("subscribed", "topic", s.Topic, "type", s.Type)
}

// flush sends the subscriptions queued before the connection opened. A
// subscription replaced or removed since it was queued is skipped. writeMu is
// held across the check, so a concurrent unsubscribe frame is always written
// after the subscribe it cancels.
func (c *Conn) flush(ws *websocket.Conn, pending []*Subscription) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	for _, s := range pending {
		c.mu.Lock()
		current := c.subs[s.Topic] == s
		c.mu.Unlock()
		if !current {
			c.log.Debug("skipping stale queued subscription", "topic", s.Topic)
			continue
		}
		if err := ws.WriteJSON(opFrame{Op: "subscribe", Topic: s.Topic, Type: s.Type}); err != nil {
			c.log.Warn("subscribe failed", "topic", s.Topic, "error", err)
			return
		}
		c.log.Info("subscribed", "topic", s.Topic, "type", s.Type)
	}
}

func (c *Conn) send(f opFrame) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return net.ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteJSON(f)
}

// Close unsubscribes every topic and closes the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	wasOpen := c.status.Load() == connmgr.Open
	first := c.status.Close()
	ws := c.ws
	topics := c.topicsLocked()
	clear(c.subs)
	c.mu.Unlock()
	if !first {
		return nil
	}
	c.cancel()
	if ws == nil {
		return nil
	}
	c.log.Info("closing rosbridge connection", "topics", topics)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if wasOpen {
		for _, t := range topics {
			ws.WriteJSON(opFrame{Op: "unsubscribe", Topic: t})
		}
	}
	ws.WriteControl(websocket.CloseMessage,
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
		c.adapter.conns.Remove(c.url, c)
		c.markReady(net.ErrClosed)
		close(c.done)
	}()

	ws, _, err := c.adapter.dialer().DialContext(ctx, c.url, nil)
	if err != nil {
		if c.State() != connmgr.Closed {
			c.log.Error("rosbridge dial failed", "error", err)
		}
		c.markReady(fmt.Errorf("rosbridge: dial %s: %w", c.url, err))
		return
	}

	c.mu.Lock()
	if !c.status.Open() {
		c.mu.Unlock()
		ws.Close()
		return
	}
	c.ws = ws
	pending := make([]*Subscription, 0, len(c.subs))
	for _, t := range c.topicsLocked() {
		pending = append(pending, c.subs[t])
	}
	c.mu.Unlock()

	c.log.Info("rosbridge connection established", "pending", len(pending))
	metrics.ConnectionOpened(transport)
	defer metrics.ConnectionClosed(transport)

	c.flush(ws, pending)
	c.markReady(nil)

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if c.State() != connmgr.Closed {
				c.log.Warn("rosbridge connection closed", "error", err)
			}
			ws.Close()
			return
		}
		c.dispatch(msg)
	}
}

func (c *Conn) dispatch(msg []byte) {
	metrics.FrameReceived(transport)
	if !gjson.ValidBytes(msg) {
		metrics.FrameDropped(transport, metrics.ReasonDecode)
		c.log.Warn("failed to parse rosbridge message", "data", string(msg))
		return
	}
	frame := gjson.ParseBytes(msg)
	topic := frame.Get("topic").String()
	body := frame.Get("msg")
	if frame.Get("op").String() != "publish" || topic == "" || !body.Exists() || body.Type == gjson.Null {
		metrics.FrameDropped(transport, metrics.ReasonIgnored)
		c.log.Debug("ignoring rosbridge frame", "op", frame.Get("op").String(), "topic", topic)
		return
	}

	c.mu.Lock()
	s, ok := c.subs[topic]
	var topics []string
	if !ok {
		topics = c.topicsLocked()
	}
	c.mu.Unlock()
	if !ok {
		metrics.FrameDropped(transport, metrics.ReasonNoHandler)
		c.log.Warn("topic handler not found", "topic", topic, "topics", topics)
		return
	}

	if !IsPoseType(s.Type) {
		if s.Raw == nil {
			metrics.FrameDropped(transport, metrics.ReasonIgnored)
			c.log.Debug("no raw handler for topic", "topic", topic, "type", s.Type)
			return
		}
		s.Raw.HandleRaw(topic, json.RawMessage(body.Raw), s.Channel)
		return
	}

	pos := body.Get("pose.position")
	if !pos.IsObject() {
		metrics.FrameDropped(transport, metrics.ReasonBadPayload)
		c.log.Warn("invalid message format, missing pose.position", "topic", topic, "msg", body.Raw)
		return
	}
	if s.Handler == nil {
		return
	}
	s.Handler.HandleUpdate(livepos.Update{
		Position: [3]float64{
			pos.Get("x").Float(),
			pos.Get("y").Float(),
			pos.Get("z").Float(),
		},
		Channel: s.Channel,
		Source:  livepos.SourceRosBridge,
	})
}
