package rosbridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/haivivi/bigrid/pkg/connmgr"
	"github.com/haivivi/bigrid/pkg/livepos"
)

// fakeBridge is a rosbridge server that records the frames it receives and
// lets the test publish on the accepted connection.
type fakeBridge struct {
	t      *testing.T
	host   string
	frames chan opFrame
	conns  chan *websocket.Conn
}

func newFakeBridge(t *testing.T) *fakeBridge {
	t.Helper()
	fb := &fakeBridge{
		t:      t,
		frames: make(chan opFrame, 64),
		conns:  make(chan *websocket.Conn, 4),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		fb.conns <- ws
		for {
			var f opFrame
			if err := ws.ReadJSON(&f); err != nil {
				return
			}
			fb.frames <- f
		}
	}))
	t.Cleanup(srv.Close)
	fb.host = strings.TrimPrefix(srv.URL, "http://")
	return fb
}

func (fb *fakeBridge) accept() *websocket.Conn {
	fb.t.Helper()
	select {
	case ws := <-fb.conns:
		return ws
	case <-time.After(5 * time.Second):
		fb.t.Fatal("no connection accepted")
		return nil
	}
}

func (fb *fakeBridge) next() opFrame {
	fb.t.Helper()
	select {
	case f := <-fb.frames:
		return f
	case <-time.After(5 * time.Second):
		fb.t.Fatal("no frame received")
		return opFrame{}
	}
}

func publish(t *testing.T, ws *websocket.Conn, topic string, msg any) {
	t.Helper()
	frame := map[string]any{"op": "publish", "topic": topic, "msg": msg}
	if err := ws.WriteJSON(frame); err != nil {
		t.Fatalf("publish %s: %v", topic, err)
	}
}

func pose(x, y, z float64) map[string]any {
	return map[string]any{"pose": map[string]any{"position": map[string]any{"x": x, "y": y, "z": z}}}
}

func collect() (livepos.Handler, <-chan livepos.Update) {
	ch := make(chan livepos.Update, 16)
	return livepos.HandlerFunc(func(u livepos.Update) { ch <- u }), ch
}

func recv(t *testing.T, ch <-chan livepos.Update) livepos.Update {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(5 * time.Second):
		t.Fatal("no update received")
		return livepos.Update{}
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"localhost:9090", "ws://localhost:9090/"},
		{"ws://localhost:9090", "ws://localhost:9090/"},
		{"ws://localhost:9090/", "ws://localhost:9090/"},
		{"WS://LocalHost:9090", "ws://localhost:9090/"},
		{"wss://robot.example.com/bridge", "wss://robot.example.com/bridge"},
	}
	for _, tt := range tests {
		got, err := NormalizeURL(tt.in)
		if err != nil {
			t.Errorf("NormalizeURL(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if _, err := NormalizeURL(""); err == nil {
		t.Error("NormalizeURL(\"\") succeeded")
	}
}

func TestQueuedSubscribeAndPose(t *testing.T) {
	fb := newFakeBridge(t)
	a := New()
	defer a.CloseAll()

	h, updates := collect()
	unsub, err := a.Subscribe(context.Background(), fb.host, Subscription{
		Topic:   "/cf231/pose",
		Type:    PoseStamped,
		Channel: 3,
		Handler: h,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer unsub()

	ws := fb.accept()
	want := opFrame{Op: "subscribe", Topic: "/cf231/pose", Type: PoseStamped}
	if diff := cmp.Diff(want, fb.next()); diff != "" {
		t.Fatalf("subscribe frame mismatch (-want +got):\n%s", diff)
	}

	publish(t, ws, "/cf231/pose", map[string]any{"pose": map[string]any{"position": map[string]any{"x": 1, "y": 2}}})
	u := recv(t, updates)
	if u.Position != [3]float64{1, 2, 0} || u.Channel != 3 || u.Source != livepos.SourceRosBridge {
		t.Fatalf("update = %+v, want [1 2 0] on channel 3 from rosbridge", u)
	}

	// Frames the adapter cannot use are dropped without closing the
	// connection.
	ws.WriteMessage(websocket.TextMessage, []byte(`not json`))
	publish(t, ws, "/cf231/pose", map[string]any{"header": map[string]any{}})
	publish(t, ws, "/unknown", pose(9, 9, 9))
	publish(t, ws, "/cf231/pose", pose(4, 5, 6))
	if u := recv(t, updates); u.Position != [3]float64{4, 5, 6} {
		t.Fatalf("update after dropped frames = %v, want [4 5 6]", u.Position)
	}
}

func TestConnectIdempotentAcrossSpellings(t *testing.T) {
	fb := newFakeBridge(t)
	a := New()
	defer a.CloseAll()

	first, err := a.Connect(context.Background(), fb.host)
	if err != nil {
		t.Fatal(err)
	}
	for _, addr := range []string{"ws://" + fb.host, "ws://" + fb.host + "/"} {
		c, err := a.Connect(context.Background(), addr)
		if err != nil {
			t.Fatal(err)
		}
		if c != first {
			t.Errorf("Connect(%q) returned a different connection", addr)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := first.Wait(ctx); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
	if n := len(a.Connections()); n != 1 {
		t.Errorf("len(Connections()) = %d, want 1", n)
	}
}

func TestResubscribeReplacesHandler(t *testing.T) {
	fb := newFakeBridge(t)
	a := New()
	defer a.CloseAll()

	c, err := a.Connect(context.Background(), fb.host)
	if err != nil {
		t.Fatal(err)
	}
	ws := fb.accept()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("Wait() = %v", err)
	}

	var oldCalls atomic.Int32
	stale := c.Subscribe(Subscription{
		Topic:   "/cf231/pose",
		Type:    PoseStamped,
		Handler: livepos.HandlerFunc(func(livepos.Update) { oldCalls.Add(1) }),
	})
	h, updates := collect()
	c.Subscribe(Subscription{Topic: "/cf231/pose", Type: PoseStamped, Channel: 1, Handler: h})

	// Draining the subscribe frames orders the publishes after both
	// registrations.
	fb.next()
	fb.next()

	publish(t, ws, "/cf231/pose", pose(1, 1, 1))
	recv(t, updates)

	// The replaced subscription's unsubscribe must not remove the new one.
	stale()
	publish(t, ws, "/cf231/pose", pose(2, 2, 2))
	if u := recv(t, updates); u.Position != [3]float64{2, 2, 2} {
		t.Fatalf("update = %v, want [2 2 2]", u.Position)
	}
	if n := oldCalls.Load(); n != 0 {
		t.Errorf("replaced handler called %d times", n)
	}
	if diff := cmp.Diff([]string{"/cf231/pose"}, c.Topics()); diff != "" {
		t.Errorf("Topics() mismatch (-want +got):\n%s", diff)
	}
}

func TestUnsubscribeStopsCallbacks(t *testing.T) {
	fb := newFakeBridge(t)
	a := New()
	defer a.CloseAll()

	c, err := a.Connect(context.Background(), fb.host)
	if err != nil {
		t.Fatal(err)
	}
	ws := fb.accept()

	var gone atomic.Int32
	unsub := c.Subscribe(Subscription{
		Topic:   "/a",
		Type:    PoseStamped,
		Handler: livepos.HandlerFunc(func(livepos.Update) { gone.Add(1) }),
	})
	h, updates := collect()
	c.Subscribe(Subscription{Topic: "/b", Type: PoseStamped, Channel: 7, Handler: h})
	fb.next()
	fb.next()

	require.Eventually(t, func() bool { return c.State() == connmgr.Open }, 5*time.Second, 10*time.Millisecond)
	unsub()
	if diff := cmp.Diff(opFrame{Op: "unsubscribe", Topic: "/a"}, fb.next()); diff != "" {
		t.Fatalf("unsubscribe frame mismatch (-want +got):\n%s", diff)
	}

	publish(t, ws, "/a", pose(1, 1, 1))
	publish(t, ws, "/b", pose(2, 2, 2))
	if u := recv(t, updates); u.Channel != 7 {
		t.Fatalf("update channel = %d, want 7", u.Channel)
	}
	if n := gone.Load(); n != 0 {
		t.Errorf("unsubscribed handler called %d times", n)
	}
}

func TestRawHandler(t *testing.T) {
	fb := newFakeBridge(t)
	a := New()
	defer a.CloseAll()

	type raw struct {
		topic   string
		msg     string
		channel int
	}
	got := make(chan raw, 1)
	_, err := a.Subscribe(context.Background(), fb.host, Subscription{
		Topic:   "/battery",
		Type:    "sensor_msgs/BatteryState",
		Channel: 2,
		Raw: livepos.RawHandlerFunc(func(topic string, msg json.RawMessage, channel int) {
			got <- raw{topic, string(msg), channel}
		}),
	})
	if err != nil {
		t.Fatal(err)
	}
	ws := fb.accept()
	fb.next()

	publish(t, ws, "/battery", map[string]any{"voltage": 3.7})
	select {
	case r := <-got:
		want := raw{"/battery", `{"voltage":3.7}`, 2}
		if r != want {
			t.Errorf("raw = %+v, want %+v", r, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("raw handler not called")
	}
}

func TestSubscribeDrones(t *testing.T) {
	fb := newFakeBridge(t)
	a := New()
	defer a.CloseAll()

	h, updates := collect()
	unsubs, err := a.SubscribeDrones(context.Background(), fb.host, DefaultDroneStart, 3, h)
	if err != nil {
		t.Fatal(err)
	}
	if len(unsubs) != 3 {
		t.Fatalf("len(unsubs) = %d, want 3", len(unsubs))
	}
	ws := fb.accept()

	seen := map[string]bool{}
	for range 3 {
		f := fb.next()
		if f.Op != "subscribe" || f.Type != PoseStamped {
			t.Errorf("frame = %+v, want pose subscribe", f)
		}
		seen[f.Topic] = true
	}
	for _, topic := range []string{"/cf231/pose", "/cf232/pose", "/cf233/pose"} {
		if !seen[topic] {
			t.Errorf("no subscribe for %s", topic)
		}
	}

	publish(t, ws, "/cf232/pose", pose(0.5, 1, 1.5))
	u := recv(t, updates)
	if u.Channel != 1 || u.Position != [3]float64{0.5, 1, 1.5} {
		t.Errorf("update = %+v, want [0.5 1 1.5] on channel 1", u)
	}
}

func TestCloseAll(t *testing.T) {
	fb := newFakeBridge(t)
	a := New()

	h, _ := collect()
	if _, err := a.SubscribeDrones(context.Background(), fb.host, 1, 2, h); err != nil {
		t.Fatal(err)
	}
	fb.accept()
	fb.next()
	fb.next()
	c, ok := a.Conn(fb.host)
	if !ok {
		t.Fatal("connection not registered")
	}
	require.Eventually(t, func() bool { return c.State() == connmgr.Open }, 5*time.Second, 10*time.Millisecond)

	if err := a.CloseAll(); err != nil {
		t.Fatalf("CloseAll() = %v", err)
	}
	got := map[string]bool{}
	for range 2 {
		f := fb.next()
		if f.Op != "unsubscribe" {
			t.Errorf("frame = %+v, want unsubscribe", f)
		}
		got[f.Topic] = true
	}
	if !got["/cf1/pose"] || !got["/cf2/pose"] {
		t.Errorf("unsubscribed topics = %v", got)
	}
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Done not closed after CloseAll")
	}
	if n := len(a.Connections()); n != 0 {
		t.Errorf("len(Connections()) = %d, want 0", n)
	}
}

func TestSubscribeDronesNegativeCount(t *testing.T) {
	a := New()
	defer a.CloseAll()

	unsubs, err := a.SubscribeDrones(context.Background(), "127.0.0.1:1", DefaultDroneStart, -1, nil)
	if err == nil {
		t.Fatalf("SubscribeDrones(-1) = %d unsubscribes, want error", len(unsubs))
	}
	if n := len(a.Connections()); n != 0 {
		t.Errorf("len(Connections()) = %d, want 0", n)
	}
}

func TestSubscribeAfterClose(t *testing.T) {
	fb := newFakeBridge(t)
	a := New()
	defer a.CloseAll()

	c, err := a.Connect(context.Background(), fb.host)
	if err != nil {
		t.Fatal(err)
	}
	fb.accept()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	h, _ := collect()
	unsub := c.Subscribe(Subscription{Topic: "/cf231/pose", Type: PoseStamped, Handler: h})
	if topics := c.Topics(); len(topics) != 0 {
		t.Errorf("Topics() = %v, want none", topics)
	}
	unsub()
}

func TestFlushSkipsReplacedSubscription(t *testing.T) {
	fb := newFakeBridge(t)
	a := New()
	defer a.CloseAll()

	c, err := a.Connect(context.Background(), fb.host)
	if err != nil {
		t.Fatal(err)
	}
	fb.accept()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("Wait() = %v", err)
	}

	h, _ := collect()
	c.Subscribe(Subscription{Topic: "/cf231/pose", Type: PoseStamped, Handler: h})
	if f := fb.next(); f.Op != "subscribe" || f.Topic != "/cf231/pose" {
		t.Fatalf("frame = %+v, want subscribe /cf231/pose", f)
	}

	// A queued entry that was unsubscribed before the flush sends nothing.
	removed := &Subscription{Topic: "/cf232/pose", Type: PoseStamped}
	c.flush(c.ws, []*Subscription{removed})

	c.Subscribe(Subscription{Topic: "/cf233/pose", Type: PoseStamped, Handler: h})
	if f := fb.next(); f.Op != "subscribe" || f.Topic != "/cf233/pose" {
		t.Fatalf("frame = %+v, want subscribe /cf233/pose", f)
	}
}
