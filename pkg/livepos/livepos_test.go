package livepos

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/haivivi/bigrid/pkg/bigraph"
	"github.com/haivivi/bigrid/pkg/coord"
)

type recordingWorld struct {
	mu       sync.Mutex
	cells    []bigraph.Cell
	updates  []Update
	controls []Control
	inside   int
	overlap  bool
}

func (w *recordingWorld) enter() {
	w.mu.Lock()
	w.inside++
	if w.inside > 1 {
		w.overlap = true
	}
	w.mu.Unlock()
}

func (w *recordingWorld) leave() {
	w.mu.Lock()
	w.inside--
	w.mu.Unlock()
}

func (w *recordingWorld) SetCells(cells []bigraph.Cell) {
	w.enter()
	defer w.leave()
	w.cells = cells
}

func (w *recordingWorld) MoveLive(u Update) {
	w.enter()
	defer w.leave()
	w.updates = append(w.updates, u)
}

func (w *recordingWorld) Control(c Control) {
	w.enter()
	defer w.leave()
	w.controls = append(w.controls, c)
}

func TestDispatcherCells(t *testing.T) {
	w := &recordingWorld{}
	d := NewDispatcher(w)
	cells := []bigraph.Cell{{Index: 0, Locale: "v0", Point: coord.Point{X: 1, Y: 2}}}
	d.Cells(&bigraph.Result{Cells: cells})
	d.Cells(nil)
	if diff := cmp.Diff(cells, w.cells); diff != "" {
		t.Errorf("cells mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatcherChannelBound(t *testing.T) {
	w := &recordingWorld{}
	d := NewDispatcher(w)
	d.Channels = 2

	d.HandleUpdate(Update{Position: [3]float64{1, 2, 3}, Channel: 1, Source: SourceRawSocket})
	d.HandleUpdate(Update{Channel: 2})
	d.HandleUpdate(Update{Channel: -1})

	want := []Update{{Position: [3]float64{1, 2, 3}, Channel: 1, Source: SourceRawSocket}}
	if diff := cmp.Diff(want, w.updates); diff != "" {
		t.Errorf("updates mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatcherSerialises(t *testing.T) {
	w := &recordingWorld{}
	d := NewDispatcher(w)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(ch int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				d.HandleUpdate(Update{Channel: ch})
				d.HandleControl(&BlinkStop{Key: "k"})
			}
		}(i)
	}
	wg.Wait()

	if w.overlap {
		t.Error("world saw concurrent calls")
	}
	if len(w.updates) != 800 || len(w.controls) != 800 {
		t.Errorf("got %d updates and %d controls, want 800 each", len(w.updates), len(w.controls))
	}
}

func TestDecodeControl(t *testing.T) {
	tests := []struct {
		in   string
		want Control
	}{
		{`{"action":"blink_start","params":{"key":"b1","color":"blue"}}`, &BlinkStart{Key: "b1", Color: "blue"}},
		{`{"action":"blink_start","params":{"key":"b1"}}`, &BlinkStart{Key: "b1", Color: DefaultBlinkColor}},
		{`{"action":"blink_stop","params":{"key":"b2"}}`, &BlinkStop{Key: "b2"}},
	}
	for _, tt := range tests {
		got, err := DecodeControl([]byte(tt.in))
		if err != nil {
			t.Fatalf("DecodeControl(%s) error: %v", tt.in, err)
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("DecodeControl(%s) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}

func TestDecodeControlErrors(t *testing.T) {
	for _, in := range []string{
		`not json`,
		`{}`,
		`{"action":"blink_start"}`,
		`{"action":"blink_start","params":null}`,
		`{"action":"blink_start","params":{}}`,
		`{"action":"blink_stop","params":{"key":""}}`,
		`{"action":"blink_stop","params":[1]}`,
	} {
		if c, err := DecodeControl([]byte(in)); err == nil {
			t.Errorf("DecodeControl(%s) = %#v, want error", in, c)
		}
	}

	_, err := DecodeControl([]byte(`{"action":"teleport","params":{"key":"x"}}`))
	if !errors.Is(err, ErrUnknownAction) {
		t.Errorf("error = %v, want ErrUnknownAction", err)
	}
}

func TestEncodeControlRoundTrip(t *testing.T) {
	for _, c := range []Control{
		&BlinkStart{Key: "a", Color: "#00ff00"},
		&BlinkStop{Key: "b"},
	} {
		b, err := EncodeControl(c)
		if err != nil {
			t.Fatal(err)
		}
		got, err := DecodeControl(b)
		if err != nil {
			t.Fatalf("DecodeControl(%s): %v", b, err)
		}
		if diff := cmp.Diff(c, got); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestSourceString(t *testing.T) {
	for s, want := range map[Source]string{
		SourceRawSocket: "rawsock",
		SourcePubSub:    "pubsub",
		SourceRosBridge: "rosbridge",
		SourceUnknown:   "unknown",
	} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(s), s.String(), want)
		}
	}
}
