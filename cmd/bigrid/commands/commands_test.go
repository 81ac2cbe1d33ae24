package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/spf13/pflag"

	"github.com/haivivi/bigrid/pkg/bigraph"
	"github.com/haivivi/bigrid/pkg/cli"
)

func TestDialAddr(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{":9090", "localhost:9090"},
		{"0.0.0.0:9090", "localhost:9090"},
		{"127.0.0.1:1883", "127.0.0.1:1883"},
		{"broker", "broker"},
	}
	for _, tt := range tests {
		if got := dialAddr(tt.in); got != tt.want {
			t.Errorf("dialAddr(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestApplyListenFlags(t *testing.T) {
	cfg := cli.DefaultConfig()
	f := listenCmd.Flags()
	defer f.VisitAll(func(fl *pflag.Flag) {
		fl.Value.Set(fl.DefValue)
		fl.Changed = false
	})

	for name, value := range map[string]string{
		"channels":        "4",
		"no-rawsock":      "true",
		"embedded-broker": ":19090",
		"rosbridge":       "robot:9090",
		"drones":          "3",
	} {
		if err := f.Set(name, value); err != nil {
			t.Fatalf("Set(%s): %v", name, err)
		}
	}
	applyListenFlags(listenCmd, cfg)

	want := cli.DefaultConfig()
	want.RawSock.Channels = 4
	want.RawSock.Enabled = false
	want.PubSub.EmbeddedBroker = ":19090"
	want.PubSub.Addr = "ws://localhost:19090"
	want.RosBridge.Enabled = true
	want.RosBridge.Addr = "robot:9090"
	want.RosBridge.Drones = 3
	if diff := cmp.Diff(want, cfg, cmpopts.IgnoreUnexported(cli.Config{})); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestParseFile(t *testing.T) {
	g := bigraph.DefaultGrid()
	g.Rows, g.Cols = 2, 3
	g.MultiRoot = true

	var buf bytes.Buffer
	if err := bigraph.WriteGrid(&buf, g); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "grid.xmi")
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		t.Fatal(err)
	}

	res, err := parseFile(path, bigraph.DefaultOptions(bigraph.MultiRoot))
	if err != nil {
		t.Fatalf("parseFile() error = %v", err)
	}
	if len(res.Cells) != 6 {
		t.Fatalf("len(Cells) = %d, want 6", len(res.Cells))
	}
	if diff := cmp.Diff(g.Points()[5], res.Cells[5].Point); diff != "" {
		t.Errorf("last point mismatch (-want +got):\n%s", diff)
	}

	if _, err := parseFile(filepath.Join(t.TempDir(), "missing.xmi"), bigraph.DefaultOptions(bigraph.MultiRoot)); err == nil {
		t.Error("parseFile() of a missing file succeeded")
	}
}
