package livepos

import (
	"log/slog"
	"sync"

	"github.com/haivivi/bigrid/pkg/bigraph"
)

// World is the collaborator that renders cells and live blocks.
type World interface {
	// SetCells replaces the static grid.
	SetCells(cells []bigraph.Cell)

	// MoveLive moves the live block of u.Channel.
	MoveLive(u Update)

	// Control applies a control action.
	Control(c Control)
}

// Dispatcher hands parser results, updates and control actions to a World.
//
// Adapters deliver from their own reader goroutines. The Dispatcher serialises
// every call into the World, so the World never sees two calls at once. Calls
// from one connection keep their arrival order; there is no ordering across
// connections.
type Dispatcher struct {
	world World

	// Channels bounds the accepted channel indexes to [0, Channels). Zero
	// accepts any non-negative channel.
	Channels int

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	mu sync.Mutex
}

// NewDispatcher returns a Dispatcher delivering to w.
func NewDispatcher(w World) *Dispatcher {
	return &Dispatcher{world: w}
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Cells replaces the world grid with the cells of res.
func (d *Dispatcher) Cells(res *bigraph.Result) {
	if res == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.world.SetCells(res.Cells)
	d.logger().Info("grid loaded", "cells", len(res.Cells))
}

// HandleUpdate implements Handler. Updates for a channel outside the
// configured bound are dropped with a warning.
func (d *Dispatcher) HandleUpdate(u Update) {
	if u.Channel < 0 || (d.Channels > 0 && u.Channel >= d.Channels) {
		d.logger().Warn("live channel out of range", "channel", u.Channel, "channels", d.Channels, "source", u.Source)
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.world.MoveLive(u)
}

// HandleControl implements ControlHandler.
func (d *Dispatcher) HandleControl(c Control) {
	if c == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.world.Control(c)
}

var (
	_ Handler        = (*Dispatcher)(nil)
	_ ControlHandler = (*Dispatcher)(nil)
)
