// Package livepos defines the canonical events every transport adapter and
// the model parser hand to the world: positioned cells, live position updates
// and control actions.
package livepos

import (
	"encoding/json"
	"fmt"
)

// Source identifies the transport an update arrived on.
type Source int

const (
	SourceUnknown Source = iota
	SourceRawSocket
	SourcePubSub
	SourceRosBridge
)

func (s Source) String() string {
	switch s {
	case SourceRawSocket:
		return "rawsock"
	case SourcePubSub:
		return "pubsub"
	case SourceRosBridge:
		return "rosbridge"
	default:
		return "unknown"
	}
}

func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Update is a live position update for one channel. Channel is the live block
// index the position belongs to.
type Update struct {
	Position [3]float64 `json:"position"`
	Channel  int        `json:"channel"`
	Source   Source     `json:"source"`
}

func (u Update) String() string {
	return fmt.Sprintf("%s[%d] (%g, %g, %g)", u.Source, u.Channel, u.Position[0], u.Position[1], u.Position[2])
}

// Handler receives canonical updates.
type Handler interface {
	HandleUpdate(Update)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(Update)

func (f HandlerFunc) HandleUpdate(u Update) {
	f(u)
}

// RawHandler receives messages that have no canonical position shape,
// together with the channel they were subscribed on.
type RawHandler interface {
	HandleRaw(topic string, msg json.RawMessage, channel int)
}

// RawHandlerFunc adapts a function to RawHandler.
type RawHandlerFunc func(topic string, msg json.RawMessage, channel int)

func (f RawHandlerFunc) HandleRaw(topic string, msg json.RawMessage, channel int) {
	f(topic, msg, channel)
}
