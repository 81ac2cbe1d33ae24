package livepos

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultBlinkColor is used when a blink_start action names no colour.
const DefaultBlinkColor = "#ff0000"

// Action names carried in the "action" field of a control message.
const (
	ActionBlinkStart = "blink_start"
	ActionBlinkStop  = "blink_stop"
)

// ErrUnknownAction is returned by DecodeControl for an action it does not
// know. Callers usually ignore such messages.
var ErrUnknownAction = errors.New("livepos: unknown action")

// Control is a world control action. It is one of *BlinkStart or *BlinkStop.
type Control interface {
	Action() string
	control()
}

// BlinkStart starts blinking the block identified by Key.
type BlinkStart struct {
	Key   string `json:"key"`
	Color string `json:"color,omitempty"`
}

func (*BlinkStart) Action() string { return ActionBlinkStart }
func (*BlinkStart) control()       {}

// BlinkStop stops blinking the block identified by Key.
type BlinkStop struct {
	Key string `json:"key"`
}

func (*BlinkStop) Action() string { return ActionBlinkStop }
func (*BlinkStop) control()       {}

// ControlHandler receives control actions.
type ControlHandler interface {
	HandleControl(Control)
}

// ControlHandlerFunc adapts a function to ControlHandler.
type ControlHandlerFunc func(Control)

func (f ControlHandlerFunc) HandleControl(c Control) {
	f(c)
}

type controlEnvelope struct {
	Action string          `json:"action"`
	Params json.RawMessage `json:"params,omitempty"`
}

// DecodeControl decodes a {"action": ..., "params": {...}} message.
//
// A message whose action is unknown returns ErrUnknownAction. Blink actions
// without a params.key are rejected.
func DecodeControl(data []byte) (Control, error) {
	var env controlEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("livepos: decode control: %w", err)
	}

	var c Control
	switch env.Action {
	case ActionBlinkStart:
		c = &BlinkStart{}
	case ActionBlinkStop:
		c = &BlinkStop{}
	case "":
		return nil, errors.New("livepos: decode control: missing action")
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, env.Action)
	}

	if len(env.Params) == 0 || string(env.Params) == "null" {
		return nil, fmt.Errorf("livepos: decode control: %s without params", env.Action)
	}
	if err := json.Unmarshal(env.Params, c); err != nil {
		return nil, fmt.Errorf("livepos: decode control %s params: %w", env.Action, err)
	}

	switch v := c.(type) {
	case *BlinkStart:
		if v.Key == "" {
			return nil, fmt.Errorf("livepos: decode control: %s without key", env.Action)
		}
		if v.Color == "" {
			v.Color = DefaultBlinkColor
		}
	case *BlinkStop:
		if v.Key == "" {
			return nil, fmt.Errorf("livepos: decode control: %s without key", env.Action)
		}
	}
	return c, nil
}

// EncodeControl renders c in the wire form DecodeControl accepts.
func EncodeControl(c Control) ([]byte, error) {
	params, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return json.Marshal(controlEnvelope{Action: c.Action(), Params: params})
}
