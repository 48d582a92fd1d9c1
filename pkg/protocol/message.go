// Package protocol defines the JSON messages exchanged with drivers of the
// rover over WebSocket and MQTT. Every message is a flat object whose
// "type" field selects the remaining fields.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/teslashibe/go-rover/pkg/control"
	"github.com/teslashibe/go-rover/pkg/telemetry"
)

// MessageType identifies the type of message
type MessageType string

const (
	// Operator → rover
	TypeControl MessageType = "control" // Joystick sample
	TypeConfig  MessageType = "config"  // Parameter change
	TypeStatus  MessageType = "status"  // Status request, and its reply

	// Rover → operator
	TypeTelemetry MessageType = "telemetry"
	TypeError     MessageType = "error"

	// Bidirectional
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

var (
	// ErrMalformed indicates bytes that are not a JSON object with a type.
	ErrMalformed = errors.New("protocol: malformed message")

	// ErrMissingField indicates a required field is absent.
	ErrMissingField = errors.New("protocol: missing field")

	// ErrWrongType indicates a decode for a different message type.
	ErrWrongType = errors.New("protocol: wrong message type")
)

// Message is a parsed inbound message. The body is decoded on demand.
type Message struct {
	Type MessageType
	raw  []byte
}

// ParseMessage reads the type of a JSON message.
func ParseMessage(data []byte) (*Message, error) {
	var head struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if head.Type == "" {
		return nil, fmt.Errorf("%w: no type", ErrMalformed)
	}
	return &Message{Type: head.Type, raw: data}, nil
}

// ParseData unmarshals the whole message into v.
func (m *Message) ParseData(v any) error {
	return json.Unmarshal(m.raw, v)
}

// Control decodes a control message. Angle and magnitude are required.
func (m *Message) Control() (control.JoystickCommand, error) {
	if m.Type != TypeControl {
		return control.JoystickCommand{}, fmt.Errorf("%w: %s", ErrWrongType, m.Type)
	}
	var wire struct {
		Angle     *float64 `json:"angle"`
		Magnitude *float64 `json:"magnitude"`
		Timestamp uint32   `json:"timestamp"`
	}
	if err := m.ParseData(&wire); err != nil {
		return control.JoystickCommand{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if wire.Angle == nil || wire.Magnitude == nil {
		return control.JoystickCommand{}, fmt.Errorf("%w: angle and magnitude", ErrMissingField)
	}
	return control.JoystickCommand{
		Angle:     *wire.Angle,
		Magnitude: *wire.Magnitude,
		Timestamp: wire.Timestamp,
	}, nil
}

// Config decodes a config message. Param and value are required.
func (m *Message) Config() (Config, error) {
	if m.Type != TypeConfig {
		return Config{}, fmt.Errorf("%w: %s", ErrWrongType, m.Type)
	}
	var c Config
	if err := m.ParseData(&c); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if c.Param == "" {
		return Config{}, fmt.Errorf("%w: param", ErrMissingField)
	}
	return c, nil
}

// =============================================================================
// Message bodies
// =============================================================================

// Control carries a joystick sample.
type Control struct {
	Type MessageType `json:"type"`
	control.JoystickCommand
}

// Config sets one named parameter.
type Config struct {
	Type  MessageType `json:"type"`
	Param string      `json:"param"`
	Value string      `json:"value"`
}

// Telemetry is a snapshot with its type tag.
type Telemetry struct {
	Type MessageType `json:"type"`
	telemetry.Snapshot
}

// Status reports rover health.
type Status struct {
	Type    MessageType `json:"type"`
	State   string      `json:"state"`
	Mode    string      `json:"mode,omitempty"`
	Clients int         `json:"clients,omitempty"`
}

// Error reports a rejected message.
type Error struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// Ping and Pong are keepalives.
type Ping struct {
	Type MessageType `json:"type"`
	TS   int64       `json:"ts,omitempty"`
}

// =============================================================================
// Constructors
// =============================================================================

// NewControl wraps a joystick sample.
func NewControl(cmd control.JoystickCommand) Control {
	return Control{Type: TypeControl, JoystickCommand: cmd}
}

// NewConfig builds a parameter change.
func NewConfig(param, value string) Config {
	return Config{Type: TypeConfig, Param: param, Value: value}
}

// NewTelemetry wraps a snapshot.
func NewTelemetry(s telemetry.Snapshot) Telemetry {
	return Telemetry{Type: TypeTelemetry, Snapshot: s}
}

// NewStatus builds a status reply.
func NewStatus(state string) Status {
	return Status{Type: TypeStatus, State: state}
}

// NewError reports err to the peer.
func NewError(err error) Error {
	return Error{Type: TypeError, Message: err.Error()}
}

// NewPing builds a keepalive stamped with the current time.
func NewPing() Ping {
	return Ping{Type: TypePing, TS: time.Now().UnixMilli()}
}

// NewPong answers a ping.
func NewPong() Ping {
	return Ping{Type: TypePong, TS: time.Now().UnixMilli()}
}

// Encode returns the JSON encoding of a message body.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return data, nil
}
