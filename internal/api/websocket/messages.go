package websocket

import (
	"time"

	"github.com/KevinKickass/ModbusMonitor/internal/types"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	MessageTypePassResult      MessageType = "pass_result"
	MessageTypeMonitoringState MessageType = "monitoring_state"

	// Replies to client commands
	MessageTypeSubscribed MessageType = "subscribed"
	MessageTypeError      MessageType = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`

	// device scopes the message for subscription filtering; empty means all clients
	device string
}

type MonitoringStateData struct {
	Device string                `json:"device"`
	State  types.MonitoringState `json:"state"`
	Error  string                `json:"error,omitempty"`
}

type SubscriptionData struct {
	Devices []string `json:"devices"`
}

// clientCommand is what clients may send: {"type":"subscribe","devices":["press"]}.
// An empty device list subscribes to everything.
type clientCommand struct {
	Type    string   `json:"type"`
	Devices []string `json:"devices"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewPassResultMessage(pass types.PassResult) Message {
	msg := NewMessage(MessageTypePassResult, pass)
	msg.device = pass.DeviceID
	return msg
}

func NewMonitoringStateMessage(device string, state types.MonitoringState, err error) Message {
	data := MonitoringStateData{Device: device, State: state}
	if err != nil {
		data.Error = err.Error()
	}
	msg := NewMessage(MessageTypeMonitoringState, data)
	msg.device = device
	return msg
}
