package websocket

import (
	"encoding/json"
	"time"

	"github.com/KevinKickass/OpenRVCore/internal/gateway"
	"github.com/KevinKickass/OpenRVCore/internal/types"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Client to server
	MessageTypeAuth        MessageType = "auth"
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"

	// Server to client
	MessageTypeAuthSuccess   MessageType = "auth_success"
	MessageTypeAuthFailed    MessageType = "auth_failed"
	MessageTypeFrame         MessageType = "frame"
	MessageTypeCommandResult MessageType = "command_result"
	MessageTypeSystemStatus  MessageType = "system_status"
	MessageTypeError         MessageType = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data"`

	// frame name, used for per-client subscriptions
	name string
}

// ClientMessage is anything a client sends. Data depends on Type.
type ClientMessage struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

type AuthData struct {
	Token string `json:"token"`
}

// SubscribeData narrows the frame stream to the named messages. An empty
// list subscribes to everything again.
type SubscribeData struct {
	Names []string `json:"names"`
}

type AuthSuccessData struct {
	ClientID    string   `json:"client_id"`
	Permissions []string `json:"permissions"`
}

type ErrorData struct {
	Reason string `json:"reason"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewFrameMessage(f *types.DecodedFrame) Message {
	msg := NewMessage(MessageTypeFrame, f)
	msg.name = f.Name
	return msg
}

func NewCommandResultMessage(r gateway.Result) Message {
	return NewMessage(MessageTypeCommandResult, r)
}

func NewSystemStatusMessage(status any) Message {
	return NewMessage(MessageTypeSystemStatus, status)
}
