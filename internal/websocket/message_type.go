package websocket

import (
	"encoding/json"
)

// Inbound control events. Every other event name is treated as a client event.
const (
	EventSubscribe   = "subscribe"
	EventUnsubscribe = "unsubscribe"
)

// EventConnected is sent once after the upgrade with the socket id.
const EventConnected = "connected"

// Frame is an inbound websocket message.
type Frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data,omitempty"`
	Auth    *FrameAuth      `json:"auth,omitempty"`
}

// FrameAuth carries the headers the client wants forwarded to the auth endpoint.
type FrameAuth struct {
	Headers map[string]string `json:"headers"`
}

// AuthHeaders is nil-safe.
func (f Frame) AuthHeaders() map[string]string {
	if f.Auth == nil {
		return nil
	}
	return f.Auth.Headers
}

// Message is an outbound websocket message.
type Message struct {
	Event   string `json:"event"`
	Channel string `json:"channel,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// ConnectData is the payload of EventConnected.
type ConnectData struct {
	SocketID string `json:"socket_id"`
}

func encodeMessage(event, channel string, data any) ([]byte, error) {
	return json.Marshal(Message{Event: event, Channel: channel, Data: data})
}
