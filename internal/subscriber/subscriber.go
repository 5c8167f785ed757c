// Package subscriber relays backend originated broadcasts into channel rooms.
package subscriber

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Broadcaster delivers an event to the connections of a room. Implemented by
// channel.Coordinator.
type Broadcaster interface {
	Broadcast(channel, event string, data json.RawMessage, exceptConnID string)
}

// Payload is the message format published by the backend broadcaster.
// Socket, when set, is the connection that triggered the event and is skipped.
type Payload struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Socket  string          `json:"socket,omitempty"`
}

var ErrMissingEvent = errors.New("broadcast payload has no event")

func decodePayload(raw []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("decode broadcast payload: %w", err)
	}
	if p.Event == "" {
		return Payload{}, ErrMissingEvent
	}
	if bytes.Equal(bytes.TrimSpace(p.Data), []byte("null")) {
		p.Data = nil
	}
	return p, nil
}
