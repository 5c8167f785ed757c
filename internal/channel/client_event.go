package channel

import (
	"encoding/json"
)

// RoomChecker reports whether a connection is in a room.
type RoomChecker interface {
	InRoom(connID, channel string) bool
}

// ClientEvent is a client originated event. Data is kept as received.
type ClientEvent struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ParseClientEvent decodes the routing fields of raw. Data is never
// interpreted, so payloads that are not valid JSON objects pass through.
func ParseClientEvent(raw []byte) (ClientEvent, bool) {
	var ev ClientEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ClientEvent{}, false
	}
	if ev.Event == "" || ev.Channel == "" {
		return ClientEvent{}, false
	}
	return ev, true
}

// ClientEventFilter decides whether a client event may be rebroadcast.
type ClientEventFilter struct {
	classifier *Classifier
	rooms      RoomChecker
}

func NewClientEventFilter(classifier *Classifier, rooms RoomChecker) *ClientEventFilter {
	return &ClientEventFilter{classifier: classifier, rooms: rooms}
}

// Accept requires a client event name, a private-style channel and a sender
// that is in the channel's room.
func (f *ClientEventFilter) Accept(conn Connection, event, channel string) bool {
	return f.classifier.IsClientEvent(event) &&
		f.classifier.IsPrivate(channel) &&
		f.rooms.InRoom(conn.ID(), channel)
}
