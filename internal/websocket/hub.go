package websocket

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/terry-lonesski/laravel-echo-server/internal/metrics"
	"github.com/terry-lonesski/laravel-echo-server/pkg/logger"
)

var ErrClientDisconnected = errors.New("client disconnected")

// Hub is the local registry of connected clients and the rooms they are in.
// It is the live-connection source for presence reconciliation.
type Hub struct {
	mu sync.RWMutex

	// Registered clients by socket id
	clients map[string]*Client

	// Room membership by channel name
	rooms map[string]map[string]*Client

	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewHub(log *logger.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
		logger:  log,
		metrics: m,
	}
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()

	h.metrics.ConnectionOpened()
	h.logger.Debug("Client registered", "socketID", client.id)
}

// unregister drops the client from every room it is still in.
func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.id)
	for name, members := range h.rooms {
		delete(members, client.id)
		if len(members) == 0 {
			delete(h.rooms, name)
		}
	}
	h.mu.Unlock()

	h.metrics.ConnectionClosed()
	h.logger.Debug("Client unregistered", "socketID", client.id)
}

func (h *Hub) Join(connID, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[connID]
	if !ok {
		return
	}
	if h.rooms[channel] == nil {
		h.rooms[channel] = make(map[string]*Client)
	}
	h.rooms[channel][connID] = client
}

func (h *Hub) Leave(connID, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.rooms[channel]
	delete(members, connID)
	if len(members) == 0 {
		delete(h.rooms, channel)
	}
}

func (h *Hub) InRoom(connID, channel string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[channel][connID]
	return ok
}

// Members lists the socket ids in a room.
func (h *Hub) Members(channel string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.rooms[channel]))
	for id := range h.rooms[channel] {
		ids = append(ids, id)
	}
	return ids
}

// Emit sends an event to a single connection.
func (h *Hub) Emit(connID, event, channel string, data any) {
	h.mu.RLock()
	client, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	payload, err := encodeMessage(event, channel, data)
	if err != nil {
		h.logger.Error("Failed to encode message", "event", event, "channel", channel, "error", err)
		return
	}
	if err := client.enqueue(payload); err != nil {
		h.logger.Debug("Dropping message for closed client", "socketID", connID, "event", event)
	}
}

// BroadcastExcept sends an event to every connection in a room but one.
// An empty exceptConnID reaches the whole room.
func (h *Hub) BroadcastExcept(channel, exceptConnID, event string, data any) {
	payload, err := encodeMessage(event, channel, data)
	if err != nil {
		h.logger.Error("Failed to encode message", "event", event, "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[channel]))
	for id, client := range h.rooms[channel] {
		if id != exceptConnID {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		if err := client.enqueue(payload); err != nil {
			h.logger.Debug("Dropping message for closed client", "socketID", client.id, "event", event)
		}
	}
}

// RoomInfo describes an occupied room.
type RoomInfo struct {
	Name              string `json:"name"`
	SubscriptionCount int    `json:"subscription_count"`
}

// Rooms lists occupied rooms whose name starts with prefix, sorted by name.
func (h *Hub) Rooms(prefix string) []RoomInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]RoomInfo, 0, len(h.rooms))
	for name, members := range h.rooms {
		if strings.HasPrefix(name, prefix) && len(members) > 0 {
			out = append(out, RoomInfo{Name: name, SubscriptionCount: len(members)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RoomSize is the number of connections in a room.
func (h *Hub) RoomSize(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[channel])
}

// ConnectionCount is the number of registered clients.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client. Their read loops run the disconnect path.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	h.logger.Info("WebSocket hub shutting down", "clients", len(clients))
	for _, c := range clients {
		c.Close()
	}
}
