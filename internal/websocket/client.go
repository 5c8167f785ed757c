package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/terry-lonesski/laravel-echo-server/internal/channel"
	"github.com/terry-lonesski/laravel-echo-server/pkg/logger"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	// Time allowed for the leave path once the transport is gone
	disconnectTimeout = 10 * time.Second

	sendBufferSize = 256
)

// Handler receives the channel requests of a client. Implemented by
// channel.Coordinator.
type Handler interface {
	Join(ctx context.Context, conn channel.Connection, req channel.JoinRequest) error
	Leave(ctx context.Context, conn channel.Connection, name, reason string)
	Disconnect(ctx context.Context, conn channel.Connection, reason string)
	ClientEvent(conn channel.Connection, raw []byte) bool
}

// Client is one websocket connection. Inbound frames are handled one at a
// time in arrival order, so a subscribe always completes before a later
// unsubscribe of the same channel is looked at.
type Client struct {
	id      string
	hub     *Hub
	handler Handler
	conn    *websocket.Conn
	send    chan []byte
	header  http.Header
	logger  *logger.Logger

	mu     sync.RWMutex
	userID string

	// Connection state management
	ctx    context.Context
	cancel context.CancelFunc
	closed int32
}

func NewClient(hub *Hub, handler Handler, conn *websocket.Conn, header http.Header, log *logger.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()

	return &Client{
		id:      id,
		hub:     hub,
		handler: handler,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		header:  header,
		logger:  log.With("socketID", id),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Client) SetUserID(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
}

func (c *Client) Header() http.Header {
	return c.header
}

func (c *Client) isClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

// Close stops both pumps. Safe to call more than once.
func (c *Client) Close() {
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		c.cancel()
		c.logger.Debug("Client marked as closed")
	}
}

// enqueue queues an encoded message. A client whose buffer is full is
// considered too slow and is disconnected.
func (c *Client) enqueue(data []byte) error {
	if c.isClosed() {
		return ErrClientDisconnected
	}

	select {
	case c.send <- data:
		return nil
	case <-c.ctx.Done():
		return ErrClientDisconnected
	default:
		c.logger.Warn("Send buffer full, closing client")
		c.Close()
		return ErrClientDisconnected
	}
}

func (c *Client) readPump() {
	defer func() {
		c.Close()

		ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		c.handler.Disconnect(ctx, c, "disconnect")
		c.hub.unregister(c)

		if err := c.conn.Close(); err != nil {
			c.logger.Debug("Error closing connection", "error", err)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		if c.isClosed() {
			return websocket.ErrCloseSent
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", "error", err)
			} else {
				c.logger.Debug("WebSocket connection closed", "error", err)
			}
			return
		}
		if c.isClosed() {
			return
		}
		c.dispatch(raw)
	}
}

func (c *Client) dispatch(raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.logger.Debug("Dropping malformed frame", "error", err)
		return
	}

	switch frame.Event {
	case EventSubscribe:
		err := c.handler.Join(c.ctx, c, channel.JoinRequest{
			Channel:     frame.Channel,
			AuthHeaders: frame.AuthHeaders(),
		})
		if err != nil && !errors.Is(err, channel.ErrJoinInFlight) {
			c.logger.Debug("Subscribe failed", "channel", frame.Channel, "error", err)
		}
	case EventUnsubscribe:
		c.handler.Leave(c.ctx, c, frame.Channel, "unsubscribe")
	default:
		c.handler.ClientEvent(c, raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		// readPump owns the disconnect path; closing here unblocks its read
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("Error writing message", "error", err)
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("Error sending ping", "error", err)
				c.Close()
				return
			}

		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// ServeWS upgrades the request and starts the client pumps.
func ServeWS(hub *Hub, handler Handler, upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("Failed to upgrade WebSocket connection", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(hub, handler, conn, r.Header.Clone(), hub.logger)
	hub.register(client)
	hub.Emit(client.id, EventConnected, "", ConnectData{SocketID: client.id})
	client.logger.Info("New WebSocket connection established", "remote", r.RemoteAddr)

	go client.writePump()
	go client.readPump()
}
