package handlers

import (
	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"

	"github.com/terry-lonesski/laravel-echo-server/internal/websocket"
)

type WSHandler struct {
	hub      *websocket.Hub
	handler  websocket.Handler
	upgrader *gorilla.Upgrader
}

func NewWSHandler(hub *websocket.Hub, handler websocket.Handler, upgrader *gorilla.Upgrader) *WSHandler {
	return &WSHandler{hub: hub, handler: handler, upgrader: upgrader}
}

// HandleWebSocket upgrades the request. The handshake headers, cookies
// included, are kept for private channel authorization.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	websocket.ServeWS(h.hub, h.handler, h.upgrader, c.Writer, c.Request)
}
