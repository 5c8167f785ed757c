package handlers

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/terry-lonesski/laravel-echo-server/internal/channel"
	"github.com/terry-lonesski/laravel-echo-server/internal/websocket"
	"github.com/terry-lonesski/laravel-echo-server/pkg/logger"
	"github.com/terry-lonesski/laravel-echo-server/pkg/response"
)

// RoomDirectory reports room occupancy. Implemented by websocket.Hub.
type RoomDirectory interface {
	Rooms(prefix string) []websocket.RoomInfo
	RoomSize(channel string) int
	ConnectionCount() int
}

// AppHandler serves the per-app HTTP API.
type AppHandler struct {
	rooms   RoomDirectory
	coord   *channel.Coordinator
	log     *logger.Logger
	started time.Time
}

func NewAppHandler(rooms RoomDirectory, coord *channel.Coordinator, log *logger.Logger) *AppHandler {
	return &AppHandler{rooms: rooms, coord: coord, log: log, started: time.Now()}
}

type StatusResponse struct {
	SubscriptionCount int              `json:"subscription_count"`
	Uptime            float64          `json:"uptime"`
	MemoryUsage       MemoryUsageStats `json:"memory_usage"`
}

type MemoryUsageStats struct {
	HeapAlloc uint64 `json:"heap_alloc"`
	HeapSys   uint64 `json:"heap_sys"`
	Sys       uint64 `json:"sys"`
}

// Status GET /apps/:appId/status
func (h *AppHandler) Status(c *gin.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	response.OK(c, StatusResponse{
		SubscriptionCount: h.rooms.ConnectionCount(),
		Uptime:            time.Since(h.started).Seconds(),
		MemoryUsage: MemoryUsageStats{
			HeapAlloc: mem.HeapAlloc,
			HeapSys:   mem.HeapSys,
			Sys:       mem.Sys,
		},
	})
}

type ChannelInfo struct {
	SubscriptionCount int  `json:"subscription_count"`
	Occupied          bool `json:"occupied"`
	UserCount         *int `json:"user_count,omitempty"`
}

// Channels GET /apps/:appId/channels?filter_by_prefix=
func (h *AppHandler) Channels(c *gin.Context) {
	channels := make(map[string]ChannelInfo)
	for _, room := range h.rooms.Rooms(c.Query("filter_by_prefix")) {
		channels[room.Name] = ChannelInfo{
			SubscriptionCount: room.SubscriptionCount,
			Occupied:          room.SubscriptionCount > 0,
		}
	}
	response.OK(c, gin.H{"channels": channels})
}

// Channel GET /apps/:appId/channels/:channel
func (h *AppHandler) Channel(c *gin.Context) {
	name := c.Param("channel")
	size := h.rooms.RoomSize(name)
	info := ChannelInfo{SubscriptionCount: size, Occupied: size > 0}

	if h.coord.Classifier().IsPresence(name) {
		count, err := h.coord.Presence().MemberCount(c.Request.Context(), name)
		if err != nil {
			h.log.Error("Failed to read member count", "channel", name, "error", err)
			response.Fail(c, http.StatusServiceUnavailable, response.ErrCodeStoreUnavailable, "")
			return
		}
		info.UserCount = &count
	}
	response.OK(c, info)
}

type PresenceUser struct {
	ID string `json:"id"`
}

// ChannelUsers GET /apps/:appId/channels/:channel/users
func (h *AppHandler) ChannelUsers(c *gin.Context) {
	name := c.Param("channel")
	if !h.coord.Classifier().IsPresence(name) {
		response.Fail(c, http.StatusBadRequest, response.ErrCodeNotPresence, name)
		return
	}

	members, err := h.coord.Presence().Members(c.Request.Context(), name)
	if err != nil {
		h.log.Error("Failed to read members", "channel", name, "error", err)
		response.Fail(c, http.StatusServiceUnavailable, response.ErrCodeStoreUnavailable, "")
		return
	}

	seen := make(map[string]struct{}, len(members))
	users := make([]PresenceUser, 0, len(members))
	for _, m := range members {
		if _, ok := seen[m.UserID]; ok || m.UserID == "" {
			continue
		}
		seen[m.UserID] = struct{}{}
		users = append(users, PresenceUser{ID: m.UserID})
	}
	response.OK(c, gin.H{"users": users})
}

type PublishEventRequest struct {
	Channel  string          `json:"channel"`
	Channels []string        `json:"channels"`
	Name     string          `json:"name" binding:"required"`
	Data     json.RawMessage `json:"data"`
	SocketID string          `json:"socket_id"`
}

func (r PublishEventRequest) targets() []string {
	out := make([]string, 0, len(r.Channels)+1)
	if r.Channel != "" {
		out = append(out, r.Channel)
	}
	for _, ch := range r.Channels {
		if ch != "" {
			out = append(out, ch)
		}
	}
	return out
}

// PublishEvent POST /apps/:appId/events
func (h *AppHandler) PublishEvent(c *gin.Context) {
	var req PublishEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrCodeParamInvalid, err.Error())
		return
	}
	targets := req.targets()
	if len(targets) == 0 {
		response.Fail(c, http.StatusBadRequest, response.ErrCodeParamInvalid, "channel or channels is required")
		return
	}

	for _, name := range targets {
		h.coord.Broadcast(name, req.Name, req.Data, req.SocketID)
	}
	h.log.Debug("Event published over HTTP", "event", req.Name, "channels", targets, "appID", c.GetString("app_id"))
	response.OK(c, gin.H{})
}

// Health GET /health
func Health(c *gin.Context) {
	response.OK(c, gin.H{"status": "ok"})
}
