package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/terry-lonesski/laravel-echo-server/internal/metrics"
	"github.com/terry-lonesski/laravel-echo-server/pkg/logger"
)

// Events emitted to connections by the coordinator.
const (
	EventSubscriptionError  = "subscription_error"
	EventPresenceSubscribed = "presence:subscribed"
	EventPresenceJoining    = "presence:joining"
	EventPresenceLeaving    = "presence:leaving"
)

var ErrJoinInFlight = errors.New("join already in progress")

// Connection is one live socket as seen by the coordinator.
type Connection interface {
	ID() string
	// UserID is empty until derived from a joined channel name.
	UserID() string
	SetUserID(userID string)
	// Header returns the handshake request headers.
	Header() http.Header
}

// Rooms is the transport registry.
type Rooms interface {
	RoomLister
	RoomChecker
	Join(connID, channel string)
	Leave(connID, channel string)
	Emit(connID, event, channel string, data any)
	BroadcastExcept(channel, exceptConnID, event string, data any)
}

// ChannelAuthorizer performs the private channel handshake.
type ChannelAuthorizer interface {
	Authorize(ctx context.Context, conn Connection, req AuthRequest) (*Grant, error)
}

// JoinRequest is a subscribe request from a connection.
type JoinRequest struct {
	Channel     string
	AuthHeaders map[string]string
}

type subscriptionState int

const (
	stateJoining subscriptionState = iota + 1
	stateJoined
)

type subscription struct {
	state subscriptionState
	// tracked is set when the connection has an entry in the channel snapshot.
	tracked bool
}

// Coordinator routes join, leave and client event requests of connections.
// Per connection and channel it walks NotJoined -> Joining -> Joined -> Left.
type Coordinator struct {
	classifier *Classifier
	authorizer ChannelAuthorizer
	presence   *PresenceChannel
	filter     *ClientEventFilter
	notifier   Notifier
	rooms      Rooms
	log        *logger.Logger
	metrics    *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]map[string]*subscription
}

type CoordinatorOptions struct {
	Classifier *Classifier
	Authorizer ChannelAuthorizer
	Store      Store
	Rooms      Rooms
	Notifier   Notifier
	Logger     *logger.Logger
	Metrics    *metrics.Metrics
}

func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	if opts.Classifier == nil {
		opts.Classifier = DefaultClassifier()
	}
	if opts.Notifier == nil {
		opts.Notifier = NopNotifier{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	return &Coordinator{
		classifier: opts.Classifier,
		authorizer: opts.Authorizer,
		presence:   NewPresenceChannel(opts.Store, opts.Rooms, opts.Logger),
		filter:     NewClientEventFilter(opts.Classifier, opts.Rooms),
		notifier:   opts.Notifier,
		rooms:      opts.Rooms,
		log:        opts.Logger,
		metrics:    opts.Metrics,
		sessions:   make(map[string]map[string]*subscription),
	}
}

func (c *Coordinator) Classifier() *Classifier {
	return c.classifier
}

func (c *Coordinator) Presence() *PresenceChannel {
	return c.presence
}

// Join handles a subscribe request. A denial is reported to the requester as
// a subscription error and returned; store failures are logged and do not
// undo the room registration.
func (c *Coordinator) Join(ctx context.Context, conn Connection, req JoinRequest) error {
	name := req.Channel
	if name == "" {
		return nil
	}

	prev, ok := c.begin(conn.ID(), name)
	if !ok {
		c.log.Debug("Join ignored, already joining", "channel", name, "socketID", conn.ID())
		return ErrJoinInFlight
	}

	kind := c.classifier.Classify(name)
	if kind == Public {
		c.rooms.Join(conn.ID(), name)
		c.deriveUserID(conn, name)
		tracked := false
		if uid := conn.UserID(); uid != "" {
			_, tracked = c.reconcileJoin(ctx, conn, name, Member{UserID: uid, SocketID: conn.ID()})
		}
		c.complete(ctx, conn, name, kind, tracked)
		return nil
	}

	grant, err := c.authorizer.Authorize(ctx, conn, AuthRequest{Channel: name, Headers: req.AuthHeaders})
	if err != nil {
		c.abort(conn.ID(), name, prev)
		c.metrics.Denial()
		reason, status := "Authorization failed.", 0
		if d, ok := IsDenial(err); ok {
			reason, status = d.Reason, d.Status
		}
		c.rooms.Emit(conn.ID(), EventSubscriptionError, name, map[string]any{
			"reason": reason,
			"status": status,
		})
		c.log.Info("Subscription denied", "channel", name, "socketID", conn.ID(), "status", status, "reason", reason)
		return err
	}

	c.rooms.Join(conn.ID(), name)
	c.deriveUserID(conn, name)

	tracked := false
	if kind == Presence {
		member := memberFromChannelData(grant.ChannelData, conn)
		var result JoinResult
		result, tracked = c.reconcileJoin(ctx, conn, name, member)
		if tracked {
			c.rooms.Emit(conn.ID(), EventPresenceSubscribed, name, result.Members)
			if !result.AlreadyPresent {
				c.rooms.BroadcastExcept(name, conn.ID(), EventPresenceJoining, member)
			}
		}
	}

	c.complete(ctx, conn, name, kind, tracked)
	return nil
}

func (c *Coordinator) reconcileJoin(ctx context.Context, conn Connection, name string, member Member) (JoinResult, bool) {
	result, err := c.presence.Join(ctx, name, member)
	switch {
	case errors.Is(err, ErrCountNotUpdated):
		c.metrics.StoreError("count")
		c.log.Error("Channel member recorded without count", "channel", name, "socketID", conn.ID(), "error", err)
	case err != nil:
		c.metrics.StoreError("join")
		c.log.Error("Failed to record channel member", "channel", name, "socketID", conn.ID(), "error", err)
		return result, false
	}
	return result, true
}

// complete moves the subscription to Joined. When the connection went away
// while the join was in flight, the join is rolled back.
func (c *Coordinator) complete(ctx context.Context, conn Connection, name string, kind Kind, tracked bool) {
	c.mu.Lock()
	sub := c.sessions[conn.ID()][name]
	if sub != nil {
		sub.state = stateJoined
		sub.tracked = sub.tracked || tracked
	}
	c.mu.Unlock()

	if sub == nil {
		c.log.Debug("Connection gone before join completed", "channel", name, "socketID", conn.ID())
		c.rooms.Leave(conn.ID(), name)
		if tracked {
			c.untrack(ctx, conn, name)
		}
		return
	}

	c.metrics.Join(kind.String())
	c.log.Debug("Joined channel", "channel", name, "kind", kind, "socketID", conn.ID(), "userID", conn.UserID())
	c.notifier.Notify(conn, name, JoinEvent)
}

// Leave handles an unsubscribe request. Leaving a channel the connection has
// not joined only drops the room registration.
func (c *Coordinator) Leave(ctx context.Context, conn Connection, name, reason string) {
	sub := c.take(conn.ID(), name)
	c.rooms.Leave(conn.ID(), name)
	if sub == nil {
		return
	}

	// A presence join whose snapshot write failed may still have been stored;
	// removing an unknown socket writes nothing.
	if sub.tracked || c.classifier.IsPresence(name) {
		c.untrack(ctx, conn, name)
	}

	c.metrics.Leave()
	c.log.Debug("Left channel", "channel", name, "socketID", conn.ID(), "reason", reason)
	c.notifier.Notify(conn, name, LeaveEvent)
}

// untrack removes the connection from the channel snapshot and tells the
// remaining presence members when the user is gone.
func (c *Coordinator) untrack(ctx context.Context, conn Connection, name string) {
	result, err := c.presence.Leave(ctx, name, conn.ID())
	switch {
	case errors.Is(err, ErrCountNotUpdated):
		c.metrics.StoreError("count")
		c.log.Error("Channel member removed without count", "channel", name, "socketID", conn.ID(), "error", err)
	case err != nil:
		c.metrics.StoreError("leave")
		c.log.Error("Failed to remove channel member", "channel", name, "socketID", conn.ID(), "error", err)
		return
	}
	if result.Removed != nil && !result.StillPresent && c.classifier.IsPresence(name) {
		c.rooms.BroadcastExcept(name, conn.ID(), EventPresenceLeaving, *result.Removed)
	}
}

// Disconnect leaves every joined channel and forgets the connection.
func (c *Coordinator) Disconnect(ctx context.Context, conn Connection, reason string) {
	for _, name := range c.JoinedChannels(conn.ID()) {
		c.Leave(ctx, conn, name, reason)
	}

	c.mu.Lock()
	delete(c.sessions, conn.ID())
	c.mu.Unlock()
}

// ClientEvent rebroadcasts an accepted client event to the other connections
// of its channel. It reports whether the event was broadcast.
func (c *Coordinator) ClientEvent(conn Connection, raw []byte) bool {
	ev, ok := ParseClientEvent(raw)
	if !ok {
		c.log.Debug("Dropping undecodable client event", "socketID", conn.ID())
		c.metrics.ClientEvent(false)
		return false
	}
	if !c.filter.Accept(conn, ev.Event, ev.Channel) {
		c.log.Debug("Client event rejected", "event", ev.Event, "channel", ev.Channel, "socketID", conn.ID())
		c.metrics.ClientEvent(false)
		return false
	}

	var data any = ev.Data
	if len(ev.Data) == 0 {
		data = nil
	}
	c.rooms.BroadcastExcept(ev.Channel, conn.ID(), ev.Event, data)
	c.metrics.ClientEvent(true)
	return true
}

// JoinedChannels lists the channels the connection is in state Joined for.
func (c *Coordinator) JoinedChannels(connID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var names []string
	for name, sub := range c.sessions[connID] {
		if sub.state == stateJoined {
			names = append(names, name)
		}
	}
	return names
}

func (c *Coordinator) deriveUserID(conn Connection, name string) {
	if conn.UserID() != "" {
		return
	}
	if uid, ok := UserIDFromChannel(name); ok {
		conn.SetUserID(uid)
	}
}

// begin records Joining unless a join is already in flight. It returns the
// previous subscription so a denied re-join can restore it.
func (c *Coordinator) begin(connID, name string) (*subscription, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	subs := c.sessions[connID]
	if subs == nil {
		subs = make(map[string]*subscription)
		c.sessions[connID] = subs
	}
	prev := subs[name]
	if prev != nil && prev.state == stateJoining {
		return nil, false
	}

	next := &subscription{state: stateJoining}
	if prev != nil {
		next.tracked = prev.tracked
		copied := *prev
		prev = &copied
	}
	subs[name] = next
	return prev, true
}

func (c *Coordinator) abort(connID, name string, prev *subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	subs := c.sessions[connID]
	if subs == nil {
		return
	}
	if prev != nil {
		subs[name] = prev
		return
	}
	delete(subs, name)
}

// take removes a Joined subscription. Joining subscriptions are left alone.
func (c *Coordinator) take(connID, name string) *subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub := c.sessions[connID][name]
	if sub == nil || sub.state != stateJoined {
		return nil
	}
	delete(c.sessions[connID], name)
	return sub
}

// Broadcast sends a backend originated event to a room, optionally skipping
// the connection that triggered it.
func (c *Coordinator) Broadcast(channel, event string, data json.RawMessage, exceptConnID string) {
	var payload any = data
	if len(data) == 0 {
		payload = nil
	}
	c.rooms.BroadcastExcept(channel, exceptConnID, event, payload)
}
