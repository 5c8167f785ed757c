package channel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/terry-lonesski/laravel-echo-server/pkg/logger"
)

// ErrCountNotUpdated means the snapshot was written but the member counter was
// not. The result returned alongside it describes the committed snapshot.
var ErrCountNotUpdated = errors.New("member count not updated")

// Store is the key-value collaborator holding membership snapshots.
type Store interface {
	// Get returns nil, nil when the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Update applies fn as one atomic read-modify-write of key. fn receives
	// nil when the key is absent; returning a nil slice leaves the key
	// untouched. fn may run more than once when the store retries on conflict.
	Update(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error
}

// RoomLister reports which connections are currently alive in a room.
type RoomLister interface {
	Members(channel string) []string
}

// PresenceChannel keeps the persisted member list of each channel in line with
// the live connections of the transport registry.
type PresenceChannel struct {
	store Store
	rooms RoomLister
	locks *keyedMutex
	log   *logger.Logger
}

func NewPresenceChannel(store Store, rooms RoomLister, log *logger.Logger) *PresenceChannel {
	return &PresenceChannel{
		store: store,
		rooms: rooms,
		locks: newKeyedMutex(),
		log:   log,
	}
}

// JoinResult describes the snapshot written by Join.
type JoinResult struct {
	Members []Member
	// AlreadyPresent is true when another live connection of the same user was
	// recorded before this join collapsed it.
	AlreadyPresent bool
}

// Join reconciles the snapshot against the live connections of the room and
// appends member. Entries whose socket is gone are pruned, and so are entries
// of the same user: the newest connection of a user replaces the older one.
func (p *PresenceChannel) Join(ctx context.Context, channel string, member Member) (JoinResult, error) {
	unlock := p.locks.Lock(channel)
	defer unlock()

	live := make(map[string]struct{})
	for _, id := range p.rooms.Members(channel) {
		live[id] = struct{}{}
	}

	var result JoinResult
	err := p.store.Update(ctx, membersKey(channel), func(current []byte) ([]byte, error) {
		members, err := decodeMembers(current)
		if err != nil {
			return nil, err
		}

		result = JoinResult{Members: make([]Member, 0, len(members)+1)}
		for _, m := range members {
			if _, ok := live[m.SocketID]; !ok || m.SocketID == member.SocketID {
				continue
			}
			if member.UserID != "" && m.UserID == member.UserID {
				result.AlreadyPresent = true
				continue
			}
			result.Members = append(result.Members, m)
		}
		result.Members = append(result.Members, member)
		return encodeMembers(result.Members)
	})
	if err != nil {
		return JoinResult{}, fmt.Errorf("join %s: %w", channel, err)
	}

	if err := p.setCount(ctx, channel, len(result.Members)); err != nil {
		return result, err
	}

	p.log.Debug("Presence member joined", "channel", channel, "userID", member.UserID,
		"socketID", member.SocketID, "members", len(result.Members))
	return result, nil
}

// LeaveResult describes the effect of Leave.
type LeaveResult struct {
	// Removed is the entry of the leaving socket, nil when it was not recorded.
	Removed *Member
	// StillPresent is true when another entry of the same user remains.
	StillPresent bool
	Members      []Member
}

// Leave drops the entry of socketID. Leaving a channel the socket never joined
// writes nothing.
func (p *PresenceChannel) Leave(ctx context.Context, channel, socketID string) (LeaveResult, error) {
	unlock := p.locks.Lock(channel)
	defer unlock()

	var result LeaveResult
	err := p.store.Update(ctx, membersKey(channel), func(current []byte) ([]byte, error) {
		members, err := decodeMembers(current)
		if err != nil {
			return nil, err
		}

		result = LeaveResult{Members: make([]Member, 0, len(members))}
		for i := range members {
			if members[i].SocketID == socketID {
				removed := members[i]
				result.Removed = &removed
				continue
			}
			result.Members = append(result.Members, members[i])
		}
		if result.Removed == nil {
			return nil, nil
		}
		for _, m := range result.Members {
			if m.UserID != "" && m.UserID == result.Removed.UserID {
				result.StillPresent = true
				break
			}
		}
		return encodeMembers(result.Members)
	})
	if err != nil {
		return LeaveResult{}, fmt.Errorf("leave %s: %w", channel, err)
	}
	if result.Removed == nil {
		return result, nil
	}

	if err := p.setCount(ctx, channel, len(result.Members)); err != nil {
		return result, err
	}

	p.log.Debug("Presence member left", "channel", channel, "socketID", socketID,
		"members", len(result.Members))
	return result, nil
}

// Members returns the persisted snapshot of channel.
func (p *PresenceChannel) Members(ctx context.Context, channel string) ([]Member, error) {
	raw, err := p.store.Get(ctx, membersKey(channel))
	if err != nil {
		return nil, fmt.Errorf("get members of %s: %w", channel, err)
	}
	members, err := decodeMembers(raw)
	if err != nil {
		return nil, err
	}
	if members == nil {
		members = []Member{}
	}
	return members, nil
}

// MemberCount reads the counter key, falling back to the snapshot length.
func (p *PresenceChannel) MemberCount(ctx context.Context, channel string) (int, error) {
	raw, err := p.store.Get(ctx, membersCountKey(channel))
	if err != nil {
		return 0, fmt.Errorf("get member count of %s: %w", channel, err)
	}
	if raw != nil {
		if n, err := strconv.Atoi(string(raw)); err == nil {
			return n, nil
		}
	}
	members, err := p.Members(ctx, channel)
	if err != nil {
		return 0, err
	}
	return len(members), nil
}

func (p *PresenceChannel) setCount(ctx context.Context, channel string, n int) error {
	if err := p.store.Set(ctx, membersCountKey(channel), []byte(strconv.Itoa(n))); err != nil {
		return fmt.Errorf("set member count of %s: %w: %w", channel, ErrCountNotUpdated, err)
	}
	return nil
}

// keyedMutex serializes work per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refMutex{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
