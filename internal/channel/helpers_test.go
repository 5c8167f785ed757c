package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/terry-lonesski/laravel-echo-server/internal/repository"
)

type fakeConn struct {
	mu     sync.Mutex
	id     string
	userID string
	header http.Header
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, header: http.Header{}}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *fakeConn) SetUserID(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
}

func (c *fakeConn) Header() http.Header { return c.header }

type emitted struct {
	To      string
	Except  string
	Event   string
	Channel string
	Data    any
}

// fakeRooms is an in-memory transport registry that records outgoing events.
type fakeRooms struct {
	mu     sync.Mutex
	rooms  map[string]map[string]bool
	events []emitted
}

func newFakeRooms() *fakeRooms {
	return &fakeRooms{rooms: make(map[string]map[string]bool)}
}

func (r *fakeRooms) Join(connID, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[channel] == nil {
		r.rooms[channel] = make(map[string]bool)
	}
	r.rooms[channel][connID] = true
}

func (r *fakeRooms) Leave(connID, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms[channel], connID)
}

func (r *fakeRooms) InRoom(connID, channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rooms[channel][connID]
}

func (r *fakeRooms) Members(channel string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.rooms[channel]))
	for id := range r.rooms[channel] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *fakeRooms) Emit(connID, event, channel string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{To: connID, Event: event, Channel: channel, Data: data})
}

func (r *fakeRooms) BroadcastExcept(channel, exceptConnID, event string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{Except: exceptConnID, Event: event, Channel: channel, Data: data})
}

func (r *fakeRooms) eventsNamed(name string) []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []emitted
	for _, e := range r.events {
		if e.Event == name {
			out = append(out, e)
		}
	}
	return out
}

// racyStore performs Update as an unguarded read, yield, write sequence so
// that only callers doing their own serialization avoid lost updates.
type racyStore struct {
	*repository.MemoryKVRepository
	writes int
	mu     sync.Mutex
}

func newRacyStore() *racyStore {
	return &racyStore{MemoryKVRepository: repository.NewMemoryKVRepository()}
}

func (s *racyStore) Update(ctx context.Context, key string, fn func([]byte) ([]byte, error)) error {
	current, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	runtime.Gosched()
	next, err := fn(current)
	if err != nil || next == nil {
		return err
	}
	runtime.Gosched()
	s.mu.Lock()
	s.writes++
	s.mu.Unlock()
	return s.Set(ctx, key, next)
}

func (s *racyStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// failingStore fails every operation.
type failingStore struct{}

var errStoreDown = errors.New("store down")

func (failingStore) Get(context.Context, string) ([]byte, error) { return nil, errStoreDown }
func (failingStore) Set(context.Context, string, []byte) error   { return errStoreDown }
func (failingStore) Update(context.Context, string, func([]byte) ([]byte, error)) error {
	return errStoreDown
}

// countFailStore stores snapshots but fails every write of a member counter.
type countFailStore struct {
	*repository.MemoryKVRepository
}

func (s countFailStore) Set(ctx context.Context, key string, value []byte) error {
	if strings.HasSuffix(key, ":members-count") {
		return errStoreDown
	}
	return s.MemoryKVRepository.Set(ctx, key, value)
}

// stubAuthorizer answers every handshake with the same outcome.
type stubAuthorizer struct {
	mu       sync.Mutex
	data     json.RawMessage
	grantFor map[string]json.RawMessage
	err      error
	calls    int
}

func (a *stubAuthorizer) Authorize(_ context.Context, conn Connection, req AuthRequest) (*Grant, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	if data, ok := a.grantFor[conn.ID()]; ok {
		return &Grant{ChannelData: DecodeChannelData(data)}, nil
	}
	return &Grant{ChannelData: DecodeChannelData(a.data)}, nil
}

type recordedNotification struct {
	ConnID  string
	Channel string
	Kind    EventKind
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []recordedNotification
}

func (n *recordingNotifier) Notify(conn Connection, channel string, kind EventKind) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, recordedNotification{conn.ID(), channel, kind})
}

func (n *recordingNotifier) all() []recordedNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]recordedNotification(nil), n.calls...)
}

func storedMembers(t *testing.T, store Store, channel string) []Member {
	t.Helper()
	raw, err := store.Get(context.Background(), membersKey(channel))
	require.NoError(t, err)
	members, err := decodeMembers(raw)
	require.NoError(t, err)
	return members
}

func storedCount(t *testing.T, store Store, channel string) string {
	t.Helper()
	raw, err := store.Get(context.Background(), membersCountKey(channel))
	require.NoError(t, err)
	return string(raw)
}

func socketIDs(members []Member) []string {
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.SocketID
	}
	sort.Strings(ids)
	return ids
}
