package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClientEvent(t *testing.T) {
	ev, ok := ParseClientEvent([]byte(`{"event":"client-typing","channel":"private-chat","data":{"typing":true}}`))
	require.True(t, ok)
	assert.Equal(t, "client-typing", ev.Event)
	assert.Equal(t, "private-chat", ev.Channel)
	assert.JSONEq(t, `{"typing":true}`, string(ev.Data))

	ev, ok = ParseClientEvent([]byte(`{"event":"client-typing","channel":"private-chat","data":"just text"}`))
	require.True(t, ok)
	assert.Equal(t, `"just text"`, string(ev.Data))

	_, ok = ParseClientEvent([]byte(`{"event":"client-typing"}`))
	assert.False(t, ok)

	_, ok = ParseClientEvent([]byte(`not json`))
	assert.False(t, ok)
}

func TestClientEventFilter(t *testing.T) {
	rooms := newFakeRooms()
	f := NewClientEventFilter(DefaultClassifier(), rooms)
	conn := newFakeConn("A")

	rooms.Join("A", "private-chat")
	rooms.Join("A", "news")

	assert.True(t, f.Accept(conn, "client-typing", "private-chat"))
	assert.False(t, f.Accept(conn, "typing", "private-chat"), "event name outside the client namespace")
	assert.False(t, f.Accept(conn, "client-typing", "news"), "public channel")
	assert.False(t, f.Accept(conn, "client-typing", "private-other"), "sender not in room")
	assert.False(t, f.Accept(newFakeConn("B"), "client-typing", "private-chat"))
}
