package channel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terry-lonesski/laravel-echo-server/pkg/logger"
)

type capturedRequest struct {
	Form   map[string]string
	Header http.Header
}

func authServer(t *testing.T, status int, body string) (*httptest.Server, func() capturedRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		last capturedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		mu.Lock()
		last = capturedRequest{Form: map[string]string{}, Header: r.Header.Clone()}
		for k := range r.PostForm {
			last.Form[k] = r.PostForm.Get(k)
		}
		mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, func() capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return last
	}
}

func TestAuthorizeGrantWithStructuredData(t *testing.T) {
	srv, last := authServer(t, http.StatusOK, `{"channel_data":"{\"userId\":\"7\",\"name\":\"Ann\"}"}`)
	a := NewAuthorizer(srv.URL, time.Second, logger.Discard())

	conn := newFakeConn("A")
	conn.SetUserID("7")
	conn.header.Set("Cookie", "laravel_session=abc")

	grant, err := a.Authorize(context.Background(), conn, AuthRequest{
		Channel: "presence-room1",
		Headers: map[string]string{"X-CSRF-TOKEN": "tok"},
	})
	require.NoError(t, err)

	member, ok := grant.ChannelData.(StructuredMember)
	require.True(t, ok)
	assert.Equal(t, "7", member.UserID())

	req := last()
	assert.Equal(t, map[string]string{
		"userId":       "7",
		"event":        "subscribe",
		"channel":      "presence-room1",
		"channel_name": "presence-room1",
		"socket_id":    "A",
	}, req.Form)
	assert.Equal(t, "laravel_session=abc", req.Header.Get("Cookie"))
	assert.Equal(t, "XMLHttpRequest", req.Header.Get("X-Requested-With"))
	assert.Equal(t, "tok", req.Header.Get("X-CSRF-TOKEN"))
}

func TestAuthorizeGrantWithoutChannelData(t *testing.T) {
	srv, _ := authServer(t, http.StatusOK, `{"auth":"sig"}`)
	a := NewAuthorizer(srv.URL, time.Second, logger.Discard())

	grant, err := a.Authorize(context.Background(), newFakeConn("A"), AuthRequest{Channel: "private-orders"})
	require.NoError(t, err)
	assert.Nil(t, grant.ChannelData)
}

func TestAuthorizeGrantWithNonJSONBody(t *testing.T) {
	srv, _ := authServer(t, http.StatusOK, `ok`)
	a := NewAuthorizer(srv.URL, time.Second, logger.Discard())

	grant, err := a.Authorize(context.Background(), newFakeConn("A"), AuthRequest{Channel: "private-orders"})
	require.NoError(t, err)
	require.NotNil(t, grant)
	assert.Nil(t, grant.ChannelData)
}

func TestAuthorizeDenied(t *testing.T) {
	srv, _ := authServer(t, http.StatusForbidden, ``)
	a := NewAuthorizer(srv.URL, time.Second, logger.Discard())

	_, err := a.Authorize(context.Background(), newFakeConn("A"), AuthRequest{Channel: "private-orders"})
	d, ok := IsDenial(err)
	require.True(t, ok)
	assert.Equal(t, "Forbidden", d.Reason)
	assert.Equal(t, http.StatusForbidden, d.Status)
}

func TestAuthorizeDeniedWithReason(t *testing.T) {
	srv, _ := authServer(t, http.StatusUnauthorized, `{"reason":"Session expired"}`)
	a := NewAuthorizer(srv.URL, time.Second, logger.Discard())

	_, err := a.Authorize(context.Background(), newFakeConn("A"), AuthRequest{Channel: "private-orders"})
	d, ok := IsDenial(err)
	require.True(t, ok)
	assert.Equal(t, "Session expired", d.Reason)
	assert.Equal(t, http.StatusUnauthorized, d.Status)
}

func TestAuthorizeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	a := NewAuthorizer(endpoint, time.Second, logger.Discard())
	_, err := a.Authorize(context.Background(), newFakeConn("A"), AuthRequest{Channel: "private-orders"})

	d, ok := IsDenial(err)
	require.True(t, ok)
	assert.Equal(t, 0, d.Status)
	assert.Equal(t, "Error sending authentication request.", d.Reason)
	assert.Error(t, errors.Unwrap(err))
}

func TestAuthorizeTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	a := NewAuthorizer(srv.URL, 50*time.Millisecond, logger.Discard())
	_, err := a.Authorize(context.Background(), newFakeConn("A"), AuthRequest{Channel: "private-orders"})

	d, ok := IsDenial(err)
	require.True(t, ok)
	assert.Equal(t, 0, d.Status)
}

func TestAuthorizeHonoursContext(t *testing.T) {
	srv, _ := authServer(t, http.StatusOK, `{}`)
	a := NewAuthorizer(srv.URL, time.Second, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Authorize(ctx, newFakeConn("A"), AuthRequest{Channel: "private-orders"})
	assert.ErrorIs(t, err, context.Canceled)
}
