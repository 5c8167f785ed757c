package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/terry-lonesski/laravel-echo-server/pkg/logger"
)

const maxAuthBodySize = 1 << 20

// Denial is the backend refusing a private channel join. Status is the HTTP
// status of the backend response, or 0 when no response was received.
type Denial struct {
	Reason string
	Status int
	Err    error
}

func (d *Denial) Error() string {
	if d.Err != nil {
		return fmt.Sprintf("authorization denied (%d): %s: %v", d.Status, d.Reason, d.Err)
	}
	return fmt.Sprintf("authorization denied (%d): %s", d.Status, d.Reason)
}

func (d *Denial) Unwrap() error {
	return d.Err
}

// Grant is a successful authorization. ChannelData is opaque at this layer.
type Grant struct {
	ChannelData ChannelData
}

// AuthRequest carries the per-join inputs of an authorization handshake.
type AuthRequest struct {
	Channel string
	// Headers sent by the client with the subscribe request, forwarded as is.
	Headers map[string]string
}

// Authorizer asks the backend whether a connection may join a private channel.
// Every call is a single attempt.
type Authorizer struct {
	client   *http.Client
	endpoint string
	log      *logger.Logger
}

func NewAuthorizer(endpoint string, timeout time.Duration, log *logger.Logger) *Authorizer {
	return &Authorizer{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
		log:      log,
	}
}

type authResponse struct {
	ChannelData json.RawMessage `json:"channel_data"`
	Reason      string          `json:"reason"`
}

// Authorize posts the connection identity and channel to the backend. Any
// failure is returned as a *Denial.
func (a *Authorizer) Authorize(ctx context.Context, conn Connection, req AuthRequest) (*Grant, error) {
	form := url.Values{}
	form.Set("userId", conn.UserID())
	form.Set("event", "subscribe")
	form.Set("channel", req.Channel)
	form.Set("channel_name", req.Channel)
	form.Set("socket_id", conn.ID())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &Denial{Reason: "Error building authentication request.", Err: err}
	}
	setForwardHeaders(httpReq, conn)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		a.log.Error("Error sending authentication request", "channel", req.Channel, "socketID", conn.ID(), "error", err)
		return nil, &Denial{Reason: "Error sending authentication request.", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAuthBodySize))
	if err != nil {
		return nil, &Denial{Reason: "Error reading authentication response.", Status: resp.StatusCode, Err: err}
	}

	var parsed authResponse
	decodeErr := json.Unmarshal(body, &parsed)

	if resp.StatusCode != http.StatusOK {
		reason := parsed.Reason
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		a.log.Debug("Client can not be authenticated", "channel", req.Channel, "socketID", conn.ID(),
			"status", resp.StatusCode, "reason", reason)
		return nil, &Denial{Reason: reason, Status: resp.StatusCode}
	}

	if decodeErr != nil {
		a.log.Debug("Authentication response is not JSON", "channel", req.Channel, "error", decodeErr)
		return &Grant{}, nil
	}

	a.log.Debug("Client authenticated", "channel", req.Channel, "socketID", conn.ID())
	return &Grant{ChannelData: DecodeChannelData(parsed.ChannelData)}, nil
}

// setForwardHeaders copies what the backend needs to recognise the browser session.
func setForwardHeaders(req *http.Request, conn Connection) {
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if h := conn.Header(); h != nil {
		if cookie := h.Get("Cookie"); cookie != "" {
			req.Header.Set("Cookie", cookie)
		}
	}
}

// IsDenial reports whether err is an authorization denial and returns it.
func IsDenial(err error) (*Denial, bool) {
	var d *Denial
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}
