package channel

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/terry-lonesski/laravel-echo-server/internal/metrics"
	"github.com/terry-lonesski/laravel-echo-server/pkg/logger"
)

// maxWebhookDrain bounds how much of a webhook response is read so the
// connection can be reused.
const maxWebhookDrain = 64 << 10

// EventKind is the lifecycle transition reported to the backend.
type EventKind string

const (
	JoinEvent  EventKind = "join"
	LeaveEvent EventKind = "leave"
)

// Notifier delivers lifecycle events at most once. Notify never blocks on
// delivery and never reports failure to the caller.
type Notifier interface {
	Notify(conn Connection, channel string, kind EventKind)
}

// NopNotifier drops every event. Used when no sink is configured.
type NopNotifier struct{}

func (NopNotifier) Notify(Connection, string, EventKind) {}

// MultiNotifier fans out to several sinks.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(conn Connection, channel string, kind EventKind) {
	for _, n := range m {
		n.Notify(conn, channel, kind)
	}
}

// WebhookNotifier posts lifecycle events to the backend in the background.
type WebhookNotifier struct {
	client   *http.Client
	endpoint string
	timeout  time.Duration
	log      *logger.Logger
	metrics  *metrics.Metrics
	wg       sync.WaitGroup
}

func NewWebhookNotifier(endpoint string, timeout time.Duration, log *logger.Logger, m *metrics.Metrics) *WebhookNotifier {
	return &WebhookNotifier{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
		timeout:  timeout,
		log:      log,
		metrics:  m,
	}
}

func (w *WebhookNotifier) Notify(conn Connection, channel string, kind EventKind) {
	form := url.Values{}
	form.Set("userId", conn.UserID())
	form.Set("event", string(kind))
	form.Set("channel", channel)
	form.Set("socket_id", conn.ID())

	var cookie string
	if h := conn.Header(); h != nil {
		cookie = h.Get("Cookie")
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.send(form, cookie, channel, kind)
	}()
}

func (w *WebhookNotifier) send(form url.Values, cookie, channel string, kind EventKind) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		w.log.Error("Failed to build webhook request", "endpoint", w.endpoint, "error", err)
		w.metrics.NotifyFailure("webhook")
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		w.log.Error("Failed to send webhook", "endpoint", w.endpoint, "channel", channel, "event", kind, "error", err)
		w.metrics.NotifyFailure("webhook")
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxWebhookDrain))
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		w.log.Warn("Webhook endpoint returned error", "status", resp.StatusCode, "channel", channel, "event", kind)
		w.metrics.NotifyFailure("webhook")
		return
	}
	w.log.Debug("Webhook delivered", "channel", channel, "event", kind)
}

// Wait blocks until every in-flight webhook has finished.
func (w *WebhookNotifier) Wait() {
	w.wg.Wait()
}
