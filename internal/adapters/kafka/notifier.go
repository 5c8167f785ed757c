package kafka

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/terry-lonesski/laravel-echo-server/internal/channel"
	"github.com/terry-lonesski/laravel-echo-server/internal/metrics"
	"github.com/terry-lonesski/laravel-echo-server/pkg/logger"
)

// LifecycleEvent is the record published for each join and leave.
type LifecycleEvent struct {
	Event     string `json:"event"`
	Channel   string `json:"channel"`
	UserID    string `json:"user_id,omitempty"`
	SocketID  string `json:"socket_id"`
	Timestamp int64  `json:"timestamp"`
}

// Notifier publishes lifecycle events to a topic. Delivery is at most once:
// a full producer buffer or a broker error drops the event.
type Notifier struct {
	producer sarama.AsyncProducer
	topic    string
	logger   *logger.Logger
	metrics  *metrics.Metrics
	wg       sync.WaitGroup

	// mu guards closed against sends racing AsyncClose
	mu     sync.RWMutex
	closed bool
}

func NewNotifier(producer sarama.AsyncProducer, topic string, log *logger.Logger, m *metrics.Metrics) *Notifier {
	n := &Notifier{producer: producer, topic: topic, logger: log, metrics: m}
	n.wg.Add(1)
	go n.drainErrors()
	return n
}

func (n *Notifier) Notify(conn channel.Connection, name string, kind channel.EventKind) {
	value, err := json.Marshal(LifecycleEvent{
		Event:     string(kind),
		Channel:   name,
		UserID:    conn.UserID(),
		SocketID:  conn.ID(),
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		n.logger.Error("Failed to encode lifecycle event", "channel", name, "error", err)
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: n.topic,
		Key:   sarama.StringEncoder(name),
		Value: sarama.ByteEncoder(value),
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		n.logger.Debug("Kafka notifier closed, dropping lifecycle event", "channel", name, "event", kind)
		n.metrics.NotifyFailure("kafka")
		return
	}
	select {
	case n.producer.Input() <- msg:
	default:
		n.logger.Warn("Kafka producer busy, dropping lifecycle event", "channel", name, "event", kind)
		n.metrics.NotifyFailure("kafka")
	}
}

func (n *Notifier) drainErrors() {
	defer n.wg.Done()
	for perr := range n.producer.Errors() {
		n.logger.Error("Failed to publish lifecycle event", "topic", n.topic, "error", perr.Err)
		n.metrics.NotifyFailure("kafka")
	}
}

// Close flushes buffered events and stops the producer.
// Notify calls made afterwards are dropped.
func (n *Notifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	n.producer.AsyncClose()
	n.wg.Wait()
	return nil
}
