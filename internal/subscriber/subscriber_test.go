package subscriber

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terry-lonesski/laravel-echo-server/pkg/logger"
)

type broadcast struct {
	Channel string
	Event   string
	Data    string
	Except  string
}

type recordingBroadcaster struct {
	mu   sync.Mutex
	sent []broadcast
}

func (r *recordingBroadcaster) Broadcast(channel, event string, data json.RawMessage, exceptConnID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, broadcast{channel, event, string(data), exceptConnID})
}

func (r *recordingBroadcaster) all() []broadcast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]broadcast(nil), r.sent...)
}

func TestDecodePayload(t *testing.T) {
	p, err := decodePayload([]byte(`{"event":"App\\Events\\OrderShipped","data":{"id":1},"socket":"abc"}`))
	require.NoError(t, err)
	assert.Equal(t, `App\Events\OrderShipped`, p.Event)
	assert.JSONEq(t, `{"id":1}`, string(p.Data))
	assert.Equal(t, "abc", p.Socket)

	p, err = decodePayload([]byte(`{"event":"Ping","data":null,"socket":null}`))
	require.NoError(t, err)
	assert.Nil(t, p.Data)
	assert.Empty(t, p.Socket)

	_, err = decodePayload([]byte(`{"data":{}}`))
	assert.ErrorIs(t, err, ErrMissingEvent)

	_, err = decodePayload([]byte(`nope`))
	assert.Error(t, err)
}

func TestRedisSubscriberHandleStripsPrefix(t *testing.T) {
	target := &recordingBroadcaster{}
	s := NewRedisSubscriber(nil, "laravel_database_", target, logger.Discard())

	s.handle("laravel_database_private-orders", `{"event":"OrderShipped","data":{"id":1},"socket":"A"}`)
	s.handle("laravel_database_news", `garbage`)

	assert.Equal(t, []broadcast{{"private-orders", "OrderShipped", `{"id":1}`, "A"}}, target.all())
}

func TestKafkaSubscriberHandle(t *testing.T) {
	target := &recordingBroadcaster{}
	s := &KafkaSubscriber{target: target, logger: logger.Discard()}

	s.handle(kafka.Message{Value: []byte(`{"event":"A","channel":"news","data":"x"}`)})
	s.handle(kafka.Message{Key: []byte("private-orders"), Value: []byte(`{"event":"B"}`)})
	s.handle(kafka.Message{Value: []byte(`{"event":"C"}`)})
	s.handle(kafka.Message{Value: []byte(`{"channel":"news"}`)})

	assert.Equal(t, []broadcast{
		{"news", "A", `"x"`, ""},
		{"private-orders", "B", "", ""},
	}, target.all())
}

func isRedisAvailable() bool {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return client.Ping(ctx).Err() == nil
}

func TestRedisSubscriberRun(t *testing.T) {
	if !isRedisAvailable() {
		t.Skip("Redis not available, skipping integration test")
	}

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	prefix := "echo-test-" + uuid.NewString() + ":"
	target := &recordingBroadcaster{}
	s := NewRedisSubscriber(client, prefix, target, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		n, err := client.Publish(context.Background(), prefix+"news", `{"event":"Ping","data":{}}`).Result()
		return err == nil && n > 0
	}, 2*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool { return len(target.all()) > 0 }, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "news", target.all()[0].Channel)
	cancel()
	assert.NoError(t, <-done)
}
