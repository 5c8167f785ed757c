package subscriber

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/terry-lonesski/laravel-echo-server/pkg/logger"
)

// RedisSubscriber pattern-subscribes to every channel under a key prefix and
// relays each message to the room named by the rest of the redis channel.
type RedisSubscriber struct {
	client *redis.Client
	prefix string
	target Broadcaster
	logger *logger.Logger
}

func NewRedisSubscriber(client *redis.Client, prefix string, target Broadcaster, log *logger.Logger) *RedisSubscriber {
	return &RedisSubscriber{client: client, prefix: prefix, target: target, logger: log}
}

// Run blocks until ctx is cancelled.
func (s *RedisSubscriber) Run(ctx context.Context) error {
	pubsub := s.client.PSubscribe(ctx, s.prefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	s.logger.Info("Listening for redis broadcasts", "pattern", s.prefix+"*")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.handle(msg.Channel, msg.Payload)
		}
	}
}

func (s *RedisSubscriber) handle(redisChannel, payload string) {
	name := strings.TrimPrefix(redisChannel, s.prefix)
	p, err := decodePayload([]byte(payload))
	if err != nil {
		s.logger.Warn("Dropping redis broadcast", "channel", name, "error", err)
		return
	}

	s.logger.Debug("Redis broadcast", "channel", name, "event", p.Event)
	s.target.Broadcast(name, p.Event, p.Data, p.Socket)
}
