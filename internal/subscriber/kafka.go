package subscriber

import (
	"context"
	"errors"

	"github.com/segmentio/kafka-go"

	"github.com/terry-lonesski/laravel-echo-server/pkg/logger"
)

// KafkaSubscriber consumes broadcasts from a topic. The room comes from the
// payload's channel field, falling back to the message key.
type KafkaSubscriber struct {
	reader *kafka.Reader
	target Broadcaster
	logger *logger.Logger
}

func NewKafkaSubscriber(brokers []string, topic, groupID string, target Broadcaster, log *logger.Logger) *KafkaSubscriber {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &KafkaSubscriber{reader: reader, target: target, logger: log}
}

// Run blocks until ctx is cancelled or the reader fails.
func (s *KafkaSubscriber) Run(ctx context.Context) error {
	s.logger.Info("Listening for kafka broadcasts", "topic", s.reader.Config().Topic)
	for {
		msg, err := s.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		s.handle(msg)
	}
}

func (s *KafkaSubscriber) handle(msg kafka.Message) {
	p, err := decodePayload(msg.Value)
	if err != nil {
		s.logger.Warn("Dropping kafka broadcast", "offset", msg.Offset, "error", err)
		return
	}
	name := p.Channel
	if name == "" {
		name = string(msg.Key)
	}
	if name == "" {
		s.logger.Warn("Dropping kafka broadcast without channel", "offset", msg.Offset, "event", p.Event)
		return
	}

	s.logger.Debug("Kafka broadcast", "channel", name, "event", p.Event)
	s.target.Broadcast(name, p.Event, p.Data, p.Socket)
}

func (s *KafkaSubscriber) Close() error {
	return s.reader.Close()
}
