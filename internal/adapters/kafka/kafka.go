package kafka

import (
	"github.com/IBM/sarama"
)

// NewProducerConfig is the producer setup used for lifecycle events. Events
// of one channel share a partition so consumers see them in order.
func NewProducerConfig(clientID string) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = clientID
	config.Version = sarama.V2_0_0_0
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Retry.Max = 0
	config.Producer.Return.Successes = false
	config.Producer.Return.Errors = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Producer.MaxMessageBytes = 1000000
	return config
}

func InitKafkaProducer(brokers []string, clientID string) (sarama.AsyncProducer, error) {
	return sarama.NewAsyncProducer(brokers, NewProducerConfig(clientID))
}
