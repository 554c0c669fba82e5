package broadcaster

import (
	"context"

	"github.com/IBM/sarama"
)

// Publisher delivers one message and returns once it is acknowledged.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte) error
	Close() error
}

// SaramaPublisher publishes through a sarama.SyncProducer.
type SaramaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func SaramaConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	return cfg
}

func NewSaramaPublisher(brokers []string, topic, clientID string) (*SaramaPublisher, error) {
	producer, err := sarama.NewSyncProducer(brokers, SaramaConfig(clientID))
	if err != nil {
		return nil, err
	}
	return NewSaramaPublisherFrom(producer, topic), nil
}

func NewSaramaPublisherFrom(producer sarama.SyncProducer, topic string) *SaramaPublisher {
	return &SaramaPublisher{producer: producer, topic: topic}
}

// Publish ignores ctx; sarama bounds the call with its own timeouts.
func (p *SaramaPublisher) Publish(_ context.Context, key, value []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Value: sarama.ByteEncoder(value),
	}
	if len(key) > 0 {
		msg.Key = sarama.ByteEncoder(key)
	}
	_, _, err := p.producer.SendMessage(msg)
	return err
}

func (p *SaramaPublisher) Close() error {
	return p.producer.Close()
}
