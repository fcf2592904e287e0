package notify

import (
	"fmt"

	"collab-service/internal/config"
)

const (
	ClientKafkaGo = "kafka-go"
	ClientSarama  = "sarama"
)

// NewPublisher builds the Kafka publisher selected by cfg.Client. It returns
// a nil Publisher when no brokers are configured.
func NewPublisher(cfg config.KafkaConfig) (Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}

	switch cfg.Client {
	case "", ClientKafkaGo:
		return NewKafkaWriter(cfg.Brokers, cfg.Topic), nil
	case ClientSarama:
		p, err := NewSaramaProducer(cfg.Brokers, cfg.Topic)
		if err != nil {
			return nil, fmt.Errorf("failed to create sarama producer: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown kafka client %q", cfg.Client)
	}
}
