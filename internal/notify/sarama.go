package notify

import (
	"context"
	"log/slog"

	"github.com/IBM/sarama"
)

// SaramaProducer publishes through an IBM/sarama async producer.
type SaramaProducer struct {
	producer sarama.AsyncProducer
	topic    string
	done     chan struct{}
}

func NewSaramaProducer(brokers []string, topic string) (*SaramaProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Retry.Max = 5
	config.Producer.Return.Errors = true
	config.Producer.Compression = sarama.CompressionSnappy  // Enable compression
	config.Producer.Partitioner = sarama.NewHashPartitioner // Consistent hashing
	config.Version = sarama.V2_0_0_0
	config.ClientID = "collab-service"
	config.Producer.MaxMessageBytes = 1000000

	producer, err := sarama.NewAsyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}
	return newSaramaProducer(producer, topic), nil
}

// newSaramaProducer takes ownership of producer, which must return errors.
func newSaramaProducer(producer sarama.AsyncProducer, topic string) *SaramaProducer {
	p := &SaramaProducer{producer: producer, topic: topic, done: make(chan struct{})}
	go p.drainErrors()
	return p
}

func (p *SaramaProducer) drainErrors() {
	defer close(p.done)
	for err := range p.producer.Errors() {
		slog.Error("Kafka delivery failed", "topic", p.topic, "error", err.Err)
	}
}

func (p *SaramaProducer) Publish(ctx context.Context, key, value []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	select {
	case p.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *SaramaProducer) Close() error {
	err := p.producer.Close()
	<-p.done
	return err
}
