package repository

import (
	"context"

	"FinTrain/internal/domain/models"
	"FinTrain/internal/domain/repository"
	pkgkafka "FinTrain/pkg/kafka"
)

// KafkaEventPublisher implements EventPublisher for Kafka. Events are keyed
// by symbol so consumers see per-instrument ordering.
type KafkaEventPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaEventPublisher creates the Kafka event publisher.
func NewKafkaEventPublisher(producer *pkgkafka.Producer, topic string) repository.EventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

func (p *KafkaEventPublisher) Publish(ctx context.Context, ev models.PipelineEvent) error {
	key := ev.Symbol
	if key == "" {
		key = ev.RunID
	}
	return p.producer.Publish(ctx, p.topic, []byte(key), ev)
}

func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
