package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer writes ledger events to Kafka.
type Producer struct {
	w *kafka.Writer
}

// NewProducer hashes on the partition key so a group's events stay ordered,
// and waits for all in-sync replicas.
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  5,
			WriteTimeout: 5 * time.Second,
			ReadTimeout:  5 * time.Second,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

func (p *Producer) Close() error { return p.w.Close() }

// Publish synchronously writes one event.
func (p *Producer) Publish(ctx context.Context, msg EventMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.PartitionKey()),
		Value: b,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(msg.Type)},
		},
	})
}
