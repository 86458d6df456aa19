package queue

import (
	"context"
	"encoding/json"
	"time"

	"food_rescue/internal/model"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"gorm.io/datatypes"
)

// EventRecorder stores projected events. Duplicates report written=false.
type EventRecorder interface {
	RecordEvent(ctx context.Context, e *model.ListingEvent) (written bool, err error)
}

// messageReader is the part of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer projects the Kafka event topic into the listing_events audit table.
type Consumer struct {
	r        messageReader
	recorder EventRecorder
	backoff  time.Duration
}

func NewConsumer(brokers []string, topic, groupID string, recorder EventRecorder) *Consumer {
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1e3,
			MaxBytes: 1e6,
		}),
		recorder: recorder,
		backoff:  500 * time.Millisecond,
	}
}

func (c *Consumer) Close() error { return c.r.Close() }

// Run consumes until ctx is done. Broker errors are logged and retried. A
// message is committed only after it is stored, so a storage failure retries
// the same message instead of skipping it.
func (c *Consumer) Run(ctx context.Context) {
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("consumer fetch")
			if !c.wait(ctx) {
				return
			}
			continue
		}

		for {
			err := c.handle(ctx, m.Value)
			if err == nil {
				break
			}
			log.Error().Err(err).Int("partition", m.Partition).Int64("offset", m.Offset).Msg("consume event")
			if !c.wait(ctx) {
				return
			}
		}

		if err := c.r.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return
			}
			// Redelivery is absorbed by the unique event id.
			log.Warn().Err(err).Int("partition", m.Partition).Int64("offset", m.Offset).Msg("consumer commit")
		}
	}
}

// wait sleeps for the backoff and reports false once ctx is done.
func (c *Consumer) wait(ctx context.Context) bool {
	t := time.NewTimer(c.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// handle decodes and stores one message. Malformed messages are logged and
// skipped; redelivered events are absorbed by the unique event id.
func (c *Consumer) handle(ctx context.Context, value []byte) error {
	var msg EventMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		log.Warn().Err(err).Msg("consumer skipping undecodable event")
		return nil
	}
	if err := msg.Validate(); err != nil {
		log.Warn().Err(err).Str("event_id", msg.EventID).Msg("consumer skipping invalid event")
		return nil
	}

	row := toListingEvent(msg)
	written, err := c.recorder.RecordEvent(ctx, row)
	if err != nil {
		return err
	}
	if !written {
		log.Debug().Str("event_id", msg.EventID).Msg("duplicate event ignored")
	}
	return nil
}

func toListingEvent(msg EventMessage) *model.ListingEvent {
	row := &model.ListingEvent{
		EventID:    msg.EventID,
		EventType:  msg.Type,
		GroupID:    optional(msg.GroupID),
		ListingID:  optional(msg.ListingID),
		RequestID:  optional(msg.RequestID),
		OccurredAt: msg.OccurredAt,
	}
	if len(msg.Payload) > 0 {
		row.EventData = datatypes.JSON(msg.Payload)
	}
	return row
}
