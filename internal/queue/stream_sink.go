package queue

import (
	"context"
	"strconv"
	"time"

	"food_rescue/internal/ledger"

	rd "github.com/redis/go-redis/v9"
)

// StreamSink appends ledger events to a Redis Stream. The Relay forwards
// them to Kafka, so a Kafka outage never blocks a ledger operation.
type StreamSink struct {
	rdb    *rd.Client
	stream string
	maxLen int64
}

func NewStreamSink(rdb *rd.Client, stream string) *StreamSink {
	return &StreamSink{rdb: rdb, stream: stream, maxLen: 100000}
}

func (s *StreamSink) Emit(ctx context.Context, e ledger.Event) error {
	msg, err := FromEvent(e)
	if err != nil {
		return err
	}
	return s.rdb.XAdd(ctx, &rd.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: streamValues(msg),
	}).Err()
}

func streamValues(msg EventMessage) map[string]any {
	values := map[string]any{
		"event_id":    msg.EventID,
		"type":        msg.Type,
		"group_id":    strconv.FormatUint(uint64(msg.GroupID), 10),
		"listing_id":  strconv.FormatUint(uint64(msg.ListingID), 10),
		"request_id":  strconv.FormatUint(uint64(msg.RequestID), 10),
		"occurred_at": msg.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	if len(msg.Payload) > 0 {
		values["payload"] = string(msg.Payload)
	}
	return values
}
