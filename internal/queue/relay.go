package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Publisher is the Kafka side of the relay.
type Publisher interface {
	Publish(ctx context.Context, msg EventMessage) error
}

// Relay forwards the Redis Stream outbox to Kafka. A stream entry is acked
// only after Kafka accepted it; failed entries stay pending and are retried.
type Relay struct {
	rdb       *rd.Client
	publisher Publisher

	stream   string
	group    string
	consumer string
}

func NewRelay(rdb *rd.Client, publisher Publisher, stream, group, consumer string) *Relay {
	return &Relay{
		rdb:       rdb,
		publisher: publisher,
		stream:    stream,
		group:     group,
		consumer:  consumer,
	}
}

func (r *Relay) Run(ctx context.Context) {
	if err := r.ensureGroup(ctx); err != nil {
		log.Error().Err(err).Str("stream", r.stream).Msg("relay ensure group")
		return
	}
	log.Info().Str("stream", r.stream).Str("group", r.group).Msg("event relay started")

	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := r.pump(ctx, 2*time.Second); err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			log.Warn().Err(err).Msg("relay pump")
			time.Sleep(300 * time.Millisecond)
		}
	}
}

// pump handles this consumer's pending entries first, then new ones. It
// returns how many entries were acked.
func (r *Relay) pump(ctx context.Context, block time.Duration) (int, error) {
	msgs, err := r.readGroup(ctx, "0", -1)
	if err != nil {
		return 0, fmt.Errorf("read pending: %w", err)
	}
	if len(msgs) == 0 {
		if msgs, err = r.readGroup(ctx, ">", block); err != nil {
			return 0, fmt.Errorf("read new: %w", err)
		}
	}

	acked := 0
	for _, xm := range msgs {
		if err := r.processOne(ctx, xm); err != nil {
			// Keep order: stop at the first failure and retry it next round.
			return acked, fmt.Errorf("message id=%s: %w", xm.ID, err)
		}
		acked++
	}
	return acked, nil
}

func (r *Relay) ensureGroup(ctx context.Context) error {
	err := r.rdb.XGroupCreateMkStream(ctx, r.stream, r.group, "0").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

// readGroup reads up to 16 entries. A negative block never waits.
func (r *Relay) readGroup(ctx context.Context, streamID string, block time.Duration) ([]rd.XMessage, error) {
	streams, err := r.rdb.XReadGroup(ctx, &rd.XReadGroupArgs{
		Group:    r.group,
		Consumer: r.consumer,
		Streams:  []string{r.stream, streamID},
		Count:    16,
		Block:    block,
		NoAck:    false,
	}).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]rd.XMessage, 0, 16)
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

func (r *Relay) processOne(ctx context.Context, xm rd.XMessage) error {
	msg, err := parseEvent(xm.Values)
	if err != nil {
		log.Warn().Err(err).Str("id", xm.ID).Msg("relay dropping malformed event")
		if ackErr := r.ackAndDelete(ctx, xm.ID); ackErr != nil {
			return fmt.Errorf("parse failed: %v, ack failed: %w", err, ackErr)
		}
		return nil
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.publisher.Publish(pubCtx, msg); err != nil {
		return err
	}
	return r.ackAndDelete(ctx, xm.ID)
}

func (r *Relay) ackAndDelete(ctx context.Context, id string) error {
	pipe := r.rdb.TxPipeline()
	pipe.XAck(ctx, r.stream, r.group, id)
	pipe.XDel(ctx, r.stream, id)
	_, err := pipe.Exec(ctx)
	return err
}

func parseEvent(values map[string]interface{}) (EventMessage, error) {
	eventID, err := getStreamString(values, "event_id")
	if err != nil {
		return EventMessage{}, err
	}
	typ, err := getStreamString(values, "type")
	if err != nil {
		return EventMessage{}, err
	}
	occurredStr, err := getStreamString(values, "occurred_at")
	if err != nil {
		return EventMessage{}, err
	}
	occurredAt, err := time.Parse(time.RFC3339Nano, occurredStr)
	if err != nil {
		return EventMessage{}, fmt.Errorf("invalid occurred_at %q", occurredStr)
	}

	msg := EventMessage{EventID: eventID, Type: typ, OccurredAt: occurredAt}
	for key, dst := range map[string]*uint{
		"group_id":   &msg.GroupID,
		"listing_id": &msg.ListingID,
		"request_id": &msg.RequestID,
	} {
		if _, ok := values[key]; !ok {
			continue
		}
		s, err := getStreamString(values, key)
		if err != nil {
			return EventMessage{}, err
		}
		id, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return EventMessage{}, fmt.Errorf("invalid %s %q", key, s)
		}
		*dst = uint(id)
	}
	if _, ok := values["payload"]; ok {
		payload, err := getStreamString(values, "payload")
		if err != nil {
			return EventMessage{}, err
		}
		msg.Payload = []byte(payload)
	}

	if err := msg.Validate(); err != nil {
		return EventMessage{}, err
	}
	return msg, nil
}

func getStreamString(values map[string]interface{}, key string) (string, error) {
	v, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing field %s", key)
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	default:
		return "", fmt.Errorf("unsupported field type %s: %T", key, v)
	}
}
