package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"food_rescue/internal/ledger"
	"food_rescue/internal/model"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

func uptr(v uint) *uint { return &v }

func sampleEvent() ledger.Event {
	return ledger.Event{
		ID:         "9b1c4f2e-0000-4000-8000-000000000001",
		Type:       ledger.EventListingSplit,
		GroupID:    uptr(3),
		ListingID:  uptr(11),
		RequestID:  uptr(5),
		Payload:    map[string]any{"reserved_quantity": 4},
		OccurredAt: time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC),
	}
}

func TestEventMessageValidate(t *testing.T) {
	valid, err := FromEvent(sampleEvent())
	if err != nil {
		t.Fatalf("FromEvent() error = %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(*EventMessage)
		wantErr string
	}{
		{"valid", func(*EventMessage) {}, ""},
		{"missing id", func(m *EventMessage) { m.EventID = "" }, "event_id"},
		{"unknown type", func(m *EventMessage) { m.Type = "order.created" }, "unknown event type"},
		{"no references", func(m *EventMessage) { m.GroupID, m.ListingID, m.RequestID = 0, 0, 0 }, "references no"},
		{"no timestamp", func(m *EventMessage) { m.OccurredAt = time.Time{} }, "occurred_at"},
		{"bad payload", func(m *EventMessage) { m.Payload = json.RawMessage("{") }, "payload"},
	}
	for _, tt := range tests {
		m := valid
		tt.mutate(&m)
		err := m.Validate()
		if tt.wantErr == "" {
			if err != nil {
				t.Errorf("%s: unexpected error %v", tt.name, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
			t.Errorf("%s: error = %v, want mention of %q", tt.name, err, tt.wantErr)
		}
	}
}

func TestPartitionKey(t *testing.T) {
	if got := (EventMessage{GroupID: 3, ListingID: 9}).PartitionKey(); got != "group:3" {
		t.Errorf("PartitionKey() = %q, want group:3", got)
	}
	if got := (EventMessage{ListingID: 9}).PartitionKey(); got != "listing:9" {
		t.Errorf("legacy PartitionKey() = %q, want listing:9", got)
	}
}

func TestParseEventFromStreamValues(t *testing.T) {
	msg, err := FromEvent(sampleEvent())
	if err != nil {
		t.Fatalf("FromEvent() error = %v", err)
	}

	got, err := parseEvent(streamValues(msg))
	if err != nil {
		t.Fatalf("parseEvent() error = %v", err)
	}
	if got.EventID != msg.EventID || got.Type != msg.Type {
		t.Errorf("parsed %s/%s, want %s/%s", got.EventID, got.Type, msg.EventID, msg.Type)
	}
	if got.GroupID != 3 || got.ListingID != 11 || got.RequestID != 5 {
		t.Errorf("parsed ids %d/%d/%d, want 3/11/5", got.GroupID, got.ListingID, got.RequestID)
	}
	if !got.OccurredAt.Equal(msg.OccurredAt) {
		t.Errorf("occurred_at = %v, want %v", got.OccurredAt, msg.OccurredAt)
	}
	if string(got.Payload) != `{"reserved_quantity":4}` {
		t.Errorf("payload = %s", got.Payload)
	}

	if _, err := parseEvent(map[string]interface{}{"event_id": "x"}); err == nil {
		t.Error("expected error for missing fields")
	}
	bad := streamValues(msg)
	bad["group_id"] = "abc"
	if _, err := parseEvent(bad); err == nil {
		t.Error("expected error for non-numeric group_id")
	}
}

type fakeRecorder struct {
	mu   sync.Mutex
	seen map[string]*model.ListingEvent
	err  error
	// failures makes the next n calls fail.
	failures int
}

func (f *fakeRecorder) RecordEvent(_ context.Context, e *model.ListingEvent) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.failures > 0 {
		f.failures--
		return false, errors.New("database is locked")
	}
	if f.seen == nil {
		f.seen = map[string]*model.ListingEvent{}
	}
	if _, ok := f.seen[e.EventID]; ok {
		return false, nil
	}
	f.seen[e.EventID] = e
	return true, nil
}

func TestConsumerHandle(t *testing.T) {
	rec := &fakeRecorder{}
	c := &Consumer{recorder: rec}
	ctx := context.Background()

	msg, _ := FromEvent(sampleEvent())
	body, _ := json.Marshal(msg)

	if err := c.handle(ctx, body); err != nil {
		t.Fatalf("handle() error = %v", err)
	}
	if err := c.handle(ctx, body); err != nil {
		t.Fatalf("handle() on redelivery error = %v", err)
	}
	if len(rec.seen) != 1 {
		t.Fatalf("expected 1 stored event, got %d", len(rec.seen))
	}
	row := rec.seen[msg.EventID]
	if row.GroupID == nil || *row.GroupID != 3 || row.RequestID == nil || *row.RequestID != 5 {
		t.Errorf("unexpected row ids: %+v", row)
	}
	if string(row.EventData) != `{"reserved_quantity":4}` {
		t.Errorf("event data = %s", row.EventData)
	}

	if err := c.handle(ctx, []byte("not json")); err != nil {
		t.Errorf("malformed message should be skipped, got %v", err)
	}

	rec.err = errors.New("disk full")
	other := msg
	other.EventID = "another"
	body, _ = json.Marshal(other)
	if err := c.handle(ctx, body); err == nil {
		t.Error("expected storage error to surface")
	}
}

func (f *fakeRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

// scriptedReader replays fetch results in order, then blocks until the
// context is done.
type scriptedReader struct {
	mu      sync.Mutex
	script  []fetchResult
	commits []kafka.Message
}

type fetchResult struct {
	msg kafka.Message
	err error
}

func (r *scriptedReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.script) > 0 {
		next := r.script[0]
		r.script = r.script[1:]
		r.mu.Unlock()
		return next.msg, next.err
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *scriptedReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commits = append(r.commits, msgs...)
	return nil
}

func (r *scriptedReader) Close() error { return nil }

func (r *scriptedReader) committed() []kafka.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]kafka.Message(nil), r.commits...)
}

func TestConsumerRunSurvivesBrokerAndStorageErrors(t *testing.T) {
	msg, _ := FromEvent(sampleEvent())
	body, _ := json.Marshal(msg)

	reader := &scriptedReader{script: []fetchResult{
		{err: errors.New("broker not available")},
		{err: errors.New("connection reset by peer")},
		{msg: kafka.Message{Value: body, Offset: 7}},
	}}
	rec := &fakeRecorder{failures: 2}
	c := &Consumer{r: reader, recorder: rec, backoff: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(reader.committed()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	commits := reader.committed()
	if len(commits) != 1 || commits[0].Offset != 7 {
		t.Fatalf("commits = %+v, want offset 7 once", commits)
	}
	if rec.count() != 1 {
		t.Errorf("stored %d events, want 1", rec.count())
	}

	select {
	case <-done:
		t.Fatal("Run returned while the context was still live")
	default:
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestConsumerRunStopsWhenCancelledDuringRetry(t *testing.T) {
	msg, _ := FromEvent(sampleEvent())
	body, _ := json.Marshal(msg)

	reader := &scriptedReader{script: []fetchResult{{msg: kafka.Message{Value: body}}}}
	rec := &fakeRecorder{err: errors.New("disk full")}
	c := &Consumer{r: reader, recorder: rec, backoff: time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	c.Run(ctx)

	if got := reader.committed(); len(got) != 0 {
		t.Errorf("unstored message was committed: %+v", got)
	}
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []EventMessage
	fail bool
}

func (f *fakePublisher) Publish(_ context.Context, msg EventMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("kafka unavailable")
	}
	f.sent = append(f.sent, msg)
	return nil
}

func TestRelayForwardsAndRetries(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	ctx := context.Background()

	pub := &fakePublisher{fail: true}
	relay := NewRelay(rdb, pub, "events", "relay", "relay-1")
	if err := relay.ensureGroup(ctx); err != nil {
		t.Fatalf("ensureGroup() error = %v", err)
	}
	if err := relay.ensureGroup(ctx); err != nil {
		t.Fatalf("ensureGroup() twice error = %v", err)
	}

	sink := NewStreamSink(rdb, "events")
	if err := sink.Emit(ctx, sampleEvent()); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	if _, err := relay.pump(ctx, 10*time.Millisecond); err == nil {
		t.Fatal("expected publish failure")
	}
	if n, _ := rdb.XLen(ctx, "events").Result(); n != 1 {
		t.Fatalf("expected failed entry to stay in the stream, len=%d", n)
	}

	pub.fail = false
	acked, err := relay.pump(ctx, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("pump() error = %v", err)
	}
	if acked != 1 || len(pub.sent) != 1 {
		t.Fatalf("acked=%d sent=%d, want 1/1", acked, len(pub.sent))
	}
	if pub.sent[0].EventID != sampleEvent().ID {
		t.Errorf("sent %s, want %s", pub.sent[0].EventID, sampleEvent().ID)
	}
	if n, _ := rdb.XLen(ctx, "events").Result(); n != 0 {
		t.Errorf("expected stream to be drained, len=%d", n)
	}
}

func TestRelayDropsMalformedEntries(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	ctx := context.Background()

	pub := &fakePublisher{}
	relay := NewRelay(rdb, pub, "events", "relay", "relay-1")
	if err := relay.ensureGroup(ctx); err != nil {
		t.Fatalf("ensureGroup() error = %v", err)
	}
	if err := rdb.XAdd(ctx, &rd.XAddArgs{Stream: "events", Values: map[string]any{"event_id": "x"}}).Err(); err != nil {
		t.Fatalf("XAdd() error = %v", err)
	}

	acked, err := relay.pump(ctx, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("pump() error = %v", err)
	}
	if acked != 1 || len(pub.sent) != 0 {
		t.Errorf("acked=%d sent=%d, want 1/0", acked, len(pub.sent))
	}
}
