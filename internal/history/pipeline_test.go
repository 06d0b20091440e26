package history

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/route-beacon/bird-ingester/internal/kafka"
	"github.com/route-beacon/bird-ingester/internal/state"
	"go.uber.org/zap"
)

type fakeEventStore struct {
	mu      sync.Mutex
	fail    bool
	replies []*RawReply
	events  []*Event
	flushes int
}

func (s *fakeEventStore) FlushBatch(_ context.Context, replies []*RawReply, events []*Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return 0, errors.New("db down")
	}
	s.flushes++
	s.replies = append(s.replies, replies...)
	s.events = append(s.events, events...)
	return int64(len(events)), nil
}

func (s *fakeEventStore) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (p *fakePublisher) Publish(_ context.Context, msgs []kafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func testSnapshot() (*state.Snapshot, []state.Change) {
	snap := &state.Snapshot{
		RouterID:  "192.0.2.1",
		TableName: "master4",
		TakenAt:   time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC),
		Raw:       sampleReply,
	}
	lp := int64(200)
	changes := []state.Change{
		{Action: state.ActionAdd, Route: &state.ParsedRoute{
			AFI: 4, Prefix: "10.0.0.0/24", Protocol: "bgp1", Bestpath: true,
			ASPath: "65001", LocalPref: &lp, Fingerprint: []byte{1},
		}},
		{Action: state.ActionDelete, Route: &state.ParsedRoute{
			AFI: 4, Prefix: "10.0.1.0/24", Protocol: "bgp1", Fingerprint: []byte{2},
		}},
	}
	return snap, changes
}

func TestNewEvents(t *testing.T) {
	snap, changes := testSnapshot()
	events := NewEvents(snap, changes, []byte{0xab})

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	ev := events[0]
	if ev.Action != "A" || ev.Prefix != "10.0.0.0/24" || ev.RouterID != "192.0.2.1" {
		t.Errorf("unexpected event %+v", ev)
	}
	if !ev.EventTime.Equal(snap.TakenAt) {
		t.Errorf("event time = %v, want %v", ev.EventTime, snap.TakenAt)
	}
	if events[1].Action != "D" {
		t.Errorf("expected delete event, got %s", events[1].Action)
	}
	if string(ev.Key()) != "192.0.2.1|master4|10.0.0.0/24" {
		t.Errorf("unexpected key %q", ev.Key())
	}
}

func TestEventJSON(t *testing.T) {
	snap, changes := testSnapshot()
	ev := NewEvents(snap, changes, []byte{0xab})[0]

	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if id, _ := got["event_id"].(string); len(id) != 64 {
		t.Errorf("expected hex event id, got %v", got["event_id"])
	}
	if got["reply_id"] != "ab" {
		t.Errorf("expected reply id ab, got %v", got["reply_id"])
	}
	if got["localpref"] != float64(200) {
		t.Errorf("expected localpref 200, got %v", got["localpref"])
	}
	if _, ok := got["EventID"]; ok {
		t.Error("raw EventID field should not be encoded")
	}
}

func TestPipelineFlushesAndPublishes(t *testing.T) {
	store := &fakeEventStore{}
	pub := &fakePublisher{}
	p := NewPipeline(PipelineConfig{
		BatchSize:     2,
		FlushInterval: time.Hour,
		BufferSize:    4,
		StoreRaw:      true,
		CompressRaw:   true,
	}, store, pub, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { p.Run(ctx); close(done) }()

	snap, changes := testSnapshot()
	if err := p.Submit(ctx, snap, changes); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for store.eventCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if store.eventCount() != 2 {
		t.Fatalf("expected 2 stored events, got %d", store.eventCount())
	}
	if len(store.replies) != 1 || !store.replies[0].Compressed {
		t.Fatalf("expected one compressed raw reply, got %d", len(store.replies))
	}
	if string(store.events[0].ReplyID) != string(store.replies[0].ReplyID) {
		t.Error("events should reference their raw reply")
	}
	if len(pub.msgs) != 2 {
		t.Errorf("expected 2 published messages, got %d", len(pub.msgs))
	}
}

func TestPipelineFlushesOnShutdown(t *testing.T) {
	store := &fakeEventStore{}
	p := NewPipeline(PipelineConfig{BatchSize: 100, FlushInterval: time.Hour, BufferSize: 4}, store, nil, zap.NewNop())

	snap, changes := testSnapshot()
	if err := p.Submit(context.Background(), snap, changes); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Run(ctx)

	if store.eventCount() != 2 {
		t.Fatalf("expected queued events to be flushed on shutdown, got %d", store.eventCount())
	}
	if len(store.replies) != 0 {
		t.Errorf("raw replies are disabled, got %d", len(store.replies))
	}
}

func TestPipelineSubmitRespectsContext(t *testing.T) {
	p := NewPipeline(PipelineConfig{BufferSize: 0}, &fakeEventStore{}, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snap, changes := testSnapshot()
	if err := p.Submit(ctx, snap, changes); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPipelineKeepsBatchOnFailure(t *testing.T) {
	store := &fakeEventStore{fail: true}
	p := NewPipeline(PipelineConfig{BatchSize: 1, FlushInterval: time.Hour, BufferSize: 4}, store, nil, zap.NewNop())

	snap, changes := testSnapshot()
	if err := p.Submit(context.Background(), snap, changes); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { p.Run(ctx); close(done) }()

	time.Sleep(20 * time.Millisecond)
	store.mu.Lock()
	store.fail = false
	store.mu.Unlock()
	cancel()
	<-done

	if store.eventCount() != 2 {
		t.Fatalf("failed batch should be retried on shutdown, got %d events", store.eventCount())
	}
}
