package history

import (
	"context"
	"encoding/json"
	"time"

	"github.com/route-beacon/bird-ingester/internal/kafka"
	"github.com/route-beacon/bird-ingester/internal/metrics"
	"github.com/route-beacon/bird-ingester/internal/state"
	"go.uber.org/zap"
)

// EventStore persists event batches. *Writer implements it.
type EventStore interface {
	FlushBatch(ctx context.Context, replies []*RawReply, events []*Event) (int64, error)
}

// EventPublisher publishes stored events. *kafka.Publisher implements it.
type EventPublisher interface {
	Publish(ctx context.Context, msgs []kafka.Message) error
}

type PipelineConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
	StoreRaw      bool
	CompressRaw   bool
}

type submission struct {
	reply  *RawReply
	events []*Event
}

// Pipeline batches route change events into route_events and publishes them
// once stored. It implements state.ChangeSink.
type Pipeline struct {
	cfg       PipelineConfig
	store     EventStore
	publisher EventPublisher
	in        chan submission
	logger    *zap.Logger
}

func NewPipeline(cfg PipelineConfig, store EventStore, publisher EventPublisher, logger *zap.Logger) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 200 * time.Millisecond
	}
	return &Pipeline{
		cfg:       cfg,
		store:     store,
		publisher: publisher,
		in:        make(chan submission, cfg.BufferSize),
		logger:    logger,
	}
}

// Submit converts changes into events and queues them. It blocks while the
// queue is full.
func (p *Pipeline) Submit(ctx context.Context, snap *state.Snapshot, changes []state.Change) error {
	var sub submission
	var replyID []byte
	if p.cfg.StoreRaw && len(snap.Raw) > 0 {
		sub.reply = NewRawReply(snap.RouterID, snap.TableName, snap.TakenAt, snap.Raw, p.cfg.CompressRaw)
		replyID = sub.reply.ReplyID
	}
	sub.events = NewEvents(snap, changes, replyID)

	for _, ev := range sub.events {
		metrics.RouteEventsTotal.WithLabelValues(ev.TableName, ev.Action).Inc()
	}

	select {
	case p.in <- sub:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run batches submissions until ctx is cancelled, then flushes what is left.
func (p *Pipeline) Run(ctx context.Context) {
	var replies []*RawReply
	var events []*Event
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	reset := func() {
		replies = nil
		events = nil
	}

	for {
		select {
		case <-ctx.Done():
			p.drain(&replies, &events)
			if len(events) > 0 || len(replies) > 0 {
				fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
				p.flush(fctx, replies, events)
				cancel()
			}
			return

		case sub := <-p.in:
			if sub.reply != nil {
				replies = append(replies, sub.reply)
			}
			events = append(events, sub.events...)

			if len(events) >= p.cfg.BatchSize {
				if p.flush(ctx, replies, events) {
					reset()
				}
			}

			// Cap memory: if repeated flush failures cause the batch to
			// grow beyond 10x the configured size, drop it.
			if len(events) >= p.cfg.BatchSize*10 {
				p.logger.Error("dropping oversized batch after repeated flush failures",
					zap.Int("dropped_events", len(events)),
					zap.Int("dropped_replies", len(replies)),
				)
				reset()
			}

		case <-ticker.C:
			if len(events) > 0 || len(replies) > 0 {
				if p.flush(ctx, replies, events) {
					reset()
				}
			}
		}
	}
}

// drain moves queued submissions into the batch without blocking.
func (p *Pipeline) drain(replies *[]*RawReply, events *[]*Event) {
	for {
		select {
		case sub := <-p.in:
			if sub.reply != nil {
				*replies = append(*replies, sub.reply)
			}
			*events = append(*events, sub.events...)
		default:
			return
		}
	}
}

func (p *Pipeline) flush(ctx context.Context, replies []*RawReply, events []*Event) bool {
	inserted, err := p.store.FlushBatch(ctx, replies, events)
	if err != nil {
		p.logger.Error("history batch flush failed", zap.Error(err))
		return false
	}

	p.logger.Debug("history batch flushed",
		zap.Int("batch_size", len(events)),
		zap.Int("replies", len(replies)),
		zap.Int64("inserted", inserted),
		zap.Int64("deduped", int64(len(events))-inserted),
	)

	if p.publisher != nil && len(events) > 0 {
		msgs := make([]kafka.Message, 0, len(events))
		for _, ev := range events {
			value, err := json.Marshal(ev)
			if err != nil {
				p.logger.Warn("failed to encode event", zap.Error(err))
				continue
			}
			msgs = append(msgs, kafka.Message{Key: ev.Key(), Value: value})
		}
		// Events are already stored; a publish failure is logged by the
		// publisher and not retried.
		_ = p.publisher.Publish(ctx, msgs)
	}
	return true
}
