package kafka

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/route-beacon/bird-ingester/internal/metrics"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"go.uber.org/zap"
)

// Message is one record to publish. Key selects the partition.
type Message struct {
	Key   []byte
	Value []byte
}

// PublisherConfig holds the producer settings.
type PublisherConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
	Linger   time.Duration
	TLS      *tls.Config
	SASL     sasl.Mechanism
}

// Publisher produces route change events to a single topic.
type Publisher struct {
	client  *kgo.Client
	topic   string
	logger  *zap.Logger
	healthy atomic.Bool
	ping    func(context.Context) error
}

func NewPublisher(cfg PublisherConfig, logger *zap.Logger) (*Publisher, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.ZstdCompression(), kgo.NoCompression()),
	}
	if cfg.Linger > 0 {
		opts = append(opts, kgo.ProducerLinger(cfg.Linger))
	}
	if cfg.TLS != nil {
		opts = append(opts, kgo.DialTLSConfig(cfg.TLS))
	}
	if cfg.SASL != nil {
		opts = append(opts, kgo.SASL(cfg.SASL))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	p := &Publisher{client: client, topic: cfg.Topic, logger: logger}
	p.ping = client.Ping
	return p, nil
}

// Ping checks broker connectivity and marks the publisher healthy on success.
func (p *Publisher) Ping(ctx context.Context) error {
	if err := p.ping(ctx); err != nil {
		p.healthy.Store(false)
		return err
	}
	p.healthy.Store(true)
	return nil
}

// Monitor pings the brokers every interval until ctx is done, so readiness
// recovers without waiting for the next publish.
func (p *Publisher) Monitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.checkHealth(ctx, interval)
		}
	}
}

func (p *Publisher) checkHealth(ctx context.Context, timeout time.Duration) {
	wasHealthy := p.healthy.Load()
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := p.Ping(pingCtx)
	switch {
	case err != nil && wasHealthy:
		p.logger.Warn("kafka brokers unreachable", zap.Error(err))
	case err == nil && !wasHealthy:
		p.logger.Info("kafka brokers reachable")
	}
}

// Publish produces msgs and waits until every record is acknowledged.
func (p *Publisher) Publish(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	records := make([]*kgo.Record, len(msgs))
	for i, m := range msgs {
		records[i] = &kgo.Record{Topic: p.topic, Key: m.Key, Value: m.Value}
	}

	results := p.client.ProduceSync(ctx, records...)
	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	metrics.EventsPublishedTotal.WithLabelValues(p.topic, "ok").Add(float64(len(records) - failed))
	if failed > 0 {
		metrics.EventsPublishedTotal.WithLabelValues(p.topic, "error").Add(float64(failed))
	}

	if err := results.FirstErr(); err != nil {
		p.healthy.Store(false)
		p.logger.Error("publish failed",
			zap.String("topic", p.topic),
			zap.Int("failed", failed),
			zap.Int("total", len(records)),
			zap.Error(err),
		)
		return fmt.Errorf("produce to %s: %w", p.topic, err)
	}
	p.healthy.Store(true)
	return nil
}

// Ready reports whether the last broker interaction succeeded.
func (p *Publisher) Ready() bool {
	return p.healthy.Load()
}

func (p *Publisher) Close() {
	p.client.Close()
}
