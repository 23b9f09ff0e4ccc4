// Package kafka provides the async producer behind the alert feed.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer publishes records fire-and-forget. Delivery failures are logged,
// never surfaced: the alert feed is a convenience stream, the alert store
// is the durable record.
type Producer struct {
	client *kgo.Client
	logger *slog.Logger
}

// NewProducer connects to the brokers. Returns nil when no brokers are
// configured.
func NewProducer(brokers []string, logger *slog.Logger) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.AllowAutoTopicCreation(),
		kgo.ProducerLinger(50*time.Millisecond),
		kgo.ProduceRequestTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect kafka: %w", err)
	}
	return &Producer{client: client, logger: logger}, nil
}

// Publish sends one record without waiting for the broker.
func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) {
	record := &kgo.Record{Topic: topic, Key: key, Value: value}
	p.client.Produce(ctx, record, func(r *kgo.Record, err error) {
		if err != nil {
			p.logger.Error("kafka publish failed", "topic", r.Topic, "error", err)
		}
	})
}

// Close flushes buffered records and shuts the client down.
func (p *Producer) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		p.logger.Error("kafka flush on close failed", "error", err)
	}
	p.client.Close()
}
