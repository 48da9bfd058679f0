// Package kafka forwards settlement events to a Kafka topic for external
// indexers. Producing is synchronous: an event is either durably on the
// topic or the settlement operation's emit step reports the failure.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"custodia/pkg/platform/events"
)

type Publisher struct {
	client *kgo.Client
	topic  string
}

// New connects a producer to the given brokers and topic.
func New(brokers []string, topic string) (*Publisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return &Publisher{client: client, topic: topic}, nil
}

// Append produces one event record. The key is the subject identity so all
// events for one party land in one partition, preserving per-party order.
func (p *Publisher) Append(ctx context.Context, event events.Event) error {
	value, err := json.Marshal(wireEvent{
		ID:        event.ID,
		Kind:      string(event.Kind),
		Service:   event.Service,
		Timestamp: event.Timestamp.UnixMilli(),
		Subject:   event.Subject.String(),
		Payload:   event.Payload,
	})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	record := &kgo.Record{
		Key:   []byte(event.Subject.String()),
		Value: value,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce event: %w", err)
	}
	return nil
}

func (p *Publisher) Close() {
	p.client.Close()
}

// wireEvent is the JSON shape on the topic. Field names are a contract with
// external indexers; do not rename.
type wireEvent struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	Service   string         `json:"service"`
	Timestamp int64          `json:"timestamp_ms"`
	Subject   string         `json:"subject"`
	Payload   map[string]any `json:"payload"`
}
