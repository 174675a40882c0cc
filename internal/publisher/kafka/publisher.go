// Package kafka publishes run events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/propagation"

	"github.com/JakeFAU/realtime-menu-ingest/internal/catalog"
)

// Config names the brokers and destination topic.
type Config struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// ParseBrokers splits a comma-separated broker list.
func ParseBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes JSON payloads synchronously to one topic.
type Publisher struct {
	writer messageWriter
	topic  string
}

// New creates a Publisher for cfg.
func New(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka brokers and topic are required")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &Publisher{writer: writer, topic: cfg.Topic}, nil
}

// Publish marshals the payload to JSON and writes it. Run summaries are keyed
// by kind so one kind's events stay ordered on a partition. The returned ID is
// the message key.
func (p *Publisher) Publish(ctx context.Context, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	key, headers := envelope(payload)

	carrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(ctx, carrier)
	for _, k := range carrier.Keys() {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(carrier.Get(k))})
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: data, Headers: headers}); err != nil {
		return "", fmt.Errorf("publish to kafka topic %s: %w", p.topic, err)
	}
	return key, nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

func envelope(payload any) (string, []kafka.Header) {
	summary, ok := payload.(catalog.RunSummary)
	if !ok {
		return "", nil
	}
	return summary.Kind.String() + ":" + summary.RunID, []kafka.Header{
		{Key: "event", Value: []byte("run_finished")},
		{Key: "kind", Value: []byte(summary.Kind.String())},
		{Key: "status", Value: []byte(summary.Status)},
		{Key: "run_id", Value: []byte(summary.RunID)},
	}
}
