// Package producer publishes audit events to a Kafka topic. Records are
// keyed by subject account so one account's events stay ordered within a
// partition.
package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "ttkn/pkg/platform/audit"
)

const (
	HeaderEventID  = "event_id"
	HeaderCategory = "category"
)

// Producer is an audit.Sink backed by a franz-go client.
type Producer struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

type Option func(*config)

type config struct {
	logger  *slog.Logger
	linger  time.Duration
	timeout time.Duration
	extra   []kgo.Opt
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithLinger batches records for up to d before sending.
func WithLinger(d time.Duration) Option {
	return func(c *config) { c.linger = d }
}

// WithClientOpts passes extra options to the underlying kgo client.
func WithClientOpts(opts ...kgo.Opt) Option {
	return func(c *config) { c.extra = append(c.extra, opts...) }
}

// New connects to brokers. The client is lazy; use Ping to fail fast.
func New(brokers []string, topic string, opts ...Option) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	cfg := config{
		logger:  slog.Default(),
		linger:  5 * time.Millisecond,
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	kopts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(cfg.linger),
		kgo.RecordDeliveryTimeout(cfg.timeout),
	}
	kopts = append(kopts, cfg.extra...)

	client, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Producer{client: client, topic: topic, logger: cfg.logger}, nil
}

// Write produces event synchronously and returns once the broker acks it.
func (p *Producer) Write(ctx context.Context, event audit.Event) error {
	value, err := audit.Encode(event)
	if err != nil {
		return err
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.Subject),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: HeaderEventID, Value: []byte(event.ID.String())},
			{Key: HeaderCategory, Value: []byte(event.Category)},
		},
		Timestamp: event.Timestamp,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event %s: %w", event.ID, err)
	}
	return nil
}

// EnsureTopic creates the topic if it does not exist yet.
func (p *Producer) EnsureTopic(ctx context.Context, partitions int32, replicationFactor int16) error {
	admin := kadm.NewClient(p.client)
	resp, err := admin.CreateTopic(ctx, partitions, replicationFactor, nil, p.topic)
	if err == nil {
		err = resp.Err
	}
	if err != nil && !errors.Is(err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", p.topic, err)
	}
	if err == nil {
		p.logger.InfoContext(ctx, "created kafka topic",
			"topic", p.topic,
			"partitions", partitions,
		)
	}
	return nil
}

// Ping checks broker reachability.
func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close flushes buffered records and closes the client.
func (p *Producer) Close(ctx context.Context) error {
	err := p.client.Flush(ctx)
	p.client.Close()
	return err
}

var _ audit.Sink = (*Producer)(nil)
