// Package consumer runs a Kafka consumer group and hands each record to a
// Handler. Offsets are committed only after the handler succeeds, giving
// at-least-once delivery.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Message is a consumed record, stripped of client types.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
}

// Handler processes one message. A non-nil error means "retry": the
// message is redelivered to Handle until it succeeds or the consumer stops.
// Handlers return nil for messages that can never succeed.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

type Consumer struct {
	client     *kgo.Client
	handler    Handler
	logger     *slog.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
}

type Option func(*Consumer)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Consumer) { c.logger = logger }
}

// WithBackoff bounds the delay between retries of a failing message.
func WithBackoff(minBackoff, maxBackoff time.Duration) Option {
	return func(c *Consumer) {
		c.minBackoff, c.maxBackoff = minBackoff, maxBackoff
	}
}

// New joins group and subscribes to topics, starting from the earliest
// offset when the group has no commits.
func New(brokers []string, group string, topics []string, handler Handler, opts ...Option) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if group == "" || len(topics) == 0 {
		return nil, fmt.Errorf("kafka consumer group and topics are required")
	}
	c := &Consumer{
		handler:    handler,
		logger:     slog.Default(),
		minBackoff: 100 * time.Millisecond,
		maxBackoff: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topics...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	c.client = client
	return c, nil
}

// Run polls until ctx is done. It returns nil on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.client.Close()
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.logger.ErrorContext(ctx, "kafka fetch failed",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})

		var handled []*kgo.Record
		iter := fetches.RecordIter()
		for !iter.Done() {
			record := iter.Next()
			if err := c.handle(ctx, record); err != nil {
				// Only cancellation gets here; leave the rest uncommitted.
				break
			}
			handled = append(handled, record)
		}
		if len(handled) == 0 {
			continue
		}
		if err := c.client.CommitRecords(context.WithoutCancel(ctx), handled...); err != nil {
			c.logger.ErrorContext(ctx, "kafka commit failed", "error", err)
		}
	}
}

// handle retries the handler with exponential backoff until it succeeds or
// ctx is done.
func (c *Consumer) handle(ctx context.Context, record *kgo.Record) error {
	msg := toMessage(record)
	backoff := c.minBackoff
	for attempt := 1; ; attempt++ {
		err := c.handler.Handle(ctx, msg)
		if err == nil {
			return nil
		}
		c.logger.WarnContext(ctx, "audit message handler failed, retrying",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"attempt", attempt,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, c.maxBackoff)
	}
}

func toMessage(r *kgo.Record) *Message {
	headers := make(map[string]string, len(r.Headers))
	for _, h := range r.Headers {
		headers[h.Key] = string(h.Value)
	}
	return &Message{
		Topic:     r.Topic,
		Partition: r.Partition,
		Offset:    r.Offset,
		Key:       r.Key,
		Value:     r.Value,
		Headers:   headers,
	}
}
