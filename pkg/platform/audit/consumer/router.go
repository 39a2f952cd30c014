// Package consumer materializes audit events consumed from Kafka into an
// audit store.
package consumer

import (
	"context"
	"log/slog"
	"slices"

	"ttkn/internal/platform/kafka/consumer"
)

// TopicHandler processes one message. A returned error leaves the offset
// uncommitted so the message is redelivered.
type TopicHandler interface {
	Handle(ctx context.Context, msg *consumer.Message) error
}

// Router picks a TopicHandler by message topic.
type Router struct {
	byTopic  map[string]TopicHandler
	fallback TopicHandler
	logger   *slog.Logger
}

// NewRouter creates a Router. fallback may be nil, in which case messages on
// unknown topics are logged and committed.
func NewRouter(logger *slog.Logger, fallback TopicHandler) *Router {
	return &Router{
		byTopic:  make(map[string]TopicHandler),
		fallback: fallback,
		logger:   logger,
	}
}

func (r *Router) Register(topic string, h TopicHandler) {
	r.byTopic[topic] = h
}

// Topics returns the registered topics in sorted order, for subscribing.
func (r *Router) Topics() []string {
	topics := make([]string, 0, len(r.byTopic))
	for topic := range r.byTopic {
		topics = append(topics, topic)
	}
	slices.Sort(topics)
	return topics
}

func (r *Router) Handle(ctx context.Context, msg *consumer.Message) error {
	if h, ok := r.byTopic[msg.Topic]; ok {
		return h.Handle(ctx, msg)
	}
	if r.fallback != nil {
		return r.fallback.Handle(ctx, msg)
	}
	r.logger.WarnContext(ctx, "dropping audit message from unrouted topic",
		"topic", msg.Topic,
		"partition", msg.Partition,
		"offset", msg.Offset,
	)
	return nil
}
