package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"log/slog"
)

const (
	consumerClientID = "keymarket-consumer"
	rejoinBackoff    = 2 * time.Second
)

// MessageHandler processes one consumed event. A returned error leaves
// the offset unmarked so the event is redelivered.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error
}

type Consumer struct {
	group  sarama.ConsumerGroup
	logger *slog.Logger
}

// NewConsumer starts from the oldest offset so a fresh stats replica
// rebuilds its aggregates from the full trade history.
func NewConsumer(brokers []string, groupID string, logger *slog.Logger) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if groupID == "" {
		return nil, fmt.Errorf("kafka consumer group required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg := sarama.NewConfig()
	cfg.ClientID = consumerClientID
	cfg.Version = sarama.V3_7_0_0
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Group.Session.Timeout = 30 * time.Second
	cfg.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}

	return &Consumer{group: group, logger: logger}, nil
}

// Consume blocks, rejoining the group after transient errors, until ctx
// is cancelled.
func (c *Consumer) Consume(ctx context.Context, topics []string, handler MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("message handler required")
	}

	claims := &claimRunner{handler: handler, logger: c.logger}
	for {
		err := c.group.Consume(ctx, topics, claims)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			c.logger.Error("event consume failed, rejoining group", "topics", topics, "error", err)
			time.Sleep(rejoinBackoff)
		}
	}
}

func (c *Consumer) Close() error {
	if c.group == nil {
		return nil
	}
	return c.group.Close()
}

type claimRunner struct {
	handler MessageHandler
	logger  *slog.Logger
}

func (r *claimRunner) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (r *claimRunner) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (r *claimRunner) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if err := r.handler.HandleMessage(session.Context(), msg); err != nil {
			r.logger.Error("event handler failed",
				"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
			continue
		}
		session.MarkMessage(msg, "")
	}
	return nil
}
