// Package consumer feeds the stats read model from the keys.traded
// topic.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"log/slog"

	"github.com/IBM/sarama"

	"github.com/AfshinJalili/keymarket/internal/cache"
	"github.com/AfshinJalili/keymarket/internal/market"
)

// TradeConsumer applies keys.traded events to the stats cache. It
// implements kafka.MessageHandler.
type TradeConsumer struct {
	stats  *cache.StatsCache
	logger *slog.Logger
}

func NewTradeConsumer(stats *cache.StatsCache, logger *slog.Logger) *TradeConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &TradeConsumer{stats: stats, logger: logger}
}

func (c *TradeConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var event market.KeyTradedMessage
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("decode trade event: %w", err)
	}
	if err := event.Envelope.Validate(); err != nil {
		return fmt.Errorf("invalid trade envelope: %w", err)
	}
	if event.EventType != market.EventTypeKeyTraded {
		c.logger.Warn("skipping unexpected event type", "event_type", event.EventType, "offset", msg.Offset)
		return nil
	}

	c.stats.Record(event.Payload)
	c.logger.Debug("trade event applied",
		"event_id", event.EventID,
		"creator", event.Payload.Creator,
		"side", event.Payload.Side,
	)
	return nil
}
