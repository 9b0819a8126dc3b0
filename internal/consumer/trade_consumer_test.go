package consumer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/AfshinJalili/keymarket/internal/cache"
	"github.com/AfshinJalili/keymarket/internal/market"
)

func tradedMessage(t *testing.T, payload market.KeyTradedEvent) *sarama.ConsumerMessage {
	t.Helper()
	receipt := &market.TradeReceipt{
		TradeID:   payload.TradeID,
		Creator:   market.Identity(payload.Creator),
		Trader:    market.Identity(payload.Trader),
		Side:      market.Side(payload.Side),
		Amount:    payload.Amount,
		RawPrice:  payload.RawPrice,
		NewSupply: payload.NewSupply,
	}
	msg, err := market.NewKeyTradedMessage(receipt)
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	msg.Payload.ExecutedAt = payload.ExecutedAt

	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal message: %v", err)
	}
	return &sarama.ConsumerMessage{Topic: "keys.traded", Value: raw}
}

func TestHandleMessageUpdatesStats(t *testing.T) {
	stats := cache.NewStatsCache()
	c := NewTradeConsumer(stats, nil)

	msg := tradedMessage(t, market.KeyTradedEvent{
		TradeID: "trade-1", Creator: "creator", Trader: "buyer", Side: "buy",
		Amount: 2, RawPrice: 2_000_000, NewSupply: 2,
		ExecutedAt: time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC),
	})
	if err := c.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got, ok := stats.Get("creator")
	if !ok {
		t.Fatal("stats not recorded")
	}
	if got.Trades != 1 || got.Buys != 1 {
		t.Fatalf("trades/buys = %d/%d, want 1/1", got.Trades, got.Buys)
	}
	if got.Volume.Uint64() != 2_000_000 {
		t.Fatalf("volume = %s, want 2000000", got.Volume)
	}
}

func TestHandleMessageRejectsMalformedPayload(t *testing.T) {
	c := NewTradeConsumer(cache.NewStatsCache(), nil)

	msg := &sarama.ConsumerMessage{Topic: "keys.traded", Value: []byte("not json")}
	if err := c.HandleMessage(context.Background(), msg); err == nil {
		t.Fatal("malformed payload accepted")
	}
}

func TestHandleMessageSkipsForeignEventType(t *testing.T) {
	stats := cache.NewStatsCache()
	c := NewTradeConsumer(stats, nil)

	raw := []byte(`{"event_id":"e1","event_type":"keys.created","event_version":1,"timestamp":"2026-05-02T09:00:00Z","payload":{}}`)
	msg := &sarama.ConsumerMessage{Topic: "keys.traded", Value: raw}
	if err := c.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if _, ok := stats.Get(""); ok {
		t.Fatal("foreign event recorded")
	}
}
