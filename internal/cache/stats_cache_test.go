package cache

import (
	"testing"
	"time"

	"github.com/AfshinJalili/keymarket/internal/market"
)

func TestRecordAggregates(t *testing.T) {
	c := NewStatsCache()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	c.Record(market.KeyTradedEvent{
		Creator: "creator", Side: "buy", Amount: 2, RawPrice: 2_000_000,
		NewSupply: 2, ExecutedAt: base,
	})
	c.Record(market.KeyTradedEvent{
		Creator: "creator", Side: "sell", Amount: 1, RawPrice: 1_000_000,
		NewSupply: 1, ExecutedAt: base.Add(time.Minute),
	})

	stats, ok := c.Get("creator")
	if !ok {
		t.Fatal("stats missing")
	}
	if stats.Trades != 2 || stats.Buys != 1 || stats.Sells != 1 {
		t.Fatalf("counts = %d/%d/%d, want 2/1/1", stats.Trades, stats.Buys, stats.Sells)
	}
	if stats.Volume.Uint64() != 3_000_000 {
		t.Fatalf("volume = %s, want 3000000", stats.Volume)
	}
	if stats.LastSupply != 1 || stats.LastPrice != 1_000_000 {
		t.Fatalf("last supply/price = %d/%d, want 1/1000000", stats.LastSupply, stats.LastPrice)
	}
}

func TestRecordOutOfOrderEvent(t *testing.T) {
	c := NewStatsCache()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	c.Record(market.KeyTradedEvent{
		Creator: "creator", Side: "buy", Amount: 1, RawPrice: 1_000_000,
		NewSupply: 5, ExecutedAt: base.Add(time.Hour),
	})
	c.Record(market.KeyTradedEvent{
		Creator: "creator", Side: "buy", Amount: 1, RawPrice: 900_000,
		NewSupply: 4, ExecutedAt: base,
	})

	stats, _ := c.Get("creator")
	if stats.Trades != 2 {
		t.Fatalf("trades = %d, want 2", stats.Trades)
	}
	// The stale event counts toward totals but does not rewind the
	// last-trade view.
	if stats.LastSupply != 5 || stats.LastPrice != 1_000_000 {
		t.Fatalf("last supply/price = %d/%d, want 5/1000000", stats.LastSupply, stats.LastPrice)
	}
}

func TestGetUnknownCreator(t *testing.T) {
	c := NewStatsCache()
	if _, ok := c.Get("ghost"); ok {
		t.Fatal("unknown creator returned stats")
	}
}

func TestGetReturnsSnapshot(t *testing.T) {
	c := NewStatsCache()
	c.Record(market.KeyTradedEvent{Creator: "creator", Side: "buy", Amount: 1, RawPrice: 100})

	stats, _ := c.Get("creator")
	stats.Volume.SetUint64(999_999)

	again, _ := c.Get("creator")
	if again.Volume.Uint64() != 100 {
		t.Fatal("mutating a returned snapshot leaked into the cache")
	}
}
