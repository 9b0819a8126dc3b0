package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AfshinJalili/keymarket/internal/market"
)

func newTestLedger(creator market.Identity) *market.KeyLedger {
	return market.NewKeyLedger(creator, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
}

func TestCreateLedgerRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.CreateLedger(ctx, newTestLedger("creator")); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := store.CreateLedger(ctx, newTestLedger("creator"))
	if !errors.Is(err, market.ErrLedgerExists) {
		t.Fatalf("duplicate create: got %v, want ErrLedgerExists", err)
	}
}

func TestGetLedgerMissing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if _, err := store.GetLedger(ctx, "ghost"); !errors.Is(err, market.ErrLedgerMissing) {
		t.Fatalf("get: got %v, want ErrLedgerMissing", err)
	}
}

func TestGetLedgerReturnsSnapshot(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.CreateLedger(ctx, newTestLedger("creator")); err != nil {
		t.Fatalf("create: %v", err)
	}

	first, err := store.GetLedger(ctx, "creator")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	first.TotalSupply = 999
	first.TotalVolume.SetUint64(12345)

	second, err := store.GetLedger(ctx, "creator")
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if second.TotalSupply != 0 || !second.TotalVolume.IsZero() {
		t.Fatal("mutating a returned ledger leaked into the store")
	}
}

func TestApplyTradeUpdatesLedgerHoldersAndHistory(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.CreateLedger(ctx, newTestLedger("creator")); err != nil {
		t.Fatalf("create: %v", err)
	}

	executedAt := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	commit := market.TradeCommit{
		TradeID:         "trade-1",
		Creator:         "creator",
		Trader:          "buyer",
		Side:            market.SideBuy,
		Amount:          3,
		RawPrice:        3_000_000,
		ProtocolFee:     150_000,
		CreatorFee:      150_000,
		NewSupply:       3,
		NewHolderAmount: 3,
		ExecutedAt:      executedAt,
	}
	if err := store.ApplyTrade(ctx, commit); err != nil {
		t.Fatalf("apply: %v", err)
	}

	ledger, err := store.GetLedger(ctx, "creator")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ledger.TotalSupply != 3 {
		t.Fatalf("supply = %d, want 3", ledger.TotalSupply)
	}
	if ledger.TotalVolume.Uint64() != 3_000_000 {
		t.Fatalf("volume = %s, want 3000000", ledger.TotalVolume)
	}
	if ledger.CreatorEarnings.Uint64() != 150_000 || ledger.ProtocolEarnings.Uint64() != 150_000 {
		t.Fatalf("earnings = %s / %s, want 150000 / 150000", ledger.CreatorEarnings, ledger.ProtocolEarnings)
	}
	if !ledger.LastTradeAt.Equal(executedAt) {
		t.Fatalf("last trade at = %v, want %v", ledger.LastTradeAt, executedAt)
	}

	holding, err := store.GetHolding(ctx, "creator", "buyer")
	if err != nil {
		t.Fatalf("holding: %v", err)
	}
	if holding != 3 {
		t.Fatalf("holding = %d, want 3", holding)
	}

	count, err := store.HolderCount(ctx, "creator")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("holder count = %d, want 1", count)
	}

	trades, err := store.ListTrades(ctx, "creator", 10)
	if err != nil {
		t.Fatalf("trades: %v", err)
	}
	if len(trades) != 1 || trades[0].TradeID != "trade-1" {
		t.Fatalf("trades = %+v, want one trade-1 row", trades)
	}
}

func TestApplyTradeDeletesEmptiedHolder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.CreateLedger(ctx, newTestLedger("creator")); err != nil {
		t.Fatalf("create: %v", err)
	}

	buy := market.TradeCommit{
		TradeID: "t1", Creator: "creator", Trader: "holder", Side: market.SideBuy,
		Amount: 2, RawPrice: 100, NewSupply: 2, NewHolderAmount: 2,
		ExecutedAt: time.Now().UTC(),
	}
	if err := store.ApplyTrade(ctx, buy); err != nil {
		t.Fatalf("buy: %v", err)
	}

	sell := market.TradeCommit{
		TradeID: "t2", Creator: "creator", Trader: "holder", Side: market.SideSell,
		Amount: 2, RawPrice: 100, NewSupply: 0, NewHolderAmount: 0,
		ExecutedAt: time.Now().UTC(),
	}
	if err := store.ApplyTrade(ctx, sell); err != nil {
		t.Fatalf("sell: %v", err)
	}

	count, _ := store.HolderCount(ctx, "creator")
	if count != 0 {
		t.Fatalf("holder count after sell-out = %d, want 0", count)
	}
	holding, _ := store.GetHolding(ctx, "creator", "holder")
	if holding != 0 {
		t.Fatalf("holding after sell-out = %d, want 0", holding)
	}
}

func TestListHoldersOrdering(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.CreateLedger(ctx, newTestLedger("creator")); err != nil {
		t.Fatalf("create: %v", err)
	}

	for i, c := range []market.TradeCommit{
		{Trader: "small", NewHolderAmount: 1, NewSupply: 1},
		{Trader: "big", NewHolderAmount: 5, NewSupply: 6},
		{Trader: "also-small", NewHolderAmount: 1, NewSupply: 7},
	} {
		c.TradeID = string(rune('a' + i))
		c.Creator = "creator"
		c.Side = market.SideBuy
		c.Amount = c.NewHolderAmount
		c.ExecutedAt = time.Now().UTC()
		if err := store.ApplyTrade(ctx, c); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}

	holders, err := store.ListHolders(ctx, "creator")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(holders) != 3 {
		t.Fatalf("holders = %d, want 3", len(holders))
	}
	if holders[0].Holder != "big" {
		t.Fatalf("first holder = %s, want big", holders[0].Holder)
	}
	if holders[1].Holder != "also-small" || holders[2].Holder != "small" {
		t.Fatalf("ties not ordered by holder id: %+v", holders)
	}
}

func TestListTradesNewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.CreateLedger(ctx, newTestLedger("creator")); err != nil {
		t.Fatalf("create: %v", err)
	}

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		commit := market.TradeCommit{
			TradeID: string(rune('a' + i)), Creator: "creator", Trader: "buyer",
			Side: market.SideBuy, Amount: 1, NewSupply: uint64(i + 1), NewHolderAmount: uint64(i + 1),
			ExecutedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.ApplyTrade(ctx, commit); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}

	trades, err := store.ListTrades(ctx, "creator", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("trades = %d, want 2", len(trades))
	}
	if trades[0].TradeID != "e" || trades[1].TradeID != "d" {
		t.Fatalf("trades not newest first: %s, %s", trades[0].TradeID, trades[1].TradeID)
	}
}

func TestApplyTradeMissingLedger(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	err := store.ApplyTrade(ctx, market.TradeCommit{Creator: "ghost", Trader: "t"})
	if !errors.Is(err, market.ErrLedgerMissing) {
		t.Fatalf("apply: got %v, want ErrLedgerMissing", err)
	}
}
