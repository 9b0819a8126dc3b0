package bank

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/AfshinJalili/keymarket/internal/market"
)

func TestDepositAndBalance(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	if err := ledger.Deposit(ctx, "alice", 1_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := ledger.Deposit(ctx, "alice", 500); err != nil {
		t.Fatalf("second deposit: %v", err)
	}

	balance, err := ledger.Balance(ctx, "alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 1_500 {
		t.Fatalf("balance = %d, want 1500", balance)
	}
}

func TestApplyMovesFunds(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	if err := ledger.Deposit(ctx, "buyer", 1_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	legs := []market.FundsLeg{
		{Account: "buyer", Kind: market.LegDebit, Amount: 700},
		{Account: "reserve", Kind: market.LegCredit, Amount: 600},
		{Account: "creator", Kind: market.LegCredit, Amount: 50},
		{Account: "treasury", Kind: market.LegCredit, Amount: 50},
	}
	if err := ledger.Apply(ctx, "trade-1", legs); err != nil {
		t.Fatalf("apply: %v", err)
	}

	for account, want := range map[market.Identity]uint64{
		"buyer":    300,
		"reserve":  600,
		"creator":  50,
		"treasury": 50,
	} {
		got, _ := ledger.Balance(ctx, account)
		if got != want {
			t.Fatalf("%s balance = %d, want %d", account, got, want)
		}
	}
}

func TestApplyInsufficientFundsLeavesBalancesUntouched(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	if err := ledger.Deposit(ctx, "buyer", 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	legs := []market.FundsLeg{
		{Account: "buyer", Kind: market.LegDebit, Amount: 700},
		{Account: "reserve", Kind: market.LegCredit, Amount: 700},
	}
	err := ledger.Apply(ctx, "trade-1", legs)
	if !errors.Is(err, market.ErrInsufficientFunds) {
		t.Fatalf("apply: got %v, want ErrInsufficientFunds", err)
	}

	buyer, _ := ledger.Balance(ctx, "buyer")
	reserve, _ := ledger.Balance(ctx, "reserve")
	if buyer != 100 || reserve != 0 {
		t.Fatalf("balances changed after failed apply: buyer %d, reserve %d", buyer, reserve)
	}
}

func TestApplyNetsLegsPerAccount(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	// Zero starting balance, but the debit nets out against the larger
	// credit on the same account.
	legs := []market.FundsLeg{
		{Account: "acct", Kind: market.LegCredit, Amount: 500},
		{Account: "acct", Kind: market.LegDebit, Amount: 200},
	}
	if err := ledger.Apply(ctx, "ref", legs); err != nil {
		t.Fatalf("apply: %v", err)
	}

	balance, _ := ledger.Balance(ctx, "acct")
	if balance != 300 {
		t.Fatalf("balance = %d, want 300", balance)
	}
}

func TestApplyCreditOverflow(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	if err := ledger.Deposit(ctx, "acct", math.MaxUint64); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	legs := []market.FundsLeg{
		{Account: "acct", Kind: market.LegCredit, Amount: 1},
	}
	if err := ledger.Apply(ctx, "ref", legs); !errors.Is(err, market.ErrOverflow) {
		t.Fatalf("apply: got %v, want ErrOverflow", err)
	}
}

func TestApplyRejectsUnknownLegKind(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	legs := []market.FundsLeg{{Account: "acct", Kind: "transfer", Amount: 1}}
	if err := ledger.Apply(ctx, "ref", legs); err == nil {
		t.Fatal("unknown leg kind accepted")
	}
}

func TestApplyReversalRestoresBalances(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	if err := ledger.Deposit(ctx, "buyer", 1_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	legs := []market.FundsLeg{
		{Account: "buyer", Kind: market.LegDebit, Amount: 400},
		{Account: "reserve", Kind: market.LegCredit, Amount: 400},
	}
	if err := ledger.Apply(ctx, "trade", legs); err != nil {
		t.Fatalf("apply: %v", err)
	}

	reversed := []market.FundsLeg{
		{Account: "buyer", Kind: market.LegCredit, Amount: 400},
		{Account: "reserve", Kind: market.LegDebit, Amount: 400},
	}
	if err := ledger.Apply(ctx, "trade:reversal", reversed); err != nil {
		t.Fatalf("reversal: %v", err)
	}

	buyer, _ := ledger.Balance(ctx, "buyer")
	reserve, _ := ledger.Balance(ctx, "reserve")
	if buyer != 1_000 || reserve != 0 {
		t.Fatalf("reversal did not restore balances: buyer %d, reserve %d", buyer, reserve)
	}
}
