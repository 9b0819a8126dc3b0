// Package bank keeps currency account balances and applies multi-leg
// settlements atomically.
package bank

import (
	"context"
	"fmt"
	"math/bits"
	"sort"
	"sync"

	"github.com/AfshinJalili/keymarket/internal/market"
)

// MemoryLedger is an in-process currency ledger. All legs of an Apply
// land together or not at all.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[market.Identity]uint64
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[market.Identity]uint64)}
}

// Deposit credits an account outside of trade settlement, e.g. funding
// a trader's wallet.
func (l *MemoryLedger) Deposit(ctx context.Context, account market.Identity, amount uint64) error {
	if err := account.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	next, carry := bits.Add64(l.balances[account], amount, 0)
	if carry != 0 {
		return fmt.Errorf("%w: deposit to %s", market.ErrOverflow, account)
	}
	l.balances[account] = next
	return nil
}

// Balance returns an account's current balance. Unknown accounts hold
// zero.
func (l *MemoryLedger) Balance(ctx context.Context, account market.Identity) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account], nil
}

// Apply nets the legs per account, verifies every debited account can
// cover its net movement, then writes all balances under one lock.
func (l *MemoryLedger) Apply(ctx context.Context, reference string, legs []market.FundsLeg) error {
	if len(legs) == 0 {
		return nil
	}

	deltas, err := aggregateLegs(legs)
	if err != nil {
		return fmt.Errorf("settlement %s: %w", reference, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	next := make(map[market.Identity]uint64, len(deltas))
	for _, d := range deltas {
		balance := l.balances[d.account]
		if d.debit {
			if balance < d.amount {
				return fmt.Errorf("%w: account %s holds %d, needs %d", market.ErrInsufficientFunds, d.account, balance, d.amount)
			}
			next[d.account] = balance - d.amount
			continue
		}
		sum, carry := bits.Add64(balance, d.amount, 0)
		if carry != 0 {
			return fmt.Errorf("%w: credit to %s", market.ErrOverflow, d.account)
		}
		next[d.account] = sum
	}

	for account, balance := range next {
		l.balances[account] = balance
	}
	return nil
}

type netDelta struct {
	account market.Identity
	amount  uint64
	debit   bool
}

// aggregateLegs folds multiple legs against the same account into one
// net movement so that a settlement touching an account twice cannot
// transiently underflow it.
func aggregateLegs(legs []market.FundsLeg) ([]netDelta, error) {
	credits := make(map[market.Identity]uint64)
	debits := make(map[market.Identity]uint64)

	for _, leg := range legs {
		if err := leg.Account.Validate(); err != nil {
			return nil, err
		}
		switch leg.Kind {
		case market.LegCredit:
			sum, carry := bits.Add64(credits[leg.Account], leg.Amount, 0)
			if carry != 0 {
				return nil, fmt.Errorf("%w: credits to %s", market.ErrOverflow, leg.Account)
			}
			credits[leg.Account] = sum
		case market.LegDebit:
			sum, carry := bits.Add64(debits[leg.Account], leg.Amount, 0)
			if carry != 0 {
				return nil, fmt.Errorf("%w: debits from %s", market.ErrOverflow, leg.Account)
			}
			debits[leg.Account] = sum
		default:
			return nil, fmt.Errorf("unknown leg kind %q", leg.Kind)
		}
	}

	accounts := make(map[market.Identity]struct{}, len(credits)+len(debits))
	for account := range credits {
		accounts[account] = struct{}{}
	}
	for account := range debits {
		accounts[account] = struct{}{}
	}

	deltas := make([]netDelta, 0, len(accounts))
	for account := range accounts {
		credit, debit := credits[account], debits[account]
		if credit >= debit {
			deltas = append(deltas, netDelta{account: account, amount: credit - debit})
		} else {
			deltas = append(deltas, netDelta{account: account, amount: debit - credit, debit: true})
		}
	}
	sort.Slice(deltas, func(i, j int) bool { return deltas[i].account < deltas[j].account })
	return deltas, nil
}
