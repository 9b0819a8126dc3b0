// Package storage provides the key ledger persistence backends: an
// in-process store for tests and single-node runs, and a Postgres
// store for durable deployments.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/holiman/uint256"

	"github.com/AfshinJalili/keymarket/internal/market"
)

// MemoryStore keeps all market state in process memory. It satisfies
// market.LedgerStore; ApplyTrade mutates ledger, holder, and history
// under a single lock so readers never observe a half-applied trade.
type MemoryStore struct {
	mu      sync.RWMutex
	ledgers map[market.Identity]*market.KeyLedger
	holders map[market.Identity]map[market.Identity]uint64
	trades  map[market.Identity][]market.TradeRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ledgers: make(map[market.Identity]*market.KeyLedger),
		holders: make(map[market.Identity]map[market.Identity]uint64),
		trades:  make(map[market.Identity][]market.TradeRecord),
	}
}

func (s *MemoryStore) CreateLedger(ctx context.Context, ledger *market.KeyLedger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ledgers[ledger.Creator]; ok {
		return fmt.Errorf("%w: %s", market.ErrLedgerExists, ledger.Creator)
	}
	s.ledgers[ledger.Creator] = ledger.Clone()
	s.holders[ledger.Creator] = make(map[market.Identity]uint64)
	return nil
}

func (s *MemoryStore) GetLedger(ctx context.Context, creator market.Identity) (*market.KeyLedger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ledger, ok := s.ledgers[creator]
	if !ok {
		return nil, fmt.Errorf("%w: %s", market.ErrLedgerMissing, creator)
	}
	return ledger.Clone(), nil
}

func (s *MemoryStore) GetHolding(ctx context.Context, creator, holder market.Identity) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.holders[creator][holder], nil
}

func (s *MemoryStore) HolderCount(ctx context.Context, creator market.Identity) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.holders[creator]), nil
}

func (s *MemoryStore) ListHolders(ctx context.Context, creator market.Identity) ([]market.HolderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]market.HolderRecord, 0, len(s.holders[creator]))
	for holder, amount := range s.holders[creator] {
		records = append(records, market.HolderRecord{Holder: holder, Amount: amount})
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Amount != records[j].Amount {
			return records[i].Amount > records[j].Amount
		}
		return records[i].Holder < records[j].Holder
	})
	return records, nil
}

func (s *MemoryStore) ListTrades(ctx context.Context, creator market.Identity, limit int) ([]market.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.trades[creator]
	if limit <= 0 || limit > len(history) {
		limit = len(history)
	}

	// Newest first.
	records := make([]market.TradeRecord, 0, limit)
	for i := len(history) - 1; i >= len(history)-limit; i-- {
		records = append(records, history[i])
	}
	return records, nil
}

func (s *MemoryStore) ApplyTrade(ctx context.Context, commit market.TradeCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ledger, ok := s.ledgers[commit.Creator]
	if !ok {
		return fmt.Errorf("%w: %s", market.ErrLedgerMissing, commit.Creator)
	}

	ledger.TotalSupply = commit.NewSupply
	ledger.TotalVolume.Add(ledger.TotalVolume, uint256.NewInt(commit.RawPrice))
	ledger.CreatorEarnings.Add(ledger.CreatorEarnings, uint256.NewInt(commit.CreatorFee))
	ledger.ProtocolEarnings.Add(ledger.ProtocolEarnings, uint256.NewInt(commit.ProtocolFee))
	ledger.LastTradeAt = commit.ExecutedAt

	if commit.NewHolderAmount == 0 {
		delete(s.holders[commit.Creator], commit.Trader)
	} else {
		s.holders[commit.Creator][commit.Trader] = commit.NewHolderAmount
	}

	s.trades[commit.Creator] = append(s.trades[commit.Creator], market.TradeRecord{
		TradeID:     commit.TradeID,
		Creator:     commit.Creator,
		Trader:      commit.Trader,
		Side:        commit.Side,
		Amount:      commit.Amount,
		RawPrice:    commit.RawPrice,
		ProtocolFee: commit.ProtocolFee,
		CreatorFee:  commit.CreatorFee,
		ExecutedAt:  commit.ExecutedAt,
	})
	return nil
}
