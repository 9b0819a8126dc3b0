// Package market implements the creator key market: per-creator key
// ledgers, holder records, and the trade executor that settles buys and
// sells against the bonding curve.
package market

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"
)

// Identity is an opaque wallet identity string. It is treated as a key
// only; the market never interprets its contents.
type Identity string

const maxIdentityLen = 64

func (id Identity) Validate() error {
	if id == "" {
		return fmt.Errorf("%w: identity is empty", ErrInvalidIdentity)
	}
	if len(id) > maxIdentityLen {
		return fmt.Errorf("%w: identity exceeds %d bytes", ErrInvalidIdentity, maxIdentityLen)
	}
	return nil
}

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// KeyLedger is the per-creator market state. Supply fits in uint64;
// the lifetime accumulators are 256-bit so they can never saturate over
// the market's life.
type KeyLedger struct {
	Creator          Identity
	TotalSupply      uint64
	TotalVolume      *uint256.Int
	CreatorEarnings  *uint256.Int
	ProtocolEarnings *uint256.Int
	CreatedAt        time.Time
	LastTradeAt      time.Time
}

// NewKeyLedger returns an empty ledger for the creator.
func NewKeyLedger(creator Identity, now time.Time) *KeyLedger {
	return &KeyLedger{
		Creator:          creator,
		TotalVolume:      uint256.NewInt(0),
		CreatorEarnings:  uint256.NewInt(0),
		ProtocolEarnings: uint256.NewInt(0),
		CreatedAt:        now,
	}
}

// Clone deep-copies the ledger so stores can hand out snapshots.
func (l *KeyLedger) Clone() *KeyLedger {
	c := *l
	c.TotalVolume = new(uint256.Int).Set(l.TotalVolume)
	c.CreatorEarnings = new(uint256.Int).Set(l.CreatorEarnings)
	c.ProtocolEarnings = new(uint256.Int).Set(l.ProtocolEarnings)
	return &c
}

// HolderRecord is one holder's position in a creator's market.
type HolderRecord struct {
	Holder Identity
	Amount uint64
}

// TradeCommit is the state transition a completed trade applies to the
// store: the post-trade ledger values together with the trade row. A
// store applies all of it or none of it.
type TradeCommit struct {
	TradeID         string
	Creator         Identity
	Trader          Identity
	Side            Side
	Amount          uint64
	RawPrice        uint64
	ProtocolFee     uint64
	CreatorFee      uint64
	NewSupply       uint64
	NewHolderAmount uint64
	ExecutedAt      time.Time
}

// TradeReceipt is returned to the caller after a settled trade.
type TradeReceipt struct {
	TradeID     string
	Creator     Identity
	Trader      Identity
	Side        Side
	Amount      uint64
	RawPrice    uint64
	ProtocolFee uint64
	CreatorFee  uint64
	Total       uint64
	NewSupply   uint64
	NewHolding  uint64
	ExecutedAt  time.Time
}

// TradeRecord is a persisted trade history row.
type TradeRecord struct {
	TradeID     string
	Creator     Identity
	Trader      Identity
	Side        Side
	Amount      uint64
	RawPrice    uint64
	ProtocolFee uint64
	CreatorFee  uint64
	ExecutedAt  time.Time
}
