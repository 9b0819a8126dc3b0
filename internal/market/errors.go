package market

import (
	"errors"

	"github.com/AfshinJalili/keymarket/internal/curve"
)

// Validation failures: the request is malformed or refers to state that
// does not exist.
var (
	ErrInvalidIdentity   = errors.New("invalid identity")
	ErrAmountNotPositive = errors.New("amount must be positive")
	ErrAmountTooLarge    = errors.New("amount exceeds per-trade limit")
	ErrLedgerExists      = errors.New("key ledger already exists")
	ErrLedgerMissing     = errors.New("key ledger not found")
	ErrProfileMissing    = errors.New("profile not found")
	ErrHoldingMissing    = errors.New("holding not found")
)

// Economic failures: the request is well formed but the market state
// cannot satisfy it.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInsufficientKeys  = errors.New("insufficient keys")
	ErrSlippageExceeded  = errors.New("slippage bound exceeded")
	ErrHolderCapacity    = errors.New("holder ledger is full")
	ErrSupplyExceeded    = errors.New("max supply exceeded")
)

// ErrOverflow marks checked-arithmetic wraparound anywhere in pricing
// or settlement.
var ErrOverflow = curve.ErrOverflow

// Failure kinds, used for metrics labels and log fields.
const (
	KindValidation = "validation"
	KindEconomic   = "economic"
	KindArithmetic = "arithmetic"
	KindInternal   = "internal"
)

// Classify maps an executor error to its failure kind.
func Classify(err error) string {
	switch {
	case errors.Is(err, ErrInvalidIdentity),
		errors.Is(err, ErrAmountNotPositive),
		errors.Is(err, ErrAmountTooLarge),
		errors.Is(err, ErrLedgerExists),
		errors.Is(err, ErrLedgerMissing),
		errors.Is(err, ErrProfileMissing),
		errors.Is(err, ErrHoldingMissing):
		return KindValidation
	case errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrInsufficientKeys),
		errors.Is(err, ErrSlippageExceeded),
		errors.Is(err, ErrHolderCapacity),
		errors.Is(err, ErrSupplyExceeded):
		return KindEconomic
	case errors.Is(err, ErrOverflow):
		return KindArithmetic
	default:
		return KindInternal
	}
}
