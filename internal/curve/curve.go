// Package curve prices creator keys against a quadratic bonding curve.
//
// All arithmetic is checked uint64; any wraparound surfaces as ErrOverflow
// so two deployments always quote bit-identical prices for the same inputs.
package curve

import (
	"errors"
	"fmt"
	"math/bits"
)

var (
	ErrOverflow           = errors.New("arithmetic overflow")
	ErrSupplyExceeded     = errors.New("max supply exceeded")
	ErrInsufficientSupply = errors.New("insufficient supply")
)

const feeDenominator = 10_000

// Params define one market-wide curve. The defaults mirror the launch
// parameters: 0.001 SOL base price in lamports, quadratic growth divisor,
// 5% protocol and 5% creator fee.
type Params struct {
	BasePrice     uint64
	Scale         uint64
	MaxSupply     uint64
	ProtocolFeeBp uint64
	CreatorFeeBp  uint64
}

func DefaultParams() Params {
	return Params{
		BasePrice:     1_000_000,
		Scale:         16_000,
		MaxSupply:     1_000_000,
		ProtocolFeeBp: 500,
		CreatorFeeBp:  500,
	}
}

func (p Params) Validate() error {
	if p.Scale == 0 {
		return fmt.Errorf("curve scale must be positive")
	}
	if p.MaxSupply == 0 {
		return fmt.Errorf("max supply must be positive")
	}
	if p.ProtocolFeeBp >= feeDenominator || p.CreatorFeeBp >= feeDenominator {
		return fmt.Errorf("fee basis points must be below %d", feeDenominator)
	}
	if p.ProtocolFeeBp+p.CreatorFeeBp >= feeDenominator {
		return fmt.Errorf("combined fees must be below %d basis points", feeDenominator)
	}
	return nil
}

// PriceAt returns the marginal price of the next key at the given supply:
// basePrice + floor(supply^2 / scale). Non-decreasing in supply.
func (p Params) PriceAt(supply uint64) (uint64, error) {
	if supply >= p.MaxSupply {
		return 0, ErrSupplyExceeded
	}
	hi, lo := bits.Mul64(supply, supply)
	if hi != 0 {
		return 0, ErrOverflow
	}
	price, carry := bits.Add64(p.BasePrice, lo/p.Scale, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return price, nil
}

// BuyTotal sums the marginal prices of the next n keys starting at supply.
func (p Params) BuyTotal(supply, n uint64) (uint64, error) {
	if n == 0 {
		return 0, nil
	}
	end, carry := bits.Add64(supply, n, 0)
	if carry != 0 || end > p.MaxSupply {
		return 0, ErrSupplyExceeded
	}

	var total uint64
	for s := supply; s < end; s++ {
		price, err := p.PriceAt(s)
		if err != nil {
			return 0, err
		}
		total, carry = bits.Add64(total, price, 0)
		if carry != 0 {
			return 0, ErrOverflow
		}
	}
	return total, nil
}

// SellTotal sums the marginal prices released by selling n keys from supply.
// It walks the same curve points a buy from supply-n would, so
// SellTotal(s+n, n) == BuyTotal(s, n) holds exactly.
func (p Params) SellTotal(supply, n uint64) (uint64, error) {
	if n == 0 {
		return 0, nil
	}
	if n > supply {
		return 0, ErrInsufficientSupply
	}
	return p.BuyTotal(supply-n, n)
}

// Fees splits a raw curve price into protocol and creator fees, each
// floor(raw * bp / 10000).
func (p Params) Fees(raw uint64) (protocolFee, creatorFee uint64) {
	return mulBp(raw, p.ProtocolFeeBp), mulBp(raw, p.CreatorFeeBp)
}

// Quote is a fully priced trade before execution.
type Quote struct {
	Raw         uint64
	ProtocolFee uint64
	CreatorFee  uint64
	Total       uint64
}

// BuyQuote prices buying n keys at the given supply. Total is the full
// amount the buyer pays: raw + protocol fee + creator fee.
func (p Params) BuyQuote(supply, n uint64) (Quote, error) {
	raw, err := p.BuyTotal(supply, n)
	if err != nil {
		return Quote{}, err
	}
	protocolFee, creatorFee := p.Fees(raw)

	total, carry := bits.Add64(raw, protocolFee, 0)
	if carry != 0 {
		return Quote{}, ErrOverflow
	}
	total, carry = bits.Add64(total, creatorFee, 0)
	if carry != 0 {
		return Quote{}, ErrOverflow
	}

	return Quote{Raw: raw, ProtocolFee: protocolFee, CreatorFee: creatorFee, Total: total}, nil
}

// SellQuote prices selling n keys at the given supply. Total is the net
// proceeds paid to the seller: raw - protocol fee - creator fee.
func (p Params) SellQuote(supply, n uint64) (Quote, error) {
	raw, err := p.SellTotal(supply, n)
	if err != nil {
		return Quote{}, err
	}
	protocolFee, creatorFee := p.Fees(raw)

	// Fees are each below 100% and sum below 100%, so raw always covers them.
	total := raw - protocolFee - creatorFee

	return Quote{Raw: raw, ProtocolFee: protocolFee, CreatorFee: creatorFee, Total: total}, nil
}

// mulBp computes floor(value * bp / 10000) without intermediate overflow.
func mulBp(value, bp uint64) uint64 {
	hi, lo := bits.Mul64(value, bp)
	// hi < 10000 because bp < 10000, so the 128/64 division cannot trap.
	q, _ := bits.Div64(hi, lo, feeDenominator)
	return q
}
