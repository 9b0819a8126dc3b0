package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/AfshinJalili/keymarket/internal/curve"
	"github.com/AfshinJalili/keymarket/internal/directory"
	"github.com/AfshinJalili/keymarket/libs/kafka"
)

// LedgerStore persists key ledgers, holder records, and trade history.
// ApplyTrade must be atomic: either the whole commit lands or none of
// it does.
type LedgerStore interface {
	CreateLedger(ctx context.Context, ledger *KeyLedger) error
	GetLedger(ctx context.Context, creator Identity) (*KeyLedger, error)
	GetHolding(ctx context.Context, creator, holder Identity) (uint64, error)
	HolderCount(ctx context.Context, creator Identity) (int, error)
	ListHolders(ctx context.Context, creator Identity) ([]HolderRecord, error)
	ListTrades(ctx context.Context, creator Identity, limit int) ([]TradeRecord, error)
	ApplyTrade(ctx context.Context, commit TradeCommit) error
}

type LegKind string

const (
	LegDebit  LegKind = "debit"
	LegCredit LegKind = "credit"
)

// FundsLeg is one side of a currency movement.
type FundsLeg struct {
	Account Identity
	Kind    LegKind
	Amount  uint64
}

// CurrencyLedger moves funds between accounts. Apply is all-or-nothing
// across the given legs and returns ErrInsufficientFunds when a debited
// account cannot cover its leg.
type CurrencyLedger interface {
	Apply(ctx context.Context, reference string, legs []FundsLeg) error
}

// ProfileDirectory answers whether an identity has a registered profile.
type ProfileDirectory interface {
	Exists(ctx context.Context, id Identity) (bool, error)
}

// Config wires an Executor. Store, Funds, and Profiles are required;
// Producer, Logger, and Metrics may be nil.
type Config struct {
	Store            LedgerStore
	Funds            CurrencyLedger
	Profiles         ProfileDirectory
	Params           curve.Params
	MaxHolders       int
	MaxTradeAmount   uint64
	ProtocolTreasury Identity
	Producer         kafka.Publisher
	TradeTopic       string
	Logger           *slog.Logger
	Metrics          *Metrics
}

// Executor runs every trade through the same pipeline: validate the
// request, price it on the curve, settle funds, then record the state
// transition. Trades on the same creator are serialized; trades on
// different creators run concurrently.
type Executor struct {
	store            LedgerStore
	funds            CurrencyLedger
	profiles         ProfileDirectory
	params           curve.Params
	maxHolders       int
	maxTradeAmount   uint64
	protocolTreasury Identity
	producer         kafka.Publisher
	tradeTopic       string
	logger           *slog.Logger
	metrics          *Metrics

	mu    sync.RWMutex
	locks map[Identity]*sync.Mutex
}

func NewExecutor(cfg Config) (*Executor, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("ledger store is required")
	}
	if cfg.Funds == nil {
		return nil, fmt.Errorf("currency ledger is required")
	}
	if cfg.Profiles == nil {
		return nil, fmt.Errorf("profile directory is required")
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, fmt.Errorf("curve params: %w", err)
	}
	if cfg.MaxHolders <= 0 {
		return nil, fmt.Errorf("max holders must be positive")
	}
	if cfg.MaxTradeAmount == 0 {
		return nil, fmt.Errorf("max trade amount must be positive")
	}
	if err := cfg.ProtocolTreasury.Validate(); err != nil {
		return nil, fmt.Errorf("protocol treasury: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Executor{
		store:            cfg.Store,
		funds:            cfg.Funds,
		profiles:         cfg.Profiles,
		params:           cfg.Params,
		maxHolders:       cfg.MaxHolders,
		maxTradeAmount:   cfg.MaxTradeAmount,
		protocolTreasury: cfg.ProtocolTreasury,
		producer:         cfg.Producer,
		tradeTopic:       cfg.TradeTopic,
		logger:           cfg.Logger,
		metrics:          cfg.Metrics,
		locks:            make(map[Identity]*sync.Mutex),
	}, nil
}

// Params returns the curve parameters the executor prices against.
func (e *Executor) Params() curve.Params {
	return e.params
}

// ReserveAccount returns the derived currency account that escrows the
// curve reserve for a creator's market.
func ReserveAccount(creator Identity) Identity {
	return Identity(directory.Derive(directory.NamespaceReserve, string(creator)).String())
}

// CreateLedger opens an empty key market for a registered creator.
func (e *Executor) CreateLedger(ctx context.Context, creator Identity) (*KeyLedger, error) {
	if err := creator.Validate(); err != nil {
		return nil, err
	}
	if err := e.requireProfile(ctx, creator); err != nil {
		return nil, err
	}

	lock := e.lockFor(creator)
	lock.Lock()
	defer lock.Unlock()

	ledger := NewKeyLedger(creator, time.Now().UTC())
	if err := e.store.CreateLedger(ctx, ledger); err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.IncLedgersCreated()
	}
	e.logger.Info("key ledger created", "creator", creator)
	return ledger, nil
}

// Buy purchases amount keys of creator for trader. The trade fails with
// ErrSlippageExceeded if the total cost rises above maxTotalCost.
func (e *Executor) Buy(ctx context.Context, trader, creator Identity, amount, maxTotalCost uint64) (*TradeReceipt, error) {
	return e.execute(ctx, SideBuy, trader, creator, amount, maxTotalCost)
}

// Sell liquidates amount keys of creator held by trader. The trade
// fails with ErrSlippageExceeded if net proceeds drop below
// minProceeds.
func (e *Executor) Sell(ctx context.Context, trader, creator Identity, amount, minProceeds uint64) (*TradeReceipt, error) {
	return e.execute(ctx, SideSell, trader, creator, amount, minProceeds)
}

func (e *Executor) execute(ctx context.Context, side Side, trader, creator Identity, amount, limit uint64) (receipt *TradeReceipt, err error) {
	start := time.Now()
	defer func() {
		if e.metrics == nil {
			return
		}
		if err != nil {
			e.metrics.IncTradeFailure(string(side), Classify(err))
			return
		}
		e.metrics.ObserveTrade(string(side), time.Since(start))
	}()

	if err = trader.Validate(); err != nil {
		return nil, err
	}
	if err = creator.Validate(); err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, ErrAmountNotPositive
	}
	if amount > e.maxTradeAmount {
		return nil, fmt.Errorf("%w: %d keys, limit %d", ErrAmountTooLarge, amount, e.maxTradeAmount)
	}
	if err = e.requireProfile(ctx, trader); err != nil {
		return nil, err
	}

	lock := e.lockFor(creator)
	lock.Lock()
	defer lock.Unlock()

	ledger, err := e.store.GetLedger(ctx, creator)
	if err != nil {
		return nil, err
	}
	holding, err := e.store.GetHolding(ctx, creator, trader)
	if err != nil {
		return nil, err
	}

	var quote curve.Quote
	var newSupply, newHolding uint64

	switch side {
	case SideBuy:
		if holding == 0 {
			count, countErr := e.store.HolderCount(ctx, creator)
			if countErr != nil {
				return nil, countErr
			}
			if count >= e.maxHolders {
				return nil, fmt.Errorf("%w: %d holders", ErrHolderCapacity, count)
			}
		}
		quote, err = e.params.BuyQuote(ledger.TotalSupply, amount)
		if err != nil {
			return nil, mapCurveErr(err)
		}
		if quote.Total > limit {
			return nil, fmt.Errorf("%w: cost %d above limit %d", ErrSlippageExceeded, quote.Total, limit)
		}
		newSupply = ledger.TotalSupply + amount
		newHolding = holding + amount
	case SideSell:
		if holding < amount {
			return nil, fmt.Errorf("%w: holding %d, selling %d", ErrInsufficientKeys, holding, amount)
		}
		quote, err = e.params.SellQuote(ledger.TotalSupply, amount)
		if err != nil {
			return nil, mapCurveErr(err)
		}
		if quote.Total < limit {
			return nil, fmt.Errorf("%w: proceeds %d below limit %d", ErrSlippageExceeded, quote.Total, limit)
		}
		newSupply = ledger.TotalSupply - amount
		newHolding = holding - amount
	default:
		return nil, fmt.Errorf("unknown trade side %q", side)
	}

	tradeID := uuid.NewString()
	executedAt := time.Now().UTC()
	legs := e.settlementLegs(side, trader, creator, quote)

	if err = e.funds.Apply(ctx, tradeID, legs); err != nil {
		return nil, err
	}

	commit := TradeCommit{
		TradeID:         tradeID,
		Creator:         creator,
		Trader:          trader,
		Side:            side,
		Amount:          amount,
		RawPrice:        quote.Raw,
		ProtocolFee:     quote.ProtocolFee,
		CreatorFee:      quote.CreatorFee,
		NewSupply:       newSupply,
		NewHolderAmount: newHolding,
		ExecutedAt:      executedAt,
	}
	if err = e.store.ApplyTrade(ctx, commit); err != nil {
		e.reverseSettlement(ctx, tradeID, legs)
		return nil, fmt.Errorf("commit trade: %w", err)
	}

	receipt = &TradeReceipt{
		TradeID:     tradeID,
		Creator:     creator,
		Trader:      trader,
		Side:        side,
		Amount:      amount,
		RawPrice:    quote.Raw,
		ProtocolFee: quote.ProtocolFee,
		CreatorFee:  quote.CreatorFee,
		Total:       quote.Total,
		NewSupply:   newSupply,
		NewHolding:  newHolding,
		ExecutedAt:  executedAt,
	}

	if e.metrics != nil {
		e.metrics.SetKeySupply(string(creator), float64(newSupply))
	}
	e.publishTrade(ctx, receipt)

	e.logger.Info("trade settled",
		"trade_id", tradeID,
		"creator", creator,
		"trader", trader,
		"side", side,
		"amount", amount,
		"total", quote.Total,
		"new_supply", newSupply,
	)
	return receipt, nil
}

// settlementLegs builds the currency movements for a priced trade.
//
// Buy: the buyer pays raw price plus both fees; the raw price escrows
// in the curve reserve and the fees pay out immediately.
// Sell: the reserve releases the raw price; fees come out of it before
// the seller is credited.
func (e *Executor) settlementLegs(side Side, trader, creator Identity, quote curve.Quote) []FundsLeg {
	reserve := ReserveAccount(creator)
	if side == SideBuy {
		return []FundsLeg{
			{Account: trader, Kind: LegDebit, Amount: quote.Total},
			{Account: reserve, Kind: LegCredit, Amount: quote.Raw},
			{Account: creator, Kind: LegCredit, Amount: quote.CreatorFee},
			{Account: e.protocolTreasury, Kind: LegCredit, Amount: quote.ProtocolFee},
		}
	}
	return []FundsLeg{
		{Account: reserve, Kind: LegDebit, Amount: quote.Raw},
		{Account: trader, Kind: LegCredit, Amount: quote.Total},
		{Account: creator, Kind: LegCredit, Amount: quote.CreatorFee},
		{Account: e.protocolTreasury, Kind: LegCredit, Amount: quote.ProtocolFee},
	}
}

// reverseSettlement undoes a settled trade whose record commit failed.
func (e *Executor) reverseSettlement(ctx context.Context, tradeID string, legs []FundsLeg) {
	reversed := make([]FundsLeg, len(legs))
	for i, leg := range legs {
		kind := LegDebit
		if leg.Kind == LegDebit {
			kind = LegCredit
		}
		reversed[i] = FundsLeg{Account: leg.Account, Kind: kind, Amount: leg.Amount}
	}
	if err := e.funds.Apply(ctx, tradeID+":reversal", reversed); err != nil {
		e.logger.Error("settlement reversal failed", "trade_id", tradeID, "error", err)
	}
}

func (e *Executor) publishTrade(ctx context.Context, receipt *TradeReceipt) {
	if e.producer == nil || e.tradeTopic == "" {
		return
	}
	msg, err := NewKeyTradedMessage(receipt)
	if err != nil {
		e.logger.Error("build trade event", "trade_id", receipt.TradeID, "error", err)
		return
	}
	if _, _, err := e.producer.PublishJSON(ctx, e.tradeTopic, string(receipt.Creator), msg); err != nil {
		e.logger.Error("publish trade event", "trade_id", receipt.TradeID, "error", err)
	}
}

// GetLedger returns a snapshot of a creator's market.
func (e *Executor) GetLedger(ctx context.Context, creator Identity) (*KeyLedger, error) {
	if err := creator.Validate(); err != nil {
		return nil, err
	}
	return e.store.GetLedger(ctx, creator)
}

// GetHolding returns how many of creator's keys holder owns. Zero means
// the holder owns none, including when the creator never opened a market.
func (e *Executor) GetHolding(ctx context.Context, creator, holder Identity) (uint64, error) {
	if err := creator.Validate(); err != nil {
		return 0, err
	}
	if err := holder.Validate(); err != nil {
		return 0, err
	}
	return e.store.GetHolding(ctx, creator, holder)
}

// Holders lists every current holder of a creator's keys.
func (e *Executor) Holders(ctx context.Context, creator Identity) ([]HolderRecord, error) {
	if err := creator.Validate(); err != nil {
		return nil, err
	}
	if _, err := e.store.GetLedger(ctx, creator); err != nil {
		return nil, err
	}
	return e.store.ListHolders(ctx, creator)
}

// Trades returns the most recent trades in a creator's market.
func (e *Executor) Trades(ctx context.Context, creator Identity, limit int) ([]TradeRecord, error) {
	if err := creator.Validate(); err != nil {
		return nil, err
	}
	if _, err := e.store.GetLedger(ctx, creator); err != nil {
		return nil, err
	}
	return e.store.ListTrades(ctx, creator, limit)
}

// CurrentPrice returns the marginal price of the next key.
func (e *Executor) CurrentPrice(ctx context.Context, creator Identity) (uint64, error) {
	if err := creator.Validate(); err != nil {
		return 0, err
	}
	ledger, err := e.store.GetLedger(ctx, creator)
	if err != nil {
		return 0, err
	}
	price, err := e.params.PriceAt(ledger.TotalSupply)
	if err != nil {
		return 0, mapCurveErr(err)
	}
	if e.metrics != nil {
		e.metrics.IncQuotes()
	}
	return price, nil
}

// QuoteTrade prices a trade without executing it.
func (e *Executor) QuoteTrade(ctx context.Context, creator Identity, side Side, amount uint64) (curve.Quote, error) {
	if err := creator.Validate(); err != nil {
		return curve.Quote{}, err
	}
	if amount == 0 {
		return curve.Quote{}, ErrAmountNotPositive
	}
	if amount > e.maxTradeAmount {
		return curve.Quote{}, fmt.Errorf("%w: %d keys, limit %d", ErrAmountTooLarge, amount, e.maxTradeAmount)
	}
	ledger, err := e.store.GetLedger(ctx, creator)
	if err != nil {
		return curve.Quote{}, err
	}

	var quote curve.Quote
	if side == SideSell {
		quote, err = e.params.SellQuote(ledger.TotalSupply, amount)
	} else {
		quote, err = e.params.BuyQuote(ledger.TotalSupply, amount)
	}
	if err != nil {
		return curve.Quote{}, mapCurveErr(err)
	}
	if e.metrics != nil {
		e.metrics.IncQuotes()
	}
	return quote, nil
}

func (e *Executor) requireProfile(ctx context.Context, id Identity) error {
	exists, err := e.profiles.Exists(ctx, id)
	if err != nil {
		return fmt.Errorf("check profile: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrProfileMissing, id)
	}
	return nil
}

func (e *Executor) lockFor(creator Identity) *sync.Mutex {
	e.mu.RLock()
	lock, ok := e.locks[creator]
	e.mu.RUnlock()
	if ok {
		return lock
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if lock, ok = e.locks[creator]; ok {
		return lock
	}
	lock = &sync.Mutex{}
	e.locks[creator] = lock
	return lock
}

func mapCurveErr(err error) error {
	switch {
	case errors.Is(err, curve.ErrSupplyExceeded):
		return ErrSupplyExceeded
	case errors.Is(err, curve.ErrInsufficientSupply):
		return ErrInsufficientKeys
	default:
		return err
	}
}
