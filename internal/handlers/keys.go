// Package handlers exposes the key market over HTTP.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/AfshinJalili/keymarket/internal/cache"
	"github.com/AfshinJalili/keymarket/internal/directory"
	"github.com/AfshinJalili/keymarket/internal/market"
	"github.com/AfshinJalili/keymarket/internal/profile"
	"github.com/AfshinJalili/keymarket/internal/rate"
	"github.com/AfshinJalili/keymarket/libs/auth"
)

// solDecimals is the decimal shift between lamports and SOL.
const solDecimals = 9

// sol renders a lamport amount as a SOL decimal string.
func sol(lamports uint64) string {
	return decimal.NewFromUint64(lamports).Shift(-solDecimals).String()
}

// Wallet exposes the currency accounts backing trades.
type Wallet interface {
	Deposit(ctx context.Context, account market.Identity, amount uint64) error
	Balance(ctx context.Context, account market.Identity) (uint64, error)
}

// Handler serves the market API.
type Handler struct {
	executor *market.Executor
	profiles profile.Registry
	wallet   Wallet
	stats    *cache.StatsCache
	limiter  rate.Limiter
	logger   *slog.Logger
}

func New(executor *market.Executor, profiles profile.Registry, wallet Wallet, stats *cache.StatsCache, limiter rate.Limiter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		executor: executor,
		profiles: profiles,
		wallet:   wallet,
		stats:    stats,
		limiter:  limiter,
		logger:   logger,
	}
}

// Register mounts the v1 routes.
func (h *Handler) Register(r gin.IRouter) {
	v1 := r.Group("/v1")
	v1.Use(h.rateLimit())

	v1.POST("/profiles", h.createProfile)
	v1.POST("/keys", h.createLedger)
	v1.POST("/keys/:creator/buy", h.buyKeys)
	v1.POST("/keys/:creator/sell", h.sellKeys)
	v1.GET("/keys/:creator", h.getLedger)
	v1.GET("/keys/:creator/price", h.getPrice)
	v1.GET("/keys/:creator/holders", h.listHolders)
	v1.GET("/keys/:creator/holders/:id", h.getHolding)
	v1.GET("/keys/:creator/trades", h.listTrades)
	v1.GET("/creators/:creator/stats", h.getStats)
	v1.POST("/accounts/:id/deposit", h.deposit)
	v1.GET("/accounts/:id/balance", h.getBalance)
	v1.GET("/chats/:a/:b", h.getChatRoom)
}

func (h *Handler) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.limiter == nil {
			c.Next()
			return
		}
		key := callerIdentity(c)
		if key == "" {
			key = c.ClientIP()
		}
		ok, err := h.limiter.Allow(c.Request.Context(), key)
		if err != nil {
			h.logger.Error("rate limiter failed", "error", err)
			c.Next()
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// callerIdentity returns the authenticated identity, if any.
func callerIdentity(c *gin.Context) string {
	if v, ok := c.Get(auth.ContextIdentityKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

type createProfileRequest struct {
	Identity    string `json:"identity" binding:"required"`
	DisplayName string `json:"display_name"`
}

func (h *Handler) createProfile(c *gin.Context) {
	var req createProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	p, err := h.profiles.Register(c.Request.Context(), market.Identity(req.Identity), req.DisplayName)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"identity":     string(p.Identity),
		"display_name": p.DisplayName,
		"created_at":   p.CreatedAt,
	})
}

type createLedgerRequest struct {
	Creator string `json:"creator"`
}

func (h *Handler) createLedger(c *gin.Context) {
	var req createLedgerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	creator := req.Creator
	if id := callerIdentity(c); id != "" {
		creator = id
	}

	ledger, err := h.executor.CreateLedger(c.Request.Context(), market.Identity(creator))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ledgerResponse(ledger))
}

type tradeRequest struct {
	Trader       string `json:"trader"`
	Amount       uint64 `json:"amount"`
	MaxTotalCost uint64 `json:"max_total_cost"`
	MinProceeds  uint64 `json:"min_proceeds"`
}

func (h *Handler) buyKeys(c *gin.Context) {
	var req tradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	trader := req.Trader
	if id := callerIdentity(c); id != "" {
		trader = id
	}

	receipt, err := h.executor.Buy(c.Request.Context(),
		market.Identity(trader), market.Identity(c.Param("creator")),
		req.Amount, req.MaxTotalCost)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, receiptResponse(receipt))
}

func (h *Handler) sellKeys(c *gin.Context) {
	var req tradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	trader := req.Trader
	if id := callerIdentity(c); id != "" {
		trader = id
	}

	receipt, err := h.executor.Sell(c.Request.Context(),
		market.Identity(trader), market.Identity(c.Param("creator")),
		req.Amount, req.MinProceeds)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, receiptResponse(receipt))
}

func (h *Handler) getLedger(c *gin.Context) {
	ledger, err := h.executor.GetLedger(c.Request.Context(), market.Identity(c.Param("creator")))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ledgerResponse(ledger))
}

func (h *Handler) getPrice(c *gin.Context) {
	ctx := c.Request.Context()
	creator := market.Identity(c.Param("creator"))

	price, err := h.executor.CurrentPrice(ctx, creator)
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := gin.H{
		"creator":   string(creator),
		"price":     price,
		"price_sol": sol(price),
	}

	if amountParam := c.Query("amount"); amountParam != "" {
		amount, parseErr := strconv.ParseUint(amountParam, 10, 64)
		if parseErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		side := market.SideBuy
		if c.Query("side") == string(market.SideSell) {
			side = market.SideSell
		}
		quote, err := h.executor.QuoteTrade(ctx, creator, side, amount)
		if err != nil {
			h.writeError(c, err)
			return
		}
		resp["quote"] = gin.H{
			"side":         string(side),
			"amount":       amount,
			"raw_price":    quote.Raw,
			"protocol_fee": quote.ProtocolFee,
			"creator_fee":  quote.CreatorFee,
			"total":        quote.Total,
			"total_sol":    sol(quote.Total),
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) listHolders(c *gin.Context) {
	holders, err := h.executor.Holders(c.Request.Context(), market.Identity(c.Param("creator")))
	if err != nil {
		h.writeError(c, err)
		return
	}

	out := make([]gin.H, 0, len(holders))
	for _, r := range holders {
		out = append(out, gin.H{"holder": string(r.Holder), "amount": r.Amount})
	}
	c.JSON(http.StatusOK, gin.H{"creator": c.Param("creator"), "holders": out})
}

func (h *Handler) getHolding(c *gin.Context) {
	amount, err := h.executor.GetHolding(c.Request.Context(),
		market.Identity(c.Param("creator")), market.Identity(c.Param("id")))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"creator": c.Param("creator"),
		"holder":  c.Param("id"),
		"amount":  amount,
		"holds":   amount > 0,
	})
}

func (h *Handler) listTrades(c *gin.Context) {
	limit := 50
	if limitParam := c.Query("limit"); limitParam != "" {
		parsed, err := strconv.Atoi(limitParam)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	trades, err := h.executor.Trades(c.Request.Context(), market.Identity(c.Param("creator")), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}

	out := make([]gin.H, 0, len(trades))
	for _, t := range trades {
		out = append(out, gin.H{
			"trade_id":     t.TradeID,
			"trader":       string(t.Trader),
			"side":         string(t.Side),
			"amount":       t.Amount,
			"raw_price":    t.RawPrice,
			"protocol_fee": t.ProtocolFee,
			"creator_fee":  t.CreatorFee,
			"executed_at":  t.ExecutedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"creator": c.Param("creator"), "trades": out})
}

func (h *Handler) getStats(c *gin.Context) {
	if h.stats == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "stats not available"})
		return
	}
	stats, ok := h.stats.Get(c.Param("creator"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no recorded trades"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"creator":       stats.Creator,
		"trades":        stats.Trades,
		"buys":          stats.Buys,
		"sells":         stats.Sells,
		"volume":        stats.Volume.Dec(),
		"last_price":    stats.LastPrice,
		"last_supply":   stats.LastSupply,
		"last_trade_at": stats.LastTradeAt,
	})
}

// getChatRoom derives the shared chat room for two identities. The room
// address is the same whichever order the participants appear in, and
// the room unlocks only while each participant holds at least one of
// the other's keys.
func (h *Handler) getChatRoom(c *gin.Context) {
	ctx := c.Request.Context()
	a, b := c.Param("a"), c.Param("b")
	if a == b {
		c.JSON(http.StatusBadRequest, gin.H{"error": "participants must differ"})
		return
	}

	room := directory.DeriveShared(directory.NamespaceChatRoom, a, b)
	aHoldsB := h.holdingOrZero(ctx, market.Identity(b), market.Identity(a))
	bHoldsA := h.holdingOrZero(ctx, market.Identity(a), market.Identity(b))

	c.JSON(http.StatusOK, gin.H{
		"room":         room.String(),
		"participants": []string{a, b},
		"unlocked":     aHoldsB > 0 && bHoldsA > 0,
	})
}

// holdingOrZero treats a failed lookup as an empty position.
func (h *Handler) holdingOrZero(ctx context.Context, creator, holder market.Identity) uint64 {
	amount, err := h.executor.GetHolding(ctx, creator, holder)
	if err != nil {
		return 0
	}
	return amount
}

type depositRequest struct {
	Amount uint64 `json:"amount"`
}

func (h *Handler) deposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Amount == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": market.ErrAmountNotPositive.Error()})
		return
	}

	account := market.Identity(c.Param("id"))
	if err := h.wallet.Deposit(c.Request.Context(), account, req.Amount); err != nil {
		h.writeError(c, err)
		return
	}
	balance, err := h.wallet.Balance(c.Request.Context(), account)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account":     string(account),
		"balance":     balance,
		"balance_sol": sol(balance),
	})
}

func (h *Handler) getBalance(c *gin.Context) {
	account := market.Identity(c.Param("id"))
	balance, err := h.wallet.Balance(c.Request.Context(), account)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account":     string(account),
		"balance":     balance,
		"balance_sol": sol(balance),
	})
}

func ledgerResponse(l *market.KeyLedger) gin.H {
	resp := gin.H{
		"creator":           string(l.Creator),
		"total_supply":      l.TotalSupply,
		"total_volume":      l.TotalVolume.Dec(),
		"creator_earnings":  l.CreatorEarnings.Dec(),
		"protocol_earnings": l.ProtocolEarnings.Dec(),
		"created_at":        l.CreatedAt,
	}
	if !l.LastTradeAt.IsZero() {
		resp["last_trade_at"] = l.LastTradeAt
	}
	return resp
}

func receiptResponse(r *market.TradeReceipt) gin.H {
	return gin.H{
		"trade_id":     r.TradeID,
		"creator":      string(r.Creator),
		"trader":       string(r.Trader),
		"side":         string(r.Side),
		"amount":       r.Amount,
		"raw_price":    r.RawPrice,
		"protocol_fee": r.ProtocolFee,
		"creator_fee":  r.CreatorFee,
		"total":        r.Total,
		"total_sol":    sol(r.Total),
		"new_supply":   r.NewSupply,
		"new_holding":  r.NewHolding,
		"executed_at":  r.ExecutedAt,
	}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, market.ErrLedgerMissing),
		errors.Is(err, market.ErrProfileMissing),
		errors.Is(err, market.ErrHoldingMissing),
		errors.Is(err, profile.ErrProfileMissing):
		status = http.StatusNotFound
	case errors.Is(err, market.ErrInvalidIdentity),
		errors.Is(err, market.ErrAmountNotPositive),
		errors.Is(err, market.ErrAmountTooLarge):
		status = http.StatusBadRequest
	case errors.Is(err, market.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
	case errors.Is(err, market.ErrSlippageExceeded),
		errors.Is(err, market.ErrOverflow):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, market.ErrInsufficientKeys),
		errors.Is(err, market.ErrHolderCapacity),
		errors.Is(err, market.ErrSupplyExceeded),
		errors.Is(err, market.ErrLedgerExists),
		errors.Is(err, profile.ErrProfileExists):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
