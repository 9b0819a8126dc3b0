// Package cache holds the read model built from the keys.traded
// stream: per-creator market activity served on the stats endpoint.
package cache

import (
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/AfshinJalili/keymarket/internal/market"
)

// CreatorStats is the aggregate view of one creator's market activity.
type CreatorStats struct {
	Creator     string
	Trades      uint64
	Buys        uint64
	Sells       uint64
	Volume      *uint256.Int
	LastPrice   uint64
	LastSupply  uint64
	LastTradeAt time.Time
}

func (s *CreatorStats) clone() CreatorStats {
	c := *s
	c.Volume = new(uint256.Int).Set(s.Volume)
	return c
}

// StatsCache accumulates trade events per creator.
type StatsCache struct {
	mu    sync.RWMutex
	stats map[string]*CreatorStats
}

func NewStatsCache() *StatsCache {
	return &StatsCache{stats: make(map[string]*CreatorStats)}
}

// Record folds one trade event into the creator's aggregates. Events
// older than the last recorded trade still count toward totals but do
// not move the last-trade fields backwards.
func (c *StatsCache) Record(event market.KeyTradedEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.stats[event.Creator]
	if !ok {
		s = &CreatorStats{Creator: event.Creator, Volume: uint256.NewInt(0)}
		c.stats[event.Creator] = s
	}

	s.Trades++
	if event.Side == string(market.SideSell) {
		s.Sells++
	} else {
		s.Buys++
	}
	s.Volume.Add(s.Volume, uint256.NewInt(event.RawPrice))

	if !event.ExecutedAt.Before(s.LastTradeAt) {
		s.LastTradeAt = event.ExecutedAt
		s.LastSupply = event.NewSupply
		if event.Amount > 0 {
			s.LastPrice = event.RawPrice / event.Amount
		}
	}
}

// Get returns a snapshot of a creator's stats.
func (c *StatsCache) Get(creator string) (CreatorStats, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.stats[creator]
	if !ok {
		return CreatorStats{}, false
	}
	return s.clone(), true
}
