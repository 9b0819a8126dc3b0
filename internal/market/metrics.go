package market

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the market's trade instrumentation. A nil *Metrics is
// valid everywhere and records nothing.
type Metrics struct {
	TradesTotal    *prometheus.CounterVec
	TradeFailures  *prometheus.CounterVec
	TradeDuration  prometheus.Histogram
	QuotesTotal    prometheus.Counter
	LedgersCreated prometheus.Counter
	KeySupply      *prometheus.GaugeVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		TradesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keymarket_trades_total",
				Help: "Settled trades by side.",
			},
			[]string{"side"},
		),
		TradeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keymarket_trade_failures_total",
				Help: "Rejected trades by side and failure kind.",
			},
			[]string{"side", "kind"},
		),
		TradeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "keymarket_trade_duration_seconds",
				Help:    "End to end trade execution latency.",
				Buckets: prometheus.DefBuckets,
			},
		),
		QuotesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "keymarket_quotes_total",
				Help: "Price quotes served.",
			},
		),
		LedgersCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "keymarket_ledgers_created_total",
				Help: "Key ledgers opened.",
			},
		),
		KeySupply: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "keymarket_key_supply",
				Help: "Current key supply per creator.",
			},
			[]string{"creator"},
		),
	}

	registry.MustRegister(
		m.TradesTotal,
		m.TradeFailures,
		m.TradeDuration,
		m.QuotesTotal,
		m.LedgersCreated,
		m.KeySupply,
	)
	return m
}

func (m *Metrics) ObserveTrade(side string, d time.Duration) {
	if m == nil {
		return
	}
	m.TradesTotal.WithLabelValues(side).Inc()
	m.TradeDuration.Observe(d.Seconds())
}

func (m *Metrics) IncTradeFailure(side, kind string) {
	if m == nil {
		return
	}
	m.TradeFailures.WithLabelValues(side, kind).Inc()
}

func (m *Metrics) IncQuotes() {
	if m == nil {
		return
	}
	m.QuotesTotal.Inc()
}

func (m *Metrics) IncLedgersCreated() {
	if m == nil {
		return
	}
	m.LedgersCreated.Inc()
}

func (m *Metrics) SetKeySupply(creator string, supply float64) {
	if m == nil {
		return
	}
	m.KeySupply.WithLabelValues(creator).Set(supply)
}
