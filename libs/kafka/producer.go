// Package kafka wraps sarama with the event plumbing the key market
// uses: versioned envelopes, an idempotent sync producer, and a
// dead-letter fallback for events that fail to publish.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"log/slog"
)

const (
	producerClientID = "keymarket-producer"
	publishRetries   = 5
	publishBackoff   = 250 * time.Millisecond
)

type ProducerMetrics struct {
	PublishTotal   *prometheus.CounterVec
	PublishLatency *prometheus.HistogramVec
	DeadLettered   prometheus.Counter
}

func NewProducerMetrics(registry *prometheus.Registry) *ProducerMetrics {
	m := &ProducerMetrics{
		PublishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "keymarket",
				Subsystem: "events",
				Name:      "publish_total",
				Help:      "Event publish attempts, by topic and outcome.",
			},
			[]string{"topic", "status"},
		),
		PublishLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "keymarket",
				Subsystem: "events",
				Name:      "publish_duration_seconds",
				Help:      "Event publish latency, by topic.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"topic"},
		),
		DeadLettered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "keymarket",
				Subsystem: "events",
				Name:      "dead_lettered_total",
				Help:      "Events diverted to the dead-letter topic.",
			},
		),
	}

	registry.MustRegister(m.PublishTotal, m.PublishLatency, m.DeadLettered)
	return m
}

type Publisher interface {
	PublishJSON(ctx context.Context, topic, key string, value any) (int32, int64, error)
	Close() error
}

// DLQPublisher publishes through primary and, when that fails, wraps
// the event in a DLQ payload and sends it to the dead-letter topic.
// The original publish error is always returned to the caller.
type DLQPublisher struct {
	primary  Publisher
	dlq      Publisher
	dlqTopic string
	logger   *slog.Logger
	metrics  *ProducerMetrics
}

func NewDLQPublisher(primary Publisher, dlq Publisher, dlqTopic string, logger *slog.Logger) *DLQPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &DLQPublisher{
		primary:  primary,
		dlq:      dlq,
		dlqTopic: dlqTopic,
		logger:   logger,
	}
	if sp, ok := primary.(*SyncProducer); ok {
		p.metrics = sp.metrics
	}
	return p
}

func (p *DLQPublisher) PublishJSON(ctx context.Context, topic, key string, value any) (int32, int64, error) {
	if p == nil || p.primary == nil {
		return 0, 0, fmt.Errorf("event producer not configured")
	}
	partition, offset, err := p.primary.PublishJSON(ctx, topic, key, value)
	if err == nil {
		return partition, offset, nil
	}
	if p.dlq == nil || p.dlqTopic == "" {
		return partition, offset, err
	}

	payload := BuildPublishDLQPayload(topic, key, value, err, "publish_failed", 1)
	if _, _, dlqErr := p.dlq.PublishJSON(ctx, p.dlqTopic, key, payload); dlqErr != nil {
		p.logger.Error("dead-letter publish failed", "topic", p.dlqTopic, "error", dlqErr)
	} else if p.metrics != nil {
		p.metrics.DeadLettered.Inc()
	}
	return partition, offset, err
}

func (p *DLQPublisher) Close() error {
	if p == nil || p.primary == nil {
		return nil
	}
	return p.primary.Close()
}

// SyncProducer publishes with idempotence enabled so a broker retry
// cannot double-record a trade event.
type SyncProducer struct {
	producer sarama.SyncProducer
	logger   *slog.Logger
	metrics  *ProducerMetrics
}

func NewSyncProducer(brokers []string, logger *slog.Logger, metrics *ProducerMetrics) (*SyncProducer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg := sarama.NewConfig()
	cfg.ClientID = producerClientID
	cfg.Version = sarama.V3_7_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Retry.Max = publishRetries
	cfg.Producer.Retry.Backoff = publishBackoff

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return &SyncProducer{
		producer: producer,
		logger:   logger,
		metrics:  metrics,
	}, nil
}

// PublishJSON keys the message so all events for one creator land on
// the same partition, preserving trade order for consumers.
func (p *SyncProducer) PublishJSON(ctx context.Context, topic, key string, value any) (int32, int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return 0, 0, fmt.Errorf("marshal event payload: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("source"), Value: []byte(eventSource)},
		},
	}

	start := time.Now()
	partition, offset, err := p.producer.SendMessage(msg)
	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.PublishTotal.WithLabelValues(topic, status).Inc()
		p.metrics.PublishLatency.WithLabelValues(topic).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		p.logger.Error("event publish failed", "topic", topic, "error", err)
		return 0, 0, fmt.Errorf("publish %s: %w", topic, err)
	}

	return partition, offset, nil
}

func (p *SyncProducer) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
