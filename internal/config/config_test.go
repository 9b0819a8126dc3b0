package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Store != "memory" {
		t.Fatalf("store = %q, want memory", cfg.Store)
	}
	if cfg.Market.BasePrice != 1_000_000 || cfg.Market.CurveScale != 16_000 {
		t.Fatalf("curve params = %d/%d", cfg.Market.BasePrice, cfg.Market.CurveScale)
	}
	if cfg.Market.MaxTradeAmount != 100 {
		t.Fatalf("max trade amount = %d, want 100", cfg.Market.MaxTradeAmount)
	}
	if cfg.Kafka.Enabled {
		t.Fatal("kafka enabled without brokers")
	}
	if cfg.Auth.Enabled {
		t.Fatal("auth enabled without secret")
	}
	if cfg.RateLimit.Window != time.Minute {
		t.Fatalf("rate window = %v, want 1m", cfg.RateLimit.Window)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("KEYS_STORE_BACKEND", "postgres")
	t.Setenv("KAFKA_BROKERS", "broker-1:9092, broker-2:9092")
	t.Setenv("KEYS_JWT_SECRET", "sekrit")
	t.Setenv("KEYS_MAX_HOLDERS", "50")
	t.Setenv("KEYS_BASE_PRICE", "2000000")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Store != "postgres" {
		t.Fatalf("store = %q, want postgres", cfg.Store)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "broker-2:9092" {
		t.Fatalf("brokers = %v", cfg.Kafka.Brokers)
	}
	if !cfg.Kafka.Enabled || !cfg.Auth.Enabled {
		t.Fatal("kafka/auth not enabled")
	}
	if cfg.Market.MaxHolders != 50 {
		t.Fatalf("max holders = %d, want 50", cfg.Market.MaxHolders)
	}
	if cfg.Market.BasePrice != 2_000_000 {
		t.Fatalf("base price = %d, want 2000000", cfg.Market.BasePrice)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("KEYS_STORE_BACKEND", "etcd")
	if _, err := Load(""); err == nil {
		t.Fatal("unknown store backend accepted")
	}
}

func TestLoadRejectsRedisLimiterWithoutRedis(t *testing.T) {
	t.Setenv("KEYS_RATE_BACKEND", "redis")
	if _, err := Load(""); err == nil {
		t.Fatal("redis limiter without redis accepted")
	}
}

func TestDBConfigDSN(t *testing.T) {
	db := DBConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "keys", SSLMode: "disable"}
	want := "postgres://u:p@db:5432/keys?sslmode=disable"
	if got := db.DSN(); got != want {
		t.Fatalf("dsn = %q, want %q", got, want)
	}
}
