// Package config assembles the keymarket service configuration from
// the shared app config plus environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	appconfig "github.com/AfshinJalili/keymarket/libs/config"
)

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type KafkaConfig struct {
	Brokers       []string
	TradeTopic    string
	DLQTopic      string
	ConsumerGroup string
	Enabled       bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Enabled  bool
}

type AuthConfig struct {
	JWTSecret string
	Enabled   bool
}

type RateLimitConfig struct {
	Limit   int
	Window  time.Duration
	Backend string
}

// MarketConfig carries the curve and market parameters. Amounts are in
// lamports.
type MarketConfig struct {
	BasePrice        uint64
	CurveScale       uint64
	MaxSupply        uint64
	ProtocolFeeBp    uint64
	CreatorFeeBp     uint64
	MaxHolders       int
	MaxTradeAmount   uint64
	ProtocolTreasury string
}

type Config struct {
	App       *appconfig.AppConfig
	Store     string
	DB        DBConfig
	Kafka     KafkaConfig
	Redis     RedisConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Market    MarketConfig
}

// Load reads the shared app config and layers the service settings on
// top from the environment.
func Load(path string) (*Config, error) {
	app, err := appconfig.Load(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App:   app,
		Store: envString("KEYS_STORE_BACKEND", "memory"),
		DB: DBConfig{
			Host:     envString("POSTGRES_HOST", "localhost"),
			Port:     envInt("POSTGRES_PORT", 5432),
			User:     envString("POSTGRES_USER", "keymarket"),
			Password: envString("POSTGRES_PASSWORD", "keymarket"),
			Name:     envString("POSTGRES_DB", "keymarket"),
			SSLMode:  envString("POSTGRES_SSLMODE", "disable"),
		},
		Kafka: KafkaConfig{
			Brokers:       envCSV("KAFKA_BROKERS", nil),
			TradeTopic:    envString("KAFKA_TRADE_TOPIC", "keys.traded"),
			DLQTopic:      envString("KAFKA_DLQ_TOPIC", "keys.dead-letter"),
			ConsumerGroup: envString("KAFKA_CONSUMER_GROUP", "keymarket-stats"),
		},
		Redis: RedisConfig{
			Addr:     envString("REDIS_ADDR", ""),
			Password: envString("REDIS_PASSWORD", ""),
			DB:       envInt("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			JWTSecret: envString("KEYS_JWT_SECRET", ""),
		},
		RateLimit: RateLimitConfig{
			Limit:   envInt("KEYS_RATE_LIMIT", 120),
			Window:  envDuration("KEYS_RATE_WINDOW", time.Minute),
			Backend: envString("KEYS_RATE_BACKEND", "memory"),
		},
		Market: MarketConfig{
			BasePrice:        envUint("KEYS_BASE_PRICE", 1_000_000),
			CurveScale:       envUint("KEYS_CURVE_SCALE", 16_000),
			MaxSupply:        envUint("KEYS_MAX_SUPPLY", 1_000_000),
			ProtocolFeeBp:    envUint("KEYS_PROTOCOL_FEE_BP", 500),
			CreatorFeeBp:     envUint("KEYS_CREATOR_FEE_BP", 500),
			MaxHolders:       envInt("KEYS_MAX_HOLDERS", 10_000),
			MaxTradeAmount:   envUint("KEYS_MAX_TRADE_AMOUNT", 100),
			ProtocolTreasury: envString("KEYS_PROTOCOL_TREASURY", "protocol-treasury"),
		},
	}
	cfg.Kafka.Enabled = len(cfg.Kafka.Brokers) > 0
	cfg.Redis.Enabled = cfg.Redis.Addr != ""
	cfg.Auth.Enabled = cfg.Auth.JWTSecret != ""

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store)
	}
	switch c.RateLimit.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown rate limit backend %q", c.RateLimit.Backend)
	}
	if c.RateLimit.Backend == "redis" && !c.Redis.Enabled {
		return fmt.Errorf("redis rate limiting requires REDIS_ADDR")
	}
	if c.Market.ProtocolTreasury == "" {
		return fmt.Errorf("protocol treasury identity is required")
	}
	return nil
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envUint(key string, fallback uint64) uint64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envCSV(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
