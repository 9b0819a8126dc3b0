package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/AfshinJalili/keymarket/internal/bank"
	"github.com/AfshinJalili/keymarket/internal/cache"
	"github.com/AfshinJalili/keymarket/internal/config"
	"github.com/AfshinJalili/keymarket/internal/consumer"
	"github.com/AfshinJalili/keymarket/internal/curve"
	"github.com/AfshinJalili/keymarket/internal/handlers"
	"github.com/AfshinJalili/keymarket/internal/market"
	"github.com/AfshinJalili/keymarket/internal/profile"
	"github.com/AfshinJalili/keymarket/internal/rate"
	"github.com/AfshinJalili/keymarket/internal/storage"
	"github.com/AfshinJalili/keymarket/libs/auth"
	"github.com/AfshinJalili/keymarket/libs/health"
	"github.com/AfshinJalili/keymarket/libs/httpmiddleware"
	"github.com/AfshinJalili/keymarket/libs/kafka"
	"github.com/AfshinJalili/keymarket/libs/logging"
	libmetrics "github.com/AfshinJalili/keymarket/libs/metrics"
	"github.com/AfshinJalili/keymarket/libs/trace"
)

func main() {
	if err := run(); err != nil {
		slog.Error("keymarket exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("KEYS_CONFIG"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
	slog.SetDefault(logger)

	shutdownTracer, err := trace.InitTracer(cfg.App.ServiceName, cfg.App.Env)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}

	registry := prometheus.NewRegistry()
	libmetrics.Register(registry)
	marketMetrics := market.NewMetrics(registry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	healthMgr := health.NewManager()

	store, pool, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
		healthMgr.AddCheck("postgres", pool.Ping)
	}

	funds := bank.NewMemoryLedger()
	profiles := profile.NewMemoryRegistry()
	treasury := market.Identity(cfg.Market.ProtocolTreasury)

	limiter, redisClient, err := buildLimiter(ctx, cfg)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		healthMgr.AddCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	var producer kafka.Publisher
	if cfg.Kafka.Enabled {
		sync, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, logger, kafka.NewProducerMetrics(registry))
		if err != nil {
			return fmt.Errorf("kafka producer: %w", err)
		}
		producer = kafka.NewDLQPublisher(sync, sync, cfg.Kafka.DLQTopic, logger)
		defer producer.Close()
	}

	executor, err := market.NewExecutor(market.Config{
		Store:    store,
		Funds:    funds,
		Profiles: profiles,
		Params: curve.Params{
			BasePrice:     cfg.Market.BasePrice,
			Scale:         cfg.Market.CurveScale,
			MaxSupply:     cfg.Market.MaxSupply,
			ProtocolFeeBp: cfg.Market.ProtocolFeeBp,
			CreatorFeeBp:  cfg.Market.CreatorFeeBp,
		},
		MaxHolders:       cfg.Market.MaxHolders,
		MaxTradeAmount:   cfg.Market.MaxTradeAmount,
		ProtocolTreasury: treasury,
		Producer:         producer,
		TradeTopic:       cfg.Kafka.TradeTopic,
		Logger:           logger,
		Metrics:          marketMetrics,
	})
	if err != nil {
		return fmt.Errorf("build executor: %w", err)
	}

	stats := cache.NewStatsCache()
	if cfg.Kafka.Enabled {
		tradeConsumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, logger)
		if err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
		defer tradeConsumer.Close()
		go func() {
			handler := consumer.NewTradeConsumer(stats, logger)
			if err := tradeConsumer.Consume(ctx, []string{cfg.Kafka.TradeTopic}, handler); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("trade consumer stopped", "error", err)
			}
		}()
	}

	if cfg.App.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		httpmiddleware.RequestID(),
		httpmiddleware.Recovery(logger),
		httpmiddleware.Logger(logger),
		trace.Middleware(cfg.App.ServiceName),
	)

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(healthMgr))
	router.GET(cfg.App.MetricsPath, gin.WrapH(libmetrics.Handler(registry)))

	if cfg.Auth.Enabled {
		router.Use(auth.Middleware([]byte(cfg.Auth.JWTSecret)))
	}
	handlers.New(executor, profiles, funds, stats, limiter, logger).Register(router)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("keymarket listening", "addr", srv.Addr, "store", cfg.Store, "kafka", cfg.Kafka.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	healthMgr.SetDraining(true)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Error("tracer shutdown", "error", err)
	}

	logger.Info("keymarket stopped")
	return nil
}

func buildStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (market.LedgerStore, *pgxpool.Pool, error) {
	if cfg.Store != "postgres" {
		logger.Info("using in-memory ledger store")
		return storage.NewMemoryStore(), nil, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("postgres pool: %w", err)
	}
	store := storage.NewPostgresStore(pool)
	if err := store.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres ping: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Info("using postgres ledger store", "host", cfg.DB.Host, "db", cfg.DB.Name)
	return store, pool, nil
}

func buildLimiter(ctx context.Context, cfg *config.Config) (rate.Limiter, *redis.Client, error) {
	limit := rate.Config{Limit: cfg.RateLimit.Limit, Window: cfg.RateLimit.Window}

	if cfg.RateLimit.Backend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return rate.NewRedisLimiter(client, limit, "keymarket"), client, nil
	}

	memLimiter := rate.NewMemoryLimiter(limit)
	if limit.Limit <= 0 || limit.Window <= 0 {
		return memLimiter, nil, nil
	}
	go func() {
		ticker := time.NewTicker(cfg.RateLimit.Window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				memLimiter.Sweep()
			}
		}
	}()
	return memLimiter, nil, nil
}
