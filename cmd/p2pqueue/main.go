package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/p2p-queue-engine/internal/config"
	"github.com/boddenberg/p2p-queue-engine/internal/domain"
	"github.com/boddenberg/p2p-queue-engine/internal/handler"
	"github.com/boddenberg/p2p-queue-engine/internal/infra/cache"
	"github.com/boddenberg/p2p-queue-engine/internal/infra/client"
	"github.com/boddenberg/p2p-queue-engine/internal/infra/kafka"
	"github.com/boddenberg/p2p-queue-engine/internal/infra/memory"
	"github.com/boddenberg/p2p-queue-engine/internal/infra/observability"
	"github.com/boddenberg/p2p-queue-engine/internal/infra/postgres"
	"github.com/boddenberg/p2p-queue-engine/internal/infra/redis"
	"github.com/boddenberg/p2p-queue-engine/internal/infra/resilience"
	"github.com/boddenberg/p2p-queue-engine/internal/infra/supabase"
	"github.com/boddenberg/p2p-queue-engine/internal/matching"
	"github.com/boddenberg/p2p-queue-engine/internal/port"
	"github.com/boddenberg/p2p-queue-engine/internal/risk"
	"github.com/boddenberg/p2p-queue-engine/internal/service"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// historyBackend bundles the read and (optional) write side of whichever
// store holds payment histories and customer profiles.
type historyBackend struct {
	reader   port.HistoryStore
	profiles port.ProfileFetcher
	writer   port.HistoryWriter
	ages     service.AccountAgeWriter
}

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("queue_backend", cfg.QueueBackend),
		zap.String("history_backend", cfg.HistoryBackend),
		zap.Bool("redis", cfg.RedisAddr != ""),
		zap.Strings("kafka_brokers", cfg.KafkaBrokers),
		zap.Duration("dedup_window", cfg.DedupWindow),
		zap.Duration("match_interval", cfg.MatchInterval),
		zap.Duration("max_pending_age", cfg.MaxPendingAge),
		zap.Bool("allow_partial_match", cfg.AllowPartialMatch),
		zap.Bool("dev_tools", cfg.DevTools),
	)

	rejectLevel := domain.RiskLevel(cfg.RejectRiskLevel)
	reviewLevel := domain.RiskLevel(cfg.ReviewRiskLevel)
	if !rejectLevel.Valid() || !reviewLevel.Valid() {
		logger.Fatal("invalid risk levels",
			zap.String("reject", cfg.RejectRiskLevel),
			zap.String("review", cfg.ReviewRiskLevel),
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Tracing ---
	shutdown, err := observability.InitTracer(ctx, cfg.OTLPEndpoint, observability.ServiceName)
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	var healthChecks []handler.HealthCheck

	// --- Postgres ---
	var pool *pgxpool.Pool
	if cfg.QueueBackend == config.BackendPostgres || cfg.HistoryBackend == config.BackendPostgres {
		if cfg.DatabaseURL == "" {
			logger.Fatal("DATABASE_URL is required for the postgres backend")
		}
		pool, err = postgres.Connect(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer pool.Close()
		if err := postgres.Migrate(ctx, pool, logger); err != nil {
			logger.Fatal("failed to migrate postgres", zap.Error(err))
		}
		healthChecks = append(healthChecks, handler.HealthCheck{Name: "postgres", Check: pool.Ping})
	}

	// --- Queue store ---
	var queueStore port.QueueStore
	switch cfg.QueueBackend {
	case config.BackendPostgres:
		queueStore = postgres.NewQueueStore(pool, logger)
	case config.BackendMemory:
		queueStore = memory.NewQueueStore(nil)
	default:
		logger.Fatal("unsupported queue backend", zap.String("backend", cfg.QueueBackend))
	}

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	// --- History & profiles ---
	history := buildHistory(cfg, pool, httpClient, resilienceCfg, logger)

	// --- Redis (distributed frequency counter and pass lock) ---
	var counter port.SubmissionCounter
	var passLock port.PassLock
	if cfg.RedisAddr != "" {
		redisCfg := redis.Config{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: "p2pq:",
		}
		rdb, err := redis.NewClient(ctx, redisCfg, logger)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()
		counter = redis.NewSubmissionCounter(rdb, redisCfg.KeyPrefix, cfg.FrequencyWindow)
		passLock = redis.NewPassLock(rdb, redisCfg.KeyPrefix, logger)
		healthChecks = append(healthChecks, handler.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	} else {
		logger.Info("redis not configured, using in-process counters and pass lock")
		counter = memory.NewSubmissionCounter(cfg.FrequencyWindow)
		passLock = memory.NewPassLock()
	}

	// --- Events ---
	hub := handler.NewEventHub(cfg.AllowedOrigins, logger)
	defer hub.Close()
	publishers := []port.EventPublisher{hub}

	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := kafka.NewPublisher(kafka.Config{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		}, logger)
		if err != nil {
			logger.Fatal("failed to create kafka publisher", zap.Error(err))
		}
		defer publisher.Close()
		publishers = append(publishers, publisher)
		logger.Info("publishing queue events to kafka", zap.String("topic", cfg.KafkaTopic))
	}

	// --- Cache ---
	historyCache := cache.New[*domain.PaymentMethodHistory](cfg.CacheTTL)
	defer historyCache.Close()

	// --- Services ---
	queueCfg := service.DefaultQueueConfig()
	queueCfg.DedupWindow = cfg.DedupWindow
	queueCfg.FrequencyWindow = cfg.FrequencyWindow
	queueCfg.RejectLevel = rejectLevel
	queueCfg.ReviewLevel = reviewLevel
	queueCfg.MaxConcurrency = cfg.MaxConcurrency

	riskTable := risk.DefaultTable()
	riskTable.FrequencyWindow = cfg.FrequencyWindow

	queueSvc := service.NewQueueService(service.QueueDeps{
		Store:    queueStore,
		History:  history.reader,
		Profiles: history.profiles,
		Counter:  counter,
		Lock:     passLock,
		Events:   publishers,
		Cache:    historyCache,
		Scorer:   risk.NewScorer(riskTable),
		Engine: matching.NewEngine(matching.Policy{
			AllowPartial:       cfg.AllowPartialMatch,
			MaxAmountDeviation: cfg.MaxAmountDeviation,
		}),
	}, queueCfg, metrics, logger)

	var devSvc *service.DevToolsService
	if cfg.DevTools {
		if history.writer == nil {
			logger.Warn("dev tools: history backend is read-only, dev routes unavailable",
				zap.String("history_backend", cfg.HistoryBackend),
			)
		} else {
			devSvc = service.NewDevToolsService(history.writer, history.ages, historyCache, logger)
			logger.Warn("dev tools enabled")
		}
	}

	// --- Scheduler ---
	scheduler := service.NewScheduler(queueSvc, service.SchedulerConfig{
		MatchInterval:   cfg.MatchInterval,
		CleanupInterval: cfg.CleanupInterval,
		MaxPendingAge:   cfg.MaxPendingAge,
	}, logger)
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		if err := scheduler.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("scheduler stopped", zap.Error(err))
		}
	}()

	// --- Router ---
	router := handler.NewRouter(handler.Services{
		Queue:    queueSvc,
		DevTools: devSvc,
		Events:   hub,
	}, handler.RouterConfig{
		AllowedOrigins:  cfg.AllowedOrigins,
		SubmitRateLimit: cfg.SubmitRateLimit,
		SubmitRateBurst: cfg.SubmitRateBurst,
		MaxPendingAge:   cfg.MaxPendingAge,
		HealthChecks:    healthChecks,
	}, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	logger.Info("server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced shutdown", zap.Error(err))
	}
	<-schedulerDone

	logger.Info("server stopped")
}

func buildHistory(cfg *config.Config, pool *pgxpool.Pool, httpClient *http.Client, resilienceCfg resilience.Config, logger *zap.Logger) historyBackend {
	switch cfg.HistoryBackend {
	case config.BackendMemory:
		store := memory.NewHistoryStore()
		return historyBackend{reader: store, profiles: store, writer: store, ages: store}

	case config.BackendPostgres:
		store := postgres.NewHistoryStore(pool)
		return historyBackend{reader: store, profiles: store, writer: store, ages: store}

	case config.BackendSupabase:
		if cfg.SupabaseURL == "" {
			logger.Fatal("SUPABASE_URL is required for the supabase history backend")
		}
		logger.Info("using Supabase as history backend", zap.String("supabase_url", cfg.SupabaseURL))
		sb := supabase.NewClient(
			httpClient,
			cfg.SupabaseURL,
			cfg.SupabaseAnonKey,
			cfg.SupabaseServiceKey,
			resilience.NewCircuitBreaker("supabase", logger),
			resilienceCfg,
			logger,
		)
		return historyBackend{reader: sb, profiles: sb, writer: sb, ages: sb}

	case config.BackendHTTP:
		logger.Info("using HTTP API clients as history backend",
			zap.String("history_api", cfg.HistoryAPIURL),
			zap.String("profile_api", cfg.ProfileAPIURL),
		)
		return historyBackend{
			reader:   client.NewHistoryClient(httpClient, cfg.HistoryAPIURL, resilience.NewCircuitBreaker("history-api", logger), resilienceCfg),
			profiles: client.NewProfileClient(httpClient, cfg.ProfileAPIURL, resilience.NewCircuitBreaker("profile-api", logger), resilienceCfg),
		}
	}

	logger.Fatal("unsupported history backend", zap.String("backend", cfg.HistoryBackend))
	return historyBackend{}
}
