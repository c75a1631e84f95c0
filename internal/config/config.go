package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend names accepted by QUEUE_BACKEND and HISTORY_BACKEND.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSupabase = "supabase"
	BackendHTTP     = "http"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache
	CacheTTL time.Duration

	// Observability
	OTLPEndpoint string

	// Storage backends
	QueueBackend   string // memory | postgres
	HistoryBackend string // memory | postgres | supabase | http
	DatabaseURL    string

	// Supabase
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string

	// Upstream customer APIs (HISTORY_BACKEND=http)
	ProfileAPIURL string
	HistoryAPIURL string

	// Redis (distributed counters and pass lock); empty Addr keeps them in-process
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Kafka settlement events; no brokers disables publishing
	KafkaBrokers []string
	KafkaTopic   string

	// Queue policy
	DedupWindow        time.Duration
	MatchInterval      time.Duration
	CleanupInterval    time.Duration
	MaxPendingAge      time.Duration
	FrequencyWindow    time.Duration
	AllowPartialMatch  bool
	MaxAmountDeviation float64
	RejectRiskLevel    string
	ReviewRiskLevel    string

	// HTTP surface
	AllowedOrigins  []string
	SubmitRateLimit float64 // requests per second, 0 disables
	SubmitRateBurst int

	// Dev mode
	DevTools bool // DEV_TOOLS=true mounts /v1/dev/*
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),

		CacheTTL: getEnvDuration("CACHE_TTL", 5*time.Minute),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		QueueBackend:   strings.ToLower(getEnv("QUEUE_BACKEND", BackendMemory)),
		HistoryBackend: strings.ToLower(getEnv("HISTORY_BACKEND", BackendMemory)),
		DatabaseURL:    getEnv("DATABASE_URL", ""),

		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),

		ProfileAPIURL: getEnv("PROFILE_API_URL", "http://localhost:8081"),
		HistoryAPIURL: getEnv("HISTORY_API_URL", "http://localhost:8082"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		KafkaBrokers: getEnvList("KAFKA_BROKERS", nil),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "p2p-queue-events"),

		DedupWindow:        getEnvDuration("DEDUP_WINDOW", 60*time.Second),
		MatchInterval:      getEnvDuration("MATCH_INTERVAL", 10*time.Second),
		CleanupInterval:    getEnvDuration("CLEANUP_INTERVAL", time.Minute),
		MaxPendingAge:      getEnvDuration("MAX_PENDING_AGE", 24*time.Hour),
		FrequencyWindow:    getEnvDuration("FREQUENCY_WINDOW", 30*24*time.Hour),
		AllowPartialMatch:  getEnvBool("ALLOW_PARTIAL_MATCH", false),
		MaxAmountDeviation: getEnvFloat("MAX_AMOUNT_DEVIATION", 0.1),
		RejectRiskLevel:    strings.ToLower(getEnv("REJECT_RISK_LEVEL", "critical")),
		ReviewRiskLevel:    strings.ToLower(getEnv("REVIEW_RISK_LEVEL", "high")),

		AllowedOrigins:  getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		SubmitRateLimit: getEnvFloat("SUBMIT_RATE_LIMIT", 0),
		SubmitRateBurst: getEnvInt("SUBMIT_RATE_BURST", 20),

		DevTools: getEnvBool("DEV_TOOLS", false),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// getEnvList splits a comma-separated value, dropping empty entries.
func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
