package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

type MarketConfig struct {
	BaseURL string
	APIKey  string
	RPS     float64
	Burst   int

	// SYMBOL=PRICE pairs served when no quote API is configured.
	StaticPrices string
}

type KafkaConfig struct {
	Brokers     []string
	RosterTopic string
	GroupID     string
}

func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type LeaderboardConfig struct {
	Concurrency    int
	StrictProfiles bool
	SkipFailed     bool
}

type APIConfig struct {
	Addr            string
	DatabaseURL     string
	SupabaseURL     string
	SupabaseAnonKey string
	ApplySchema     bool
	RedisAddr       string
	PrizeCacheTTL   time.Duration
	Market          MarketConfig
	Kafka           KafkaConfig
	Leaderboard     LeaderboardConfig
}

type WorkerConfig struct {
	DatabaseURL   string
	ApplySchema   bool
	RedisAddr     string
	PrizeCacheTTL time.Duration
	SnapshotEvery time.Duration
	RunOnce       bool
	MetricsAddr   string
	Market        MarketConfig
	Leaderboard   LeaderboardConfig
}

type CLIConfig struct {
	APIBaseURL string
}

var loadDotenv sync.Once

// loadEnvFile reads .env from the working directory once. Variables already
// set in the process environment win.
func loadEnvFile() {
	loadDotenv.Do(func() {
		_ = godotenv.Load()
	})
}

func LoadAPIFromEnv() (APIConfig, error) {
	loadEnvFile()
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("CHAMPS_API_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr:            addr,
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SupabaseURL:     strings.TrimRight(strings.TrimSpace(os.Getenv("SUPABASE_URL")), "/"),
		SupabaseAnonKey: strings.TrimSpace(os.Getenv("SUPABASE_ANON_KEY")),
		ApplySchema:     envBoolDefault("CHAMPS_APPLY_SCHEMA", false),
		RedisAddr:       strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		PrizeCacheTTL:   envDurationDefault("CHAMPS_PRIZE_CACHE_TTL", 30*time.Second),
		Market:          marketFromEnv(),
		Kafka:           kafkaFromEnv("champs-api"),
		Leaderboard:     leaderboardFromEnv(),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.SupabaseURL == "" {
		return cfg, fmt.Errorf("SUPABASE_URL is required")
	}
	if cfg.SupabaseAnonKey == "" {
		return cfg, fmt.Errorf("SUPABASE_ANON_KEY is required")
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	loadEnvFile()
	cfg := WorkerConfig{
		DatabaseURL:   strings.TrimSpace(os.Getenv("DATABASE_URL")),
		ApplySchema:   envBoolDefault("CHAMPS_APPLY_SCHEMA", false),
		RedisAddr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		PrizeCacheTTL: envDurationDefault("CHAMPS_PRIZE_CACHE_TTL", 30*time.Second),
		SnapshotEvery: envDurationDefault("CHAMPS_SNAPSHOT_EVERY", 5*time.Minute),
		RunOnce:       envBoolDefault("CHAMPS_WORKER_RUN_ONCE", false),
		MetricsAddr:   envDefault("CHAMPS_WORKER_METRICS_ADDR", ":9091"),
		Market:        marketFromEnv(),
		Leaderboard:   leaderboardFromEnv(),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.SnapshotEvery < time.Second {
		return cfg, fmt.Errorf("CHAMPS_SNAPSHOT_EVERY must be at least 1s")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	loadEnvFile()
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("CHAMPS_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func marketFromEnv() MarketConfig {
	return MarketConfig{
		BaseURL: strings.TrimRight(strings.TrimSpace(os.Getenv("MARKET_API_URL")), "/"),
		APIKey:  strings.TrimSpace(os.Getenv("MARKET_API_KEY")),
		RPS:     envFloatDefault("MARKET_RPS", 25),
		Burst:   envIntDefault("MARKET_BURST", 10),

		StaticPrices: strings.TrimSpace(os.Getenv("MARKET_STATIC_PRICES")),
	}
}

// Each API replica needs its own group so every instance sees every roster
// event; the hostname keeps the default group unique per replica.
func kafkaFromEnv(defaultGroup string) KafkaConfig {
	if host, err := os.Hostname(); err == nil && host != "" {
		defaultGroup += "-" + host
	}
	return KafkaConfig{
		Brokers:     envList("KAFKA_BROKERS"),
		RosterTopic: envDefault("KAFKA_ROSTER_TOPIC", "champs.roster"),
		GroupID:     envDefault("KAFKA_GROUP_ID", defaultGroup),
	}
}

func leaderboardFromEnv() LeaderboardConfig {
	return LeaderboardConfig{
		Concurrency:    envIntDefault("CHAMPS_LEADERBOARD_CONCURRENCY", 0),
		StrictProfiles: envBoolDefault("CHAMPS_STRICT_PROFILES", false),
		SkipFailed:     envBoolDefault("CHAMPS_SKIP_FAILED", false),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloatDefault(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
