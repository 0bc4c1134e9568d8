// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	DataDir  string
	Port     int
	LogLevel string
	DevMode  bool

	JWTSecret        string
	MinOrderNotional float64

	// Market simulation cadences
	TickInterval        time.Duration
	OrderbookEveryTicks int
	NewsMinGap          time.Duration
	NewsMaxGap          time.Duration
	StrategyInterval    time.Duration
	HeartbeatInterval   time.Duration
	SandboxBudget       time.Duration

	// Repository connection policy
	DB DBConfig
}

// DBConfig holds the dual-endpoint connection policy options.
type DBConfig struct {
	ConnectMode       string // direct | pooler
	FallbackEnabled   bool
	ConnectTimeout    time.Duration
	RetryMaxAttempts  int
	RetryBase         time.Duration
	RetryMax          time.Duration
	PauseBackground   bool // pause background producers while the store is down
	SSLRejectUnauthor bool
}

// Load reads configuration from environment variables (.env supported).
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	mode := getEnv("DB_CONNECT_MODE", "direct")
	if mode != "direct" && mode != "pooler" {
		return nil, fmt.Errorf("invalid DB_CONNECT_MODE %q (want direct or pooler)", mode)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		JWTSecret:        getEnv("JWT_SECRET", ""),
		MinOrderNotional: getEnvAsFloat("MIN_ORDER_NOTIONAL", 1.0),

		TickInterval:        getEnvAsMillis("TICK_INTERVAL_MS", 1000),
		OrderbookEveryTicks: getEnvAsInt("ORDERBOOK_EVERY_N_TICKS", 2),
		NewsMinGap:          getEnvAsSeconds("NEWS_MIN_GAP_S", 45),
		NewsMaxGap:          getEnvAsSeconds("NEWS_MAX_GAP_S", 180),
		StrategyInterval:    getEnvAsSeconds("STRATEGY_INTERVAL_S", 30),
		HeartbeatInterval:   getEnvAsSeconds("HEARTBEAT_INTERVAL_S", 15),
		SandboxBudget:       getEnvAsMillis("SANDBOX_BUDGET_MS", 250),

		DB: DBConfig{
			ConnectMode:       mode,
			FallbackEnabled:   getEnvAsBool("DB_FALLBACK_ENABLED", true),
			ConnectTimeout:    getEnvAsMillis("DB_CONNECT_TIMEOUT_MS", 5000),
			RetryMaxAttempts:  getEnvAsInt("DB_RETRY_MAX_ATTEMPTS", 5),
			RetryBase:         getEnvAsMillis("DB_RETRY_BASE_MS", 100),
			RetryMax:          getEnvAsMillis("DB_RETRY_MAX_MS", 5000),
			PauseBackground:   getEnvAsBool("PAUSE_BACKGROUND_ON_DB_DOWN", true),
			SSLRejectUnauthor: getEnvAsBool("DB_SSL_REJECT_UNAUTHORIZED", true),
		},
	}

	if cfg.JWTSecret == "" && !cfg.DevMode {
		return nil, fmt.Errorf("JWT_SECRET is required outside dev mode")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsMillis(key string, fallback int) time.Duration {
	return time.Duration(getEnvAsInt(key, fallback)) * time.Millisecond
}

func getEnvAsSeconds(key string, fallback int) time.Duration {
	return time.Duration(getEnvAsInt(key, fallback)) * time.Second
}
