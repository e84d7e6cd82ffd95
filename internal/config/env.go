package config

import (
	"fmt"
	"os"
	"strconv"
)

// EnvConfig holds secrets and runtime knobs read from the environment, per
// the recognized option set of spec.md §6. Constructed once at startup and
// passed explicitly — nothing downstream re-reads os.Getenv.
type EnvConfig struct {
	TelegramToken       string
	AIAPIKey            string
	WeatherAPIKey       string
	HolidayAPIKey       string
	LogLevel            string
	DataDir             string
	TickIntervalSeconds int
	FeedParallelism     int
	DeliveryParallelism int
	DedupRetentionDays  int
	AICommentaryScope   string // "global" | "per_recipient"
}

// LoadEnvConfig reads and validates the environment. Missing required
// options fail with a clear message (Fatal, per §7's error taxonomy).
func LoadEnvConfig() (*EnvConfig, error) {
	tgToken := os.Getenv("TELEGRAM_TOKEN")
	if tgToken == "" {
		return nil, fmt.Errorf("TELEGRAM_TOKEN environment variable is required")
	}

	aiKey := os.Getenv("AI_API_KEY")
	if aiKey == "" {
		return nil, fmt.Errorf("AI_API_KEY environment variable is required")
	}

	cfg := &EnvConfig{
		TelegramToken:       tgToken,
		AIAPIKey:            aiKey,
		WeatherAPIKey:       os.Getenv("WEATHER_API_KEY"),
		HolidayAPIKey:       os.Getenv("HOLIDAY_API_KEY"),
		LogLevel:            envOrDefault("LOG_LEVEL", "INFO"),
		DataDir:             envOrDefault("DATA_DIR", "./data"),
		TickIntervalSeconds: envIntOrDefault("TICK_INTERVAL_SECONDS", 60),
		FeedParallelism:     envIntOrDefault("FEED_PARALLELISM", 16),
		DeliveryParallelism: envIntOrDefault("DELIVERY_PARALLELISM", 8),
		DedupRetentionDays:  envIntOrDefault("DEDUP_RETENTION_DAYS", 7),
		AICommentaryScope:   envOrDefault("AI_COMMENTARY_SCOPE", "global"),
	}

	if cfg.AICommentaryScope != "global" && cfg.AICommentaryScope != "per_recipient" {
		return nil, fmt.Errorf("AI_COMMENTARY_SCOPE must be 'global' or 'per_recipient', got %q", cfg.AICommentaryScope)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
