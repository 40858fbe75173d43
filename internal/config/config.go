package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full environment surface of the monitor. Load validates it
// before anything else starts; an invalid configuration is fatal.
type Config struct {
	// Source account
	Account  string
	Instance string

	// Bypass proxy (FlareSolverr)
	SolverAddress string
	SolverPort    int

	// Delivery log
	ProjectID       string
	StoreCollection string

	// Discord sink
	DiscordNotify     bool
	DiscordWebhookURL string
	DiscordUsername   string

	// Polling and delivery behavior
	PollInterval     time.Duration
	RequestTimeout   time.Duration
	MaxRetries       int
	RateLimitSpacing time.Duration
	FetchLimit       int

	LogLevel string
}

// Load reads configuration from the environment and validates it.
// All problems are reported together so a broken deployment fails once,
// with the full list, instead of one variable at a time.
func Load() (*Config, error) {
	cfg := &Config{
		Account:           os.Getenv("TRUTH_USERNAME"),
		Instance:          getEnvDefault("TRUTH_INSTANCE", "truthsocial.com"),
		SolverAddress:     getEnvDefault("FLARESOLVERR_ADDRESS", "localhost"),
		ProjectID:         os.Getenv("GOOGLE_CLOUD_PROJECT"),
		StoreCollection:   getEnvDefault("STORE_COLLECTION", "posts"),
		DiscordWebhookURL: os.Getenv("DISCORD_WEBHOOK_URL"),
		DiscordUsername:   getEnvDefault("DISCORD_USERNAME", "Truth Social Bot"),
		LogLevel:          getEnvDefault("LOG_LEVEL", "info"),
	}

	var errs []string

	cfg.DiscordNotify = true
	if v := os.Getenv("DISCORD_NOTIFY"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid DISCORD_NOTIFY %q", v))
		} else {
			cfg.DiscordNotify = parsed
		}
	}

	cfg.SolverPort = intEnv("FLARESOLVERR_PORT", 8191, &errs)
	cfg.MaxRetries = intEnv("MAX_RETRIES", 3, &errs)
	cfg.FetchLimit = intEnv("FETCH_LIMIT", 5, &errs)

	pollSeconds := intEnv("REPEAT_DELAY", 300, &errs)
	cfg.PollInterval = time.Duration(pollSeconds) * time.Second
	cfg.RequestTimeout = time.Duration(intEnv("REQUEST_TIMEOUT", 30, &errs)) * time.Second
	cfg.RateLimitSpacing = time.Duration(intEnv("RATE_LIMIT_SPACING", 2, &errs)) * time.Second

	if cfg.Account == "" {
		errs = append(errs, "TRUTH_USERNAME is required")
	}
	if cfg.ProjectID == "" {
		errs = append(errs, "GOOGLE_CLOUD_PROJECT is required")
	}
	if cfg.DiscordNotify && cfg.DiscordWebhookURL == "" {
		errs = append(errs, "DISCORD_WEBHOOK_URL is required when DISCORD_NOTIFY is enabled")
	}
	if cfg.PollInterval <= 0 {
		errs = append(errs, "REPEAT_DELAY must be positive")
	}
	if cfg.RequestTimeout <= 0 {
		errs = append(errs, "REQUEST_TIMEOUT must be positive")
	}
	if cfg.MaxRetries < 0 {
		errs = append(errs, "MAX_RETRIES must be non-negative")
	}
	if cfg.FetchLimit <= 0 {
		errs = append(errs, "FETCH_LIMIT must be positive")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}

	if cfg.PollInterval < 5*time.Second {
		slog.Warn("REPEAT_DELAY is very low, the source may throttle requests", "interval", cfg.PollInterval)
	}
	if !cfg.DiscordNotify {
		slog.Warn("DISCORD_NOTIFY is disabled, new posts will be recorded but not relayed")
	}

	return cfg, nil
}

func getEnvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("invalid %s %q", key, v))
		return fallback
	}
	return parsed
}
