package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/francktshibala/bookbridge/internal/version"
)

// Profile is configuration to start main server.
type Profile struct {
	// Primary provider (Anthropic Messages API).
	AnthropicAPIKey  string
	AnthropicBaseURL string

	// Secondary provider (OpenAI-compatible chat completions), used on capacity fallback.
	OpenAIAPIKey  string
	OpenAIBaseURL string

	// LLMTimeout is the per-call provider deadline in seconds (default: 30).
	LLMTimeout int

	// Distributed cache. Empty disables the redis tier.
	RedisURL string
	// CacheCapacity bounds the in-process response cache.
	CacheCapacity int
	// PromoteRemoteHits copies distributed-cache hits into the in-process tier.
	PromoteRemoteHits bool

	// Daily spend ceilings in USD.
	UserDailyLimitUSD   float64
	SystemDailyLimitUSD float64

	// RateLimitPerMinute is the per-user HTTP request budget. Zero disables it.
	RateLimitPerMinute int

	// ConfigDir holds optional YAML overrides (models.yaml, pricing.yaml, routing.yaml).
	ConfigDir string

	LogLevel  string
	LogFormat string

	Mode    string
	DSN     string
	Driver  string
	Version string
	Addr    string
	Data    string
	Port    int
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if at least one provider key is configured.
func (p *Profile) IsAIEnabled() bool {
	return p.AnthropicAPIKey != "" || p.OpenAIAPIKey != ""
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		slog.Warn("ignoring malformed numeric env var", "key", key, "value", value)
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.AnthropicAPIKey = getEnvOrDefault("BOOKBRIDGE_ANTHROPIC_API_KEY", "")
	p.AnthropicBaseURL = getEnvOrDefault("BOOKBRIDGE_ANTHROPIC_BASE_URL", "")
	p.OpenAIAPIKey = getEnvOrDefault("BOOKBRIDGE_OPENAI_API_KEY", "")
	p.OpenAIBaseURL = getEnvOrDefault("BOOKBRIDGE_OPENAI_BASE_URL", "https://api.openai.com/v1")
	p.LLMTimeout = getEnvOrDefaultInt("BOOKBRIDGE_LLM_TIMEOUT_SECONDS", 30)

	p.RedisURL = getEnvOrDefault("BOOKBRIDGE_REDIS_URL", "")
	p.CacheCapacity = getEnvOrDefaultInt("BOOKBRIDGE_CACHE_CAPACITY", 2000)
	p.PromoteRemoteHits = getEnvOrDefault("BOOKBRIDGE_CACHE_PROMOTE_REMOTE_HITS", "true") == "true"

	p.UserDailyLimitUSD = getEnvOrDefaultFloat("BOOKBRIDGE_USER_DAILY_LIMIT_USD", 10)
	p.SystemDailyLimitUSD = getEnvOrDefaultFloat("BOOKBRIDGE_SYSTEM_DAILY_LIMIT_USD", 150)
	p.RateLimitPerMinute = getEnvOrDefaultInt("BOOKBRIDGE_RATE_LIMIT_PER_MINUTE", 30)

	p.ConfigDir = getEnvOrDefault("BOOKBRIDGE_CONFIG_DIR", p.ConfigDir)
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		absDir, err := filepath.Abs(dataDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}
	if p.LLMTimeout <= 0 {
		p.LLMTimeout = 30
	}
	if p.Mode == "prod" && !version.IsRelease(p.Version) {
		return errors.Errorf("prod mode requires a release build, got version %q", p.Version)
	}
	if p.UserDailyLimitUSD <= 0 || p.SystemDailyLimitUSD <= 0 {
		return errors.Errorf("daily limits must be positive (user=%.2f system=%.2f)", p.UserDailyLimitUSD, p.SystemDailyLimitUSD)
	}

	switch p.Driver {
	case "sqlite":
		if p.DSN != "" {
			return nil
		}
		if p.Data == "" {
			p.Data = "."
		}
		dataDir, err := checkDataDir(p.Data)
		if err != nil {
			slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
			return err
		}
		p.Data = dataDir
		p.DSN = filepath.Join(dataDir, fmt.Sprintf("bookbridge_%s.db", p.Mode))
	case "postgres", "mongo":
		if p.DSN == "" {
			return errors.Errorf("dsn is required for driver %q", p.Driver)
		}
	default:
		return errors.Errorf("unsupported driver %q", p.Driver)
	}
	return nil
}
