package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// Core
	BotToken     string `env:"BOT_TOKEN,required,notEmpty"`
	GeminiAPIKey string `env:"GEMINI_API_KEY,required,notEmpty"`

	// Turn archive; disabled when empty
	DatabaseURL string `env:"DATABASE_URL"`

	// Admin
	AdminIDs []int64 `env:"ADMIN_IDS" envSeparator:","`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Prometheus listener, e.g. ":2112"; disabled when empty
	MetricsAddr string `env:"METRICS_ADDR"`

	// Generation
	TurnTimeout        time.Duration `env:"TURN_TIMEOUT" envDefault:"90s"`
	StreamEditInterval time.Duration `env:"STREAM_EDIT_INTERVAL" envDefault:"1s"`
	ShowCost           bool          `env:"SHOW_COST" envDefault:"false"`
	SystemPrompt       string        `env:"SYSTEM_PROMPT"`

	// Sessions
	MaxSessions int `env:"MAX_SESSIONS" envDefault:"50"`

	// Rate limit (messages per minute per chat)
	RateLimitPerMinute int `env:"RATE_LIMIT_PER_MINUTE" envDefault:"6"`

	// Bot behavior
	DropPendingUpdates bool `env:"BOT_DROP_PENDING_UPDATES" envDefault:"false"`

	// Telegram logging
	LogTelegramChatID    int64 `env:"LOG_TELEGRAM_CHAT_ID"`
	LogTopicError        int   `env:"LOG_TOPIC_ERROR"`
	LogTopicRegistration int   `env:"LOG_TOPIC_REGISTRATION"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.TurnTimeout <= 0 {
		return nil, fmt.Errorf("parse config: TURN_TIMEOUT must be positive, got %s", cfg.TurnTimeout)
	}
	if cfg.MaxSessions <= 0 {
		return nil, fmt.Errorf("parse config: MAX_SESSIONS must be positive, got %d", cfg.MaxSessions)
	}
	return cfg, nil
}

func (c *Config) IsAdmin(telegramID int64) bool {
	for _, id := range c.AdminIDs {
		if id == telegramID {
			return true
		}
	}
	return false
}

func (c *Config) AdminIDsString() string {
	parts := make([]string, len(c.AdminIDs))
	for i, id := range c.AdminIDs {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ",")
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ArchiveEnabled reports whether finished turns are written to Postgres.
func (c *Config) ArchiveEnabled() bool {
	return c.DatabaseURL != ""
}
