// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Answering backends.
const (
	BackendHTTP   = "http"
	BackendGemini = "gemini"
)

// Config holds all application configuration.
type Config struct {
	Port           string   `env:"PORT" envDefault:"8080"`
	FrontendURL    string   `env:"FRONTEND_URL"`
	DBPath         string   `env:"DB_PATH" envDefault:"./data/timetalks.db"`
	CatalogPath    string   `env:"CATALOG_PATH"`
	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	MaxRequestBody int64    `env:"MAX_REQUEST_BODY" envDefault:"1048576"`
	// TypingDelay is how long the typing indicator stays on after an answer.
	TypingDelay time.Duration `env:"TYPING_DELAY" envDefault:"1s"`

	Answer    AnswerConfig
	ChatLog   ChatLogConfig
	Telemetry TelemetryConfig
}

// AnswerConfig selects and configures the answering service.
type AnswerConfig struct {
	Backend string `env:"ANSWER_BACKEND" envDefault:"http"`
	URL     string `env:"ANSWER_URL" envDefault:"http://localhost:8000"`
	Path    string `env:"ANSWER_PATH" envDefault:"/pdfs/chat/"`
	// Timeout of zero means requests wait as long as the service takes.
	Timeout      time.Duration `env:"ANSWER_TIMEOUT" envDefault:"0s"`
	GeminiAPIKey string        `env:"GEMINI_API_KEY"`
	GeminiModel  string        `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash"`
}

// ChatLogConfig controls the NDJSON cycle log.
type ChatLogConfig struct {
	Enabled   bool   `env:"CHAT_LOG_ENABLED" envDefault:"false"`
	Path      string `env:"CHAT_LOG_PATH" envDefault:"./data/logs/cycles.ndjson"`
	QueueSize int    `env:"CHAT_LOG_QUEUE_SIZE" envDefault:"256"`
}

// TelemetryConfig controls OTLP trace export. Tracing is off while Endpoint
// is empty.
type TelemetryConfig struct {
	Endpoint    string `env:"OTEL_EXPORTER_ENDPOINT"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"timetalks"`
}

// TracingEnabled reports whether spans should be exported.
func (c *Config) TracingEnabled() bool {
	return c.Telemetry.Endpoint != ""
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.MaxRequestBody <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY must be > 0")
	}
	if c.TypingDelay < 0 {
		return fmt.Errorf("TYPING_DELAY cannot be negative")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}

	switch c.Answer.Backend {
	case BackendHTTP:
		if c.Answer.URL == "" {
			return fmt.Errorf("ANSWER_URL cannot be empty")
		}
	case BackendGemini:
		if c.Answer.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when ANSWER_BACKEND=gemini")
		}
	default:
		return fmt.Errorf("ANSWER_BACKEND must be %q or %q, got %q", BackendHTTP, BackendGemini, c.Answer.Backend)
	}
	if c.Answer.Timeout < 0 {
		return fmt.Errorf("ANSWER_TIMEOUT cannot be negative")
	}

	if c.ChatLog.Enabled {
		if c.ChatLog.Path == "" {
			return fmt.Errorf("CHAT_LOG_PATH cannot be empty")
		}
		if c.ChatLog.QueueSize <= 0 {
			return fmt.Errorf("CHAT_LOG_QUEUE_SIZE must be > 0")
		}
	}
	if c.TracingEnabled() && c.Telemetry.ServiceName == "" {
		return fmt.Errorf("OTEL_SERVICE_NAME cannot be empty when tracing is enabled")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// Level returns the configured log level. Validate guarantees it parses.
func (c *Config) Level() slog.Level {
	level, _ := ParseLevel(c.LogLevel)
	return level
}

// ParseLevel maps a LOG_LEVEL value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", s)
	}
}
