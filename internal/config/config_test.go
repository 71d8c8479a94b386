package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := &Config{
		Port:           "8080",
		DBPath:         "./data/timetalks.db",
		LogLevel:       "info",
		AllowedOrigins: []string{"*"},
		MaxRequestBody: 1 << 20,
		TypingDelay:    time.Second,
		Answer: AnswerConfig{
			Backend:     BackendHTTP,
			URL:         "http://localhost:8000",
			Path:        "/pdfs/chat/",
			GeminiModel: "gemini-2.5-flash",
		},
		ChatLog: ChatLogConfig{
			Path:      "./data/logs/cycles.ndjson",
			QueueSize: 256,
		},
		Telemetry: TelemetryConfig{ServiceName: "timetalks"},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
	if !cfg.IsDevelopment() {
		t.Fatal("expected development mode without FRONTEND_URL")
	}
	if cfg.TracingEnabled() {
		t.Fatal("expected tracing off without OTEL_EXPORTER_ENDPOINT")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("FRONTEND_URL", "https://timetalks.example.com")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")
	t.Setenv("TYPING_DELAY", "250ms")
	t.Setenv("ANSWER_TIMEOUT", "30s")
	t.Setenv("CHAT_LOG_ENABLED", "true")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("OTEL_EXPORTER_ENDPOINT", "http://collector:4318/v1/traces")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if diff := cmp.Diff([]string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins); diff != "" {
		t.Errorf("AllowedOrigins mismatch (-want +got):\n%s", diff)
	}
	if cfg.TypingDelay != 250*time.Millisecond {
		t.Errorf("TypingDelay = %v", cfg.TypingDelay)
	}
	if cfg.Answer.Timeout != 30*time.Second {
		t.Errorf("Answer.Timeout = %v", cfg.Answer.Timeout)
	}
	if !cfg.ChatLog.Enabled {
		t.Error("expected chat log enabled")
	}
	if cfg.Level() != slog.LevelDebug {
		t.Errorf("Level = %v", cfg.Level())
	}
	if cfg.IsDevelopment() {
		t.Error("expected production mode with a public FRONTEND_URL")
	}
	if !cfg.TracingEnabled() || cfg.Telemetry.Endpoint != "http://collector:4318/v1/traces" {
		t.Errorf("Telemetry = %+v", cfg.Telemetry)
	}
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("TYPING_DELAY", "soon")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "parse env") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Port:           "8080",
			DBPath:         "db",
			LogLevel:       "info",
			MaxRequestBody: 1024,
			TypingDelay:    time.Second,
			Answer:         AnswerConfig{Backend: BackendHTTP, URL: "http://localhost:8000"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "empty port", mutate: func(c *Config) { c.Port = "" }, wantErr: "PORT"},
		{name: "empty db path", mutate: func(c *Config) { c.DBPath = "" }, wantErr: "DB_PATH"},
		{name: "zero body limit", mutate: func(c *Config) { c.MaxRequestBody = 0 }, wantErr: "MAX_REQUEST_BODY"},
		{name: "negative delay", mutate: func(c *Config) { c.TypingDelay = -time.Second }, wantErr: "TYPING_DELAY"},
		{name: "bad level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: "LOG_LEVEL"},
		{name: "unknown backend", mutate: func(c *Config) { c.Answer.Backend = "carrier-pigeon" }, wantErr: "ANSWER_BACKEND"},
		{name: "empty answer url", mutate: func(c *Config) { c.Answer.URL = "" }, wantErr: "ANSWER_URL"},
		{name: "gemini without key", mutate: func(c *Config) { c.Answer.Backend = BackendGemini }, wantErr: "GEMINI_API_KEY"},
		{name: "gemini with key", mutate: func(c *Config) {
			c.Answer.Backend = BackendGemini
			c.Answer.GeminiAPIKey = "key"
		}},
		{name: "chat log without path", mutate: func(c *Config) {
			c.ChatLog = ChatLogConfig{Enabled: true, QueueSize: 1}
		}, wantErr: "CHAT_LOG_PATH"},
		{name: "chat log disabled ignores path", mutate: func(c *Config) { c.ChatLog = ChatLogConfig{} }},
		{name: "tracing without service name", mutate: func(c *Config) {
			c.Telemetry = TelemetryConfig{Endpoint: "http://collector:4318"}
		}, wantErr: "OTEL_SERVICE_NAME"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}
