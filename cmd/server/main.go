// TimeTalks - conversations with historical figures
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/timetalks/internal/api"
	"github.com/ashureev/timetalks/internal/app"
	"github.com/ashureev/timetalks/internal/chat"
	"github.com/ashureev/timetalks/internal/chatlog"
	"github.com/ashureev/timetalks/internal/config"
	"github.com/ashureev/timetalks/internal/live"
	"github.com/ashureev/timetalks/internal/middleware"
	"github.com/ashureev/timetalks/internal/session"
	"github.com/ashureev/timetalks/internal/store"
	"github.com/ashureev/timetalks/internal/telemetry"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Level(),
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "answer_backend", cfg.Answer.Backend)

	shutdownTracing, err := telemetry.Setup(context.Background(), cfg.Telemetry.ServiceName, cfg.Telemetry.Endpoint)
	if err != nil {
		slog.Error("Failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Error("Failed to flush traces", "error", err)
		}
	}()
	if cfg.TracingEnabled() {
		slog.Info("Tracing enabled", "endpoint", cfg.Telemetry.Endpoint, "service", cfg.Telemetry.ServiceName)
	}

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	cat, err := app.LoadCatalog(context.Background(), repo, cfg.CatalogPath, logger)
	if err != nil {
		slog.Error("Failed to load character catalog", "error", err)
		os.Exit(1)
	}
	slog.Info("Character catalog ready", "characters", cat.Len())

	answerer, err := app.NewAnswerer(context.Background(), cfg.Answer, cat, logger)
	if err != nil {
		slog.Error("Failed to initialize answering service", "error", err)
		os.Exit(1)
	}

	var recorder session.Recorder
	if cfg.ChatLog.Enabled {
		chatLog, err := chatlog.New(chatlog.Config{
			Path:      cfg.ChatLog.Path,
			QueueSize: cfg.ChatLog.QueueSize,
		}, logger)
		if err != nil {
			slog.Error("Failed to initialize chat log", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := chatLog.Close(); closeErr != nil {
				slog.Error("Failed to close chat log", "error", closeErr)
				return
			}
			slog.Info("Chat log closed", "dropped_events", chatLog.Dropped())
		}()
		recorder = chatLog
	}

	ctl, err := session.New(session.Options{
		Catalog:     cat,
		Answerer:    answerer,
		TypingDelay: app.TypingDelay(cfg.TypingDelay),
		Recorder:    recorder,
		Logger:      logger,
	})
	if err != nil {
		slog.Error("Failed to create session", "error", err)
		os.Exit(1)
	}
	defer ctl.Close()
	slog.Info("Session ready", "session_id", ctl.ID(), "typing_delay", cfg.TypingDelay)

	// Initialize handlers.
	hub := live.NewHub(logger)
	healthHandler := api.NewHealthHandler(repo)
	catalogHandler := api.NewCatalogHandler(cat)
	chatHandler := chat.NewHandler(ctl, chat.Options{
		MaxRequestBodySize: cfg.MaxRequestBody,
		Logger:             logger,
	})
	wsHandler := live.NewWebSocketHandler(ctl, hub, cfg.AllowedOrigins, cfg.IsDevelopment(), logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	healthHandler.RegisterHealth(r)
	catalogHandler.RegisterRoutes(r)
	chatHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/session", wsHandler.ServeHTTP)

	// Note: SSE connections require long timeouts (no WriteTimeout)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(r, cfg.Telemetry.ServiceName),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,                 // 0 = no timeout for SSE support
		IdleTimeout:  120 * time.Second, // 2 minutes for idle connections
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	// Ending the session closes every SSE stream and WebSocket subscription.
	ctl.Close()
	hub.CloseAll("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
