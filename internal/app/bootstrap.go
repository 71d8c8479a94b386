// Package app wires configuration into the catalog, answering backend and
// session controller shared by the server and the CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/timetalks/internal/answer"
	"github.com/ashureev/timetalks/internal/catalog"
	"github.com/ashureev/timetalks/internal/config"
	"github.com/ashureev/timetalks/internal/store"
)

// LoadCatalog returns the character catalog held in repo. When path is set
// the file replaces the stored catalog; otherwise an empty store is seeded
// with the built-in characters.
func LoadCatalog(ctx context.Context, repo store.CharacterRepository, path string, logger *slog.Logger) (*catalog.Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if path != "" {
		cat, err := catalog.LoadFile(path)
		if err != nil {
			return nil, err
		}
		if err := repo.ReplaceCharacters(ctx, cat.All()); err != nil {
			return nil, fmt.Errorf("store catalog from %s: %w", path, err)
		}
		logger.Info("Character catalog loaded from file", "path", path, "characters", cat.Len())
	} else {
		n, err := repo.CountCharacters(ctx)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			if err := repo.ReplaceCharacters(ctx, catalog.DefaultCharacters()); err != nil {
				return nil, fmt.Errorf("seed default catalog: %w", err)
			}
			logger.Info("Seeded built-in character catalog")
		}
	}

	characters, err := repo.ListCharacters(ctx)
	if err != nil {
		return nil, err
	}
	cat, err := catalog.New(characters)
	if err != nil {
		return nil, fmt.Errorf("stored catalog is invalid: %w", err)
	}
	return cat, nil
}

// NewAnswerer builds the answering backend selected by cfg.
func NewAnswerer(ctx context.Context, cfg config.AnswerConfig, cat *catalog.Catalog, logger *slog.Logger) (answer.Answerer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Backend {
	case config.BackendHTTP:
		c, err := answer.NewHTTPClient(answer.HTTPConfig{
			BaseURL: cfg.URL,
			Path:    cfg.Path,
			Timeout: cfg.Timeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("Answering service configured", "backend", cfg.Backend, "endpoint", c.Endpoint())
		return c, nil
	case config.BackendGemini:
		g, err := answer.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cat, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("Answering service configured", "backend", cfg.Backend, "model", cfg.GeminiModel)
		return g, nil
	default:
		return nil, fmt.Errorf("unknown answer backend %q", cfg.Backend)
	}
}

// TypingDelay converts a configured delay into session.Options form, where
// zero selects the default. A configured zero means no delay at all.
func TypingDelay(configured time.Duration) time.Duration {
	if configured == 0 {
		return -1
	}
	return configured
}
