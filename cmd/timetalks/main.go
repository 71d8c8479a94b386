// TimeTalks CLI - talk to historical figures from the terminal.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/timetalks/internal/answer"
	"github.com/ashureev/timetalks/internal/app"
	"github.com/ashureev/timetalks/internal/catalog"
	"github.com/ashureev/timetalks/internal/config"
	"github.com/ashureev/timetalks/internal/session"
	"github.com/ashureev/timetalks/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version     = "dev"
	catalogPath string
)

var rootCmd = &cobra.Command{
	Use:   "timetalks",
	Short: "TimeTalks - conversations with historical figures",
	Long: `TimeTalks lets you pick a historical figure and ask them questions.

  timetalks characters                         List the available figures
  timetalks ask --character 1 "What is time?"  Ask a single question
  timetalks chat --character 2                 Start an interactive conversation`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&catalogPath, "catalog", "", "YAML character catalog (overrides CATALOG_PATH)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// runtime holds what every command needs once configuration is loaded.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	repo     *store.SQLiteStore
	catalog  *catalog.Catalog
	answerer answer.Answerer
}

func openRuntime(ctx context.Context, withAnswerer bool) (*runtime, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if catalogPath != "" {
		cfg.CatalogPath = catalogPath
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, logger: logger, repo: repo}
	rt.catalog, err = app.LoadCatalog(ctx, repo, cfg.CatalogPath, logger)
	if err != nil {
		rt.close()
		return nil, err
	}

	if withAnswerer {
		rt.answerer, err = app.NewAnswerer(ctx, cfg.Answer, rt.catalog, logger)
		if err != nil {
			rt.close()
			return nil, err
		}
	}
	return rt, nil
}

func (rt *runtime) newSession(typingDelay time.Duration) (*session.Controller, error) {
	return session.New(session.Options{
		Catalog:     rt.catalog,
		Answerer:    rt.answerer,
		TypingDelay: typingDelay,
		Logger:      rt.logger,
	})
}

func (rt *runtime) close() {
	if err := rt.repo.Close(); err != nil {
		rt.logger.Warn("Failed to close repository", "error", err)
	}
}
