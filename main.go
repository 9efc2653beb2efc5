package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	redisadapter "kbingest/internal/adapter/redis"
	"kbingest/internal/app"
	"kbingest/internal/config"
	"kbingest/internal/logger"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "kbingest",
		Short:         "Knowledge ingestion pipeline",
		Long:          `Crawls sitemaps, pages, files, snippets and FAQs into per-account vector indexes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.AddCommand(serveCommand(), migrateCommand())
	return root
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the stage workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log, cleanup := logger.New(cfg.LogFile, logger.ParseLevel(cfg.LogLevel))
			defer cleanup()
			slog.SetDefault(log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, log)
		},
	}
}

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			log, cleanup := logger.New(cfg.LogFile, logger.ParseLevel(cfg.LogLevel))
			defer cleanup()
			slog.SetDefault(log)

			db, err := app.OpenDB(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := app.Migrate(db, cfg.MigrationPath); err != nil {
				return err
			}
			slog.Info("migrations applied successfully", "path", cfg.MigrationPath)
			return nil
		},
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	defer deps.Close()

	embedder, closeEmbedder, err := app.NewEmbedder(ctx, cfg)
	if err != nil {
		return fmt.Errorf("embedding provider: %w", err)
	}
	defer closeEmbedder()

	sink := redisadapter.NewPublisher(deps.Redis, cfg.NotifyChannelPrefix)

	a, err := app.New(cfg, deps.DB, deps.VectorStore, sink, deps.NSQProducer, embedder, log)
	if err != nil {
		return fmt.Errorf("app init failed: %w", err)
	}
	return a.Run(ctx)
}
