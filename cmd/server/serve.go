package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"

	"github.com/helicone/requestquery/internal/api"
	"github.com/helicone/requestquery/internal/blob"
	"github.com/helicone/requestquery/internal/config"
	"github.com/helicone/requestquery/internal/engine"
	"github.com/helicone/requestquery/internal/hydrate"
	"github.com/helicone/requestquery/internal/logger"
	"github.com/helicone/requestquery/internal/storage"
	"github.com/helicone/requestquery/internal/storage/clickhouse"
	"github.com/helicone/requestquery/internal/storage/postgres"
	"github.com/helicone/requestquery/internal/storage/sqlite"
	"github.com/helicone/requestquery/pkg/types"
)

func newServeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP query API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.Init(cfg.Log)

	stores, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		for d, s := range stores {
			if err := s.Close(); err != nil {
				log.Warn("failed to close store", "dialect", d, "error", err)
			}
		}
	}()

	signer, err := blob.NewClient(cfg.Blob)
	if err != nil {
		return fmt.Errorf("failed to initialize blob client: %w", err)
	}

	executor := engine.NewExecutor(stores, log)
	eng := engine.New(executor, hydrate.New(signer, log, cfg.Hydrate), cfg.Engine)

	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${method} ${path} (${latency})\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, " + api.HeaderOrganizationID + ", " + api.HeaderRequestID,
	}))

	api.SetupRoutes(app, eng, log)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("shutting down server")
		if err := app.Shutdown(); err != nil {
			log.Error("error during shutdown", "error", err)
		}
	}()

	log.Info("starting request query server", "port", cfg.Server.Port, "dialects", executor.Dialects(), "default_dialect", cfg.Engine.DefaultDialect)
	if err := app.Listen(cfg.Server.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// openStores connects every configured store, closing the opened ones on failure.
func openStores(ctx context.Context, cfg *config.Config, log *slog.Logger) (map[types.Dialect]storage.Store, error) {
	stores := make(map[types.Dialect]storage.Store)
	closeAll := func() {
		for _, s := range stores {
			_ = s.Close()
		}
	}

	for _, d := range cfg.Dialects() {
		var (
			s   storage.Store
			err error
		)
		switch d {
		case types.DialectRowStore:
			s, err = postgres.New(ctx, cfg.Postgres)
		case types.DialectAnalytical:
			s, err = clickhouse.New(ctx, cfg.ClickHouse)
		case types.DialectEmbedded:
			s, err = sqlite.New(cfg.SQLite.Path)
		}
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("failed to open %s store: %w", d, err)
		}
		stores[d] = s
		log.Info("store ready", "dialect", d)
	}
	return stores, nil
}
