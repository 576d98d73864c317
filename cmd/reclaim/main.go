package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/target/reclaim/config"
	"github.com/target/reclaim/internal/bootstrap"
)

func main() {
	ctx := context.Background()
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		slog.Default().ErrorContext(ctx, "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
	logger := bootstrap.InitLogger(&cfg)
	if err := run(ctx, logger, &cfg); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) error {
	enabled, err := bootstrap.EnabledServices(cfg)
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "starting reclaim service",
		"db_host", cfg.Postgres.Host,
		"db_name", cfg.Postgres.Name,
		"entity_store", cfg.Store.Kind,
		"catalog", cfg.CatalogPath,
		"enabled_services", enabled)

	if !cfg.Postgres.RunMigrationsOnStart {
		logger.InfoContext(ctx, "skipping database migrations on startup", "reason", "disabled via config")
	}

	infra, err := bootstrap.OpenInfrastructure(ctx, bootstrap.InfraOptions{
		Config:  cfg,
		Logger:  logger,
		Migrate: cfg.Postgres.RunMigrationsOnStart,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := infra.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close infrastructure failed", "error", cerr)
		}
	}()

	services, err := bootstrap.NewServices(&bootstrap.ServiceDeps{
		Config:      cfg,
		DB:          infra.DB,
		RedisClient: infra.Redis,
		Store:       infra.Store,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := services.Observability.Close(); cerr != nil {
			logger.WarnContext(ctx, "close metrics client failed", "error", cerr)
		}
	}()

	return bootstrap.Run(ctx, bootstrap.RunOptions{
		Config:   cfg,
		Services: services,
		DB:       infra.DB,
		Logger:   logger,
	})
}
