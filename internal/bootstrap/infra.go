package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/target/reclaim/config"
)

// Infrastructure holds the shared connections of a process.
type Infrastructure struct {
	DB    *sql.DB
	Redis redis.UniversalClient // nil when REDIS_ENABLED is false
	Store *EntityStore
}

// InfraOptions controls OpenInfrastructure.
type InfraOptions struct {
	Config *config.AppConfig
	Logger *slog.Logger
	// Migrate applies Postgres migrations before the store is opened.
	Migrate bool
}

// OpenInfrastructure connects Postgres, optionally Redis, and opens the entity store. On
// failure every connection opened so far is closed.
func OpenInfrastructure(ctx context.Context, opts InfraOptions) (*Infrastructure, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config
	infra := &Infrastructure{}

	db, err := ConnectDB(DatabaseConfig{DBConfig: cfg.Postgres, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	infra.DB = db

	if opts.Migrate {
		if err := RunMigrations(ctx, db, logger); err != nil {
			return nil, errors.Join(err, infra.Close())
		}
	}

	if cfg.Redis.Enabled {
		client, err := ConnectRedis(DatabaseConfig{RedisConfig: cfg.Redis, Logger: logger})
		if err != nil {
			return nil, errors.Join(fmt.Errorf("connect redis: %w", err), infra.Close())
		}
		infra.Redis = client
	}

	store, err := OpenEntityStore(ctx, cfg, db, logger)
	if err != nil {
		return nil, errors.Join(err, infra.Close())
	}
	infra.Store = store
	return infra, nil
}

// Close closes the store, Redis and Postgres in that order.
func (i *Infrastructure) Close() error {
	if i == nil {
		return nil
	}
	var closeErr error
	if i.Store != nil {
		if err := i.Store.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close entity store: %w", err))
		}
	}
	if i.Redis != nil {
		if err := i.Redis.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close redis: %w", err))
		}
	}
	if i.DB != nil {
		if err := i.DB.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close db: %w", err))
		}
	}
	return closeErr
}
