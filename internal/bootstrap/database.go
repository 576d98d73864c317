package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/redis/go-redis/v9"
	"github.com/target/reclaim/config"
	"github.com/target/reclaim/internal/core"
	"github.com/target/reclaim/internal/data"
	"github.com/target/reclaim/internal/data/sqlite"
	"github.com/target/reclaim/internal/migrate"
)

const connectTimeout = 5 * time.Second

// DatabaseConfig contains configuration for database connections.
type DatabaseConfig struct {
	DBConfig    config.DBConfig
	RedisConfig config.RedisConfig
	Logger      *slog.Logger
}

// ConnectDB opens and pings the Postgres pool backing the job queue and the default entity store.
func ConnectDB(cfg DatabaseConfig) (*sql.DB, error) {
	pg := cfg.DBConfig
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(pg.User, pg.Password),
		Host:   net.JoinHostPort(pg.Host, strconv.Itoa(pg.Port)),
		Path:   "/" + pg.Name,
	}
	q := u.Query()
	q.Set("sslmode", pg.SSLMode)
	u.RawQuery = q.Encode()

	db, err := sql.Open("pgx", u.String())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if pingErr := db.PingContext(ctx); pingErr != nil {
		if closeErr := db.Close(); closeErr != nil {
			pingErr = errors.Join(pingErr, fmt.Errorf("close database connection: %w", closeErr))
		}
		return nil, fmt.Errorf("ping database: %w", pingErr)
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("database connected", "host", pg.Host, "port", pg.Port, "database", pg.Name)
	}
	return db, nil
}

// ConnectRedis connects to a single node, a sentinel group or a cluster depending on cfg.
//
//nolint:ireturn // the concrete client depends on the deployment topology.
func ConnectRedis(cfg DatabaseConfig) (redis.UniversalClient, error) {
	opts, desc, err := redisOptions(cfg.RedisConfig)
	if err != nil {
		return nil, err
	}
	var client redis.UniversalClient
	if cfg.RedisConfig.UseCluster {
		client = redis.NewClusterClient(opts.Cluster())
	} else {
		client = redis.NewUniversalClient(opts)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if pingErr := client.Ping(ctx).Err(); pingErr != nil {
		if closeErr := client.Close(); closeErr != nil {
			pingErr = errors.Join(pingErr, fmt.Errorf("close redis client: %w", closeErr))
		}
		return nil, fmt.Errorf("ping redis: %w", pingErr)
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("redis connected", "addr", desc)
	}
	return client, nil
}

// redisOptions builds universal client options and a credential-free description.
func redisOptions(cfg config.RedisConfig) (*redis.UniversalOptions, string, error) {
	opts := &redis.UniversalOptions{
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	switch {
	case cfg.UseCluster:
		addrs := trimAll(cfg.ClusterNodes)
		if len(addrs) == 0 && strings.TrimSpace(cfg.URI) != "" {
			if err := applyRedisURL(opts, cfg.URI); err != nil {
				return nil, "", err
			}
			addrs = opts.Addrs
		}
		if len(addrs) == 0 {
			return nil, "", errors.New("redis cluster configuration requires at least one address")
		}
		opts.Addrs = addrs
		opts.DB = 0
		return opts, "cluster:" + strings.Join(addrs, ","), nil

	case cfg.UseSentinel:
		nodes := trimAll(cfg.SentinelNodes)
		if len(nodes) == 0 {
			return nil, "", errors.New("redis sentinel configuration requires at least one sentinel node")
		}
		opts.Addrs = nodes
		opts.MasterName = cfg.SentinelMasterName
		opts.SentinelPassword = cfg.SentinelPassword
		return opts, "sentinel:" + cfg.SentinelMasterName, nil

	default:
		uri := strings.TrimSpace(cfg.URI)
		if uri == "" {
			return nil, "", errors.New("redis direct configuration requires a URI")
		}
		if !isRedisURL(uri) {
			opts.Addrs = []string{uri}
			return opts, uri, nil
		}
		if err := applyRedisURL(opts, uri); err != nil {
			return nil, "", err
		}
		return opts, strings.Join(opts.Addrs, ","), nil
	}
}

// applyRedisURL copies address, credentials, database and TLS settings from a redis:// URL.
func applyRedisURL(opts *redis.UniversalOptions, uri string) error {
	uri = strings.TrimSpace(uri)
	if !isRedisURL(uri) {
		opts.Addrs = []string{uri}
		return nil
	}
	parsed, err := redis.ParseURL(uri)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	opts.Addrs = []string{parsed.Addr}
	opts.Username = parsed.Username
	if parsed.Password != "" {
		opts.Password = parsed.Password
	}
	if parsed.DB != 0 {
		opts.DB = parsed.DB
	}
	opts.TLSConfig = parsed.TLSConfig
	return nil
}

func trimAll(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func isRedisURL(value string) bool {
	return strings.HasPrefix(value, "redis://") || strings.HasPrefix(value, "rediss://")
}

// RunMigrations applies the embedded Postgres migrations.
func RunMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if err := migrate.Run(ctx, db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	if logger != nil {
		logger.InfoContext(ctx, "database migrations completed")
	}
	return nil
}

// EntityStore is an opened entity store plus its readiness probe.
type EntityStore struct {
	core.EntityStore
	ping  func(ctx context.Context) error
	close func() error
}

// PingContext reports whether the store's backing database answers.
func (s *EntityStore) PingContext(ctx context.Context) error {
	return s.ping(ctx)
}

// Close releases store resources. The shared Postgres pool is closed by its owner.
func (s *EntityStore) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// OpenEntityStore opens the entity store selected by cfg.Store.Kind. The Postgres store
// shares db; the SQLite store owns its own file.
func OpenEntityStore(ctx context.Context, cfg *config.AppConfig, db *sql.DB, logger *slog.Logger) (*EntityStore, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	switch cfg.Store.Kind {
	case config.StoreSQLite:
		store, err := sqlite.Open(ctx, cfg.Store.SQLitePath, sqlite.Options{})
		if err != nil {
			return nil, fmt.Errorf("open sqlite entity store: %w", err)
		}
		if logger != nil {
			logger.InfoContext(ctx, "entity store opened", "kind", cfg.Store.Kind, "path", cfg.Store.SQLitePath)
		}
		return &EntityStore{EntityStore: store, ping: store.Ping, close: store.Close}, nil

	case config.StorePostgres, "":
		if db == nil {
			return nil, errors.New("postgres entity store requires a database connection")
		}
		repo := data.NewEntityRepo(db, data.EntityRepoOptions{Logger: logger})
		return &EntityStore{EntityStore: repo, ping: db.PingContext}, nil

	default:
		return nil, fmt.Errorf("unknown entity store kind %q", cfg.Store.Kind)
	}
}
