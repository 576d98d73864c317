package bootstrap

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/target/reclaim/config"
	"github.com/target/reclaim/internal/catalog"
	"github.com/target/reclaim/internal/core"
	"github.com/target/reclaim/internal/data"
	domainjob "github.com/target/reclaim/internal/domain/job"
	"github.com/target/reclaim/internal/domain/lifecycle"
	"github.com/target/reclaim/internal/observability/metrics"
	"github.com/target/reclaim/internal/observability/notify"
	"github.com/target/reclaim/internal/observability/notify/pagerduty"
	"github.com/target/reclaim/internal/observability/notify/slack"
	"github.com/target/reclaim/internal/observability/prom"
	"github.com/target/reclaim/internal/observability/statsd"
	"github.com/target/reclaim/internal/service"
	"github.com/target/reclaim/internal/service/failurenotifier"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Store         *EntityStore
	Registry      *lifecycle.Registry
	Jobs          *service.JobService
	Lifecycle     *service.LifecycleService
	Entities      *service.EntityService
	Finalize      *service.FinalizeJobHandler
	Cache         core.CacheRepository // nil without Redis
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	// MetricsSink fans out to StatsD and Prometheus. Nil when both are off.
	MetricsSink statsd.Sink
	// MetricsHandler serves /metrics. Nil unless Prometheus is enabled.
	MetricsHandler  http.Handler
	metrics         *statsd.Client
	FailureNotifier *failurenotifier.Service
}

// Close releases the metrics connection.
func (o ObservabilityContainer) Close() error {
	return o.metrics.Close()
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient // Optional
	Store       *EntityStore
	Logger      *slog.Logger
}

// buildObservability configures metrics and notification sinks. A sink that fails to
// build is logged and skipped.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	if logger == nil {
		logger = slog.Default()
	}
	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

	var (
		out   ObservabilityContainer
		sinks []statsd.Sink
	)
	if cfg.Metrics.Enabled {
		client, err := statsd.NewClient(statsd.Config{
			Enabled:    true,
			Address:    cfg.Metrics.Address,
			Prefix:     cfg.Metrics.Prefix,
			GlobalTags: cfg.Metrics.Tags,
			Logger:     logger,
		})
		if err != nil {
			logger.Error("statsd client disabled", "address", cfg.Metrics.Address, "error", err)
		} else {
			out.metrics = client
			sinks = append(sinks, client)
		}
	}
	if cfg.Metrics.Prometheus {
		registry, err := prom.New(cfg.Metrics.Namespace(), metrics.Families())
		if err != nil {
			logger.Error("prometheus metrics disabled", "error", err)
		} else {
			out.MetricsHandler = registry.Handler()
			sinks = append(sinks, registry)
		}
	}
	out.MetricsSink = statsd.Fanout(sinks...)

	out.FailureNotifier = failurenotifier.NewService(failurenotifier.Options{
		Logger:      logger,
		DedupWindow: cfg.Notify.DedupWindow,
		Sinks:       buildSinks(logger, cfg.Notify),
	})
	return out
}

func buildSinks(logger *slog.Logger, cfg config.NotifyConfig) []failurenotifier.SinkRegistration {
	var sinks []failurenotifier.SinkRegistration
	add := func(name string, sink notify.Sink, err error) {
		if err != nil {
			logger.Error("notification sink disabled", "sink", name, "error", err)
			return
		}
		sinks = append(sinks, failurenotifier.SinkRegistration{Name: name, Sink: sink})
	}

	for _, name := range cfg.Sinks() {
		switch name {
		case "slack":
			client, err := slack.NewClient(slack.Config{
				WebhookURL:      cfg.Slack.WebhookURL,
				Channel:         cfg.Slack.Channel,
				Username:        cfg.Slack.Username,
				EntityURLPrefix: cfg.Slack.EntityURLPrefix,
				Timeout:         cfg.Timeout,
				RetryLimit:      cfg.Retries,
			})
			add(name, client, err)
		case "pagerduty":
			client, err := pagerduty.NewClient(pagerduty.Config{
				RoutingKey: cfg.PagerDuty.RoutingKey,
				Source:     cfg.PagerDuty.Source,
				Component:  cfg.PagerDuty.Component,
				Timeout:    cfg.Timeout,
				RetryLimit: cfg.Retries,
			})
			add(name, client, err)
		}
	}
	return sinks
}

// buildCounterCache returns the Redis cache repository and the dependents count cache, or
// nils when Redis or the counter cache is disabled.
func buildCounterCache(client redis.UniversalClient, cfg *config.AppConfig) (core.CacheRepository, *core.DependentCountCache) {
	if client == nil {
		return nil, nil
	}
	repo := data.NewRedisCacheRepo(client, data.RedisCacheOptions{Prefix: cfg.CounterCache.Prefix})
	if !cfg.CounterCache.Enabled {
		return repo, nil
	}
	return repo, core.NewDependentCountCache(core.DependentCountCacheOptions{
		Cache: repo,
		TTL:   cfg.CounterCache.TTL,
	})
}

// buildRegistry loads the catalog and compiles it against store.
func buildRegistry(cfg *config.AppConfig, store core.EntityStore, counts *core.DependentCountCache, logger *slog.Logger) (*lifecycle.Registry, error) {
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	webhooks, err := service.NewWebhookFinalizers(service.WebhookFinalizerOptions{
		Store:     store,
		Timeout:   cfg.Webhook.Timeout,
		Allowlist: service.NewHostAllowlist(cfg.Webhook.AllowedDomains),
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("webhook finalizers: %w", err)
	}

	reg, err := cat.Registry(catalog.BuildOptions{
		Store:    store,
		Webhooks: webhooks,
		Counts:   counts,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("compile catalog %s: %w", cfg.CatalogPath, err)
	}
	logger.Info("catalog loaded", "path", cfg.CatalogPath, "types", cat.TypeNames())
	return reg, nil
}

// NewServices wires repositories, the type registry and the lifecycle services.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service deps with config are required")
	}
	if deps.DB == nil {
		return ServiceContainer{}, errors.New("database is required for the finalize job queue")
	}
	if deps.Store == nil {
		return ServiceContainer{}, errors.New("entity store is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	observability := buildObservability(logger, cfg.Observability)
	cache, counts := buildCounterCache(deps.RedisClient, cfg)

	registry, err := buildRegistry(cfg, deps.Store, counts, logger)
	if err != nil {
		return ServiceContainer{}, err
	}

	jobs, err := service.NewJobService(service.JobServiceOptions{
		Repo:            data.NewJobRepo(deps.DB, data.JobRepoOptions{Logger: logger}),
		DefaultLease:    cfg.Finalizer.JobLease,
		Logger:          logger,
		FailureNotifier: observability.FailureNotifier,
		MaxRetries:      cfg.Finalizer.MaxRetries,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("job service: %w", err)
	}

	lifecycleSvc, err := service.NewLifecycleService(service.LifecycleServiceOptions{
		Store:    deps.Store,
		Registry: registry,
		Enqueuer: jobs,
		Config: service.LifecycleConfig{
			Logger:      logger,
			Counts:      counts,
			JobPriority: cfg.Finalizer.JobPriority,
		},
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("lifecycle service: %w", err)
	}

	entities, err := service.NewEntityService(service.EntityServiceOptions{
		Store:    deps.Store,
		Registry: registry,
		Counts:   counts,
		Logger:   logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("entity service: %w", err)
	}

	handler, err := service.NewFinalizeJobHandler(service.FinalizeJobHandlerOptions{
		Lifecycle: lifecycleSvc,
		Jobs:      jobs,
		RetryPolicy: domainjob.RetryPolicy{
			BaseWait:  cfg.Finalizer.RetryBaseWait,
			MaxJitter: cfg.Finalizer.RetryJitter,
			Priority:  cfg.Finalizer.RetryPriority,
		},
		Metrics: observability.MetricsSink,
		Logger:  logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("finalize handler: %w", err)
	}

	return ServiceContainer{
		Store:         deps.Store,
		Registry:      registry,
		Jobs:          jobs,
		Lifecycle:     lifecycleSvc,
		Entities:      entities,
		Finalize:      handler,
		Cache:         cache,
		Observability: observability,
	}, nil
}
