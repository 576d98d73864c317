// Package config holds the environment-driven configuration of the reclaim service.
package config

import (
	"log/slog"
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - database.go: Database, Redis and counter cache configuration
//   - http.go: HTTP server configuration
//   - services.go: Service mode, finalizer, reaper, store and webhook configuration
//   - observability.go: Metrics and failure notifications
type AppConfig struct {
	// IsDev controls development mode behavior (text logs, debug level).
	// Set DEV=true or NODE_ENV=development for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// CatalogPath points at the YAML entity type catalog.
	CatalogPath string `env:"CATALOG_PATH" envDefault:"catalog.yaml"`

	// Database configuration
	Postgres     DBConfig    `envPrefix:"DB_"`
	Redis        RedisConfig `envPrefix:"REDIS_"`
	CounterCache CounterCacheConfig

	// Entity store selection
	Store StoreConfig

	// HTTP server configuration
	HTTP HTTPConfig

	// Service mode configuration
	Services string `env:"SERVICES" envDefault:"http,finalizer,reaper"`

	// Finalizer worker configuration
	Finalizer FinalizerConfig

	// Reaper configuration
	Reaper ReaperConfig

	// Webhook finalizer configuration
	Webhook WebhookConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.HTTP.Sanitize()
	c.CounterCache.Sanitize()
	c.Store.Sanitize()
	c.Finalizer.Sanitize()
	c.Reaper.Sanitize()
	c.Webhook.Sanitize()
	c.Observability.Sanitize()
	c.CatalogPath = strings.TrimSpace(c.CatalogPath)

	// Check NODE_ENV for dev mode
	c.detectDevMode()
}

// detectDevMode checks both DEV and NODE_ENV environment variables.
// This is called by Sanitize() to ensure IsDev is set correctly.
// NODE_ENV is checked as a fallback (common in frontend tooling).
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		nodeEnv := strings.ToLower(os.Getenv("NODE_ENV"))
		c.IsDev = nodeEnv == "development" || nodeEnv == "dev"
	}
}

// SlogLevel maps LogLevel to a slog level. Unknown values fall back to info,
// or debug in development mode.
func (c *AppConfig) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info":
		return slog.LevelInfo
	}
	if c.IsDev {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsHTTPServerEnabled returns true if the HTTP server service is enabled.
func (c *AppConfig) IsHTTPServerEnabled() bool {
	return c.serviceEnabled(ServiceModeHTTP)
}

// IsFinalizerEnabled returns true if the finalize workers are enabled.
func (c *AppConfig) IsFinalizerEnabled() bool {
	return c.serviceEnabled(ServiceModeFinalizer)
}

// IsReaperEnabled returns true if the reaper service is enabled.
func (c *AppConfig) IsReaperEnabled() bool {
	return c.serviceEnabled(ServiceModeReaper)
}

func (c *AppConfig) serviceEnabled(mode ServiceMode) bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[mode]
}
