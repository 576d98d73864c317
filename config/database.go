package config

import "time"

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"                    envDefault:"localhost"`
	Port     int    `env:"PORT"                    envDefault:"5432"`
	User     string `env:"USER"                    envDefault:"reclaim"`
	Password string `env:"PASSWORD"                envDefault:"reclaim"`
	Name     string `env:"NAME"                    envDefault:"reclaim"`
	SSLMode  string `env:"SSL_MODE"                envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig contains Redis configuration.
type RedisConfig struct {
	// Enabled turns on the Redis-backed dependents counter cache and reaper lock.
	Enabled            bool     `env:"ENABLED"              envDefault:"false"`
	URI                string   `env:"URI"                  envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	DB                 int      `env:"DB"                   envDefault:"0"`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:""`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
	ClusterNodes       []string `env:"CLUSTER_NODES"        envDefault:""`
	UseCluster         bool     `env:"USE_CLUSTER"          envDefault:"false"`
}

// CounterCacheConfig controls the dependents counter cache.
type CounterCacheConfig struct {
	Enabled bool          `env:"COUNTER_CACHE_ENABLED" envDefault:"true"`
	TTL     time.Duration `env:"COUNTER_CACHE_TTL"     envDefault:"30s"`
	Prefix  string        `env:"COUNTER_CACHE_PREFIX"  envDefault:"reclaim:"`
}

// Sanitize applies guardrails to counter cache configuration values.
func (c *CounterCacheConfig) Sanitize() {
	if c.TTL < time.Second {
		c.TTL = time.Second
	}
}
