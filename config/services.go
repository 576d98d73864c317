package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the entity lifecycle API.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeFinalizer runs the finalize job workers.
	ServiceModeFinalizer ServiceMode = "finalizer"
	// ServiceModeReaper runs scheduled erasure, orphan recovery and job cleanup.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeFinalizer,
		ServiceModeReaper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for part := range strings.SplitSeq(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeFinalizer, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, finalizer, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// FinalizerConfig contains finalize worker and retry configuration.
type FinalizerConfig struct {
	// Concurrency is the number of worker goroutines.
	Concurrency int `env:"FINALIZER_CONCURRENCY" envDefault:"4"`

	// JobLease is the duration to lease a finalize job.
	JobLease time.Duration `env:"FINALIZER_JOB_LEASE" envDefault:"60s"`

	// RetryBaseWait is the fixed delay before a retryable attempt runs again.
	RetryBaseWait time.Duration `env:"FINALIZER_RETRY_BASE_WAIT" envDefault:"10s"`

	// RetryJitter bounds the random delay added to RetryBaseWait.
	RetryJitter time.Duration `env:"FINALIZER_RETRY_JITTER" envDefault:"5s"`

	// RetryPriority is the priority of rescheduled jobs (0-100).
	RetryPriority int `env:"FINALIZER_RETRY_PRIORITY" envDefault:"80"`

	// JobPriority is the priority of the first attempt (0-100).
	JobPriority int `env:"FINALIZER_JOB_PRIORITY" envDefault:"50"`

	// MaxRetries is the transport retry budget for fatal failures.
	// Retryable outcomes are unlimited and do not consume it.
	MaxRetries int `env:"FINALIZER_MAX_RETRIES" envDefault:"3"`
}

// Sanitize applies guardrails to finalizer configuration values.
func (f *FinalizerConfig) Sanitize() {
	if f.Concurrency < 1 {
		f.Concurrency = 1
	}
	if f.JobLease < 5*time.Second {
		f.JobLease = 5 * time.Second
	}
	if f.RetryBaseWait < 0 {
		f.RetryBaseWait = 0
	}
	if f.RetryJitter < 0 {
		f.RetryJitter = 0
	}
	f.RetryPriority = clampPriority(f.RetryPriority)
	f.JobPriority = clampPriority(f.JobPriority)
	if f.MaxRetries < 0 {
		f.MaxRetries = 0
	}
}

func clampPriority(p int) int {
	return min(max(p, 0), 100)
}

// ReaperConfig contains reaper service configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"1m"`

	// OrphanGrace is how long a deleted entity may sit without any finalize job before the
	// reaper enqueues one.
	OrphanGrace time.Duration `env:"REAPER_ORPHAN_GRACE" envDefault:"5m"`

	// CompletedMaxAge is the maximum age for completed jobs before deletion.
	CompletedMaxAge time.Duration `env:"REAPER_COMPLETED_MAX_AGE" envDefault:"168h"` // 7 days

	// FailedMaxAge is the maximum age for failed jobs before deletion.
	FailedMaxAge time.Duration `env:"REAPER_FAILED_MAX_AGE" envDefault:"168h"` // 7 days

	// BatchSize is the maximum number of rows to process per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"500"`

	// LockTTL, when positive and Redis is configured, holds a per-tick lock so only one
	// instance runs each tick.
	LockTTL time.Duration `env:"REAPER_LOCK_TTL" envDefault:"0s"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	if r.Interval < 5*time.Second {
		r.Interval = 5 * time.Second
	}
	if r.OrphanGrace < r.Interval {
		r.OrphanGrace = r.Interval
	}
	if r.CompletedMaxAge < 1*time.Hour {
		r.CompletedMaxAge = 1 * time.Hour
	}
	if r.FailedMaxAge < 1*time.Hour {
		r.FailedMaxAge = 1 * time.Hour
	}
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
	if r.LockTTL < 0 {
		r.LockTTL = 0
	}
}

// StoreKind selects the entity store backend.
type StoreKind string

const (
	// StorePostgres keeps entities next to the job queue.
	StorePostgres StoreKind = "postgres"
	// StoreSQLite keeps entities in an embedded database file.
	StoreSQLite StoreKind = "sqlite"
)

// UnmarshalText implements encoding.TextUnmarshaler for StoreKind.
func (k *StoreKind) UnmarshalText(text []byte) error {
	v := StoreKind(strings.ToLower(strings.TrimSpace(string(text))))
	switch v {
	case StorePostgres, StoreSQLite:
		*k = v
		return nil
	default:
		return fmt.Errorf("invalid ENTITY_STORE: %q (valid options: postgres, sqlite)", v)
	}
}

// StoreConfig selects and locates the entity store.
type StoreConfig struct {
	Kind       StoreKind `env:"ENTITY_STORE" envDefault:"postgres"`
	SQLitePath string    `env:"SQLITE_PATH"  envDefault:"reclaim.db"`
}

// Sanitize normalises store configuration values.
func (s *StoreConfig) Sanitize() {
	s.SQLitePath = strings.TrimSpace(s.SQLitePath)
	if s.SQLitePath == "" {
		s.SQLitePath = "reclaim.db"
	}
}

// WebhookConfig controls outbound finalizer webhooks.
type WebhookConfig struct {
	Timeout time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"10s"`
	// AllowedDomains restricts webhook hosts by registrable domain. Empty allows any host.
	AllowedDomains []string `env:"WEBHOOK_ALLOWED_DOMAINS" envSeparator:","`
}

// Sanitize normalises webhook configuration values.
func (w *WebhookConfig) Sanitize() {
	if w.Timeout <= 0 {
		w.Timeout = 10 * time.Second
	}
	domains := w.AllowedDomains[:0]
	for _, d := range w.AllowedDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			domains = append(domains, d)
		}
	}
	w.AllowedDomains = domains
}
