package data

import (
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/target/reclaim/internal/core"
)

// JobRepoOptions tunes a JobRepo. The zero value is usable.
type JobRepoOptions struct {
	// RetryDelay postpones a job after Fail re-pends it. Defaults to 30s.
	RetryDelay   time.Duration
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo is the finalize job queue on Postgres. Reservation uses FOR UPDATE SKIP LOCKED,
// new jobs are announced with NOTIFY and lapsed leases are swept back to pending.
type JobRepo struct {
	DB         *sql.DB
	retryDelay time.Duration
	clock      TimeProvider
	logger     *slog.Logger
}

var (
	_ core.JobRepository    = (*JobRepo)(nil)
	_ core.ReaperRepository = (*JobRepo)(nil)
)

// NewJobRepo builds a JobRepo over db.
func NewJobRepo(db *sql.DB, opts JobRepoOptions) *JobRepo {
	r := &JobRepo{
		DB:         db,
		retryDelay: opts.RetryDelay,
		clock:      opts.TimeProvider,
		logger:     opts.Logger,
	}
	if r.retryDelay <= 0 {
		r.retryDelay = 30 * time.Second
	}
	if r.clock == nil {
		r.clock = RealTimeProvider{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "job_repo")
	return r
}

func (r *JobRepo) now() time.Time { return r.clock.Now().UTC() }

// jobColumns is the select list scanJob expects, in order.
var jobColumns = strings.Join([]string{
	"id", "type", "status", "priority", "payload", "metadata",
	"entity_type", "entity_id",
	"scheduled_at", "started_at", "completed_at",
	"retry_count", "max_retries", "last_error", "lease_expires_at",
	"created_at", "updated_at",
}, ", ")
