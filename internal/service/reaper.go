package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"strconv"
	"time"

	"github.com/target/reclaim/config"
	"github.com/target/reclaim/internal/core"
	domainjob "github.com/target/reclaim/internal/domain/job"
	"github.com/target/reclaim/internal/domain/lifecycle"
	"github.com/target/reclaim/internal/domain/model"
	"github.com/target/reclaim/internal/observability/metrics"
	"github.com/target/reclaim/internal/observability/statsd"
)

const reaperLockKey = "reaper:lock"

// FinalizeScheduler enqueues finalize jobs and reports whether an entity has any finalize
// job on record. JobService implements it.
type FinalizeScheduler interface {
	core.FinalizeEnqueuer
	HasFinalizeHistory(ctx context.Context, ref lifecycle.Ref) (bool, error)
}

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repo   core.ReaperRepository // Required
	Store  core.EntityStore      // Required
	Eraser Eraser                // Required
	Jobs   FinalizeScheduler     // Required
	Config config.ReaperConfig
	// JobPriority is the priority of re-enqueued finalize jobs.
	JobPriority int
	// Lock, when set with a positive Config.LockTTL, lets one instance run each tick.
	Lock    core.CacheRepository
	Logger  *slog.Logger
	Metrics statsd.Sink
	Now     func() time.Time
}

// ReaperService is the periodic housekeeping loop. A tick erases entities whose delete_at
// has passed, re-enqueues finalize jobs for deleted entities that lost theirs and prunes
// settled jobs. Every step is idempotent.
type ReaperService struct {
	repo        core.ReaperRepository
	store       core.EntityStore
	eraser      Eraser
	jobs        FinalizeScheduler
	cfg         config.ReaperConfig
	jobPriority int
	lock        core.CacheRepository
	lockOwner   []byte
	logger      *slog.Logger
	metrics     statsd.Sink
	now         func() time.Time
}

// NewReaperService validates opts and builds the service.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	switch {
	case opts.Repo == nil:
		return nil, errors.New("ReaperRepository is required")
	case opts.Store == nil:
		return nil, errors.New("EntityStore is required")
	case opts.Eraser == nil:
		return nil, errors.New("Eraser is required")
	case opts.Jobs == nil:
		return nil, errors.New("FinalizeScheduler is required")
	case opts.Config.Interval <= 0:
		return nil, errors.New("reaper interval must be positive")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	priority := opts.JobPriority
	if priority <= 0 {
		priority = domainjob.DefaultJobPriority
	}
	host, _ := os.Hostname()

	return &ReaperService{
		repo:        opts.Repo,
		store:       opts.Store,
		eraser:      opts.Eraser,
		jobs:        opts.Jobs,
		cfg:         opts.Config,
		jobPriority: priority,
		lock:        opts.Lock,
		lockOwner:   []byte(host + ":" + strconv.Itoa(os.Getpid())),
		logger:      logger.With("component", "reaper"),
		metrics:     opts.Metrics,
		now:         now,
	}, nil
}

// Run ticks immediately after a short random delay, then every Config.Interval, until ctx
// ends. Cancellation returns nil; a deadline returns ctx.Err().
func (s *ReaperService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "reaper started",
		"interval", s.cfg.Interval,
		"orphan_grace", s.cfg.OrphanGrace,
		"batch_size", s.cfg.BatchSize,
	)

	// Up to a tenth of the interval, so instances started together spread out.
	if spread := int64(s.cfg.Interval / 10); spread > 0 {
		select {
		case <-time.After(time.Duration(rand.Int64N(spread))):
		case <-ctx.Done():
		}
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if ctx.Err() == nil {
			s.logTickError(ctx, s.Tick(ctx))
		}
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "reaper stopped", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// reaperStep is one idempotent housekeeping pass.
type reaperStep struct {
	operation string
	label     string
	run       func(context.Context) (int64, error)
}

func (s *ReaperService) steps() []reaperStep {
	return []reaperStep{
		{"erase_due", "erase due entities", s.eraseDueEntities},
		{"requeue_orphans", "requeue orphaned entities", s.requeueOrphans},
		{"delete_completed", "delete old completed jobs", s.deleteOldJobsWith(model.JobStatusCompleted, s.cfg.CompletedMaxAge)},
		{"delete_failed", "delete old failed jobs", s.deleteOldJobsWith(model.JobStatusFailed, s.cfg.FailedMaxAge)},
	}
}

// Tick runs every step once. A failing step does not stop the others; their errors are
// joined. When a lock is configured and another instance holds it, Tick does nothing.
func (s *ReaperService) Tick(ctx context.Context) error {
	if !s.acquireTick(ctx) {
		return nil
	}

	start := time.Now()
	var (
		results  []metrics.ReaperStep
		errs     []error
		canceled = true
	)
	for _, step := range s.steps() {
		n, err := step.run(ctx)
		res := metrics.ReaperStep{Operation: step.operation, Count: n}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step.label, err))
			if isContextCancellation(err) {
				// Shutdown is not a step failure.
				err = nil
			} else {
				canceled = false
			}
			res.Err = err
		}
		results = append(results, res)
	}
	metrics.EmitReaperTick(s.metrics, results, time.Since(start), s.now())

	if len(errs) == 0 {
		return nil
	}
	if canceled {
		return context.Canceled
	}
	return fmt.Errorf("reaper tick failed: %w", errors.Join(errs...))
}

func (s *ReaperService) acquireTick(ctx context.Context) bool {
	if s.lock == nil || s.cfg.LockTTL <= 0 {
		return true
	}
	ok, err := s.lock.SetIfNotExists(ctx, reaperLockKey, s.lockOwner, s.cfg.LockTTL)
	if err != nil {
		s.logger.WarnContext(ctx, "reaper lock unavailable, running unlocked", "error", err)
		return true
	}
	if !ok {
		s.logger.DebugContext(ctx, "reaper tick held by another instance")
	}
	return ok
}

func (s *ReaperService) logTickError(ctx context.Context, err error) {
	switch {
	case err == nil:
	case isContextCancellation(err):
		s.logger.DebugContext(ctx, "reaper tick interrupted", "error", err)
	default:
		s.logger.ErrorContext(ctx, "reaper tick failed", "error", err)
	}
}

func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
