package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/reclaim/internal/core"
	domainjob "github.com/target/reclaim/internal/domain/job"
	"github.com/target/reclaim/internal/domain/lifecycle"
	"github.com/target/reclaim/internal/domain/model"
	"github.com/target/reclaim/internal/service/failurenotifier"
)

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Repo         core.JobRepository // Required
	DefaultLease time.Duration      // Required unless LeasePolicy is set
	Logger       *slog.Logger
	// FailureNotifier receives a payload for every fatal finalize failure.
	FailureNotifier *failurenotifier.Service
	LeasePolicy     *domainjob.LeasePolicy
	// Notifier wakes idle workers. When nil one is built from NotifierOptions over Repo.
	Notifier        domainjob.Notifier
	NotifierOptions domainjob.NotifierOptions
	// MaxRetries bounds the transport's generic failure path. Zero means the model default,
	// negative means a single attempt.
	MaxRetries int
	Now        func() time.Time
}

// JobService is the finalize job transport. It enqueues finalize jobs, hands them to
// workers under a lease and settles them.
type JobService struct {
	repo            core.JobRepository
	leases          *domainjob.LeasePolicy
	notifier        domainjob.Notifier
	logger          *slog.Logger
	failureNotifier *failurenotifier.Service
	maxRetries      int
	now             func() time.Time
}

// NewJobService validates opts and builds the service.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}

	leases, err := resolveLeasePolicy(opts)
	if err != nil {
		return nil, err
	}

	notifier := opts.Notifier
	if notifier == nil {
		nopts := opts.NotifierOptions
		if nopts.Waiter == nil {
			nopts.Waiter = opts.Repo
		}
		if notifier, err = domainjob.NewNotifier(nopts); err != nil {
			return nil, fmt.Errorf("create job notifier: %w", err)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "job_service")

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	svc := &JobService{
		repo:            opts.Repo,
		leases:          leases,
		notifier:        notifier,
		logger:          logger,
		failureNotifier: opts.FailureNotifier,
		maxRetries:      retryBudget(opts.MaxRetries),
		now:             now,
	}
	logger.Debug("job service ready", "default_lease", leases.Default(), "max_retries", svc.maxRetries)
	return svc, nil
}

func resolveLeasePolicy(opts JobServiceOptions) (*domainjob.LeasePolicy, error) {
	if opts.LeasePolicy != nil {
		return opts.LeasePolicy, nil
	}
	if opts.DefaultLease <= 0 {
		return nil, errors.New("DefaultLease must be positive")
	}
	p, err := domainjob.NewLeasePolicy(opts.DefaultLease)
	if err != nil {
		return nil, fmt.Errorf("create lease policy: %w", err)
	}
	return p, nil
}

func retryBudget(n int) int {
	switch {
	case n < 0:
		return 0
	case n == 0:
		return model.DefaultMaxRetries
	default:
		return n
	}
}

// EnqueueFinalize schedules a finalize job carrying only the entity identity.
func (s *JobService) EnqueueFinalize(ctx context.Context, ref lifecycle.Ref, opts core.EnqueueOptions) error {
	priority := opts.Priority
	if priority <= 0 {
		priority = domainjob.DefaultJobPriority
	}
	req, err := model.NewFinalizeJobRequest(ref.Type, ref.ID, priority)
	if err != nil {
		return fmt.Errorf("build finalize job for %s: %w", ref, err)
	}
	req.MaxRetries = s.maxRetries
	if opts.Delay > 0 {
		at := s.now().UTC().Add(opts.Delay)
		req.ScheduledAt = &at
	}

	job, err := s.repo.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	s.logger.DebugContext(ctx, "finalize job enqueued",
		"job_id", job.ID,
		"entity", ref.String(),
		"priority", priority,
		"scheduled_at", job.ScheduledAt,
	)
	return nil
}

// ReserveNext leases the next runnable job of jobType. A nil job means none is runnable.
func (s *JobService) ReserveNext(ctx context.Context, jobType model.JobType, lease time.Duration) (*model.Job, error) {
	d := s.leases.Resolve(lease)
	if d.Clamped() {
		s.logger.DebugContext(ctx, "lease clamped to one second", "requested", d.Requested, "job_type", jobType)
	}

	job, err := s.repo.ReserveNext(ctx, jobType, d.Seconds)
	if err != nil {
		return nil, fmt.Errorf("reserve next job: %w", err)
	}
	if job != nil {
		s.logger.DebugContext(ctx, "job reserved", "job_id", job.ID, "job_type", jobType, "lease_seconds", d.Seconds)
	}
	return job, nil
}

// Subscribe registers interest in new jobs of jobType. The channel receives a value when
// work may be available; call the returned func to unsubscribe.
func (s *JobService) Subscribe(jobType model.JobType) (func(), <-chan struct{}) {
	return s.notifier.Subscribe(jobType)
}

// Heartbeat extends the lease held on a running job. False means the lease was lost.
func (s *JobService) Heartbeat(ctx context.Context, id string, extend time.Duration) (bool, error) {
	d := s.leases.Resolve(extend)
	ok, err := s.repo.Heartbeat(ctx, id, d.Seconds)
	if err != nil {
		return false, fmt.Errorf("heartbeat job %s: %w", id, err)
	}
	if !ok {
		s.logger.DebugContext(ctx, "heartbeat lost lease", "job_id", id)
	}
	return ok, nil
}

// Complete consumes a job after a successful finalize.
func (s *JobService) Complete(ctx context.Context, id string) (bool, error) {
	ok, err := s.repo.Complete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("complete job %s: %w", id, err)
	}
	if ok {
		s.logger.DebugContext(ctx, "job completed", "job_id", id)
	}
	return ok, nil
}

// Halt settles a job whose finalization was aborted. The entity keeps the job as history so
// the reaper does not re-enqueue it.
func (s *JobService) Halt(ctx context.Context, id, reason string) (bool, error) {
	ok, err := s.repo.Halt(ctx, id, reason)
	if err != nil {
		return false, fmt.Errorf("halt job %s: %w", id, err)
	}
	if ok {
		s.logger.DebugContext(ctx, "job halted", "job_id", id, "reason", reason)
	}
	return ok, nil
}

// Retry re-pends a running job after a retryable outcome. Retries here are unlimited and
// do not count against the failure budget.
func (s *JobService) Retry(ctx context.Context, id string, req model.RetryJobRequest) (bool, error) {
	if err := req.Validate(); err != nil {
		return false, fmt.Errorf("retry job %s: %w", id, err)
	}
	ok, err := s.repo.Retry(ctx, id, req)
	if err != nil {
		return false, fmt.Errorf("retry job %s: %w", id, err)
	}
	if ok {
		s.logger.DebugContext(ctx, "job rescheduled", "job_id", id, "delay", req.Delay, "priority", req.Priority)
	}
	return ok, nil
}

// StopAllListeners releases every notification subscription. Called on shutdown.
func (s *JobService) StopAllListeners() {
	s.logger.Info("stopping job listeners")
	s.notifier.StopAll()
}

var _ core.FinalizeEnqueuer = (*JobService)(nil)
