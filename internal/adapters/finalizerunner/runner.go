// Package finalizerunner runs the worker pool that drives finalize jobs.
package finalizerunner

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	domainjob "github.com/target/reclaim/internal/domain/job"
	"github.com/target/reclaim/internal/domain/model"
	"github.com/target/reclaim/internal/observability/metrics"
	"github.com/target/reclaim/internal/observability/statsd"
	"github.com/target/reclaim/internal/service"
)

// JobSource reserves finalize jobs and keeps their leases alive. JobService implements it.
type JobSource interface {
	ReserveNext(ctx context.Context, jobType model.JobType, lease time.Duration) (*model.Job, error)
	Subscribe(jobType model.JobType) (func(), <-chan struct{})
	Heartbeat(ctx context.Context, id string, extend time.Duration) (bool, error)
}

// Handler runs one finalize attempt and settles the job. FinalizeJobHandler implements it.
type Handler interface {
	Handle(ctx context.Context, job *model.Job) (service.FinalizeReport, error)
}

// RunnerOptions configures the finalize runner.
type RunnerOptions struct {
	Jobs    JobSource // Required
	Handler Handler   // Required
	Logger  *slog.Logger
	Metrics statsd.Sink

	Lease       time.Duration // per-job lease; defaults to 60s
	Concurrency int           // worker goroutines; defaults to 1
	// PollInterval bounds how long an idle worker waits without a notification; defaults to 5s.
	PollInterval time.Duration
}

// Runner reserves finalize jobs and hands them to the finalize handler.
type Runner struct {
	jobs    JobSource
	handler Handler
	logger  *slog.Logger
	metrics statsd.Sink
	lease   time.Duration
	beat    time.Duration
	workers int
	poll    time.Duration
}

// NewRunner constructs a finalize runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Jobs == nil {
		return nil, errors.New("job source is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("finalize handler is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lease := opts.Lease
	if lease <= 0 {
		lease = 60 * time.Second
	}
	leases, err := domainjob.NewLeasePolicy(lease)
	if err != nil {
		return nil, err
	}
	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &Runner{
		jobs:    opts.Jobs,
		handler: opts.Handler,
		logger:  logger.With("component", "finalize_runner"),
		metrics: opts.Metrics,
		lease:   lease,
		beat:    leases.HeartbeatInterval(lease),
		workers: workers,
		poll:    poll,
	}, nil
}

// Run starts the workers and blocks until ctx is cancelled or a worker fails to reserve jobs.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting finalize runner", "workers", r.workers, "lease", r.lease)

	group, gctx := errgroup.WithContext(ctx)
	for range r.workers {
		group.Go(func() error { return r.runWorkerLoop(gctx) })
	}
	return group.Wait()
}

func (r *Runner) runWorkerLoop(ctx context.Context) error {
	unsub, notify := r.jobs.Subscribe(model.JobTypeFinalize)
	defer unsub()

	for ctx.Err() == nil {
		job, err := r.jobs.ReserveNext(ctx, model.JobTypeFinalize, r.lease)
		switch {
		case err == nil:
			if job != nil {
				r.processJob(ctx, job)
			}
		case errors.Is(err, model.ErrNoJobsAvailable):
			var ok bool
			if notify, ok = r.waitForWork(ctx, notify); !ok {
				return nil
			}
		case ctx.Err() != nil:
			return nil
		default:
			r.logger.ErrorContext(ctx, "failed to reserve next finalize job", "error", err)
			return err
		}
	}
	return nil
}

// waitForWork blocks until a notification, the poll interval or cancellation. A closed
// notification channel is dropped so the worker falls back to polling.
func (r *Runner) waitForWork(ctx context.Context, notify <-chan struct{}) (<-chan struct{}, bool) {
	timer := time.NewTimer(r.poll)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return notify, false
	case _, open := <-notify:
		if !open {
			return nil, true
		}
		return notify, true
	case <-timer.C:
		return notify, true
	}
}

func (r *Runner) processJob(ctx context.Context, job *model.Job) {
	release := r.holdLease(ctx, job.ID)
	start := time.Now()
	report, err := r.handler.Handle(ctx, job)
	release()

	m := metrics.JobMetric{
		JobType:    string(job.Type),
		Transition: transitionFor(report.Outcome),
		Result:     metrics.ResultSuccess,
		Duration:   time.Since(start),
	}
	if err != nil {
		// Unsettled: the lease lapses and the job is reserved again.
		r.logger.ErrorContext(ctx, "finalize job not settled", "job_id", job.ID, "error", err)
		m.Result, m.Err = metrics.ResultError, err
	} else if report.Outcome == service.FinalizeFatal {
		m.Result, m.Err = metrics.ResultError, report.Result.Error()
	}
	metrics.EmitJobLifecycle(r.metrics, m)
}

func transitionFor(outcome service.FinalizeOutcome) string {
	switch outcome {
	case service.FinalizeRetry:
		return "retried"
	case service.FinalizeFatal:
		return "failed"
	default:
		return "completed"
	}
}

// holdLease heartbeats jobID every r.beat until the returned release is called. release
// waits for an in-flight heartbeat to finish.
func (r *Runner) holdLease(ctx context.Context, jobID string) (release func()) {
	hbCtx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(r.beat)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				r.extendLease(hbCtx, jobID)
			}
		}
	}()
	return func() {
		cancel()
		<-stopped
	}
}

func (r *Runner) extendLease(ctx context.Context, jobID string) {
	ok, err := r.jobs.Heartbeat(ctx, jobID, r.lease)
	switch {
	case ctx.Err() != nil:
	case err != nil:
		r.logger.ErrorContext(ctx, "lease heartbeat failed", "job_id", jobID, "error", err)
	case !ok:
		r.logger.WarnContext(ctx, "lease no longer held", "job_id", jobID)
	}
}
