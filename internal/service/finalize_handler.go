package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	domainjob "github.com/target/reclaim/internal/domain/job"
	"github.com/target/reclaim/internal/domain/lifecycle"
	"github.com/target/reclaim/internal/domain/model"
	obserrors "github.com/target/reclaim/internal/observability/errors"
	"github.com/target/reclaim/internal/observability/metrics"
	"github.com/target/reclaim/internal/observability/statsd"
)

// FinalizeOutcome is how one finalize job attempt ended.
type FinalizeOutcome string

const (
	// FinalizeDiscarded means the entity is gone or was never erased; the job is consumed.
	FinalizeDiscarded FinalizeOutcome = "discarded"
	// FinalizeDestroyed means every finalizer continued and the record was removed.
	FinalizeDestroyed FinalizeOutcome = "destroyed"
	// FinalizeAborted means a finalizer stopped the pipeline without error. The job is halted
	// and the entity stays deleted until finalization is restarted.
	FinalizeAborted FinalizeOutcome = "aborted"
	// FinalizeRetry means the job was rescheduled.
	FinalizeRetry FinalizeOutcome = "retry"
	// FinalizeFatal means the failure was surfaced to the transport and error reporting.
	FinalizeFatal FinalizeOutcome = "fatal"
)

// JobSettler settles a reserved finalize job. JobService implements it.
type JobSettler interface {
	Complete(ctx context.Context, id string) (bool, error)
	Halt(ctx context.Context, id, reason string) (bool, error)
	Retry(ctx context.Context, id string, req model.RetryJobRequest) (bool, error)
	FailWithDetails(ctx context.Context, id, errMsg string, details JobFailureDetails) (bool, error)
}

// FinalizeReport describes one attempt.
type FinalizeReport struct {
	Ref     lifecycle.Ref
	Outcome FinalizeOutcome
	Result  lifecycle.Result
	// RetryIn is set for FinalizeRetry.
	RetryIn time.Duration
}

// FinalizeJobHandlerOptions groups dependencies for FinalizeJobHandler.
type FinalizeJobHandlerOptions struct {
	Lifecycle   *LifecycleService     // Required: runs finalizeAndDestroy
	Jobs        JobSettler            // Required: settles the job
	RetryPolicy domainjob.RetryPolicy // Optional: zero value uses DefaultRetryPolicy
	Metrics     statsd.Sink           // Optional: finalize outcome metrics
	Logger      *slog.Logger          // Optional: structured logger
}

// FinalizeJobHandler is the retry job driver. It reloads the entity named by a finalize job,
// runs finalizeAndDestroy and settles the job according to the result.
type FinalizeJobHandler struct {
	lifecycle *LifecycleService
	jobs      JobSettler
	policy    domainjob.RetryPolicy
	metrics   statsd.Sink
	logger    *slog.Logger
}

// NewFinalizeJobHandler constructs a FinalizeJobHandler.
func NewFinalizeJobHandler(opts FinalizeJobHandlerOptions) (*FinalizeJobHandler, error) {
	if opts.Lifecycle == nil {
		return nil, errors.New("LifecycleService is required")
	}
	if opts.Jobs == nil {
		return nil, errors.New("JobSettler is required")
	}
	policy := opts.RetryPolicy
	if policy.BaseWait == 0 && policy.MaxJitter == 0 && policy.Priority == 0 {
		jitter := policy.Jitter
		policy = domainjob.DefaultRetryPolicy()
		policy.Jitter = jitter
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &FinalizeJobHandler{
		lifecycle: opts.Lifecycle,
		jobs:      opts.Jobs,
		policy:    policy,
		metrics:   opts.Metrics,
		logger:    logger.With("component", "finalize_handler"),
	}, nil
}

// Evaluate runs one finalize attempt for ref without touching the job queue.
func (h *FinalizeJobHandler) Evaluate(ctx context.Context, ref lifecycle.Ref) FinalizeReport {
	report := FinalizeReport{Ref: ref}

	e, err := h.lifecycle.Get(ctx, ref)
	switch {
	case errors.Is(err, lifecycle.ErrEntityNotFound):
		report.Outcome = FinalizeDiscarded
		report.Result = lifecycle.Continue()
		return report
	case err != nil:
		report.Outcome = FinalizeRetry
		report.Result = lifecycle.Retry(fmt.Sprintf("load %s: %v", ref, err))
		return report
	case !e.Deleted():
		report.Outcome = FinalizeDiscarded
		report.Result = lifecycle.Continue()
		return report
	}

	res := h.lifecycle.FinalizeAndDestroy(ctx, e)
	report.Result = res
	switch res.Outcome {
	case lifecycle.OutcomeAbort:
		report.Outcome = FinalizeAborted
	case lifecycle.OutcomeRetryable:
		report.Outcome = FinalizeRetry
	case lifecycle.OutcomeFatal:
		report.Outcome = FinalizeFatal
	default:
		report.Outcome = FinalizeDestroyed
	}
	return report
}

// Handle processes a reserved finalize job end to end. The returned error reports a failure
// to settle the job; finalization failures are expressed through the report.
func (h *FinalizeJobHandler) Handle(ctx context.Context, job *model.Job) (FinalizeReport, error) {
	start := time.Now()
	attempt := job.RetryCount + 1

	payload, err := model.ParseFinalizePayload(job.Payload)
	if err != nil {
		report := FinalizeReport{Outcome: FinalizeFatal, Result: lifecycle.Fatal(err)}
		return report, h.settle(ctx, job, report, start)
	}

	report := h.Evaluate(ctx, lifecycle.Ref{Type: payload.EntityType, ID: payload.EntityID})
	log := h.logger.With(
		"entity_type", payload.EntityType,
		"entity_id", payload.EntityID,
		"job_id", job.ID,
		"attempt", attempt,
	)

	switch report.Outcome {
	case FinalizeDiscarded:
		log.DebugContext(ctx, "finalize job discarded, entity missing or not deleted")
	case FinalizeDestroyed:
		log.InfoContext(ctx, "entity finalized and destroyed")
	case FinalizeAborted:
		log.InfoContext(ctx, "finalization aborted", "finalizer", report.Result.Finalizer, "reason", report.Result.Reason)
	case FinalizeRetry:
		report.RetryIn = h.policy.Next(job.RetryCount).Delay
		log.WarnContext(ctx, "finalization will be retried",
			"finalizer", report.Result.Finalizer,
			"reason", report.Result.Reason,
			"retry_in", report.RetryIn,
		)
	case FinalizeFatal:
		log.ErrorContext(ctx, "finalization failed",
			"finalizer", report.Result.Finalizer,
			"error", report.Result.Reason,
		)
	}

	return report, h.settle(ctx, job, report, start)
}

func (h *FinalizeJobHandler) settle(ctx context.Context, job *model.Job, report FinalizeReport, start time.Time) error {
	var err error
	switch report.Outcome {
	case FinalizeRetry:
		_, err = h.jobs.Retry(ctx, job.ID, model.RetryJobRequest{
			Delay:    report.RetryIn,
			Priority: h.policy.Priority,
			Reason:   report.Result.Reason,
		})
	case FinalizeAborted:
		_, err = h.jobs.Halt(ctx, job.ID, report.Result.Reason)
	case FinalizeFatal:
		ferr := report.Result.Error()
		_, err = h.jobs.FailWithDetails(ctx, job.ID, report.Result.Reason, JobFailureDetails{
			Finalizer:  report.Result.Finalizer,
			ErrorClass: obserrors.Classify(ferr),
			Metadata:   map[string]string{"component": "finalize_runner"},
		})
	default:
		_, err = h.jobs.Complete(ctx, job.ID)
	}

	metrics.EmitFinalizeOutcome(h.metrics, metrics.FinalizeMetric{
		EntityType: job.EntityType,
		Outcome:    string(report.Outcome),
		Attempt:    job.RetryCount + 1,
		Duration:   time.Since(start),
		Err:        report.Result.Error(),
	})

	if err != nil {
		return fmt.Errorf("settle finalize job %s (%s): %w", job.ID, report.Outcome, err)
	}
	return nil
}
