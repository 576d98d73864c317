package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/target/reclaim/internal/domain/model"
	"github.com/target/reclaim/internal/observability/notify"
)

// JobFailureDetails is the context a worker attaches to a fatal failure.
type JobFailureDetails struct {
	Finalizer  string
	ErrorClass string
	Metadata   map[string]string
	Severity   string
	OccurredAt time.Time
}

// FailWithDetails hands a fatal failure to the transport's bounded failure path and
// reports it to the failure notifier. The job is re-pended while its failure budget lasts.
func (s *JobService) FailWithDetails(ctx context.Context, id, errMsg string, details JobFailureDetails) (bool, error) {
	if strings.TrimSpace(errMsg) == "" {
		return false, errors.New("error message required")
	}

	// Loaded before Fail so the payload reflects the attempt that failed.
	var job *model.Job
	if s.failureNotifier != nil {
		var err error
		if job, err = s.repo.GetByID(ctx, id); err != nil {
			s.logger.WarnContext(ctx, "load job for failure notification", "job_id", id, "error", err)
		}
	}

	failed, err := s.repo.Fail(ctx, id, errMsg)
	if err != nil {
		return false, fmt.Errorf("fail job %s: %w", id, err)
	}
	if !failed {
		return false, nil
	}
	s.logger.DebugContext(ctx, "job failed", "job_id", id, "error", errMsg, "finalizer", details.Finalizer)

	if s.failureNotifier != nil {
		s.failureNotifier.NotifyJobFailure(ctx, failurePayload(id, job, errMsg, details, s.now))
	}
	return true, nil
}

func failurePayload(
	id string,
	job *model.Job,
	errMsg string,
	details JobFailureDetails,
	now func() time.Time,
) notify.JobFailurePayload {
	p := notify.JobFailurePayload{
		JobID:      id,
		Finalizer:  details.Finalizer,
		Error:      errMsg,
		ErrorClass: details.ErrorClass,
		Severity:   details.Severity,
		OccurredAt: details.OccurredAt,
	}
	if p.Severity == "" {
		p.Severity = notify.SeverityCritical
	}
	if p.OccurredAt.IsZero() {
		p.OccurredAt = now().UTC()
	}

	meta := cleanMetadata(details.Metadata)
	if job != nil {
		p.JobType = string(job.Type)
		p.EntityType = job.EntityType
		p.EntityID = job.EntityID
		p.Attempt = job.RetryCount + 1
		maps.Copy(meta, settledMetadata(job))
	}
	if p.ErrorClass != "" {
		meta["error_class"] = p.ErrorClass
	}
	if len(meta) > 0 {
		p.Metadata = meta
	}
	return p
}

// settledMetadata predicts where the failure leaves the job: failed once the retry budget
// is spent, pending otherwise.
func settledMetadata(job *model.Job) map[string]string {
	retries := job.RetryCount + 1
	status := model.JobStatusPending
	if job.MaxRetries == 0 || retries >= job.MaxRetries {
		status = model.JobStatusFailed
	}
	return map[string]string{
		"retry_count": strconv.Itoa(retries),
		"max_retries": strconv.Itoa(job.MaxRetries),
		"priority":    strconv.Itoa(job.Priority),
		"status":      string(status),
	}
}

func cleanMetadata(src map[string]string) map[string]string {
	out := make(map[string]string, len(src)+5)
	for k, v := range src {
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k != "" && v != "" {
			out[k] = v
		}
	}
	return out
}
