package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/target/reclaim/internal/domain/model"
)

// Settlement statements only touch running jobs; a zero row count means the job was
// already settled or its lease was swept, and the caller gets false.

const heartbeatSQL = `UPDATE jobs SET lease_expires_at = $2, updated_at = $3
WHERE id = $1 AND status = 'running'`

const completeSQL = `UPDATE jobs
SET status = 'completed', completed_at = $2, updated_at = $2, lease_expires_at = NULL, last_error = NULL
WHERE id = $1 AND status = 'running'`

// haltSQL completes a job whose finalization stopped without a destroy. The halted flag
// keeps the reaper from re-enqueueing the entity.
const haltSQL = `UPDATE jobs
SET status = 'completed', halted = true, completed_at = $2, updated_at = $2,
    lease_expires_at = NULL, last_error = $3
WHERE id = $1 AND status = 'running'`

// The attempt that spends the last retry moves the job to failed and halts it; earlier
// attempts re-pend it at $4.
const failSQL = `UPDATE jobs
SET retry_count = retry_count + 1,
    last_error = $2,
    status = CASE WHEN retry_count + 1 >= max_retries THEN 'failed' ELSE 'pending' END,
    halted = retry_count + 1 >= max_retries,
    completed_at = CASE WHEN retry_count + 1 >= max_retries THEN $3::timestamptz END,
    scheduled_at = CASE WHEN retry_count + 1 >= max_retries THEN scheduled_at ELSE $4::timestamptz END,
    lease_expires_at = NULL,
    updated_at = $3
WHERE id = $1 AND status = 'running'`

const retrySQL = `UPDATE jobs
SET status = 'pending', retry_count = retry_count + 1, priority = $2, scheduled_at = $3,
    last_error = $4, lease_expires_at = NULL, updated_at = $5
WHERE id = $1 AND status = 'running'`

// settle runs one settlement statement and reports whether it matched a row.
func (r *JobRepo) settle(ctx context.Context, op, query string, args ...any) (bool, error) {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s job: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s job: rows affected: %w", op, err)
	}
	return n > 0, nil
}

// Heartbeat pushes a running job's lease leaseSeconds into the future.
func (r *JobRepo) Heartbeat(ctx context.Context, jobID string, leaseSeconds int) (bool, error) {
	if leaseSeconds <= 0 {
		return false, errors.New("leaseSeconds must be positive")
	}
	now := r.now()
	return r.settle(ctx, "heartbeat", heartbeatSQL, jobID, now.Add(time.Duration(leaseSeconds)*time.Second), now)
}

// Complete marks a running job completed and clears its last error.
func (r *JobRepo) Complete(ctx context.Context, id string) (bool, error) {
	return r.settle(ctx, "complete", completeSQL, id, r.now())
}

// Halt completes a running job whose finalization was abandoned and records reason.
func (r *JobRepo) Halt(ctx context.Context, id, reason string) (bool, error) {
	var msg *string
	if reason != "" {
		msg = &reason
	}
	return r.settle(ctx, "halt", haltSQL, id, r.now(), msg)
}

// Fail records errMsg against a running job. It is re-pended after the retry delay until
// max_retries attempts have failed, then it is failed for good.
func (r *JobRepo) Fail(ctx context.Context, id, errMsg string) (bool, error) {
	now := r.now()
	return r.settle(ctx, "fail", failSQL, id, errMsg, now, now.Add(r.retryDelay))
}

// Retry re-pends a running job after req.Delay at req.Priority. retry_count still grows so
// operators can see the churn, but Retry never fails a job.
func (r *JobRepo) Retry(ctx context.Context, id string, req model.RetryJobRequest) (bool, error) {
	if err := req.Validate(); err != nil {
		return false, err
	}
	var reason *string
	if req.Reason != "" {
		reason = &req.Reason
	}
	now := r.now()
	return r.settle(ctx, "retry", retrySQL, id, req.Priority, now.Add(req.Delay), reason, now)
}
