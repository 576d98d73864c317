package core

import (
	"context"
	"time"

	"github.com/target/reclaim/internal/domain/lifecycle"
	"github.com/target/reclaim/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// Service implementations depend on these interfaces, not on the data layer.

// JobRepository defines the interface for finalize job queue operations.
type JobRepository interface {
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	ReserveNext(ctx context.Context, jobType model.JobType, leaseSeconds int) (*model.Job, error)
	WaitForNotification(ctx context.Context, jobType model.JobType) error
	Heartbeat(ctx context.Context, jobID string, leaseSeconds int) (bool, error)
	Complete(ctx context.Context, id string) (bool, error)
	// Halt completes a running job whose entity will not be finalized further.
	Halt(ctx context.Context, id, reason string) (bool, error)
	// Fail is the transport's generic failure path; it honours max_retries.
	Fail(ctx context.Context, id, errMsg string) (bool, error)
	// Retry re-pends a running job with a delay and priority, without consuming max_retries.
	Retry(ctx context.Context, id string, req model.RetryJobRequest) (bool, error)
	Stats(ctx context.Context, jobType model.JobType) (*model.JobStats, error)
	List(ctx context.Context, opts *model.JobListOptions) ([]*model.Job, error)
	ExistsActiveForEntity(ctx context.Context, ref lifecycle.Ref) (bool, error)
	// ExistsForEntity reports whether any job, in any status, exists for ref.
	ExistsForEntity(ctx context.Context, ref lifecycle.Ref) (bool, error)
	Delete(ctx context.Context, id string) error
}

// EntityStore persists managed entities. Implementations must make MarkDeleted conditional
// on the stored state so concurrent erases transition at most once.
type EntityStore interface {
	Create(ctx context.Context, e *lifecycle.Entity) error
	// Get returns lifecycle.ErrEntityNotFound when the record does not exist.
	Get(ctx context.Context, ref lifecycle.Ref) (*lifecycle.Entity, error)
	Exists(ctx context.Context, ref lifecycle.Ref) (bool, error)
	// MarkDeleted sets state=deleted, state_at=at and clears delete_at when the entity is active.
	// It reports whether this call performed the transition.
	MarkDeleted(ctx context.Context, ref lifecycle.Ref, at time.Time) (bool, error)
	UpdateAttributes(ctx context.Context, ref lifecycle.Ref, attrs map[string]any) error
	ScheduleDeletion(ctx context.Context, ref lifecycle.Ref, at time.Time) error
	// Delete physically removes the record and reports whether a row was removed.
	Delete(ctx context.Context, ref lifecycle.Ref) (bool, error)
	ListDueForErase(ctx context.Context, now time.Time, limit int) ([]lifecycle.Ref, error)
	ListPendingFinalization(ctx context.Context, olderThan time.Time, limit int) ([]lifecycle.Ref, error)
	// Association returns the repository for children linked to parentType via association.
	Association(parentType, association string) lifecycle.DependentRepository
}

// EnqueueOptions controls when and how urgently a finalize job runs.
type EnqueueOptions struct {
	Delay    time.Duration
	Priority int
}

// FinalizeEnqueuer schedules a finalize job for an entity. Jobs carry only the entity identity.
type FinalizeEnqueuer interface {
	EnqueueFinalize(ctx context.Context, ref lifecycle.Ref, opts EnqueueOptions) error
}

// DeleteOldJobsParams groups parameters for DeleteOldJobs.
type DeleteOldJobsParams struct {
	Status    model.JobStatus
	MaxAge    time.Duration
	BatchSize int
}

// ReaperRepository defines the interface for job cleanup operations. Pending finalize jobs
// are never failed for age; a delayed retry is expected to sit in pending.
type ReaperRepository interface {
	// DeleteOldJobs deletes jobs with the given status older than maxAge, up to BatchSize per call.
	DeleteOldJobs(ctx context.Context, params DeleteOldJobsParams) (int64, error)
}
