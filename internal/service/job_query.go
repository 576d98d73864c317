package service

import (
	"context"
	"fmt"

	"github.com/target/reclaim/internal/domain/lifecycle"
	"github.com/target/reclaim/internal/domain/model"
	apperrors "github.com/target/reclaim/internal/errors"
)

const (
	defaultJobPageSize = 50
	maxJobPageSize     = 1000
)

// Stats counts jobs of jobType by status.
func (s *JobService) Stats(ctx context.Context, jobType model.JobType) (*model.JobStats, error) {
	stats, err := s.repo.Stats(ctx, jobType)
	if err != nil {
		return nil, fmt.Errorf("job stats for %s: %w", jobType, err)
	}
	return stats, nil
}

// Get returns a single job.
func (s *JobService) Get(ctx context.Context, id string) (*model.Job, error) {
	if id == "" {
		return nil, apperrors.ValidationField("id", "job id is required")
	}
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// List returns jobs matching opts, newest first. Limit defaults to 50 and is capped at 1000.
func (s *JobService) List(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error) {
	if opts.Status != nil && !opts.Status.Valid() {
		return nil, apperrors.ValidationField("status", fmt.Sprintf("unknown job status %q", *opts.Status))
	}
	if opts.EntityID != "" && opts.EntityType == "" {
		return nil, apperrors.ValidationField("entity_type", "entity_type is required with entity_id")
	}
	switch {
	case opts.Limit <= 0:
		opts.Limit = defaultJobPageSize
	case opts.Limit > maxJobPageSize:
		opts.Limit = maxJobPageSize
	}
	opts.Offset = max(opts.Offset, 0)

	jobs, err := s.repo.List(ctx, &opts)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// HasActiveFinalize reports whether a pending or running finalize job exists for ref.
func (s *JobService) HasActiveFinalize(ctx context.Context, ref lifecycle.Ref) (bool, error) {
	ok, err := s.repo.ExistsActiveForEntity(ctx, ref)
	if err != nil {
		return false, fmt.Errorf("check active job for %s: %w", ref, err)
	}
	return ok, nil
}

// HasFinalizeHistory reports whether any finalize job, settled or not, exists for ref.
func (s *JobService) HasFinalizeHistory(ctx context.Context, ref lifecycle.Ref) (bool, error) {
	ok, err := s.repo.ExistsForEntity(ctx, ref)
	if err != nil {
		return false, fmt.Errorf("check job history for %s: %w", ref, err)
	}
	return ok, nil
}

// Delete removes a job that is not running. Deleting a pending finalize job abandons the
// finalization until it is restarted.
func (s *JobService) Delete(ctx context.Context, id string) error {
	if id == "" {
		return apperrors.ValidationField("id", "job id is required")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	s.logger.InfoContext(ctx, "job deleted", "job_id", id)
	return nil
}
