package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/target/reclaim/internal/domain/lifecycle"
	"github.com/target/reclaim/internal/domain/model"
)

const (
	defaultJobListLimit = 50
	maxJobListLimit     = 1000
)

// buildJobListQuery renders the List statement. Filters are ANDed; results are newest
// first with id as the tiebreak so pages are stable.
func buildJobListQuery(opts *model.JobListOptions) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(column string, v any) {
		args = append(args, v)
		conds = append(conds, column+" = $"+strconv.Itoa(len(args)))
	}
	if opts.Type != nil {
		add("type", string(*opts.Type))
	}
	if opts.Status != nil {
		add("status", string(*opts.Status))
	}
	if opts.EntityType != "" {
		add("entity_type", opts.EntityType)
	}
	if opts.EntityID != "" {
		add("entity_id", opts.EntityID)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultJobListLimit
	}
	args = append(args, min(limit, maxJobListLimit), max(opts.Offset, 0))

	q := "SELECT " + jobColumns + " FROM jobs"
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	return q, args
}

// List returns one page of jobs matching opts. A nil opts lists everything.
func (r *JobRepo) List(ctx context.Context, opts *model.JobListOptions) ([]*model.Job, error) {
	if opts == nil {
		opts = &model.JobListOptions{}
	}
	q, args := buildJobListQuery(opts)
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Stats counts the jobs of one type per status.
func (r *JobRepo) Stats(ctx context.Context, jobType model.JobType) (*model.JobStats, error) {
	var s model.JobStats
	row := r.DB.QueryRowContext(ctx, `SELECT
  count(*) FILTER (WHERE status = 'pending'),
  count(*) FILTER (WHERE status = 'running'),
  count(*) FILTER (WHERE status = 'completed'),
  count(*) FILTER (WHERE status = 'failed')
FROM jobs WHERE type = $1`, jobType)
	if err := row.Scan(&s.Pending, &s.Running, &s.Completed, &s.Failed); err != nil {
		return nil, fmt.Errorf("job stats for %s: %w", jobType, err)
	}
	return &s, nil
}

// ExistsActiveForEntity reports whether ref has a pending or running job.
func (r *JobRepo) ExistsActiveForEntity(ctx context.Context, ref lifecycle.Ref) (bool, error) {
	var found bool
	err := r.DB.QueryRowContext(ctx, `SELECT EXISTS (
  SELECT 1 FROM jobs WHERE entity_type = $1 AND entity_id = $2 AND status IN ('pending', 'running')
)`, ref.Type, ref.ID).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("active job lookup for %s: %w", ref, err)
	}
	return found, nil
}

// ExistsForEntity reports whether ref has any job on record, settled ones included.
func (r *JobRepo) ExistsForEntity(ctx context.Context, ref lifecycle.Ref) (bool, error) {
	var found bool
	err := r.DB.QueryRowContext(ctx, `SELECT EXISTS (
  SELECT 1 FROM jobs WHERE entity_type = $1 AND entity_id = $2
)`, ref.Type, ref.ID).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("job history lookup for %s: %w", ref, err)
	}
	return found, nil
}

// GetByID loads one job. A missing id is ErrJobNotFound.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	job, err := scanJob(r.DB.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = $1", id))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrJobNotFound
	case err != nil:
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// Delete removes a job unless it is running or still leased. The refusal is reported as
// ErrJobNotDeletable or ErrJobReserved; an unknown id is ErrJobNotFound.
func (r *JobRepo) Delete(ctx context.Context, id string) error {
	now := r.now()
	res, err := r.DB.ExecContext(ctx, `DELETE FROM jobs
WHERE id = $1 AND status <> 'running' AND (lease_expires_at IS NULL OR lease_expires_at <= $2)`, id, now)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return err
	}

	// Nothing deleted: explain why.
	job, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case job.Status == model.JobStatusRunning:
		return ErrJobNotDeletable
	case job.LeaseExpiresAt != nil && job.LeaseExpiresAt.After(now):
		return ErrJobReserved
	}
	return fmt.Errorf("delete job %s: row changed concurrently", id)
}
