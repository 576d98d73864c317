package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/target/reclaim/internal/data/pgxutil"
	"github.com/target/reclaim/internal/domain/model"
)

// Lease sweeps take one advisory lock per job type so concurrent reservers do not all
// rewrite the same rows.
const lockSpaceLeaseSweep int32 = 1001

func leaseSweepLock(jobType model.JobType) pgxutil.LockKey {
	h := fnv.New32a()
	_, _ = h.Write([]byte(jobType))
	return pgxutil.LockKey{Space: lockSpaceLeaseSweep, ID: int32(h.Sum32() >> 1)} // #nosec G115 - top bit dropped
}

// jobChannel is the NOTIFY channel announcing new jobs of one type.
func jobChannel(jobType model.JobType) string { return "job_added_" + string(jobType) }

func qualifiedJobColumns(alias string) string {
	cols := strings.Split(jobColumns, ", ")
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

var (
	insertJobSQL = `INSERT INTO jobs (type, status, priority, payload, metadata, entity_type, entity_id, scheduled_at, max_retries)
VALUES ($1, 'pending', $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + jobColumns

	// Highest priority first, then oldest schedule. Rows locked by a concurrent reserver
	// are skipped rather than waited on.
	reserveJobSQL = `WITH candidate AS (
  SELECT id FROM jobs
  WHERE type = $1 AND status = 'pending' AND scheduled_at <= $2
  ORDER BY priority DESC, scheduled_at, created_at
  LIMIT 1
  FOR UPDATE SKIP LOCKED
)
UPDATE jobs j
SET status = 'running', started_at = COALESCE(j.started_at, $2), lease_expires_at = $3, updated_at = $2
FROM candidate
WHERE j.id = candidate.id
RETURNING ` + qualifiedJobColumns("j")
)

// Create stores a pending job and announces it on the job type's channel. Insert and
// NOTIFY share a transaction so listeners never wake for a job they cannot see.
func (r *JobRepo) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("create job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	args, err := r.createArgs(req)
	if err != nil {
		return nil, err
	}

	var created *model.Job
	err = pgxutil.InPgxTx(ctx, r.DB, nil, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, insertJobSQL, args...)
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		if created, err = collectOneJob(rows); err != nil {
			return fmt.Errorf("read inserted job: %w", err)
		}
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, jobChannel(req.Type), created.ID); err != nil {
			return fmt.Errorf("notify %s: %w", jobChannel(req.Type), err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *JobRepo) createArgs(req *model.CreateJobRequest) ([]any, error) {
	if !json.Valid(req.Payload) {
		return nil, errors.New("payload must be valid JSON")
	}
	metadata := json.RawMessage(`{}`)
	if len(req.Metadata) > 0 {
		if !json.Valid(req.Metadata) {
			return nil, errors.New("metadata must be valid JSON")
		}
		metadata = req.Metadata
	}
	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = model.DefaultMaxRetries
	}
	scheduled := r.now()
	if req.ScheduledAt != nil {
		scheduled = req.ScheduledAt.UTC()
	}
	return []any{
		req.Type, req.Priority, []byte(req.Payload), []byte(metadata),
		req.EntityType, req.EntityID, scheduled, maxRetries,
	}, nil
}

// ReserveNext sweeps lapsed leases of jobType back to pending, then leases the best
// runnable job for leaseSeconds. model.ErrNoJobsAvailable means nothing is runnable.
func (r *JobRepo) ReserveNext(ctx context.Context, jobType model.JobType, leaseSeconds int) (*model.Job, error) {
	if !jobType.Valid() {
		return nil, fmt.Errorf("invalid job type: %s", jobType)
	}
	if _, err := r.requeueExpired(ctx, jobType); err != nil {
		return nil, fmt.Errorf("sweep expired leases: %w", err)
	}

	var reserved *model.Job
	opts := &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	err := pgxutil.InPgxTx(ctx, r.DB, opts, func(tx pgx.Tx) error {
		now := r.now()
		rows, err := tx.Query(ctx, reserveJobSQL, jobType, now, now.Add(time.Duration(leaseSeconds)*time.Second))
		if err != nil {
			return fmt.Errorf("reserve job: %w", err)
		}
		reserved, err = collectOneJob(rows)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return model.ErrNoJobsAvailable
		case err != nil:
			return fmt.Errorf("read reserved job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reserved, nil
}

// requeueExpired moves running jobs whose lease has lapsed back to pending. When another
// session is already sweeping this job type the call does nothing.
func (r *JobRepo) requeueExpired(ctx context.Context, jobType model.JobType) (int64, error) {
	var n int64
	_, err := pgxutil.WithXactLock(ctx, r.DB, leaseSweepLock(jobType), func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE jobs
SET status = 'pending', lease_expires_at = NULL
WHERE type = $1 AND status = 'running' AND lease_expires_at < $2`, jobType, r.now())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.WarnContext(ctx, "lease expired, job returned to pending", "job_type", jobType, "count", n)
	}
	return n, nil
}

// WaitForNotification LISTENs on the job type's channel and returns after the first
// notification or when ctx ends.
func (r *JobRepo) WaitForNotification(ctx context.Context, jobType model.JobType) error {
	channel := pgx.Identifier{jobChannel(jobType)}.Sanitize()
	return pgxutil.RawConn(ctx, r.DB, func(conn *pgx.Conn) error {
		if _, err := conn.Exec(ctx, "LISTEN "+channel); err != nil {
			return fmt.Errorf("listen %s: %w", channel, err)
		}
		defer func() {
			cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_, _ = conn.Exec(cleanup, "UNLISTEN "+channel)
		}()
		_, err := conn.WaitForNotification(ctx)
		return err
	})
}
