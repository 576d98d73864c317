package data

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/target/reclaim/internal/domain/model"
)

// scanner is satisfied by *sql.Row, *sql.Rows and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// jobRow mirrors jobColumns with nullable columns kept in sql.Null types.
type jobRow struct {
	model.Job
	payload, metadata []byte
	lastError         sql.NullString
	started, finished sql.NullTime
	leaseExpires      sql.NullTime
}

func (r *jobRow) targets() []any {
	j := &r.Job
	return []any{
		&j.ID, &j.Type, &j.Status, &j.Priority, &r.payload, &r.metadata,
		&j.EntityType, &j.EntityID,
		&j.ScheduledAt, &r.started, &r.finished,
		&j.RetryCount, &j.MaxRetries, &r.lastError, &r.leaseExpires,
		&j.CreatedAt, &j.UpdatedAt,
	}
}

func (r *jobRow) job() *model.Job {
	j := r.Job
	j.Payload = rawJSON(r.payload)
	j.Metadata = rawJSON(r.metadata)
	j.LastError = stringPtr(r.lastError)
	j.StartedAt = utcPtr(r.started)
	j.CompletedAt = utcPtr(r.finished)
	j.LeaseExpiresAt = utcPtr(r.leaseExpires)
	j.ScheduledAt = j.ScheduledAt.UTC()
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	return &j
}

func scanJob(s scanner) (*model.Job, error) {
	var row jobRow
	if err := s.Scan(row.targets()...); err != nil {
		return nil, err
	}
	return row.job(), nil
}

// collectOneJob drains rows, which must hold exactly zero or one job. Zero rows is
// pgx.ErrNoRows.
func collectOneJob(rows pgx.Rows) (*model.Job, error) {
	return pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (*model.Job, error) {
		return scanJob(row)
	})
}

func collectJobs(rows *sql.Rows) ([]*model.Job, error) {
	defer func() { _ = rows.Close() }()
	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// rawJSON copies a JSON column; SQL NULL or empty reads as an empty object.
func rawJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(append([]byte(nil), b...))
}

func utcPtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
