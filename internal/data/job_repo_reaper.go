package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/target/reclaim/internal/core"
	"github.com/target/reclaim/internal/data/pgxutil"
)

// pruneLock serialises DeleteOldJobs across reaper instances.
var pruneLock = pgxutil.LockKey{Space: 1000, ID: 2}

// The newest job of an entity is kept while it is halted so the entity keeps its finalize
// history and the orphan sweep does not pick it up again.
const pruneJobsSQL = `DELETE FROM jobs WHERE id IN (
  SELECT j.id FROM jobs j
  WHERE j.status = $1 AND COALESCE(j.completed_at, j.updated_at) < $2
    AND NOT (j.halted AND NOT EXISTS (
      SELECT 1 FROM jobs n
      WHERE n.entity_type = j.entity_type AND n.entity_id = j.entity_id AND n.created_at > j.created_at
    ))
  ORDER BY COALESCE(j.completed_at, j.updated_at)
  LIMIT $3
)`

// DeleteOldJobs removes at most BatchSize jobs in Status that settled more than MaxAge ago,
// oldest first. When another instance is pruning it deletes nothing and returns 0.
func (r *JobRepo) DeleteOldJobs(ctx context.Context, params core.DeleteOldJobsParams) (int64, error) {
	switch {
	case !params.Status.Valid():
		return 0, fmt.Errorf("invalid job status: %s", params.Status)
	case params.BatchSize <= 0:
		return 0, errors.New("batch size must be greater than zero")
	}

	var deleted int64
	cutoff := r.now().Add(-params.MaxAge)
	_, err := pgxutil.WithXactLock(ctx, r.DB, pruneLock, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, pruneJobsSQL, params.Status, cutoff, params.BatchSize)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune %s jobs: %w", params.Status, err)
	}
	return deleted, nil
}
