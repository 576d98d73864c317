package service

import (
	"context"
	"time"

	"github.com/target/reclaim/internal/core"
	"github.com/target/reclaim/internal/domain/model"
)

// eraseDueEntities erases active entities whose delete_at has passed, a batch at a time.
// A failed erase is logged and retried on a later tick. The loop stops when a batch comes
// back short or erases nothing, so a batch of permanently refused entities cannot spin.
func (s *ReaperService) eraseDueEntities(ctx context.Context) (int64, error) {
	var total int64
	for {
		refs, err := s.store.ListDueForErase(ctx, s.now().UTC(), s.cfg.BatchSize)
		if err != nil {
			return total, err
		}

		var erased int64
		for _, ref := range refs {
			ok, err := s.eraser.Erase(ctx, ref)
			switch {
			case isContextCancellation(err):
				return total + erased, err
			case err != nil:
				s.logger.WarnContext(ctx, "scheduled erase failed", "entity", ref.String(), "error", err)
			case ok:
				erased++
			}
		}
		total += erased

		if len(refs) < s.cfg.BatchSize || erased == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}

	if total > 0 {
		s.logger.InfoContext(ctx, "erased entities past delete_at", "count", total)
	}
	return total, nil
}

// requeueOrphans enqueues a finalize job for each deleted entity that has waited longer
// than the orphan grace period without ever getting a finalize job, which happens when the
// enqueue after erase was lost. Entities whose finalization was aborted or failed keep
// their job as history and are left for an operator restart. One batch per tick.
func (s *ReaperService) requeueOrphans(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.cfg.OrphanGrace)
	refs, err := s.store.ListPendingFinalization(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	var enqueued int64
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return enqueued, err
		}
		seen, err := s.jobs.HasFinalizeHistory(ctx, ref)
		if err != nil {
			return enqueued, err
		}
		if seen {
			continue
		}
		if err := s.jobs.EnqueueFinalize(ctx, ref, core.EnqueueOptions{Priority: s.jobPriority}); err != nil {
			return enqueued, err
		}
		enqueued++
		s.logger.WarnContext(ctx, "re-enqueued finalize job for orphaned entity", "entity", ref.String())
	}
	return enqueued, nil
}

// deleteOldJobsWith returns a step that prunes jobs in one terminal status older than
// maxAge, batch after batch until a pass deletes nothing.
func (s *ReaperService) deleteOldJobsWith(status model.JobStatus, maxAge time.Duration) func(context.Context) (int64, error) {
	params := core.DeleteOldJobsParams{Status: status, MaxAge: maxAge, BatchSize: s.cfg.BatchSize}
	return func(ctx context.Context) (int64, error) {
		var total int64
		for {
			n, err := s.repo.DeleteOldJobs(ctx, params)
			total += n
			if err != nil {
				return total, err
			}
			if n == 0 {
				break
			}
			if err := ctx.Err(); err != nil {
				return total, err
			}
		}
		if total > 0 {
			s.logger.InfoContext(ctx, "pruned settled jobs", "status", status, "count", total, "max_age", maxAge)
		}
		return total, nil
	}
}
