package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/target/reclaim/internal/core"
	"github.com/target/reclaim/internal/domain/lifecycle"
)

// Eraser erases one entity. LifecycleService implements it.
type Eraser interface {
	Erase(ctx context.Context, ref lifecycle.Ref) (bool, error)
}

// DependencyResolverOptions groups dependencies for DependencyResolver.
type DependencyResolverOptions struct {
	Eraser Eraser       // Required: erases dependents during cascade
	Logger *slog.Logger // Optional: structured logger
}

// DependencyResolver checks and cascades parent -> child relationships.
type DependencyResolver struct {
	eraser Eraser
	logger *slog.Logger
}

// NewDependencyResolver constructs a DependencyResolver.
func NewDependencyResolver(opts DependencyResolverOptions) *DependencyResolver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DependencyResolver{eraser: opts.Eraser, logger: logger.With("component", "dependency_resolver")}
}

// Check is the wait-for-no-dependents finalizer. With EraseIfFound it first erases dependents
// that are still active; either way a non-zero count yields a retryable result naming the
// blocking association.
func (r *DependencyResolver) Check(ctx context.Context, e *lifecycle.Entity, dep lifecycle.DependencyDescriptor) lifecycle.Result {
	count, err := dep.Repo.Count(ctx, e.ID)
	if err != nil {
		return lifecycle.Retry(fmt.Sprintf("count %s of %s: %v", dep.Association, e.Key(), err))
	}
	if count == 0 {
		return lifecycle.Continue()
	}

	if dep.EraseIfFound {
		r.cascadeOne(ctx, e.Ref(), dep)
	}

	return lifecycle.Retry(fmt.Sprintf("%s %s waiting on %d dependents via %s", e.Type, e.ID, count, dep.Association))
}

// Cascade erases every not-yet-deleted dependent of parent across deps. It never fails:
// member errors are logged and the remaining members are still erased.
func (r *DependencyResolver) Cascade(ctx context.Context, parent lifecycle.Ref, deps []lifecycle.DependencyDescriptor) int {
	erased := 0
	for _, dep := range deps {
		erased += r.cascadeOne(ctx, parent, dep)
	}
	return erased
}

func (r *DependencyResolver) cascadeOne(ctx context.Context, parent lifecycle.Ref, dep lifecycle.DependencyDescriptor) int {
	members, err := dep.Repo.ListNotDeleted(ctx, parent.ID)
	if err != nil {
		r.logger.WarnContext(ctx, "cascade: list dependents failed",
			"parent", parent.String(), "association", dep.Association, "error", err)
		return 0
	}
	if dep.Cardinality == lifecycle.CardinalityOne && len(members) > 1 {
		members = members[:1]
	}

	erased := 0
	for _, m := range members {
		ok, err := r.eraser.Erase(ctx, m.Ref())
		if err != nil {
			r.logger.WarnContext(ctx, "cascade: erase dependent failed",
				"parent", parent.String(), "association", dep.Association, "dependent", m.Key(), "error", err)
			continue
		}
		if ok {
			erased++
		}
	}
	if erased > 0 {
		r.logger.DebugContext(ctx, "cascaded erase",
			"parent", parent.String(), "association", dep.Association, "erased", erased)
	}
	return erased
}

// CountingDependents wraps a DependentRepository with a read-through count cache.
// Cached values only ever come from an authoritative store count; any cache error falls
// back to the store.
type CountingDependents struct {
	repo   lifecycle.DependentRepository
	counts *core.DependentCountCache
	key    func(parentID string) core.DependentKey
	logger *slog.Logger
}

// NewCountingDependents wraps repo. A nil cache returns repo unchanged.
func NewCountingDependents(
	repo lifecycle.DependentRepository,
	counts *core.DependentCountCache,
	parentType, association string,
	logger *slog.Logger,
) lifecycle.DependentRepository {
	if counts == nil {
		return repo
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CountingDependents{
		repo:   repo,
		counts: counts,
		key: func(parentID string) core.DependentKey {
			return core.DependentKey{ParentType: parentType, ParentID: parentID, Association: association}
		},
		logger: logger,
	}
}

func (c *CountingDependents) Count(ctx context.Context, parentID string) (int, error) {
	key := c.key(parentID)
	if n, ok, err := c.counts.Get(ctx, key); err != nil {
		c.logger.DebugContext(ctx, "dependent count cache read failed", "parent_id", parentID, "error", err)
	} else if ok {
		return n, nil
	}

	n, err := c.repo.Count(ctx, parentID)
	if err != nil {
		return 0, err
	}
	if err := c.counts.Set(ctx, key, n); err != nil {
		c.logger.DebugContext(ctx, "dependent count cache write failed", "parent_id", parentID, "error", err)
	}
	return n, nil
}

func (c *CountingDependents) ListNotDeleted(ctx context.Context, parentID string) ([]*lifecycle.Entity, error) {
	return c.repo.ListNotDeleted(ctx, parentID)
}
