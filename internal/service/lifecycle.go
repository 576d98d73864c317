package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/reclaim/internal/core"
	domainjob "github.com/target/reclaim/internal/domain/job"
	"github.com/target/reclaim/internal/domain/lifecycle"
)

// LifecycleServiceOptions groups dependencies for LifecycleService.
type LifecycleServiceOptions struct {
	Store    core.EntityStore      // Required: entity persistence
	Registry *lifecycle.Registry   // Required: per-type lifecycle definitions
	Enqueuer core.FinalizeEnqueuer // Required: finalize job scheduling
	Config   LifecycleConfig       // Optional: tuning and collaborators
}

// LifecycleConfig carries the optional collaborators of LifecycleService.
type LifecycleConfig struct {
	Logger *slog.Logger
	// Counts, when set, is invalidated for the parent whenever a child is destroyed.
	Counts *core.DependentCountCache
	// JobPriority is the priority of the first finalize attempt.
	JobPriority int
	Now         func() time.Time
}

// LifecycleService owns entity state transitions: erase, safe erase, destroy and
// finalize-and-destroy. It keeps no locks; correctness under concurrent jobs comes from the
// conditional active -> deleted update in the store and from idempotent finalizers.
type LifecycleService struct {
	store       core.EntityStore
	registry    *lifecycle.Registry
	enqueuer    core.FinalizeEnqueuer
	counts      *core.DependentCountCache
	resolver    *DependencyResolver
	pipeline    *FinalizerPipeline
	logger      *slog.Logger
	jobPriority int
	now         func() time.Time
}

// NewLifecycleService constructs a LifecycleService.
func NewLifecycleService(opts LifecycleServiceOptions) (*LifecycleService, error) {
	if opts.Store == nil {
		return nil, errors.New("EntityStore is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("Registry is required")
	}
	if opts.Enqueuer == nil {
		return nil, errors.New("FinalizeEnqueuer is required")
	}

	cfg := opts.Config
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	priority := cfg.JobPriority
	if priority <= 0 {
		priority = domainjob.DefaultJobPriority
	}

	s := &LifecycleService{
		store:       opts.Store,
		registry:    opts.Registry,
		enqueuer:    opts.Enqueuer,
		counts:      cfg.Counts,
		logger:      logger.With("component", "lifecycle_service"),
		jobPriority: priority,
		now:         now,
	}
	s.resolver = NewDependencyResolver(DependencyResolverOptions{Eraser: s, Logger: logger})
	s.pipeline = NewFinalizerPipeline(FinalizerPipelineOptions{Resolver: s.resolver, Logger: logger})
	return s, nil
}

// MustNewLifecycleService constructs a LifecycleService and panics on error.
func MustNewLifecycleService(opts LifecycleServiceOptions) *LifecycleService {
	svc, err := NewLifecycleService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create LifecycleService: %v", err))
	}
	return svc
}

// Registry exposes the type definitions the service was built with.
func (s *LifecycleService) Registry() *lifecycle.Registry {
	return s.registry
}

// Get loads the current record of ref.
func (s *LifecycleService) Get(ctx context.Context, ref lifecycle.Ref) (*lifecycle.Entity, error) {
	return s.store.Get(ctx, ref)
}

// Erase marks the entity deleted without validation. Only the call that performs the
// active -> deleted transition cascades to declared dependents and enqueues a finalize job;
// repeated calls return false and schedule nothing.
//
// Cascade failures are logged and skipped. So is a failed enqueue: the erase has already
// happened, and the reaper enqueues for deleted entities that never got a finalize job.
func (s *LifecycleService) Erase(ctx context.Context, ref lifecycle.Ref) (bool, error) {
	def, err := s.registry.Lookup(ref.Type)
	if err != nil {
		return false, err
	}

	transitioned, err := s.store.MarkDeleted(ctx, ref, s.now().UTC())
	if err != nil {
		return false, fmt.Errorf("erase %s: %w", ref, err)
	}
	if !transitioned {
		s.logger.DebugContext(ctx, "erase is a no-op, entity already deleted", "entity", ref.String())
		return false, nil
	}

	if targets := def.CascadeTargets(); len(targets) > 0 {
		s.resolver.Cascade(ctx, ref, targets)
	}

	if err := s.enqueuer.EnqueueFinalize(ctx, ref, core.EnqueueOptions{Priority: s.jobPriority}); err != nil {
		s.logger.WarnContext(ctx, "failed to enqueue finalize job, leaving it to the reaper",
			"entity", ref.String(), "error", err)
		return true, nil
	}

	s.logger.InfoContext(ctx, "entity erased", "entity_type", ref.Type, "entity_id", ref.ID)
	return true, nil
}

// SafeErase erases e only if its type's erasable predicate allows it. On denial the reason is
// attached to e, nothing is persisted, and false is returned with a nil error.
func (s *LifecycleService) SafeErase(ctx context.Context, e *lifecycle.Entity) (bool, error) {
	if e == nil {
		return false, errors.New("entity is required")
	}
	def, err := s.registry.Lookup(e.Type)
	if err != nil {
		return false, err
	}
	if ok, reason := def.CanErase(e); !ok {
		e.AddError(reason)
		s.logger.InfoContext(ctx, "safe erase denied", "entity", e.Key(), "reason", reason)
		return false, nil
	}

	if _, err := s.Erase(ctx, e.Ref()); err != nil {
		return false, err
	}
	e.MarkDeleted(s.now())
	return true, nil
}

// Destroy physically removes the record, running the type's destroy hooks around it.
// Unforced calls fail with lifecycle.ErrIllegalDirectDestroy; destruction flows through
// finalization.
func (s *LifecycleService) Destroy(ctx context.Context, e *lifecycle.Entity, force bool) (bool, error) {
	if !force {
		return false, lifecycle.ErrIllegalDirectDestroy
	}
	if e == nil {
		return false, errors.New("entity is required")
	}
	def, err := s.registry.Lookup(e.Type)
	if err != nil {
		return false, err
	}

	for _, hook := range def.BeforeDestroyHooks() {
		if err := hook(ctx, e); err != nil {
			return false, fmt.Errorf("before destroy %s: %w", e.Key(), err)
		}
	}

	removed, err := s.store.Delete(ctx, e.Ref())
	if err != nil {
		return false, err
	}
	if removed {
		s.invalidateParentCount(ctx, e)
	}

	for _, hook := range def.AfterDestroyHooks() {
		if err := hook(ctx, e); err != nil {
			return removed, fmt.Errorf("after destroy %s: %w", e.Key(), err)
		}
	}
	return removed, nil
}

// FinalizeAndDestroy runs the type's finalizer pipeline and, if every finalizer continues,
// destroys the entity. The returned Result is Continue only when the record is gone.
func (s *LifecycleService) FinalizeAndDestroy(ctx context.Context, e *lifecycle.Entity) lifecycle.Result {
	if e == nil {
		return lifecycle.Fatal(errors.New("entity is required"))
	}
	def, err := s.registry.Lookup(e.Type)
	if err != nil {
		return lifecycle.Fatal(err)
	}

	if res := s.pipeline.Run(ctx, def, e); !res.Proceed() {
		return res
	}

	if _, err := s.Destroy(ctx, e, true); err != nil {
		return lifecycle.Classify(err)
	}

	// A hook may swallow the delete; never report success while the record survives.
	exists, err := s.store.Exists(ctx, e.Ref())
	if err != nil {
		return lifecycle.Classify(err)
	}
	if exists {
		return lifecycle.Retry(fmt.Sprintf("entity %s still exists after destroy", e.Key()))
	}
	return lifecycle.Continue()
}

// ActiveJobChecker reports whether a finalize job is pending or running for an entity.
type ActiveJobChecker interface {
	HasActiveFinalize(ctx context.Context, ref lifecycle.Ref) (bool, error)
}

// RestartFinalize enqueues a finalize job for a deleted entity that has none pending or
// running, e.g. after a finalizer aborted. It reports whether a job was enqueued and fails
// with ErrNotDeleted for active entities.
func (s *LifecycleService) RestartFinalize(ctx context.Context, ref lifecycle.Ref, jobs ActiveJobChecker) (bool, error) {
	if _, err := s.registry.Lookup(ref.Type); err != nil {
		return false, err
	}
	e, err := s.store.Get(ctx, ref)
	if err != nil {
		return false, err
	}
	if !e.Deleted() {
		return false, fmt.Errorf("%w: %s", ErrNotDeleted, e.Key())
	}
	if jobs != nil {
		active, err := jobs.HasActiveFinalize(ctx, ref)
		if err != nil {
			return false, err
		}
		if active {
			return false, nil
		}
	}
	if err := s.enqueuer.EnqueueFinalize(ctx, ref, core.EnqueueOptions{Priority: s.jobPriority}); err != nil {
		return false, fmt.Errorf("enqueue finalize for %s: %w", ref, err)
	}
	s.logger.InfoContext(ctx, "finalization restarted", "entity_type", ref.Type, "entity_id", ref.ID)
	return true, nil
}

func (s *LifecycleService) invalidateParentCount(ctx context.Context, e *lifecycle.Entity) {
	if s.counts == nil || e.ParentType == nil || e.ParentID == nil || e.Association == nil {
		return
	}
	key := core.DependentKey{ParentType: *e.ParentType, ParentID: *e.ParentID, Association: *e.Association}
	if err := s.counts.Invalidate(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "failed to invalidate dependent count", "entity", e.Key(), "error", err)
	}
}
