package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/target/reclaim/internal/core"
	"github.com/target/reclaim/internal/domain/lifecycle"
)

// ErrParentDeleted is returned when a child is created under a parent that is being finalized.
var ErrParentDeleted = errors.New("parent entity is deleted")

// ErrNotDeleted is returned when finalization is requested for an entity that was never erased.
var ErrNotDeleted = errors.New("entity is not deleted")

// EntityServiceOptions groups dependencies for EntityService.
type EntityServiceOptions struct {
	Store    core.EntityStore          // Required: entity persistence
	Registry *lifecycle.Registry       // Required: known entity types
	Counts   *core.DependentCountCache // Optional: invalidated when a child is created
	Logger   *slog.Logger              // Optional: structured logger
	Now      func() time.Time          // Optional: clock
}

// EntityService registers entities and schedules their deletion. Erasing and destroying
// belong to LifecycleService.
type EntityService struct {
	store    core.EntityStore
	registry *lifecycle.Registry
	counts   *core.DependentCountCache
	logger   *slog.Logger
	now      func() time.Time
}

// NewEntityService constructs a new EntityService.
func NewEntityService(opts EntityServiceOptions) (*EntityService, error) {
	if opts.Store == nil {
		return nil, errors.New("EntityStore is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("Registry is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &EntityService{
		store:    opts.Store,
		registry: opts.Registry,
		counts:   opts.Counts,
		logger:   logger.With("component", "entity_service"),
		now:      now,
	}, nil
}

// Create registers an active entity. A missing id is generated. The parent, when given,
// must exist and must not be deleted.
func (s *EntityService) Create(ctx context.Context, req *lifecycle.CreateEntityRequest) (*lifecycle.Entity, error) {
	if req == nil {
		return nil, errors.New("request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.registry.Lookup(req.Type); err != nil {
		return nil, err
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	e := req.Build(id, s.now())

	if req.HasParent() {
		parent, err := s.store.Get(ctx, lifecycle.Ref{Type: *req.ParentType, ID: *req.ParentID})
		if err != nil {
			return nil, fmt.Errorf("load parent: %w", err)
		}
		if parent.Deleted() {
			return nil, fmt.Errorf("%w: %s", ErrParentDeleted, parent.Key())
		}
	}

	if err := s.store.Create(ctx, e); err != nil {
		return nil, err
	}

	if req.HasParent() && s.counts != nil {
		key := core.DependentKey{ParentType: *req.ParentType, ParentID: *req.ParentID, Association: *req.Association}
		if err := s.counts.Invalidate(ctx, key); err != nil {
			s.logger.WarnContext(ctx, "failed to invalidate dependent count", "entity", e.Key(), "error", err)
		}
	}

	s.logger.DebugContext(ctx, "entity created", "entity_type", e.Type, "entity_id", e.ID)
	return e, nil
}

// Get returns the entity or lifecycle.ErrEntityNotFound.
func (s *EntityService) Get(ctx context.Context, ref lifecycle.Ref) (*lifecycle.Entity, error) {
	return s.store.Get(ctx, ref)
}

// ScheduleDeletion sets the time at which the reaper erases the entity.
func (s *EntityService) ScheduleDeletion(ctx context.Context, ref lifecycle.Ref, at time.Time) error {
	if at.IsZero() {
		return errors.New("delete_at is required")
	}
	if _, err := s.registry.Lookup(ref.Type); err != nil {
		return err
	}
	if err := s.store.ScheduleDeletion(ctx, ref, at.UTC()); err != nil {
		return fmt.Errorf("schedule deletion of %s: %w", ref, err)
	}
	return nil
}
