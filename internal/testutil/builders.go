// Package testutil provides database, cache and in-memory harnesses for reclaim tests.
package testutil

import (
	"time"

	"github.com/google/uuid"
	"github.com/target/reclaim/internal/domain/lifecycle"
	"github.com/target/reclaim/internal/domain/model"
)

// JobRequestBuilder provides a fluent interface for building finalize job requests.
type JobRequestBuilder struct {
	entityType string
	entityID   string
	priority   int
	scheduled  *time.Time
	maxRetries int
}

// NewJobRequest creates a builder for a finalize job against a random volume.
func NewJobRequest() *JobRequestBuilder {
	return &JobRequestBuilder{
		entityType: "volume",
		entityID:   uuid.NewString(),
		priority:   50,
		maxRetries: model.DefaultMaxRetries,
	}
}

// WithEntity sets the referenced entity.
func (b *JobRequestBuilder) WithEntity(entityType, entityID string) *JobRequestBuilder {
	b.entityType = entityType
	b.entityID = entityID
	return b
}

// WithPriority sets the job priority.
func (b *JobRequestBuilder) WithPriority(priority int) *JobRequestBuilder {
	b.priority = priority
	return b
}

// WithScheduledAt delays the job until scheduledAt.
func (b *JobRequestBuilder) WithScheduledAt(scheduledAt time.Time) *JobRequestBuilder {
	b.scheduled = &scheduledAt
	return b
}

// WithMaxRetries sets the transport retry budget.
func (b *JobRequestBuilder) WithMaxRetries(maxRetries int) *JobRequestBuilder {
	b.maxRetries = maxRetries
	return b
}

// Build returns the request. It panics on an empty entity identity.
func (b *JobRequestBuilder) Build() *model.CreateJobRequest {
	req, err := model.NewFinalizeJobRequest(b.entityType, b.entityID, b.priority)
	if err != nil {
		panic(err)
	}
	req.ScheduledAt = b.scheduled
	req.MaxRetries = b.maxRetries
	return req
}

// EntityBuilder builds lifecycle entities for tests.
type EntityBuilder struct {
	e *lifecycle.Entity
}

// NewEntity starts an active entity with the given identity.
func NewEntity(entityType, id string) *EntityBuilder {
	now := TestTime()
	return &EntityBuilder{e: &lifecycle.Entity{
		Type:       entityType,
		ID:         id,
		State:      lifecycle.StateActive,
		Attributes: map[string]any{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}}
}

// ChildOf links the entity to a parent through association.
func (b *EntityBuilder) ChildOf(parent lifecycle.Ref, association string) *EntityBuilder {
	b.e.ParentType = StringPtr(parent.Type)
	b.e.ParentID = StringPtr(parent.ID)
	b.e.Association = StringPtr(association)
	return b
}

// WithAttribute sets one attribute.
func (b *EntityBuilder) WithAttribute(name string, value any) *EntityBuilder {
	b.e.SetAttribute(name, value)
	return b
}

// Deleted marks the entity as already erased at the given time.
func (b *EntityBuilder) Deleted(at time.Time) *EntityBuilder {
	b.e.MarkDeleted(at)
	return b
}

// DeleteAt schedules a future erase.
func (b *EntityBuilder) DeleteAt(at time.Time) *EntityBuilder {
	b.e.DeleteAt = TimePtr(at.UTC())
	return b
}

// Build returns the entity.
func (b *EntityBuilder) Build() *lifecycle.Entity {
	return b.e
}
