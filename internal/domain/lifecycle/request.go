package lifecycle

import (
	"errors"
	"strings"
	"time"
)

// CreateEntityRequest describes a new managed entity.
type CreateEntityRequest struct {
	Type        string         `json:"type"`
	ID          string         `json:"id,omitempty"`
	ParentType  *string        `json:"parent_type,omitempty"`
	ParentID    *string        `json:"parent_id,omitempty"`
	Association *string        `json:"association,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	DeleteAt    *time.Time     `json:"delete_at,omitempty"`
}

// Validate validates the CreateEntityRequest fields. A parent reference must be complete.
func (r *CreateEntityRequest) Validate() error {
	if strings.TrimSpace(r.Type) == "" {
		return errors.New("type is required")
	}
	set := 0
	for _, p := range []*string{r.ParentType, r.ParentID, r.Association} {
		if p != nil && strings.TrimSpace(*p) != "" {
			set++
		}
	}
	if set != 0 && set != 3 {
		return errors.New("parent_type, parent_id and association must be provided together")
	}
	return nil
}

// HasParent reports whether the request links the entity to a parent.
func (r *CreateEntityRequest) HasParent() bool {
	return r.ParentType != nil && r.ParentID != nil && r.Association != nil &&
		*r.ParentType != "" && *r.ParentID != "" && *r.Association != ""
}

// Build turns the request into an active entity created at now.
func (r *CreateEntityRequest) Build(id string, now time.Time) *Entity {
	now = now.UTC()
	e := &Entity{
		Type:       strings.TrimSpace(r.Type),
		ID:         id,
		State:      StateActive,
		Attributes: make(map[string]any, len(r.Attributes)),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for k, v := range r.Attributes {
		e.Attributes[k] = v
	}
	if r.HasParent() {
		e.ParentType, e.ParentID, e.Association = r.ParentType, r.ParentID, r.Association
	}
	if r.DeleteAt != nil {
		at := r.DeleteAt.UTC()
		e.DeleteAt = &at
	}
	return e
}
