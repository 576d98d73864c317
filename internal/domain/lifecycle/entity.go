// Package lifecycle models logical deletion and finalization of managed entities.
package lifecycle

import (
	"fmt"
	"strings"
	"time"
)

// State is the persisted lifecycle state of an entity.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type State string

const (
	// StateActive marks an entity that is live.
	StateActive State = "active"
	// StateDeleted marks an entity that is logically deleted and pending finalization.
	StateDeleted State = "deleted"
)

// Valid returns true if the State is a known value.
func (s State) Valid() bool {
	return s == StateActive || s == StateDeleted
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	v := State(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid state: %q", v)
	}
	*s = v
	return nil
}

// Entity is a record under lifecycle management.
type Entity struct {
	Type        string         `json:"type"`
	ID          string         `json:"id"`
	State       State          `json:"state"`
	StateAt     *time.Time     `json:"state_at,omitempty"`
	DeleteAt    *time.Time     `json:"delete_at,omitempty"`
	ParentType  *string        `json:"parent_type,omitempty"`
	ParentID    *string        `json:"parent_id,omitempty"`
	Association *string        `json:"association,omitempty"`
	Attributes  map[string]any `json:"attributes"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`

	// Errors holds human-readable messages attached by safe erase. Not persisted.
	Errors []string `json:"errors,omitempty"`
}

// Key returns "type/id", used in logs and cache keys.
func (e *Entity) Key() string {
	if e == nil {
		return ""
	}
	return e.Type + "/" + e.ID
}

// Deleted reports whether the entity is logically deleted.
func (e *Entity) Deleted() bool {
	return e != nil && e.State == StateDeleted
}

// MarkDeleted applies the active -> deleted transition in memory.
// It returns false when the entity was already deleted; in that case nothing changes.
func (e *Entity) MarkDeleted(at time.Time) bool {
	if e.State == StateDeleted {
		return false
	}
	ts := at.UTC()
	e.State = StateDeleted
	e.StateAt = &ts
	e.DeleteAt = nil
	return true
}

// AddError attaches a validation message.
func (e *Entity) AddError(msg string) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return
	}
	e.Errors = append(e.Errors, msg)
}

// Attribute returns a single attribute value.
func (e *Entity) Attribute(name string) (any, bool) {
	if e == nil || e.Attributes == nil {
		return nil, false
	}
	v, ok := e.Attributes[name]
	return v, ok
}

// SetAttribute sets (or, with a nil value, clears) an attribute.
func (e *Entity) SetAttribute(name string, value any) {
	if e.Attributes == nil {
		e.Attributes = make(map[string]any)
	}
	e.Attributes[name] = value
}

// Document returns a generic map view of the entity for expression evaluation.
func (e *Entity) Document() map[string]any {
	doc := map[string]any{
		"type":  e.Type,
		"id":    e.ID,
		"state": string(e.State),
	}
	attrs := make(map[string]any, len(e.Attributes))
	for k, v := range e.Attributes {
		attrs[k] = v
	}
	doc["attributes"] = attrs
	if e.ParentType != nil && e.ParentID != nil {
		doc["parent"] = map[string]any{"type": *e.ParentType, "id": *e.ParentID}
	}
	if e.DeleteAt != nil {
		doc["delete_at"] = e.DeleteAt.UTC().Format(time.RFC3339)
	}
	return doc
}

// Ref identifies an entity without carrying its state.
type Ref struct {
	Type string `json:"entity_type"`
	ID   string `json:"entity_id"`
}

// String returns "type/id".
func (r Ref) String() string {
	return r.Type + "/" + r.ID
}

// Ref returns the identity of the entity.
func (e *Entity) Ref() Ref {
	return Ref{Type: e.Type, ID: e.ID}
}
