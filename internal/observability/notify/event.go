// Package notify carries finalize failure notifications to external sinks.
package notify

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Severities understood by every sink.
const (
	SeverityCritical = "critical"
	SeverityError    = "error"
)

// JobFailurePayload describes a finalize job that failed fatally.
type JobFailurePayload struct {
	JobID      string
	JobType    string
	EntityType string
	EntityID   string
	// Finalizer names the pipeline step that failed, when known.
	Finalizer  string
	Attempt    int
	Error      string
	ErrorClass string
	Severity   string
	OccurredAt time.Time
	Metadata   map[string]string
}

// EntityKey returns "type/id", or "" when the entity is unknown.
func (p JobFailurePayload) EntityKey() string {
	if p.EntityType == "" || p.EntityID == "" {
		return ""
	}
	return p.EntityType + "/" + p.EntityID
}

// SeverityOrDefault normalizes Severity, defaulting to critical.
func (p JobFailurePayload) SeverityOrDefault() string {
	if s := strings.ToLower(strings.TrimSpace(p.Severity)); s != "" {
		return s
	}
	return SeverityCritical
}

// Timestamp returns OccurredAt, or now when unset.
func (p JobFailurePayload) Timestamp() time.Time {
	if p.OccurredAt.IsZero() {
		return time.Now().UTC()
	}
	return p.OccurredAt.UTC()
}

// Summary is the one-line headline sinks show.
func (p JobFailurePayload) Summary() string {
	key := p.EntityKey()
	if key == "" {
		key = "unknown entity"
	}
	s := "Finalization of " + key + " failed"
	if p.Finalizer != "" {
		s += " at " + p.Finalizer
	}
	return s
}

// Field is one labelled detail of a payload.
type Field struct {
	Key   string
	Label string
	Value string
}

// Fields lists the non-empty details in display order.
func (p JobFailurePayload) Fields() []Field {
	attempt := ""
	if p.Attempt > 0 {
		attempt = strconv.Itoa(p.Attempt)
	}
	all := []Field{
		{"job_id", "Job", p.JobID},
		{"job_type", "Job type", p.JobType},
		{"entity_type", "Entity type", p.EntityType},
		{"entity_id", "Entity id", p.EntityID},
		{"finalizer", "Finalizer", p.Finalizer},
		{"attempt", "Attempt", attempt},
		{"error_class", "Error class", p.ErrorClass},
		{"error", "Error", p.Error},
	}
	out := all[:0]
	for _, f := range all {
		if strings.TrimSpace(f.Value) != "" {
			out = append(out, f)
		}
	}
	return out
}

// Sink delivers failure notifications.
type Sink interface {
	SendJobFailure(ctx context.Context, payload JobFailurePayload) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, payload JobFailurePayload) error

// SendJobFailure implements Sink.
func (f SinkFunc) SendJobFailure(ctx context.Context, payload JobFailurePayload) error {
	if f == nil {
		return nil
	}
	return f(ctx, payload)
}
