// Package model defines the finalize job records exchanged with the job queue.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobType is the kind of work a job performs.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobType string

// JobStatus is the queue state of a job.
type JobStatus string

const (
	// JobTypeFinalize drives an entity through finalizeAndDestroy.
	JobTypeFinalize JobType = "finalize"

	// JobStatusPending indicates a job is waiting to be reserved.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates a worker holds the job lease.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job was consumed.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the transport gave up on the job.
	JobStatusFailed JobStatus = "failed"
)

// DefaultMaxRetries is the transport retry budget for fatal failures.
// Retryable finalization does not count against it.
const DefaultMaxRetries = 3

// ErrNoJobsAvailable is returned when no job can be reserved.
var ErrNoJobsAvailable = errors.New("no jobs available")

// UnmarshalText implements encoding.TextUnmarshaler for env and flag parsing.
func (t *JobType) UnmarshalText(text []byte) error {
	v := JobType(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid JobType: %q", v)
	}
	*t = v
	return nil
}

// Valid returns true if the JobType is known.
func (t JobType) Valid() bool {
	return t == JobTypeFinalize
}

// Valid returns true if the JobStatus is known.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// Active reports whether the job can still run.
func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// Job is a queued unit of work. Finalize jobs reference their entity by type and id only.
type Job struct {
	ID             string          `json:"id"                         db:"id"`
	Type           JobType         `json:"type"                       db:"type"`
	Status         JobStatus       `json:"status"                     db:"status"`
	Priority       int             `json:"priority"                   db:"priority"`
	Payload        json.RawMessage `json:"payload"                    db:"payload"`
	Metadata       json.RawMessage `json:"metadata"                   db:"metadata"`
	EntityType     string          `json:"entity_type"                db:"entity_type"`
	EntityID       string          `json:"entity_id"                  db:"entity_id"`
	ScheduledAt    time.Time       `json:"scheduled_at"               db:"scheduled_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"       db:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"     db:"completed_at"`
	RetryCount     int             `json:"retry_count"                db:"retry_count"`
	MaxRetries     int             `json:"max_retries"                db:"max_retries"`
	LastError      *string         `json:"last_error,omitempty"       db:"last_error"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty" db:"lease_expires_at"`
	CreatedAt      time.Time       `json:"created_at"                 db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"                 db:"updated_at"`
}

// FinalizePayload is the body of a finalize job.
type FinalizePayload struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
}

// Validate checks that both identity fields are present.
func (p FinalizePayload) Validate() error {
	if strings.TrimSpace(p.EntityType) == "" {
		return errors.New("entity_type is required")
	}
	if strings.TrimSpace(p.EntityID) == "" {
		return errors.New("entity_id is required")
	}
	return nil
}

// ParseFinalizePayload decodes and validates a finalize job payload.
func ParseFinalizePayload(raw json.RawMessage) (FinalizePayload, error) {
	var p FinalizePayload
	if len(raw) == 0 {
		return p, errors.New("payload is empty")
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode finalize payload: %w", err)
	}
	return p, p.Validate()
}

// CreateJobRequest is a request to enqueue a job.
type CreateJobRequest struct {
	Type        JobType         `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Priority    int             `json:"priority,omitempty"`
	EntityType  string          `json:"entity_type"`
	EntityID    string          `json:"entity_id"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty"`
	MaxRetries  int             `json:"max_retries"`
}

// NewFinalizeJobRequest builds the request for one finalize attempt of an entity.
func NewFinalizeJobRequest(entityType, entityID string, priority int) (*CreateJobRequest, error) {
	p := FinalizePayload{EntityType: entityType, EntityID: entityID}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode finalize payload: %w", err)
	}
	return &CreateJobRequest{
		Type:       JobTypeFinalize,
		Payload:    raw,
		Priority:   priority,
		EntityType: entityType,
		EntityID:   entityID,
		MaxRetries: DefaultMaxRetries,
	}, nil
}

// Validate validates the CreateJobRequest fields.
func (r *CreateJobRequest) Validate() error {
	if !r.Type.Valid() {
		return errors.New("invalid job type")
	}
	if len(r.Payload) == 0 {
		return errors.New("payload is required")
	}
	if r.Type == JobTypeFinalize && (r.EntityType == "" || r.EntityID == "") {
		return errors.New("finalize jobs require entity_type and entity_id")
	}
	if r.Priority < 0 || r.Priority > 100 {
		return errors.New("priority must be between 0 and 100")
	}
	if r.MaxRetries < 0 {
		return errors.New("max retries must be >= 0")
	}
	return nil
}

// RetryJobRequest re-pends a running job after a retryable failure.
type RetryJobRequest struct {
	Delay    time.Duration
	Priority int
	Reason   string
}

// Validate validates the RetryJobRequest fields.
func (r RetryJobRequest) Validate() error {
	if r.Delay < 0 {
		return errors.New("retry delay must be >= 0")
	}
	if r.Priority < 0 || r.Priority > 100 {
		return errors.New("priority must be between 0 and 100")
	}
	return nil
}

// JobStats counts jobs by status.
type JobStats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}
