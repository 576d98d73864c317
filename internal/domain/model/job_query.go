package model

// JobListOptions filters job listings.
type JobListOptions struct {
	Type       *JobType
	Status     *JobStatus
	EntityType string
	EntityID   string
	Limit      int
	Offset     int
}
