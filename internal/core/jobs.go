// Package core defines the ports between the lifecycle services and their storage and queue backends.
package core

import (
	"github.com/target/reclaim/internal/domain/model"
)

// JobType is re-exported for HTTP handlers so they do not couple to the model package.
type JobType = model.JobType

// CreateJobRequest is re-exported for HTTP handlers so they do not couple to the model package.
type CreateJobRequest = model.CreateJobRequest
