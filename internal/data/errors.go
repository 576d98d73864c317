package data

import (
	"errors"

	apperrors "github.com/target/reclaim/internal/errors"
)

// Shared sentinel errors for data-layer repositories. Job sentinels carry an error code so
// callers above the store can classify them without importing this package.
var (
	// ErrJobNotFound is returned when a job is not found.
	ErrJobNotFound error = &apperrors.AppError{Code: apperrors.ErrCodeNotFound, Message: "job not found"}
	// ErrJobNotDeletable is returned when deleting a job that is running.
	ErrJobNotDeletable error = &apperrors.AppError{
		Code:    apperrors.ErrCodeConflict,
		Message: "job cannot be deleted (must be in pending, completed, or failed status)",
	}
	// ErrJobReserved is returned when deleting a job that holds an active lease.
	ErrJobReserved error = &apperrors.AppError{
		Code:    apperrors.ErrCodeConflict,
		Message: "job is reserved and cannot be deleted",
	}
	// ErrEntityExists is returned when creating an entity whose (type, id) is taken.
	ErrEntityExists = errors.New("entity already exists")
)
