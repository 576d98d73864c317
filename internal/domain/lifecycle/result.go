package lifecycle

import (
	"errors"
	"fmt"
)

// Outcome is the control-flow signal produced by a finalizer.
type Outcome string

const (
	// OutcomeContinue lets the pipeline proceed to the next finalizer.
	OutcomeContinue Outcome = "continue"
	// OutcomeAbort halts the pipeline without an error and without retry.
	OutcomeAbort Outcome = "abort"
	// OutcomeRetryable halts the pipeline and reschedules the finalize job.
	OutcomeRetryable Outcome = "retryable"
	// OutcomeFatal halts the pipeline and surfaces the failure.
	OutcomeFatal Outcome = "fatal"
)

var (
	// ErrIllegalDirectDestroy is returned by destroy calls that are not forced.
	ErrIllegalDirectDestroy = errors.New("illegal direct destroy: entities are destroyed through finalization")
	// ErrAbortFinalization can be returned by finalizers that prefer error returns to request an abort.
	ErrAbortFinalization = errors.New("finalization aborted")
	// ErrEntityNotFound is returned when an entity record does not exist.
	ErrEntityNotFound = errors.New("entity not found")
	// ErrUnknownType is returned for entity types that have no registered definition.
	ErrUnknownType = errors.New("unknown entity type")
)

// RetryableError is an expected, recoverable finalization failure.
type RetryableError struct {
	Message string
	Cause   error
}

func (e *RetryableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *RetryableError) Unwrap() error {
	return e.Cause
}

// Retryablef builds a RetryableError with a formatted message.
func Retryablef(format string, args ...any) error {
	return &RetryableError{Message: fmt.Sprintf(format, args...)}
}

// IsRetryable reports whether err carries a RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// Result is the tagged outcome returned by each finalizer.
type Result struct {
	Outcome Outcome
	Reason  string
	Err     error
	// Finalizer names the descriptor that produced a non-continue result.
	Finalizer string
}

// Continue is the implicit success result.
func Continue() Result {
	return Result{Outcome: OutcomeContinue}
}

// Abort stops the pipeline cleanly.
func Abort(reason string) Result {
	return Result{Outcome: OutcomeAbort, Reason: reason}
}

// Retry requests a rescheduled attempt.
func Retry(reason string) Result {
	return Result{Outcome: OutcomeRetryable, Reason: reason}
}

// Fatal surfaces an unrecoverable failure.
func Fatal(err error) Result {
	if err == nil {
		err = errors.New("fatal finalization failure")
	}
	return Result{Outcome: OutcomeFatal, Reason: err.Error(), Err: err}
}

// Proceed reports whether the pipeline may continue.
func (r Result) Proceed() bool {
	return r.Outcome == "" || r.Outcome == OutcomeContinue
}

// Error converts the result into an error value; Continue yields nil.
func (r Result) Error() error {
	switch r.Outcome {
	case OutcomeAbort:
		if r.Reason == "" {
			return ErrAbortFinalization
		}
		return fmt.Errorf("%w: %s", ErrAbortFinalization, r.Reason)
	case OutcomeRetryable:
		if IsRetryable(r.Err) {
			return r.Err
		}
		return &RetryableError{Message: r.Reason, Cause: r.Err}
	case OutcomeFatal:
		if r.Err != nil {
			return r.Err
		}
		return errors.New(r.Reason)
	default:
		return nil
	}
}

// Classify maps an error returned across the finalizer boundary to a Result.
// A nil error continues; RetryableError retries; ErrAbortFinalization aborts; anything else is fatal.
func Classify(err error) Result {
	switch {
	case err == nil:
		return Continue()
	case errors.Is(err, ErrAbortFinalization):
		return Result{Outcome: OutcomeAbort, Reason: err.Error(), Err: err}
	case IsRetryable(err):
		return Result{Outcome: OutcomeRetryable, Reason: err.Error(), Err: err}
	default:
		return Fatal(err)
	}
}
