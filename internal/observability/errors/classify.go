// Package errors derives low-cardinality error class tags for metrics and failure notifications.
package errors

import (
	"context"
	goerrors "errors"
	"reflect"
	"strings"

	"github.com/target/reclaim/internal/domain/lifecycle"
)

// Known lifecycle classes take precedence over the reflected type name.
var sentinelClasses = []struct {
	err   error
	class string
}{
	{lifecycle.ErrAbortFinalization, "abort"},
	{lifecycle.ErrIllegalDirectDestroy, "illegal_direct_destroy"},
	{lifecycle.ErrEntityNotFound, "entity_not_found"},
	{lifecycle.ErrUnknownType, "unknown_type"},
	{context.DeadlineExceeded, "timeout"},
	{context.Canceled, "canceled"},
}

// Classify returns a normalized error class suitable for tagging metrics/logs.
// Lifecycle sentinels map to fixed names; anything else is named after its innermost concrete type.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if lifecycle.IsRetryable(err) {
		return "retryable"
	}
	for _, s := range sentinelClasses {
		if goerrors.Is(err, s.err) {
			return s.class
		}
	}

	for {
		unwrapped := goerrors.Unwrap(err)
		if unwrapped == nil {
			break
		}
		err = unwrapped
	}

	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}

	name := strings.ToLower(strings.ReplaceAll(t.String(), "*", ""))
	name = strings.ReplaceAll(name, ".", "_")
	if name == "" {
		return "unknown"
	}
	return name
}
