package errors

import (
	"context"
	goerrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/target/reclaim/internal/domain/lifecycle"
)

type customErr struct{}

func (customErr) Error() string { return "custom" }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"retryable", fmt.Errorf("wrap: %w", lifecycle.Retryablef("waiting")), "retryable"},
		{"abort", fmt.Errorf("%w: paused", lifecycle.ErrAbortFinalization), "abort"},
		{"illegal destroy", lifecycle.ErrIllegalDirectDestroy, "illegal_direct_destroy"},
		{"not found", fmt.Errorf("get: %w", lifecycle.ErrEntityNotFound), "entity_not_found"},
		{"timeout", fmt.Errorf("call: %w", context.DeadlineExceeded), "timeout"},
		{"plain", goerrors.New("boom"), "errors_errorstring"},
		{"custom wrapped", fmt.Errorf("outer: %w", customErr{}), "errors_customerr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
