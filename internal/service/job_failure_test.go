package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/reclaim/internal/domain/model"
	"github.com/target/reclaim/internal/observability/notify"
	"github.com/target/reclaim/internal/service/failurenotifier"
)

type capturedFailures struct {
	payloads []notify.JobFailurePayload
}

func (c *capturedFailures) service() *failurenotifier.Service {
	return failurenotifier.NewService(failurenotifier.Options{
		Sinks: []failurenotifier.SinkRegistration{{
			Name: "capture",
			Sink: notify.SinkFunc(func(_ context.Context, p notify.JobFailurePayload) error {
				c.payloads = append(c.payloads, p)
				return nil
			}),
		}},
	})
}

func runningVolumeJob(retryCount, maxRetries int) *model.Job {
	return &model.Job{
		ID:         "job-123",
		Type:       model.JobTypeFinalize,
		Status:     model.JobStatusRunning,
		EntityType: "volume",
		EntityID:   "vol-1",
		RetryCount: retryCount,
		MaxRetries: maxRetries,
		Priority:   80,
	}
}

func TestJobService_FailWithDetails(t *testing.T) {
	ctx := context.Background()

	t.Run("last attempt reports a failed job", func(t *testing.T) {
		captured := &capturedFailures{}
		f := newJobFixture(t, func(o *JobServiceOptions) { o.FailureNotifier = captured.service() })
		job := runningVolumeJob(2, 3)
		f.repo.EXPECT().GetByID(gomock.Any(), job.ID).Return(job, nil)
		f.repo.EXPECT().Fail(gomock.Any(), job.ID, "boom").Return(true, nil)

		ok, err := f.svc.FailWithDetails(ctx, job.ID, "boom", JobFailureDetails{
			Finalizer:  "detach",
			ErrorClass: "webhook_status",
			Metadata:   map[string]string{"component": "finalize_runner", " ": "dropped"},
		})
		require.NoError(t, err)
		require.True(t, ok)

		require.Len(t, captured.payloads, 1)
		p := captured.payloads[0]
		assert.Equal(t, "job-123", p.JobID)
		assert.Equal(t, "finalize", p.JobType)
		assert.Equal(t, "volume", p.EntityType)
		assert.Equal(t, "vol-1", p.EntityID)
		assert.Equal(t, "detach", p.Finalizer)
		assert.Equal(t, 3, p.Attempt)
		assert.Equal(t, notify.SeverityCritical, p.Severity)
		assert.Equal(t, map[string]string{
			"component":   "finalize_runner",
			"retry_count": "3",
			"max_retries": "3",
			"priority":    "80",
			"status":      "failed",
			"error_class": "webhook_status",
		}, p.Metadata)
		assert.Equal(t, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), p.OccurredAt)
	})

	t.Run("budget left reports a pending job", func(t *testing.T) {
		captured := &capturedFailures{}
		f := newJobFixture(t, func(o *JobServiceOptions) { o.FailureNotifier = captured.service() })
		job := runningVolumeJob(0, 3)
		f.repo.EXPECT().GetByID(gomock.Any(), job.ID).Return(job, nil)
		f.repo.EXPECT().Fail(gomock.Any(), job.ID, "boom").Return(true, nil)

		_, err := f.svc.FailWithDetails(ctx, job.ID, "boom", JobFailureDetails{Severity: notify.SeverityError})
		require.NoError(t, err)
		require.Len(t, captured.payloads, 1)
		assert.Equal(t, "pending", captured.payloads[0].Metadata["status"])
		assert.Equal(t, "1", captured.payloads[0].Metadata["retry_count"])
		assert.Equal(t, notify.SeverityError, captured.payloads[0].Severity)
		assert.NotContains(t, captured.payloads[0].Metadata, "error_class")
	})

	t.Run("lost lease sends nothing", func(t *testing.T) {
		captured := &capturedFailures{}
		f := newJobFixture(t, func(o *JobServiceOptions) { o.FailureNotifier = captured.service() })
		f.repo.EXPECT().GetByID(gomock.Any(), "job-9").Return(nil, errors.New("not found"))
		f.repo.EXPECT().Fail(gomock.Any(), "job-9", "boom").Return(false, nil)

		ok, err := f.svc.FailWithDetails(ctx, "job-9", "boom", JobFailureDetails{})
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, captured.payloads)
	})

	t.Run("without a notifier the job is not loaded", func(t *testing.T) {
		f := newJobFixture(t)
		f.repo.EXPECT().Fail(gomock.Any(), "job-1", "boom").Return(true, nil)

		ok, err := f.svc.FailWithDetails(ctx, "job-1", "boom", JobFailureDetails{})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("blank message", func(t *testing.T) {
		f := newJobFixture(t)
		ok, err := f.svc.FailWithDetails(ctx, "job-1", "  ", JobFailureDetails{})
		require.ErrorContains(t, err, "error message required")
		assert.False(t, ok)
	})
}

func TestFailurePayload_UnknownJob(t *testing.T) {
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	p := failurePayload("job-1", nil, "boom", JobFailureDetails{OccurredAt: at}, time.Now)

	assert.Equal(t, "job-1", p.JobID)
	assert.Empty(t, p.EntityType)
	assert.Zero(t, p.Attempt)
	assert.Nil(t, p.Metadata)
	assert.Equal(t, at, p.OccurredAt)
}
