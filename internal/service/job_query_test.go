package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/reclaim/internal/data"
	"github.com/target/reclaim/internal/domain/lifecycle"
	"github.com/target/reclaim/internal/domain/model"
	apperrors "github.com/target/reclaim/internal/errors"
)

func TestJobService_Stats(t *testing.T) {
	f := newJobFixture(t)
	want := &model.JobStats{Pending: 5, Running: 2, Completed: 10, Failed: 1}
	f.repo.EXPECT().Stats(gomock.Any(), model.JobTypeFinalize).Return(want, nil)

	got, err := f.svc.Stats(context.Background(), model.JobTypeFinalize)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestJobService_Get(t *testing.T) {
	f := newJobFixture(t)
	ctx := context.Background()

	job := &model.Job{ID: "job-1", Status: model.JobStatusCompleted}
	f.repo.EXPECT().GetByID(gomock.Any(), "job-1").Return(job, nil)
	got, err := f.svc.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Same(t, job, got)

	f.repo.EXPECT().GetByID(gomock.Any(), "gone").Return(nil, data.ErrJobNotFound)
	_, err = f.svc.Get(ctx, "gone")
	require.ErrorIs(t, err, data.ErrJobNotFound)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = f.svc.Get(ctx, "")
	assert.True(t, apperrors.IsValidation(err))
}

func TestJobService_List(t *testing.T) {
	ctx := context.Background()

	t.Run("paging is clamped", func(t *testing.T) {
		f := newJobFixture(t)
		f.repo.EXPECT().List(gomock.Any(), &model.JobListOptions{Limit: 1000}).Return(nil, nil)
		_, err := f.svc.List(ctx, model.JobListOptions{Limit: 2000, Offset: -5})
		require.NoError(t, err)

		f.repo.EXPECT().List(gomock.Any(), &model.JobListOptions{Limit: 50, Offset: 10}).Return(nil, nil)
		_, err = f.svc.List(ctx, model.JobListOptions{Offset: 10})
		require.NoError(t, err)
	})

	t.Run("filters pass through", func(t *testing.T) {
		f := newJobFixture(t)
		failed := model.JobStatusFailed
		want := []*model.Job{{ID: "job-1"}}
		f.repo.EXPECT().List(gomock.Any(), &model.JobListOptions{
			Status: &failed, EntityType: "volume", EntityID: "v1", Limit: 50,
		}).Return(want, nil)

		got, err := f.svc.List(ctx, model.JobListOptions{Status: &failed, EntityType: "volume", EntityID: "v1"})
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("invalid filters", func(t *testing.T) {
		f := newJobFixture(t)
		bogus := model.JobStatus("stuck")
		_, err := f.svc.List(ctx, model.JobListOptions{Status: &bogus})
		assert.Equal(t, "status", apperrors.GetField(err))

		_, err = f.svc.List(ctx, model.JobListOptions{EntityID: "v1"})
		assert.Equal(t, "entity_type", apperrors.GetField(err))
	})

	t.Run("store error", func(t *testing.T) {
		f := newJobFixture(t)
		f.repo.EXPECT().List(gomock.Any(), gomock.Any()).Return(nil, errors.New("database error"))
		_, err := f.svc.List(ctx, model.JobListOptions{})
		require.ErrorContains(t, err, "list jobs")
	})
}

func TestJobService_HasActiveFinalize(t *testing.T) {
	f := newJobFixture(t)
	ctx := context.Background()
	ref := lifecycle.Ref{Type: "volume", ID: "vol-1"}

	f.repo.EXPECT().ExistsActiveForEntity(gomock.Any(), ref).Return(true, nil)
	active, err := f.svc.HasActiveFinalize(ctx, ref)
	require.NoError(t, err)
	assert.True(t, active)

	f.repo.EXPECT().ExistsActiveForEntity(gomock.Any(), ref).Return(false, errors.New("db down"))
	_, err = f.svc.HasActiveFinalize(ctx, ref)
	require.ErrorContains(t, err, "check active job for volume/vol-1")
}

func TestJobService_HasFinalizeHistory(t *testing.T) {
	f := newJobFixture(t)
	ctx := context.Background()
	ref := lifecycle.Ref{Type: "volume", ID: "vol-1"}

	f.repo.EXPECT().ExistsForEntity(gomock.Any(), ref).Return(true, nil)
	seen, err := f.svc.HasFinalizeHistory(ctx, ref)
	require.NoError(t, err)
	assert.True(t, seen)

	f.repo.EXPECT().ExistsForEntity(gomock.Any(), ref).Return(false, errors.New("db down"))
	_, err = f.svc.HasFinalizeHistory(ctx, ref)
	require.ErrorContains(t, err, "check job history for volume/vol-1")
}

func TestJobService_Delete(t *testing.T) {
	f := newJobFixture(t)
	ctx := context.Background()

	f.repo.EXPECT().Delete(gomock.Any(), "job-1").Return(nil)
	require.NoError(t, f.svc.Delete(ctx, "job-1"))

	assert.True(t, apperrors.IsValidation(f.svc.Delete(ctx, "")))

	f.repo.EXPECT().Delete(gomock.Any(), "job-2").Return(data.ErrJobNotDeletable)
	err := f.svc.Delete(ctx, "job-2")
	require.ErrorIs(t, err, data.ErrJobNotDeletable)
	assert.True(t, apperrors.IsConflict(err))
	assert.Contains(t, err.Error(), "delete job job-2")
}
