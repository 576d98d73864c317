package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/reclaim/internal/domain/lifecycle"
	"github.com/target/reclaim/internal/domain/model"
	"github.com/target/reclaim/internal/testutil"
)

func TestBuildJobListQuery(t *testing.T) {
	jobType := model.JobTypeFinalize
	status := model.JobStatusPending

	t.Run("defaults", func(t *testing.T) {
		query, args := buildJobListQuery(&model.JobListOptions{})
		assert.NotContains(t, query, "WHERE")
		assert.Contains(t, query, "ORDER BY created_at DESC, id DESC")
		assert.Equal(t, []any{50, 0}, args)
	})

	t.Run("all filters", func(t *testing.T) {
		query, args := buildJobListQuery(&model.JobListOptions{
			Type:       &jobType,
			Status:     &status,
			EntityType: "volume",
			EntityID:   "v1",
			Limit:      5000,
			Offset:     10,
		})
		assert.Contains(t, query, "type = $1")
		assert.Contains(t, query, "status = $2")
		assert.Contains(t, query, "entity_type = $3")
		assert.Contains(t, query, "entity_id = $4")
		assert.Contains(t, query, "LIMIT $5 OFFSET $6")
		assert.Equal(t, []any{"finalize", "pending", "volume", "v1", 1000, 10}, args)
	})
}

func TestJobRepo_Create(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	tests := []struct {
		name    string
		req     *model.CreateJobRequest
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid finalize job",
			req:  testutil.NewJobRequest().WithEntity("volume", "v1").WithPriority(80).Build(),
		},
		{
			name: "scheduled in the future",
			req: testutil.NewJobRequest().
				WithScheduledAt(time.Now().Add(time.Hour)).
				Build(),
		},
		{
			name: "missing entity",
			req: &model.CreateJobRequest{
				Type:    model.JobTypeFinalize,
				Payload: json.RawMessage(`{}`),
			},
			wantErr: true,
			errMsg:  "require entity_type and entity_id",
		},
		{
			name: "invalid job type",
			req: &model.CreateJobRequest{
				Type:       "invalid",
				Payload:    json.RawMessage(`{}`),
				EntityType: "volume",
				EntityID:   "v1",
			},
			wantErr: true,
			errMsg:  "invalid job type",
		},
		{
			name: "invalid JSON payload",
			req: &model.CreateJobRequest{
				Type:       model.JobTypeFinalize,
				Payload:    json.RawMessage(`{"entity_type":`),
				EntityType: "volume",
				EntityID:   "v1",
			},
			wantErr: true,
			errMsg:  "payload must be valid JSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testutil.WithAutoDB(t, func(db *sql.DB) {
				repo := NewJobRepo(db, JobRepoOptions{})

				job, err := repo.Create(context.Background(), tt.req)
				if tt.wantErr {
					require.Error(t, err)
					assert.Contains(t, err.Error(), tt.errMsg)
					return
				}

				require.NoError(t, err)
				require.NotNil(t, job)
				assert.NotEmpty(t, job.ID)
				assert.Equal(t, model.JobStatusPending, job.Status)
				assert.Equal(t, tt.req.Priority, job.Priority)
				assert.Equal(t, tt.req.EntityType, job.EntityType)
				assert.Equal(t, tt.req.EntityID, job.EntityID)
				assert.Equal(t, model.DefaultMaxRetries, job.MaxRetries)
				assert.Zero(t, job.RetryCount)

				payload, err := model.ParseFinalizePayload(job.Payload)
				require.NoError(t, err)
				assert.Equal(t, tt.req.EntityID, payload.EntityID)

				if tt.req.ScheduledAt != nil {
					assert.WithinDuration(t, *tt.req.ScheduledAt, job.ScheduledAt, time.Second)
				}
			})
		})
	}
}

func TestJobRepo_ReserveNext(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	t.Run("no jobs available", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			repo := NewJobRepo(db, JobRepoOptions{})
			_, err := repo.ReserveNext(context.Background(), model.JobTypeFinalize, 30)
			require.ErrorIs(t, err, model.ErrNoJobsAvailable)
		})
	})

	t.Run("invalid job type", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			repo := NewJobRepo(db, JobRepoOptions{})
			_, err := repo.ReserveNext(context.Background(), "invalid", 30)
			require.Error(t, err)
			assert.NotErrorIs(t, err, model.ErrNoJobsAvailable)
		})
	})

	t.Run("highest priority first with lease", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			repo := NewJobRepo(db, JobRepoOptions{})
			ctx := context.Background()

			_, err := repo.Create(ctx, testutil.NewJobRequest().WithPriority(25).Build())
			require.NoError(t, err)
			high, err := repo.Create(ctx, testutil.NewJobRequest().WithPriority(80).Build())
			require.NoError(t, err)

			job, err := repo.ReserveNext(ctx, model.JobTypeFinalize, 30)
			require.NoError(t, err)
			assert.Equal(t, high.ID, job.ID)
			assert.Equal(t, model.JobStatusRunning, job.Status)
			require.NotNil(t, job.StartedAt)
			require.NotNil(t, job.LeaseExpiresAt)
			assert.InDelta(t, 30, job.LeaseExpiresAt.Sub(*job.StartedAt).Seconds(), 1.0)
		})
	})

	t.Run("future jobs are not reserved", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			repo := NewJobRepo(db, JobRepoOptions{})
			ctx := context.Background()

			_, err := repo.Create(ctx, testutil.NewJobRequest().WithScheduledAt(time.Now().Add(time.Hour)).Build())
			require.NoError(t, err)

			_, err = repo.ReserveNext(ctx, model.JobTypeFinalize, 30)
			require.ErrorIs(t, err, model.ErrNoJobsAvailable)
		})
	})
}

func TestJobRepo_Complete(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, JobRepoOptions{})
		ctx := context.Background()

		job, err := repo.Create(ctx, testutil.NewJobRequest().Build())
		require.NoError(t, err)

		// A pending job cannot be completed.
		ok, err := repo.Complete(ctx, job.ID)
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = repo.ReserveNext(ctx, model.JobTypeFinalize, 30)
		require.NoError(t, err)

		ok, err = repo.Complete(ctx, job.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := repo.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, got.Status)
		assert.NotNil(t, got.CompletedAt)
		assert.Nil(t, got.LeaseExpiresAt)

		ok, err = repo.Complete(ctx, uuid.NewString())
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestJobRepo_Fail(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		tp := NewFixedTimeProvider(testutil.TestTime())
		repo := NewJobRepo(db, JobRepoOptions{RetryDelay: 10 * time.Second, TimeProvider: tp})
		ctx := context.Background()

		job, err := repo.Create(ctx, testutil.NewJobRequest().WithMaxRetries(2).Build())
		require.NoError(t, err)

		_, err = repo.ReserveNext(ctx, model.JobTypeFinalize, 30)
		require.NoError(t, err)

		ok, err := repo.Fail(ctx, job.ID, "first")
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := repo.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusPending, got.Status)
		assert.Equal(t, 1, got.RetryCount)
		assert.Equal(t, testutil.TestTime().Add(10*time.Second), got.ScheduledAt.UTC())

		tp.AddTime(11 * time.Second)
		_, err = repo.ReserveNext(ctx, model.JobTypeFinalize, 30)
		require.NoError(t, err)

		ok, err = repo.Fail(ctx, job.ID, "second")
		require.NoError(t, err)
		assert.True(t, ok)

		got, err = repo.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, got.Status)
		assert.Equal(t, 2, got.RetryCount)
		require.NotNil(t, got.LastError)
		assert.Equal(t, "second", *got.LastError)

		assert.True(t, jobHalted(t, db, job.ID), "spent retries halt the entity's finalization")

		ok, err = repo.Fail(ctx, uuid.NewString(), "error")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func jobHalted(t *testing.T, db *sql.DB, id string) bool {
	t.Helper()
	var halted bool
	require.NoError(t, db.QueryRowContext(context.Background(), `SELECT halted FROM jobs WHERE id = $1`, id).Scan(&halted))
	return halted
}

func TestJobRepo_Halt(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, JobRepoOptions{})
		ctx := context.Background()

		job, err := repo.Create(ctx, testutil.NewJobRequest().Build())
		require.NoError(t, err)

		ok, err := repo.Halt(ctx, job.ID, "dependents remain")
		require.NoError(t, err)
		assert.False(t, ok, "pending jobs are not halted")

		_, err = repo.ReserveNext(ctx, model.JobTypeFinalize, 30)
		require.NoError(t, err)
		ok, err = repo.Halt(ctx, job.ID, "dependents remain")
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := repo.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, got.Status)
		require.NotNil(t, got.LastError)
		assert.Equal(t, "dependents remain", *got.LastError)
		assert.True(t, jobHalted(t, db, job.ID))
	})
}

func TestJobRepo_Retry(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		tp := NewFixedTimeProvider(testutil.TestTime())
		repo := NewJobRepo(db, JobRepoOptions{TimeProvider: tp})
		ctx := context.Background()

		job, err := repo.Create(ctx, testutil.NewJobRequest().WithMaxRetries(1).WithPriority(50).Build())
		require.NoError(t, err)

		// Retrying far past max_retries keeps the job pending.
		for attempt := 1; attempt <= 4; attempt++ {
			reserved, rerr := repo.ReserveNext(ctx, model.JobTypeFinalize, 30)
			require.NoError(t, rerr)
			require.Equal(t, job.ID, reserved.ID)

			ok, rerr := repo.Retry(ctx, job.ID, model.RetryJobRequest{
				Delay:    12 * time.Second,
				Priority: 80,
				Reason:   "entity volume/v1 waiting on 2 dependents via snapshots",
			})
			require.NoError(t, rerr)
			require.True(t, ok)

			got, rerr := repo.GetByID(ctx, job.ID)
			require.NoError(t, rerr)
			assert.Equal(t, model.JobStatusPending, got.Status)
			assert.Equal(t, attempt, got.RetryCount)
			assert.Equal(t, 80, got.Priority)
			assert.Equal(t, tp.Now().Add(12*time.Second), got.ScheduledAt.UTC())
			require.NotNil(t, got.LastError)
			assert.Contains(t, *got.LastError, "waiting on 2 dependents")

			_, rerr = repo.ReserveNext(ctx, model.JobTypeFinalize, 30)
			require.ErrorIs(t, rerr, model.ErrNoJobsAvailable, "retry delay must hold the job back")
			tp.AddTime(13 * time.Second)
		}

		t.Run("not running", func(t *testing.T) {
			ok, rerr := repo.Retry(ctx, job.ID, model.RetryJobRequest{Delay: time.Second, Priority: 80})
			require.NoError(t, rerr)
			assert.False(t, ok)
		})

		t.Run("invalid priority", func(t *testing.T) {
			_, rerr := repo.Retry(ctx, job.ID, model.RetryJobRequest{Priority: 101})
			require.Error(t, rerr)
		})
	})
}

func TestJobRepo_Heartbeat(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		tp := NewFixedTimeProvider(testutil.TestTime())
		repo := NewJobRepo(db, JobRepoOptions{TimeProvider: tp})
		ctx := context.Background()

		job, err := repo.Create(ctx, testutil.NewJobRequest().Build())
		require.NoError(t, err)

		ok, err := repo.Heartbeat(ctx, job.ID, 30)
		require.NoError(t, err)
		assert.False(t, ok, "pending jobs have no lease to extend")

		_, err = repo.ReserveNext(ctx, model.JobTypeFinalize, 30)
		require.NoError(t, err)

		tp.AddTime(20 * time.Second)
		ok, err = repo.Heartbeat(ctx, job.ID, 60)
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := repo.GetByID(ctx, job.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LeaseExpiresAt)
		assert.Equal(t, tp.Now().Add(60*time.Second), got.LeaseExpiresAt.UTC())

		_, err = repo.Heartbeat(ctx, job.ID, 0)
		require.Error(t, err)
	})
}

func TestJobRepo_Stats(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, JobRepoOptions{})
		ctx := context.Background()

		for range 3 {
			_, err := repo.Create(ctx, testutil.NewJobRequest().Build())
			require.NoError(t, err)
		}
		running, err := repo.ReserveNext(ctx, model.JobTypeFinalize, 30)
		require.NoError(t, err)
		done, err := repo.ReserveNext(ctx, model.JobTypeFinalize, 30)
		require.NoError(t, err)
		_, err = repo.Complete(ctx, done.ID)
		require.NoError(t, err)

		stats, err := repo.Stats(ctx, model.JobTypeFinalize)
		require.NoError(t, err)
		assert.Equal(t, model.JobStats{Pending: 1, Running: 1, Completed: 1}, *stats)
		assert.NotEqual(t, running.ID, done.ID)
	})
}

func TestJobRepo_RequeueExpired(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		tp := NewFixedTimeProvider(testutil.TestTime())
		repo := NewJobRepo(db, JobRepoOptions{TimeProvider: tp})
		ctx := context.Background()

		job, err := repo.Create(ctx, testutil.NewJobRequest().Build())
		require.NoError(t, err)

		reserved, err := repo.ReserveNext(ctx, model.JobTypeFinalize, 1)
		require.NoError(t, err)
		assert.Equal(t, job.ID, reserved.ID)

		tp.AddTime(2 * time.Second)

		count, err := repo.requeueExpired(ctx, model.JobTypeFinalize)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		again, err := repo.ReserveNext(ctx, model.JobTypeFinalize, 30)
		require.NoError(t, err)
		assert.Equal(t, job.ID, again.ID)
	})
}

func TestJobRepo_ExistsActiveForEntity(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, JobRepoOptions{})
		ctx := context.Background()
		ref := lifecycle.Ref{Type: "volume", ID: uuid.NewString()}

		exists, err := repo.ExistsActiveForEntity(ctx, ref)
		require.NoError(t, err)
		assert.False(t, exists)

		job, err := repo.Create(ctx, testutil.NewJobRequest().WithEntity(ref.Type, ref.ID).Build())
		require.NoError(t, err)

		exists, err = repo.ExistsActiveForEntity(ctx, ref)
		require.NoError(t, err)
		assert.True(t, exists)

		_, err = repo.ReserveNext(ctx, model.JobTypeFinalize, 30)
		require.NoError(t, err)
		exists, err = repo.ExistsActiveForEntity(ctx, ref)
		require.NoError(t, err)
		assert.True(t, exists, "running jobs count as active")

		_, err = repo.Complete(ctx, job.ID)
		require.NoError(t, err)
		exists, err = repo.ExistsActiveForEntity(ctx, ref)
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestJobRepo_ExistsForEntity(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, JobRepoOptions{})
		ctx := context.Background()
		ref := lifecycle.Ref{Type: "volume", ID: uuid.NewString()}

		exists, err := repo.ExistsForEntity(ctx, ref)
		require.NoError(t, err)
		assert.False(t, exists)

		job, err := repo.Create(ctx, testutil.NewJobRequest().WithEntity(ref.Type, ref.ID).Build())
		require.NoError(t, err)
		_, err = repo.ReserveNext(ctx, model.JobTypeFinalize, 30)
		require.NoError(t, err)
		_, err = repo.Halt(ctx, job.ID, "aborted")
		require.NoError(t, err)

		exists, err = repo.ExistsForEntity(ctx, ref)
		require.NoError(t, err)
		assert.True(t, exists, "settled jobs still count as history")
	})
}

func TestJobRepo_List(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, JobRepoOptions{})
		ctx := context.Background()

		for _, id := range []string{"v1", "v2", "v3"} {
			_, err := repo.Create(ctx, testutil.NewJobRequest().WithEntity("volume", id).Build())
			require.NoError(t, err)
		}
		_, err := repo.Create(ctx, testutil.NewJobRequest().WithEntity("snapshot", "s1").Build())
		require.NoError(t, err)

		all, err := repo.List(ctx, nil)
		require.NoError(t, err)
		assert.Len(t, all, 4)

		volumes, err := repo.List(ctx, &model.JobListOptions{EntityType: "volume"})
		require.NoError(t, err)
		assert.Len(t, volumes, 3)

		one, err := repo.List(ctx, &model.JobListOptions{EntityType: "volume", EntityID: "v2"})
		require.NoError(t, err)
		require.Len(t, one, 1)
		assert.Equal(t, "v2", one[0].EntityID)

		page, err := repo.List(ctx, &model.JobListOptions{Limit: 2, Offset: 2})
		require.NoError(t, err)
		assert.Len(t, page, 2)

		running := model.JobStatusRunning
		none, err := repo.List(ctx, &model.JobListOptions{Status: &running})
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestJobRepo_Delete(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, JobRepoOptions{})
		ctx := context.Background()

		pending, err := repo.Create(ctx, testutil.NewJobRequest().Build())
		require.NoError(t, err)
		require.NoError(t, repo.Delete(ctx, pending.ID))
		_, err = repo.GetByID(ctx, pending.ID)
		require.ErrorIs(t, err, ErrJobNotFound)

		_, err = repo.Create(ctx, testutil.NewJobRequest().Build())
		require.NoError(t, err)
		running, err := repo.ReserveNext(ctx, model.JobTypeFinalize, 30)
		require.NoError(t, err)
		require.ErrorIs(t, repo.Delete(ctx, running.ID), ErrJobNotDeletable)

		require.ErrorIs(t, repo.Delete(ctx, uuid.NewString()), ErrJobNotFound)
	})
}
