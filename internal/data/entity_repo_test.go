package data

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/reclaim/internal/domain/lifecycle"
	"github.com/target/reclaim/internal/testutil"
)

func newTestEntityRepo(db *sql.DB) (*EntityRepo, *FixedTimeProvider) {
	tp := NewFixedTimeProvider(testutil.TestTime())
	return NewEntityRepo(db, EntityRepoOptions{TimeProvider: tp}), tp
}

func TestEntityRepo_Integration_CreateAndGet(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, _ := newTestEntityRepo(db)
		ctx := context.Background()

		e := testutil.NewEntity("volume", "v1").WithAttribute("size_gb", float64(20)).Build()
		require.NoError(t, repo.Create(ctx, e))

		got, err := repo.Get(ctx, e.Ref())
		require.NoError(t, err)
		assert.Equal(t, lifecycle.StateActive, got.State)
		assert.Nil(t, got.StateAt)
		assert.Nil(t, got.DeleteAt)
		assert.Equal(t, float64(20), got.Attributes["size_gb"])

		err = repo.Create(ctx, testutil.NewEntity("volume", "v1").Build())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrEntityExists)

		_, err = repo.Get(ctx, lifecycle.Ref{Type: "volume", ID: "missing"})
		assert.ErrorIs(t, err, lifecycle.ErrEntityNotFound)

		exists, err := repo.Exists(ctx, e.Ref())
		require.NoError(t, err)
		assert.True(t, exists)
	})
}

func TestEntityRepo_Create_Validation(t *testing.T) {
	repo := NewEntityRepo(nil, EntityRepoOptions{})

	err := repo.Create(context.Background(), &lifecycle.Entity{Type: "volume"})
	require.Error(t, err)

	err = repo.Create(context.Background(), &lifecycle.Entity{Type: "volume", ID: "v1", State: "gone"})
	require.Error(t, err)
}

func TestEntityRepo_Integration_MarkDeletedOnce(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, _ := newTestEntityRepo(db)
		ctx := context.Background()
		e := testutil.NewEntity("volume", "v1").DeleteAt(testutil.TestTime().Add(time.Hour)).Build()
		require.NoError(t, repo.Create(ctx, e))

		at := testutil.TestTime().Add(time.Minute)
		changed, err := repo.MarkDeleted(ctx, e.Ref(), at)
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = repo.MarkDeleted(ctx, e.Ref(), at.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, changed)

		got, err := repo.Get(ctx, e.Ref())
		require.NoError(t, err)
		assert.Equal(t, lifecycle.StateDeleted, got.State)
		require.NotNil(t, got.StateAt)
		assert.True(t, got.StateAt.Equal(at))
		assert.Nil(t, got.DeleteAt)

		_, err = repo.MarkDeleted(ctx, lifecycle.Ref{Type: "volume", ID: "missing"}, at)
		assert.ErrorIs(t, err, lifecycle.ErrEntityNotFound)
	})
}

func TestEntityRepo_Integration_ConcurrentMarkDeleted(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, _ := newTestEntityRepo(db)
		ctx := context.Background()
		e := testutil.NewEntity("volume", "v1").Build()
		require.NoError(t, repo.Create(ctx, e))

		results := make(chan bool, 4)
		fns := make([]func() error, 4)
		for i := range fns {
			fns[i] = func() error {
				changed, err := repo.MarkDeleted(ctx, e.Ref(), testutil.TestTime())
				results <- changed
				return err
			}
		}
		for _, err := range testutil.RunConcurrent(fns...) {
			require.NoError(t, err)
		}
		close(results)

		transitions := 0
		for changed := range results {
			if changed {
				transitions++
			}
		}
		assert.Equal(t, 1, transitions)
	})
}

func TestEntityRepo_Integration_ScheduleAndAttributes(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, _ := newTestEntityRepo(db)
		ctx := context.Background()
		e := testutil.NewEntity("volume", "v1").Build()
		require.NoError(t, repo.Create(ctx, e))

		due := testutil.TestTime().Add(-time.Minute)
		require.NoError(t, repo.ScheduleDeletion(ctx, e.Ref(), due))
		require.NoError(t, repo.UpdateAttributes(ctx, e.Ref(), map[string]any{"zone": "a"}))

		got, err := repo.Get(ctx, e.Ref())
		require.NoError(t, err)
		require.NotNil(t, got.DeleteAt)
		assert.True(t, got.DeleteAt.Equal(due))
		assert.Equal(t, map[string]any{"zone": "a"}, got.Attributes)

		refs, err := repo.ListDueForErase(ctx, testutil.TestTime(), 10)
		require.NoError(t, err)
		assert.Equal(t, []lifecycle.Ref{e.Ref()}, refs)

		err = repo.ScheduleDeletion(ctx, lifecycle.Ref{Type: "volume", ID: "missing"}, due)
		assert.ErrorIs(t, err, lifecycle.ErrEntityNotFound)
		err = repo.UpdateAttributes(ctx, lifecycle.Ref{Type: "volume", ID: "missing"}, nil)
		assert.ErrorIs(t, err, lifecycle.ErrEntityNotFound)
	})
}

func TestEntityRepo_Integration_ListPendingFinalization(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, _ := newTestEntityRepo(db)
		ctx := context.Background()
		base := testutil.TestTime()

		old := testutil.NewEntity("volume", "old").Deleted(base.Add(-time.Hour)).Build()
		fresh := testutil.NewEntity("volume", "fresh").Deleted(base).Build()
		live := testutil.NewEntity("volume", "live").Build()
		for _, e := range []*lifecycle.Entity{old, fresh, live} {
			require.NoError(t, repo.Create(ctx, e))
		}

		refs, err := repo.ListPendingFinalization(ctx, base.Add(-10*time.Minute), 10)
		require.NoError(t, err)
		assert.Equal(t, []lifecycle.Ref{old.Ref()}, refs)
	})
}

func TestEntityRepo_Integration_DeleteWithChildren(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, _ := newTestEntityRepo(db)
		ctx := context.Background()

		parent := testutil.NewEntity("server", "s1").Build()
		child := testutil.NewEntity("volume", "v1").ChildOf(parent.Ref(), "volumes").Build()
		require.NoError(t, repo.Create(ctx, parent))
		require.NoError(t, repo.Create(ctx, child))

		_, err := repo.Delete(ctx, parent.Ref())
		require.Error(t, err)
		assert.True(t, lifecycle.IsRetryable(err))
		var retryable *lifecycle.RetryableError
		assert.True(t, errors.As(err, &retryable))

		removed, err := repo.Delete(ctx, child.Ref())
		require.NoError(t, err)
		assert.True(t, removed)

		removed, err = repo.Delete(ctx, parent.Ref())
		require.NoError(t, err)
		assert.True(t, removed)

		removed, err = repo.Delete(ctx, parent.Ref())
		require.NoError(t, err)
		assert.False(t, removed)
	})
}

func TestAssociationRepo_Integration(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, _ := newTestEntityRepo(db)
		ctx := context.Background()

		parent := testutil.NewEntity("server", "s1").Build()
		other := testutil.NewEntity("server", "s2").Build()
		require.NoError(t, repo.Create(ctx, parent))
		require.NoError(t, repo.Create(ctx, other))

		a := testutil.NewEntity("volume", "a").ChildOf(parent.Ref(), "volumes").Build()
		b := testutil.NewEntity("volume", "b").ChildOf(parent.Ref(), "volumes").Deleted(testutil.TestTime()).Build()
		c := testutil.NewEntity("nic", "c").ChildOf(parent.Ref(), "nics").Build()
		d := testutil.NewEntity("volume", "d").ChildOf(other.Ref(), "volumes").Build()
		for _, e := range []*lifecycle.Entity{a, b, c, d} {
			require.NoError(t, repo.Create(ctx, e))
		}

		assoc := repo.Association("server", "volumes")

		n, err := assoc.Count(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, 2, n, "count includes deleted dependents awaiting finalization")

		active, err := assoc.ListNotDeleted(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "a", active[0].ID)

		n, err = repo.Association("server", "nics").Count(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = assoc.Count(ctx, "nobody")
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

type rowsResult struct {
	n   int64
	err error
}

func (rowsResult) LastInsertId() (int64, error) { return 0, nil }
func (r rowsResult) RowsAffected() (int64, error) { return r.n, r.err }

func TestAffectedOne(t *testing.T) {
	ok, err := affectedOne(rowsResult{n: 1}, "mark deleted")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = affectedOne(rowsResult{n: 0}, "mark deleted")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = affectedOne(rowsResult{err: errors.New("driver gone")}, "delete entity")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete entity")
	assert.Contains(t, err.Error(), "driver gone")
}
