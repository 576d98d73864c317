package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/reclaim/internal/domain/lifecycle"
	"github.com/target/reclaim/internal/domain/model"
	"github.com/target/reclaim/internal/testutil"
)

// lifecycleHarness wires a LifecycleService over the in-memory store with three types:
// server -> volumes (cascaded) -> snapshots (cascaded).
type lifecycleHarness struct {
	store    *testutil.MemStore
	enq      *testutil.RecordingEnqueuer
	registry *lifecycle.Registry
	svc      *LifecycleService
	handler  *FinalizeJobHandler
	settler  *fakeSettler

	mu        sync.Mutex
	detached  []string
	destroyed []string
}

func newLifecycleHarness(t *testing.T) *lifecycleHarness {
	t.Helper()
	h := &lifecycleHarness{
		store:    testutil.NewMemStore(),
		enq:      &testutil.RecordingEnqueuer{},
		registry: lifecycle.NewRegistry(),
		settler:  &fakeSettler{},
	}

	h.registry.MustRegister(lifecycle.NewType("server").
		EraseDependents(lifecycle.DependencyDescriptor{
			Association: "volumes",
			Repo:        h.store.Association("server", "volumes"),
		}).
		AfterDestroy(h.recordDestroy))

	h.registry.MustRegister(lifecycle.NewType("volume").
		EraseDependents(lifecycle.DependencyDescriptor{
			Association: "snapshots",
			Repo:        h.store.Association("volume", "snapshots"),
		}).
		AddFinalizer("detach", h.detach).
		Erasable(func(e *lifecycle.Entity) (bool, string) {
			if v, _ := e.Attribute("locked"); v == true {
				return false, "volume is locked"
			}
			return true, ""
		}).
		AfterDestroy(h.recordDestroy))

	h.registry.MustRegister(lifecycle.NewType("snapshot").AfterDestroy(h.recordDestroy))

	h.svc = MustNewLifecycleService(LifecycleServiceOptions{
		Store:    h.store,
		Registry: h.registry,
		Enqueuer: h.enq,
		Config:   LifecycleConfig{Now: testutil.TestTime},
	})

	handler, err := NewFinalizeJobHandler(FinalizeJobHandlerOptions{Lifecycle: h.svc, Jobs: h.settler})
	require.NoError(t, err)
	h.handler = handler
	return h
}

// detach simulates a remote call and persists its completion by clearing remote_id.
func (h *lifecycleHarness) detach(ctx context.Context, e *lifecycle.Entity) lifecycle.Result {
	if v, ok := e.Attribute("remote_id"); !ok || v == nil {
		return lifecycle.Continue()
	}
	h.mu.Lock()
	h.detached = append(h.detached, e.ID)
	h.mu.Unlock()

	e.SetAttribute("remote_id", nil)
	if err := h.store.UpdateAttributes(ctx, e.Ref(), e.Attributes); err != nil {
		return lifecycle.Retry(err.Error())
	}
	return lifecycle.Continue()
}

func (h *lifecycleHarness) recordDestroy(_ context.Context, e *lifecycle.Entity) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.destroyed = append(h.destroyed, e.Key())
	return nil
}

func (h *lifecycleHarness) put(e *lifecycle.Entity) *lifecycle.Entity {
	h.store.Put(e)
	return e
}

func (h *lifecycleHarness) load(t *testing.T, ref lifecycle.Ref) *lifecycle.Entity {
	t.Helper()
	e, err := h.store.Get(context.Background(), ref)
	require.NoError(t, err)
	return e
}

// serverWithVolumes stores server V and volumes W1..Wn.
func (h *lifecycleHarness) serverWithVolumes(n int) (*lifecycle.Entity, []*lifecycle.Entity) {
	v := h.put(testutil.NewEntity("server", "V").Build())
	ws := make([]*lifecycle.Entity, 0, n)
	for i := 1; i <= n; i++ {
		w := testutil.NewEntity("volume", fmt.Sprintf("W%d", i)).
			ChildOf(v.Ref(), "volumes").
			WithAttribute("remote_id", fmt.Sprintf("vol-%d", i)).
			Build()
		ws = append(ws, h.put(w))
	}
	return v, ws
}

// drain runs every recorded finalize job until the queue is empty, re-queuing retries.
func (h *lifecycleHarness) drain(t *testing.T, maxSteps int) int {
	t.Helper()
	ctx := context.Background()
	queue := h.enq.Refs()
	h.enq.Reset()
	steps := 0
	for len(queue) > 0 {
		steps++
		require.LessOrEqual(t, steps, maxSteps, "finalization did not converge")
		ref := queue[0]
		queue = queue[1:]
		report := h.handler.Evaluate(ctx, ref)
		require.NotEqual(t, FinalizeFatal, report.Outcome, report.Result.Reason)
		if report.Outcome == FinalizeRetry {
			queue = append(queue, ref)
		}
		queue = append(queue, h.enq.Refs()...)
		h.enq.Reset()
	}
	return steps
}

func TestLifecycle_EraseCascadesToVolumes(t *testing.T) {
	h := newLifecycleHarness(t)
	ctx := context.Background()
	v, ws := h.serverWithVolumes(4)

	ok, err := h.svc.Erase(ctx, v.Ref())
	require.NoError(t, err)
	assert.True(t, ok)

	assert.True(t, h.load(t, v.Ref()).Deleted())
	for _, w := range ws {
		assert.True(t, h.load(t, w.Ref()).Deleted(), w.ID)
	}

	jobs := h.enq.Jobs()
	require.Len(t, jobs, 5)
	for i, w := range ws {
		assert.Equal(t, w.Ref(), jobs[i].Ref)
	}
	assert.Equal(t, v.Ref(), jobs[4].Ref)
	assert.Equal(t, 50, jobs[4].Opts.Priority)
}

func TestLifecycle_ParentWaitsOnDependents(t *testing.T) {
	h := newLifecycleHarness(t)
	ctx := context.Background()
	v, ws := h.serverWithVolumes(4)
	_, err := h.svc.Erase(ctx, v.Ref())
	require.NoError(t, err)
	h.enq.Reset()

	res := h.svc.FinalizeAndDestroy(ctx, h.load(t, v.Ref()))
	assert.Equal(t, lifecycle.OutcomeRetryable, res.Outcome)
	assert.Equal(t, "wait_for_no_dependents:volumes", res.Finalizer)
	assert.Contains(t, res.Reason, "server V waiting on 4 dependents via volumes")
	assert.True(t, lifecycle.IsRetryable(res.Error()))

	exists, err := h.store.Exists(ctx, v.Ref())
	require.NoError(t, err)
	assert.True(t, exists)
	for _, w := range ws {
		exists, err := h.store.Exists(ctx, w.Ref())
		require.NoError(t, err)
		assert.True(t, exists)
	}
	// Dependents were already erased; the retry enqueues nothing new.
	assert.Empty(t, h.enq.Jobs())
}

func TestLifecycle_ParentDestroyedAfterDependents(t *testing.T) {
	h := newLifecycleHarness(t)
	ctx := context.Background()
	v, ws := h.serverWithVolumes(4)
	_, err := h.svc.Erase(ctx, v.Ref())
	require.NoError(t, err)

	for _, w := range ws {
		res := h.svc.FinalizeAndDestroy(ctx, h.load(t, w.Ref()))
		require.Equal(t, lifecycle.OutcomeContinue, res.Outcome, res.Reason)
	}
	res := h.svc.FinalizeAndDestroy(ctx, h.load(t, v.Ref()))
	require.Equal(t, lifecycle.OutcomeContinue, res.Outcome, res.Reason)

	assert.Zero(t, h.store.Len())
	assert.Equal(t, []string{"volume/W1", "volume/W2", "volume/W3", "volume/W4", "server/V"}, h.destroyed)
	assert.ElementsMatch(t, []string{"W1", "W2", "W3", "W4"}, h.detached)
}

func TestLifecycle_SafeEraseDenied(t *testing.T) {
	h := newLifecycleHarness(t)
	ctx := context.Background()
	e := h.put(testutil.NewEntity("volume", "locked").WithAttribute("locked", true).Build())

	ok, err := h.svc.SafeErase(ctx, e)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"volume is locked"}, e.Errors)
	assert.Equal(t, lifecycle.StateActive, e.State)
	assert.Equal(t, lifecycle.StateActive, h.load(t, e.Ref()).State)
	assert.Empty(t, h.enq.Jobs())
}

func TestLifecycle_SafeEraseGranted(t *testing.T) {
	h := newLifecycleHarness(t)
	ctx := context.Background()
	e := h.put(testutil.NewEntity("volume", "free").Build())

	ok, err := h.svc.SafeErase(ctx, e)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, e.Deleted())
	assert.Empty(t, e.Errors)
	assert.True(t, h.load(t, e.Ref()).Deleted())
	assert.Equal(t, 1, h.enq.Count(e.Ref()))
}

func TestLifecycle_DestroyRequiresForce(t *testing.T) {
	h := newLifecycleHarness(t)
	ctx := context.Background()

	for _, typ := range []string{"server", "volume", "snapshot"} {
		t.Run(typ, func(t *testing.T) {
			e := h.put(testutil.NewEntity(typ, "E").Build())

			removed, err := h.svc.Destroy(ctx, e, false)
			require.ErrorIs(t, err, lifecycle.ErrIllegalDirectDestroy)
			assert.False(t, removed)
			exists, err := h.store.Exists(ctx, e.Ref())
			require.NoError(t, err)
			assert.True(t, exists)

			removed, err = h.svc.Destroy(ctx, e, true)
			require.NoError(t, err)
			assert.True(t, removed)
			exists, err = h.store.Exists(ctx, e.Ref())
			require.NoError(t, err)
			assert.False(t, exists)
		})
	}
}

func TestLifecycle_EraseIsIdempotent(t *testing.T) {
	h := newLifecycleHarness(t)
	ctx := context.Background()
	e := h.put(testutil.NewEntity("snapshot", "s1").DeleteAt(testutil.TestTime()).Build())

	ok, err := h.svc.Erase(ctx, e.Ref())
	require.NoError(t, err)
	assert.True(t, ok)
	first := h.load(t, e.Ref())
	assert.Nil(t, first.DeleteAt)
	require.NotNil(t, first.StateAt)

	for range 3 {
		ok, err = h.svc.Erase(ctx, e.Ref())
		require.NoError(t, err)
		assert.False(t, ok)
	}

	again := h.load(t, e.Ref())
	assert.Equal(t, lifecycle.StateDeleted, again.State)
	assert.True(t, first.StateAt.Equal(*again.StateAt))
	assert.Equal(t, 1, h.enq.Count(e.Ref()))
}

func TestLifecycle_ConcurrentEraseEnqueuesOnce(t *testing.T) {
	h := newLifecycleHarness(t)
	e := h.put(testutil.NewEntity("snapshot", "s1").Build())

	fns := make([]func() error, 16)
	var mu sync.Mutex
	transitions := 0
	for i := range fns {
		fns[i] = func() error {
			ok, err := h.svc.Erase(context.Background(), e.Ref())
			if ok {
				mu.Lock()
				transitions++
				mu.Unlock()
			}
			return err
		}
	}
	for _, err := range testutil.RunConcurrent(fns...) {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, transitions)
	assert.Equal(t, 1, h.enq.Count(e.Ref()))
}

func TestLifecycle_EraseErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown type", func(t *testing.T) {
		h := newLifecycleHarness(t)
		_, err := h.svc.Erase(ctx, lifecycle.Ref{Type: "bucket", ID: "b"})
		require.ErrorIs(t, err, lifecycle.ErrUnknownType)
	})

	t.Run("missing entity", func(t *testing.T) {
		h := newLifecycleHarness(t)
		_, err := h.svc.Erase(ctx, lifecycle.Ref{Type: "volume", ID: "nope"})
		require.ErrorIs(t, err, lifecycle.ErrEntityNotFound)
		assert.Empty(t, h.enq.Jobs())
	})

	t.Run("enqueue failure keeps the transition and succeeds", func(t *testing.T) {
		h := newLifecycleHarness(t)
		e := h.put(testutil.NewEntity("snapshot", "s1").Build())
		h.enq.Err = errors.New("queue down")

		ok, err := h.svc.Erase(ctx, e.Ref())
		require.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, h.load(t, e.Ref()).Deleted())
		assert.Empty(t, h.enq.Jobs())
	})
}

func TestLifecycle_CascadeSkipsFailingMembers(t *testing.T) {
	h := newLifecycleHarness(t)
	ctx := context.Background()
	v, ws := h.serverWithVolumes(3)
	h.store.FailMarkDeleted[ws[1].Ref()] = errors.New("row locked")

	ok, err := h.svc.Erase(ctx, v.Ref())
	require.NoError(t, err)
	assert.True(t, ok)

	assert.True(t, h.load(t, ws[0].Ref()).Deleted())
	assert.False(t, h.load(t, ws[1].Ref()).Deleted())
	assert.True(t, h.load(t, ws[2].Ref()).Deleted())
	assert.Equal(t, 1, h.enq.Count(v.Ref()))

	// The parent's own finalize retries the cascade once the member recovers.
	delete(h.store.FailMarkDeleted, ws[1].Ref())
	res := h.svc.FinalizeAndDestroy(ctx, h.load(t, v.Ref()))
	assert.Equal(t, lifecycle.OutcomeRetryable, res.Outcome)
	assert.True(t, h.load(t, ws[1].Ref()).Deleted())
	assert.Equal(t, 1, h.enq.Count(ws[1].Ref()))
}

func TestLifecycle_CascadeBeforeParentRecursively(t *testing.T) {
	h := newLifecycleHarness(t)
	ctx := context.Background()
	v, ws := h.serverWithVolumes(2)
	for _, w := range ws {
		for j := 1; j <= 2; j++ {
			h.put(testutil.NewEntity("snapshot", fmt.Sprintf("%s-S%d", w.ID, j)).ChildOf(w.Ref(), "snapshots").Build())
		}
	}

	_, err := h.svc.Erase(ctx, v.Ref())
	require.NoError(t, err)
	assert.Len(t, h.enq.Jobs(), 7)

	h.drain(t, 100)

	assert.Zero(t, h.store.Len())
	position := make(map[string]int, len(h.destroyed))
	for i, key := range h.destroyed {
		position[key] = i
	}
	require.Len(t, position, 7)
	for _, w := range ws {
		for j := 1; j <= 2; j++ {
			assert.Less(t, position[fmt.Sprintf("snapshot/%s-S%d", w.ID, j)], position[w.Key()])
		}
		assert.Less(t, position[w.Key()], position[v.Key()])
	}
}

func TestLifecycle_EventualConvergence(t *testing.T) {
	for _, n := range []int{0, 1, 5, 20} {
		t.Run(fmt.Sprintf("%d dependents", n), func(t *testing.T) {
			h := newLifecycleHarness(t)
			v, _ := h.serverWithVolumes(n)
			_, err := h.svc.Erase(context.Background(), v.Ref())
			require.NoError(t, err)

			h.drain(t, 10*(n+1))

			_, found := h.store.Lookup(v.Ref())
			assert.False(t, found)
			assert.Len(t, h.detached, n)
		})
	}
}

func TestLifecycle_IdempotentReentry(t *testing.T) {
	h := newLifecycleHarness(t)
	ctx := context.Background()
	w := h.put(testutil.NewEntity("volume", "W1").WithAttribute("remote_id", "vol-1").Deleted(testutil.TestTime()).Build())

	first := h.handler.Evaluate(ctx, w.Ref())
	second := h.handler.Evaluate(ctx, w.Ref())

	assert.Equal(t, FinalizeDestroyed, first.Outcome)
	assert.Equal(t, FinalizeDiscarded, second.Outcome)
	assert.Equal(t, []string{"W1"}, h.detached)
	assert.Equal(t, []lifecycle.Ref{w.Ref()}, h.store.Destroyed())
}

func TestLifecycle_PartialProgressSurvivesRetry(t *testing.T) {
	h := newLifecycleHarness(t)
	ctx := context.Background()

	calls := 0
	h.registry.MustRegister(lifecycle.NewType("disk").
		AddFinalizer("detach", h.detach).
		AddFinalizer("flaky", func(context.Context, *lifecycle.Entity) lifecycle.Result {
			calls++
			if calls == 1 {
				return lifecycle.Retry("backend busy")
			}
			return lifecycle.Continue()
		}))
	d := h.put(testutil.NewEntity("disk", "d1").WithAttribute("remote_id", "disk-1").Deleted(testutil.TestTime()).Build())

	res := h.svc.FinalizeAndDestroy(ctx, h.load(t, d.Ref()))
	require.Equal(t, lifecycle.OutcomeRetryable, res.Outcome)
	assert.Equal(t, "flaky", res.Finalizer)
	stored := h.load(t, d.Ref())
	assert.Nil(t, stored.Attributes["remote_id"])

	res = h.svc.FinalizeAndDestroy(ctx, stored)
	require.Equal(t, lifecycle.OutcomeContinue, res.Outcome)
	assert.Equal(t, []string{"d1"}, h.detached)
}

func TestLifecycle_FinalizeOutcomes(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		fn        lifecycle.FinalizerFunc
		want      lifecycle.Outcome
		destroyed bool
	}{
		{
			name:      "continue destroys",
			fn:        func(context.Context, *lifecycle.Entity) lifecycle.Result { return lifecycle.Continue() },
			want:      lifecycle.OutcomeContinue,
			destroyed: true,
		},
		{
			name: "abort keeps the record",
			fn:   func(context.Context, *lifecycle.Entity) lifecycle.Result { return lifecycle.Abort("waiting for operator") },
			want: lifecycle.OutcomeAbort,
		},
		{
			name: "fatal keeps the record",
			fn: func(context.Context, *lifecycle.Entity) lifecycle.Result {
				return lifecycle.Fatal(errors.New("credentials revoked"))
			},
			want: lifecycle.OutcomeFatal,
		},
		{
			name: "panic is fatal",
			fn:   func(context.Context, *lifecycle.Entity) lifecycle.Result { panic("boom") },
			want: lifecycle.OutcomeFatal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newLifecycleHarness(t)
			var after bool
			h.registry.MustRegister(lifecycle.NewType("bucket").
				AddFinalizer("first", tt.fn).
				AddFinalizer("second", func(context.Context, *lifecycle.Entity) lifecycle.Result {
					after = true
					return lifecycle.Continue()
				}))
			e := h.put(testutil.NewEntity("bucket", "b1").Deleted(testutil.TestTime()).Build())

			res := h.svc.FinalizeAndDestroy(ctx, e)
			assert.Equal(t, tt.want, res.Outcome)
			assert.Equal(t, tt.destroyed, after)
			_, found := h.store.Lookup(e.Ref())
			assert.Equal(t, !tt.destroyed, found)
			if !tt.destroyed {
				assert.Equal(t, "first", res.Finalizer)
			}
		})
	}
}

func TestLifecycle_SuppressedDestroyIsRetryable(t *testing.T) {
	h := newLifecycleHarness(t)
	h.store.KeepOnDelete = true
	e := h.put(testutil.NewEntity("snapshot", "s1").Deleted(testutil.TestTime()).Build())

	res := h.svc.FinalizeAndDestroy(context.Background(), e)
	assert.Equal(t, lifecycle.OutcomeRetryable, res.Outcome)
	assert.Contains(t, res.Reason, "still exists after destroy")
}

func TestLifecycle_BeforeDestroyHookError(t *testing.T) {
	h := newLifecycleHarness(t)
	h.registry.MustRegister(lifecycle.NewType("bucket").
		BeforeDestroy(func(context.Context, *lifecycle.Entity) error {
			return lifecycle.Retryablef("bucket not empty")
		}))
	e := h.put(testutil.NewEntity("bucket", "b1").Deleted(testutil.TestTime()).Build())

	res := h.svc.FinalizeAndDestroy(context.Background(), e)
	assert.Equal(t, lifecycle.OutcomeRetryable, res.Outcome)
	_, found := h.store.Lookup(e.Ref())
	assert.True(t, found)
}

func TestLifecycle_CanceledContextRetries(t *testing.T) {
	h := newLifecycleHarness(t)
	h.registry.MustRegister(lifecycle.NewType("bucket").AddFinalizer("noop",
		func(context.Context, *lifecycle.Entity) lifecycle.Result { return lifecycle.Continue() }))
	b := h.put(testutil.NewEntity("bucket", "b1").Deleted(testutil.TestTime()).Build())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.svc.FinalizeAndDestroy(ctx, b)
	assert.Equal(t, lifecycle.OutcomeRetryable, res.Outcome)
	_, found := h.store.Lookup(b.Ref())
	assert.True(t, found)
}

func TestNewLifecycleService_Validation(t *testing.T) {
	store := testutil.NewMemStore()
	reg := lifecycle.NewRegistry()
	enq := &testutil.RecordingEnqueuer{}

	_, err := NewLifecycleService(LifecycleServiceOptions{Registry: reg, Enqueuer: enq})
	require.Error(t, err)
	_, err = NewLifecycleService(LifecycleServiceOptions{Store: store, Enqueuer: enq})
	require.Error(t, err)
	_, err = NewLifecycleService(LifecycleServiceOptions{Store: store, Registry: reg})
	require.Error(t, err)

	assert.Panics(t, func() { MustNewLifecycleService(LifecycleServiceOptions{}) })
}

// fakeSettler records settlement calls.
type fakeSettler struct {
	mu        sync.Mutex
	completed []string
	halted    []string
	retried   []model.RetryJobRequest
	failed    []JobFailureDetails
	err       error
}

func (f *fakeSettler) Complete(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, id)
	return f.err == nil, f.err
}

func (f *fakeSettler) Halt(_ context.Context, _, reason string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.halted = append(f.halted, reason)
	return f.err == nil, f.err
}

func (f *fakeSettler) Retry(_ context.Context, _ string, req model.RetryJobRequest) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retried = append(f.retried, req)
	return f.err == nil, f.err
}

func (f *fakeSettler) FailWithDetails(_ context.Context, _, _ string, details JobFailureDetails) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, details)
	return f.err == nil, f.err
}

type activeJobs map[lifecycle.Ref]bool

func (a activeJobs) HasActiveFinalize(_ context.Context, ref lifecycle.Ref) (bool, error) {
	return a[ref], nil
}

func TestLifecycle_RestartFinalize(t *testing.T) {
	h := newLifecycleHarness(t)
	ctx := context.Background()
	active := h.put(testutil.NewEntity("volume", "live").Build())
	erased := h.put(testutil.NewEntity("volume", "stuck").Deleted(testutil.TestTime()).Build())
	busy := h.put(testutil.NewEntity("volume", "busy").Deleted(testutil.TestTime()).Build())

	_, err := h.svc.RestartFinalize(ctx, active.Ref(), activeJobs{})
	require.ErrorIs(t, err, ErrNotDeleted)

	ok, err := h.svc.RestartFinalize(ctx, erased.Ref(), activeJobs{})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, h.enq.Count(erased.Ref()))

	ok, err = h.svc.RestartFinalize(ctx, busy.Ref(), activeJobs{busy.Ref(): true})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, h.enq.Count(busy.Ref()))

	_, err = h.svc.RestartFinalize(ctx, lifecycle.Ref{Type: "volume", ID: "missing"}, nil)
	require.ErrorIs(t, err, lifecycle.ErrEntityNotFound)

	_, err = h.svc.RestartFinalize(ctx, lifecycle.Ref{Type: "bogus", ID: "x"}, nil)
	require.ErrorIs(t, err, lifecycle.ErrUnknownType)
}
