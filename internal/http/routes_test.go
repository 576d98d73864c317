package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/reclaim/internal/data"
	"github.com/target/reclaim/internal/domain/lifecycle"
	"github.com/target/reclaim/internal/domain/model"
	"github.com/target/reclaim/internal/service"
	"github.com/target/reclaim/internal/testutil"
)

type fakeJobs struct {
	stats    *model.JobStats
	statsErr error
	active   map[lifecycle.Ref]bool
	byID     map[string]*model.Job
	listed   model.JobListOptions
	deleted  []string
}

func (f *fakeJobs) Get(_ context.Context, id string) (*model.Job, error) {
	if j, ok := f.byID[id]; ok {
		return j, nil
	}
	return nil, data.ErrJobNotFound
}

func (f *fakeJobs) List(_ context.Context, opts model.JobListOptions) ([]*model.Job, error) {
	f.listed = opts
	var out []*model.Job
	for _, j := range f.byID {
		if opts.EntityType == "" || j.EntityType == opts.EntityType {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeJobs) Delete(_ context.Context, id string) error {
	j, ok := f.byID[id]
	switch {
	case !ok:
		return data.ErrJobNotFound
	case j.Status == model.JobStatusRunning:
		return data.ErrJobNotDeletable
	}
	f.deleted = append(f.deleted, id)
	delete(f.byID, id)
	return nil
}

func (f *fakeJobs) Stats(context.Context, model.JobType) (*model.JobStats, error) {
	return f.stats, f.statsErr
}

func (f *fakeJobs) HasActiveFinalize(_ context.Context, ref lifecycle.Ref) (bool, error) {
	return f.active[ref], nil
}

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

type apiHarness struct {
	store   *testutil.MemStore
	enq     *testutil.RecordingEnqueuer
	jobs    *fakeJobs
	handler http.Handler
}

func newAPIHarness(t *testing.T, token string) *apiHarness {
	t.Helper()
	store := testutil.NewMemStore()
	enq := &testutil.RecordingEnqueuer{}
	registry := lifecycle.NewRegistry()
	registry.MustRegister(lifecycle.NewType("server").EraseDependents(lifecycle.DependencyDescriptor{
		Association: "volumes",
		Repo:        store.Association("server", "volumes"),
	}))
	registry.MustRegister(lifecycle.NewType("volume").Erasable(func(e *lifecycle.Entity) (bool, string) {
		if v, _ := e.Attribute("attached"); v == true {
			return false, "volume is attached"
		}
		return true, ""
	}))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	lc := service.MustNewLifecycleService(service.LifecycleServiceOptions{
		Store: store, Registry: registry, Enqueuer: enq,
		Config: service.LifecycleConfig{Logger: logger},
	})
	entities, err := service.NewEntityService(service.EntityServiceOptions{Store: store, Registry: registry, Logger: logger})
	require.NoError(t, err)

	jobs := &fakeJobs{stats: &model.JobStats{Pending: 2, Failed: 1}}
	return &apiHarness{
		store: store,
		enq:   enq,
		jobs:  jobs,
		handler: NewRouter(RouterServices{
			Entities:  entities,
			Lifecycle: lc,
			Jobs:      jobs,
			APIToken:  token,
			Logger:    logger,
		}),
	}
}

func (h *apiHarness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestAPI_CreateAndGet(t *testing.T) {
	h := newAPIHarness(t, "")

	rec := h.do(t, http.MethodPost, "/api/entities", map[string]any{
		"type": "server", "id": "s1", "attributes": map[string]any{"zone": "a"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodPost, "/api/entities", map[string]any{
		"type": "volume", "id": "v1", "parent_type": "server", "parent_id": "s1", "association": "volumes",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodGet, "/api/entities/volume/v1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got lifecycle.Entity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, lifecycle.StateActive, got.State)
	require.NotNil(t, got.ParentID)
	assert.Equal(t, "s1", *got.ParentID)
}

func TestAPI_CreateErrors(t *testing.T) {
	h := newAPIHarness(t, "")
	h.store.Put(testutil.NewEntity("server", "gone").Deleted(testutil.TestTime()).Build())

	tests := []struct {
		name     string
		body     any
		status   int
		errorTag string
	}{
		{"missing type", map[string]any{"id": "x"}, http.StatusBadRequest, "validation"},
		{"unknown field", map[string]any{"type": "server", "color": "red"}, http.StatusBadRequest, "invalid_json"},
		{"unknown type", map[string]any{"type": "router"}, http.StatusBadRequest, "validation"},
		{"partial parent", map[string]any{"type": "volume", "parent_id": "s1"}, http.StatusBadRequest, "validation"},
		{"missing parent", map[string]any{
			"type": "volume", "parent_type": "server", "parent_id": "nope", "association": "volumes",
		}, http.StatusNotFound, "not_found"},
		{"deleted parent", map[string]any{
			"type": "volume", "parent_type": "server", "parent_id": "gone", "association": "volumes",
		}, http.StatusConflict, "conflict"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, "/api/entities", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.errorTag, decodeError(t, rec).Error)
		})
	}
}

func TestAPI_EraseCascades(t *testing.T) {
	h := newAPIHarness(t, "")
	s := testutil.NewEntity("server", "s1").Build()
	h.store.Put(s)
	h.store.Put(testutil.NewEntity("volume", "v1").ChildOf(s.Ref(), "volumes").Build())

	rec := h.do(t, http.MethodPost, "/api/entities/server/s1/erase", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"erased":true}`, rec.Body.String())

	v, _ := h.store.Lookup(lifecycle.Ref{Type: "volume", ID: "v1"})
	assert.True(t, v.Deleted())
	assert.Len(t, h.enq.Jobs(), 2)

	rec = h.do(t, http.MethodPost, "/api/entities/server/s1/erase", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"erased":false}`, rec.Body.String())
	assert.Len(t, h.enq.Jobs(), 2)

	rec = h.do(t, http.MethodPost, "/api/entities/server/missing/erase", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_SafeErase(t *testing.T) {
	h := newAPIHarness(t, "")
	h.store.Put(testutil.NewEntity("volume", "busy").WithAttribute("attached", true).Build())
	h.store.Put(testutil.NewEntity("volume", "free").Build())

	rec := h.do(t, http.MethodPost, "/api/entities/volume/busy/safe-erase", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "unprocessable", body.Error)
	assert.Equal(t, "volume is attached", body.Message)
	busy, _ := h.store.Lookup(lifecycle.Ref{Type: "volume", ID: "busy"})
	assert.False(t, busy.Deleted())

	rec = h.do(t, http.MethodPost, "/api/entities/volume/free/safe-erase", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"erased":true}`, rec.Body.String())
}

func TestAPI_ScheduleDeletion(t *testing.T) {
	h := newAPIHarness(t, "")
	h.store.Put(testutil.NewEntity("volume", "v1").Build())
	at := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)

	rec := h.do(t, http.MethodPost, "/api/entities/volume/v1/schedule-deletion", map[string]any{"delete_at": at})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	v, _ := h.store.Lookup(lifecycle.Ref{Type: "volume", ID: "v1"})
	require.NotNil(t, v.DeleteAt)
	assert.True(t, at.Equal(*v.DeleteAt))

	rec = h.do(t, http.MethodPost, "/api/entities/volume/v1/schedule-deletion", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "delete_at", decodeError(t, rec).Field)
}

func TestAPI_Finalize(t *testing.T) {
	h := newAPIHarness(t, "")
	h.store.Put(testutil.NewEntity("volume", "live").Build())
	stuck := testutil.NewEntity("volume", "stuck").Deleted(testutil.TestTime()).Build()
	h.store.Put(stuck)

	rec := h.do(t, http.MethodPost, "/api/entities/volume/live/finalize", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/entities/volume/stuck/finalize", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"enqueued":true}`, rec.Body.String())

	h.jobs.active = map[lifecycle.Ref]bool{stuck.Ref(): true}
	rec = h.do(t, http.MethodPost, "/api/entities/volume/stuck/finalize", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"enqueued":false}`, rec.Body.String())
	assert.Equal(t, 1, h.enq.Count(stuck.Ref()))
}

func TestAPI_JobStats(t *testing.T) {
	h := newAPIHarness(t, "")

	rec := h.do(t, http.MethodGet, "/api/jobs/finalize/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"pending":2,"running":0,"completed":0,"failed":1}`, rec.Body.String())

	rec = h.do(t, http.MethodGet, "/api/jobs/rules/stats", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	h.jobs.statsErr = errors.New("connection refused")
	rec = h.do(t, http.MethodGet, "/api/jobs/finalize/stats", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestAPI_Jobs(t *testing.T) {
	h := newAPIHarness(t, "")
	h.jobs.byID = map[string]*model.Job{
		"j1": {ID: "j1", Type: model.JobTypeFinalize, Status: model.JobStatusPending, EntityType: "volume", EntityID: "v1"},
		"j2": {ID: "j2", Type: model.JobTypeFinalize, Status: model.JobStatusRunning, EntityType: "server", EntityID: "s1"},
	}

	rec := h.do(t, http.MethodGet, "/api/jobs?entity_type=volume&status=pending&limit=5&offset=2", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var list struct {
		Jobs []model.Job `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, "j1", list.Jobs[0].ID)
	require.NotNil(t, h.jobs.listed.Status)
	assert.Equal(t, model.JobStatusPending, *h.jobs.listed.Status)
	assert.Equal(t, 5, h.jobs.listed.Limit)
	assert.Equal(t, 2, h.jobs.listed.Offset)

	rec = h.do(t, http.MethodGet, "/api/jobs?limit=-1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "limit", decodeError(t, rec).Field)

	rec = h.do(t, http.MethodGet, "/api/jobs/j2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"running"`)

	rec = h.do(t, http.MethodGet, "/api/jobs/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Error)

	rec = h.do(t, http.MethodDelete, "/api/jobs/j2", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(t, http.MethodDelete, "/api/jobs/j1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"j1"}, h.jobs.deleted)
}

func TestAPI_BearerToken(t *testing.T) {
	h := newAPIHarness(t, "s3cret")
	h.store.Put(testutil.NewEntity("volume", "v1").Build())

	rec := h.do(t, http.MethodGet, "/api/entities/volume/v1", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	for _, header := range []string{"Bearer wrong", "Basic s3cret", "Bearer "} {
		req := httptest.NewRequest(http.MethodGet, "/api/entities/volume/v1", nil)
		req.Header.Set("Authorization", header)
		rec = httptest.NewRecorder()
		h.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/entities/volume/v1", nil)
	req.Header.Set("Authorization", "bearer s3cret")
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Probes stay open.
	rec = h.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthAndReadiness(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	rec := httptest.NewRecorder()
	NewRouter(RouterServices{Logger: logger}).ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = httptest.NewRecorder()
	NewRouter(RouterServices{Logger: logger, Ready: fakePinger{}}).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, healthResponse, rec.Body.String())

	rec = httptest.NewRecorder()
	NewRouter(RouterServices{Logger: logger, Ready: fakePinger{err: errors.New("db down")}}).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRecover(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Recover(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal", decodeError(t, rec).Error)
}
