package httpx

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/target/reclaim/internal/domain/lifecycle"
	"github.com/target/reclaim/internal/domain/model"
	apperrors "github.com/target/reclaim/internal/errors"
	"github.com/target/reclaim/internal/service"
)

// JobService reports on and prunes the finalize job queue.
type JobService interface {
	Stats(ctx context.Context, jobType model.JobType) (*model.JobStats, error)
	HasActiveFinalize(ctx context.Context, ref lifecycle.Ref) (bool, error)
	Get(ctx context.Context, id string) (*model.Job, error)
	List(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error)
	Delete(ctx context.Context, id string) error
}

var _ JobService = (*service.JobService)(nil)

// JobHandlers serves /api/jobs.
type JobHandlers struct {
	Svc    JobService
	Logger *slog.Logger
}

// jobList is the body of GET /api/jobs.
type jobList struct {
	Jobs []*model.Job `json:"jobs"`
}

func (h *JobHandlers) available(w http.ResponseWriter) bool {
	if h.Svc == nil {
		WriteServiceError(w, apperrors.Internalf("job service unavailable"))
		return false
	}
	return true
}

func (h *JobHandlers) fail(r *http.Request, w http.ResponseWriter, msg string, err error, args ...any) {
	if h.Logger != nil && apperrors.Classify(err) == apperrors.ErrCodeInternal {
		h.Logger.ErrorContext(r.Context(), msg, append(args, "error", err)...)
	}
	WriteServiceError(w, err)
}

// Stats handles GET /api/jobs/{type}/stats.
func (h *JobHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	var jobType model.JobType
	if err := jobType.UnmarshalText([]byte(r.PathValue("type"))); err != nil {
		WriteServiceError(w, apperrors.ValidationField("type", err.Error()))
		return
	}
	if !h.available(w) {
		return
	}

	stats, err := h.Svc.Stats(r.Context(), jobType)
	if err != nil {
		h.fail(r, w, "job stats failed", fmt.Errorf("stats for %s: %w", jobType, err), "job_type", jobType)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// List handles GET /api/jobs?status=&entity_type=&entity_id=&limit=&offset=.
func (h *JobHandlers) List(w http.ResponseWriter, r *http.Request) {
	opts, err := parseJobListQuery(r.URL.Query())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	if !h.available(w) {
		return
	}

	jobs, err := h.Svc.List(r.Context(), opts)
	if err != nil {
		h.fail(r, w, "list jobs failed", err)
		return
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}
	WriteJSON(w, http.StatusOK, jobList{Jobs: jobs})
}

// Get handles GET /api/jobs/{id}.
func (h *JobHandlers) Get(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	id := r.PathValue("id")
	job, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		h.fail(r, w, "get job failed", err, "job_id", id)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// Delete handles DELETE /api/jobs/{id}. Running jobs are refused with 409.
func (h *JobHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	id := r.PathValue("id")
	if err := h.Svc.Delete(r.Context(), id); err != nil {
		h.fail(r, w, "delete job failed", err, "job_id", id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseJobListQuery(q url.Values) (model.JobListOptions, error) {
	opts := model.JobListOptions{
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
	}
	if s := q.Get("status"); s != "" {
		status := model.JobStatus(s)
		opts.Status = &status
	}
	var err error
	if opts.Limit, err = intParam(q, "limit"); err != nil {
		return opts, err
	}
	if opts.Offset, err = intParam(q, "offset"); err != nil {
		return opts, err
	}
	return opts, nil
}

func intParam(q url.Values, name string) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperrors.ValidationField(name, name+" must be a non-negative integer")
	}
	return n, nil
}
