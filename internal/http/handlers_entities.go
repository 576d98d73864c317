package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/target/reclaim/internal/domain/lifecycle"
	apperrors "github.com/target/reclaim/internal/errors"
	"github.com/target/reclaim/internal/service"
)

// EntityService registers entities and schedules their deletion.
type EntityService interface {
	Create(ctx context.Context, req *lifecycle.CreateEntityRequest) (*lifecycle.Entity, error)
	Get(ctx context.Context, ref lifecycle.Ref) (*lifecycle.Entity, error)
	ScheduleDeletion(ctx context.Context, ref lifecycle.Ref, at time.Time) error
}

// LifecycleService erases entities and restarts their finalization.
type LifecycleService interface {
	Erase(ctx context.Context, ref lifecycle.Ref) (bool, error)
	SafeErase(ctx context.Context, e *lifecycle.Entity) (bool, error)
	RestartFinalize(ctx context.Context, ref lifecycle.Ref, jobs service.ActiveJobChecker) (bool, error)
}

var (
	_ EntityService    = (*service.EntityService)(nil)
	_ LifecycleService = (*service.LifecycleService)(nil)
)

// EntityHandlers serves /api/entities.
type EntityHandlers struct {
	Entities  EntityService
	Lifecycle LifecycleService
	Jobs      JobService
	Logger    *slog.Logger
}

// EraseResponse reports the result of an erase or safe erase.
type EraseResponse struct {
	Erased bool `json:"erased"`
}

// FinalizeResponse reports whether a finalize job was enqueued.
type FinalizeResponse struct {
	Enqueued bool `json:"enqueued"`
}

// Create handles POST /api/entities.
func (h *EntityHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.CreateEntityRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		WriteServiceError(w, apperrors.Validation(err.Error()))
		return
	}

	e, err := h.Entities.Create(r.Context(), &req)
	if err != nil {
		h.fail(w, r, "create entity", err)
		return
	}
	WriteJSON(w, http.StatusCreated, e)
}

// Get handles GET /api/entities/{type}/{id}.
func (h *EntityHandlers) Get(w http.ResponseWriter, r *http.Request) {
	e, err := h.Entities.Get(r.Context(), refFromPath(r))
	if err != nil {
		h.fail(w, r, "get entity", err)
		return
	}
	WriteJSON(w, http.StatusOK, e)
}

// Erase handles POST /api/entities/{type}/{id}/erase. Erasing a deleted entity is a no-op.
func (h *EntityHandlers) Erase(w http.ResponseWriter, r *http.Request) {
	erased, err := h.Lifecycle.Erase(r.Context(), refFromPath(r))
	if err != nil {
		h.fail(w, r, "erase entity", err)
		return
	}
	WriteJSON(w, http.StatusAccepted, EraseResponse{Erased: erased})
}

// SafeErase handles POST /api/entities/{type}/{id}/safe-erase. A denial answers 422 with the
// predicate's message.
func (h *EntityHandlers) SafeErase(w http.ResponseWriter, r *http.Request) {
	e, err := h.Entities.Get(r.Context(), refFromPath(r))
	if err != nil {
		h.fail(w, r, "safe erase entity", err)
		return
	}
	if e.Deleted() {
		WriteJSON(w, http.StatusAccepted, EraseResponse{Erased: false})
		return
	}

	ok, err := h.Lifecycle.SafeErase(r.Context(), e)
	if err != nil {
		h.fail(w, r, "safe erase entity", err)
		return
	}
	if !ok {
		msg := "entity cannot be erased"
		if len(e.Errors) > 0 {
			msg = e.Errors[len(e.Errors)-1]
		}
		WriteServiceError(w, apperrors.Unprocessable(msg))
		return
	}
	WriteJSON(w, http.StatusAccepted, EraseResponse{Erased: true})
}

// ScheduleDeletionRequest is the body of POST .../schedule-deletion.
type ScheduleDeletionRequest struct {
	DeleteAt *time.Time `json:"delete_at"`
}

// ScheduleDeletion handles POST /api/entities/{type}/{id}/schedule-deletion.
func (h *EntityHandlers) ScheduleDeletion(w http.ResponseWriter, r *http.Request) {
	var req ScheduleDeletionRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.DeleteAt == nil || req.DeleteAt.IsZero() {
		WriteServiceError(w, apperrors.ValidationField("delete_at", "delete_at is required"))
		return
	}

	ref := refFromPath(r)
	if err := h.Entities.ScheduleDeletion(r.Context(), ref, *req.DeleteAt); err != nil {
		h.fail(w, r, "schedule deletion", err)
		return
	}
	e, err := h.Entities.Get(r.Context(), ref)
	if err != nil {
		h.fail(w, r, "schedule deletion", err)
		return
	}
	WriteJSON(w, http.StatusOK, e)
}

// Finalize handles POST /api/entities/{type}/{id}/finalize: it enqueues a finalize job for a
// deleted entity unless one is already pending or running.
func (h *EntityHandlers) Finalize(w http.ResponseWriter, r *http.Request) {
	var jobs service.ActiveJobChecker
	if h.Jobs != nil {
		jobs = h.Jobs
	}
	enqueued, err := h.Lifecycle.RestartFinalize(r.Context(), refFromPath(r), jobs)
	if err != nil {
		h.fail(w, r, "restart finalize", err)
		return
	}
	WriteJSON(w, http.StatusAccepted, FinalizeResponse{Enqueued: enqueued})
}

func (h *EntityHandlers) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if apperrors.Classify(normalize(err)) == apperrors.ErrCodeInternal && h.Logger != nil {
		h.Logger.ErrorContext(r.Context(), op+" failed",
			"path", r.URL.Path,
			"error", err,
		)
	}
	WriteServiceError(w, err)
}

func refFromPath(r *http.Request) lifecycle.Ref {
	return lifecycle.Ref{Type: r.PathValue("type"), ID: r.PathValue("id")}
}
