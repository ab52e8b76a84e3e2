// Package handlers provides REST API handlers for sync status and operations.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/NOVUMSOLVO/careunity-network-sub001/internal/errors"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/logging"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/models"
	syncpkg "github.com/NOVUMSOLVO/careunity-network-sub001/internal/sync"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/sync/scheduler"
)

// maxBodyBytes caps request bodies accepted by the handlers.
const maxBodyBytes = 1 << 20

// Scheduler is the part of the background scheduler the handlers use.
type Scheduler interface {
	SyncNow(ctx context.Context) (*syncpkg.SyncResult, error)
	GetStatus() scheduler.SchedulerStatus
}

// Queue is the part of the sync queue the handlers use.
type Queue interface {
	Enqueue(ctx context.Context, in models.SyncOperationInput) (*models.SyncOperation, error)
	Remove(ctx context.Context, id string) (bool, error)
	ListPending(ctx context.Context) ([]models.SyncOperation, error)
	GetStats(ctx context.Context) (map[string]int, error)
	RetryAbandoned(ctx context.Context) (int, error)
}

// Versions lists tracked entity versions.
type Versions interface {
	List(ctx context.Context) ([]models.EntityVersion, error)
}

// Cache is cleared on demand.
type Cache interface {
	Clear(ctx context.Context) error
}

// SyncHandler handles sync status and operations.
type SyncHandler struct {
	scheduler Scheduler
	queue     Queue
	versions  Versions
	cache     Cache
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(s Scheduler, q Queue, v Versions, c Cache) *SyncHandler {
	return &SyncHandler{scheduler: s, queue: q, versions: v, cache: c}
}

// Routes registers the sync endpoints on r.
func (h *SyncHandler) Routes(r chi.Router) {
	r.Route("/sync", func(r chi.Router) {
		r.Get("/status", h.GetStatus)
		r.Get("/pending", h.ListPending)
		r.Get("/stats", h.GetStats)
		r.Get("/versions", h.ListVersions)
		r.Post("/drain", h.Drain)
		r.Post("/abandoned/retry", h.RetryAbandoned)
		r.Post("/operations", h.Enqueue)
		r.Delete("/operations/{id}", h.Remove)
	})
	r.Delete("/cache", h.ClearCache)
}

// GetStatus handles GET /sync/status
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scheduler.GetStatus())
}

// ListPending handles GET /sync/pending
// Returns the whole persisted queue, in processing order.
func (h *SyncHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	ops, err := h.queue.ListPending(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":      len(ops),
		"operations": ops,
	})
}

// GetStats handles GET /sync/stats
func (h *SyncHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.GetStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ListVersions handles GET /sync/versions
func (h *SyncHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.versions.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"versions": versions})
}

// Drain handles POST /sync/drain
// Runs one drain pass and waits for it. Joins a pass already in flight.
func (h *SyncHandler) Drain(w http.ResponseWriter, r *http.Request) {
	result, err := h.scheduler.SyncNow(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// RetryAbandoned handles POST /sync/abandoned/retry
func (h *SyncHandler) RetryAbandoned(w http.ResponseWriter, r *http.Request) {
	n, err := h.queue.RetryAbandoned(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reset": n})
}

// Enqueue handles POST /sync/operations
func (h *SyncHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var in models.SyncOperationInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&in); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
		return
	}
	op, err := h.queue.Enqueue(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, op)
}

// Remove handles DELETE /sync/operations/{id}
func (h *SyncHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed, err := h.queue.Remove(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !removed {
		writeError(w, apperrors.Newf(apperrors.ErrNotFound, "operation %s not found", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearCache handles DELETE /cache
func (h *SyncHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.Clear(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HealthHandler handles GET /api/health
func HealthHandler(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": service})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Failed to encode response", err)
	}
}

// writeError maps an error code to an HTTP status. The body matches what the
// transport parses from remote errors.
func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrInvalid:
		status = http.StatusBadRequest
	case apperrors.ErrNotFound:
		status = http.StatusNotFound
	case apperrors.ErrDisconnected:
		status = http.StatusServiceUnavailable
	case apperrors.ErrSyncTimeout:
		status = http.StatusGatewayTimeout
	}
	if status == http.StatusInternalServerError {
		logging.ErrorWithCode("Request failed", string(code), err)
	}
	writeJSON(w, status, map[string]string{"code": string(code), "message": err.Error()})
}
