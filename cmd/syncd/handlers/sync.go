// Package handlers provides the REST control surface for the sync daemon.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	apperrors "github.com/sayantanroy47/tasky-sync/internal/errors"
	"github.com/sayantanroy47/tasky-sync/internal/logging"
	"github.com/sayantanroy47/tasky-sync/internal/models"
	syncpkg "github.com/sayantanroy47/tasky-sync/internal/sync"
	"github.com/sayantanroy47/tasky-sync/internal/sync/queue"
	"github.com/sayantanroy47/tasky-sync/internal/sync/scheduler"
)

// SyncHandler handles sync control and status requests.
type SyncHandler struct {
	engine *syncpkg.Engine
	sched  *scheduler.Scheduler
	queue  *queue.Queue
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(engine *syncpkg.Engine, sched *scheduler.Scheduler, q *queue.Queue) *SyncHandler {
	return &SyncHandler{engine: engine, sched: sched, queue: q}
}

// Register mounts the handler's routes.
func (h *SyncHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/health", h.Health)
	mux.HandleFunc("/api/sync/trigger", h.Trigger)
	mux.HandleFunc("/api/sync/cancel", h.Cancel)
	mux.HandleFunc("/api/sync/status", h.Status)
	mux.HandleFunc("/api/sync/online", h.Online)
	mux.HandleFunc("/api/sync/conflicts", h.Conflicts)
	mux.HandleFunc("/api/sync/conflicts/resolve", h.ResolveConflict)
	mux.HandleFunc("/api/sync/queue/failed", h.FailedItems)
	mux.HandleFunc("/api/sync/queue/retry-failed", h.RetryFailed)
}

// Health handles GET /api/health.
func (h *SyncHandler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "syncd"})
}

// Trigger handles POST /api/sync/trigger. The pass runs in the background;
// progress arrives over the websocket event stream.
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := h.sched.TriggerSync(ctx); err != nil && !apperrors.Is(err, apperrors.ErrSyncInProgress) {
			logging.Error("manual sync failed", err, nil)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// Cancel handles POST /api/sync/cancel.
func (h *SyncHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.sched.CancelSync()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// Status handles GET /api/sync/status.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	pending, err := h.engine.PendingChanges()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	status := map[string]interface{}{
		"state":           string(h.engine.State()),
		"online":          h.sched.IsOnline(),
		"pending_changes": pending,
	}
	if last := h.engine.LastSync(); last != nil {
		status["last_sync"] = last.Unix()
	}
	if summary := h.engine.LastSummary(); summary != nil {
		status["last_summary"] = summary
	}
	writeJSON(w, http.StatusOK, status)
}

type onlineRequest struct {
	Online bool `json:"online"`
}

// Online handles POST /api/sync/online, the connectivity observer's input.
func (h *SyncHandler) Online(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req onlineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	h.sched.SetOnline(req.Online)
	writeJSON(w, http.StatusOK, map[string]bool{"online": req.Online})
}

// Conflicts handles GET /api/sync/conflicts.
func (h *SyncHandler) Conflicts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cases, err := h.engine.PendingConflicts()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if cases == nil {
		cases = []*models.ConflictCase{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"conflicts": cases})
}

type resolveRequest struct {
	RecordID models.UUID           `json:"record_id"`
	Choice   models.ConflictChoice `json:"choice"`
	Merged   json.RawMessage       `json:"merged,omitempty"`
}

// ResolveConflict handles POST /api/sync/conflicts/resolve.
func (h *SyncHandler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	err := h.engine.ResolveConflict(r.Context(), req.RecordID, req.Choice, req.Merged)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
	case apperrors.Is(err, apperrors.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case apperrors.Is(err, apperrors.ErrInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// FailedItems handles GET /api/sync/queue/failed, the needs-attention list.
func (h *SyncHandler) FailedItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	items, err := h.engine.FailedItems()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []*models.SyncQueueItem{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"failed": items})
}

// RetryFailed handles POST /api/sync/queue/retry-failed.
func (h *SyncHandler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n, err := h.queue.RetryFailed()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"retried": n})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode response", err, nil)
	}
}
