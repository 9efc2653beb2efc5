// Package progress exposes the live batch view over HTTP.
package progress

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"kbingest/internal/middleware"
	tracking "kbingest/internal/progress"
)

type Tracker interface {
	Get(ownerID string) (tracking.Progress, bool)
	Clear(ownerID string)
}

type Handler struct {
	tracker Tracker
}

func NewHandler(t Tracker) *Handler {
	return &Handler{tracker: t}
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := r.PathValue("ownerId")

	p, ok := h.tracker.Get(owner)
	if !ok {
		h.writeError(ctx, w, "NOT_FOUND", "No active batch", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": p,
		"meta": map[string]interface{}{
			"finished": p.Finished(),
			"complete": p.Complete(),
		},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	owner := r.PathValue("ownerId")
	h.tracker.Clear(owner)
	slog.InfoContext(r.Context(), "progress cleared", "owner_id", owner)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
