package account

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"kbingest/internal/errkind"
	"kbingest/internal/middleware"
)

type Handler struct {
	repo Repository
}

func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Credits int64  `json:"credits"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "id is required", http.StatusBadRequest)
		return
	}
	if req.Credits < 0 {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "credits must not be negative", http.StatusBadRequest)
		return
	}

	a := &Account{ID: req.ID, Name: req.Name, Credits: req.Credits}
	if err := h.repo.Create(r.Context(), a); err != nil {
		slog.ErrorContext(r.Context(), "failed to create account", "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": a}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	a, err := h.repo.FindAccount(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeRepoError(r.Context(), w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": a}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) AddCredits(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Credits int64 `json:"credits"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Credits <= 0 {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "credits must be a positive integer", http.StatusBadRequest)
		return
	}

	id := r.PathValue("id")
	balance, err := h.repo.AddCredits(r.Context(), id, req.Credits)
	if err != nil {
		h.writeRepoError(r.Context(), w, err)
		return
	}
	slog.InfoContext(r.Context(), "credits added", "owner_id", id, "credits", req.Credits, "balance", balance)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]int64{"credits": balance}}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeRepoError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, errkind.ErrNotFound) {
		h.writeError(ctx, w, "NOT_FOUND", "Account not found", http.StatusNotFound)
		return
	}
	slog.ErrorContext(ctx, "account operation failed", "error", err)
	h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
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
