package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"kbingest/internal/content"
	"kbingest/internal/middleware"
)

type ItemRepo interface {
	CountByStatus(ctx context.Context) (map[content.Status]int, error)
}

type JobRepo interface {
	Count(ctx context.Context) (int, error)
}

type UsageRepo interface {
	TotalCharged(ctx context.Context) (int64, error)
}

type VectorStore interface {
	CountRecords(ctx context.Context, index string) (int, error)
}

type Handler struct {
	itemRepo    ItemRepo
	jobRepo     JobRepo
	usageRepo   UsageRepo
	vectorStore VectorStore
	indexName   func(ownerID string) string
}

// NewHandler wires the stats endpoint. indexName maps an owner to its
// vector index and is used when the request names an owner.
func NewHandler(i ItemRepo, j JobRepo, u UsageRepo, v VectorStore, indexName func(string) string) *Handler {
	return &Handler{itemRepo: i, jobRepo: j, usageRepo: u, vectorStore: v, indexName: indexName}
}

type StatsResponse struct {
	Items          map[content.Status]int `json:"items"`
	TotalItems     int                    `json:"total_items"`
	FailedJobs     int                    `json:"failed_jobs"`
	CreditsCharged int64                  `json:"credits_charged"`
	Vectors        *int                   `json:"vectors,omitempty"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "getting stats", "correlationId", correlationID)

	counts, err := h.itemRepo.CountByStatus(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count items", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count items", http.StatusInternalServerError)
		return
	}

	jCount, err := h.jobRepo.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count jobs", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count jobs", http.StatusInternalServerError)
		return
	}

	charged, err := h.usageRepo.TotalCharged(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to sum usage", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to sum usage", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		Items:          counts,
		FailedJobs:     jCount,
		CreditsCharged: charged,
	}
	for _, n := range counts {
		resp.TotalItems += n
	}

	if owner := r.URL.Query().Get("owner_id"); owner != "" && h.vectorStore != nil {
		vCount, err := h.vectorStore.CountRecords(ctx, h.indexName(owner))
		if err != nil {
			slog.ErrorContext(ctx, "failed to count vectors", "error", err, "owner_id", owner)
			h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count vectors", http.StatusInternalServerError)
			return
		}
		resp.Vectors = &vCount
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
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
