package item

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"kbingest/internal/content"
	"kbingest/internal/errkind"
	"kbingest/internal/middleware"
	"kbingest/internal/sitemap"
)

type Handler struct {
	service   *Service
	uploadDir string
	maxUpload int64
}

func NewHandler(service *Service, uploadDir string, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 50 << 20
	}
	return &Handler{service: service, uploadDir: uploadDir, maxUpload: maxUploadBytes}
}

func (h *Handler) SubmitSitemap(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerID string `json:"owner_id"`
		URL     string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if req.OwnerID == "" || req.URL == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "owner_id and url are required", http.StatusBadRequest)
		return
	}

	ctx := middleware.WithOwnerID(r.Context(), req.OwnerID)
	b, err := h.service.SubmitSitemap(ctx, req.OwnerID, req.URL)
	if err != nil {
		h.writeServiceError(ctx, w, err)
		return
	}
	h.writeData(ctx, w, http.StatusAccepted, b)
}

func (h *Handler) SubmitPages(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerID string   `json:"owner_id"`
		URLs    []string `json:"urls"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if req.OwnerID == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "owner_id is required", http.StatusBadRequest)
		return
	}

	ctx := middleware.WithOwnerID(r.Context(), req.OwnerID)
	b, err := h.service.SubmitPages(ctx, req.OwnerID, req.URLs)
	if err != nil {
		h.writeServiceError(ctx, w, err)
		return
	}
	h.writeData(ctx, w, http.StatusAccepted, b)
}

// Create accepts snippet and FAQ items.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerID  string `json:"owner_id"`
		Kind     string `json:"kind"`
		Title    string `json:"title"`
		Text     string `json:"text"`
		Question string `json:"question"`
		Answer   string `json:"answer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if req.OwnerID == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "owner_id is required", http.StatusBadRequest)
		return
	}

	kind := content.Kind(req.Kind)
	if kind != content.KindSnippet && kind != content.KindFAQ {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "kind must be snippet or faq", http.StatusBadRequest)
		return
	}

	ctx := middleware.WithOwnerID(r.Context(), req.OwnerID)
	src := content.SourceRef{Text: req.Text, Question: req.Question, Answer: req.Answer}
	it, err := h.service.SubmitItem(ctx, req.OwnerID, kind, src, req.Title)
	if err != nil {
		h.writeServiceError(ctx, w, err)
		return
	}
	h.writeData(ctx, w, http.StatusAccepted, it)
}

func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		h.writeError(r.Context(), w, "BAD_REQUEST", "File too large", http.StatusBadRequest)
		return
	}

	ownerID := r.FormValue("owner_id")
	if ownerID == "" {
		h.writeError(r.Context(), w, "BAD_REQUEST", "owner_id is required", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(r.Context(), w, "BAD_REQUEST", "Unable to retrieve file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	ctx := middleware.WithOwnerID(r.Context(), ownerID)
	if err := os.MkdirAll(h.uploadDir, 0o750); err != nil {
		slog.ErrorContext(ctx, "failed to create upload directory", "error", err, "path", h.uploadDir)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Failed to create upload directory", http.StatusInternalServerError)
		return
	}

	name := filepath.Base(header.Filename)
	path := filepath.Join(h.uploadDir, fmt.Sprintf("%s_%s", uuid.NewString(), name))
	if err := saveUpload(path, file); err != nil {
		slog.ErrorContext(ctx, "failed to save upload", "error", err, "path", path)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Failed to save file", http.StatusInternalServerError)
		return
	}

	src := content.SourceRef{
		FilePath: path,
		FileName: name,
		MimeType: header.Header.Get("Content-Type"),
	}
	it, err := h.service.SubmitItem(ctx, ownerID, content.KindFile, src, r.FormValue("title"))
	if err != nil {
		if removeErr := os.Remove(path); removeErr != nil {
			slog.WarnContext(ctx, "failed to clean up uploaded file", "error", removeErr, "path", path)
		}
		h.writeServiceError(ctx, w, err)
		return
	}
	h.writeData(ctx, w, http.StatusAccepted, it)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	it, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(r.Context(), w, err)
		return
	}
	h.writeData(r.Context(), w, http.StatusOK, it)
}

func saveUpload(path string, src io.Reader) error {
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, content.ErrInvalidItem), errors.Is(err, ErrNoPages):
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
	case errors.Is(err, errkind.ErrNotFound):
		h.writeError(ctx, w, "NOT_FOUND", err.Error(), http.StatusNotFound)
	case errors.Is(err, sitemap.ErrNoURLs), errors.Is(err, sitemap.ErrNotSitemap):
		h.writeError(ctx, w, "UNPROCESSABLE", err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, ErrSitemap):
		h.writeError(ctx, w, "BAD_GATEWAY", err.Error(), http.StatusBadGateway)
	default:
		slog.ErrorContext(ctx, "operation failed", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeData(ctx context.Context, w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
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
