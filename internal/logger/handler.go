package logger

import (
	"context"
	"log/slog"

	"kbingest/internal/middleware"
)

// ContextHandler stamps request and pipeline identifiers carried in the
// context onto every record.
type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := ctx.Value(middleware.CorrelationKey).(string); ok && id != "" {
		r.AddAttrs(slog.String("correlation_id", id))
	}
	if owner := middleware.GetOwnerID(ctx); owner != "" {
		r.AddAttrs(slog.String("owner_id", owner))
	}
	if item := middleware.GetItemID(ctx); item != "" {
		r.AddAttrs(slog.String("item_id", item))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithGroup(name)}
}
