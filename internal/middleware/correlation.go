package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type key int

const (
	CorrelationKey key = iota
	OwnerKey
	ItemKey
)

const (
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderAccountID     = "X-Account-ID"
)

func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderCorrelationID)
		if id == "" {
			id = uuid.New().String()
		}

		ctx := WithCorrelationID(r.Context(), id)
		if owner := r.Header.Get(HeaderAccountID); owner != "" {
			ctx = WithOwnerID(ctx, owner)
		}
		w.Header().Set(HeaderCorrelationID, id)

		slog.InfoContext(ctx, "request received", "method", r.Method, "path", r.URL.Path) // #nosec G706 -- r.URL.Path is parsed by Go's net/http
		start := time.Now()

		next.ServeHTTP(w, r.WithContext(ctx))

		slog.InfoContext(ctx, "request completed", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start)) // #nosec G706
	})
}

func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationKey).(string); ok {
		return id
	}
	return "unknown"
}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationKey, id)
}

// WithOwnerID tags ctx with the account that owns the work being done.
func WithOwnerID(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, OwnerKey, ownerID)
}

func GetOwnerID(ctx context.Context) string {
	id, _ := ctx.Value(OwnerKey).(string)
	return id
}

// WithItemID tags ctx with the content item a stage worker is processing.
func WithItemID(ctx context.Context, itemID string) context.Context {
	return context.WithValue(ctx, ItemKey, itemID)
}

func GetItemID(ctx context.Context) string {
	id, _ := ctx.Value(ItemKey).(string)
	return id
}
