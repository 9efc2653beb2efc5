package worker_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbingest/internal/errkind"
	"kbingest/internal/worker"
)

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			assert.Equal(t, "kbingest-test", r.Header.Get("User-Agent"))
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write([]byte("<html><body><p>0123456789</p></body></html>"))
		case "/image":
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte{0x89, 0x50})
		case "/busy":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/throttled":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := worker.NewHTTPFetcher(srv.Client(), "kbingest-test", 0)
	ctx := context.Background()

	p, err := f.Fetch(ctx, srv.URL+"/ok")
	require.NoError(t, err)
	assert.Contains(t, p.Body, "<p>0123456789</p>")
	assert.Equal(t, "text/html; charset=utf-8", p.ContentType)

	_, err = f.Fetch(ctx, srv.URL+"/missing")
	assert.Equal(t, errkind.DataIntegrity, errkind.KindOf(err))

	_, err = f.Fetch(ctx, srv.URL+"/image")
	assert.Equal(t, errkind.DataIntegrity, errkind.KindOf(err))

	_, err = f.Fetch(ctx, srv.URL+"/busy")
	assert.True(t, errkind.Retryable(err))

	_, err = f.Fetch(ctx, srv.URL+"/throttled")
	assert.True(t, errkind.Retryable(err))
}

func TestHTTPFetcher_BodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("abcdefghijklmnopqrstuvwxyz"))
	}))
	defer srv.Close()

	p, err := worker.NewHTTPFetcher(srv.Client(), "", 10).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "abcdefghij", p.Body)
}

func TestHTTPFetcher_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := worker.NewHTTPFetcher(nil, "", 0).Fetch(context.Background(), url)
	assert.True(t, errkind.Retryable(err))
}

func TestHTTPFetcher_AcceptsAny2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		switch r.URL.Path {
		case "/no-content":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNonAuthoritativeInfo)
			w.Write([]byte("<p>cached copy</p>"))
		}
	}))
	defer srv.Close()

	f := worker.NewHTTPFetcher(srv.Client(), "", 0)

	p, err := f.Fetch(context.Background(), srv.URL+"/cached")
	require.NoError(t, err)
	assert.Equal(t, "<p>cached copy</p>", p.Body)

	p, err = f.Fetch(context.Background(), srv.URL+"/no-content")
	require.NoError(t, err)
	assert.Empty(t, p.Body)
}

func TestHTTPFetcher_DecodesToStorableUTF8(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        []byte
		limit       int64
		want        string
	}{
		{
			name:        "declared windows-1252",
			contentType: "text/html; charset=windows-1252",
			body:        []byte("<p>caf\xe9</p>"),
			want:        "<p>café</p>",
		},
		{
			name:        "sniffed latin-1",
			contentType: "text/html",
			body:        []byte("<p>na\xefve</p>"),
			want:        "<p>naïve</p>",
		},
		{
			name:        "meta charset",
			contentType: "text/html",
			body:        []byte("<html><head><meta charset=\"iso-8859-1\"></head><body>se\xf1or</body></html>"),
			want:        `<html><head><meta charset="iso-8859-1"></head><body>señor</body></html>`,
		},
		{
			name:        "nul bytes removed",
			contentType: "text/plain",
			body:        []byte("line\x00one\x00"),
			want:        "lineone",
		},
		{
			name:        "rune cut by body limit",
			contentType: "text/plain; charset=utf-8",
			body:        []byte("h\xc3\xa9llo"),
			limit:       2,
			want:        "h\uFFFD",
		},
		{
			name:        "utf-8 untouched",
			contentType: "text/html; charset=utf-8",
			body:        []byte("<p>日本語</p>"),
			want:        "<p>日本語</p>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				w.Write(tt.body)
			}))
			defer srv.Close()

			p, err := worker.NewHTTPFetcher(srv.Client(), "", tt.limit).Fetch(context.Background(), srv.URL)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Body)
			assert.True(t, utf8.ValidString(p.Body))
			assert.NotContains(t, p.Body, "\x00")
		})
	}
}
