package gemini_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"kbingest/internal/adapter/gemini"
)

func batchServer(t *testing.T, calls *int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.True(t, strings.HasSuffix(r.URL.Path, ":batchEmbedContents"), r.URL.Path)

		var body struct {
			Requests []json.RawMessage `json:"requests"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		embeddings := make([]map[string]interface{}, len(body.Requests))
		for i := range embeddings {
			embeddings[i] = map[string]interface{}{"values": []float32{float32(i), 0.5}}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"embeddings": embeddings})
	}))
}

func TestEmbedder_EmbedBatch(t *testing.T) {
	var calls int32
	ts := batchServer(t, &calls)
	defer ts.Close()

	ctx := context.Background()
	e, err := gemini.NewEmbedder(ctx, "test-key", "gemini-embedding-001", option.WithEndpoint(ts.URL))
	require.NoError(t, err)
	defer e.Close()

	texts := make([]string, 150)
	for i := range texts {
		texts[i] = fmt.Sprintf("text %d", i)
	}

	vecs, err := e.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	assert.Len(t, vecs, 150)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, []float32{0, 0.5}, vecs[100])
}

func TestEmbedder_EmbedBatch_ProviderError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":400,"message":"bad request","status":"INVALID_ARGUMENT"}}`))
	}))
	defer ts.Close()

	ctx := context.Background()
	e, err := gemini.NewEmbedder(ctx, "test-key", "gemini-embedding-001", option.WithEndpoint(ts.URL))
	require.NoError(t, err)
	defer e.Close()

	_, err = e.EmbedBatch(ctx, []string{"a"})
	assert.Error(t, err)
}
