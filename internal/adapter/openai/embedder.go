// Package openai embeds text through any OpenAI-compatible embeddings API.
package openai

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

type Embedder struct {
	model     embeddings.Embedder
	modelName string
}

// NewEmbedder builds an embedder for model. baseURL may be empty to use
// the public OpenAI endpoint.
func NewEmbedder(apiKey, baseURL, model string) (*Embedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key required")
	}

	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithEmbeddingModel(model),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	e, err := embeddings.NewEmbedder(llm, embeddings.WithStripNewLines(false))
	if err != nil {
		return nil, fmt.Errorf("create openai embedder: %w", err)
	}

	return &Embedder{model: e, modelName: model}, nil
}

// EmbedBatch returns one vector per text, in input order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	start := time.Now()
	vectors, err := e.model.EmbedDocuments(ctx, texts)
	if err != nil {
		slog.WarnContext(ctx, "embedding failed", "model", e.modelName, "count", len(texts), "duration_ms", time.Since(start).Milliseconds(), "error", err)
		return nil, fmt.Errorf("embed batch: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("count mismatch: got %d, want %d", len(vectors), len(texts))
	}

	slog.DebugContext(ctx, "embedding complete", "model", e.modelName, "count", len(texts), "duration_ms", time.Since(start).Milliseconds())
	return vectors, nil
}
