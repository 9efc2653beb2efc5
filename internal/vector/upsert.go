package vector

import (
	"context"
	"fmt"
	"log/slog"

	"kbingest/internal/errkind"
)

const MaxBatchSize = 100

// Embedder turns texts into vectors, one per input, in order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// RecordWriter writes one batch of records to an index, replacing records
// with the same id.
type RecordWriter interface {
	UpsertRecords(ctx context.Context, index string, records []Record) error
}

// Item is a chunk of text waiting to be embedded.
type Item struct {
	Text     string
	Metadata map[string]any
}

// PartialUpsertError reports how far an upsert got before a batch failed.
type PartialUpsertError struct {
	Written int
	Total   int
	Err     error
}

func (e *PartialUpsertError) Error() string {
	return fmt.Sprintf("upsert stopped after %d of %d records: %v", e.Written, e.Total, e.Err)
}

func (e *PartialUpsertError) Unwrap() error { return e.Err }

type Upserter struct {
	embedder  Embedder
	writer    RecordWriter
	batchSize int
	dimension int
}

func NewUpserter(embedder Embedder, writer RecordWriter, batchSize, dimension int) *Upserter {
	if batchSize <= 0 || batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}
	return &Upserter{
		embedder:  embedder,
		writer:    writer,
		batchSize: batchSize,
		dimension: dimension,
	}
}

// Upsert embeds items and writes them to index in sequential batches. It
// returns the number of records written. If embedding fails nothing is
// written; if a batch fails the remaining batches are skipped and the
// error is a *PartialUpsertError.
func (u *Upserter) Upsert(ctx context.Context, index string, items []Item) (int, error) {
	records, texts := dedupe(items)
	if len(records) == 0 {
		return 0, nil
	}

	vectors, err := u.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, errkind.Transient("embed", err)
	}
	if len(vectors) != len(records) {
		return 0, errkind.Transient("embed", fmt.Errorf("provider returned %d vectors for %d texts", len(vectors), len(records)))
	}
	for i, v := range vectors {
		if len(v) != u.dimension {
			return 0, errkind.Config("embed", fmt.Errorf("embedding dimension %d does not match index dimension %d", len(v), u.dimension))
		}
		records[i].Vector = v
	}

	written := 0
	for start := 0; start < len(records); start += u.batchSize {
		end := min(start+u.batchSize, len(records))
		if err := u.writer.UpsertRecords(ctx, index, records[start:end]); err != nil {
			slog.ErrorContext(ctx, "vector batch upsert failed", "index", index, "written", written, "total", len(records), "error", err)
			return written, errkind.Transient("upsert", &PartialUpsertError{Written: written, Total: len(records), Err: err})
		}
		written = end
	}

	return written, nil
}

func dedupe(items []Item) ([]Record, []string) {
	seen := make(map[string]struct{}, len(items))
	records := make([]Record, 0, len(items))
	texts := make([]string, 0, len(items))
	for _, it := range items {
		id := RecordID(it.Text)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		records = append(records, Record{ID: id, Metadata: SanitizeMetadata(it.Metadata, it.Text)})
		texts = append(texts, it.Text)
	}
	return records, texts
}
