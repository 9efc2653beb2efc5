package vector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"kbingest/internal/errkind"
)

var (
	// ErrIndexExists is returned by IndexClient.CreateIndex when another
	// writer created the index first.
	ErrIndexExists = errors.New("index already exists")
	// ErrIndexNotReady means readiness polling ran out of time.
	ErrIndexNotReady = errors.New("index not ready")
)

type IndexSpec struct {
	Name      string
	Dimension int
	Metric    string
}

type IndexStatus struct {
	Ready bool
}

// IndexClient is the administrative surface of the vector store.
type IndexClient interface {
	IndexExists(ctx context.Context, name string) (bool, error)
	CreateIndex(ctx context.Context, spec IndexSpec) error
	DescribeIndex(ctx context.Context, name string) (IndexStatus, error)
}

type IndexManager struct {
	client       IndexClient
	dimension    int
	metric       string
	readyTimeout time.Duration
	pollInterval time.Duration
}

func NewIndexManager(client IndexClient, dimension int, metric string, readyTimeout, pollInterval time.Duration) *IndexManager {
	return &IndexManager{
		client:       client,
		dimension:    dimension,
		metric:       metric,
		readyTimeout: readyTimeout,
		pollInterval: pollInterval,
	}
}

// EnsureIndex makes sure name exists and is serving before returning.
// Concurrent callers may race to create it; losing the race is success.
func (m *IndexManager) EnsureIndex(ctx context.Context, name string) error {
	exists, err := m.client.IndexExists(ctx, name)
	if err != nil {
		return errkind.Transient("check index", err)
	}

	if !exists {
		slog.InfoContext(ctx, "creating vector index", "index", name, "dimension", m.dimension, "metric", m.metric)
		err := m.client.CreateIndex(ctx, IndexSpec{Name: name, Dimension: m.dimension, Metric: m.metric})
		if err != nil && !errors.Is(err, ErrIndexExists) {
			return errkind.Transient("create index", err)
		}
	}

	return m.waitReady(ctx, name)
}

func (m *IndexManager) waitReady(ctx context.Context, name string) error {
	deadline := time.Now().Add(m.readyTimeout)
	for {
		status, err := m.client.DescribeIndex(ctx, name)
		if err == nil && status.Ready {
			return nil
		}
		if err != nil {
			slog.DebugContext(ctx, "describe index failed while waiting", "index", name, "error", err)
		}

		if time.Now().Add(m.pollInterval).After(deadline) {
			return errkind.Transient("wait for index", fmt.Errorf("%s after %s: %w", name, m.readyTimeout, ErrIndexNotReady))
		}

		select {
		case <-ctx.Done():
			return errkind.Transient("wait for index", ctx.Err())
		case <-time.After(m.pollInterval):
		}
	}
}

// IndexName derives the per-account index name. The store requires names
// to start with an upper-case letter and contain only letters, digits and
// underscores; when sanitising changes the owner id a short digest keeps
// distinct owners apart.
func IndexName(prefix, ownerID string) string {
	var b strings.Builder
	for _, r := range ownerID {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	owner := b.String()
	if owner != ownerID {
		sum := sha256.Sum256([]byte(ownerID))
		owner += "_" + hex.EncodeToString(sum[:4])
	}

	if prefix == "" {
		prefix = "Index"
	}
	runes := []rune(prefix)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes) + "_" + owner
}
