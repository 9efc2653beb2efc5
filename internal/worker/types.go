package worker

import (
	"context"
	"time"

	"kbingest/features/account"
	"kbingest/features/job"
	"kbingest/internal/billing"
	"kbingest/internal/content"
	"kbingest/internal/progress"
	"kbingest/internal/vector"
)

// ItemStore loads and saves content items. FindItem wraps
// errkind.ErrNotFound when the id is unknown.
type ItemStore interface {
	FindItem(ctx context.Context, id string) (*content.Item, error)
	UpdateItem(ctx context.Context, it *content.Item) error
}

type AccountStore interface {
	FindAccount(ctx context.Context, id string) (*account.Account, error)
}

type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

type FailedJobStore interface {
	Save(ctx context.Context, j *job.Job) error
}

type ProgressTracker interface {
	Update(ctx context.Context, ownerID string, stage progress.Stage, success bool) (*progress.Progress, bool)
	AddTrainingListID(ownerID, itemID string)
	ClearAfter(ownerID string, grace time.Duration) *time.Timer
}

// Page is a fetched web page.
type Page struct {
	Body        string
	ContentType string
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// Extractor reads the text of an uploaded file.
type Extractor interface {
	Extract(ctx context.Context, src content.SourceRef) (string, error)
}

type CreditGate interface {
	Authorize(ctx context.Context, ownerID, itemID, text string) (billing.Quote, error)
	RecordUsage(ctx context.Context, ownerID, itemID string, q billing.Quote) error
}

type IndexEnsurer interface {
	EnsureIndex(ctx context.Context, name string) error
}

type Upserter interface {
	Upsert(ctx context.Context, index string, items []vector.Item) (int, error)
}

type Chunker interface {
	Chunk(kind content.Kind, text string) ([]string, error)
}
