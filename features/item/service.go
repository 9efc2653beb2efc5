package item

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"kbingest/features/account"
	"kbingest/internal/content"
	"kbingest/internal/middleware"
	"kbingest/internal/progress"
	"kbingest/internal/worker"
)

var (
	ErrNoPages = errors.New("no page urls submitted")
	ErrSitemap = errors.New("sitemap expansion failed")
)

type Publisher interface {
	Publish(topic string, body []byte) error
}

type Tracker interface {
	Init(ownerID string, total int) progress.Progress
	Extend(ownerID string, n int) progress.Progress
	Get(ownerID string) (progress.Progress, bool)
	Update(ctx context.Context, ownerID string, stage progress.Stage, success bool) (*progress.Progress, bool)
}

type SitemapExpander interface {
	Expand(ctx context.Context, sitemapURL string) ([]string, error)
}

type AccountFinder interface {
	FindAccount(ctx context.Context, id string) (*account.Account, error)
}

// Batch describes a submission that was accepted for processing.
type Batch struct {
	OwnerID  string            `json:"ownerId"`
	ItemIDs  []string          `json:"itemIds"`
	Progress progress.Progress `json:"progress"`
}

type Service struct {
	repo     Repository
	pub      Publisher
	tracker  Tracker
	expander SitemapExpander
	accounts AccountFinder
	now      func() time.Time
}

func NewService(repo Repository, pub Publisher, tracker Tracker, expander SitemapExpander, accounts AccountFinder) *Service {
	return &Service{
		repo:     repo,
		pub:      pub,
		tracker:  tracker,
		expander: expander,
		accounts: accounts,
		now:      time.Now,
	}
}

func (s *Service) Get(ctx context.Context, id string) (*content.Item, error) {
	return s.repo.FindItem(ctx, id)
}

// SubmitSitemap expands a sitemap and starts a batch with one web page
// item per url found.
func (s *Service) SubmitSitemap(ctx context.Context, ownerID, sitemapURL string) (*Batch, error) {
	if _, err := s.accounts.FindAccount(ctx, ownerID); err != nil {
		return nil, err
	}
	urls, err := s.expander.Expand(ctx, sitemapURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSitemap, err)
	}
	slog.InfoContext(ctx, "sitemap expanded", "owner_id", ownerID, "sitemap", sitemapURL, "urls", len(urls))
	return s.startBatch(ctx, ownerID, urls)
}

// SubmitPages starts a batch from an explicit url list.
func (s *Service) SubmitPages(ctx context.Context, ownerID string, urls []string) (*Batch, error) {
	if _, err := s.accounts.FindAccount(ctx, ownerID); err != nil {
		return nil, err
	}
	return s.startBatch(ctx, ownerID, urls)
}

func (s *Service) startBatch(ctx context.Context, ownerID string, urls []string) (*Batch, error) {
	seen := make(map[string]struct{}, len(urls))
	items := make([]*content.Item, 0, len(urls))
	now := s.now()
	for _, raw := range urls {
		u := strings.TrimSpace(raw)
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}

		src := content.SourceRef{URL: u}
		if err := content.Validate(content.KindWebPage, src); err != nil {
			return nil, fmt.Errorf("%s: %w", u, err)
		}
		items = append(items, content.NewItem(uuid.NewString(), ownerID, content.KindWebPage, src, now))
	}
	if len(items) == 0 {
		return nil, ErrNoPages
	}

	for _, it := range items {
		if err := s.repo.Create(ctx, it); err != nil {
			return nil, fmt.Errorf("create item: %w", err)
		}
	}

	// Tracking starts before the first enqueue so no stage report is lost.
	s.tracker.Init(ownerID, len(items))

	b := &Batch{OwnerID: ownerID, ItemIDs: make([]string, 0, len(items))}
	for _, it := range items {
		s.enqueue(ctx, it)
		b.ItemIDs = append(b.ItemIDs, it.ID)
	}
	b.Progress, _ = s.tracker.Get(ownerID)
	return b, nil
}

// SubmitItem creates a single file, snippet or FAQ item. It joins the
// owner's running batch, or starts a batch of one.
func (s *Service) SubmitItem(ctx context.Context, ownerID string, kind content.Kind, src content.SourceRef, title string) (*content.Item, error) {
	if kind == content.KindWebPage {
		return nil, fmt.Errorf("%w: submit web pages through a page list or sitemap", content.ErrInvalidItem)
	}
	if err := content.Validate(kind, src); err != nil {
		return nil, err
	}
	if _, err := s.accounts.FindAccount(ctx, ownerID); err != nil {
		return nil, err
	}

	it := content.NewItem(uuid.NewString(), ownerID, kind, src, s.now())
	it.Title = strings.TrimSpace(title)
	if err := s.repo.Create(ctx, it); err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}
	s.tracker.Extend(ownerID, 1)
	s.enqueue(ctx, it)
	return it, nil
}

// Resubmit starts a new item from the source of an existing one. The old
// item keeps its terminal state.
func (s *Service) Resubmit(ctx context.Context, itemID string) (string, error) {
	old, err := s.repo.FindItem(ctx, itemID)
	if err != nil {
		return "", err
	}

	it := content.NewItem(uuid.NewString(), old.OwnerID, old.Kind, old.Source, s.now())
	if old.Kind != content.KindWebPage {
		it.Title = old.Title
	}
	if err := s.repo.Create(ctx, it); err != nil {
		return "", fmt.Errorf("create item: %w", err)
	}
	s.tracker.Extend(it.OwnerID, 1)
	s.enqueue(ctx, it)

	slog.InfoContext(ctx, "item resubmitted", "old_item_id", old.ID, "item_id", it.ID, "owner_id", it.OwnerID)
	return it.ID, nil
}

// enqueue hands the item to its first stage. A publish failure fails the
// item right away so the batch can still complete.
func (s *Service) enqueue(ctx context.Context, it *content.Item) {
	correlationID := middleware.GetCorrelationID(ctx)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	stage := worker.FirstStage(it.Kind)
	payload := worker.Payload{ItemID: it.ID, OwnerID: it.OwnerID, CorrelationID: correlationID}

	err := s.pub.Publish(worker.TopicFor(stage), payload.Encode())
	if err == nil {
		return
	}

	slog.ErrorContext(ctx, "failed to enqueue item", "item_id", it.ID, "stage", stage, "error", err)
	if ferr := it.Fail(stage, "enqueue failed: "+err.Error(), s.now()); ferr != nil {
		return
	}
	if uerr := s.repo.UpdateItem(ctx, it); uerr != nil {
		slog.ErrorContext(ctx, "failed to persist enqueue failure", "item_id", it.ID, "error", uerr)
	}
	s.tracker.Update(ctx, it.OwnerID, progress.Stage(stage), false)
}
