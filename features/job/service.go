package job

import (
	"context"
	"fmt"
	"log/slog"
)

// Resubmitter starts a fresh item from the source of a finished one and
// returns the new item id.
type Resubmitter interface {
	Resubmit(ctx context.Context, itemID string) (string, error)
}

type Service struct {
	repo        Repository
	resubmitter Resubmitter
	logger      *slog.Logger
}

func NewService(repo Repository, resubmitter Resubmitter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, resubmitter: resubmitter, logger: logger}
}

func (s *Service) List(ctx context.Context) ([]Job, error) {
	return s.repo.List(ctx)
}

// Retry re-submits the failed job's item as a new item and removes the
// job. The failed item itself stays terminal.
func (s *Service) Retry(ctx context.Context, id string) (string, error) {
	j, err := s.repo.Get(ctx, id)
	if err != nil {
		return "", err
	}

	newID, err := s.resubmitter.Resubmit(ctx, j.ItemID)
	if err != nil {
		return "", fmt.Errorf("resubmit item %s: %w", j.ItemID, err)
	}
	s.logger.InfoContext(ctx, "failed job resubmitted", "job_id", id, "item_id", j.ItemID, "new_item_id", newID)

	if err := s.repo.Delete(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "failed to delete retried job", "job_id", id, "error", err)
	}
	return newID, nil
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
