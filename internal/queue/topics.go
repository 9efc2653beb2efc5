package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// CreateTopics registers topics with nsqd over its HTTP API so consumers
// querying lookupd find them before the first publish.
func CreateTopics(ctx context.Context, client *http.Client, nsqdHTTP string, topics []string) error {
	if client == nil {
		client = http.DefaultClient
	}

	var errs []error
	for _, topic := range topics {
		endpoint := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, url.QueryEscape(topic))
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		resp, err := client.Do(req)
		if err != nil {
			slog.WarnContext(ctx, "failed to create NSQ topic", "topic", topic, "error", err)
			errs = append(errs, fmt.Errorf("create topic %s: %w", topic, err))
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.WarnContext(ctx, "failed to close NSQ topic creation response body", "error", closeErr)
		}
		if resp.StatusCode != http.StatusOK {
			errs = append(errs, fmt.Errorf("create topic %s: status %d", topic, resp.StatusCode))
			continue
		}
		slog.InfoContext(ctx, "nsq topic ready", "topic", topic)
	}
	return errors.Join(errs...)
}
