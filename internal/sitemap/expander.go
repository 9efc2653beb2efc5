package sitemap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// ErrNoURLs is returned when a sitemap yields no same-host page URLs.
var ErrNoURLs = errors.New("sitemap contains no urls")

type Options struct {
	UserAgent    string
	MaxURLs      int
	MaxDepth     int
	Concurrency  int
	MaxBodyBytes int64
}

// Expander resolves sitemaps and sitemap indexes into page URLs.
type Expander struct {
	client *http.Client
	opts   Options
}

func NewExpander(client *http.Client, opts Options) *Expander {
	if client == nil {
		client = http.DefaultClient
	}
	if opts.MaxURLs <= 0 {
		opts.MaxURLs = 500
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 3
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10 << 20
	}
	return &Expander{client: client, opts: opts}
}

// Expand fetches sitemapURL and returns the deduplicated page URLs on the
// same host, following sitemap indexes breadth first up to MaxDepth.
// Failures on child sitemaps are logged and skipped; a failure on the root
// sitemap is returned.
func (e *Expander) Expand(ctx context.Context, sitemapURL string) ([]string, error) {
	root, err := url.Parse(sitemapURL)
	if err != nil || root.Host == "" || (root.Scheme != "http" && root.Scheme != "https") {
		return nil, fmt.Errorf("invalid sitemap url %q", sitemapURL)
	}

	pool, err := ants.NewPool(e.opts.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("create fetch pool: %w", err)
	}
	defer pool.Release()

	c := &collector{host: normalizeHost(root.Hostname()), max: e.opts.MaxURLs, seen: map[string]bool{}}
	visited := map[string]bool{canonical(root): true}

	kind, entries, err := e.fetch(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}
	level := e.absorb(kind, entries, root, c)

	for depth := 1; len(level) > 0 && depth <= e.opts.MaxDepth && !c.full(); depth++ {
		var next []*url.URL
		var mu sync.Mutex
		var wg sync.WaitGroup

		for _, child := range level {
			key := canonical(child)
			if visited[key] {
				continue
			}
			visited[key] = true

			wg.Add(1)
			submitErr := pool.Submit(func() {
				defer wg.Done()
				kind, entries, err := e.fetch(ctx, child.String())
				if err != nil {
					slog.WarnContext(ctx, "skipping child sitemap", "url", child.String(), "error", err)
					return
				}
				mu.Lock()
				defer mu.Unlock()
				next = append(next, e.absorb(kind, entries, child, c)...)
			})
			if submitErr != nil {
				wg.Done()
				return nil, fmt.Errorf("submit sitemap fetch: %w", submitErr)
			}
		}
		wg.Wait()
		level = next
	}

	if len(level) > 0 && !c.full() {
		slog.WarnContext(ctx, "sitemap nesting exceeds max depth", "url", sitemapURL, "max_depth", e.opts.MaxDepth)
	}
	if len(c.urls) == 0 {
		return nil, ErrNoURLs
	}
	return c.urls, nil
}

// absorb records page URLs from a urlset and returns the child sitemaps of
// an index. Caller must serialize calls.
func (e *Expander) absorb(kind docKind, entries []string, base *url.URL, c *collector) []*url.URL {
	var children []*url.URL
	for _, raw := range entries {
		u, err := base.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		if normalizeHost(u.Hostname()) != c.host {
			continue
		}
		if kind == kindIndex {
			children = append(children, u)
			continue
		}
		c.add(u)
	}
	return children
}

func (e *Expander) fetch(ctx context.Context, target string) (docKind, []string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	if e.opts.UserAgent != "" {
		req.Header.Set("User-Agent", e.opts.UserAgent)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, nil, fmt.Errorf("fetch %s: unexpected status %d", target, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.opts.MaxBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read %s: %w", target, err)
	}
	return parse(body)
}

type collector struct {
	host string
	max  int
	seen map[string]bool
	urls []string
}

func (c *collector) add(u *url.URL) {
	if c.full() {
		return
	}
	key := canonical(u)
	if c.seen[key] {
		return
	}
	c.seen[key] = true
	c.urls = append(c.urls, key)
}

func (c *collector) full() bool { return len(c.urls) >= c.max }

func canonical(u *url.URL) string {
	cp := *u
	cp.Fragment = ""
	cp.Host = strings.ToLower(cp.Host)
	return cp.String()
}

func normalizeHost(h string) string {
	return strings.TrimPrefix(strings.ToLower(h), "www.")
}
