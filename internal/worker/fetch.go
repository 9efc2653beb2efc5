package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"kbingest/internal/errkind"
)

const defaultMaxBodyBytes = 10 << 20

// HTTPFetcher downloads pages for the crawl stage.
type HTTPFetcher struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
}

func NewHTTPFetcher(client *http.Client, userAgent string, maxBodyBytes int64) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return &HTTPFetcher{client: client, userAgent: userAgent, maxBodyBytes: maxBodyBytes}
}

// Fetch GETs url. Server errors, throttling and network failures are
// transient; other non-2xx responses and non-text bodies are permanent.
// The body is decoded to UTF-8 from its declared or sniffed charset.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return Page{}, errkind.Integrity("create request", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, errkind.Transient("http fetch", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode/100 == 2:
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode >= http.StatusInternalServerError:
		return Page{}, errkind.Transient("http fetch", fmt.Errorf("http status %d", resp.StatusCode))
	default:
		return Page{}, errkind.Integrity("http fetch", fmt.Errorf("unexpected http status %d", resp.StatusCode))
	}

	contentType := resp.Header.Get("Content-Type")
	if !textual(contentType) {
		return Page{}, errkind.Integrity("http fetch", fmt.Errorf("unsupported content type %q", contentType))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes))
	if err != nil {
		return Page{}, errkind.Transient("read response body", err)
	}
	body, err := decodeBody(raw, contentType)
	if err != nil {
		return Page{}, errkind.Integrity("decode response body", err)
	}
	return Page{Body: body, ContentType: contentType}, nil
}

func decodeBody(raw []byte, contentType string) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	r, err := charset.NewReader(bytes.NewReader(raw), contentType)
	if err != nil {
		return "", err
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return storableText(string(decoded)), nil
}

// storableText drops what a Postgres text column rejects: NUL bytes and
// invalid UTF-8 (left over when the body limit cuts a rune).
func storableText(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	return strings.ReplaceAll(s, "\x00", "")
}

func textual(contentType string) bool {
	if contentType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch mt {
	case "text/html", "application/xhtml+xml", "text/plain":
		return true
	}
	return false
}
