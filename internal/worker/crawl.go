package worker

import (
	"github.com/nsqio/go-nsq"

	"kbingest/internal/content"
)

// CrawlHandler fetches web pages and hands them to the minify stage.
type CrawlHandler struct {
	deps    Deps
	fetcher Fetcher
}

func NewCrawlHandler(deps Deps, fetcher Fetcher) *CrawlHandler {
	return &CrawlHandler{deps: deps, fetcher: fetcher}
}

func (h *CrawlHandler) HandleMessage(m *nsq.Message) error {
	return h.deps.handle(m, content.StageCrawl, h.crawl)
}

func (h *CrawlHandler) crawl(r *run) error {
	page, err := h.fetcher.Fetch(r.ctx, r.item.Source.URL)
	if err != nil {
		return stageError("crawl "+r.item.Source.URL, err)
	}
	r.item.RawSource = page.Body
	r.item.Source.MimeType = page.ContentType
	return nil
}
