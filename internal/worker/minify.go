package worker

import (
	"github.com/nsqio/go-nsq"

	"kbingest/internal/content"
	"kbingest/internal/errkind"
	"kbingest/internal/minify"
)

// MinifyHandler reduces crawled HTML to semantic markup for training.
type MinifyHandler struct {
	deps Deps
}

func NewMinifyHandler(deps Deps) *MinifyHandler {
	return &MinifyHandler{deps: deps}
}

func (h *MinifyHandler) HandleMessage(m *nsq.Message) error {
	return h.deps.handle(m, content.StageMinify, h.minify)
}

func (h *MinifyHandler) minify(r *run) error {
	res, err := minify.Minify(r.item.RawSource, r.item.Source.URL)
	if err != nil {
		return errkind.Integrity("minify", err)
	}
	r.item.RawSource = res.Text
	if res.Title != "" {
		r.item.Title = res.Title
	}
	r.item.Summary = res.Description
	return nil
}
