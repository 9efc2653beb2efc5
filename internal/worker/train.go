package worker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nsqio/go-nsq"

	"kbingest/internal/content"
	"kbingest/internal/errkind"
	"kbingest/internal/metrics"
	"kbingest/internal/text"
	"kbingest/internal/vector"
)

const titleRunes = 80

type TrainConfig struct {
	Accounts    AccountStore
	Extractor   Extractor
	Gate        CreditGate
	Indexes     IndexEnsurer
	Chunker     Chunker
	Upserter    Upserter
	IndexPrefix string
}

// TrainHandler prices, embeds and indexes an item's text. It is the last
// stage for every kind.
type TrainHandler struct {
	deps Deps
	cfg  TrainConfig
}

func NewTrainHandler(deps Deps, cfg TrainConfig) *TrainHandler {
	return &TrainHandler{deps: deps, cfg: cfg}
}

func (h *TrainHandler) HandleMessage(m *nsq.Message) error {
	return h.deps.handle(m, content.StageTrain, h.train)
}

func (h *TrainHandler) train(r *run) error {
	it := r.item

	acct, err := h.cfg.Accounts.FindAccount(r.ctx, it.OwnerID)
	if err != nil {
		return stageError("find account", err)
	}

	markup, plain, err := h.resolveText(r)
	if err != nil {
		return err
	}
	if strings.TrimSpace(plain) == "" {
		return errkind.New(errkind.ContentEmpty, "resolve text", errkind.ErrContentEmpty)
	}

	// The gate runs before any embedding work.
	quote, err := h.cfg.Gate.Authorize(r.ctx, acct.ID, it.ID, plain)
	if err != nil {
		return stageError("credit check", err)
	}

	index := vector.IndexName(h.cfg.IndexPrefix, acct.ID)
	if err := h.cfg.Indexes.EnsureIndex(r.ctx, index); err != nil {
		return stageError("ensure index", err)
	}

	chunks, err := h.cfg.Chunker.Chunk(it.Kind, markup)
	if err != nil {
		return errkind.Integrity("chunk", err)
	}
	items := h.vectorItems(it, chunks)
	if len(items) == 0 {
		return errkind.New(errkind.ContentEmpty, "chunk", errkind.ErrContentEmpty)
	}

	if err := h.cfg.Gate.RecordUsage(r.ctx, acct.ID, it.ID, quote); err != nil {
		return stageError("record usage", err)
	}
	metrics.CreditsCharged.Add(float64(quote.CreditCost))

	written, err := h.cfg.Upserter.Upsert(r.ctx, index, items)
	if err != nil {
		return stageError("upsert", err)
	}
	metrics.VectorsUpserted.Add(float64(written))

	if it.Title == "" {
		it.Title = defaultTitle(it)
	}
	return nil
}

// resolveText returns the text to chunk and its plain form, which is what
// gets priced. They differ only for web pages, whose markup helps the
// chunker drop navigation.
func (h *TrainHandler) resolveText(r *run) (markup, plain string, err error) {
	it := r.item
	switch it.Kind {
	case content.KindWebPage:
		return it.RawSource, text.PlainText(it.RawSource), nil
	case content.KindFile:
		t, err := h.cfg.Extractor.Extract(r.ctx, it.Source)
		if err != nil {
			return "", "", stageError("extract file", err)
		}
		return t, t, nil
	case content.KindSnippet:
		return it.Source.Text, it.Source.Text, nil
	case content.KindFAQ:
		t := content.FAQText(it.Source.Question, it.Source.Answer)
		return t, t, nil
	}
	return "", "", errkind.Integrity("resolve text", fmt.Errorf("unknown kind %q", it.Kind))
}

func (h *TrainHandler) vectorItems(it *content.Item, chunks []string) []vector.Item {
	title := it.Title
	if title == "" {
		title = defaultTitle(it)
	}

	items := make([]vector.Item, 0, len(chunks))
	for _, ch := range chunks {
		if it.Kind == content.KindWebPage {
			ch = text.PlainText(ch)
		}
		if strings.TrimSpace(ch) == "" {
			continue
		}
		meta := map[string]any{
			"ownerId":    it.OwnerID,
			"itemId":     it.ID,
			"title":      title,
			"sourceType": string(it.Kind),
			"chunkIndex": len(items),
		}
		if it.Source.URL != "" {
			meta["url"] = it.Source.URL
		}
		if it.Summary != "" {
			meta["description"] = it.Summary
		}
		if it.Source.FileName != "" {
			meta["fileName"] = it.Source.FileName
		}
		items = append(items, vector.Item{Text: ch, Metadata: meta})
	}
	return items
}

func defaultTitle(it *content.Item) string {
	switch it.Kind {
	case content.KindFAQ:
		return truncate(it.Source.Question)
	case content.KindFile:
		return it.Source.FileName
	case content.KindSnippet:
		return truncate(it.Source.Text)
	default:
		return it.Source.URL
	}
}

func truncate(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= titleRunes {
		return s
	}
	return string([]rune(s)[:titleRunes]) + "…"
}
