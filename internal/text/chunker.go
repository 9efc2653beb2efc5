package text

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"kbingest/internal/content"
)

// Size bounds chunks in characters.
type Size struct {
	Chunk   int
	Overlap int
}

// DefaultSizes gives hand-written kinds room for whole answers; crawled
// pages and files are cut finer.
var DefaultSizes = map[content.Kind]Size{
	content.KindWebPage: {Chunk: 2000, Overlap: 200},
	content.KindFile:    {Chunk: 2000, Overlap: 200},
	content.KindSnippet: {Chunk: 4000, Overlap: 200},
	content.KindFAQ:     {Chunk: 4000, Overlap: 200},
}

var (
	tagRe    = regexp.MustCompile(`<[^>]+>`)
	spacesRe = regexp.MustCompile(`\s+`)
)

type Chunker struct {
	sizes map[content.Kind]Size
}

func NewChunker(sizes map[content.Kind]Size) *Chunker {
	if sizes == nil {
		sizes = DefaultSizes
	}
	return &Chunker{sizes: sizes}
}

// Chunk splits text into overlapping chunks sized for kind. Crawled pages
// are filtered for boilerplate unless that would leave nothing.
func (c *Chunker) Chunk(kind content.Kind, text string) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	size, ok := c.sizes[kind]
	if !ok {
		size = DefaultSizes[content.KindWebPage]
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(size.Chunk),
		textsplitter.WithChunkOverlap(size.Overlap),
	)
	chunks, err := splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("split %s text: %w", kind, err)
	}

	kept := make([]string, 0, len(chunks))
	for _, ch := range chunks {
		ch = strings.TrimSpace(ch)
		if ch == "" {
			continue
		}
		kept = append(kept, ch)
	}

	if kind != content.KindWebPage {
		return kept, nil
	}

	filtered := make([]string, 0, len(kept))
	for _, ch := range kept {
		if !IsNoiseChunk(ch) {
			filtered = append(filtered, ch)
		}
	}
	if len(filtered) == 0 {
		return kept, nil
	}
	return filtered, nil
}

// PlainText drops markup and collapses whitespace.
func PlainText(s string) string {
	return strings.TrimSpace(spacesRe.ReplaceAllString(tagRe.ReplaceAllString(s, " "), " "))
}

// IsNoiseChunk identifies chunks that are too low-value to embed.
// These are conservative heuristics: a borderline chunk is kept.
func IsNoiseChunk(chunk string) bool {
	plain := PlainText(chunk)
	if plain == "" {
		return true
	}

	// Bare labels such as "Overview" or "Read more"
	words := strings.Fields(plain)
	if len(plain) < 30 && len(words) <= 3 {
		return true
	}

	// Link farms: navigation menus and footers
	if anchors := strings.Count(chunk, "<a "); anchors >= 3 {
		linkText := 0
		for _, m := range anchorTextRe.FindAllStringSubmatch(chunk, -1) {
			linkText += len(strings.TrimSpace(m[1]))
		}
		if float64(linkText)/float64(len(plain)) > 0.7 {
			return true
		}
	}

	// Copyright/legal boilerplate, only when short
	lower := strings.ToLower(plain)
	if strings.Contains(lower, "©") || strings.Contains(lower, "all rights reserved") ||
		strings.Contains(lower, "terms of service") || strings.Contains(lower, "privacy policy") {
		if len(plain) < 200 {
			return true
		}
	}

	return false
}

var anchorTextRe = regexp.MustCompile(`(?s)<a [^>]*>(.*?)</a>`)
