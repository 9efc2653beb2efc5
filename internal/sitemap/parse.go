// Package sitemap expands a sitemap URL into the page URLs it lists.
package sitemap

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNotSitemap is returned for documents whose root element is neither
// urlset nor sitemapindex.
var ErrNotSitemap = errors.New("document is not a sitemap")

type docKind int

const (
	kindURLSet docKind = iota
	kindIndex
)

type xmlURLSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []xmlLoc `xml:"url"`
}

type xmlSitemapIndex struct {
	XMLName  xml.Name `xml:"sitemapindex"`
	Sitemaps []xmlLoc `xml:"sitemap"`
}

type xmlLoc struct {
	Loc string `xml:"loc"`
}

// parse returns the kind of document and the locations it lists: page
// URLs for a urlset, child sitemap URLs for a sitemap index.
func parse(body []byte) (docKind, []string, error) {
	root, err := rootElement(body)
	if err != nil {
		return 0, nil, err
	}

	switch root {
	case "urlset":
		var set xmlURLSet
		if err := xml.Unmarshal(body, &set); err != nil {
			return 0, nil, fmt.Errorf("parse sitemap: %w", err)
		}
		return kindURLSet, locs(set.URLs), nil
	case "sitemapindex":
		var idx xmlSitemapIndex
		if err := xml.Unmarshal(body, &idx); err != nil {
			return 0, nil, fmt.Errorf("parse sitemap index: %w", err)
		}
		return kindIndex, locs(idx.Sitemaps), nil
	default:
		return 0, nil, fmt.Errorf("%w: root element %q", ErrNotSitemap, root)
	}
}

func rootElement(body []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return "", ErrNotSitemap
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrNotSitemap, err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se.Name.Local, nil
		}
	}
}

func locs(entries []xmlLoc) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if loc := strings.TrimSpace(e.Loc); loc != "" {
			out = append(out, loc)
		}
	}
	return out
}
