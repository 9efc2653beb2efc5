// Package minify reduces crawled HTML to the semantic markup worth
// embedding: headings, paragraphs, lists and links.
package minify

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// allowed tags survive collapsing.
var allowed = map[string]bool{
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"p": true, "ul": true, "ol": true, "li": true,
	"dl": true, "dt": true, "dd": true, "a": true,
}

// stripped elements are removed together with everything inside them.
var stripped = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Template: true,
	atom.Img: true, atom.Picture: true, atom.Svg: true, atom.Source: true,
	atom.Input: true, atom.Select: true, atom.Textarea: true, atom.Button: true,
	atom.Br: true, atom.Link: true, atom.Meta: true, atom.Head: true,
}

// Result is the reduced page plus metadata read before reduction.
type Result struct {
	Text        string
	Title       string
	Description string
}

// Minify reduces page, fetched from pageURL, to semantic markup. Relative
// links are resolved against pageURL.
func Minify(page, pageURL string) (Result, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return Result{}, fmt.Errorf("parse page url: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return Result{}, fmt.Errorf("parse html: %w", err)
	}

	res := Result{
		Title:       extractPageTitle(doc),
		Description: extractMetaDescription(doc),
	}

	var start []*html.Node
	if body := doc.Find("body"); body.Length() > 0 {
		start = body.Nodes
	} else {
		start = doc.Nodes
	}

	b := builder{base: base, t: &tree{}}
	for _, n := range start {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			b.t.roots = append(b.t.roots, b.build(c)...)
		}
	}

	t := collapse(removeEmpty(b.t))
	res.Text = render(t)
	return res, nil
}

func extractPageTitle(doc *goquery.Document) string {
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if og, ok := doc.Find("meta[property='og:title']").Attr("content"); ok {
		return strings.TrimSpace(og)
	}
	return ""
}

func extractMetaDescription(doc *goquery.Document) string {
	if desc, ok := doc.Find("meta[name='description']").Attr("content"); ok {
		return strings.TrimSpace(desc)
	}
	if og, ok := doc.Find("meta[property='og:description']").Attr("content"); ok {
		return strings.TrimSpace(og)
	}
	return ""
}

type builder struct {
	base *url.URL
	t    *tree
}

// build copies n into the arena, dropping stripped content, rewriting
// frames and forms, and keeping only absolute href/src attributes.
func (b *builder) build(n *html.Node) []nodeID {
	switch n.Type {
	case html.TextNode:
		return []nodeID{b.t.add(node{kind: textNode, text: n.Data})}
	case html.ElementNode:
	default:
		return nil
	}

	if stripped[n.DataAtom] {
		return nil
	}

	switch n.DataAtom {
	case atom.Iframe, atom.Frame:
		src := b.resolve(attrValue(n, "src"))
		if src == "" {
			return nil
		}
		text := b.t.add(node{kind: textNode, text: src})
		return []nodeID{b.t.add(node{
			kind:     elementNode,
			tag:      "a",
			attrs:    []attr{{key: "href", val: src}},
			children: []nodeID{text},
		})}
	}

	var kids []nodeID
	if n.DataAtom == atom.Form {
		source := b.resolve(attrValue(n, "action"))
		if source == "" {
			source = b.base.String()
		}
		kids = append(kids, b.t.add(node{kind: textNode, text: "[Form: " + source + "] "}))
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		kids = append(kids, b.build(c)...)
	}

	var attrs []attr
	for _, key := range []string{"href", "src"} {
		if v := b.resolve(attrValue(n, key)); v != "" {
			attrs = append(attrs, attr{key: key, val: v})
		}
	}

	return []nodeID{b.t.add(node{kind: elementNode, tag: n.Data, attrs: attrs, children: kids})}
}

func (b *builder) resolve(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if strings.EqualFold(u.Scheme, "javascript") || strings.EqualFold(u.Scheme, "data") {
		return ""
	}
	return b.base.ResolveReference(u).String()
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", `"`, "&quot;")
)

// render serialises t, collapsing whitespace. Top-level nodes go on their
// own lines.
func render(t *tree) string {
	var lines []string
	for _, r := range t.roots {
		var sb strings.Builder
		renderNode(t, r, &sb)
		if s := strings.TrimSpace(sb.String()); s != "" {
			lines = append(lines, s)
		}
	}
	return strings.Join(lines, "\n")
}

func renderNode(t *tree, id nodeID, sb *strings.Builder) {
	n := t.nodes[id]
	if n.kind == textNode {
		sb.WriteString(textEscaper.Replace(collapseSpace(n.text)))
		return
	}

	sb.WriteByte('<')
	sb.WriteString(n.tag)
	for _, a := range n.attrs {
		sb.WriteByte(' ')
		sb.WriteString(a.key)
		sb.WriteString(`="`)
		sb.WriteString(attrEscaper.Replace(a.val))
		sb.WriteByte('"')
	}
	sb.WriteByte('>')

	var inner strings.Builder
	for _, c := range n.children {
		renderNode(t, c, &inner)
	}
	s := inner.String()
	if n.tag != "a" {
		s = strings.TrimSpace(s)
	}
	for strings.Contains(s, "  ") {
		s = strings.ReplaceAll(s, "  ", " ")
	}
	sb.WriteString(s)

	sb.WriteString("</")
	sb.WriteString(n.tag)
	sb.WriteByte('>')
}

// collapseSpace folds runs of whitespace, including non-breaking spaces,
// into a single space.
func collapseSpace(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	inSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !inSpace {
				sb.WriteByte(' ')
			}
			inSpace = true
			continue
		}
		inSpace = false
		sb.WriteRune(r)
	}
	return sb.String()
}
