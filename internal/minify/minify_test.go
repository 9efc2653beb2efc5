package minify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pageURL = "https://docs.example.com/guide/start"

func TestMinify_StripsAndCollapses(t *testing.T) {
	res, err := Minify(`<div><p>Hello<br/><script>x</script></p></div>`, pageURL)
	require.NoError(t, err)
	assert.Equal(t, "<p>Hello</p>", res.Text)
}

func TestMinify_ExtractsMetadataFirst(t *testing.T) {
	page := `<html><head>
		<title> Getting Started </title>
		<meta name="description" content="How to begin">
	</head><body><main><h1>Start</h1></main></body></html>`

	res, err := Minify(page, pageURL)
	require.NoError(t, err)
	assert.Equal(t, "Getting Started", res.Title)
	assert.Equal(t, "How to begin", res.Description)
	assert.Equal(t, "<h1>Start</h1>", res.Text)
}

func TestMinify_OpenGraphFallback(t *testing.T) {
	page := `<html><head>
		<meta property="og:title" content="OG Title">
		<meta property="og:description" content="OG Desc">
	</head><body><p>x</p></body></html>`

	res, err := Minify(page, pageURL)
	require.NoError(t, err)
	assert.Equal(t, "OG Title", res.Title)
	assert.Equal(t, "OG Desc", res.Description)
}

func TestMinify_AbsolutizesAndStripsAttributes(t *testing.T) {
	page := `<p class="lead" id="x"><a href="../api" target="_blank" data-x="1">API</a></p>`

	res, err := Minify(page, pageURL)
	require.NoError(t, err)
	assert.Equal(t, `<p><a href="https://docs.example.com/api">API</a></p>`, res.Text)
}

func TestMinify_DropsJavascriptLinks(t *testing.T) {
	res, err := Minify(`<p><a href="javascript:void(0)">Click</a></p>`, pageURL)
	require.NoError(t, err)
	assert.Equal(t, `<p><a>Click</a></p>`, res.Text)
}

func TestMinify_KeepsStructureWithSeveralChildren(t *testing.T) {
	page := `<section>
		<h2>Install</h2>
		<ul>
			<li>Download</li>
			<li>Run <code>setup</code></li>
		</ul>
	</section>`

	res, err := Minify(page, pageURL)
	require.NoError(t, err)
	assert.Equal(t, `<section><h2>Install</h2> <ul><li>Download</li> <li>Run setup</li></ul></section>`, res.Text)
}

func TestMinify_RemovesEmptyElements(t *testing.T) {
	page := `<div><span> </span><p></p><p>Kept</p><div><img src="a.png"></div></div>`

	res, err := Minify(page, pageURL)
	require.NoError(t, err)
	assert.Equal(t, "<p>Kept</p>", res.Text)
}

func TestMinify_FramesBecomeReferences(t *testing.T) {
	res, err := Minify(`<p>See</p><iframe src="/embed/video"></iframe>`, pageURL)
	require.NoError(t, err)
	assert.Equal(t, "<p>See</p>\n"+`<a href="https://docs.example.com/embed/video">https://docs.example.com/embed/video</a>`, res.Text)
}

func TestMinify_FormsArePrefixed(t *testing.T) {
	page := `<form action="/subscribe"><p>Join the list</p><input name="email"><button>Go</button></form>`

	res, err := Minify(page, pageURL)
	require.NoError(t, err)
	assert.Equal(t, "[Form: https://docs.example.com/subscribe]\n<p>Join the list</p>", res.Text)
}

func TestMinify_CollapsesWhitespaceAndComments(t *testing.T) {
	page := "<p>  lots\n\n of   space <!-- hidden --> here </p>"

	res, err := Minify(page, pageURL)
	require.NoError(t, err)
	assert.Equal(t, "<p>lots of space here</p>", res.Text)
}

func TestMinify_EscapesText(t *testing.T) {
	res, err := Minify(`<p>a &lt; b &amp; it's</p>`, pageURL)
	require.NoError(t, err)
	assert.Equal(t, "<p>a &lt; b &amp; it's</p>", res.Text)
}

func TestMinify_EmptyPage(t *testing.T) {
	res, err := Minify(`<html><body><script>track()</script></body></html>`, pageURL)
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(res.Text))
}

func TestMinify_BadURL(t *testing.T) {
	_, err := Minify("<p>x</p>", "://bad")
	assert.Error(t, err)
}

func TestPasses_ArePure(t *testing.T) {
	src := &tree{}
	text := src.add(node{kind: textNode, text: "hi"})
	p := src.add(node{kind: elementNode, tag: "p", children: []nodeID{text}})
	div := src.add(node{kind: elementNode, tag: "div", children: []nodeID{p}})
	src.roots = []nodeID{div}

	out := collapse(src)

	assert.Len(t, src.nodes, 3)
	assert.Equal(t, []nodeID{p}, src.nodes[div].children)
	assert.Equal(t, "<p>hi</p>", render(out))
}
