package render

import (
	"context"
	"encoding/base64"
	"html"
	"regexp"
	"strings"
	"testing"

	"go-live-preview/internal/contracts"
	"go-live-preview/internal/preview"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderToMarkupAnnotatesBlocks(t *testing.T) {
	src := "# Title\n\nfirst paragraph\n\n- one\n- two\n"
	out, err := NewEngine().RenderToMarkup("", []byte(src))
	require.NoError(t, err)

	assert.Contains(t, out, `<h1 id="title" data-line="0" class="code-line">`)
	assert.Contains(t, out, `data-line="2" class="code-line">first paragraph`)
	assert.Contains(t, out, `<ul data-line="4" class="code-line">`)
	assert.Contains(t, out, `<li data-line="5" class="code-line">two`)
}

func TestRenderToMarkupWrapsHighlightedCode(t *testing.T) {
	src := "text\n\n```go\npackage main\n```\n"
	out, err := NewEngine().RenderToMarkup("", []byte(src))
	require.NoError(t, err)

	assert.Contains(t, out, `<div class="code-line" data-line="3">`)
	assert.Contains(t, out, `class="chroma"`)
}

func TestRenderToMarkupRewritesLocalImages(t *testing.T) {
	src := "![a](img/a.png)\n\n![b](https://example.com/b.png)\n\n![c](/abs/c.png)\n"
	out, err := NewEngine().RenderToMarkup("/docs/notes/readme.md", []byte(src))
	require.NoError(t, err)

	encoded := func(p string) string { return assetPrefix + base64.RawURLEncoding.EncodeToString([]byte(p)) }
	assert.Contains(t, out, encoded("/docs/notes/img/a.png"))
	assert.Contains(t, out, `src="https://example.com/b.png"`)
	assert.Contains(t, out, encoded("/abs/c.png"))
	assert.Contains(t, out, `data-image-id="image-1"`)
	assert.Contains(t, out, `data-image-id="image-3"`)
}

func TestRenderToMarkupKeepsRelativeImagesWithoutSource(t *testing.T) {
	out, err := NewEngine().RenderToMarkup("", []byte("![a](img/a.png)\n"))
	require.NoError(t, err)
	assert.Contains(t, out, `src="img/a.png"`)
}

func TestOffsetToLine(t *testing.T) {
	src := []byte("a\nb\nc")
	assert.Equal(t, 0, offsetToLine(src, -3))
	assert.Equal(t, 0, offsetToLine(src, 1))
	assert.Equal(t, 1, offsetToLine(src, 2))
	assert.Equal(t, 2, offsetToLine(src, 100))
}

func TestIsRemoteDestination(t *testing.T) {
	for _, dest := range []string{"http://x", "HTTPS://x", "data:image/png", "#frag", "//cdn/x", "/@mdfs/abc"} {
		assert.True(t, isRemoteDestination(dest), dest)
	}
	for _, dest := range []string{"a.png", "../b.png", "/abs/c.png"} {
		assert.False(t, isRemoteDestination(dest), dest)
	}
}

var attrPattern = regexp.MustCompile(`data-(settings|strings|state)="([^"]*)"`)

func pageData(t *testing.T, page string) map[string]string {
	t.Helper()
	out := map[string]string{}
	for _, m := range attrPattern.FindAllStringSubmatch(page, -1) {
		out[m[1]] = html.UnescapeString(m[2])
	}
	return out
}

func TestProvidePreviewHTML(t *testing.T) {
	c := NewContentProvider(NewEngine(), DefaultBehavior())
	c.nonce = func() string { return "fixed-nonce" }

	r := preview.ResourceFromPath("/docs/a b.md")
	doc := &preview.Document{Resource: r, Version: 3, Lines: []string{"# A", "", "body"}}
	line := 1.5
	state := preview.State{
		Resource:  r.String(),
		Line:      &line,
		ImageInfo: []contracts.ImageInfo{{ID: "image-1", Width: 10, Height: 20}},
		Slot:      2,
	}

	page, err := c.ProvidePreviewHTML(context.Background(), doc, state)
	require.NoError(t, err)

	assert.Contains(t, page, "<title>Preview a b.md</title>")
	assert.Contains(t, page, `script-src 'nonce-fixed-nonce'`)
	assert.Contains(t, page, `nonce="fixed-nonce"`)
	assert.Contains(t, page, `<div class="code-line" data-line="3"></div>`)
	assert.Contains(t, page, `data-line="2" class="code-line">body`)
	assert.NotContains(t, page, "{{")

	data := pageData(t, page)
	assert.JSONEq(t, `{"source":"file:///docs/a%20b.md","line":1.5,"lineCount":3,
		"scrollPreviewWithEditor":true,"scrollEditorWithPreview":true,"doubleClickToSwitchToEditor":true}`, data["settings"])
	assert.JSONEq(t, `{"resource":"file:///docs/a%20b.md","line":1.5,
		"imageInfo":[{"id":"image-1","width":10,"height":20}],"slot":2}`, data["state"])
	assert.Contains(t, data["strings"], "cspAlertMessageText")
}

func TestProvidePreviewHTMLUsesFreshNonce(t *testing.T) {
	c := NewContentProvider(NewEngine(), Behavior{})
	doc := &preview.Document{Resource: preview.ResourceFromPath("/a.md"), Lines: []string{"x"}}

	first, err := c.ProvidePreviewHTML(context.Background(), doc, preview.State{})
	require.NoError(t, err)
	second, err := c.ProvidePreviewHTML(context.Background(), doc, preview.State{})
	require.NoError(t, err)

	nonce := regexp.MustCompile(`nonce="([^"]+)"`)
	assert.NotEqual(t, nonce.FindStringSubmatch(first)[1], nonce.FindStringSubmatch(second)[1])
	assert.Contains(t, pageData(t, first)["settings"], `"scrollPreviewWithEditor":false`)
}

func TestProvidePreviewHTMLHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	doc := &preview.Document{Resource: preview.ResourceFromPath("/a.md")}
	_, err := NewContentProvider(NewEngine(), DefaultBehavior()).ProvidePreviewHTML(ctx, doc, preview.State{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRenderShell(t *testing.T) {
	shell := RenderShell(4)
	assert.Contains(t, shell, "Waiting for slot 4")
	assert.Contains(t, shell, "/static/preview.js")
	assert.NotContains(t, shell, "{{")
}

func TestAssets(t *testing.T) {
	a, err := NewAssets("github")
	require.NoError(t, err)

	js, ok := a.Lookup("preview.js")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(js.ContentType, "text/javascript") || strings.HasPrefix(js.ContentType, "application/javascript"))
	assert.Contains(t, string(js.Body), "revealLine")

	css, ok := a.Lookup("highlight.css")
	require.True(t, ok)
	assert.Contains(t, string(css.Body), ".chroma")

	_, ok = a.Lookup("missing.js")
	assert.False(t, ok)
}
