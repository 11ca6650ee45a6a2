package render

import (
	"bytes"
	"encoding/base64"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	chromahtml "github.com/alecthomas/chroma/formatters/html"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extensionast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
	alertcallouts "github.com/zmtcreative/gm-alert-callouts"
)

const (
	lineAttribute  = "data-line"
	lineClass      = "code-line"
	assetPrefix    = "/@mdfs/"
	imageIDAttr    = "data-image-id"
	imageIDPattern = "image-"
)

// Engine converts document text into an HTML fragment. The goldmark
// instance is built on first use and shared by every later call.
type Engine struct {
	once sync.Once
	md   goldmark.Markdown
}

func NewEngine() *Engine {
	return &Engine{}
}

func (e *Engine) markdown() goldmark.Markdown {
	e.once.Do(func() {
		e.md = goldmark.New(
			goldmark.WithExtensions(
				alertcallouts.AlertCallouts,
				extension.GFM,
				extension.Table,
				extension.Strikethrough,
				extension.TaskList,
				extension.Linkify,
				highlighting.NewHighlighting(
					highlighting.WithWrapperRenderer(renderHighlightedCodeWrapper),
					highlighting.WithFormatOptions(
						chromahtml.WithClasses(true),
					),
				),
			),
			goldmark.WithParserOptions(
				parser.WithAutoHeadingID(),
			),
			goldmark.WithRendererOptions(html.WithUnsafe()),
		)
	})
	return e.md
}

// RenderToMarkup parses text and returns the HTML fragment with
// data-line attributes attached to block elements.
//
// If sourcePath is set, local image destinations are rewritten to the
// preview asset path format expected by the HTTP layer.
func (e *Engine) RenderToMarkup(sourcePath string, source []byte) (string, error) {
	md := e.markdown()
	doc := md.Parser().Parse(text.NewReader(source))
	decorateAST(doc, source, sourcePath)

	var buf bytes.Buffer
	if err := md.Renderer().Render(&buf, source, doc); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// decorateAST walks the AST once and applies render metadata.
// It attaches data-line to block-level elements for scroll sync and,
// when sourcePath is available, rewrites local image destinations to /@mdfs/.
func decorateAST(doc ast.Node, source []byte, sourcePath string) {
	baseDir := ""
	if sourcePath != "" {
		baseDir = filepath.Dir(sourcePath)
	}
	images := 0

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		if shouldAnnotateNode(n) {
			offset, ok := firstNodeOffset(n)
			if ok {
				n.SetAttributeString(lineAttribute, []byte(strconv.Itoa(offsetToLine(source, offset))))
				n.SetAttributeString("class", []byte(lineClass))
			}
		}

		img, ok := n.(*ast.Image)
		if !ok {
			return ast.WalkContinue, nil
		}

		images++
		img.SetAttributeString(imageIDAttr, []byte(imageIDPattern+strconv.Itoa(images)))

		rawDest := strings.TrimSpace(string(img.Destination))
		if rawDest == "" || isRemoteDestination(rawDest) {
			return ast.WalkContinue, nil
		}

		var resolved string
		switch {
		case filepath.IsAbs(rawDest):
			resolved = filepath.Clean(rawDest)
		case baseDir != "":
			resolved = filepath.Clean(filepath.Join(baseDir, rawDest))
		default:
			return ast.WalkContinue, nil
		}

		img.Destination = []byte(AssetPath(resolved))
		img.SetAttributeString("loading", []byte("lazy"))
		img.SetAttributeString("decoding", []byte("async"))
		return ast.WalkContinue, nil
	})
}

// AssetPath encodes an absolute file path into the preview asset route.
func AssetPath(path string) string {
	return assetPrefix + base64.RawURLEncoding.EncodeToString([]byte(path))
}

func isRemoteDestination(dest string) bool {
	lower := strings.ToLower(dest)
	for _, prefix := range []string{"http://", "https://", "data:", "blob:", "file://", "//", "#", assetPrefix} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// shouldAnnotateNode returns true for block-level element types that should
// receive line metadata. These are the elements that map directly to source lines.
func shouldAnnotateNode(n ast.Node) bool {
	switch n.Kind() {
	case ast.KindHeading,
		ast.KindParagraph,
		ast.KindBlockquote,
		ast.KindFencedCodeBlock,
		ast.KindList,
		ast.KindListItem,
		ast.KindThematicBreak,
		extensionast.KindTable:
		return true
	default:
		return false
	}
}

// firstNodeOffset returns the byte offset of the first line in a node,
// searching children when the node has no lines of its own.
func firstNodeOffset(n ast.Node) (int, bool) {
	if n == nil {
		return 0, false
	}

	if lines := n.Lines(); lines != nil && lines.Len() > 0 {
		return lines.At(0).Start, true
	}

	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		if offset, ok := firstNodeOffset(child); ok {
			return offset, true
		}
	}

	return 0, false
}

// offsetToLine converts a byte offset to a 0-based line number.
// The offset is clamped to the valid range [0, len(source)].
func offsetToLine(source []byte, offset int) int {
	if offset < 0 {
		offset = 0
	}

	if offset > len(source) {
		offset = len(source)
	}

	return bytes.Count(source[:offset], []byte{'\n'})
}

// renderHighlightedCodeWrapper wraps syntax-highlighted code blocks in a div
// that carries the code block's line metadata.
func renderHighlightedCodeWrapper(w util.BufWriter, context highlighting.CodeBlockContext, entering bool) {
	line, ok := highlightedCodeLine(context)
	if !ok {
		return
	}

	if entering {
		_, _ = w.WriteString(`<div class="`)
		_, _ = w.WriteString(lineClass)
		_, _ = w.WriteString(`" `)
		_, _ = w.WriteString(lineAttribute)
		_, _ = w.WriteString(`="`)
		_, _ = w.WriteString(line)
		_, _ = w.WriteString(`">`)
		return
	}

	_, _ = w.WriteString("</div>")
}

// highlightedCodeLine extracts the line attribute set by decorateAST from a
// code block's rendering context.
func highlightedCodeLine(context highlighting.CodeBlockContext) (string, bool) {
	if context == nil {
		return "", false
	}

	attrs := context.Attributes()
	if attrs == nil {
		return "", false
	}

	v, ok := attrs.GetString(lineAttribute)
	if !ok {
		return "", false
	}

	switch typed := v.(type) {
	case string:
		return typed, typed != ""
	case []byte:
		if len(typed) == 0 {
			return "", false
		}
		return string(typed), true
	default:
		return "", false
	}
}
