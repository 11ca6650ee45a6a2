package render

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"mime"
	"path"

	chromahtml "github.com/alecthomas/chroma/formatters/html"
	"github.com/alecthomas/chroma/styles"
)

//go:embed static
var staticFS embed.FS

// Asset is one static file served next to preview pages.
type Asset struct {
	ContentType string
	Body        []byte
}

// Assets holds the page script, the base stylesheet and the highlight
// stylesheet generated for the configured chroma style.
type Assets struct {
	files map[string]Asset
}

// NewAssets loads the embedded files and generates highlight.css for style.
// Unknown style names fall back to chroma's default.
func NewAssets(style string) (*Assets, error) {
	a := &Assets{files: make(map[string]Asset)}

	err := fs.WalkDir(staticFS, "static", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		body, err := staticFS.ReadFile(p)
		if err != nil {
			return err
		}
		a.files[path.Base(p)] = Asset{ContentType: contentType(p), Body: body}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load static assets: %w", err)
	}

	var css bytes.Buffer
	formatter := chromahtml.New(chromahtml.WithClasses(true))
	if err := formatter.WriteCSS(&css, styles.Get(style)); err != nil {
		return nil, fmt.Errorf("write highlight css: %w", err)
	}
	a.files["highlight.css"] = Asset{ContentType: contentType("highlight.css"), Body: css.Bytes()}

	return a, nil
}

// Lookup returns the asset called name.
func (a *Assets) Lookup(name string) (Asset, bool) {
	asset, ok := a.files[name]
	return asset, ok
}

func contentType(name string) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
