package render

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"html"
	"strconv"
	"strings"

	"go-live-preview/internal/preview"

	"github.com/google/uuid"
)

//go:embed page.html
var pageTemplate string

//go:embed shell.html
var shellTemplate string

// Strings shown by the page script when content is blocked.
var previewStrings = map[string]string{
	"cspAlertMessageText":  "Some content has been disabled in this document",
	"cspAlertMessageTitle": "Potentially unsafe or insecure content has been disabled in the preview",
	"cspAlertMessageLabel": "Content Disabled Security Warning",
}

// PageSettings is the initial data handed to the page script.
type PageSettings struct {
	Source    string   `json:"source"`
	Line      *float64 `json:"line,omitempty"`
	LineCount int      `json:"lineCount"`

	ScrollPreviewWithEditor     bool `json:"scrollPreviewWithEditor"`
	ScrollEditorWithPreview     bool `json:"scrollEditorWithPreview"`
	DoubleClickToSwitchToEditor bool `json:"doubleClickToSwitchToEditor"`
}

// Behavior toggles page-side synchronization features.
type Behavior struct {
	ScrollPreviewWithEditor     bool
	ScrollEditorWithPreview     bool
	DoubleClickToSwitchToEditor bool
}

// DefaultBehavior enables every synchronization feature.
func DefaultBehavior() Behavior {
	return Behavior{
		ScrollPreviewWithEditor:     true,
		ScrollEditorWithPreview:     true,
		DoubleClickToSwitchToEditor: true,
	}
}

// ContentProvider builds complete preview pages from document snapshots.
type ContentProvider struct {
	engine   *Engine
	behavior Behavior
	nonce    func() string
}

func NewContentProvider(engine *Engine, behavior Behavior) *ContentProvider {
	return &ContentProvider{
		engine:   engine,
		behavior: behavior,
		nonce:    func() string { return uuid.NewString() },
	}
}

// ProvidePreviewHTML renders doc and wraps it in a page carrying the
// settings, strings and state the page script starts from.
func (c *ContentProvider) ProvidePreviewHTML(ctx context.Context, doc *preview.Document, state preview.State) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	body, err := c.engine.RenderToMarkup(doc.Resource.Path(), []byte(doc.Text()))
	if err != nil {
		return "", fmt.Errorf("render markup: %w", err)
	}

	settings := PageSettings{
		Source:    doc.Resource.String(),
		Line:      state.Line,
		LineCount: doc.LineCount(),

		ScrollPreviewWithEditor:     c.behavior.ScrollPreviewWithEditor,
		ScrollEditorWithPreview:     c.behavior.ScrollEditorWithPreview,
		DoubleClickToSwitchToEditor: c.behavior.DoubleClickToSwitchToEditor,
	}

	settingsAttr, err := jsonAttribute(settings)
	if err != nil {
		return "", err
	}
	stringsAttr, err := jsonAttribute(previewStrings)
	if err != nil {
		return "", err
	}
	stateAttr, err := jsonAttribute(state)
	if err != nil {
		return "", err
	}

	r := strings.NewReplacer(
		"{{TITLE}}", html.EscapeString(preview.PreviewTitle(doc.Resource)),
		"{{SETTINGS}}", settingsAttr,
		"{{STRINGS}}", stringsAttr,
		"{{STATE}}", stateAttr,
		"{{NONCE}}", c.nonce(),
		"{{LINE_COUNT}}", strconv.Itoa(doc.LineCount()),
		"{{CONTENT}}", body,
	)
	return r.Replace(pageTemplate), nil
}

// RenderShell returns the page served for a slot before anything has been
// presented in it.
func RenderShell(slot preview.Slot) string {
	r := strings.NewReplacer(
		"{{SLOT}}", strconv.Itoa(int(slot)),
		"{{NONCE}}", uuid.NewString(),
	)
	return r.Replace(shellTemplate)
}

// jsonAttribute encodes v for use inside a double-quoted HTML attribute.
func jsonAttribute(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode page data: %w", err)
	}
	return html.EscapeString(string(b)), nil
}
