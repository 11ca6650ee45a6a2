package preview

import (
	"context"
	"errors"
	"strings"
	"time"

	"go-live-preview/internal/event"
	"go-live-preview/internal/loop"
)

// ErrDocumentNotFound is returned by a DocumentStore when a resource cannot
// be opened.
var ErrDocumentNotFound = errors.New("document not found")

// Document is a snapshot of a source document.
type Document struct {
	Resource Resource
	Version  int64
	Lines    []string
}

// LineCount returns the number of lines in the snapshot.
func (d *Document) LineCount() int { return len(d.Lines) }

// Text joins the snapshot lines.
func (d *Document) Text() string { return strings.Join(d.Lines, "\n") }

// DocumentStore opens documents by resource.
type DocumentStore interface {
	FetchDocument(ctx context.Context, resource Resource) (*Document, error)
}

// ContentProvider turns a document snapshot into a complete preview page.
type ContentProvider interface {
	ProvidePreviewHTML(ctx context.Context, doc *Document, state State) (string, error)
}

// Options control how a panel displays presented content.
type Options struct {
	EnableScripts      bool
	EnableCommandURIs  bool
	LocalResourceRoots []string
}

// ViewState describes panel focus and visibility.
type ViewState struct {
	Active  bool
	Visible bool
}

// Panel is the output slot a session renders into.
type Panel interface {
	Slot() Slot
	Present(title string, html string, opts Options) error
	Post(msg any) error
	Reveal(slot Slot)
	Dispose()

	OnMessage(fn func(raw []byte)) event.Subscription
	OnViewStateChanged(fn func(ViewState)) event.Subscription
	OnDidDispose(fn func()) event.Subscription
}

// PanelFactory creates panels for new sessions.
type PanelFactory interface {
	CreatePanel(slot Slot, title string) (Panel, error)
}

// Position is a zero-based line and character offset.
type Position struct {
	Line      int
	Character int
}

// Range is a half-open span between two positions.
type Range struct {
	Start Position
	End   Position
}

// Editor is a visible source view.
type Editor interface {
	Resource() Resource
	// VisibleLine returns the fractional topmost visible line.
	VisibleLine() (float64, bool)
	LineText(line int) (string, error)
	// RevealRange scrolls so that r starts at the top of the view.
	RevealRange(r Range) error
	Show() error
	SetCursor(p Position) error
}

// Editors exposes the host's source views.
type Editors interface {
	ActiveEditor() Editor
	VisibleEditors() []Editor
	ShowResource(ctx context.Context, resource Resource) error
}

// FocusContext records whether any preview currently has focus.
type FocusContext interface {
	SetPreviewFocus(focused bool)
}

// Notifier surfaces warnings to the user.
type Notifier interface {
	Warn(msg string)
}

// Scheduler is the single logical thread sessions run on.
type Scheduler interface {
	// Go runs work off the loop and delivers its continuation on it.
	Go(work func() func())
	AfterFunc(d time.Duration, fn func()) loop.Timer
}

// SelectionEvent reports the cursor line of an editor.
type SelectionEvent struct {
	Resource Resource
	Line     int
}

// ActiveEditorEvent reports the editor that gained focus.
type ActiveEditorEvent struct {
	Resource    Resource
	Previewable bool
}

// Workspace carries host notifications about source documents.
type Workspace struct {
	DocumentChanged     event.Emitter[Resource]
	SelectionChanged    event.Emitter[SelectionEvent]
	ActiveEditorChanged event.Emitter[ActiveEditorEvent]
}

// Env bundles the collaborators every session shares.
type Env struct {
	Loop      Scheduler
	Documents DocumentStore
	Content   ContentProvider
	Editors   Editors
	Workspace *Workspace
	Lines     *TopmostLineMonitor
	Notifier  Notifier

	// RenderDelay is the debounce applied to plain content updates.
	RenderDelay time.Duration
}
