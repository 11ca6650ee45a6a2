package preview

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"go-live-preview/internal/event"
	"go-live-preview/internal/loop"

	"github.com/stretchr/testify/require"
)

// fakeLoop is a manual clock. Off-loop work is queued until Step or Drain.
type fakeLoop struct {
	now    time.Duration
	timers []*fakeTimer
	work   []func() func()
}

type fakeTimer struct {
	at      time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (l *fakeLoop) Go(work func() func()) {
	l.work = append(l.work, work)
}

func (l *fakeLoop) AfterFunc(d time.Duration, fn func()) loop.Timer {
	t := &fakeTimer{at: l.now + d, fn: fn}
	l.timers = append(l.timers, t)
	return t
}

// Advance moves the clock and fires due timers.
func (l *fakeLoop) Advance(d time.Duration) {
	l.now += d
	for {
		var due *fakeTimer
		for _, t := range l.timers {
			if !t.stopped && !t.fired && t.at <= l.now {
				due = t
				break
			}
		}
		if due == nil {
			return
		}
		due.fired = true
		due.fn()
	}
}

// Step runs one queued piece of off-loop work and its continuation.
func (l *fakeLoop) Step() bool {
	if len(l.work) == 0 {
		return false
	}
	work := l.work[0]
	l.work = l.work[1:]
	if next := work(); next != nil {
		next()
	}
	return true
}

func (l *fakeLoop) Drain() {
	for l.Step() {
	}
}

func (l *fakeLoop) liveTimers() int {
	n := 0
	for _, t := range l.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type fakeDocs struct {
	docs    map[string]*Document
	fetches int
}

func (d *fakeDocs) put(r Resource, version int64, lines ...string) {
	if d.docs == nil {
		d.docs = make(map[string]*Document)
	}
	d.docs[r.Path()] = &Document{Resource: r, Version: version, Lines: lines}
}

func (d *fakeDocs) FetchDocument(_ context.Context, r Resource) (*Document, error) {
	d.fetches++
	doc, ok := d.docs[r.Path()]
	if !ok {
		return nil, fmt.Errorf("%s: %w", r.Path(), ErrDocumentNotFound)
	}
	cp := *doc
	return &cp, nil
}

type fakeContent struct {
	renders int
	states  []State
	err     error
}

func (c *fakeContent) ProvidePreviewHTML(_ context.Context, doc *Document, state State) (string, error) {
	c.renders++
	c.states = append(c.states, state)
	if c.err != nil {
		return "", c.err
	}
	return "<b>" + doc.Text() + "</b>", nil
}

type presentCall struct {
	title string
	html  string
	opts  Options
}

type fakePanel struct {
	slot      Slot
	presented []presentCall
	posted    []any
	reveals   []Slot
	disposed  int

	message    event.Emitter[[]byte]
	viewState  event.Emitter[ViewState]
	didDispose event.Emitter[struct{}]
}

func (p *fakePanel) Slot() Slot { return p.slot }

func (p *fakePanel) Present(title, html string, opts Options) error {
	p.presented = append(p.presented, presentCall{title: title, html: html, opts: opts})
	return nil
}

func (p *fakePanel) Post(msg any) error {
	p.posted = append(p.posted, msg)
	return nil
}

func (p *fakePanel) Reveal(slot Slot) { p.reveals = append(p.reveals, slot) }

func (p *fakePanel) Dispose() {
	p.disposed++
	if p.disposed == 1 {
		p.didDispose.Fire(struct{}{})
	}
}

func (p *fakePanel) OnMessage(fn func([]byte)) event.Subscription {
	return p.message.Subscribe(fn)
}

func (p *fakePanel) OnViewStateChanged(fn func(ViewState)) event.Subscription {
	return p.viewState.Subscribe(fn)
}

func (p *fakePanel) OnDidDispose(fn func()) event.Subscription {
	return p.didDispose.Subscribe(func(struct{}) { fn() })
}

func (p *fakePanel) receive(t *testing.T, msg any) {
	t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	p.message.Fire(raw)
}

type fakePanels struct {
	created []*fakePanel
}

func (f *fakePanels) CreatePanel(slot Slot, _ string) (Panel, error) {
	p := &fakePanel{slot: slot}
	f.created = append(f.created, p)
	return p, nil
}

type fakeEditor struct {
	resource Resource
	line     float64
	hasLine  bool
	lines    []string
	reveals  []Range
	cursors  []Position
	shown    int
}

func (e *fakeEditor) Resource() Resource { return e.resource }

func (e *fakeEditor) VisibleLine() (float64, bool) { return e.line, e.hasLine }

func (e *fakeEditor) LineText(line int) (string, error) {
	if line < 0 || line >= len(e.lines) {
		return "", fmt.Errorf("line %d out of range", line)
	}
	return e.lines[line], nil
}

func (e *fakeEditor) RevealRange(r Range) error {
	e.reveals = append(e.reveals, r)
	return nil
}

func (e *fakeEditor) Show() error {
	e.shown++
	return nil
}

func (e *fakeEditor) SetCursor(p Position) error {
	e.cursors = append(e.cursors, p)
	return nil
}

type fakeEditors struct {
	active  *fakeEditor
	visible []*fakeEditor
	opened  []Resource
}

func (f *fakeEditors) ActiveEditor() Editor {
	if f.active == nil {
		return nil
	}
	return f.active
}

func (f *fakeEditors) VisibleEditors() []Editor {
	out := make([]Editor, 0, len(f.visible))
	for _, e := range f.visible {
		out = append(out, e)
	}
	return out
}

func (f *fakeEditors) ShowResource(_ context.Context, r Resource) error {
	f.opened = append(f.opened, r)
	return nil
}

type fakeFocus struct {
	values []bool
}

func (f *fakeFocus) SetPreviewFocus(v bool) { f.values = append(f.values, v) }

func (f *fakeFocus) last() (bool, bool) {
	if len(f.values) == 0 {
		return false, false
	}
	return f.values[len(f.values)-1], true
}

type fakeNotifier struct {
	warnings []string
}

func (n *fakeNotifier) Warn(msg string) { n.warnings = append(n.warnings, msg) }

type harness struct {
	loop    *fakeLoop
	docs    *fakeDocs
	content *fakeContent
	editors *fakeEditors
	panels  *fakePanels
	focus   *fakeFocus
	notes   *fakeNotifier
	env     *Env
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		loop:    &fakeLoop{},
		docs:    &fakeDocs{},
		content: &fakeContent{},
		editors: &fakeEditors{},
		panels:  &fakePanels{},
		focus:   &fakeFocus{},
		notes:   &fakeNotifier{},
	}
	h.env = &Env{
		Loop:        h.loop,
		Documents:   h.docs,
		Content:     h.content,
		Editors:     h.editors,
		Workspace:   &Workspace{},
		Lines:       NewTopmostLineMonitor(h.loop, 0),
		Notifier:    h.notes,
		RenderDelay: DefaultRenderDelay,
	}
	return h
}

func (h *harness) session(t *testing.T, r Resource, slot Slot) (*Session, *fakePanel) {
	t.Helper()
	s, err := CreateSession(r, slot, h.env, h.panels)
	require.NoError(t, err)
	return s, h.panels.created[len(h.panels.created)-1]
}

func resource(name string) Resource {
	return ResourceFromPath("/docs/" + name)
}

func postedOfType[T any](p *fakePanel) []T {
	var out []T
	for _, m := range p.posted {
		if v, ok := m.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func titles(p *fakePanel) string {
	var parts []string
	for _, c := range p.presented {
		parts = append(parts, c.title)
	}
	return strings.Join(parts, ",")
}
