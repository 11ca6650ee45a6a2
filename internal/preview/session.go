package preview

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"go-live-preview/internal/contracts"
	"go-live-preview/internal/event"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("go-live-preview.preview")

// Status is the lifecycle state of a session.
type Status int

const (
	StatusUninitialized Status = iota
	StatusActive
	StatusDisposed
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusActive:
		return "active"
	case StatusDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

type renderedVersion struct {
	resource Resource
	version  int64
}

// Session binds one resource to one output slot.
//
// All methods must be called on the env's loop.
type Session struct {
	env   *Env
	panel Panel

	resource Resource
	status   Status
	throttle *Throttler

	line    float64
	hasLine bool

	firstUpdate bool
	current     *renderedVersion
	force       bool
	isScrolling bool
	imageInfo   []contracts.ImageInfo

	// generation is bumped on every render start, resource switch and
	// disposal; background results carrying an older value are dropped.
	generation uint64

	ctx    context.Context
	cancel context.CancelFunc

	subs        event.Disposables
	onDispose   event.Emitter[struct{}]
	onViewState event.Emitter[ViewState]
	onError     event.Emitter[error]
}

// NewSession binds panel to resource. Nothing is rendered until UpdateTarget.
func NewSession(panel Panel, resource Resource, env *Env) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	delay := env.RenderDelay
	if delay == 0 {
		delay = DefaultRenderDelay
	}
	s := &Session{
		env:         env,
		panel:       panel,
		resource:    resource,
		throttle:    NewThrottler(delay),
		firstUpdate: true,
		ctx:         ctx,
		cancel:      cancel,
	}
	s.subscribe()
	return s
}

// CreateSession opens a panel in slot and binds it to resource.
func CreateSession(resource Resource, slot Slot, env *Env, panels PanelFactory) (*Session, error) {
	panel, err := panels.CreatePanel(slot, PreviewTitle(resource))
	if err != nil {
		return nil, fmt.Errorf("create panel for slot %d: %w", slot, err)
	}
	return NewSession(panel, resource, env), nil
}

// ReviveSession restores a persisted session into panel and renders it.
func ReviveSession(panel Panel, state State, env *Env) (*Session, error) {
	resource, err := ParseResource(state.Resource)
	if err != nil {
		return nil, err
	}
	s := NewSession(panel, resource, env)
	if state.Line != nil && !math.IsNaN(*state.Line) {
		s.setLine(*state.Line)
	}
	s.imageInfo = append([]contracts.ImageInfo(nil), state.ImageInfo...)

	s.firstUpdate = false
	s.dispatch(s.throttle.Schedule(false, true))
	return s, nil
}

func (s *Session) subscribe() {
	env := s.env
	s.subs.Add(
		s.panel.OnDidDispose(s.Dispose),
		s.panel.OnViewStateChanged(func(vs ViewState) {
			s.onViewState.Fire(vs)
		}),
		s.panel.OnMessage(s.onMessage),
	)
	if env.Workspace != nil {
		s.subs.Add(
			env.Workspace.DocumentChanged.Subscribe(func(r Resource) {
				if s.isPreviewOf(r) {
					s.UpdateTarget(s.resource)
				}
			}),
			env.Workspace.SelectionChanged.Subscribe(func(ev SelectionEvent) {
				if s.isPreviewOf(ev.Resource) {
					s.post(contracts.SelectionChangedMessage{
						Type:   contracts.MessageTypeSelectionChanged,
						Line:   ev.Line,
						Source: s.resource.String(),
					})
				}
			}),
			env.Workspace.ActiveEditorChanged.Subscribe(func(ev ActiveEditorEvent) {
				if ev.Previewable && !ev.Resource.IsZero() {
					s.UpdateTarget(ev.Resource)
				}
			}),
		)
	}
	if env.Lines != nil {
		s.subs.Add(env.Lines.OnDidChangeTopmostLine(func(ev TopmostLineEvent) {
			s.onExternalLineChange(ev.Resource, ev.Line)
		}))
	}
}

// Resource returns the resource currently bound to the session.
func (s *Session) Resource() Resource { return s.resource }

// Status returns the lifecycle state.
func (s *Session) Status() Status { return s.status }

// Slot returns the output slot of the session's panel.
func (s *Session) Slot() Slot { return s.panel.Slot() }

// Line returns the remembered topmost line.
func (s *Session) Line() (float64, bool) { return s.line, s.hasLine }

// Disposed reports whether Dispose has run.
func (s *Session) Disposed() bool { return s.status == StatusDisposed }

// OnDispose fires once when the session is disposed.
func (s *Session) OnDispose(fn func()) event.Subscription {
	return s.onDispose.Subscribe(func(struct{}) { fn() })
}

// OnDidChangeViewState forwards panel focus changes.
func (s *Session) OnDidChangeViewState(fn func(ViewState)) event.Subscription {
	return s.onViewState.Subscribe(fn)
}

// OnError fires when a document cannot be fetched or rendered.
func (s *Session) OnError(fn func(error)) event.Subscription {
	return s.onError.Subscribe(fn)
}

// State returns the persisted form of the session.
func (s *Session) State() State {
	st := State{
		Resource:  s.resource.String(),
		ImageInfo: append([]contracts.ImageInfo{}, s.imageInfo...),
		Slot:      s.Slot(),
	}
	if s.hasLine {
		line := s.line
		st.Line = &line
	}
	return st
}

// MatchesSlot reports whether the session occupies slot.
func (s *Session) MatchesSlot(slot Slot) bool {
	return s.Slot() == slot
}

// Matches reports whether two sessions collide on the same slot.
func (s *Session) Matches(other *Session) bool {
	return s.MatchesSlot(other.Slot())
}

// Reveal brings the session's panel forward in slot.
func (s *Session) Reveal(slot Slot) {
	if s.Disposed() {
		return
	}
	s.panel.Reveal(slot)
}

// UpdateTarget binds the session to resource and schedules a render.
func (s *Session) UpdateTarget(resource Resource) {
	if s.Disposed() {
		return
	}

	if editor := s.env.Editors.ActiveEditor(); editor != nil && editor.Resource().Equal(resource) {
		if line, ok := editor.VisibleLine(); ok {
			s.setLine(line)
		}
	}

	changed := !resource.Equal(s.resource)
	if changed {
		s.generation++
		s.imageInfo = nil
	}
	s.resource = resource

	decision := s.throttle.Schedule(changed, s.firstUpdate)
	s.firstUpdate = false
	s.dispatch(decision)
}

// Refresh re-renders even when the document version is unchanged.
func (s *Session) Refresh() {
	if s.Disposed() {
		return
	}
	s.force = true
	s.UpdateTarget(s.resource)
}

// Dispose releases the panel and every subscription. It is idempotent.
func (s *Session) Dispose() {
	if s.Disposed() {
		return
	}
	s.status = StatusDisposed
	s.generation++
	s.throttle.Cancel()
	s.cancel()

	s.onDispose.Fire(struct{}{})
	s.onDispose.Dispose()
	s.onViewState.Dispose()
	s.onError.Dispose()

	s.panel.Dispose()
	s.subs.Release()
}

func (s *Session) dispatch(d Decision) {
	switch d.Kind {
	case RenderNow:
		s.doRender()
	case RenderAfterDelay:
		s.throttle.Arm(s.env.Loop.AfterFunc(d.Delay, s.doRender))
	}
}

func (s *Session) doRender() {
	if s.Disposed() {
		return
	}
	s.throttle.Begin()
	s.generation++

	gen := s.generation
	resource := s.resource
	ctx := s.ctx
	docs := s.env.Documents

	s.env.Loop.Go(func() func() {
		doc, err := docs.FetchDocument(ctx, resource)
		return func() { s.afterFetch(gen, resource, doc, err) }
	})
}

func (s *Session) afterFetch(gen uint64, resource Resource, doc *Document, err error) {
	if gen != s.generation {
		log.Debugf("dropping stale fetch of %s", resource.Path())
		s.finishRender()
		return
	}
	if err != nil {
		s.fail(fmt.Errorf("fetch %s: %w", resource.Path(), err))
		s.finishRender()
		return
	}

	if !s.force && s.current != nil && s.current.resource.Equal(resource) && s.current.version == doc.Version {
		s.finishRender()
		if s.hasLine {
			s.postUpdateView(resource, s.line)
		}
		return
	}
	s.force = false
	s.current = &renderedVersion{resource: resource, version: doc.Version}

	state := s.State()
	ctx := s.ctx
	content := s.env.Content
	s.env.Loop.Go(func() func() {
		html, err := content.ProvidePreviewHTML(ctx, doc, state)
		return func() { s.afterRender(gen, resource, html, err) }
	})
}

func (s *Session) afterRender(gen uint64, resource Resource, html string, err error) {
	defer s.finishRender()

	if gen != s.generation {
		log.Debugf("dropping stale render of %s", resource.Path())
		s.forgetVersion(resource)
		return
	}
	if err != nil {
		s.forgetVersion(resource)
		s.fail(fmt.Errorf("render %s: %w", resource.Path(), err))
		return
	}

	if err := s.panel.Present(PreviewTitle(resource), html, webviewOptions(resource)); err != nil {
		s.forgetVersion(resource)
		s.fail(fmt.Errorf("present %s: %w", resource.Path(), err))
		return
	}
	s.status = StatusActive
}

func (s *Session) forgetVersion(resource Resource) {
	if s.current != nil && s.current.resource.Equal(resource) {
		s.current = nil
	}
}

func (s *Session) finishRender() {
	if s.Disposed() {
		return
	}
	s.dispatch(s.throttle.Finish())
}

func (s *Session) fail(err error) {
	log.Errorf("%v", err)
	s.onError.Fire(err)
}

func (s *Session) isPreviewOf(resource Resource) bool {
	return s.resource.Equal(resource)
}

func (s *Session) setLine(line float64) {
	s.line = line
	s.hasLine = true
}

func (s *Session) onExternalLineChange(resource Resource, line float64) {
	if !s.isPreviewOf(resource) {
		return
	}
	if s.isScrolling {
		s.isScrolling = false
		return
	}
	s.setLine(line)
	s.postUpdateView(resource, line)
}

func (s *Session) postUpdateView(resource Resource, line float64) {
	s.post(contracts.UpdateViewMessage{
		Type:   contracts.MessageTypeUpdateView,
		Line:   line,
		Source: resource.String(),
	})
}

func (s *Session) onRenderedViewScrolled(line float64) {
	s.setLine(line)

	sourceLine := int(math.Floor(line))
	fraction := line - float64(sourceLine)
	for _, editor := range s.env.Editors.VisibleEditors() {
		if !s.isPreviewOf(editor.Resource()) {
			continue
		}

		s.isScrolling = true
		text, err := editor.LineText(sourceLine)
		if err != nil {
			text = ""
		}
		start := int(math.Floor(fraction * float64(utf8.RuneCountInString(text))))
		err = editor.RevealRange(Range{
			Start: Position{Line: sourceLine, Character: start},
			End:   Position{Line: sourceLine + 1, Character: 0},
		})
		if err != nil {
			log.Warningf("reveal line %d in %s: %v", sourceLine, s.resource.Path(), err)
		}
	}
}

func (s *Session) onDidClickPreview(line int) {
	for _, editor := range s.env.Editors.VisibleEditors() {
		if !s.isPreviewOf(editor.Resource()) {
			continue
		}
		if err := editor.Show(); err != nil {
			log.Warningf("show editor for %s: %v", s.resource.Path(), err)
		}
		if err := editor.SetCursor(Position{Line: line, Character: 0}); err != nil {
			log.Warningf("move cursor to line %d: %v", line, err)
		}
		return
	}

	if err := s.env.Editors.ShowResource(s.ctx, s.resource); err != nil {
		s.fail(fmt.Errorf("open %s: %w", s.resource.Path(), err))
	}
}

func (s *Session) onDidClickPreviewLink(path string, fragment string) {
	target, ok := resolveLink(s.resource, path)
	if !ok {
		log.Debugf("ignoring link %q#%s", path, fragment)
		return
	}
	if err := s.env.Editors.ShowResource(s.ctx, target); err != nil {
		log.Warningf("open link %s: %v", target.Path(), err)
	}
}

func (s *Session) onCacheImageSizes(images []contracts.ImageInfo) {
	s.imageInfo = images
}

func (s *Session) onStyleLoadError(names []string) {
	if s.env.Notifier == nil || len(names) == 0 {
		return
	}
	s.env.Notifier.Warn(fmt.Sprintf("Could not load preview styles: %s", strings.Join(names, ", ")))
}

func (s *Session) onMessage(raw []byte) {
	var envelope contracts.IncomingMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		log.Debugf("ignoring malformed view message: %v", err)
		return
	}
	if envelope.Source != s.resource.String() {
		return
	}

	switch envelope.Type {
	case contracts.MessageTypeCacheImageSizes:
		var msg contracts.CacheImageSizesMessage
		if json.Unmarshal(raw, &msg) == nil {
			s.onCacheImageSizes(msg.Images)
		}
	case contracts.MessageTypeRevealLine:
		var msg contracts.RevealLineMessage
		if json.Unmarshal(raw, &msg) == nil {
			s.onRenderedViewScrolled(msg.Line)
		}
	case contracts.MessageTypeDidClick:
		var msg contracts.DidClickMessage
		if json.Unmarshal(raw, &msg) == nil {
			s.onDidClickPreview(msg.Line)
		}
	case contracts.MessageTypeClickLink:
		var msg contracts.ClickLinkMessage
		if json.Unmarshal(raw, &msg) == nil {
			s.onDidClickPreviewLink(msg.Path, msg.Fragment)
		}
	case contracts.MessageTypeStyleLoadError:
		var msg contracts.StyleLoadErrorMessage
		if json.Unmarshal(raw, &msg) == nil {
			s.onStyleLoadError(msg.Names)
		}
	}
}

func (s *Session) post(msg any) {
	if s.Disposed() {
		return
	}
	if err := s.panel.Post(msg); err != nil {
		log.Warningf("post to slot %d: %v", s.Slot(), err)
	}
}

// PreviewTitle is the panel title for resource.
func PreviewTitle(resource Resource) string {
	return "Preview " + resource.Base()
}

func webviewOptions(resource Resource) Options {
	return Options{
		EnableScripts:      true,
		EnableCommandURIs:  true,
		LocalResourceRoots: []string{resource.Dir()},
	}
}

// resolveLink maps a link inside the preview to a local resource.
func resolveLink(from Resource, link string) (Resource, bool) {
	link = strings.TrimSpace(link)
	if link == "" || strings.HasPrefix(link, "#") {
		return Resource{}, false
	}
	if u, err := url.Parse(link); err == nil && u.Scheme != "" && u.Scheme != "file" {
		return Resource{}, false
	}
	if strings.HasPrefix(link, "file:") {
		r, err := ParseResource(link)
		return r, err == nil
	}
	if !filepath.IsAbs(link) {
		link = filepath.Join(from.Dir(), link)
	}
	return ResourceFromPath(link), true
}
