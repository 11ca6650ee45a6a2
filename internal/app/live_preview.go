package app

import (
	"context"
	"errors"
	"fmt"

	"go-live-preview/internal/config"
	"go-live-preview/internal/loop"
	"go-live-preview/internal/preview"
	"go-live-preview/internal/render"
	"go-live-preview/internal/state"
	httptransport "go-live-preview/internal/transport/http"
	"go-live-preview/internal/watch"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"
)

var log = commonlog.GetLogger("go-live-preview.app")

// Host is what the editor integration provides.
type Host struct {
	Documents preview.DocumentStore
	Editors   preview.Editors
	Focus     preview.FocusContext
	Notifier  preview.Notifier

	// Announce shows an informational message, such as a slot URL.
	Announce func(msg string)
}

// LivePreview is a coordinator between the session registry, the browser
// transport and the host editor. Every exported method may be called from
// any goroutine.
type LivePreview struct {
	cfg  config.Config
	host Host

	loop      *loop.Loop
	workspace *preview.Workspace
	lines     *preview.TopmostLineMonitor
	manager   *preview.Manager
	server    *httptransport.PreviewServer

	store   *state.SQLiteStore
	watcher *watch.Watcher
}

func NewLivePreview(cfg config.Config, host Host) (*LivePreview, error) {
	assets, err := render.NewAssets(cfg.Preview.HighlightStyle)
	if err != nil {
		return nil, err
	}

	l := loop.New()
	s := &LivePreview{
		cfg:       cfg,
		host:      host,
		loop:      l,
		workspace: &preview.Workspace{},
		lines:     preview.NewTopmostLineMonitor(l, cfg.Preview.TopmostLineDelay),
		server:    httptransport.NewPreviewServer(cfg.Addr, assets, l),
	}

	content := render.NewContentProvider(render.NewEngine(), render.Behavior{
		ScrollPreviewWithEditor:     cfg.Preview.ScrollPreviewWithEditor,
		ScrollEditorWithPreview:     cfg.Preview.ScrollEditorWithPreview,
		DoubleClickToSwitchToEditor: cfg.Preview.DoubleClickToSwitchToEditor,
	})
	env := &preview.Env{
		Loop:        l,
		Documents:   host.Documents,
		Content:     content,
		Editors:     host.Editors,
		Workspace:   s.workspace,
		Lines:       s.lines,
		Notifier:    host.Notifier,
		RenderDelay: cfg.Preview.ThrottleDelay,
	}
	s.manager = preview.NewManager(env, s.server, host.Focus)
	s.server.OnReveal = func(url string) {
		s.announce("preview: " + url)
	}

	if cfg.State.Path != "" {
		store, err := state.Open(cfg.State.Path)
		if err != nil {
			log.Warningf("session persistence disabled: %v", err)
		} else {
			s.store = store
		}
	}

	if cfg.Watch.Enabled {
		w, err := watch.New(s.fileChanged)
		if err != nil {
			log.Warningf("file watching disabled: %v", err)
		} else {
			s.watcher = w
		}
	}

	return s, nil
}

// URL returns the index page of the preview server.
func (s *LivePreview) URL() string {
	return s.server.URL()
}

// Run drives the loop, the HTTP server and the file watcher until ctx is
// cancelled or one of them fails.
func (s *LivePreview) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.loop.Run(gctx)
	})
	g.Go(func() error {
		return s.server.Run(gctx)
	})
	if s.watcher != nil {
		g.Go(func() error {
			return s.watcher.Run(gctx)
		})
	}

	err := g.Wait()
	s.lines.Dispose()
	if s.store != nil {
		if cerr := s.store.Close(); cerr != nil {
			log.Warningf("close state store: %v", cerr)
		}
	}
	return err
}

// Preview shows resource in slot and returns the slot URL. A slot that
// already holds a session announces itself through its panel; a new one is
// announced here.
func (s *LivePreview) Preview(ctx context.Context, resource preview.Resource, slot preview.Slot) (string, error) {
	var err error
	existed := false
	callErr := s.loop.Call(ctx, func() {
		for _, session := range s.manager.Sessions() {
			if session.MatchesSlot(slot) {
				existed = true
			}
		}
		var session *preview.Session
		session, err = s.manager.Preview(resource, preview.Settings{PreviewSlot: slot})
		if err == nil && !existed {
			s.reportErrors(session)
		}
		s.syncWatch()
	})
	if err := errors.Join(callErr, err); err != nil {
		return "", fmt.Errorf("preview %s: %w", resource.Path(), err)
	}
	url := s.server.SlotURL(slot)
	if !existed {
		s.announce("preview: " + url)
	}
	return url, nil
}

// Refresh forces every session to render again.
func (s *LivePreview) Refresh(ctx context.Context) error {
	return s.loop.Call(ctx, s.manager.Refresh)
}

// Close disposes the session in slot, or every session when slot is nil,
// and reports how many were closed.
func (s *LivePreview) Close(ctx context.Context, slot *preview.Slot) (int, error) {
	closed := 0
	err := s.loop.Call(ctx, func() {
		if slot != nil {
			if s.manager.Close(*slot) {
				closed++
			}
		} else {
			for _, session := range s.manager.Sessions() {
				session.Dispose()
				closed++
			}
		}
		s.syncWatch()
	})
	return closed, err
}

// Restore revives the sessions saved by Persist. Slots that already hold a
// session are skipped.
func (s *LivePreview) Restore(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, errors.New("session persistence is disabled")
	}
	states, err := s.store.LoadStates(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	var errs []error
	callErr := s.loop.Call(ctx, func() {
		occupied := make(map[preview.Slot]bool)
		for _, session := range s.manager.Sessions() {
			occupied[session.Slot()] = true
		}
		for _, st := range states {
			if occupied[st.Slot] {
				continue
			}
			panel, err := s.server.CreatePanel(st.Slot, "Preview")
			if err != nil {
				errs = append(errs, err)
				continue
			}
			session, err := s.manager.Deserialize(panel, st)
			if err != nil {
				panel.Dispose()
				errs = append(errs, fmt.Errorf("slot %d: %w", st.Slot, err))
				continue
			}
			s.reportErrors(session)
			restored++
		}
		s.syncWatch()
	})
	return restored, errors.Join(append(errs, callErr)...)
}

// Persist saves the state of every live session.
func (s *LivePreview) Persist(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	var states []preview.State
	if err := s.loop.Call(ctx, func() { states = s.manager.States() }); err != nil {
		return err
	}
	return s.store.SaveStates(ctx, states)
}

// Sessions lists the live sessions as slot and resource pairs.
func (s *LivePreview) Sessions(ctx context.Context) ([]preview.State, error) {
	var states []preview.State
	err := s.loop.Call(ctx, func() { states = s.manager.States() })
	return states, err
}

// DocumentChanged reports an edit to resource.
func (s *LivePreview) DocumentChanged(resource preview.Resource) {
	s.post(func() { s.workspace.DocumentChanged.Fire(resource) })
}

// SelectionChanged reports the zero-based cursor line in resource.
func (s *LivePreview) SelectionChanged(resource preview.Resource, line int) {
	s.post(func() {
		s.workspace.SelectionChanged.Fire(preview.SelectionEvent{Resource: resource, Line: line})
	})
}

// ActiveEditorChanged reports that focus moved to a view of resource.
func (s *LivePreview) ActiveEditorChanged(resource preview.Resource, previewable bool) {
	s.post(func() {
		s.workspace.ActiveEditorChanged.Fire(preview.ActiveEditorEvent{Resource: resource, Previewable: previewable})
		s.syncWatch()
	})
}

// VisibleRangesChanged reports the viewports of the host's source views.
func (s *LivePreview) VisibleRangesChanged(ranges []preview.VisibleRange) {
	s.post(func() {
		for _, r := range ranges {
			s.lines.VisibleRangesChanged(r)
		}
	})
}

// Shutdown disposes every session on the loop.
func (s *LivePreview) Shutdown(ctx context.Context) error {
	return s.loop.Call(ctx, s.manager.Dispose)
}

func (s *LivePreview) fileChanged(path string) {
	s.post(func() {
		s.manager.RefreshResource(preview.ResourceFromPath(path))
	})
}

// reportErrors surfaces fetch and render failures of session to the user.
func (s *LivePreview) reportErrors(session *preview.Session) {
	if s.host.Notifier == nil {
		return
	}
	session.OnError(func(err error) {
		s.host.Notifier.Warn(err.Error())
	})
}

func (s *LivePreview) syncWatch() {
	if s.watcher == nil {
		return
	}
	resources := s.manager.Resources()
	paths := make([]string, 0, len(resources))
	for _, r := range resources {
		paths = append(paths, r.Path())
	}
	if err := s.watcher.Track(paths); err != nil {
		log.Debugf("track files: %v", err)
	}
}

func (s *LivePreview) post(fn func()) {
	if err := s.loop.Post(fn); err != nil {
		log.Debugf("dropping host event: %v", err)
	}
}

func (s *LivePreview) announce(msg string) {
	if s.host.Announce != nil {
		s.host.Announce(msg)
	}
}
