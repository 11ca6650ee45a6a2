package preview

import (
	"go-live-preview/internal/event"
)

// Settings place a preview relative to its source.
type Settings struct {
	ResourceSlot Slot
	PreviewSlot  Slot
}

// Manager tracks live sessions, keeps at most one per slot and follows
// which one has focus.
//
// All methods must be called on the env's loop.
type Manager struct {
	env    *Env
	panels PanelFactory
	focus  FocusContext

	previews []*Session
	active   *Session
	subs     event.Disposables
}

func NewManager(env *Env, panels PanelFactory, focus FocusContext) *Manager {
	return &Manager{env: env, panels: panels, focus: focus}
}

// Preview shows resource in settings.PreviewSlot, reusing the session that
// already occupies the slot.
func (m *Manager) Preview(resource Resource, settings Settings) (*Session, error) {
	s := m.existing(settings.PreviewSlot)
	if s != nil {
		s.Reveal(settings.PreviewSlot)
	} else {
		created, err := CreateSession(resource, settings.PreviewSlot, m.env, m.panels)
		if err != nil {
			return nil, err
		}
		m.setFocus(true)
		m.active = created
		m.register(created)
		s = created
	}

	s.UpdateTarget(resource)
	return s, nil
}

// Deserialize revives a persisted session into panel and places it.
func (m *Manager) Deserialize(panel Panel, state State) (*Session, error) {
	s, err := ReviveSession(panel, state, m.env)
	if err != nil {
		return nil, err
	}
	m.Place(s)
	return s, nil
}

// Place adds s. Sessions already in the same slot are disposed and s
// becomes active.
func (m *Manager) Place(s *Session) {
	m.register(s)

	colliding := m.colliding(s)
	if len(colliding) == 0 {
		return
	}
	m.active = s
	m.setFocus(true)
	for _, other := range colliding {
		other.Dispose()
	}
}

// Remove drops s from the registry.
func (m *Manager) Remove(s *Session) {
	idx := m.indexOf(s)
	if idx == -1 {
		return
	}
	m.previews = append(m.previews[:idx], m.previews[idx+1:]...)
	if m.active == s {
		m.setFocus(false)
		m.active = nil
	}
}

// OnFocusChanged records that s gained or lost focus.
func (m *Manager) OnFocusChanged(s *Session, focused bool) {
	for _, other := range m.colliding(s) {
		other.Dispose()
	}
	m.setFocus(focused)
	if focused {
		m.active = s
	} else if m.active == s {
		m.active = nil
	}
}

// Refresh forces every session to re-render.
func (m *Manager) Refresh() {
	for _, s := range m.Sessions() {
		s.Refresh()
	}
}

// RefreshResource schedules an update for every session showing resource.
func (m *Manager) RefreshResource(resource Resource) {
	for _, s := range m.Sessions() {
		if s.isPreviewOf(resource) {
			s.UpdateTarget(resource)
		}
	}
}

// Close disposes the session in slot and reports whether one existed.
func (m *Manager) Close(slot Slot) bool {
	s := m.existing(slot)
	if s == nil {
		return false
	}
	s.Dispose()
	return true
}

// Active returns the focused session, if any.
func (m *Manager) Active() *Session { return m.active }

// ActiveResource returns the resource of the focused session.
func (m *Manager) ActiveResource() (Resource, bool) {
	if m.active == nil {
		return Resource{}, false
	}
	return m.active.Resource(), true
}

// Sessions returns a snapshot of live sessions in creation order.
func (m *Manager) Sessions() []*Session {
	return append([]*Session(nil), m.previews...)
}

// Resources returns the resources of live sessions.
func (m *Manager) Resources() []Resource {
	out := make([]Resource, 0, len(m.previews))
	for _, s := range m.previews {
		out = append(out, s.Resource())
	}
	return out
}

// States returns the persisted form of every live session.
func (m *Manager) States() []State {
	out := make([]State, 0, len(m.previews))
	for _, s := range m.previews {
		out = append(out, s.State())
	}
	return out
}

// Dispose disposes every session.
func (m *Manager) Dispose() {
	for _, s := range m.Sessions() {
		s.Dispose()
	}
	m.subs.Release()
}

func (m *Manager) register(s *Session) {
	m.previews = append(m.previews, s)
	m.subs.Add(
		s.OnDispose(func() { m.Remove(s) }),
		s.OnDidChangeViewState(func(vs ViewState) { m.OnFocusChanged(s, vs.Active) }),
	)
}

func (m *Manager) existing(slot Slot) *Session {
	for _, s := range m.previews {
		if s.MatchesSlot(slot) {
			return s
		}
	}
	return nil
}

func (m *Manager) colliding(s *Session) []*Session {
	var out []*Session
	for _, other := range m.previews {
		if other != s && s.Matches(other) {
			out = append(out, other)
		}
	}
	return out
}

func (m *Manager) indexOf(s *Session) int {
	for i, other := range m.previews {
		if other == s {
			return i
		}
	}
	return -1
}

func (m *Manager) setFocus(focused bool) {
	if m.focus != nil {
		m.focus.SetPreviewFocus(focused)
	}
}
