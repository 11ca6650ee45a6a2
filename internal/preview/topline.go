package preview

import (
	"time"

	"go-live-preview/internal/event"
	"go-live-preview/internal/loop"
)

// DefaultTopmostLineDelay coalesces bursts of viewport changes per resource.
const DefaultTopmostLineDelay = 50 * time.Millisecond

// VisibleRange is the viewport of one source view.
type VisibleRange struct {
	Resource Resource
	// TopLine is the zero-based first visible line.
	TopLine int
	// SkipColumns is how many characters of TopLine are scrolled past.
	SkipColumns int
	// LineLength is the character length of TopLine.
	LineLength int
}

// TopmostLineEvent carries the fractional topmost line of a resource.
type TopmostLineEvent struct {
	Resource Resource
	Line     float64
}

// TopmostLine computes the fractional topmost line of a viewport.
func TopmostLine(r VisibleRange) float64 {
	line := r.TopLine
	if line < 0 {
		line = 0
	}
	if r.LineLength <= 0 || r.SkipColumns <= 0 {
		return float64(line)
	}
	frac := float64(r.SkipColumns) / float64(r.LineLength)
	if frac >= 1 {
		frac = 0.999
	}
	return float64(line) + frac
}

// TopmostLineMonitor turns viewport changes into topmost line events.
type TopmostLineMonitor struct {
	sched Scheduler
	delay time.Duration

	pending map[string]TopmostLineEvent
	timers  map[string]loop.Timer
	changed event.Emitter[TopmostLineEvent]
}

func NewTopmostLineMonitor(sched Scheduler, delay time.Duration) *TopmostLineMonitor {
	return &TopmostLineMonitor{
		sched:   sched,
		delay:   delay,
		pending: make(map[string]TopmostLineEvent),
		timers:  make(map[string]loop.Timer),
	}
}

// OnDidChangeTopmostLine subscribes fn to topmost line events.
func (m *TopmostLineMonitor) OnDidChangeTopmostLine(fn func(TopmostLineEvent)) event.Subscription {
	return m.changed.Subscribe(fn)
}

// VisibleRangesChanged records a viewport change for a source view.
func (m *TopmostLineMonitor) VisibleRangesChanged(r VisibleRange) {
	if r.Resource.IsZero() {
		return
	}
	m.updateLine(r.Resource, TopmostLine(r))
}

func (m *TopmostLineMonitor) updateLine(resource Resource, line float64) {
	ev := TopmostLineEvent{Resource: resource, Line: line}
	if m.delay <= 0 || m.sched == nil {
		m.changed.Fire(ev)
		return
	}

	key := resource.Path()
	if _, ok := m.pending[key]; !ok {
		m.timers[key] = m.sched.AfterFunc(m.delay, func() {
			delete(m.timers, key)
			latest, ok := m.pending[key]
			if !ok {
				return
			}
			delete(m.pending, key)
			m.changed.Fire(latest)
		})
	}
	m.pending[key] = ev
}

// Dispose stops pending timers and drops all subscribers.
func (m *TopmostLineMonitor) Dispose() {
	for key, t := range m.timers {
		t.Stop()
		delete(m.timers, key)
	}
	m.pending = make(map[string]TopmostLineEvent)
	m.changed.Dispose()
}
