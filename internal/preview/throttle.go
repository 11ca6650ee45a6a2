package preview

import (
	"time"

	"go-live-preview/internal/loop"
)

// DefaultRenderDelay debounces plain content updates.
const DefaultRenderDelay = 300 * time.Millisecond

// DecisionKind says when a requested render should run.
type DecisionKind int

const (
	// NoOp means a render is already pending and will see the latest state.
	NoOp DecisionKind = iota
	// RenderNow runs the render immediately.
	RenderNow
	// RenderAfterDelay arms a single timer for the render.
	RenderAfterDelay
)

func (k DecisionKind) String() string {
	switch k {
	case NoOp:
		return "noop"
	case RenderNow:
		return "now"
	case RenderAfterDelay:
		return "delayed"
	default:
		return "unknown"
	}
}

// Decision is the throttler's answer to a render request.
type Decision struct {
	Kind  DecisionKind
	Delay time.Duration
}

// Throttler keeps at most one render pending or in flight per session.
type Throttler struct {
	delay time.Duration
	timer loop.Timer

	inFlight bool
	// requests that arrived while a render was in flight
	rerun    bool
	rerunNow bool
}

func NewThrottler(delay time.Duration) *Throttler {
	if delay < 0 {
		delay = 0
	}
	return &Throttler{delay: delay}
}

// Schedule decides how to serve a render request.
func (t *Throttler) Schedule(resourceChanged bool, first bool) Decision {
	if resourceChanged {
		t.stopTimer()
	}

	if t.inFlight {
		if resourceChanged {
			t.rerunNow = true
		} else {
			t.rerun = true
		}
		return Decision{Kind: NoOp}
	}

	if t.timer != nil {
		return Decision{Kind: NoOp}
	}

	if resourceChanged || first {
		return Decision{Kind: RenderNow}
	}
	return Decision{Kind: RenderAfterDelay, Delay: t.delay}
}

// Arm records the timer serving a RenderAfterDelay decision.
func (t *Throttler) Arm(timer loop.Timer) {
	t.stopTimer()
	t.timer = timer
}

// Begin marks a render as in flight.
func (t *Throttler) Begin() {
	t.stopTimer()
	t.inFlight = true
}

// Finish ends the in-flight render and returns the follow-up for requests
// coalesced while it ran.
func (t *Throttler) Finish() Decision {
	t.inFlight = false
	now, later := t.rerunNow, t.rerun
	t.rerunNow, t.rerun = false, false

	switch {
	case now:
		return Decision{Kind: RenderNow}
	case later:
		return Decision{Kind: RenderAfterDelay, Delay: t.delay}
	default:
		return Decision{Kind: NoOp}
	}
}

// Pending reports whether a render is armed or in flight.
func (t *Throttler) Pending() bool {
	return t.timer != nil || t.inFlight
}

// Cancel drops the armed timer and any coalesced requests.
func (t *Throttler) Cancel() {
	t.stopTimer()
	t.rerun, t.rerunNow = false, false
}

func (t *Throttler) stopTimer() {
	if t.timer == nil {
		return
	}
	t.timer.Stop()
	t.timer = nil
}
