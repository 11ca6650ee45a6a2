package preview

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThrottlerDecisions(t *testing.T) {
	tests := []struct {
		name            string
		setup           func(*Throttler)
		resourceChanged bool
		first           bool
		want            Decision
	}{
		{
			name:  "first render is immediate",
			first: true,
			want:  Decision{Kind: RenderNow},
		},
		{
			name:            "resource change is immediate",
			resourceChanged: true,
			want:            Decision{Kind: RenderNow},
		},
		{
			name: "plain update is delayed",
			want: Decision{Kind: RenderAfterDelay, Delay: 300 * time.Millisecond},
		},
		{
			name:  "armed timer absorbs update",
			setup: func(th *Throttler) { th.Arm(&fakeTimer{}) },
			want:  Decision{Kind: NoOp},
		},
		{
			name:            "resource change replaces armed timer",
			setup:           func(th *Throttler) { th.Arm(&fakeTimer{}) },
			resourceChanged: true,
			want:            Decision{Kind: RenderNow},
		},
		{
			name:            "in flight coalesces resource change",
			setup:           func(th *Throttler) { th.Begin() },
			resourceChanged: true,
			want:            Decision{Kind: NoOp},
		},
		{
			name:  "in flight coalesces first render",
			setup: func(th *Throttler) { th.Begin() },
			first: true,
			want:  Decision{Kind: NoOp},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := NewThrottler(DefaultRenderDelay)
			if tt.setup != nil {
				tt.setup(th)
			}
			assert.Equal(t, tt.want, th.Schedule(tt.resourceChanged, tt.first))
		})
	}
}

func TestThrottlerResourceChangeStopsTimer(t *testing.T) {
	th := NewThrottler(DefaultRenderDelay)
	timer := &fakeTimer{}
	th.Arm(timer)

	th.Schedule(true, false)

	assert.True(t, timer.stopped)
	assert.False(t, th.Pending())
}

func TestThrottlerFinishFollowUp(t *testing.T) {
	th := NewThrottler(time.Second)

	th.Begin()
	assert.True(t, th.Pending())
	assert.Equal(t, Decision{Kind: NoOp}, th.Finish())
	assert.False(t, th.Pending())

	th.Begin()
	th.Schedule(false, false)
	th.Schedule(false, false)
	assert.Equal(t, Decision{Kind: RenderAfterDelay, Delay: time.Second}, th.Finish())

	th.Begin()
	th.Schedule(false, false)
	th.Schedule(true, false)
	assert.Equal(t, Decision{Kind: RenderNow}, th.Finish())
	assert.Equal(t, Decision{Kind: NoOp}, th.Finish(), "follow-up is reported once")
}

func TestThrottlerCancel(t *testing.T) {
	th := NewThrottler(time.Second)
	timer := &fakeTimer{}
	th.Arm(timer)
	th.Cancel()
	assert.True(t, timer.stopped)
	assert.False(t, th.Pending())

	th.Begin()
	th.Schedule(true, false)
	th.Cancel()
	assert.Equal(t, Decision{Kind: NoOp}, th.Finish())
}

func TestDecisionKindString(t *testing.T) {
	assert.Equal(t, "noop", NoOp.String())
	assert.Equal(t, "now", RenderNow.String())
	assert.Equal(t, "delayed", RenderAfterDelay.String())
}
