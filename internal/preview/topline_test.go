package preview

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopmostLine(t *testing.T) {
	tests := []struct {
		name string
		in   VisibleRange
		want float64
	}{
		{"top of line", VisibleRange{TopLine: 4, LineLength: 80}, 4},
		{"halfway into wrapped line", VisibleRange{TopLine: 4, SkipColumns: 40, LineLength: 80}, 4.5},
		{"empty line", VisibleRange{TopLine: 2, SkipColumns: 3}, 2},
		{"negative line clamps", VisibleRange{TopLine: -1}, 0},
		{"fraction stays below one", VisibleRange{TopLine: 1, SkipColumns: 90, LineLength: 80}, 1.999},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, TopmostLine(tt.in), 1e-9)
		})
	}
}

func TestMonitorCoalescesPerResource(t *testing.T) {
	l := &fakeLoop{}
	m := NewTopmostLineMonitor(l, DefaultTopmostLineDelay)
	var got []TopmostLineEvent
	m.OnDidChangeTopmostLine(func(ev TopmostLineEvent) { got = append(got, ev) })

	a, b := resource("a.md"), resource("b.md")
	m.VisibleRangesChanged(VisibleRange{Resource: a, TopLine: 1})
	m.VisibleRangesChanged(VisibleRange{Resource: a, TopLine: 2})
	m.VisibleRangesChanged(VisibleRange{Resource: b, TopLine: 9})
	m.VisibleRangesChanged(VisibleRange{Resource: a, TopLine: 3})

	assert.Empty(t, got)
	assert.Equal(t, 2, l.liveTimers())

	l.Advance(DefaultTopmostLineDelay)
	require.Len(t, got, 2)
	assert.True(t, got[0].Resource.Equal(a))
	assert.Equal(t, 3.0, got[0].Line)
	assert.True(t, got[1].Resource.Equal(b))
	assert.Equal(t, 9.0, got[1].Line)

	m.VisibleRangesChanged(VisibleRange{Resource: a, TopLine: 5})
	l.Advance(10 * time.Millisecond)
	assert.Len(t, got, 2)
	l.Advance(DefaultTopmostLineDelay)
	assert.Len(t, got, 3)
}

func TestMonitorDisposeStopsTimers(t *testing.T) {
	l := &fakeLoop{}
	m := NewTopmostLineMonitor(l, DefaultTopmostLineDelay)
	fired := 0
	m.OnDidChangeTopmostLine(func(TopmostLineEvent) { fired++ })

	m.VisibleRangesChanged(VisibleRange{Resource: resource("a.md"), TopLine: 1})
	m.Dispose()
	l.Advance(time.Second)

	assert.Zero(t, fired)
	assert.Zero(t, l.liveTimers())
}

func TestMonitorIgnoresZeroResource(t *testing.T) {
	m := NewTopmostLineMonitor(nil, 0)
	fired := 0
	m.OnDidChangeTopmostLine(func(TopmostLineEvent) { fired++ })
	m.VisibleRangesChanged(VisibleRange{TopLine: 1})
	assert.Zero(t, fired)
}
