package inclination

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAngle(t *testing.T) {
	tests := []struct {
		name     string
		sample   Sample
		expected float64
		ok       bool
	}{
		{"upright", Sample{0, 9.81, 0}, 0, true},
		{"z along gravity", Sample{0, 0, 9.81}, -math.Pi / 2, true},
		{"z against gravity", Sample{0, 0, -9.81}, math.Pi / 2, true},
		{"tilted 45 degrees", Sample{0, 1, -1}, math.Pi / 4, true},
		{"scale independent", Sample{0, 1000, -1000}, math.Pi / 4, true},
		{"zero vector", Sample{}, 0, false},
		{"nan component", Sample{math.NaN(), 1, 1}, 0, false},
		{"infinite component", Sample{math.Inf(1), 1, 1}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Angle(tt.sample)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.expected, got, 1e-12)
		})
	}
}

func TestDegrees(t *testing.T) {
	assert.InDelta(t, 45.0, Degrees(math.Pi/4), 1e-12)
	assert.InDelta(t, -90.0, Degrees(-math.Pi/2), 1e-12)
}

func TestTrackerLatestWins(t *testing.T) {
	tr := NewTracker(true)
	assert.True(t, tr.Supported())

	_, ok := tr.Current()
	assert.False(t, ok, "no sample yet")

	tr.Push(0, 1, -1)
	tr.Push(0, 9.81, 0)
	a, ok := tr.Current()
	require.True(t, ok)
	assert.InDelta(t, 0.0, a, 1e-12)

	// an unusable sample does not clobber the last good one
	tr.Push(0, 0, 0)
	a, ok = tr.Current()
	require.True(t, ok)
	assert.InDelta(t, 0.0, a, 1e-12)
}

func TestTrackerCapture(t *testing.T) {
	tr := NewTracker(true)

	_, ok := tr.CaptureAtAdjustment()
	assert.False(t, ok)
	_, ok = tr.LastAdjustment()
	assert.False(t, ok)

	tr.Consume(Sample{0, 1, -1})
	captured, ok := tr.CaptureAtAdjustment()
	require.True(t, ok)
	assert.InDelta(t, math.Pi/4, captured, 1e-12)

	tr.Consume(Sample{0, 0, -1})
	last, ok := tr.LastAdjustment()
	require.True(t, ok)
	assert.InDelta(t, math.Pi/4, last, 1e-12, "capture is not updated by later samples")

	cur, _ := tr.Current()
	assert.InDelta(t, math.Pi/2, cur, 1e-12)
}

func TestTrackerUnsupported(t *testing.T) {
	for _, tr := range []*Tracker{NewTracker(false), nil} {
		tr.Push(0, 1, -1)
		_, ok := tr.Current()
		assert.False(t, ok)
		_, ok = tr.CaptureAtAdjustment()
		assert.False(t, ok)
		_, ok = tr.LastAdjustment()
		assert.False(t, ok)
		assert.False(t, tr.Supported())
	}
}

func TestTrackerFollow(t *testing.T) {
	tr := NewTracker(true)
	ch := make(chan Sample)

	done := make(chan error, 1)
	go func() { done <- tr.Follow(context.Background(), ch) }()

	ch <- Sample{0, 0, -1}
	close(ch)
	require.NoError(t, <-done)

	a, ok := tr.Current()
	require.True(t, ok)
	assert.InDelta(t, math.Pi/2, a, 1e-12)

	// restart with a fresh stream and cancel it
	ctx, cancel := context.WithCancel(context.Background())
	ch2 := make(chan Sample)
	go func() { done <- tr.Follow(ctx, ch2) }()
	ch2 <- Sample{0, 1, 0}
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Follow did not return after cancel")
	}
	a, _ = tr.Current()
	assert.InDelta(t, 0.0, a, 1e-12)
}

func TestTrackerConcurrentAccess(t *testing.T) {
	tr := NewTracker(true)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.Push(0, float64(i%7)+1, -1)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			if a, ok := tr.CaptureAtAdjustment(); ok {
				if a <= 0 || a > math.Pi/2 {
					t.Errorf("torn read: %f", a)
					return
				}
			}
		}
	}()
	wg.Wait()
}
