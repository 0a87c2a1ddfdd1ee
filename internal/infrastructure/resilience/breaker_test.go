package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFailed = errors.New("failed")

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(settings Settings) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := New("test", settings)
	b.now = clock.now
	b.newGeneration(clock.now())
	return b, clock
}

func run(b *Breaker, success bool) error {
	return b.Execute(func() error {
		if success {
			return nil
		}
		return errFailed
	})
}

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name          string
		settings      Settings
		requests      []bool // true = success, false = failure
		expectedState State
	}{
		{
			name:          "stays closed on successes",
			settings:      Settings{},
			requests:      []bool{true, true, true},
			expectedState: StateClosed,
		},
		{
			name: "opens after consecutive failures",
			settings: Settings{
				ReadyToTrip: func(counts Counts) bool {
					return counts.ConsecutiveFailures >= 3
				},
			},
			requests:      []bool{false, false, false},
			expectedState: StateOpen,
		},
		{
			name: "success resets the failure streak",
			settings: Settings{
				ReadyToTrip: func(counts Counts) bool {
					return counts.ConsecutiveFailures >= 2
				},
			},
			requests:      []bool{false, true, false, true},
			expectedState: StateClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newTestBreaker(tt.settings)
			for _, success := range tt.requests {
				_ = run(b, success)
			}
			assert.Equal(t, tt.expectedState, b.State())
		})
	}
}

func TestBreakerCounts(t *testing.T) {
	b, _ := newTestBreaker(Settings{})

	require.NoError(t, run(b, true))
	counts := b.Counts()
	assert.Equal(t, uint32(1), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalSuccesses)
	assert.Equal(t, uint32(1), counts.ConsecutiveSuccesses)

	assert.ErrorIs(t, run(b, false), errFailed)
	counts = b.Counts()
	assert.Equal(t, uint32(2), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalFailures)
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
	assert.Equal(t, uint32(0), counts.ConsecutiveSuccesses)
}

func TestBreakerIntervalClearsCounts(t *testing.T) {
	b, clock := newTestBreaker(Settings{Interval: time.Minute})
	_ = run(b, false)
	assert.Equal(t, uint32(1), b.Counts().TotalFailures)

	clock.advance(2 * time.Minute)
	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.Counts().TotalFailures)
}

func TestBreakerOpenRejects(t *testing.T) {
	b, _ := newTestBreaker(Settings{
		ReadyToTrip: func(counts Counts) bool { return counts.ConsecutiveFailures >= 2 },
	})
	_ = run(b, false)
	_ = run(b, false)
	require.Equal(t, StateOpen, b.State())

	called := false
	_, err := Do(b, func() (string, error) {
		called = true
		return "ok", nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreakerHalfOpen(t *testing.T) {
	b, clock := newTestBreaker(Settings{
		MaxRequests: 2,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts Counts) bool { return counts.ConsecutiveFailures >= 2 },
	})
	_ = run(b, false)
	_ = run(b, false)
	require.Equal(t, StateOpen, b.State())

	clock.advance(time.Minute + time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, run(b, true))
	require.NoError(t, run(b, true))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(Settings{
		Timeout:     time.Minute,
		ReadyToTrip: func(counts Counts) bool { return counts.ConsecutiveFailures >= 1 },
	})
	_ = run(b, false)
	clock.advance(2 * time.Minute)
	require.Equal(t, StateHalfOpen, b.State())

	_ = run(b, false)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerIsFailureFilter(t *testing.T) {
	notCounted := errors.New("client error")
	b, _ := newTestBreaker(Settings{
		ReadyToTrip: func(counts Counts) bool { return counts.ConsecutiveFailures >= 1 },
		IsFailure:   func(err error) bool { return !errors.Is(err, notCounted) },
	})

	v, err := Do(b, func() (int, error) { return 7, notCounted })
	assert.Equal(t, 7, v, "result is returned alongside the error")
	assert.ErrorIs(t, err, notCounted)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerPanicCountsAsFailure(t *testing.T) {
	b, _ := newTestBreaker(Settings{
		ReadyToTrip: func(counts Counts) bool { return counts.ConsecutiveFailures >= 1 },
	})
	assert.Panics(t, func() {
		_ = b.Execute(func() error { panic("boom") })
	})
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerCallbacks(t *testing.T) {
	var transitions []string
	b, clock := newTestBreaker(Settings{
		Timeout:     time.Minute,
		ReadyToTrip: func(counts Counts) bool { return counts.ConsecutiveFailures >= 2 },
		OnStateChange: func(name string, from State, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_ = run(b, false)
	_ = run(b, false)
	clock.advance(2 * time.Minute)
	_ = b.State()

	assert.Equal(t, []string{"closed->open", "open->half-open"}, transitions)
}

func TestGroupIsolatesKeys(t *testing.T) {
	g := NewGroup("origin", Settings{
		ReadyToTrip: func(counts Counts) bool { return counts.ConsecutiveFailures >= 1 },
	})

	bad := g.Get("https://bad.example")
	assert.Same(t, bad, g.Get("https://bad.example"))
	assert.Equal(t, "origin:https://bad.example", bad.Name())

	_ = run(bad, false)
	states := g.States()
	assert.Equal(t, StateOpen, states["https://bad.example"])
	assert.Equal(t, StateClosed, g.Get("https://good.example").State())
}
