package reactor

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReactor(t *testing.T) *Reactor {
	t.Helper()
	r, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestPostRunOne(t *testing.T) {
	r := newTestReactor(t)

	i := 0
	r.Post(func() { i++ })
	assert.Equal(t, 0, i, "handler must not run before the loop is driven")

	require.True(t, r.RunOne())
	assert.Equal(t, 1, i)

	r.Stop()
	require.False(t, r.RunOne())
}

func TestStopRestart(t *testing.T) {
	r := newTestReactor(t)

	i := 0
	inc := func() { i++ }

	r.Post(inc)
	assert.Equal(t, 1, r.Poll())
	assert.Equal(t, 1, i)

	r.Post(inc)
	r.Stop()
	assert.True(t, r.Stopped())
	assert.Equal(t, 0, r.Poll(), "a stopped reactor runs nothing")
	assert.Equal(t, 1, i)

	r.Restart()
	assert.False(t, r.Stopped())
	assert.Equal(t, 1, r.Poll(), "queued work survives a stop")
	assert.Equal(t, 2, i)
}

func TestPollDrainsEverythingRunnable(t *testing.T) {
	r := newTestReactor(t)

	n := 0
	for i := 0; i < 5; i++ {
		r.Post(func() { n++ })
	}
	assert.Equal(t, 5, r.Poll())
	assert.Equal(t, 5, n)
	assert.Equal(t, 0, r.Poll())
}

func TestHandlersRunInPostOrder(t *testing.T) {
	r := newTestReactor(t)

	var order []int
	for i := 0; i < 4; i++ {
		r.Post(func() { order = append(order, i) })
	}
	r.Poll()
	assert.Equal(t, []int{0, 1, 2, 3}, order)
}

func TestCrossThreadPostWakesRunOne(t *testing.T) {
	r := newTestReactor(t)

	var ran atomic.Bool
	go func() {
		time.Sleep(20 * time.Millisecond)
		r.Post(func() { ran.Store(true) })
	}()

	start := time.Now()
	require.True(t, r.RunOne())
	assert.True(t, ran.Load())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestCrossThreadStopWakesRunOne(t *testing.T) {
	r := newTestReactor(t)

	go func() {
		time.Sleep(20 * time.Millisecond)
		r.Stop()
	}()
	require.False(t, r.RunOne())
}

func TestTimerFires(t *testing.T) {
	r := newTestReactor(t)

	tm := r.NewTimer()
	tm.ExpiresAt(time.Now().Add(30 * time.Millisecond))

	var got error = errors.New("not called")
	tm.AsyncWait(func(err error) { got = err })

	start := time.Now()
	require.True(t, r.RunOne())
	require.NoError(t, got)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestTimerRescheduleAborts(t *testing.T) {
	r := newTestReactor(t)

	tm := r.NewTimer()
	tm.ExpiresAt(time.Now().Add(time.Hour))

	var got error
	tm.AsyncWait(func(err error) { got = err })

	canceled := tm.ExpiresAt(time.Now().Add(time.Hour))
	assert.Equal(t, 1, canceled)

	// The aborted handler is delivered through the queue, not inline.
	require.Nil(t, got)
	assert.Equal(t, 1, r.Poll())
	require.ErrorIs(t, got, ErrAborted)
}

func TestTimerCancelKeepsExpiry(t *testing.T) {
	r := newTestReactor(t)

	tm := r.NewTimer()
	expiry := time.Now().Add(time.Hour)
	tm.ExpiresAt(expiry)

	var got error
	tm.AsyncWait(func(err error) { got = err })

	assert.Equal(t, 1, tm.Cancel())
	assert.True(t, expiry.Equal(tm.Expiry()), "Cancel must not move the expiry")

	r.Poll()
	require.ErrorIs(t, got, ErrAborted)
}

func TestTimerResetCollapsesLongWait(t *testing.T) {
	// The notify pattern: a wait armed far in the future is re-armed to fire
	// immediately. The old handler comes back aborted, promptly.
	r := newTestReactor(t)

	tm := r.NewTimer()
	tm.ExpiresAt(time.Now().Add(time.Hour))

	var first error
	tm.AsyncWait(func(err error) { first = err })

	tm.AsyncWait(func(error) {})
	tm.ExpiresAt(time.Now())

	start := time.Now()
	require.True(t, r.RunOne())
	require.True(t, r.RunOne())
	assert.Less(t, time.Since(start), time.Second, "wake must happen now, not at the old expiry")
	require.ErrorIs(t, first, ErrAborted)
}

func TestExpiredTimerFiresThroughPoll(t *testing.T) {
	r := newTestReactor(t)

	tm := r.NewTimer()
	tm.ExpiresAt(time.Now().Add(-time.Millisecond))

	called := false
	tm.AsyncWait(func(err error) {
		require.NoError(t, err)
		called = true
	})
	assert.Equal(t, 1, r.Poll())
	assert.True(t, called)
}

func TestNestedRunOne(t *testing.T) {
	r := newTestReactor(t)

	inner := false
	r.Post(func() {
		r.Post(func() { inner = true })
		require.True(t, r.RunOne())
	})
	require.True(t, r.RunOne())
	assert.True(t, inner)
}
