package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances by exactly the requested duration on every After call.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
	lag time.Duration
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d + c.lag)
	now := c.now
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// blockingClock never fires, keeping a countdown parked until cancelled.
type blockingClock struct{ now time.Time }

func (c blockingClock) Now() time.Time                     { return c.now }
func (blockingClock) After(time.Duration) <-chan time.Time { return make(chan time.Time) }

func TestNextInterval(t *testing.T) {
	floor := 5 * time.Second
	cases := []struct {
		name      string
		remaining time.Duration
		interval  time.Duration
		want      time.Duration
	}{
		{"plenty left", time.Hour, 20 * time.Second, 20 * time.Second},
		{"exactly two intervals", 40 * time.Second, 20 * time.Second, 20 * time.Second},
		{"below two intervals", 39 * time.Second, 20 * time.Second, 5 * time.Second},
		{"at floor still shrinks", 4 * time.Second, 5 * time.Second, 1250 * time.Millisecond},
		{"quarter may go below floor", 10 * time.Second, 8 * time.Second, 2 * time.Second},
		{"below floor stays", time.Second, 4 * time.Second, 4 * time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NextInterval(tc.remaining, tc.interval, floor))
		})
	}
}

func TestCountdownShrinksIntervalAndEndsOnce(t *testing.T) {
	start := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	countdown := NewCountdown(CountdownConfig{Duration: time.Hour, Interval: 20 * time.Second, MinInterval: 5 * time.Second}, newFakeClock(start))

	var ticks []Tick
	expired := countdown.Run(context.Background(), start, func(t Tick) { ticks = append(ticks, t) })
	require.True(t, expired)
	require.NotEmpty(t, ticks)

	assert.Equal(t, 3600, ticks[0].Remaining)
	assert.Equal(t, 20, ticks[0].Interval)

	shrunk := -1
	for i, tick := range ticks {
		if tick.Interval == 5 {
			shrunk = i
			break
		}
	}
	require.NotEqual(t, -1, shrunk)
	assert.Less(t, ticks[shrunk].Remaining, 40)
	for _, tick := range ticks[:shrunk] {
		assert.GreaterOrEqual(t, tick.Remaining, 40)
		assert.Equal(t, 20, tick.Interval)
	}

	expiredTicks := 0
	for _, tick := range ticks {
		if tick.Expired {
			expiredTicks++
			assert.Equal(t, TimeUpMessage, tick.Message)
		}
	}
	assert.Equal(t, 1, expiredTicks)
	assert.True(t, ticks[len(ticks)-1].Expired)
}

func TestCountdownFollowsWallClock(t *testing.T) {
	start := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	clock := newFakeClock(start)
	clock.lag = 10 * time.Second
	countdown := NewCountdown(CountdownConfig{Duration: time.Minute, Interval: 20 * time.Second}, clock)

	var remaining []int
	countdown.Run(context.Background(), start, func(t Tick) { remaining = append(remaining, t.Remaining) })
	// Each sleep overshoots by 10s, the countdown never drifts past the deadline.
	assert.Equal(t, []int{60, 30, 15, 0}, remaining)
}

func TestCountdownAlreadyElapsed(t *testing.T) {
	now := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	countdown := NewCountdown(CountdownConfig{Duration: time.Hour}, newFakeClock(now))
	var ticks []Tick
	assert.True(t, countdown.Run(context.Background(), now.Add(-2*time.Hour), func(t Tick) { ticks = append(ticks, t) }))
	require.Len(t, ticks, 1)
	assert.True(t, ticks[0].Expired)
}

func TestCountdownCancelled(t *testing.T) {
	now := time.Now()
	countdown := NewCountdown(CountdownConfig{Duration: time.Hour}, blockingClock{now: now})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, countdown.Run(ctx, now, func(Tick) {}))
}

func TestEditSessionExpireFiresOnce(t *testing.T) {
	var fired int32
	session := &EditSession{Center: "Mahi", Holder: "a@example.org", onExpire: func(string, string, time.Time) {
		atomic.AddInt32(&fired, 1)
	}}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session.expire()
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, atomic.LoadInt32(&fired))
}

func TestEditSessionExpireAfterShutdownIsNoop(t *testing.T) {
	var fired int32
	session := &EditSession{onExpire: func(string, string, time.Time) { atomic.AddInt32(&fired, 1) }}
	session.shutdown.Store(true)
	assert.False(t, session.expire())
	assert.EqualValues(t, 0, atomic.LoadInt32(&fired))
}
