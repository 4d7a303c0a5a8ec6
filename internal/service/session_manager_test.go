package service

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitDone(t *testing.T, session *EditSession) {
	t.Helper()
	select {
	case <-session.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}
}

func TestSessionManagerExpiresOnce(t *testing.T) {
	start := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	manager := NewSessionManager(CountdownConfig{Duration: time.Minute, Interval: 20 * time.Second}, newFakeClock(start), nil, nil)

	var fired int32
	var gotHolder string
	manager.OnExpire(func(center, holder string, started time.Time) {
		atomic.AddInt32(&fired, 1)
		gotHolder = holder
		assert.Equal(t, "Mahi", center)
		assert.True(t, started.Equal(start))
	})

	session := manager.Start("Mahi", "a@example.org", start)
	waitDone(t, session)

	assert.EqualValues(t, 1, atomic.LoadInt32(&fired))
	assert.Equal(t, "a@example.org", gotHolder)
	_, ok := manager.Get("Mahi")
	assert.False(t, ok)

	assert.False(t, session.expire())
	assert.EqualValues(t, 1, atomic.LoadInt32(&fired))
}

func TestSessionManagerStartIsIdempotent(t *testing.T) {
	now := time.Now()
	manager := NewSessionManager(CountdownConfig{}, blockingClock{now: now}, nil, nil)
	defer manager.Shutdown()

	first := manager.Start("Mahi", "a@example.org", now)
	second := manager.Start("Mahi", "a@example.org", now)
	assert.Same(t, first, second)

	replaced := manager.Start("Mahi", "b@example.org", now.Add(time.Second))
	assert.NotSame(t, first, replaced)
	waitDone(t, first)
}

func TestSessionManagerStopDoesNotExpire(t *testing.T) {
	now := time.Now()
	manager := NewSessionManager(CountdownConfig{}, blockingClock{now: now}, nil, nil)
	var fired int32
	manager.OnExpire(func(string, string, time.Time) { atomic.AddInt32(&fired, 1) })

	session := manager.Start("Mahi", "a@example.org", now)
	assert.False(t, manager.Stop("Mahi", "someone-else@example.org"))
	assert.True(t, manager.Stop("Mahi", "a@example.org"))
	waitDone(t, session)

	assert.False(t, session.expire())
	assert.EqualValues(t, 0, atomic.LoadInt32(&fired))
	assert.False(t, manager.Stop("Mahi", "a@example.org"))
}

func TestSessionManagerSubscribe(t *testing.T) {
	now := time.Now()
	manager := NewSessionManager(CountdownConfig{Duration: time.Hour}, blockingClock{now: now}, nil, nil)

	_, _, ok := manager.Subscribe("Mahi")
	assert.False(t, ok)

	session := manager.Start("Mahi", "a@example.org", now)
	ticks, cancel, ok := manager.Subscribe("Mahi")
	require.True(t, ok)
	defer cancel()

	select {
	case tick := <-ticks:
		assert.Equal(t, "Mahi", tick.Center)
		assert.Equal(t, "a@example.org", tick.Holder)
		assert.Equal(t, 3600, tick.Remaining)
	case <-time.After(2 * time.Second):
		t.Fatal("no tick received")
	}

	manager.Stop("Mahi", "a@example.org")
	waitDone(t, session)
	_, open := <-ticks
	assert.False(t, open)
}
