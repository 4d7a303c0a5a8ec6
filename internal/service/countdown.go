package service

import (
	"context"
	"time"
)

// TimeUpMessage is the terminal countdown message.
const TimeUpMessage = "Time is up!"

// Clock abstracts wall-clock time so countdowns can be driven in tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock is the production clock.
var SystemClock Clock = systemClock{}

// CountdownConfig tunes an edit-session countdown.
type CountdownConfig struct {
	Duration    time.Duration
	Interval    time.Duration
	MinInterval time.Duration
}

func (c CountdownConfig) withDefaults() CountdownConfig {
	if c.Duration <= 0 {
		c.Duration = time.Hour
	}
	if c.Interval <= 0 {
		c.Interval = 20 * time.Second
	}
	if c.MinInterval <= 0 {
		c.MinInterval = 5 * time.Second
	}
	return c
}

// Tick is one countdown notification pushed to subscribers.
type Tick struct {
	Center    string `json:"center"`
	Holder    string `json:"holder"`
	Remaining int    `json:"remaining_seconds"`
	Interval  int    `json:"interval_seconds"`
	Message   string `json:"message,omitempty"`
	Expired   bool   `json:"expired"`
}

// NextInterval shortens the polling interval to a quarter once less than two
// intervals remain, as long as the interval is still at or above floor.
func NextInterval(remaining, interval, floor time.Duration) time.Duration {
	if remaining < 2*interval && interval >= floor {
		return interval / 4
	}
	return interval
}

// Countdown recomputes the remaining time from the session start on every
// tick, so a late wake-up never stretches the session.
type Countdown struct {
	cfg   CountdownConfig
	clock Clock
}

// NewCountdown builds a countdown. A nil clock uses the system clock.
func NewCountdown(cfg CountdownConfig, clock Clock) *Countdown {
	if clock == nil {
		clock = SystemClock
	}
	return &Countdown{cfg: cfg.withDefaults(), clock: clock}
}

// Remaining returns the time left for a session started at start.
func (c *Countdown) Remaining(start time.Time) time.Duration {
	return c.cfg.Duration - c.clock.Now().Sub(start)
}

// Run emits a tick per interval until the session runs out or ctx ends.
// It reports true when the countdown reached zero.
func (c *Countdown) Run(ctx context.Context, start time.Time, emit func(Tick)) bool {
	interval := c.cfg.Interval
	for {
		remaining := c.Remaining(start)
		if remaining <= 0 {
			emit(Tick{Message: TimeUpMessage, Expired: true, Interval: int(interval / time.Second)})
			return true
		}

		interval = NextInterval(remaining, interval, c.cfg.MinInterval)
		emit(Tick{Remaining: int(remaining.Round(time.Second) / time.Second), Interval: int(interval / time.Second)})

		wait := interval
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return false
		case <-c.clock.After(wait):
		}
	}
}
