package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const subscriberBuffer = 8

// ExpireFunc is called once when a session's countdown reaches zero.
type ExpireFunc func(center, holder string, started time.Time)

// EditSession is the live countdown of one center held by one user.
type EditSession struct {
	ID      string
	Center  string
	Holder  string
	Started time.Time

	cancel   context.CancelFunc
	done     chan struct{}
	shutdown atomic.Bool
	once     sync.Once
	onExpire ExpireFunc

	mu          sync.Mutex
	subscribers map[chan Tick]struct{}
	last        *Tick
	closed      bool
}

// Done is closed once the session goroutine has exited.
func (s *EditSession) Done() <-chan struct{} {
	return s.done
}

// expire fires the release side effect at most once and never after an
// explicit stop.
func (s *EditSession) expire() bool {
	if s.shutdown.Load() {
		return false
	}
	fired := false
	s.once.Do(func() {
		if s.shutdown.Swap(true) {
			return
		}
		fired = true
		if s.onExpire != nil {
			s.onExpire(s.Center, s.Holder, s.Started)
		}
	})
	return fired
}

func (s *EditSession) broadcast(tick Tick, logger *zap.Logger) {
	tick.Center = s.Center
	tick.Holder = s.Holder

	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &tick
	for ch := range s.subscribers {
		select {
		case ch <- tick:
		default:
			logger.Warn("dropping countdown tick; subscriber buffer full", zap.String("center", s.Center))
		}
	}
}

func (s *EditSession) subscribe() (<-chan Tick, func()) {
	ch := make(chan Tick, subscriberBuffer)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		if s.last != nil {
			ch <- *s.last
		}
		close(ch)
		return ch, func() {}
	}
	if s.last != nil {
		ch <- *s.last
	}
	s.subscribers[ch] = struct{}{}
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
	}
}

func (s *EditSession) closeSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
}

// SessionManager runs one countdown goroutine per edited center.
type SessionManager struct {
	mu        sync.Mutex
	sessions  map[string]*EditSession
	countdown *Countdown
	onExpire  ExpireFunc
	metrics   *MetricsService
	logger    *zap.Logger
	wg        sync.WaitGroup
}

// NewSessionManager constructs a manager. A nil clock uses the system clock.
func NewSessionManager(cfg CountdownConfig, clock Clock, metrics *MetricsService, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{
		sessions:  make(map[string]*EditSession),
		countdown: NewCountdown(cfg, clock),
		metrics:   metrics,
		logger:    logger,
	}
}

// OnExpire registers the side effect run when a countdown reaches zero.
// It must be set before the first session starts.
func (m *SessionManager) OnExpire(fn ExpireFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = fn
}

// Countdown exposes the countdown arithmetic used by the manager.
func (m *SessionManager) Countdown() *Countdown {
	return m.countdown
}

// Start begins the countdown of center for holder. Starting the session that
// already runs is a no-op, so re-claims never reset the countdown. A session
// of another holder or another start instant is replaced.
func (m *SessionManager) Start(center, holder string, started time.Time) *EditSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[center]; ok {
		if existing.Holder == holder && existing.Started.Equal(started) {
			return existing
		}
		m.stopLocked(existing)
	}

	ctx, cancel := context.WithCancel(context.Background())
	session := &EditSession{
		ID:          uuid.NewString(),
		Center:      center,
		Holder:      holder,
		Started:     started,
		cancel:      cancel,
		done:        make(chan struct{}),
		onExpire:    m.onExpire,
		subscribers: make(map[chan Tick]struct{}),
	}
	m.sessions[center] = session
	m.metrics.SessionStarted()
	m.wg.Add(1)
	go m.run(ctx, session)

	m.logger.Info("edit session started",
		zap.String("center", center),
		zap.String("holder", holder),
		zap.String("session_id", session.ID),
		zap.Duration("remaining", m.countdown.Remaining(started)))
	return session
}

func (m *SessionManager) run(ctx context.Context, session *EditSession) {
	defer m.wg.Done()
	defer close(session.done)
	defer m.metrics.SessionEnded()
	defer session.closeSubscribers()

	expired := m.countdown.Run(ctx, session.Started, func(t Tick) {
		session.broadcast(t, m.logger)
	})

	m.mu.Lock()
	if current, ok := m.sessions[session.Center]; ok && current == session {
		delete(m.sessions, session.Center)
	}
	m.mu.Unlock()

	if expired && session.expire() {
		m.logger.Info("edit session expired", zap.String("center", session.Center), zap.String("holder", session.Holder))
	}
}

// Get returns the live session of center.
func (m *SessionManager) Get(center string) (*EditSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[center]
	return session, ok
}

// Stop ends the session of center held by holder without firing the
// expiry side effect. It reports whether a session was stopped.
func (m *SessionManager) Stop(center, holder string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[center]
	if !ok || session.Holder != holder {
		return false
	}
	m.stopLocked(session)
	return true
}

func (m *SessionManager) stopLocked(session *EditSession) {
	session.shutdown.Store(true)
	session.cancel()
	delete(m.sessions, session.Center)
	m.logger.Info("edit session stopped", zap.String("center", session.Center), zap.String("holder", session.Holder))
}

// Subscribe streams ticks of the live session of center. The channel is
// closed when the session ends or cancel is called.
func (m *SessionManager) Subscribe(center string) (<-chan Tick, func(), bool) {
	session, ok := m.Get(center)
	if !ok {
		return nil, func() {}, false
	}
	ch, cancel := session.subscribe()
	return ch, cancel, true
}

// Shutdown stops every session without releasing locks; they are recovered
// from the database on the next start.
func (m *SessionManager) Shutdown() {
	m.mu.Lock()
	for _, session := range m.sessions {
		m.stopLocked(session)
	}
	m.mu.Unlock()
	m.wg.Wait()
}
