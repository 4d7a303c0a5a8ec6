package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/gongplan/gong-api/internal/models"
	appErrors "github.com/gongplan/gong-api/pkg/errors"
	"github.com/gongplan/gong-api/pkg/jobs"
	"github.com/gongplan/gong-api/pkg/storage"
)

// ReleaseJobType identifies queued lock releases triggered by a countdown.
const ReleaseJobType = "center.lock.release"

type centerStore interface {
	FindByName(ctx context.Context, name string) (*models.Center, error)
	List(ctx context.Context) ([]models.Center, error)
	ClaimLock(ctx context.Context, name, user string, now, staleBefore time.Time) (bool, error)
	ReleaseLock(ctx context.Context, exec sqlx.ExtContext, name, user string, started *time.Time) (bool, error)
	ListStaleLocks(ctx context.Context, cutoff time.Time) ([]models.Center, error)
	ReleaseStale(ctx context.Context, name string, cutoff time.Time) (bool, error)
}

type ticketSigner interface {
	Generate(subject, resource string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (storage.Grant, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// ReleaseRequest is the payload of a queued lock release.
type ReleaseRequest struct {
	Center  string
	Holder  string
	Started time.Time
}

// LockConfig tunes the edit lock.
type LockConfig struct {
	Duration         time.Duration
	InstallationHour int
}

// LockService arbitrates the per-center edit lock. Only the holder may edit;
// the lock ends on abandon, commit or when its countdown runs out.
type LockService struct {
	centers  centerStore
	sessions *SessionManager
	tickets  ticketSigner
	queue    jobEnqueuer
	metrics  *MetricsService
	logger   *zap.Logger
	cfg      LockConfig
	now      func() time.Time
}

// NewLockService constructs the service and registers it as the expiry
// handler of sessions.
func NewLockService(centers centerStore, sessions *SessionManager, tickets ticketSigner, metrics *MetricsService, logger *zap.Logger, cfg LockConfig) *LockService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Duration <= 0 {
		cfg.Duration = time.Hour
	}
	if cfg.InstallationHour < 0 || cfg.InstallationHour > 23 {
		cfg.InstallationHour = 3
	}
	svc := &LockService{
		centers:  centers,
		sessions: sessions,
		tickets:  tickets,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
	if sessions != nil {
		sessions.OnExpire(svc.scheduleRelease)
	}
	return svc
}

// UseQueue routes countdown releases through queue so they are retried.
func (s *LockService) UseQueue(queue jobEnqueuer) {
	s.queue = queue
}

// Claim gives center to user when it is free or its lock went stale.
// A center held by someone else yields an informational result, not an error.
// Claiming a center already held by user returns the running session.
func (s *LockService) Claim(ctx context.Context, center, user string) (*models.LockResult, error) {
	c, err := s.load(ctx, center)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC().Truncate(time.Microsecond)

	if c.LockedBy(user) && !s.stale(c, now) {
		return s.resume(c, now)
	}

	acquired, err := s.centers.ClaimLock(ctx, center, user, now, now.Add(-s.cfg.Duration))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to claim center")
	}
	if acquired {
		editor := user
		c.Status = models.LockStatusEditing
		c.CurrentEditor = &editor
		c.StatusStart = &now
		if s.sessions != nil {
			s.sessions.Start(center, user, now)
		}
		s.metrics.RecordLockClaim("acquired")
		s.logger.Info("center lock acquired", zap.String("center", center), zap.String("user", user))
		return s.granted(c, now, "")
	}

	// Lost the race; report who holds it now.
	c, err = s.load(ctx, center)
	if err != nil {
		return nil, err
	}
	if c.LockedBy(user) {
		return s.resume(c, now)
	}

	s.metrics.RecordLockClaim("refused")
	next := NextInstallation(now, c.TimeLocation(), s.cfg.InstallationHour)
	refused := appErrors.Clone(appErrors.ErrAlreadyLocked, fmt.Sprintf("%s is being edited by %s; changes are installed at %s", center, c.Editor(), next.Format("2006-01-02 15:04 MST")))
	s.logger.Info("center lock refused", zap.String("center", center), zap.String("user", user), zap.String("holder", c.Editor()))
	return &models.LockResult{
		Acquired:         false,
		State:            s.state(c, now),
		Message:          refused.Message,
		NextInstallation: &next,
	}, nil
}

// Abandon releases the lock held by user. Anything else is a silent no-op.
func (s *LockService) Abandon(ctx context.Context, center, user string) (*models.LockState, error) {
	c, err := s.load(ctx, center)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if !c.LockedBy(user) {
		state := s.state(c, now)
		return &state, nil
	}

	if s.sessions != nil {
		s.sessions.Stop(center, user)
	}
	released, err := s.centers.ReleaseLock(ctx, nil, center, user, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to release center")
	}
	if released {
		s.metrics.RecordLockRelease("abandon")
		s.logger.Info("center lock abandoned", zap.String("center", center), zap.String("user", user))
	}
	return &models.LockState{Center: c.Name, Status: models.LockStatusFree, Timezone: c.Timezone}, nil
}

// Status reports the lock state of center.
func (s *LockService) Status(ctx context.Context, center string) (*models.LockState, error) {
	c, err := s.load(ctx, center)
	if err != nil {
		return nil, err
	}
	state := s.state(c, s.now().UTC())
	return &state, nil
}

// List reports the lock state of every center in allowed. A nil allowed
// means every center.
func (s *LockService) List(ctx context.Context, allowed []string) ([]models.LockState, error) {
	centers, err := s.centers.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list centers")
	}
	var filter map[string]struct{}
	if allowed != nil {
		filter = make(map[string]struct{}, len(allowed))
		for _, name := range allowed {
			filter[name] = struct{}{}
		}
	}
	now := s.now().UTC()
	states := make([]models.LockState, 0, len(centers))
	for i := range centers {
		if filter != nil {
			if _, ok := filter[centers[i].Name]; !ok {
				continue
			}
		}
		states = append(states, s.state(&centers[i], now))
	}
	return states, nil
}

// Finish stops the countdown of a lock released by another operation, such as a commit.
func (s *LockService) Finish(center, user, reason string) {
	if s.sessions != nil {
		s.sessions.Stop(center, user)
	}
	s.metrics.RecordLockRelease(reason)
}

// VerifyStreamTicket checks a countdown stream ticket for center and returns its holder.
func (s *LockService) VerifyStreamTicket(ticket, center string) (string, error) {
	if s.tickets == nil {
		return "", appErrors.Clone(appErrors.ErrUnauthorized, "stream tickets disabled")
	}
	grant, err := s.tickets.Parse(ticket, false)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return "", appErrors.Clone(appErrors.ErrUnauthorized, "stream ticket expired")
		}
		return "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid stream ticket")
	}
	if grant.Resource != center {
		return "", appErrors.Clone(appErrors.ErrForbidden, "stream ticket issued for another center")
	}
	return grant.Subject, nil
}

// Subscribe streams the countdown of center.
func (s *LockService) Subscribe(center string) (<-chan Tick, func(), bool) {
	if s.sessions == nil {
		return nil, func() {}, false
	}
	return s.sessions.Subscribe(center)
}

// Recover releases locks older than the lock duration and restarts the
// countdown of the remaining ones. It runs at startup and periodically.
func (s *LockService) Recover(ctx context.Context) (int, error) {
	now := s.now().UTC()
	cutoff := now.Add(-s.cfg.Duration)
	centers, err := s.centers.ListStaleLocks(ctx, now)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list edited centers")
	}

	released := 0
	for i := range centers {
		c := centers[i]
		if c.StatusStart == nil {
			continue
		}
		if c.StatusStart.Before(cutoff) {
			ok, err := s.centers.ReleaseStale(ctx, c.Name, cutoff)
			if err != nil {
				s.logger.Warn("failed to release stale lock", zap.String("center", c.Name), zap.Error(err))
				continue
			}
			if ok {
				released++
				s.metrics.RecordLockRelease("stale")
				s.logger.Info("stale center lock released", zap.String("center", c.Name), zap.String("holder", c.Editor()), zap.Time("status_start", *c.StatusStart))
			}
			continue
		}
		if s.sessions != nil {
			if _, running := s.sessions.Get(c.Name); !running {
				s.sessions.Start(c.Name, c.Editor(), *c.StatusStart)
			}
		}
	}
	return released, nil
}

// HandleRelease is the job handler releasing a lock whose countdown ran out.
// It only frees the session that expired, never a newer one.
func (s *LockService) HandleRelease(ctx context.Context, job jobs.Job) error {
	req, ok := job.Payload.(ReleaseRequest)
	if !ok {
		return fmt.Errorf("unexpected release payload %T", job.Payload)
	}
	released, err := s.centers.ReleaseLock(ctx, nil, req.Center, req.Holder, &req.Started)
	if err != nil {
		return err
	}
	if released {
		s.metrics.RecordLockRelease("expired")
		s.logger.Info("center lock expired", zap.String("center", req.Center), zap.String("holder", req.Holder))
	}
	return nil
}

func (s *LockService) scheduleRelease(center, holder string, started time.Time) {
	job := jobs.Job{
		ID:       fmt.Sprintf("%s:%d", center, started.UnixNano()),
		Type:     ReleaseJobType,
		Payload:  ReleaseRequest{Center: center, Holder: holder, Started: started},
		Enqueued: s.now().UTC(),
	}
	if s.queue != nil {
		err := s.queue.Enqueue(job)
		if err == nil {
			return
		}
		s.logger.Warn("release queue unavailable, releasing inline", zap.String("center", center), zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.HandleRelease(ctx, job); err != nil {
		s.logger.Error("failed to release expired lock", zap.String("center", center), zap.Error(err))
	}
}

func (s *LockService) load(ctx context.Context, center string) (*models.Center, error) {
	c, err := s.centers.FindByName(ctx, center)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("center %s not found", center))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load center")
	}
	return c, nil
}

func (s *LockService) stale(c *models.Center, now time.Time) bool {
	return c.StatusStart == nil || !c.StatusStart.After(now.Add(-s.cfg.Duration))
}

func (s *LockService) resume(c *models.Center, now time.Time) (*models.LockResult, error) {
	if s.sessions != nil && c.StatusStart != nil {
		s.sessions.Start(c.Name, c.Editor(), *c.StatusStart)
	}
	s.metrics.RecordLockClaim("resumed")
	return s.granted(c, now, "you are already editing this center")
}

func (s *LockService) granted(c *models.Center, now time.Time, message string) (*models.LockResult, error) {
	result := &models.LockResult{Acquired: true, State: s.state(c, now), Message: message}
	if s.tickets != nil {
		ticket, _, err := s.tickets.Generate(c.Editor(), c.Name)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue stream ticket")
		}
		result.StreamTicket = ticket
	}
	return result, nil
}

func (s *LockService) state(c *models.Center, now time.Time) models.LockState {
	state := models.LockState{
		Center:   c.Name,
		Status:   c.Status,
		Editor:   c.Editor(),
		Timezone: c.Timezone,
	}
	if state.Status == "" {
		state.Status = models.LockStatusFree
	}
	if c.Status == models.LockStatusEditing && c.StatusStart != nil {
		start := *c.StatusStart
		state.StatusStart = &start
		if remaining := s.cfg.Duration - now.Sub(start); remaining > 0 {
			state.RemainingSeconds = int(remaining / time.Second)
		}
	}
	return state
}

// NextInstallation returns the next occurrence of hour:00 in loc after now.
func NextInstallation(now time.Time, loc *time.Location, hour int) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, 0, 0, 0, loc)
	}
	return next
}
