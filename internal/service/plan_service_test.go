package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gongplan/gong-api/internal/dto"
	"github.com/gongplan/gong-api/internal/models"
	appErrors "github.com/gongplan/gong-api/pkg/errors"
	"github.com/gongplan/gong-api/pkg/storage"
)

// manualClock only moves when the test advances it.
type manualClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []manualWaiter
}

type manualWaiter struct {
	at time.Time
	ch chan time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, manualWaiter{at: c.now.Add(d), ch: ch})
	return ch
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	pending := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.at.After(c.now) {
			w.ch <- c.now
			continue
		}
		pending = append(pending, w)
	}
	c.waiters = pending
}

type memPeriodStore struct {
	mu           sync.Mutex
	local        []models.PeriodEntry
	rules        []models.PeriodRule
	replaced     []models.PeriodEntry
	replacedFrom models.Date
}

func (m *memPeriodStore) ListComing(ctx context.Context, center string) ([]models.PeriodEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.PeriodEntry(nil), m.local...), nil
}

func (m *memPeriodStore) ListRules(ctx context.Context, center string) ([]models.PeriodRule, error) {
	return m.rules, nil
}

func (m *memPeriodStore) ReplaceFrom(ctx context.Context, exec sqlx.ExtContext, center string, from models.Date, entries []models.PeriodEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replacedFrom = from
	m.replaced = append([]models.PeriodEntry(nil), entries...)
	return nil
}

type stubTypeMap []models.CourseTypeMapping

func (s stubTypeMap) Mappings(ctx context.Context) ([]models.CourseTypeMapping, error) {
	return s, nil
}

type stubCourseSource struct {
	courses  []models.RawCourse
	err      error
	location string
	start    models.Date
}

func (s *stubCourseSource) Fetch(ctx context.Context, location string, start, end models.Date) ([]models.RawCourse, error) {
	s.location, s.start = location, start
	return s.courses, s.err
}

type planFixture struct {
	clock    *manualClock
	store    *memCenterStore
	periods  *memPeriodStore
	courses  *stubCourseSource
	locks    *LockService
	sessions *SessionManager
	plans    *PlanService
	mock     sqlmock.Sqlmock
}

func newPlanFixture(t *testing.T) *planFixture {
	t.Helper()
	clock := &manualClock{now: time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)}

	store := newMemCenterStore(models.Center{
		Name:        "Mahi",
		Timezone:    "Europe/Paris",
		Location:    "1396",
		OtherCourse: types.JSONText(`{"TRUST MEETING": "Trust WE"}`),
	})
	periods := &memPeriodStore{
		local: []models.PeriodEntry{
			{ID: "8a6c1f52-0d5e-4a49-9d43-1f4f1d0f0a01", StartDate: models.MustParseDate("2024-12-01"), PeriodType: "10-DAY", Source: models.SourceLocal},
			{ID: "8a6c1f52-0d5e-4a49-9d43-1f4f1d0f0a02", StartDate: models.MustParseDate("2025-01-08"), PeriodType: "10-DAY", Source: models.SourceLocal},
		},
		rules: []models.PeriodRule{
			{PeriodType: "10-DAY", Days: 11},
			{PeriodType: "Trust WE", Days: 2},
			{PeriodType: "SERVICE", Days: 3},
		},
	}
	courses := &stubCourseSource{courses: []models.RawCourse{
		{StartDate: models.MustParseDate("2025-01-08"), EndDate: models.MustParseDate("2025-01-19"), Anchor: "10-Day", CourseType: "10-Day"},
		{StartDate: models.MustParseDate("2025-01-22"), EndDate: models.MustParseDate("2025-01-24"), Anchor: "Other", CourseType: "Trust Meeting"},
	}}

	sessions := NewSessionManager(CountdownConfig{Duration: time.Hour, Interval: 20 * time.Second}, clock, nil, nil)
	t.Cleanup(sessions.Shutdown)
	locks := NewLockService(store, sessions, storage.NewSignedURLSigner("ticket-secret", time.Hour), nil, nil, LockConfig{Duration: time.Hour})
	locks.now = clock.Now

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	plans := NewPlanService(sqlx.NewDb(db, "sqlmock"), store, periods, stubTypeMap{{RawCourseType: "10-Day", PeriodType: "10-DAY"}}, courses, locks, nil, nil, PlanConfig{HorizonMonths: 12})
	plans.now = clock.Now

	return &planFixture{clock: clock, store: store, periods: periods, courses: courses, locks: locks, sessions: sessions, plans: plans, mock: mock}
}

func (f *planFixture) claim(t *testing.T, user string) {
	t.Helper()
	res, err := f.locks.Claim(context.Background(), "Mahi", user)
	require.NoError(t, err)
	require.True(t, res.Acquired)
}

func TestPlanServiceMahiScenario(t *testing.T) {
	f := newPlanFixture(t)
	ctx := context.Background()
	f.claim(t, "a@example.org")

	plan, err := f.plans.Refresh(ctx, "Mahi", "a@example.org")
	require.NoError(t, err)
	assert.Equal(t, "1396", f.courses.location)
	assert.Equal(t, "2025-01-08", f.courses.start.String())

	require.Len(t, plan.Entries, 2)
	assert.Equal(t, models.SourceBoth, plan.Entries[0].Source)
	assert.Equal(t, "2025-01-08", plan.Entries[0].StartDate.String())
	assert.Equal(t, models.SourceExternal, plan.Entries[1].Source)
	assert.Equal(t, "Trust WE", plan.Entries[1].PeriodType)
	assert.True(t, plan.Entries[0].StartDate.Before(plan.Entries[1].StartDate))
	assert.Equal(t, []string{"SERVICE"}, plan.Unplanned)

	require.Eventually(t, func() bool {
		f.clock.Advance(30 * time.Minute)
		return f.store.get("Mahi").Status == models.LockStatusFree
	}, 2*time.Second, 5*time.Millisecond)

	draft, err := f.plans.Draft(ctx, "Mahi")
	require.NoError(t, err)
	require.Len(t, draft.Entries, 2)
	assert.Equal(t, plan.Entries[1].ID, draft.Entries[1].ID)
	assert.Equal(t, "a@example.org", draft.UpdatedBy)
}

func TestPlanServiceRefreshRequiresHolder(t *testing.T) {
	f := newPlanFixture(t)
	_, err := f.plans.Refresh(context.Background(), "Mahi", "a@example.org")
	assert.ErrorIs(t, err, appErrors.ErrNotLockHolder)

	f.claim(t, "a@example.org")
	_, err = f.plans.Refresh(context.Background(), "Mahi", "b@example.org")
	assert.ErrorIs(t, err, appErrors.ErrNotLockHolder)
}

func TestPlanServiceRefreshFetchFailure(t *testing.T) {
	f := newPlanFixture(t)
	f.claim(t, "a@example.org")
	f.courses.err = appErrors.Wrap(errors.New("timeout"), appErrors.ErrFetchFailure.Code, appErrors.ErrFetchFailure.Status, "failed to fetch courses")

	_, err := f.plans.Refresh(context.Background(), "Mahi", "a@example.org")
	assert.ErrorIs(t, err, appErrors.ErrFetchFailure)
	assert.False(t, f.store.get("Mahi").DraftPlan.Valid)
}

func TestPlanServiceDraftMissing(t *testing.T) {
	f := newPlanFixture(t)
	_, err := f.plans.Draft(context.Background(), "Mahi")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = f.plans.Draft(context.Background(), "Nowhere")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestPlanServiceAddAndDeleteLine(t *testing.T) {
	f := newPlanFixture(t)
	ctx := context.Background()
	f.claim(t, "a@example.org")
	_, err := f.plans.Refresh(ctx, "Mahi", "a@example.org")
	require.NoError(t, err)

	plan, err := f.plans.AddLine(ctx, "Mahi", "a@example.org", dto.AddLineRequest{PeriodType: "SERVICE", StartDate: "2025-01-19"})
	require.NoError(t, err)
	require.Len(t, plan.Entries, 3)
	added := plan.Entries[1]
	assert.Equal(t, models.SourceNewInput, added.Source)
	assert.Equal(t, "SERVICE", added.PeriodType)
	assert.Equal(t, models.CheckOK, plan.Entries[0].Check)
	assert.Equal(t, models.CheckOK, added.Check)
	assert.Empty(t, plan.Unplanned)

	plan, err = f.plans.DeleteLine(ctx, "Mahi", "a@example.org", added.ID)
	require.NoError(t, err)
	require.Len(t, plan.Entries, 2)
	assert.Equal(t, -1, plan.Entry(added.ID))
	assert.Equal(t, "GAP of 3", plan.Entries[0].Check)
	assert.Equal(t, []string{"SERVICE"}, plan.Unplanned)

	_, err = f.plans.DeleteLine(ctx, "Mahi", "a@example.org", added.ID)
	assert.ErrorIs(t, err, appErrors.ErrLineNotFound)

	var saved models.Plan
	require.NoError(t, json.Unmarshal(f.store.get("Mahi").DraftPlan.JSONText, &saved))
	assert.Len(t, saved.Entries, 2)
}

func TestPlanServiceAddLineValidation(t *testing.T) {
	f := newPlanFixture(t)
	ctx := context.Background()
	f.claim(t, "a@example.org")
	_, err := f.plans.Refresh(ctx, "Mahi", "a@example.org")
	require.NoError(t, err)

	_, err = f.plans.AddLine(ctx, "Mahi", "a@example.org", dto.AddLineRequest{PeriodType: "SERVICE", StartDate: "19/01/2025"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.plans.AddLine(ctx, "Mahi", "a@example.org", dto.AddLineRequest{PeriodType: "SERVICE", StartDate: "2025-01-19", EndDate: "2025-01-10"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.plans.AddLine(ctx, "Mahi", "b@example.org", dto.AddLineRequest{PeriodType: "SERVICE", StartDate: "2025-01-19"})
	assert.ErrorIs(t, err, appErrors.ErrNotLockHolder)
}

func TestPlanServiceCommit(t *testing.T) {
	f := newPlanFixture(t)
	ctx := context.Background()
	f.claim(t, "a@example.org")
	plan, err := f.plans.Refresh(ctx, "Mahi", "a@example.org")
	require.NoError(t, err)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	resp, err := f.plans.Commit(ctx, "Mahi", "a@example.org")
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Written)
	assert.Equal(t, "2025-01-08", f.periods.replacedFrom.String())
	assert.Len(t, f.periods.replaced, len(plan.Entries))
	assert.Equal(t, models.LockStatusFree, f.store.get("Mahi").Status)
	_, running := f.sessions.Get("Mahi")
	assert.False(t, running)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestPlanServiceCommitRollsBackOnReleaseFailure(t *testing.T) {
	f := newPlanFixture(t)
	ctx := context.Background()
	f.claim(t, "a@example.org")
	_, err := f.plans.Refresh(ctx, "Mahi", "a@example.org")
	require.NoError(t, err)

	f.store.failNext = errors.New("connection reset")
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err = f.plans.Commit(ctx, "Mahi", "a@example.org")
	assert.ErrorIs(t, err, appErrors.ErrInternal)
	assert.Equal(t, models.LockStatusEditing, f.store.get("Mahi").Status)
	require.NoError(t, f.mock.ExpectationsWereMet())
}
