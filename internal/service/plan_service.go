package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/gongplan/gong-api/internal/dto"
	"github.com/gongplan/gong-api/internal/models"
	appErrors "github.com/gongplan/gong-api/pkg/errors"
)

type draftStore interface {
	FindByName(ctx context.Context, name string) (*models.Center, error)
	SaveDraft(ctx context.Context, exec sqlx.ExtContext, name, user string, payload []byte) (bool, error)
	ReleaseLock(ctx context.Context, exec sqlx.ExtContext, name, user string, started *time.Time) (bool, error)
}

type periodStore interface {
	ListComing(ctx context.Context, center string) ([]models.PeriodEntry, error)
	ListRules(ctx context.Context, center string) ([]models.PeriodRule, error)
	ReplaceFrom(ctx context.Context, exec sqlx.ExtContext, center string, from models.Date, entries []models.PeriodEntry) error
}

type typeMapSource interface {
	Mappings(ctx context.Context) ([]models.CourseTypeMapping, error)
}

type courseSource interface {
	Fetch(ctx context.Context, location string, start, end models.Date) ([]models.RawCourse, error)
}

type lockFinisher interface {
	Finish(center, user, reason string)
}

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// PlanConfig sets the reconciliation horizon.
type PlanConfig struct {
	HorizonMonths int
	HorizonDays   int
}

// PlanService reconciles, edits and commits the draft plan of a center.
// Every mutation requires the caller to hold the center's edit lock.
type PlanService struct {
	db        txProvider
	centers   draftStore
	periods   periodStore
	typeMap   typeMapSource
	courses   courseSource
	locks     lockFinisher
	validator *validator.Validate
	logger    *zap.Logger
	cfg       PlanConfig
	now       func() time.Time
}

// NewPlanService constructs a PlanService.
func NewPlanService(db txProvider, centers draftStore, periods periodStore, typeMap typeMapSource, courses courseSource, locks lockFinisher, validate *validator.Validate, logger *zap.Logger, cfg PlanConfig) *PlanService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HorizonMonths <= 0 && cfg.HorizonDays <= 0 {
		cfg.HorizonMonths = 12
	}
	return &PlanService{
		db:        db,
		centers:   centers,
		periods:   periods,
		typeMap:   typeMap,
		courses:   courses,
		locks:     locks,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Refresh reconciles the local schedule with the external courses and
// stores the result as the center's draft.
func (s *PlanService) Refresh(ctx context.Context, center, user string) (*models.Plan, error) {
	c, err := s.loadCenter(ctx, center)
	if err != nil {
		return nil, err
	}
	if err := requireHolder(c, user); err != nil {
		return nil, err
	}

	local, err := s.periods.ListComing(ctx, center)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load local periods")
	}
	rules, overrides, err := s.classification(ctx, c)
	if err != nil {
		return nil, err
	}
	mappings, err := s.typeMap.Mappings(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course type map")
	}

	now := s.now()
	today := models.DateOf(now.In(c.TimeLocation()))
	window := ComputeWindow(local, today, s.cfg.HorizonMonths, s.cfg.HorizonDays)

	courses, err := s.courses.Fetch(ctx, c.Location, window.Start, window.End)
	if err != nil {
		return nil, err
	}

	plan := Reconcile(ReconcileInput{
		Center:    center,
		Window:    window,
		Local:     local,
		Courses:   courses,
		Mappings:  mappings,
		Overrides: overrides,
		Rules:     rules,
		Now:       now.UTC(),
	})
	plan.UpdatedBy = user

	if err := s.saveDraft(ctx, center, user, &plan); err != nil {
		return nil, err
	}
	s.logger.Info("plan refreshed",
		zap.String("center", center),
		zap.String("user", user),
		zap.Int("entries", len(plan.Entries)),
		zap.Int("courses", len(courses)),
		zap.Strings("unplanned", plan.Unplanned))
	return &plan, nil
}

// Commit writes the draft into the local schedule from the window start and
// releases the lock in the same transaction.
func (s *PlanService) Commit(ctx context.Context, center, user string) (resp *dto.CommitResponse, err error) {
	c, err := s.loadCenter(ctx, center)
	if err != nil {
		return nil, err
	}
	if err := requireHolder(c, user); err != nil {
		return nil, err
	}
	plan, err := decodeDraft(c)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to start transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.periods.ReplaceFrom(ctx, tx, center, plan.WindowStart, plan.Entries); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write plan")
	}
	released, err := s.centers.ReleaseLock(ctx, tx, center, user, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to release center")
	}
	if !released {
		err = appErrors.Clone(appErrors.ErrNotLockHolder, "edit lock expired before the plan was committed")
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit plan")
	}

	if s.locks != nil {
		s.locks.Finish(center, user, "commit")
	}
	s.logger.Info("plan committed", zap.String("center", center), zap.String("user", user), zap.Int("entries", len(plan.Entries)))
	return &dto.CommitResponse{Center: center, Written: len(plan.Entries), Status: string(models.LockStatusFree)}, nil
}

func (s *PlanService) classification(ctx context.Context, c *models.Center) ([]models.PeriodRule, models.CenterOverrides, error) {
	rules, err := s.periods.ListRules(ctx, c.Name)
	if err != nil {
		return nil, models.CenterOverrides{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load period rules")
	}
	overrides, err := models.ParseCenterOverrides(c.OtherCourse)
	if err != nil {
		s.logger.Warn("ignoring malformed center overrides", zap.String("center", c.Name), zap.Error(err))
		overrides = models.CenterOverrides{}
	}
	return rules, overrides, nil
}

func (s *PlanService) loadCenter(ctx context.Context, center string) (*models.Center, error) {
	c, err := s.centers.FindByName(ctx, center)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("center %s not found", center))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load center")
	}
	return c, nil
}

func (s *PlanService) saveDraft(ctx context.Context, center, user string, plan *models.Plan) error {
	payload, err := json.Marshal(plan)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode plan")
	}
	saved, err := s.centers.SaveDraft(ctx, nil, center, user, payload)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save plan")
	}
	if !saved {
		return appErrors.Clone(appErrors.ErrNotLockHolder, "edit lock lost before the plan was saved")
	}
	return nil
}

func requireHolder(c *models.Center, user string) error {
	if c.LockedBy(user) {
		return nil
	}
	if c.Status == models.LockStatusEditing {
		return appErrors.Clone(appErrors.ErrNotLockHolder, fmt.Sprintf("%s is being edited by %s", c.Name, c.Editor()))
	}
	return appErrors.Clone(appErrors.ErrNotLockHolder, fmt.Sprintf("claim %s before editing its plan", c.Name))
}

func decodeDraft(c *models.Center) (*models.Plan, error) {
	if !c.DraftPlan.Valid || len(c.DraftPlan.JSONText) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("%s has no draft plan; refresh it first", c.Name))
	}
	var plan models.Plan
	if err := json.Unmarshal(c.DraftPlan.JSONText, &plan); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decode draft plan")
	}
	if plan.Center == "" {
		plan.Center = c.Name
	}
	return &plan, nil
}
