package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gongplan/gong-api/internal/dto"
	"github.com/gongplan/gong-api/internal/models"
	appErrors "github.com/gongplan/gong-api/pkg/errors"
)

// Draft returns the saved draft plan of center. Anyone may read it.
func (s *PlanService) Draft(ctx context.Context, center string) (*models.Plan, error) {
	c, err := s.loadCenter(ctx, center)
	if err != nil {
		return nil, err
	}
	return decodeDraft(c)
}

// AddLine appends a manual line to the draft and re-checks the plan.
func (s *PlanService) AddLine(ctx context.Context, center, user string, req dto.AddLineRequest) (*models.Plan, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid plan line payload")
	}
	start, err := models.ParseDate(req.StartDate)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid start_date")
	}
	line := models.PeriodEntry{
		ID:         uuid.NewString(),
		StartDate:  start,
		PeriodType: strings.TrimSpace(req.PeriodType),
		Source:     models.SourceNewInput,
	}
	if req.EndDate != "" {
		end, err := models.ParseDate(req.EndDate)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid end_date")
		}
		if end.Before(start) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "end_date must not be before start_date")
		}
		line.EndDate = &end
	}

	return s.editDraft(ctx, center, user, func(plan *models.Plan) error {
		plan.Entries = append(plan.Entries, line)
		s.logger.Info("plan line added", zap.String("center", center), zap.String("user", user), zap.String("line_id", line.ID))
		return nil
	})
}

// DeleteLine removes the line with lineID from the draft and re-checks the plan.
func (s *PlanService) DeleteLine(ctx context.Context, center, user, lineID string) (*models.Plan, error) {
	return s.editDraft(ctx, center, user, func(plan *models.Plan) error {
		idx := plan.Entry(lineID)
		if idx < 0 {
			return appErrors.Clone(appErrors.ErrLineNotFound, "plan line "+lineID+" not found")
		}
		plan.Entries = append(plan.Entries[:idx], plan.Entries[idx+1:]...)
		s.logger.Info("plan line deleted", zap.String("center", center), zap.String("user", user), zap.String("line_id", lineID))
		return nil
	})
}

func (s *PlanService) editDraft(ctx context.Context, center, user string, mutate func(*models.Plan) error) (*models.Plan, error) {
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
	if err := mutate(plan); err != nil {
		return nil, err
	}

	rules, overrides, err := s.classification(ctx, c)
	if err != nil {
		return nil, err
	}
	Recheck(plan, rules, overrides)
	plan.UpdatedBy = user

	if err := s.saveDraft(ctx, center, user, plan); err != nil {
		return nil, err
	}
	return plan, nil
}
