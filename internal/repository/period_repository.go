package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/gongplan/gong-api/internal/models"
)

// PeriodRepository reads and replaces a center's locally stored schedule.
type PeriodRepository struct {
	db *sqlx.DB
}

// NewPeriodRepository constructs the repository.
func NewPeriodRepository(db *sqlx.DB) *PeriodRepository {
	return &PeriodRepository{db: db}
}

func (r *PeriodRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// ListComing returns the local periods of a center ordered by start date.
func (r *PeriodRepository) ListComing(ctx context.Context, center string) ([]models.PeriodEntry, error) {
	const query = `SELECT id, start_date, end_date, period_type FROM coming_periods
WHERE center_name = $1 ORDER BY start_date, period_type`
	var entries []models.PeriodEntry
	if err := r.db.SelectContext(ctx, &entries, query, center); err != nil {
		return nil, fmt.Errorf("list coming periods: %w", err)
	}
	for i := range entries {
		entries[i].Source = models.SourceLocal
	}
	return entries, nil
}

// ListRules returns the duration rules of a center's canonical period types.
func (r *PeriodRepository) ListRules(ctx context.Context, center string) ([]models.PeriodRule, error) {
	const query = `SELECT center_name, period_type, duration_days, variable_length FROM period_rules
WHERE center_name = $1 ORDER BY period_type`
	var rules []models.PeriodRule
	if err := r.db.SelectContext(ctx, &rules, query, center); err != nil {
		return nil, fmt.Errorf("list period rules: %w", err)
	}
	return rules, nil
}

// ReplaceFrom deletes the center's periods starting on or after from and
// inserts entries in their place.
func (r *PeriodRepository) ReplaceFrom(ctx context.Context, exec sqlx.ExtContext, center string, from models.Date, entries []models.PeriodEntry) error {
	target := r.exec(exec)
	const deleteQuery = `DELETE FROM coming_periods WHERE center_name = $1 AND start_date >= $2`
	if _, err := target.ExecContext(ctx, deleteQuery, center, from); err != nil {
		return fmt.Errorf("delete coming periods: %w", err)
	}

	const insertQuery = `INSERT INTO coming_periods (id, center_name, start_date, end_date, period_type)
VALUES ($1, $2, $3, $4, $5)`
	for _, entry := range entries {
		if entry.StartDate.Before(from) {
			continue
		}
		id := entry.ID
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		if _, err := target.ExecContext(ctx, insertQuery, id, center, entry.StartDate, entry.EndDate, entry.PeriodType); err != nil {
			return fmt.Errorf("insert coming period: %w", err)
		}
	}
	return nil
}
