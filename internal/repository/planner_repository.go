package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// PlannerRepository answers which users may plan which centers.
type PlannerRepository struct {
	db *sqlx.DB
}

// NewPlannerRepository constructs the repository.
func NewPlannerRepository(db *sqlx.DB) *PlannerRepository {
	return &PlannerRepository{db: db}
}

// IsPlanner reports whether email is a planner of center.
func (r *PlannerRepository) IsPlanner(ctx context.Context, email, center string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM planners WHERE user_email = $1 AND center_name = $2)`
	var ok bool
	if err := r.db.GetContext(ctx, &ok, query, email, center); err != nil {
		return false, fmt.Errorf("check planner: %w", err)
	}
	return ok, nil
}

// CentersFor lists the centers email may plan.
func (r *PlannerRepository) CentersFor(ctx context.Context, email string) ([]string, error) {
	const query = `SELECT center_name FROM planners WHERE user_email = $1 ORDER BY center_name`
	var names []string
	if err := r.db.SelectContext(ctx, &names, query, email); err != nil {
		return nil, fmt.Errorf("list planner centers: %w", err)
	}
	return names, nil
}
