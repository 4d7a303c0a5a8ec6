package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gongplan/gong-api/internal/models"
)

const centerColumns = `center_name, timezone, location, other_course, status, current_editor, status_start, json_save, updated_at`

// CenterRepository stores centers and arbitrates their edit lock.
// Every lock transition is a single conditional UPDATE on the center row.
type CenterRepository struct {
	db *sqlx.DB
}

// NewCenterRepository constructs the repository.
func NewCenterRepository(db *sqlx.DB) *CenterRepository {
	return &CenterRepository{db: db}
}

func (r *CenterRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// FindByName returns the center row or sql.ErrNoRows.
func (r *CenterRepository) FindByName(ctx context.Context, name string) (*models.Center, error) {
	query := `SELECT ` + centerColumns + ` FROM centers WHERE center_name = $1`
	var center models.Center
	if err := r.db.GetContext(ctx, &center, query, name); err != nil {
		return nil, fmt.Errorf("find center: %w", err)
	}
	return &center, nil
}

// List returns every center ordered by name.
func (r *CenterRepository) List(ctx context.Context) ([]models.Center, error) {
	query := `SELECT ` + centerColumns + ` FROM centers ORDER BY center_name`
	var centers []models.Center
	if err := r.db.SelectContext(ctx, &centers, query); err != nil {
		return nil, fmt.Errorf("list centers: %w", err)
	}
	return centers, nil
}

// ClaimLock moves the center to editing for user when it is free or when the
// current lock started before staleBefore. It reports whether the row changed.
func (r *CenterRepository) ClaimLock(ctx context.Context, name, user string, now, staleBefore time.Time) (bool, error) {
	const query = `UPDATE centers SET status = 'editing', current_editor = $2, status_start = $3, updated_at = $3
WHERE center_name = $1 AND (status = 'free' OR (status = 'editing' AND status_start < $4))`
	res, err := r.db.ExecContext(ctx, query, name, user, now, staleBefore)
	if err != nil {
		return false, fmt.Errorf("claim center lock: %w", err)
	}
	return affected(res)
}

// ReleaseLock frees the center when user holds it. A non-nil started limits the
// release to the session that began at that instant, so a late timer cannot
// free a newer session of the same user.
func (r *CenterRepository) ReleaseLock(ctx context.Context, exec sqlx.ExtContext, name, user string, started *time.Time) (bool, error) {
	target := r.exec(exec)
	query := `UPDATE centers SET status = 'free', current_editor = NULL, status_start = NULL, updated_at = now()
WHERE center_name = $1 AND status = 'editing' AND current_editor = $2`
	args := []interface{}{name, user}
	if started != nil {
		query += ` AND status_start = $3`
		args = append(args, *started)
	}
	res, err := target.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("release center lock: %w", err)
	}
	return affected(res)
}

// SaveDraft stores the serialized draft plan when user holds the lock.
func (r *CenterRepository) SaveDraft(ctx context.Context, exec sqlx.ExtContext, name, user string, payload []byte) (bool, error) {
	target := r.exec(exec)
	const query = `UPDATE centers SET json_save = $3, updated_at = now()
WHERE center_name = $1 AND status = 'editing' AND current_editor = $2`
	res, err := target.ExecContext(ctx, query, name, user, string(payload))
	if err != nil {
		return false, fmt.Errorf("save draft plan: %w", err)
	}
	return affected(res)
}

// ListStaleLocks returns centers still editing whose lock began before cutoff.
func (r *CenterRepository) ListStaleLocks(ctx context.Context, cutoff time.Time) ([]models.Center, error) {
	query := `SELECT ` + centerColumns + ` FROM centers WHERE status = 'editing' AND status_start < $1 ORDER BY status_start`
	var centers []models.Center
	if err := r.db.SelectContext(ctx, &centers, query, cutoff); err != nil {
		return nil, fmt.Errorf("list stale locks: %w", err)
	}
	return centers, nil
}

// ReleaseStale frees the center if its lock is still older than cutoff.
func (r *CenterRepository) ReleaseStale(ctx context.Context, name string, cutoff time.Time) (bool, error) {
	const query = `UPDATE centers SET status = 'free', current_editor = NULL, status_start = NULL, updated_at = now()
WHERE center_name = $1 AND status = 'editing' AND status_start < $2`
	res, err := r.db.ExecContext(ctx, query, name, cutoff)
	if err != nil {
		return false, fmt.Errorf("release stale lock: %w", err)
	}
	return affected(res)
}
