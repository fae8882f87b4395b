package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/meetwise/booking-api/internal/models"
)

const (
	windowColumns  = "id, teacher_id, day_of_week, start_time, end_time, active, created_at, updated_at"
	blockedColumns = "id, teacher_id, start_at, end_at, reason, created_at"
)

// AvailabilityRepository persists recurring availability windows and blocked
// intervals. Rows are owned by teachers; the booking engine only reads them.
type AvailabilityRepository struct {
	db *sqlx.DB
}

// NewAvailabilityRepository creates a new availability repository.
func NewAvailabilityRepository(db *sqlx.DB) *AvailabilityRepository {
	return &AvailabilityRepository{db: db}
}

// ListWindows returns all windows for a teacher ordered by day and start time.
func (r *AvailabilityRepository) ListWindows(ctx context.Context, teacherID string) ([]models.AvailabilityWindow, error) {
	query := fmt.Sprintf("SELECT %s FROM availability_windows WHERE teacher_id = $1 ORDER BY day_of_week ASC, start_time ASC", windowColumns)
	var windows []models.AvailabilityWindow
	if err := r.db.SelectContext(ctx, &windows, query, teacherID); err != nil {
		return nil, mapDBError(fmt.Errorf("list availability windows: %w", err))
	}
	return windows, nil
}

// ListActiveWindowsForWeekday returns the active windows recurring on the
// given weekday (0=Sunday).
func (r *AvailabilityRepository) ListActiveWindowsForWeekday(ctx context.Context, teacherID string, weekday int) ([]models.AvailabilityWindow, error) {
	query := fmt.Sprintf("SELECT %s FROM availability_windows WHERE teacher_id = $1 AND day_of_week = $2 AND active = TRUE ORDER BY start_time ASC", windowColumns)
	var windows []models.AvailabilityWindow
	if err := r.db.SelectContext(ctx, &windows, query, teacherID, weekday); err != nil {
		return nil, mapDBError(fmt.Errorf("list active windows for weekday: %w", err))
	}
	return windows, nil
}

// CreateWindow stores a new availability window.
func (r *AvailabilityRepository) CreateWindow(ctx context.Context, window *models.AvailabilityWindow) error {
	if window.ID == "" {
		window.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if window.CreatedAt.IsZero() {
		window.CreatedAt = now
	}
	window.UpdatedAt = now

	const query = `INSERT INTO availability_windows (id, teacher_id, day_of_week, start_time, end_time, active, created_at, updated_at) VALUES (:id, :teacher_id, :day_of_week, :start_time, :end_time, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, window); err != nil {
		return mapDBError(fmt.Errorf("create availability window: %w", err))
	}
	return nil
}

// UpdateWindow modifies an availability window.
func (r *AvailabilityRepository) UpdateWindow(ctx context.Context, window *models.AvailabilityWindow) error {
	window.UpdatedAt = time.Now().UTC()
	const query = `UPDATE availability_windows SET day_of_week = :day_of_week, start_time = :start_time, end_time = :end_time, active = :active, updated_at = :updated_at WHERE id = :id AND teacher_id = :teacher_id`
	if _, err := r.db.NamedExecContext(ctx, query, window); err != nil {
		return mapDBError(fmt.Errorf("update availability window: %w", err))
	}
	return nil
}

// DeleteWindow removes an availability window.
func (r *AvailabilityRepository) DeleteWindow(ctx context.Context, teacherID, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM availability_windows WHERE id = $1 AND teacher_id = $2`, id, teacherID); err != nil {
		return mapDBError(fmt.Errorf("delete availability window: %w", err))
	}
	return nil
}

// ListBlockedOverlapping returns blocked intervals intersecting [from, to).
func (r *AvailabilityRepository) ListBlockedOverlapping(ctx context.Context, teacherID string, from, to time.Time) ([]models.BlockedInterval, error) {
	query := fmt.Sprintf("SELECT %s FROM blocked_intervals WHERE teacher_id = $1 AND start_at < $3 AND end_at > $2 ORDER BY start_at ASC", blockedColumns)
	var blocked []models.BlockedInterval
	if err := r.db.SelectContext(ctx, &blocked, query, teacherID, from, to); err != nil {
		return nil, mapDBError(fmt.Errorf("list blocked intervals: %w", err))
	}
	return blocked, nil
}

// CreateBlocked stores a new blocked interval.
func (r *AvailabilityRepository) CreateBlocked(ctx context.Context, blocked *models.BlockedInterval) error {
	if blocked.ID == "" {
		blocked.ID = uuid.NewString()
	}
	if blocked.CreatedAt.IsZero() {
		blocked.CreatedAt = time.Now().UTC()
	}

	const query = `INSERT INTO blocked_intervals (id, teacher_id, start_at, end_at, reason, created_at) VALUES (:id, :teacher_id, :start_at, :end_at, :reason, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, blocked); err != nil {
		return mapDBError(fmt.Errorf("create blocked interval: %w", err))
	}
	return nil
}

// DeleteBlocked removes a blocked interval.
func (r *AvailabilityRepository) DeleteBlocked(ctx context.Context, teacherID, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM blocked_intervals WHERE id = $1 AND teacher_id = $2`, id, teacherID); err != nil {
		return mapDBError(fmt.Errorf("delete blocked interval: %w", err))
	}
	return nil
}
