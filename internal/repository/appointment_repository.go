package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/meetwise/booking-api/internal/models"
	appErrors "github.com/meetwise/booking-api/pkg/errors"
)

const appointmentColumns = "id, teacher_id, student_id, subject, start_at, duration_minutes, status, idempotency_key, created_at, updated_at"

// slotConstraint is the partial unique index over (teacher_id, start_at)
// restricted to active statuses. It is the serialization point for
// concurrent booking attempts on the same slot.
const slotConstraint = "ux_appointments_active_slot"

// AppointmentRepository provides persistence for appointments outside the
// booking transaction (listing, status transitions, expiry sweeps).
type AppointmentRepository struct {
	db *sqlx.DB
}

// NewAppointmentRepository creates a new appointment repository.
func NewAppointmentRepository(db *sqlx.DB) *AppointmentRepository {
	return &AppointmentRepository{db: db}
}

// List returns appointments with optional filtering and pagination.
func (r *AppointmentRepository) List(ctx context.Context, filter models.AppointmentFilter) ([]models.Appointment, int, error) {
	base := "FROM appointments WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("start_at >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("start_at < $%d", len(args)+1))
		args = append(args, *filter.To)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"start_at":   true,
		"created_at": true,
		"status":     true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "start_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", appointmentColumns, base, sortBy, order, size, offset)
	var appointments []models.Appointment
	if err := r.db.SelectContext(ctx, &appointments, query, args...); err != nil {
		return nil, 0, mapDBError(fmt.Errorf("list appointments: %w", err))
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, mapDBError(fmt.Errorf("count appointments: %w", err))
	}

	return appointments, total, nil
}

// FindByID loads an appointment by id.
func (r *AppointmentRepository) FindByID(ctx context.Context, id string) (*models.Appointment, error) {
	query := fmt.Sprintf("SELECT %s FROM appointments WHERE id = $1", appointmentColumns)
	var appt models.Appointment
	if err := r.db.GetContext(ctx, &appt, query, id); err != nil {
		return nil, mapDBError(err)
	}
	return &appt, nil
}

// ListActiveOverlapping returns pending/approved appointments whose interval
// intersects [from, to). The interval end is derived from the stored duration.
func (r *AppointmentRepository) ListActiveOverlapping(ctx context.Context, teacherID string, from, to time.Time) ([]models.Appointment, error) {
	query := fmt.Sprintf(`SELECT %s FROM appointments WHERE teacher_id = $1 AND status IN ('pending', 'approved') AND start_at < $3 AND start_at + duration_minutes * interval '1 minute' > $2 ORDER BY start_at ASC`, appointmentColumns)
	var appointments []models.Appointment
	if err := r.db.SelectContext(ctx, &appointments, query, teacherID, from, to); err != nil {
		return nil, mapDBError(fmt.Errorf("list active appointments: %w", err))
	}
	return appointments, nil
}

// CountActiveBetween counts pending/approved appointments starting in [from, to).
func (r *AppointmentRepository) CountActiveBetween(ctx context.Context, teacherID string, from, to time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM appointments WHERE teacher_id = $1 AND status IN ('pending', 'approved') AND start_at >= $2 AND start_at < $3`
	var count int
	if err := r.db.GetContext(ctx, &count, query, teacherID, from, to); err != nil {
		return 0, mapDBError(fmt.Errorf("count active appointments: %w", err))
	}
	return count, nil
}

// TransitionStatus atomically moves an appointment from one of the allowed
// statuses to the target status. Returns STATE_CONFLICT when the row is not in
// an allowed status, NOT_FOUND when it does not exist.
func (r *AppointmentRepository) TransitionStatus(ctx context.Context, id string, from []models.AppointmentStatus, to models.AppointmentStatus) (*models.Appointment, error) {
	placeholders := make([]string, len(from))
	args := []interface{}{to, time.Now().UTC(), id}
	for i, status := range from {
		placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
		args = append(args, status)
	}

	query := fmt.Sprintf(`UPDATE appointments SET status = $1, updated_at = $2 WHERE id = $3 AND status IN (%s) RETURNING %s`, strings.Join(placeholders, ", "), appointmentColumns)
	var appt models.Appointment
	if err := r.db.GetContext(ctx, &appt, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.explainTransitionFailure(ctx, id)
		}
		return nil, mapDBError(fmt.Errorf("transition appointment status: %w", err))
	}
	return &appt, nil
}

func (r *AppointmentRepository) explainTransitionFailure(ctx context.Context, id string) error {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, id); err != nil {
		return mapDBError(fmt.Errorf("check appointment exists: %w", err))
	}
	if !exists {
		return appErrors.Clone(appErrors.ErrNotFound, "appointment not found")
	}
	return appErrors.Clone(appErrors.ErrStateConflict, "")
}

// ListOverdueActive returns up to limit non-terminal appointments whose start
// instant has passed, oldest first.
func (r *AppointmentRepository) ListOverdueActive(ctx context.Context, now time.Time, limit int) ([]models.Appointment, error) {
	query := fmt.Sprintf(`SELECT %s FROM appointments WHERE status IN ('pending', 'approved') AND start_at < $1 ORDER BY start_at ASC LIMIT $2`, appointmentColumns)
	var appointments []models.Appointment
	if err := r.db.SelectContext(ctx, &appointments, query, now, limit); err != nil {
		return nil, mapDBError(fmt.Errorf("list overdue appointments: %w", err))
	}
	return appointments, nil
}
