package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/meetwise/booking-api/internal/models"
	appErrors "github.com/meetwise/booking-api/pkg/errors"
)

// BookingStore is the view of the datastore available inside a single booking
// transaction. Every read and write issued through it belongs to the same
// database transaction, so the availability re-check, the quota consume and
// the appointment insert commit or roll back as one unit.
type BookingStore interface {
	FindByIdempotencyKey(ctx context.Context, key string) (*models.Appointment, error)
	ListActiveOverlapping(ctx context.Context, teacherID string, from, to time.Time) ([]models.Appointment, error)
	ListBlockedOverlapping(ctx context.Context, teacherID string, from, to time.Time) ([]models.BlockedInterval, error)
	CountActiveBetween(ctx context.Context, teacherID string, from, to time.Time) (int, error)
	QuotaForUpdate(ctx context.Context, studentID string) (*models.StudentQuota, error)
	SaveQuota(ctx context.Context, quota *models.StudentQuota) error
	InsertAppointment(ctx context.Context, appt *models.Appointment) error
	InsertNotification(ctx context.Context, n *models.Notification) error
}

// BookingUnit runs booking work inside a database transaction.
type BookingUnit struct {
	db *sqlx.DB
}

// NewBookingUnit creates a new booking transaction runner.
func NewBookingUnit(db *sqlx.DB) *BookingUnit {
	return &BookingUnit{db: db}
}

// Run executes fn within a transaction, committing on nil and rolling back on
// error. Transient store failures surface as DB_UNAVAILABLE.
func (u *BookingUnit) Run(ctx context.Context, fn func(store BookingStore) error) error {
	tx, err := u.db.BeginTxx(ctx, nil)
	if err != nil {
		return mapDBError(fmt.Errorf("begin booking transaction: %w", err))
	}

	if err := fn(&bookingStore{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapDBError(fmt.Errorf("commit booking transaction: %w", err))
	}
	return nil
}

type bookingStore struct {
	tx *sqlx.Tx
}

func (s *bookingStore) FindByIdempotencyKey(ctx context.Context, key string) (*models.Appointment, error) {
	query := fmt.Sprintf("SELECT %s FROM appointments WHERE idempotency_key = $1", appointmentColumns)
	var appt models.Appointment
	if err := s.tx.GetContext(ctx, &appt, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapDBError(fmt.Errorf("find appointment by idempotency key: %w", err))
	}
	return &appt, nil
}

func (s *bookingStore) ListActiveOverlapping(ctx context.Context, teacherID string, from, to time.Time) ([]models.Appointment, error) {
	query := fmt.Sprintf(`SELECT %s FROM appointments WHERE teacher_id = $1 AND status IN ('pending', 'approved') AND start_at < $3 AND start_at + duration_minutes * interval '1 minute' > $2 ORDER BY start_at ASC`, appointmentColumns)
	var appointments []models.Appointment
	if err := s.tx.SelectContext(ctx, &appointments, query, teacherID, from, to); err != nil {
		return nil, mapDBError(fmt.Errorf("list active appointments in tx: %w", err))
	}
	return appointments, nil
}

func (s *bookingStore) ListBlockedOverlapping(ctx context.Context, teacherID string, from, to time.Time) ([]models.BlockedInterval, error) {
	query := fmt.Sprintf("SELECT %s FROM blocked_intervals WHERE teacher_id = $1 AND start_at < $3 AND end_at > $2 ORDER BY start_at ASC", blockedColumns)
	var blocked []models.BlockedInterval
	if err := s.tx.SelectContext(ctx, &blocked, query, teacherID, from, to); err != nil {
		return nil, mapDBError(fmt.Errorf("list blocked intervals in tx: %w", err))
	}
	return blocked, nil
}

func (s *bookingStore) CountActiveBetween(ctx context.Context, teacherID string, from, to time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM appointments WHERE teacher_id = $1 AND status IN ('pending', 'approved') AND start_at >= $2 AND start_at < $3`
	var count int
	if err := s.tx.GetContext(ctx, &count, query, teacherID, from, to); err != nil {
		return 0, mapDBError(fmt.Errorf("count active appointments in tx: %w", err))
	}
	return count, nil
}

// QuotaForUpdate locks the student's quota row for the duration of the
// transaction, creating it with defaults on first use.
func (s *bookingStore) QuotaForUpdate(ctx context.Context, studentID string) (*models.StudentQuota, error) {
	const query = `SELECT student_id, service_level, meetings_used, last_reset_at, updated_at FROM student_quotas WHERE student_id = $1 FOR UPDATE`
	var quota models.StudentQuota
	err := s.tx.GetContext(ctx, &quota, query, studentID)
	if err == nil {
		return &quota, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, mapDBError(fmt.Errorf("lock student quota: %w", err))
	}

	now := time.Now().UTC()
	quota = models.StudentQuota{
		StudentID:    studentID,
		ServiceLevel: models.ServiceLevel1,
		MeetingsUsed: 0,
		LastResetAt:  models.FirstOfMonth(now),
		UpdatedAt:    now,
	}
	const insert = `INSERT INTO student_quotas (student_id, service_level, meetings_used, last_reset_at, updated_at) VALUES (:student_id, :service_level, :meetings_used, :last_reset_at, :updated_at)`
	if _, err := s.tx.NamedExecContext(ctx, insert, &quota); err != nil {
		return nil, mapDBError(fmt.Errorf("create student quota: %w", err))
	}
	return &quota, nil
}

func (s *bookingStore) SaveQuota(ctx context.Context, quota *models.StudentQuota) error {
	quota.UpdatedAt = time.Now().UTC()
	const query = `UPDATE student_quotas SET service_level = :service_level, meetings_used = :meetings_used, last_reset_at = :last_reset_at, updated_at = :updated_at WHERE student_id = :student_id`
	if _, err := s.tx.NamedExecContext(ctx, query, quota); err != nil {
		return mapDBError(fmt.Errorf("save student quota: %w", err))
	}
	return nil
}

// InsertAppointment writes the appointment row. A violation of the active slot
// index means another booking for the same (teacher, instant) committed first;
// it surfaces as SLOT_TAKEN.
func (s *bookingStore) InsertAppointment(ctx context.Context, appt *models.Appointment) error {
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = now
	}
	appt.UpdatedAt = now

	const query = `INSERT INTO appointments (id, teacher_id, student_id, subject, start_at, duration_minutes, status, idempotency_key, created_at, updated_at) VALUES (:id, :teacher_id, :student_id, :subject, :start_at, :duration_minutes, :status, :idempotency_key, :created_at, :updated_at)`
	if _, err := s.tx.NamedExecContext(ctx, query, appt); err != nil {
		if isUniqueViolation(err, slotConstraint) {
			return appErrors.Clone(appErrors.ErrSlotTaken, "")
		}
		if isUniqueViolation(err, "idempotency_key") {
			return appErrors.Clone(appErrors.ErrIdempotentConflict, "")
		}
		return mapDBError(fmt.Errorf("insert appointment: %w", err))
	}
	return nil
}

func (s *bookingStore) InsertNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.Status == "" {
		n.Status = models.NotificationPending
	}

	const query = `INSERT INTO notifications (id, kind, recipient, payload, status, attempts, created_at) VALUES (:id, :kind, :recipient, :payload, :status, :attempts, :created_at)`
	if _, err := s.tx.NamedExecContext(ctx, query, n); err != nil {
		return mapDBError(fmt.Errorf("insert notification: %w", err))
	}
	return nil
}
