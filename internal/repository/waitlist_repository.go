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

const waitlistColumns = "id, teacher_id, student_id, slot_start, status, created_at, expires_at"

// waitlistConstraint is the partial unique index guaranteeing at most one
// active entry per (teacher_id, student_id, slot_start).
const waitlistConstraint = "ux_waitlist_active_entry"

// WaitlistRepository persists waitlist entries for full slots.
type WaitlistRepository struct {
	db *sqlx.DB
}

// NewWaitlistRepository creates a new waitlist repository.
func NewWaitlistRepository(db *sqlx.DB) *WaitlistRepository {
	return &WaitlistRepository{db: db}
}

// Insert stores a new active entry. A duplicate active entry for the same
// (teacher, student, slot) fails with a conflict.
func (r *WaitlistRepository) Insert(ctx context.Context, entry *models.WaitlistEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Status == "" {
		entry.Status = models.WaitlistActive
	}
	if entry.ExpiresAt.IsZero() {
		entry.ExpiresAt = entry.SlotStart
	}

	const query = `INSERT INTO waitlist_entries (id, teacher_id, student_id, slot_start, status, created_at, expires_at) VALUES (:id, :teacher_id, :student_id, :slot_start, :status, :created_at, :expires_at)`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		if isUniqueViolation(err, waitlistConstraint) {
			return appErrors.Clone(appErrors.ErrConflict, "student already waitlisted for this slot")
		}
		return mapDBError(fmt.Errorf("insert waitlist entry: %w", err))
	}
	return nil
}

// FindActive loads the active entry for a (teacher, student, slot) triple.
func (r *WaitlistRepository) FindActive(ctx context.Context, teacherID, studentID string, slotStart time.Time) (*models.WaitlistEntry, error) {
	query := fmt.Sprintf("SELECT %s FROM waitlist_entries WHERE teacher_id = $1 AND student_id = $2 AND slot_start = $3 AND status = 'active'", waitlistColumns)
	var entry models.WaitlistEntry
	if err := r.db.GetContext(ctx, &entry, query, teacherID, studentID, slotStart); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapDBError(fmt.Errorf("find active waitlist entry: %w", err))
	}
	return &entry, nil
}

// FindEarliestActive returns the head of the FIFO queue for a slot, or nil.
// Ties on created_at break by entry id.
func (r *WaitlistRepository) FindEarliestActive(ctx context.Context, teacherID string, slotStart time.Time) (*models.WaitlistEntry, error) {
	query := fmt.Sprintf("SELECT %s FROM waitlist_entries WHERE teacher_id = $1 AND slot_start = $2 AND status = 'active' ORDER BY created_at ASC, id ASC LIMIT 1", waitlistColumns)
	var entry models.WaitlistEntry
	if err := r.db.GetContext(ctx, &entry, query, teacherID, slotStart); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapDBError(fmt.Errorf("find earliest waitlist entry: %w", err))
	}
	return &entry, nil
}

// CountActiveAhead counts active entries for the same slot created strictly
// before the given entry, with id as tiebreaker.
func (r *WaitlistRepository) CountActiveAhead(ctx context.Context, entry *models.WaitlistEntry) (int, error) {
	const query = `SELECT COUNT(*) FROM waitlist_entries WHERE teacher_id = $1 AND slot_start = $2 AND status = 'active' AND (created_at < $3 OR (created_at = $3 AND id < $4))`
	var count int
	if err := r.db.GetContext(ctx, &count, query, entry.TeacherID, entry.SlotStart, entry.CreatedAt, entry.ID); err != nil {
		return 0, mapDBError(fmt.Errorf("count waitlist entries ahead: %w", err))
	}
	return count, nil
}

// MarkPromoted transitions an active entry to promoted.
func (r *WaitlistRepository) MarkPromoted(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE waitlist_entries SET status = 'promoted' WHERE id = $1 AND status = 'active'`, id)
	if err != nil {
		return mapDBError(fmt.Errorf("promote waitlist entry: %w", err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return appErrors.Clone(appErrors.ErrStateConflict, "waitlist entry is not active")
	}
	return nil
}

// MarkExpired transitions an active entry to expired. Returns false when the
// entry was already expired or promoted, keeping the sweep idempotent.
func (r *WaitlistRepository) MarkExpired(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE waitlist_entries SET status = 'expired' WHERE id = $1 AND status = 'active'`, id)
	if err != nil {
		return false, mapDBError(fmt.Errorf("expire waitlist entry: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, mapDBError(fmt.Errorf("expire waitlist entry rows: %w", err))
	}
	return n > 0, nil
}

// ListActiveDue returns up to limit active entries whose slot start has
// passed, oldest first.
func (r *WaitlistRepository) ListActiveDue(ctx context.Context, now time.Time, limit int) ([]models.WaitlistEntry, error) {
	query := fmt.Sprintf("SELECT %s FROM waitlist_entries WHERE status = 'active' AND slot_start < $1 ORDER BY slot_start ASC, created_at ASC LIMIT $2", waitlistColumns)
	var entries []models.WaitlistEntry
	if err := r.db.SelectContext(ctx, &entries, query, now, limit); err != nil {
		return nil, mapDBError(fmt.Errorf("list due waitlist entries: %w", err))
	}
	return entries, nil
}
