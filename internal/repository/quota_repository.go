package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/meetwise/booking-api/internal/models"
)

const quotaColumns = "student_id, service_level, meetings_used, last_reset_at, updated_at"

// QuotaRepository persists student quota state outside the booking
// transaction (reads and the eager batch reset path).
type QuotaRepository struct {
	db *sqlx.DB
}

// NewQuotaRepository creates a new quota repository.
func NewQuotaRepository(db *sqlx.DB) *QuotaRepository {
	return &QuotaRepository{db: db}
}

// Find loads a student's quota state, nil when the student has no row yet.
func (r *QuotaRepository) Find(ctx context.Context, studentID string) (*models.StudentQuota, error) {
	query := fmt.Sprintf("SELECT %s FROM student_quotas WHERE student_id = $1", quotaColumns)
	var quota models.StudentQuota
	if err := r.db.GetContext(ctx, &quota, query, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapDBError(fmt.Errorf("find student quota: %w", err))
	}
	return &quota, nil
}

// Upsert creates or replaces a student's quota row.
func (r *QuotaRepository) Upsert(ctx context.Context, quota *models.StudentQuota) error {
	quota.UpdatedAt = time.Now().UTC()
	const query = `INSERT INTO student_quotas (student_id, service_level, meetings_used, last_reset_at, updated_at) VALUES (:student_id, :service_level, :meetings_used, :last_reset_at, :updated_at) ON CONFLICT (student_id) DO UPDATE SET service_level = EXCLUDED.service_level, meetings_used = EXCLUDED.meetings_used, last_reset_at = EXCLUDED.last_reset_at, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, quota); err != nil {
		return mapDBError(fmt.Errorf("upsert student quota: %w", err))
	}
	return nil
}

// ListStale returns up to limit students whose last reset predates the given
// first-of-month marker.
func (r *QuotaRepository) ListStale(ctx context.Context, firstOfMonth time.Time, limit int) ([]models.StudentQuota, error) {
	query := fmt.Sprintf("SELECT %s FROM student_quotas WHERE last_reset_at < $1 ORDER BY last_reset_at ASC LIMIT $2", quotaColumns)
	var quotas []models.StudentQuota
	if err := r.db.SelectContext(ctx, &quotas, query, firstOfMonth, limit); err != nil {
		return nil, mapDBError(fmt.Errorf("list stale quotas: %w", err))
	}
	return quotas, nil
}

// Reset zeroes the counter and advances the marker, guarded so a concurrent
// lazy reset for the same month wins only once.
func (r *QuotaRepository) Reset(ctx context.Context, studentID string, firstOfMonth time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE student_quotas SET meetings_used = 0, last_reset_at = $2, updated_at = $3 WHERE student_id = $1 AND last_reset_at < $2`, studentID, firstOfMonth, time.Now().UTC())
	if err != nil {
		return false, mapDBError(fmt.Errorf("reset student quota: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, mapDBError(fmt.Errorf("reset student quota rows: %w", err))
	}
	return n > 0, nil
}

// ForceReset zeroes the counter regardless of the marker.
func (r *QuotaRepository) ForceReset(ctx context.Context, studentID string, firstOfMonth time.Time) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE student_quotas SET meetings_used = 0, last_reset_at = $2, updated_at = $3 WHERE student_id = $1`, studentID, firstOfMonth, time.Now().UTC()); err != nil {
		return mapDBError(fmt.Errorf("force reset student quota: %w", err))
	}
	return nil
}

// ListAll returns every quota row, page by page, for the forced batch reset.
func (r *QuotaRepository) ListAll(ctx context.Context, limit, offset int) ([]models.StudentQuota, error) {
	query := fmt.Sprintf("SELECT %s FROM student_quotas ORDER BY student_id ASC LIMIT $1 OFFSET $2", quotaColumns)
	var quotas []models.StudentQuota
	if err := r.db.SelectContext(ctx, &quotas, query, limit, offset); err != nil {
		return nil, mapDBError(fmt.Errorf("list quotas: %w", err))
	}
	return quotas, nil
}
