package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/meetwise/booking-api/internal/models"
)

const notificationColumns = "id, kind, recipient, payload, status, attempts, last_error, created_at, sent_at"

// OutboxRepository persists notification rows outside the booking
// transaction and drives the dispatcher's claim/ack cycle.
type OutboxRepository struct {
	db *sqlx.DB
}

// NewOutboxRepository creates a new outbox repository.
func NewOutboxRepository(db *sqlx.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Enqueue stores a pending notification.
func (r *OutboxRepository) Enqueue(ctx context.Context, n *models.Notification) error {
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
	if _, err := r.db.NamedExecContext(ctx, query, n); err != nil {
		return mapDBError(fmt.Errorf("enqueue notification: %w", err))
	}
	return nil
}

// ListPending returns up to limit undelivered notifications, oldest first.
func (r *OutboxRepository) ListPending(ctx context.Context, limit int) ([]models.Notification, error) {
	query := fmt.Sprintf("SELECT %s FROM notifications WHERE status = 'pending' ORDER BY created_at ASC LIMIT $1", notificationColumns)
	var notifications []models.Notification
	if err := r.db.SelectContext(ctx, &notifications, query, limit); err != nil {
		return nil, mapDBError(fmt.Errorf("list pending notifications: %w", err))
	}
	return notifications, nil
}

// MarkSent records successful delivery.
func (r *OutboxRepository) MarkSent(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE notifications SET status = 'sent', sent_at = $2, attempts = attempts + 1 WHERE id = $1`, id, time.Now().UTC()); err != nil {
		return mapDBError(fmt.Errorf("mark notification sent: %w", err))
	}
	return nil
}

// MarkFailed records a delivery failure, flipping to failed once attempts
// exhaust maxAttempts.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id, reason string, maxAttempts int) error {
	const query = `UPDATE notifications SET attempts = attempts + 1, last_error = $2, status = CASE WHEN attempts + 1 >= $3 THEN 'failed' ELSE 'pending' END WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, reason, maxAttempts); err != nil {
		return mapDBError(fmt.Errorf("mark notification failed: %w", err))
	}
	return nil
}
