package models

import "time"

// NotificationStatus enumerates outbox delivery states.
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// Notification kinds emitted by the engine.
const (
	NotifyBookingCreated    = "booking_created"
	NotifyBookingApproved   = "booking_approved"
	NotifyBookingRejected   = "booking_rejected"
	NotifyBookingCancelled  = "booking_cancelled"
	NotifyWaitlistPromoted  = "waitlist_promoted"
	NotifyWaitlistExpired   = "waitlist_expired"
	NotifyAppointmentExpiry = "appointment_expired"
)

// Notification is an outbox row written in the same transaction as the state
// change that produced it, then dispatched asynchronously. Delivery is
// best-effort and never blocks or reverts the committed transition.
type Notification struct {
	ID        string             `db:"id" json:"id"`
	Kind      string             `db:"kind" json:"kind"`
	Recipient string             `db:"recipient" json:"recipient"`
	Payload   []byte             `db:"payload" json:"payload"`
	Status    NotificationStatus `db:"status" json:"status"`
	Attempts  int                `db:"attempts" json:"attempts"`
	LastError *string            `db:"last_error" json:"last_error,omitempty"`
	CreatedAt time.Time          `db:"created_at" json:"created_at"`
	SentAt    *time.Time         `db:"sent_at" json:"sent_at,omitempty"`
}
