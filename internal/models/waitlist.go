package models

import "time"

// WaitlistStatus enumerates waitlist entry states.
type WaitlistStatus string

const (
	WaitlistActive   WaitlistStatus = "active"
	WaitlistExpired  WaitlistStatus = "expired"
	WaitlistPromoted WaitlistStatus = "promoted"
)

// WaitlistEntry queues a student for a slot that is currently unavailable.
// Ordering within a slot is FIFO by CreatedAt, ties broken by ID. Only one
// active entry may exist per (teacher, student, slot).
type WaitlistEntry struct {
	ID        string         `db:"id" json:"id"`
	TeacherID string         `db:"teacher_id" json:"teacher_id"`
	StudentID string         `db:"student_id" json:"student_id"`
	SlotStart time.Time      `db:"slot_start" json:"slot_start"`
	Status    WaitlistStatus `db:"status" json:"status"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	ExpiresAt time.Time      `db:"expires_at" json:"expires_at"`
}
