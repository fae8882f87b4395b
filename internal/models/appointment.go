package models

import "time"

// AppointmentStatus enumerates the appointment lifecycle.
type AppointmentStatus string

const (
	AppointmentPending   AppointmentStatus = "pending"
	AppointmentApproved  AppointmentStatus = "approved"
	AppointmentRejected  AppointmentStatus = "rejected"
	AppointmentCompleted AppointmentStatus = "completed"
	AppointmentCancelled AppointmentStatus = "cancelled"
	AppointmentNoShow    AppointmentStatus = "no_show"
	AppointmentExpired   AppointmentStatus = "expired"
)

// ActiveAppointmentStatuses are the statuses that occupy a slot.
var ActiveAppointmentStatuses = []AppointmentStatus{AppointmentPending, AppointmentApproved}

// appointmentTransitions encodes the legal status moves. Expiry is handled
// separately: any non-terminal status may expire once its start passes.
var appointmentTransitions = map[AppointmentStatus][]AppointmentStatus{
	AppointmentPending:  {AppointmentApproved, AppointmentRejected, AppointmentCancelled},
	AppointmentApproved: {AppointmentCompleted, AppointmentCancelled, AppointmentNoShow},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to AppointmentStatus) bool {
	if to == AppointmentExpired {
		return !IsTerminal(from)
	}
	for _, next := range appointmentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status closes the appointment.
func IsTerminal(status AppointmentStatus) bool {
	switch status {
	case AppointmentCompleted, AppointmentCancelled, AppointmentRejected, AppointmentNoShow, AppointmentExpired:
		return true
	}
	return false
}

// Appointment is a booked meeting between a student and a teacher.
// StartAt is a UTC instant. At most one appointment per (teacher_id, start_at)
// may hold an active status; the store enforces this with a partial unique
// index over the active status subset.
type Appointment struct {
	ID              string            `db:"id" json:"id"`
	TeacherID       string            `db:"teacher_id" json:"teacher_id"`
	StudentID       string            `db:"student_id" json:"student_id"`
	Subject         string            `db:"subject" json:"subject"`
	StartAt         time.Time         `db:"start_at" json:"start_at"`
	DurationMinutes int               `db:"duration_minutes" json:"duration_minutes"`
	Status          AppointmentStatus `db:"status" json:"status"`
	IdempotencyKey  string            `db:"idempotency_key" json:"idempotency_key"`
	CreatedAt       time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time         `db:"updated_at" json:"updated_at"`
}

// EndAt returns the half-open end instant of the appointment interval.
func (a Appointment) EndAt() time.Time {
	return a.StartAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// AppointmentFilter describes query params for listing appointments.
type AppointmentFilter struct {
	TeacherID string
	StudentID string
	Status    AppointmentStatus
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// BatchResult summarises a bounded maintenance batch. Per-item failures are
// collected rather than aborting the batch.
type BatchResult struct {
	Processed int      `json:"processed"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}
