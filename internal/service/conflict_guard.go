package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/meetwise/booking-api/internal/models"
	appErrors "github.com/meetwise/booking-api/pkg/errors"
)

type conflictAppointmentReader interface {
	ListActiveOverlapping(ctx context.Context, teacherID string, from, to time.Time) ([]models.Appointment, error)
}

type conflictBlockedReader interface {
	ListBlockedOverlapping(ctx context.Context, teacherID string, from, to time.Time) ([]models.BlockedInterval, error)
}

// ConflictGuard answers whether a candidate slot is free for a teacher given
// existing active appointments, buffer spacing and blocked intervals. All
// checks are pure reads and safe to run unsynchronized; the authoritative
// re-check during booking runs the same logic against transaction-scoped
// reads.
type ConflictGuard struct {
	appointments conflictAppointmentReader
	blocked      conflictBlockedReader
	logger       *zap.Logger
}

// NewConflictGuard instantiates ConflictGuard.
func NewConflictGuard(appointments conflictAppointmentReader, blocked conflictBlockedReader, logger *zap.Logger) *ConflictGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConflictGuard{appointments: appointments, blocked: blocked, logger: logger}
}

// IsAvailable reports whether [start, start+duration) is bookable for the
// teacher under the given buffer policy.
func (g *ConflictGuard) IsAvailable(ctx context.Context, teacherID string, start time.Time, durationMinutes, bufferMinutes int) (bool, error) {
	if durationMinutes <= 0 {
		return false, appErrors.Clone(appErrors.ErrBadRequest, "duration must be positive")
	}
	duration := time.Duration(durationMinutes) * time.Minute
	buffer := time.Duration(bufferMinutes) * time.Minute
	end := start.Add(duration)

	appts, err := g.appointments.ListActiveOverlapping(ctx, teacherID, start.Add(-buffer), end.Add(buffer))
	if err != nil {
		return false, err
	}
	blocked, err := g.blocked.ListBlockedOverlapping(ctx, teacherID, start, end)
	if err != nil {
		return false, err
	}

	return SlotAvailable(appts, blocked, start, duration, buffer), nil
}

// SlotAvailable applies the conflict rules to preloaded data. Intervals are
// half-open; the buffer is the minimum idle gap required between a candidate
// and an existing appointment, so a candidate starting exactly at
// appointment-end + buffer does not conflict. Blocked intervals carry no
// buffer.
func SlotAvailable(appts []models.Appointment, blocked []models.BlockedInterval, start time.Time, duration, buffer time.Duration) bool {
	if firstConflicting(appts, start, start.Add(duration), buffer) != nil {
		return false
	}
	return !overlapsBlocked(blocked, start, start.Add(duration))
}

// firstConflicting returns the earliest appointment whose interval is closer
// than buffer to [start, end), or nil.
func firstConflicting(appts []models.Appointment, start, end time.Time, buffer time.Duration) *models.Appointment {
	for i := range appts {
		appt := appts[i]
		if start.Before(appt.EndAt().Add(buffer)) && appt.StartAt.Before(end.Add(buffer)) {
			return &appt
		}
	}
	return nil
}

func overlapsBlocked(blocked []models.BlockedInterval, start, end time.Time) bool {
	for _, b := range blocked {
		if start.Before(b.EndAt) && b.StartAt.Before(end) {
			return true
		}
	}
	return false
}
