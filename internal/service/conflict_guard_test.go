package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetwise/booking-api/internal/models"
)

func appt(start string, durationMinutes int) models.Appointment {
	t, err := time.Parse(time.RFC3339, start)
	if err != nil {
		panic(err)
	}
	return models.Appointment{
		StartAt:         t.UTC(),
		DurationMinutes: durationMinutes,
		Status:          models.AppointmentApproved,
	}
}

func at(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func TestSlotAvailableAdjacentWithoutBuffer(t *testing.T) {
	existing := []models.Appointment{appt("2030-06-03T09:00:00Z", 30)}

	// Half-open intervals: back-to-back slots do not conflict.
	assert.True(t, SlotAvailable(existing, nil, at("2030-06-03T09:30:00Z"), 30*time.Minute, 0))
	assert.True(t, SlotAvailable(existing, nil, at("2030-06-03T08:30:00Z"), 30*time.Minute, 0))
	assert.False(t, SlotAvailable(existing, nil, at("2030-06-03T09:15:00Z"), 30*time.Minute, 0))
	assert.False(t, SlotAvailable(existing, nil, at("2030-06-03T08:45:00Z"), 30*time.Minute, 0))
}

func TestSlotAvailableBufferSeparation(t *testing.T) {
	existing := []models.Appointment{appt("2030-06-03T09:00:00Z", 30)}
	buffer := 15 * time.Minute

	// A candidate must leave a full buffer gap on either side.
	assert.False(t, SlotAvailable(existing, nil, at("2030-06-03T09:30:00Z"), 30*time.Minute, buffer))
	assert.False(t, SlotAvailable(existing, nil, at("2030-06-03T09:40:00Z"), 30*time.Minute, buffer))
	assert.True(t, SlotAvailable(existing, nil, at("2030-06-03T09:45:00Z"), 30*time.Minute, buffer))
	assert.True(t, SlotAvailable(existing, nil, at("2030-06-03T08:15:00Z"), 30*time.Minute, buffer))
	assert.False(t, SlotAvailable(existing, nil, at("2030-06-03T08:16:00Z"), 30*time.Minute, buffer))
}

func TestSlotAvailableExactOverlap(t *testing.T) {
	existing := []models.Appointment{appt("2030-06-03T09:00:00Z", 30)}
	assert.False(t, SlotAvailable(existing, nil, at("2030-06-03T09:00:00Z"), 30*time.Minute, 0))
}

func TestSlotAvailableBlockedIntervalNoBuffer(t *testing.T) {
	blocked := []models.BlockedInterval{{
		StartAt: at("2030-06-03T10:00:00Z"),
		EndAt:   at("2030-06-03T11:00:00Z"),
	}}

	// Blocked intervals are exact: no buffer applies around them.
	assert.False(t, SlotAvailable(nil, blocked, at("2030-06-03T10:30:00Z"), 30*time.Minute, 15*time.Minute))
	assert.True(t, SlotAvailable(nil, blocked, at("2030-06-03T11:00:00Z"), 30*time.Minute, 15*time.Minute))
	assert.True(t, SlotAvailable(nil, blocked, at("2030-06-03T09:30:00Z"), 30*time.Minute, 15*time.Minute))
}

type fakeOverlapReader struct {
	appts []models.Appointment
	err   error
}

func (f *fakeOverlapReader) ListActiveOverlapping(context.Context, string, time.Time, time.Time) ([]models.Appointment, error) {
	return f.appts, f.err
}

type fakeBlockedReader struct {
	blocked []models.BlockedInterval
	err     error
}

func (f *fakeBlockedReader) ListBlockedOverlapping(context.Context, string, time.Time, time.Time) ([]models.BlockedInterval, error) {
	return f.blocked, f.err
}

func TestConflictGuardIsAvailable(t *testing.T) {
	guard := NewConflictGuard(
		&fakeOverlapReader{appts: []models.Appointment{appt("2030-06-03T09:00:00Z", 30)}},
		&fakeBlockedReader{},
		nil,
	)

	free, err := guard.IsAvailable(context.Background(), "t1", at("2030-06-03T09:45:00Z"), 30, 15)
	require.NoError(t, err)
	assert.True(t, free)

	free, err = guard.IsAvailable(context.Background(), "t1", at("2030-06-03T09:30:00Z"), 30, 15)
	require.NoError(t, err)
	assert.False(t, free)
}

func TestConflictGuardRejectsNonPositiveDuration(t *testing.T) {
	guard := NewConflictGuard(&fakeOverlapReader{}, &fakeBlockedReader{}, nil)
	_, err := guard.IsAvailable(context.Background(), "t1", at("2030-06-03T09:00:00Z"), 0, 0)
	require.Error(t, err)
}
