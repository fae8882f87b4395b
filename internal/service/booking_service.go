package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/meetwise/booking-api/internal/models"
	"github.com/meetwise/booking-api/internal/repository"
	"github.com/meetwise/booking-api/pkg/config"
	appErrors "github.com/meetwise/booking-api/pkg/errors"
)

type bookingUnitRunner interface {
	Run(ctx context.Context, fn func(store repository.BookingStore) error) error
}

type appointmentRepository interface {
	List(ctx context.Context, filter models.AppointmentFilter) ([]models.Appointment, int, error)
	FindByID(ctx context.Context, id string) (*models.Appointment, error)
	TransitionStatus(ctx context.Context, id string, from []models.AppointmentStatus, to models.AppointmentStatus) (*models.Appointment, error)
	ListOverdueActive(ctx context.Context, now time.Time, limit int) ([]models.Appointment, error)
}

type outboxEnqueuer interface {
	Enqueue(ctx context.Context, n *models.Notification) error
}

type quotaPolicy interface {
	Evaluate(quota *models.StudentQuota, now time.Time) models.QuotaDecision
	Consume(ctx context.Context, studentID string) (models.QuotaDecision, error)
}

type bookingOutcomeRecorder interface {
	RecordBookingOutcome(outcome string)
}

// SlotFreedHandler is invoked after a commit releases an active slot, giving
// the waitlist a chance to promote its head entry.
type SlotFreedHandler func(ctx context.Context, teacherID string, slotStart time.Time)

// BookingService implements the appointment lifecycle. Creation runs inside a
// single database transaction that re-checks availability, consumes quota and
// inserts the appointment plus its notification outbox row, so concurrent
// requests for the same slot serialize on the store's unique index and at
// most one succeeds.
type BookingService struct {
	unit         bookingUnitRunner
	teachers     teacherReader
	appointments appointmentRepository
	outbox       outboxEnqueuer
	quota        quotaPolicy
	slotCache    *SlotCacheService
	metrics      bookingOutcomeRecorder
	cfg          config.BookingConfig
	validate     *validator.Validate
	logger       *zap.Logger
	now          func() time.Time

	slotFreed SlotFreedHandler
	notify    func()
}

// NewBookingService instantiates BookingService.
func NewBookingService(unit bookingUnitRunner, teachers teacherReader, appointments appointmentRepository, outbox outboxEnqueuer, quota quotaPolicy, slotCache *SlotCacheService, metrics bookingOutcomeRecorder, cfg config.BookingConfig, logger *zap.Logger) *BookingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BookingService{
		unit:         unit,
		teachers:     teachers,
		appointments: appointments,
		outbox:       outbox,
		quota:        quota,
		slotCache:    slotCache,
		metrics:      metrics,
		cfg:          cfg,
		validate:     validator.New(),
		logger:       logger,
		now:          time.Now,
	}
}

// OnSlotFreed registers the handler called when a cancellation or rejection
// frees a future slot. Wired after construction to avoid a dependency cycle
// with the waitlist.
func (s *BookingService) OnSlotFreed(h SlotFreedHandler) {
	s.slotFreed = h
}

// OnNotificationEnqueued registers a callback that nudges the outbox
// dispatcher after a commit produced new notifications.
func (s *BookingService) OnNotificationEnqueued(fn func()) {
	s.notify = fn
}

// CreateAppointmentRequest is the booking payload.
type CreateAppointmentRequest struct {
	StudentID       string    `json:"student_id" validate:"required"`
	TeacherID       string    `json:"teacher_id" validate:"required"`
	Subject         string    `json:"subject" validate:"max=200"`
	StartAt         time.Time `json:"start_at" validate:"required"`
	DurationMinutes int       `json:"duration_minutes"`
	IdempotencyKey  string    `json:"idempotency_key" validate:"required,max=128"`
}

// CreateAppointment books a slot. Replaying the same idempotency key with the
// same parameters returns the original appointment without side effects; the
// same key with different parameters fails with IDEMPOTENT_CONFLICT.
func (s *BookingService) CreateAppointment(ctx context.Context, req CreateAppointmentRequest) (*models.Appointment, error) {
	if err := s.validate.Struct(req); err != nil {
		s.recordOutcome("invalid")
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	if req.DurationMinutes == 0 {
		req.DurationMinutes = s.cfg.DefaultDurationMinutes
	}
	if req.DurationMinutes <= 0 || req.DurationMinutes > s.cfg.MaxDurationMinutes {
		s.recordOutcome("invalid")
		return nil, appErrors.Clone(appErrors.ErrBadRequest,
			fmt.Sprintf("duration must be between 1 and %d minutes", s.cfg.MaxDurationMinutes))
	}

	now := s.now().UTC()
	start := req.StartAt.UTC()

	teacher, err := s.requireActiveTeacher(ctx, req.TeacherID)
	if err != nil {
		s.recordOutcome("teacher_not_found")
		return nil, err
	}

	duration := time.Duration(req.DurationMinutes) * time.Minute
	buffer := time.Duration(teacher.BufferMinutes) * time.Minute
	end := start.Add(duration)

	var (
		appointment *models.Appointment
		replayed    bool
	)
	err = s.unit.Run(ctx, func(store repository.BookingStore) error {
		existing, err := store.FindByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return err
		}
		if existing != nil {
			if !matchesRequest(existing, req, start) {
				return appErrors.Clone(appErrors.ErrIdempotentConflict, "")
			}
			appointment = existing
			replayed = true
			return nil
		}

		// Only a fresh booking must start in the future. A replay of a key
		// whose slot has since begun still returns the original appointment.
		if !start.After(now) {
			return appErrors.Clone(appErrors.ErrBadRequest, "start_at must be in the future")
		}

		appts, err := store.ListActiveOverlapping(ctx, teacher.ID, start.Add(-buffer), end.Add(buffer))
		if err != nil {
			return err
		}
		blocked, err := store.ListBlockedOverlapping(ctx, teacher.ID, start, end)
		if err != nil {
			return err
		}
		if !SlotAvailable(appts, blocked, start, duration, buffer) {
			return appErrors.Clone(appErrors.ErrSlotTaken, "")
		}

		dayStart, dayEnd := teacherDayBounds(teacher, start)
		dayCount, err := store.CountActiveBetween(ctx, teacher.ID, dayStart, dayEnd)
		if err != nil {
			return err
		}
		if teacher.MaxDailyMeetings > 0 && dayCount >= teacher.MaxDailyMeetings {
			return appErrors.Clone(appErrors.ErrMaxDailyReached, "")
		}

		quota, err := store.QuotaForUpdate(ctx, req.StudentID)
		if err != nil {
			return err
		}
		decision := s.quota.Evaluate(quota, now)
		if !decision.Allowed {
			return appErrors.Clone(appErrors.ErrQuotaExceeded, "")
		}

		status := models.AppointmentPending
		if decision.AutoApproved {
			status = models.AppointmentApproved
		}
		appt := &models.Appointment{
			TeacherID:       teacher.ID,
			StudentID:       req.StudentID,
			Subject:         req.Subject,
			StartAt:         start,
			DurationMinutes: req.DurationMinutes,
			Status:          status,
			IdempotencyKey:  req.IdempotencyKey,
		}
		if err := store.InsertAppointment(ctx, appt); err != nil {
			return err
		}

		if status == models.AppointmentApproved {
			quota.MeetingsUsed++
		}
		if err := store.SaveQuota(ctx, quota); err != nil {
			return err
		}

		if err := store.InsertNotification(ctx, buildNotification(models.NotifyBookingCreated, appt)); err != nil {
			return err
		}

		appointment = appt
		return nil
	})
	if err != nil {
		s.recordOutcome(outcomeForError(err))
		return nil, err
	}

	if !replayed {
		s.recordOutcome("created")
		s.invalidateSlots(ctx, teacher, start)
		s.kickDispatcher()
		s.logger.Info("appointment booked",
			zap.String("appointment_id", appointment.ID),
			zap.String("teacher_id", teacher.ID),
			zap.String("student_id", req.StudentID),
			zap.Time("start_at", start),
			zap.String("status", string(appointment.Status)))
	} else {
		s.recordOutcome("replayed")
	}
	return appointment, nil
}

// Get returns a single appointment.
func (s *BookingService) Get(ctx context.Context, id string) (*models.Appointment, error) {
	appt, err := s.appointments.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "appointment not found")
		}
		return nil, err
	}
	return appt, nil
}

// List returns appointments matching the filter plus a total count.
func (s *BookingService) List(ctx context.Context, filter models.AppointmentFilter) ([]models.Appointment, int, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	return s.appointments.List(ctx, filter)
}

// Approve moves a pending appointment to approved and records the quota
// consumption the pending booking deferred.
func (s *BookingService) Approve(ctx context.Context, id string) (*models.Appointment, error) {
	appt, err := s.appointments.TransitionStatus(ctx, id, []models.AppointmentStatus{models.AppointmentPending}, models.AppointmentApproved)
	if err != nil {
		return nil, err
	}

	if _, err := s.quota.Consume(ctx, appt.StudentID); err != nil {
		// Approval already committed; a quota bookkeeping failure is
		// logged rather than reverting the teacher's decision.
		s.logger.Warn("quota consume after approval failed",
			zap.String("appointment_id", appt.ID),
			zap.String("student_id", appt.StudentID),
			zap.Error(err))
	}

	s.afterTransition(ctx, appt, models.NotifyBookingApproved, false)
	return appt, nil
}

// Reject declines a pending appointment and frees its slot.
func (s *BookingService) Reject(ctx context.Context, id string) (*models.Appointment, error) {
	appt, err := s.appointments.TransitionStatus(ctx, id, []models.AppointmentStatus{models.AppointmentPending}, models.AppointmentRejected)
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, appt, models.NotifyBookingRejected, true)
	return appt, nil
}

// Cancel withdraws a pending or approved appointment and frees its slot.
func (s *BookingService) Cancel(ctx context.Context, id string) (*models.Appointment, error) {
	appt, err := s.appointments.TransitionStatus(ctx, id, models.ActiveAppointmentStatuses, models.AppointmentCancelled)
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, appt, models.NotifyBookingCancelled, true)
	return appt, nil
}

// Complete closes an approved appointment after it took place.
func (s *BookingService) Complete(ctx context.Context, id string) (*models.Appointment, error) {
	return s.appointments.TransitionStatus(ctx, id, []models.AppointmentStatus{models.AppointmentApproved}, models.AppointmentCompleted)
}

// MarkNoShow records that the student did not attend an approved appointment.
func (s *BookingService) MarkNoShow(ctx context.Context, id string) (*models.Appointment, error) {
	return s.appointments.TransitionStatus(ctx, id, []models.AppointmentStatus{models.AppointmentApproved}, models.AppointmentNoShow)
}

// ExpireOverdue flips up to limit active appointments whose start has passed
// to expired. Per-item failures are collected; an item that lost the race to
// another transition is skipped without counting as a failure.
func (s *BookingService) ExpireOverdue(ctx context.Context, limit int) (*models.BatchResult, error) {
	if limit <= 0 || limit > s.cfg.MaxBatchSize {
		limit = s.cfg.MaxBatchSize
	}
	overdue, err := s.appointments.ListOverdueActive(ctx, s.now().UTC(), limit)
	if err != nil {
		return nil, err
	}

	result := &models.BatchResult{}
	for _, appt := range overdue {
		expired, err := s.appointments.TransitionStatus(ctx, appt.ID, models.ActiveAppointmentStatuses, models.AppointmentExpired)
		if err != nil {
			if appErrors.HasCode(err, appErrors.ErrStateConflict.Code) {
				continue
			}
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("appointment %s: %v", appt.ID, err))
			continue
		}
		result.Processed++
		if err := s.outbox.Enqueue(ctx, buildNotification(models.NotifyAppointmentExpiry, expired)); err != nil {
			s.logger.Warn("enqueue expiry notification failed",
				zap.String("appointment_id", expired.ID), zap.Error(err))
		}
	}

	if result.Processed > 0 {
		s.kickDispatcher()
	}
	s.logger.Info("appointment expiry batch finished",
		zap.Int("processed", result.Processed),
		zap.Int("failed", result.Failed))
	return result, nil
}

func (s *BookingService) afterTransition(ctx context.Context, appt *models.Appointment, kind string, freesSlot bool) {
	if err := s.outbox.Enqueue(ctx, buildNotification(kind, appt)); err != nil {
		s.logger.Warn("enqueue notification failed",
			zap.String("appointment_id", appt.ID),
			zap.String("kind", kind),
			zap.Error(err))
	}
	s.kickDispatcher()

	teacher, err := s.teachers.FindByID(ctx, appt.TeacherID)
	if err != nil {
		s.logger.Warn("teacher lookup for cache invalidation failed",
			zap.String("teacher_id", appt.TeacherID), zap.Error(err))
		s.slotCache.InvalidateTeacher(ctx, appt.TeacherID)
	} else {
		s.invalidateSlots(ctx, teacher, appt.StartAt)
	}

	if freesSlot && s.slotFreed != nil && appt.StartAt.After(s.now().UTC()) {
		s.slotFreed(ctx, appt.TeacherID, appt.StartAt)
	}
}

func (s *BookingService) requireActiveTeacher(ctx context.Context, teacherID string) (*models.Teacher, error) {
	teacher, err := s.teachers.FindByID(ctx, teacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrTeacherNotFound
		}
		return nil, err
	}
	if !teacher.Active {
		return nil, appErrors.ErrTeacherNotFound
	}
	return teacher, nil
}

// invalidateSlots clears cached slot lists for the appointment's date in the
// teacher's timezone; the adjacent dates are cleared too because buffers can
// reach across local midnight.
func (s *BookingService) invalidateSlots(ctx context.Context, teacher *models.Teacher, startAt time.Time) {
	loc, err := time.LoadLocation(teacher.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := startAt.In(loc)
	s.slotCache.Invalidate(ctx, teacher.ID,
		local.AddDate(0, 0, -1).Format(dateLayout),
		local.Format(dateLayout),
		local.AddDate(0, 0, 1).Format(dateLayout))
}

func (s *BookingService) kickDispatcher() {
	if s.notify != nil {
		s.notify()
	}
}

func (s *BookingService) recordOutcome(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordBookingOutcome(outcome)
	}
}

// teacherDayBounds returns the UTC bounds of the teacher-local calendar day
// containing the instant.
func teacherDayBounds(teacher *models.Teacher, at time.Time) (time.Time, time.Time) {
	loc, err := time.LoadLocation(teacher.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := at.In(loc)
	year, month, day := local.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, loc).UTC(),
		time.Date(year, month, day+1, 0, 0, 0, 0, loc).UTC()
}

func matchesRequest(existing *models.Appointment, req CreateAppointmentRequest, start time.Time) bool {
	return existing.TeacherID == req.TeacherID &&
		existing.StudentID == req.StudentID &&
		existing.StartAt.Equal(start) &&
		existing.DurationMinutes == req.DurationMinutes
}

func buildNotification(kind string, appt *models.Appointment) *models.Notification {
	payload, _ := json.Marshal(map[string]interface{}{
		"appointment_id":   appt.ID,
		"teacher_id":       appt.TeacherID,
		"student_id":       appt.StudentID,
		"start_at":         appt.StartAt,
		"duration_minutes": appt.DurationMinutes,
		"status":           appt.Status,
	})
	return &models.Notification{
		Kind:      kind,
		Recipient: appt.StudentID,
		Payload:   payload,
	}
}

func outcomeForError(err error) string {
	switch {
	case appErrors.HasCode(err, appErrors.ErrSlotTaken.Code):
		return "slot_taken"
	case appErrors.HasCode(err, appErrors.ErrQuotaExceeded.Code):
		return "quota_exceeded"
	case appErrors.HasCode(err, appErrors.ErrMaxDailyReached.Code):
		return "max_daily_reached"
	case appErrors.HasCode(err, appErrors.ErrIdempotentConflict.Code):
		return "idempotent_conflict"
	case appErrors.HasCode(err, appErrors.ErrBadRequest.Code):
		return "invalid"
	case appErrors.HasCode(err, appErrors.ErrDBUnavailable.Code):
		return "db_unavailable"
	default:
		return "error"
	}
}
