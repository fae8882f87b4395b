package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/meetwise/booking-api/internal/models"
	"github.com/meetwise/booking-api/pkg/config"
	appErrors "github.com/meetwise/booking-api/pkg/errors"
)

type waitlistRepository interface {
	Insert(ctx context.Context, entry *models.WaitlistEntry) error
	FindActive(ctx context.Context, teacherID, studentID string, slotStart time.Time) (*models.WaitlistEntry, error)
	FindEarliestActive(ctx context.Context, teacherID string, slotStart time.Time) (*models.WaitlistEntry, error)
	CountActiveAhead(ctx context.Context, entry *models.WaitlistEntry) (int, error)
	MarkPromoted(ctx context.Context, id string) error
	MarkExpired(ctx context.Context, id string) (bool, error)
	ListActiveDue(ctx context.Context, now time.Time, limit int) ([]models.WaitlistEntry, error)
}

type appointmentCreator interface {
	CreateAppointment(ctx context.Context, req CreateAppointmentRequest) (*models.Appointment, error)
}

// WaitlistService queues students for occupied slots and promotes the head of
// the queue when a slot frees up. Promotion books through the regular booking
// path with a deterministic idempotency key derived from the entry, so a
// promotion retried after a crash cannot double-book.
type WaitlistService struct {
	repo     waitlistRepository
	bookings appointmentCreator
	outbox   outboxEnqueuer
	cfg      config.WaitlistConfig
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

// NewWaitlistService instantiates WaitlistService.
func NewWaitlistService(repo waitlistRepository, bookings appointmentCreator, outbox outboxEnqueuer, cfg config.WaitlistConfig, logger *zap.Logger) *WaitlistService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WaitlistService{
		repo:     repo,
		bookings: bookings,
		outbox:   outbox,
		cfg:      cfg,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
}

// JoinRequest asks to queue for a slot.
type JoinRequest struct {
	TeacherID string    `json:"teacher_id" validate:"required"`
	StudentID string    `json:"student_id" validate:"required"`
	SlotStart time.Time `json:"slot_start" validate:"required"`
}

// Join appends the student to the slot's queue. A student may hold at most
// one active entry per (teacher, slot); a duplicate join fails with CONFLICT.
func (s *WaitlistService) Join(ctx context.Context, req JoinRequest) (*models.WaitlistEntry, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	slotStart := req.SlotStart.UTC()
	if !slotStart.After(s.now().UTC()) {
		return nil, appErrors.Clone(appErrors.ErrBadRequest, "slot_start must be in the future")
	}

	entry := &models.WaitlistEntry{
		TeacherID: req.TeacherID,
		StudentID: req.StudentID,
		SlotStart: slotStart,
		Status:    models.WaitlistActive,
		ExpiresAt: slotStart,
	}
	if err := s.repo.Insert(ctx, entry); err != nil {
		return nil, err
	}

	s.logger.Info("student waitlisted",
		zap.String("entry_id", entry.ID),
		zap.String("teacher_id", req.TeacherID),
		zap.String("student_id", req.StudentID),
		zap.Time("slot_start", slotStart))
	return entry, nil
}

// Position returns the student's 1-based place in the slot's queue, or nil
// when the student holds no active entry for it.
func (s *WaitlistService) Position(ctx context.Context, teacherID, studentID string, slotStart time.Time) (*int, error) {
	entry, err := s.repo.FindActive(ctx, teacherID, studentID, slotStart.UTC())
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	ahead, err := s.repo.CountActiveAhead(ctx, entry)
	if err != nil {
		return nil, err
	}
	position := ahead + 1
	return &position, nil
}

// PromoteHead attempts to book the freed slot for the earliest active entry.
// A failed booking attempt leaves the entry active so a later free-up can
// retry it. Returns the promoted entry, or nil when the queue is empty or the
// head could not be booked.
func (s *WaitlistService) PromoteHead(ctx context.Context, teacherID string, slotStart time.Time) (*models.WaitlistEntry, error) {
	slotStart = slotStart.UTC()
	entry, err := s.repo.FindEarliestActive(ctx, teacherID, slotStart)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}

	_, err = s.bookings.CreateAppointment(ctx, CreateAppointmentRequest{
		StudentID:      entry.StudentID,
		TeacherID:      entry.TeacherID,
		Subject:        "Waitlist promotion",
		StartAt:        entry.SlotStart,
		IdempotencyKey: promotionKey(entry.ID),
	})
	if err != nil {
		s.logger.Info("waitlist promotion attempt failed",
			zap.String("entry_id", entry.ID),
			zap.String("teacher_id", teacherID),
			zap.Time("slot_start", slotStart),
			zap.Error(err))
		return nil, nil
	}

	if err := s.repo.MarkPromoted(ctx, entry.ID); err != nil {
		// The booking committed; replaying the promotion reuses the
		// same idempotency key and only flips the entry status.
		s.logger.Error("mark waitlist entry promoted failed",
			zap.String("entry_id", entry.ID), zap.Error(err))
		return nil, err
	}

	if err := s.outbox.Enqueue(ctx, waitlistNotification(models.NotifyWaitlistPromoted, entry)); err != nil {
		s.logger.Warn("enqueue promotion notification failed",
			zap.String("entry_id", entry.ID), zap.Error(err))
	}

	s.logger.Info("waitlist entry promoted",
		zap.String("entry_id", entry.ID),
		zap.String("student_id", entry.StudentID),
		zap.Time("slot_start", entry.SlotStart))
	return entry, nil
}

// ExpireDue flips up to limit active entries whose slot has started to
// expired. Entries promoted or expired concurrently are skipped.
func (s *WaitlistService) ExpireDue(ctx context.Context, limit int) (*models.BatchResult, error) {
	if limit <= 0 || limit > s.cfg.MaxBatchSize {
		limit = s.cfg.MaxBatchSize
	}
	due, err := s.repo.ListActiveDue(ctx, s.now().UTC(), limit)
	if err != nil {
		return nil, err
	}

	result := &models.BatchResult{}
	for _, entry := range due {
		flipped, err := s.repo.MarkExpired(ctx, entry.ID)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("entry %s: %v", entry.ID, err))
			continue
		}
		if !flipped {
			continue
		}
		result.Processed++
		if err := s.outbox.Enqueue(ctx, waitlistNotification(models.NotifyWaitlistExpired, &entry)); err != nil {
			s.logger.Warn("enqueue waitlist expiry notification failed",
				zap.String("entry_id", entry.ID), zap.Error(err))
		}
	}

	s.logger.Info("waitlist expiry batch finished",
		zap.Int("processed", result.Processed),
		zap.Int("failed", result.Failed))
	return result, nil
}

func promotionKey(entryID string) string {
	return "waitlist-" + entryID
}

func waitlistNotification(kind string, entry *models.WaitlistEntry) *models.Notification {
	payload, _ := json.Marshal(map[string]interface{}{
		"entry_id":   entry.ID,
		"teacher_id": entry.TeacherID,
		"student_id": entry.StudentID,
		"slot_start": entry.SlotStart,
	})
	return &models.Notification{
		Kind:      kind,
		Recipient: entry.StudentID,
		Payload:   payload,
	}
}
