package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/meetwise/booking-api/internal/models"
	"github.com/meetwise/booking-api/pkg/config"
	appErrors "github.com/meetwise/booking-api/pkg/errors"
)

const dateLayout = "2006-01-02"
const wallClockLayout = "15:04"

type availabilityRepository interface {
	ListWindows(ctx context.Context, teacherID string) ([]models.AvailabilityWindow, error)
	ListActiveWindowsForWeekday(ctx context.Context, teacherID string, weekday int) ([]models.AvailabilityWindow, error)
	CreateWindow(ctx context.Context, window *models.AvailabilityWindow) error
	UpdateWindow(ctx context.Context, window *models.AvailabilityWindow) error
	DeleteWindow(ctx context.Context, teacherID, id string) error
	ListBlockedOverlapping(ctx context.Context, teacherID string, from, to time.Time) ([]models.BlockedInterval, error)
	CreateBlocked(ctx context.Context, blocked *models.BlockedInterval) error
	DeleteBlocked(ctx context.Context, teacherID, id string) error
}

type slotAppointmentReader interface {
	ListActiveOverlapping(ctx context.Context, teacherID string, from, to time.Time) ([]models.Appointment, error)
	CountActiveBetween(ctx context.Context, teacherID string, from, to time.Time) (int, error)
}

type teacherReader interface {
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
}

// AvailabilityService resolves a teacher's weekly availability template into
// concrete bookable UTC slots for a calendar date, and manages the template
// itself. Wall-clock window boundaries are interpreted in the teacher's
// timezone on the requested date, so slots shift correctly across DST
// transitions.
type AvailabilityService struct {
	teachers     teacherReader
	availability availabilityRepository
	appointments slotAppointmentReader
	guard        *ConflictGuard
	slotCache    *SlotCacheService
	cfg          config.SlotsConfig
	validate     *validator.Validate
	logger       *zap.Logger
	now          func() time.Time
}

// NewAvailabilityService instantiates AvailabilityService.
func NewAvailabilityService(teachers teacherReader, availability availabilityRepository, appointments slotAppointmentReader, slotCache *SlotCacheService, cfg config.SlotsConfig, logger *zap.Logger) *AvailabilityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AvailabilityService{
		teachers:     teachers,
		availability: availability,
		appointments: appointments,
		guard:        NewConflictGuard(appointments, availability, logger),
		slotCache:    slotCache,
		cfg:          cfg,
		validate:     validator.New(),
		logger:       logger,
		now:          time.Now,
	}
}

// ListSlots returns the bookable slots for a teacher on a date. Results are
// cached per (teacher, date, duration); any schedule write invalidates the
// affected keys.
func (s *AvailabilityService) ListSlots(ctx context.Context, teacherID, date string, durationMinutes int) (*models.SlotList, error) {
	if durationMinutes == 0 {
		durationMinutes = s.cfg.DefaultDuration
	}
	if durationMinutes <= 0 || durationMinutes > 24*60 {
		return nil, appErrors.Clone(appErrors.ErrBadRequest, "invalid slot duration")
	}
	day, err := time.Parse(dateLayout, date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrBadRequest, "date must be formatted YYYY-MM-DD")
	}

	now := s.now().UTC()
	if day.After(now.AddDate(0, 0, s.cfg.MaxLookaheadDay)) {
		return nil, appErrors.Clone(appErrors.ErrBadRequest,
			fmt.Sprintf("date exceeds the %d day booking horizon", s.cfg.MaxLookaheadDay))
	}

	teacher, err := s.requireTeacher(ctx, teacherID)
	if err != nil {
		return nil, err
	}
	if !teacher.Active {
		return nil, appErrors.ErrTeacherNotFound
	}

	if cached := s.slotCache.Get(ctx, teacherID, date, durationMinutes); cached != nil {
		return cached, nil
	}

	list, err := s.computeSlots(ctx, teacher, day, durationMinutes, now)
	if err != nil {
		return nil, err
	}

	s.slotCache.Set(ctx, teacherID, date, durationMinutes, list)
	return list, nil
}

func (s *AvailabilityService) computeSlots(ctx context.Context, teacher *models.Teacher, day time.Time, durationMinutes int, now time.Time) (*models.SlotList, error) {
	loc, err := time.LoadLocation(teacher.Timezone)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status,
			fmt.Sprintf("unknown teacher timezone: %s", teacher.Timezone))
	}

	list := &models.SlotList{
		TeacherID: teacher.ID,
		Date:      day.Format(dateLayout),
		Duration:  durationMinutes,
		Slots:     []time.Time{},
	}

	year, month, dom := day.Date()
	dayStart := time.Date(year, month, dom, 0, 0, 0, 0, loc)
	dayEnd := time.Date(year, month, dom+1, 0, 0, 0, 0, loc)
	weekday := int(dayStart.Weekday())

	windows, err := s.availability.ListActiveWindowsForWeekday(ctx, teacher.ID, weekday)
	if err != nil {
		return nil, err
	}
	if len(windows) == 0 {
		return list, nil
	}

	dayCount, err := s.appointments.CountActiveBetween(ctx, teacher.ID, dayStart.UTC(), dayEnd.UTC())
	if err != nil {
		return nil, err
	}
	if teacher.MaxDailyMeetings > 0 && dayCount >= teacher.MaxDailyMeetings {
		return list, nil
	}

	duration := time.Duration(durationMinutes) * time.Minute
	buffer := time.Duration(teacher.BufferMinutes) * time.Minute

	// Query wide enough to catch appointments whose buffered interval
	// reaches into this date from either side.
	pad := buffer + 24*time.Hour
	appts, err := s.appointments.ListActiveOverlapping(ctx, teacher.ID, dayStart.UTC().Add(-pad), dayEnd.UTC().Add(buffer))
	if err != nil {
		return nil, err
	}
	blocked, err := s.availability.ListBlockedOverlapping(ctx, teacher.ID, dayStart.UTC(), dayEnd.UTC())
	if err != nil {
		return nil, err
	}

	for _, window := range windows {
		start, end, err := windowBounds(window, year, month, dom, loc)
		if err != nil {
			s.logger.Warn("skipping malformed availability window",
				zap.String("window_id", window.ID), zap.Error(err))
			continue
		}
		list.Slots = append(list.Slots, tileWindow(start, end, duration, buffer, now, appts, blocked)...)
	}

	sort.Slice(list.Slots, func(i, j int) bool { return list.Slots[i].Before(list.Slots[j]) })
	return list, nil
}

// windowBounds resolves a window's wall-clock boundaries to UTC instants on
// a specific date.
func windowBounds(window models.AvailabilityWindow, year int, month time.Month, day int, loc *time.Location) (time.Time, time.Time, error) {
	startClock, err := time.Parse(wallClockLayout, window.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse start time %q: %w", window.StartTime, err)
	}
	endClock, err := time.Parse(wallClockLayout, window.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse end time %q: %w", window.EndTime, err)
	}

	start := time.Date(year, month, day, startClock.Hour(), startClock.Minute(), 0, 0, loc).UTC()
	end := time.Date(year, month, day, endClock.Hour(), endClock.Minute(), 0, 0, loc).UTC()
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("window end %q not after start %q", window.EndTime, window.StartTime)
	}
	return start, end, nil
}

// tileWindow lays slots of the given duration greedily across [start, end).
// When a candidate collides with an active appointment the cursor jumps to
// that appointment's end plus the buffer, so the remainder of the window is
// re-tiled from the first reachable instant rather than staying on the
// original grid. Partial slots at the window end are dropped.
func tileWindow(start, end time.Time, duration, buffer time.Duration, now time.Time, appts []models.Appointment, blocked []models.BlockedInterval) []time.Time {
	var slots []time.Time
	cursor := start
	for !cursor.Add(duration).After(end) {
		slotEnd := cursor.Add(duration)

		if conflict := firstConflicting(appts, cursor, slotEnd, buffer); conflict != nil {
			next := conflict.EndAt().Add(buffer)
			if !next.After(cursor) {
				next = cursor.Add(duration)
			}
			cursor = next
			continue
		}

		if !cursor.Before(now) && !overlapsBlocked(blocked, cursor, slotEnd) {
			slots = append(slots, cursor)
		}
		cursor = cursor.Add(duration)
	}
	return slots
}

// CheckSlot reports whether one specific start instant is currently bookable
// for the teacher at the given duration. This answers the pre-booking check;
// the booking transaction re-applies the same rules under row locks.
func (s *AvailabilityService) CheckSlot(ctx context.Context, teacherID string, start time.Time, durationMinutes int) (bool, error) {
	if durationMinutes == 0 {
		durationMinutes = s.cfg.DefaultDuration
	}
	teacher, err := s.requireTeacher(ctx, teacherID)
	if err != nil {
		return false, err
	}
	if !teacher.Active {
		return false, appErrors.ErrTeacherNotFound
	}
	if !start.After(s.now().UTC()) {
		return false, nil
	}
	return s.guard.IsAvailable(ctx, teacherID, start.UTC(), durationMinutes, teacher.BufferMinutes)
}

// ListWindows returns the full weekly template for a teacher.
func (s *AvailabilityService) ListWindows(ctx context.Context, teacherID string) ([]models.AvailabilityWindow, error) {
	if _, err := s.requireTeacher(ctx, teacherID); err != nil {
		return nil, err
	}
	return s.availability.ListWindows(ctx, teacherID)
}

// CreateWindowRequest describes a new weekly availability window.
type CreateWindowRequest struct {
	TeacherID string `json:"-" validate:"required"`
	DayOfWeek int    `json:"day_of_week" validate:"min=0,max=6"`
	StartTime string `json:"start_time" validate:"required"`
	EndTime   string `json:"end_time" validate:"required"`
}

// CreateWindow adds a weekly window to the teacher's template.
func (s *AvailabilityService) CreateWindow(ctx context.Context, req CreateWindowRequest) (*models.AvailabilityWindow, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	if err := validateWallClockRange(req.StartTime, req.EndTime); err != nil {
		return nil, err
	}
	if _, err := s.requireTeacher(ctx, req.TeacherID); err != nil {
		return nil, err
	}

	window := &models.AvailabilityWindow{
		TeacherID: req.TeacherID,
		DayOfWeek: req.DayOfWeek,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Active:    true,
	}
	if err := s.availability.CreateWindow(ctx, window); err != nil {
		return nil, err
	}
	s.slotCache.InvalidateTeacher(ctx, req.TeacherID)
	return window, nil
}

// UpdateWindowRequest describes changes to a weekly window.
type UpdateWindowRequest struct {
	TeacherID string `json:"-" validate:"required"`
	WindowID  string `json:"-" validate:"required"`
	DayOfWeek int    `json:"day_of_week" validate:"min=0,max=6"`
	StartTime string `json:"start_time" validate:"required"`
	EndTime   string `json:"end_time" validate:"required"`
	Active    bool   `json:"active"`
}

// UpdateWindow rewrites an existing weekly window.
func (s *AvailabilityService) UpdateWindow(ctx context.Context, req UpdateWindowRequest) (*models.AvailabilityWindow, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	if err := validateWallClockRange(req.StartTime, req.EndTime); err != nil {
		return nil, err
	}
	if _, err := s.requireTeacher(ctx, req.TeacherID); err != nil {
		return nil, err
	}

	window := &models.AvailabilityWindow{
		ID:        req.WindowID,
		TeacherID: req.TeacherID,
		DayOfWeek: req.DayOfWeek,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Active:    req.Active,
	}
	if err := s.availability.UpdateWindow(ctx, window); err != nil {
		return nil, err
	}
	s.slotCache.InvalidateTeacher(ctx, req.TeacherID)
	return window, nil
}

// DeleteWindow removes a weekly window.
func (s *AvailabilityService) DeleteWindow(ctx context.Context, teacherID, windowID string) error {
	if err := s.availability.DeleteWindow(ctx, teacherID, windowID); err != nil {
		return err
	}
	s.slotCache.InvalidateTeacher(ctx, teacherID)
	return nil
}

// CreateBlockedRequest describes a one-off blocked interval in UTC.
type CreateBlockedRequest struct {
	TeacherID string    `json:"-" validate:"required"`
	StartAt   time.Time `json:"start_at" validate:"required"`
	EndAt     time.Time `json:"end_at" validate:"required"`
	Reason    string    `json:"reason" validate:"max=500"`
}

// CreateBlocked records a blocked interval that removes slots without
// touching existing appointments.
func (s *AvailabilityService) CreateBlocked(ctx context.Context, req CreateBlockedRequest) (*models.BlockedInterval, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	if !req.EndAt.After(req.StartAt) {
		return nil, appErrors.Clone(appErrors.ErrBadRequest, "end_at must be after start_at")
	}
	if _, err := s.requireTeacher(ctx, req.TeacherID); err != nil {
		return nil, err
	}

	blocked := &models.BlockedInterval{
		TeacherID: req.TeacherID,
		StartAt:   req.StartAt.UTC(),
		EndAt:     req.EndAt.UTC(),
		Reason:    req.Reason,
	}
	if err := s.availability.CreateBlocked(ctx, blocked); err != nil {
		return nil, err
	}
	s.slotCache.InvalidateTeacher(ctx, req.TeacherID)
	return blocked, nil
}

// DeleteBlocked removes a blocked interval.
func (s *AvailabilityService) DeleteBlocked(ctx context.Context, teacherID, blockedID string) error {
	if err := s.availability.DeleteBlocked(ctx, teacherID, blockedID); err != nil {
		return err
	}
	s.slotCache.InvalidateTeacher(ctx, teacherID)
	return nil
}

func (s *AvailabilityService) requireTeacher(ctx context.Context, teacherID string) (*models.Teacher, error) {
	if teacherID == "" {
		return nil, appErrors.Clone(appErrors.ErrBadRequest, "teacher id is required")
	}
	teacher, err := s.teachers.FindByID(ctx, teacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrTeacherNotFound
		}
		return nil, err
	}
	return teacher, nil
}

func validateWallClockRange(start, end string) error {
	startClock, err := time.Parse(wallClockLayout, start)
	if err != nil {
		return appErrors.Clone(appErrors.ErrBadRequest, "start_time must be formatted HH:MM")
	}
	endClock, err := time.Parse(wallClockLayout, end)
	if err != nil {
		return appErrors.Clone(appErrors.ErrBadRequest, "end_time must be formatted HH:MM")
	}
	if !endClock.After(startClock) {
		return appErrors.Clone(appErrors.ErrBadRequest, "end_time must be after start_time")
	}
	return nil
}
