package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/meetwise/booking-api/internal/models"
	appErrors "github.com/meetwise/booking-api/pkg/errors"
)

type teacherRepository interface {
	List(ctx context.Context, filter models.TeacherFilter) ([]models.Teacher, int, error)
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
	Create(ctx context.Context, teacher *models.Teacher) error
	Update(ctx context.Context, teacher *models.Teacher) error
	Deactivate(ctx context.Context, id string) error
}

// TeacherService manages teacher profiles and their booking policy.
type TeacherService struct {
	repo      teacherRepository
	slotCache *SlotCacheService
	validate  *validator.Validate
	logger    *zap.Logger
}

// NewTeacherService instantiates TeacherService.
func NewTeacherService(repo teacherRepository, slotCache *SlotCacheService, logger *zap.Logger) *TeacherService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TeacherService{repo: repo, slotCache: slotCache, validate: validator.New(), logger: logger}
}

// List returns teachers matching the filter plus a total count.
func (s *TeacherService) List(ctx context.Context, filter models.TeacherFilter) ([]models.Teacher, int, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	return s.repo.List(ctx, filter)
}

// Get returns one teacher.
func (s *TeacherService) Get(ctx context.Context, id string) (*models.Teacher, error) {
	teacher, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrTeacherNotFound
		}
		return nil, err
	}
	return teacher, nil
}

// CreateTeacherRequest is the teacher onboarding payload.
type CreateTeacherRequest struct {
	Email            string  `json:"email" validate:"required,email"`
	FullName         string  `json:"full_name" validate:"required,max=200"`
	Subject          *string `json:"subject,omitempty"`
	Timezone         string  `json:"timezone" validate:"required"`
	MaxDailyMeetings int     `json:"max_daily_meetings" validate:"min=0,max=48"`
	BufferMinutes    int     `json:"buffer_minutes" validate:"min=0,max=120"`
}

// Create onboards a teacher.
func (s *TeacherService) Create(ctx context.Context, req CreateTeacherRequest) (*models.Teacher, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	if err := validateTimezone(req.Timezone); err != nil {
		return nil, err
	}

	teacher := &models.Teacher{
		Email:            req.Email,
		FullName:         req.FullName,
		Subject:          req.Subject,
		Timezone:         req.Timezone,
		MaxDailyMeetings: req.MaxDailyMeetings,
		BufferMinutes:    req.BufferMinutes,
		Active:           true,
	}
	if err := s.repo.Create(ctx, teacher); err != nil {
		return nil, err
	}
	s.logger.Info("teacher created", zap.String("teacher_id", teacher.ID))
	return teacher, nil
}

// UpdateTeacherRequest changes a teacher's profile or booking policy.
type UpdateTeacherRequest struct {
	ID               string  `json:"-" validate:"required"`
	Email            string  `json:"email" validate:"required,email"`
	FullName         string  `json:"full_name" validate:"required,max=200"`
	Subject          *string `json:"subject,omitempty"`
	Timezone         string  `json:"timezone" validate:"required"`
	MaxDailyMeetings int     `json:"max_daily_meetings" validate:"min=0,max=48"`
	BufferMinutes    int     `json:"buffer_minutes" validate:"min=0,max=120"`
	Active           bool    `json:"active"`
}

// Update rewrites the teacher record. Policy changes invalidate every cached
// slot list for the teacher; existing appointments are untouched.
func (s *TeacherService) Update(ctx context.Context, req UpdateTeacherRequest) (*models.Teacher, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	if err := validateTimezone(req.Timezone); err != nil {
		return nil, err
	}

	teacher, err := s.Get(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	teacher.Email = req.Email
	teacher.FullName = req.FullName
	teacher.Subject = req.Subject
	teacher.Timezone = req.Timezone
	teacher.MaxDailyMeetings = req.MaxDailyMeetings
	teacher.BufferMinutes = req.BufferMinutes
	teacher.Active = req.Active

	if err := s.repo.Update(ctx, teacher); err != nil {
		return nil, err
	}
	s.slotCache.InvalidateTeacher(ctx, teacher.ID)
	return teacher, nil
}

// Deactivate hides the teacher from booking without deleting history.
func (s *TeacherService) Deactivate(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return err
	}
	s.slotCache.InvalidateTeacher(ctx, id)
	s.logger.Info("teacher deactivated", zap.String("teacher_id", id))
	return nil
}

func validateTimezone(tz string) error {
	if _, err := time.LoadLocation(tz); err != nil {
		return appErrors.Clone(appErrors.ErrBadRequest, "timezone must be a valid IANA identifier")
	}
	return nil
}
