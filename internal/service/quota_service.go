package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/meetwise/booking-api/internal/models"
	"github.com/meetwise/booking-api/pkg/config"
	appErrors "github.com/meetwise/booking-api/pkg/errors"
)

type quotaRepository interface {
	Find(ctx context.Context, studentID string) (*models.StudentQuota, error)
	Upsert(ctx context.Context, quota *models.StudentQuota) error
	ListStale(ctx context.Context, firstOfMonth time.Time, limit int) ([]models.StudentQuota, error)
	ListAll(ctx context.Context, limit, offset int) ([]models.StudentQuota, error)
	Reset(ctx context.Context, studentID string, firstOfMonth time.Time) (bool, error)
	ForceReset(ctx context.Context, studentID string, firstOfMonth time.Time) error
}

// QuotaService owns the monthly quota policy: admission decisions per service
// level, lazy per-student resets and the eager batch reset. The booking
// transaction evaluates the same policy against a row it has locked.
type QuotaService struct {
	repo   quotaRepository
	cfg    config.QuotaConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewQuotaService instantiates QuotaService.
func NewQuotaService(repo quotaRepository, cfg config.QuotaConfig, logger *zap.Logger) *QuotaService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QuotaService{repo: repo, cfg: cfg, logger: logger, now: time.Now}
}

// Evaluate applies the admission policy to a quota row, performing the lazy
// monthly reset in place when the row is stale. The caller persists the row.
//
// level1 students are capped at Level1MonthlyCap meetings per month and
// auto-approved only below Level1AutoApproveLimit; level2 students are never
// capped but always require approval; premium students are always
// auto-approved.
func (s *QuotaService) Evaluate(quota *models.StudentQuota, now time.Time) models.QuotaDecision {
	first := models.FirstOfMonth(now)
	if quota.LastResetAt.Before(first) {
		quota.MeetingsUsed = 0
		quota.LastResetAt = first
	}

	switch quota.ServiceLevel {
	case models.ServicePremium:
		return models.QuotaDecision{Allowed: true, AutoApproved: true}
	case models.ServiceLevel2:
		return models.QuotaDecision{Allowed: true, AutoApproved: false}
	default:
		if quota.MeetingsUsed >= s.cfg.Level1MonthlyCap {
			return models.QuotaDecision{Allowed: false}
		}
		return models.QuotaDecision{
			Allowed:      true,
			AutoApproved: quota.MeetingsUsed < s.cfg.Level1AutoApproveLimit,
		}
	}
}

// Get returns the student's quota row, materialising the level1 default for
// students who have never booked.
func (s *QuotaService) Get(ctx context.Context, studentID string) (*models.StudentQuota, error) {
	if studentID == "" {
		return nil, appErrors.Clone(appErrors.ErrBadRequest, "student id is required")
	}
	quota, err := s.repo.Find(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if quota == nil {
		quota = s.defaultQuota(studentID)
	}
	// Report the post-reset view without persisting it.
	s.Evaluate(quota, s.now())
	return quota, nil
}

// Consume records one approved meeting against the student's quota outside of
// a booking transaction, for example when a pending appointment is approved
// manually. Returns the decision that admitted the consumption.
func (s *QuotaService) Consume(ctx context.Context, studentID string) (models.QuotaDecision, error) {
	if studentID == "" {
		return models.QuotaDecision{}, appErrors.Clone(appErrors.ErrBadRequest, "student id is required")
	}
	quota, err := s.repo.Find(ctx, studentID)
	if err != nil {
		return models.QuotaDecision{}, err
	}
	if quota == nil {
		quota = s.defaultQuota(studentID)
	}

	decision := s.Evaluate(quota, s.now())
	if !decision.Allowed {
		return decision, appErrors.ErrQuotaExceeded
	}

	quota.MeetingsUsed++
	if err := s.repo.Upsert(ctx, quota); err != nil {
		return models.QuotaDecision{}, err
	}
	return decision, nil
}

// SetLevel changes a student's service level, preserving the current counter.
func (s *QuotaService) SetLevel(ctx context.Context, studentID string, level models.ServiceLevel) (*models.StudentQuota, error) {
	switch level {
	case models.ServiceLevel1, models.ServiceLevel2, models.ServicePremium:
	default:
		return nil, appErrors.Clone(appErrors.ErrBadRequest, fmt.Sprintf("unknown service level: %s", level))
	}

	quota, err := s.repo.Find(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if quota == nil {
		quota = s.defaultQuota(studentID)
	}
	quota.ServiceLevel = level
	if err := s.repo.Upsert(ctx, quota); err != nil {
		return nil, err
	}
	return quota, nil
}

// ResetAll runs the monthly batch reset over at most limit rows. Without
// force only rows whose LastResetAt predates the current month are touched,
// so re-running the batch within a month is a no-op; with force every row is
// zeroed. Per-student failures are collected and do not abort the batch.
func (s *QuotaService) ResetAll(ctx context.Context, force bool, limit int) (*models.BatchResult, error) {
	if limit <= 0 {
		return nil, appErrors.Clone(appErrors.ErrBadRequest, "limit must be positive")
	}
	first := models.FirstOfMonth(s.now())

	var (
		rows []models.StudentQuota
		err  error
	)
	if force {
		rows, err = s.repo.ListAll(ctx, limit, 0)
	} else {
		rows, err = s.repo.ListStale(ctx, first, limit)
	}
	if err != nil {
		return nil, err
	}

	result := &models.BatchResult{}
	for _, row := range rows {
		if force {
			err = s.repo.ForceReset(ctx, row.StudentID, first)
		} else {
			_, err = s.repo.Reset(ctx, row.StudentID, first)
		}
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("student %s: %v", row.StudentID, err))
			s.logger.Warn("quota reset failed", zap.String("student_id", row.StudentID), zap.Error(err))
			continue
		}
		result.Processed++
	}

	s.logger.Info("quota batch reset finished",
		zap.Bool("force", force),
		zap.Int("processed", result.Processed),
		zap.Int("failed", result.Failed))
	return result, nil
}

func (s *QuotaService) defaultQuota(studentID string) *models.StudentQuota {
	return &models.StudentQuota{
		StudentID:    studentID,
		ServiceLevel: models.ServiceLevel1,
		LastResetAt:  models.FirstOfMonth(s.now()),
	}
}
