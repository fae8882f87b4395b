package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/meetwise/booking-api/internal/models"
	appErrors "github.com/meetwise/booking-api/pkg/errors"
)

type cacheStore interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

type cacheMetricsRecorder interface {
	RecordCacheOperation(operation, status string)
}

// SlotCacheService caches computed slot lists per teacher, date and duration.
// Cache failures degrade to recomputation and never surface to callers.
type SlotCacheService struct {
	cache   cacheStore
	metrics cacheMetricsRecorder
	ttl     time.Duration
	enabled bool
	logger  *zap.Logger
}

// NewSlotCacheService instantiates SlotCacheService. A nil cache disables
// caching entirely.
func NewSlotCacheService(cache cacheStore, metrics cacheMetricsRecorder, ttl time.Duration, enabled bool, logger *zap.Logger) *SlotCacheService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SlotCacheService{
		cache:   cache,
		metrics: metrics,
		ttl:     ttl,
		enabled: enabled && cache != nil,
		logger:  logger,
	}
}

func slotKey(teacherID, date string, durationMinutes int) string {
	return fmt.Sprintf("slots:%s:%s:%d", teacherID, date, durationMinutes)
}

// Get returns the cached slot list, or nil on miss.
func (s *SlotCacheService) Get(ctx context.Context, teacherID, date string, durationMinutes int) *models.SlotList {
	if !s.enabled {
		return nil
	}
	var raw json.RawMessage
	err := s.cache.Get(ctx, slotKey(teacherID, date, durationMinutes), &raw)
	if err != nil {
		if !appErrors.HasCode(err, appErrors.ErrCacheMiss.Code) {
			s.logger.Warn("slot cache read failed", zap.Error(err))
		}
		s.record("get", "miss")
		return nil
	}
	var list models.SlotList
	if err := json.Unmarshal(raw, &list); err != nil {
		s.logger.Warn("slot cache payload corrupt", zap.Error(err))
		s.record("get", "miss")
		return nil
	}
	s.record("get", "hit")
	return &list
}

// Set stores a computed slot list.
func (s *SlotCacheService) Set(ctx context.Context, teacherID, date string, durationMinutes int, list *models.SlotList) {
	if !s.enabled || list == nil {
		return
	}
	if err := s.cache.Set(ctx, slotKey(teacherID, date, durationMinutes), list, s.ttl); err != nil {
		s.logger.Warn("slot cache write failed", zap.Error(err))
		s.record("set", "error")
		return
	}
	s.record("set", "ok")
}

// Invalidate removes every cached duration variant for the teacher on the
// given dates. Called after any write that changes the teacher's schedule.
func (s *SlotCacheService) Invalidate(ctx context.Context, teacherID string, dates ...string) {
	if !s.enabled {
		return
	}
	for _, date := range dates {
		if err := s.cache.DeleteByPattern(ctx, fmt.Sprintf("slots:%s:%s:*", teacherID, date)); err != nil {
			s.logger.Warn("slot cache invalidation failed",
				zap.String("teacher_id", teacherID),
				zap.String("date", date),
				zap.Error(err))
		}
	}
}

// InvalidateTeacher removes every cached entry for the teacher, regardless of
// date. Used when availability windows or teacher settings change.
func (s *SlotCacheService) InvalidateTeacher(ctx context.Context, teacherID string) {
	if !s.enabled {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, fmt.Sprintf("slots:%s:*", teacherID)); err != nil {
		s.logger.Warn("slot cache invalidation failed", zap.String("teacher_id", teacherID), zap.Error(err))
	}
}

func (s *SlotCacheService) record(op, status string) {
	if s.metrics != nil {
		s.metrics.RecordCacheOperation(op, status)
	}
}
