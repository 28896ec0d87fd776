package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-enrollment-api/internal/models"
	"github.com/noah-isme/sma-enrollment-api/pkg/cache"
	appErrors "github.com/noah-isme/sma-enrollment-api/pkg/errors"
)

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CacheService caches derived student statistics. Failures never surface to callers of the domain services.
type CacheService struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, defaultTTL: defaultTTL, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

func studentStatsKey(tenantID, studentID string) string {
	return cache.Key(tenantID, "student", studentID, "stats")
}

// GetStudentStats returns the cached stats and whether they were found.
func (s *CacheService) GetStudentStats(ctx context.Context, tenantID, studentID string) (*models.StudentStats, bool) {
	if !s.Enabled() {
		return nil, false
	}
	var stats models.StudentStats
	start := time.Now()
	err := s.repo.Get(ctx, studentStatsKey(tenantID, studentID), &stats)
	s.metrics.RecordCacheOperation(err == nil, time.Since(start))
	if err != nil {
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("cache get failed", zap.String("student_id", studentID), zap.Error(err))
		}
		return nil, false
	}
	return &stats, true
}

// SetStudentStats stores freshly computed stats.
func (s *CacheService) SetStudentStats(ctx context.Context, tenantID string, stats *models.StudentStats) {
	if !s.Enabled() || stats == nil {
		return
	}
	start := time.Now()
	err := s.repo.Set(ctx, studentStatsKey(tenantID, stats.StudentID), stats, s.defaultTTL)
	s.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		s.logger.Warn("cache set failed", zap.String("student_id", stats.StudentID), zap.Error(err))
	}
}

// InvalidateStudents drops the cached stats of the given students.
func (s *CacheService) InvalidateStudents(ctx context.Context, tenantID string, studentIDs ...string) {
	if !s.Enabled() || len(studentIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(studentIDs))
	for _, id := range studentIDs {
		keys = append(keys, studentStatsKey(tenantID, id))
	}
	if err := s.repo.Delete(ctx, keys...); err != nil {
		s.logger.Warn("cache invalidate failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

// InvalidateTenant drops every cached entry of a tenant.
func (s *CacheService) InvalidateTenant(ctx context.Context, tenantID string) {
	if !s.Enabled() {
		return
	}
	pattern := cache.Key(tenantID, "*")
	if err := s.repo.DeleteByPattern(ctx, pattern); err != nil {
		s.logger.Warn("cache invalidate failed", zap.String("pattern", pattern), zap.Error(err))
	}
}
