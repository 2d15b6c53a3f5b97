package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/academico-api/internal/models"
	appErrors "github.com/noah-isme/academico-api/pkg/errors"
)

const summaryCacheKey = "enrollments:summary"

type summaryStore interface {
	CountByStatus(ctx context.Context) (map[models.EnrollmentStatus]int, error)
}

type summaryCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// SummaryService aggregates enrollment counts per status, with a short-lived
// Redis cache in front of the database.
type SummaryService struct {
	enrollments summaryStore
	cache       summaryCache
	ttl         time.Duration
	logger      *zap.Logger
}

// NewSummaryService creates a SummaryService.
func NewSummaryService(enrollments summaryStore, cache summaryCache, ttl time.Duration, logger *zap.Logger) *SummaryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SummaryService{
		enrollments: enrollments,
		cache:       cache,
		ttl:         ttl,
		logger:      logger,
	}
}

// StatusSummary returns enrollment counts per status.
func (s *SummaryService) StatusSummary(ctx context.Context) (*models.StatusSummary, error) {
	if s.cache != nil {
		var cached models.StatusSummary
		err := s.cache.Get(ctx, summaryCacheKey, &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("summary cache read failed", zap.Error(err))
		}
	}

	counts, err := s.enrollments.CountByStatus(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate enrollments")
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	summary := &models.StatusSummary{
		Counts:      counts,
		Total:       total,
		GeneratedAt: time.Now().UTC(),
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, summaryCacheKey, summary, s.ttl); err != nil {
			s.logger.Warn("summary cache write failed", zap.Error(err))
		}
	}
	return summary, nil
}
