package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/oncokb/backend/internal/models"
	"github.com/oncokb/backend/pkg/logger"
	"github.com/oncokb/backend/pkg/utils"
	"gorm.io/gorm"
)

type TokenAccess struct {
	TokenID  uuid.UUID
	AccessIP string
	Resource string
	At       time.Time
}

type TokenStatsFilter struct {
	TokenID *uuid.UUID
	UserID  *uuid.UUID
	From    *time.Time
	To      *time.Time
}

type TokenStatsService struct {
	DB    *gorm.DB
	queue chan models.TokenStats
	done  chan struct{}
}

func NewTokenStatsService(db *gorm.DB, queueSize int) *TokenStatsService {
	if queueSize <= 0 {
		queueSize = 1000
	}
	s := &TokenStatsService{
		DB:    db,
		queue: make(chan models.TokenStats, queueSize),
		done:  make(chan struct{}),
	}
	go s.processQueue()
	return s
}

func (s *TokenStatsService) RecordAsync(access TokenAccess) {
	row := models.TokenStats{
		TokenID:    access.TokenID,
		AccessIP:   access.AccessIP,
		Resource:   access.Resource,
		AccessTime: access.At,
		UsageCount: 1,
	}

	select {
	case s.queue <- row:
	default:
		logger.Warn("token_stats_queue_full", map[string]interface{}{
			"token_id": access.TokenID.String(),
			"dropped":  true,
		})
	}
}

func (s *TokenStatsService) processQueue() {
	defer close(s.done)
	for row := range s.queue {
		if err := s.DB.Create(&row).Error; err != nil {
			logger.Error("token_stats_insert_failed", err, map[string]interface{}{
				"token_id": row.TokenID.String(),
				"resource": row.Resource,
			})
		}
	}
}

func (s *TokenStatsService) Close() {
	close(s.queue)
	<-s.done
}

func (s *TokenStatsService) filtered(ctx context.Context, filter TokenStatsFilter) *gorm.DB {
	query := s.DB.WithContext(ctx).Model(&models.TokenStats{})
	if filter.TokenID != nil {
		query = query.Where("token_stats.token_id = ?", *filter.TokenID)
	}
	if filter.UserID != nil {
		query = query.Where("token_stats.token_id IN (?)",
			s.DB.Model(&models.Token{}).Select("id").Where("user_id = ?", *filter.UserID))
	}
	if filter.From != nil {
		query = query.Where("token_stats.access_time >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("token_stats.access_time < ?", *filter.To)
	}
	return query
}

func (s *TokenStatsService) List(ctx context.Context, filter TokenStatsFilter, p utils.PaginationParams) ([]models.TokenStats, int64, error) {
	var total int64
	if err := s.filtered(ctx, filter).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var stats []models.TokenStats
	err := utils.ApplyPagination(s.filtered(ctx, filter).Order("token_stats.access_time DESC"), p).Find(&stats).Error
	return stats, total, err
}

// UsageCount sums the recorded usage counts matching filter.
func (s *TokenStatsService) UsageCount(ctx context.Context, filter TokenStatsFilter) (int64, error) {
	var total int64
	err := s.filtered(ctx, filter).Select("COALESCE(SUM(token_stats.usage_count), 0)").Scan(&total).Error
	return total, err
}
