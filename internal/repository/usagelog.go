package repository

import (
	"context"
	"time"

	"github.com/inference-gate/llm-gateway/internal/models"
	"github.com/inference-gate/llm-gateway/internal/storage"
)

type UsageLogRepository struct {
	db *storage.Postgres
}

func NewUsageLogRepository(db *storage.Postgres) *UsageLogRepository {
	return &UsageLogRepository{db: db}
}

// Inserts multiple usage logs (for batch insertion)
func (r *UsageLogRepository) CreateBatch(ctx context.Context, entries []*models.UsageLog) error {
	if len(entries) == 0 {
		return nil
	}

	return r.db.DB.WithContext(ctx).Create(&entries).Error
}

// Retrieves logs for a specific user
func (r *UsageLogRepository) FindByUser(ctx context.Context, userID string, from, to time.Time, limit, offset int) ([]models.UsageLog, error) {
	var logs []models.UsageLog
	err := r.db.DB.WithContext(ctx).
		Where("user_id = ? AND timestamp BETWEEN ? AND ?", userID, from, to).
		Order("timestamp DESC").
		Limit(limit).
		Offset(offset).
		Find(&logs).Error

	return logs, err
}

// Counts requests in a time range
func (r *UsageLogRepository) CountByTimeRange(ctx context.Context, from, to time.Time) (int64, error) {
	var count int64

	err := r.db.DB.WithContext(ctx).
		Model(&models.UsageLog{}).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Count(&count).Error

	return count, err
}

// Sums token usage in a time range
func (r *UsageLogRepository) SumTokens(ctx context.Context, from, to time.Time) (int64, error) {
	var total int64

	err := r.db.DB.WithContext(ctx).
		Model(&models.UsageLog{}).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Select("COALESCE(SUM(tokens_total), 0)").
		Scan(&total).Error

	return total, err
}

// ProviderUsage is an aggregate row for one provider.
type ProviderUsage struct {
	Provider string `json:"provider"`
	Requests int64  `json:"requests"`
	Tokens   int64  `json:"tokens"`
}

// Returns token/request totals grouped by provider
func (r *UsageLogRepository) TotalsByProvider(ctx context.Context, from, to time.Time) ([]ProviderUsage, error) {
	var results []ProviderUsage

	err := r.db.DB.WithContext(ctx).
		Model(&models.UsageLog{}).
		Select("provider, COUNT(*) as requests, COALESCE(SUM(tokens_total), 0) as tokens").
		Where("timestamp BETWEEN ? AND ?", from, to).
		Group("provider").
		Order("tokens DESC").
		Scan(&results).Error

	return results, err
}

// ModelUsage is an aggregate row for one model.
type ModelUsage struct {
	Model    string `json:"model"`
	Requests int64  `json:"requests"`
	Tokens   int64  `json:"tokens"`
}

// Returns the most used models by token volume
func (r *UsageLogRepository) TopModels(ctx context.Context, from, to time.Time, limit int) ([]ModelUsage, error) {
	var results []ModelUsage

	err := r.db.DB.WithContext(ctx).
		Model(&models.UsageLog{}).
		Select("model, COUNT(*) as requests, COALESCE(SUM(tokens_total), 0) as tokens").
		Where("timestamp BETWEEN ? AND ?", from, to).
		Group("model").
		Order("tokens DESC").
		Limit(limit).
		Scan(&results).Error

	return results, err
}

// Deletes logs older than the specified time
func (r *UsageLogRepository) DeleteOldLogs(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("timestamp < ?", before).
		Delete(&models.UsageLog{})

	return result.RowsAffected, result.Error
}
