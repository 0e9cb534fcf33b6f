package service

import (
	"context"
	"time"

	"github.com/inference-gate/llm-gateway/internal/models"
	"github.com/inference-gate/llm-gateway/internal/repository"
)

type UsageService struct {
	repository *repository.UsageLogRepository
}

func NewUsageService(repo *repository.UsageLogRepository) *UsageService {
	return &UsageService{repository: repo}
}

// Holds usage summary data
type UsageSummary struct {
	TotalRequests int64                      `json:"total_requests"`
	TotalTokens   int64                      `json:"total_tokens"`
	ByProvider    []repository.ProviderUsage `json:"by_provider"`
	TopModels     []repository.ModelUsage    `json:"top_models"`
}

// Retrieves a usage summary for a time range
func (s *UsageService) GetSummary(ctx context.Context, from, to time.Time) (*UsageSummary, error) {
	summary := &UsageSummary{}

	totalRequests, err := s.repository.CountByTimeRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	summary.TotalRequests = totalRequests

	if totalRequests == 0 {
		summary.ByProvider = []repository.ProviderUsage{}
		summary.TopModels = []repository.ModelUsage{}
		return summary, nil
	}

	totalTokens, err := s.repository.SumTokens(ctx, from, to)
	if err != nil {
		return nil, err
	}
	summary.TotalTokens = totalTokens

	byProvider, err := s.repository.TotalsByProvider(ctx, from, to)
	if err != nil {
		return nil, err
	}
	summary.ByProvider = byProvider

	topModels, err := s.repository.TopModels(ctx, from, to, 10)
	if err != nil {
		return nil, err
	}
	summary.TopModels = topModels

	return summary, nil
}

// History returns a user's recent usage log entries, newest first.
func (s *UsageService) History(ctx context.Context, userID string, from, to time.Time, limit, offset int) ([]models.UsageLog, error) {
	return s.repository.FindByUser(ctx, userID, from, to, limit, offset)
}

// Removes usage logs older than the retention period
func (s *UsageService) PruneOldLogs(ctx context.Context, retention time.Duration) (int64, error) {
	return s.repository.DeleteOldLogs(ctx, time.Now().Add(-retention))
}
