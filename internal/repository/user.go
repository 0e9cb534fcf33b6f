package repository

import (
	"context"

	"github.com/inference-gate/llm-gateway/internal/models"
	"github.com/inference-gate/llm-gateway/internal/storage"
	"gorm.io/gorm"
)

type UserRepository struct {
	db *storage.Postgres
}

func NewUserRepository(db *storage.Postgres) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := r.db.DB.WithContext(ctx).
		Where("id = ?", id).
		First(&user).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}

	return &user, err
}

// AddUsage increments a user's lifetime counters. A missing user row is a
// no-op: the members service owns row creation.
func (r *UserRepository) AddUsage(ctx context.Context, userID string, tokens, requests int64) error {
	return r.db.DB.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"total_tokens":   gorm.Expr("total_tokens + ?", tokens),
			"total_requests": gorm.Expr("total_requests + ?", requests),
		}).Error
}
