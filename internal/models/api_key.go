package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type APIKey struct {
	ID          uuid.UUID  `gorm:"type:uuid;primary_key" json:"id"`
	KeyHash     string     `gorm:"uniqueIndex;not null" json:"-"`
	Prefix      string     `json:"prefix"`
	Name        string     `gorm:"not null" json:"name"`
	UserID      string     `gorm:"index" json:"user_id"`
	Tier        string     `gorm:"default:'new'" json:"tier"`
	IsActive    bool       `gorm:"default:true" json:"is_active"`
	IsTemporary bool       `gorm:"default:false" json:"is_temporary"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
}

func (a *APIKey) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// Expired reports whether a temporary key has passed its expiry.
func (a *APIKey) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}

func (APIKey) TableName() string {
	return "api_keys"
}
