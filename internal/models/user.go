package models

import "time"

// User is a member account created through one of the OAuth providers.
// The members service owns row creation; the gateway reads tiers and rolls
// usage totals into the lifetime counters.
type User struct {
	ID            string    `gorm:"primary_key" json:"id"`
	Email         string    `gorm:"uniqueIndex;not null" json:"email"`
	Username      string    `json:"username"`
	OAuthProvider string    `json:"oauth_provider"` // "github", "discord" or "huggingface"
	Tier          string    `gorm:"default:'new'" json:"tier"`
	TotalTokens   int64     `json:"total_tokens"`
	TotalRequests int64     `json:"total_requests"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}
