package models

import "time"

// UsageLog is an append-only record of one metered upstream response,
// written for observability and billing. The rate limiter never reads it
// back.
type UsageLog struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Timestamp        time.Time `gorm:"index" json:"timestamp"`
	IPAddress        string    `gorm:"index" json:"ip_address"`
	UserID           string    `gorm:"index" json:"user_id,omitempty"`
	UserTier         string    `json:"user_tier,omitempty"`
	Provider         string    `gorm:"index" json:"provider"`
	Model            string    `gorm:"index" json:"model"`
	TokensTotal      int64     `json:"tokens_total"`
	TokensPrompt     int64     `json:"tokens_prompt"`
	TokensCompletion int64     `json:"tokens_completion"`
	Pathname         string    `json:"pathname"`
	FirstMessage     string    `gorm:"size:500" json:"first_message,omitempty"`
}

func (UsageLog) TableName() string {
	return "usage_logs"
}
