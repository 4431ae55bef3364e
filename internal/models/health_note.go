package models

import "time"

// HealthNote is a free-text note a user attaches to a consultation.
type HealthNote struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	UserID    int64     `json:"user_id"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}
