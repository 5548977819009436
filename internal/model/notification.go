package model

import (
	"time"

	"fxmargin/internal/types"
)

type Notification struct {
	UserID    string                 `json:"user_id"`
	Type      types.NotificationType `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	CreatedAt time.Time              `json:"created_at"`
}
