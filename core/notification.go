package core

import (
	"context"
	"time"
)

// Notification types
const (
	NotificationTypeCompletion = "onboarding-completion"
	NotificationTypeBadge      = "badge-awarded"
)

type (
	// Notification is an in-app message targeted at a single user.
	Notification struct {
		ID        string    `json:"id"`
		UserID    string    `json:"user_id"`
		Message   string    `json:"message"`
		Link      string    `json:"link"`
		Type      string    `json:"type"`
		CreatedAt time.Time `json:"created_at"` // UTC
	}

	NotificationRepository interface {
		CreateNotification(ctx context.Context, notif Notification, exec ...DBExecutor) (Notification, error)
		QueryUserNotifications(ctx context.Context, userID string, exec ...DBExecutor) ([]Notification, error)
	}

	// NotificationService delivers notifications on a best-effort,
	// fire-and-forget basis; failures are logged, never returned.
	NotificationService interface {
		Send(ctx context.Context, notif Notification)
	}
)
