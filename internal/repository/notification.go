package repository

import (
	"context"
	"time"

	"eventhub/internal/domain"
)

// NotificationRepository persists the notification outbox.
type NotificationRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, n *domain.Notification) (int64, error)
	Get(ctx context.Context, id int64) (*domain.Notification, error)
	ListByStatuses(ctx context.Context, statuses ...domain.NotificationStatus) ([]domain.Notification, error)
	MarkSent(ctx context.Context, id int64, sentAt time.Time) error
	MarkFailed(ctx context.Context, id int64, errorMessage string) error
}
