// Package services – NotificationService
//
// This file implements NotificationService, which persists notifications fed
// by the resource handlers (likes, comments, follows) and serves the
// notification feed. The durable record is always written first; the live
// toast over the real-time channel is layered on by the delivery router and
// may silently miss when the recipient is offline.
package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/culturebook/backend/internal/domain"
	"github.com/culturebook/backend/internal/repo"
)

// Allowed notification kinds.
const (
	NotificationFollow  = "follow"
	NotificationLike    = "like"
	NotificationComment = "comment"
	NotificationMention = "mention"
	NotificationGroup   = "group_invite"
)

// validNotificationTypes is the closed set of accepted kinds.
var validNotificationTypes = map[string]struct{}{
	NotificationFollow:  {},
	NotificationLike:    {},
	NotificationComment: {},
	NotificationMention: {},
	NotificationGroup:   {},
}

// NotificationService persists and lists notifications.
type NotificationService struct {
	DB *gorm.DB
}

// Create validates and persists a notification for recipientID.
func (s *NotificationService) Create(ctx context.Context, recipientID, senderID, kind string, postID *string) (*domain.Notification, error) {
	tr := otel.Tracer("services/NotificationService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("recipient.id", recipientID),
			attribute.String("type", kind),
		),
	)
	defer span.End()

	kind = strings.ToLower(strings.TrimSpace(kind))
	if _, ok := validNotificationTypes[kind]; !ok {
		return nil, ErrInvalidNotificationType
	}
	if strings.TrimSpace(recipientID) == "" {
		return nil, ErrInvalidRecipient
	}
	return repo.CreateNotification(ctx, s.DB, recipientID, senderID, kind, postID)
}

// ListPage returns a page of the user's notifications, newest first, plus
// the total and unread counts.
func (s *NotificationService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Notification, int64, int64, error) {
	tr := otel.Tracer("services/NotificationService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountNotifications(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, 0, err
	}
	unread, err := repo.CountUnreadNotifications(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, 0, err
	}
	if total == 0 {
		return []domain.Notification{}, 0, 0, nil
	}

	items, err := repo.ListNotificationsPage(ctx, s.DB, userID, offset, pageSize)
	return items, total, unread, err
}

// MarkRead flags a notification as read for its recipient.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) error {
	err := repo.MarkNotificationRead(ctx, s.DB, notificationID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotificationNotFound
	}
	return err
}
