// Package notification stores in-app notifications and hands them to the
// background delivery worker.
package notification

import (
	"context"
	"time"

	"marketmod/internal/domain"
	"marketmod/internal/queue"
	"marketmod/pkg/errors"
	"marketmod/pkg/logger"

	"github.com/google/uuid"
)

// Repository defines notification persistence.
type Repository interface {
	Create(ctx context.Context, n *domain.Notification) error
	ListByUser(ctx context.Context, userID uuid.UUID, filter domain.NotificationFilter) ([]*domain.Notification, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
	MarkRead(ctx context.Context, id, userID uuid.UUID) error
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
}

const (
	defaultInboxLimit = 20
	maxInboxLimit     = 100
)

// Inbox is one page of a user's notifications.
type Inbox struct {
	Items  []*domain.Notification `json:"items"`
	Unread int                    `json:"unread"`
	Limit  int                    `json:"limit"`
	Offset int                    `json:"offset"`
}

// Service is the notification sink used by moderation and verification.
type Service struct {
	repo     Repository
	enqueuer queue.Enqueuer
	logger   logger.Logger
	now      func() time.Time
}

// NewService creates a new notification service. enqueuer may be nil, in
// which case notifications are stored in-app only.
func NewService(repo Repository, enqueuer queue.Enqueuer, log logger.Logger) *Service {
	return &Service{
		repo:     repo,
		enqueuer: enqueuer,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Send stores the notification and schedules out-of-band delivery. Delivery
// is not awaited; an enqueue failure is logged and the stored notification
// still counts as sent.
func (s *Service) Send(ctx context.Context, userID uuid.UUID, typ domain.NotificationType, title, message string, payload domain.Metadata) error {
	if payload == nil {
		payload = domain.Metadata{}
	}
	n := &domain.Notification{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Message:   message,
		Payload:   payload,
		CreatedAt: s.now(),
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return err
	}

	s.logger.Info("Notification stored", map[string]interface{}{
		"notification_id": n.ID,
		"user_id":         userID,
		"type":            typ,
	})

	if s.enqueuer == nil {
		return nil
	}
	if err := s.enqueuer.EnqueueDelivery(ctx, queue.DeliverPayload{NotificationID: n.ID, UserID: userID}); err != nil {
		s.logger.Error("Failed to enqueue notification delivery", map[string]interface{}{
			"error":           err.Error(),
			"notification_id": n.ID,
			"user_id":         userID,
		})
	}
	return nil
}

// List returns a page of the user's notifications, newest first.
func (s *Service) List(ctx context.Context, userID uuid.UUID, filter domain.NotificationFilter) (*Inbox, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultInboxLimit
	}
	if filter.Limit > maxInboxLimit {
		filter.Limit = maxInboxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	items, err := s.repo.ListByUser(ctx, userID, filter)
	if err != nil {
		return nil, err
	}
	unread, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Inbox{Items: items, Unread: unread, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// MarkRead marks one of the user's notifications read. Another user's
// notification is reported as not found.
func (s *Service) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	if notificationID == uuid.Nil {
		return errors.Validation("notification id is required")
	}
	return s.repo.MarkRead(ctx, notificationID, userID)
}

// MarkAllRead marks every unread notification of the user read.
func (s *Service) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.repo.MarkAllRead(ctx, userID)
}
