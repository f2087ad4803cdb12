package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"marketmod/internal/domain"
	"marketmod/internal/queue"
	"marketmod/pkg/errors"
	"marketmod/pkg/logger"
	"marketmod/pkg/mailer"
)

type NotificationRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Notification, error)
}

type UserRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	notifications NotificationRepository
	users         UserRepository
	mailer        mailer.Sender
	logger        logger.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(notifications NotificationRepository, users UserRepository, sender mailer.Sender, log logger.Logger) *Processor {
	return &Processor{notifications: notifications, users: users, mailer: sender, logger: log}
}

// Handler registers the delivery job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.DeliverNotificationTask, p.HandleDeliver)
	return mux
}

// HandleDeliver emails one stored notification to its recipient. Records that
// can never be delivered are dropped without retry.
func (p *Processor) HandleDeliver(ctx context.Context, task *asynq.Task) error {
	var payload queue.DeliverPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}

	n, err := p.notifications.FindByID(ctx, payload.NotificationID)
	if errors.Is(err, errors.ErrNotFound) {
		p.logger.Warn("Notification vanished before delivery", map[string]interface{}{
			"notification_id": payload.NotificationID,
		})
		return fmt.Errorf("notification %s: %w", payload.NotificationID, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}

	user, err := p.users.FindByID(ctx, n.UserID)
	if errors.Is(err, errors.ErrNotFound) {
		return fmt.Errorf("user %s: %w", n.UserID, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}
	if strings.TrimSpace(user.Email) == "" {
		p.logger.Info("Skipping email delivery, user has no address", map[string]interface{}{
			"notification_id": n.ID,
			"user_id":         user.ID,
		})
		return nil
	}

	if err := p.mailer.Send(ctx, user.Email, n.Title, n.Message); err != nil {
		p.logger.Error("Notification delivery failed", map[string]interface{}{
			"notification_id": n.ID,
			"user_id":         user.ID,
			"error":           err.Error(),
		})
		return err
	}

	p.logger.Info("Notification delivered", map[string]interface{}{
		"notification_id": n.ID,
		"user_id":         user.ID,
		"type":            n.Type,
	})
	return nil
}
