package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// DeliverNotificationTask is scheduled each time an in-app notification is stored.
	DeliverNotificationTask = "notification:deliver"
)

// DeliverPayload identifies the stored notification the worker should send
// out of band. The worker reloads the notification and recipient itself.
type DeliverPayload struct {
	NotificationID uuid.UUID `json:"notification_id"`
	UserID         uuid.UUID `json:"user_id"`
}

// Enqueuer hands delivery jobs to the background worker.
type Enqueuer interface {
	EnqueueDelivery(ctx context.Context, payload DeliverPayload) error
}

// Client enqueues delivery jobs on asynq.
type Client struct {
	client   *asynq.Client
	queue    string
	maxRetry int
}

// NewClient wraps an asynq client. Jobs go to the named queue.
func NewClient(client *asynq.Client, queueName string, maxRetry int) *Client {
	return &Client{client: client, queue: queueName, maxRetry: maxRetry}
}

// EnqueueDelivery enqueues a notification delivery job. The task id is the
// notification id so a retried enqueue cannot schedule a second delivery.
func (c *Client) EnqueueDelivery(ctx context.Context, payload DeliverPayload) error {
	task, err := NewDeliverTask(payload)
	if err != nil {
		return err
	}
	opts := []asynq.Option{
		asynq.MaxRetry(c.maxRetry),
		asynq.TaskID(payload.NotificationID.String()),
	}
	if c.queue != "" {
		opts = append(opts, asynq.Queue(c.queue))
	}
	if _, err := c.client.EnqueueContext(ctx, task, opts...); err != nil {
		if err == asynq.ErrTaskIDConflict {
			return nil
		}
		return fmt.Errorf("enqueue deliver task: %w", err)
	}
	return nil
}

// NewDeliverTask builds the asynq task for payload.
func NewDeliverTask(payload DeliverPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(DeliverNotificationTask, data), nil
}
