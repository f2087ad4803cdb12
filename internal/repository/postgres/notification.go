package postgres

import (
	"context"
	"database/sql"

	"marketmod/internal/domain"
	"marketmod/pkg/errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type NotificationRepository struct {
	db *sqlx.DB
}

func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	query := `
		INSERT INTO marketplace_schema.notifications (
			id, user_id, type, title, message, payload, is_read, created_at
		) VALUES (
			:id, :user_id, :type, :title, :message, :payload, :is_read, :created_at
		)
	`
	_, err := r.db.NamedExecContext(ctx, query, n)
	return errors.Wrap(err, "failed to create notification")
}

func (r *NotificationRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	n := &domain.Notification{}
	err := r.db.GetContext(ctx, n, `SELECT * FROM marketplace_schema.notifications WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrNotificationNotFound
		}
		return nil, errors.Wrap(err, "failed to find notification")
	}
	return n, nil
}

func (r *NotificationRepository) ListByUser(ctx context.Context, userID uuid.UUID, filter domain.NotificationFilter) ([]*domain.Notification, error) {
	query := `
		SELECT * FROM marketplace_schema.notifications
		WHERE user_id = $1 AND ($2 = FALSE OR is_read = FALSE)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4
	`
	items := []*domain.Notification{}
	if err := r.db.SelectContext(ctx, &items, query, userID, filter.UnreadOnly, filter.Limit, filter.Offset); err != nil {
		return nil, errors.Wrap(err, "failed to list notifications")
	}
	return items, nil
}

func (r *NotificationRepository) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM marketplace_schema.notifications WHERE user_id = $1 AND is_read = FALSE`
	if err := r.db.GetContext(ctx, &count, query, userID); err != nil {
		return 0, errors.Wrap(err, "failed to count unread notifications")
	}
	return count, nil
}

// MarkRead flags one notification owned by userID as read.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE marketplace_schema.notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return errors.Wrap(err, "failed to mark notification read")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.ErrNotificationNotFound
	}
	return nil
}

func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE marketplace_schema.notifications SET is_read = TRUE WHERE user_id = $1 AND is_read = FALSE`, userID)
	if err != nil {
		return 0, errors.Wrap(err, "failed to mark notifications read")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return rows, nil
}
