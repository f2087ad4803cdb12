package postgres

import (
	"context"
	"fmt"
	"strings"

	"marketmod/internal/domain"
	"marketmod/pkg/errors"

	"github.com/jmoiron/sqlx"
)

// AuditRepository implements audit log persistence. Records are insert-only.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create inserts a new audit log entry.
func (r *AuditRepository) Create(ctx context.Context, log *domain.AuditLog) error {
	query := `
		INSERT INTO admin_schema.audit_logs (
			id, action, actor_id, target_type, target_id, details, created_at
		) VALUES (
			:id, :action, :actor_id, :target_type, :target_id, :details, :created_at
		)
	`

	_, err := r.db.NamedExecContext(ctx, query, log)
	if err != nil {
		return errors.Wrap(err, "failed to create audit log")
	}

	return nil
}

// List returns audit logs matching the filter, newest first.
func (r *AuditRepository) List(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditLog, error) {
	where, args := auditWhere(filter)
	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`
		SELECT id, action, actor_id, target_type, target_id, details, created_at
		FROM admin_schema.audit_logs
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args))

	logs := []*domain.AuditLog{}
	if err := r.db.SelectContext(ctx, &logs, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to list audit logs")
	}
	return logs, nil
}

// Count returns the number of audit logs matching the filter.
func (r *AuditRepository) Count(ctx context.Context, filter domain.AuditFilter) (int, error) {
	where, args := auditWhere(filter)
	var count int
	query := `SELECT COUNT(*) FROM admin_schema.audit_logs ` + where
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, errors.Wrap(err, "failed to count audit logs")
	}
	return count, nil
}

func auditWhere(filter domain.AuditFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}
	if filter.TargetType != "" {
		args = append(args, filter.TargetType)
		conditions = append(conditions, fmt.Sprintf("target_type = $%d", len(args)))
	}
	if filter.TargetID != nil {
		args = append(args, *filter.TargetID)
		conditions = append(conditions, fmt.Sprintf("target_id = $%d", len(args)))
	}
	if filter.ActorID != nil {
		args = append(args, *filter.ActorID)
		conditions = append(conditions, fmt.Sprintf("actor_id = $%d", len(args)))
	}
	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}
