// Package audit appends and browses the administrative audit trail.
package audit

import (
	"context"
	"time"

	"marketmod/internal/domain"
	"marketmod/pkg/errors"
	"marketmod/pkg/logger"

	"github.com/google/uuid"
)

// Repository defines audit persistence. Implementations never update or
// delete records.
type Repository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
	List(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditLog, error)
	Count(ctx context.Context, filter domain.AuditFilter) (int, error)
}

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Page is one page of audit records, newest first.
type Page struct {
	Items  []*domain.AuditLog `json:"items"`
	Total  int                `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

type Service struct {
	repo   Repository
	logger logger.Logger
	now    func() time.Time
}

func NewService(repo Repository, log logger.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Append writes one audit record.
func (s *Service) Append(ctx context.Context, action domain.AuditAction, actorID uuid.UUID, targetType string, targetID uuid.UUID, details domain.Metadata) error {
	if details == nil {
		details = domain.Metadata{}
	}
	record := &domain.AuditLog{
		ID:         uuid.New(),
		Action:     action,
		ActorID:    actorID,
		TargetType: targetType,
		TargetID:   targetID,
		Details:    details,
		CreatedAt:  s.now(),
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return err
	}
	s.logger.Debug("Audit record appended", map[string]interface{}{
		"audit_id":    record.ID,
		"action":      action,
		"actor_id":    actorID,
		"target_type": targetType,
		"target_id":   targetID,
	})
	return nil
}

// List browses audit records matching filter.
func (s *Service) List(ctx context.Context, filter domain.AuditFilter) (*Page, error) {
	if filter.TargetID != nil && filter.TargetType == "" {
		return nil, errors.Validation("target_type is required with target_id")
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	items, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	total, err := s.repo.Count(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &Page{Items: items, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}
