// ==============================================================================
// MODERATION SERVICE - internal/moderation/service.go
// ==============================================================================
// Listing moderation: queue ranking, approve/reject transitions, explicit
// priority overrides and re-review resets.
// ==============================================================================

package moderation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"marketmod/internal/domain"
	"marketmod/pkg/errors"
	"marketmod/pkg/logger"
)

var tracer = otel.Tracer("marketmod/internal/moderation")

// ListingRepository is the listing slice of the entity store.
type ListingRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Listing, error)
	Query(ctx context.Context, filter domain.QueryFilter) ([]*domain.Listing, error)
	ConditionalUpdate(ctx context.Context, id uuid.UUID, expected domain.ModerationStatus, patch domain.ListingPatch) (*domain.Listing, error)
	UpdatePriority(ctx context.Context, id uuid.UUID, priority domain.Priority) (*domain.Listing, error)
	CountByStatus(ctx context.Context) ([]domain.StatusCount, error)
}

// UserRepository resolves listing owners.
type UserRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.User, error)
}

// Notifier hands a notification to the delivery pipeline.
type Notifier interface {
	Send(ctx context.Context, userID uuid.UUID, typ domain.NotificationType, title, message string, payload domain.Metadata) error
}

// Auditor appends an audit record.
type Auditor interface {
	Append(ctx context.Context, action domain.AuditAction, actorID uuid.UUID, targetType string, targetID uuid.UUID, details domain.Metadata) error
}

// StatsCache caches queue statistics. pkg/cache.RedisCache satisfies it.
type StatsCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
}

type Config struct {
	HighValueThreshold decimal.Decimal
	DefaultPageSize    int
	MaxPageSize        int
	StatsCacheTTL      time.Duration
}

// DefaultConfig mirrors the service defaults in pkg/config.
func DefaultConfig() Config {
	return Config{
		HighValueThreshold: decimal.NewFromInt(500000),
		DefaultPageSize:    20,
		MaxPageSize:        100,
		StatsCacheTTL:      30 * time.Second,
	}
}

// sideEffectTimeout bounds each notification or audit call after commit.
const sideEffectTimeout = 5 * time.Second

type Service struct {
	listings ListingRepository
	users    UserRepository
	notifier Notifier
	auditor  Auditor
	stats    StatsCache
	scorer   Scorer
	cfg      Config
	logger   logger.Logger
	now      func() time.Time
}

func NewService(listings ListingRepository, users UserRepository, notifier Notifier, auditor Auditor, cfg Config, log logger.Logger) *Service {
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 20
	}
	if cfg.MaxPageSize < cfg.DefaultPageSize {
		cfg.MaxPageSize = cfg.DefaultPageSize
	}
	return &Service{
		listings: listings,
		users:    users,
		notifier: notifier,
		auditor:  auditor,
		scorer:   NewScorer(cfg.HighValueThreshold),
		cfg:      cfg,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithStatsCache enables caching of QueueStats.
func (s *Service) WithStatsCache(c StatsCache) *Service {
	s.stats = c
	return s
}

// Scorer returns the priority scorer used by the queue.
func (s *Service) Scorer() Scorer {
	return s.scorer
}

// ==============================================================================
// PRIORITY OVERRIDE AND RE-REVIEW
// ==============================================================================

// SetListingPriority stores an explicit priority that overrides the computed one.
func (s *Service) SetListingPriority(ctx context.Context, listingID uuid.UUID, priority domain.Priority, actorID uuid.UUID) (*domain.Listing, error) {
	ctx, span := tracer.Start(ctx, "moderation.SetListingPriority")
	defer span.End()

	if !priority.Valid() {
		return nil, endSpan(span, errors.Validation("unknown priority %q", priority))
	}
	if actorID == uuid.Nil {
		return nil, endSpan(span, errors.Validation("actor id is required"))
	}

	current, err := s.listings.FindByID(ctx, listingID)
	if err != nil {
		return nil, endSpan(span, err)
	}
	updated, err := s.listings.UpdatePriority(ctx, listingID, priority)
	if err != nil {
		return nil, endSpan(span, err)
	}

	s.audit(ctx, domain.AuditActionSetPropertyPriority, actorID, listingID, domain.Metadata{
		"previous_priority": string(current.ExplicitPriority),
		"new_priority":      string(priority),
	})
	s.logger.Info("Listing priority set", map[string]interface{}{
		"listing_id": listingID,
		"priority":   priority,
		"actor_id":   actorID,
	})
	return updated, nil
}

// ResetForReview returns a listing to PENDING after an owner edit. The review
// stamp and any rejection reason are cleared and the listing is hidden until
// it is decided again. changed is false when the listing was already PENDING.
func (s *Service) ResetForReview(ctx context.Context, listingID, actorID uuid.UUID) (listing *domain.Listing, changed bool, err error) {
	ctx, span := tracer.Start(ctx, "moderation.ResetForReview")
	defer span.End()

	if actorID == uuid.Nil {
		return nil, false, endSpan(span, errors.Validation("actor id is required"))
	}

	current, err := s.listings.FindByID(ctx, listingID)
	if err != nil {
		return nil, false, endSpan(span, err)
	}
	if current.ModerationStatus == domain.ModerationStatusPending {
		return current, false, nil
	}

	updated, err := s.listings.ConditionalUpdate(ctx, listingID, current.ModerationStatus, domain.ListingPatch{
		ModerationStatus: domain.ModerationStatusPending,
		IsActive:         false,
		ClearReview:      true,
	})
	if err != nil {
		return nil, false, endSpan(span, err)
	}

	s.invalidateStats(ctx)
	s.audit(ctx, domain.AuditActionResetPropertyReview, actorID, listingID, domain.Metadata{
		"previous_status": string(current.ModerationStatus),
		"new_status":      string(domain.ModerationStatusPending),
	})
	s.logger.Info("Listing reset for review", map[string]interface{}{
		"listing_id":      listingID,
		"previous_status": current.ModerationStatus,
	})
	return updated, true, nil
}

// ==============================================================================
// SIDE EFFECTS
// ==============================================================================

// detached keeps post-commit side effects alive when the caller's context is
// cancelled after the write succeeded.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
}

func (s *Service) audit(ctx context.Context, action domain.AuditAction, actorID, listingID uuid.UUID, details domain.Metadata) {
	if s.auditor == nil {
		return
	}
	sctx, cancel := detached(ctx)
	defer cancel()
	if err := s.auditor.Append(sctx, action, actorID, domain.TargetTypeListing, listingID, details); err != nil {
		s.logger.Error("Audit append failed", map[string]interface{}{
			"error":      errors.SideEffect(err, "audit").Error(),
			"action":     action,
			"listing_id": listingID,
		})
	}
}

func (s *Service) notify(ctx context.Context, userID uuid.UUID, typ domain.NotificationType, title, message string, payload domain.Metadata) {
	if s.notifier == nil {
		return
	}
	sctx, cancel := detached(ctx)
	defer cancel()
	if err := s.notifier.Send(sctx, userID, typ, title, message, payload); err != nil {
		s.logger.Error("Notification send failed", map[string]interface{}{
			"error":   errors.SideEffect(err, "notification").Error(),
			"type":    typ,
			"user_id": userID,
		})
	}
}

func endSpan(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
