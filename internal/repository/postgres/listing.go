package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"marketmod/internal/domain"
	"marketmod/pkg/errors"
)

type ListingRepository struct {
	db *sqlx.DB
}

func NewListingRepository(db *sqlx.DB) *ListingRepository {
	return &ListingRepository{db: db}
}

func (r *ListingRepository) Create(ctx context.Context, listing *domain.Listing) error {
	if err := listing.CheckInvariants(); err != nil {
		return errors.Validation("listing %s: %v", listing.ID, err)
	}
	query := `
		INSERT INTO marketplace_schema.listings (
			id, owner_id, title, location, price, media_count, has_legal_documents,
			moderation_status, explicit_priority, is_active, is_featured,
			submitted_at, reviewed_at, reviewed_by, rejection_reason, updated_at
		) VALUES (
			:id, :owner_id, :title, :location, :price, :media_count, :has_legal_documents,
			:moderation_status, :explicit_priority, :is_active, :is_featured,
			:submitted_at, :reviewed_at, :reviewed_by, :rejection_reason, :updated_at
		)
	`
	_, err := r.db.NamedExecContext(ctx, query, listing)
	return errors.Wrap(err, "failed to create listing")
}

func (r *ListingRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Listing, error) {
	listing := &domain.Listing{}
	query := `SELECT * FROM marketplace_schema.listings WHERE id = $1`
	err := r.db.GetContext(ctx, listing, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrListingNotFound
		}
		return nil, errors.Wrap(err, "failed to find listing")
	}
	return listing, nil
}

// Query returns every listing matching the filter in submission order.
// Ranking and paging are applied by the caller.
func (r *ListingRepository) Query(ctx context.Context, filter domain.QueryFilter) ([]*domain.Listing, error) {
	statuses := make([]string, 0, len(filter.EffectiveStatuses()))
	for _, s := range filter.EffectiveStatuses() {
		statuses = append(statuses, string(s))
	}

	conditions := []string{"l.moderation_status = ANY($1)"}
	args := []interface{}{pq.Array(statuses)}

	if filter.ExplicitPriority != nil {
		args = append(args, string(*filter.ExplicitPriority))
		conditions = append(conditions, fmt.Sprintf("l.explicit_priority = $%d", len(args)))
	}

	switch filter.OwnerVerification {
	case domain.OwnerVerificationVerified:
		conditions = append(conditions, "u.verification_level IN ('VERIFIED', 'FULL_VERIFIED')")
	case domain.OwnerVerificationUnverified:
		conditions = append(conditions, "u.verification_level NOT IN ('VERIFIED', 'FULL_VERIFIED')")
	}

	if term := filter.SearchTerm(); term != "" {
		args = append(args, "%"+likeEscaper.Replace(term)+"%")
		n := len(args)
		conditions = append(conditions, fmt.Sprintf(
			"(LOWER(l.title) LIKE $%d OR LOWER(l.location) LIKE $%d OR LOWER(u.display_name) LIKE $%d)", n, n, n))
	}

	query := `
		SELECT l.* FROM marketplace_schema.listings l
		JOIN marketplace_schema.users u ON u.id = l.owner_id
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY l.submitted_at ASC, l.id ASC
	`
	var listings []*domain.Listing
	if err := r.db.SelectContext(ctx, &listings, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to query listings")
	}
	return listings, nil
}

// ConditionalUpdate applies patch only while the listing is still in the
// expected status. A lost race returns ErrConcurrentModification.
func (r *ListingRepository) ConditionalUpdate(ctx context.Context, id uuid.UUID, expected domain.ModerationStatus, patch domain.ListingPatch) (*domain.Listing, error) {
	var reason *string
	if patch.ModerationStatus == domain.ModerationStatusRejected {
		reason = patch.RejectionReason
	}
	query := `
		UPDATE marketplace_schema.listings SET
			moderation_status = $3,
			is_active = $4,
			is_featured = COALESCE($5, is_featured),
			reviewed_at = CASE WHEN $8 THEN NULL ELSE COALESCE($6, reviewed_at) END,
			reviewed_by = CASE WHEN $8 THEN NULL ELSE COALESCE($7, reviewed_by) END,
			rejection_reason = $9,
			updated_at = $10
		WHERE id = $1 AND moderation_status = $2
		RETURNING *
	`
	listing := &domain.Listing{}
	err := r.db.GetContext(ctx, listing, query,
		id, string(expected), string(patch.ModerationStatus), patch.IsActive,
		patch.IsFeatured, patch.ReviewedAt, patch.ReviewedBy, patch.ClearReview,
		reason, time.Now().UTC(),
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ConcurrentModification("listing %s is no longer %s", id, expected)
		}
		return nil, errors.Wrap(err, "failed to update listing")
	}
	return listing, nil
}

func (r *ListingRepository) UpdatePriority(ctx context.Context, id uuid.UUID, priority domain.Priority) (*domain.Listing, error) {
	query := `
		UPDATE marketplace_schema.listings SET
			explicit_priority = $2,
			updated_at = NOW()
		WHERE id = $1
		RETURNING *
	`
	listing := &domain.Listing{}
	err := r.db.GetContext(ctx, listing, query, id, string(priority))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrListingNotFound
		}
		return nil, errors.Wrap(err, "failed to update listing priority")
	}
	return listing, nil
}

func (r *ListingRepository) CountByStatus(ctx context.Context) ([]domain.StatusCount, error) {
	var counts []domain.StatusCount
	query := `
		SELECT moderation_status, COUNT(*) AS count
		FROM marketplace_schema.listings
		GROUP BY moderation_status
		ORDER BY moderation_status
	`
	if err := r.db.SelectContext(ctx, &counts, query); err != nil {
		return nil, errors.Wrap(err, "failed to count listings")
	}
	return counts, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
