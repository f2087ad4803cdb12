package moderation

import (
	"bytes"
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"marketmod/internal/domain"
	"marketmod/pkg/cache"
	"marketmod/pkg/errors"
)

// PageRequest selects one page of the queue. Zero values take the defaults.
type PageRequest struct {
	Page     int
	PageSize int
}

// RankedListing is a queue row: the listing, its owner summary and the
// priority it was ranked with.
type RankedListing struct {
	Listing                *domain.Listing          `json:"listing"`
	OwnerName              string                   `json:"owner_name"`
	OwnerVerificationLevel domain.VerificationLevel `json:"owner_verification_level"`
	Priority               domain.Priority          `json:"priority"`
	PriorityOverridden     bool                     `json:"priority_overridden"`
}

type QueuePage struct {
	Items    []RankedListing `json:"items"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	Total    int             `json:"total"`
}

// QueueStats counts listings per moderation status.
type QueueStats struct {
	Counts      map[domain.ModerationStatus]int `json:"counts"`
	Total       int                             `json:"total"`
	GeneratedAt time.Time                       `json:"generated_at"`
}

const statsCacheKey = "moderation:queue:stats"

// ListModerationQueue ranks the listings matching filter and returns one page.
// It never writes.
func (s *Service) ListModerationQueue(ctx context.Context, filter domain.QueryFilter, page PageRequest) (*QueuePage, error) {
	ctx, span := tracer.Start(ctx, "moderation.ListModerationQueue")
	defer span.End()

	for _, st := range filter.Statuses {
		if !st.InQueue() {
			return nil, endSpan(span, errors.Validation("status %q is not part of the moderation queue", st))
		}
	}
	page = s.normalizePage(page)

	listings, err := s.listings.Query(ctx, filter)
	if err != nil {
		return nil, endSpan(span, err)
	}

	owners, err := s.loadOwners(ctx, listings)
	if err != nil {
		return nil, endSpan(span, err)
	}

	ranked := s.rank(listings, owners)

	start, end := pageBounds(page, len(ranked))

	span.SetAttributes(
		attribute.Int("queue.total", len(ranked)),
		attribute.Int("queue.page", page.Page),
	)

	return &QueuePage{
		Items:    ranked[start:end],
		Page:     page.Page,
		PageSize: page.PageSize,
		Total:    len(ranked),
	}, nil
}

// QueueStats returns per-status counts, served from cache when fresh.
func (s *Service) QueueStats(ctx context.Context) (*QueueStats, error) {
	ctx, span := tracer.Start(ctx, "moderation.QueueStats")
	defer span.End()

	if s.stats != nil {
		var cached QueueStats
		err := s.stats.Get(ctx, statsCacheKey, &cached)
		if err == nil {
			return &cached, nil
		}
		if err != cache.ErrMiss {
			s.logger.Warn("Queue stats cache read failed", map[string]interface{}{"error": err.Error()})
		}
	}

	rows, err := s.listings.CountByStatus(ctx)
	if err != nil {
		return nil, endSpan(span, err)
	}
	stats := &QueueStats{
		Counts: map[domain.ModerationStatus]int{
			domain.ModerationStatusPending:  0,
			domain.ModerationStatusApproved: 0,
			domain.ModerationStatusRejected: 0,
		},
		GeneratedAt: s.now(),
	}
	for _, row := range rows {
		stats.Counts[row.Status] += row.Count
		stats.Total += row.Count
	}

	if s.stats != nil {
		if err := s.stats.Set(ctx, statsCacheKey, stats, s.cfg.StatsCacheTTL); err != nil {
			s.logger.Warn("Queue stats cache write failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return stats, nil
}

func (s *Service) invalidateStats(ctx context.Context) {
	if s.stats == nil {
		return
	}
	if err := s.stats.Delete(ctx, statsCacheKey); err != nil {
		s.logger.Warn("Queue stats cache invalidation failed", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Service) normalizePage(p PageRequest) PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = s.cfg.DefaultPageSize
	}
	if p.PageSize > s.cfg.MaxPageSize {
		p.PageSize = s.cfg.MaxPageSize
	}
	return p
}

// pageBounds returns the slice bounds of page within total items. Pages past
// the end are empty; the page number is never multiplied out of range.
func pageBounds(page PageRequest, total int) (start, end int) {
	if page.Page-1 >= (total+page.PageSize-1)/page.PageSize {
		return total, total
	}
	start = (page.Page - 1) * page.PageSize
	end = start + page.PageSize
	if end > total {
		end = total
	}
	return start, end
}

func (s *Service) loadOwners(ctx context.Context, listings []*domain.Listing) (map[uuid.UUID]*domain.User, error) {
	ids := make([]uuid.UUID, 0, len(listings))
	seen := make(map[uuid.UUID]bool, len(listings))
	for _, l := range listings {
		if !seen[l.OwnerID] {
			seen[l.OwnerID] = true
			ids = append(ids, l.OwnerID)
		}
	}
	users, err := s.users.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	owners := make(map[uuid.UUID]*domain.User, len(users))
	for _, u := range users {
		owners[u.ID] = u
	}
	return owners, nil
}

// rank scores every listing and orders by priority desc, submittedAt asc, id asc.
func (s *Service) rank(listings []*domain.Listing, owners map[uuid.UUID]*domain.User) []RankedListing {
	ranked := make([]RankedListing, 0, len(listings))
	for _, l := range listings {
		owner := owners[l.OwnerID]
		item := RankedListing{
			Listing:            l,
			Priority:           s.scorer.Score(l, owner),
			PriorityOverridden: l.ExplicitPriority != "" && l.ExplicitPriority != domain.PriorityNone,
		}
		item.OwnerVerificationLevel = domain.VerificationLevelNone
		if owner != nil {
			item.OwnerName = owner.DisplayName
			item.OwnerVerificationLevel = owner.VerificationLevel
		}
		ranked = append(ranked, item)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
			return ra > rb
		}
		if !a.Listing.SubmittedAt.Equal(b.Listing.SubmittedAt) {
			return a.Listing.SubmittedAt.Before(b.Listing.SubmittedAt)
		}
		return bytes.Compare(a.Listing.ID[:], b.Listing.ID[:]) < 0
	})
	return ranked
}
