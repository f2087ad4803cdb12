package moderation

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"marketmod/internal/domain"
	"marketmod/pkg/errors"
)

// Action is a moderation decision.
type Action string

const (
	ActionApprove Action = "APPROVE"
	ActionReject  Action = "REJECT"
)

func (a Action) Valid() bool {
	return a == ActionApprove || a == ActionReject
}

// Skip reasons reported for listings a decision did not change. Listings that
// are no longer PENDING are reported as ALREADY_<STATUS>.
const (
	SkipNotFound               = "NOT_FOUND"
	SkipConcurrentModification = "CONCURRENT_MODIFICATION"
)

// SkipAlready is the skip reason for a listing already in status.
func SkipAlready(status domain.ModerationStatus) string {
	return "ALREADY_" + string(status)
}

// DecisionRequest approves or rejects one or more listings.
type DecisionRequest struct {
	ListingIDs []uuid.UUID
	Action     Action
	ReviewerID uuid.UUID
	Reason     string
	Featured   bool
}

type SkippedItem struct {
	ID     uuid.UUID `json:"id"`
	Reason string    `json:"reason"`
}

// TransitionResult reports every requested listing as either applied or skipped.
type TransitionResult struct {
	AppliedCount int           `json:"applied_count"`
	Applied      []uuid.UUID   `json:"applied"`
	Skipped      []SkippedItem `json:"skipped"`
}

// DecideListings applies an approve or reject decision to each listing that
// is still PENDING. The request is validated before any listing is read.
//
// Each listing is written with one compare-and-swap on its status; a lost
// race is skipped with CONCURRENT_MODIFICATION. Notifications and audit
// records are emitted after each write and their failures are only logged.
// A store failure stops the batch: the result returned alongside the error
// still lists what was applied before it.
func (s *Service) DecideListings(ctx context.Context, req DecisionRequest) (*TransitionResult, error) {
	ctx, span := tracer.Start(ctx, "moderation.DecideListings")
	defer span.End()

	ids, reason, err := validateDecision(req)
	if err != nil {
		return nil, endSpan(span, err)
	}
	req.Reason = reason
	bulk := len(ids) > 1

	span.SetAttributes(
		attribute.String("moderation.action", string(req.Action)),
		attribute.Int("moderation.batch_size", len(ids)),
	)

	result := &TransitionResult{Applied: []uuid.UUID{}, Skipped: []SkippedItem{}}
	for _, id := range ids {
		applied, skip, err := s.decideOne(ctx, id, req, bulk)
		if err != nil {
			s.logger.Error("Moderation decision aborted", map[string]interface{}{
				"listing_id": id,
				"action":     req.Action,
				"applied":    result.AppliedCount,
				"error":      err.Error(),
			})
			if result.AppliedCount > 0 {
				s.invalidateStats(ctx)
			}
			return result, endSpan(span, err)
		}
		if skip != "" {
			result.Skipped = append(result.Skipped, SkippedItem{ID: id, Reason: skip})
			continue
		}
		result.Applied = append(result.Applied, applied.ID)
		result.AppliedCount++
	}

	if result.AppliedCount > 0 {
		s.invalidateStats(ctx)
	}

	s.logger.Info("Moderation decision applied", map[string]interface{}{
		"action":      req.Action,
		"reviewer_id": req.ReviewerID,
		"requested":   len(ids),
		"applied":     result.AppliedCount,
		"skipped":     len(result.Skipped),
	})
	return result, nil
}

// validateDecision returns the de-duplicated ids and the trimmed reason.
func validateDecision(req DecisionRequest) ([]uuid.UUID, string, error) {
	if len(req.ListingIDs) == 0 {
		return nil, "", errors.Validation("at least one listing id is required")
	}
	if req.ReviewerID == uuid.Nil {
		return nil, "", errors.Validation("reviewer id is required")
	}
	if !req.Action.Valid() {
		return nil, "", errors.Validation("unknown action %q", req.Action)
	}
	reason := strings.TrimSpace(req.Reason)
	if req.Action == ActionReject && reason == "" {
		return nil, "", errors.Validation("a rejection reason is required")
	}

	ids := make([]uuid.UUID, 0, len(req.ListingIDs))
	seen := make(map[uuid.UUID]bool, len(req.ListingIDs))
	for _, id := range req.ListingIDs {
		if id == uuid.Nil {
			return nil, "", errors.Validation("listing id must not be empty")
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, reason, nil
}

// decideOne returns the updated listing, or a skip reason, or a store error.
func (s *Service) decideOne(ctx context.Context, id uuid.UUID, req DecisionRequest, bulk bool) (*domain.Listing, string, error) {
	current, err := s.listings.FindByID(ctx, id)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, SkipNotFound, nil
	}
	if err != nil {
		return nil, "", err
	}
	if current.ModerationStatus != domain.ModerationStatusPending {
		return nil, SkipAlready(current.ModerationStatus), nil
	}

	now := s.now()
	reviewer := req.ReviewerID
	patch := domain.ListingPatch{
		ModerationStatus: domain.ModerationStatusApproved,
		IsActive:         true,
		ReviewedAt:       &now,
		ReviewedBy:       &reviewer,
	}
	if req.Action == ActionApprove && req.Featured {
		featured := true
		patch.IsFeatured = &featured
	}
	if req.Action == ActionReject {
		reason := req.Reason
		patch.ModerationStatus = domain.ModerationStatusRejected
		patch.IsActive = false
		patch.RejectionReason = &reason
	}

	updated, err := s.listings.ConditionalUpdate(ctx, id, domain.ModerationStatusPending, patch)
	if errors.Is(err, errors.ErrConcurrentModification) {
		if _, ferr := s.listings.FindByID(ctx, id); errors.Is(ferr, errors.ErrNotFound) {
			return nil, SkipNotFound, nil
		}
		s.logger.Warn("Listing changed during decision", map[string]interface{}{
			"listing_id": id,
			"action":     req.Action,
		})
		return nil, SkipConcurrentModification, nil
	}
	if err != nil {
		return nil, "", err
	}

	s.afterDecision(ctx, current, updated, req, bulk)
	return updated, "", nil
}

func (s *Service) afterDecision(ctx context.Context, before, after *domain.Listing, req DecisionRequest, bulk bool) {
	payload := domain.Metadata{
		"listing_id": after.ID.String(),
		"title":      after.Title,
		"status":     string(after.ModerationStatus),
	}
	details := domain.Metadata{
		"previous_status": string(before.ModerationStatus),
		"new_status":      string(after.ModerationStatus),
		"bulk":            bulk,
	}

	if req.Action == ActionApprove {
		details["featured"] = after.IsFeatured
		s.notify(ctx, after.OwnerID, domain.NotificationPropertyApproved,
			"Listing approved",
			fmt.Sprintf("Your listing %q has been approved and is now visible.", after.Title),
			payload)
		s.audit(ctx, domain.AuditActionApproveProperty, req.ReviewerID, after.ID, details)
		return
	}

	payload["reason"] = req.Reason
	details["reason"] = req.Reason
	s.notify(ctx, after.OwnerID, domain.NotificationPropertyRejected,
		"Listing rejected",
		fmt.Sprintf("Your listing %q was rejected: %s", after.Title, req.Reason),
		payload)
	s.audit(ctx, domain.AuditActionRejectProperty, req.ReviewerID, after.ID, details)
}
