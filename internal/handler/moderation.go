package handler

import (
	"net/http"
	"strings"

	"marketmod/internal/domain"
	"marketmod/internal/middleware"
	"marketmod/internal/moderation"
	"marketmod/pkg/logger"
	"marketmod/pkg/validator"

	"github.com/google/uuid"
)

// ModerationHandler serves the admin moderation queue and decisions.
type ModerationHandler struct {
	service   *moderation.Service
	validator *validator.Validator
	logger    logger.Logger
}

func NewModerationHandler(service *moderation.Service, val *validator.Validator, log logger.Logger) *ModerationHandler {
	return &ModerationHandler{service: service, validator: val, logger: log}
}

type decisionRequest struct {
	ListingIDs []uuid.UUID `json:"listing_ids" validate:"required,min=1,max=500"`
	Action     string      `json:"action" validate:"required,oneof=APPROVE REJECT"`
	Reason     string      `json:"reason" validate:"max=2000"`
	Featured   bool        `json:"featured"`
}

type priorityRequest struct {
	Priority string `json:"priority" validate:"required,oneof=NONE LOW MEDIUM HIGH"`
}

type resetResponse struct {
	Listing *domain.Listing `json:"listing"`
	Changed bool            `json:"changed"`
}

// Queue lists listings awaiting review, highest priority first.
// GET /admin/moderation/queue
func (h *ModerationHandler) Queue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.QueryFilter{Search: q.Get("search")}

	for _, raw := range q["status"] {
		for _, s := range strings.Split(raw, ",") {
			status := domain.ModerationStatus(strings.ToUpper(strings.TrimSpace(s)))
			if status == "" {
				continue
			}
			if !status.InQueue() {
				respondError(w, http.StatusBadRequest, "Invalid status filter")
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}

	if v := q.Get("priority"); v != "" {
		p := domain.Priority(strings.ToUpper(v))
		if !p.Valid() {
			respondError(w, http.StatusBadRequest, "Invalid priority filter")
			return
		}
		filter.ExplicitPriority = &p
	}

	switch owner := domain.OwnerVerification(strings.ToLower(q.Get("owner"))); owner {
	case domain.OwnerVerificationAny, domain.OwnerVerificationVerified, domain.OwnerVerificationUnverified:
		filter.OwnerVerification = owner
	default:
		respondError(w, http.StatusBadRequest, "Invalid owner filter")
		return
	}

	page, ok := queryInt(r, "page", 1)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid page")
		return
	}
	size, ok := queryInt(r, "page_size", 0)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid page_size")
		return
	}

	result, err := h.service.ListModerationQueue(r.Context(), filter, moderation.PageRequest{Page: page, PageSize: size})
	if err != nil {
		respondServiceError(w, r, h.logger, err, "list_moderation_queue")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Stats returns listing counts per moderation status.
// GET /admin/moderation/stats
func (h *ModerationHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.QueueStats(r.Context())
	if err != nil {
		respondServiceError(w, r, h.logger, err, "queue_stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// Decide approves or rejects one or more listings.
// POST /admin/moderation/decisions
func (h *ModerationHandler) Decide(w http.ResponseWriter, r *http.Request) {
	reviewerID, ok := callerID(w, r)
	if !ok {
		return
	}
	var req decisionRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	result, err := h.service.DecideListings(r.Context(), moderation.DecisionRequest{
		ListingIDs: req.ListingIDs,
		Action:     moderation.Action(req.Action),
		ReviewerID: reviewerID,
		Reason:     req.Reason,
		Featured:   req.Featured,
	})
	if err != nil {
		if result != nil {
			h.respondPartialDecision(w, r, req.ListingIDs, result, err)
			return
		}
		respondServiceError(w, r, h.logger, err, "decide_listings")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// partialDecisionResponse reports a batch that stopped on a store error.
// Listings in Applied were committed and their owners notified; listings in
// Unprocessed were never attempted and can be resubmitted.
type partialDecisionResponse struct {
	Error        string                   `json:"error"`
	AppliedCount int                      `json:"applied_count"`
	Applied      []uuid.UUID              `json:"applied"`
	Skipped      []moderation.SkippedItem `json:"skipped"`
	Unprocessed  []uuid.UUID              `json:"unprocessed"`
}

func (h *ModerationHandler) respondPartialDecision(w http.ResponseWriter, r *http.Request, requested []uuid.UUID, result *moderation.TransitionResult, err error) {
	done := make(map[uuid.UUID]bool, len(result.Applied)+len(result.Skipped))
	for _, id := range result.Applied {
		done[id] = true
	}
	for _, s := range result.Skipped {
		done[s.ID] = true
	}
	unprocessed := []uuid.UUID{}
	for _, id := range requested {
		if !done[id] {
			done[id] = true
			unprocessed = append(unprocessed, id)
		}
	}

	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "Internal server error"
	}
	h.logger.Error("Decision batch stopped early", map[string]interface{}{
		"error":       err.Error(),
		"applied":     result.Applied,
		"skipped":     len(result.Skipped),
		"unprocessed": unprocessed,
		"request_id":  middleware.RequestIDFromContext(r.Context()),
	})
	respondJSON(w, status, partialDecisionResponse{
		Error:        message,
		AppliedCount: result.AppliedCount,
		Applied:      result.Applied,
		Skipped:      result.Skipped,
		Unprocessed:  unprocessed,
	})
}

// SetPriority overrides the computed queue priority of a listing.
// PATCH /admin/listings/{id}/priority
func (h *ModerationHandler) SetPriority(w http.ResponseWriter, r *http.Request) {
	actorID, ok := callerID(w, r)
	if !ok {
		return
	}
	listingID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req priorityRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	listing, err := h.service.SetListingPriority(r.Context(), listingID, domain.Priority(req.Priority), actorID)
	if err != nil {
		respondServiceError(w, r, h.logger, err, "set_listing_priority")
		return
	}
	respondJSON(w, http.StatusOK, listing)
}

// Reset returns an edited listing to PENDING.
// POST /admin/listings/{id}/reset
func (h *ModerationHandler) Reset(w http.ResponseWriter, r *http.Request) {
	actorID, ok := callerID(w, r)
	if !ok {
		return
	}
	listingID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	listing, changed, err := h.service.ResetForReview(r.Context(), listingID, actorID)
	if err != nil {
		respondServiceError(w, r, h.logger, err, "reset_for_review")
		return
	}
	respondJSON(w, http.StatusOK, resetResponse{Listing: listing, Changed: changed})
}
