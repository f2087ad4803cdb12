package handler

import (
	"net/http"

	"marketmod/internal/domain"
	"marketmod/internal/verification"
	"marketmod/pkg/logger"
	"marketmod/pkg/validator"
)

// VerificationHandler serves document submission and review.
type VerificationHandler struct {
	ledger    *verification.Ledger
	validator *validator.Validator
	logger    logger.Logger
}

func NewVerificationHandler(ledger *verification.Ledger, val *validator.Validator, log logger.Logger) *VerificationHandler {
	return &VerificationHandler{ledger: ledger, validator: val, logger: log}
}

type reviewRequest struct {
	Outcome string `json:"outcome" validate:"required,oneof=APPROVE REJECT"`
	Reason  string `json:"reason" validate:"max=2000"`
}

type submitDocumentRequest struct {
	DocumentType string `json:"document_type" validate:"required,notblank,max=64"`
}

type recomputeResponse struct {
	UserID        string                   `json:"user_id"`
	PreviousLevel domain.VerificationLevel `json:"previous_level"`
	Level         domain.VerificationLevel `json:"level"`
}

// Review approves or rejects a pending document.
// POST /admin/documents/{id}/review
func (h *VerificationHandler) Review(w http.ResponseWriter, r *http.Request) {
	reviewerID, ok := callerID(w, r)
	if !ok {
		return
	}
	docID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req reviewRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	result, err := h.ledger.ReviewDocument(r.Context(), docID, verification.Outcome(req.Outcome), reviewerID, req.Reason)
	if err != nil {
		respondServiceError(w, r, h.logger, err, "review_document")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Recompute re-derives a user's trust tier from their documents.
// POST /admin/users/{id}/trust-tier/recompute
func (h *VerificationHandler) Recompute(w http.ResponseWriter, r *http.Request) {
	actorID, ok := callerID(w, r)
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	previous, level, err := h.ledger.RecomputeTrustTierBy(r.Context(), userID, actorID)
	if err != nil {
		respondServiceError(w, r, h.logger, err, "recompute_trust_tier")
		return
	}
	respondJSON(w, http.StatusOK, recomputeResponse{
		UserID:        userID.String(),
		PreviousLevel: previous,
		Level:         level,
	})
}

// Submit records a new document for the caller, replacing any pending or
// rejected document of the same type.
// POST /documents
func (h *VerificationHandler) Submit(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	var req submitDocumentRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	doc, err := h.ledger.SubmitDocument(r.Context(), userID, req.DocumentType)
	if err != nil {
		respondServiceError(w, r, h.logger, err, "submit_document")
		return
	}
	respondJSON(w, http.StatusCreated, doc)
}

// List returns the caller's documents.
// GET /documents
func (h *VerificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	docs, err := h.ledger.ListDocuments(r.Context(), userID)
	if err != nil {
		respondServiceError(w, r, h.logger, err, "list_documents")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"documents": docs})
}
