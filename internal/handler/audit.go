package handler

import (
	"net/http"

	"marketmod/internal/audit"
	"marketmod/internal/domain"
	"marketmod/pkg/logger"

	"github.com/google/uuid"
)

type AuditHandler struct {
	service *audit.Service
	logger  logger.Logger
}

func NewAuditHandler(service *audit.Service, log logger.Logger) *AuditHandler {
	return &AuditHandler{service: service, logger: log}
}

// List browses audit records, newest first.
// GET /admin/audit?target_type=&target_id=&actor_id=&limit=&offset=
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.AuditFilter{TargetType: q.Get("target_type")}

	if v := q.Get("target_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid target_id")
			return
		}
		filter.TargetID = &id
	}
	if v := q.Get("actor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid actor_id")
			return
		}
		filter.ActorID = &id
	}

	var ok bool
	if filter.Limit, ok = queryInt(r, "limit", 0); !ok {
		respondError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	if filter.Offset, ok = queryInt(r, "offset", 0); !ok {
		respondError(w, http.StatusBadRequest, "Invalid offset")
		return
	}

	page, err := h.service.List(r.Context(), filter)
	if err != nil {
		respondServiceError(w, r, h.logger, err, "list_audit")
		return
	}
	respondJSON(w, http.StatusOK, page)
}
