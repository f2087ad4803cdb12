package handler

import (
	"net/http"

	"marketmod/internal/domain"
	"marketmod/internal/notification"
	"marketmod/pkg/logger"
)

type NotificationHandler struct {
	service *notification.Service
	logger  logger.Logger
}

func NewNotificationHandler(service *notification.Service, log logger.Logger) *NotificationHandler {
	return &NotificationHandler{service: service, logger: log}
}

// List returns the caller's inbox.
// GET /notifications?unread=true&limit=&offset=
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	limit, ok := queryInt(r, "limit", 0)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	offset, ok := queryInt(r, "offset", 0)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid offset")
		return
	}

	inbox, err := h.service.List(r.Context(), userID, domain.NotificationFilter{
		UnreadOnly: r.URL.Query().Get("unread") == "true",
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		respondServiceError(w, r, h.logger, err, "list_notifications")
		return
	}
	respondJSON(w, http.StatusOK, inbox)
}

// MarkRead marks one notification read.
// POST /notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.MarkRead(r.Context(), userID, id); err != nil {
		respondServiceError(w, r, h.logger, err, "mark_notification_read")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

// MarkAllRead marks every unread notification of the caller read.
// POST /notifications/read-all
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	n, err := h.service.MarkAllRead(r.Context(), userID)
	if err != nil {
		respondServiceError(w, r, h.logger, err, "mark_all_notifications_read")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"updated": n})
}
