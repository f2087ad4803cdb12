package handler

import (
	"net/http"

	"marketmod/internal/middleware"

	"github.com/gorilla/mux"
)

// Handlers groups the HTTP handlers served by cmd/moderation.
type Handlers struct {
	Moderation   *ModerationHandler
	Verification *VerificationHandler
	Notification *NotificationHandler
	Audit        *AuditHandler
}

// Register mounts every route on api, which is expected to be the /api/v1
// subrouter. authenticate guards all routes; idempotent, when non-nil, wraps
// the decision endpoint.
func (h Handlers) Register(api *mux.Router, authenticate, idempotent func(http.Handler) http.Handler) {
	if idempotent == nil {
		idempotent = func(next http.Handler) http.Handler { return next }
	}

	// Admin routes
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(authenticate)
	admin.Use(middleware.RequireAdmin)
	admin.HandleFunc("/moderation/queue", h.Moderation.Queue).Methods("GET")
	admin.HandleFunc("/moderation/stats", h.Moderation.Stats).Methods("GET")
	admin.Handle("/moderation/decisions", idempotent(http.HandlerFunc(h.Moderation.Decide))).Methods("POST")
	admin.HandleFunc("/listings/{id}/priority", h.Moderation.SetPriority).Methods("PATCH")
	admin.HandleFunc("/listings/{id}/reset", h.Moderation.Reset).Methods("POST")
	admin.HandleFunc("/documents/{id}/review", h.Verification.Review).Methods("POST")
	admin.HandleFunc("/users/{id}/trust-tier/recompute", h.Verification.Recompute).Methods("POST")
	admin.HandleFunc("/audit", h.Audit.List).Methods("GET")

	// Authenticated user routes
	docs := api.PathPrefix("/documents").Subrouter()
	docs.Use(authenticate)
	docs.HandleFunc("", h.Verification.Submit).Methods("POST")
	docs.HandleFunc("", h.Verification.List).Methods("GET")

	notes := api.PathPrefix("/notifications").Subrouter()
	notes.Use(authenticate)
	notes.HandleFunc("", h.Notification.List).Methods("GET")
	notes.HandleFunc("/read-all", h.Notification.MarkAllRead).Methods("POST")
	notes.HandleFunc("/{id}/read", h.Notification.MarkRead).Methods("POST")
}
