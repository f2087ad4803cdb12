// Package handler exposes the moderation, verification, notification and
// audit services over HTTP.
package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"marketmod/internal/middleware"
	"marketmod/pkg/errors"
	"marketmod/pkg/logger"
	"marketmod/pkg/validator"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 1 << 20

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondValidationErrors(w http.ResponseWriter, errs map[string]string) {
	respondJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error":             "Validation failed",
		"validation_errors": errs,
	})
}

// statusFor maps a service error kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errors.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrInvalidState), errors.Is(err, errors.ErrConcurrentModification):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondServiceError writes err with its mapped status. Internal errors are
// logged and never echoed to the client.
func respondServiceError(w http.ResponseWriter, r *http.Request, log logger.Logger, err error, operation string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error("Request failed", map[string]interface{}{
			"operation":  operation,
			"error":      err.Error(),
			"request_id": middleware.RequestIDFromContext(r.Context()),
		})
		respondError(w, status, "Internal server error")
		return
	}
	respondError(w, status, err.Error())
}

// decodeJSON reads a bounded JSON body into req and validates it. It writes
// the error response itself and reports whether the handler may continue.
func decodeJSON(w http.ResponseWriter, r *http.Request, val *validator.Validator, req interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil {
		if err == io.EOF {
			respondError(w, http.StatusBadRequest, "Request body is required")
			return false
		}
		respondError(w, http.StatusBadRequest, "Invalid request body format")
		return false
	}
	if errs := val.ValidateStructured(req); len(errs) > 0 {
		respondValidationErrors(w, errs)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil || id == uuid.Nil {
		respondError(w, http.StatusBadRequest, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func callerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := middleware.UserIDFromContext(r.Context())
	if !ok || id == uuid.Nil {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return uuid.Nil, false
	}
	return id, true
}

// queryInt parses a non-negative integer query parameter, falling back to def.
func queryInt(r *http.Request, name string, def int) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
