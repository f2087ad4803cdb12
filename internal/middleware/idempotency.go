// Package middleware provides shared HTTP middleware utilities.
package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	apperrors "marketmod/pkg/errors"
	"marketmod/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// IdempotencyMiddleware replays the stored response for a repeated
// Idempotency-Key on unsafe methods.
type IdempotencyMiddleware struct {
	cache    redis.UniversalClient
	ttl      time.Duration
	wait     time.Duration
	required bool
	logger   logger.Logger
}

// NewIdempotencyMiddleware constructs an IdempotencyMiddleware with a TTL.
// When required is false, requests without a key pass straight through.
func NewIdempotencyMiddleware(cache redis.UniversalClient, ttl time.Duration, required bool, log logger.Logger) *IdempotencyMiddleware {
	return &IdempotencyMiddleware{
		cache:    cache,
		ttl:      ttl,
		wait:     5 * time.Second,
		required: required,
		logger:   log,
	}
}

// Require guards POST/PUT/PATCH/DELETE requests. It expects the header:
// Idempotency-Key. Keys are scoped per caller and path.
func (m *IdempotencyMiddleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodPut &&
			r.Method != http.MethodPatch && r.Method != http.MethodDelete {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			if m.required {
				jsonError(w, http.StatusBadRequest, "Idempotency-Key header required")
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > 128 {
			jsonError(w, http.StatusBadRequest, "Idempotency-Key too long")
			return
		}

		caller := "anonymous"
		if id, ok := UserIDFromContext(r.Context()); ok && id != uuid.Nil {
			caller = id.String()
		}
		scope := fmt.Sprintf("%s:%s:%s:%s", caller, r.Method, r.URL.Path, key)
		dataKey := "idempotency:data:" + scope
		lockKey := "idempotency:lock:" + scope

		// Fast path: cached response exists
		if handled := m.replayCached(w, r, dataKey); handled {
			return
		}

		ok, err := m.cache.SetNX(r.Context(), lockKey, RequestIDFromContext(r.Context()), m.ttl).Result()
		if err != nil {
			m.logger.Error("Idempotency lock failed", map[string]interface{}{
				"error":      err.Error(),
				"request_id": RequestIDFromContext(r.Context()),
			})
			jsonError(w, http.StatusServiceUnavailable, "Idempotency check unavailable")
			return
		}

		if !ok {
			// Another request with this key is in flight; wait for its response.
			deadline := time.Now().Add(m.wait)
			for time.Now().Before(deadline) {
				select {
				case <-r.Context().Done():
					return
				case <-time.After(100 * time.Millisecond):
				}
				if handled := m.replayCached(w, r, dataKey); handled {
					return
				}
			}
			jsonError(w, http.StatusConflict, apperrors.ErrDuplicateRequest.Error())
			return
		}
		defer m.cache.Del(r.Context(), lockKey)

		cw := newCaptureWriter(w, 1<<20) // 1MB cap
		next.ServeHTTP(cw, r)

		if err := m.cacheResponse(r, dataKey, cw); err != nil {
			m.logger.Warn("Idempotent response not cached", map[string]interface{}{
				"error":      err.Error(),
				"request_id": RequestIDFromContext(r.Context()),
			})
		}
	})
}

type capturedResponse struct {
	Status  int               `json:"status"`
	Body    []byte            `json:"body"`
	Headers map[string]string `json:"headers"`
}

func (m *IdempotencyMiddleware) replayCached(w http.ResponseWriter, r *http.Request, dataKey string) bool {
	payload, err := m.cache.Get(r.Context(), dataKey).Bytes()
	if err != nil {
		return false
	}

	var cr capturedResponse
	if err := json.Unmarshal(payload, &cr); err != nil {
		return false
	}

	for k, v := range cr.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(cr.Status)
	_, _ = w.Write(cr.Body)
	return true
}

func (m *IdempotencyMiddleware) cacheResponse(r *http.Request, dataKey string, cw *captureWriter) error {
	// Server errors and truncated bodies are not replayed
	if cw.status == 0 || cw.status >= http.StatusInternalServerError || cw.truncated {
		return nil
	}

	payload, err := json.Marshal(capturedResponse{
		Status:  cw.status,
		Body:    cw.buf,
		Headers: cw.headers,
	})
	if err != nil {
		return err
	}

	return m.cache.Set(r.Context(), dataKey, payload, m.ttl).Err()
}

type captureWriter struct {
	http.ResponseWriter
	buf       []byte
	limit     int
	status    int
	truncated bool
	headers   map[string]string
}

func newCaptureWriter(w http.ResponseWriter, limit int) *captureWriter {
	return &captureWriter{
		ResponseWriter: w,
		buf:            make([]byte, 0, 1024),
		limit:          limit,
		headers:        make(map[string]string),
	}
}

func (w *captureWriter) WriteHeader(statusCode int) {
	if w.status != 0 {
		return
	}
	w.status = statusCode
	for k, v := range w.ResponseWriter.Header() {
		if len(v) > 0 {
			w.headers[k] = v[0]
		}
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *captureWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	space := w.limit - len(w.buf)
	if len(p) > space {
		w.truncated = true
		if space > 0 {
			w.buf = append(w.buf, p[:space]...)
		}
	} else {
		w.buf = append(w.buf, p...)
	}
	return w.ResponseWriter.Write(p)
}
