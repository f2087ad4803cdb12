package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"marketmod/pkg/logger"
)

func redisOrSkip(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skip("Redis not available")
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestIdempotencyMiddleware_ConcurrentRequests(t *testing.T) {
	rdb := redisOrSkip(t)
	mw := NewIdempotencyMiddleware(rdb, 10*time.Second, true, logger.NewNop())

	var calls int32
	slowHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("success"))
	})
	wrapped := mw.Require(slowHandler)

	key := "test-key-" + uuid.NewString()
	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func(delay time.Duration) {
			defer wg.Done()
			time.Sleep(delay)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/moderation/decisions", nil)
			req.Header.Set("Idempotency-Key", key)
			w := httptest.NewRecorder()
			wrapped.ServeHTTP(w, req)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "success", w.Body.String())
		}(time.Duration(i) * 100 * time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestIdempotencyMiddleware_MissingKey(t *testing.T) {
	rdb := redisOrSkip(t)
	mw := NewIdempotencyMiddleware(rdb, time.Second, true, logger.NewNop())

	handler := mw.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without a key")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIdempotencyMiddleware_SafeMethodsPassThrough(t *testing.T) {
	mw := NewIdempotencyMiddleware(nil, time.Second, true, logger.NewNop())
	called := false
	handler := mw.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
	assert.Equal(t, http.StatusNoContent, w.Code)
}
