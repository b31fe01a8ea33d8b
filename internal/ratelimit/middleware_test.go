package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumlab/quorum/internal/model"
)

// stubLimiter returns a scripted decision.
type stubLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (s *stubLimiter) Allow(_ context.Context, key string) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allow, s.err
}

func (s *stubLimiter) Close() error { return nil }

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func constKey(key string) KeyFunc {
	return func(*http.Request) string { return key }
}

func TestMiddlewareAllows(t *testing.T) {
	lim := &stubLimiter{allow: true}
	h := Middleware(lim, constKey("k"), nil)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"k"}, lim.keys)
}

func TestMiddlewareDenies(t *testing.T) {
	lim := &stubLimiter{allow: false}
	h := Middleware(lim, constKey("k"), func(*http.Request) string { return "req-123" })(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	var body model.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, model.ErrCodeRateLimited, body.Error.Code)
	assert.Equal(t, "req-123", body.Meta.RequestID)
}

func TestMiddlewareFailsOpenOnLimiterError(t *testing.T) {
	lim := &stubLimiter{allow: false, err: errors.New("backend down")}
	h := Middleware(lim, constKey("k"), nil)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareSkipsWithoutKey(t *testing.T) {
	lim := &stubLimiter{allow: false}
	h := Middleware(lim, constKey(""), nil)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, lim.keys, "limiter must not be consulted without a key")
}

func TestMiddlewareNilLimiter(t *testing.T) {
	h := Middleware(nil, constKey("k"), nil)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIPKeyFunc(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.9:54321"
	assert.Equal(t, "203.0.113.9", IPKeyFunc(r))

	// A spoofed X-Forwarded-For must not change the key.
	r.Header.Set("X-Forwarded-For", "10.0.0.1")
	assert.Equal(t, "203.0.113.9", IPKeyFunc(r))

	r.RemoteAddr = "noport"
	assert.Equal(t, "noport", IPKeyFunc(r))
}
