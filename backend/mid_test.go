package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

// ============================================================================
// MIDDLEWARE AND ROUTING TEST SUITE
// ============================================================================

func TestMiddlewareAndRoutingSuite(t *testing.T) {
	s := &server{
		runner:  newMemoryMatcher(t, memoryRepo()),
		hub:     newHub(testLogger(t)),
		now:     fixedNow,
		origins: []string{"http://localhost:5173"},
		log:     testLogger(t),
	}
	routes := s.routes()

	t.Run("CORS", func(t *testing.T) {
		testCORS(t, routes)
	})
	t.Run("URL Routing", func(t *testing.T) {
		testURLRouting(t, routes)
	})
}

func testCORS(t *testing.T, routes http.Handler) {
	t.Run("preflight from allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/run-round", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")
		w := httptest.NewRecorder()
		routes.ServeHTTP(w, req)

		assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
	})

	t.Run("unknown origin gets no allow header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "http://evil.example")
		w := httptest.NewRecorder()
		routes.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func testURLRouting(t *testing.T, routes http.Handler) {
	t.Run("health", func(t *testing.T) {
		w := httptest.NewRecorder()
		routes.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	})

	t.Run("request id is generated", func(t *testing.T) {
		w := httptest.NewRecorder()
		routes.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Len(t, w.Header().Get(requestIDHeader), 36)
	})

	t.Run("request id is propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(requestIDHeader, "abc-123")
		w := httptest.NewRecorder()
		routes.ServeHTTP(w, req)
		assert.Equal(t, "abc-123", w.Header().Get(requestIDHeader))
	})

	t.Run("metrics", func(t *testing.T) {
		w := httptest.NewRecorder()
		routes.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "go_goroutines")
	})

	t.Run("unknown path", func(t *testing.T) {
		w := httptest.NewRecorder()
		routes.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.JSONEq(t, `{"error":"not_found"}`, w.Body.String())
	})

	t.Run("wrong method", func(t *testing.T) {
		w := httptest.NewRecorder()
		routes.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/run-round", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
		assert.JSONEq(t, `{"error":"invalid_method"}`, w.Body.String())
	})

	t.Run("protected routes need a token", func(t *testing.T) {
		for _, tc := range []struct{ method, path string }{
			{http.MethodPost, "/pool/join"},
			{http.MethodGet, "/pool/status"},
			{http.MethodPost, "/matches/m1/interest"},
			{http.MethodPost, "/matches/m1/block"},
			{http.MethodPost, "/matches/m1/report"},
			{http.MethodGet, "/ws/notifications"},
		} {
			w := httptest.NewRecorder()
			routes.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))
			assert.Equal(t, http.StatusUnauthorized, w.Code, tc.path)
		}
	})
}
