package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// AUTHENTICATION TEST SUITE
// ============================================================================

func TestAuthenticationSuite(t *testing.T) {
	t.Run("Token Parsing", func(t *testing.T) {
		testTokenParsing(t)
	})
	t.Run("Authenticate Middleware", func(t *testing.T) {
		testAuthenticate(t)
	})
	t.Run("Require Admin", func(t *testing.T) {
		testRequireAdmin(t)
	})
	t.Run("Login", func(t *testing.T) {
		testLogin(t)
	})
}

func testTokenParsing(t *testing.T) {
	valid := tokenFor(t, "user-1")

	t.Run("Valid Authorization header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer "+valid)
		id, ok := getUserIDFromRequest(req)
		assert.True(t, ok)
		assert.Equal(t, "user-1", id)
	})

	t.Run("Valid token query parameter", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test?token="+valid, nil)
		id, ok := getUserIDFromRequest(req)
		assert.True(t, ok)
		assert.Equal(t, "user-1", id)
	})

	t.Run("No authentication", func(t *testing.T) {
		_, ok := getUserIDFromRequest(httptest.NewRequest(http.MethodGet, "/test", nil))
		assert.False(t, ok)
	})

	t.Run("Invalid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test?token=invalid_token", nil)
		_, ok := getUserIDFromRequest(req)
		assert.False(t, ok)
	})

	t.Run("Expired token", func(t *testing.T) {
		expired, err := issueToken("user-1", -time.Minute)
		require.NoError(t, err)
		_, ok := parseUserIDFromJWT(expired)
		assert.False(t, ok)
	})

	t.Run("Wrong secret", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": "user-1"})
		signed, err := token.SignedString([]byte("someone-else"))
		require.NoError(t, err)
		_, ok := parseUserIDFromJWT(signed)
		assert.False(t, ok)
	})

	t.Run("Numeric user id is rejected", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": 42})
		signed, err := token.SignedString(jwtSecret)
		require.NoError(t, err)
		_, ok := parseUserIDFromJWT(signed)
		assert.False(t, ok)
	})
}

func testAuthenticate(t *testing.T) {
	var seen string
	h := authenticate(func(w http.ResponseWriter, r *http.Request) {
		seen = userIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not a bearer token", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "Bearer " + tokenFor(t, "user-7"), http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h(w, req)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusNoContent {
				assert.Equal(t, "user-7", seen)
			} else {
				assert.Empty(t, seen)
			}
		})
	}
}

func testRequireAdmin(t *testing.T) {
	lookup := func(_ context.Context, id string) (bool, error) {
		if id == "down" {
			return false, errors.New("db down")
		}
		return id == "root", nil
	}
	called := false
	h := authenticate(requireAdmin(lookup, testLogger(t), func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	for _, tc := range []struct {
		user   string
		status int
	}{
		{"root", http.StatusOK},
		{"member", http.StatusForbidden},
		{"down", http.StatusInternalServerError},
	} {
		called = false
		req := httptest.NewRequest(http.MethodPost, "/run-round", nil)
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, tc.user))
		w := httptest.NewRecorder()
		h(w, req)
		assert.Equal(t, tc.status, w.Code, tc.user)
		assert.Equal(t, tc.status == http.StatusOK, called, tc.user)
	}
}

func testLogin(t *testing.T) {
	db := requireDB(t)
	insertProfile(t, TestProfile{ID: "login-user", Email: "login@example.com"})
	h := loginHandler(db, testLogger(t))

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"valid credentials", `{"email":"login@example.com","password":"password123"}`, http.StatusOK},
		{"wrong password", `{"email":"login@example.com","password":"nope"}`, http.StatusUnauthorized},
		{"unknown email", `{"email":"ghost@example.com","password":"password123"}`, http.StatusUnauthorized},
		{"not an email", `{"email":"login","password":"password123"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			h(w, req)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.status == http.StatusOK {
				assert.Contains(t, w.Body.String(), `"id":"login-user"`)
			}
		})
	}
}
