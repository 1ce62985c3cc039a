package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// UserIDKey is the key type for storing user ID in context
type UserIDKey string

const userIDKey UserIDKey = "userID"

var jwtSecret []byte

func issueToken(userID string, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(ttl).Unix(),
	})
	return token.SignedString(jwtSecret)
}

func parseUserIDFromJWT(tokenStr string) (string, bool) {
	claims := jwt.MapClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return "", false
	}

	id, ok := claims["user_id"].(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// getUserIDFromRequest reads the bearer token, falling back to ?token= for
// websocket clients that cannot set headers.
func getUserIDFromRequest(r *http.Request) (string, bool) {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return parseUserIDFromJWT(strings.TrimPrefix(auth, "Bearer "))
	}
	if q := r.URL.Query().Get("token"); q != "" {
		return parseUserIDFromJWT(q)
	}
	return "", false
}

func userIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

func authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		userID, ok := parseUserIDFromJWT(strings.TrimPrefix(authHeader, "Bearer "))
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	}
}

// adminLookup reports whether a user holds the admin flag.
type adminLookup func(ctx context.Context, userID string) (bool, error)

func dbAdminLookup(db *sql.DB) adminLookup {
	return func(ctx context.Context, userID string) (bool, error) {
		var isAdmin bool
		err := db.QueryRowContext(ctx, `SELECT is_admin FROM profiles WHERE id = $1`, userID).Scan(&isAdmin)
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return isAdmin, err
	}
}

// requireAdmin must run inside authenticate.
func requireAdmin(isAdmin adminLookup, log *zap.Logger, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := userIDFromContext(r.Context())
		ok, err := isAdmin(r.Context(), userID)
		if err != nil {
			log.Error("admin lookup failed", zap.String("user_id", userID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		if !ok {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r)
	}
}

func loginHandler(db *sql.DB, log *zap.Logger) http.HandlerFunc {
	type loginRequest struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := decodeJSON(r, &req); err != nil {
			writeDecodeError(w, err)
			return
		}

		var userID, passwordHash string
		err := db.QueryRowContext(r.Context(),
			"SELECT id, password_hash FROM profiles WHERE email = $1",
			strings.TrimSpace(req.Email),
		).Scan(&userID, &passwordHash)
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		} else if err != nil {
			log.Error("querying user", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(req.Password)); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}

		tokenString, err := issueToken(userID, 24*time.Hour)
		if err != nil {
			log.Error("generating token", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "token_generation_error")
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{"token": tokenString, "id": userID})
	}
}
