package main

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"gitea.kood.tech/petrkubec/match-round/backend/matching"
)

// Pool status as the dashboard shows it.
const (
	statusNotJoined = "not_joined"
	statusQueued    = "queued"
	statusMatched   = "matched"
)

type joinPoolRequest struct {
	RoundKey string `json:"roundKey" validate:"omitempty,max=64"`
}

type poolStatusResponse struct {
	RoundKey string `json:"roundKey"`
	Status   string `json:"status"`
	MatchID  string `json:"matchId,omitempty"`
}

func roundKeyOr(key string, now func() time.Time) string {
	if key != "" {
		return key
	}
	return matching.CurrentRoundKey(now())
}

// POST /pool/join registers the caller for a round (current week by default).
// Joining twice is a no-op.
func joinPoolHandler(db *sql.DB, now func() time.Time, log *zap.Logger) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		userID := userIDFromContext(r.Context())

		var req joinPoolRequest
		if err := decodeJSON(r, &req); err != nil {
			writeDecodeError(w, err)
			return
		}
		roundKey := roundKeyOr(req.RoundKey, now)

		var onboarded, excluded bool
		err := db.QueryRowContext(r.Context(),
			"SELECT onboarded, is_excluded FROM profiles WHERE id = $1", userID,
		).Scan(&onboarded, &excluded)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			writeError(w, http.StatusNotFound, "profile_not_found")
			return
		case err != nil:
			log.Error("loading profile", zap.String("user_id", userID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		case excluded:
			writeError(w, http.StatusForbidden, "excluded")
			return
		case !onboarded:
			writeError(w, http.StatusForbidden, "incomplete_profile")
			return
		}

		if _, err := db.ExecContext(r.Context(), `
			INSERT INTO matching_pool (user_id, round_key)
			VALUES ($1, $2)
			ON CONFLICT (user_id, round_key) DO NOTHING
		`, userID, roundKey); err != nil {
			log.Error("joining pool", zap.String("user_id", userID), zap.String("round_key", roundKey), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		writeJSON(w, http.StatusOK, poolStatusResponse{RoundKey: roundKey, Status: statusQueued})
	})
}

// GET /pool/status?roundKey=2026-W42
func poolStatusHandler(db *sql.DB, now func() time.Time, log *zap.Logger) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		userID := userIDFromContext(r.Context())
		roundKey := roundKeyOr(r.URL.Query().Get("roundKey"), now)
		resp := poolStatusResponse{RoundKey: roundKey, Status: statusNotJoined}

		var matchID string
		err := db.QueryRowContext(r.Context(), `
			SELECT id FROM matches
			WHERE round_key = $1 AND (user1_id = $2 OR user2_id = $2)
			LIMIT 1
		`, roundKey, userID).Scan(&matchID)
		switch {
		case err == nil:
			resp.Status = statusMatched
			resp.MatchID = matchID
			writeJSON(w, http.StatusOK, resp)
			return
		case !errors.Is(err, sql.ErrNoRows):
			log.Error("loading match", zap.String("user_id", userID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		var queued bool
		if err := db.QueryRowContext(r.Context(), `
			SELECT EXISTS (SELECT 1 FROM matching_pool WHERE user_id = $1 AND round_key = $2)
		`, userID, roundKey).Scan(&queued); err != nil {
			log.Error("loading pool entry", zap.String("user_id", userID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		if queued {
			resp.Status = statusQueued
		}
		writeJSON(w, http.StatusOK, resp)
	})
}
