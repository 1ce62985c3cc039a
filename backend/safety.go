package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type reportRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

// blockMatchPartner records that userID blocks their partner in matchID.
// Blocks are permanent and keep the two apart in every later round.
func blockMatchPartner(ctx context.Context, db *sql.DB, matchID, userID string) (string, error) {
	var partnerID string
	err := withTx(ctx, db, func(tx *sql.Tx) error {
		var err error
		if partnerID, err = lockMatchPartner(ctx, tx, matchID, userID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO blocks (blocker_id, blocked_id)
			VALUES ($1, $2)
			ON CONFLICT (blocker_id, blocked_id) DO NOTHING
		`, userID, partnerID)
		return err
	})
	return partnerID, err
}

// reportMatchPartner files a report against userID's partner in matchID.
func reportMatchPartner(ctx context.Context, db *sql.DB, matchID, userID, reason string) (string, error) {
	id := uuid.NewString()
	err := withTx(ctx, db, func(tx *sql.Tx) error {
		partnerID, err := lockMatchPartner(ctx, tx, matchID, userID)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO reports (id, match_id, reporter_id, reported_id, reason)
			VALUES ($1, $2, $3, $4, $5)
		`, id, matchID, userID, partnerID, reason)
		return err
	})
	return id, err
}

// POST /matches/{id}/block
func blockMatchHandler(db *sql.DB, log *zap.Logger) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		userID := userIDFromContext(r.Context())
		matchID := chi.URLParam(r, "id")

		partnerID, err := blockMatchPartner(r.Context(), db, matchID, userID)
		if errors.Is(err, errNotYourMatch) {
			writeError(w, http.StatusForbidden, "not_your_match")
			return
		} else if err != nil {
			log.Error("blocking match partner", zap.String("match_id", matchID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		log.Info("member blocked", zap.String("user_id", userID), zap.String("blocked_id", partnerID))
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "blocked": true})
	})
}

// POST /matches/{id}/report {"reason": "..."}
func reportMatchHandler(db *sql.DB, log *zap.Logger) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		userID := userIDFromContext(r.Context())
		matchID := chi.URLParam(r, "id")

		var req reportRequest
		if err := decodeJSON(r, &req); err != nil {
			writeDecodeError(w, err)
			return
		}
		reason := strings.TrimSpace(req.Reason)
		if reason == "" {
			writeError(w, http.StatusBadRequest, "invalid_request")
			return
		}

		id, err := reportMatchPartner(r.Context(), db, matchID, userID, reason)
		if errors.Is(err, errNotYourMatch) {
			writeError(w, http.StatusForbidden, "not_your_match")
			return
		} else if err != nil {
			log.Error("filing report", zap.String("match_id", matchID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "reportId": id})
	})
}
