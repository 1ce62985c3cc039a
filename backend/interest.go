package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"gitea.kood.tech/petrkubec/match-round/backend/matching"
)

type interestRequest struct {
	Action string `json:"action" validate:"required,oneof=interested pass"`
}

type interestNotifier interface {
	NotifyMutualInterest(ctx context.Context, to matching.Contact, partner profileCard) error
}

type cardLoader interface {
	Card(ctx context.Context, id string) (profileCard, error)
}

// recordInterest stores the caller's decision on a pairing and reports
// whether both sides are now interested. The pairing row stays locked
// until commit, so two members answering at once still see each other.
func recordInterest(ctx context.Context, db *sql.DB, matchID, userID, action string) (partnerID string, mutual bool, err error) {
	err = withTx(ctx, db, func(tx *sql.Tx) error {
		var err error
		if partnerID, err = lockMatchPartner(ctx, tx, matchID, userID); err != nil {
			return err
		}

		if action == "pass" {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO match_interest (match_id, user_id, passed)
				VALUES ($1, $2, TRUE)
				ON CONFLICT (match_id, user_id) DO UPDATE SET passed = TRUE, updated_at = NOW()
			`, matchID, userID)
			return err
		}

		if _, err = tx.ExecContext(ctx, `
			INSERT INTO match_interest (match_id, user_id, interested)
			VALUES ($1, $2, TRUE)
			ON CONFLICT (match_id, user_id) DO UPDATE SET interested = TRUE, updated_at = NOW()
		`, matchID, userID); err != nil {
			return err
		}

		err = tx.QueryRowContext(ctx, `
			SELECT interested FROM match_interest WHERE match_id = $1 AND user_id = $2
		`, matchID, partnerID).Scan(&mutual)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	})
	return partnerID, mutual, err
}

// POST /matches/{id}/interest {"action": "interested" | "pass"}
func interestHandler(db *sql.DB, cards cardLoader, notifier interestNotifier, bg *sync.WaitGroup, log *zap.Logger) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		userID := userIDFromContext(r.Context())
		matchID := chi.URLParam(r, "id")

		var req interestRequest
		if err := decodeJSON(r, &req); err != nil {
			writeDecodeError(w, err)
			return
		}

		partnerID, mutual, err := recordInterest(r.Context(), db, matchID, userID, req.Action)
		if errors.Is(err, errNotYourMatch) {
			writeError(w, http.StatusForbidden, "not_your_match")
			return
		} else if err != nil {
			log.Error("recording interest", zap.String("match_id", matchID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		if mutual {
			bg.Add(1)
			go func(ctx context.Context) {
				defer bg.Done()
				notifyMutual(ctx, cards, notifier, userID, partnerID, log)
			}(context.WithoutCancel(r.Context()))
		}

		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "mutual": mutual})
	})
}

// notifyMutual tells both members. Failures are logged and never reach the
// caller.
func notifyMutual(ctx context.Context, cards cardLoader, notifier interestNotifier, a, b string, log *zap.Logger) {
	cardA, errA := cards.Card(ctx, a)
	cardB, errB := cards.Card(ctx, b)
	if err := errors.Join(errA, errB); err != nil {
		log.Warn("mutual interest: loading profiles", zap.Error(err))
		return
	}
	if err := notifier.NotifyMutualInterest(ctx, cardA.contact(), cardB); err != nil {
		log.Warn("mutual interest notification failed", zap.String("user_id", a), zap.Error(err))
	}
	if err := notifier.NotifyMutualInterest(ctx, cardB.contact(), cardA); err != nil {
		log.Warn("mutual interest notification failed", zap.String("user_id", b), zap.Error(err))
	}
}
