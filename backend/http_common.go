package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"gitea.kood.tech/petrkubec/match-round/backend/matching"
)

// --- Response helpers ---
func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

var validate = validator.New(validator.WithRequiredStructEnabled())

var (
	errInvalidJSON    = errors.New("invalid_json")
	errInvalidRequest = errors.New("invalid_request")
)

// decodeJSON reads a JSON body into dst and validates its struct tags. An
// empty body decodes as the zero value.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %w", errInvalidJSON, err)
		}
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %w", errInvalidRequest, err)
	}
	return nil
}

// writeDecodeError maps a decodeJSON failure to its error code.
func writeDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errInvalidJSON) {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	writeError(w, http.StatusBadRequest, "invalid_request")
}

var errCommit = errors.New("commit failed")

// withTx wraps a function in a database transaction.
// - Ensures COMMIT on success, ROLLBACK on errors or panics.
// - A failed COMMIT is reported as errCommit.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}

	defer func() {
		// If the callback panics, make sure to rollback before re-panicking
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", errCommit, err)
	}
	return nil
}

// loadMatchForUpdate returns the pairing with the given id and takes a row
// lock (`FOR UPDATE`) so concurrent updates on the same pairing are applied
// one after another.
//   - Returns (nil, nil) if no row exists.
func loadMatchForUpdate(ctx context.Context, tx *sql.Tx, id string) (*matching.Pairing, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, round_key, user1_id, user2_id, created_at
		FROM matches
		WHERE id = $1
		FOR UPDATE
	`, id)

	var (
		p      matching.Pairing
		u1, u2 string
	)
	if err := row.Scan(&p.ID, &p.RoundKey, &u1, &u2, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	p.User1, p.User2 = matching.CandidateID(u1), matching.CandidateID(u2)
	return &p, nil
}

var errNotYourMatch = errors.New("not your match")

// lockMatchPartner locks the pairing and returns the caller's partner in it.
// Unknown pairings and pairings the caller is not part of both yield
// errNotYourMatch.
func lockMatchPartner(ctx context.Context, tx *sql.Tx, matchID, userID string) (string, error) {
	p, err := loadMatchForUpdate(ctx, tx, matchID)
	if err != nil {
		return "", err
	}
	me := matching.CandidateID(userID)
	if p == nil || !p.Has(me) {
		return "", errNotYourMatch
	}
	return string(p.Partner(me)), nil
}
