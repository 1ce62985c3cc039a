package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"gitea.kood.tech/petrkubec/match-round/backend/matching"
)

// pgRepository runs rounds against Postgres. Each round is one READ
// COMMITTED transaction whose first statement takes a transaction scoped
// advisory lock on the round key, so a second run for the same round
// blocks until the first commits and then reads its pairings.
type pgRepository struct {
	db *sql.DB
}

func newPGRepository(db *sql.DB) *pgRepository {
	return &pgRepository{db: db}
}

func (r *pgRepository) InRound(ctx context.Context, roundKey string, fn func(ctx context.Context, s matching.Store) error) error {
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "match-round:"+roundKey); err != nil {
			return fmt.Errorf("locking round %s: %w", roundKey, err)
		}
		return fn(ctx, &pgStore{tx: tx})
	})
	if errors.Is(err, errCommit) {
		return fmt.Errorf("%w: %w", matching.ErrPersistence, err)
	}
	return err
}

type pgStore struct {
	tx *sql.Tx
}

func idStrings(ids []matching.CandidateID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func (s *pgStore) queryIDs(ctx context.Context, query string, args ...any) ([]matching.CandidateID, error) {
	rows, err := s.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []matching.CandidateID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, matching.CandidateID(id))
	}
	return ids, rows.Err()
}

func (s *pgStore) ListPool(ctx context.Context, roundKey string) ([]matching.CandidateID, error) {
	ids, err := s.queryIDs(ctx, `
		SELECT user_id
		FROM matching_pool
		WHERE round_key = $1
		ORDER BY joined_at, user_id
	`, roundKey)
	if err != nil {
		return nil, fmt.Errorf("listing pool: %w", err)
	}
	return ids, nil
}

func (s *pgStore) ListBlocks(ctx context.Context) ([]matching.BlockEdge, error) {
	rows, err := s.tx.QueryContext(ctx, `SELECT blocker_id, blocked_id FROM blocks`)
	if err != nil {
		return nil, fmt.Errorf("listing blocks: %w", err)
	}
	defer rows.Close()

	var out []matching.BlockEdge
	for rows.Next() {
		var blocker, blocked string
		if err := rows.Scan(&blocker, &blocked); err != nil {
			return nil, fmt.Errorf("listing blocks: %w", err)
		}
		out = append(out, matching.BlockEdge{Blocker: matching.CandidateID(blocker), Blocked: matching.CandidateID(blocked)})
	}
	return out, rows.Err()
}

func (s *pgStore) ListAllPairings(ctx context.Context) ([]matching.Pairing, error) {
	rows, err := s.tx.QueryContext(ctx, `SELECT id, round_key, user1_id, user2_id, created_at FROM matches`)
	if err != nil {
		return nil, fmt.Errorf("listing pairings: %w", err)
	}
	defer rows.Close()

	var out []matching.Pairing
	for rows.Next() {
		var p matching.Pairing
		var u1, u2 string
		if err := rows.Scan(&p.ID, &p.RoundKey, &u1, &u2, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("listing pairings: %w", err)
		}
		p.User1, p.User2 = matching.CandidateID(u1), matching.CandidateID(u2)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *pgStore) ListAdminFlags(ctx context.Context, ids []matching.CandidateID) ([]matching.CandidateID, error) {
	out, err := s.queryIDs(ctx, `SELECT id FROM profiles WHERE is_admin AND id = ANY($1)`, pq.Array(idStrings(ids)))
	if err != nil {
		return nil, fmt.Errorf("listing admins: %w", err)
	}
	return out, nil
}

func (s *pgStore) ListExcludedFlags(ctx context.Context, ids []matching.CandidateID) ([]matching.CandidateID, error) {
	out, err := s.queryIDs(ctx, `SELECT id FROM profiles WHERE is_excluded AND id = ANY($1)`, pq.Array(idStrings(ids)))
	if err != nil {
		return nil, fmt.Errorf("listing excluded: %w", err)
	}
	return out, nil
}

func (s *pgStore) ListQuestionTypes(ctx context.Context) (map[string]matching.AnswerType, error) {
	rows, err := s.tx.QueryContext(ctx, `SELECT id, type FROM questionnaire_questions`)
	if err != nil {
		return nil, fmt.Errorf("listing questions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]matching.AnswerType)
	for rows.Next() {
		var id, typ string
		if err := rows.Scan(&id, &typ); err != nil {
			return nil, fmt.Errorf("listing questions: %w", err)
		}
		out[id] = matching.AnswerType(typ)
	}
	return out, rows.Err()
}

func (s *pgStore) ListAnswers(ctx context.Context, ids []matching.CandidateID) (map[matching.CandidateID]matching.Answers, error) {
	rows, err := s.tx.QueryContext(ctx, `
		SELECT user_id, question_id, answer
		FROM questionnaire_answers
		WHERE user_id = ANY($1)
	`, pq.Array(idStrings(ids)))
	if err != nil {
		return nil, fmt.Errorf("listing answers: %w", err)
	}
	defer rows.Close()

	out := make(map[matching.CandidateID]matching.Answers)
	for rows.Next() {
		var user, question, answer string
		if err := rows.Scan(&user, &question, &answer); err != nil {
			return nil, fmt.Errorf("listing answers: %w", err)
		}
		id := matching.CandidateID(user)
		if out[id] == nil {
			out[id] = matching.Answers{}
		}
		out[id][question] = answer
	}
	return out, rows.Err()
}

func (s *pgStore) ListGenderAndPreference(ctx context.Context, ids []matching.CandidateID) (map[matching.CandidateID]matching.Identity, error) {
	rows, err := s.tx.QueryContext(ctx, `
		SELECT id, COALESCE(gender, ''), COALESCE(match_preference, '')
		FROM profiles
		WHERE id = ANY($1)
	`, pq.Array(idStrings(ids)))
	if err != nil {
		return nil, fmt.Errorf("listing identities: %w", err)
	}
	defer rows.Close()

	out := make(map[matching.CandidateID]matching.Identity)
	for rows.Next() {
		var id string
		var ident matching.Identity
		if err := rows.Scan(&id, &ident.Gender, &ident.Preference); err != nil {
			return nil, fmt.Errorf("listing identities: %w", err)
		}
		out[matching.CandidateID(id)] = ident
	}
	return out, rows.Err()
}

// InsertPairings streams the batch with COPY. Any failure aborts the
// surrounding transaction, so either every row lands or none does.
func (s *pgStore) InsertPairings(ctx context.Context, batch []matching.Pairing) error {
	if len(batch) == 0 {
		return nil
	}
	stmt, err := s.tx.PrepareContext(ctx, pq.CopyIn("matches", "id", "round_key", "user1_id", "user2_id", "created_at"))
	if err != nil {
		return fmt.Errorf("preparing copy: %w", err)
	}
	defer stmt.Close()

	for _, p := range batch {
		if _, err := stmt.ExecContext(ctx, p.ID, p.RoundKey, string(p.User1), string(p.User2), p.CreatedAt); err != nil {
			return fmt.Errorf("copying pairing %s: %w", p.ID, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("flushing copy: %w", err)
	}
	return nil
}
