package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitea.kood.tech/petrkubec/match-round/backend/matching"
)

// ============================================================================
// INTEGRATION TEST SUITE
// ============================================================================

func TestIntegrationSuite(t *testing.T) {
	t.Run("Postgres Round", func(t *testing.T) {
		testPostgresRound(t)
	})
	t.Run("Atomic Batch", func(t *testing.T) {
		testAtomicBatch(t)
	})
	t.Run("Concurrent Runs", func(t *testing.T) {
		testConcurrentRuns(t)
	})
	t.Run("Pool And Interest Flow", func(t *testing.T) {
		testPoolAndInterestFlow(t)
	})
	t.Run("Block And Report Flow", func(t *testing.T) {
		testBlockAndReportFlow(t)
	})
}

func pgMatcher(t *testing.T) *matching.Matcher {
	return matching.New(newPGRepository(db), matching.DefaultConfig(),
		matching.WithLogger(testLogger(t)),
		matching.WithIDGenerator(uuid.NewString),
	)
}

func countMatches(t *testing.T, round string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM matches WHERE round_key = $1`, round).Scan(&n))
	return n
}

func testPostgresRound(t *testing.T) {
	requireDB(t)
	open := func(id, scale string) TestProfile {
		return TestProfile{ID: id, Gender: "woman", Preference: "everyone", Answers: map[string]string{"q1": scale}, Rounds: []string{testRound}}
	}
	insertProfile(t, open("x", "0"))
	insertProfile(t, open("y", "0.4"))
	insertProfile(t, open("z", "2.8"))
	insertProfile(t, TestProfile{ID: "boss", Admin: true, Gender: "man", Preference: "everyone", Rounds: []string{testRound}})
	insertProfile(t, TestProfile{ID: "benched", Excluded: true, Gender: "man", Preference: "everyone", Rounds: []string{testRound}})

	m := pgMatcher(t)
	res, err := m.RunRound(context.Background(), testRound)
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, 3, res.Eligible)
	assert.Equal(t, 1, res.Leftover)
	assert.InDelta(t, 0.9, res.Matches[0].Score, 1e-9)

	var u1, u2 string
	require.NoError(t, db.QueryRow(`SELECT user1_id, user2_id FROM matches WHERE round_key = $1`, testRound).Scan(&u1, &u2))
	assert.ElementsMatch(t, []string{"x", "y"}, []string{u1, u2})

	t.Run("rerun is a no-op", func(t *testing.T) {
		_, err := m.RunRound(context.Background(), testRound)
		assert.ErrorIs(t, err, matching.ErrInsufficientPool)
		assert.Equal(t, 1, countMatches(t, testRound))
	})

	t.Run("past pair and block carry into the next round", func(t *testing.T) {
		const next = "2026-W43"
		for _, id := range []string{"x", "y", "z"} {
			_, err := db.Exec(`INSERT INTO matching_pool (user_id, round_key) VALUES ($1, $2)`, id, next)
			require.NoError(t, err)
		}
		_, err := db.Exec(`INSERT INTO blocks (blocker_id, blocked_id) VALUES ('z', 'x')`)
		require.NoError(t, err)

		res, err := m.RunRound(context.Background(), next)
		require.NoError(t, err)
		require.Len(t, res.Matches, 1)
		assert.ElementsMatch(t, []matching.CandidateID{"y", "z"}, []matching.CandidateID{res.Matches[0].User1, res.Matches[0].User2})
		assert.Equal(t, 1, res.Stats.Blocked)
		assert.Equal(t, 1, res.Stats.PastPairs)
	})
}

func testAtomicBatch(t *testing.T) {
	requireDB(t)
	for i := 0; i < 4; i++ {
		insertProfile(t, TestProfile{ID: fmt.Sprintf("p%d", i)})
	}
	repo := newPGRepository(db)
	now := time.Now()

	err := repo.InRound(context.Background(), testRound, func(ctx context.Context, s matching.Store) error {
		return s.InsertPairings(ctx, []matching.Pairing{
			{ID: "same", RoundKey: testRound, User1: "p0", User2: "p1", CreatedAt: now},
			{ID: "same", RoundKey: testRound, User1: "p2", User2: "p3", CreatedAt: now},
		})
	})
	require.Error(t, err)
	assert.Zero(t, countMatches(t, testRound), "a failed batch must leave nothing behind")

	err = repo.InRound(context.Background(), testRound, func(ctx context.Context, s matching.Store) error {
		return s.InsertPairings(ctx, []matching.Pairing{
			{ID: "one", RoundKey: testRound, User1: "p0", User2: "p1", CreatedAt: now},
			{ID: "two", RoundKey: testRound, User1: "p2", User2: "p3", CreatedAt: now},
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 2, countMatches(t, testRound))
}

func testConcurrentRuns(t *testing.T) {
	requireDB(t)
	for i := 0; i < 20; i++ {
		insertProfile(t, TestProfile{
			ID:         fmt.Sprintf("c%02d", i),
			Gender:     "nonbinary",
			Preference: "everyone",
			Answers:    map[string]string{"q1": fmt.Sprint(i % 5)},
			Rounds:     []string{testRound},
		})
	}

	// Separate matchers share nothing in process; only the advisory lock
	// keeps them apart.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = pgMatcher(t).RunRound(context.Background(), testRound)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, countMatches(t, testRound))
	var doubled int
	require.NoError(t, db.QueryRow(`
		SELECT COUNT(*) FROM (
			SELECT u FROM (
				SELECT user1_id AS u FROM matches WHERE round_key = $1
				UNION ALL
				SELECT user2_id FROM matches WHERE round_key = $1
			) members GROUP BY u HAVING COUNT(*) > 1
		) dup
	`, testRound).Scan(&doubled))
	assert.Zero(t, doubled)
}

func testPoolAndInterestFlow(t *testing.T) {
	requireDB(t)
	round := matching.CurrentRoundKey(fixedNow())
	insertProfile(t, TestProfile{ID: "ana", Name: "Ana", Instagram: "ana.ig", Gender: "woman", Preference: "everyone", Answers: map[string]string{"q1": "2"}})
	insertProfile(t, TestProfile{ID: "bo", Name: "Bo", Instagram: "bo.ig", Gender: "man", Preference: "everyone", Answers: map[string]string{"q1": "2"}})
	insertProfile(t, TestProfile{ID: "cy", Name: "Cy", Gender: "man", Preference: "everyone", Excluded: true})

	ch := &stubChannel{name: "integration"}
	var bgWork sync.WaitGroup
	s := &server{
		db:       db,
		runner:   pgMatcher(t),
		isAdmin:  dbAdminLookup(db),
		hub:      newHub(testLogger(t)),
		cards:    newContactDirectory(db),
		notifier: newFanout(ch),
		bg:       &bgWork,
		now:      fixedNow,
		log:      testLogger(t),
	}
	routes := s.routes()

	call := func(method, path, user, body string) (int, map[string]any) {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, user))
		w := httptest.NewRecorder()
		routes.ServeHTTP(w, req)
		var out map[string]any
		_ = json.Unmarshal(w.Body.Bytes(), &out)
		return w.Code, out
	}

	code, out := call(http.MethodGet, "/pool/status", "ana", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, statusNotJoined, out["status"])
	assert.Equal(t, round, out["roundKey"])

	code, _ = call(http.MethodPost, "/pool/join", "cy", "")
	assert.Equal(t, http.StatusForbidden, code)

	for _, u := range []string{"ana", "bo", "ana"} {
		code, out = call(http.MethodPost, "/pool/join", u, "")
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, statusQueued, out["status"])
	}

	_, err := s.runner.RunRound(context.Background(), round)
	require.NoError(t, err)

	code, out = call(http.MethodGet, "/pool/status", "bo", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, statusMatched, out["status"])
	matchID, _ := out["matchId"].(string)
	require.NotEmpty(t, matchID)

	code, _ = call(http.MethodPost, "/matches/"+matchID+"/interest", "cy", `{"action":"interested"}`)
	assert.Equal(t, http.StatusForbidden, code)

	code, out = call(http.MethodPost, "/matches/"+matchID+"/interest", "ana", `{"action":"interested"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, out["mutual"])

	code, out = call(http.MethodPost, "/matches/"+matchID+"/interest", "bo", `{"action":"interested"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["mutual"])

	bgWork.Wait()
	assert.ElementsMatch(t, []string{"ana<-bo", "bo<-ana"}, ch.mutual)

	t.Run("pass is recorded", func(t *testing.T) {
		code, out := call(http.MethodPost, "/matches/"+matchID+"/interest", "ana", `{"action":"pass"}`)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, false, out["mutual"])

		var passed bool
		require.NoError(t, db.QueryRow(`SELECT passed FROM match_interest WHERE match_id = $1 AND user_id = 'ana'`, matchID).Scan(&passed))
		assert.True(t, passed)
	})
}

func testBlockAndReportFlow(t *testing.T) {
	requireDB(t)
	const next = "2026-W43"
	member := func(id, scale string) TestProfile {
		return TestProfile{ID: id, Gender: "woman", Preference: "everyone", Answers: map[string]string{"q1": scale}, Rounds: []string{testRound, next}}
	}
	insertProfile(t, member("kim", "2"))
	insertProfile(t, member("lee", "2"))
	insertProfile(t, member("max", "0"))

	m := pgMatcher(t)
	res, err := m.RunRound(context.Background(), testRound)
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	match := res.Matches[0]
	require.ElementsMatch(t, []matching.CandidateID{"kim", "lee"}, []matching.CandidateID{match.User1, match.User2})

	s := &server{
		db:       db,
		runner:   m,
		isAdmin:  dbAdminLookup(db),
		hub:      newHub(testLogger(t)),
		cards:    newContactDirectory(db),
		notifier: newFanout(),
		bg:       &sync.WaitGroup{},
		now:      fixedNow,
		log:      testLogger(t),
	}
	routes := s.routes()
	call := func(path, user, body string) (int, map[string]any) {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, user))
		w := httptest.NewRecorder()
		routes.ServeHTTP(w, req)
		var out map[string]any
		_ = json.Unmarshal(w.Body.Bytes(), &out)
		return w.Code, out
	}

	code, _ := call("/matches/"+match.ID+"/block", "max", "")
	assert.Equal(t, http.StatusForbidden, code, "outsiders cannot block through a pairing")
	code, _ = call("/matches/unknown/block", "kim", "")
	assert.Equal(t, http.StatusForbidden, code)

	for i := 0; i < 2; i++ {
		code, out := call("/matches/"+match.ID+"/block", "kim", "")
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, true, out["blocked"])
	}
	var blocks int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM blocks WHERE blocker_id = 'kim' AND blocked_id = 'lee'`).Scan(&blocks))
	assert.Equal(t, 1, blocks, "blocking twice is a no-op")

	t.Run("report needs a reason", func(t *testing.T) {
		code, _ := call("/matches/"+match.ID+"/report", "lee", `{"reason":"   "}`)
		assert.Equal(t, http.StatusBadRequest, code)
		code, _ = call("/matches/"+match.ID+"/report", "lee", `{}`)
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("report is stored against the partner", func(t *testing.T) {
		code, out := call("/matches/"+match.ID+"/report", "lee", `{"reason":" rude messages "}`)
		require.Equal(t, http.StatusOK, code)
		assert.NotEmpty(t, out["reportId"])

		var reported, reason string
		require.NoError(t, db.QueryRow(`SELECT reported_id, reason FROM reports WHERE reporter_id = 'lee'`).Scan(&reported, &reason))
		assert.Equal(t, "kim", reported)
		assert.Equal(t, "rude messages", reason)
	})

	t.Run("the block keeps the pair apart next round", func(t *testing.T) {
		// Drop the pairing so only the block stands between kim and lee.
		_, err := db.Exec(`DELETE FROM matches WHERE id = $1`, match.ID)
		require.NoError(t, err)

		res, err := m.RunRound(context.Background(), next)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Stats.Blocked)
		require.Len(t, res.Matches, 1)
		assert.True(t, res.Matches[0].Has("max"), "kim and lee must not meet again")
	})
}

