// Package matching selects the weekly one-to-one pairings for a round.
//
// A run reads a snapshot of the round's pool, the block edges and every
// pairing ever made, drops illegal pairs (blocked, already paired in any
// round, preference-incompatible), scores the rest by questionnaire
// similarity and accepts pairs greedily by descending score.
//
// The greedy walk is a maximum-weight approximation, not an exact
// maximum-weight matching.
package matching

import "time"

// CandidateID is the opaque identity token of a pool member.
type CandidateID string

// AnswerType tells the scorer how two answers to a question are compared.
type AnswerType string

const (
	AnswerScale       AnswerType = "scale"
	AnswerChoice      AnswerType = "choice"
	AnswerMultiChoice AnswerType = "multi_choice"
)

// Answers maps question id to the raw answer text.
type Answers map[string]string

// Identity holds the attributes the preference predicate looks at.
type Identity struct {
	Gender     string
	Preference string
}

// Candidate is one pool member as seen by a single run.
type Candidate struct {
	ID       CandidateID
	Identity Identity
	Answers  Answers
	Excluded bool
	Admin    bool
}

// BlockEdge is a block placed by Blocker on Blocked. It excludes the pair in
// both directions.
type BlockEdge struct {
	Blocker CandidateID
	Blocked CandidateID
}

// Pairing is a persisted match between two candidates for a round.
type Pairing struct {
	ID        string      `json:"id"`
	RoundKey  string      `json:"round_key"`
	User1     CandidateID `json:"user1_id"`
	User2     CandidateID `json:"user2_id"`
	CreatedAt time.Time   `json:"created_at"`
}

// Has reports whether id is one of the two members.
func (p Pairing) Has(id CandidateID) bool {
	return p.User1 == id || p.User2 == id
}

// Partner returns the other member of the pairing.
func (p Pairing) Partner(id CandidateID) CandidateID {
	if p.User1 == id {
		return p.User2
	}
	return p.User1
}

// Contact is what the notifier needs to reach a candidate.
type Contact struct {
	ID          CandidateID
	Email       string
	DisplayName string
}

type set map[CandidateID]struct{}

func newSet(ids []CandidateID) set {
	s := make(set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s set) has(id CandidateID) bool {
	_, ok := s[id]
	return ok
}
