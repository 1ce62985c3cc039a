package matching

import (
	"context"
	"errors"
)

var (
	// ErrInsufficientPool means fewer than two candidates were eligible. It
	// is not a failure: the run produced zero pairings and may be retried
	// once more candidates register.
	ErrInsufficientPool = errors.New("insufficient pool")

	// ErrPersistence wraps a failed batch write. None of the run's pairings
	// were stored.
	ErrPersistence = errors.New("persistence failure")
)

// Store is the record store as seen from inside one serialized run.
type Store interface {
	ListPool(ctx context.Context, roundKey string) ([]CandidateID, error)
	ListBlocks(ctx context.Context) ([]BlockEdge, error)
	ListAllPairings(ctx context.Context) ([]Pairing, error)
	ListAdminFlags(ctx context.Context, ids []CandidateID) ([]CandidateID, error)
	ListExcludedFlags(ctx context.Context, ids []CandidateID) ([]CandidateID, error)
	ListQuestionTypes(ctx context.Context) (map[string]AnswerType, error)
	ListAnswers(ctx context.Context, ids []CandidateID) (map[CandidateID]Answers, error)
	ListGenderAndPreference(ctx context.Context, ids []CandidateID) (map[CandidateID]Identity, error)
	// InsertPairings stores the whole batch or nothing.
	InsertPairings(ctx context.Context, batch []Pairing) error
}

// Repository hands out a Store bound to one round. fn runs with exclusive
// access to roundKey; if fn returns an error nothing it wrote is kept.
type Repository interface {
	InRound(ctx context.Context, roundKey string, fn func(ctx context.Context, s Store) error) error
}

// Notifier delivers the "you have been paired" message.
type Notifier interface {
	NotifyPaired(ctx context.Context, to Contact, partnerName string) error
}

// Directory resolves how to reach a candidate.
type Directory interface {
	Contact(ctx context.Context, id CandidateID) (Contact, error)
}
