package matching

import (
	"context"
	"slices"
	"sync"
)

// MemoryRepository is an in-process Repository. Runs are serialized by a
// single mutex and writes are staged until fn returns without error.
type MemoryRepository struct {
	mu sync.Mutex

	pools      map[string][]CandidateID
	blocks     []BlockEdge
	pairings   []Pairing
	admins     set
	excluded   set
	types      map[string]AnswerType
	answers    map[CandidateID]Answers
	identities map[CandidateID]Identity

	// InsertErr, when set, fails every InsertPairings call.
	InsertErr error
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		pools:      make(map[string][]CandidateID),
		admins:     make(set),
		excluded:   make(set),
		types:      make(map[string]AnswerType),
		answers:    make(map[CandidateID]Answers),
		identities: make(map[CandidateID]Identity),
	}
}

// AddCandidate stores c and registers it for each of rounds.
func (r *MemoryRepository) AddCandidate(c Candidate, rounds ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answers[c.ID] = c.Answers
	r.identities[c.ID] = c.Identity
	if c.Admin {
		r.admins[c.ID] = struct{}{}
	}
	if c.Excluded {
		r.excluded[c.ID] = struct{}{}
	}
	for _, key := range rounds {
		r.pools[key] = append(r.pools[key], c.ID)
	}
}

// AddQuestion declares a question and its answer type.
func (r *MemoryRepository) AddQuestion(id string, t AnswerType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[id] = t
}

// AddBlock records that blocker blocked blocked.
func (r *MemoryRepository) AddBlock(blocker, blocked CandidateID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocks = append(r.blocks, BlockEdge{Blocker: blocker, Blocked: blocked})
}

// AddPairing records a pairing as if a previous run had created it.
func (r *MemoryRepository) AddPairing(p Pairing) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pairings = append(r.pairings, p)
}

// Pairings returns a copy of every stored pairing.
func (r *MemoryRepository) Pairings() []Pairing {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.pairings)
}

// InRound implements Repository.
func (r *MemoryRepository) InRound(ctx context.Context, roundKey string, fn func(ctx context.Context, s Store) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memoryTx{repo: r}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.pairings = append(r.pairings, tx.staged...)
	return nil
}

type memoryTx struct {
	repo   *MemoryRepository
	staged []Pairing
}

func (t *memoryTx) ListPool(_ context.Context, roundKey string) ([]CandidateID, error) {
	return slices.Clone(t.repo.pools[roundKey]), nil
}

func (t *memoryTx) ListBlocks(context.Context) ([]BlockEdge, error) {
	return slices.Clone(t.repo.blocks), nil
}

func (t *memoryTx) ListAllPairings(context.Context) ([]Pairing, error) {
	return slices.Clone(t.repo.pairings), nil
}

func (t *memoryTx) ListAdminFlags(_ context.Context, ids []CandidateID) ([]CandidateID, error) {
	return filterIDs(ids, t.repo.admins), nil
}

func (t *memoryTx) ListExcludedFlags(_ context.Context, ids []CandidateID) ([]CandidateID, error) {
	return filterIDs(ids, t.repo.excluded), nil
}

func (t *memoryTx) ListQuestionTypes(context.Context) (map[string]AnswerType, error) {
	out := make(map[string]AnswerType, len(t.repo.types))
	for k, v := range t.repo.types {
		out[k] = v
	}
	return out, nil
}

func (t *memoryTx) ListAnswers(_ context.Context, ids []CandidateID) (map[CandidateID]Answers, error) {
	out := make(map[CandidateID]Answers, len(ids))
	for _, id := range ids {
		if a, ok := t.repo.answers[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

func (t *memoryTx) ListGenderAndPreference(_ context.Context, ids []CandidateID) (map[CandidateID]Identity, error) {
	out := make(map[CandidateID]Identity, len(ids))
	for _, id := range ids {
		if i, ok := t.repo.identities[id]; ok {
			out[id] = i
		}
	}
	return out, nil
}

func (t *memoryTx) InsertPairings(_ context.Context, batch []Pairing) error {
	if t.repo.InsertErr != nil {
		return t.repo.InsertErr
	}
	t.staged = append(t.staged, batch...)
	return nil
}

func filterIDs(ids []CandidateID, keep set) []CandidateID {
	var out []CandidateID
	for _, id := range ids {
		if keep.has(id) {
			out = append(out, id)
		}
	}
	return out
}
