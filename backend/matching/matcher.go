package matching

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TieBreak selects how pairs with equal scores are ordered.
type TieBreak string

const (
	// TieBreakStable keeps discovery order (pool order). Reproducible.
	TieBreakStable TieBreak = "stable"
	// TieBreakShuffle shuffles the pool before pairs are enumerated.
	TieBreakShuffle TieBreak = "shuffle"
)

// Config tunes a Matcher.
type Config struct {
	EnforcePreference bool
	TieBreak          TieBreak
	// Seed drives TieBreakShuffle. Zero picks a random seed per run.
	Seed              int64
	NotifyConcurrency int
}

// DefaultConfig enforces preferences and breaks ties deterministically.
func DefaultConfig() Config {
	return Config{
		EnforcePreference: true,
		TieBreak:          TieBreakStable,
		NotifyConcurrency: 4,
	}
}

// Match is an accepted pairing together with the score that won it.
type Match struct {
	Pairing
	Score float64 `json:"score"`
}

// Result describes one run.
type Result struct {
	RoundKey string  `json:"round_key"`
	Matches  []Match `json:"matches"`
	Eligible int     `json:"eligible"`
	Leftover int     `json:"leftover"`
	Steps    []Step  `json:"steps"`
	Stats    Stats   `json:"stats"`
	DryRun   bool    `json:"dry_run"`
}

// Matched counts members paired by this run, two per pairing.
func (r *Result) Matched() int {
	return 2 * len(r.Matches)
}

// Pairings returns the pairing records created by the run.
func (r *Result) Pairings() []Pairing {
	out := make([]Pairing, len(r.Matches))
	for i, m := range r.Matches {
		out[i] = m.Pairing
	}
	return out
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(m *Matcher) {
		if l != nil {
			m.log = l
		}
	}
}

// WithNotifier enables pairing notifications.
func WithNotifier(n Notifier, d Directory) Option {
	return func(m *Matcher) {
		m.notifier = n
		m.directory = d
	}
}

// WithClock overrides time.Now for pairing timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Matcher) { m.now = now }
}

// WithIDGenerator overrides the pairing id generator.
func WithIDGenerator(gen func() string) Option {
	return func(m *Matcher) { m.newID = gen }
}

// Matcher runs rounds. It keeps no pairing state between runs; everything
// is read from the Repository each time.
type Matcher struct {
	repo      Repository
	cfg       Config
	log       *zap.Logger
	notifier  Notifier
	directory Directory
	now       func() time.Time
	newID     func() string

	locks    sync.Map // round key -> *sync.Mutex
	inflight sync.WaitGroup
}

// New returns a Matcher reading and writing through repo.
func New(repo Repository, cfg Config, opts ...Option) *Matcher {
	if cfg.NotifyConcurrency <= 0 {
		cfg.NotifyConcurrency = 1
	}
	if cfg.TieBreak == "" {
		cfg.TieBreak = TieBreakStable
	}
	m := &Matcher{
		repo:  repo,
		cfg:   cfg,
		log:   zap.NewNop(),
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RunRound pairs the unmatched remainder of roundKey's pool and stores the
// new pairings in one batch. When fewer than two candidates are eligible it
// returns the (empty) result together with ErrInsufficientPool.
func (m *Matcher) RunRound(ctx context.Context, roundKey string) (*Result, error) {
	return m.run(ctx, roundKey, false)
}

// Plan computes what RunRound would create without storing or notifying.
func (m *Matcher) Plan(ctx context.Context, roundKey string) (*Result, error) {
	return m.run(ctx, roundKey, true)
}

// Wait blocks until every notification dispatched so far has finished.
func (m *Matcher) Wait() {
	m.inflight.Wait()
}

func (m *Matcher) lock(roundKey string) *sync.Mutex {
	mu, _ := m.locks.LoadOrStore(roundKey, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (m *Matcher) run(ctx context.Context, roundKey string, dryRun bool) (*Result, error) {
	mu := m.lock(roundKey)
	mu.Lock()
	defer mu.Unlock()

	started := m.now()
	res := &Result{RoundKey: roundKey, DryRun: dryRun}
	err := m.repo.InRound(ctx, roundKey, func(ctx context.Context, s Store) error {
		return m.match(ctx, s, res)
	})
	log := m.log.With(zap.String("round_key", roundKey), zap.Bool("dry_run", dryRun))
	switch {
	case errors.Is(err, ErrInsufficientPool):
		log.Info("pool too small to pair", zap.Int("eligible", res.Eligible))
		res.Matches = nil
		return res, err
	case err != nil:
		log.Error("round run failed", zap.Error(err))
		return nil, err
	}

	log.Info("round matched",
		zap.Int("eligible", res.Eligible),
		zap.Int("pairings", len(res.Matches)),
		zap.Int("leftover", res.Leftover),
		zap.Int("scored_pairs", res.Stats.Scored),
		zap.Int("blocked_pairs", res.Stats.Blocked),
		zap.Int("past_pairs", res.Stats.PastPairs),
		zap.Int("incompatible_pairs", res.Stats.Incompatible),
		zap.Duration("took", m.now().Sub(started)),
	)
	if !dryRun && len(res.Matches) > 0 {
		m.dispatch(ctx, res.Matches)
	}
	return res, nil
}

// match runs inside the round's critical section: read, assign, write.
func (m *Matcher) match(ctx context.Context, s Store, res *Result) error {
	roundKey := res.RoundKey
	registered, err := s.ListPool(ctx, roundKey)
	if err != nil {
		return fmt.Errorf("list pool: %w", err)
	}
	pairings, err := s.ListAllPairings(ctx)
	if err != nil {
		return fmt.Errorf("list pairings: %w", err)
	}
	admins, err := s.ListAdminFlags(ctx, registered)
	if err != nil {
		return fmt.Errorf("list admin flags: %w", err)
	}
	excluded, err := s.ListExcludedFlags(ctx, registered)
	if err != nil {
		return fmt.Errorf("list excluded flags: %w", err)
	}

	pool := AssemblePool(roundKey, registered, pairings, admins, excluded)
	res.Steps = pool.Steps
	res.Eligible = len(pool.IDs)
	res.Leftover = len(pool.IDs)
	if !pool.Sufficient() {
		return ErrInsufficientPool
	}

	blocks, err := s.ListBlocks(ctx)
	if err != nil {
		return fmt.Errorf("list blocks: %w", err)
	}
	types, err := s.ListQuestionTypes(ctx)
	if err != nil {
		return fmt.Errorf("list question types: %w", err)
	}
	answers, err := s.ListAnswers(ctx, pool.IDs)
	if err != nil {
		return fmt.Errorf("list answers: %w", err)
	}
	identities, err := s.ListGenderAndPreference(ctx, pool.IDs)
	if err != nil {
		return fmt.Errorf("list gender and preference: %w", err)
	}

	candidates := make(map[CandidateID]Candidate, len(pool.IDs))
	for _, id := range pool.IDs {
		candidates[id] = Candidate{ID: id, Identity: identities[id], Answers: answers[id]}
	}

	pairs, stats := legalPairs(m.order(pool.IDs), candidates, rules{
		constraints:       NewConstraints(blocks, pairings),
		types:             types,
		enforcePreference: m.cfg.EnforcePreference,
	})
	res.Stats = stats

	now := m.now()
	for _, p := range greedy(pairs) {
		res.Matches = append(res.Matches, Match{
			Pairing: Pairing{ID: m.newID(), RoundKey: roundKey, User1: p.A, User2: p.B, CreatedAt: now},
			Score:   p.Score,
		})
	}
	res.Leftover = res.Eligible - res.Matched()

	if res.DryRun || len(res.Matches) == 0 {
		return nil
	}
	if err := s.InsertPairings(ctx, res.Pairings()); err != nil {
		res.Matches = nil
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

// order returns the enumeration order of the pool.
func (m *Matcher) order(ids []CandidateID) []CandidateID {
	out := slices.Clone(ids)
	if m.cfg.TieBreak != TieBreakShuffle {
		return out
	}
	seed := uint64(m.cfg.Seed)
	if seed == 0 {
		seed = rand.Uint64()
	}
	r := rand.New(rand.NewPCG(seed, seed))
	r.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// dispatch notifies both members of every new pairing in the background.
// Failures are logged per recipient and never reach the caller.
func (m *Matcher) dispatch(ctx context.Context, matches []Match) {
	if m.notifier == nil || m.directory == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		var g errgroup.Group
		g.SetLimit(m.cfg.NotifyConcurrency)
		for _, mt := range matches {
			g.Go(func() error {
				m.notify(ctx, mt.Pairing, mt.User1)
				return nil
			})
			g.Go(func() error {
				m.notify(ctx, mt.Pairing, mt.User2)
				return nil
			})
		}
		_ = g.Wait()
	}()
}

func (m *Matcher) notify(ctx context.Context, p Pairing, to CandidateID) {
	partner := p.Partner(to)
	log := m.log.With(zap.String("round_key", p.RoundKey), zap.String("pairing_id", p.ID), zap.String("recipient", string(to)))
	contact, err := m.directory.Contact(ctx, to)
	if err != nil {
		log.Warn("cannot resolve recipient contact", zap.Error(err))
		return
	}
	other, err := m.directory.Contact(ctx, partner)
	if err != nil {
		log.Warn("cannot resolve partner contact", zap.Error(err))
		return
	}
	if err := m.notifier.NotifyPaired(ctx, contact, other.DisplayName); err != nil {
		log.Warn("pairing notification failed", zap.Error(err))
	}
}
