package matching

// pairKey is the canonical unordered form of two ids: lo <= hi.
type pairKey struct {
	lo, hi CandidateID
}

func keyOf(a, b CandidateID) pairKey {
	if b < a {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}

// Constraints answers the hard exclusion questions for a run. Build it once
// per run; lookups are O(1).
type Constraints struct {
	blocked map[pairKey]struct{}
	past    map[pairKey]struct{}
}

// NewConstraints indexes block edges and every past pairing, regardless of
// the round it belonged to.
func NewConstraints(blocks []BlockEdge, past []Pairing) *Constraints {
	c := &Constraints{
		blocked: make(map[pairKey]struct{}, len(blocks)),
		past:    make(map[pairKey]struct{}, len(past)),
	}
	for _, b := range blocks {
		c.blocked[keyOf(b.Blocker, b.Blocked)] = struct{}{}
	}
	for _, p := range past {
		c.past[keyOf(p.User1, p.User2)] = struct{}{}
	}
	return c
}

// IsBlocked reports whether either candidate blocked the other.
func (c *Constraints) IsBlocked(a, b CandidateID) bool {
	_, ok := c.blocked[keyOf(a, b)]
	return ok
}

// IsPastPair reports whether a and b were ever paired.
func (c *Constraints) IsPastPair(a, b CandidateID) bool {
	_, ok := c.past[keyOf(a, b)]
	return ok
}
