package matching

// Step records what one pool filter did.
type Step struct {
	Name    string `json:"name"`
	Initial int    `json:"initial"`
	Dropped int    `json:"dropped"`
	Left    int    `json:"left"`
}

// Pool is the ordered set of candidates eligible for new pairings in a round.
type Pool struct {
	IDs   []CandidateID
	Steps []Step
}

// AssemblePool narrows the candidates registered for roundKey down to those
// eligible for a new pairing: not yet paired in this round, not admins and
// not excluded from membership. Registration order is kept.
func AssemblePool(roundKey string, registered []CandidateID, pairings []Pairing, admins, excluded []CandidateID) Pool {
	ids := make([]CandidateID, 0, len(registered))
	seen := make(set, len(registered))
	for _, id := range registered {
		if id == "" || seen.has(id) {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	pool := Pool{IDs: ids}
	pool.Steps = append(pool.Steps, Step{Name: "registered", Initial: len(registered), Dropped: len(registered) - len(ids), Left: len(ids)})

	matched := make(set)
	for _, p := range pairings {
		if p.RoundKey != roundKey {
			continue
		}
		matched[p.User1] = struct{}{}
		matched[p.User2] = struct{}{}
	}
	pool.apply("already_matched", matched)
	pool.apply("admin", newSet(admins))
	pool.apply("excluded", newSet(excluded))
	return pool
}

func (p *Pool) apply(name string, drop set) {
	initial := len(p.IDs)
	kept := p.IDs[:0]
	for _, id := range p.IDs {
		if !drop.has(id) {
			kept = append(kept, id)
		}
	}
	p.IDs = kept
	p.Steps = append(p.Steps, Step{Name: name, Initial: initial, Dropped: initial - len(kept), Left: len(kept)})
}

// Sufficient reports whether at least one pair can be formed.
func (p Pool) Sufficient() bool {
	return len(p.IDs) >= 2
}
