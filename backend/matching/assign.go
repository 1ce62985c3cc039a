package matching

import "sort"

// ScoredPair is a legal candidate pair and its compatibility.
type ScoredPair struct {
	A     CandidateID `json:"a"`
	B     CandidateID `json:"b"`
	Score float64     `json:"score"`
}

// Stats counts why pairs were kept or dropped during a run.
type Stats struct {
	Considered     int `json:"considered"`
	Blocked        int `json:"blocked"`
	PastPairs      int `json:"past_pairs"`
	Incompatible   int `json:"incompatible"`
	Scored         int `json:"scored"`
	MissingProfile int `json:"missing_profile"`
	NoAnswers      int `json:"no_answers"`
}

type rules struct {
	constraints       *Constraints
	types             map[string]AnswerType
	enforcePreference bool
}

// legalPairs enumerates every unordered pair of the pool in pool order,
// drops the illegal ones and scores the rest. The returned order is the
// discovery order used for tie-breaking.
func legalPairs(pool []CandidateID, candidates map[CandidateID]Candidate, r rules) ([]ScoredPair, Stats) {
	var st Stats
	for _, id := range pool {
		c := candidates[id]
		if r.enforcePreference && !c.Identity.complete() {
			st.MissingProfile++
		}
		if len(c.Answers) == 0 {
			st.NoAnswers++
		}
	}

	var out []ScoredPair
	for i := 0; i < len(pool); i++ {
		a := candidates[pool[i]]
		for j := i + 1; j < len(pool); j++ {
			b := candidates[pool[j]]
			st.Considered++
			switch {
			case a.ID == b.ID:
				continue
			case r.constraints.IsBlocked(a.ID, b.ID):
				st.Blocked++
				continue
			case r.constraints.IsPastPair(a.ID, b.ID):
				st.PastPairs++
				continue
			case r.enforcePreference && !PreferenceCompatible(a.Identity, b.Identity):
				st.Incompatible++
				continue
			}
			out = append(out, ScoredPair{A: a.ID, B: b.ID, Score: Score(a.Answers, b.Answers, r.types)})
			st.Scored++
		}
	}
	return out, st
}

// greedy sorts pairs by descending score (ties keep their discovery order)
// and accepts each pair whose members are both still free.
func greedy(pairs []ScoredPair) []ScoredPair {
	sorted := make([]ScoredPair, len(pairs))
	copy(sorted, pairs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	used := make(set)
	var accepted []ScoredPair
	for _, p := range sorted {
		if used.has(p.A) || used.has(p.B) {
			continue
		}
		used[p.A] = struct{}{}
		used[p.B] = struct{}{}
		accepted = append(accepted, p)
	}
	return accepted
}
