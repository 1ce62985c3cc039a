package matching

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

const (
	scaleMin = 0
	scaleMax = 4

	multiChoiceSep = ","
)

// Score returns the questionnaire similarity of two candidates in [0,1].
//
// Only questions listed in types count, and only when both sides answered.
// The result is the mean of the per-question contributions, or 0 when no
// question contributed.
func Score(a, b Answers, types map[string]AnswerType) float64 {
	// Sorted ids keep the float sum identical across runs.
	ids := make([]string, 0, len(types))
	for id := range types {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	total := 0.0
	counted := 0
	for _, id := range ids {
		av, ok := a[id]
		if !ok {
			continue
		}
		bv, ok := b[id]
		if !ok {
			continue
		}
		c, ok := contribution(types[id], av, bv)
		if !ok {
			continue
		}
		total += c
		counted++
	}
	if counted == 0 {
		return 0
	}
	return total / float64(counted)
}

func contribution(t AnswerType, a, b string) (float64, bool) {
	switch t {
	case AnswerScale:
		return scaleScore(a, b)
	case AnswerChoice:
		if a == b {
			return 1, true
		}
		return 0, true
	case AnswerMultiChoice:
		return jaccard(tokens(a), tokens(b)), true
	default:
		return 0, false
	}
}

func scaleScore(a, b string) (float64, bool) {
	x, ok := scaleValue(a)
	if !ok {
		return 0, false
	}
	y, ok := scaleValue(b)
	if !ok {
		return 0, false
	}
	return 1 - math.Abs(x-y)/(scaleMax-scaleMin), true
}

// scaleValue parses a scale answer. NaN, infinities and values off the
// scale are malformed and contribute nothing.
func scaleValue(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || v < scaleMin || v > scaleMax {
		return 0, false
	}
	return v, true
}

func tokens(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, part := range strings.Split(s, multiChoiceSep) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out[part] = struct{}{}
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
