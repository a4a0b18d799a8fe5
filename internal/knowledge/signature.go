package knowledge

import "strings"

// DefaultSignatureThreshold is the minimum fraction of an archetype's core
// parameters that must be present for a signature match.
const DefaultSignatureThreshold = 0.70

// scoreEpsilon absorbs float error so that exactly 7 of 10 meets 0.70.
const scoreEpsilon = 1e-9

// Match is a selected effect archetype.
type Match struct {
	Archetype string
	Score     float64
	Matched   []string
}

// MatchEffectSignature selects the archetype whose core parameters are best
// covered by names. Only scores at or above the threshold qualify; a strictly
// higher score wins and equal scores keep the earlier-declared archetype.
func (b *Base) MatchEffectSignature(names []string) (Match, bool) {
	return MatchSignature(b.catalog.Archetypes, names, b.threshold)
}

// MatchSignature is MatchEffectSignature over an explicit archetype list.
func MatchSignature(archetypes []Archetype, names []string, threshold float64) (Match, bool) {
	present := make(map[string]struct{}, len(names))
	for _, n := range names {
		present[strings.ToLower(n)] = struct{}{}
	}

	var (
		best  Match
		found bool
	)
	for _, a := range archetypes {
		if len(a.Core) == 0 {
			continue
		}
		var matched []string
		for _, p := range a.Core {
			if covered(p, present) {
				matched = append(matched, p.Name)
			}
		}
		score := float64(len(matched)) / float64(len(a.Core))
		if score+scoreEpsilon < threshold {
			continue
		}
		if !found || score > best.Score+scoreEpsilon {
			best = Match{Archetype: a.Name, Score: score, Matched: matched}
			found = true
		}
	}
	return best, found
}

func covered(p ArchetypeParam, present map[string]struct{}) bool {
	if _, ok := present[strings.ToLower(p.Name)]; ok {
		return true
	}
	for _, a := range p.Aliases {
		if _, ok := present[strings.ToLower(a)]; ok {
			return true
		}
	}
	return false
}
