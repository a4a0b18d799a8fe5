// Package units derives a canonical physical unit for a parameter.
package units

import (
	"strings"
	"unicode"

	"github.com/hyperengineering/paramlore/internal/types"
)

// Source records which rule produced a unit.
type Source string

const (
	SourceNone          Source = ""
	SourceHostFormat    Source = "host_format"
	SourceKnowledgeBase Source = "knowledge_base"
	SourceNameToken     Source = "name_token"
	SourceNameFragment  Source = "name_fragment"
)

// Lookup resolves a unit from previously learned name fragments.
type Lookup interface {
	LookupUnit(name string) (types.Unit, bool)
}

type fragmentRule struct {
	unit      types.Unit
	fragments []string
}

// fragmentTable maps name fragments to units. When several fragments match,
// the one ending last in the name wins, then the longer one, then table order.
var fragmentTable = []fragmentRule{
	{types.UnitMs, []string{"predelay", "pre_delay", "delay", "attack", "release", "hold"}},
	{types.UnitSeconds, []string{"decay", "rt60", "reverb_time", "time"}},
	{types.UnitHz, []string{"frequency", "freq", "cutoff", "lowcut", "highcut", "low_cut", "high_cut", "rate"}},
	{types.UnitDB, []string{"gain", "level", "volume", "shelf", "boost", "trim", "threshold", "db"}},
	{types.UnitPercent, []string{"mix", "depth", "amount", "diffusion", "feedback", "width", "wet", "dry"}},
	{types.UnitCents, []string{"detune", "fine"}},
	{types.UnitSemitones, []string{"pitch", "transpose", "semitone"}},
}

// Result is a detected unit and where it came from.
type Result struct {
	Unit   types.Unit
	Source Source
}

// Detector applies host formatting, learned patterns and the static name
// table in that order.
type Detector struct {
	kb Lookup
}

// NewDetector returns a detector. kb may be nil.
func NewDetector(kb Lookup) *Detector {
	return &Detector{kb: kb}
}

// Detect returns the unit for a parameter. display is the host's formatted
// representation of the value and may be empty. A zero Result is valid.
func (d *Detector) Detect(name string, raw types.Value, display string) Result {
	if u, ok := FromText(display); ok {
		return Result{Unit: u, Source: SourceHostFormat}
	}
	if raw.Kind() == types.KindString {
		if u, ok := FromText(raw.Text()); ok {
			return Result{Unit: u, Source: SourceHostFormat}
		}
	}
	if d.kb != nil {
		if u, ok := d.kb.LookupUnit(name); ok {
			return Result{Unit: msOverride(name, u), Source: SourceKnowledgeBase}
		}
	}
	if u, ok := FromNameTokens(name); ok {
		return Result{Unit: u, Source: SourceNameToken}
	}
	if u, ok := FromNameFragments(name); ok {
		return Result{Unit: u, Source: SourceNameFragment}
	}
	return Result{}
}

// FromText parses the unit suffix of a formatted value such as "250 ms".
func FromText(s string) (types.Unit, bool) {
	if s == "" {
		return types.UnitNone, false
	}
	nt, ok := types.ParseNumericText(s)
	if !ok || nt.Suffix == "" {
		return types.UnitNone, false
	}
	return types.NormalizeUnit(nt.Suffix)
}

// FromNameTokens finds an explicit unit word in a name such as "delay_ms"
// or "cutoffHz".
func FromNameTokens(name string) (types.Unit, bool) {
	tokens := Tokenize(name)
	// Trailing tokens are the usual unit position.
	for i := len(tokens) - 1; i >= 0; i-- {
		t := tokens[i]
		if len(t) < 2 && t != "%" {
			continue
		}
		if u, ok := types.NormalizeUnit(t); ok {
			return u, true
		}
	}
	return types.UnitNone, false
}

// FromNameFragments applies the static fragment table. A name containing
// "ms" never resolves to seconds.
func FromNameFragments(name string) (types.Unit, bool) {
	lower := strings.ToLower(name)

	best, bestEnd, bestLen := types.UnitNone, -1, 0
	for _, rule := range fragmentTable {
		for _, frag := range rule.fragments {
			i := strings.LastIndex(lower, frag)
			if i < 0 {
				continue
			}
			end := i + len(frag)
			if end > bestEnd || (end == bestEnd && len(frag) > bestLen) {
				best, bestEnd, bestLen = rule.unit, end, len(frag)
			}
		}
	}
	if bestEnd < 0 {
		return types.UnitNone, false
	}
	return msOverride(name, best), true
}

// msOverride keeps a name containing "ms" from resolving to seconds,
// whichever name-based source produced the unit.
func msOverride(name string, u types.Unit) types.Unit {
	if u == types.UnitSeconds && strings.Contains(strings.ToLower(name), "ms") {
		return types.UnitMs
	}
	return u
}

// Tokenize splits a parameter name on separators, digits and camelCase
// boundaries and lowercases the parts.
func Tokenize(name string) []string {
	var (
		tokens []string
		cur    []rune
	)
	flush := func() {
		if len(cur) > 0 {
			tokens = append(tokens, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}

	runes := []rune(name)
	for i, r := range runes {
		switch {
		case r == '%':
			flush()
			tokens = append(tokens, "%")
		case !unicode.IsLetter(r):
			flush()
		case unicode.IsUpper(r) && i > 0 && unicode.IsLower(runes[i-1]):
			flush()
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return tokens
}
