// Package categorize sorts discovered parameters into priority-tiered
// semantic categories.
package categorize

import (
	"slices"
	"strings"

	"github.com/hyperengineering/paramlore/internal/knowledge"
	"github.com/hyperengineering/paramlore/internal/types"
	"github.com/hyperengineering/paramlore/internal/units"
)

// Fallback categories for parameters no archetype or keyword rule claims.
const (
	CategoryTime      = "time"
	CategoryAlgorithm = "algorithm"
)

// longTimeMs is the range maximum above which a millisecond parameter is
// treated as a core time control.
const longTimeMs = 100

// Rules supplies archetype tables and keyword rules.
type Rules interface {
	Archetype(name string) (knowledge.Archetype, bool)
	CategoryRules() []knowledge.KeywordRule
}

// Result is a categorization plus the archetype assignments the knowledge
// base learns keywords from.
type Result struct {
	Categorization types.CategorizationResult
	// ArchetypeAssignments maps parameter names matched through the
	// signature's archetype tables to their category.
	ArchetypeAssignments map[string]string
}

// Categorizer assigns parameters to categories.
type Categorizer struct {
	rules Rules
}

// New returns a Categorizer backed by rules.
func New(rules Rules) *Categorizer {
	return &Categorizer{rules: rules}
}

// Categorize assigns every observation to exactly one category or to
// Uncategorized. When signature names a known archetype its core and
// advanced tables are consulted first, by name or alias. Everything else
// goes through the keyword rules in order, then the unit and representation
// fallbacks. A category's priority is the highest among its members.
func (c *Categorizer) Categorize(obs []types.ParameterObservation, signature string) Result {
	res := Result{
		Categorization: types.CategorizationResult{
			EffectSignature: signature,
			Categories:      make(map[string]types.Category),
			Uncategorized:   []string{},
		},
		ArchetypeAssignments: make(map[string]string),
	}

	var archetype knowledge.Archetype
	hasArchetype := false
	if signature != "" {
		archetype, hasArchetype = c.rules.Archetype(signature)
	}
	rules := c.rules.CategoryRules()

	for _, o := range obs {
		if hasArchetype {
			if p, ok := archetype.Lookup(o.Name); ok {
				res.assign(o.Name, p.Category, types.ParsePriority(p.Priority))
				res.ArchetypeAssignments[o.Name] = p.Category
				continue
			}
		}
		if r, ok := matchKeyword(rules, o.Name); ok {
			res.assign(o.Name, r.Category, r.Priority)
			continue
		}
		if category, priority, ok := fallback(o); ok {
			res.assign(o.Name, category, priority)
			continue
		}
		res.Categorization.Uncategorized = append(res.Categorization.Uncategorized, o.Name)
	}
	return res
}

func (r *Result) assign(name, category string, priority types.Priority) {
	cat := r.Categorization.Categories[category]
	if priority.Rank() > cat.Priority.Rank() {
		cat.Priority = priority
	}
	if cat.Priority == "" {
		cat.Priority = types.PrioritySecondary
	}
	cat.Parameters = append(cat.Parameters, name)
	r.Categorization.Categories[category] = cat
}

// matchKeyword returns the first rule with a catalogued keyword contained in
// the lower-cased name. Learned keywords are tried only when no catalogued
// keyword matches, and only as whole runs of name tokens, so a learned "hold"
// never claims "threshold".
func matchKeyword(rules []knowledge.KeywordRule, name string) (knowledge.KeywordRule, bool) {
	lower := strings.ToLower(name)
	for _, r := range rules {
		for _, kw := range r.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return r, true
			}
		}
	}

	tokens := units.Tokenize(name)
	for _, r := range rules {
		for _, kw := range r.Learned {
			if containsRun(tokens, units.Tokenize(kw)) {
				return r, true
			}
		}
	}
	return knowledge.KeywordRule{}, false
}

// containsRun reports whether run appears as consecutive elements of tokens.
func containsRun(tokens, run []string) bool {
	if len(run) == 0 || len(run) > len(tokens) {
		return false
	}
	for i := 0; i+len(run) <= len(tokens); i++ {
		if slices.Equal(tokens[i:i+len(run)], run) {
			return true
		}
	}
	return false
}

func fallback(o types.ParameterObservation) (string, types.Priority, bool) {
	if o.Unit == types.UnitMs && o.Range != nil && o.Range.Max > longTimeMs {
		return CategoryTime, types.PriorityCritical, true
	}
	if o.Representation == types.RepresentationStringEnum {
		return CategoryAlgorithm, types.PriorityCritical, true
	}
	return "", "", false
}
