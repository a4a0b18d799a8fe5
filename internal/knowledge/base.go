// Package knowledge holds the pattern knowledge base shared across discovery
// sessions: confirmed formats, range and unit patterns, effect signatures and
// categorization rules. The base only grows; keys may be replaced but are
// never deleted.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hyperengineering/paramlore/internal/types"
)

// Base is the in-memory pattern knowledge base. Reads are lookups against
// in-memory state; writes replace single keys under a write lock.
type Base struct {
	mu        sync.RWMutex
	state     *Snapshot
	patterns  []compiledPattern
	catalog   *Catalog
	threshold float64
	persister Persister
	logger    *slog.Logger

	// flushMu serializes snapshot-and-replace writes to the persister.
	flushMu sync.Mutex
}

type compiledPattern struct {
	key string
	re  *regexp.Regexp
}

// Option configures a Base.
type Option func(*Base)

// WithCatalog replaces the embedded catalog.
func WithCatalog(c *Catalog) Option {
	return func(b *Base) { b.catalog = c }
}

// WithSignatureThreshold sets the minimum core-parameter coverage for an
// effect signature match.
func WithSignatureThreshold(t float64) Option {
	return func(b *Base) { b.threshold = t }
}

// WithLogger sets the knowledge base's logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Base) { b.logger = l }
}

// New returns an empty, unpersisted knowledge base seeded from the catalog.
func New(opts ...Option) (*Base, error) {
	b := &Base{
		threshold: DefaultSignatureThreshold,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.catalog == nil {
		c, err := DefaultCatalog()
		if err != nil {
			return nil, err
		}
		b.catalog = c
	}
	b.setState(NewSnapshot())
	return b, nil
}

// Open loads the persisted state from p, or starts empty when nothing has
// been persisted yet. Catalog seeds missing from the loaded state are added.
func Open(ctx context.Context, p Persister, opts ...Option) (*Base, error) {
	b, err := New(opts...)
	if err != nil {
		return nil, err
	}
	b.persister = p

	snap, err := p.Load(ctx)
	switch {
	case errors.Is(err, ErrNoSnapshot):
		b.logger.Info("starting empty knowledge base",
			"component", "knowledge",
			"action", "open",
		)
		return b, nil
	case err != nil:
		return nil, fmt.Errorf("load knowledge base: %w", err)
	}
	if err := snap.check(); err != nil {
		return nil, err
	}

	b.setState(snap)
	b.logger.Info("knowledge base loaded",
		"component", "knowledge",
		"action", "open",
		"formats", len(snap.FormatByParamName),
		"plugins", len(snap.PluginHistory),
	)
	return b, nil
}

// setState installs s, adds missing catalog seeds and compiles patterns.
func (b *Base) setState(s *Snapshot) {
	for _, seed := range b.catalog.KeywordRules {
		if ruleIndex(s.CategoryKeywordRules, seed.Category) < 0 {
			s.CategoryKeywordRules = append(s.CategoryKeywordRules, seed.clone())
		}
	}
	for key, r := range b.catalog.RangePatterns {
		if _, ok := s.RangePatterns[key]; !ok {
			s.RangePatterns[key] = r
		}
	}
	b.state = s
	b.compilePatterns()
}

// compilePatterns rebuilds the regex range keys in sorted key order.
// Callers hold the write lock.
func (b *Base) compilePatterns() {
	b.patterns = b.patterns[:0]
	keys := make([]string, 0)
	for k := range b.state.RangePatterns {
		if strings.HasPrefix(k, "^") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		re, err := regexp.Compile(k)
		if err != nil {
			b.logger.Warn("ignoring invalid range pattern",
				"component", "knowledge",
				"action", "compile_pattern",
				"pattern", k,
				"error", err,
			)
			continue
		}
		b.patterns = append(b.patterns, compiledPattern{key: k, re: re})
	}
}

func ruleIndex(rules []KeywordRule, category string) int {
	for i, r := range rules {
		if r.Category == category {
			return i
		}
	}
	return -1
}

// LookupFormat returns the last confirmed format for a parameter name.
func (b *Base) LookupFormat(name string) (types.FormatSpec, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	f, ok := b.state.FormatByParamName[name]
	return f, ok
}

// LookupRange returns the range recorded for name, trying the exact name
// before regular-expression keys.
func (b *Base) LookupRange(name string) (types.Range, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if r, ok := b.state.RangePatterns[name]; ok {
		return r, true
	}
	for _, p := range b.patterns {
		if p.re.MatchString(name) {
			return b.state.RangePatterns[p.key], true
		}
	}
	return types.Range{}, false
}

// LookupUnit returns the unit learned for name or for the longest learned
// fragment it contains.
func (b *Base) LookupUnit(name string) (types.Unit, bool) {
	lower := strings.ToLower(name)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if u, ok := b.state.UnitPatterns[lower]; ok {
		return u, true
	}
	best := ""
	for frag := range b.state.UnitPatterns {
		if frag == "" || !strings.Contains(lower, frag) {
			continue
		}
		if len(frag) > len(best) || (len(frag) == len(best) && frag < best) {
			best = frag
		}
	}
	if best == "" {
		return types.UnitNone, false
	}
	return b.state.UnitPatterns[best], true
}

// EffectSignatureFor returns the archetype previously matched for a plugin.
func (b *Base) EffectSignatureFor(plugin types.PluginIdentity) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.state.EffectSignatures[plugin.Key()]
	return s, ok
}

// Archetype returns a catalogued archetype by name.
func (b *Base) Archetype(name string) (Archetype, bool) {
	return b.catalog.Archetype(name)
}

// CategoryRules returns a copy of the keyword rules in evaluation order.
func (b *Base) CategoryRules() []KeywordRule {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]KeywordRule, len(b.state.CategoryKeywordRules))
	for i, r := range b.state.CategoryKeywordRules {
		out[i] = r.clone()
	}
	return out
}

// Snapshot returns a deep copy of the current state.
func (b *Base) Snapshot() *Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state.Clone()
}

// Stats summarizes the knowledge base.
type Stats struct {
	PluginsAnalyzed  int `json:"plugins_analyzed"`
	FormatsLearned   int `json:"formats_learned"`
	RangePatterns    int `json:"range_patterns"`
	UnitPatterns     int `json:"unit_patterns"`
	EffectSignatures int `json:"effect_signatures"`
	CategoryRules    int `json:"category_rules"`
	CategoryKeywords int `json:"category_keywords"`
}

// Stats returns table sizes.
func (b *Base) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := Stats{
		PluginsAnalyzed:  len(b.state.PluginHistory),
		FormatsLearned:   len(b.state.FormatByParamName),
		RangePatterns:    len(b.state.RangePatterns),
		UnitPatterns:     len(b.state.UnitPatterns),
		EffectSignatures: len(b.state.EffectSignatures),
		CategoryRules:    len(b.state.CategoryKeywordRules),
	}
	for _, r := range b.state.CategoryKeywordRules {
		s.CategoryKeywords += len(r.Keywords) + len(r.Learned)
	}
	return s
}

// Observation is one parameter fed back after discovery, with flags for
// which of its properties came from the host and may be learned.
type Observation struct {
	Param types.ParameterObservation
	// LearnRange is set when the range was observed on the host.
	LearnRange bool
	// LearnUnit is set when the unit was parsed from host formatting.
	LearnUnit bool
}

// Learning is the feedback of one completed discovery session.
type Learning struct {
	Plugin         types.PluginIdentity
	At             time.Time
	Observations   []Observation
	Categorization types.CategorizationResult
	// ArchetypeAssignments maps parameter names to the category the matched
	// archetype assigned them.
	ArchetypeAssignments map[string]string
}

// Anomaly is a confirmed format that differs from the previously stored one.
type Anomaly struct {
	Parameter string           `json:"parameter"`
	Expected  types.FormatSpec `json:"expected"`
	Found     types.FormatSpec `json:"found"`
}

// LearningReport describes what one Record call changed.
type LearningReport struct {
	Plugin            string    `json:"plugin"`
	NewPatterns       int       `json:"new_patterns"`
	ConfirmedPatterns int       `json:"confirmed_patterns"`
	Anomalies         []Anomaly `json:"anomalies,omitempty"`
	EffectType        string    `json:"effect_type,omitempty"`
}

// Record merges a session's observations into the base. Existing keys may be
// replaced, never removed; the last confirmed format for a name wins.
func (b *Base) Record(l Learning) LearningReport {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.state
	report := LearningReport{Plugin: l.Plugin.Key(), EffectType: l.Categorization.EffectSignature}

	for _, o := range l.Observations {
		p := o.Param
		if p.FormatSpec != nil && p.Confidence != types.ConfidenceUnknown {
			prev, existed := s.FormatByParamName[p.Name]
			switch {
			case !existed:
				report.NewPatterns++
			case prev == *p.FormatSpec:
				report.ConfirmedPatterns++
			default:
				report.Anomalies = append(report.Anomalies, Anomaly{
					Parameter: p.Name,
					Expected:  prev,
					Found:     *p.FormatSpec,
				})
			}
			s.FormatByParamName[p.Name] = *p.FormatSpec
		}

		if o.LearnRange && p.Range != nil && p.Range.IsFinite() && p.Confidence == types.ConfidenceObserved {
			if _, existed := s.RangePatterns[p.Name]; !existed {
				report.NewPatterns++
			}
			s.RangePatterns[p.Name] = *p.Range
		}

		if o.LearnUnit && p.Unit != types.UnitNone && p.Unit.Valid() {
			key := strings.ToLower(p.Name)
			if _, existed := s.UnitPatterns[key]; !existed {
				report.NewPatterns++
			}
			s.UnitPatterns[key] = p.Unit
		}
	}

	if sig := l.Categorization.EffectSignature; sig != "" {
		s.EffectSignatures[l.Plugin.Key()] = sig
	}

	for _, name := range sortedKeys(l.ArchetypeAssignments) {
		b.learnKeyword(l.ArchetypeAssignments[name], strings.ToLower(name), l.Categorization)
	}

	h := s.PluginHistory[l.Plugin.Key()]
	h.Path = l.Plugin.Path
	h.LastDiscovered = l.At.UTC()
	h.ParameterCount = len(l.Observations)
	h.Discoveries++
	s.PluginHistory[l.Plugin.Key()] = h

	b.logger.Info("knowledge recorded",
		"component", "knowledge",
		"action", "record",
		"plugin", report.Plugin,
		"new_patterns", report.NewPatterns,
		"confirmed_patterns", report.ConfirmedPatterns,
		"anomalies", len(report.Anomalies),
		"effect_type", report.EffectType,
	)
	return report
}

// learnKeyword adds name to the category's learned keywords, creating the
// rule when the category is new. Names already covered by a catalogued
// keyword of the rule add nothing. Callers hold the write lock.
func (b *Base) learnKeyword(category, name string, cat types.CategorizationResult) {
	if category == "" || name == "" {
		return
	}
	rules := b.state.CategoryKeywordRules
	i := ruleIndex(rules, category)
	if i < 0 {
		priority := types.PrioritySecondary
		if c, ok := cat.Categories[category]; ok {
			priority = c.Priority
		}
		b.state.CategoryKeywordRules = append(rules, KeywordRule{
			Category: category,
			Priority: priority,
			Keywords: []string{},
			Learned:  []string{name},
		})
		return
	}
	for _, kw := range rules[i].Keywords {
		if kw != "" && strings.Contains(name, strings.ToLower(kw)) {
			return
		}
	}
	if !slices.Contains(rules[i].Learned, name) {
		rules[i].Learned = append(rules[i].Learned, name)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Flush writes the full state to the persister. Concurrent flushes are
// serialized; a failure leaves the previously persisted snapshot intact.
func (b *Base) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	if b.persister == nil {
		return nil
	}

	snap := b.Snapshot()
	snap.UpdatedAt = time.Now().UTC()
	if err := b.persister.Save(ctx, snap); err != nil {
		b.logger.Error("knowledge flush failed",
			"component", "knowledge",
			"action", "flush",
			"error", err,
		)
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	b.mu.Lock()
	b.state.UpdatedAt = snap.UpdatedAt
	b.mu.Unlock()

	b.logger.Debug("knowledge flushed",
		"component", "knowledge",
		"action", "flush",
		"formats", len(snap.FormatByParamName),
	)
	return nil
}
