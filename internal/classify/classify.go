// Package classify decides a parameter's representation and numeric bounds.
package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/hyperengineering/paramlore/internal/host"
	"github.com/hyperengineering/paramlore/internal/types"
	"github.com/hyperengineering/paramlore/internal/units"
)

// RangeSource records which resolution step produced a range.
type RangeSource string

const (
	RangeSourceNone          RangeSource = ""
	RangeSourceHost          RangeSource = "host_declared"
	RangeSourceKnowledgeBase RangeSource = "knowledge_base"
	RangeSourceHeuristic     RangeSource = "name_heuristic"
	RangeSourceBracketing    RangeSource = "bracketing"
)

// RangeLookup resolves a previously learned range by parameter name.
type RangeLookup interface {
	LookupRange(name string) (types.Range, bool)
}

// bracketValues are written during empirical bracketing, smallest magnitude
// first.
var bracketValues = []float64{0, 0.1, -0.1, 0.5, -0.5, 1, -1, 10, -10, 100, -100, 1000, -1000, 10000, -10000}

type heuristic struct {
	fragments  []string
	rng        types.Range
	normalized bool // applies only when the observed value lies in [0,1]
}

// heuristics are name-fragment range inferences, checked in order.
var heuristics = []heuristic{
	{fragments: []string{"freq", "cutoff"}, rng: types.Range{Min: 20, Max: 20000}},
	{fragments: []string{"gain", "db"}, rng: types.Range{Min: -24, Max: 24}},
	{fragments: []string{"mix", "wet", "dry", "depth", "width", "amount", "diffusion", "feedback"}, rng: types.Range{Min: 0, Max: 100}, normalized: true},
}

// Classification is the classifier's verdict for one parameter.
type Classification struct {
	Representation types.Representation
	Range          *types.Range
	RangeSource    RangeSource
	Confidence     types.Confidence
	ValidValues    []types.Value
	Diagnostics    []types.Diagnostic
}

// Classifier resolves representation and range.
type Classifier struct {
	kb              RangeLookup
	restoreAttempts int
	bracketing      bool
	logger          *slog.Logger
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithRestoreAttempts sets how often bracketing retries restoring a value.
func WithRestoreAttempts(n int) Option {
	return func(c *Classifier) { c.restoreAttempts = n }
}

// WithBracketing enables or disables empirical bracketing.
func WithBracketing(on bool) Option {
	return func(c *Classifier) { c.bracketing = on }
}

// WithLogger sets the classifier's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) { c.logger = l }
}

// New returns a Classifier backed by kb, which may be nil.
func New(kb RangeLookup, opts ...Option) *Classifier {
	c := &Classifier{
		kb:              kb,
		restoreAttempts: host.DefaultRestoreAttempts,
		bracketing:      true,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Representation infers a representation from the value's runtime shape.
// declared holds host-declared enumeration members, if any.
func Representation(raw types.Value, declared []types.Value) types.Representation {
	switch raw.Kind() {
	case types.KindBool:
		return types.RepresentationBoolean
	case types.KindInt:
		return types.RepresentationNumericInt
	case types.KindFloat:
		return types.RepresentationNumericFloat
	case types.KindString:
		if len(declared) > 0 {
			return types.RepresentationStringEnum
		}
		if IsStringNumeric(raw.Text()) {
			return types.RepresentationStringNumeric
		}
		return types.RepresentationStringEnum
	default:
		return types.RepresentationUnknown
	}
}

// decadeLabel matches era names such as "1970s", which read as seconds.
var decadeLabel = regexp.MustCompile(`^\s*\d{3}0s\s*$`)

// IsStringNumeric reports whether s is one numeric token with an optional
// recognized unit suffix. Decade labels are not numeric.
func IsStringNumeric(s string) bool {
	if decadeLabel.MatchString(s) {
		return false
	}
	nt, ok := types.ParseNumericText(s)
	if !ok {
		return false
	}
	if nt.Suffix == "" {
		return true
	}
	_, known := types.NormalizeUnit(nt.Suffix)
	return known
}

// Classify determines the representation and range of one parameter. Range
// resolution tries the host's declared bounds, the knowledge base, name
// heuristics and finally empirical bracketing. Bracketing writes to p and
// always restores the original value.
func (c *Classifier) Classify(ctx context.Context, p host.Proxy, name string, raw types.Value) Classification {
	declared, _ := host.DeclaredValues(p, name)
	out := Classification{
		Representation: Representation(raw, declared),
		Confidence:     types.ConfidenceUnknown,
	}

	switch out.Representation {
	case types.RepresentationBoolean:
		out.ValidValues = []types.Value{types.BoolValue(false), types.BoolValue(true)}
		out.Confidence = types.ConfidenceObserved
		return out
	case types.RepresentationStringEnum:
		if len(declared) > 0 {
			out.ValidValues = declared
			out.Confidence = types.ConfidenceObserved
		}
		return out
	case types.RepresentationUnknown:
		return out
	}

	observed, _ := observedNumber(raw)
	if r, src, ok := c.resolveStatic(p, name, observed); ok {
		out.setRange(r, src)
		return out
	}

	if !out.Representation.IsNumeric() || !c.bracketing {
		return out
	}

	r, err := c.bracket(ctx, p, name, out.Representation)
	switch {
	case err == nil:
		out.setRange(r, RangeSourceBracketing)
	case errors.Is(err, host.ErrRestoreFailed):
		out.Diagnostics = append(out.Diagnostics, types.Diagnostic{
			Kind:      types.DiagnosticRestoreFailed,
			Parameter: name,
			Message:   err.Error(),
		})
		fallthrough
	default:
		out.Diagnostics = append(out.Diagnostics, types.Diagnostic{
			Kind:      types.DiagnosticRangeIndeterminate,
			Parameter: name,
			Message:   err.Error(),
		})
	}
	return out
}

func (o *Classification) setRange(r types.Range, src RangeSource) {
	o.Range = &r
	o.RangeSource = src
	if src == RangeSourceHeuristic {
		o.Confidence = types.ConfidenceInferred
	} else {
		o.Confidence = types.ConfidenceObserved
	}
}

// resolveStatic applies the resolution steps that do not touch the host's
// parameter values.
func (c *Classifier) resolveStatic(p host.Proxy, name string, observed float64) (types.Range, RangeSource, bool) {
	if r, ok := host.DeclaredRange(p, name); ok && !r.IsDegenerate() && r.IsFinite() {
		return types.NewRange(r.Min, r.Max), RangeSourceHost, true
	}
	if c.kb != nil {
		if r, ok := c.kb.LookupRange(name); ok {
			return r, RangeSourceKnowledgeBase, true
		}
	}
	if r, ok := InferRange(name, observed); ok {
		return r, RangeSourceHeuristic, true
	}
	return types.Range{}, RangeSourceNone, false
}

// InferRange applies the name heuristics. Normalized heuristics only apply
// when observed lies in [0,1].
func InferRange(name string, observed float64) (types.Range, bool) {
	lower := strings.ToLower(name)
	tokens := units.Tokenize(name)
	for _, h := range heuristics {
		for _, frag := range h.fragments {
			// Two-letter fragments such as "db" must be whole tokens.
			if len(frag) <= 2 && !slices.Contains(tokens, frag) {
				continue
			}
			if !strings.Contains(lower, frag) {
				continue
			}
			if h.normalized && (observed < 0 || observed > 1) {
				continue
			}
			return h.rng, true
		}
	}
	return types.Range{}, false
}

// bracket writes probe values and returns the span of values the host
// accepted, as read back after clamping.
func (c *Classifier) bracket(ctx context.Context, p host.Proxy, name string, rep types.Representation) (types.Range, error) {
	var accepted []float64

	err := host.Preserve(p, name, c.restoreAttempts, func(types.Value) error {
		for _, v := range bracketValues {
			if ctx.Err() != nil {
				break
			}
			probe := types.FloatValue(v)
			if rep == types.RepresentationNumericInt {
				if v != math.Trunc(v) {
					continue
				}
				probe = types.IntValue(int64(v))
			}
			if err := p.Write(name, probe); err != nil {
				continue
			}
			got, err := p.Read(name)
			if err != nil {
				continue
			}
			if n, ok := got.Number(); ok && !math.IsNaN(n) && !math.IsInf(n, 0) {
				accepted = append(accepted, n)
			}
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("bracketing restore failed",
			"component", "classify",
			"action", "bracket",
			"parameter", name,
			"error", err,
		)
		return types.Range{}, err
	}

	sort.Float64s(accepted)
	if len(accepted) < 2 || accepted[0] == accepted[len(accepted)-1] {
		return types.Range{}, fmt.Errorf("bracket %q: %d distinct accepted values: %w", name, len(uniq(accepted)), ErrRangeIndeterminate)
	}

	r := types.Range{Min: accepted[0], Max: accepted[len(accepted)-1]}
	c.logger.Debug("range bracketed",
		"component", "classify",
		"action", "bracket",
		"parameter", name,
		"min", r.Min,
		"max", r.Max,
	)
	return r, nil
}

func uniq(sorted []float64) []float64 {
	var out []float64
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			out = append(out, v)
		}
	}
	return out
}

func observedNumber(raw types.Value) (float64, bool) {
	if n, ok := raw.Number(); ok {
		return n, true
	}
	if raw.Kind() == types.KindString {
		if nt, ok := types.ParseNumericText(raw.Text()); ok {
			return nt.Number, true
		}
	}
	return math.NaN(), false
}
