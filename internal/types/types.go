package types

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Representation is the inferred encoding of a parameter's host-visible value.
type Representation string

const (
	RepresentationNumericFloat  Representation = "numeric_float"
	RepresentationNumericInt    Representation = "numeric_int"
	RepresentationStringNumeric Representation = "string_numeric"
	RepresentationStringEnum    Representation = "string_enum"
	RepresentationBoolean       Representation = "boolean"
	RepresentationUnknown       Representation = "unknown"
)

// IsNumeric reports whether the host exposes the value as a native number.
func (r Representation) IsNumeric() bool {
	return r == RepresentationNumericFloat || r == RepresentationNumericInt
}

// Unit is a canonical physical unit token. The empty Unit means none.
type Unit string

const (
	UnitNone      Unit = ""
	UnitHz        Unit = "Hz"
	UnitKHz       Unit = "kHz"
	UnitDB        Unit = "dB"
	UnitMs        Unit = "ms"
	UnitSeconds   Unit = "s"
	UnitPercent   Unit = "%"
	UnitCents     Unit = "cents"
	UnitSemitones Unit = "semitones"
)

// Units lists the fixed unit vocabulary in canonical order.
var Units = []Unit{UnitHz, UnitKHz, UnitDB, UnitMs, UnitSeconds, UnitPercent, UnitCents, UnitSemitones}

// Valid reports whether u is none or a member of the fixed vocabulary.
func (u Unit) Valid() bool {
	if u == UnitNone {
		return true
	}
	for _, known := range Units {
		if u == known {
			return true
		}
	}
	return false
}

// Confidence records where a parameter's semantics came from.
type Confidence string

const (
	// ConfidenceObserved means taken from host metadata or empirical probing.
	ConfidenceObserved Confidence = "observed"
	// ConfidenceInferred means derived from name heuristics.
	ConfidenceInferred Confidence = "inferred"
	// ConfidenceUnknown means no resolution applied.
	ConfidenceUnknown Confidence = "unknown"
)

// Range is a closed interval of real values.
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// NewRange returns a range with Min <= Max.
func NewRange(a, b float64) Range {
	if a > b {
		a, b = b, a
	}
	return Range{Min: a, Max: b}
}

// IsDegenerate reports whether r is the (0.0, 1.0) sentinel hosts report for
// normalized ranges that carry no physical meaning.
func (r Range) IsDegenerate() bool {
	return r.Min == 0 && r.Max == 1
}

// IsFinite reports whether both bounds are finite numbers.
func (r Range) IsFinite() bool {
	return !math.IsNaN(r.Min) && !math.IsInf(r.Min, 0) &&
		!math.IsNaN(r.Max) && !math.IsInf(r.Max, 0)
}

// Contains reports whether v lies within the closed interval.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// FormatSpec is the serialization grammar a string-numeric parameter accepts.
type FormatSpec struct {
	DecimalPlaces int    `json:"decimal_places" yaml:"decimal_places"`
	UnitSuffix    string `json:"unit_suffix" yaml:"unit_suffix"`
	Separator     string `json:"suffix_separator" yaml:"suffix_separator"`
}

// Encode renders v in the exact grammar described by f.
func (f FormatSpec) Encode(v float64) string {
	s := strconv.FormatFloat(v, 'f', f.DecimalPlaces, 64)
	if f.UnitSuffix == "" {
		return s
	}
	return s + f.Separator + f.UnitSuffix
}

// String returns a printf-style rendering such as "%.2f s".
func (f FormatSpec) String() string {
	var b strings.Builder
	b.WriteString("%.")
	b.WriteString(strconv.Itoa(f.DecimalPlaces))
	b.WriteString("f")
	if f.UnitSuffix != "" {
		b.WriteString(f.Separator)
		b.WriteString(strings.ReplaceAll(f.UnitSuffix, "%", "%%"))
	}
	return b.String()
}

// ParameterObservation is one harvested control at discovery time.
type ParameterObservation struct {
	Name           string
	RawValue       Value
	Representation Representation
	Unit           Unit
	Range          *Range
	ValidValues    []Value
	FormatSpec     *FormatSpec
	Confidence     Confidence
}

// Clone returns a deep copy of o.
func (o ParameterObservation) Clone() ParameterObservation {
	c := o
	if o.Range != nil {
		r := *o.Range
		c.Range = &r
	}
	if o.FormatSpec != nil {
		f := *o.FormatSpec
		c.FormatSpec = &f
	}
	if o.ValidValues != nil {
		c.ValidValues = append([]Value(nil), o.ValidValues...)
	}
	return c
}

// Seal enforces the observation invariants before the observation is frozen:
// an observation of unknown confidence never carries a range.
func (o *ParameterObservation) Seal() {
	if o.Confidence == "" {
		o.Confidence = ConfidenceUnknown
	}
	if o.Confidence == ConfidenceUnknown {
		o.Range = nil
	}
	if o.Representation == "" {
		o.Representation = RepresentationUnknown
	}
}

// PluginIdentity identifies a plugin across discovery sessions.
type PluginIdentity struct {
	Name string `json:"plugin_name"`
	Path string `json:"plugin_path,omitempty"`
}

// Key returns the identity key used by the knowledge base.
func (p PluginIdentity) Key() string {
	return p.Name
}

// Priority is a categorization tier.
type Priority string

const (
	PriorityCritical  Priority = "critical"
	PrioritySecondary Priority = "secondary"
	PriorityDisplay   Priority = "display"
)

// Rank orders priorities: critical > secondary > display.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PrioritySecondary:
		return 2
	case PriorityDisplay:
		return 1
	default:
		return 0
	}
}

// ParsePriority maps a string to a Priority, defaulting to secondary.
func ParsePriority(s string) Priority {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityCritical:
		return PriorityCritical
	case PriorityDisplay:
		return PriorityDisplay
	default:
		return PrioritySecondary
	}
}

// Category groups parameters under one priority tier.
type Category struct {
	Priority   Priority `json:"priority"`
	Parameters []string `json:"parameters"`
}

// CategorizationResult assigns every parameter to one category or to Uncategorized.
type CategorizationResult struct {
	EffectSignature string              `json:"effect_signature,omitempty"`
	Categories      map[string]Category `json:"categories"`
	Uncategorized   []string            `json:"uncategorized"`
}

// Clone returns a deep copy of c.
func (c CategorizationResult) Clone() CategorizationResult {
	out := CategorizationResult{
		EffectSignature: c.EffectSignature,
		Categories:      make(map[string]Category, len(c.Categories)),
		Uncategorized:   append([]string{}, c.Uncategorized...),
	}
	for name, cat := range c.Categories {
		out.Categories[name] = Category{
			Priority:   cat.Priority,
			Parameters: append([]string{}, cat.Parameters...),
		}
	}
	return out
}

// CategoryOf returns the category holding the named parameter.
func (c CategorizationResult) CategoryOf(param string) (string, bool) {
	for name, cat := range c.Categories {
		for _, p := range cat.Parameters {
			if p == param {
				return name, true
			}
		}
	}
	return "", false
}

// DiagnosticKind names an observable, non-fatal discovery failure.
type DiagnosticKind string

const (
	DiagnosticAttributeReadFailure DiagnosticKind = "attribute_read_failure"
	DiagnosticWriteRejected        DiagnosticKind = "write_rejected"
	DiagnosticNoViableFormat       DiagnosticKind = "no_viable_format"
	DiagnosticRangeIndeterminate   DiagnosticKind = "range_indeterminate"
	DiagnosticSignatureNoMatch     DiagnosticKind = "signature_no_match"
	DiagnosticPersistenceFailure   DiagnosticKind = "knowledge_base_persistence_failure"
	DiagnosticRestoreFailed        DiagnosticKind = "restore_failed"
	DiagnosticNoParameters         DiagnosticKind = "no_parameters"
	DiagnosticCancelled            DiagnosticKind = "cancelled"
)

// Diagnostic records one failure surfaced by a discovery session.
type Diagnostic struct {
	Kind      DiagnosticKind `json:"kind"`
	Parameter string         `json:"parameter,omitempty"`
	Message   string         `json:"message"`
}

// RecordKey is the identity of a DiscoveryRecord.
type RecordKey struct {
	Plugin    string
	Timestamp time.Time
}
