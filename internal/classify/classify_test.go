package classify

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/hyperengineering/paramlore/internal/host/sim"
	"github.com/hyperengineering/paramlore/internal/types"
)

const classifyFixture = `
plugin: {name: Plate}
parameters:
  - {name: mix, kind: float, value: 0.5, declared_range: {min: 0, max: 1}, clamp: {min: 0, max: 1}}
  - {name: low_freq, kind: float, value: 0.2, declared_range: {min: 0, max: 1}}
  - {name: high_cut, kind: float, value: 8000, declared_range: {min: 200, max: 20000}}
  - {name: size, kind: int, value: 50, clamp: {min: 0, max: 100}}
  - {name: predelay, kind: float, value: 20, clamp: {min: 0, max: 500}}
  - {name: stuck, kind: float, value: 3, reject_writes: true}
  - {name: shimmer_mix, kind: float, value: 40, clamp: {min: 0, max: 100}}
  - {name: decay, kind: string_numeric, value: 1.0, grammar: {decimal_places: 2, unit_suffix: s, suffix_separator: " "}}
  - {name: mode, kind: enum, value: Plate, valid_values: [Plate, Hall], declare_values: true}
  - {name: era, kind: enum, value: "1970s", valid_values: ["1970s", "1980s"], declare_values: true}
  - {name: color, kind: enum, value: Dark, valid_values: [Dark, Bright]}
  - {name: freeze, kind: bool, value: false}
`

type stubRanges map[string]types.Range

func (s stubRanges) LookupRange(name string) (types.Range, bool) {
	r, ok := s[name]
	return r, ok
}

func newTestClassifier(kb RangeLookup) *Classifier {
	return New(kb, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func classifyParam(t *testing.T, c *Classifier, h *sim.Host, name string) Classification {
	t.Helper()
	raw, err := h.Read(name)
	if err != nil {
		t.Fatalf("Read(%q) error = %v", name, err)
	}
	return c.Classify(context.Background(), h, name, raw)
}

func loadFixture(t *testing.T) *sim.Host {
	t.Helper()
	h, err := sim.Parse([]byte(classifyFixture))
	if err != nil {
		t.Fatalf("sim.Parse() error = %v", err)
	}
	return h
}

func TestClassify_MixScenario(t *testing.T) {
	// Given: mix at 0.5 with the degenerate (0,1) host range
	h := loadFixture(t)

	// When: classifying
	got := classifyParam(t, newTestClassifier(nil), h, "mix")

	// Then: the normalized heuristic wins over the sentinel
	if got.Representation != types.RepresentationNumericFloat {
		t.Errorf("Representation = %q, want numeric_float", got.Representation)
	}
	if got.Range == nil || *got.Range != (types.Range{Min: 0, Max: 100}) {
		t.Errorf("Range = %v, want (0,100)", got.Range)
	}
	if got.Confidence != types.ConfidenceInferred || got.RangeSource != RangeSourceHeuristic {
		t.Errorf("Confidence = %q source %q, want inferred from heuristic", got.Confidence, got.RangeSource)
	}
}

func TestClassify_DegenerateRangeOverriddenByFreq(t *testing.T) {
	h := loadFixture(t)

	got := classifyParam(t, newTestClassifier(nil), h, "low_freq")

	if got.Range == nil || *got.Range != (types.Range{Min: 20, Max: 20000}) {
		t.Errorf("Range = %v, want (20,20000)", got.Range)
	}
	if got.Confidence != types.ConfidenceInferred {
		t.Errorf("Confidence = %q, want inferred", got.Confidence)
	}
}

func TestClassify_HostRangeWins(t *testing.T) {
	h := loadFixture(t)
	kb := stubRanges{"high_cut": {Min: 1, Max: 2}}

	got := classifyParam(t, newTestClassifier(kb), h, "high_cut")

	if got.Range == nil || *got.Range != (types.Range{Min: 200, Max: 20000}) {
		t.Errorf("Range = %v, want host range (200,20000)", got.Range)
	}
	if got.Confidence != types.ConfidenceObserved || got.RangeSource != RangeSourceHost {
		t.Errorf("Confidence = %q source %q, want observed from host", got.Confidence, got.RangeSource)
	}
}

func TestClassify_KnowledgeBaseBeforeHeuristic(t *testing.T) {
	h := loadFixture(t)
	kb := stubRanges{"mix": {Min: 0, Max: 1}}

	got := classifyParam(t, newTestClassifier(kb), h, "mix")

	if got.RangeSource != RangeSourceKnowledgeBase || got.Confidence != types.ConfidenceObserved {
		t.Errorf("source %q confidence %q, want knowledge_base/observed", got.RangeSource, got.Confidence)
	}
}

func TestClassify_BracketingRestoresValue(t *testing.T) {
	h := loadFixture(t)

	got := classifyParam(t, newTestClassifier(nil), h, "predelay")

	if got.Range == nil || *got.Range != (types.Range{Min: 0, Max: 500}) {
		t.Errorf("Range = %v, want bracketed (0,500)", got.Range)
	}
	if got.RangeSource != RangeSourceBracketing || got.Confidence != types.ConfidenceObserved {
		t.Errorf("source %q confidence %q, want bracketing/observed", got.RangeSource, got.Confidence)
	}
	if v, _ := h.Read("predelay"); v.Float() != 20 {
		t.Errorf("predelay after bracketing = %v, want 20", v.Float())
	}
	if len(h.Writes("predelay")) == 0 {
		t.Error("bracketing should have written probe values")
	}
}

func TestClassify_BracketingInt(t *testing.T) {
	h := loadFixture(t)

	got := classifyParam(t, newTestClassifier(nil), h, "size")

	if got.Representation != types.RepresentationNumericInt {
		t.Errorf("Representation = %q, want numeric_int", got.Representation)
	}
	if got.Range == nil || *got.Range != (types.Range{Min: 0, Max: 100}) {
		t.Errorf("Range = %v, want (0,100)", got.Range)
	}
	for _, w := range h.Writes("size") {
		if w.Kind() != types.KindInt {
			t.Errorf("wrote %v (%s) to an int parameter", w, w.Kind())
		}
	}
	if v, _ := h.Read("size"); v.Int() != 50 {
		t.Errorf("size after bracketing = %v, want 50", v.Int())
	}
}

func TestClassify_RangeIndeterminate(t *testing.T) {
	h := loadFixture(t)

	got := classifyParam(t, newTestClassifier(nil), h, "stuck")

	if got.Range != nil {
		t.Errorf("Range = %v, want nil", got.Range)
	}
	if got.Confidence != types.ConfidenceUnknown {
		t.Errorf("Confidence = %q, want unknown", got.Confidence)
	}
	if len(got.Diagnostics) != 1 || got.Diagnostics[0].Kind != types.DiagnosticRangeIndeterminate {
		t.Errorf("Diagnostics = %+v, want one range_indeterminate", got.Diagnostics)
	}
}

func TestClassify_NormalizedHeuristicNeedsUnitValue(t *testing.T) {
	h := loadFixture(t)

	// shimmer_mix reads 40, outside [0,1], so bracketing decides
	got := classifyParam(t, newTestClassifier(nil), h, "shimmer_mix")

	if got.RangeSource != RangeSourceBracketing {
		t.Errorf("RangeSource = %q, want bracketing", got.RangeSource)
	}
}

func TestClassify_Strings(t *testing.T) {
	h := loadFixture(t)
	c := newTestClassifier(nil)

	decay := classifyParam(t, c, h, "decay")
	if decay.Representation != types.RepresentationStringNumeric {
		t.Errorf("decay Representation = %q, want string_numeric", decay.Representation)
	}
	if decay.Range != nil {
		t.Errorf("decay Range = %v, want nil without heuristic", decay.Range)
	}
	if len(h.Writes("decay")) != 0 {
		t.Error("string-numeric parameters must not be bracketed")
	}

	mode := classifyParam(t, c, h, "mode")
	if mode.Representation != types.RepresentationStringEnum || len(mode.ValidValues) != 2 {
		t.Errorf("mode = %+v, want string_enum with 2 declared values", mode)
	}

	// Declared members beat the numeric-looking text
	era := classifyParam(t, c, h, "era")
	if era.Representation != types.RepresentationStringEnum {
		t.Errorf("era Representation = %q, want string_enum", era.Representation)
	}

	color := classifyParam(t, c, h, "color")
	if color.Representation != types.RepresentationStringEnum || color.Confidence != types.ConfidenceUnknown {
		t.Errorf("color = %+v, want string_enum of unknown confidence", color)
	}

	freeze := classifyParam(t, c, h, "freeze")
	if freeze.Representation != types.RepresentationBoolean || len(freeze.ValidValues) != 2 {
		t.Errorf("freeze = %+v, want boolean with both values", freeze)
	}
}

func TestIsStringNumeric(t *testing.T) {
	tests := map[string]bool{
		"1.00 s":    true,
		"250":       true,
		"-6 dB":     true,
		"50%":       true,
		"Plate":     false,
		"3 bananas": false,
		"1.0 - 2.0": false,
		"1970s":     false,
		"1970 s":    true,
		"2.5s":      true,
	}
	for in, want := range tests {
		if got := IsStringNumeric(in); got != want {
			t.Errorf("IsStringNumeric(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInferRange(t *testing.T) {
	tests := []struct {
		name     string
		observed float64
		want     types.Range
		ok       bool
	}{
		{"cutoff", 1000, types.Range{Min: 20, Max: 20000}, true},
		{"output_gain", 0, types.Range{Min: -24, Max: 24}, true},
		{"wet", 0.3, types.Range{Min: 0, Max: 100}, true},
		{"wet", 30, types.Range{}, false},
		{"delay_feedback", 0.4, types.Range{Min: 0, Max: 100}, true},
		{"out_db", 0, types.Range{Min: -24, Max: 24}, true},
		{"size", 0.5, types.Range{}, false},
	}
	for _, tt := range tests {
		got, ok := InferRange(tt.name, tt.observed)
		if ok != tt.ok || got != tt.want {
			t.Errorf("InferRange(%q, %v) = %v, %v; want %v, %v", tt.name, tt.observed, got, ok, tt.want, tt.ok)
		}
	}
}
