package harvest

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"slices"
	"testing"

	"github.com/hyperengineering/paramlore/internal/host/sim"
	"github.com/hyperengineering/paramlore/internal/types"
)

const attributeFixture = `
plugin: {name: Plate}
attributes:
  - {name: name, value: Plate}
  - {name: is_effect, value: true}
  - {name: _handle, value: 42}
  - {name: process, value: {callable: true}}
  - {name: routing_mode, value: [stereo, mono]}
  - {name: taps, value: [1, 2, 3]}
  - {name: meter, read_error: true}
  - {name: helper, value: {object: true}}
parameters:
  - {name: mix, kind: float, value: 0.5}
  - {name: decay, kind: string_numeric, value: 1.0, grammar: {decimal_places: 2, unit_suffix: s, suffix_separator: " "}}
  - {name: mode, kind: enum, value: Plate, valid_values: [Plate, Hall]}
  - {name: freeze, kind: bool, value: false}
  - {name: broken, kind: float, value: 1, read_error: true}
`

func quietHarvester(opts ...Option) *Harvester {
	opts = append(opts, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	return New(opts...)
}

func TestHarvest_AttributeFallback(t *testing.T) {
	// Given: a host without a parameter collection
	h, err := sim.Parse([]byte(attributeFixture))
	if err != nil {
		t.Fatalf("sim.Parse() error = %v", err)
	}

	// When: harvesting
	res, err := quietHarvester().Harvest(context.Background(), h)
	if err != nil {
		t.Fatalf("Harvest() error = %v", err)
	}

	// Then: system, private, callable and unlisted collection attributes are dropped
	want := []string{"routing_mode", "mix", "decay", "mode", "freeze"}
	if got := res.Names(); !slices.Equal(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestHarvest_ReadFailuresAreSwallowed(t *testing.T) {
	h, _ := sim.Parse([]byte(attributeFixture))

	res, err := quietHarvester().Harvest(context.Background(), h)
	if err != nil {
		t.Fatalf("Harvest() error = %v", err)
	}

	var failed []string
	for _, d := range res.Diagnostics {
		if d.Kind != types.DiagnosticAttributeReadFailure {
			t.Errorf("unexpected diagnostic kind %q", d.Kind)
		}
		failed = append(failed, d.Parameter)
	}
	if !slices.Equal(failed, []string{"meter", "broken"}) {
		t.Errorf("read failures = %v, want [meter broken]", failed)
	}
}

func TestHarvest_ExplicitCollection(t *testing.T) {
	h, _ := sim.Parse([]byte(`
plugin: {name: Echo}
explicit_parameters: true
attributes:
  - {name: stray, value: 1.5}
parameters:
  - {name: bypass, kind: bool, value: false}
  - {name: feedback, kind: float, value: 0.4}
  - {name: taps, kind: int, value: 3}
`))

	res, err := quietHarvester().Harvest(context.Background(), h)
	if err != nil {
		t.Fatalf("Harvest() error = %v", err)
	}

	// Attributes outside the collection are ignored and the blacklist still applies
	if got := res.Names(); !slices.Equal(got, []string{"feedback", "taps"}) {
		t.Errorf("Names() = %v, want [feedback taps]", got)
	}
	if v := res.Attributes[0].Value; v.Float() != 0.4 {
		t.Errorf("feedback value = %v, want 0.4", v)
	}
}

func TestHarvest_CustomAllowPattern(t *testing.T) {
	h, _ := sim.Parse([]byte(attributeFixture))

	res, _ := quietHarvester(WithAllowPatterns(regexp.MustCompile(`^taps$`))).Harvest(context.Background(), h)

	if !slices.Contains(res.Names(), "taps") {
		t.Errorf("Names() = %v, want taps admitted by custom pattern", res.Names())
	}
}

func TestHarvest_Cancelled(t *testing.T) {
	h, _ := sim.Parse([]byte(attributeFixture))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := quietHarvester().Harvest(ctx, h); err == nil {
		t.Error("Harvest() should report cancellation")
	}
}

func TestIsSystemAttribute(t *testing.T) {
	for _, name := range []string{"name", "IS_EFFECT", "parameters", "bypass"} {
		if !IsSystemAttribute(name) {
			t.Errorf("IsSystemAttribute(%q) = false, want true", name)
		}
	}
	if IsSystemAttribute("decay") {
		t.Error("decay is not a system attribute")
	}
}

// namesProxy serves a fixed name list with every value readable.
type namesProxy struct {
	names []string
}

func (p namesProxy) Names() ([]string, error) { return p.names, nil }

func (p namesProxy) Read(string) (types.Value, error) { return types.FloatValue(0.5), nil }

func (p namesProxy) Write(string, types.Value) error { return nil }

func TestHarvest_InvalidNamesReported(t *testing.T) {
	p := namesProxy{names: []string{"mix", "", "de\x00cay", "width"}}

	res, err := quietHarvester().Harvest(context.Background(), p)
	if err != nil {
		t.Fatalf("Harvest() error = %v", err)
	}

	if got := res.Names(); !slices.Equal(got, []string{"mix", "width"}) {
		t.Errorf("Names() = %v, want [mix width]", got)
	}
	if len(res.Diagnostics) != 2 {
		t.Errorf("Diagnostics = %+v, want 2 invalid-name entries", res.Diagnostics)
	}
}
