// Package sim provides a simulated plugin host loaded from YAML fixtures.
// It models the behaviors discovery has to cope with on real hosts: clamped
// numeric writes, string-numeric parameters that accept only their own
// grammar, enumerations, read failures and rejected writes.
package sim

import (
	"fmt"
	"math"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/hyperengineering/paramlore/internal/host"
	"github.com/hyperengineering/paramlore/internal/types"
)

// Parameter kinds accepted in fixtures.
const (
	KindFloat         = "float"
	KindInt           = "int"
	KindBool          = "bool"
	KindStringNumeric = "string_numeric"
	KindEnum          = "enum"
)

// Fixture describes a simulated plugin.
type Fixture struct {
	Plugin             types.PluginIdentity `yaml:"plugin"`
	ExplicitParameters bool                 `yaml:"explicit_parameters"`
	Attributes         []AttributeSpec      `yaml:"attributes"`
	Parameters         []ParameterSpec      `yaml:"parameters"`
}

// AttributeSpec is a read-only attribute that is not a parameter, such as
// the plugin name or a bound method handle.
type AttributeSpec struct {
	Name      string `yaml:"name"`
	Value     any    `yaml:"value"`
	ReadError bool   `yaml:"read_error"`
}

// ParameterSpec is a writable control.
type ParameterSpec struct {
	Name          string       `yaml:"name"`
	Kind          string       `yaml:"kind"`
	Value         any          `yaml:"value"`
	DeclaredRange *types.Range `yaml:"declared_range"`
	Clamp         *types.Range `yaml:"clamp"`
	Grammar       *Grammar     `yaml:"grammar"`
	ValidValues   []string     `yaml:"valid_values"`
	DeclareValues bool         `yaml:"declare_values"`
	Display       *Display     `yaml:"display"`
	ReadError     bool         `yaml:"read_error"`
	RejectWrites  bool         `yaml:"reject_writes"`
}

// Grammar is the only text form a string-numeric parameter accepts and the
// form it echoes back. Writes are parsed, clamped and re-rendered.
type Grammar struct {
	types.FormatSpec `yaml:",inline"`
	SuffixOptional   bool `yaml:"suffix_optional"`
}

// Display renders a numeric parameter for display, e.g. 0.5 as "50%".
type Display struct {
	types.FormatSpec `yaml:",inline"`
	Scale            float64 `yaml:"scale"`
}

type param struct {
	spec ParameterSpec
	num  float64
	text string
	b    bool
}

// Host is a simulated plugin instance. It is safe for concurrent use.
type Host struct {
	mu       sync.Mutex
	fixture  Fixture
	attrs    map[string]AttributeSpec
	params   map[string]*param
	names    []string
	writes   map[string][]types.Value
	failures map[string]func(types.Value) bool
	corrupt  bool
}

var (
	_ host.Proxy           = (*Host)(nil)
	_ host.ParameterLister = (*Host)(nil)
	_ host.RangeReporter   = (*Host)(nil)
	_ host.ValueLister     = (*Host)(nil)
	_ host.Displayer       = (*Host)(nil)
)

// Load reads a fixture file and returns a host for it.
func Load(path string) (*Host, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return Parse(data)
}

// Parse builds a host from fixture YAML.
func Parse(data []byte) (*Host, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	return New(f)
}

// New builds a host from a decoded fixture.
func New(f Fixture) (*Host, error) {
	if f.Plugin.Name == "" {
		return nil, fmt.Errorf("fixture: plugin name is required")
	}

	h := &Host{
		fixture:  f,
		attrs:    make(map[string]AttributeSpec, len(f.Attributes)),
		params:   make(map[string]*param, len(f.Parameters)),
		writes:   make(map[string][]types.Value),
		failures: make(map[string]func(types.Value) bool),
	}

	for _, a := range f.Attributes {
		if err := h.claim(a.Name); err != nil {
			return nil, err
		}
		h.attrs[a.Name] = a
	}
	for _, spec := range f.Parameters {
		if err := h.claim(spec.Name); err != nil {
			return nil, err
		}
		p, err := newParam(spec)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", spec.Name, err)
		}
		h.params[spec.Name] = p
	}
	return h, nil
}

func (h *Host) claim(name string) error {
	if name == "" {
		return fmt.Errorf("fixture: empty attribute name")
	}
	if slices.Contains(h.names, name) {
		return fmt.Errorf("fixture: duplicate attribute %q", name)
	}
	h.names = append(h.names, name)
	return nil
}

func newParam(spec ParameterSpec) (*param, error) {
	p := &param{spec: spec}
	switch spec.Kind {
	case KindFloat, KindInt:
		n, ok := toNumber(spec.Value)
		if !ok {
			return nil, fmt.Errorf("kind %s needs a numeric value, got %v", spec.Kind, spec.Value)
		}
		p.num = n
		if spec.Kind == KindInt {
			p.num = math.Round(n)
		}
	case KindBool:
		b, ok := spec.Value.(bool)
		if !ok {
			return nil, fmt.Errorf("kind bool needs a boolean value, got %v", spec.Value)
		}
		p.b = b
	case KindStringNumeric:
		if spec.Grammar == nil {
			return nil, fmt.Errorf("kind string_numeric needs a grammar")
		}
		n, ok := toNumber(spec.Value)
		if !ok {
			s, isText := spec.Value.(string)
			nt, parsed := types.ParseNumericText(s)
			if !isText || !parsed {
				return nil, fmt.Errorf("kind string_numeric needs a numeric value, got %v", spec.Value)
			}
			n = nt.Number
		}
		p.num = n
	case KindEnum:
		s := fmt.Sprint(spec.Value)
		if !slices.Contains(spec.ValidValues, s) {
			return nil, fmt.Errorf("enum value %q not in valid_values", s)
		}
		p.text = s
	default:
		return nil, fmt.Errorf("unknown kind %q", spec.Kind)
	}
	return p, nil
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// toValue converts a decoded YAML scalar or collection to a host value.
func toValue(v any) types.Value {
	switch x := v.(type) {
	case nil:
		return types.OpaqueValue("<nil>")
	case bool:
		return types.BoolValue(x)
	case int:
		return types.IntValue(int64(x))
	case float64:
		return types.FloatValue(x)
	case string:
		return types.StringValue(x)
	case []any:
		items := make([]types.Value, len(x))
		for i, it := range x {
			items[i] = toValue(it)
		}
		return types.CompositeValue(items...)
	default:
		return types.OpaqueValue(x)
	}
}

// Identity returns the simulated plugin's identity.
func (h *Host) Identity() types.PluginIdentity {
	return h.fixture.Plugin
}

// Names returns attributes and parameters in fixture order.
func (h *Host) Names() ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.names), nil
}

// Parameters returns the explicit parameter collection when the fixture
// enables it.
func (h *Host) Parameters() ([]string, error) {
	if !h.fixture.ExplicitParameters {
		return nil, host.ErrUnsupported
	}
	out := make([]string, 0, len(h.fixture.Parameters))
	for _, p := range h.fixture.Parameters {
		out = append(out, p.Name)
	}
	return out, nil
}

// Read returns the current value of name.
func (h *Host) Read(name string) (types.Value, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if a, ok := h.attrs[name]; ok {
		if a.ReadError {
			return types.Value{}, fmt.Errorf("read %s: attribute raised", name)
		}
		return toValue(a.Value), nil
	}
	p, ok := h.params[name]
	if !ok {
		return types.Value{}, fmt.Errorf("read %s: %w", name, host.ErrUnknownParameter)
	}
	if p.spec.ReadError {
		return types.Value{}, fmt.Errorf("read %s: parameter raised", name)
	}
	return p.value(), nil
}

func (p *param) value() types.Value {
	switch p.spec.Kind {
	case KindFloat:
		return types.FloatValue(p.num)
	case KindInt:
		return types.IntValue(int64(p.num))
	case KindBool:
		return types.BoolValue(p.b)
	case KindStringNumeric:
		return types.StringValue(p.spec.Grammar.Encode(p.num))
	default:
		return types.StringValue(p.text)
	}
}

// Write applies v to name the way a strict host would.
func (h *Host) Write(name string, v types.Value) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.attrs[name]; ok {
		return fmt.Errorf("write %s: read-only attribute: %w", name, host.ErrWriteRejected)
	}
	p, ok := h.params[name]
	if !ok {
		return fmt.Errorf("write %s: %w", name, host.ErrUnknownParameter)
	}
	h.writes[name] = append(h.writes[name], v)

	if fail, ok := h.failures[name]; ok && fail(v) {
		if h.corrupt {
			p.clobber()
		}
		return fmt.Errorf("write %s=%q: %w", name, v, host.ErrWriteRejected)
	}
	if p.spec.RejectWrites {
		return fmt.Errorf("write %s: %w", name, host.ErrWriteRejected)
	}
	if err := p.apply(v); err != nil {
		return fmt.Errorf("write %s=%q: %w", name, v, err)
	}
	return nil
}

func (p *param) apply(v types.Value) error {
	switch p.spec.Kind {
	case KindFloat, KindInt:
		n, ok := v.Number()
		if !ok {
			return host.ErrWriteRejected
		}
		if p.spec.Kind == KindInt {
			n = math.Round(n)
		}
		p.num = p.clamp(n)
	case KindBool:
		if v.Kind() != types.KindBool {
			return host.ErrWriteRejected
		}
		p.b = v.Bool()
	case KindStringNumeric:
		if v.Kind() != types.KindString {
			return host.ErrWriteRejected
		}
		nt, ok := types.ParseNumericText(v.Text())
		if !ok {
			return host.ErrWriteRejected
		}
		g := p.spec.Grammar
		switch {
		case nt.Suffix == "" && g.UnitSuffix != "" && !g.SuffixOptional:
			return host.ErrWriteRejected
		case nt.Suffix != "" && nt.Suffix != g.UnitSuffix:
			return host.ErrWriteRejected
		}
		p.num = p.clamp(nt.Number)
	case KindEnum:
		if v.Kind() != types.KindString || !slices.Contains(p.spec.ValidValues, v.Text()) {
			return host.ErrWriteRejected
		}
		p.text = v.Text()
	}
	return nil
}

func (p *param) clamp(n float64) float64 {
	if p.spec.Clamp == nil {
		return n
	}
	return math.Max(p.spec.Clamp.Min, math.Min(p.spec.Clamp.Max, n))
}

// clobber leaves the parameter in an arbitrary state after a failed write.
func (p *param) clobber() {
	switch p.spec.Kind {
	case KindBool:
		p.b = !p.b
	case KindEnum:
		p.text = "__clobbered__"
	default:
		p.num += 12345
	}
}

// DeclaredRange returns the fixture's declared range for name.
func (h *Host) DeclaredRange(name string) (types.Range, bool, error) {
	p, ok := h.params[name]
	if !ok {
		return types.Range{}, false, host.ErrUnknownParameter
	}
	if p.spec.DeclaredRange == nil {
		return types.Range{}, false, nil
	}
	return *p.spec.DeclaredRange, true, nil
}

// ValidValues returns the declared members of an enumeration.
func (h *Host) ValidValues(name string) ([]types.Value, bool, error) {
	p, ok := h.params[name]
	if !ok {
		return nil, false, host.ErrUnknownParameter
	}
	if !p.spec.DeclareValues || len(p.spec.ValidValues) == 0 {
		return nil, false, nil
	}
	out := make([]types.Value, len(p.spec.ValidValues))
	for i, s := range p.spec.ValidValues {
		out[i] = types.StringValue(s)
	}
	return out, true, nil
}

// Display renders name through its display format.
func (h *Host) Display(name string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.params[name]
	if !ok {
		return "", host.ErrUnknownParameter
	}
	switch {
	case p.spec.Display != nil:
		scale := p.spec.Display.Scale
		if scale == 0 {
			scale = 1
		}
		return p.spec.Display.Encode(p.num * scale), nil
	case p.spec.Kind == KindStringNumeric:
		return p.spec.Grammar.Encode(p.num), nil
	default:
		return "", host.ErrUnsupported
	}
}

// FailWrites makes writes to name fail whenever reject returns true.
func (h *Host) FailWrites(name string, reject func(types.Value) bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures[name] = reject
}

// CorruptOnReject makes scripted write failures clobber the stored value
// before reporting the rejection.
func (h *Host) CorruptOnReject(on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.corrupt = on
}

// Writes returns every value written to name, including rejected writes.
func (h *Host) Writes(name string) []types.Value {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.writes[name])
}
