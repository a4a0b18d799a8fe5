// Package harvest enumerates the true parameters of a plugin instance.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/hyperengineering/paramlore/internal/host"
	"github.com/hyperengineering/paramlore/internal/types"
	"github.com/hyperengineering/paramlore/internal/validation"
)

// systemAttributes are plugin metadata, capability flags and state blobs that
// hosts expose next to parameters.
var systemAttributes = map[string]struct{}{
	"name":              {},
	"descriptive_name":  {},
	"identifier":        {},
	"manufacturer_name": {},
	"category":          {},
	"version":           {},
	"path_to_plugin":    {},
	"path":              {},
	"is_effect":         {},
	"is_instrument":     {},
	"has_editor":        {},
	"bypass":            {},
	"state":             {},
	"raw_state":         {},
	"preset_data":       {},
	"parameters":        {},
	"installed_plugins": {},
	"reported_latency":  {},
	"latency_samples":   {},
	"tail_length":       {},
	"process":           {},
	"reset":             {},
	"show_editor":       {},
	"load_preset":       {},
}

// defaultAllow matches collection-valued attributes that are still parameters.
var defaultAllow = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(^|_)type$`),
	regexp.MustCompile(`(?i)(^|_)mode$`),
}

// Attribute is a harvested parameter name with the value read during harvest.
type Attribute struct {
	Name  string
	Value types.Value
}

// Result is the outcome of one harvest.
type Result struct {
	Attributes  []Attribute
	Diagnostics []types.Diagnostic
}

// Names returns the harvested parameter names in order.
func (r Result) Names() []string {
	out := make([]string, len(r.Attributes))
	for i, a := range r.Attributes {
		out[i] = a.Name
	}
	return out
}

// Harvester filters host attributes down to parameters.
type Harvester struct {
	allow  []*regexp.Regexp
	logger *slog.Logger
}

// Option configures a Harvester.
type Option func(*Harvester)

// WithAllowPatterns adds name patterns for which collection values are kept.
func WithAllowPatterns(patterns ...*regexp.Regexp) Option {
	return func(h *Harvester) { h.allow = append(h.allow, patterns...) }
}

// WithLogger sets the logger used for swallowed read failures.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harvester) { h.logger = l }
}

// New returns a Harvester with the default allow patterns.
func New(opts ...Option) *Harvester {
	h := &Harvester{
		allow:  append([]*regexp.Regexp(nil), defaultAllow...),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Harvest returns the parameters exposed by p. It prefers an explicit
// parameter collection and otherwise inspects every attribute.
func (h *Harvester) Harvest(ctx context.Context, p host.Proxy) (Result, error) {
	names, explicit, err := h.candidates(p)
	if err != nil {
		return Result{}, err
	}

	var res Result
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		if IsSystemAttribute(name) || isPrivate(name) {
			continue
		}
		if verr := validation.ValidateParameterName("name", name); verr != nil {
			h.logger.Warn("attribute name rejected",
				"component", "harvest",
				"action", "invalid_name",
				"attribute", name,
				"error", verr,
			)
			res.Diagnostics = append(res.Diagnostics, types.Diagnostic{
				Kind:      types.DiagnosticAttributeReadFailure,
				Parameter: name,
				Message:   fmt.Sprintf("%s: %s", ErrAttributeRead, verr),
			})
			continue
		}

		v, err := p.Read(name)
		if err != nil {
			err = fmt.Errorf("%w: %s: %w", ErrAttributeRead, name, err)
			h.logger.Warn("attribute read failed",
				"component", "harvest",
				"action", "read_failed",
				"attribute", name,
				"error", err,
			)
			res.Diagnostics = append(res.Diagnostics, types.Diagnostic{
				Kind:      types.DiagnosticAttributeReadFailure,
				Parameter: name,
				Message:   err.Error(),
			})
			continue
		}

		if !explicit && !h.admit(name, v) {
			continue
		}
		res.Attributes = append(res.Attributes, Attribute{Name: name, Value: v})
	}

	h.logger.Debug("harvest complete",
		"component", "harvest",
		"action", "harvested",
		"explicit", explicit,
		"candidates", len(names),
		"parameters", len(res.Attributes),
	)
	return res, nil
}

func (h *Harvester) candidates(p host.Proxy) ([]string, bool, error) {
	if pl, ok := host.As[host.ParameterLister](p); ok {
		names, err := pl.Parameters()
		switch {
		case err == nil:
			return names, true, nil
		case !errors.Is(err, host.ErrUnsupported):
			h.logger.Warn("parameter collection unavailable, inspecting attributes",
				"component", "harvest",
				"action", "fallback",
				"error", err,
			)
		}
	}
	names, err := p.Names()
	if err != nil {
		return nil, false, fmt.Errorf("enumerate attributes: %w", err)
	}
	return names, false, nil
}

// admit applies the value-shape rules used when no parameter collection exists.
func (h *Harvester) admit(name string, v types.Value) bool {
	switch v.Kind() {
	case types.KindBool, types.KindInt, types.KindFloat, types.KindString:
		return true
	case types.KindComposite:
		return h.allowed(name)
	default:
		// Opaque values are bound methods and host objects.
		return false
	}
}

func (h *Harvester) allowed(name string) bool {
	for _, re := range h.allow {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// IsSystemAttribute reports whether name is on the fixed system blacklist.
func IsSystemAttribute(name string) bool {
	_, ok := systemAttributes[strings.ToLower(name)]
	return ok
}

func isPrivate(name string) bool {
	return strings.HasPrefix(name, "_")
}
