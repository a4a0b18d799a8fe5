// Package probe derives the exact write grammar of string-numeric parameters
// and the members of undeclared enumerations by writing candidates to the
// host and reading them back.
//
// Every probe runs under host.Preserve: the parameter's original value is
// written back on every exit path, including rejected writes, cancellation
// and panics.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/hyperengineering/paramlore/internal/host"
	"github.com/hyperengineering/paramlore/internal/types"
)

// FormatLookup resolves a previously confirmed format by parameter name.
type FormatLookup interface {
	LookupFormat(name string) (types.FormatSpec, bool)
}

// Candidate is one encoding of the probe base value.
type Candidate struct {
	Text string
	Spec types.FormatSpec
}

// Attempt is the outcome of writing one candidate.
type Attempt struct {
	Candidate
	ReadBack string
	Err      error
}

// Exact reports whether the host accepted the candidate and echoed it
// character for character.
func (a Attempt) Exact() bool {
	return a.Err == nil && a.ReadBack == a.Text
}

// Report describes one format probe.
type Report struct {
	Parameter string
	Attempts  []Attempt
	// Spec is the confirmed format, nil when no candidate matched.
	Spec *types.FormatSpec
	// Known is set when the confirmed format came from the knowledge base.
	Known bool
}

// Rejected counts candidates the host refused outright.
func (r Report) Rejected() int {
	n := 0
	for _, a := range r.Attempts {
		if a.Err != nil {
			n++
		}
	}
	return n
}

// Prober runs format and enumeration probes.
type Prober struct {
	kb              FormatLookup
	restoreAttempts int
	valueSets       [][]string
	logger          *slog.Logger
}

// Option configures a Prober.
type Option func(*Prober)

// WithRestoreAttempts sets how often a restore write is retried.
func WithRestoreAttempts(n int) Option {
	return func(p *Prober) { p.restoreAttempts = n }
}

// WithValueSets replaces the catalogued enumeration value sets.
func WithValueSets(sets [][]string) Option {
	return func(p *Prober) { p.valueSets = sets }
}

// WithLogger sets the prober's logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Prober) { p.logger = l }
}

// New returns a Prober that tries formats known to kb first. kb may be nil.
func New(kb FormatLookup, opts ...Option) *Prober {
	p := &Prober{
		kb:              kb,
		restoreAttempts: host.DefaultRestoreAttempts,
		valueSets:       DefaultValueSets,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Candidates generates the ordered encodings of raw's numeric token. Bare
// forms come first in increasing precision, followed by the observed
// precision with the unit suffix, space-separated then unseparated. The
// suffix is raw's own suffix, or unit when raw has none. A known format is
// tried before everything else.
func Candidates(raw string, unit types.Unit, known *types.FormatSpec) ([]Candidate, error) {
	nt, ok := types.ParseNumericText(raw)
	if !ok {
		return nil, fmt.Errorf("%q: %w", raw, ErrNotStringNumeric)
	}

	decimals := []int{1, 2}
	if nt.Decimals == 0 {
		decimals = append([]int{0}, decimals...)
	}
	if !slices.Contains(decimals, nt.Decimals) {
		decimals = append(decimals, nt.Decimals)
	}

	specs := make([]types.FormatSpec, 0, len(decimals)+3)
	if known != nil {
		specs = append(specs, *known)
	}
	for _, d := range decimals {
		specs = append(specs, types.FormatSpec{DecimalPlaces: d})
	}

	suffix := nt.Suffix
	if suffix == "" {
		suffix = string(unit)
	}
	if suffix != "" {
		specs = append(specs,
			types.FormatSpec{DecimalPlaces: nt.Decimals, UnitSuffix: suffix, Separator: " "},
			types.FormatSpec{DecimalPlaces: nt.Decimals, UnitSuffix: suffix},
		)
	}

	out := make([]Candidate, 0, len(specs))
	seen := make(map[string]struct{}, len(specs))
	for _, s := range specs {
		text := s.Encode(nt.Number)
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}
		out = append(out, Candidate{Text: text, Spec: s})
	}
	return out, nil
}

// ProbeFormat confirms the write grammar of a string-numeric observation.
// On success obs gains a FormatSpec and observed confidence. When no
// candidate round-trips, obs loses its range, its confidence drops to
// unknown and the error wraps ErrNoViableFormat. A failed restore is joined
// into the returned error as a *host.RestoreError.
func (pr *Prober) ProbeFormat(ctx context.Context, p host.Proxy, obs *types.ParameterObservation) (Report, error) {
	report := Report{Parameter: obs.Name}
	if obs.Representation != types.RepresentationStringNumeric {
		return report, fmt.Errorf("probe %q: %w", obs.Name, ErrNotStringNumeric)
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	var known *types.FormatSpec
	if pr.kb != nil {
		if f, ok := pr.kb.LookupFormat(obs.Name); ok {
			known = &f
		}
	}

	err := host.Preserve(p, obs.Name, pr.restoreAttempts, func(original types.Value) error {
		candidates, err := Candidates(original.Text(), obs.Unit, known)
		if err != nil {
			return err
		}
		for _, c := range candidates {
			if err := ctx.Err(); err != nil {
				return err
			}
			a := pr.try(p, obs.Name, c)
			report.Attempts = append(report.Attempts, a)
			if a.Exact() {
				spec := a.Spec
				report.Spec = &spec
				report.Known = known != nil && spec == *known
				return nil
			}
		}
		return nil
	})

	if report.Spec != nil {
		obs.FormatSpec = report.Spec
		// A confirmed grammar does not confirm a range taken from name
		// heuristics.
		if obs.Confidence != types.ConfidenceInferred {
			obs.Confidence = types.ConfidenceObserved
		}
		pr.logger.Debug("format confirmed",
			"component", "probe",
			"action", "format_confirmed",
			"parameter", obs.Name,
			"format", report.Spec.String(),
			"attempts", len(report.Attempts),
		)
		return report, err
	}

	obs.FormatSpec = nil
	obs.Range = nil
	obs.Confidence = types.ConfidenceUnknown
	if err != nil && !errors.Is(err, host.ErrRestoreFailed) {
		return report, err
	}
	pr.logger.Warn("no viable format",
		"component", "probe",
		"action", "no_viable_format",
		"parameter", obs.Name,
		"attempts", len(report.Attempts),
		"rejected", report.Rejected(),
	)
	return report, errors.Join(
		fmt.Errorf("probe %q: %d candidates: %w", obs.Name, len(report.Attempts), ErrNoViableFormat),
		err,
	)
}

func (pr *Prober) try(p host.Proxy, name string, c Candidate) Attempt {
	a := Attempt{Candidate: c}
	if err := p.Write(name, types.StringValue(c.Text)); err != nil {
		a.Err = err
		pr.logger.Debug("candidate rejected",
			"component", "probe",
			"action", "candidate_rejected",
			"parameter", name,
			"candidate", c.Text,
			"error", err,
		)
		return a
	}
	got, err := p.Read(name)
	if err != nil {
		a.Err = fmt.Errorf("read back: %w", err)
		return a
	}
	a.ReadBack = got.String()
	return a
}
