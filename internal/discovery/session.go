// Package discovery runs discovery sessions: harvest, classify, detect units,
// probe, categorize, then feed the result back into the knowledge base.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/paramlore/internal/categorize"
	"github.com/hyperengineering/paramlore/internal/classify"
	"github.com/hyperengineering/paramlore/internal/harvest"
	"github.com/hyperengineering/paramlore/internal/host"
	"github.com/hyperengineering/paramlore/internal/knowledge"
	"github.com/hyperengineering/paramlore/internal/probe"
	"github.com/hyperengineering/paramlore/internal/types"
	"github.com/hyperengineering/paramlore/internal/units"
	"github.com/hyperengineering/paramlore/internal/validation"
)

// Target is one plugin instance to discover. Each target owns its proxy;
// no two sessions may share one.
type Target struct {
	Plugin types.PluginIdentity
	Proxy  host.Proxy
}

// Result is the outcome of one session.
type Result struct {
	Record   *types.DiscoveryRecord
	Learning knowledge.LearningReport
}

// Session discovers plugins against a shared knowledge base. A Session is
// safe for concurrent use by multiple goroutines, each with its own target.
type Session struct {
	kb              *knowledge.Base
	writesPerSecond float64
	restoreAttempts int
	bracketing      bool
	allow           []harvest.Option
	now             func() time.Time
	logger          *slog.Logger

	harvester   *harvest.Harvester
	classifier  *classify.Classifier
	detector    *units.Detector
	prober      *probe.Prober
	categorizer *categorize.Categorizer
}

// Option configures a Session.
type Option func(*Session)

// WithWritesPerSecond paces writes to each host. Zero disables pacing.
func WithWritesPerSecond(n float64) Option {
	return func(s *Session) { s.writesPerSecond = n }
}

// WithRestoreAttempts sets how often restore writes are retried.
func WithRestoreAttempts(n int) Option {
	return func(s *Session) { s.restoreAttempts = n }
}

// WithBracketing enables or disables empirical range bracketing.
func WithBracketing(on bool) Option {
	return func(s *Session) { s.bracketing = on }
}

// WithHarvestOptions passes options to the harvester.
func WithHarvestOptions(opts ...harvest.Option) Option {
	return func(s *Session) { s.allow = append(s.allow, opts...) }
}

// WithClock sets the source of discovery timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithLogger sets the session logger, which is shared with every stage.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// NewSession wires the discovery stages around kb.
func NewSession(kb *knowledge.Base, opts ...Option) *Session {
	s := &Session{
		kb:              kb,
		restoreAttempts: host.DefaultRestoreAttempts,
		bracketing:      true,
		now:             time.Now,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.harvester = harvest.New(append(s.allow, harvest.WithLogger(s.logger))...)
	s.classifier = classify.New(kb,
		classify.WithRestoreAttempts(s.restoreAttempts),
		classify.WithBracketing(s.bracketing),
		classify.WithLogger(s.logger),
	)
	s.detector = units.NewDetector(kb)
	s.prober = probe.New(kb,
		probe.WithRestoreAttempts(s.restoreAttempts),
		probe.WithLogger(s.logger),
	)
	s.categorizer = categorize.New(kb)
	return s
}

// Discover runs one session. Per-parameter failures become diagnostics on
// the record; only an invalid target is an error. A host that exposes no
// parameters yields an empty record flagged no_parameters.
//
// Cancellation is honored between parameters: the parameter being probed
// is restored first, the partial record is returned with ctx.Err(), and
// nothing is learned from it.
func (s *Session) Discover(ctx context.Context, t Target) (Result, error) {
	if t.Proxy == nil {
		return Result{}, fmt.Errorf("%w: no proxy for %q", ErrInvalidTarget, t.Plugin.Name)
	}
	if err := validation.ValidatePluginIdentity(t.Plugin); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}

	started := s.now()
	log := s.logger.With("plugin", t.Plugin.Name)
	proxy := host.Throttle(t.Proxy, s.writesPerSecond)

	log.Info("discovery started",
		"component", "discovery",
		"action", "session_start",
	)

	harvested, err := s.harvester.Harvest(ctx, proxy)
	diags := append([]types.Diagnostic(nil), harvested.Diagnostics...)
	if err != nil && ctx.Err() != nil {
		diags = append(diags, cancelled(ctx))
		rec := types.NewDiscoveryRecord(t.Plugin, started, nil, types.CategorizationResult{}, diags)
		return Result{Record: rec}, ctx.Err()
	}
	if err != nil || len(harvested.Attributes) == 0 {
		msg := ErrNoParameters.Error()
		if err != nil {
			msg = fmt.Sprintf("%s: %v", msg, err)
		}
		log.Warn("no parameters enumerated",
			"component", "discovery",
			"action", "no_parameters",
			"error", err,
		)
		diags = append(diags, types.Diagnostic{Kind: types.DiagnosticNoParameters, Message: msg})
		rec := types.NewDiscoveryRecord(t.Plugin, started, nil, types.CategorizationResult{
			Categories:    map[string]types.Category{},
			Uncategorized: []string{},
		}, diags)
		return Result{Record: rec}, nil
	}

	observations := make([]types.ParameterObservation, 0, len(harvested.Attributes))
	learn := make([]knowledge.Observation, 0, len(harvested.Attributes))
	for _, attr := range harvested.Attributes {
		if ctx.Err() != nil {
			break
		}
		o, pd := s.observe(ctx, proxy, attr)
		diags = append(diags, pd...)
		observations = append(observations, o.Param)
		learn = append(learn, o)
	}
	if ctx.Err() != nil {
		log.Info("discovery cancelled",
			"component", "discovery",
			"action", "session_cancelled",
			"observed", len(observations),
		)
		diags = append(diags, cancelled(ctx))
		rec := types.NewDiscoveryRecord(t.Plugin, started, observations, types.CategorizationResult{}, diags)
		return Result{Record: rec}, ctx.Err()
	}

	names := harvested.Names()
	signature := ""
	if m, ok := s.kb.MatchEffectSignature(names); ok {
		signature = m.Archetype
		log.Debug("effect signature matched",
			"component", "discovery",
			"action", "signature_matched",
			"archetype", m.Archetype,
			"score", m.Score,
		)
	} else {
		diags = append(diags, types.Diagnostic{
			Kind:    types.DiagnosticSignatureNoMatch,
			Message: "no effect archetype reached the signature threshold",
		})
	}
	cat := s.categorizer.Categorize(observations, signature)

	report := s.kb.Record(knowledge.Learning{
		Plugin:               t.Plugin,
		At:                   started,
		Observations:         learn,
		Categorization:       cat.Categorization,
		ArchetypeAssignments: cat.ArchetypeAssignments,
	})
	if err := s.kb.Flush(ctx); err != nil {
		log.Warn("knowledge base flush failed",
			"component", "discovery",
			"action", "flush_failed",
			"error", err,
		)
		diags = append(diags, types.Diagnostic{
			Kind:    types.DiagnosticPersistenceFailure,
			Message: err.Error(),
		})
	}

	rec := types.NewDiscoveryRecord(t.Plugin, started, observations, cat.Categorization, diags)
	log.Info("discovery complete",
		"component", "discovery",
		"action", "session_complete",
		"record_id", rec.ID(),
		"parameters", len(observations),
		"effect_signature", signature,
		"diagnostics", len(diags),
		"duration_ms", s.now().Sub(started).Milliseconds(),
	)
	return Result{Record: rec, Learning: report}, nil
}

// observe runs classification, unit detection and probing for one
// parameter. It returns the observation with its learning flags.
func (s *Session) observe(ctx context.Context, p host.Proxy, attr harvest.Attribute) (knowledge.Observation, []types.Diagnostic) {
	name := attr.Name
	cls := s.classifier.Classify(ctx, p, name, attr.Value)
	diags := cls.Diagnostics

	obs := types.ParameterObservation{
		Name:           name,
		RawValue:       attr.Value,
		Representation: cls.Representation,
		Range:          cls.Range,
		ValidValues:    cls.ValidValues,
		Confidence:     cls.Confidence,
	}

	var unit units.Result
	if obs.Representation.IsNumeric() || obs.Representation == types.RepresentationStringNumeric {
		display, _ := host.DisplayText(p, name)
		unit = s.detector.Detect(name, attr.Value, display)
		obs.Unit = unit.Unit
	}

	switch obs.Representation {
	case types.RepresentationStringNumeric:
		report, err := s.prober.ProbeFormat(ctx, p, &obs)
		diags = append(diags, probeDiagnostics(name, report, err)...)
	case types.RepresentationStringEnum:
		err := s.prober.ProbeEnum(ctx, p, &obs)
		switch {
		case err == nil, errors.Is(err, probe.ErrNoValueSet), ctx.Err() != nil:
		default:
			diags = append(diags, restoreDiagnostic(name, err)...)
		}
	}

	return knowledge.Observation{
		Param:      obs,
		LearnRange: cls.RangeSource == classify.RangeSourceHost || cls.RangeSource == classify.RangeSourceBracketing,
		LearnUnit:  unit.Source == units.SourceHostFormat,
	}, diags
}

func probeDiagnostics(name string, report probe.Report, err error) []types.Diagnostic {
	if err == nil {
		return nil
	}
	var out []types.Diagnostic
	if n := len(report.Attempts); n > 0 && report.Rejected() == n {
		out = append(out, types.Diagnostic{
			Kind:      types.DiagnosticWriteRejected,
			Parameter: name,
			Message:   fmt.Sprintf("host rejected all %d candidate writes", n),
		})
	}
	if errors.Is(err, probe.ErrNoViableFormat) {
		out = append(out, types.Diagnostic{
			Kind:      types.DiagnosticNoViableFormat,
			Parameter: name,
			Message:   err.Error(),
		})
	}
	return append(out, restoreDiagnostic(name, err)...)
}

func restoreDiagnostic(name string, err error) []types.Diagnostic {
	var rerr *host.RestoreError
	if !errors.As(err, &rerr) {
		return nil
	}
	return []types.Diagnostic{{
		Kind:      types.DiagnosticRestoreFailed,
		Parameter: name,
		Message:   rerr.Error(),
	}}
}

func cancelled(ctx context.Context) types.Diagnostic {
	return types.Diagnostic{Kind: types.DiagnosticCancelled, Message: ctx.Err().Error()}
}
