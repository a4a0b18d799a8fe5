package discovery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/hyperengineering/paramlore/internal/host"
	"github.com/hyperengineering/paramlore/internal/host/sim"
	"github.com/hyperengineering/paramlore/internal/knowledge"
	"github.com/hyperengineering/paramlore/internal/types"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loadFixture(t *testing.T, name string) *sim.Host {
	t.Helper()
	h, err := sim.Load(filepath.Join("..", "..", "fixtures", name))
	if err != nil {
		t.Fatalf("load fixture %s: %v", name, err)
	}
	return h
}

func newBase(t *testing.T) *knowledge.Base {
	t.Helper()
	kb, err := knowledge.Open(context.Background(),
		knowledge.NewFilePersister(filepath.Join(t.TempDir(), "knowledge.json")),
		knowledge.WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return kb
}

func newSession(kb *knowledge.Base) *Session {
	return NewSession(kb, WithLogger(quietLogger()), WithClock(func() time.Time { return fixedNow }))
}

func targetFor(h *sim.Host) Target {
	return Target{Plugin: h.Identity(), Proxy: h}
}

func kinds(diags []types.Diagnostic) []types.DiagnosticKind {
	out := make([]types.DiagnosticKind, len(diags))
	for i, d := range diags {
		out[i] = d.Kind
	}
	return out
}

func TestDiscover_Plate(t *testing.T) {
	// Given: the simulated plate reverb and an empty knowledge base
	h := loadFixture(t, "valhalla_plate.yaml")
	kb := newBase(t)

	// When: running a session
	res, err := newSession(kb).Discover(context.Background(), targetFor(h))
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	rec := res.Record

	// Then: the record identifies the plate archetype and the decay grammar
	if rec.Empty() || rec.Plugin().Name != "ValhallaPlate" || !rec.Timestamp().Equal(fixedNow) {
		t.Fatalf("record = %s %+v empty=%v", rec.ID(), rec.Plugin(), rec.Empty())
	}
	if got := rec.Categorization().EffectSignature; got != "reverb.plate" {
		t.Errorf("EffectSignature = %q, want reverb.plate", got)
	}

	decay, ok := rec.Parameter("decay")
	if !ok {
		t.Fatal("decay not discovered")
	}
	want := types.FormatSpec{DecimalPlaces: 2, UnitSuffix: "s", Separator: " "}
	if decay.Representation != types.RepresentationStringNumeric || decay.FormatSpec == nil || *decay.FormatSpec != want {
		t.Errorf("decay = %+v, want string_numeric %+v", decay, want)
	}
	if decay.Unit != types.UnitSeconds {
		t.Errorf("decay unit = %q, want s", decay.Unit)
	}

	color, _ := rec.Parameter("color")
	if len(color.ValidValues) != 3 || color.ValidValues[0].Text() != "1970s" {
		t.Errorf("color valid values = %v, want the three eras", color.ValidValues)
	}
	if cat, _ := rec.Categorization().CategoryOf("mode"); cat != "algorithm" {
		t.Errorf("mode category = %q, want algorithm", cat)
	}
	if slices.Contains(kinds(rec.Diagnostics()), types.DiagnosticSignatureNoMatch) {
		t.Errorf("unexpected signature diagnostic: %+v", rec.Diagnostics())
	}
}

func TestDiscover_RestoresHostState(t *testing.T) {
	h := loadFixture(t, "valhalla_plate.yaml")
	names, _ := h.Names()
	before := make(map[string]types.Value)
	for _, n := range names {
		if v, err := h.Read(n); err == nil {
			before[n] = v
		}
	}

	if _, err := newSession(newBase(t)).Discover(context.Background(), targetFor(h)); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	// Every written parameter reads back its pre-session value
	for n, v := range before {
		if len(h.Writes(n)) == 0 {
			continue
		}
		got, _ := h.Read(n)
		if !got.Equal(v) {
			t.Errorf("%s = %v after discovery, want %v", n, got, v)
		}
	}
	if len(h.Writes("decay")) == 0 {
		t.Error("decay was never probed")
	}
}

func TestDiscover_FeedsKnowledgeBase(t *testing.T) {
	// Given: a base persisted to disk
	path := filepath.Join(t.TempDir(), "knowledge.json")
	kb, err := knowledge.Open(context.Background(), knowledge.NewFilePersister(path), knowledge.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	h := loadFixture(t, "valhalla_plate.yaml")

	// When: a session completes
	res, err := newSession(kb).Discover(context.Background(), targetFor(h))
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	// Then: the learned format, signature and history survive a reopen
	if res.Learning.NewPatterns == 0 || res.Learning.EffectType != "reverb.plate" {
		t.Errorf("Learning = %+v", res.Learning)
	}
	reopened, err := knowledge.Open(context.Background(), knowledge.NewFilePersister(path), knowledge.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	if f, ok := reopened.LookupFormat("decay"); !ok || f.UnitSuffix != "s" {
		t.Errorf("LookupFormat(decay) = %+v, %v", f, ok)
	}
	if sig, ok := reopened.EffectSignatureFor(h.Identity()); !ok || sig != "reverb.plate" {
		t.Errorf("EffectSignatureFor = %q, %v", sig, ok)
	}
	if reopened.Stats().PluginsAnalyzed != 1 {
		t.Errorf("Stats() = %+v, want one plugin", reopened.Stats())
	}
}

func TestDiscover_SecondSessionConfirmsFormat(t *testing.T) {
	kb := newBase(t)
	s := newSession(kb)

	if _, err := s.Discover(context.Background(), targetFor(loadFixture(t, "valhalla_plate.yaml"))); err != nil {
		t.Fatalf("first Discover() error = %v", err)
	}

	// A fresh instance of the same plugin: the known grammar is tried first
	h := loadFixture(t, "valhalla_plate.yaml")
	res, err := s.Discover(context.Background(), targetFor(h))
	if err != nil {
		t.Fatalf("second Discover() error = %v", err)
	}
	if res.Learning.ConfirmedPatterns == 0 || len(res.Learning.Anomalies) != 0 {
		t.Errorf("Learning = %+v, want confirmations without anomalies", res.Learning)
	}
	var text []string
	for _, w := range h.Writes("decay") {
		if w.Kind() == types.KindString {
			text = append(text, w.Text())
		}
	}
	// one probe write in the known grammar, then the restore
	if !slices.Equal(text, []string{"1.00 s", "1.00 s"}) {
		t.Errorf("decay text writes = %q, want the known grammar only", text)
	}
}

func TestDiscover_TapeWithoutSignature(t *testing.T) {
	// Given: a tape delay exposing too few core delay parameters
	h := loadFixture(t, "tape_delay.yaml")

	res, err := newSession(newBase(t)).Discover(context.Background(), targetFor(h))
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	rec := res.Record

	// Then: no archetype is assigned and the miss is reported
	if !slices.Contains(kinds(rec.Diagnostics()), types.DiagnosticSignatureNoMatch) {
		t.Errorf("diagnostics = %+v, want signature_no_match", rec.Diagnostics())
	}
	if rec.Categorization().EffectSignature != "" {
		t.Errorf("EffectSignature = %q, want empty", rec.Categorization().EffectSignature)
	}

	tests := []struct {
		name string
		want types.FormatSpec
	}{
		{"delay_time", types.FormatSpec{DecimalPlaces: 1, UnitSuffix: "ms", Separator: ""}},
		{"detune", types.FormatSpec{DecimalPlaces: 0, UnitSuffix: "cents", Separator: " "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := rec.Parameter(tt.name)
			if !ok || p.FormatSpec == nil || *p.FormatSpec != tt.want {
				t.Errorf("%s = %+v, want format %+v", tt.name, p, tt.want)
			}
		})
	}

	tape, _ := rec.Parameter("tape_type")
	if len(tape.ValidValues) != 3 || tape.ValidValues[0].Text() != "Vintage" {
		t.Errorf("tape_type valid values = %v", tape.ValidValues)
	}
}

func TestDiscover_NoParameters(t *testing.T) {
	// Given: a host exposing nothing
	h, err := sim.New(sim.Fixture{Plugin: types.PluginIdentity{Name: "Empty"}})
	if err != nil {
		t.Fatalf("sim.New() error = %v", err)
	}
	kb := newBase(t)

	res, err := newSession(kb).Discover(context.Background(), targetFor(h))

	// Then: an empty record flagged no_parameters, not an error
	if err != nil {
		t.Fatalf("Discover() error = %v, want nil", err)
	}
	if !res.Record.Empty() || len(res.Record.Parameters()) != 0 {
		t.Errorf("record should be empty: %+v", res.Record.Parameters())
	}
	if got := kinds(res.Record.Diagnostics()); !slices.Equal(got, []types.DiagnosticKind{types.DiagnosticNoParameters}) {
		t.Errorf("diagnostics = %v, want [no_parameters]", got)
	}
	if kb.Stats().PluginsAnalyzed != 0 {
		t.Error("empty discovery should not be recorded")
	}
}

// failingLister fails enumeration outright.
type failingLister struct{ host.Proxy }

func (failingLister) Names() ([]string, error) { return nil, errors.New("host crashed") }

func TestDiscover_EnumerationFailure(t *testing.T) {
	h := loadFixture(t, "valhalla_plate.yaml")

	res, err := newSession(newBase(t)).Discover(context.Background(), Target{Plugin: h.Identity(), Proxy: failingLister{h}})
	if err != nil {
		t.Fatalf("Discover() error = %v, want nil", err)
	}
	d := res.Record.Diagnostics()
	if !res.Record.Empty() || len(d) != 1 || d[0].Kind != types.DiagnosticNoParameters {
		t.Errorf("diagnostics = %+v", d)
	}
}

func TestDiscover_InvalidTarget(t *testing.T) {
	h := loadFixture(t, "valhalla_plate.yaml")

	tests := []struct {
		name   string
		target Target
	}{
		{"no proxy", Target{Plugin: h.Identity()}},
		{"no name", Target{Proxy: h}},
		{"control characters", Target{Plugin: types.PluginIdentity{Name: "Plate\x00"}, Proxy: h}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newSession(newBase(t)).Discover(context.Background(), tt.target)
			if !errors.Is(err, ErrInvalidTarget) {
				t.Errorf("Discover() error = %v, want ErrInvalidTarget", err)
			}
		})
	}
	if len(h.Writes("decay")) != 0 {
		t.Error("invalid targets must not touch the host")
	}
}

// cancelOnWrite cancels the session on the first write to a parameter.
type cancelOnWrite struct {
	host.Proxy
	param  string
	cancel context.CancelFunc
	once   sync.Once
}

func (c *cancelOnWrite) Write(name string, v types.Value) error {
	if name == c.param {
		c.once.Do(c.cancel)
	}
	return c.Proxy.Write(name, v)
}

func (c *cancelOnWrite) Unwrap() host.Proxy { return c.Proxy }

func TestDiscover_CancelledMidSession(t *testing.T) {
	// Given: a session cancelled while decay is being probed
	h := loadFixture(t, "valhalla_plate.yaml")
	kb := newBase(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proxy := &cancelOnWrite{Proxy: h, param: "decay", cancel: cancel}

	res, err := newSession(kb).Discover(ctx, Target{Plugin: h.Identity(), Proxy: proxy})

	// Then: the partial record is flagged and nothing is learned
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Discover() error = %v, want context.Canceled", err)
	}
	if res.Record == nil || !slices.Contains(kinds(res.Record.Diagnostics()), types.DiagnosticCancelled) {
		t.Fatalf("record = %+v, want cancelled diagnostic", res.Record)
	}
	if _, ok := res.Record.Parameter("color"); ok {
		t.Error("parameters after the cancellation point were observed")
	}
	if kb.Stats().PluginsAnalyzed != 0 {
		t.Error("cancelled session was recorded")
	}

	// And decay holds its original value
	if got, _ := h.Read("decay"); got.Text() != "1.00 s" {
		t.Errorf("decay = %q after cancellation, want 1.00 s", got.Text())
	}
}

func TestDiscover_RestoreFailureReported(t *testing.T) {
	// Given: decay rejects and clobbers every write, restores included
	h := loadFixture(t, "valhalla_plate.yaml")
	h.CorruptOnReject(true)
	h.FailWrites("decay", func(types.Value) bool { return true })

	res, err := newSession(newBase(t)).Discover(context.Background(), targetFor(h))
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	got := kinds(res.Record.Diagnostics())
	for _, want := range []types.DiagnosticKind{
		types.DiagnosticRestoreFailed,
		types.DiagnosticNoViableFormat,
		types.DiagnosticWriteRejected,
	} {
		if !slices.Contains(got, want) {
			t.Errorf("diagnostics %v missing %s", got, want)
		}
	}
	decay, _ := res.Record.Parameter("decay")
	if decay.FormatSpec != nil || decay.Confidence != types.ConfidenceUnknown {
		t.Errorf("decay = %+v, want no format and unknown confidence", decay)
	}
}

// brokenPersister loads nothing and fails every save.
type brokenPersister struct{}

func (brokenPersister) Load(context.Context) (*knowledge.Snapshot, error) {
	return nil, knowledge.ErrNoSnapshot
}

func (brokenPersister) Save(context.Context, *knowledge.Snapshot) error {
	return errors.New("disk full")
}

func TestDiscover_PersistenceFailureIsDiagnostic(t *testing.T) {
	kb, err := knowledge.Open(context.Background(), brokenPersister{}, knowledge.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	res, err := newSession(kb).Discover(context.Background(), targetFor(loadFixture(t, "valhalla_plate.yaml")))

	// The session still completes; the in-memory base holds the learning
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if !slices.Contains(kinds(res.Record.Diagnostics()), types.DiagnosticPersistenceFailure) {
		t.Errorf("diagnostics = %+v, want persistence failure", res.Record.Diagnostics())
	}
	if _, ok := kb.LookupFormat("decay"); !ok {
		t.Error("in-memory learning lost after failed flush")
	}
}
