package types

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// DiscoveryRecord is the immutable result of one discovery session. Records are
// never mutated after creation; a newer record for the same plugin supersedes
// an older one.
type DiscoveryRecord struct {
	id             string
	plugin         PluginIdentity
	timestamp      time.Time
	parameters     []ParameterObservation
	categorization CategorizationResult
	diagnostics    []Diagnostic
	empty          bool
}

// NewDiscoveryRecord freezes observations into a record. Inputs are deep-copied
// and sealed so later changes by the caller are not visible through the record.
func NewDiscoveryRecord(plugin PluginIdentity, at time.Time, params []ParameterObservation,
	cat CategorizationResult, diags []Diagnostic) *DiscoveryRecord {
	at = at.UTC()
	frozen := make([]ParameterObservation, len(params))
	for i, p := range params {
		frozen[i] = p.Clone()
		frozen[i].Seal()
	}
	return &DiscoveryRecord{
		id:             ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String(),
		plugin:         plugin,
		timestamp:      at,
		parameters:     frozen,
		categorization: cat.Clone(),
		diagnostics:    append([]Diagnostic{}, diags...),
		empty:          hasDiagnostic(diags, DiagnosticNoParameters),
	}
}

func hasDiagnostic(diags []Diagnostic, kind DiagnosticKind) bool {
	for _, d := range diags {
		if d.Kind == kind {
			return true
		}
	}
	return false
}

// ID returns the record's ULID, ordered by discovery time.
func (r *DiscoveryRecord) ID() string { return r.id }

// Plugin returns the identity of the discovered plugin.
func (r *DiscoveryRecord) Plugin() PluginIdentity { return r.plugin }

// Timestamp returns the discovery time in UTC.
func (r *DiscoveryRecord) Timestamp() time.Time { return r.timestamp }

// Key returns the record identity (plugin, timestamp).
func (r *DiscoveryRecord) Key() RecordKey {
	return RecordKey{Plugin: r.plugin.Key(), Timestamp: r.timestamp}
}

// Empty reports that no parameter names could be enumerated. A session
// cancelled before its first parameter has no parameters but is not empty.
func (r *DiscoveryRecord) Empty() bool { return r.empty }

// Parameters returns a copy of the observations in discovery order.
func (r *DiscoveryRecord) Parameters() []ParameterObservation {
	out := make([]ParameterObservation, len(r.parameters))
	for i, p := range r.parameters {
		out[i] = p.Clone()
	}
	return out
}

// Parameter returns a copy of the named observation.
func (r *DiscoveryRecord) Parameter(name string) (ParameterObservation, bool) {
	for _, p := range r.parameters {
		if p.Name == name {
			return p.Clone(), true
		}
	}
	return ParameterObservation{}, false
}

// Categorization returns a copy of the categorization result.
func (r *DiscoveryRecord) Categorization() CategorizationResult {
	return r.categorization.Clone()
}

// Diagnostics returns a copy of the failures observed during discovery.
func (r *DiscoveryRecord) Diagnostics() []Diagnostic {
	return append([]Diagnostic{}, r.diagnostics...)
}

// Supersedes reports whether r is a newer record for the same plugin as other.
func (r *DiscoveryRecord) Supersedes(other *DiscoveryRecord) bool {
	if other == nil {
		return true
	}
	return r.plugin.Key() == other.plugin.Key() && r.timestamp.After(other.timestamp)
}
