// Package export renders discovery records as JSON documents for GUIs,
// exporters and batch scanners.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/hyperengineering/paramlore/internal/types"
)

// Document is the serialized form of a DiscoveryRecord.
type Document struct {
	Metadata       Metadata                   `json:"metadata"`
	Parameters     map[string]Parameter       `json:"parameters"`
	Order          []string                   `json:"parameter_order"`
	Categorization types.CategorizationResult `json:"categorization"`
	Diagnostics    []types.Diagnostic         `json:"diagnostics"`
}

// Metadata identifies the plugin and the session.
type Metadata struct {
	PluginName         string    `json:"plugin_name"`
	PluginPath         string    `json:"plugin_path,omitempty"`
	DiscoveryTimestamp time.Time `json:"discovery_timestamp"`
	RecordID           string    `json:"record_id"`
	ParameterCount     int       `json:"parameter_count"`
	NoParameters       bool      `json:"no_parameters,omitempty"`
}

// Parameter is one observation. Absent properties encode as null.
type Parameter struct {
	Value          any         `json:"value"`
	Representation string      `json:"representation"`
	Unit           *string     `json:"unit"`
	Range          *Range      `json:"range"`
	ValidValues    []any       `json:"valid_values"`
	FormatSpec     *FormatSpec `json:"format_spec"`
	Confidence     string      `json:"confidence"`
}

// Range bounds are null when not finite.
type Range struct {
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
}

// FormatSpec is a learned grammar plus its printf-style pattern.
type FormatSpec struct {
	types.FormatSpec
	Pattern string `json:"pattern"`
}

// NewDocument converts rec.
func NewDocument(rec *types.DiscoveryRecord) Document {
	params := rec.Parameters()
	doc := Document{
		Metadata: Metadata{
			PluginName:         rec.Plugin().Name,
			PluginPath:         rec.Plugin().Path,
			DiscoveryTimestamp: rec.Timestamp(),
			RecordID:           rec.ID(),
			ParameterCount:     len(params),
			NoParameters:       rec.Empty(),
		},
		Parameters:     make(map[string]Parameter, len(params)),
		Order:          make([]string, 0, len(params)),
		Categorization: rec.Categorization(),
		Diagnostics:    rec.Diagnostics(),
	}
	if doc.Categorization.Categories == nil {
		doc.Categorization.Categories = map[string]types.Category{}
	}
	if doc.Categorization.Uncategorized == nil {
		doc.Categorization.Uncategorized = []string{}
	}

	for _, p := range params {
		doc.Order = append(doc.Order, p.Name)
		doc.Parameters[p.Name] = newParameter(p)
	}
	return doc
}

func newParameter(p types.ParameterObservation) Parameter {
	out := Parameter{
		Value:          plain(p.RawValue),
		Representation: string(p.Representation),
		Confidence:     string(p.Confidence),
	}
	if p.Unit != types.UnitNone {
		u := string(p.Unit)
		out.Unit = &u
	}
	if p.Range != nil {
		out.Range = &Range{Min: finite(p.Range.Min), Max: finite(p.Range.Max)}
	}
	if p.ValidValues != nil {
		out.ValidValues = make([]any, len(p.ValidValues))
		for i, v := range p.ValidValues {
			out.ValidValues[i] = plain(v)
		}
	}
	if p.FormatSpec != nil {
		out.FormatSpec = &FormatSpec{FormatSpec: *p.FormatSpec, Pattern: p.FormatSpec.String()}
	}
	return out
}

// plain converts a host value into a JSON-safe value. Non-finite floats
// become null; opaque values degrade to their text.
func plain(v types.Value) any {
	switch v.Kind() {
	case types.KindBool:
		return v.Bool()
	case types.KindInt:
		return v.Int()
	case types.KindFloat:
		if f := finite(v.Float()); f != nil {
			return *f
		}
		return nil
	case types.KindString, types.KindOpaque:
		return v.Text()
	case types.KindComposite:
		items := v.Items()
		out := make([]any, len(items))
		for i, it := range items {
			out[i] = plain(it)
		}
		return out
	default:
		return nil
	}
}

func finite(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// Encode writes rec as an indented JSON document.
func Encode(w io.Writer, rec *types.DiscoveryRecord) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(NewDocument(rec)); err != nil {
		return fmt.Errorf("encode discovery record: %w", err)
	}
	return nil
}
