package knowledge

import (
	"fmt"
	"maps"
	"time"

	"github.com/hyperengineering/paramlore/internal/types"
)

// SnapshotVersion is the persisted document version this release writes.
const SnapshotVersion = 1

// PluginHistory summarizes past discoveries of one plugin.
type PluginHistory struct {
	Path           string    `json:"plugin_path,omitempty"`
	LastDiscovered time.Time `json:"last_discovered"`
	ParameterCount int       `json:"parameter_count"`
	Discoveries    int       `json:"discoveries"`
}

// Snapshot is the full persisted knowledge-base state.
type Snapshot struct {
	Version              int                         `json:"version"`
	UpdatedAt            time.Time                   `json:"updated_at"`
	FormatByParamName    map[string]types.FormatSpec `json:"format_by_param_name"`
	RangePatterns        map[string]types.Range      `json:"range_patterns"`
	UnitPatterns         map[string]types.Unit       `json:"unit_patterns"`
	EffectSignatures     map[string]string           `json:"effect_signatures"`
	CategoryKeywordRules []KeywordRule               `json:"category_keyword_rules"`
	PluginHistory        map[string]PluginHistory    `json:"plugin_history"`
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Version:           SnapshotVersion,
		FormatByParamName: make(map[string]types.FormatSpec),
		RangePatterns:     make(map[string]types.Range),
		UnitPatterns:      make(map[string]types.Unit),
		EffectSignatures:  make(map[string]string),
		PluginHistory:     make(map[string]PluginHistory),
	}
}

// Clone returns a deep copy of s.
func (s *Snapshot) Clone() *Snapshot {
	c := &Snapshot{
		Version:           s.Version,
		UpdatedAt:         s.UpdatedAt,
		FormatByParamName: maps.Clone(s.FormatByParamName),
		RangePatterns:     maps.Clone(s.RangePatterns),
		UnitPatterns:      maps.Clone(s.UnitPatterns),
		EffectSignatures:  maps.Clone(s.EffectSignatures),
		PluginHistory:     maps.Clone(s.PluginHistory),
	}
	for _, r := range s.CategoryKeywordRules {
		c.CategoryKeywordRules = append(c.CategoryKeywordRules, r.clone())
	}
	c.normalize()
	return c
}

// normalize replaces nil tables so a decoded snapshot is usable.
func (s *Snapshot) normalize() {
	if s.FormatByParamName == nil {
		s.FormatByParamName = make(map[string]types.FormatSpec)
	}
	if s.RangePatterns == nil {
		s.RangePatterns = make(map[string]types.Range)
	}
	if s.UnitPatterns == nil {
		s.UnitPatterns = make(map[string]types.Unit)
	}
	if s.EffectSignatures == nil {
		s.EffectSignatures = make(map[string]string)
	}
	if s.PluginHistory == nil {
		s.PluginHistory = make(map[string]PluginHistory)
	}
}

// check validates a loaded snapshot.
func (s *Snapshot) check() error {
	if s.Version > SnapshotVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, s.Version)
	}
	if s.Version == 0 {
		s.Version = SnapshotVersion
	}
	s.normalize()
	return nil
}
