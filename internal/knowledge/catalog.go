package knowledge

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hyperengineering/paramlore/internal/types"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// ArchetypeParam is one expected parameter of an effect archetype.
type ArchetypeParam struct {
	Name     string   `yaml:"name"`
	Aliases  []string `yaml:"aliases"`
	Category string   `yaml:"category"`
	Priority string   `yaml:"priority"`
}

// Matches reports whether name equals the parameter name or one of its
// aliases, ignoring case.
func (p ArchetypeParam) Matches(name string) bool {
	if strings.EqualFold(p.Name, name) {
		return true
	}
	for _, a := range p.Aliases {
		if strings.EqualFold(a, name) {
			return true
		}
	}
	return false
}

// Archetype is a catalogued effect type such as "reverb.plate".
type Archetype struct {
	Name     string           `yaml:"name"`
	Core     []ArchetypeParam `yaml:"core"`
	Advanced []ArchetypeParam `yaml:"advanced"`
}

// Lookup returns the core or advanced parameter matching name.
func (a Archetype) Lookup(name string) (ArchetypeParam, bool) {
	for _, p := range a.Core {
		if p.Matches(name) {
			return p, true
		}
	}
	for _, p := range a.Advanced {
		if p.Matches(name) {
			return p, true
		}
	}
	return ArchetypeParam{}, false
}

// KeywordRule assigns parameters whose lower-cased name contains any keyword.
// Learned holds parameter names taught by archetype matches; they only match
// as whole name tokens and are tried after every catalogued keyword.
type KeywordRule struct {
	Category string         `json:"category" yaml:"category"`
	Priority types.Priority `json:"priority" yaml:"priority"`
	Keywords []string       `json:"keywords" yaml:"keywords"`
	Learned  []string       `json:"learned,omitempty" yaml:"-"`
}

func (r KeywordRule) clone() KeywordRule {
	r.Keywords = append([]string(nil), r.Keywords...)
	if r.Learned != nil {
		r.Learned = append([]string(nil), r.Learned...)
	}
	return r
}

// Catalog is the static effect knowledge shipped with the binary.
type Catalog struct {
	Archetypes    []Archetype            `yaml:"archetypes"`
	KeywordRules  []KeywordRule          `yaml:"keyword_rules"`
	RangePatterns map[string]types.Range `yaml:"range_patterns"`
}

// DefaultCatalog parses the embedded catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// ParseCatalog decodes and validates a catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	for i := range c.KeywordRules {
		c.KeywordRules[i].Priority = types.ParsePriority(string(c.KeywordRules[i].Priority))
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	seen := make(map[string]struct{}, len(c.Archetypes))
	for _, a := range c.Archetypes {
		if a.Name == "" {
			return fmt.Errorf("catalog: archetype without name")
		}
		if _, dup := seen[a.Name]; dup {
			return fmt.Errorf("catalog: duplicate archetype %q", a.Name)
		}
		seen[a.Name] = struct{}{}
		if len(a.Core) == 0 {
			return fmt.Errorf("catalog: archetype %q has no core parameters", a.Name)
		}
		for _, p := range append(append([]ArchetypeParam(nil), a.Core...), a.Advanced...) {
			if p.Name == "" || p.Category == "" {
				return fmt.Errorf("catalog: archetype %q has a parameter without name or category", a.Name)
			}
		}
	}
	for _, r := range c.KeywordRules {
		if r.Category == "" {
			return fmt.Errorf("catalog: keyword rule without category")
		}
	}
	return nil
}

// Archetype returns the named archetype.
func (c *Catalog) Archetype(name string) (Archetype, bool) {
	for _, a := range c.Archetypes {
		if a.Name == name {
			return a, true
		}
	}
	return Archetype{}, false
}
