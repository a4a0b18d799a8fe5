package probe

import (
	"context"
	"fmt"

	"github.com/hyperengineering/paramlore/internal/host"
	"github.com/hyperengineering/paramlore/internal/types"
)

// DefaultValueSets are enumeration vocabularies common across effect plugins,
// tried in order.
var DefaultValueSets = [][]string{
	{"Concert Hall", "Plate", "Room", "Chamber", "Ambience", "Cathedral", "Spring", "Nonlin"},
	{"1970s", "1980s", "Now", "Vintage", "Modern", "Classic"},
	{"1", "2", "3", "4", "5", "6", "7", "8"},
	{"Low", "Medium", "High"},
	{"On", "Off"},
}

// minEchoes is how many members of a set the host must echo before the set
// is taken as the parameter's vocabulary.
const minEchoes = 2

// ProbeEnum discovers the members of an enumeration the host does not
// declare. The first value set with at least two exactly-echoed members
// becomes obs.ValidValues, led by the original value when the set missed it.
func (pr *Prober) ProbeEnum(ctx context.Context, p host.Proxy, obs *types.ParameterObservation) error {
	if obs.Representation != types.RepresentationStringEnum || len(obs.ValidValues) > 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var found []types.Value
	err := host.Preserve(p, obs.Name, pr.restoreAttempts, func(original types.Value) error {
		for _, set := range pr.valueSets {
			if err := ctx.Err(); err != nil {
				return err
			}
			echoed := pr.echoes(p, obs.Name, set)
			if len(echoed) < minEchoes {
				continue
			}
			if !containsValue(echoed, original) {
				echoed = append([]types.Value{original}, echoed...)
			}
			found = echoed
			return nil
		}
		return nil
	})

	if found != nil {
		obs.ValidValues = found
		obs.Confidence = types.ConfidenceObserved
		pr.logger.Debug("enumeration probed",
			"component", "probe",
			"action", "enum_probed",
			"parameter", obs.Name,
			"values", len(found),
		)
		return err
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("probe %q: %w", obs.Name, ErrNoValueSet)
}

func (pr *Prober) echoes(p host.Proxy, name string, set []string) []types.Value {
	var out []types.Value
	for _, s := range set {
		v := types.StringValue(s)
		if err := p.Write(name, v); err != nil {
			continue
		}
		got, err := p.Read(name)
		if err != nil || !got.Equal(v) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func containsValue(vals []types.Value, v types.Value) bool {
	for _, x := range vals {
		if x.Equal(v) {
			return true
		}
	}
	return false
}
