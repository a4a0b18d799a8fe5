package types

import (
	"regexp"
	"strconv"
	"strings"
)

// NumericText is a decomposed string-numeric value such as "1.00 s".
type NumericText struct {
	Number    float64
	Token     string
	Decimals  int
	Separator string
	Suffix    string
}

// Spec returns the format spec that regenerates the text this value was parsed from.
func (n NumericText) Spec() FormatSpec {
	return FormatSpec{DecimalPlaces: n.Decimals, UnitSuffix: n.Suffix, Separator: n.Separator}
}

// numericTextPattern matches exactly one numeric token with an optional unit suffix.
var numericTextPattern = regexp.MustCompile(`^\s*([+-]?(?:\d+(?:\.\d*)?|\.\d+))([ \t]*)([A-Za-z%]+)?\s*$`)

// ParseNumericText splits s into number, separator and suffix. It reports false
// when s is not a single numeric token optionally followed by letters or '%'.
func ParseNumericText(s string) (NumericText, bool) {
	m := numericTextPattern.FindStringSubmatch(s)
	if m == nil {
		return NumericText{}, false
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return NumericText{}, false
	}
	decimals := 0
	if i := strings.IndexByte(m[1], '.'); i >= 0 {
		decimals = len(m[1]) - i - 1
	}
	sep := m[2]
	if m[3] == "" {
		sep = ""
	}
	return NumericText{
		Number:    f,
		Token:     m[1],
		Decimals:  decimals,
		Separator: sep,
		Suffix:    m[3],
	}, true
}

// unitAliases is the fixed case-insensitive unit map.
var unitAliases = map[string]Unit{
	"hz":        UnitHz,
	"khz":       UnitKHz,
	"db":        UnitDB,
	"ms":        UnitMs,
	"msec":      UnitMs,
	"s":         UnitSeconds,
	"sec":       UnitSeconds,
	"secs":      UnitSeconds,
	"seconds":   UnitSeconds,
	"%":         UnitPercent,
	"pct":       UnitPercent,
	"ct":        UnitCents,
	"cent":      UnitCents,
	"cents":     UnitCents,
	"st":        UnitSemitones,
	"semi":      UnitSemitones,
	"semis":     UnitSemitones,
	"semitone":  UnitSemitones,
	"semitones": UnitSemitones,
}

// NormalizeUnit maps a unit token to its canonical Unit.
func NormalizeUnit(token string) (Unit, bool) {
	u, ok := unitAliases[strings.ToLower(strings.TrimSpace(token))]
	return u, ok
}
