package types

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueKind is the runtime shape of a host value.
type ValueKind int

const (
	KindInvalid ValueKind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindComposite
	KindOpaque
)

func (k ValueKind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindComposite:
		return "composite"
	case KindOpaque:
		return "opaque"
	default:
		return "invalid"
	}
}

// Value is an immutable host value. Composite values hold items; opaque values
// keep only their textual representation.
type Value struct {
	kind  ValueKind
	b     bool
	i     int64
	f     float64
	s     string
	items []Value
}

func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }
func IntValue(i int64) Value { return Value{kind: KindInt, i: i} }
func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }
func StringValue(s string) Value { return Value{kind: KindString, s: s} }
func OpaqueValue(v any) Value { return Value{kind: KindOpaque, s: fmt.Sprint(v)} }
func CompositeValue(items ...Value) Value {
	return Value{kind: KindComposite, items: append([]Value{}, items...)}
}

// Kind returns the value's runtime shape.
func (v Value) Kind() ValueKind { return v.kind }

// IsValid reports whether v was constructed.
func (v Value) IsValid() bool { return v.kind != KindInvalid }

// Bool returns the boolean payload.
func (v Value) Bool() bool { return v.b }

// Int returns the integer payload.
func (v Value) Int() int64 { return v.i }

// Float returns the float payload.
func (v Value) Float() float64 { return v.f }

// Text returns the string payload of string and opaque values.
func (v Value) Text() string { return v.s }

// Items returns a copy of a composite value's items.
func (v Value) Items() []Value { return append([]Value(nil), v.items...) }

// Number returns the numeric payload of int and float values.
func (v Value) Number() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	default:
		return 0, false
	}
}

// Equal reports whether two values have the same kind and payload.
// Text values compare character for character.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	case KindString, KindOpaque:
		return v.s == o.s
	case KindComposite:
		if len(v.items) != len(o.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(o.items[i]) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// String renders the value the way a host would display it.
func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString, KindOpaque:
		return v.s
	case KindComposite:
		parts := make([]string, len(v.items))
		for i, it := range v.items {
			parts[i] = it.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return ""
	}
}
