// Package meta defines the structured value a document's metadata block
// decodes into: a tagged scalar/list/map variant with insertion-ordered maps.
package meta

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Kind distinguishes the populated variant of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindDate
	KindList
	KindMap
)

var kindNames = [...]string{"null", "string", "int", "float", "bool", "date", "list", "map"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Value is one metadata value. Str holds the text of strings and the
// literal text of dates.
type Value struct {
	Kind  Kind
	Str   string
	Int   int64
	Float float64
	Bool  bool
	List  []Value
	Map   *Map
}

func Null() Value { return Value{Kind: KindNull} }
func String(s string) Value { return Value{Kind: KindString, Str: s} }
func Int(i int64) Value { return Value{Kind: KindInt, Int: i} }
func Float(f float64) Value { return Value{Kind: KindFloat, Float: f} }
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }
func Date(literal string) Value { return Value{Kind: KindDate, Str: literal} }
func List(items ...Value) Value { return Value{Kind: KindList, List: items} }
func MapValue(m *Map) Value { return Value{Kind: KindMap, Map: m} }

// IsNumber reports whether v is an int or a float.
func (v Value) IsNumber() bool {
	return v.Kind == KindInt || v.Kind == KindFloat
}

// Number returns v as a float64 for int and float values.
func (v Value) Number() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.Int), true
	case KindFloat:
		return v.Float, true
	}
	return 0, false
}

// IsEmpty reports whether v is null or the empty value of its kind.
// Zero and false are values, not absence, and are not empty.
func (v Value) IsEmpty() bool {
	switch v.Kind {
	case KindNull:
		return true
	case KindString, KindDate:
		return v.Str == ""
	case KindList:
		return len(v.List) == 0
	case KindMap:
		return v.Map == nil || v.Map.Len() == 0
	}
	return false
}

// Equal compares two values structurally. Int and float values holding the
// same number are not equal: the scalar distinction is part of the value.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindString, KindDate:
		return v.Str == o.Str
	case KindInt:
		return v.Int == o.Int
	case KindFloat:
		return v.Float == o.Float || (math.IsNaN(v.Float) && math.IsNaN(o.Float))
	case KindBool:
		return v.Bool == o.Bool
	case KindList:
		if len(v.List) != len(o.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(o.List[i]) {
				return false
			}
		}
		return true
	case KindMap:
		return v.Map.Equal(o.Map)
	}
	return false
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	switch v.Kind {
	case KindList:
		items := make([]Value, len(v.List))
		for i, it := range v.List {
			items[i] = it.Clone()
		}
		v.List = items
	case KindMap:
		v.Map = v.Map.Clone()
	}
	return v
}

// Text renders scalars as display text; lists and maps render in Go syntax.
func (v Value) Text() string {
	switch v.Kind {
	case KindNull:
		return ""
	case KindString, KindDate:
		return v.Str
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	}
	return fmt.Sprint(v.Any())
}

// Time parses a date value. Both dates and date-like strings are accepted.
func (v Value) Time() (time.Time, bool) {
	if v.Kind != KindDate && v.Kind != KindString {
		return time.Time{}, false
	}
	return ParseDate(v.Str)
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04",
}

// ParseDate accepts the ISO-8601 shapes that YAML resolves as timestamps.
func ParseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Any converts v into plain Go values: string, int64, float64, bool, nil,
// []any and map[string]any. Map key order is lost.
func (v Value) Any() any {
	switch v.Kind {
	case KindString, KindDate:
		return v.Str
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	case KindBool:
		return v.Bool
	case KindList:
		out := make([]any, len(v.List))
		for i, it := range v.List {
			out[i] = it.Any()
		}
		return out
	case KindMap:
		out := make(map[string]any, v.Map.Len())
		for _, f := range v.Map.Fields {
			out[f.Key] = f.Value.Any()
		}
		return out
	}
	return nil
}

// FromAny converts plain Go values into a Value. Maps from Go are unordered,
// so their keys are sorted for determinism. Go floats stay floats even when
// integral; JSON input should go through UnmarshalJSON, which tells 3 from
// 3.0 by the literal.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case int32:
		return Int(int64(t)), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case time.Time:
		return Date(t.Format(time.RFC3339)), nil
	case []string:
		items := make([]Value, len(t))
		for i, s := range t {
			items[i] = String(s)
		}
		return List(items...), nil
	case []any:
		items := make([]Value, len(t))
		for i, it := range t {
			v, err := FromAny(it)
			if err != nil {
				return Value{}, fmt.Errorf("meta: item %d: %w", i, err)
			}
			items[i] = v
		}
		return List(items...), nil
	case map[string]any:
		m := NewMap()
		for _, k := range sortedKeys(t) {
			v, err := FromAny(t[k])
			if err != nil {
				return Value{}, fmt.Errorf("meta: key %s: %w", k, err)
			}
			m.Set(k, v)
		}
		return MapValue(m), nil
	}
	return Value{}, fmt.Errorf("meta: unsupported type %T", x)
}
