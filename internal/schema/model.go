// Package schema holds the canonical collection/field model built from a
// project's configuration source.
package schema

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/starford/folio/internal/diag"
	"github.com/starford/folio/internal/meta"
)

// Kind is the type variant of a field.
type Kind uint8

const (
	KindString Kind = iota
	KindNumber
	KindBoolean
	KindDate
	KindEnum
	KindArray
	KindObject
)

var kindNames = [...]string{"string", "number", "boolean", "date", "enum", "array", "object"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// MarshalText renders the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Type is a field's type variant. Values is set for enums, Elem for arrays
// and Fields for objects.
type Type struct {
	Kind   Kind     `json:"kind"`
	Values []string `json:"values,omitempty"`
	Elem   *Field   `json:"elem,omitempty"`
	Fields []Field  `json:"fields,omitempty"`
}

func (t Type) String() string {
	switch t.Kind {
	case KindEnum:
		return "enum(" + strings.Join(t.Values, "|") + ")"
	case KindArray:
		if t.Elem != nil {
			return "array<" + t.Elem.Type.String() + ">"
		}
	}
	return t.Kind.String()
}

// Constraints are best-effort value bounds. Nil pointers mean unbounded.
type Constraints struct {
	MinLength    *int     `json:"min_length,omitempty"`
	MaxLength    *int     `json:"max_length,omitempty"`
	Min          *float64 `json:"min,omitempty"`
	Max          *float64 `json:"max,omitempty"`
	ExclusiveMin bool     `json:"exclusive_min,omitempty"`
	ExclusiveMax bool     `json:"exclusive_max,omitempty"`
	Int          bool     `json:"int,omitempty"`
	Patterns     []string `json:"patterns,omitempty"`
	Format       string   `json:"format,omitempty"`
	Ref          string   `json:"ref,omitempty"`

	compiled []*regexp.Regexp
}

// Regexps returns the compiled patterns.
func (c Constraints) Regexps() []*regexp.Regexp {
	return c.compiled
}

// IsZero reports whether no constraint is set.
func (c Constraints) IsZero() bool {
	return c.MinLength == nil && c.MaxLength == nil && c.Min == nil && c.Max == nil &&
		!c.Int && len(c.Patterns) == 0 && c.Format == ""
}

// Field is one schema field.
type Field struct {
	Name        string      `json:"name"`
	Type        Type        `json:"type"`
	Optional    bool        `json:"optional"`
	Default     *meta.Value `json:"default,omitempty"`
	Constraints Constraints `json:"constraints"`
	Description string      `json:"description,omitempty"`
	Span        *diag.Span  `json:"span,omitempty"`
}

// EmptyValue is the value a form shows for an absent field with no default.
func (f *Field) EmptyValue() meta.Value {
	switch f.Type.Kind {
	case KindNumber:
		return meta.Int(0)
	case KindBoolean:
		return meta.Bool(false)
	case KindArray:
		return meta.List()
	case KindObject:
		return meta.MapValue(meta.NewMap())
	}
	return meta.String("")
}

// Child returns the nested object field with the given name.
func (f *Field) Child(name string) (*Field, bool) {
	return lookup(f.Type.Fields, name)
}

// Collection is a named schema.
type Collection struct {
	Name   string     `json:"name"`
	Type   string     `json:"type,omitempty"`
	Base   string     `json:"base,omitempty"`
	Fields []Field    `json:"fields"`
	Span   *diag.Span `json:"span,omitempty"`
}

// Field returns the top-level field with the given name.
func (c *Collection) Field(name string) (*Field, bool) {
	return lookup(c.Fields, name)
}

// FieldNames returns top-level field names in declaration order.
func (c *Collection) FieldNames() []string {
	if c == nil {
		return nil
	}
	out := make([]string, len(c.Fields))
	for i, f := range c.Fields {
		out[i] = f.Name
	}
	return out
}

func lookup(fields []Field, name string) (*Field, bool) {
	for i := range fields {
		if fields[i].Name == name {
			return &fields[i], true
		}
	}
	return nil, false
}

// Project is the set of collections declared by one configuration source.
type Project struct {
	Root        string        `json:"root"`
	ConfigPath  string        `json:"config_path"`
	Collections []*Collection `json:"collections"`
}

// Collection looks a collection up by name.
func (p *Project) Collection(name string) (*Collection, bool) {
	if p == nil {
		return nil, false
	}
	for _, c := range p.Collections {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// Names returns the collection names in declaration order.
func (p *Project) Names() []string {
	if p == nil {
		return nil
	}
	out := make([]string, len(p.Collections))
	for i, c := range p.Collections {
		out[i] = c.Name
	}
	return out
}
