package schema

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/starford/folio/internal/apperr"
	"github.com/starford/folio/internal/decl"
	"github.com/starford/folio/internal/diag"
	"github.com/starford/folio/internal/meta"
)

// Build parses a configuration source and normalizes it into a Project.
// The error is non-nil only when src is not text at all.
func Build(src []byte) (*Project, diag.List, error) {
	res, err := decl.Parse(src)
	if err != nil {
		return nil, nil, fmt.Errorf("schema: build: %w", err)
	}
	p, diags := BuildFrom(res)
	return p, diags, nil
}

// BuildFrom normalizes already parsed declarations. The returned list holds
// the parser's diagnostics followed by the builder's own.
func BuildFrom(res *decl.Result) (*Project, diag.List) {
	b := &builder{}
	b.diags.Append(res.Diagnostics)

	p := &Project{}
	for _, rc := range res.Collections {
		b.coll = rc.Name
		c := &Collection{Name: rc.Name, Type: rc.Type, Span: rc.Span}
		if rc.Loader != nil {
			c.Base = rc.Loader.Base
		}
		c.Fields = b.fields(rc.Fields, "")
		p.Collections = append(p.Collections, c)
	}
	return p, b.diags
}

type builder struct {
	coll  string
	diags diag.List
}

func (b *builder) report(sev diag.Severity, field string, span *diag.Span, format string, args ...any) {
	b.diags.Add(diag.Diagnostic{
		Severity:   sev,
		Kind:       apperr.ErrSchemaParse,
		Message:    fmt.Sprintf(format, args...),
		Span:       span,
		Collection: b.coll,
		Field:      field,
	})
}

// fields maps a list of raw descriptors. A repeated name keeps its first
// position and takes the later declaration.
func (b *builder) fields(raw []decl.Field, prefix string) []Field {
	out := make([]Field, 0, len(raw))
	pos := make(map[string]int, len(raw))
	for _, rf := range raw {
		f, ok := b.field(rf, joinName(prefix, rf.Name))
		if !ok {
			continue
		}
		if i, dup := pos[f.Name]; dup {
			b.report(diag.SeverityWarning, joinName(prefix, f.Name), rf.Span, "field %q declared more than once; the last declaration wins", f.Name)
			out[i] = f
			continue
		}
		pos[f.Name] = len(out)
		out = append(out, f)
	}
	return out
}

func joinName(prefix, name string) string {
	if prefix == "" {
		return name
	}
	if name == "" {
		return prefix + "[]"
	}
	return prefix + "." + name
}

func (b *builder) field(rf decl.Field, path string) (Field, bool) {
	f := Field{Name: rf.Name, Span: rf.Span}

	switch rf.Type {
	case "string":
		f.Type.Kind = KindString
	case "image":
		f.Type.Kind = KindString
		f.Constraints.Format = "image"
	case "reference":
		f.Type.Kind = KindString
		if len(rf.Args) > 0 && rf.Args[0].Kind == decl.LitString {
			f.Constraints.Ref = rf.Args[0].Str
		}
	case "number":
		f.Type.Kind = KindNumber
	case "boolean":
		f.Type.Kind = KindBoolean
	case "date":
		f.Type.Kind = KindDate
	case "enum", "nativeEnum":
		f.Type.Kind = KindEnum
		seen := make(map[string]bool, len(rf.EnumValues))
		for _, lit := range rf.EnumValues {
			v, ok := literalText(lit)
			if !ok {
				b.report(diag.SeverityWarning, path, lit.Span, "enum value %s is not a constant; skipped", lit.Text)
				continue
			}
			if seen[v] {
				continue
			}
			seen[v] = true
			f.Type.Values = append(f.Type.Values, v)
		}
		if len(f.Type.Values) == 0 {
			b.report(diag.SeverityWarning, path, rf.Span, "enum has no usable values")
			return Field{}, false
		}
	case "literal":
		if !b.literalType(&f, rf, path) {
			return Field{}, false
		}
	case "array":
		f.Type.Kind = KindArray
		if rf.Elem == nil {
			b.report(diag.SeverityWarning, path, rf.Span, "array without an element type")
			return Field{}, false
		}
		elem, ok := b.field(*rf.Elem, joinName(path, ""))
		if !ok {
			return Field{}, false
		}
		f.Type.Elem = &elem
	case "object":
		f.Type.Kind = KindObject
		f.Type.Fields = b.fields(rf.Fields, path)
	default:
		b.report(diag.SeverityWarning, path, rf.Span, "unknown field type %q; field skipped", rf.Type)
		return Field{}, false
	}

	// Defaults are coerced after all modifiers so constraints are known.
	var def *decl.Modifier
	for i := range rf.Modifiers {
		m := rf.Modifiers[i]
		if m.Name == "default" {
			def = &rf.Modifiers[i]
			f.Optional = true
			continue
		}
		b.modifier(&f, m, path)
	}
	if def != nil {
		b.applyDefault(&f, *def, path)
	}
	b.compile(&f, path)
	return f, true
}

func (b *builder) literalType(f *Field, rf decl.Field, path string) bool {
	if len(rf.Args) == 0 {
		b.report(diag.SeverityWarning, path, rf.Span, "literal() without a value")
		return false
	}
	lit := rf.Args[0]
	switch lit.Kind {
	case decl.LitString:
		f.Type = Type{Kind: KindEnum, Values: []string{lit.Str}}
	case decl.LitNumber:
		f.Type.Kind = KindNumber
		n := lit.Num
		f.Constraints.Min, f.Constraints.Max = &n, &n
	case decl.LitBool:
		f.Type.Kind = KindBoolean
	default:
		b.report(diag.SeverityWarning, path, rf.Span, "literal %s is not a constant; treated as string", lit.Text)
		f.Type.Kind = KindString
	}
	return true
}

var formats = map[string]string{
	"email":    "email",
	"url":      "url",
	"uuid":     "uuid",
	"datetime": "date-time",
	"date":     "date",
	"time":     "time",
	"ip":       "ip",
	"emoji":    "emoji",
	"cuid":     "cuid",
	"cuid2":    "cuid",
	"ulid":     "ulid",
}

// Modifiers that are accepted without effect on the model.
var ignored = map[string]bool{
	"strict": true, "passthrough": true, "strip": true, "finite": true,
	"safe": true, "readonly": true, "brand": true,
}

// Modifiers that change values at runtime; they are not applied.
var transforms = map[string]bool{
	"trim": true, "toLowerCase": true, "toUpperCase": true, "catch": true,
	"transform": true, "refine": true, "superRefine": true, "pipe": true,
	"preprocess": true, "multipleOf": true, "step": true,
}

func (b *builder) modifier(f *Field, m decl.Modifier, path string) {
	c := &f.Constraints
	num := func() (float64, bool) {
		if len(m.Args) == 0 || m.Args[0].Kind != decl.LitNumber {
			b.report(diag.SeverityWarning, path, m.Span, ".%s() needs a numeric literal; ignored", m.Name)
			return 0, false
		}
		return m.Args[0].Num, true
	}

	switch m.Name {
	case "optional", "nullable", "nullish":
		f.Optional = true
	case "describe":
		if len(m.Args) > 0 && m.Args[0].Kind == decl.LitString {
			f.Description = m.Args[0].Str
		}
	case "int":
		c.Int = true
	case "nonempty":
		one := 1
		c.MinLength = &one
	case "min", "max", "length":
		if f.Type.Kind == KindDate {
			b.report(diag.SeverityInfo, path, m.Span, "date bounds are not enforced")
			return
		}
		n, ok := num()
		if !ok {
			return
		}
		b.bound(f, m.Name, n)
	case "gt", "gte", "lt", "lte":
		n, ok := num()
		if !ok {
			return
		}
		switch m.Name {
		case "gt":
			c.Min, c.ExclusiveMin = &n, true
		case "gte":
			c.Min, c.ExclusiveMin = &n, false
		case "lt":
			c.Max, c.ExclusiveMax = &n, true
		case "lte":
			c.Max, c.ExclusiveMax = &n, false
		}
	case "positive", "nonnegative":
		zero := 0.0
		c.Min, c.ExclusiveMin = &zero, m.Name == "positive"
	case "negative", "nonpositive":
		zero := 0.0
		c.Max, c.ExclusiveMax = &zero, m.Name == "negative"
	case "regex":
		if len(m.Args) == 0 || m.Args[0].Kind != decl.LitRegex {
			b.report(diag.SeverityWarning, path, m.Span, ".regex() needs a regular expression literal; ignored")
			return
		}
		c.Patterns = append(c.Patterns, goPattern(m.Args[0].Str, m.Args[0].Flags))
	case "startsWith", "endsWith", "includes":
		if len(m.Args) == 0 || m.Args[0].Kind != decl.LitString {
			b.report(diag.SeverityWarning, path, m.Span, ".%s() needs a string literal; ignored", m.Name)
			return
		}
		q := regexp.QuoteMeta(m.Args[0].Str)
		switch m.Name {
		case "startsWith":
			q = "^" + q
		case "endsWith":
			q += "$"
		}
		c.Patterns = append(c.Patterns, q)
	default:
		if fm, ok := formats[m.Name]; ok && f.Type.Kind == KindString {
			c.Format = fm
			return
		}
		switch {
		case ignored[m.Name]:
		case transforms[m.Name]:
			b.report(diag.SeverityInfo, path, m.Span, ".%s() alters values at runtime and is not applied", m.Name)
		default:
			b.report(diag.SeverityWarning, path, m.Span, "unknown modifier .%s(); skipped", m.Name)
		}
	}
}

func (b *builder) bound(f *Field, name string, n float64) {
	c := &f.Constraints
	if f.Type.Kind == KindNumber {
		switch name {
		case "min":
			c.Min, c.ExclusiveMin = &n, false
		case "max":
			c.Max, c.ExclusiveMax = &n, false
		case "length":
			lo, hi := n, n
			c.Min, c.Max = &lo, &hi
		}
		return
	}
	l := int(n)
	switch name {
	case "min":
		c.MinLength = &l
	case "max":
		c.MaxLength = &l
	case "length":
		lo, hi := l, l
		c.MinLength, c.MaxLength = &lo, &hi
	}
}

// goPattern rewrites a JavaScript regex literal's body and flags into RE2
// syntax. Escaped slashes are unescaped; i, m and s become inline flags.
func goPattern(body, flags string) string {
	body = strings.ReplaceAll(body, `\/`, `/`)
	var inline strings.Builder
	for _, fl := range flags {
		switch fl {
		case 'i', 'm', 's':
			inline.WriteRune(fl)
		}
	}
	if inline.Len() > 0 {
		return "(?" + inline.String() + ")" + body
	}
	return body
}

// compile checks every pattern. Patterns RE2 cannot express are dropped.
func (b *builder) compile(f *Field, path string) {
	c := &f.Constraints
	kept := c.Patterns[:0]
	for _, p := range c.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			b.report(diag.SeverityWarning, path, f.Span, "pattern %q is not supported: %v", p, err)
			continue
		}
		kept = append(kept, p)
		c.compiled = append(c.compiled, re)
	}
	if len(kept) == 0 {
		kept = nil
	}
	c.Patterns = kept
}

func (b *builder) applyDefault(f *Field, m decl.Modifier, path string) {
	if len(m.Args) == 0 {
		b.report(diag.SeverityWarning, path, m.Span, ".default() without a value; field left optional")
		return
	}
	v, err := coerce(m.Args[0], f)
	if err != nil {
		b.report(diag.SeverityWarning, path, m.Span, "default value cannot be used: %v; field left optional without a default", err)
		return
	}
	f.Default = &v
}

// coerce converts a default literal to the field's typed representation.
func coerce(lit decl.Literal, f *Field) (meta.Value, error) {
	if lit.Kind == decl.LitNull {
		return meta.Null(), nil
	}
	switch f.Type.Kind {
	case KindString:
		if lit.Kind == decl.LitString {
			return meta.String(lit.Str), nil
		}
	case KindEnum:
		if lit.Kind == decl.LitString {
			for _, v := range f.Type.Values {
				if v == lit.Str {
					return meta.String(v), nil
				}
			}
			return meta.Value{}, fmt.Errorf("%q is not one of %s", lit.Str, strings.Join(f.Type.Values, ", "))
		}
	case KindNumber:
		if lit.Kind == decl.LitNumber {
			if lit.Num == math.Trunc(lit.Num) && math.Abs(lit.Num) < 1<<53 {
				return meta.Int(int64(lit.Num)), nil
			}
			if f.Constraints.Int {
				return meta.Value{}, fmt.Errorf("%v is not an integer", lit.Num)
			}
			return meta.Float(lit.Num), nil
		}
	case KindBoolean:
		if lit.Kind == decl.LitBool {
			return meta.Bool(lit.Bool), nil
		}
	case KindDate:
		if lit.Kind == decl.LitString {
			if _, ok := meta.ParseDate(lit.Str); ok {
				return meta.Date(lit.Str), nil
			}
			return meta.Value{}, fmt.Errorf("%q is not a date", lit.Str)
		}
	case KindArray:
		if lit.Kind == decl.LitArray {
			items := make([]meta.Value, 0, len(lit.Items))
			for i, it := range lit.Items {
				v, err := coerce(it, f.Type.Elem)
				if err != nil {
					return meta.Value{}, fmt.Errorf("item %d: %w", i, err)
				}
				items = append(items, v)
			}
			return meta.List(items...), nil
		}
	case KindObject:
		if lit.Kind == decl.LitObject {
			m := meta.NewMap()
			for _, p := range lit.Props {
				child, ok := f.Child(p.Key)
				if !ok {
					return meta.Value{}, fmt.Errorf("unknown key %q", p.Key)
				}
				v, err := coerce(p.Value, child)
				if err != nil {
					return meta.Value{}, fmt.Errorf("%s: %w", p.Key, err)
				}
				m.Set(p.Key, v)
			}
			return meta.MapValue(m), nil
		}
	}
	return meta.Value{}, fmt.Errorf("%s is not a %s", describeLiteral(lit), f.Type.Kind)
}

func describeLiteral(lit decl.Literal) string {
	switch lit.Kind {
	case decl.LitString:
		return strconv.Quote(lit.Str)
	case decl.LitNumber:
		return strconv.FormatFloat(lit.Num, 'g', -1, 64)
	case decl.LitBool:
		return strconv.FormatBool(lit.Bool)
	case decl.LitArray:
		return "array literal"
	case decl.LitObject:
		return "object literal"
	}
	if lit.Text != "" {
		return lit.Text
	}
	return "expression"
}

func literalText(lit decl.Literal) (string, bool) {
	switch lit.Kind {
	case decl.LitString:
		return lit.Str, true
	case decl.LitNumber:
		return strconv.FormatFloat(lit.Num, 'g', -1, 64), true
	}
	return "", false
}
