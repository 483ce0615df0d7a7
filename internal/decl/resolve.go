package decl

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/starford/folio/internal/apperr"
	"github.com/starford/folio/internal/diag"
)

const maxDepth = 48

// constructors maps the last segment of z.<name>(...) to a field type.
var constructors = map[string]string{
	"string":       "string",
	"number":       "number",
	"bigint":       "number",
	"boolean":      "boolean",
	"date":         "date",
	"enum":         "enum",
	"nativeEnum":   "nativeEnum",
	"literal":      "literal",
	"array":        "array",
	"object":       "object",
	"strictObject": "object",
	"looseObject":  "object",
}

// objectModifiers reshape the field list of an object schema instead of
// describing the object field itself.
var objectModifiers = map[string]bool{
	"extend": true, "merge": true, "pick": true, "omit": true,
	"partial": true, "deepPartial": true, "required": true,
	"strict": true, "passthrough": true, "strip": true, "catchall": true,
}

type resolver struct {
	src    string
	binds  map[string]*binding
	order  []*binding
	diags  *diag.List
	active map[string]bool
	coll   string
}

func newResolver(src string, bindings []*binding, diags *diag.List) *resolver {
	r := &resolver{
		src:    src,
		binds:  make(map[string]*binding, len(bindings)),
		order:  bindings,
		diags:  diags,
		active: make(map[string]bool),
	}
	for _, b := range bindings {
		// Later declarations shadow earlier ones, as redeclaration would
		// be rejected by the compiler anyway.
		r.binds[b.name] = b
	}
	return r
}

type resolveError struct {
	msg   string
	start int
	end   int
}

func (e *resolveError) Error() string { return e.msg }

func errAt(x expr, format string, args ...any) *resolveError {
	start, end := x.span()
	return &resolveError{msg: fmt.Sprintf(format, args...), start: start, end: end}
}

func (r *resolver) span(start, end int) *diag.Span {
	return diag.NewSpan(r.src, start, end)
}

func (r *resolver) spanOf(x expr) *diag.Span {
	start, end := x.span()
	return r.span(start, end)
}

func (r *resolver) report(sev diag.Severity, field string, sp *diag.Span, format string, args ...any) {
	r.diags.Add(diag.Diagnostic{
		Severity:   sev,
		Kind:       apperr.ErrSchemaParse,
		Message:    fmt.Sprintf(format, args...),
		Span:       sp,
		Collection: r.coll,
		Field:      field,
	})
}

// collections resolves the collection set: the entries of an exported
// `collections` object when present, otherwise every binding initialized
// with defineCollection.
func (r *resolver) collections() []Collection {
	type candidate struct {
		name string
		x    expr
		b    *binding
		sp   *diag.Span
	}
	var cands []candidate

	if exp, ok := r.binds["collections"]; ok && exp.err == nil {
		obj, isObj := r.deref(exp.x).(*objectExpr)
		if !isObj {
			r.report(diag.SeverityError, "", r.spanOf(exp.x), "collections export is not an object literal")
			return nil
		}
		for _, prop := range obj.props {
			if prop.spread {
				r.report(diag.SeverityWarning, "", r.span(prop.start, prop.end), "spread in collections export is not supported; skipped")
				continue
			}
			c := candidate{name: prop.key, x: prop.value, sp: r.span(prop.start, prop.end)}
			if id, isIdent := prop.value.(*identExpr); isIdent {
				c.b = r.binds[id.name]
			}
			cands = append(cands, c)
		}
	} else {
		if ok && exp.err != nil {
			r.report(diag.SeverityError, "", r.span(exp.err.start, exp.err.end), "collections export could not be parsed: %s", exp.err.msg)
		}
		for _, b := range r.order {
			if b.err != nil {
				if b.collectionLike {
					cands = append(cands, candidate{name: b.name, b: b, sp: r.span(b.start, b.end)})
				}
				continue
			}
			if call, isCall := r.deref(b.x).(*callExpr); isCall && isDefineCollection(call) {
				cands = append(cands, candidate{name: b.name, x: b.x, b: b, sp: r.span(b.start, b.end)})
			}
		}
	}

	seen := make(map[string]bool, len(cands))
	var out []Collection
	for _, c := range cands {
		r.coll = c.name
		if seen[c.name] {
			r.report(diag.SeverityError, "", c.sp, "duplicate collection name")
			continue
		}
		seen[c.name] = true
		if c.b != nil && c.b.err != nil {
			r.report(diag.SeverityError, "", r.span(c.b.err.start, c.b.err.end),
				"collection declaration could not be parsed: %s", c.b.err.msg)
			continue
		}
		coll, err := r.collection(c.name, c.x)
		if err != nil {
			r.report(diag.SeverityError, "", r.span(err.start, err.end), "collection skipped: %s", err.msg)
			continue
		}
		coll.Span = c.sp
		if c.b != nil {
			coll.Span = r.span(c.b.start, c.b.end)
		}
		out = append(out, coll)
	}
	r.coll = ""
	return out
}

func isDefineCollection(call *callExpr) bool {
	p := path(call.fn)
	return p == "defineCollection" || strings.HasSuffix(p, ".defineCollection")
}

// deref follows identifiers to their bindings and arrow functions to their
// bodies. It returns x itself when nothing can be followed.
func (r *resolver) deref(x expr) expr {
	seen := map[string]bool{}
	for i := 0; i < maxDepth; i++ {
		switch e := x.(type) {
		case *identExpr:
			b, ok := r.binds[e.name]
			if !ok || b.err != nil || seen[e.name] {
				return x
			}
			seen[e.name] = true
			x = b.x
		case *arrowExpr:
			if e.body == nil {
				return x
			}
			x = e.body
		default:
			return x
		}
	}
	return x
}

func (r *resolver) collection(name string, x expr) (Collection, *resolveError) {
	call, ok := r.deref(x).(*callExpr)
	if !ok || !isDefineCollection(call) {
		return Collection{}, errAt(x, "%s is not a defineCollection(...) call", name)
	}
	if len(call.args) == 0 {
		return Collection{}, errAt(call, "defineCollection called without a config object")
	}
	cfg, ok := r.deref(call.args[0]).(*objectExpr)
	if !ok {
		return Collection{}, errAt(call.args[0], "defineCollection argument is not an object literal")
	}

	coll := Collection{Name: name}
	var schemaExpr expr
	for _, prop := range cfg.props {
		switch prop.key {
		case "type":
			if s, isStr := prop.value.(*stringExpr); isStr {
				coll.Type = s.value
			}
		case "loader":
			coll.Loader = r.loader(prop.value)
		case "schema":
			schemaExpr = prop.value
		}
	}
	if schemaExpr == nil {
		r.report(diag.SeverityInfo, "", r.spanOf(call), "collection declares no schema; entries are edited without fields")
		return coll, nil
	}

	root, err := r.field("", schemaExpr, 0)
	if err != nil {
		return Collection{}, err
	}
	if root.Type != "object" {
		return Collection{}, errAt(schemaExpr, "schema is a %s, not an object", root.Type)
	}
	for _, m := range root.Modifiers {
		r.report(diag.SeverityInfo, "", m.Span, "modifier .%s() on the collection schema is ignored", m.Name)
	}
	coll.Fields = root.Fields
	return coll, nil
}

func (r *resolver) loader(x expr) *Loader {
	call, ok := x.(*callExpr)
	if !ok {
		return nil
	}
	kind := path(call.fn)
	switch kind {
	case "glob":
		l := &Loader{Kind: kind}
		if len(call.args) > 0 {
			if obj, isObj := call.args[0].(*objectExpr); isObj {
				for _, prop := range obj.props {
					if s, isStr := prop.value.(*stringExpr); isStr && !s.template {
						switch prop.key {
						case "pattern":
							l.Pattern = s.value
						case "base":
							l.Base = s.value
						}
					}
				}
			}
		}
		return l
	case "file":
		l := &Loader{Kind: kind}
		if len(call.args) > 0 {
			if s, isStr := call.args[0].(*stringExpr); isStr {
				l.Base = s.value
			}
		}
		return l
	}
	return nil
}

// field turns one schema expression into a raw descriptor.
func (r *resolver) field(name string, x expr, depth int) (Field, *resolveError) {
	if depth > maxDepth {
		return Field{}, errAt(x, "schema nesting too deep")
	}
	switch e := x.(type) {
	case *identExpr:
		b, ok := r.binds[e.name]
		if !ok {
			return Field{}, errAt(e, "unknown identifier %s", e.name)
		}
		if b.err != nil {
			return Field{}, errAt(e, "declaration of %s could not be parsed", e.name)
		}
		if r.active[e.name] {
			return Field{}, errAt(e, "schema %s refers to itself", e.name)
		}
		r.active[e.name] = true
		defer delete(r.active, e.name)
		f, err := r.field(name, b.x, depth+1)
		f.Span = r.spanOf(e)
		return f, err
	case *arrowExpr:
		if e.body == nil {
			return Field{}, errAt(e, "function body has no return statement")
		}
		return r.field(name, e.body, depth+1)
	case *callExpr:
		return r.call(name, e, depth)
	}
	return Field{}, errAt(x, "unsupported schema expression %q", r.text(x))
}

func (r *resolver) call(name string, e *callExpr, depth int) (Field, *resolveError) {
	p := path(e.fn)
	sp := r.spanOf(e)

	switch p {
	case "image":
		return Field{Name: name, Type: "image", Span: sp}, nil
	case "reference":
		return Field{Name: name, Type: "reference", Args: r.literals(e.args), Span: sp}, nil
	}

	if typ, coerce, ok := r.constructor(p); ok {
		f := Field{Name: name, Type: typ, Coerce: coerce, Span: sp}
		switch typ {
		case "array":
			if len(e.args) == 0 {
				return Field{}, errAt(e, "array() without an element schema")
			}
			elem, err := r.field("", e.args[0], depth+1)
			if err != nil {
				return Field{}, err
			}
			f.Elem = &elem
		case "object":
			if len(e.args) == 0 {
				return f, nil
			}
			fields, err := r.objectFields(e.args[0], depth+1)
			if err != nil {
				return Field{}, err
			}
			f.Fields = fields
		case "enum":
			if len(e.args) == 0 {
				return Field{}, errAt(e, "enum() without values")
			}
			arr, isArr := r.deref(e.args[0]).(*arrayExpr)
			if !isArr {
				return Field{}, errAt(e.args[0], "enum values are not an array literal")
			}
			for _, el := range arr.elems {
				lit := r.literal(el)
				if lit.Kind != LitString {
					return Field{}, errAt(el, "enum value %q is not a string literal", r.text(el))
				}
				f.EnumValues = append(f.EnumValues, lit)
			}
		case "nativeEnum":
			if len(e.args) > 0 {
				if obj, isObj := r.deref(e.args[0]).(*objectExpr); isObj {
					for _, prop := range obj.props {
						f.EnumValues = append(f.EnumValues, r.literal(prop.value))
					}
				}
			}
		default:
			f.Args = r.literals(e.args)
		}
		return f, nil
	}

	m, isMember := e.fn.(*memberExpr)
	if !isMember {
		return Field{}, errAt(e, "unsupported schema constructor %s()", p)
	}
	if strings.HasPrefix(p, "z.") && r.binds["z"] == nil {
		// z.union, z.record, z.tuple, ...
		return Field{}, errAt(e, "unsupported schema type z.%s", m.name)
	}

	base, err := r.field(name, m.x, depth+1)
	if err != nil {
		return Field{}, err
	}
	return r.modifier(base, m.name, e, depth)
}

// constructor recognizes z.<type>, z.coerce.<type> and any other
// namespace alias used the same way.
func (r *resolver) constructor(p string) (string, bool, bool) {
	parts := strings.Split(p, ".")
	switch len(parts) {
	case 2:
		if _, isBinding := r.binds[parts[0]]; isBinding {
			return "", false, false
		}
		typ, ok := constructors[parts[1]]
		return typ, false, ok
	case 3:
		if parts[1] != "coerce" {
			return "", false, false
		}
		typ, ok := constructors[parts[2]]
		return typ, true, ok
	}
	return "", false, false
}

func (r *resolver) modifier(f Field, name string, e *callExpr, depth int) (Field, *resolveError) {
	sp := r.spanOf(e)
	if name == "array" {
		elem := f
		elem.Name = ""
		return Field{Name: f.Name, Type: "array", Elem: &elem, Span: sp}, nil
	}
	if f.Type == "object" && objectModifiers[name] {
		return r.objectModifier(f, name, e, depth)
	}
	if name == "int" && f.Type != "number" {
		r.report(diag.SeverityWarning, f.Name, sp, ".int() on a %s field", f.Type)
	}
	f.Modifiers = append(f.Modifiers, Modifier{Name: name, Args: r.literals(e.args), Span: sp})
	return f, nil
}

func (r *resolver) objectModifier(f Field, name string, e *callExpr, depth int) (Field, *resolveError) {
	switch name {
	case "extend":
		if len(e.args) == 0 {
			return f, nil
		}
		extra, err := r.objectFields(e.args[0], depth+1)
		if err != nil {
			return Field{}, err
		}
		f.Fields = mergeFields(f.Fields, extra)
	case "merge":
		if len(e.args) == 0 {
			return f, nil
		}
		other, err := r.field("", e.args[0], depth+1)
		if err != nil {
			return Field{}, err
		}
		if other.Type != "object" {
			return Field{}, errAt(e.args[0], "merge() argument is not an object schema")
		}
		f.Fields = mergeFields(f.Fields, other.Fields)
	case "pick", "omit":
		keys := r.keySet(e)
		var kept []Field
		for _, fl := range f.Fields {
			if keys[fl.Name] == (name == "pick") {
				kept = append(kept, fl)
			}
		}
		f.Fields = kept
	case "partial", "deepPartial":
		keys := r.keySet(e)
		f.Fields = makeOptional(f.Fields, keys, name == "deepPartial")
	case "required":
		keys := r.keySet(e)
		for i := range f.Fields {
			if len(keys) == 0 || keys[f.Fields[i].Name] {
				f.Fields[i].Modifiers = dropModifiers(f.Fields[i].Modifiers, "optional", "nullish")
			}
		}
	}
	// strict, passthrough, strip and catchall do not change the field set.
	return f, nil
}

func (r *resolver) keySet(e *callExpr) map[string]bool {
	keys := map[string]bool{}
	if len(e.args) == 0 {
		return keys
	}
	if obj, ok := r.deref(e.args[0]).(*objectExpr); ok {
		for _, prop := range obj.props {
			keys[prop.key] = true
		}
	}
	return keys
}

func makeOptional(fields []Field, keys map[string]bool, deep bool) []Field {
	out := make([]Field, len(fields))
	for i, f := range fields {
		if len(keys) == 0 || keys[f.Name] {
			f.Modifiers = append(append([]Modifier(nil), f.Modifiers...), Modifier{Name: "optional"})
			if deep && f.Type == "object" {
				f.Fields = makeOptional(f.Fields, nil, true)
			}
		}
		out[i] = f
	}
	return out
}

func dropModifiers(mods []Modifier, names ...string) []Modifier {
	var out []Modifier
	for _, m := range mods {
		drop := false
		for _, n := range names {
			if m.Name == n {
				drop = true
			}
		}
		if !drop {
			out = append(out, m)
		}
	}
	return out
}

// mergeFields appends extra to base; a key present in both takes the extra
// definition at the base position.
func mergeFields(base, extra []Field) []Field {
	out := append([]Field(nil), base...)
	for _, f := range extra {
		replaced := false
		for i := range out {
			if out[i].Name == f.Name {
				out[i] = f
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, f)
		}
	}
	return out
}

// objectFields reads the shape argument of z.object(...). A field that
// cannot be understood is skipped with a diagnostic.
func (r *resolver) objectFields(x expr, depth int) ([]Field, *resolveError) {
	if depth > maxDepth {
		return nil, errAt(x, "schema nesting too deep")
	}
	target := r.deref(x)
	if m, ok := target.(*memberExpr); ok && m.name == "shape" {
		owner, err := r.field("", m.x, depth+1)
		if err != nil {
			return nil, err
		}
		return owner.Fields, nil
	}
	obj, ok := target.(*objectExpr)
	if !ok {
		return nil, errAt(x, "object shape is not an object literal")
	}

	var fields []Field
	for _, prop := range obj.props {
		if prop.spread {
			spread, err := r.objectFields(prop.value, depth+1)
			if err != nil {
				r.report(diag.SeverityWarning, "", r.span(prop.start, prop.end), "spread skipped: %s", err.msg)
				continue
			}
			fields = append(fields, spread...)
			continue
		}
		f, err := r.field(prop.key, prop.value, depth+1)
		if err != nil {
			r.report(diag.SeverityWarning, prop.key, r.span(err.start, err.end), "field skipped: %s", err.msg)
			continue
		}
		f.Name = prop.key
		f.Span = r.span(prop.start, prop.end)
		fields = append(fields, f)
	}
	return fields, nil
}

func (r *resolver) text(x expr) string {
	start, end := x.span()
	if start < 0 || end > len(r.src) || start > end {
		return ""
	}
	return r.src[start:end]
}

func (r *resolver) literals(args []expr) []Literal {
	if len(args) == 0 {
		return nil
	}
	out := make([]Literal, len(args))
	for i, a := range args {
		out[i] = r.literal(a)
	}
	return out
}

// literal converts a constant expression. Identifiers bound to constants
// are followed.
func (r *resolver) literal(x expr) Literal {
	lit := Literal{Span: r.spanOf(x), Text: r.text(x)}
	switch e := x.(type) {
	case *stringExpr:
		if e.template {
			return lit
		}
		lit.Kind, lit.Str = LitString, e.value
	case *numberExpr:
		n, ok := parseNumber(e.text)
		if !ok {
			return lit
		}
		lit.Kind, lit.Num = LitNumber, n
	case *boolExpr:
		lit.Kind, lit.Bool = LitBool, e.value
	case *nullExpr:
		lit.Kind = LitNull
	case *regexExpr:
		lit.Kind, lit.Str, lit.Flags = LitRegex, e.pattern, e.flags
	case *unaryExpr:
		inner := r.literal(e.x)
		if inner.Kind == LitNumber && (e.op == "-" || e.op == "+") {
			if e.op == "-" {
				inner.Num = -inner.Num
			}
			inner.Span, inner.Text = lit.Span, lit.Text
			return inner
		}
	case *arrayExpr:
		lit.Kind = LitArray
		lit.Items = make([]Literal, 0, len(e.elems))
		for _, el := range e.elems {
			lit.Items = append(lit.Items, r.literal(el))
		}
	case *objectExpr:
		lit.Kind = LitObject
		for _, prop := range e.props {
			if prop.spread {
				lit.Kind = LitOther
				lit.Props = nil
				return lit
			}
			lit.Props = append(lit.Props, Prop{Key: prop.key, Value: r.literal(prop.value)})
		}
	case *identExpr:
		if b, ok := r.binds[e.name]; ok && b.err == nil && !r.active[e.name] {
			r.active[e.name] = true
			defer delete(r.active, e.name)
			inner := r.literal(b.x)
			inner.Span, inner.Text = lit.Span, lit.Text
			return inner
		}
	}
	return lit
}

func parseNumber(text string) (float64, bool) {
	text = strings.TrimSuffix(text, "n")
	if strings.HasPrefix(text, "0x") || strings.HasPrefix(text, "0X") {
		n, err := strconv.ParseInt(text[2:], 16, 64)
		return float64(n), err == nil
	}
	n, err := strconv.ParseFloat(text, 64)
	return n, err == nil
}
