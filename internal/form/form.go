// Package form synthesizes an editable field tree from a collection schema
// and a document's metadata, validates it and converts it back.
package form

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/starford/folio/internal/apperr"
	"github.com/starford/folio/internal/diag"
	"github.com/starford/folio/internal/meta"
	"github.com/starford/folio/internal/schema"
)

// FieldState is the editable state of one schema field. Items holds the
// states of array items and Children those of object fields.
type FieldState struct {
	Name      string            `json:"name"`
	Path      Path              `json:"-"`
	Field     *schema.Field     `json:"-"`
	Value     meta.Value        `json:"value"`
	Present   bool              `json:"present"`
	Defaulted bool              `json:"defaulted"`
	Touched   bool              `json:"touched"`
	Items     []*FieldState     `json:"items,omitempty"`
	Children  []*FieldState     `json:"children,omitempty"`
	Errors    []ValidationError `json:"errors,omitempty"`
}

// Form is the field tree of one document.
type Form struct {
	Collection *schema.Collection
	Fields     []*FieldState

	policy  Policy
	touched map[string]bool
	unset   map[string]bool
}

// Synthesize builds the form for m under coll. A nil coll yields a form
// with no fields, which leaves the metadata to opaque editing.
func Synthesize(coll *schema.Collection, m *meta.Map, policy Policy) *Form {
	f := &Form{
		Collection: coll,
		policy:     policy,
		touched:    make(map[string]bool),
		unset:      make(map[string]bool),
	}
	f.build(m)
	return f
}

func (f *Form) build(m *meta.Map) {
	f.Fields = nil
	if f.Collection == nil {
		return
	}
	for i := range f.Collection.Fields {
		field := &f.Collection.Fields[i]
		v, present := m.Get(field.Name)
		f.Fields = append(f.Fields, f.top(field, v, present))
	}
	f.Validate()
}

// Rebase rebuilds the form under coll from base with the pending edits
// written in, hard errors or not. Edit marks carry over to the fields coll
// still declares. It returns the new form and the metadata it was built
// from.
func (f *Form) Rebase(coll *schema.Collection, base *meta.Map) (*Form, *meta.Map) {
	m := f.write(base)
	nf := &Form{
		Collection: coll,
		policy:     f.policy,
		touched:    make(map[string]bool),
		unset:      make(map[string]bool),
	}
	if coll != nil {
		for k := range f.touched {
			if p, err := ParsePath(k); err == nil && len(p) > 0 {
				if _, ok := coll.Field(p[0].Key); ok {
					nf.touched[k] = true
				}
			}
		}
		for name := range f.unset {
			if _, ok := coll.Field(name); ok {
				nf.unset[name] = true
			}
		}
	}
	nf.build(m)
	return nf, m
}

func (f *Form) top(field *schema.Field, v meta.Value, present bool) *FieldState {
	st := &FieldState{Name: field.Name, Path: Path{Key(field.Name)}, Field: field}
	f.fill(st, v, present)
	return st
}

// fill sets st's value and rebuilds its nested states. An absent field
// nobody edited shows its default or empty value.
func (f *Form) fill(st *FieldState, v meta.Value, present bool) {
	st.Present = present
	st.Touched = f.touched[st.Path.String()]
	st.Defaulted = false
	if !present && !st.Touched {
		if st.Field.Default != nil {
			v = st.Field.Default.Clone()
			st.Defaulted = true
		} else {
			v = st.Field.EmptyValue()
		}
	}
	st.Value = v
	st.Items, st.Children = nil, nil

	switch st.Field.Type.Kind {
	case schema.KindArray:
		if v.Kind != meta.KindList || st.Field.Type.Elem == nil {
			return
		}
		for i, it := range v.List {
			item := &FieldState{Path: st.Path.Child(Index(i)), Field: st.Field.Type.Elem}
			f.fill(item, it, true)
			st.Items = append(st.Items, item)
		}
	case schema.KindObject:
		var m *meta.Map
		if v.Kind == meta.KindMap {
			m = v.Map
		}
		for i := range st.Field.Type.Fields {
			cf := &st.Field.Type.Fields[i]
			cv, ok := m.Get(cf.Name)
			child := &FieldState{Name: cf.Name, Path: st.Path.Child(Key(cf.Name)), Field: cf}
			f.fill(child, cv, ok)
			st.Children = append(st.Children, child)
		}
	}
}

func (f *Form) field(name string) *FieldState {
	for _, st := range f.Fields {
		if st.Name == name {
			return st
		}
	}
	return nil
}

// State returns the field state at p.
func (f *Form) State(p Path) (*FieldState, bool) {
	if len(p) == 0 || p[0].IsIndex() {
		return nil, false
	}
	st := f.field(p[0].Key)
	for _, seg := range p[1:] {
		if st == nil {
			return nil, false
		}
		var next *FieldState
		if seg.IsIndex() {
			if seg.Index < len(st.Items) {
				next = st.Items[seg.Index]
			}
		} else {
			for _, ch := range st.Children {
				if ch.Name == seg.Key {
					next = ch
					break
				}
			}
		}
		st = next
	}
	return st, st != nil
}

// Set stores v at p. Strings are converted to the field's type when they
// parse; anything else is stored as given and left to validation.
func (f *Form) Set(p Path, v meta.Value) error {
	return f.edit("set", p, func(cur meta.Value, field *schema.Field) (meta.Value, error) {
		return Coerce(field, v), nil
	})
}

// Unset removes the value at p. A top-level field falls back to its
// default and is dropped from the metadata on conversion.
func (f *Form) Unset(p Path) error {
	if len(p) == 1 {
		st := f.field(p[0].Key)
		if st == nil {
			return fmt.Errorf("form: unset %s: %w", p, apperr.ErrNotFound)
		}
		f.forget(p)
		f.unset[st.Name] = true
		f.fill(st, meta.Value{}, false)
		f.Validate()
		return nil
	}
	if len(p) == 0 {
		return fmt.Errorf("form: unset: %w", errBadPath)
	}
	last := p[len(p)-1]
	f.forget(p)
	return f.edit("unset", p[:len(p)-1], func(cur meta.Value, _ *schema.Field) (meta.Value, error) {
		return without(cur, last, p)
	})
}

// Append adds an item to the array at p and returns its index. The item
// starts from the element default or empty value.
func (f *Form) Append(p Path) (int, error) {
	idx := -1
	err := f.edit("append", p, func(cur meta.Value, field *schema.Field) (meta.Value, error) {
		if field == nil || field.Type.Kind != schema.KindArray || field.Type.Elem == nil {
			return cur, fmt.Errorf("%s is not an array field", p)
		}
		var items []meta.Value
		if cur.Kind == meta.KindList {
			items = append(items, cur.List...)
		}
		elem := field.Type.Elem
		item := elem.EmptyValue()
		if elem.Default != nil {
			item = elem.Default.Clone()
		}
		idx = len(items)
		return meta.List(append(items, item)...), nil
	})
	return idx, err
}

// Remove deletes the array item addressed by p.
func (f *Form) Remove(p Path) error {
	if len(p) < 2 || !p[len(p)-1].IsIndex() {
		return fmt.Errorf("form: remove %s: %w: not an array item", p, errBadPath)
	}
	return f.Unset(p)
}

func without(cur meta.Value, seg Segment, p Path) (meta.Value, error) {
	if seg.IsIndex() {
		if cur.Kind != meta.KindList || seg.Index >= len(cur.List) {
			return cur, fmt.Errorf("%s: %w", p, apperr.ErrNotFound)
		}
		items := make([]meta.Value, 0, len(cur.List)-1)
		items = append(items, cur.List[:seg.Index]...)
		items = append(items, cur.List[seg.Index+1:]...)
		return meta.List(items...), nil
	}
	if cur.Kind != meta.KindMap || !cur.Map.Has(seg.Key) {
		return cur, fmt.Errorf("%s: %w", p, apperr.ErrNotFound)
	}
	m := cur.Map.Clone()
	m.Delete(seg.Key)
	return meta.MapValue(m), nil
}

// edit replaces the value at p with fn's result and refreshes the owning
// top-level state.
func (f *Form) edit(op string, p Path, fn func(meta.Value, *schema.Field) (meta.Value, error)) error {
	if len(p) == 0 || p[0].IsIndex() {
		return fmt.Errorf("form: %s %s: %w", op, p, errBadPath)
	}
	st := f.field(p[0].Key)
	if st == nil {
		return fmt.Errorf("form: %s %s: unknown field: %w", op, p, apperr.ErrNotFound)
	}
	nv, err := editAt(st.Value, st.Field, p[1:], fn)
	if err != nil {
		return fmt.Errorf("form: %s %s: %w", op, p, err)
	}

	for i := range p {
		f.touched[p[:i+1].String()] = true
	}
	delete(f.unset, st.Name)
	f.fill(st, nv, st.Present)
	f.Validate()
	return nil
}

func editAt(cur meta.Value, field *schema.Field, rest Path, fn func(meta.Value, *schema.Field) (meta.Value, error)) (meta.Value, error) {
	if len(rest) == 0 {
		return fn(cur, field)
	}
	seg := rest[0]

	if seg.IsIndex() {
		if cur.Kind != meta.KindList || seg.Index >= len(cur.List) {
			return cur, fmt.Errorf("index %d: %w", seg.Index, apperr.ErrNotFound)
		}
		var elem *schema.Field
		if field != nil {
			elem = field.Type.Elem
		}
		nv, err := editAt(cur.List[seg.Index], elem, rest[1:], fn)
		if err != nil {
			return cur, err
		}
		items := append([]meta.Value(nil), cur.List...)
		items[seg.Index] = nv
		return meta.List(items...), nil
	}

	var m *meta.Map
	if cur.Kind == meta.KindMap {
		m = cur.Map.Clone()
	} else {
		m = meta.NewMap()
	}
	var child *schema.Field
	var order []string
	if field != nil {
		if field.Type.Kind != schema.KindObject {
			return cur, fmt.Errorf("%s is not an object field", field.Name)
		}
		child, _ = field.Child(seg.Key)
		for _, cf := range field.Type.Fields {
			order = append(order, cf.Name)
		}
	}

	existing, ok := m.Get(seg.Key)
	if !ok {
		existing = placeholder(child, rest[1:])
	}
	nv, err := editAt(existing, child, rest[1:], fn)
	if err != nil {
		return cur, err
	}
	if ok {
		if !existing.Equal(nv) {
			m.Set(seg.Key, nv)
		}
	} else {
		InsertOrdered(m, seg.Key, nv, order)
	}
	return meta.MapValue(m), nil
}

// placeholder is the starting value for an absent key about to be edited.
func placeholder(field *schema.Field, rest Path) meta.Value {
	if field != nil {
		if field.Default != nil {
			return field.Default.Clone()
		}
		return field.EmptyValue()
	}
	if len(rest) > 0 && rest[0].IsIndex() {
		return meta.List()
	}
	if len(rest) > 0 {
		return meta.MapValue(meta.NewMap())
	}
	return meta.Null()
}

func (f *Form) forget(p Path) {
	prefix := p.String()
	for k := range f.touched {
		if k == prefix || strings.HasPrefix(k, prefix+".") || strings.HasPrefix(k, prefix+"[") {
			delete(f.touched, k)
		}
	}
}

// Coerce converts v toward field's type: numeric, boolean and date strings
// are parsed, lists and maps are converted item by item. Values that do not
// convert are returned unchanged.
func Coerce(field *schema.Field, v meta.Value) meta.Value {
	if field == nil {
		return v
	}
	switch field.Type.Kind {
	case schema.KindNumber:
		if v.Kind == meta.KindString {
			s := strings.TrimSpace(v.Str)
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return meta.Int(i)
			}
			if x, err := strconv.ParseFloat(s, 64); err == nil {
				return meta.Float(x)
			}
		}
	case schema.KindBoolean:
		if v.Kind == meta.KindString {
			if b, err := strconv.ParseBool(strings.TrimSpace(v.Str)); err == nil {
				return meta.Bool(b)
			}
		}
	case schema.KindDate:
		if v.Kind == meta.KindString {
			if _, ok := meta.ParseDate(v.Str); ok {
				return meta.Date(v.Str)
			}
		}
	case schema.KindString, schema.KindEnum:
		if v.Kind == meta.KindDate {
			return meta.String(v.Str)
		}
	case schema.KindArray:
		if v.Kind == meta.KindList && field.Type.Elem != nil {
			items := make([]meta.Value, len(v.List))
			for i, it := range v.List {
				items[i] = Coerce(field.Type.Elem, it)
			}
			return meta.List(items...)
		}
	case schema.KindObject:
		if v.Kind == meta.KindMap {
			m := v.Map.Clone()
			for i := range m.Fields {
				if cf, ok := field.Child(m.Fields[i].Key); ok {
					if cv := Coerce(cf, m.Fields[i].Value); !cv.Equal(m.Fields[i].Value) {
						m.Set(m.Fields[i].Key, cv)
					}
				}
			}
			return meta.MapValue(m)
		}
	}
	return v
}

// InsertOrdered adds key to m next to its schema siblings: after the
// closest preceding one present, else before the closest following one,
// else at the end. An existing key is replaced in place.
func InsertOrdered(m *meta.Map, key string, v meta.Value, order []string) {
	if m.Has(key) {
		m.Set(key, v)
		return
	}
	pos := -1
	for i, name := range order {
		if name != key {
			continue
		}
		for j := i - 1; j >= 0 && pos < 0; j-- {
			if idx := indexOf(m, order[j]); idx >= 0 {
				pos = idx + 1
			}
		}
		for j := i + 1; j < len(order) && pos < 0; j++ {
			if idx := indexOf(m, order[j]); idx >= 0 {
				pos = idx
			}
		}
		break
	}
	if pos < 0 {
		m.Set(key, v)
		return
	}
	m.Insert(pos, key, v)
}

func indexOf(m *meta.Map, key string) int {
	for i, k := range m.Keys() {
		if k == key {
			return i
		}
	}
	return -1
}

// Validate re-runs validation over the whole tree and returns every error.
func (f *Form) Validate() []ValidationError {
	for _, st := range f.Fields {
		f.validateState(st)
	}
	return f.Errors()
}

// Errors returns the current errors in field order.
func (f *Form) Errors() []ValidationError {
	var out []ValidationError
	var walk func(st *FieldState)
	walk = func(st *FieldState) {
		out = append(out, st.Errors...)
		for _, it := range st.Items {
			walk(it)
		}
		for _, ch := range st.Children {
			walk(ch)
		}
	}
	for _, st := range f.Fields {
		walk(st)
	}
	return out
}

// Valid reports whether no hard error is present.
func (f *Form) Valid() bool {
	for _, e := range f.Errors() {
		if e.Hard {
			return false
		}
	}
	return true
}

// Diagnostics reports the current errors as diagnostics: hard errors with
// error severity, soft ones as warnings.
func (f *Form) Diagnostics() diag.List {
	var out diag.List
	coll := ""
	if f.Collection != nil {
		coll = f.Collection.Name
	}
	for _, e := range f.Errors() {
		sev := diag.SeverityWarning
		if e.Hard {
			sev = diag.SeverityError
		}
		out.Add(diag.Diagnostic{Severity: sev, Kind: apperr.ErrValidation, Message: e.Message, Collection: coll, Field: e.Path})
	}
	return out
}

// ToMap writes the form into a clone of base. Fields that are present or
// were edited are written; defaults nobody edited are not. Keys of base
// that the form does not know keep their values and positions.
//
// It fails as a unit, with every hard error joined, when the form holds a
// hard validation failure.
func (f *Form) ToMap(base *meta.Map) (*meta.Map, error) {
	var errs []error
	for _, e := range f.Errors() {
		if e.Hard {
			errs = append(errs, &e)
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("form: %w", errors.Join(errs...))
	}
	return f.write(base), nil
}

func (f *Form) write(base *meta.Map) *meta.Map {
	out := base.Clone()
	if out == nil {
		out = meta.NewMap()
	}
	order := f.Collection.FieldNames()
	for _, st := range f.Fields {
		if f.unset[st.Name] {
			out.Delete(st.Name)
			continue
		}
		if !st.Present && !st.Touched {
			continue
		}
		if cur, ok := out.Get(st.Name); ok && cur.Equal(st.Value) {
			continue
		}
		InsertOrdered(out, st.Name, st.Value, order)
	}
	return out
}
