package meta

import (
	"sort"

	"gopkg.in/yaml.v3"
)

// Field is one key/value pair of a Map.
type Field struct {
	Key   string
	Value Value

	// source nodes of an undisturbed decoded pair; cleared on Set.
	keyNode   *yaml.Node
	valueNode *yaml.Node
}

// Source returns the YAML nodes this pair was decoded from, or nils when
// the pair was created or modified in memory.
func (f Field) Source() (key, value *yaml.Node) {
	return f.keyNode, f.valueNode
}

// Map is an insertion-ordered mapping from keys to values.
type Map struct {
	Fields []Field
}

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{}
}

// Len returns the number of keys; a nil Map is empty.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Fields)
}

func (m *Map) index(key string) int {
	if m == nil {
		return -1
	}
	for i := range m.Fields {
		if m.Fields[i].Key == key {
			return i
		}
	}
	return -1
}

// Has reports whether key is present.
func (m *Map) Has(key string) bool {
	return m.index(key) >= 0
}

// Get returns the value at key.
func (m *Map) Get(key string) (Value, bool) {
	if i := m.index(key); i >= 0 {
		return m.Fields[i].Value, true
	}
	return Value{}, false
}

// Set replaces the value at key in place, or appends key at the end.
func (m *Map) Set(key string, v Value) {
	if i := m.index(key); i >= 0 {
		m.Fields[i] = Field{Key: key, Value: v}
		return
	}
	m.Fields = append(m.Fields, Field{Key: key, Value: v})
}

// SetWithSource appends or replaces key, remembering the YAML nodes it was
// decoded from so an untouched pair re-encodes verbatim.
func (m *Map) SetWithSource(key string, v Value, keyNode, valueNode *yaml.Node) {
	f := Field{Key: key, Value: v, keyNode: keyNode, valueNode: valueNode}
	if i := m.index(key); i >= 0 {
		m.Fields[i] = f
		return
	}
	m.Fields = append(m.Fields, f)
}

// Insert places key at position pos (clamped), replacing any existing entry.
func (m *Map) Insert(pos int, key string, v Value) {
	m.Delete(key)
	if pos < 0 {
		pos = 0
	}
	if pos > len(m.Fields) {
		pos = len(m.Fields)
	}
	m.Fields = append(m.Fields, Field{})
	copy(m.Fields[pos+1:], m.Fields[pos:])
	m.Fields[pos] = Field{Key: key, Value: v}
}

// Delete removes key, reporting whether it was present.
func (m *Map) Delete(key string) bool {
	i := m.index(key)
	if i < 0 {
		return false
	}
	m.Fields = append(m.Fields[:i], m.Fields[i+1:]...)
	return true
}

// Keys returns the keys in order.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		out[i] = f.Key
	}
	return out
}

// Clone returns a deep copy. Source nodes are shared, they are never mutated.
func (m *Map) Clone() *Map {
	if m == nil {
		return nil
	}
	out := &Map{Fields: make([]Field, len(m.Fields))}
	for i, f := range m.Fields {
		f.Value = f.Value.Clone()
		out.Fields[i] = f
	}
	return out
}

// Equal compares keys, order and values, ignoring source memory.
func (m *Map) Equal(o *Map) bool {
	if m.Len() != o.Len() {
		return false
	}
	for i := 0; i < m.Len(); i++ {
		a, b := m.Fields[i], o.Fields[i]
		if a.Key != b.Key || !a.Value.Equal(b.Value) {
			return false
		}
	}
	return true
}

// EqualUnordered compares contents regardless of key order.
func (m *Map) EqualUnordered(o *Map) bool {
	if m.Len() != o.Len() {
		return false
	}
	for i := 0; i < m.Len(); i++ {
		f := m.Fields[i]
		ov, ok := o.Get(f.Key)
		if !ok || !f.Value.Equal(ov) {
			return false
		}
	}
	return true
}

// Reorder returns a copy of m whose fields follow keys; keys not in m are
// ignored and fields of m not named in keys are dropped.
func (m *Map) Reorder(keys []string) *Map {
	out := &Map{Fields: make([]Field, 0, len(keys))}
	for _, k := range keys {
		if i := m.index(k); i >= 0 {
			out.Fields = append(out.Fields, m.Fields[i])
		}
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
