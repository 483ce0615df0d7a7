package meta

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// MarshalJSON renders v as JSON. Dates render as strings.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindList:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, it := range v.List {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := it.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case KindMap:
		return v.Map.MarshalJSON()
	}
	return json.Marshal(v.Any())
}

// MarshalJSON renders m as a JSON object keeping key order.
func (m *Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i := 0; i < m.Len(); i++ {
		f := m.Fields[i]
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		b, err := f.Value.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("meta: marshal %s: %w", f.Key, err)
		}
		buf.Write(b)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes JSON into v keeping object key order. Integral
// numbers become ints, others floats.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	out, err := decodeJSON(dec)
	if err != nil {
		return fmt.Errorf("meta: unmarshal: %w", err)
	}
	*v = out
	return nil
}

// UnmarshalJSON decodes a JSON object into m keeping key order.
func (m *Map) UnmarshalJSON(data []byte) error {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return err
	}
	if v.Kind != KindMap {
		return errors.New("meta: unmarshal: expected JSON object")
	}
	*m = *v.Map
	return nil
}

func decodeJSON(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Value{}, io.ErrUnexpectedEOF
		}
		return Value{}, err
	}
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		if !strings.ContainsAny(t.String(), ".eE") {
			if i, err := t.Int64(); err == nil {
				return Int(i), nil
			}
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, err
		}
		return Float(f), nil
	case json.Delim:
		switch t {
		case '[':
			var items []Value
			for dec.More() {
				it, err := decodeJSON(dec)
				if err != nil {
					return Value{}, err
				}
				items = append(items, it)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return List(items...), nil
		case '{':
			m := NewMap()
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := kt.(string)
				if !ok {
					return Value{}, fmt.Errorf("object key %v is not a string", kt)
				}
				val, err := decodeJSON(dec)
				if err != nil {
					return Value{}, err
				}
				m.Set(key, val)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return MapValue(m), nil
		}
	}
	return Value{}, fmt.Errorf("unexpected token %v", tok)
}
