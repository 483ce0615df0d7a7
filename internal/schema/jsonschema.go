package schema

// JSONSchema is a JSON Schema rendering of a collection or field, served to
// API and MCP clients so they can build their own editors.
type JSONSchema struct {
	Schema           string                 `json:"$schema,omitempty"`
	Title            string                 `json:"title,omitempty"`
	Description      string                 `json:"description,omitempty"`
	Type             string                 `json:"type,omitempty"`
	Format           string                 `json:"format,omitempty"`
	Enum             []string               `json:"enum,omitempty"`
	Items            *JSONSchema            `json:"items,omitempty"`
	Properties       map[string]*JSONSchema `json:"properties,omitempty"`
	Order            []string               `json:"x-order,omitempty"`
	Required         []string               `json:"required,omitempty"`
	Default          any                    `json:"default,omitempty"`
	Minimum          *float64               `json:"minimum,omitempty"`
	Maximum          *float64               `json:"maximum,omitempty"`
	ExclusiveMinimum *float64               `json:"exclusiveMinimum,omitempty"`
	ExclusiveMaximum *float64               `json:"exclusiveMaximum,omitempty"`
	MinLength        *int                   `json:"minLength,omitempty"`
	MaxLength        *int                   `json:"maxLength,omitempty"`
	MinItems         *int                   `json:"minItems,omitempty"`
	MaxItems         *int                   `json:"maxItems,omitempty"`
	Pattern          string                 `json:"pattern,omitempty"`
	Ref              string                 `json:"x-reference,omitempty"`
}

const draft = "https://json-schema.org/draft/2020-12/schema"

// JSONSchema renders the collection as an object schema. Property order is
// carried in x-order since JSON objects are unordered.
func (c *Collection) JSONSchema() *JSONSchema {
	s := objectSchema(c.Fields)
	s.Schema = draft
	s.Title = c.Name
	return s
}

func objectSchema(fields []Field) *JSONSchema {
	s := &JSONSchema{Type: "object", Properties: make(map[string]*JSONSchema, len(fields))}
	for i := range fields {
		f := &fields[i]
		s.Properties[f.Name] = f.JSONSchema()
		s.Order = append(s.Order, f.Name)
		if !f.Optional {
			s.Required = append(s.Required, f.Name)
		}
	}
	return s
}

// JSONSchema renders one field.
func (f *Field) JSONSchema() *JSONSchema {
	var s *JSONSchema
	c := f.Constraints
	switch f.Type.Kind {
	case KindObject:
		s = objectSchema(f.Type.Fields)
	case KindArray:
		s = &JSONSchema{Type: "array", MinItems: c.MinLength, MaxItems: c.MaxLength}
		if f.Type.Elem != nil {
			s.Items = f.Type.Elem.JSONSchema()
		}
	case KindEnum:
		s = &JSONSchema{Type: "string", Enum: f.Type.Values}
	case KindBoolean:
		s = &JSONSchema{Type: "boolean"}
	case KindDate:
		s = &JSONSchema{Type: "string", Format: "date"}
	case KindNumber:
		s = &JSONSchema{Type: "number"}
		if c.Int {
			s.Type = "integer"
		}
		if c.ExclusiveMin {
			s.ExclusiveMinimum = c.Min
		} else {
			s.Minimum = c.Min
		}
		if c.ExclusiveMax {
			s.ExclusiveMaximum = c.Max
		} else {
			s.Maximum = c.Max
		}
	default:
		s = &JSONSchema{Type: "string", Format: c.Format, MinLength: c.MinLength, MaxLength: c.MaxLength, Ref: c.Ref}
		if len(c.Patterns) == 1 {
			s.Pattern = c.Patterns[0]
		}
	}
	s.Description = f.Description
	if f.Default != nil {
		s.Default = f.Default.Any()
	}
	return s
}
