package form

import (
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/folio/internal/apperr"
	"github.com/starford/folio/internal/meta"
	"github.com/starford/folio/internal/schema"
)

// Policy decides which validation failures block saving. Required and type
// failures always do; constraint failures only when StrictConstraints is set.
type Policy struct {
	StrictConstraints bool
}

// ValidationError is one field-scoped failure.
type ValidationError struct {
	Path    string `json:"path"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
	Hard    bool   `json:"hard"`
}

func (e *ValidationError) Error() string {
	return e.Path + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return apperr.ErrValidation }

// Rule names.
const (
	RuleRequired  = "required"
	RuleType      = "type"
	RuleEnum      = "enum"
	RuleMinLength = "min_length"
	RuleMaxLength = "max_length"
	RuleMin       = "min"
	RuleMax       = "max"
	RuleInt       = "int"
	RulePattern   = "pattern"
	RuleFormat    = "format"
)

func (f *Form) validateState(st *FieldState) {
	st.Errors = nil
	fail := func(rule, msg string, hard bool) {
		st.Errors = append(st.Errors, ValidationError{Path: st.Path.String(), Rule: rule, Message: msg, Hard: hard})
	}

	v := st.Value
	absent := !st.Present && !st.Touched && !st.Defaulted
	blank := v.Kind == meta.KindNull
	if st.Name != "" {
		// An empty string only counts as missing for a named field. Array
		// items are checked against their element type instead.
		blank = blank || ((v.Kind == meta.KindString || v.Kind == meta.KindDate) && v.Str == "")
	}
	if !st.Field.Optional {
		if absent || blank {
			fail(RuleRequired, "is required", true)
			return
		}
	} else if absent || v.Kind == meta.KindNull {
		return
	}

	if msg, ok := typeCheck(st.Field, v); !ok {
		fail(RuleType, msg, true)
		return
	}
	if st.Field.Type.Kind == schema.KindEnum && !contains(st.Field.Type.Values, v.Str) {
		fail(RuleEnum, fmt.Sprintf("must be one of %v", st.Field.Type.Values), true)
		return
	}

	soft := !f.policy.StrictConstraints
	for _, ce := range constraintErrors(st.Field, v) {
		fail(ce.rule, ce.msg, !soft)
	}

	for _, it := range st.Items {
		f.validateState(it)
	}
	if v.Kind == meta.KindMap {
		for _, ch := range st.Children {
			f.validateState(ch)
		}
	}
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}

// typeCheck reports whether v has a representation compatible with field.
func typeCheck(field *schema.Field, v meta.Value) (string, bool) {
	want := field.Type.Kind
	ok := false
	switch want {
	case schema.KindString, schema.KindEnum:
		ok = v.Kind == meta.KindString || (want == schema.KindString && v.Kind == meta.KindDate)
	case schema.KindNumber:
		ok = v.IsNumber()
	case schema.KindBoolean:
		ok = v.Kind == meta.KindBool
	case schema.KindDate:
		if v.Kind == meta.KindDate {
			ok = true
		} else if v.Kind == meta.KindString {
			_, ok = meta.ParseDate(v.Str)
		}
	case schema.KindArray:
		ok = v.Kind == meta.KindList
	case schema.KindObject:
		ok = v.Kind == meta.KindMap
	}
	if ok {
		return "", true
	}
	return fmt.Sprintf("expected %s, got %s", field.Type, v.Kind), false
}

type constraintError struct {
	rule string
	msg  string
}

func constraintErrors(field *schema.Field, v meta.Value) []constraintError {
	c := field.Constraints
	var out []constraintError
	check := func(rule string, value any, r validation.Rule) {
		if err := validation.Validate(value, r); err != nil {
			out = append(out, constraintError{rule: rule, msg: err.Error()})
		}
	}

	switch v.Kind {
	case meta.KindString, meta.KindDate:
		s := v.Str
		if c.MinLength != nil || c.MaxLength != nil {
			check(lengthRule(c, utf8.RuneCountInString(s)), len(s), lengthBounds(c, utf8.RuneCountInString(s), "characters"))
		}
		for _, re := range c.Regexps() {
			check(RulePattern, s, validation.Match(re).Error("must match "+re.String()))
		}
		if r := formatRule(c.Format); r != nil {
			check(RuleFormat, s, r)
		}
	case meta.KindList:
		if c.MinLength != nil || c.MaxLength != nil {
			check(lengthRule(c, len(v.List)), len(v.List), lengthBounds(c, len(v.List), "items"))
		}
	case meta.KindInt, meta.KindFloat:
		n, _ := v.Number()
		if c.Int && n != math.Trunc(n) {
			out = append(out, constraintError{rule: RuleInt, msg: "must be an integer"})
		}
		if c.Min != nil || c.Max != nil {
			check(numberRule(c, n), n, numberBounds(c, n))
		}
	}
	return out
}

func lengthRule(c schema.Constraints, n int) string {
	if c.MinLength != nil && n < *c.MinLength {
		return RuleMinLength
	}
	return RuleMaxLength
}

// lengthBounds checks a precomputed length. ozzo's Length rule skips empty
// values, which would let an empty list pass a minimum.
func lengthBounds(c schema.Constraints, n int, unit string) validation.Rule {
	return validation.By(func(any) error {
		if c.MinLength != nil && n < *c.MinLength {
			return validation.NewError("validation_length_too_short", fmt.Sprintf("must have at least %d %s", *c.MinLength, unit))
		}
		if c.MaxLength != nil && n > *c.MaxLength {
			return validation.NewError("validation_length_too_long", fmt.Sprintf("must have at most %d %s", *c.MaxLength, unit))
		}
		return nil
	})
}

func numberRule(c schema.Constraints, n float64) string {
	if c.Min != nil && (n < *c.Min || (c.ExclusiveMin && n == *c.Min)) {
		return RuleMin
	}
	return RuleMax
}

// numberBounds checks numeric bounds. Zero is a value here, whereas ozzo's
// threshold rules treat it as empty.
func numberBounds(c schema.Constraints, n float64) validation.Rule {
	return validation.By(func(any) error {
		if c.Min != nil {
			if c.ExclusiveMin && n <= *c.Min {
				return validation.NewError("validation_min_greater_than_required", fmt.Sprintf("must be greater than %v", *c.Min))
			}
			if n < *c.Min {
				return validation.NewError("validation_min_greater_equal_than_required", fmt.Sprintf("must be no less than %v", *c.Min))
			}
		}
		if c.Max != nil {
			if c.ExclusiveMax && n >= *c.Max {
				return validation.NewError("validation_max_less_than_required", fmt.Sprintf("must be less than %v", *c.Max))
			}
			if n > *c.Max {
				return validation.NewError("validation_max_less_equal_than_required", fmt.Sprintf("must be no greater than %v", *c.Max))
			}
		}
		return nil
	})
}

func formatRule(format string) validation.Rule {
	switch format {
	case "email":
		return is.EmailFormat
	case "url":
		return is.URL
	case "uuid":
		return is.UUID
	case "ip":
		return is.IP
	case "date-time":
		return validation.Date(time.RFC3339)
	case "date":
		return validation.Date(time.DateOnly)
	case "time":
		return validation.Date(time.TimeOnly)
	}
	return nil
}
