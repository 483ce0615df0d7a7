// Package diag carries non-fatal diagnostics emitted by the schema parser,
// model builder, metadata codec and form validator.
package diag

import (
	"fmt"
	"strings"
)

// Severity ranks a diagnostic.
type Severity uint8

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInfo
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return "info"
	}
}

// MarshalText renders the severity by name for JSON payloads.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a severity name.
func (s *Severity) UnmarshalText(b []byte) error {
	switch string(b) {
	case "error":
		*s = SeverityError
	case "warning":
		*s = SeverityWarning
	case "info":
		*s = SeverityInfo
	default:
		return fmt.Errorf("diag: unknown severity %q", b)
	}
	return nil
}

// Span is a byte range in a source text. Line and Col are 1-based and
// describe Start.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
	Line  int `json:"line"`
	Col   int `json:"col"`
}

// NewSpan builds a Span over src[start:end] with its line/column resolved.
func NewSpan(src string, start, end int) *Span {
	line, col := Position(src, start)
	return &Span{Start: start, End: end, Line: line, Col: col}
}

// Position converts a byte offset into a 1-based line and column.
func Position(src string, offset int) (line, col int) {
	if offset > len(src) {
		offset = len(src)
	}
	if offset < 0 {
		offset = 0
	}
	line = 1 + strings.Count(src[:offset], "\n")
	lineStart := strings.LastIndexByte(src[:offset], '\n') + 1
	return line, offset - lineStart + 1
}

// Diagnostic is a (severity, message, span) record. Kind is one of the
// apperr taxonomy sentinels so callers can match with errors.Is.
type Diagnostic struct {
	Severity   Severity `json:"severity"`
	Kind       error    `json:"-"`
	Message    string   `json:"message"`
	Span       *Span    `json:"span,omitempty"`
	Collection string   `json:"collection,omitempty"`
	Field      string   `json:"field,omitempty"`
}

func (d Diagnostic) Error() string {
	var b strings.Builder
	if d.Span != nil {
		fmt.Fprintf(&b, "%d:%d: ", d.Span.Line, d.Span.Col)
	}
	if d.Collection != "" {
		b.WriteString(d.Collection)
		if d.Field != "" {
			b.WriteString(".")
			b.WriteString(d.Field)
		}
		b.WriteString(": ")
	}
	b.WriteString(d.Message)
	return b.String()
}

func (d Diagnostic) Unwrap() error { return d.Kind }

// List accumulates diagnostics in emission order.
type List []Diagnostic

// Add appends d.
func (l *List) Add(d Diagnostic) {
	*l = append(*l, d)
}

// Append appends every diagnostic of other.
func (l *List) Append(other List) {
	*l = append(*l, other...)
}

// Errorf records an error-severity diagnostic.
func (l *List) Errorf(kind error, span *Span, format string, args ...any) {
	l.Add(Diagnostic{Severity: SeverityError, Kind: kind, Span: span, Message: fmt.Sprintf(format, args...)})
}

// Warnf records a warning-severity diagnostic.
func (l *List) Warnf(kind error, span *Span, format string, args ...any) {
	l.Add(Diagnostic{Severity: SeverityWarning, Kind: kind, Span: span, Message: fmt.Sprintf(format, args...)})
}

// Infof records an info-severity diagnostic.
func (l *List) Infof(kind error, span *Span, format string, args ...any) {
	l.Add(Diagnostic{Severity: SeverityInfo, Kind: kind, Span: span, Message: fmt.Sprintf(format, args...)})
}

// HasErrors reports whether any diagnostic has error severity.
func (l List) HasErrors() bool {
	for _, d := range l {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Count returns the number of diagnostics with severity s.
func (l List) Count(s Severity) int {
	n := 0
	for _, d := range l {
		if d.Severity == s {
			n++
		}
	}
	return n
}

// ForCollection returns the diagnostics attributed to the named collection.
func (l List) ForCollection(name string) List {
	var out List
	for _, d := range l {
		if d.Collection == name {
			out = append(out, d)
		}
	}
	return out
}
