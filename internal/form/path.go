package form

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/starford/folio/internal/meta"
)

// Segment is one step of a Path: a map key, or a list index when Key is
// empty.
type Segment struct {
	Key   string
	Index int
}

// IsIndex reports whether s addresses a list item.
func (s Segment) IsIndex() bool { return s.Key == "" }

// Key returns a key segment.
func Key(k string) Segment { return Segment{Key: k} }

// Index returns an index segment.
func Index(i int) Segment { return Segment{Index: i} }

// Path addresses a value inside a metadata map, e.g. author.links[0].
type Path []Segment

var errBadPath = errors.New("form: malformed path")

// ParsePath parses dotted keys with bracketed indexes.
func ParsePath(s string) (Path, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty", errBadPath)
	}
	var p Path
	i := 0
	expectKey := true
	for i < len(s) {
		switch s[i] {
		case '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("%w: unclosed index in %q", errBadPath, s)
			}
			n, err := strconv.Atoi(s[i+1 : i+end])
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%w: bad index in %q", errBadPath, s)
			}
			if len(p) == 0 {
				return nil, fmt.Errorf("%w: %q starts with an index", errBadPath, s)
			}
			p = append(p, Index(n))
			i += end + 1
			expectKey = false
		case '.':
			if expectKey {
				return nil, fmt.Errorf("%w: empty key in %q", errBadPath, s)
			}
			i++
			expectKey = true
		default:
			if !expectKey {
				return nil, fmt.Errorf("%w: missing separator in %q", errBadPath, s)
			}
			end := strings.IndexAny(s[i:], ".[")
			if end < 0 {
				end = len(s) - i
			}
			p = append(p, Key(s[i:i+end]))
			i += end
			expectKey = false
		}
	}
	if expectKey {
		return nil, fmt.Errorf("%w: trailing separator in %q", errBadPath, s)
	}
	return p, nil
}

func (p Path) String() string {
	var b strings.Builder
	for i, s := range p {
		if s.IsIndex() {
			fmt.Fprintf(&b, "[%d]", s.Index)
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(s.Key)
	}
	return b.String()
}

// Child returns p extended by s without aliasing p's backing array.
func (p Path) Child(s Segment) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, s)
}

// Lookup returns the value p addresses inside m.
func (p Path) Lookup(m *meta.Map) (meta.Value, bool) {
	if len(p) == 0 || p[0].IsIndex() {
		return meta.Value{}, false
	}
	v, ok := m.Get(p[0].Key)
	if !ok {
		return meta.Value{}, false
	}
	for _, seg := range p[1:] {
		switch {
		case seg.IsIndex():
			if v.Kind != meta.KindList || seg.Index >= len(v.List) {
				return meta.Value{}, false
			}
			v = v.List[seg.Index]
		case v.Kind == meta.KindMap:
			if v, ok = v.Map.Get(seg.Key); !ok {
				return meta.Value{}, false
			}
		default:
			return meta.Value{}, false
		}
	}
	return v, true
}
