package session

import (
	"github.com/starford/folio/internal/meta"
)

// mergeMaps combines mine and theirs against their common base. A key
// changed on one side only takes that side's value or absence; a key
// changed on both sides keeps mine. Keys follow mine's order, with keys
// only theirs added appended in theirs' order.
func mergeMaps(base, mine, theirs *meta.Map) *meta.Map {
	out := meta.NewMap()
	pick := func(key string) (meta.Value, bool) {
		b, inBase := base.Get(key)
		m, inMine := mine.Get(key)
		t, inTheirs := theirs.Get(key)
		mineSame := inMine == inBase && (!inMine || m.Equal(b))
		if mineSame {
			return t, inTheirs
		}
		return m, inMine
	}

	for _, f := range mine.Fields {
		if v, ok := pick(f.Key); ok {
			if kn, vn := f.Source(); kn != nil && v.Equal(f.Value) {
				out.SetWithSource(f.Key, v, kn, vn)
				continue
			}
			out.Set(f.Key, v)
		}
	}
	for _, f := range theirs.Fields {
		if out.Has(f.Key) || mine.Has(f.Key) {
			continue
		}
		if v, ok := pick(f.Key); ok {
			out.Set(f.Key, v)
		}
	}
	return out
}

// mergeBody keeps mine when the body was edited, theirs otherwise.
func mergeBody(base, mine, theirs string) string {
	if mine == base {
		return theirs
	}
	return mine
}
