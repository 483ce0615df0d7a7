package decl

// expr is a node of the declarative expression subset. Every node records
// the byte range it was parsed from.
type expr interface {
	span() (start, end int)
}

type pos struct{ start, end int }

func (p pos) span() (int, int) { return p.start, p.end }

type identExpr struct {
	pos
	name string
}

type stringExpr struct {
	pos
	value    string
	template bool // contains ${} substitutions
}

type numberExpr struct {
	pos
	text string
}

type boolExpr struct {
	pos
	value bool
}

type nullExpr struct {
	pos
}

type regexExpr struct {
	pos
	pattern string
	flags   string
}

type arrayExpr struct {
	pos
	elems []expr
}

type property struct {
	pos
	key       string
	value     expr
	spread    bool
	shorthand bool
}

type objectExpr struct {
	pos
	props []property
}

type memberExpr struct {
	pos
	x    expr
	name string
}

type indexExpr struct {
	pos
	x     expr
	index expr
}

type callExpr struct {
	pos
	fn   expr
	args []expr
}

type newExpr struct {
	pos
	x expr
}

type arrowExpr struct {
	pos
	body expr // nil when the block body has no return statement
}

type unaryExpr struct {
	pos
	op string
	x  expr
}

// opaqueExpr stands for source the subset does not model (function
// expressions, binary operators, ternaries). It is valid where the value is
// never inspected.
type opaqueExpr struct {
	pos
}

// path returns the dotted name of an identifier/member chain such as
// "z.coerce.date", or "" when x is not such a chain.
func path(x expr) string {
	switch e := x.(type) {
	case *identExpr:
		return e.name
	case *memberExpr:
		p := path(e.x)
		if p == "" {
			return ""
		}
		return p + "." + e.name
	}
	return ""
}
