package decl

import (
	"fmt"
)

type parseError struct {
	msg   string
	start int
	end   int
}

func (e *parseError) Error() string { return e.msg }

// binding is a top-level `const NAME = expr` declaration.
type binding struct {
	name     string
	x        expr
	start    int
	end      int
	exported bool
	// err is set when the initializer could not be parsed; collectionLike
	// records whether the failed source mentioned defineCollection.
	err            *parseError
	collectionLike bool
}

type parser struct {
	src  string
	toks []token
	i    int
}

// parseProgram scans top-level statements and records every binding. A
// statement that fails to parse is skipped up to the next statement keyword
// at column zero, so one malformed declaration leaves the rest intact.
func parseProgram(src string, toks []token) []*binding {
	p := &parser{src: src, toks: toks}
	var out []*binding
	for p.peek().kind != tokEOF {
		t := p.peek()
		switch {
		case t.is(tokIdent, "import"):
			p.skipImport()
		case t.is(tokIdent, "export"):
			p.next()
			nt := p.peek()
			switch {
			case nt.is(tokIdent, "const"), nt.is(tokIdent, "let"), nt.is(tokIdent, "var"):
				if b := p.parseBinding(); b != nil {
					b.exported = true
					out = append(out, b)
				}
			case nt.is(tokIdent, "default"):
				p.next()
				p.skipStatement()
			default:
				p.skipStatement()
			}
		case t.is(tokIdent, "const"), t.is(tokIdent, "let"), t.is(tokIdent, "var"):
			if b := p.parseBinding(); b != nil {
				out = append(out, b)
			}
		case t.is(tokPunct, ";"):
			p.next()
		default:
			p.skipStatement()
		}
	}
	return out
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) peekAt(n int) token {
	if p.i+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.i+n]
}

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) errorf(t token, format string, args ...any) *parseError {
	return &parseError{msg: fmt.Sprintf(format, args...), start: t.start, end: t.end}
}

func (p *parser) expect(text string) (token, *parseError) {
	t := p.peek()
	if !t.is(tokPunct, text) {
		return t, p.errorf(t, "expected %q, found %s", text, t)
	}
	return p.next(), nil
}

func isStatementKeyword(t token) bool {
	if t.kind != tokIdent {
		return false
	}
	switch t.text {
	case "const", "let", "var", "export", "import", "function", "type", "interface":
		return true
	}
	return false
}

// skipStatement advances past the current statement: to a ';' at bracket
// depth zero, or to the next statement keyword at column zero.
func (p *parser) skipStatement() {
	depth := 0
	first := true
	for {
		t := p.peek()
		if t.kind == tokEOF {
			return
		}
		if !first && t.col0 && isStatementKeyword(t) {
			return
		}
		first = false
		p.next()
		if t.kind != tokPunct {
			continue
		}
		switch t.text {
		case "(", "[", "{":
			depth++
		case ")", "]", "}":
			if depth > 0 {
				depth--
			}
		case ";":
			if depth == 0 {
				return
			}
		}
	}
}

func (p *parser) skipImport() {
	p.next()
	for {
		t := p.peek()
		if t.kind == tokEOF {
			return
		}
		if t.kind == tokString {
			p.next()
			if p.peek().is(tokPunct, ";") {
				p.next()
			}
			return
		}
		if t.col0 && isStatementKeyword(t) {
			return
		}
		p.next()
	}
}

func (p *parser) parseBinding() *binding {
	start := p.next().start
	nameTok := p.peek()
	if nameTok.kind != tokIdent {
		// Destructuring declarations bind nothing we can name.
		p.skipStatement()
		return nil
	}
	p.next()
	b := &binding{name: nameTok.text, start: start}

	if p.peek().is(tokPunct, ":") {
		p.next()
		p.skipType("=")
	}
	if _, err := p.expect("="); err != nil {
		return p.failBinding(b, start, err)
	}
	x, err := p.parseExpr()
	if err != nil {
		return p.failBinding(b, start, err)
	}
	t := p.peek()
	switch {
	case t.is(tokPunct, ";"):
		p.next()
	case t.kind == tokEOF, t.bol:
	default:
		return p.failBinding(b, start, p.errorf(t, "unexpected %s after declaration of %s", t, b.name))
	}
	b.x = x
	_, b.end = x.span()
	return b
}

func (p *parser) failBinding(b *binding, start int, err *parseError) *binding {
	b.err = err
	p.skipStatement()
	end := p.peek().start
	if p.i > 0 {
		end = p.toks[p.i-1].end
	}
	b.end = end
	for _, t := range p.toks {
		if t.start >= start && t.end <= end && t.is(tokIdent, "defineCollection") {
			b.collectionLike = true
			break
		}
	}
	return b
}

// skipType skips a TypeScript type annotation up to one of the stop
// punctuators at depth zero.
func (p *parser) skipType(stops ...string) {
	depth := 0
	for {
		t := p.peek()
		if t.kind == tokEOF {
			return
		}
		if t.kind == tokPunct {
			if depth == 0 {
				for _, s := range stops {
					if t.text == s {
						return
					}
				}
			}
			switch t.text {
			case "(", "[", "{", "<":
				depth++
			case ")", "]", "}", ">":
				if depth == 0 {
					return
				}
				depth--
			}
		}
		if depth == 0 && t.bol && isStatementKeyword(t) {
			return
		}
		p.next()
	}
}

// matchClose returns the index of the token closing the bracket at index i.
func (p *parser) matchClose(i int) int {
	depth := 0
	for j := i; j < len(p.toks); j++ {
		t := p.toks[j]
		if t.kind != tokPunct {
			continue
		}
		switch t.text {
		case "(", "[", "{":
			depth++
		case ")", "]", "}":
			depth--
			if depth == 0 {
				return j
			}
		}
	}
	return -1
}

func (p *parser) parseExpr() (expr, *parseError) {
	x, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		switch {
		case t.is(tokIdent, "as"), t.is(tokIdent, "satisfies"):
			p.next()
			p.skipType(",", ";", ")", "]", "}")
			continue
		case t.kind == tokPunct && isBinaryOp(t.text):
			start, _ := x.span()
			end := p.skipOperand()
			return &opaqueExpr{pos{start, end}}, nil
		}
		return x, nil
	}
}

func isBinaryOp(s string) bool {
	switch s {
	case "+", "-", "*", "/", "%", "||", "&&", "??", "==", "===", "!=", "!==", "<", ">", "<=", ">=", "?", "|", "&", "^":
		return true
	}
	return false
}

// skipOperand consumes the remainder of an expression the subset does not
// model, stopping at a separator at depth zero.
func (p *parser) skipOperand() int {
	depth := 0
	end := p.peek().start
	for {
		t := p.peek()
		if t.kind == tokEOF {
			return end
		}
		if t.kind == tokPunct {
			switch t.text {
			case "(", "[", "{":
				depth++
			case ")", "]", "}":
				if depth == 0 {
					return end
				}
				depth--
			case ",", ";":
				if depth == 0 {
					return end
				}
			}
		}
		if depth == 0 && t.col0 && isStatementKeyword(t) {
			return end
		}
		end = p.next().end
	}
}

func (p *parser) parseUnary() (expr, *parseError) {
	t := p.peek()
	if t.kind == tokPunct && (t.text == "-" || t.text == "+" || t.text == "!" || t.text == "...") {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		_, end := x.span()
		return &unaryExpr{pos: pos{t.start, end}, op: t.text, x: x}, nil
	}
	if t.is(tokIdent, "typeof") || t.is(tokIdent, "await") || t.is(tokIdent, "void") {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		_, end := x.span()
		return &opaqueExpr{pos{t.start, end}}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (expr, *parseError) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		start, _ := x.span()
		switch {
		case t.is(tokPunct, ".") || t.is(tokPunct, "?."):
			p.next()
			name := p.peek()
			switch {
			case name.kind == tokIdent:
				p.next()
				x = &memberExpr{pos: pos{start, name.end}, x: x, name: name.text}
			case t.text == "?." && name.is(tokPunct, "("):
				// optional call f?.(...) is handled by the call branch.
			default:
				return nil, p.errorf(name, "expected property name after %q, found %s", t.text, name)
			}
		case t.is(tokPunct, "("):
			args, end, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			x = &callExpr{pos: pos{start, end}, fn: x, args: args}
		case t.is(tokPunct, "["):
			p.next()
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			closeTok, err := p.expect("]")
			if err != nil {
				return nil, err
			}
			x = &indexExpr{pos: pos{start, closeTok.end}, x: x, index: idx}
		case t.is(tokPunct, "!") && !p.peekAt(1).is(tokPunct, "="):
			// TypeScript non-null assertion.
			p.next()
		case t.is(tokPunct, "<") && p.genericCall():
			// Explicit type arguments: f<T>(...).
			p.next()
			p.skipType(">")
			if _, err := p.expect(">"); err != nil {
				return nil, err
			}
		default:
			return x, nil
		}
	}
}

// genericCall reports whether the '<' at the cursor opens type arguments
// directly followed by a call.
func (p *parser) genericCall() bool {
	depth := 0
	for j := p.i; j < len(p.toks) && j < p.i+64; j++ {
		t := p.toks[j]
		if t.kind == tokEOF || t.is(tokPunct, ";") {
			return false
		}
		switch {
		case t.is(tokPunct, "<"):
			depth++
		case t.is(tokPunct, ">"):
			depth--
			if depth == 0 {
				return j+1 < len(p.toks) && p.toks[j+1].is(tokPunct, "(")
			}
		}
	}
	return false
}

func (p *parser) parseArgs() ([]expr, int, *parseError) {
	p.next()
	var args []expr
	for {
		t := p.peek()
		if t.is(tokPunct, ")") {
			p.next()
			return args, t.end, nil
		}
		x, err := p.parseExpr()
		if err != nil {
			return nil, 0, err
		}
		args = append(args, x)
		t = p.peek()
		switch {
		case t.is(tokPunct, ","):
			p.next()
		case t.is(tokPunct, ")"):
		default:
			return nil, 0, p.errorf(t, "expected \",\" or \")\" in argument list, found %s", t)
		}
	}
}

func (p *parser) parsePrimary() (expr, *parseError) {
	t := p.peek()
	ps := pos{t.start, t.end}
	switch t.kind {
	case tokEOF:
		return nil, p.errorf(t, "unexpected end of file")
	case tokString:
		p.next()
		return &stringExpr{pos: ps, value: t.text}, nil
	case tokTemplate:
		p.next()
		return &stringExpr{pos: ps, value: t.text, template: true}, nil
	case tokNumber:
		p.next()
		return &numberExpr{pos: ps, text: t.text}, nil
	case tokRegex:
		p.next()
		return &regexExpr{pos: ps, pattern: t.text, flags: t.flags}, nil
	case tokIdent:
		return p.parseIdentPrimary()
	}
	switch t.text {
	case "(":
		if p.isArrow() {
			return p.parseArrow()
		}
		p.next()
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(")"); err != nil {
			return nil, err
		}
		return x, nil
	case "[":
		return p.parseArray()
	case "{":
		return p.parseObject()
	case "<":
		// Generic arrow function: <T>(x: T) => ...
		p.next()
		p.skipType(">")
		if _, err := p.expect(">"); err != nil {
			return nil, err
		}
		if p.isArrow() {
			return p.parseArrow()
		}
	}
	return nil, p.errorf(t, "unexpected %s", t)
}

func (p *parser) parseIdentPrimary() (expr, *parseError) {
	t := p.next()
	ps := pos{t.start, t.end}
	switch t.text {
	case "true", "false":
		return &boolExpr{pos: ps, value: t.text == "true"}, nil
	case "null", "undefined":
		return &nullExpr{pos: ps}, nil
	case "new":
		x, err := p.parsePostfix()
		if err != nil {
			return nil, err
		}
		_, end := x.span()
		return &newExpr{pos: pos{t.start, end}, x: x}, nil
	case "async":
		if p.peek().is(tokPunct, "(") || (p.peek().kind == tokIdent && p.peekAt(1).is(tokPunct, "=>")) {
			return p.parsePrimary()
		}
	case "function":
		return p.skipFunction(t)
	}
	if p.peek().is(tokPunct, "=>") {
		p.next()
		return p.parseArrowBody(t.start)
	}
	return &identExpr{pos: ps, name: t.text}, nil
}

func (p *parser) skipFunction(start token) (expr, *parseError) {
	for p.peek().kind != tokEOF && !p.peek().is(tokPunct, "{") {
		if p.peek().is(tokPunct, "(") {
			end := p.matchClose(p.i)
			if end < 0 {
				return nil, p.errorf(p.peek(), "unbalanced parameter list")
			}
			p.i = end
		}
		p.next()
	}
	open := p.i
	end := p.matchClose(open)
	if end < 0 {
		return nil, p.errorf(p.peek(), "unbalanced function body")
	}
	p.i = end + 1
	return &opaqueExpr{pos{start.start, p.toks[end].end}}, nil
}

// isArrow reports whether the '(' at the cursor opens an arrow function's
// parameter list.
func (p *parser) isArrow() bool {
	end := p.matchClose(p.i)
	if end < 0 || end+1 >= len(p.toks) {
		return false
	}
	after := p.toks[end+1]
	if after.is(tokPunct, "=>") {
		return true
	}
	if after.is(tokPunct, ":") {
		// Return type annotation: (x): T => ...
		for j := end + 2; j < len(p.toks) && j < end+64; j++ {
			if p.toks[j].is(tokPunct, "=>") {
				return true
			}
			if p.toks[j].is(tokPunct, ";") || p.toks[j].is(tokPunct, ",") {
				return false
			}
		}
	}
	return false
}

func (p *parser) parseArrow() (expr, *parseError) {
	start := p.peek().start
	end := p.matchClose(p.i)
	p.i = end + 1
	if p.peek().is(tokPunct, ":") {
		p.next()
		p.skipType("=>")
	}
	if _, err := p.expect("=>"); err != nil {
		return nil, err
	}
	return p.parseArrowBody(start)
}

func (p *parser) parseArrowBody(start int) (expr, *parseError) {
	if !p.peek().is(tokPunct, "{") {
		body, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		_, end := body.span()
		return &arrowExpr{pos: pos{start, end}, body: body}, nil
	}
	open := p.i
	closeIdx := p.matchClose(open)
	if closeIdx < 0 {
		return nil, p.errorf(p.peek(), "unbalanced arrow function body")
	}
	arrow := &arrowExpr{pos: pos{start, p.toks[closeIdx].end}}
	depth := 0
	for j := open + 1; j < closeIdx; j++ {
		t := p.toks[j]
		if t.kind == tokPunct {
			switch t.text {
			case "(", "[", "{":
				depth++
			case ")", "]", "}":
				depth--
			}
			continue
		}
		if depth == 0 && t.is(tokIdent, "return") {
			p.i = j + 1
			body, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			arrow.body = body
			break
		}
	}
	p.i = closeIdx + 1
	return arrow, nil
}

func (p *parser) parseArray() (expr, *parseError) {
	open := p.next()
	arr := &arrayExpr{}
	for {
		t := p.peek()
		if t.is(tokPunct, "]") {
			p.next()
			arr.pos = pos{open.start, t.end}
			return arr, nil
		}
		if t.is(tokPunct, ",") {
			// Elision.
			p.next()
			continue
		}
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		arr.elems = append(arr.elems, x)
		t = p.peek()
		switch {
		case t.is(tokPunct, ","):
			p.next()
		case t.is(tokPunct, "]"):
		default:
			return nil, p.errorf(t, "expected \",\" or \"]\" in array literal, found %s", t)
		}
	}
}

func (p *parser) parseObject() (expr, *parseError) {
	open := p.next()
	obj := &objectExpr{}
	for {
		t := p.peek()
		if t.is(tokPunct, "}") {
			p.next()
			obj.pos = pos{open.start, t.end}
			return obj, nil
		}
		prop, err := p.parseProperty()
		if err != nil {
			return nil, err
		}
		if prop != nil {
			obj.props = append(obj.props, *prop)
		}
		t = p.peek()
		switch {
		case t.is(tokPunct, ","):
			p.next()
		case t.is(tokPunct, "}"):
		default:
			return nil, p.errorf(t, "expected \",\" or \"}\" in object literal, found %s", t)
		}
	}
}

func (p *parser) parseProperty() (*property, *parseError) {
	t := p.peek()
	if t.is(tokPunct, "...") {
		p.next()
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		_, end := x.span()
		return &property{pos: pos{t.start, end}, value: x, spread: true}, nil
	}

	var key string
	switch t.kind {
	case tokIdent, tokString, tokNumber:
		key = t.text
		p.next()
	case tokPunct:
		if t.text != "[" {
			return nil, p.errorf(t, "expected property name, found %s", t)
		}
		// Computed key: skipped along with its value.
		end := p.matchClose(p.i)
		if end < 0 {
			return nil, p.errorf(t, "unbalanced computed property name")
		}
		p.i = end + 1
		if _, err := p.expect(":"); err != nil {
			return nil, err
		}
		if _, err := p.parseExpr(); err != nil {
			return nil, err
		}
		return nil, nil
	default:
		return nil, p.errorf(t, "expected property name, found %s", t)
	}

	// Optional-property marker in TS object types never appears in values,
	// but method shorthand does.
	next := p.peek()
	switch {
	case next.is(tokPunct, ":"):
		p.next()
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		_, end := x.span()
		return &property{pos: pos{t.start, end}, key: key, value: x}, nil
	case next.is(tokPunct, "(") && t.kind == tokIdent:
		x, err := p.skipFunction(t)
		if err != nil {
			return nil, err
		}
		_, end := x.span()
		return &property{pos: pos{t.start, end}, key: key, value: x}, nil
	case (next.is(tokPunct, ",") || next.is(tokPunct, "}")) && t.kind == tokIdent:
		return &property{
			pos:       pos{t.start, t.end},
			key:       key,
			value:     &identExpr{pos: pos{t.start, t.end}, name: key},
			shorthand: true,
		}, nil
	}
	return nil, p.errorf(next, "expected \":\" after property %q, found %s", key, next)
}
