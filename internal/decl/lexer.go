package decl

import (
	"fmt"
	"strings"
)

type tokenKind uint8

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokTemplate
	tokNumber
	tokRegex
	tokPunct
)

type token struct {
	kind  tokenKind
	text  string // identifier name, punctuation, number text, or unquoted string value
	flags string // regex flags
	start int
	end   int
	// bol is set when the token is the first on its line; col0 when it also
	// starts at column zero. Both drive statement-level error recovery.
	bol  bool
	col0 bool
}

func (t token) is(kind tokenKind, text string) bool {
	return t.kind == kind && t.text == text
}

func (t token) String() string {
	switch t.kind {
	case tokEOF:
		return "end of file"
	case tokString:
		return fmt.Sprintf("string %q", t.text)
	}
	return fmt.Sprintf("%q", t.text)
}

type lexError struct {
	msg   string
	start int
	end   int
}

// lex tokenizes JavaScript/TypeScript text. Comments are dropped. Lexing
// never stops early: malformed literals are reported and skipped.
func lex(src string) ([]token, []lexError) {
	l := &lexer{src: src, bol: true}
	l.run()
	return l.toks, l.errs
}

type lexer struct {
	src  string
	pos  int
	bol  bool
	toks []token
	errs []lexError
}

var multiPunct = []string{"...", "===", "!==", "=>", "?.", "??", "==", "!=", "<=", ">=", "&&", "||"}

func (l *lexer) run() {
	for {
		l.skipSpace()
		if l.pos >= len(l.src) {
			l.toks = append(l.toks, token{kind: tokEOF, start: l.pos, end: l.pos, bol: true, col0: true})
			return
		}
		start := l.pos
		bol := l.bol
		col0 := bol && (start == 0 || l.src[start-1] == '\n')
		l.bol = false
		c := l.src[l.pos]

		var tok token
		switch {
		case isIdentStart(c):
			for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
				l.pos++
			}
			tok = token{kind: tokIdent, text: l.src[start:l.pos]}
		case isDigit(c) || (c == '.' && l.pos+1 < len(l.src) && isDigit(l.src[l.pos+1])):
			l.lexNumber()
			tok = token{kind: tokNumber, text: strings.ReplaceAll(l.src[start:l.pos], "_", "")}
		case c == '"' || c == '\'':
			s, ok := l.lexQuoted(c)
			if !ok {
				l.errs = append(l.errs, lexError{msg: "unterminated string literal", start: start, end: l.pos})
			}
			tok = token{kind: tokString, text: s}
		case c == '`':
			s, subst, ok := l.lexTemplate()
			if !ok {
				l.errs = append(l.errs, lexError{msg: "unterminated template literal", start: start, end: l.pos})
			}
			kind := tokString
			if subst {
				kind = tokTemplate
			}
			tok = token{kind: kind, text: s}
		case c == '/' && l.regexAllowed():
			pattern, flags, ok := l.lexRegex()
			if !ok {
				l.errs = append(l.errs, lexError{msg: "unterminated regular expression", start: start, end: l.pos})
			}
			tok = token{kind: tokRegex, text: pattern, flags: flags}
		default:
			tok = token{kind: tokPunct, text: l.lexPunct()}
		}
		tok.start, tok.end, tok.bol, tok.col0 = start, l.pos, bol, col0
		l.toks = append(l.toks, tok)
	}
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == '\n':
			l.bol = true
			l.pos++
		case c == ' ' || c == '\t' || c == '\r' || c == '\f' || c == '\v':
			l.pos++
		case strings.HasPrefix(l.src[l.pos:], "\ufeff"):
			l.pos += len("\ufeff")
		case strings.HasPrefix(l.src[l.pos:], "//"):
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
		case strings.HasPrefix(l.src[l.pos:], "/*"):
			end := strings.Index(l.src[l.pos+2:], "*/")
			if end < 0 {
				l.errs = append(l.errs, lexError{msg: "unterminated block comment", start: l.pos, end: len(l.src)})
				l.pos = len(l.src)
				return
			}
			if strings.Contains(l.src[l.pos:l.pos+2+end], "\n") {
				l.bol = true
			}
			l.pos += end + 4
		default:
			return
		}
	}
}

func (l *lexer) lexNumber() {
	if strings.HasPrefix(l.src[l.pos:], "0x") || strings.HasPrefix(l.src[l.pos:], "0X") {
		l.pos += 2
		for l.pos < len(l.src) && (isHex(l.src[l.pos]) || l.src[l.pos] == '_') {
			l.pos++
		}
		return
	}
	for l.pos < len(l.src) && (isDigit(l.src[l.pos]) || l.src[l.pos] == '_' || l.src[l.pos] == '.') {
		l.pos++
	}
	if l.pos < len(l.src) && (l.src[l.pos] == 'e' || l.src[l.pos] == 'E') {
		l.pos++
		if l.pos < len(l.src) && (l.src[l.pos] == '+' || l.src[l.pos] == '-') {
			l.pos++
		}
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
		}
	}
	// BigInt suffix.
	if l.pos < len(l.src) && l.src[l.pos] == 'n' {
		l.pos++
	}
}

func (l *lexer) lexQuoted(q byte) (string, bool) {
	l.pos++
	var b strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == q:
			l.pos++
			return b.String(), true
		case c == '\n':
			return b.String(), false
		case c == '\\' && l.pos+1 < len(l.src):
			l.pos++
			b.WriteString(unescape(l.src[l.pos]))
			l.pos++
		default:
			b.WriteByte(c)
			l.pos++
		}
	}
	return b.String(), false
}

func (l *lexer) lexTemplate() (string, bool, bool) {
	l.pos++
	var b strings.Builder
	subst := false
	depth := 0
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case depth == 0 && c == '`':
			l.pos++
			return b.String(), subst, true
		case depth == 0 && c == '\\' && l.pos+1 < len(l.src):
			l.pos++
			b.WriteString(unescape(l.src[l.pos]))
			l.pos++
		case c == '$' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '{':
			subst = true
			depth++
			b.WriteString("${")
			l.pos += 2
		case depth > 0 && c == '}':
			depth--
			b.WriteByte(c)
			l.pos++
		default:
			b.WriteByte(c)
			l.pos++
		}
	}
	return b.String(), subst, false
}

// regexAllowed decides whether '/' starts a regular expression literal by
// looking at the previous significant token.
func (l *lexer) regexAllowed() bool {
	if len(l.toks) == 0 {
		return true
	}
	prev := l.toks[len(l.toks)-1]
	switch prev.kind {
	case tokPunct:
		switch prev.text {
		case ")", "]", "}":
			return false
		}
		return true
	case tokIdent:
		switch prev.text {
		case "return", "typeof", "case", "in", "of", "new", "delete", "void", "throw":
			return true
		}
	}
	return false
}

func (l *lexer) lexRegex() (string, string, bool) {
	l.pos++
	start := l.pos
	inClass := false
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == '\n':
			return l.src[start:l.pos], "", false
		case c == '\\':
			l.pos += 2
			continue
		case c == '[':
			inClass = true
		case c == ']':
			inClass = false
		case c == '/' && !inClass:
			pattern := l.src[start:l.pos]
			l.pos++
			fstart := l.pos
			for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
				l.pos++
			}
			return pattern, l.src[fstart:l.pos], true
		}
		l.pos++
	}
	if l.pos > len(l.src) {
		l.pos = len(l.src)
	}
	return l.src[start:l.pos], "", false
}

func (l *lexer) lexPunct() string {
	rest := l.src[l.pos:]
	for _, p := range multiPunct {
		if strings.HasPrefix(rest, p) {
			// "?." followed by a digit is a ternary, not optional chaining.
			if p == "?." && len(rest) > 2 && isDigit(rest[2]) {
				continue
			}
			l.pos += len(p)
			return p
		}
	}
	l.pos++
	return rest[:1]
}

func unescape(c byte) string {
	switch c {
	case 'n':
		return "\n"
	case 't':
		return "\t"
	case 'r':
		return "\r"
	case '0':
		return "\x00"
	}
	return string(c)
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHex(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
