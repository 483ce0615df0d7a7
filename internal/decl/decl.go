// Package decl extracts content collection declarations from a project's
// TypeScript/JavaScript configuration source without evaluating it.
//
// The understood subset is the declarative shape of a content config:
//
//	import { defineCollection, z } from 'astro:content';
//
//	const blog = defineCollection({
//		type: 'content',
//		schema: ({ image }) => z.object({
//			title: z.string().max(120),
//			tags: z.array(z.string()).optional().default([]),
//			cover: image().optional(),
//			status: z.enum(['draft', 'live']),
//		}),
//	});
//
//	export const collections = { blog };
//
// Anything else in the file is skipped. Shapes that are recognized but not
// understood produce diagnostics instead of failing the parse.
package decl

import (
	"strings"
	"unicode/utf8"

	"github.com/starford/folio/internal/apperr"
	"github.com/starford/folio/internal/diag"
)

// Result is the outcome of parsing one configuration source.
type Result struct {
	Collections []Collection
	Diagnostics diag.List
}

// Collection is one declared collection with its raw field descriptors.
type Collection struct {
	Name   string
	Type   string // "content", "data" or "" when unspecified
	Loader *Loader
	Fields []Field
	Span   *diag.Span
}

// Loader describes a glob()/file() loader whose arguments are literals.
type Loader struct {
	Kind    string
	Pattern string
	Base    string
}

// Field is a raw field descriptor: the constructor that declared it plus
// the modifiers chained after it, in source order.
type Field struct {
	Name string
	// Type is the constructor name: string, number, boolean, date, enum,
	// nativeEnum, literal, array, object, image, reference, bigint.
	Type       string
	Coerce     bool
	Args       []Literal
	Elem       *Field
	Fields     []Field
	EnumValues []Literal
	Modifiers  []Modifier
	Span       *diag.Span
}

// Modifier is one chained call such as .optional() or .default([]).
type Modifier struct {
	Name string
	Args []Literal
	Span *diag.Span
}

// LiteralKind distinguishes literal argument shapes.
type LiteralKind uint8

const (
	LitOther LiteralKind = iota
	LitString
	LitNumber
	LitBool
	LitNull
	LitArray
	LitObject
	LitRegex
)

// Literal is a constant argument. Non-constant arguments are LitOther with
// their source text kept in Text.
type Literal struct {
	Kind  LiteralKind
	Str   string
	Num   float64
	Bool  bool
	Items []Literal
	Props []Prop
	Flags string
	Text  string
	Span  *diag.Span
}

// Prop is one key of an object literal.
type Prop struct {
	Key   string
	Value Literal
}

// Parse parses configuration source text. Only input that is not text at
// all is rejected; every other problem becomes a diagnostic.
func Parse(src []byte) (*Result, error) {
	if !utf8.Valid(src) || strings.IndexByte(string(src), 0) >= 0 {
		return nil, apperr.ErrUnreadableInput
	}
	text := string(src)
	res := &Result{}

	toks, lexErrs := lex(text)
	for _, e := range lexErrs {
		res.Diagnostics.Warnf(apperr.ErrSchemaParse, diag.NewSpan(text, e.start, e.end), "%s", e.msg)
	}

	bindings := parseProgram(text, toks)
	r := newResolver(text, bindings, &res.Diagnostics)
	res.Collections = r.collections()
	return res, nil
}
