package form

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/folio/internal/apperr"
	"github.com/starford/folio/internal/frontmatter"
	"github.com/starford/folio/internal/meta"
	"github.com/starford/folio/internal/schema"
)

const articlesConfig = `
import { defineCollection, z } from 'astro:content';
const articles = defineCollection({
  schema: z.object({
    title: z.string(),
    tags: z.array(z.string()).optional().default([]),
    published: z.date().optional(),
  }),
});
export const collections = { articles };
`

func collection(t *testing.T, src, name string) *schema.Collection {
	t.Helper()
	p, _, err := schema.Build([]byte(src))
	require.NoError(t, err)
	c, ok := p.Collection(name)
	require.True(t, ok)
	return c
}

func mustPath(t *testing.T, s string) Path {
	t.Helper()
	p, err := ParsePath(s)
	require.NoError(t, err)
	return p
}

func TestSynthesize_Articles(t *testing.T) {
	coll := collection(t, articlesConfig, "articles")
	text := "---\ntitle: \"Hello\"\n---\nBody\n"
	doc, err := frontmatter.Decode(text)
	require.NoError(t, err)
	assert.Equal(t, []string{"title"}, doc.Meta.Keys())

	f := Synthesize(coll, doc.Meta, Policy{})
	require.Len(t, f.Fields, 3)

	title, tags, published := f.Fields[0], f.Fields[1], f.Fields[2]
	assert.Equal(t, meta.String("Hello"), title.Value)
	assert.True(t, title.Present)
	assert.Empty(t, title.Errors)

	assert.True(t, tags.Value.Equal(meta.List()))
	assert.False(t, tags.Present)
	assert.True(t, tags.Defaulted)

	assert.Equal(t, meta.String(""), published.Value)
	assert.False(t, published.Present)

	assert.True(t, f.Valid())
	out, err := f.ToMap(doc.Meta)
	require.NoError(t, err)
	assert.Equal(t, []string{"title"}, out.Keys())

	encoded, err := frontmatter.Codec{}.Encode(&frontmatter.Document{Meta: out, Body: doc.Body, HasBlock: true}, coll.FieldNames())
	require.NoError(t, err)
	assert.Equal(t, text, encoded)
}

func TestValidate_RequiredAbsent(t *testing.T) {
	coll := collection(t, articlesConfig, "articles")
	f := Synthesize(coll, meta.NewMap(), Policy{})

	errs := f.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "title", errs[0].Path)
	assert.Equal(t, RuleRequired, errs[0].Rule)
	assert.True(t, errs[0].Hard)
	assert.False(t, f.Valid())

	_, err := f.ToMap(meta.NewMap())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	require.NoError(t, f.Set(Path{Key("title")}, meta.String("Now set")))
	assert.True(t, f.Valid())
}

func TestSet_SlotsNewFieldBySchemaOrder(t *testing.T) {
	coll := collection(t, articlesConfig, "articles")
	doc, err := frontmatter.Decode("---\nlayout: post\npublished: 2024-01-01\ntitle: Hi\n---\n")
	require.NoError(t, err)

	f := Synthesize(coll, doc.Meta, Policy{})
	require.NoError(t, f.Set(mustPath(t, "tags"), meta.List(meta.String("go"))))

	out, err := f.ToMap(doc.Meta)
	require.NoError(t, err)
	// tags follows title, its closest preceding sibling; unknown layout stays first.
	assert.Equal(t, []string{"layout", "published", "title", "tags"}, out.Keys())
	published, _ := out.Get("published")
	assert.Equal(t, meta.KindDate, published.Kind)
}

func TestSet_CoercesStrings(t *testing.T) {
	coll := collection(t, `
export const collections = { c: defineCollection({ schema: z.object({
  n: z.number(), ok: z.boolean(), when: z.date(),
}) }) };`, "c")
	f := Synthesize(coll, meta.NewMap(), Policy{})
	require.NoError(t, f.Set(mustPath(t, "n"), meta.String("42")))
	require.NoError(t, f.Set(mustPath(t, "ok"), meta.String("true")))
	require.NoError(t, f.Set(mustPath(t, "when"), meta.String("2024-03-04")))
	assert.Empty(t, f.Errors())

	out, err := f.ToMap(nil)
	require.NoError(t, err)
	n, _ := out.Get("n")
	assert.Equal(t, meta.Int(42), n)
	when, _ := out.Get("when")
	assert.Equal(t, meta.Date("2024-03-04"), when)

	require.NoError(t, f.Set(mustPath(t, "n"), meta.String("many")))
	errs := f.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, RuleType, errs[0].Rule)
	assert.True(t, errs[0].Hard)
}

const nestedConfig = `
export const collections = {
  books: defineCollection({
    schema: z.object({
      title: z.string().max(10),
      rating: z.number().int().min(1).max(5).optional(),
      status: z.enum(["draft", "done"]),
      author: z.object({
        name: z.string(),
        links: z.array(z.string().url()).optional(),
      }),
    }),
  }),
};
`

func TestNestedEdits(t *testing.T) {
	coll := collection(t, nestedConfig, "books")
	doc, err := frontmatter.Decode("---\ntitle: T\nstatus: draft\nauthor:\n  name: Ann\n  links:\n    - https://a.example\n---\n")
	require.NoError(t, err)
	f := Synthesize(coll, doc.Meta, Policy{})
	require.Empty(t, f.Errors())

	st, ok := f.State(mustPath(t, "author.links[0]"))
	require.True(t, ok)
	assert.Equal(t, meta.String("https://a.example"), st.Value)

	idx, err := f.Append(mustPath(t, "author.links"))
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	require.NoError(t, f.Set(mustPath(t, "author.links[1]"), meta.String("not a url")))

	errs := f.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "author.links[1]", errs[0].Path)
	assert.Equal(t, RuleFormat, errs[0].Rule)
	assert.False(t, errs[0].Hard)

	// Soft failures do not block conversion.
	out, err := f.ToMap(doc.Meta)
	require.NoError(t, err)
	author, _ := out.Get("author")
	links, _ := author.Map.Get("links")
	assert.Len(t, links.List, 2)

	require.NoError(t, f.Remove(mustPath(t, "author.links[1]")))
	assert.Empty(t, f.Errors())

	require.NoError(t, f.Unset(mustPath(t, "author.links")))
	out, err = f.ToMap(doc.Meta)
	require.NoError(t, err)
	author, _ = out.Get("author")
	assert.Equal(t, []string{"name"}, author.Map.Keys())

	require.NoError(t, f.Unset(mustPath(t, "author.name")))
	errs = f.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "author.name", errs[0].Path)
	assert.Equal(t, RuleRequired, errs[0].Rule)
}

func TestConstraintPolicy(t *testing.T) {
	coll := collection(t, nestedConfig, "books")
	m := meta.NewMap()
	m.Set("title", meta.String("far too long a title"))
	m.Set("rating", meta.Int(0))
	m.Set("status", meta.String("done"))
	m.Set("author", meta.MapValue(func() *meta.Map {
		a := meta.NewMap()
		a.Set("name", meta.String("Bo"))
		return a
	}()))

	soft := Synthesize(coll, m, Policy{})
	rules := map[string]bool{}
	for _, e := range soft.Errors() {
		rules[e.Rule] = true
		assert.False(t, e.Hard, e.Path)
	}
	assert.Equal(t, map[string]bool{RuleMaxLength: true, RuleMin: true}, rules)
	assert.True(t, soft.Valid())

	strict := Synthesize(coll, m, Policy{StrictConstraints: true})
	assert.False(t, strict.Valid())
	_, err := strict.ToMap(m)
	assert.Error(t, err)
}

func TestValidate_EnumMembershipIsHard(t *testing.T) {
	coll := collection(t, nestedConfig, "books")
	m := meta.NewMap()
	m.Set("title", meta.String("ok"))
	m.Set("status", meta.String("archived"))
	m.Set("author", meta.MapValue(meta.NewMap()))
	f := Synthesize(coll, m, Policy{})

	var rules []string
	for _, e := range f.Errors() {
		rules = append(rules, e.Path+":"+e.Rule)
	}
	assert.ElementsMatch(t, []string{"status:enum", "author.name:required"}, rules)
}

func TestToMap_KeepsUnknownKeysAndUntouchedDefaults(t *testing.T) {
	coll := collection(t, articlesConfig, "articles")
	doc, err := frontmatter.Decode("---\ntitle: A\ncustom: [1, 2]\n---\n")
	require.NoError(t, err)
	f := Synthesize(coll, doc.Meta, Policy{})
	require.NoError(t, f.Set(mustPath(t, "title"), meta.String("B")))

	out, err := f.ToMap(doc.Meta)
	require.NoError(t, err)
	assert.Equal(t, []string{"title", "custom"}, out.Keys())
	custom, _ := out.Get("custom")
	assert.True(t, custom.Equal(meta.List(meta.Int(1), meta.Int(2))))
	assert.False(t, out.Has("tags"))

	// Unsetting an absent optional field is harmless.
	require.NoError(t, f.Unset(mustPath(t, "published")))
	out, err = f.ToMap(doc.Meta)
	require.NoError(t, err)
	assert.False(t, out.Has("published"))
}

func TestSynthesize_NilCollection(t *testing.T) {
	m := meta.NewMap()
	m.Set("x", meta.Int(1))
	f := Synthesize(nil, m, Policy{})
	assert.Empty(t, f.Fields)
	out, err := f.ToMap(m)
	require.NoError(t, err)
	assert.True(t, out.Equal(m))
}

func TestParsePath(t *testing.T) {
	p, err := ParsePath("author.links[0].href")
	require.NoError(t, err)
	assert.Equal(t, Path{Key("author"), Key("links"), Index(0), Key("href")}, p)
	assert.Equal(t, "author.links[0].href", p.String())

	for _, bad := range []string{"", ".a", "a.", "a..b", "[0]", "a[x]", "a[0]b", "a[1"} {
		_, err := ParsePath(bad)
		assert.Error(t, err, bad)
	}
}

func TestPathLookup(t *testing.T) {
	doc, err := frontmatter.Decode("---\ntitle: T\nauthor:\n  name: Ann\n  links:\n    - a\n    - b\n---\n")
	require.NoError(t, err)

	tests := []struct {
		path string
		want meta.Value
		ok   bool
	}{
		{"title", meta.String("T"), true},
		{"author.name", meta.String("Ann"), true},
		{"author.links[1]", meta.String("b"), true},
		{"author.links[2]", meta.Value{}, false},
		{"author.email", meta.Value{}, false},
		{"title.x", meta.Value{}, false},
		{"missing", meta.Value{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			v, ok := mustPath(t, tt.path).Lookup(doc.Meta)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, tt.want.Equal(v), "got %v", v.Any())
			}
		})
	}
}

func TestRebase_KeepsInvalidEdits(t *testing.T) {
	coll := collection(t, articlesConfig, "articles")
	base := meta.NewMap()
	base.Set("title", meta.String("Hello"))
	base.Set("extra", meta.Int(1))

	f := Synthesize(coll, base, Policy{})
	require.NoError(t, f.Set(mustPath(t, "tags"), meta.List(meta.String("go"))))
	require.NoError(t, f.Set(mustPath(t, "title"), meta.String("")))
	require.False(t, f.Valid())

	nf, m := f.Rebase(coll, base)
	assert.Equal(t, []string{"title", "tags", "extra"}, m.Keys())

	title, ok := nf.State(mustPath(t, "title"))
	require.True(t, ok)
	assert.True(t, title.Value.Equal(meta.String("")))
	assert.True(t, title.Touched)
	tags, ok := nf.State(mustPath(t, "tags"))
	require.True(t, ok)
	assert.True(t, tags.Value.Equal(meta.List(meta.String("go"))))
	assert.True(t, tags.Touched)
	assert.False(t, nf.Valid())

	require.NoError(t, nf.Set(mustPath(t, "title"), meta.String("Fixed")))
	out, err := nf.ToMap(m)
	require.NoError(t, err)
	v, _ := out.Get("title")
	assert.Equal(t, "Fixed", v.Str)

	// Without a schema the written metadata is kept as is.
	opaque, om := f.Rebase(nil, base)
	assert.Empty(t, opaque.Fields)
	assert.Equal(t, []string{"title", "tags", "extra"}, om.Keys())
}

func TestRebase_KeepsUnset(t *testing.T) {
	coll := collection(t, articlesConfig, "articles")
	base := meta.NewMap()
	base.Set("title", meta.String("Hello"))
	base.Set("published", meta.Date("2024-03-01"))

	f := Synthesize(coll, base, Policy{})
	require.NoError(t, f.Unset(mustPath(t, "published")))

	nf, m := f.Rebase(coll, base)
	assert.Equal(t, []string{"title"}, m.Keys())
	out, err := nf.ToMap(base)
	require.NoError(t, err)
	assert.Equal(t, []string{"title"}, out.Keys())
}

func TestValidate_BlankArrayItem(t *testing.T) {
	coll := collection(t, articlesConfig, "articles")
	m := meta.NewMap()
	m.Set("title", meta.String("Hello"))
	m.Set("tags", meta.List(meta.String("")))

	f := Synthesize(coll, m, Policy{})
	assert.Empty(t, f.Errors())
	assert.True(t, f.Valid())

	require.NoError(t, f.Set(mustPath(t, "tags[0]"), meta.Null()))
	errs := f.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, RuleRequired, errs[0].Rule)
	assert.Equal(t, "tags[0]", errs[0].Path)
	assert.False(t, f.Valid())
}
