// Package frontmatter splits a document into its YAML metadata block and
// body, and joins them back without disturbing what was not edited.
package frontmatter

import (
	"bytes"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/folio/internal/apperr"
	"github.com/starford/folio/internal/meta"
)

const (
	delim    = "---"
	altClose = "..."
	bom      = "\ufeff"
)

// Order selects how encode arranges keys.
type Order uint8

const (
	// OrderSource keeps the map's own order. Decoded keys stay where the
	// document had them.
	OrderSource Order = iota
	// OrderSchema writes known fields in declaration order followed by
	// the remaining keys in their relative order.
	OrderSchema
)

// ParseOrder maps a configuration value to an Order.
func ParseOrder(s string) (Order, error) {
	switch s {
	case "", "source":
		return OrderSource, nil
	case "schema":
		return OrderSchema, nil
	}
	return OrderSource, fmt.Errorf("frontmatter: unknown field order %q", s)
}

// Document is a decoded document.
type Document struct {
	Meta *meta.Map
	Body string
	// HasBlock is true when the text carried a metadata block, even an
	// empty one.
	HasBlock bool
	// Unknown lists keys absent from the schema, in document order.
	Unknown []string

	bom     bool
	newline string
	closer  string
}

// DecodeError reports a metadata block that could not be decoded. Start and
// End are byte offsets into the full document text; Line is 1-based.
type DecodeError struct {
	Start  int
	End    int
	Line   int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("frontmatter: line %d: %s", e.Line, e.Reason)
}

func (e *DecodeError) Unwrap() error { return apperr.ErrMetadataDecode }

// Codec decodes and encodes documents under one ordering policy.
type Codec struct {
	Order Order
}

// Decode decodes text with the default codec and no schema.
func Decode(text string) (*Document, error) {
	return Codec{}.Decode(text, nil)
}

// Encode joins m and body with the default codec.
func Encode(m *meta.Map, body string, fields []string) (string, error) {
	return Codec{}.Encode(&Document{Meta: m, Body: body}, fields)
}

// Decode splits text and decodes its metadata block. Keys missing from
// known are listed in Document.Unknown; a nil known reports none.
//
// On a *DecodeError the returned Document is still usable: its Meta is
// empty and its Body is the full original text.
func (c Codec) Decode(text string, known []string) (*Document, error) {
	doc := &Document{Meta: meta.NewMap(), Body: text, newline: "\n", closer: delim}

	rest := text
	offset := 0
	hasBOM := strings.HasPrefix(rest, bom)
	if hasBOM {
		rest = rest[len(bom):]
		offset = len(bom)
	}

	first, n, ok := nextLine(rest)
	if !ok || strings.TrimRight(first, " \t") != delim {
		return doc, nil
	}
	if strings.HasSuffix(rest[:n], "\r\n") {
		doc.newline = "\r\n"
	}
	blockStart := offset + n

	// Find the closing delimiter line.
	pos := blockStart
	closeStart, closeEnd := -1, -1
	var closer string
	for pos < len(text) {
		line, ln, _ := nextLine(text[pos:])
		trimmed := strings.TrimRight(line, " \t")
		if trimmed == delim || trimmed == altClose {
			closeStart, closeEnd, closer = pos, pos+ln, trimmed
			break
		}
		pos += ln
	}
	if closeStart < 0 {
		return doc, &DecodeError{Start: 0, End: len(text), Line: 1, Reason: "metadata block has no closing delimiter"}
	}

	block := strings.ReplaceAll(text[blockStart:closeStart], "\r\n", "\n")
	m, err := decodeBlock(block)
	if err != nil {
		return doc, blockError(text, blockStart, closeStart, err)
	}

	doc.Meta = m
	doc.Body = text[closeEnd:]
	doc.HasBlock = true
	doc.bom = hasBOM
	doc.closer = closer
	if known != nil {
		doc.Unknown = unknownKeys(m, known)
	}
	return doc, nil
}

// nextLine returns the first line of s without its terminator and the
// number of bytes consumed including the terminator.
func nextLine(s string) (string, int, bool) {
	if s == "" {
		return "", 0, false
	}
	i := strings.IndexByte(s, '\n')
	if i < 0 {
		return strings.TrimSuffix(s, "\r"), len(s), true
	}
	return strings.TrimSuffix(s[:i], "\r"), i + 1, true
}

func unknownKeys(m *meta.Map, known []string) []string {
	set := make(map[string]bool, len(known))
	for _, k := range known {
		set[k] = true
	}
	var out []string
	for _, k := range m.Keys() {
		if !set[k] {
			out = append(out, k)
		}
	}
	return out
}

type blockErr struct {
	line   int // 1-based within the block, 0 when unknown
	reason string
}

func (e *blockErr) Error() string { return e.reason }

var yamlLineRe = regexp.MustCompile(`line (\d+): (.*)`)

// blockError positions err inside the full text.
func blockError(text string, blockStart, blockEnd int, err error) *DecodeError {
	line, reason := 0, err.Error()
	if be, ok := err.(*blockErr); ok {
		line, reason = be.line, be.reason
	} else if m := yamlLineRe.FindStringSubmatch(reason); m != nil {
		line, _ = strconv.Atoi(m[1])
		reason = m[2]
	} else {
		reason = strings.TrimPrefix(reason, "yaml: ")
	}

	startLine := 1 + strings.Count(text[:blockStart], "\n")
	if line <= 0 {
		return &DecodeError{Start: blockStart, End: blockEnd, Line: startLine, Reason: reason}
	}

	// Walk to the offending line, clamped to the block.
	start := blockStart
	for i := 1; i < line; i++ {
		j := strings.IndexByte(text[start:blockEnd], '\n')
		if j < 0 {
			break
		}
		start += j + 1
	}
	end := blockEnd
	if j := strings.IndexByte(text[start:blockEnd], '\n'); j >= 0 {
		end = start + j
	}
	return &DecodeError{Start: start, End: end, Line: startLine + line - 1, Reason: reason}
}

// decodeBlock parses the block text into an ordered map.
func decodeBlock(block string) (*meta.Map, error) {
	var root yaml.Node
	if err := yaml.Unmarshal([]byte(block), &root); err != nil {
		return nil, err
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		return meta.NewMap(), nil
	}
	node := root.Content[0]
	if node.Kind == yaml.ScalarNode && node.ShortTag() == "!!null" {
		return meta.NewMap(), nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, &blockErr{line: node.Line, reason: "metadata block is not a mapping"}
	}
	return decodeMapping(node)
}

func decodeMapping(node *yaml.Node) (*meta.Map, error) {
	m := meta.NewMap()
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if k.Kind != yaml.ScalarNode {
			return nil, &blockErr{line: k.Line, reason: "mapping key is not a scalar"}
		}
		if m.Has(k.Value) {
			return nil, &blockErr{line: k.Line, reason: fmt.Sprintf("key %q is defined more than once", k.Value)}
		}
		val, err := decodeNode(v)
		if err != nil {
			return nil, err
		}
		m.SetWithSource(k.Value, val, k, v)
	}
	return m, nil
}

func decodeNode(n *yaml.Node) (meta.Value, error) {
	switch n.Kind {
	case yaml.AliasNode:
		if n.Alias == nil {
			return meta.Value{}, &blockErr{line: n.Line, reason: "unresolved alias"}
		}
		return decodeNode(n.Alias)
	case yaml.SequenceNode:
		items := make([]meta.Value, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := decodeNode(c)
			if err != nil {
				return meta.Value{}, err
			}
			items = append(items, v)
		}
		return meta.List(items...), nil
	case yaml.MappingNode:
		m, err := decodeMapping(n)
		if err != nil {
			return meta.Value{}, err
		}
		return meta.MapValue(m), nil
	case yaml.ScalarNode:
		return decodeScalar(n), nil
	}
	return meta.Value{}, &blockErr{line: n.Line, reason: "unsupported YAML node"}
}

func decodeScalar(n *yaml.Node) meta.Value {
	switch n.ShortTag() {
	case "!!null":
		return meta.Null()
	case "!!bool":
		var b bool
		if n.Decode(&b) == nil {
			return meta.Bool(b)
		}
	case "!!int":
		var i int64
		if n.Decode(&i) == nil {
			return meta.Int(i)
		}
	case "!!float":
		var f float64
		if n.Decode(&f) == nil {
			return meta.Float(f)
		}
	case "!!timestamp":
		return meta.Date(n.Value)
	}
	return meta.String(n.Value)
}

// Encode renders doc. fields are the schema's top-level names in
// declaration order, used by OrderSchema; they may be nil.
//
// Pairs whose value is unchanged since decode are written from their
// original nodes, keeping style and comments. Metadata that is empty and
// had no block renders as the body alone.
func (c Codec) Encode(doc *Document, fields []string) (string, error) {
	m := doc.Meta
	if m.Len() == 0 && !doc.HasBlock {
		return doc.Body, nil
	}
	if c.Order == OrderSchema {
		m = schemaOrder(m, fields)
	}

	nl := doc.newline
	if nl == "" {
		nl = "\n"
	}
	closer := doc.closer
	if closer == "" {
		closer = delim
	}

	var b strings.Builder
	if doc.bom {
		b.WriteString(bom)
	}
	b.WriteString(delim)
	b.WriteString(nl)
	if m.Len() > 0 {
		block, err := encodeBlock(m)
		if err != nil {
			return "", fmt.Errorf("frontmatter: encode: %w", err)
		}
		if nl != "\n" {
			block = strings.ReplaceAll(block, "\n", nl)
		}
		b.WriteString(block)
	}
	b.WriteString(closer)
	b.WriteString(nl)
	b.WriteString(doc.Body)
	return b.String(), nil
}

func schemaOrder(m *meta.Map, fields []string) *meta.Map {
	keys := make([]string, 0, m.Len())
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if m.Has(f) && !seen[f] {
			keys = append(keys, f)
			seen[f] = true
		}
	}
	for _, k := range m.Keys() {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	return m.Reorder(keys)
}

func encodeBlock(m *meta.Map) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(mappingNode(m)); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func mappingNode(m *meta.Map) *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, f := range m.Fields {
		k, v := f.Source()
		if k == nil || !reusable(v, f.Value) {
			k = &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: f.Key}
			v = valueNode(f.Value)
		}
		n.Content = append(n.Content, k, v)
	}
	return n
}

// reusable reports whether a source node still describes v and can be
// emitted on its own.
func reusable(n *yaml.Node, v meta.Value) bool {
	if n == nil || hasAlias(n) {
		return false
	}
	cur, err := decodeNode(n)
	return err == nil && cur.Equal(v)
}

func hasAlias(n *yaml.Node) bool {
	if n.Kind == yaml.AliasNode {
		return true
	}
	for _, c := range n.Content {
		if hasAlias(c) {
			return true
		}
	}
	return false
}

func valueNode(v meta.Value) *yaml.Node {
	scalar := func(tag, value string) *yaml.Node {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value}
	}
	switch v.Kind {
	case meta.KindNull:
		return scalar("!!null", "null")
	case meta.KindBool:
		return scalar("!!bool", strconv.FormatBool(v.Bool))
	case meta.KindInt:
		return scalar("!!int", strconv.FormatInt(v.Int, 10))
	case meta.KindFloat:
		return scalar("!!float", formatFloat(v.Float))
	case meta.KindDate:
		return scalar("!!timestamp", v.Str)
	case meta.KindList:
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, it := range v.List {
			n.Content = append(n.Content, valueNode(it))
		}
		return n
	case meta.KindMap:
		return mappingNode(v.Map)
	}
	return scalar("!!str", v.Str)
}

// formatFloat renders f so that it reads back as a float, never an int.
func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return ".nan"
	case math.IsInf(f, 1):
		return ".inf"
	case math.IsInf(f, -1):
		return "-.inf"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
