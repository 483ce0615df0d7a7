package mcpserver

// EntryFormatContract describes the content entry format that LLM
// consumers should follow when creating or editing entries.
const EntryFormatContract = `# Folio Entry Format Contract

Every content entry is a Markdown file stored under the project's content
directory, in the folder of the collection it belongs to:
` + "`" + `<content_dir>/<collection>/<name>.md` + "`" + `.

## Structure

` + "```" + `markdown
---
title: Human-readable title
draft: false
tags:
  - tag-one
---

Body text in standard Markdown.
` + "```" + `

## Rules

1. **The metadata block comes first.** The ` + "`" + `---` + "`" + ` fences must open the file,
   with no leading blank lines. A file without a block has empty metadata.
2. **Fields come from the collection schema.** Call ` + "`" + `get_collection` + "`" + ` to get the
   fields of a collection as JSON Schema before writing an entry.
3. **Required fields** must be present; a missing one or a value of the wrong type
   is an error and ` + "`" + `create_entry` + "`" + ` refuses to write the file.
4. **Constraints** (min/max length, regex, url, email, ranges) are reported as
   diagnostics but do not block writing unless the server runs in strict mode.
5. **Unknown keys** are kept as written and reported as warnings.
6. **Dates** are written as ISO-8601 (` + "`" + `2025-01-20` + "`" + ` or a full datetime).
7. **Encoding** is UTF-8 with a trailing newline.

## Creating entries

- ` + "`" + `create_entry` + "`" + ` fills every field that declares a default, then applies the
  fields given in ` + "`" + `meta` + "`" + `. Keys are written in schema order.
- Use ` + "`" + `validate_entry` + "`" + ` with ` + "`" + `content` + "`" + ` to check a full document before saving it.

## Images

- Upload images via the ` + "`" + `upload_image` + "`" + ` tool. Pass ` + "`" + `entry` + "`" + ` to get the value to
  store in an ` + "`" + `image()` + "`" + ` field (a path relative to the entry).
- Supported formats: png, jpg, jpeg, gif, webp, avif, svg.

## Example

` + "```" + `markdown
---
title: Weekly standup 2025-01-20
draft: false
tags:
  - meetings
pubDate: 2025-01-20
cover: ../../assets/standup.jpg
---

# Weekly standup

Attendees: Alice, Bob.
` + "```" + `
`
