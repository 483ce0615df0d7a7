package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/folio/internal/entryservice"
	"github.com/starford/folio/internal/storage"
	"github.com/starford/folio/internal/testutil"
)

func testServer(t *testing.T, files map[string]string) (*Server, storage.Provider) {
	t.Helper()

	files[testutil.ConfigFile] = testutil.BlogConfig
	_, store := testutil.TestProject(t, files)
	db := testutil.TestDB(t)

	svc := entryservice.New(store, db, entryservice.Options{
		ConfigFile: testutil.ConfigFile,
		ContentDir: testutil.ContentDir,
		Logger:     testutil.QuietLogger(),
	})
	if err := svc.LoadSchema(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := svc.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = svc.Close(context.Background()) })

	srv := New(svc, store, "src/assets")
	return srv, store
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_collections":
		result, err = srv.listCollections(ctx, req)
	case "get_collection":
		result, err = srv.getCollection(ctx, req)
	case "list_entries":
		result, err = srv.listEntries(ctx, req)
	case "read_entry":
		result, err = srv.readEntry(ctx, req)
	case "validate_entry":
		result, err = srv.validateEntry(ctx, req)
	case "create_entry":
		result, err = srv.createEntry(ctx, req)
	case "search_entries":
		result, err = srv.searchEntries(ctx, req)
	case "get_entry_contract":
		result, err = srv.getEntryContract(ctx, req)
	case "upload_image":
		result, err = srv.uploadImage(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestListCollections(t *testing.T) {
	srv, _ := testServer(t, map[string]string{
		"src/content/blog/a.md": "---\ntitle: A\n---\n",
	})

	r := callTool(t, srv, "list_collections", map[string]interface{}{})
	if r.IsError {
		t.Fatalf("unexpected error: %s", resultText(r))
	}
	var infos []entryservice.CollectionInfo
	if err := json.Unmarshal([]byte(resultText(r)), &infos); err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 || infos[0].Name != "blog" || infos[0].Entries != 1 {
		t.Errorf("collections = %+v", infos)
	}
}

func TestGetCollection(t *testing.T) {
	srv, _ := testServer(t, map[string]string{})

	r := callTool(t, srv, "get_collection", map[string]interface{}{"name": "blog"})
	text := resultText(r)
	if r.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	var js map[string]any
	if err := json.Unmarshal([]byte(text), &js); err != nil {
		t.Fatal(err)
	}
	props, _ := js["properties"].(map[string]any)
	if _, ok := props["title"]; !ok {
		t.Errorf("json schema has no title property: %s", text)
	}

	r = callTool(t, srv, "get_collection", map[string]interface{}{"name": "nope"})
	if !r.IsError {
		t.Error("expected error for unknown collection")
	}
}

func TestCreateAndReadEntry(t *testing.T) {
	srv, _ := testServer(t, map[string]string{})

	r := callTool(t, srv, "create_entry", map[string]interface{}{
		"path": "src/content/blog/hello.md",
		"meta": `{"title": "Hello"}`,
		"body": "Hi\n",
	})
	text := resultText(r)
	if r.IsError {
		t.Fatalf("create failed: %s", text)
	}
	want := "created: src/content/blog/hello.md\n\n---\ntitle: Hello\ndraft: false\ntags: []\n---\nHi\n"
	if text != want {
		t.Errorf("create result = %q, want %q", text, want)
	}

	r = callTool(t, srv, "read_entry", map[string]interface{}{"path": "src/content/blog/hello.md"})
	var e struct {
		Collection string         `json:"collection"`
		Meta       map[string]any `json:"meta"`
		Body       string         `json:"body"`
	}
	if err := json.Unmarshal([]byte(resultText(r)), &e); err != nil {
		t.Fatal(err)
	}
	if e.Collection != "blog" || e.Meta["title"] != "Hello" || e.Body != "Hi\n" {
		t.Errorf("read entry = %+v", e)
	}
}

func TestReadEntryField(t *testing.T) {
	srv, _ := testServer(t, map[string]string{
		"src/content/blog/a.md": "---\ntitle: A\ntags:\n  - go\n  - yaml\n---\n",
	})

	r := callTool(t, srv, "read_entry", map[string]interface{}{"path": "src/content/blog/a.md", "field": "tags[1]"})
	if got := resultText(r); got != `"yaml"` {
		t.Errorf("tags[1] = %s", got)
	}

	r = callTool(t, srv, "read_entry", map[string]interface{}{"path": "src/content/blog/a.md", "field": "tags[5]"})
	if !r.IsError {
		t.Error("expected error for missing item")
	}
	r = callTool(t, srv, "read_entry", map[string]interface{}{"path": "src/content/blog/a.md", "field": "tags..x"})
	if !r.IsError {
		t.Error("expected error for malformed path")
	}
}

func TestCreateEntry_Rejected(t *testing.T) {
	srv, store := testServer(t, map[string]string{})

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"missing required", map[string]interface{}{"path": "src/content/blog/a.md"}},
		{"wrong type", map[string]interface{}{"path": "src/content/blog/b.md", "meta": `{"title": 3}`}},
		{"meta not an object", map[string]interface{}{"path": "src/content/blog/c.md", "meta": `[1]`}},
		{"unknown collection", map[string]interface{}{"path": "src/content/nope/d.md", "meta": `{"title": "x"}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := callTool(t, srv, "create_entry", tt.args)
			if !r.IsError {
				t.Fatalf("expected error, got %q", resultText(r))
			}
			if _, err := store.Read(tt.args["path"].(string)); err == nil {
				t.Error("file was written")
			}
		})
	}
}

func TestReadEntryMissing(t *testing.T) {
	srv, _ := testServer(t, map[string]string{})
	r := callTool(t, srv, "read_entry", map[string]interface{}{"path": "src/content/blog/nope.md"})
	if !r.IsError {
		t.Error("expected error for missing entry")
	}
	if !strings.HasPrefix(resultText(r), "not found") {
		t.Errorf("error = %q", resultText(r))
	}
}

func TestValidateEntry(t *testing.T) {
	srv, _ := testServer(t, map[string]string{
		"src/content/blog/ok.md":  "---\ntitle: Fine\n---\n",
		"src/content/blog/bad.md": "---\ndraft: maybe\n---\n",
	})

	r := callTool(t, srv, "validate_entry", map[string]interface{}{"path": "src/content/blog/ok.md"})
	if got := resultText(r); got != "valid: no diagnostics" {
		t.Errorf("ok.md = %q", got)
	}

	r = callTool(t, srv, "validate_entry", map[string]interface{}{"path": "src/content/blog/bad.md"})
	text := resultText(r)
	if !strings.Contains(text, `"severity": "error"`) || !strings.Contains(text, `"field": "title"`) {
		t.Errorf("bad.md diagnostics = %s", text)
	}

	r = callTool(t, srv, "validate_entry", map[string]interface{}{
		"path":    "src/content/blog/draft.md",
		"content": "---\ntitle: Draft\n---\nbody\n",
	})
	if got := resultText(r); got != "valid: no diagnostics" {
		t.Errorf("content validation = %q", got)
	}
}

func TestSearchEntries(t *testing.T) {
	srv, _ := testServer(t, map[string]string{
		"src/content/blog/a.md": "---\ntitle: Alpha\n---\nthe quick brown fox\n",
		"src/content/blog/b.md": "---\ntitle: Beta\n---\nlazy dog\n",
	})

	r := callTool(t, srv, "search_entries", map[string]interface{}{"query": "fox"})
	text := resultText(r)
	if !strings.Contains(text, "src/content/blog/a.md") || strings.Contains(text, "src/content/blog/b.md") {
		t.Errorf("search = %s", text)
	}

	r = callTool(t, srv, "search_entries", map[string]interface{}{})
	if !r.IsError {
		t.Error("expected error for missing query")
	}
}

func TestListEntries(t *testing.T) {
	srv, _ := testServer(t, map[string]string{
		"src/content/blog/a.md": "---\ntitle: A\n---\n",
		"src/content/docs/b.md": "---\ntitle: B\n---\n",
	})

	r := callTool(t, srv, "list_entries", map[string]interface{}{"collection": "docs"})
	var out struct {
		Entries []struct {
			Path string `json:"path"`
		} `json:"entries"`
		Total int `json:"total"`
	}
	if err := json.Unmarshal([]byte(resultText(r)), &out); err != nil {
		t.Fatal(err)
	}
	if out.Total != 1 || len(out.Entries) != 1 || out.Entries[0].Path != "src/content/docs/b.md" {
		t.Errorf("list = %+v", out)
	}
}

func TestGetEntryContract(t *testing.T) {
	srv, _ := testServer(t, map[string]string{})
	r := callTool(t, srv, "get_entry_contract", map[string]interface{}{})
	if resultText(r) != EntryFormatContract {
		t.Error("contract mismatch")
	}
}

// 1x1 transparent PNG.
var pngPixel = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0a, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

func TestUploadImage(t *testing.T) {
	srv, store := testServer(t, map[string]string{})
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngPixel)

	r := callTool(t, srv, "upload_image", map[string]interface{}{
		"url":      uri,
		"filename": "cover.png",
		"entry":    "src/content/blog/post.md",
	})
	if r.IsError {
		t.Fatalf("upload failed: %s", resultText(r))
	}
	var res uploadResult
	if err := json.Unmarshal([]byte(resultText(r)), &res); err != nil {
		t.Fatal(err)
	}
	if res.SavedPath != "src/assets/cover.png" {
		t.Errorf("savedPath = %q", res.SavedPath)
	}
	if res.FieldValue != "../../assets/cover.png" {
		t.Errorf("fieldValue = %q", res.FieldValue)
	}
	if _, err := store.Read("src/assets/cover.png"); err != nil {
		t.Errorf("image not stored: %v", err)
	}

	r = callTool(t, srv, "upload_image", map[string]interface{}{"url": uri, "filename": "cover.png"})
	if !r.IsError {
		t.Error("expected error for duplicate upload")
	}
}

func TestUploadImage_Rejected(t *testing.T) {
	srv, _ := testServer(t, map[string]string{})

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"pdf", map[string]interface{}{
			"url": "data:application/pdf;base64," + base64.StdEncoding.EncodeToString([]byte("%PDF-1.4")),
		}},
		{"content mismatch", map[string]interface{}{
			"url":      "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("not a png")),
			"filename": "x.png",
		}},
		{"loopback", map[string]interface{}{"url": "http://127.0.0.1/x.png"}},
		{"scheme", map[string]interface{}{"url": "ftp://example.com/x.png"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := callTool(t, srv, "upload_image", tt.args)
			if !r.IsError {
				t.Errorf("expected error, got %q", resultText(r))
			}
		})
	}
}

func TestRelativeTo(t *testing.T) {
	tests := []struct {
		from, target, want string
	}{
		{"src/content/blog/a.md", "src/assets/x.png", "../../assets/x.png"},
		{"src/content/blog/a.md", "src/content/blog/x.png", "./x.png"},
		{"a.md", "assets/x.png", "./assets/x.png"},
	}
	for _, tt := range tests {
		if got := relativeTo(tt.from, tt.target); got != tt.want {
			t.Errorf("relativeTo(%q, %q) = %q, want %q", tt.from, tt.target, got, tt.want)
		}
	}
}
