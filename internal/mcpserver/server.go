// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes folio tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/folio/internal/apperr"
	"github.com/starford/folio/internal/entryservice"
	"github.com/starford/folio/internal/form"
	"github.com/starford/folio/internal/meta"
	"github.com/starford/folio/internal/storage"
)

const entryFormatURI = "folio://entry-format"

// Server wraps the MCP server with folio tools.
type Server struct {
	mcp       *server.MCPServer
	svc       *entryservice.Service
	store     storage.Provider
	assetsDir string
}

// New creates a new MCP server with all folio tools registered. Images
// uploaded through upload_image are stored under assetsDir.
func New(svc *entryservice.Service, store storage.Provider, assetsDir string) *Server {
	s := &Server{svc: svc, store: store, assetsDir: assetsDir}

	s.mcp = server.NewMCPServer(
		"folio",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_collections",
		mcp.WithDescription("List the content collections declared by the project's schema source, with entry counts."),
	), s.listCollections)

	s.mcp.AddTool(mcp.NewTool("get_collection",
		mcp.WithDescription("Get the fields of a collection as JSON Schema. "+
			"Call this before creating or editing entries of the collection."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Collection name")),
	), s.getCollection)

	s.mcp.AddTool(mcp.NewTool("list_entries",
		mcp.WithDescription("List indexed entries, optionally of one collection."),
		mcp.WithString("collection", mcp.Description("Optional collection name (empty for all)")),
	), s.listEntries)

	s.mcp.AddTool(mcp.NewTool("read_entry",
		mcp.WithDescription("Read an entry: its decoded metadata, body and validation diagnostics."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path of the entry relative to the project root (e.g. src/content/blog/post.md)")),
		mcp.WithString("field", mcp.Description("Optional field path (e.g. author.name or tags[0]); only that value is returned")),
	), s.readEntry)

	s.mcp.AddTool(mcp.NewTool("validate_entry",
		mcp.WithDescription("Validate an entry against its collection schema. "+
			"When content is given it is validated as if stored at path, without writing."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path of the entry relative to the project root")),
		mcp.WithString("content", mcp.Description("Optional full document text to validate instead of the stored file")),
	), s.validateEntry)

	s.mcp.AddTool(mcp.NewTool("create_entry",
		mcp.WithDescription("Create a new entry in a collection. Metadata starts from the collection's "+
			"defaults; fields given in meta override them. Fails without writing when a required "+
			"field is missing or a value has the wrong type. Read the contract first via the "+
			"get_entry_contract tool or the "+entryFormatURI+" resource."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path for the new entry (<content_dir>/<collection>/<name>.md)")),
		mcp.WithString("meta", mcp.Description("Metadata as a JSON object")),
		mcp.WithString("body", mcp.Description("Markdown body")),
	), s.createEntry)

	s.mcp.AddTool(mcp.NewTool("search_entries",
		mcp.WithDescription("Full-text search through entry titles and bodies."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchEntries)

	s.mcp.AddTool(mcp.NewTool("get_entry_contract",
		mcp.WithDescription("Returns the entry format contract. "+
			"Call this before creating entries to ensure correct structure."),
	), s.getEntryContract)

	s.mcp.AddTool(mcp.NewTool("upload_image",
		mcp.WithDescription("Store an image for use in image() fields. Accepts an http(s) URL or a base64 data URI. "+
			"Returns the stored path and, when entry is given, the value to put in the entry's image field."),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data: URI of the image")),
		mcp.WithString("filename", mcp.Description("Optional file name (derived from the URL otherwise)")),
		mcp.WithString("entry", mcp.Description("Optional entry path the image will be referenced from")),
	), s.uploadImage)

	// Resource: entry format contract.
	s.mcp.AddResource(
		mcp.NewResource(entryFormatURI, "Entry Format Contract",
			mcp.WithResourceDescription("Format of content entries: metadata block, body and validation rules."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readEntryFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func toolError(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError("not found: " + err.Error())
	case errors.Is(err, apperr.ErrAlreadyExists):
		return mcp.NewToolResultError("already exists: " + err.Error())
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) listCollections(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	infos, err := s.svc.Collections(ctx)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(infos)
}

func (s *Server) getCollection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	coll, err := s.svc.Collection(ctx, name)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(coll.JSONSchema())
}

func (s *Server) listEntries(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	collection := ""
	if c, err := req.RequireString("collection"); err == nil {
		collection = c
	}
	rows, total, err := s.svc.ListEntries(ctx, collection, 500, 0)
	if err != nil {
		return toolError(err), nil
	}
	type item struct {
		Path       string `json:"path"`
		Collection string `json:"collection,omitempty"`
		Title      string `json:"title,omitempty"`
		Errors     int    `json:"errors"`
	}
	items := make([]item, len(rows))
	for i, r := range rows {
		items[i] = item{Path: r.Path, Collection: r.Collection, Title: r.Title, Errors: r.Errors}
	}
	return jsonResult(map[string]any{"entries": items, "total": total})
}

func (s *Server) readEntry(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	e, err := s.svc.GetEntry(ctx, path)
	if err != nil {
		return toolError(err), nil
	}

	if field, fErr := req.RequireString("field"); fErr == nil && field != "" {
		fp, err := form.ParsePath(field)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		v, ok := fp.Lookup(e.Meta)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("field %s is not set in %s", field, path)), nil
		}
		return jsonResult(v)
	}
	return jsonResult(e)
}

func (s *Server) validateEntry(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if content, cErr := req.RequireString("content"); cErr == nil {
		e, err := s.svc.ValidateContent(ctx, path, []byte(content))
		if err != nil {
			return toolError(err), nil
		}
		return diagnosticsResult(e.Diagnostics)
	}

	diags, err := s.svc.ValidateEntry(ctx, path)
	if err != nil {
		return toolError(err), nil
	}
	return diagnosticsResult(diags)
}

func diagnosticsResult(diags any) (*mcp.CallToolResult, error) {
	out, _ := json.MarshalIndent(diags, "", "  ")
	if string(out) == "null" {
		return mcp.NewToolResultText("valid: no diagnostics"), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) createEntry(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var m *meta.Map
	if raw, mErr := req.RequireString("meta"); mErr == nil && raw != "" {
		m = meta.NewMap()
		if err := json.Unmarshal([]byte(raw), m); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("meta must be a JSON object: %v", err)), nil
		}
	}
	body := ""
	if b, bErr := req.RequireString("body"); bErr == nil {
		body = b
	}

	e, err := s.svc.CreateEntry(ctx, path, m, body)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s\n\n%s", e.Path, e.Content)), nil
}

func (s *Server) searchEntries(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results)
}

func (s *Server) getEntryContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(EntryFormatContract), nil
}

func (s *Server) readEntryFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      entryFormatURI,
			MIMEType: "text/markdown",
			Text:     EntryFormatContract,
		},
	}, nil
}
