// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the timedline vault to LLM clients via stdio transport.
package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/timedline/internal/activity"
	"github.com/starford/timedline/internal/apperr"
	"github.com/starford/timedline/internal/models"
	"github.com/starford/timedline/internal/storage"
	"github.com/starford/timedline/internal/vault"
)

const entryFormatURI = "timedline://entry-format"

// Server wraps the MCP server with the vault tools.
type Server struct {
	mcp      *server.MCPServer
	vault    *vault.Manager
	activity *activity.Manager
}

// New creates a new MCP server with all tools registered. v must already
// be loaded.
func New(v *vault.Manager, act *activity.Manager) *Server {
	s := &Server{vault: v, activity: act}

	s.mcp = server.NewMCPServer(
		"timedline",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_entries",
		mcp.WithDescription("Case-insensitive search over entry text and attachment names."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search term")),
	), s.searchEntries)

	s.mcp.AddTool(mcp.NewTool("list_entries",
		mcp.WithDescription("List entries newest first, optionally only those of one day."),
		mcp.WithString("date", mcp.Description("Optional day in YYYY-MM-DD form")),
	), s.listEntries)

	s.mcp.AddTool(mcp.NewTool("read_entry",
		mcp.WithDescription("Read one entry. Attachments come with a freshly resolved URL."),
		mcp.WithString("timestamp", mcp.Required(), mcp.Description("Entry timestamp in Unix milliseconds")),
	), s.readEntry)

	s.mcp.AddTool(mcp.NewTool("create_entry",
		mcp.WithDescription("Write a new journal entry. Provide text, an attachment, or both. "+
			"Read the format first via get_entry_contract or the "+entryFormatURI+" resource."),
		mcp.WithString("text", mcp.Description("Entry text")),
		mcp.WithString("attachment", mcp.Description("Optional base64 data URI or http(s) URL of a file to attach")),
		mcp.WithString("filename", mcp.Description("Optional attachment file name (derived from the URL if empty)")),
	), s.createEntry)

	s.mcp.AddTool(mcp.NewTool("delete_entry",
		mcp.WithDescription("Delete an entry and its attachment."),
		mcp.WithString("timestamp", mcp.Required(), mcp.Description("Entry timestamp in Unix milliseconds")),
	), s.deleteEntry)

	s.mcp.AddTool(mcp.NewTool("list_activity",
		mcp.WithDescription("Recent user activity, newest first."),
		mcp.WithString("kind", mcp.Description("Optional kind filter: tab, duration, save, search, open, export, session or misc")),
	), s.listActivity)

	s.mcp.AddTool(mcp.NewTool("export_entries",
		mcp.WithDescription("Export the whole vault as JSON or CSV."),
		mcp.WithString("format", mcp.Description("json (default) or csv")),
	), s.exportEntries)

	s.mcp.AddTool(mcp.NewTool("get_entry_contract",
		mcp.WithDescription("Returns the timedline entry format. "+
			"Call this before creating entries to understand what the vault stores."),
	), s.getEntryContract)

	s.mcp.AddResource(
		mcp.NewResource(entryFormatURI, "Entry Format",
			mcp.WithResourceDescription("Shape and rules of timedline journal entries."),
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

func jsonResult(v any) *mcp.CallToolResult {
	out, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(out))
}

func optionalString(req mcp.CallToolRequest, key string) string {
	if v, err := req.RequireString(key); err == nil {
		return strings.TrimSpace(v)
	}
	return ""
}

func requireTimestamp(req mcp.CallToolRequest) (int64, error) {
	raw, err := req.RequireString("timestamp")
	if err != nil {
		return 0, err
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp: %s", raw)
	}
	return ts, nil
}

func (s *Server) searchEntries(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return mcp.NewToolResultError("query must not be empty"), nil
	}
	results := s.vault.Search(query)
	s.activity.Log(ctx, `Searched: "`+query+`"`, models.KindSearch)
	return jsonResult(results), nil
}

func (s *Server) listEntries(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	date := optionalString(req, "date")
	entries := s.vault.Entries()
	if date == "" {
		return jsonResult(entries), nil
	}
	out := []models.Entry{}
	for _, e := range entries {
		if e.Date == date {
			out = append(out, e)
		}
	}
	return jsonResult(out), nil
}

func (s *Server) readEntry(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ts, err := requireTimestamp(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	e, ok := s.vault.Get(ts)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %d", ts)), nil
	}
	s.activity.Log(ctx, "Opened entry from "+e.Date, models.KindOpen)
	if e.Attachment != nil {
		url, err := s.vault.ResolveAttachment(ctx, ts)
		if err != nil {
			e.Attachment.Unavailable = true
		} else {
			e.Attachment.URL = url
		}
	}
	return jsonResult(e), nil
}

func (s *Server) createEntry(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	draft := vault.Draft{Text: optionalString(req, "text")}
	if raw := optionalString(req, "attachment"); raw != "" {
		f, err := fetchAttachment(raw, optionalString(req, "filename"))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		draft.File = &storage.File{
			Name:     f.Name,
			MimeType: f.MimeType,
			Size:     int64(len(f.Data)),
			Body:     bytes.NewReader(f.Data),
		}
	}

	e, err := s.vault.Save(ctx, draft)
	if err != nil {
		return mcp.NewToolResultError(apperr.Message(err)), nil
	}
	return jsonResult(e), nil
}

func (s *Server) deleteEntry(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ts, err := requireTimestamp(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	e, err := s.vault.Delete(ctx, ts)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %d", ts)), nil
		}
		return mcp.NewToolResultError(apperr.Message(err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted entry from %s", e.Date)), nil
}

func (s *Server) listActivity(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items := s.activity.Items()
	kind := optionalString(req, "kind")
	if kind == "" || kind == activity.FilterAll {
		return jsonResult(items), nil
	}
	k, err := models.ParseActivityKind(kind)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out := []models.ActivityItem{}
	for _, it := range items {
		if it.Kind == k {
			out = append(out, it)
		}
	}
	return jsonResult(out), nil
}

func (s *Server) exportEntries(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var buf bytes.Buffer
	var err error
	switch format := optionalString(req, "format"); format {
	case "", "json":
		err = s.vault.ExportJSON(ctx, &buf)
	case "csv":
		err = s.vault.ExportCSV(ctx, &buf)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unsupported format: %s (json or csv)", format)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(buf.String()), nil
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
