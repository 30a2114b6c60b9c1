// Package mcpserver exposes the Roam graph tools over the Model Context
// Protocol via stdio transport.
package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/raido/internal/embedding"
	"github.com/starford/raido/internal/roamapi"
	"github.com/starford/raido/internal/syncer"
	"github.com/starford/raido/internal/vectorstore"
)

// Server wraps the MCP server with the Roam tools.
type Server struct {
	mcp      *server.MCPServer
	client   *roamapi.Client
	store    *vectorstore.Store
	engine   *syncer.Engine
	embedder embedding.Embedder
}

// New creates an MCP server with all tools registered.
func New(client *roamapi.Client, store *vectorstore.Store, engine *syncer.Engine, embedder embedding.Embedder) *Server {
	s := &Server{
		client:   client,
		store:    store,
		engine:   engine,
		embedder: embedder,
	}

	s.mcp = server.NewMCPServer(
		"Raido",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("roam_hello",
		mcp.WithDescription("Greeting and connectivity diagnostic for the Roam server."),
		mcp.WithString("name", mcp.Description("Name to greet")),
	), s.hello)

	s.mcp.AddTool(mcp.NewTool("get_page_markdown",
		mcp.WithDescription("Fetch a Roam page by title and render its block tree as indented markdown."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Exact page title")),
	), s.getPageMarkdown)

	s.mcp.AddTool(mcp.NewTool("create_page",
		mcp.WithDescription("Create a new page with the given title."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Page title")),
	), s.createPage)

	s.mcp.AddTool(mcp.NewTool("create_block",
		mcp.WithDescription("Create a block. With no page_uid or parent_uid the block goes to today's daily note."),
		mcp.WithString("content", mcp.Required(), mcp.Description("Block text content")),
		mcp.WithString("page_uid", mcp.Description("UID of the page to add the block to")),
		mcp.WithString("parent_uid", mcp.Description("UID of the parent block to nest under")),
	), s.createBlock)

	s.mcp.AddTool(mcp.NewTool("create_outline",
		mcp.WithDescription("Create a whole tree of blocks from indented bullet markdown (2 spaces per level) in one batch write."),
		mcp.WithString("markdown", mcp.Required(), mcp.Description("Bullet markdown outline")),
		mcp.WithString("parent_uid", mcp.Description("UID of the parent block")),
		mcp.WithString("page_title", mcp.Description("Page title to create under (used when parent_uid is empty)")),
	), s.createOutline)

	s.mcp.AddTool(mcp.NewTool("search_blocks_by_text",
		mcp.WithDescription("Find blocks containing an exact text fragment, optionally scoped to one page."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Text fragment to search for (case sensitive)")),
		mcp.WithString("page_title", mcp.Description("Restrict the search to this page")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 20)")),
	), s.searchBlocksByText)

	s.mcp.AddTool(mcp.NewTool("get_daily_notes_context",
		mcp.WithDescription("Fetch the most recent daily notes with their backlinks as a markdown report."),
		mcp.WithNumber("days", mcp.Description("How many days back to include (default 10)")),
		mcp.WithNumber("max_references", mcp.Description("Maximum backlinks per day (default 10)")),
	), s.dailyNotesContext)

	s.mcp.AddTool(mcp.NewTool("debug_daily_note_format",
		mcp.WithDescription("Run daily-note title format detection and report the detected format."),
	), s.debugDailyNoteFormat)

	s.mcp.AddTool(mcp.NewTool("sync_index",
		mcp.WithDescription("Synchronize the local semantic index with the graph. Incremental by default."),
		mcp.WithBoolean("full", mcp.Description("Drop local data and resync everything")),
	), s.syncIndex)

	s.mcp.AddTool(mcp.NewTool("semantic_search",
		mcp.WithDescription("Semantic search over the synced graph with optional result enrichments."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Natural language query")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 10)")),
		mcp.WithNumber("min_similarity", mcp.Description("Similarity floor in [0,1] (default 0)")),
		mcp.WithBoolean("include_context", mcp.Description("Include the ancestor path of each result")),
		mcp.WithBoolean("include_children", mcp.Description("Include a preview of each result's children")),
		mcp.WithNumber("children_limit", mcp.Description("Children to preview (default 3)")),
		mcp.WithBoolean("include_backlink_count", mcp.Description("Include the backlink count of each result's page")),
		mcp.WithBoolean("include_siblings", mcp.Description("Include sibling blocks of each result")),
		mcp.WithNumber("sibling_count", mcp.Description("Siblings to include (default 3)")),
	), s.semanticSearch)

	s.mcp.AddResource(
		mcp.NewResource("roam://info", "Roam Research Overview",
			mcp.WithResourceDescription("Background on the Roam graph model this server exposes."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readInfoResource,
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

func (s *Server) hello(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("name", "World")
	return mcp.NewToolResultText(fmt.Sprintf(
		"Hello, %s! This is the Raido server for the %q Roam graph.", name, s.client.Graph())), nil
}

func (s *Server) getPageMarkdown(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	page, err := s.client.GetPage(ctx, title)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error fetching page: %v", err)), nil
	}

	markdown, err := roamapi.ProcessBlocks(page.Children, 0, false, nil)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error fetching page: %v", err)), nil
	}
	if strings.TrimSpace(markdown) == "" {
		return mcp.NewToolResultText(fmt.Sprintf("# %s\n\n(page has no content)", title)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("# %s\n\n%s", title, markdown)), nil
}

func (s *Server) createPage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := s.client.CreatePage(ctx, title); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error creating page: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Created page %q", title)), nil
}

func (s *Server) searchBlocksByText(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	pageTitle := req.GetString("page_title", "")
	limit := req.GetInt("limit", 20)

	hits, err := s.client.SearchBlocksByText(ctx, text, pageTitle, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error searching blocks: %v", err)), nil
	}
	if len(hits) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No blocks containing %q.", text)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Blocks containing %q (%d found)\n", text, len(hits))
	for _, hit := range hits {
		fmt.Fprintf(&sb, "- %s", hit.Content)
		if hit.PageTitle != "" {
			fmt.Fprintf(&sb, " (page: %s)", hit.PageTitle)
		}
		sb.WriteString("\n")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *Server) createBlock(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	pageUID := req.GetString("page_uid", "")
	parentUID := req.GetString("parent_uid", "")

	uid, err := s.client.CreateBlock(ctx, content, pageUID, parentUID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error creating block: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Created block %s", uid)), nil
}

func (s *Server) createOutline(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	markdown, err := req.RequireString("markdown")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	parentUID := req.GetString("parent_uid", "")
	pageTitle := req.GetString("page_title", "")

	if parentUID == "" && pageTitle == "" {
		return mcp.NewToolResultError("Error creating outline: either parent_uid or page_title is required"), nil
	}
	if parentUID == "" {
		parentUID, err = s.client.FindPageByTitle(ctx, pageTitle)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Error creating outline: %v", err)), nil
		}
	}

	count, err := s.client.CreateOutline(ctx, parentUID, markdown)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error creating outline: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Created %d blocks", count)), nil
}

func (s *Server) dailyNotesContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	days := req.GetInt("days", 10)
	maxRefs := req.GetInt("max_references", 10)

	report, err := s.client.GetDailyNotesContext(ctx, days, maxRefs)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error fetching daily notes: %v", err)), nil
	}
	return mcp.NewToolResultText(report), nil
}

func (s *Server) debugDailyNoteFormat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := s.client.FindDailyNoteFormat(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error detecting daily note format: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Detected daily note format: %s", format)), nil
}

func (s *Server) syncIndex(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	full := req.GetBool("full", false)

	stats, err := s.engine.Sync(ctx, full)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error syncing index: %v", err)), nil
	}

	blocks, _ := s.store.GetBlockCount()
	vectors, _ := s.store.GetEmbeddingCount()
	return mcp.NewToolResultText(fmt.Sprintf(
		"Sync completed (full=%t): fetched %d blocks, embedded %d. Index now holds %d blocks and %d vectors.",
		stats.Full, stats.BlocksFetched, stats.BlocksEmbedded, blocks, vectors)), nil
}

func (s *Server) readInfoResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "roam://info",
			MIMEType: "text/markdown",
			Text:     RoamInfo,
		},
	}, nil
}
