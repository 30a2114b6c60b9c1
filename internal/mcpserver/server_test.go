package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/raido/internal/embedding"
	"github.com/starford/raido/internal/roamapi"
	"github.com/starford/raido/internal/syncer"
	"github.com/starford/raido/internal/testutil"
	"github.com/starford/raido/internal/vectorstore"
)

type fakeEmbedder struct {
	vector []float32
}

func (f *fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = f.vector
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return embedding.Dimensions }

// testServer wires a Server against an httptest backend. The handle func
// receives the request path and decoded body and decides the response.
func testServer(t *testing.T, handle func(path string, body map[string]any) (int, any)) (*Server, *vectorstore.Store) {
	t.Helper()

	if handle == nil {
		handle = func(string, map[string]any) (int, any) {
			return http.StatusOK, map[string]any{"result": [][]any{}}
		}
	}
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		status, resp := handle(r.URL.Path, body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(backend.Close)

	client, err := roamapi.New("test-token-12345", "testgraph",
		roamapi.WithBaseURL(backend.URL),
		roamapi.WithSleep(func(time.Duration) {}))
	if err != nil {
		t.Fatal(err)
	}

	store := testutil.TestStore(t, "testgraph")
	embedder := &fakeEmbedder{vector: testutil.UnitVector(0)}
	engine := syncer.New(client, store, embedder)

	return New(client, store, engine, embedder), store
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error

	switch name {
	case "roam_hello":
		result, err = srv.hello(ctx, req)
	case "get_page_markdown":
		result, err = srv.getPageMarkdown(ctx, req)
	case "create_page":
		result, err = srv.createPage(ctx, req)
	case "create_block":
		result, err = srv.createBlock(ctx, req)
	case "search_blocks_by_text":
		result, err = srv.searchBlocksByText(ctx, req)
	case "create_outline":
		result, err = srv.createOutline(ctx, req)
	case "get_daily_notes_context":
		result, err = srv.dailyNotesContext(ctx, req)
	case "debug_daily_note_format":
		result, err = srv.debugDailyNoteFormat(ctx, req)
	case "sync_index":
		result, err = srv.syncIndex(ctx, req)
	case "semantic_search":
		result, err = srv.semanticSearch(ctx, req)
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

func TestHello(t *testing.T) {
	srv, _ := testServer(t, nil)

	r := callTool(t, srv, "roam_hello", map[string]any{"name": "Tester"})
	text := resultText(r)
	if !strings.Contains(text, "Hello, Tester!") || !strings.Contains(text, "testgraph") {
		t.Errorf("hello = %q", text)
	}
}

func TestGetPageMarkdown(t *testing.T) {
	srv, _ := testServer(t, func(path string, body map[string]any) (int, any) {
		if strings.HasSuffix(path, "/pull") {
			return http.StatusOK, map[string]any{"result": map[string]any{
				":node/title": "Notes",
				":block/uid":  "p1",
				":block/children": []any{
					map[string]any{":block/uid": "b1", ":block/string": "hello", ":block/order": 0},
				},
			}}
		}
		q, _ := body["query"].(string)
		if strings.Contains(q, `:node/title "Notes"`) {
			return http.StatusOK, map[string]any{"result": [][]any{{float64(1)}}}
		}
		return http.StatusOK, map[string]any{"result": [][]any{}}
	})

	r := callTool(t, srv, "get_page_markdown", map[string]any{"title": "Notes"})
	text := resultText(r)
	if !strings.Contains(text, "# Notes") || !strings.Contains(text, "- hello") {
		t.Errorf("markdown = %q", text)
	}
}

func TestGetPageMarkdown_MissingPage(t *testing.T) {
	srv, _ := testServer(t, nil)

	r := callTool(t, srv, "get_page_markdown", map[string]any{"title": "Nope"})
	if !r.IsError {
		t.Error("expected error result for missing page")
	}
	if !strings.Contains(resultText(r), "Error fetching page") {
		t.Errorf("text = %q", resultText(r))
	}
}

func TestGetPageMarkdown_RequiresTitle(t *testing.T) {
	srv, _ := testServer(t, nil)
	r := callTool(t, srv, "get_page_markdown", map[string]any{})
	if !r.IsError {
		t.Error("expected error for missing title")
	}
}

func TestCreateBlock(t *testing.T) {
	var captured map[string]any
	srv, _ := testServer(t, func(path string, body map[string]any) (int, any) {
		if strings.HasSuffix(path, "/write") {
			captured = body
		}
		return http.StatusOK, map[string]any{}
	})

	r := callTool(t, srv, "create_block", map[string]any{
		"content":    "new thought",
		"parent_uid": "parent-1",
	})
	if r.IsError {
		t.Fatalf("error: %q", resultText(r))
	}
	if !strings.HasPrefix(resultText(r), "Created block ") {
		t.Errorf("text = %q", resultText(r))
	}
	block := captured["block"].(map[string]any)
	if block["string"] != "new thought" {
		t.Errorf("block = %v", block)
	}
}

func TestCreatePage(t *testing.T) {
	var captured map[string]any
	srv, _ := testServer(t, func(path string, body map[string]any) (int, any) {
		if strings.HasSuffix(path, "/write") {
			captured = body
		}
		return http.StatusOK, map[string]any{}
	})

	r := callTool(t, srv, "create_page", map[string]any{"title": "New Page"})
	if r.IsError {
		t.Fatalf("error: %q", resultText(r))
	}
	if captured["action"] != "create-page" {
		t.Errorf("action = %v", captured["action"])
	}
	page := captured["page"].(map[string]any)
	if page["title"] != "New Page" {
		t.Errorf("page = %v", page)
	}
}

func TestSearchBlocksByText(t *testing.T) {
	srv, _ := testServer(t, func(_ string, body map[string]any) (int, any) {
		q, _ := body["query"].(string)
		if strings.Contains(q, `"needle"`) {
			return http.StatusOK, map[string]any{"result": [][]any{
				{"b1", "a needle in a haystack", "Storage"},
			}}
		}
		return http.StatusOK, map[string]any{"result": [][]any{}}
	})

	r := callTool(t, srv, "search_blocks_by_text", map[string]any{"text": "needle"})
	text := resultText(r)
	if !strings.Contains(text, "a needle in a haystack") || !strings.Contains(text, "(page: Storage)") {
		t.Errorf("text = %q", text)
	}

	r = callTool(t, srv, "search_blocks_by_text", map[string]any{"text": "missing"})
	if !strings.Contains(resultText(r), "No blocks containing") {
		t.Errorf("text = %q", resultText(r))
	}
}

func TestCreateOutline_RequiresTarget(t *testing.T) {
	srv, _ := testServer(t, nil)
	r := callTool(t, srv, "create_outline", map[string]any{"markdown": "- a"})
	if !r.IsError {
		t.Error("expected error without parent_uid or page_title")
	}
}

func TestCreateOutline(t *testing.T) {
	srv, _ := testServer(t, func(path string, body map[string]any) (int, any) {
		return http.StatusOK, map[string]any{}
	})

	r := callTool(t, srv, "create_outline", map[string]any{
		"markdown":   "- a\n  - b",
		"parent_uid": "root-1",
	})
	if r.IsError {
		t.Fatalf("error: %q", resultText(r))
	}
	if resultText(r) != "Created 2 blocks" {
		t.Errorf("text = %q", resultText(r))
	}
}

func TestSyncIndexAndSemanticSearch(t *testing.T) {
	srv, _ := testServer(t, func(path string, body map[string]any) (int, any) {
		q, _ := body["query"].(string)
		if strings.Contains(q, "?edit-time") && strings.Contains(q, "?page-title") {
			return http.StatusOK, map[string]any{"result": [][]any{
				{"b1", "a note about gardening", float64(100), "p1", "Garden"},
			}}
		}
		return http.StatusOK, map[string]any{"result": [][]any{}}
	})

	r := callTool(t, srv, "sync_index", map[string]any{"full": true})
	if r.IsError {
		t.Fatalf("sync error: %q", resultText(r))
	}
	if !strings.Contains(resultText(r), "fetched 1 blocks, embedded 1") {
		t.Errorf("sync text = %q", resultText(r))
	}

	r = callTool(t, srv, "semantic_search", map[string]any{"query": "gardening"})
	if r.IsError {
		t.Fatalf("search error: %q", resultText(r))
	}
	text := resultText(r)
	if !strings.Contains(text, "a note about gardening") || !strings.Contains(text, "- Page: Garden") {
		t.Errorf("search text = %q", text)
	}
}

func TestSemanticSearch_EmptyIndex(t *testing.T) {
	srv, _ := testServer(t, nil)

	r := callTool(t, srv, "semantic_search", map[string]any{"query": "anything"})
	if r.IsError {
		t.Fatalf("unexpected error: %q", resultText(r))
	}
	if !strings.Contains(resultText(r), "Run the sync_index tool first") {
		t.Errorf("text = %q", resultText(r))
	}
}

func TestSemanticSearch_MinSimilarityFiltersAll(t *testing.T) {
	srv, store := testServer(t, nil)

	if _, err := store.UpsertBlocks([]vectorstore.Block{{UID: "b1", Content: "far away"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.UpsertEmbeddings([]string{"b1"}, [][]float32{testutil.UnitVector(1)}); err != nil {
		t.Fatal(err)
	}

	r := callTool(t, srv, "semantic_search", map[string]any{
		"query":          "anything",
		"min_similarity": 0.9,
	})
	if r.IsError {
		t.Fatalf("unexpected error: %q", resultText(r))
	}
	if !strings.Contains(resultText(r), "No results") {
		t.Errorf("text = %q", resultText(r))
	}
}

func TestSemanticSearch_LinkedPages(t *testing.T) {
	srv, store := testServer(t, nil)

	if _, err := store.UpsertBlocks([]vectorstore.Block{
		{UID: "b1", Content: "see [[Alpha]] and #beta", PageTitle: "P"},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.UpsertEmbeddings([]string{"b1"}, [][]float32{testutil.UnitVector(0)}); err != nil {
		t.Fatal(err)
	}

	r := callTool(t, srv, "semantic_search", map[string]any{"query": "alpha"})
	text := resultText(r)
	if !strings.Contains(text, "- Linked pages: Alpha, beta") {
		t.Errorf("text = %q", text)
	}
}

func TestDebugDailyNoteFormat(t *testing.T) {
	srv, _ := testServer(t, nil)

	r := callTool(t, srv, "debug_daily_note_format", map[string]any{})
	if r.IsError {
		t.Fatalf("error: %q", resultText(r))
	}
	if !strings.Contains(resultText(r), "Detected daily note format: 01-02-2006") {
		t.Errorf("text = %q", resultText(r))
	}
}

func TestReadInfoResource(t *testing.T) {
	srv, _ := testServer(t, nil)

	contents, err := srv.readInfoResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatalf("readInfoResource: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("contents = %d, want 1", len(contents))
	}
	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("contents[0] is %T", contents[0])
	}
	if !strings.Contains(text.Text, "Roam Research") {
		t.Errorf("resource text = %q", text.Text)
	}
}
