package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/raido/internal/roamapi"
	"github.com/starford/raido/internal/vectorstore"
)

// searchOptions are the enrichment flags of the semantic_search tool.
type searchOptions struct {
	limit                int
	minSimilarity        float64
	includeContext       bool
	includeChildren      bool
	childrenLimit        int
	includeBacklinkCount bool
	includeSiblings      bool
	siblingCount         int
}

func (s *Server) semanticSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	opts := searchOptions{
		limit:                req.GetInt("limit", 10),
		minSimilarity:        req.GetFloat("min_similarity", 0.0),
		includeContext:       req.GetBool("include_context", false),
		includeChildren:      req.GetBool("include_children", false),
		childrenLimit:        req.GetInt("children_limit", 3),
		includeBacklinkCount: req.GetBool("include_backlink_count", false),
		includeSiblings:      req.GetBool("include_siblings", false),
		siblingCount:         req.GetInt("sibling_count", 3),
	}

	vectors, err := s.store.GetEmbeddingCount()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error performing semantic search: %v", err)), nil
	}
	if vectors == 0 {
		return mcp.NewToolResultText("The semantic index is empty. Run the sync_index tool first."), nil
	}

	// Queries carry no page or path context; the raw query text is embedded.
	embedded, err := s.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error performing semantic search: %v", err)), nil
	}
	if len(embedded) != 1 {
		return mcp.NewToolResultError("Error performing semantic search: embedder returned no vector"), nil
	}

	results, err := s.store.Search(embedded[0], opts.limit, opts.minSimilarity)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error performing semantic search: %v", err)), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No results for %q above similarity %.2f.", query, opts.minSimilarity)), nil
	}

	report, err := s.renderResults(ctx, query, results, opts)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error performing semantic search: %v", err)), nil
	}
	return mcp.NewToolResultText(report), nil
}

func (s *Server) renderResults(ctx context.Context, query string, results []vectorstore.SearchResult, opts searchOptions) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Semantic search results for: %s\n", query)

	for i, r := range results {
		fmt.Fprintf(&sb, "\n## %d. %s (similarity %.2f)\n", i+1, r.Content, r.Similarity)
		if r.PageTitle != "" {
			fmt.Fprintf(&sb, "- Page: %s\n", r.PageTitle)
		}

		if linked := extractLinked(r.Content); len(linked) > 0 {
			fmt.Fprintf(&sb, "- Linked pages: %s\n", strings.Join(linked, ", "))
		}

		if opts.includeContext {
			if err := s.renderContext(ctx, &sb, r); err != nil {
				return "", err
			}
		}
		if opts.includeChildren {
			if err := s.renderChildren(ctx, &sb, r.UID, opts.childrenLimit); err != nil {
				return "", err
			}
		}
		if opts.includeSiblings {
			if err := s.renderSiblings(ctx, &sb, r.UID, opts.siblingCount); err != nil {
				return "", err
			}
		}
		if opts.includeBacklinkCount && r.PageTitle != "" {
			refs, err := s.client.GetReferencesToPage(ctx, r.PageTitle, roamapi.DefaultMaxReferences)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&sb, "- Backlinks to page: %d\n", len(refs))
		}
	}
	return sb.String(), nil
}

// renderContext prints the ancestor path, preferring the chain cached in the
// store and falling back to a live lookup.
func (s *Server) renderContext(ctx context.Context, sb *strings.Builder, r vectorstore.SearchResult) error {
	chain := r.ParentChain
	if len(chain) == 0 {
		var err error
		chain, err = s.client.GetBlockParentChain(ctx, r.UID)
		if err != nil {
			return err
		}
	}
	if len(chain) > 0 {
		fmt.Fprintf(sb, "- Path: %s\n", strings.Join(chain, " > "))
	}
	return nil
}

// renderChildren previews up to limit direct children of a result block.
// Absence of the block locally or remotely is not an error.
func (s *Server) renderChildren(ctx context.Context, sb *strings.Builder, uid string, limit int) error {
	block, err := s.client.GetBlock(ctx, uid)
	if err != nil {
		if errors.Is(err, roamapi.ErrBlockNotFound) {
			return nil
		}
		return err
	}
	if len(block.Children) == 0 {
		return nil
	}

	children := block.Children
	if limit > 0 && len(children) > limit {
		children = children[:limit]
	}
	markdown, err := roamapi.ProcessBlocks(children, 1, false, nil)
	if err != nil {
		return err
	}
	if strings.TrimSpace(markdown) != "" {
		fmt.Fprintf(sb, "- Children:\n%s", markdown)
	}
	return nil
}

func (s *Server) renderSiblings(ctx context.Context, sb *strings.Builder, uid string, limit int) error {
	siblings, err := s.client.GetBlockSiblings(ctx, uid, limit)
	if err != nil {
		return err
	}
	if len(siblings) == 0 {
		return nil
	}
	fmt.Fprintf(sb, "- Siblings:\n")
	for _, sib := range siblings {
		fmt.Fprintf(sb, "  - %s\n", sib)
	}
	return nil
}

// extractLinked returns the page references and tags mentioned in content,
// sorted for stable output.
func extractLinked(content string) []string {
	set := make(map[string]struct{})
	roamapi.CollectLinkedPages(content, set)
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
